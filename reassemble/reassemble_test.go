package reassemble

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bthost/acl"
	"github.com/bthost/acl/hci"
)

// frame builds an L2CAP basic frame with the given payload on CID 0x0040.
func frame(payload ...byte) []byte {
	b := make([]byte, 4+len(payload))
	b[0] = byte(len(payload))
	b[1] = byte(len(payload) >> 8)
	b[2], b[3] = 0x40, 0x00
	copy(b[4:], payload)
	return b
}

func TestCompleteSingleFragment(t *testing.T) {
	r := New(0x0040, nil)
	r.Push(hci.NewPacket(0x0040, hci.PbfFirstFlushable, frame(0xaa, 0xbb)))

	pdu, ok := r.Pop()
	require.True(t, ok)
	require.Equal(t, acl.PDU(frame(0xaa, 0xbb)), pdu)

	_, ok = r.Pop()
	require.False(t, ok)
}

func TestSplitAcrossFragments(t *testing.T) {
	r := New(0x0040, nil)
	f := frame(1, 2, 3, 4, 5, 6)
	r.Push(hci.NewPacket(0x0040, hci.PbfFirstFlushable, f[:3]))
	require.Equal(t, 0, r.QueueLen())
	r.Push(hci.NewPacket(0x0040, hci.PbfContinuing, f[3:7]))
	require.Equal(t, 0, r.QueueLen())
	r.Push(hci.NewPacket(0x0040, hci.PbfContinuing, f[7:]))

	pdu, ok := r.Pop()
	require.True(t, ok)
	require.Equal(t, acl.PDU(f), pdu)
}

func TestContinuingWithoutStartDropped(t *testing.T) {
	r := New(0x0040, nil)
	r.Push(hci.NewPacket(0x0040, hci.PbfContinuing, []byte{1, 2, 3}))
	require.Equal(t, 0, r.QueueLen())

	// a later proper frame still assembles
	r.Push(hci.NewPacket(0x0040, hci.PbfFirstFlushable, frame(0x01)))
	require.Equal(t, 1, r.QueueLen())
}

func TestNonFlushableStartDropped(t *testing.T) {
	r := New(0x0040, nil)
	r.Push(hci.NewPacket(0x0040, hci.PbfFirstNonFlushable, frame(0x01)))
	require.Equal(t, 0, r.QueueLen())
}

func TestNewStartDiscardsPartial(t *testing.T) {
	r := New(0x0040, nil)
	f := frame(1, 2, 3, 4)
	r.Push(hci.NewPacket(0x0040, hci.PbfFirstFlushable, f[:5]))
	// new first fragment abandons the half-built frame
	r.Push(hci.NewPacket(0x0040, hci.PbfFirstFlushable, frame(0x09)))

	pdu, ok := r.Pop()
	require.True(t, ok)
	require.Equal(t, acl.PDU(frame(0x09)), pdu)
	require.Equal(t, 0, r.QueueLen())
}

func TestOverrunResets(t *testing.T) {
	r := New(0x0040, nil)
	f := frame(1, 2)
	r.Push(hci.NewPacket(0x0040, hci.PbfFirstFlushable, f[:4]))
	// more continuation bytes than the length prefix allows
	r.Push(hci.NewPacket(0x0040, hci.PbfContinuing, []byte{1, 2, 3, 4, 5}))
	require.Equal(t, 0, r.QueueLen())

	r.Push(hci.NewPacket(0x0040, hci.PbfFirstFlushable, frame(0x42)))
	require.Equal(t, 1, r.QueueLen())
}

func TestBroadcastDropped(t *testing.T) {
	r := New(0x0040, nil)
	p := hci.NewPacket(0x0040, hci.PbfFirstFlushable, frame(0x01))
	p[1] |= 0x40 // broadcast flag
	r.Push(p)
	require.Equal(t, 0, r.QueueLen())
}

func TestQueueBound(t *testing.T) {
	r := New(0x0040, nil)
	for i := 0; i < maxQueuedPDUs+1; i++ {
		r.Push(hci.NewPacket(0x0040, hci.PbfFirstFlushable, frame(byte(i))))
	}
	require.Equal(t, maxQueuedPDUs, r.QueueLen())

	// the retained PDUs are the oldest ten
	for i := 0; i < maxQueuedPDUs; i++ {
		pdu, ok := r.Pop()
		require.True(t, ok)
		require.Equal(t, byte(i), pdu[4])
	}
}

func TestReadyFiresOnEmptyToNonEmpty(t *testing.T) {
	r := New(0x0040, nil)
	var ready int
	r.SetReadyFunc(func() { ready++ })

	r.Push(hci.NewPacket(0x0040, hci.PbfFirstFlushable, frame(0x01)))
	r.Push(hci.NewPacket(0x0040, hci.PbfFirstFlushable, frame(0x02)))
	require.Equal(t, 1, ready)

	r.Pop()
	r.Pop()
	r.Push(hci.NewPacket(0x0040, hci.PbfFirstFlushable, frame(0x03)))
	require.Equal(t, 2, ready)
}
