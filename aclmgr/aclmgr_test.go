package aclmgr

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bthost/acl"
	"github.com/bthost/acl/classic"
	"github.com/bthost/acl/hci"
	"github.com/bthost/acl/hci/hcitest"
	"github.com/bthost/acl/le"
)

var (
	peerA  = acl.MustAddr("11:22:33:44:55:66", acl.AddrTypePublic)
	lePeer = acl.MustAddr("aa:bb:cc:dd:ee:ff", acl.AddrTypeRandom)
)

type recorder struct {
	mu          sync.Mutex
	classicUp   []*classic.Connection
	leUp        []*le.Connection
	classicFail int
	leFail      int
}

func (r *recorder) OnConnectSuccess(c *classic.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classicUp = append(r.classicUp, c)
}

func (r *recorder) OnConnectFail(acl.Addr, acl.ErrCommand, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classicFail++
}

func (r *recorder) OnLEConnectSuccess(c *le.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leUp = append(r.leUp, c)
}

func (r *recorder) OnLEConnectFail(acl.Addr, acl.ErrCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leFail++
}

func (r *recorder) classicConn() *classic.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.classicUp) == 0 {
		return nil
	}
	return r.classicUp[0]
}

func (r *recorder) leConn() *le.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.leUp) == 0 {
		return nil
	}
	return r.leUp[0]
}

func newManager(t *testing.T) (*Manager, *hcitest.Bus, *recorder) {
	t.Helper()
	bus := hcitest.NewBus()
	bus.AutoResult = func(hci.Command) hci.CommandResult {
		return hci.CommandResult{Status: 0x00, Return: []byte{0x00}}
	}
	m := New(bus, hcitest.DefaultCapabilities())
	t.Cleanup(m.Stop)

	r := &recorder{}
	m.RegisterCallbacks(r, nil)
	m.RegisterLECallbacks(r, nil)
	return m, bus, r
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 2*time.Millisecond, msg)
}

func wire(a acl.Addr) []byte {
	b := a.Bytes()
	out := make([]byte, 6)
	for i := 0; i < 6; i++ {
		out[i] = b[5-i]
	}
	return out
}

func classicComplete(status byte, handle uint16, a acl.Addr) []byte {
	b := make([]byte, 11)
	b[0] = status
	b[1] = byte(handle)
	b[2] = byte(handle >> 8)
	copy(b[3:9], wire(a))
	b[9] = 0x01
	return b
}

func leComplete(status byte, handle uint16, role uint8, a acl.Addr) []byte {
	b := make([]byte, 19)
	b[0] = hci.LEConnectionCompleteSubCode
	b[1] = status
	b[2] = byte(handle)
	b[3] = byte(handle >> 8)
	b[4] = role
	b[5] = byte(a.Type)
	copy(b[6:12], wire(a))
	b[12], b[13] = 0x28, 0x00
	b[14], b[15] = 0x00, 0x00
	b[16], b[17] = 0xf4, 0x01
	return b
}

func disconnection(handle uint16, reason byte) []byte {
	return []byte{0x00, byte(handle), byte(handle >> 8), reason}
}

// l2frame builds an L2CAP basic frame for inbound routing checks.
func l2frame(payload ...byte) []byte {
	b := make([]byte, 4+len(payload))
	b[0] = byte(len(payload))
	b[2], b[3] = 0x40, 0x00
	copy(b[4:], payload)
	return b
}

func TestClassicLifecycleOverBus(t *testing.T) {
	m, bus, r := newManager(t)

	m.CreateConnection(peerA)
	eventually(t, func() bool { return bus.CountOp(0x0405) == 1 }, "create connection not issued")

	bus.InjectEvent(hci.ConnectionCompleteCode, classicComplete(0x00, 0x0040, peerA))
	eventually(t, func() bool { return r.classicConn() != nil }, "no success callback")

	c := r.classicConn()
	require.Equal(t, peerA, c.Addr)
	require.True(t, m.Classic.Owns(0x0040))

	// inbound routed to the classic link's reassembler
	bus.InjectACL(hci.NewPacket(0x0040, hci.PbfFirstFlushable, l2frame(0xbe, 0xef)))
	eventually(t, func() bool { return c.Reasm.QueueLen() == 1 }, "inbound PDU not routed")

	// outbound drains through the scheduler
	c.Write(acl.PDU(l2frame(0x01)))
	eventually(t, func() bool { return len(bus.Writes()) == 1 }, "outbound PDU not written")
	require.Equal(t, uint16(0x0040), bus.Writes()[0].Handle())

	bus.InjectEvent(hci.DisconnectionCompleteCode, disconnection(0x0040, 0x13))
	eventually(t, func() bool { return !m.Classic.Owns(0x0040) }, "link not torn down")
}

func TestLELifecycleOverBus(t *testing.T) {
	m, bus, r := newManager(t)

	m.CreateLEConnection(lePeer, true, true)
	eventually(t, func() bool { return bus.CountOp(0x200D) == 1 }, "le create connection not issued")

	bus.InjectLEEvent(hci.LEConnectionCompleteSubCode, leComplete(0x00, 0x0041, 0x00, lePeer))
	eventually(t, func() bool { return r.leConn() != nil }, "no le success callback")

	c := r.leConn()
	require.Equal(t, lePeer, c.Addr)
	require.Equal(t, acl.RoleCentral, c.Role)
	require.True(t, m.LE.Owns(0x0041))

	bus.InjectACL(hci.NewPacket(0x0041, hci.PbfFirstFlushable, l2frame(0x99)))
	eventually(t, func() bool { return c.Reasm.QueueLen() == 1 }, "inbound PDU not routed")

	bus.InjectEvent(hci.DisconnectionCompleteCode, disconnection(0x0041, 0x13))
	eventually(t, func() bool { return !m.LE.Owns(0x0041) }, "le link not torn down")
}

func TestDisconnectionRoutedByOwnership(t *testing.T) {
	m, bus, r := newManager(t)

	m.CreateConnection(peerA)
	eventually(t, func() bool { return bus.CountOp(0x0405) == 1 }, "create connection not issued")
	bus.InjectEvent(hci.ConnectionCompleteCode, classicComplete(0x00, 0x0040, peerA))
	eventually(t, func() bool { return r.classicConn() != nil }, "no classic callback")

	bus.InjectLEEvent(hci.LEConnectionCompleteSubCode, leComplete(0x00, 0x0041, 0x01, lePeer))
	eventually(t, func() bool { return r.leConn() != nil }, "no le callback")

	// tearing down the LE handle must not disturb the classic link
	bus.InjectEvent(hci.DisconnectionCompleteCode, disconnection(0x0041, 0x13))
	eventually(t, func() bool { return !m.LE.Owns(0x0041) }, "le link not torn down")
	require.True(t, m.Classic.Owns(0x0040))
}

func TestCompletedPacketsReplenishCredits(t *testing.T) {
	bus := hcitest.NewBus()
	bus.AutoResult = func(hci.Command) hci.CommandResult {
		return hci.CommandResult{Status: 0x00, Return: []byte{0x00}}
	}
	caps := hcitest.DefaultCapabilities()
	caps.BufCnt = 1
	m := New(bus, caps)
	defer m.Stop()

	r := &recorder{}
	m.RegisterCallbacks(r, nil)

	m.CreateConnection(peerA)
	eventually(t, func() bool { return bus.CountOp(0x0405) == 1 }, "create connection not issued")
	bus.InjectEvent(hci.ConnectionCompleteCode, classicComplete(0x00, 0x0040, peerA))
	eventually(t, func() bool { return r.classicConn() != nil }, "no success callback")

	c := r.classicConn()
	c.Write(acl.PDU(l2frame(0x01)))
	c.Write(acl.PDU(l2frame(0x02)))
	eventually(t, func() bool { return len(bus.Writes()) == 1 }, "first PDU not written")
	time.Sleep(20 * time.Millisecond)
	require.Len(t, bus.Writes(), 1) // single credit spent

	// Number Of Completed Packets: one handle, one packet
	bus.InjectEvent(hci.NumberOfCompletedPacketsCode,
		[]byte{0x01, 0x40, 0x00, 0x01, 0x00})
	eventually(t, func() bool { return len(bus.Writes()) == 2 }, "credit not replenished")
}

func TestDumpSnapshot(t *testing.T) {
	m, bus, r := newManager(t)

	m.CreateConnection(peerA)
	eventually(t, func() bool { return bus.CountOp(0x0405) == 1 }, "create connection not issued")
	bus.InjectEvent(hci.ConnectionCompleteCode, classicComplete(0x00, 0x0040, peerA))
	eventually(t, func() bool { return r.classicConn() != nil }, "no success callback")

	// a direct LE attempt in flight shows up in the initiation state
	m.CreateLEConnection(lePeer, true, true)
	eventually(t, func() bool { return m.LE.Connectability() == le.Armed }, "initiation never armed")

	out, err := m.Dump()
	require.NoError(t, err)
	require.Contains(t, string(out), "classic_handles")
	require.Contains(t, string(out), "64") // handle 0x0040

	var s Snapshot
	require.NoError(t, json.Unmarshal(out, &s))
	require.Equal(t, []uint16{0x0040}, s.ClassicHandles)
	require.Equal(t, "ARMED", s.Connectability)
	require.Equal(t, []string{lePeer.String()}, s.AcceptList)
	require.Equal(t, 1, s.PendingDirect)
}
