package rrsched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bthost/acl"
	"github.com/bthost/acl/hci"
	"github.com/bthost/acl/hci/hcitest"
)

func newSched(bufSize, bufCnt int) (*Scheduler, *hcitest.Bus) {
	bus := hcitest.NewBus()
	caps := hcitest.DefaultCapabilities()
	caps.BufSize = bufSize
	caps.BufCnt = bufCnt
	return New(bus, caps, nil), bus
}

// waitWrites polls until the bus has seen n outbound packets.
func waitWrites(t *testing.T, bus *hcitest.Bus, n int) []hci.Packet {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w := bus.Writes()
		if len(w) >= n {
			return w
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d writes, have %d", n, len(bus.Writes()))
	return nil
}

func TestFragmentationAndBoundaryFlags(t *testing.T) {
	s, bus := newSched(4, 10)
	defer s.Stop()

	q := NewQueue()
	s.Register(acl.TransportLE, 0x0040, q)
	q.Write(acl.PDU{1, 2, 3, 4, 5, 6, 7, 8, 9})

	w := waitWrites(t, bus, 3)
	require.Len(t, w, 3)

	require.Equal(t, hci.PbfFirstNonFlushable, w[0].Pbf())
	require.Equal(t, []byte{1, 2, 3, 4}, w[0].Data())
	require.Equal(t, hci.PbfContinuing, w[1].Pbf())
	require.Equal(t, []byte{5, 6, 7, 8}, w[1].Data())
	require.Equal(t, hci.PbfContinuing, w[2].Pbf())
	require.Equal(t, []byte{9}, w[2].Data())
	for _, p := range w {
		require.Equal(t, uint16(0x0040), p.Handle())
	}
}

func TestCreditExhaustionAndReplenish(t *testing.T) {
	s, bus := newSched(4, 2)
	defer s.Stop()

	q := NewQueue()
	s.Register(acl.TransportLE, 0x0040, q)
	q.Write(acl.PDU{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})

	w := waitWrites(t, bus, 2)
	time.Sleep(20 * time.Millisecond)
	require.Len(t, bus.Writes(), 2) // pool drained, third fragment held

	s.OnPacketsCompleted(0x0040, 1)
	w = waitWrites(t, bus, 3)
	require.Equal(t, hci.PbfContinuing, w[2].Pbf())
}

func TestRoundRobinInterleavesLinks(t *testing.T) {
	s, bus := newSched(2, 100)
	defer s.Stop()

	qa, qb := NewQueue(), NewQueue()
	s.Register(acl.TransportClassic, 0x0001, qa)
	s.Register(acl.TransportLE, 0x0002, qb)

	qa.Write(acl.PDU{1, 1, 1, 1})
	qb.Write(acl.PDU{2, 2, 2, 2})

	w := waitWrites(t, bus, 4)
	var a, b int
	for _, p := range w[:4] {
		switch p.Handle() {
		case 0x0001:
			a++
		case 0x0002:
			b++
		}
	}
	require.Equal(t, 2, a)
	require.Equal(t, 2, b)

	// each link's fragments keep their order regardless of interleaving
	var fa, fb [][]byte
	for _, p := range w[:4] {
		if p.Handle() == 0x0001 {
			fa = append(fa, p.Data())
		} else {
			fb = append(fb, p.Data())
		}
	}
	require.Equal(t, [][]byte{{1, 1}, {1, 1}}, fa)
	require.Equal(t, [][]byte{{2, 2}, {2, 2}}, fb)
}

func TestPriorityServedFirst(t *testing.T) {
	s, bus := newSched(8, 1)
	defer s.Stop()

	qa, qb := NewQueue(), NewQueue()
	s.Register(acl.TransportClassic, 0x0001, qa)
	s.Register(acl.TransportLE, 0x0002, qb)
	s.SetPriority(0x0002, true)

	// one credit: queue both while the pool is empty, then release
	qa.Write(acl.PDU{1})
	w := waitWrites(t, bus, 1)
	qa.Write(acl.PDU{1})
	qb.Write(acl.PDU{2})

	s.OnPacketsCompleted(0x0001, 1)
	w = waitWrites(t, bus, 2)
	require.Equal(t, uint16(0x0002), w[1].Handle())
}

func TestUnregisterRecyclesCredits(t *testing.T) {
	s, bus := newSched(4, 1)
	defer s.Stop()

	qa, qb := NewQueue(), NewQueue()
	s.Register(acl.TransportLE, 0x0001, qa)
	s.Register(acl.TransportLE, 0x0002, qb)

	qa.Write(acl.PDU{1})
	waitWrites(t, bus, 1)
	qb.Write(acl.PDU{2})
	time.Sleep(20 * time.Millisecond)
	require.Len(t, bus.Writes(), 1) // no credits left

	// tearing down the first link returns its in-flight credit
	s.Unregister(0x0001)
	w := waitWrites(t, bus, 2)
	require.Equal(t, uint16(0x0002), w[1].Handle())
}

func TestUnregisterUnknownHandleIsSafe(t *testing.T) {
	s, _ := newSched(4, 1)
	defer s.Stop()
	s.Unregister(0x00ff)
	s.OnPacketsCompleted(0x00ff, 3)
}

func TestCompletionClampedToInflight(t *testing.T) {
	s, bus := newSched(4, 1)
	defer s.Stop()

	q := NewQueue()
	s.Register(acl.TransportLE, 0x0001, q)
	q.Write(acl.PDU{1})
	waitWrites(t, bus, 1)

	// a buggy controller reporting more completions than sent must not
	// inflate the pool
	s.OnPacketsCompleted(0x0001, 5)
	q.Write(acl.PDU{2})
	q.Write(acl.PDU{3})
	waitWrites(t, bus, 2)
	time.Sleep(20 * time.Millisecond)
	require.Len(t, bus.Writes(), 2)
}
