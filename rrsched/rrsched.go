// Package rrsched arbitrates transmit opportunity across all open ACL links
// sharing one controller buffer pool. Links are served round-robin, one
// fragment per turn, with a per-handle priority hint for latency-sensitive
// links. Controller credits are consumed per packet and returned via
// Number Of Completed Packets.
package rrsched

import (
	"sync"

	"github.com/bthost/acl"
	"github.com/bthost/acl/hci"
)

// Queue is a link's outbound PDU endpoint. Upper layers write whole L2CAP
// PDUs; the scheduler fragments them to the controller buffer size.
type Queue struct {
	mu     sync.Mutex
	pdus   []acl.PDU
	notify func()
}

func NewQueue() *Queue {
	return &Queue{}
}

// Write appends a PDU for transmission. Never blocks.
func (q *Queue) Write(p acl.PDU) {
	q.mu.Lock()
	q.pdus = append(q.pdus, p)
	n := q.notify
	q.mu.Unlock()
	if n != nil {
		n()
	}
}

func (q *Queue) setNotify(n func()) {
	q.mu.Lock()
	q.notify = n
	q.mu.Unlock()
}

func (q *Queue) pop() (acl.PDU, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pdus) == 0 {
		return nil, false
	}
	p := q.pdus[0]
	q.pdus = q.pdus[1:]
	return p, true
}

func (q *Queue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pdus) == 0
}

type link struct {
	transport acl.Transport
	handle    uint16
	q         *Queue
	high      bool

	// fragments of the PDU currently being transmitted; all of them go out
	// before the link's next PDU is started.
	frags    [][]byte
	started  bool // first fragment of the current PDU already sent
	inflight int  // packets consumed from the pool, not yet completed
}

// Scheduler implements the round-robin arbiter.
type Scheduler struct {
	bus hci.Bus
	log acl.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	links   []*link
	rr      int
	credits int
	bufSize int
	closed  bool
}

func New(bus hci.Bus, caps hci.Capabilities, log acl.Logger) *Scheduler {
	if log == nil {
		log = acl.GetLogger()
	}
	size, cnt := caps.ACLBufferInfo()
	s := &Scheduler{
		bus:     bus,
		log:     log.ChildLogger(map[string]interface{}{"comp": "rrsched"}),
		credits: cnt,
		bufSize: size,
	}
	s.cond = sync.NewCond(&s.mu)
	go s.drainLoop()
	return s
}

// Register attaches a link's outbound queue.
func (s *Scheduler) Register(t acl.Transport, handle uint16, q *Queue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links {
		if l.handle == handle {
			s.log.Warnf("handle %04X already registered, ignored", handle)
			return
		}
	}
	s.links = append(s.links, &link{transport: t, handle: handle, q: q})
	q.setNotify(s.wake)
	s.cond.Broadcast()
}

// Unregister detaches a link. Safe to call during teardown even if the
// handle was never registered; in-flight credits are recycled.
func (s *Scheduler) Unregister(handle uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.links {
		if l.handle != handle {
			continue
		}
		s.credits += l.inflight
		l.q.setNotify(nil)
		s.links = append(s.links[:i], s.links[i+1:]...)
		if s.rr > i {
			s.rr--
		}
		s.cond.Broadcast()
		return
	}
}

// SetPriority biases scheduling toward the handle. No-op when unregistered.
func (s *Scheduler) SetPriority(handle uint16, high bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links {
		if l.handle == handle {
			l.high = high
			return
		}
	}
}

// OnPacketsCompleted returns n transmit credits for the handle. Credits for
// unknown handles are dropped; Unregister already recycled that link's
// in-flight credits when it was torn down.
func (s *Scheduler) OnPacketsCompleted(handle uint16, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links {
		if l.handle == handle {
			if n > l.inflight {
				n = l.inflight
			}
			l.inflight -= n
			s.credits += n
			s.cond.Broadcast()
			return
		}
	}
}

// Stop shuts the drain loop down.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Scheduler) wake() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// pick selects the next link with data, high-priority links first, both
// tiers round-robin from the rotating index.
func (s *Scheduler) pick() *link {
	n := len(s.links)
	for pass := 0; pass < 2; pass++ {
		for i := 0; i < n; i++ {
			l := s.links[(s.rr+i)%n]
			if pass == 0 && !l.high {
				continue
			}
			if pass == 1 && l.high {
				continue
			}
			if len(l.frags) > 0 || !l.q.empty() {
				s.rr = (s.rr + i + 1) % n
				return l
			}
		}
	}
	return nil
}

func (s *Scheduler) drainLoop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.closed {
			return
		}
		var l *link
		if s.credits > 0 {
			l = s.pick()
		}
		if l == nil {
			s.cond.Wait()
			continue
		}

		if len(l.frags) == 0 {
			pdu, ok := l.q.pop()
			if !ok {
				continue
			}
			l.frags = s.fragment(pdu)
			l.started = false
		}

		frag := l.frags[0]
		l.frags = l.frags[1:]
		pbf := hci.PbfFirstNonFlushable
		if l.started {
			pbf = hci.PbfContinuing
		}
		l.started = true
		pkt := hci.NewPacket(l.handle, pbf, frag)
		s.credits--
		l.inflight++

		s.mu.Unlock()
		if err := s.bus.WriteACL(pkt); err != nil {
			s.log.Errorf("acl write failed for %04X: %v", l.handle, err)
		}
		s.mu.Lock()
	}
}

func (s *Scheduler) fragment(pdu acl.PDU) [][]byte {
	var out [][]byte
	b := []byte(pdu)
	for len(b) > 0 {
		n := len(b)
		if n > s.bufSize {
			n = s.bufSize
		}
		out = append(out, b[:n])
		b = b[n:]
	}
	return out
}
