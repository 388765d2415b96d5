// Package admission serializes outgoing Classic connection attempts against
// the single radio: the controller accepts only one outstanding Create
// Connection, so requests queue FIFO and completion callbacks fire in
// issuance order.
//
// The scheduler is passive and not safe for concurrent use; it is owned by
// the Classic state machine and driven only from its handler.
package admission

import (
	"github.com/bthost/acl"
	"github.com/bthost/acl/invariant"
)

type entry struct {
	addr    acl.Addr
	onReady func()
	issued  bool
}

// Scheduler tracks the outgoing FIFO and expected incoming connections.
type Scheduler struct {
	log acl.Logger
	inv invariant.Policy

	queue    []*entry
	incoming map[string]struct{}
}

func New(log acl.Logger, inv invariant.Policy) *Scheduler {
	if log == nil {
		log = acl.GetLogger()
	}
	if inv == nil {
		inv = invariant.LogPolicy{Log: log}
	}
	return &Scheduler{
		log:      log.ChildLogger(map[string]interface{}{"comp": "admission"}),
		inv:      inv,
		incoming: make(map[string]struct{}),
	}
}

// EnqueueOutgoingConnection appends a request. With an empty queue the
// request is issued immediately; otherwise onReady fires when prior entries
// complete.
func (s *Scheduler) EnqueueOutgoingConnection(addr acl.Addr, onReady func()) {
	e := &entry{addr: addr, onReady: onReady}
	s.queue = append(s.queue, e)
	if len(s.queue) == 1 {
		e.issued = true
		e.onReady()
	}
}

// ReportConnectionCompletion resolves a connection-complete event against
// the queue. The head-of-queue attempt matches by address; an expected
// incoming connection matches the incoming set; anything else is dispatched
// to onNoMatch, and a success status with no match at all is a protocol
// violation.
func (s *Scheduler) ReportConnectionCompletion(addr acl.Addr, success bool, onLocal, onRemote, onNoMatch func()) {
	if len(s.queue) > 0 && s.queue[0].issued && s.queue[0].addr.ClassicKey() == addr.ClassicKey() {
		s.pop()
		onLocal()
		return
	}
	if _, ok := s.incoming[addr.ClassicKey()]; ok {
		delete(s.incoming, addr.ClassicKey())
		onRemote()
		return
	}
	if success {
		s.inv.Violation("success completion for %v with no matching request", addr)
	}
	onNoMatch()
}

// ReportOutgoingConnectionFailure pops the head attempt (command status
// failure before any completion event) and advances the queue.
func (s *Scheduler) ReportOutgoingConnectionFailure() (acl.Addr, bool) {
	if len(s.queue) == 0 {
		s.log.Warn("outgoing failure with empty queue")
		return acl.Addr{}, false
	}
	addr := s.queue[0].addr
	s.pop()
	return addr, true
}

// CancelConnection resolves a cancellation. A request already issued to the
// controller needs a cancel command (onCancelIssued) and resolves through
// the normal completion path; one still queued behind others resolves
// locally as already-failed (onAlreadyQueued) without touching the
// controller.
func (s *Scheduler) CancelConnection(addr acl.Addr, onCancelIssued, onAlreadyQueued func()) {
	for i, e := range s.queue {
		if e.addr.ClassicKey() != addr.ClassicKey() {
			continue
		}
		if i == 0 && e.issued {
			onCancelIssued()
			return
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		onAlreadyQueued()
		return
	}
	s.log.Warnf("cancel for %v with no queued request", addr)
}

// RegisterPendingIncomingConnection records that a connection-complete for
// the address is expected from the remote side.
func (s *Scheduler) RegisterPendingIncomingConnection(addr acl.Addr) {
	s.incoming[addr.ClassicKey()] = struct{}{}
}

// IsIncomingPending ...
func (s *Scheduler) IsIncomingPending(addr acl.Addr) bool {
	_, ok := s.incoming[addr.ClassicKey()]
	return ok
}

// RemovePendingIncomingConnection ...
func (s *Scheduler) RemovePendingIncomingConnection(addr acl.Addr) {
	delete(s.incoming, addr.ClassicKey())
}

// Outstanding reports whether a Create Connection is in flight.
func (s *Scheduler) Outstanding() bool {
	return len(s.queue) > 0 && s.queue[0].issued
}

// QueueLen ...
func (s *Scheduler) QueueLen() int { return len(s.queue) }

func (s *Scheduler) pop() {
	s.queue = s.queue[1:]
	if len(s.queue) > 0 {
		s.queue[0].issued = true
		s.queue[0].onReady()
	}
}
