// Package reassemble reconstructs complete L2CAP basic-frame PDUs from the
// ACL fragment stream of one link. Malformed input is dropped with a log
// line, never surfaced as an error; the next first fragment self-heals.
package reassemble

import (
	"fmt"
	"sync"

	"github.com/bthost/acl"
	"github.com/bthost/acl/hci"
)

// maxQueuedPDUs bounds per-link memory when the consumer stalls: a completed
// PDU arriving at a full queue is dropped, along with the accumulation.
const maxQueuedPDUs = 10

// basicHeaderLen is the L2CAP basic frame header: 2-byte length, 2-byte CID.
const basicHeaderLen = 4

// ReadyFunc is invoked whenever the delivery queue goes from empty to
// non-empty, so the consumer only wakes while data is queued.
type ReadyFunc func()

// Reassembler accumulates fragments for a single connection handle.
type Reassembler struct {
	handle uint16
	log    acl.Logger

	mu           sync.Mutex
	partial      []byte
	accumulating bool
	queue        []acl.PDU
	ready        ReadyFunc
}

func New(handle uint16, log acl.Logger) *Reassembler {
	if log == nil {
		log = acl.GetLogger()
	}
	return &Reassembler{
		handle: handle,
		log:    log.ChildLogger(map[string]interface{}{"reassemble": fmt.Sprintf("%04X", handle)}),
	}
}

// SetReadyFunc registers the delivery callback. Passing nil unregisters it.
func (r *Reassembler) SetReadyFunc(f ReadyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = f
}

// expectedLen derives the full frame size from the 2-byte length prefix,
// falling back to a bare header while fewer than 2 bytes are accumulated.
func expectedLen(b []byte) int {
	if len(b) < 2 {
		return basicHeaderLen
	}
	return basicHeaderLen + (int(b[0]) | int(b[1])<<8)
}

// Push feeds one controller-delivered fragment.
func (r *Reassembler) Push(p hci.Packet) {
	if !p.Valid() {
		r.log.Warnf("short or inconsistent ACL packet, %d bytes", len(p))
		return
	}
	if p.Bcf() != 0 {
		r.log.Warn("broadcast ACL packet dropped")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch p.Pbf() {
	case hci.PbfFirstFlushable:
		if r.accumulating && len(r.partial) > 0 {
			r.log.Warnf("discarding incomplete PDU, %d bytes accumulated", len(r.partial))
		}
		r.partial = append([]byte(nil), p.Data()...)
		r.accumulating = true

	case hci.PbfContinuing:
		if !r.accumulating {
			r.log.Warn("continuing fragment with no start, dropped")
			return
		}
		r.partial = append(r.partial, p.Data()...)

	case hci.PbfFirstNonFlushable:
		r.log.Warn("non-flushable start from controller, dropped")
		return

	default:
		r.log.Warnf("unsupported packet boundary flag %d, dropped", p.Pbf())
		return
	}

	exp := expectedLen(r.partial)
	switch {
	case len(r.partial) > exp:
		r.log.Warnf("frame overrun: %d accumulated, %d expected", len(r.partial), exp)
		r.reset()
	case len(r.partial) == exp:
		r.complete(acl.PDU(r.partial))
		r.reset()
	}
	// otherwise wait for more fragments
}

func (r *Reassembler) reset() {
	r.partial = nil
	r.accumulating = false
}

// complete runs with the lock held; the ready callback is deferred off the
// lock to keep consumers free to Pop from it.
func (r *Reassembler) complete(pdu acl.PDU) {
	if len(r.queue) >= maxQueuedPDUs {
		r.log.Warnf("delivery queue congested (%d pending), PDU dropped", len(r.queue))
		return
	}
	r.queue = append(r.queue, pdu)
	if len(r.queue) == 1 && r.ready != nil {
		ready := r.ready
		r.mu.Unlock()
		ready()
		r.mu.Lock()
	}
}

// Pop drains one completed PDU.
func (r *Reassembler) Pop() (acl.PDU, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return nil, false
	}
	pdu := r.queue[0]
	r.queue = r.queue[1:]
	return pdu, true
}

// QueueLen reports PDUs awaiting delivery.
func (r *Reassembler) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}
