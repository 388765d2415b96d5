// Package hcitest provides a scriptable in-memory controller bus for tests
// and demos: commands are recorded and completed by the test, events are
// injected by hand.
package hcitest

import (
	"sync"

	"github.com/bthost/acl/hci"
)

// Sent is one enqueued command awaiting its result.
type Sent struct {
	Cmd      hci.Command
	onResult func(hci.CommandResult)
	done     bool
}

// Bus implements hci.Bus.
type Bus struct {
	mu         sync.Mutex
	sent       []*Sent
	handlers   map[int]hci.EventHandler
	leHandlers map[int]hci.EventHandler
	aclHandler func(hci.Packet)
	writes     []hci.Packet

	// AutoResult, when set, resolves every command immediately.
	AutoResult func(c hci.Command) hci.CommandResult
}

func NewBus() *Bus {
	return &Bus{
		handlers:   make(map[int]hci.EventHandler),
		leHandlers: make(map[int]hci.EventHandler),
	}
}

func (b *Bus) EnqueueCommand(c hci.Command, onResult func(hci.CommandResult)) {
	b.mu.Lock()
	auto := b.AutoResult
	s := &Sent{Cmd: c, onResult: onResult}
	b.sent = append(b.sent, s)
	if auto != nil {
		s.done = true
	}
	b.mu.Unlock()

	if auto != nil && onResult != nil {
		onResult(auto(c))
	}
}

func (b *Bus) Subscribe(code int, h hci.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[code] = h
}

func (b *Bus) SubscribeLE(subcode int, h hci.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leHandlers[subcode] = h
}

func (b *Bus) WriteACL(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, hci.Packet(p))
	return nil
}

func (b *Bus) SetACLHandler(h func(hci.Packet)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aclHandler = h
}

// InjectEvent delivers an event payload to the subscribed handler inline.
func (b *Bus) InjectEvent(code int, payload []byte) {
	b.mu.Lock()
	h := b.handlers[code]
	b.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

func (b *Bus) InjectLEEvent(subcode int, payload []byte) {
	b.mu.Lock()
	h := b.leHandlers[subcode]
	b.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

// InjectACL feeds an inbound ACL packet to the registered handler.
func (b *Bus) InjectACL(p hci.Packet) {
	b.mu.Lock()
	h := b.aclHandler
	b.mu.Unlock()
	if h != nil {
		h(p)
	}
}

// Commands returns every command enqueued so far, oldest first.
func (b *Bus) Commands() []hci.Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]hci.Command, len(b.sent))
	for i, s := range b.sent {
		out[i] = s.Cmd
	}
	return out
}

// CountOp counts enqueued commands with the given opcode.
func (b *Bus) CountOp(opcode int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.sent {
		if s.Cmd.OpCode() == opcode {
			n++
		}
	}
	return n
}

// PendingOp returns whether a command with the opcode awaits completion.
func (b *Bus) PendingOp(opcode int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sent {
		if !s.done && s.Cmd.OpCode() == opcode {
			return true
		}
	}
	return false
}

// CompleteOp resolves the oldest pending command with the opcode. Returns
// false when none is pending.
func (b *Bus) CompleteOp(opcode int, r hci.CommandResult) bool {
	b.mu.Lock()
	var target *Sent
	for _, s := range b.sent {
		if !s.done && s.Cmd.OpCode() == opcode {
			target = s
			break
		}
	}
	if target == nil {
		b.mu.Unlock()
		return false
	}
	target.done = true
	cb := target.onResult
	b.mu.Unlock()

	if cb != nil {
		cb(r)
	}
	return true
}

// CompleteNext resolves the oldest pending command of any opcode.
func (b *Bus) CompleteNext(r hci.CommandResult) (hci.Command, bool) {
	b.mu.Lock()
	var target *Sent
	for _, s := range b.sent {
		if !s.done {
			target = s
			break
		}
	}
	if target == nil {
		b.mu.Unlock()
		return nil, false
	}
	target.done = true
	cb := target.onResult
	b.mu.Unlock()

	if cb != nil {
		cb(r)
	}
	return target.Cmd, true
}

// Writes returns outbound ACL packets captured so far.
func (b *Bus) Writes() []hci.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]hci.Packet, len(b.writes))
	copy(out, b.writes)
	return out
}

// Capabilities is a settable hci.Capabilities.
type Capabilities struct {
	ExtendedCreateConnection bool
	ExtendedAdvertising      bool
	LEPrivacy                bool
	AcceptListSize           int
	ResolveListSize          int
	BufSize                  int
	BufCnt                   int
}

// DefaultCapabilities mimics a mid-range dual-mode controller.
func DefaultCapabilities() *Capabilities {
	return &Capabilities{
		ExtendedCreateConnection: false,
		ExtendedAdvertising:      false,
		LEPrivacy:                true,
		AcceptListSize:           8,
		ResolveListSize:          8,
		BufSize:                  27,
		BufCnt:                   8,
	}
}

func (c *Capabilities) SupportsExtendedCreateConnection() bool { return c.ExtendedCreateConnection }
func (c *Capabilities) SupportsExtendedAdvertising() bool      { return c.ExtendedAdvertising }
func (c *Capabilities) SupportsLEPrivacy() bool                { return c.LEPrivacy }
func (c *Capabilities) FilterAcceptListSize() int              { return c.AcceptListSize }
func (c *Capabilities) ResolvingListSize() int                 { return c.ResolveListSize }
func (c *Capabilities) ACLBufferInfo() (int, int)              { return c.BufSize, c.BufCnt }
