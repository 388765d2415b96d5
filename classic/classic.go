// Package classic drives BR/EDR physical links: outgoing connects through
// the admission scheduler, incoming accept/reject policy, role and
// link-policy negotiation, and disconnection. All state is owned by the
// machine's handler.
package classic

import (
	"fmt"
	"sync"

	"github.com/bthost/acl"
	"github.com/bthost/acl/admission"
	"github.com/bthost/acl/handler"
	"github.com/bthost/acl/hci"
	"github.com/bthost/acl/hci/cmd"
	"github.com/bthost/acl/hci/evt"
	"github.com/bthost/acl/invariant"
	"github.com/bthost/acl/reassemble"
	"github.com/bthost/acl/rrsched"
	"github.com/bthost/acl/sliceops"
)

// Default Create Connection parameters: all ACL packet types, R1 paging,
// role switch allowed.
const (
	defaultPacketType      = 0xcc18
	defaultPageScanRepMode = 0x01
)

const linkTypeACL = 0x01

// Callbacks receives connection-level outcomes. Invoked on the handler the
// client registered with.
type Callbacks interface {
	OnConnectSuccess(c *Connection)
	OnConnectFail(addr acl.Addr, reason acl.ErrCommand, locallyInitiated bool)
}

// ManagementCallbacks receives per-connection events after establishment.
type ManagementCallbacks interface {
	OnRoleChange(role acl.Role)
	OnDisconnection(reason acl.ErrCommand)
}

// IncomingPolicy decides whether an incoming connection request is
// acceptable. The default accepts everything.
type IncomingPolicy func(addr acl.Addr, classOfDevice [3]byte) bool

type linkState uint8

const (
	stateConnected linkState = iota
	stateDisconnecting
)

// Connection is an established Classic link record.
type Connection struct {
	m *Machine

	Handle           uint16
	Addr             acl.Addr
	Role             acl.Role
	LocallyInitiated bool

	Queue *rrsched.Queue
	Reasm *reassemble.Reassembler

	state linkState
	mgmt  ManagementCallbacks
	mgmtH *handler.Handler
}

// RegisterCallbacks attaches per-connection event callbacks delivered on h.
func (c *Connection) RegisterCallbacks(mc ManagementCallbacks, h *handler.Handler) {
	_ = c.m.h.Post(func() {
		c.mgmt = mc
		c.mgmtH = h
	})
}

// Write queues an outbound PDU on the link.
func (c *Connection) Write(p acl.PDU) {
	c.Queue.Write(p)
}

// Disconnect tears the link down with the given reason code.
func (c *Connection) Disconnect(reason acl.ErrCommand) {
	c.m.Disconnect(c.Handle, reason)
}

// SwitchRole asks the controller to change our role on the link.
func (c *Connection) SwitchRole(role acl.Role) {
	_ = c.m.h.Post(func() {
		sc := cmd.SwitchRole{Role: uint8(role)}
		copy(sc.BDADDR[:], sliceops.SwapBuf(c.Addr.Bytes()))
		c.m.bus.EnqueueCommand(sc, c.m.logFailure("SwitchRole"))
	})
}

// WriteLinkPolicy updates link policy settings on the link.
func (c *Connection) WriteLinkPolicy(settings uint16) {
	_ = c.m.h.Post(func() {
		c.m.bus.EnqueueCommand(cmd.WriteLinkPolicySettings{
			ConnectionHandle:   c.Handle,
			LinkPolicySettings: settings,
		}, c.m.logFailure("WriteLinkPolicySettings"))
	})
}

type attemptState uint8

const (
	attQueued attemptState = iota
	attReady               // admission green-lit, issue task posted
	attSent                // command handed to the controller
	attCancelled
)

type attempt struct {
	addr  acl.Addr
	state attemptState
}

type delayedRoleChange struct {
	addr acl.Addr
	role acl.Role
}

// Machine is the Classic link state machine.
type Machine struct {
	h     *handler.Handler
	bus   hci.Bus
	log   acl.Logger
	inv   invariant.Policy
	sched *rrsched.Scheduler
	adm   *admission.Scheduler

	cb        Callbacks
	cbHandler *handler.Handler

	attempts map[string]*attempt
	policy   IncomingPolicy

	// only one delayed role change is retained; a later racer replaces it
	pendingRole *delayedRoleChange

	// strict turns unknown-handle events into invariant violations, used to
	// catch stack bugs in controlled test environments.
	strict bool

	// mu guards the tables for cross-handler snapshots only; mutation
	// happens on the handler.
	mu     sync.Mutex
	links  map[uint16]*Connection
	byAddr map[string]uint16
}

// Option ...
type Option func(*Machine)

// WithStrictUnknownHandles asserts on events for unknown handles.
func WithStrictUnknownHandles() Option {
	return func(m *Machine) { m.strict = true }
}

func New(bus hci.Bus, sched *rrsched.Scheduler, log acl.Logger, inv invariant.Policy, opts ...Option) *Machine {
	if log == nil {
		log = acl.GetLogger()
	}
	if inv == nil {
		inv = invariant.LogPolicy{Log: log}
	}
	clog := log.ChildLogger(map[string]interface{}{"comp": "classic"})
	m := &Machine{
		h:        handler.New("classic"),
		bus:      bus,
		log:      clog,
		inv:      inv,
		sched:    sched,
		adm:      admission.New(clog, inv),
		attempts: make(map[string]*attempt),
		policy:   func(acl.Addr, [3]byte) bool { return true },
		links:    make(map[uint16]*Connection),
		byAddr:   make(map[string]uint16),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Stop halts the handler. Links are not disconnected.
func (m *Machine) Stop() { m.h.Stop() }

// RegisterCallbacks attaches the connection client; cb events are delivered
// on h. Registering twice without unregistering is a programming error.
func (m *Machine) RegisterCallbacks(cb Callbacks, h *handler.Handler) {
	_ = m.h.Post(func() {
		if m.cb != nil {
			m.inv.Violation("classic callbacks registered twice")
			return
		}
		m.cb = cb
		m.cbHandler = h
	})
}

// UnregisterCallbacks ...
func (m *Machine) UnregisterCallbacks() {
	_ = m.h.Post(func() {
		m.cb = nil
		m.cbHandler = nil
	})
}

// SetIncomingPolicy overrides the incoming-connection admission predicate.
func (m *Machine) SetIncomingPolicy(p IncomingPolicy) {
	_ = m.h.Post(func() { m.policy = p })
}

// CreateConnection queues an outgoing connect to addr. At most one Create
// Connection is outstanding; the rest wait FIFO.
func (m *Machine) CreateConnection(addr acl.Addr) {
	_ = m.h.Post(func() {
		key := addr.ClassicKey()
		if _, ok := m.byAddr[key]; ok {
			m.notifyFail(addr, acl.ErrACLConnectionExists, true)
			return
		}
		if _, ok := m.attempts[key]; ok {
			m.log.Warnf("connect to %v already pending", addr)
			return
		}
		att := &attempt{addr: addr}
		m.attempts[key] = att
		m.adm.EnqueueOutgoingConnection(addr, func() {
			att.state = attReady
			// issuance is deferred one task so a cancel landing right
			// behind the create never reaches the controller
			_ = m.h.Post(func() { m.issue(att) })
		})
	})
}

func (m *Machine) issue(att *attempt) {
	if att.state != attReady {
		return
	}
	att.state = attSent
	c := cmd.CreateConnection{
		PacketType:             defaultPacketType,
		PageScanRepetitionMode: defaultPageScanRepMode,
		AllowRoleSwitch:        1,
	}
	copy(c.BDADDR[:], sliceops.SwapBuf(att.addr.Bytes()))
	m.bus.EnqueueCommand(c, func(r hci.CommandResult) {
		if r.Ok() {
			return // wait for the connection-complete event
		}
		_ = m.h.Post(func() {
			addr, ok := m.adm.ReportOutgoingConnectionFailure()
			if !ok {
				return
			}
			delete(m.attempts, addr.ClassicKey())
			m.notifyFail(addr, acl.ErrCommand(r.Status), true)
		})
	})
}

// CancelConnect cancels a pending outgoing connect. A request already with
// the controller resolves through the normal completion path; anything
// earlier resolves locally.
func (m *Machine) CancelConnect(addr acl.Addr) {
	_ = m.h.Post(func() {
		key := addr.ClassicKey()
		att, ok := m.attempts[key]
		if !ok {
			m.log.Warnf("cancel for %v with no pending connect", addr)
			return
		}
		switch att.state {
		case attQueued:
			m.adm.CancelConnection(addr,
				func() {
					// queued entries are never head-of-queue issued
					m.inv.Violation("queued attempt reported as issued")
				},
				func() {
					delete(m.attempts, key)
					m.notifyFail(addr, acl.ErrUnknownConnection, true)
				})
		case attReady:
			// green-lit but the command was never sent; resolve locally
			// and advance the queue
			att.state = attCancelled
			m.adm.ReportOutgoingConnectionFailure()
			delete(m.attempts, key)
			m.notifyFail(addr, acl.ErrUnknownConnection, true)
		case attSent:
			cc := cmd.CreateConnectionCancel{}
			copy(cc.BDADDR[:], sliceops.SwapBuf(addr.Bytes()))
			m.bus.EnqueueCommand(cc, func(r hci.CommandResult) {
				// the return parameters carry the authoritative status
				status := r.Status
				var rp cmd.CreateConnectionCancelRP
				if rp.Unmarshal(r.Return) == nil {
					status = rp.Status
				}
				if status != 0x00 {
					// too late to cancel; the pending connection
					// complete resolves the attempt either way
					m.log.Warnf("create connection cancel for %v failed: %v",
						addr, acl.ErrCommand(status))
				}
			})
		case attCancelled:
			// already resolved
		}
	})
}

// Disconnect starts link teardown.
func (m *Machine) Disconnect(handle uint16, reason acl.ErrCommand) {
	_ = m.h.Post(func() {
		c, ok := m.links[handle]
		if !ok {
			m.unknownHandle("disconnect", handle)
			return
		}
		c.state = stateDisconnecting
		m.bus.EnqueueCommand(cmd.Disconnect{
			ConnectionHandle: handle,
			Reason:           uint8(reason),
		}, m.logFailure("Disconnect"))
	})
}

// OnConnectionRequest handles an incoming connection indication.
func (m *Machine) OnConnectionRequest(e evt.ConnectionRequest) {
	_ = m.h.Post(func() {
		addr := addrFromWire(e.BDADDR())
		if e.LinkType() != linkTypeACL {
			m.reject(addr, acl.ErrLimitedResources)
			return
		}
		if m.cb == nil {
			m.log.Warnf("incoming connection from %v with no client, rejecting", addr)
			m.reject(addr, acl.ErrLimitedResources)
			return
		}
		if _, ok := m.byAddr[addr.ClassicKey()]; ok {
			m.log.Warnf("incoming connection from already-connected %v, rejecting", addr)
			m.reject(addr, acl.ErrUnacceptableAddr)
			return
		}
		if !m.policy(addr, e.ClassOfDevice()) {
			m.reject(addr, acl.ErrLimitedResources)
			return
		}
		m.adm.RegisterPendingIncomingConnection(addr)
		ac := cmd.AcceptConnectionRequest{Role: uint8(acl.RolePeripheral)}
		copy(ac.BDADDR[:], sliceops.SwapBuf(addr.Bytes()))
		m.bus.EnqueueCommand(ac, m.logFailure("AcceptConnectionRequest"))
	})
}

func (m *Machine) reject(addr acl.Addr, reason acl.ErrCommand) {
	rc := cmd.RejectConnectionRequest{Reason: uint8(reason)}
	copy(rc.BDADDR[:], sliceops.SwapBuf(addr.Bytes()))
	m.bus.EnqueueCommand(rc, m.logFailure("RejectConnectionRequest"))
}

// OnConnectionComplete resolves a controller connection outcome against the
// admission scheduler.
func (m *Machine) OnConnectionComplete(e evt.ConnectionComplete) {
	_ = m.h.Post(func() {
		addr := addrFromWire(e.BDADDR())
		status := acl.ErrCommand(e.Status())
		success := status == acl.ErrSuccess

		m.adm.ReportConnectionCompletion(addr, success,
			func() {
				delete(m.attempts, addr.ClassicKey())
				if success {
					m.establish(e.ConnectionHandle(), addr, acl.RoleCentral, true)
				} else {
					m.notifyFail(addr, status, true)
				}
			},
			func() {
				if success {
					m.establish(e.ConnectionHandle(), addr, acl.RolePeripheral, false)
				} else {
					m.notifyFail(addr, status, false)
				}
			},
			func() {
				m.log.Warnf("unmatched connection complete for %v (status %v)", addr, status)
				nc := cmd.RemoteNameRequestCancel{}
				copy(nc.BDADDR[:], sliceops.SwapBuf(addr.Bytes()))
				m.bus.EnqueueCommand(nc, nil)
			})
	})
}

func (m *Machine) establish(handle uint16, addr acl.Addr, role acl.Role, locallyInitiated bool) {
	c := &Connection{
		m:                m,
		Handle:           handle,
		Addr:             addr,
		Role:             role,
		LocallyInitiated: locallyInitiated,
		Queue:            rrsched.NewQueue(),
		Reasm:            reassemble.New(handle, m.log),
	}
	m.mu.Lock()
	m.links[handle] = c
	m.byAddr[addr.ClassicKey()] = handle
	m.mu.Unlock()

	m.sched.Register(acl.TransportClassic, handle, c.Queue)

	if m.pendingRole != nil && m.pendingRole.addr.ClassicKey() == addr.ClassicKey() {
		c.Role = m.pendingRole.role
		m.pendingRole = nil
	}

	if m.cb != nil {
		cb := m.cb
		m.postClient(func() { cb.OnConnectSuccess(c) })
	}
}

// OnRoleChange applies a role-change event, caching it when it races ahead
// of the connection-complete.
func (m *Machine) OnRoleChange(e evt.RoleChange) {
	_ = m.h.Post(func() {
		addr := addrFromWire(e.BDADDR())
		if e.Status() != 0 {
			m.log.Warnf("role change for %v failed: %v", addr, acl.ErrCommand(e.Status()))
			return
		}
		role := acl.Role(e.NewRole())
		if handle, ok := m.byAddr[addr.ClassicKey()]; ok {
			c := m.links[handle]
			c.Role = role
			if c.mgmt != nil {
				mgmt := c.mgmt
				m.postTo(c.mgmtH, func() { mgmt.OnRoleChange(role) })
			}
			return
		}
		if m.pendingRole != nil {
			m.log.Warnf("second delayed role change for %v, dropping the earlier one for %v",
				addr, m.pendingRole.addr)
		}
		m.pendingRole = &delayedRoleChange{addr: addr, role: role}
	})
}

// OnDisconnectionComplete tears down the link record. Order matters: the
// scheduler is detached before the client callback so the client never sees
// scheduler state referencing a removed record.
func (m *Machine) OnDisconnectionComplete(e evt.DisconnectionComplete) {
	_ = m.h.Post(func() {
		handle := e.ConnectionHandle()
		c, ok := m.links[handle]
		if !ok {
			m.unknownHandle("disconnection complete", handle)
			return
		}
		reason := acl.ErrCommand(e.Reason())

		m.sched.Unregister(handle)

		if c.mgmt != nil {
			mgmt := c.mgmt
			m.postTo(c.mgmtH, func() { mgmt.OnDisconnection(reason) })
		}

		m.mu.Lock()
		delete(m.links, handle)
		delete(m.byAddr, c.Addr.ClassicKey())
		m.mu.Unlock()
	})
}

// Owns reports whether the handle belongs to a Classic link. Safe from any
// goroutine.
func (m *Machine) Owns(handle uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[handle]
	return ok
}

// Reassembler returns the link's inbound reassembler, nil when unknown.
func (m *Machine) Reassembler(handle uint16) *reassemble.Reassembler {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.links[handle]; ok {
		return c.Reasm
	}
	return nil
}

// Handles snapshots the open Classic handles.
func (m *Machine) Handles() []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint16, 0, len(m.links))
	for h := range m.links {
		out = append(out, h)
	}
	return out
}

func (m *Machine) unknownHandle(what string, handle uint16) {
	if m.strict {
		m.inv.Violation("%s for unknown handle %04X", what, handle)
		return
	}
	m.log.Debugf("%s for unknown handle %04X, dropped", what, handle)
}

func (m *Machine) notifyFail(addr acl.Addr, reason acl.ErrCommand, locallyInitiated bool) {
	if m.cb == nil {
		m.log.Warnf("connect to %v failed (%v) with no client registered", addr, reason)
		return
	}
	cb := m.cb
	m.postClient(func() { cb.OnConnectFail(addr, reason, locallyInitiated) })
}

func (m *Machine) postClient(f func()) {
	m.postTo(m.cbHandler, f)
}

func (m *Machine) postTo(h *handler.Handler, f func()) {
	if h == nil {
		f()
		return
	}
	if err := h.Post(f); err != nil {
		m.log.Warnf("client handler rejected callback: %v", err)
	}
}

func (m *Machine) logFailure(what string) func(hci.CommandResult) {
	return func(r hci.CommandResult) {
		if !r.Ok() {
			m.log.Errorf("%s failed: %v", what, acl.ErrCommand(r.Status))
		}
	}
}

// addrFromWire flips a little-endian controller address to display order.
func addrFromWire(b [6]byte) acl.Addr {
	a := acl.Addr{Type: acl.AddrTypePublic}
	copy(a.MAC[:], sliceops.SwapBuf(b[:]))
	return a
}

func (c *Connection) String() string {
	return fmt.Sprintf("classic %04X %v %v", c.Handle, c.Addr, c.Role)
}
