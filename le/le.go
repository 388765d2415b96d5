// Package le drives LE ACL links: the connectability state machine over the
// filter accept list, direct and background connection attempts, peripheral
// links surfaced through advertising, and the pause/resume contract with the
// address privacy manager. All state is owned by the machine's handler.
package le

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bthost/acl"
	"github.com/bthost/acl/handler"
	"github.com/bthost/acl/hci"
	"github.com/bthost/acl/hci/cmd"
	"github.com/bthost/acl/invariant"
	"github.com/bthost/acl/privacy"
	"github.com/bthost/acl/reassemble"
	"github.com/bthost/acl/rrsched"
	"github.com/bthost/acl/sliceops"
)

const defaultDirectTimeout = 30 * time.Second

// Connectability tracks the single outstanding create-connection command
// the controller allows.
type Connectability uint8

const (
	Disarmed Connectability = iota
	Arming
	Armed
	Disarming
)

func (c Connectability) String() string {
	switch c {
	case Disarmed:
		return "DISARMED"
	case Arming:
		return "ARMING"
	case Armed:
		return "ARMED"
	case Disarming:
		return "DISARMING"
	}
	return fmt.Sprintf("Connectability(%d)", uint8(c))
}

// Callbacks receives connection-level outcomes on the client's handler.
type Callbacks interface {
	OnLEConnectSuccess(c *Connection)
	OnLEConnectFail(addr acl.Addr, reason acl.ErrCommand)
}

// ManagementCallbacks receives per-connection events after establishment.
type ManagementCallbacks interface {
	OnDisconnection(reason acl.ErrCommand)
}

// AcceptListObserver is notified when a link for a listed peer goes away,
// independent of the connection client.
type AcceptListObserver interface {
	OnLEDisconnection(addr acl.Addr)
}

// RoleData carries the role-specific half of a link record.
type RoleData interface {
	isRoleData()
}

// CentralData ...
type CentralData struct {
	LocalAddr acl.Addr
}

// PeripheralData ...
type PeripheralData struct {
	LocalAddr acl.Addr

	// AdvertisingHandle is only meaningful with extended advertising.
	AdvertisingHandle uint8
}

func (CentralData) isRoleData()    {}
func (PeripheralData) isRoleData() {}

// Connection is an established LE link record.
type Connection struct {
	m *Machine

	Handle uint16
	Addr   acl.Addr
	Role   acl.Role
	Data   RoleData

	Interval           uint16
	Latency            uint16
	SupervisionTimeout uint16

	Queue *rrsched.Queue
	Reasm *reassemble.Reassembler

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

func (c *Connection) String() string {
	return fmt.Sprintf("le %04X %v %v", c.Handle, c.Addr, c.Role)
}

// ConnectionEvent is a normalized LE connection complete, legacy or enhanced.
type ConnectionEvent struct {
	Status             acl.ErrCommand
	Handle             uint16
	Role               acl.Role
	Peer               acl.Addr
	LocalRPA           acl.Addr
	Interval           uint16
	Latency            uint16
	SupervisionTimeout uint16
}

type directAttempt struct {
	addr  acl.Addr
	alarm *handler.Alarm
}

// Machine is the LE link state machine.
type Machine struct {
	h    *handler.Handler
	bus  hci.Bus
	caps hci.Capabilities
	log  acl.Logger
	inv  invariant.Policy

	sched *rrsched.Scheduler
	priv  *privacy.Manager

	cb        Callbacks
	cbHandler *handler.Handler
	observer  AcceptListObserver
	obsH      *handler.Handler

	state Connectability

	// disarmPending defers a disarm requested mid-arming.
	disarmPending bool
	// rearmAfterDisarm re-arms as soon as the cancel resolves.
	rearmAfterDisarm bool

	// acceptList holds confirmed controller accept-list membership;
	// addInFlight holds adds issued but not yet completed.
	acceptList  map[string]acl.Addr
	addInFlight map[string]struct{}

	direct     map[string]*directAttempt
	background map[string]acl.Addr
	// timedOut carries the address of a direct attempt whose cancel is in
	// flight, so its completion event retries it as background.
	timedOut *acl.Addr

	paused       bool
	pausePending bool
	registered   bool
	suspended    bool

	directTimeout time.Duration

	pendingPeripheral map[uint16]*Connection

	// mu guards the tables for cross-handler snapshots only; mutation
	// happens on the handler.
	mu     sync.Mutex
	links  map[uint16]*Connection
	byAddr map[string]uint16
}

func New(bus hci.Bus, caps hci.Capabilities, sched *rrsched.Scheduler, priv *privacy.Manager, log acl.Logger, inv invariant.Policy) *Machine {
	if log == nil {
		log = acl.GetLogger()
	}
	if inv == nil {
		inv = invariant.LogPolicy{Log: log}
	}
	m := &Machine{
		h:                 handler.New("le"),
		bus:               bus,
		caps:              caps,
		log:               log.ChildLogger(map[string]interface{}{"comp": "le"}),
		inv:               inv,
		sched:             sched,
		priv:              priv,
		acceptList:        make(map[string]acl.Addr),
		addInFlight:       make(map[string]struct{}),
		direct:            make(map[string]*directAttempt),
		background:        make(map[string]acl.Addr),
		directTimeout:     defaultDirectTimeout,
		pendingPeripheral: make(map[uint16]*Connection),
		links:             make(map[uint16]*Connection),
		byAddr:            make(map[string]uint16),
	}
	// start from a known-empty controller list so the host accounting and
	// the controller agree
	m.bus.EnqueueCommand(cmd.LEClearFilterAcceptList{}, m.logFailure("LEClearFilterAcceptList"))
	return m
}

// Stop halts the handler. Links are not disconnected.
func (m *Machine) Stop() { m.h.Stop() }

// RegisterCallbacks attaches the connection client; events are delivered on
// h. Registering twice without unregistering is a programming error.
func (m *Machine) RegisterCallbacks(cb Callbacks, h *handler.Handler) {
	_ = m.h.Post(func() {
		if m.cb != nil {
			m.inv.Violation("le callbacks registered twice")
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

// RegisterAcceptListObserver attaches the accept-list disconnect observer.
func (m *Machine) RegisterAcceptListObserver(o AcceptListObserver, h *handler.Handler) {
	_ = m.h.Post(func() {
		m.observer = o
		m.obsH = h
	})
}

// SetSuspended switches the initiation scan duty cycle for system suspend.
// Takes effect on the next arm.
func (m *Machine) SetSuspended(suspended bool) {
	_ = m.h.Post(func() { m.suspended = suspended })
}

// Connectability returns the current arming state. Blocks briefly for a
// handler round trip.
func (m *Machine) Connectability() Connectability {
	var s Connectability
	_ = m.h.Call(func() { s = m.state })
	return s
}

// CreateLEConnection starts connecting to addr. Direct attempts run a
// connection timeout; background attempts stay in the accept list until
// canceled. With addToAcceptList false the initiation relies on the list's
// current contents.
func (m *Machine) CreateLEConnection(addr acl.Addr, addToAcceptList, isDirect bool) {
	_ = m.h.Post(func() {
		m.ensureRegistered()
		key := addr.LEKey()
		if _, ok := m.byAddr[key]; ok {
			m.log.Warnf("already connected to %v", addr)
			return
		}
		if !isDirect {
			m.background[key] = addr
		}
		if !addToAcceptList {
			m.maybeArm()
			return
		}
		if isDirect {
			m.armDirectTimeout(addr)
		}
		_, listed := m.acceptList[key]
		_, adding := m.addInFlight[key]
		if listed || adding {
			// no duplicate add; the controller must still be
			// re-commanded to cover the address if already initiating
			m.rearmCycle()
			return
		}
		m.addInFlight[key] = struct{}{}
		c := cmd.LEAddDeviceToFilterAcceptList{AddressType: leAddrType(addr)}
		copy(c.Address[:], sliceops.SwapBuf(addr.Bytes()))
		m.bus.EnqueueCommand(c, func(r hci.CommandResult) {
			_ = m.h.Post(func() {
				delete(m.addInFlight, key)
				if !r.Ok() {
					m.log.Errorf("accept list add for %v failed: %v", addr, acl.ErrCommand(r.Status))
					m.failDirect(addr, acl.ErrCommand(r.Status))
					return
				}
				m.acceptList[key] = addr
				m.rearmCycle()
			})
		})
	})
}

// CancelLEConnection withdraws a pending connect to addr, direct or
// background.
func (m *Machine) CancelLEConnection(addr acl.Addr) {
	_ = m.h.Post(func() {
		key := addr.LEKey()
		da, wasDirect := m.direct[key]
		if wasDirect {
			da.alarm.Cancel()
			delete(m.direct, key)
		}
		_, wasBackground := m.background[key]
		delete(m.background, key)
		if _, ok := m.acceptList[key]; ok {
			m.removeAndRecycle(addr)
		}
		if wasDirect && !wasBackground {
			m.notifyFail(addr, acl.ErrUnknownConnection)
		}
		m.maybeUnregister()
	})
}

// Disconnect starts link teardown.
func (m *Machine) Disconnect(handle uint16, reason acl.ErrCommand) {
	_ = m.h.Post(func() {
		if _, ok := m.links[handle]; !ok {
			m.log.Debugf("disconnect for unknown handle %04X, dropped", handle)
			return
		}
		m.bus.EnqueueCommand(cmd.Disconnect{
			ConnectionHandle: handle,
			Reason:           uint8(reason),
		}, m.logFailure("Disconnect"))
	})
}

// OnConnectionComplete resolves a controller LE connection outcome.
func (m *Machine) OnConnectionComplete(e ConnectionEvent) {
	_ = m.h.Post(func() {
		if e.Role == acl.RoleCentral {
			m.centralComplete(e)
		} else {
			m.peripheralComplete(e)
		}
	})
}

func (m *Machine) centralComplete(e ConnectionEvent) {
	// whatever the outcome, the single create-connection is consumed
	m.state = Disarmed

	if e.Status == acl.ErrUnknownConnection {
		if m.pausePending {
			// local cancel raced the rotation pause; finish the pause
			// and re-arm on resume
			m.pausePending = false
			m.priv.AckPause(m)
			return
		}
		if m.timedOut != nil {
			// direct attempt timed out; keep trying in the background
			addr := *m.timedOut
			m.timedOut = nil
			m.background[addr.LEKey()] = addr
		}
		m.afterDisarm()
		return
	}
	if e.Status != acl.ErrSuccess {
		m.notifyFail(e.Peer, e.Status)
		m.afterDisarm()
		return
	}
	if !ValidConnectionParameters(e.Interval, e.Interval, e.Latency, e.SupervisionTimeout) {
		m.log.Errorf("rejecting connection to %v: invalid parameters interval=%04X latency=%04X timeout=%04X",
			e.Peer, e.Interval, e.Latency, e.SupervisionTimeout)
		m.afterDisarm()
		return
	}

	key := e.Peer.LEKey()
	m.clearDirect(e.Peer)
	if _, ok := m.acceptList[key]; ok {
		m.removeFromAcceptList(e.Peer)
	}

	c := m.establish(e, CentralData{LocalAddr: e.LocalRPA})
	m.notifySuccess(c)

	// other listed peers still want connecting
	m.maybeArm()
	m.maybeUnregister()
}

func (m *Machine) peripheralComplete(e ConnectionEvent) {
	if e.Status != acl.ErrSuccess {
		m.log.Warnf("peripheral connection from %v failed: %v", e.Peer, e.Status)
		return
	}
	if !ValidConnectionParameters(e.Interval, e.Interval, e.Latency, e.SupervisionTimeout) {
		m.log.Errorf("rejecting connection from %v: invalid parameters interval=%04X latency=%04X timeout=%04X",
			e.Peer, e.Interval, e.Latency, e.SupervisionTimeout)
		return
	}

	// a listed peer that connected to us no longer needs initiating
	key := e.Peer.LEKey()
	m.clearDirect(e.Peer)
	if _, ok := m.acceptList[key]; ok {
		m.removeAndRecycle(e.Peer)
	}

	c := m.establish(e, PeripheralData{LocalAddr: e.LocalRPA})
	if m.caps.SupportsExtendedAdvertising() {
		// the advertising set that produced the link terminates right
		// after; hold the success report until then
		m.pendingPeripheral[c.Handle] = c
		return
	}
	m.notifySuccess(c)
}

// OnAdvertisingSetTerminated releases a peripheral link held for the
// terminating advertising set.
func (m *Machine) OnAdvertisingSetTerminated(status uint8, advHandle uint8, connHandle uint16) {
	_ = m.h.Post(func() {
		c, ok := m.pendingPeripheral[connHandle]
		if !ok {
			if status == 0 {
				m.log.Debugf("advertising set %d terminated for unknown handle %04X", advHandle, connHandle)
			}
			return
		}
		delete(m.pendingPeripheral, connHandle)
		if pd, ok := c.Data.(PeripheralData); ok {
			pd.AdvertisingHandle = advHandle
			c.Data = pd
		}
		m.notifySuccess(c)
	})
}

// OnDisconnectionComplete tears down the link record, notifying the client
// and the accept-list observer, and re-queues background peers.
func (m *Machine) OnDisconnectionComplete(handle uint16, reason acl.ErrCommand) {
	_ = m.h.Post(func() {
		c, ok := m.links[handle]
		if !ok {
			if _, pending := m.pendingPeripheral[handle]; pending {
				delete(m.pendingPeripheral, handle)
				return
			}
			m.log.Debugf("disconnection complete for unknown handle %04X, dropped", handle)
			return
		}

		m.sched.Unregister(handle)

		if c.mgmt != nil {
			mgmt := c.mgmt
			m.postTo(c.mgmtH, func() { mgmt.OnDisconnection(reason) })
		}
		if m.observer != nil {
			obs := m.observer
			addr := c.Addr
			m.postTo(m.obsH, func() { obs.OnLEDisconnection(addr) })
		}

		m.mu.Lock()
		delete(m.links, handle)
		delete(m.byAddr, c.Addr.LEKey())
		m.mu.Unlock()

		key := c.Addr.LEKey()
		if addr, ok := m.background[key]; ok {
			// background peers reconnect automatically
			m.addToAcceptList(addr)
		}
		m.maybeUnregister()
	})
}

// privacy.Client: the manager pauses all initiation around an address
// rotation.
func (m *Machine) OnPause() {
	_ = m.h.Post(func() {
		m.paused = true
		switch m.state {
		case Disarmed:
			m.priv.AckPause(m)
		case Armed:
			m.pausePending = true
			m.disarm()
		case Arming:
			m.pausePending = true
			m.disarmPending = true
		case Disarming:
			m.pausePending = true
		}
	})
}

func (m *Machine) OnResume() {
	_ = m.h.Post(func() {
		m.paused = false
		m.maybeArm()
		m.priv.AckResume(m)
	})
}

func (m *Machine) arm() {
	if m.state != Disarmed {
		m.inv.Violation("arm from %v", m.state)
		return
	}
	if m.paused || len(m.acceptList) == 0 {
		return
	}
	si, sw := m.scanParams()
	own := m.priv.OwnAddressType()
	var c hci.Command
	if m.caps.SupportsExtendedCreateConnection() {
		c = cmd.LEExtendedCreateConnection{
			InitiatorFilterPolicy: 1,
			OwnAddressType:        own,
			InitiatingPHYs:        0x01, // 1M
			PHYs: []cmd.LEExtendedCreateConnectionPHY{{
				ScanInterval:       si,
				ScanWindow:         sw,
				ConnIntervalMin:    defaultConnIntervalMin,
				ConnIntervalMax:    defaultConnIntervalMax,
				ConnLatency:        defaultConnLatency,
				SupervisionTimeout: defaultSupervisionTimeout,
			}},
		}
	} else {
		c = cmd.LECreateConnection{
			LEScanInterval:        si,
			LEScanWindow:          sw,
			InitiatorFilterPolicy: 1,
			OwnAddressType:        own,
			ConnIntervalMin:       defaultConnIntervalMin,
			ConnIntervalMax:       defaultConnIntervalMax,
			ConnLatency:           defaultConnLatency,
			SupervisionTimeout:    defaultSupervisionTimeout,
		}
	}
	m.state = Arming
	m.bus.EnqueueCommand(c, func(r hci.CommandResult) {
		_ = m.h.Post(func() { m.onArmStatus(r) })
	})
}

func (m *Machine) onArmStatus(r hci.CommandResult) {
	if m.state != Arming {
		m.log.Warnf("create connection status in %v", m.state)
		return
	}
	if r.Ok() {
		m.state = Armed
	} else {
		m.log.Errorf("create connection failed: %v", acl.ErrCommand(r.Status))
		m.state = Disarmed
	}
	if m.disarmPending {
		m.disarmPending = false
		if m.state == Armed {
			m.disarm()
			return
		}
		m.afterDisarm()
	}
}

func (m *Machine) disarm() {
	switch m.state {
	case Armed:
		m.state = Disarming
		m.bus.EnqueueCommand(cmd.LECreateConnectionCancel{}, func(r hci.CommandResult) {
			if r.Ok() {
				// resolution arrives as a connection complete with
				// UNKNOWN CONNECTION status
				return
			}
			_ = m.h.Post(func() {
				m.log.Errorf("create connection cancel failed: %v", acl.ErrCommand(r.Status))
			})
		})
	case Arming:
		m.disarmPending = true
	case Disarming:
		// cancel already in flight
	default:
		m.inv.Violation("disarm from %v", m.state)
	}
}

// removeAndRecycle drops an accept-list entry, sequencing the cancel before
// the remove when the controller is initiating.
func (m *Machine) removeAndRecycle(addr acl.Addr) {
	if m.state == Armed || m.state == Arming {
		m.disarm()
	}
	m.removeFromAcceptList(addr)
	m.maybeArm()
}

// rearmCycle makes the controller pick up accept-list changes: disarm when
// initiating, arm when idle.
func (m *Machine) rearmCycle() {
	switch m.state {
	case Armed, Arming:
		m.rearmAfterDisarm = true
		m.disarm()
	case Disarmed:
		m.arm()
	case Disarming:
		m.rearmAfterDisarm = true
	}
}

// afterDisarm runs once the machine settles in DISARMED.
func (m *Machine) afterDisarm() {
	if m.pausePending {
		m.pausePending = false
		m.priv.AckPause(m)
		return
	}
	if m.rearmAfterDisarm {
		m.rearmAfterDisarm = false
	}
	m.maybeArm()
}

func (m *Machine) maybeArm() {
	if m.state == Disarmed && !m.paused && len(m.acceptList) > 0 {
		m.arm()
	}
}

func (m *Machine) scanParams() (uint16, uint16) {
	if m.suspended {
		return scanIntervalSuspend, scanWindowSuspend
	}
	if len(m.direct) > 0 {
		return scanIntervalFast, scanWindowFast
	}
	return scanIntervalSlow, scanWindowSlow
}

func (m *Machine) establish(e ConnectionEvent, data RoleData) *Connection {
	c := &Connection{
		m:                  m,
		Handle:             e.Handle,
		Addr:               e.Peer,
		Role:               e.Role,
		Data:               data,
		Interval:           e.Interval,
		Latency:            e.Latency,
		SupervisionTimeout: e.SupervisionTimeout,
		Queue:              rrsched.NewQueue(),
		Reasm:              reassemble.New(e.Handle, m.log),
	}
	m.mu.Lock()
	m.links[e.Handle] = c
	m.byAddr[e.Peer.LEKey()] = e.Handle
	m.mu.Unlock()
	m.sched.Register(acl.TransportLE, e.Handle, c.Queue)
	return c
}

func (m *Machine) armDirectTimeout(addr acl.Addr) {
	key := addr.LEKey()
	if da, ok := m.direct[key]; ok {
		da.alarm.Schedule(m.directTimeout, func() { m.onDirectTimeout(addr) })
		return
	}
	da := &directAttempt{addr: addr, alarm: handler.NewAlarm(m.h)}
	m.direct[key] = da
	da.alarm.Schedule(m.directTimeout, func() { m.onDirectTimeout(addr) })
}

func (m *Machine) onDirectTimeout(addr acl.Addr) {
	key := addr.LEKey()
	da, ok := m.direct[key]
	if !ok {
		return
	}
	da.alarm.Cancel()
	delete(m.direct, key)

	if _, bg := m.background[key]; bg {
		// the peer stays listed; fall back to background initiation once
		// the cancel resolves
		if m.state == Disarmed {
			m.maybeArm()
		} else {
			m.timedOut = &addr
			m.disarm()
		}
	} else {
		m.removeAndRecycle(addr)
	}
	m.notifyFail(addr, acl.ErrAcceptTimeout)
	m.maybeUnregister()
}

func (m *Machine) clearDirect(addr acl.Addr) {
	if da, ok := m.direct[addr.LEKey()]; ok {
		da.alarm.Cancel()
		delete(m.direct, addr.LEKey())
	}
}

// failDirect resolves a pending direct attempt locally, without a
// controller event.
func (m *Machine) failDirect(addr acl.Addr, reason acl.ErrCommand) {
	key := addr.LEKey()
	if da, ok := m.direct[key]; ok {
		da.alarm.Cancel()
		delete(m.direct, key)
		m.notifyFail(addr, reason)
	}
	delete(m.background, key)
	m.maybeUnregister()
}

func (m *Machine) addToAcceptList(addr acl.Addr) {
	key := addr.LEKey()
	if _, ok := m.acceptList[key]; ok {
		m.maybeArm()
		return
	}
	if _, ok := m.addInFlight[key]; ok {
		return
	}
	m.addInFlight[key] = struct{}{}
	c := cmd.LEAddDeviceToFilterAcceptList{AddressType: leAddrType(addr)}
	copy(c.Address[:], sliceops.SwapBuf(addr.Bytes()))
	m.bus.EnqueueCommand(c, func(r hci.CommandResult) {
		_ = m.h.Post(func() {
			delete(m.addInFlight, key)
			if !r.Ok() {
				m.log.Errorf("accept list add for %v failed: %v", addr, acl.ErrCommand(r.Status))
				return
			}
			m.acceptList[key] = addr
			m.rearmCycle()
		})
	})
}

func (m *Machine) removeFromAcceptList(addr acl.Addr) {
	delete(m.acceptList, addr.LEKey())
	c := cmd.LERemoveDeviceFromFilterAcceptList{AddressType: leAddrType(addr)}
	copy(c.Address[:], sliceops.SwapBuf(addr.Bytes()))
	m.bus.EnqueueCommand(c, m.logFailure("LERemoveDeviceFromFilterAcceptList"))
}

func (m *Machine) ensureRegistered() {
	if m.registered {
		return
	}
	m.registered = true
	m.priv.RegisterClient(m)
}

// maybeUnregister drops the privacy registration once nothing remains that
// the rotation pause would need to quiesce.
func (m *Machine) maybeUnregister() {
	if !m.registered {
		return
	}
	if len(m.links) > 0 || len(m.pendingPeripheral) > 0 {
		return
	}
	if len(m.direct) > 0 || len(m.background) > 0 || len(m.addInFlight) > 0 {
		return
	}
	if m.state != Disarmed {
		return
	}
	m.registered = false
	go m.priv.UnregisterClientSync(m)
}

// Owns reports whether the handle belongs to an LE link. Safe from any
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

// Snapshot is a diagnostics view of the initiation state.
type Snapshot struct {
	Connectability string   `json:"connectability"`
	AcceptList     []string `json:"accept_list"`
	PendingDirect  int      `json:"pending_direct"`
}

// Snapshot reads the initiation state. Blocks briefly for a handler round
// trip.
func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{AcceptList: []string{}}
	_ = m.h.Call(func() {
		s.Connectability = m.state.String()
		for _, a := range m.acceptList {
			s.AcceptList = append(s.AcceptList, a.String())
		}
		s.PendingDirect = len(m.direct)
	})
	sort.Strings(s.AcceptList)
	return s
}

// Handles snapshots the open LE handles.
func (m *Machine) Handles() []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint16, 0, len(m.links))
	for h := range m.links {
		out = append(out, h)
	}
	return out
}

func (m *Machine) notifySuccess(c *Connection) {
	if m.cb == nil {
		m.log.Warnf("connection to %v with no client registered", c.Addr)
		return
	}
	cb := m.cb
	m.postTo(m.cbHandler, func() { cb.OnLEConnectSuccess(c) })
}

func (m *Machine) notifyFail(addr acl.Addr, reason acl.ErrCommand) {
	if m.cb == nil {
		m.log.Warnf("connect to %v failed (%v) with no client registered", addr, reason)
		return
	}
	cb := m.cb
	m.postTo(m.cbHandler, func() { cb.OnLEConnectFail(addr, reason) })
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

func leAddrType(a acl.Addr) uint8 {
	switch a.Type {
	case acl.AddrTypePublic, acl.AddrTypePublicIdentity:
		return 0x00
	default:
		return 0x01
	}
}
