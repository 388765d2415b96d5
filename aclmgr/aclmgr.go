// Package aclmgr composes the ACL core: the Classic and LE link state
// machines, the outbound round-robin scheduler, inbound reassembly routing,
// and the address privacy manager, all behind one façade bound to an HCI
// bus.
package aclmgr

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/bthost/acl"
	"github.com/bthost/acl/classic"
	"github.com/bthost/acl/handler"
	"github.com/bthost/acl/hci"
	"github.com/bthost/acl/hci/evt"
	"github.com/bthost/acl/invariant"
	"github.com/bthost/acl/le"
	"github.com/bthost/acl/privacy"
	"github.com/bthost/acl/rrsched"
	"github.com/bthost/acl/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Manager owns every ACL subsystem for one controller.
type Manager struct {
	bus  hci.Bus
	caps hci.Capabilities
	log  acl.Logger

	Sched   *rrsched.Scheduler
	Privacy *privacy.Manager
	Classic *classic.Machine
	LE      *le.Machine
}

// Option ...
type Option func(*config)

type config struct {
	log         acl.Logger
	inv         invariant.Policy
	keys        *store.Store
	classicOpts []classic.Option
}

// WithLogger overrides the package default logger.
func WithLogger(l acl.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithInvariantPolicy overrides how internal consistency violations are
// handled.
func WithInvariantPolicy(p invariant.Policy) Option {
	return func(c *config) { c.inv = p }
}

// WithKeyStore sets the persistent key store backing the privacy manager.
func WithKeyStore(s *store.Store) Option {
	return func(c *config) { c.keys = s }
}

// WithClassicOptions forwards options to the Classic machine.
func WithClassicOptions(opts ...classic.Option) Option {
	return func(c *config) { c.classicOpts = append(c.classicOpts, opts...) }
}

// New wires the subsystems to the bus and subscribes to the ACL event set.
func New(bus hci.Bus, caps hci.Capabilities, opts ...Option) *Manager {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.log == nil {
		cfg.log = acl.GetLogger()
	}
	if cfg.inv == nil {
		cfg.inv = invariant.LogPolicy{Log: cfg.log}
	}
	if cfg.keys == nil {
		cfg.keys = store.New("")
	}

	m := &Manager{
		bus:  bus,
		caps: caps,
		log:  cfg.log.ChildLogger(map[string]interface{}{"comp": "aclmgr"}),
	}
	m.Sched = rrsched.New(bus, caps, cfg.log)
	m.Privacy = privacy.New(bus, caps, cfg.keys, cfg.log, cfg.inv)
	m.Classic = classic.New(bus, m.Sched, cfg.log, cfg.inv, cfg.classicOpts...)
	m.LE = le.New(bus, caps, m.Sched, m.Privacy, cfg.log, cfg.inv)

	m.subscribe()
	return m
}

// Stop halts all subsystems. Open links are not disconnected.
func (m *Manager) Stop() {
	m.Sched.Stop()
	m.Classic.Stop()
	m.LE.Stop()
	m.Privacy.Stop()
}

func (m *Manager) subscribe() {
	m.bus.Subscribe(hci.ConnectionCompleteCode, func(b []byte) {
		m.Classic.OnConnectionComplete(evt.ConnectionComplete(b))
	})
	m.bus.Subscribe(hci.ConnectionRequestCode, func(b []byte) {
		m.Classic.OnConnectionRequest(evt.ConnectionRequest(b))
	})
	m.bus.Subscribe(hci.RoleChangeCode, func(b []byte) {
		m.Classic.OnRoleChange(evt.RoleChange(b))
	})
	m.bus.Subscribe(hci.DisconnectionCompleteCode, func(b []byte) {
		m.onDisconnectionComplete(evt.DisconnectionComplete(b))
	})
	m.bus.Subscribe(hci.NumberOfCompletedPacketsCode, func(b []byte) {
		m.onPacketsCompleted(evt.NumberOfCompletedPackets(b))
	})
	m.bus.SubscribeLE(hci.LEConnectionCompleteSubCode, func(b []byte) {
		m.LE.OnConnectionComplete(normalizeLegacy(evt.LEConnectionComplete(b)))
	})
	m.bus.SubscribeLE(hci.LEEnhancedConnectionCompleteSubCode, func(b []byte) {
		m.LE.OnConnectionComplete(normalizeEnhanced(evt.LEEnhancedConnectionComplete(b)))
	})
	m.bus.SubscribeLE(hci.LEAdvertisingSetTerminatedSubCode, func(b []byte) {
		e := evt.LEAdvertisingSetTerminated(b)
		m.LE.OnAdvertisingSetTerminated(e.Status(), e.AdvertisingHandle(), e.ConnectionHandle())
	})
	m.bus.SetACLHandler(m.onInbound)
}

// onDisconnectionComplete routes by handle ownership; both transports share
// the event code.
func (m *Manager) onDisconnectionComplete(e evt.DisconnectionComplete) {
	handle := e.ConnectionHandle()
	switch {
	case m.Classic.Owns(handle):
		m.Classic.OnDisconnectionComplete(e)
	default:
		// the LE machine also resolves pending peripheral links the
		// ownership check cannot see yet
		m.LE.OnDisconnectionComplete(handle, acl.ErrCommand(e.Reason()))
	}
}

func (m *Manager) onPacketsCompleted(e evt.NumberOfCompletedPackets) {
	n := int(e.NumberOfHandles())
	for i := 0; i < n; i++ {
		m.Sched.OnPacketsCompleted(e.ConnectionHandle(i), int(e.NumOfCompletedPackets(i)))
	}
}

func (m *Manager) onInbound(p hci.Packet) {
	if !p.Valid() {
		m.log.Warnf("malformed inbound ACL packet, dropped")
		return
	}
	handle := p.Handle()
	if r := m.Classic.Reassembler(handle); r != nil {
		r.Push(p)
		return
	}
	if r := m.LE.Reassembler(handle); r != nil {
		r.Push(p)
		return
	}
	m.log.Debugf("inbound ACL for unknown handle %04X, dropped", handle)
}

// Classic surface.

func (m *Manager) RegisterCallbacks(cb classic.Callbacks, h *handler.Handler) {
	m.Classic.RegisterCallbacks(cb, h)
}

func (m *Manager) CreateConnection(addr acl.Addr)               { m.Classic.CreateConnection(addr) }
func (m *Manager) CancelConnect(addr acl.Addr)                  { m.Classic.CancelConnect(addr) }
func (m *Manager) Disconnect(handle uint16, r acl.ErrCommand)   { m.Classic.Disconnect(handle, r) }
func (m *Manager) SetIncomingPolicy(p classic.IncomingPolicy)   { m.Classic.SetIncomingPolicy(p) }

// LE surface.

func (m *Manager) RegisterLECallbacks(cb le.Callbacks, h *handler.Handler) {
	m.LE.RegisterCallbacks(cb, h)
}

func (m *Manager) RegisterAcceptListObserver(o le.AcceptListObserver, h *handler.Handler) {
	m.LE.RegisterAcceptListObserver(o, h)
}

func (m *Manager) CreateLEConnection(addr acl.Addr, addToAcceptList, isDirect bool) {
	m.LE.CreateLEConnection(addr, addToAcceptList, isDirect)
}

func (m *Manager) CancelLEConnection(addr acl.Addr)             { m.LE.CancelLEConnection(addr) }
func (m *Manager) DisconnectLE(handle uint16, r acl.ErrCommand) { m.LE.Disconnect(handle, r) }

// Privacy surface.

func (m *Manager) SetPrivacyPolicy(p privacy.Policy, fixed acl.Addr, irk []byte) {
	m.Privacy.SetPrivacyPolicy(p, fixed, irk, 0, 0)
}

func (m *Manager) AddDeviceToResolvingList(peer acl.Addr, peerIRK [16]byte) {
	m.Privacy.AddDeviceToResolvingList(peer, peerIRK)
}

func (m *Manager) RemoveDeviceFromResolvingList(peer acl.Addr) {
	m.Privacy.RemoveDeviceFromResolvingList(peer)
}

// Snapshot is a point-in-time view of the link tables and the LE initiation
// state for dumps.
type Snapshot struct {
	ClassicHandles []uint16 `json:"classic_handles"`
	LEHandles      []uint16 `json:"le_handles"`
	LocalAddress   string   `json:"local_address"`
	Connectability string   `json:"connectability"`
	AcceptList     []string `json:"accept_list"`
	PendingDirect  int      `json:"pending_direct"`
}

// Dump serializes the current link tables and initiation state.
func (m *Manager) Dump() ([]byte, error) {
	ls := m.LE.Snapshot()
	s := Snapshot{
		ClassicHandles: m.Classic.Handles(),
		LEHandles:      m.LE.Handles(),
		LocalAddress:   m.Privacy.CurrentAddress().String(),
		Connectability: ls.Connectability,
		AcceptList:     ls.AcceptList,
		PendingDirect:  ls.PendingDirect,
	}
	return json.MarshalIndent(s, "", "  ")
}
