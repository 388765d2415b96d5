// Package privacy owns the device's LE initiator address strategy: the
// configured policy, the current random address, the rotation timer, and the
// pause/resume protocol that keeps address changes off the air while
// connection attempts are in flight.
package privacy

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/bthost/acl"
	"github.com/bthost/acl/handler"
	"github.com/bthost/acl/hci"
	"github.com/bthost/acl/hci/cmd"
	"github.com/bthost/acl/invariant"
	"github.com/bthost/acl/sliceops"
	"github.com/bthost/acl/store"
)

// Policy selects how the initiator address is produced.
type Policy uint8

const (
	PolicyNotSet Policy = iota
	UsePublic
	UseStatic
	UseNonResolvable
	UseResolvable
)

func (p Policy) String() string {
	switch p {
	case UsePublic:
		return "public"
	case UseStatic:
		return "static"
	case UseNonResolvable:
		return "non-resolvable"
	case UseResolvable:
		return "resolvable"
	}
	return "not-set"
}

// Client is a component issuing address-sensitive LE operations. OnPause and
// OnResume are invoked from the manager's handler; implementations post to
// their own handler and acknowledge via AckPause/AckResume once they reach a
// safe point.
type Client interface {
	OnPause()
	OnResume()
}

const (
	defaultMinRotation = 7 * time.Minute
	defaultMaxRotation = 15 * time.Minute
	unregisterTimeout  = 500 * time.Millisecond
	irkStoreKey        = "local-irk"
	identityRootKey    = "identity-root"
)

type rotState uint8

const (
	rotIdle rotState = iota
	rotPausing
	rotSetting
	rotResuming
)

// Manager implements the address privacy subsystem. All state is owned by
// its handler.
type Manager struct {
	h    *handler.Handler
	bus  hci.Bus
	caps hci.Capabilities
	keys *store.Store
	log  acl.Logger
	inv  invariant.Policy

	policy    Policy
	fixedAddr acl.Addr
	irk       []byte
	minDur    time.Duration
	maxDur    time.Duration
	alarm     *handler.Alarm

	clients []Client
	// deferred holds clients that registered after the pause barrier of an
	// in-flight rotation; they join when the cycle settles.
	deferred      []Client
	pausePending  map[Client]struct{}
	resumePending map[Client]struct{}
	state         rotState
	unregWaiters  []unregWaiter

	// snapshot lock: CurrentAddress and OwnAddressType read cross-handler.
	mu        sync.Mutex
	current   acl.Addr
	curPolicy Policy
}

type unregWaiter struct {
	c    Client
	done chan struct{}
}

func New(bus hci.Bus, caps hci.Capabilities, keys *store.Store, log acl.Logger, inv invariant.Policy) *Manager {
	if log == nil {
		log = acl.GetLogger()
	}
	if inv == nil {
		inv = invariant.LogPolicy{Log: log}
	}
	m := &Manager{
		h:             handler.New("privacy"),
		bus:           bus,
		caps:          caps,
		keys:          keys,
		log:           log.ChildLogger(map[string]interface{}{"comp": "privacy"}),
		inv:           inv,
		minDur:        defaultMinRotation,
		maxDur:        defaultMaxRotation,
		pausePending:  make(map[Client]struct{}),
		resumePending: make(map[Client]struct{}),
	}
	m.alarm = handler.NewAlarm(m.h)
	return m
}

// Stop halts rotation and the handler.
func (m *Manager) Stop() {
	m.alarm.Cancel()
	m.h.Stop()
}

// SetPrivacyPolicy configures the initiator address use-case. It may be set
// exactly once; a second call is a programming error. A zero duration picks
// the default rotation range. When the controller lacks LE privacy support,
// a resolvable policy silently degrades to non-resolvable.
func (m *Manager) SetPrivacyPolicy(p Policy, fixed acl.Addr, irk []byte, minDur, maxDur time.Duration) {
	_ = m.h.Post(func() {
		if m.policy != PolicyNotSet {
			m.inv.Violation("privacy policy already set to %v", m.policy)
			return
		}
		if p == UseResolvable && !m.caps.SupportsLEPrivacy() {
			m.log.Info("controller has no LE privacy support, using non-resolvable addresses")
			p = UseNonResolvable
		}
		m.policy = p
		m.mu.Lock()
		m.curPolicy = p
		m.mu.Unlock()
		if minDur > 0 {
			m.minDur = minDur
		}
		if maxDur >= m.minDur {
			m.maxDur = maxDur
		}
		if m.maxDur < m.minDur {
			m.maxDur = m.minDur
		}

		switch p {
		case UsePublic, UseStatic:
			m.fixedAddr = fixed
			m.setCurrent(fixed)
			if p == UseStatic {
				m.sendSetRandomAddress(fixed)
			}
		case UseResolvable:
			m.irk = irk
			if m.irk == nil {
				m.irk = m.loadOrCreateIRK()
			}
			m.enableResolution()
			m.rotate()
		case UseNonResolvable:
			m.rotate()
		}
	})
}

// IRK returns the local identity resolving key, nil unless resolvable
// policy is active.
func (m *Manager) IRK() []byte {
	var out []byte
	_ = m.h.Call(func() {
		out = append([]byte(nil), m.irk...)
	})
	return out
}

// OwnAddressType maps the active policy to the HCI own-address-type used
// when initiating. Safe from any goroutine.
func (m *Manager) OwnAddressType() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.curPolicy == UsePublic || m.curPolicy == PolicyNotSet {
		return 0x00
	}
	return 0x01
}

// CurrentAddress is a lock-guarded snapshot safe from any goroutine.
func (m *Manager) CurrentAddress() acl.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// RegisterClient adds a pause/resume participant. A rotation already mid-
// pause immediately pauses the new client as well; one past the pause
// barrier defers the registration until the cycle finishes, so the client
// cannot initiate while the address changes under it.
func (m *Manager) RegisterClient(c Client) {
	_ = m.h.Post(func() {
		for _, existing := range m.clients {
			if existing == c {
				m.inv.Violation("privacy client registered twice")
				return
			}
		}
		for _, existing := range m.deferred {
			if existing == c {
				m.inv.Violation("privacy client registered twice")
				return
			}
		}
		switch m.state {
		case rotIdle:
			m.clients = append(m.clients, c)
		case rotPausing:
			m.clients = append(m.clients, c)
			m.pausePending[c] = struct{}{}
			c.OnPause()
		default:
			m.deferred = append(m.deferred, c)
		}
	})
}

// UnregisterClientSync removes a client, waiting out any in-flight
// pause/resume cycle so the client set stays consistent. Bounded by a short
// timeout; after it the client is removed regardless.
func (m *Manager) UnregisterClientSync(c Client) {
	done := make(chan struct{})
	err := m.h.Post(func() {
		if m.state == rotIdle {
			m.removeClient(c)
			close(done)
			return
		}
		m.unregWaiters = append(m.unregWaiters, unregWaiter{c: c, done: done})
	})
	if err != nil {
		return
	}
	select {
	case <-done:
	case <-time.After(unregisterTimeout):
		m.log.Warn("unregister timed out waiting for rotation cycle, forcing")
		_ = m.h.Post(func() { m.removeClient(c) })
	}
}

// AckPause acknowledges a pause request on behalf of a client.
func (m *Manager) AckPause(c Client) {
	_ = m.h.Post(func() {
		delete(m.pausePending, c)
		if m.state == rotPausing && len(m.pausePending) == 0 {
			m.setAddress()
		}
	})
}

// AckResume acknowledges a resume.
func (m *Manager) AckResume(c Client) {
	_ = m.h.Post(func() {
		delete(m.resumePending, c)
		if m.state == rotResuming && len(m.resumePending) == 0 {
			m.finishRotation()
		}
	})
}

// AddDeviceToResolvingList installs a peer's identity and IRK alongside our
// local IRK so the controller resolves its private addresses.
func (m *Manager) AddDeviceToResolvingList(peer acl.Addr, peerIRK [16]byte) {
	_ = m.h.Post(func() {
		if !m.caps.SupportsLEPrivacy() {
			m.log.Debug("no controller resolving list, peer IRK ignored")
			return
		}
		c := cmd.LEAddDeviceToResolvingList{
			PeerIdentityAddressType: uint8(peer.Type),
			PeerIRK:                 peerIRK,
		}
		copy(c.PeerIdentityAddress[:], sliceops.SwapBuf(peer.Bytes()))
		copy(c.LocalIRK[:], m.irk)
		m.bus.EnqueueCommand(c, m.logFailure("LEAddDeviceToResolvingList"))
	})
}

// RemoveDeviceFromResolvingList ...
func (m *Manager) RemoveDeviceFromResolvingList(peer acl.Addr) {
	_ = m.h.Post(func() {
		if !m.caps.SupportsLEPrivacy() {
			return
		}
		c := cmd.LERemoveDeviceFromResolvingList{PeerIdentityAddressType: uint8(peer.Type)}
		copy(c.PeerIdentityAddress[:], sliceops.SwapBuf(peer.Bytes()))
		m.bus.EnqueueCommand(c, m.logFailure("LERemoveDeviceFromResolvingList"))
	})
}

func (m *Manager) loadOrCreateIRK() []byte {
	if m.keys != nil {
		if irk, ok, err := m.keys.LoadKey(irkStoreKey); err == nil && ok {
			return irk
		}
		if ir, ok, err := m.keys.LoadKey(identityRootKey); err == nil && ok {
			if irk, err := deriveIRK(ir); err == nil {
				_ = m.keys.StoreKey(irkStoreKey, irk, false)
				return irk
			}
		}
	}
	irk := make([]byte, 16)
	if _, err := rand.Read(irk); err != nil {
		m.log.Errorf("irk generation failed: %v", err)
	}
	if m.keys != nil {
		_ = m.keys.StoreKey(irkStoreKey, irk, false)
	}
	return irk
}

func (m *Manager) enableResolution() {
	m.bus.EnqueueCommand(cmd.LESetAddressResolutionEnable{AddressResolutionEnable: 1},
		m.logFailure("LESetAddressResolutionEnable"))
	m.bus.EnqueueCommand(cmd.LESetResolvablePrivateAddressTimeout{RPATimeout: uint16(m.minDur / time.Second)},
		m.logFailure("LESetResolvablePrivateAddressTimeout"))
}

// rotate drives one pause / set-address / resume cycle.
func (m *Manager) rotate() {
	if m.state != rotIdle {
		m.log.Debug("rotation already in progress")
		return
	}
	m.state = rotPausing
	if len(m.clients) == 0 {
		m.setAddress()
		return
	}
	for _, c := range m.clients {
		m.pausePending[c] = struct{}{}
	}
	for _, c := range m.clients {
		c.OnPause()
	}
}

func (m *Manager) setAddress() {
	m.state = rotSetting

	var addr acl.Addr
	var err error
	switch m.policy {
	case UseResolvable:
		addr, err = generateResolvable(m.irk)
	case UseNonResolvable:
		addr, err = generateNonResolvable()
	default:
		// fixed-address policies never rotate
		m.resumeAll()
		return
	}
	if err != nil {
		m.log.Errorf("address generation failed: %v", err)
		m.resumeAll()
		return
	}

	// resume only once the controller has confirmed the new address
	c := cmd.LESetRandomAddress{}
	copy(c.RandomAddress[:], sliceops.SwapBuf(addr.Bytes()))
	m.bus.EnqueueCommand(c, func(r hci.CommandResult) {
		_ = m.h.Post(func() {
			if r.Ok() {
				m.setCurrent(addr)
			} else {
				m.log.Errorf("LESetRandomAddress failed: %v", acl.ErrCommand(r.Status))
			}
			m.resumeAll()
		})
	})
}

func (m *Manager) sendSetRandomAddress(addr acl.Addr) {
	c := cmd.LESetRandomAddress{}
	copy(c.RandomAddress[:], sliceops.SwapBuf(addr.Bytes()))
	m.bus.EnqueueCommand(c, m.logFailure("LESetRandomAddress"))
}

func (m *Manager) resumeAll() {
	m.state = rotResuming
	if len(m.clients) == 0 {
		m.finishRotation()
		return
	}
	for _, c := range m.clients {
		m.resumePending[c] = struct{}{}
	}
	for _, c := range m.clients {
		c.OnResume()
	}
}

func (m *Manager) finishRotation() {
	m.state = rotIdle
	m.clients = append(m.clients, m.deferred...)
	m.deferred = nil
	for _, w := range m.unregWaiters {
		m.removeClient(w.c)
		close(w.done)
	}
	m.unregWaiters = nil

	if m.policy == UseResolvable || m.policy == UseNonResolvable {
		m.alarm.Schedule(m.nextRotation(), m.rotate)
	}
}

func (m *Manager) nextRotation() time.Duration {
	span := m.maxDur - m.minDur
	if span <= 0 {
		return m.minDur
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)))
	if err != nil {
		return m.minDur
	}
	return m.minDur + time.Duration(n.Int64())
}

func (m *Manager) removeClient(c Client) {
	for i, existing := range m.clients {
		if existing == c {
			m.clients = append(m.clients[:i], m.clients[i+1:]...)
			break
		}
	}
	for i, existing := range m.deferred {
		if existing == c {
			m.deferred = append(m.deferred[:i], m.deferred[i+1:]...)
			break
		}
	}
	delete(m.pausePending, c)
	delete(m.resumePending, c)
	if m.state == rotPausing && len(m.pausePending) == 0 {
		m.setAddress()
	} else if m.state == rotResuming && len(m.resumePending) == 0 {
		m.finishRotation()
	}
}

func (m *Manager) setCurrent(addr acl.Addr) {
	m.mu.Lock()
	m.current = addr
	m.mu.Unlock()
	m.log.Debugf("initiator address now %v (%v)", addr, m.policy)
}

func (m *Manager) logFailure(what string) func(hci.CommandResult) {
	return func(r hci.CommandResult) {
		if !r.Ok() {
			m.log.Errorf("%s failed: %v", what, acl.ErrCommand(r.Status))
		}
	}
}
