package privacy

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bthost/acl"
	"github.com/bthost/acl/hci"
	"github.com/bthost/acl/hci/hcitest"
	"github.com/bthost/acl/store"
)

func newManager(t *testing.T, caps *hcitest.Capabilities) (*Manager, *hcitest.Bus) {
	t.Helper()
	bus := hcitest.NewBus()
	bus.AutoResult = func(hci.Command) hci.CommandResult {
		return hci.CommandResult{Status: 0x00, Return: []byte{0x00}}
	}
	if caps == nil {
		caps = hcitest.DefaultCapabilities()
	}
	keys := store.New(filepath.Join(t.TempDir(), "keys.json"))
	m := New(bus, caps, keys, nil, nil)
	t.Cleanup(m.Stop)
	return m, bus
}

// flush drains the manager handler enough times to settle posted chains.
func flush(t *testing.T, m *Manager) {
	t.Helper()
	for i := 0; i < 6; i++ {
		require.NoError(t, m.h.Call(func() {}))
	}
}

type fakeClient struct {
	m       *Manager
	auto    bool
	pauses  int
	resumes int
}

func (c *fakeClient) OnPause() {
	c.pauses++
	if c.auto {
		c.m.AckPause(c)
	}
}

func (c *fakeClient) OnResume() {
	c.resumes++
	if c.auto {
		c.m.AckResume(c)
	}
}

func TestResolvablePolicyRotatesImmediately(t *testing.T) {
	m, bus := newManager(t, nil)
	irk := sampleIRK(t)

	m.SetPrivacyPolicy(UseResolvable, acl.Addr{}, irk, time.Hour, time.Hour)
	flush(t, m)

	addr := m.CurrentAddress()
	require.Equal(t, byte(0x40), addr.MAC[0]&0xc0)
	require.True(t, resolvesWith(irk, addr))
	require.Equal(t, uint8(0x01), m.OwnAddressType())

	require.Equal(t, 1, bus.CountOp(0x202D)) // resolution enable
	require.Equal(t, 1, bus.CountOp(0x2005)) // set random address
}

func TestRotationPausesBeforeAddressChange(t *testing.T) {
	m, bus := newManager(t, nil)
	c := &fakeClient{m: m}
	m.RegisterClient(c)
	flush(t, m)

	m.SetPrivacyPolicy(UseResolvable, acl.Addr{}, sampleIRK(t), time.Hour, time.Hour)
	flush(t, m)

	// client has not acked: no address command may go out
	require.Equal(t, 1, c.pauses)
	require.Equal(t, 0, c.resumes)
	require.Equal(t, 0, bus.CountOp(0x2005))
	require.Equal(t, acl.Addr{}, m.CurrentAddress())

	m.AckPause(c)
	flush(t, m)

	require.Equal(t, 1, c.resumes)
	require.Equal(t, 1, bus.CountOp(0x2005))
	require.NotEqual(t, acl.Addr{}, m.CurrentAddress())

	m.AckResume(c)
	flush(t, m)
}

func TestAutoAckClientFullCycle(t *testing.T) {
	m, _ := newManager(t, nil)
	c := &fakeClient{m: m, auto: true}
	m.RegisterClient(c)
	flush(t, m)

	m.SetPrivacyPolicy(UseResolvable, acl.Addr{}, sampleIRK(t), time.Hour, time.Hour)
	flush(t, m)

	require.Equal(t, 1, c.pauses)
	require.Equal(t, 1, c.resumes)
	require.NotEqual(t, acl.Addr{}, m.CurrentAddress())
}

func TestRegisterDuringAddressChangeDeferred(t *testing.T) {
	bus := hcitest.NewBus()
	keys := store.New(filepath.Join(t.TempDir(), "keys.json"))
	m := New(bus, hcitest.DefaultCapabilities(), keys, nil, nil)
	t.Cleanup(m.Stop)

	// no clients registered: the first rotation goes straight to the
	// address change and waits on the controller
	m.SetPrivacyPolicy(UseResolvable, acl.Addr{}, sampleIRK(t), 5*time.Millisecond, 6*time.Millisecond)
	flush(t, m)
	require.True(t, bus.PendingOp(0x2005))

	c := &fakeClient{m: m, auto: true}
	m.RegisterClient(c)
	flush(t, m)

	require.True(t, bus.CompleteOp(0x2005, hci.CommandResult{Status: 0x00, Return: []byte{0x00}}))
	flush(t, m)

	// the late registration sat out the in-flight cycle entirely
	pauses := func() int {
		var n int
		require.NoError(t, m.h.Call(func() { n = c.pauses }))
		return n
	}
	resumes := func() int {
		var n int
		require.NoError(t, m.h.Call(func() { n = c.resumes }))
		return n
	}
	require.Equal(t, 0, pauses())
	require.Equal(t, 0, resumes())

	// but participates in the next one
	require.Eventually(t, func() bool { return pauses() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStaticPolicy(t *testing.T) {
	m, bus := newManager(t, nil)
	fixed := acl.MustAddr("c0:11:22:33:44:55", acl.AddrTypeRandom)

	m.SetPrivacyPolicy(UseStatic, fixed, nil, 0, 0)
	flush(t, m)

	require.Equal(t, fixed, m.CurrentAddress())
	require.Equal(t, 1, bus.CountOp(0x2005))
	require.Equal(t, uint8(0x01), m.OwnAddressType())
}

func TestPublicPolicy(t *testing.T) {
	m, bus := newManager(t, nil)
	fixed := acl.MustAddr("00:11:22:33:44:55", acl.AddrTypePublic)

	m.SetPrivacyPolicy(UsePublic, fixed, nil, 0, 0)
	flush(t, m)

	require.Equal(t, fixed, m.CurrentAddress())
	require.Equal(t, 0, bus.CountOp(0x2005))
	require.Equal(t, uint8(0x00), m.OwnAddressType())
}

func TestResolvableDegradesWithoutControllerPrivacy(t *testing.T) {
	caps := hcitest.DefaultCapabilities()
	caps.LEPrivacy = false
	m, bus := newManager(t, caps)

	m.SetPrivacyPolicy(UseResolvable, acl.Addr{}, nil, time.Hour, time.Hour)
	flush(t, m)

	addr := m.CurrentAddress()
	require.Equal(t, byte(0x00), addr.MAC[0]&0xc0) // non-resolvable
	require.Equal(t, 0, bus.CountOp(0x202D))       // no resolution enable
}

type trapPolicy struct{ violations int }

func (p *trapPolicy) Violation(string, ...interface{}) { p.violations++ }

func TestPolicyIsSetOnce(t *testing.T) {
	bus := hcitest.NewBus()
	bus.AutoResult = func(hci.Command) hci.CommandResult {
		return hci.CommandResult{Status: 0x00}
	}
	trap := &trapPolicy{}
	m := New(bus, hcitest.DefaultCapabilities(), store.New(filepath.Join(t.TempDir(), "k.json")), nil, trap)
	defer m.Stop()

	fixed := acl.MustAddr("00:11:22:33:44:55", acl.AddrTypePublic)
	m.SetPrivacyPolicy(UsePublic, fixed, nil, 0, 0)
	m.SetPrivacyPolicy(UseStatic, fixed, nil, 0, 0)
	flush(t, m)

	require.Equal(t, 1, trap.violations)
	require.Equal(t, uint8(0x00), m.OwnAddressType())
}

func TestUnregisterWhileIdleReturns(t *testing.T) {
	m, _ := newManager(t, nil)
	c := &fakeClient{m: m, auto: true}
	m.RegisterClient(c)
	flush(t, m)

	done := make(chan struct{})
	go func() {
		m.UnregisterClientSync(c)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unregister blocked with idle rotation")
	}
}

func TestIRKPersistsAcrossManagers(t *testing.T) {
	f := filepath.Join(t.TempDir(), "keys.json")
	bus := hcitest.NewBus()
	bus.AutoResult = func(hci.Command) hci.CommandResult {
		return hci.CommandResult{Status: 0x00}
	}

	m1 := New(bus, hcitest.DefaultCapabilities(), store.New(f), nil, nil)
	m1.SetPrivacyPolicy(UseResolvable, acl.Addr{}, nil, time.Hour, time.Hour)
	flush(t, m1)
	irk1 := m1.IRK()
	require.Len(t, irk1, 16)
	m1.Stop()

	m2 := New(bus, hcitest.DefaultCapabilities(), store.New(f), nil, nil)
	defer m2.Stop()
	m2.SetPrivacyPolicy(UseResolvable, acl.Addr{}, nil, time.Hour, time.Hour)
	flush(t, m2)
	require.Equal(t, irk1, m2.IRK())
}
