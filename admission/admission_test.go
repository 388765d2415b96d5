package admission

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bthost/acl"
)

var (
	addrA = acl.MustAddr("11:11:11:11:11:11", acl.AddrTypePublic)
	addrB = acl.MustAddr("22:22:22:22:22:22", acl.AddrTypePublic)
	addrC = acl.MustAddr("33:33:33:33:33:33", acl.AddrTypePublic)
)

type trapPolicy struct{ violations int }

func (p *trapPolicy) Violation(string, ...interface{}) { p.violations++ }

func TestHeadIssuedImmediately(t *testing.T) {
	s := New(nil, nil)

	var ready int
	s.EnqueueOutgoingConnection(addrA, func() { ready++ })
	require.Equal(t, 1, ready)
	require.True(t, s.Outstanding())
}

func TestFIFOOrdering(t *testing.T) {
	s := New(nil, nil)

	var order []string
	s.EnqueueOutgoingConnection(addrA, func() { order = append(order, "A") })
	s.EnqueueOutgoingConnection(addrB, func() { order = append(order, "B") })
	s.EnqueueOutgoingConnection(addrC, func() { order = append(order, "C") })
	require.Equal(t, []string{"A"}, order)
	require.Equal(t, 3, s.QueueLen())

	var local int
	s.ReportConnectionCompletion(addrA, true, func() { local++ }, nil, nil)
	require.Equal(t, 1, local)
	require.Equal(t, []string{"A", "B"}, order)

	s.ReportConnectionCompletion(addrB, false, func() { local++ }, nil, nil)
	require.Equal(t, 2, local)
	require.Equal(t, []string{"A", "B", "C"}, order)
	require.Equal(t, 1, s.QueueLen())
}

func TestCommandFailureAdvancesQueue(t *testing.T) {
	s := New(nil, nil)

	var bReady bool
	s.EnqueueOutgoingConnection(addrA, func() {})
	s.EnqueueOutgoingConnection(addrB, func() { bReady = true })

	addr, ok := s.ReportOutgoingConnectionFailure()
	require.True(t, ok)
	require.Equal(t, addrA, addr)
	require.True(t, bReady)
}

func TestIncomingCompletionMatches(t *testing.T) {
	s := New(nil, nil)
	s.RegisterPendingIncomingConnection(addrB)
	require.True(t, s.IsIncomingPending(addrB))

	var remote int
	s.ReportConnectionCompletion(addrB, true, nil, func() { remote++ }, nil)
	require.Equal(t, 1, remote)
	require.False(t, s.IsIncomingPending(addrB))
}

func TestIncomingDoesNotStealHeadSlot(t *testing.T) {
	s := New(nil, nil)
	s.EnqueueOutgoingConnection(addrA, func() {})
	s.RegisterPendingIncomingConnection(addrB)

	var remote int
	s.ReportConnectionCompletion(addrB, true, nil, func() { remote++ }, nil)
	require.Equal(t, 1, remote)
	// the outgoing attempt to A is still outstanding
	require.True(t, s.Outstanding())
	require.Equal(t, 1, s.QueueLen())
}

func TestUnmatchedSuccessViolates(t *testing.T) {
	trap := &trapPolicy{}
	s := New(nil, trap)

	var noMatch int
	s.ReportConnectionCompletion(addrC, true, nil, nil, func() { noMatch++ })
	require.Equal(t, 1, noMatch)
	require.Equal(t, 1, trap.violations)

	// unmatched failure is ordinary, no violation
	s.ReportConnectionCompletion(addrC, false, nil, nil, func() { noMatch++ })
	require.Equal(t, 2, noMatch)
	require.Equal(t, 1, trap.violations)
}

func TestCancelQueuedResolvesLocally(t *testing.T) {
	s := New(nil, nil)
	s.EnqueueOutgoingConnection(addrA, func() {})
	s.EnqueueOutgoingConnection(addrB, func() {})

	var issued, queued int
	s.CancelConnection(addrB, func() { issued++ }, func() { queued++ })
	require.Equal(t, 0, issued)
	require.Equal(t, 1, queued)
	require.Equal(t, 1, s.QueueLen())
}

func TestCancelIssuedNeedsController(t *testing.T) {
	s := New(nil, nil)
	s.EnqueueOutgoingConnection(addrA, func() {})

	var issued, queued int
	s.CancelConnection(addrA, func() { issued++ }, func() { queued++ })
	require.Equal(t, 1, issued)
	require.Equal(t, 0, queued)
	// the attempt stays head-of-queue until its completion event
	require.Equal(t, 1, s.QueueLen())
}
