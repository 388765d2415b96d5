package aclmgr

import (
	"github.com/bthost/acl"
	"github.com/bthost/acl/hci/evt"
	"github.com/bthost/acl/le"
	"github.com/bthost/acl/sliceops"
)

// The legacy and enhanced LE connection complete events carry the same
// outcome; the enhanced form adds the resolvable addresses in play. Both
// normalize into one struct so the LE machine handles a single shape.

func normalizeLegacy(e evt.LEConnectionComplete) le.ConnectionEvent {
	return le.ConnectionEvent{
		Status:             acl.ErrCommand(e.Status()),
		Handle:             e.ConnectionHandle(),
		Role:               acl.Role(e.Role()),
		Peer:               wireAddr(e.PeerAddress(), acl.AddrType(e.PeerAddressType())),
		Interval:           e.ConnInterval(),
		Latency:            e.ConnLatency(),
		SupervisionTimeout: e.SupervisionTimeout(),
	}
}

func normalizeEnhanced(e evt.LEEnhancedConnectionComplete) le.ConnectionEvent {
	return le.ConnectionEvent{
		Status:             acl.ErrCommand(e.Status()),
		Handle:             e.ConnectionHandle(),
		Role:               acl.Role(e.Role()),
		Peer:               wireAddr(e.PeerAddress(), acl.AddrType(e.PeerAddressType())),
		LocalRPA:           wireAddr(e.LocalResolvablePrivateAddress(), acl.AddrTypeRandom),
		Interval:           e.ConnInterval(),
		Latency:            e.ConnLatency(),
		SupervisionTimeout: e.SupervisionTimeout(),
	}
}

func wireAddr(b [6]byte, t acl.AddrType) acl.Addr {
	a := acl.Addr{Type: t}
	copy(a.MAC[:], sliceops.SwapBuf(b[:]))
	return a
}
