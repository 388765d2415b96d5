package acl

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddrType tags a device address the way the controller reports it.
// LE links are keyed by address+type because the same physical device
// may appear under multiple representations; Classic links ignore the type.
type AddrType uint8

const (
	AddrTypePublic         AddrType = 0x00
	AddrTypeRandom         AddrType = 0x01
	AddrTypePublicIdentity AddrType = 0x02
	AddrTypeRandomIdentity AddrType = 0x03
)

func (t AddrType) String() string {
	switch t {
	case AddrTypePublic:
		return "public"
	case AddrTypeRandom:
		return "random"
	case AddrTypePublicIdentity:
		return "public-identity"
	case AddrTypeRandomIdentity:
		return "random-identity"
	}
	return fmt.Sprintf("addrtype(%d)", uint8(t))
}

// Addr is a 48-bit device address plus its type tag.
// MAC is kept in display order (most significant octet first); commands
// swap to wire order when marshalling.
type Addr struct {
	MAC  [6]byte
	Type AddrType
}

// NewAddr parses a colon-separated MAC string.
func NewAddr(s string, t AddrType) (Addr, error) {
	hexStr := strings.Replace(strings.ToLower(s), ":", "", -1)
	b, err := hex.DecodeString(hexStr)
	if err != nil || len(b) != 6 {
		return Addr{}, fmt.Errorf("invalid address %q", s)
	}
	a := Addr{Type: t}
	copy(a.MAC[:], b)
	return a, nil
}

// MustAddr is NewAddr for fixed test/demo addresses.
func MustAddr(s string, t AddrType) Addr {
	a, err := NewAddr(s, t)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		a.MAC[0], a.MAC[1], a.MAC[2], a.MAC[3], a.MAC[4], a.MAC[5])
}

// Bytes returns the address octets in display order.
func (a Addr) Bytes() []byte {
	out := make([]byte, 6)
	copy(out, a.MAC[:])
	return out
}

// ClassicKey keys Classic link tables: bare address, type ignored.
func (a Addr) ClassicKey() string {
	return a.String()
}

// LEKey keys LE link tables and the filter accept list: address plus type.
func (a Addr) LEKey() string {
	return a.String() + "/" + a.Type.String()
}

// WithType returns the same address under a different type tag.
func (a Addr) WithType(t AddrType) Addr {
	a.Type = t
	return a
}
