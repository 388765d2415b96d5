package acl

// Transport distinguishes the two ACL link flavors sharing one controller.
type Transport uint8

const (
	TransportClassic Transport = iota
	TransportLE
)

func (t Transport) String() string {
	if t == TransportClassic {
		return "classic"
	}
	return "le"
}

// Role of the local device on an established link.
type Role uint8

const (
	RoleCentral    Role = 0x00
	RolePeripheral Role = 0x01
)

func (r Role) String() string {
	if r == RoleCentral {
		return "central"
	}
	return "peripheral"
}

// InvalidHandle is the reserved sentinel for an unassigned connection handle.
// Valid handles occupy 12 bits [Vol 2, Part E, 5.4.2].
const InvalidHandle uint16 = 0xFFFF

// PDU is a complete upper-layer (L2CAP basic frame) unit, header included.
type PDU []byte
