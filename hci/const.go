package hci

// Event codes routed by the ACL core.
const (
	ConnectionCompleteCode       = 0x03
	ConnectionRequestCode        = 0x04
	DisconnectionCompleteCode    = 0x05
	RoleChangeCode               = 0x12
	NumberOfCompletedPacketsCode = 0x13
	LEMetaCode                   = 0x3E
)

// LE meta subevent codes.
const (
	LEConnectionCompleteSubCode         = 0x01
	LEEnhancedConnectionCompleteSubCode = 0x0A
	LEAdvertisingSetTerminatedSubCode   = 0x12
)

// Packet boundary flags of an HCI ACL data packet [Vol 2, Part E, 5.4.2].
const (
	PbfFirstNonFlushable = 0x00 // host-to-controller only, invalid inbound
	PbfContinuing        = 0x01
	PbfFirstFlushable    = 0x02
	PbfComplete          = 0x03 // not used for LE-U
)

// Packet is an ACL data packet with its 4-byte header.
type Packet []byte

func (a Packet) Handle() uint16 { return uint16(a[0]) | (uint16(a[1]&0x0f) << 8) }
func (a Packet) Pbf() int       { return (int(a[1]) >> 4) & 0x3 }
func (a Packet) Bcf() int       { return (int(a[1]) >> 6) & 0x3 }
func (a Packet) Dlen() int      { return int(a[2]) | (int(a[3]) << 8) }
func (a Packet) Data() []byte   { return a[4:] }

func (a Packet) Valid() bool { return len(a) >= 4 && len(a) == 4+a.Dlen() }

// NewPacket builds an outbound ACL packet header around a fragment.
func NewPacket(handle uint16, pbf int, frag []byte) Packet {
	b := make([]byte, 4+len(frag))
	b[0] = byte(handle)
	b[1] = byte(handle>>8)&0x0f | byte(pbf<<4)
	b[2] = byte(len(frag))
	b[3] = byte(len(frag) >> 8)
	copy(b[4:], frag)
	return b
}
