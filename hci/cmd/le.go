package cmd

import (
	"bytes"
	"encoding/binary"
	"io"
)

// LESetRandomAddress implements LE Set Random Address (0x08|0x0005) [Vol 2, Part E, 7.8.4]
type LESetRandomAddress struct {
	RandomAddress [6]byte
}

func (c LESetRandomAddress) OpCode() int            { return 0x2005 }
func (c LESetRandomAddress) Len() int               { return 6 }
func (c LESetRandomAddress) Marshal(b []byte) error { return marshal(c, b, c.Len()) }

// LECreateConnection implements LE Create Connection (0x08|0x000D) [Vol 2, Part E, 7.8.12]
type LECreateConnection struct {
	LEScanInterval        uint16
	LEScanWindow          uint16
	InitiatorFilterPolicy uint8
	PeerAddressType       uint8
	PeerAddress           [6]byte
	OwnAddressType        uint8
	ConnIntervalMin       uint16
	ConnIntervalMax       uint16
	ConnLatency           uint16
	SupervisionTimeout    uint16
	MinimumCELength       uint16
	MaximumCELength       uint16
}

func (c LECreateConnection) OpCode() int            { return 0x200D }
func (c LECreateConnection) Len() int               { return 25 }
func (c LECreateConnection) Marshal(b []byte) error { return marshal(c, b, c.Len()) }

// LECreateConnectionCancel implements LE Create Connection Cancel (0x08|0x000E) [Vol 2, Part E, 7.8.13]
type LECreateConnectionCancel struct{}

func (c LECreateConnectionCancel) OpCode() int            { return 0x200E }
func (c LECreateConnectionCancel) Len() int               { return 0 }
func (c LECreateConnectionCancel) Marshal(b []byte) error { return nil }

// LEClearFilterAcceptList implements LE Clear Filter Accept List (0x08|0x0010) [Vol 2, Part E, 7.8.15]
type LEClearFilterAcceptList struct{}

func (c LEClearFilterAcceptList) OpCode() int            { return 0x2010 }
func (c LEClearFilterAcceptList) Len() int               { return 0 }
func (c LEClearFilterAcceptList) Marshal(b []byte) error { return nil }

// LEAddDeviceToFilterAcceptList implements LE Add Device To Filter Accept List (0x08|0x0011) [Vol 2, Part E, 7.8.16]
type LEAddDeviceToFilterAcceptList struct {
	AddressType uint8
	Address     [6]byte
}

func (c LEAddDeviceToFilterAcceptList) OpCode() int            { return 0x2011 }
func (c LEAddDeviceToFilterAcceptList) Len() int               { return 7 }
func (c LEAddDeviceToFilterAcceptList) Marshal(b []byte) error { return marshal(c, b, c.Len()) }

// LERemoveDeviceFromFilterAcceptList implements LE Remove Device From Filter Accept List (0x08|0x0012) [Vol 2, Part E, 7.8.17]
type LERemoveDeviceFromFilterAcceptList struct {
	AddressType uint8
	Address     [6]byte
}

func (c LERemoveDeviceFromFilterAcceptList) OpCode() int            { return 0x2012 }
func (c LERemoveDeviceFromFilterAcceptList) Len() int               { return 7 }
func (c LERemoveDeviceFromFilterAcceptList) Marshal(b []byte) error { return marshal(c, b, c.Len()) }

// LEAddDeviceToResolvingList implements LE Add Device To Resolving List (0x08|0x0027) [Vol 2, Part E, 7.8.38]
type LEAddDeviceToResolvingList struct {
	PeerIdentityAddressType uint8
	PeerIdentityAddress     [6]byte
	PeerIRK                 [16]byte
	LocalIRK                [16]byte
}

func (c LEAddDeviceToResolvingList) OpCode() int            { return 0x2027 }
func (c LEAddDeviceToResolvingList) Len() int               { return 39 }
func (c LEAddDeviceToResolvingList) Marshal(b []byte) error { return marshal(c, b, c.Len()) }

// LERemoveDeviceFromResolvingList implements LE Remove Device From Resolving List (0x08|0x0028) [Vol 2, Part E, 7.8.39]
type LERemoveDeviceFromResolvingList struct {
	PeerIdentityAddressType uint8
	PeerIdentityAddress     [6]byte
}

func (c LERemoveDeviceFromResolvingList) OpCode() int            { return 0x2028 }
func (c LERemoveDeviceFromResolvingList) Len() int               { return 7 }
func (c LERemoveDeviceFromResolvingList) Marshal(b []byte) error { return marshal(c, b, c.Len()) }

// LESetAddressResolutionEnable implements LE Set Address Resolution Enable (0x08|0x002D) [Vol 2, Part E, 7.8.44]
type LESetAddressResolutionEnable struct {
	AddressResolutionEnable uint8
}

func (c LESetAddressResolutionEnable) OpCode() int            { return 0x202D }
func (c LESetAddressResolutionEnable) Len() int               { return 1 }
func (c LESetAddressResolutionEnable) Marshal(b []byte) error { return marshal(c, b, c.Len()) }

// LESetResolvablePrivateAddressTimeout implements LE Set Resolvable Private
// Address Timeout (0x08|0x002E) [Vol 2, Part E, 7.8.45]
type LESetResolvablePrivateAddressTimeout struct {
	RPATimeout uint16
}

func (c LESetResolvablePrivateAddressTimeout) OpCode() int            { return 0x202E }
func (c LESetResolvablePrivateAddressTimeout) Len() int               { return 2 }
func (c LESetResolvablePrivateAddressTimeout) Marshal(b []byte) error { return marshal(c, b, c.Len()) }

// LEExtendedCreateConnectionPHY carries initiation parameters for one PHY.
type LEExtendedCreateConnectionPHY struct {
	ScanInterval       uint16
	ScanWindow         uint16
	ConnIntervalMin    uint16
	ConnIntervalMax    uint16
	ConnLatency        uint16
	SupervisionTimeout uint16
	MinimumCELength    uint16
	MaximumCELength    uint16
}

// LEExtendedCreateConnection implements LE Extended Create Connection
// (0x08|0x0043) [Vol 2, Part E, 7.8.66]. One PHY parameter block per set bit
// in InitiatingPHYs, low bit first.
type LEExtendedCreateConnection struct {
	InitiatorFilterPolicy uint8
	OwnAddressType        uint8
	PeerAddressType       uint8
	PeerAddress           [6]byte
	InitiatingPHYs        uint8
	PHYs                  []LEExtendedCreateConnectionPHY
}

func (c LEExtendedCreateConnection) OpCode() int { return 0x2043 }
func (c LEExtendedCreateConnection) Len() int    { return 10 + 16*len(c.PHYs) }

func (c LEExtendedCreateConnection) Marshal(b []byte) error {
	buf := bytes.NewBuffer(b)
	buf.Reset()
	if buf.Cap() < c.Len() {
		return io.ErrShortBuffer
	}
	buf.WriteByte(c.InitiatorFilterPolicy)
	buf.WriteByte(c.OwnAddressType)
	buf.WriteByte(c.PeerAddressType)
	buf.Write(c.PeerAddress[:])
	buf.WriteByte(c.InitiatingPHYs)
	for _, p := range c.PHYs {
		if err := binary.Write(buf, binary.LittleEndian, p); err != nil {
			return err
		}
	}
	return nil
}
