// Package evt views controller event payloads. Each type is the raw payload
// with the event header stripped; accessors index fixed offsets. Addresses
// come off the wire least-significant octet first.
package evt

import "encoding/binary"

// ConnectionComplete is the Classic connection outcome [Vol 2, Part E, 7.7.3].
type ConnectionComplete []byte

func (e ConnectionComplete) Status() uint8            { return e[0] }
func (e ConnectionComplete) ConnectionHandle() uint16 { return binary.LittleEndian.Uint16(e[1:]) & 0xfff }
func (e ConnectionComplete) BDADDR() [6]byte {
	b := [6]byte{}
	copy(b[:], e[3:9])
	return b
}
func (e ConnectionComplete) LinkType() uint8          { return e[9] }
func (e ConnectionComplete) EncryptionEnabled() uint8 { return e[10] }

// ConnectionRequest indicates an incoming Classic connection [Vol 2, Part E, 7.7.4].
type ConnectionRequest []byte

func (e ConnectionRequest) BDADDR() [6]byte {
	b := [6]byte{}
	copy(b[:], e[0:6])
	return b
}
func (e ConnectionRequest) ClassOfDevice() [3]byte {
	b := [3]byte{}
	copy(b[:], e[6:9])
	return b
}
func (e ConnectionRequest) LinkType() uint8 { return e[9] }

type DisconnectionComplete []byte

func (e DisconnectionComplete) Status() uint8            { return e[0] }
func (e DisconnectionComplete) ConnectionHandle() uint16 { return binary.LittleEndian.Uint16(e[1:]) & 0xfff }
func (e DisconnectionComplete) Reason() uint8            { return e[3] }

// RoleChange reports the outcome of a role switch [Vol 2, Part E, 7.7.18].
type RoleChange []byte

func (e RoleChange) Status() uint8 { return e[0] }
func (e RoleChange) BDADDR() [6]byte {
	b := [6]byte{}
	copy(b[:], e[1:7])
	return b
}
func (e RoleChange) NewRole() uint8 { return e[7] }

// NumberOfCompletedPackets returns transmit credits [Vol 2, Part E, 7.7.19].
// Handles and counts are interleaved on the controllers we have seen, not
// laid out as two arrays.
type NumberOfCompletedPackets []byte

func (e NumberOfCompletedPackets) NumberOfHandles() uint8 { return e[0] }
func (e NumberOfCompletedPackets) ConnectionHandle(i int) uint16 {
	return binary.LittleEndian.Uint16(e[1+i*4:]) & 0xfff
}
func (e NumberOfCompletedPackets) NumOfCompletedPackets(i int) uint16 {
	return binary.LittleEndian.Uint16(e[3+i*4:])
}

// LEConnectionComplete [Vol 2, Part E, 7.7.65.1]. Payload includes the
// subevent code at offset 0.
type LEConnectionComplete []byte

func (e LEConnectionComplete) SubeventCode() uint8      { return e[0] }
func (e LEConnectionComplete) Status() uint8            { return e[1] }
func (e LEConnectionComplete) ConnectionHandle() uint16 { return binary.LittleEndian.Uint16(e[2:]) & 0xfff }
func (e LEConnectionComplete) Role() uint8              { return e[4] }
func (e LEConnectionComplete) PeerAddressType() uint8   { return e[5] }
func (e LEConnectionComplete) PeerAddress() [6]byte {
	b := [6]byte{}
	copy(b[:], e[6:12])
	return b
}
func (e LEConnectionComplete) ConnInterval() uint16       { return binary.LittleEndian.Uint16(e[12:]) }
func (e LEConnectionComplete) ConnLatency() uint16        { return binary.LittleEndian.Uint16(e[14:]) }
func (e LEConnectionComplete) SupervisionTimeout() uint16 { return binary.LittleEndian.Uint16(e[16:]) }

// LEEnhancedConnectionComplete [Vol 2, Part E, 7.7.65.10] adds the resolvable
// addresses actually used on air.
type LEEnhancedConnectionComplete []byte

func (e LEEnhancedConnectionComplete) SubeventCode() uint8      { return e[0] }
func (e LEEnhancedConnectionComplete) Status() uint8            { return e[1] }
func (e LEEnhancedConnectionComplete) ConnectionHandle() uint16 {
	return binary.LittleEndian.Uint16(e[2:]) & 0xfff
}
func (e LEEnhancedConnectionComplete) Role() uint8            { return e[4] }
func (e LEEnhancedConnectionComplete) PeerAddressType() uint8 { return e[5] }
func (e LEEnhancedConnectionComplete) PeerAddress() [6]byte {
	b := [6]byte{}
	copy(b[:], e[6:12])
	return b
}
func (e LEEnhancedConnectionComplete) LocalResolvablePrivateAddress() [6]byte {
	b := [6]byte{}
	copy(b[:], e[12:18])
	return b
}
func (e LEEnhancedConnectionComplete) PeerResolvablePrivateAddress() [6]byte {
	b := [6]byte{}
	copy(b[:], e[18:24])
	return b
}
func (e LEEnhancedConnectionComplete) ConnInterval() uint16 { return binary.LittleEndian.Uint16(e[24:]) }
func (e LEEnhancedConnectionComplete) ConnLatency() uint16  { return binary.LittleEndian.Uint16(e[26:]) }
func (e LEEnhancedConnectionComplete) SupervisionTimeout() uint16 {
	return binary.LittleEndian.Uint16(e[28:])
}

// LEAdvertisingSetTerminated [Vol 2, Part E, 7.7.65.18] resolves which
// advertising set a peripheral connection came in on.
type LEAdvertisingSetTerminated []byte

func (e LEAdvertisingSetTerminated) SubeventCode() uint8      { return e[0] }
func (e LEAdvertisingSetTerminated) Status() uint8            { return e[1] }
func (e LEAdvertisingSetTerminated) AdvertisingHandle() uint8 { return e[2] }
func (e LEAdvertisingSetTerminated) ConnectionHandle() uint16 {
	return binary.LittleEndian.Uint16(e[3:]) & 0xfff
}
