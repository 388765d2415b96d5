package cmd

// CreateConnection implements Create Connection (0x01|0x0005) [Vol 2, Part E, 7.1.5]
type CreateConnection struct {
	BDADDR                 [6]byte
	PacketType             uint16
	PageScanRepetitionMode uint8
	Reserved               uint8
	ClockOffset            uint16
	AllowRoleSwitch        uint8
}

func (c CreateConnection) OpCode() int          { return 0x0405 }
func (c CreateConnection) Len() int             { return 13 }
func (c CreateConnection) Marshal(b []byte) error { return marshal(c, b, c.Len()) }

// Disconnect implements Disconnect (0x01|0x0006) [Vol 2, Part E, 7.1.6]
type Disconnect struct {
	ConnectionHandle uint16
	Reason           uint8
}

func (c Disconnect) OpCode() int            { return 0x0406 }
func (c Disconnect) Len() int               { return 3 }
func (c Disconnect) Marshal(b []byte) error { return marshal(c, b, c.Len()) }

// CreateConnectionCancel implements Create Connection Cancel (0x01|0x0008) [Vol 2, Part E, 7.1.7]
type CreateConnectionCancel struct {
	BDADDR [6]byte
}

func (c CreateConnectionCancel) OpCode() int            { return 0x0408 }
func (c CreateConnectionCancel) Len() int               { return 6 }
func (c CreateConnectionCancel) Marshal(b []byte) error { return marshal(c, b, c.Len()) }

// CreateConnectionCancelRP returns the status and the address the cancel targeted.
type CreateConnectionCancelRP struct {
	Status byte
	BDADDR [6]byte
}

func (c *CreateConnectionCancelRP) Unmarshal(b []byte) error { return unmarshal(c, b) }

// AcceptConnectionRequest implements Accept Connection Request (0x01|0x0009) [Vol 2, Part E, 7.1.8]
type AcceptConnectionRequest struct {
	BDADDR [6]byte
	Role   uint8
}

func (c AcceptConnectionRequest) OpCode() int            { return 0x0409 }
func (c AcceptConnectionRequest) Len() int               { return 7 }
func (c AcceptConnectionRequest) Marshal(b []byte) error { return marshal(c, b, c.Len()) }

// RejectConnectionRequest implements Reject Connection Request (0x01|0x000A) [Vol 2, Part E, 7.1.9]
type RejectConnectionRequest struct {
	BDADDR [6]byte
	Reason uint8
}

func (c RejectConnectionRequest) OpCode() int            { return 0x040A }
func (c RejectConnectionRequest) Len() int               { return 7 }
func (c RejectConnectionRequest) Marshal(b []byte) error { return marshal(c, b, c.Len()) }

// RemoteNameRequestCancel implements Remote Name Request Cancel (0x01|0x001A) [Vol 2, Part E, 7.1.20]
type RemoteNameRequestCancel struct {
	BDADDR [6]byte
}

func (c RemoteNameRequestCancel) OpCode() int            { return 0x041A }
func (c RemoteNameRequestCancel) Len() int               { return 6 }
func (c RemoteNameRequestCancel) Marshal(b []byte) error { return marshal(c, b, c.Len()) }

// SwitchRole implements Switch Role (0x02|0x000B) [Vol 2, Part E, 7.2.8]
type SwitchRole struct {
	BDADDR [6]byte
	Role   uint8
}

func (c SwitchRole) OpCode() int            { return 0x080B }
func (c SwitchRole) Len() int               { return 7 }
func (c SwitchRole) Marshal(b []byte) error { return marshal(c, b, c.Len()) }

// WriteLinkPolicySettings implements Write Link Policy Settings (0x02|0x000D) [Vol 2, Part E, 7.2.10]
type WriteLinkPolicySettings struct {
	ConnectionHandle   uint16
	LinkPolicySettings uint16
}

func (c WriteLinkPolicySettings) OpCode() int            { return 0x080D }
func (c WriteLinkPolicySettings) Len() int               { return 4 }
func (c WriteLinkPolicySettings) Marshal(b []byte) error { return marshal(c, b, c.Len()) }
