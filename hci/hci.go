// Package hci abstracts the controller command/event bus the ACL core sits
// on. Byte-level transport and serialization of individual packets live
// below this interface.
package hci

// Command is a marshallable HCI command.
type Command interface {
	OpCode() int
	Len() int
	Marshal([]byte) error
}

// CommandRP unmarshals a command's return parameters.
type CommandRP interface {
	Unmarshal(b []byte) error
}

// CommandResult is delivered once per enqueued command: either the status
// byte of a Command Status event or the return parameters of a Command
// Complete event (whose first byte is also the status).
type CommandResult struct {
	Status byte
	Return []byte
}

func (r CommandResult) Ok() bool { return r.Status == 0x00 }

// EventHandler receives the event payload with the event header stripped.
type EventHandler func(b []byte)

// Bus is the host side of the controller. EnqueueCommand is fire-and-forget;
// the result callback runs on the bus's delivery context and must be
// re-posted onto the owning component's handler by the caller.
type Bus interface {
	EnqueueCommand(c Command, onResult func(CommandResult))
	Subscribe(code int, h EventHandler)
	SubscribeLE(subcode int, h EventHandler)

	// ACL payload flow.
	WriteACL(b []byte) error
	SetACLHandler(h func(Packet))
}

// Capabilities answers controller feature/limit queries the state machines
// branch on.
type Capabilities interface {
	SupportsExtendedCreateConnection() bool
	SupportsExtendedAdvertising() bool
	SupportsLEPrivacy() bool
	FilterAcceptListSize() int
	ResolvingListSize() int
	// ACLBufferInfo returns the controller data-packet length and count
	// shared by all open links.
	ACLBufferInfo() (size int, cnt int)
}
