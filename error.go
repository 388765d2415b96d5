package acl

import "fmt"

// ErrCommand is a controller status code [Vol 2, Part D, 1.3].
type ErrCommand byte

const (
	ErrSuccess                ErrCommand = 0x00
	ErrUnknownCommand         ErrCommand = 0x01
	ErrUnknownConnection      ErrCommand = 0x02
	ErrAuthFailure            ErrCommand = 0x05
	ErrPINMissing             ErrCommand = 0x06
	ErrMemoryCapacity         ErrCommand = 0x07
	ErrConnectionTimeout      ErrCommand = 0x08
	ErrConnectionLimit        ErrCommand = 0x09
	ErrACLConnectionExists    ErrCommand = 0x0B
	ErrCommandDisallowed      ErrCommand = 0x0C
	ErrLimitedResources       ErrCommand = 0x0D
	ErrUnacceptableAddr       ErrCommand = 0x0F
	ErrAcceptTimeout          ErrCommand = 0x10
	ErrUnsupportedFeature     ErrCommand = 0x11
	ErrInvalidParams          ErrCommand = 0x12
	ErrRemoteUser             ErrCommand = 0x13
	ErrRemoteLowResources     ErrCommand = 0x14
	ErrRemotePowerOff         ErrCommand = 0x15
	ErrLocalHost              ErrCommand = 0x16
	ErrRoleChangeNotAllow     ErrCommand = 0x21
	ErrUnacceptableConnParams ErrCommand = 0x3B
)

func (e ErrCommand) Error() string {
	if n, ok := errCmdName[e]; ok {
		return n
	}
	return fmt.Sprintf("controller error 0x%02X", byte(e))
}

var errCmdName = map[ErrCommand]string{
	ErrSuccess:                "success",
	ErrUnknownCommand:         "unknown HCI command",
	ErrUnknownConnection:      "unknown connection identifier",
	ErrAuthFailure:            "authentication failure",
	ErrPINMissing:             "PIN or key missing",
	ErrMemoryCapacity:         "memory capacity exceeded",
	ErrConnectionTimeout:      "connection timeout",
	ErrConnectionLimit:        "connection limit exceeded",
	ErrACLConnectionExists:    "connection already exists",
	ErrCommandDisallowed:      "command disallowed",
	ErrLimitedResources:       "connection rejected due to limited resources",
	ErrUnacceptableAddr:       "connection rejected due to unacceptable BD_ADDR",
	ErrAcceptTimeout:          "connection accept timeout exceeded",
	ErrUnsupportedFeature:     "unsupported feature or parameter value",
	ErrInvalidParams:          "invalid HCI command parameters",
	ErrRemoteUser:             "remote user terminated connection",
	ErrRemoteLowResources:     "remote device terminated connection: low resources",
	ErrRemotePowerOff:         "remote device terminated connection: power off",
	ErrLocalHost:              "connection terminated by local host",
	ErrRoleChangeNotAllow:     "role change not allowed",
	ErrUnacceptableConnParams: "unacceptable connection parameters",
}
