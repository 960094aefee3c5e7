package adb

import (
	"fmt"

	"github.com/d1ced/adbclient/wire"
)

// Err is the typed error returned by every operation of this package.
type Err = wire.Err

// ErrCode classifies an Err.
type ErrCode = wire.ErrCode

const (
	ConnectionRefused  = wire.ConnectionRefused
	LaunchFailed       = wire.LaunchFailed
	ProtocolError      = wire.ProtocolError
	DeviceNotFound     = wire.DeviceNotFound
	Timeout            = wire.Timeout
	TransferIncomplete = wire.TransferIncomplete
	ServerError        = wire.ServerError
	FileNotExist       = wire.FileNotExist
	AssertionError     = wire.AssertionError
	ParseError         = wire.ParseError
)

// HasErrCode reports whether err, or any error it wraps, carries code.
func HasErrCode(err error, code ErrCode) bool {
	return wire.HasErrCode(err, code)
}

// ServerMessage returns the FAIL message of the server carried by err, if any.
func ServerMessage(err error) string {
	return wire.ServerMessage(err)
}

// ShellExitError is returned by Cmd.Run when the command exits non-zero.
type ShellExitError struct {
	Command  string
	ExitCode int
	Output   []byte
}

func (s *ShellExitError) Error() string {
	return fmt.Sprintf("shell %q exit code %d", s.Command, s.ExitCode)
}
