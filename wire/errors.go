package wire

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrCode classifies the errors returned by this module.
type ErrCode uint8

const (
	// ConnectionRefused means the adb server is not listening.
	ConnectionRefused ErrCode = iota + 1
	// LaunchFailed means the server could not be started within the retry budget.
	LaunchFailed
	// ProtocolError covers malformed frames, unexpected status tokens and I/O
	// errors in the middle of a command.
	ProtocolError
	// DeviceNotFound means the serial is not in the current device set.
	DeviceNotFound
	// Timeout means the deadline of the operation expired.
	Timeout
	// TransferIncomplete means a sync transfer moved fewer bytes than declared.
	TransferIncomplete
	// ServerError means the server answered FAIL. ServerMsg holds its message.
	ServerError
	// FileNotExist means the remote path does not exist.
	FileNotExist
	// AssertionError is returned for invalid arguments.
	AssertionError
	// ParseError means a response could not be interpreted.
	ParseError
)

var errCodeNames = map[ErrCode]string{
	ConnectionRefused:  "ConnectionRefused",
	LaunchFailed:       "LaunchFailed",
	ProtocolError:      "ProtocolError",
	DeviceNotFound:     "DeviceNotFound",
	Timeout:            "Timeout",
	TransferIncomplete: "TransferIncomplete",
	ServerError:        "ServerError",
	FileNotExist:       "FileNotExist",
	AssertionError:     "AssertionError",
	ParseError:         "ParseError",
}

func (c ErrCode) String() string {
	if s, ok := errCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ErrCode(%d)", uint8(c))
}

// Err is the typed error of this module. Request is the command that was in
// flight, ServerMsg the payload of a FAIL frame if there was one.
type Err struct {
	Code      ErrCode
	Message   string
	Request   string
	ServerMsg string
	Cause     error
}

var _ error = &Err{}

func (e *Err) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Request != "" {
		msg += fmt.Sprintf(" (request %q)", e.Request)
	}
	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		msg += ": " + e.ServerMsg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Err) Unwrap() error {
	return e.Cause
}

// Errorf creates an *Err without a cause.
func Errorf(code ErrCode, format string, args ...interface{}) error {
	return &Err{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapErrorf wraps cause into an *Err. A nil cause yields nil.
func WrapErrorf(cause error, code ErrCode, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return &Err{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// HasErrCode reports whether err, or any error it wraps, is an *Err with code.
func HasErrCode(err error, code ErrCode) bool {
	for err != nil {
		var e *Err
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// ErrorCode returns the code of the outermost *Err in the chain, or 0.
func ErrorCode(err error) ErrCode {
	var e *Err
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// ServerMessage returns the FAIL payload carried by err, if any.
func ServerMessage(err error) string {
	var e *Err
	if errors.As(err, &e) {
		return e.ServerMsg
	}
	return ""
}
