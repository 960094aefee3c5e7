package logfields

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyOpID       = "op_id"
	KeyOp         = "op"
	KeySerial     = "serial"
	KeyRequest    = "request"
	KeyAddress    = "address"
	KeyState      = "state"
	KeyPath       = "path"
	KeyBytes      = "bytes"
	KeyAttempt    = "attempt"
	KeyVersion    = "version"
	KeyDurationMS = "duration_ms"
	KeyLine       = "line"
	KeyError      = "error"
)

// NewOpID returns a fresh id that ties together the log lines of one operation.
func NewOpID() string { return uuid.NewString() }

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func OpID(id string) slog.Attr   { return slog.String(KeyOpID, id) }
func Op(name string) slog.Attr   { return slog.String(KeyOp, name) }
func Serial(s string) slog.Attr  { return slog.String(KeySerial, s) }
func Request(r string) slog.Attr { return slog.String(KeyRequest, r) }
func Address(a string) slog.Attr { return slog.String(KeyAddress, a) }
func State(s string) slog.Attr   { return slog.String(KeyState, s) }
func Path(p string) slog.Attr    { return slog.String(KeyPath, p) }
func Bytes(n int64) slog.Attr    { return slog.Int64(KeyBytes, n) }
func Attempt(n int) slog.Attr    { return slog.Int(KeyAttempt, n) }
func Version(v int) slog.Attr    { return slog.Int(KeyVersion, v) }
func Line(l string) slog.Attr    { return slog.String(KeyLine, l) }
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
