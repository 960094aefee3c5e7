package metrics

import "time"

// ResultLabel enumerates request result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultFailure ResultLabel = "failure"
	ResultTimeout ResultLabel = "timeout"
)

// Direction labels sync transfer counters.
type Direction string

const (
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
)

// Recorder defines observability hooks for the client. All methods must be
// safe to call on the zero value of an implementation.
type Recorder interface {
	ObserveRequestDuration(op string, d time.Duration)
	IncRequestResult(op string, result ResultLabel)
	AddTransferBytes(dir Direction, n int64)
	IncServerLaunch(success bool)
	SetDeviceCount(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveRequestDuration(string, time.Duration) {}
func (NoopRecorder) IncRequestResult(string, ResultLabel)         {}
func (NoopRecorder) AddTransferBytes(Direction, int64)            {}
func (NoopRecorder) IncServerLaunch(bool)                         {}
func (NoopRecorder) SetDeviceCount(int)                           {}
