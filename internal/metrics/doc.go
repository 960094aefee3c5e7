// Package metrics records client-side observations of adb traffic: request
// latency and outcome, bytes moved by sync transfers, server launches and the
// size of the last device snapshot. The Recorder interface keeps callers free
// of a hard Prometheus dependency; NoopRecorder is the default.
package metrics
