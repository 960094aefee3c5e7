package wire

import "strings"

// State is the position of a Conn in the request/response cycle.
//
//	Idle ──send──▶ Sent ──read status──▶ AwaitingStatus
//	AwaitingStatus ──OKAY──▶ Succeeded | Reusable | RawStream | Sync
//	AwaitingStatus ──FAIL──▶ Failed ──▶ Closed
//	Succeeded ──▶ AwaitingStatus (second status) | Succeeded (more messages)
//	Reusable ──send──▶ Sent
//	any ──close──▶ Closed
//
// Which OKAY state is entered depends on the RequestClass of the request.
type State uint8

const (
	StateIdle State = iota
	StateSent
	StateAwaitingStatus
	StateSucceeded
	StateFailed
	StateReusable
	StateRawStream
	StateSync
	StateClosed
)

var stateNames = [...]string{
	StateIdle:           "Idle",
	StateSent:           "Sent",
	StateAwaitingStatus: "AwaitingStatus",
	StateSucceeded:      "Succeeded",
	StateFailed:         "Failed",
	StateReusable:       "Reusable",
	StateRawStream:      "RawStream",
	StateSync:           "Sync",
	StateClosed:         "Closed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(?)"
}

var transitions = map[State][]State{
	StateIdle:           {StateSent},
	StateSent:           {StateAwaitingStatus},
	StateAwaitingStatus: {StateSucceeded, StateFailed, StateReusable, StateRawStream, StateSync},
	StateSucceeded:      {StateAwaitingStatus, StateSucceeded},
	StateFailed:         {},
	StateReusable:       {StateSent},
	StateRawStream:      {},
	StateSync:           {},
	StateClosed:         {},
}

// CanTransition reports whether the state machine allows from → to.
// Every state may move to StateClosed.
func CanTransition(from, to State) bool {
	if to == StateClosed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RequestClass decides what a connection turns into after an OKAY.
type RequestClass uint8

const (
	// RequestHost is answered by the server, optionally followed by data.
	RequestHost RequestClass = iota
	// RequestTransport re-targets the connection at a device.
	RequestTransport
	// RequestStream turns the connection into a raw byte stream.
	RequestStream
	// RequestSync switches the connection into the sync protocol.
	RequestSync
	// RequestDevice is a device service answered like a host request.
	RequestDevice
)

var streamPrefixes = []string{"shell:", "shell,", "exec:", "reboot:", "remount:", "root:", "unroot:", "tcpip:", "usb:", "jdwp:", "logcat:"}

// ClassifyRequest returns the RequestClass of req.
func ClassifyRequest(req string) RequestClass {
	switch {
	case strings.HasPrefix(req, "host:transport"):
		return RequestTransport
	case req == "sync:":
		return RequestSync
	case strings.HasPrefix(req, "host"):
		return RequestHost
	}
	for _, p := range streamPrefixes {
		if strings.HasPrefix(req, p) {
			return RequestStream
		}
	}
	return RequestDevice
}

func (c RequestClass) okayState() State {
	switch c {
	case RequestTransport:
		return StateReusable
	case RequestStream:
		return StateRawStream
	case RequestSync:
		return StateSync
	default:
		return StateSucceeded
	}
}
