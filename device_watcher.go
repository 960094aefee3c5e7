package adb

import (
	"context"
	"log/slog"
	"sync"

	"github.com/d1ced/adbclient/internal/logfields"
	"github.com/d1ced/adbclient/wire"
)

// DeviceStateChangedEvent represents a device state transition.
// Contains the device’s old and new states, but also provides methods to
// query the type of state transition.
type DeviceStateChangedEvent struct {
	Serial   string
	OldState DeviceState
	NewState DeviceState
}

// CameOnline returns true if this event represents a device coming online.
func (s DeviceStateChangedEvent) CameOnline() bool {
	return s.OldState != StateOnline && s.NewState == StateOnline
}

// WentOffline returns true if this event represents a device going offline.
func (s DeviceStateChangedEvent) WentOffline() bool {
	return s.OldState == StateOnline && s.NewState != StateOnline
}

// DeviceWatcher publishes device status change events read from
// host:track-devices-l. Every list the server sends also replaces the
// client's snapshot.
type DeviceWatcher struct {
	client *Client
	conn   *wire.Conn
	log    *slog.Logger
	cancel context.CancelFunc

	eventChan chan DeviceStateChangedEvent
	done      chan struct{}

	mu  sync.Mutex
	err error
}

// WatchDevices connects to the server and starts publishing events. The
// first list reports every attached device as coming from
// StateDisconnected. The watcher stops when ctx is done or Close is called.
func (c *Client) WatchDevices(ctx context.Context) (*DeviceWatcher, error) {
	ctx, cancel := context.WithCancel(ctx)
	conn, err := c.server.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := conn.SendMessage(wire.HostTrackDevicesL); err != nil {
		cancel()
		conn.Close()
		return nil, err
	}
	if err := conn.ReadStatus(); err != nil {
		cancel()
		conn.Close()
		return nil, err
	}

	w := &DeviceWatcher{
		client:    c,
		conn:      conn,
		log:       c.opLogger("watch"),
		cancel:    cancel,
		eventChan: make(chan DeviceStateChangedEvent),
		done:      make(chan struct{}),
	}
	go w.publishDevices(ctx)
	return w, nil
}

// C returns a channel than can be received on to get events.
// If an unrecoverable error occurs, or Close is called, the channel will be closed.
func (w *DeviceWatcher) C() <-chan DeviceStateChangedEvent {
	return w.eventChan
}

// Err returns the error that caused the channel returned by C to be closed,
// if C is closed. It is nil after Close or a done context.
func (w *DeviceWatcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close stops the watcher and waits until the channel returned by C is
// closed.
func (w *DeviceWatcher) Close() error {
	w.cancel()
	<-w.done
	return nil
}

// publishDevices reads device lists, calculates diffs, and publishes events
// until the connection fails or ctx is done.
func (w *DeviceWatcher) publishDevices(ctx context.Context) {
	defer close(w.done)
	defer close(w.eventChan)
	defer w.conn.Close()

	lastState := map[string]DeviceState{}
	for {
		msg, err := w.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.log.Warn("device tracking stopped", logfields.Error(err))
				w.mu.Lock()
				w.err = err
				w.mu.Unlock()
			}
			return
		}
		reg := ParseDeviceList(msg, w.log)
		w.client.storeSnapshot(reg)
		states := reg.states()
		for _, event := range calculateStateDiffs(lastState, states) {
			w.log.Debug("device state changed", logfields.Serial(event.Serial),
				slog.String("old_state", event.OldState.String()), logfields.State(event.NewState.String()))
			select {
			case w.eventChan <- event:
			case <-ctx.Done():
				return
			}
		}
		lastState = states
	}
}

func calculateStateDiffs(oldStates, newStates map[string]DeviceState) []DeviceStateChangedEvent {
	events := make([]DeviceStateChangedEvent, 0, len(newStates))
	for serial, oldState := range oldStates {
		newState, ok := newStates[serial]

		if oldState != newState {
			if ok {
				// Device present in both lists: state changed.
				events = append(events, DeviceStateChangedEvent{serial, oldState, newState})
			} else {
				// Device only present in old list: device removed.
				events = append(events, DeviceStateChangedEvent{serial, oldState, StateDisconnected})
			}
		}
	}

	for serial, newState := range newStates {
		if _, ok := oldStates[serial]; !ok {
			// Device only present in new list: device added.
			events = append(events, DeviceStateChangedEvent{serial, StateDisconnected, newState})
		}
	}

	return events
}
