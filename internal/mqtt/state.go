package mqtt

import (
	"sort"
	"sync"
	"time"
)

// State is the connection state of one controller.
type State string

const (
	StateConnecting State = "connecting"
	StateOnline     State = "online"
	StateOffline    State = "offline"
	StateAuthError  State = "auth_error"
	StateError      State = "error"
)

// Event drives the per-device state machine.
type Event int

const (
	// EventDial is a new connection attempt to the broker.
	EventDial Event = iota
	// EventBrokerLost is a dropped broker session.
	EventBrokerLost
	// EventConnected is an accepted broker session.
	EventConnected
	// EventAuthRefused is a CONNACK refusing our credentials.
	EventAuthRefused
	// EventFailure is any other connect or publish failure.
	EventFailure
	// EventAvailable is an "online" availability message from the device.
	EventAvailable
	// EventUnavailable is an "offline" availability message, usually the
	// device's last will.
	EventUnavailable
)

func (e Event) String() string {
	switch e {
	case EventDial:
		return "dial"
	case EventBrokerLost:
		return "broker_lost"
	case EventConnected:
		return "connected"
	case EventAuthRefused:
		return "auth_refused"
	case EventFailure:
		return "failure"
	case EventAvailable:
		return "available"
	case EventUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// next is the transition function. An auth error is sticky against plain
// failures and redials: only an accepted session clears it. Device
// availability is only known from the device's own status topic, so a fresh
// session leaves the device connecting until that arrives.
func next(cur State, ev Event) State {
	switch ev {
	case EventDial:
		if cur == StateAuthError {
			return cur
		}
		return StateConnecting
	case EventBrokerLost:
		return StateConnecting
	case EventConnected:
		if cur == StateOnline || cur == StateOffline {
			return cur
		}
		return StateConnecting
	case EventAuthRefused:
		return StateAuthError
	case EventFailure:
		if cur == StateAuthError {
			return cur
		}
		return StateError
	case EventAvailable:
		return StateOnline
	case EventUnavailable:
		return StateOffline
	}
	return cur
}

// DeviceState is the observable state of one controller.
type DeviceState struct {
	DeviceID  string    `json:"device_id"`
	State     State     `json:"state"`
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error,omitempty"`
}

// Registry holds the state machine of every known device.
type Registry struct {
	mu       sync.RWMutex
	devices  map[string]*DeviceState
	clock    func() time.Time
	onChange func(DeviceState)
}

func NewRegistry() *Registry {
	return &Registry{devices: map[string]*DeviceState{}, clock: time.Now}
}

// OnChange registers a callback run after every state change.
func (r *Registry) OnChange(fn func(DeviceState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Track adds a device in state connecting. Tracking a known device is a no-op.
func (r *Registry) Track(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[deviceID]; ok {
		return
	}
	r.devices[deviceID] = &DeviceState{DeviceID: deviceID, State: StateConnecting, Since: r.clock()}
}

// Fire applies ev to one device and reports its new state.
func (r *Registry) Fire(deviceID string, ev Event, cause error) State {
	r.mu.Lock()
	d, ok := r.devices[deviceID]
	if !ok {
		d = &DeviceState{DeviceID: deviceID, State: StateConnecting, Since: r.clock()}
		r.devices[deviceID] = d
	}
	to := next(d.State, ev)
	changed := to != d.State
	if changed {
		d.State = to
		d.Since = r.clock()
	}
	if cause != nil {
		d.LastError = cause.Error()
	} else if to == StateOnline {
		d.LastError = ""
	}
	snapshot := *d
	cb := r.onChange
	r.mu.Unlock()

	if changed && cb != nil {
		cb(snapshot)
	}
	return to
}

// FireAll applies ev to every tracked device.
func (r *Registry) FireAll(ev Event, cause error) {
	for _, id := range r.ids() {
		r.Fire(id, ev, cause)
	}
}

func (r *Registry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.devices))
	for id := range r.devices {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// State returns the state of a device, or offline when it is unknown.
func (r *Registry) State(deviceID string) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.devices[deviceID]; ok {
		return d.State
	}
	return StateOffline
}

// Snapshot lists every device state ordered by device ID.
func (r *Registry) Snapshot() []DeviceState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DeviceState, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
