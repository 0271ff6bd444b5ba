package main

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Presence is the tracked connectivity of the target keyboard.
type Presence string

const (
	PresenceUnknown Presence = "unknown"
	PresencePresent Presence = "present"
	PresenceAbsent  Presence = "absent"
)

// presenceFor maps an event direction to the presence it implies.
func presenceFor(a EventAction) Presence {
	if a == ActionAttach {
		return PresencePresent
	}
	return PresenceAbsent
}

// debouncer drops qualifying events that arrive within a fixed quiet
// window after the last accepted one. Events are dropped, never queued:
// a legitimate attach/detach pair inside the window loses the second
// event and the tracked state stays stale until the next one.
type debouncer struct {
	window time.Duration
	last   time.Time
}

// Allow reports whether an event observed at now should be accepted,
// and records it as the last accepted event if so.
func (d *debouncer) Allow(now time.Time) bool {
	if !d.last.IsZero() && now.Sub(d.last) < d.window {
		return false
	}
	d.last = now
	return true
}

// stateTracker holds the last-known presence of the target keyboard.
// It is the only writer of the presence value.
type stateTracker struct {
	mu      sync.Mutex
	current Presence
	log     *logrus.Entry
}

func newStateTracker(log *logrus.Entry) *stateTracker {
	return &stateTracker{current: PresenceUnknown, log: log}
}

func (t *stateTracker) Current() Presence {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// ResolveInitial sets the baseline presence from a startup enumeration.
// Called exactly once, before any event is observed.
func (t *stateTracker) ResolveInitial(devices []DeviceInfo, target TargetDevice) Presence {
	state := PresenceAbsent
	for _, d := range devices {
		if target.Matches(d) {
			state = PresencePresent
			break
		}
	}
	t.mu.Lock()
	t.current = state
	t.mu.Unlock()
	return state
}

// Observe records a new observation of the target's presence. It returns
// true if this is a transition worth acting on, i.e. the observation
// differs from the tracked state. The state is updated before returning
// so a rapid follow-up observation sees the new value.
func (t *stateTracker) Observe(state Presence) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == state {
		t.log.Debugf("keyboard already marked %s, skipping switch", state)
		return false
	}
	t.current = state
	return true
}

// monitor is the debounced event source: it filters the raw hotplug
// stream down to qualifying events for the target keyboard and applies
// the debounce window.
type monitor struct {
	src    deviceSource
	target TargetDevice
	deb    debouncer
	now    func() time.Time
}

const debounceWindow = 500 * time.Millisecond

func newMonitor(src deviceSource, target TargetDevice) *monitor {
	return &monitor{
		src:    src,
		target: target,
		deb:    debouncer{window: debounceWindow},
		now:    time.Now,
	}
}

// Next polls the raw source once with a bounded wait and returns the
// event if it qualifies and clears the debounce window. Both filters
// drop silently; a nil event means the caller should poll again.
func (m *monitor) Next(timeout time.Duration) (*HotplugEvent, error) {
	ev, err := m.src.Poll(timeout)
	if err != nil || ev == nil {
		return nil, err
	}
	if !m.target.Matches(ev.Device) {
		return nil, nil
	}
	if !m.deb.Allow(m.now()) {
		return nil, nil
	}
	return ev, nil
}
