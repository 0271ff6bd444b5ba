package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	evdev "github.com/holoplot/go-evdev"
)

// EventAction is the direction of a hotplug notification.
type EventAction string

const (
	ActionAttach EventAction = "attach"
	ActionDetach EventAction = "detach"
)

// DeviceInfo describes one input device as seen by the hardware layer.
type DeviceInfo struct {
	Bus      string // "usb", "bluetooth", ...
	VendorID string // lowercase hex, e.g. "046d"
	ModelID  string // lowercase hex, e.g. "c52b"
	Name     string
	Keyboard bool
}

// HotplugEvent is one raw attach/detach notification.
type HotplugEvent struct {
	Action EventAction
	Device DeviceInfo
}

// deviceSource abstracts the hardware event layer: a one-shot enumeration
// of attached devices and a bounded-wait poll for hotplug events.
type deviceSource interface {
	// List enumerates currently attached input devices.
	List() ([]DeviceInfo, error)
	// Poll waits up to timeout for the next hotplug event. A nil event
	// with nil error means the timeout elapsed.
	Poll(timeout time.Duration) (*HotplugEvent, error)
	Close() error
}

// Bus numbers from linux/input.h.
const (
	busUSB       = 0x03
	busBluetooth = 0x05
)

func busName(bus uint16) string {
	switch bus {
	case busUSB:
		return "usb"
	case busBluetooth:
		return "bluetooth"
	default:
		return fmt.Sprintf("0x%02x", bus)
	}
}

const inputDevDir = "/dev/input"

// identifyDevice opens an event node and reads its identity and
// capabilities. A device counts as a keyboard if it reports the
// KEY_A and KEY_ENTER codes, which weeds out buttons and consumer
// control endpoints that also speak EV_KEY.
func identifyDevice(path string) (DeviceInfo, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer dev.Close()

	id, err := dev.InputID()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("input id %s: %w", path, err)
	}

	name, _ := dev.Name()

	hasA, hasEnter := false, false
	for _, c := range dev.CapableEvents(evdev.EV_KEY) {
		switch c {
		case evdev.KEY_A:
			hasA = true
		case evdev.KEY_ENTER:
			hasEnter = true
		}
	}

	return DeviceInfo{
		Bus:      busName(id.BusType),
		VendorID: fmt.Sprintf("%04x", id.Vendor),
		ModelID:  fmt.Sprintf("%04x", id.Product),
		Name:     name,
		Keyboard: hasA && hasEnter,
	}, nil
}

// inputWatcher is the Linux deviceSource. Enumeration goes through evdev;
// hotplug is an inotify watch on /dev/input, where the kernel creates and
// removes eventN nodes as devices come and go. Identities of known nodes
// are remembered so a detach can still be attributed after the node is gone.
type inputWatcher struct {
	watcher *fsnotify.Watcher

	mu    sync.Mutex
	known map[string]DeviceInfo // event node path -> identity
}

func newInputWatcher() (*inputWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(inputDevDir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", inputDevDir, err)
	}
	return &inputWatcher{
		watcher: w,
		known:   make(map[string]DeviceInfo),
	}, nil
}

func isEventNode(path string) bool {
	return strings.HasPrefix(filepath.Base(path), "event")
}

func (iw *inputWatcher) List() ([]DeviceInfo, error) {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}

	var devices []DeviceInfo
	iw.mu.Lock()
	defer iw.mu.Unlock()
	for _, p := range paths {
		info, err := identifyDevice(p.Path)
		if err != nil {
			// Not readable (permissions, vanished mid-scan): skip.
			continue
		}
		iw.known[p.Path] = info
		devices = append(devices, info)
	}
	return devices, nil
}

// identifyNewNode retries briefly: the node exists as soon as inotify
// fires, but udev may still be applying permissions.
func (iw *inputWatcher) identifyNewNode(path string) (DeviceInfo, error) {
	var lastErr error
	for i := 0; i < 5; i++ {
		info, err := identifyDevice(path)
		if err == nil {
			return info, nil
		}
		lastErr = err
		time.Sleep(100 * time.Millisecond)
	}
	return DeviceInfo{}, lastErr
}

func (iw *inputWatcher) Poll(timeout time.Duration) (*HotplugEvent, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-deadline.C:
			return nil, nil

		case err, ok := <-iw.watcher.Errors:
			if !ok {
				return nil, fmt.Errorf("event source closed")
			}
			return nil, fmt.Errorf("watch %s: %w", inputDevDir, err)

		case ev, ok := <-iw.watcher.Events:
			if !ok {
				return nil, fmt.Errorf("event source closed")
			}
			if !isEventNode(ev.Name) {
				continue
			}

			switch {
			case ev.Op.Has(fsnotify.Create):
				info, err := iw.identifyNewNode(ev.Name)
				if err != nil {
					continue
				}
				iw.mu.Lock()
				iw.known[ev.Name] = info
				iw.mu.Unlock()
				return &HotplugEvent{Action: ActionAttach, Device: info}, nil

			case ev.Op.Has(fsnotify.Remove):
				iw.mu.Lock()
				info, seen := iw.known[ev.Name]
				delete(iw.known, ev.Name)
				iw.mu.Unlock()
				if !seen {
					continue
				}
				return &HotplugEvent{Action: ActionDetach, Device: info}, nil
			}
		}
	}
}

func (iw *inputWatcher) Close() error {
	return iw.watcher.Close()
}
