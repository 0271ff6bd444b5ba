package main

import (
	"encoding/json"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

func socketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = "/tmp"
	}
	return filepath.Join(dir, "lgswitch.sock")
}

const pollTimeout = 500 * time.Millisecond

// switchExecutor is what the run loop needs from the switch side.
// *Switcher is the real implementation.
type switchExecutor interface {
	Switch(state Presence) bool
}

// daemon wires the event monitor, the state tracker and the switch
// executor together and owns their lifecycle.
type daemon struct {
	target  TargetDevice
	src     deviceSource
	mon     *monitor
	tracker *stateTracker
	sw      switchExecutor
	log     *logrus.Entry

	quit     chan struct{}
	stopOnce sync.Once

	// actions is the hand-off between the poll loop and the single
	// switch worker. Capacity 1: at most one action in flight and one
	// queued, processed strictly in acceptance order.
	actions chan Presence
	wg      sync.WaitGroup

	mu         sync.Mutex
	lastSwitch string // "ok", "failed", or "" before the first action

	cleanup     func()
	cleanupOnce sync.Once
}

func newDaemon(target TargetDevice, src deviceSource, sw switchExecutor, log *logrus.Entry) *daemon {
	return &daemon{
		target:  target,
		src:     src,
		mon:     newMonitor(src, target),
		tracker: newStateTracker(log),
		sw:      sw,
		log:     log,
		quit:    make(chan struct{}),
		actions: make(chan Presence, 1),
	}
}

// stop requests shutdown: the poll loop exits on its next iteration.
// An in-flight switch action is allowed to finish.
func (d *daemon) stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
	})
}

func (d *daemon) stopping() bool {
	select {
	case <-d.quit:
		return true
	default:
		return false
	}
}

func (d *daemon) recordOutcome(ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ok {
		d.lastSwitch = "ok"
	} else {
		d.lastSwitch = "failed"
	}
}

// releaseResources runs the cleanup exactly once, no matter how many
// shutdown paths reach it.
func (d *daemon) releaseResources() {
	d.cleanupOnce.Do(func() {
		if err := d.src.Close(); err != nil {
			d.log.WithError(err).Warn("error closing event source")
		}
		if d.cleanup != nil {
			d.cleanup()
		}
	})
}

// run resolves the initial presence, issues the baseline switch action,
// then polls for hotplug events until stop is called or the event
// source fails.
func (d *daemon) run() error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for state := range d.actions {
			d.recordOutcome(d.sw.Switch(state))
		}
	}()
	defer func() {
		close(d.actions)
		d.wg.Wait()
		d.releaseResources()
	}()

	d.log.Info("checking initial keyboard state")
	devices, err := d.src.List()
	if err != nil {
		d.log.WithError(err).Error("device enumeration failed")
		return err
	}
	initial := d.tracker.ResolveInitial(devices, d.target)
	d.log.Infof("keyboard %q is currently %s", d.target.DisplayName, initial)
	d.actions <- initial

	d.log.Info("waiting for keyboard events")
	for {
		select {
		case <-d.quit:
			return nil
		default:
		}

		ev, err := d.mon.Next(pollTimeout)
		if err != nil {
			if d.stopping() {
				return nil
			}
			d.log.WithError(err).Error("error in monitor loop")
			return err
		}
		if ev == nil {
			continue
		}

		state := presenceFor(ev.Action)
		verb := "connected"
		if ev.Action == ActionDetach {
			verb = "disconnected"
		}
		d.log.Infof("keyboard %s: %s", verb, ev.Device.Name)

		if d.tracker.Observe(state) {
			d.actions <- state
		}
	}
}

func (d *daemon) handleRequest(req IPCRequest) IPCResponse {
	switch req.Command {
	case "status":
		d.mu.Lock()
		last := d.lastSwitch
		d.mu.Unlock()
		return IPCResponse{
			Presence:   string(d.tracker.Current()),
			Device:     d.target.DisplayName,
			LastSwitch: last,
		}
	default:
		return IPCResponse{Error: "unknown command: " + req.Command}
	}
}

func (d *daemon) handleConn(conn net.Conn) {
	defer conn.Close()

	var req IPCRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		json.NewEncoder(conn).Encode(IPCResponse{Error: "invalid request: " + err.Error()})
		return
	}
	json.NewEncoder(conn).Encode(d.handleRequest(req))
}

func (d *daemon) serveIPC(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Listener closed by shutdown.
			return
		}
		go d.handleConn(conn)
	}
}

func runDaemon() error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logger.WithField("component", "daemon")

	cfg, err := loadConfig(configPath())
	if err != nil {
		return err
	}

	creds, err := openCredentialStore(credentialsPath())
	if err != nil {
		return err
	}

	src, err := newInputWatcher()
	if err != nil {
		return err
	}

	sw := newSwitcher(cfg, creds, logger.WithField("component", "switcher"))
	d := newDaemon(cfg.TargetDevice, src, sw, log)

	sock := socketPath()
	os.Remove(sock) // remove stale socket
	ln, err := net.Listen("unix", sock)
	if err != nil {
		src.Close()
		return err
	}
	os.Chmod(sock, 0700)
	d.cleanup = func() {
		ln.Close()
		os.Remove(sock)
	}
	go d.serveIPC(ln)

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received %s, shutting down", sig)
		d.stop()
	}()
	defer signal.Stop(sigCh)

	log.Infof("watching for %q (vendor %s, model %s)",
		cfg.TargetDevice.DisplayName, cfg.TargetDevice.VendorID, cfg.TargetDevice.ModelID)

	err = d.run()
	log.Info("shutdown complete")
	return err
}
