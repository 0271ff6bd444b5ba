package main

import (
	"github.com/sirupsen/logrus"
)

// Switcher performs one remote input switch per accepted presence
// transition. Every invocation dials a fresh TV connection: a session
// held across actions cannot be trusted to still be alive, and the
// protocol gives no cheap way to probe it.
type Switcher struct {
	addr         string
	inputPresent string
	inputAbsent  string
	wakeScreen   bool

	creds *CredentialStore
	dial  func(addr string, creds *CredentialStore) (tvConn, error)
	log   *logrus.Entry
}

func newSwitcher(cfg *Config, creds *CredentialStore, log *logrus.Entry) *Switcher {
	return &Switcher{
		addr:         cfg.DeviceAddress,
		inputPresent: cfg.InputWhenPresent,
		inputAbsent:  cfg.InputWhenAbsent,
		wakeScreen:   cfg.WakeScreen(),
		creds:        creds,
		dial: func(addr string, creds *CredentialStore) (tvConn, error) {
			return dialTV(addr, creds)
		},
		log: log,
	}
}

// inputFor maps a presence state to the configured input selector.
func (s *Switcher) inputFor(state Presence) string {
	if state == PresencePresent {
		return s.inputPresent
	}
	return s.inputAbsent
}

// Switch drives the TV to the input configured for state. It never
// panics or propagates an error: every failure is logged and reported
// as a false outcome so the caller keeps running. Failed switches are
// not retried — blind retries against a stateful remote session could
// toggle the input back and forth.
func (s *Switcher) Switch(state Presence) bool {
	input := s.inputFor(state)
	s.log.Infof("keyboard %s, switching to %s", state, input)

	conn, err := s.dial(s.addr, s.creds)
	if err != nil {
		s.log.WithError(err).Error("failed to connect to TV")
		return false
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.log.WithError(err).Warn("error disconnecting from TV")
		}
	}()

	if state == PresencePresent && s.wakeScreen {
		if err := conn.TurnScreenOn(); err != nil {
			// Wake failure must never abort the input switch.
			s.log.WithError(err).Warn("could not turn screen on")
		} else {
			s.log.Info("turned TV screen on")
		}
	}

	if err := conn.LaunchApp(input); err != nil {
		s.log.WithError(err).Errorf("failed to switch to %s", input)
		return false
	}

	s.log.Infof("switched to %s", input)
	return true
}
