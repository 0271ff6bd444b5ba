package main

// IPCRequest is sent from the CLI client to the daemon.
type IPCRequest struct {
	Command string `json:"command"` // "status"
}

// IPCResponse is sent from the daemon back to the CLI client.
type IPCResponse struct {
	Presence   string `json:"presence,omitempty"`    // "unknown", "present", "absent"
	Device     string `json:"device,omitempty"`      // display name of the tracked keyboard
	LastSwitch string `json:"last_switch,omitempty"` // "ok", "failed", or "" if none yet
	Error      string `json:"error,omitempty"`
}
