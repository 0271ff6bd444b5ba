package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// tvConn is what the switch executor needs from a television connection.
// *webosClient is the real implementation.
type tvConn interface {
	TurnScreenOn() error
	LaunchApp(appID string) error
	Close() error
}

const (
	ssapPort        = 3000
	ssapDialTimeout = 10 * time.Second
	ssapReadTimeout = 15 * time.Second
	pairingTimeout  = 60 * time.Second
	uriLaunch       = "ssap://system.launcher/launch"
	uriTurnScreenOn = "ssap://com.webos.service.tvpower/power/turnOnScreen"
)

// ssapMessage is the envelope for every frame on a webOS SSAP socket.
type ssapMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	URI     string          `json:"uri,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// registerManifest is the permission manifest sent during pairing. The TV
// shows a prompt the first time and grants a client-key scoped to it.
var registerManifest = map[string]any{
	"manifestVersion": 1,
	"permissions": []string{
		"LAUNCH",
		"LAUNCH_WEBAPP",
		"CONTROL_POWER",
		"CONTROL_DISPLAY",
		"READ_RUNNING_APPS",
	},
}

// webosClient is one short-lived SSAP session. A client is dialed, used
// for a single switch action, and closed; sessions are never reused.
type webosClient struct {
	conn   *websocket.Conn
	nextID int
}

// dialTV opens a websocket to the television and completes the register
// handshake. A pairing key from creds is offered if one exists; a newly
// granted key is written back so the prompt appears only once.
func dialTV(addr string, creds *CredentialStore) (*webosClient, error) {
	host := addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		host = net.JoinHostPort(addr, strconv.Itoa(ssapPort))
	}
	u := url.URL{Scheme: "ws", Host: host}

	dialer := websocket.Dialer{HandshakeTimeout: ssapDialTimeout}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial tv %s: %w", addr, err)
	}

	c := &webosClient{conn: conn}
	if err := c.register(addr, creds); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *webosClient) register(addr string, creds *CredentialStore) error {
	payload := map[string]any{"manifest": registerManifest}
	key := creds.Key(addr)
	if key != "" {
		payload["client-key"] = key
	} else {
		payload["pairingType"] = "PROMPT"
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode register payload: %w", err)
	}

	req := ssapMessage{Type: "register", ID: "register_0", Payload: raw}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send register: %w", err)
	}

	// With a stored key the TV answers "registered" immediately. Without
	// one it first answers "response" (prompt shown on screen) and sends
	// "registered" once the user accepts, so allow a generous deadline.
	deadline := ssapReadTimeout
	if key == "" {
		deadline = pairingTimeout
	}
	c.conn.SetReadDeadline(time.Now().Add(deadline))

	for {
		var resp ssapMessage
		if err := c.conn.ReadJSON(&resp); err != nil {
			return fmt.Errorf("read register response: %w", err)
		}
		switch resp.Type {
		case "registered":
			var granted struct {
				ClientKey string `json:"client-key"`
			}
			if err := json.Unmarshal(resp.Payload, &granted); err != nil {
				return fmt.Errorf("parse registered payload: %w", err)
			}
			if granted.ClientKey != "" && granted.ClientKey != key {
				if err := creds.SetKey(addr, granted.ClientKey); err != nil {
					return fmt.Errorf("store pairing key: %w", err)
				}
			}
			c.conn.SetReadDeadline(time.Time{})
			return nil
		case "response":
			// Pairing prompt is on screen; keep waiting.
			continue
		case "error":
			return fmt.Errorf("tv rejected registration: %s", resp.Error)
		default:
			return fmt.Errorf("unexpected register reply type %q", resp.Type)
		}
	}
}

// request sends one SSAP request and waits for its matching response.
func (c *webosClient) request(uri string, payload any) error {
	c.nextID++
	id := strconv.Itoa(c.nextID)

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		raw = data
	}

	req := ssapMessage{Type: "request", ID: id, URI: uri, Payload: raw}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send %s: %w", uri, err)
	}

	c.conn.SetReadDeadline(time.Now().Add(ssapReadTimeout))
	for {
		var resp ssapMessage
		if err := c.conn.ReadJSON(&resp); err != nil {
			return fmt.Errorf("read response for %s: %w", uri, err)
		}
		if resp.ID != id {
			// Unsolicited frame (subscription leftovers, etc.) — skip.
			continue
		}
		if resp.Type == "error" {
			return fmt.Errorf("%s: %s", uri, resp.Error)
		}
		var result struct {
			ReturnValue bool   `json:"returnValue"`
			ErrorText   string `json:"errorText"`
		}
		if len(resp.Payload) > 0 {
			if err := json.Unmarshal(resp.Payload, &result); err != nil {
				return fmt.Errorf("parse response for %s: %w", uri, err)
			}
		}
		if !result.ReturnValue {
			if result.ErrorText == "" {
				result.ErrorText = "request failed"
			}
			return fmt.Errorf("%s: %s", uri, result.ErrorText)
		}
		return nil
	}
}

// TurnScreenOn wakes the panel out of screen-off standby.
func (c *webosClient) TurnScreenOn() error {
	return c.request(uriTurnScreenOn, map[string]string{"standbyMode": "active"})
}

// LaunchApp switches the TV to the given app, e.g. "com.webos.app.hdmi2".
func (c *webosClient) LaunchApp(appID string) error {
	return c.request(uriLaunch, map[string]string{"id": appID})
}

func (c *webosClient) Close() error {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
