package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// fakeTVServer runs a websocket endpoint speaking just enough SSAP for
// the client under test. handler receives the upgraded connection.
func fakeTVServer(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func acceptRegister(t *testing.T, conn *websocket.Conn, key string) ssapMessage {
	t.Helper()
	var reg ssapMessage
	if err := conn.ReadJSON(&reg); err != nil {
		t.Errorf("read register: %v", err)
		return reg
	}
	if reg.Type != "register" {
		t.Errorf("expected register frame, got %q", reg.Type)
	}
	conn.WriteJSON(ssapMessage{
		Type:    "registered",
		ID:      reg.ID,
		Payload: mustRaw(t, map[string]string{"client-key": key}),
	})
	return reg
}

func testCreds(t *testing.T) *CredentialStore {
	t.Helper()
	s, err := openCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))
	if err != nil {
		t.Fatalf("open credential store: %v", err)
	}
	return s
}

func TestDialTVPairsAndStoresKey(t *testing.T) {
	addr := fakeTVServer(t, func(conn *websocket.Conn) {
		var reg ssapMessage
		if err := conn.ReadJSON(&reg); err != nil {
			t.Errorf("read register: %v", err)
			return
		}
		var payload map[string]any
		json.Unmarshal(reg.Payload, &payload)
		if _, hasKey := payload["client-key"]; hasKey {
			t.Errorf("fresh pairing must not send a client-key")
		}
		// Prompt shown on screen first, then the grant.
		conn.WriteJSON(ssapMessage{Type: "response", ID: reg.ID,
			Payload: mustRaw(t, map[string]string{"pairingType": "PROMPT"})})
		conn.WriteJSON(ssapMessage{Type: "registered", ID: reg.ID,
			Payload: mustRaw(t, map[string]string{"client-key": "granted-key"})})
	})

	creds := testCreds(t)
	tv, err := dialTV(addr, creds)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	tv.Close()

	if got := creds.Key(addr); got != "granted-key" {
		t.Fatalf("expected granted key to be persisted, got %q", got)
	}
}

func TestDialTVSendsStoredKey(t *testing.T) {
	gotKey := make(chan string, 1)
	addr := fakeTVServer(t, func(conn *websocket.Conn) {
		var reg ssapMessage
		if err := conn.ReadJSON(&reg); err != nil {
			return
		}
		var payload struct {
			ClientKey string `json:"client-key"`
		}
		json.Unmarshal(reg.Payload, &payload)
		gotKey <- payload.ClientKey
		conn.WriteJSON(ssapMessage{Type: "registered", ID: reg.ID,
			Payload: mustRaw(t, map[string]string{"client-key": payload.ClientKey})})
	})

	creds := testCreds(t)
	if err := creds.SetKey(addr, "stored-key"); err != nil {
		t.Fatalf("seed key: %v", err)
	}

	tv, err := dialTV(addr, creds)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	tv.Close()

	if k := <-gotKey; k != "stored-key" {
		t.Fatalf("expected stored key in register payload, got %q", k)
	}
}

func TestLaunchApp(t *testing.T) {
	addr := fakeTVServer(t, func(conn *websocket.Conn) {
		acceptRegister(t, conn, "k")

		var req ssapMessage
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.URI != uriLaunch {
			t.Errorf("expected %s, got %s", uriLaunch, req.URI)
		}
		var payload struct {
			ID string `json:"id"`
		}
		json.Unmarshal(req.Payload, &payload)
		if payload.ID != "com.webos.app.hdmi2" {
			t.Errorf("expected hdmi2 app id, got %q", payload.ID)
		}
		conn.WriteJSON(ssapMessage{Type: "response", ID: req.ID,
			Payload: mustRaw(t, map[string]bool{"returnValue": true})})
	})

	tv, err := dialTV(addr, testCreds(t))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tv.Close()

	if err := tv.LaunchApp("com.webos.app.hdmi2"); err != nil {
		t.Fatalf("launch: %v", err)
	}
}

func TestTurnScreenOn(t *testing.T) {
	addr := fakeTVServer(t, func(conn *websocket.Conn) {
		acceptRegister(t, conn, "k")

		var req ssapMessage
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.URI != uriTurnScreenOn {
			t.Errorf("expected %s, got %s", uriTurnScreenOn, req.URI)
		}
		conn.WriteJSON(ssapMessage{Type: "response", ID: req.ID,
			Payload: mustRaw(t, map[string]bool{"returnValue": true})})
	})

	tv, err := dialTV(addr, testCreds(t))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tv.Close()

	if err := tv.TurnScreenOn(); err != nil {
		t.Fatalf("turn screen on: %v", err)
	}
}

func TestRequestErrorText(t *testing.T) {
	addr := fakeTVServer(t, func(conn *websocket.Conn) {
		acceptRegister(t, conn, "k")

		var req ssapMessage
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		conn.WriteJSON(ssapMessage{Type: "response", ID: req.ID,
			Payload: mustRaw(t, map[string]any{"returnValue": false, "errorText": "no such app"})})
	})

	tv, err := dialTV(addr, testCreds(t))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tv.Close()

	err = tv.LaunchApp("bogus")
	if err == nil || !strings.Contains(err.Error(), "no such app") {
		t.Fatalf("expected errorText in error, got %v", err)
	}
}

func TestRequestSkipsUnsolicitedFrames(t *testing.T) {
	addr := fakeTVServer(t, func(conn *websocket.Conn) {
		acceptRegister(t, conn, "k")

		var req ssapMessage
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		// A frame for a different id must not be taken as the answer.
		conn.WriteJSON(ssapMessage{Type: "response", ID: "sub_99",
			Payload: mustRaw(t, map[string]bool{"returnValue": false})})
		conn.WriteJSON(ssapMessage{Type: "response", ID: req.ID,
			Payload: mustRaw(t, map[string]bool{"returnValue": true})})
	})

	tv, err := dialTV(addr, testCreds(t))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tv.Close()

	if err := tv.LaunchApp("com.webos.app.hdmi2"); err != nil {
		t.Fatalf("launch: %v", err)
	}
}

func TestDialTVRegistrationRejected(t *testing.T) {
	addr := fakeTVServer(t, func(conn *websocket.Conn) {
		var reg ssapMessage
		if err := conn.ReadJSON(&reg); err != nil {
			return
		}
		conn.WriteJSON(ssapMessage{Type: "error", ID: reg.ID, Error: "403 denied"})
	})

	if _, err := dialTV(addr, testCreds(t)); err == nil {
		t.Fatalf("expected registration rejection to fail the dial")
	}
}
