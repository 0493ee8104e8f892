package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/vocoserve/internal/asr"
	"github.com/MrWong99/vocoserve/internal/processor"
	"github.com/MrWong99/vocoserve/internal/socket"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	models := []asr.Model{
		{Name: "test-model", Path: "test-model", Language: "en-US", Engine: "wave_writer"},
	}
	return &Server{
		CORSOrigins: []string{"*"},
		Models:      models,
		Socket: &socket.Handler{
			Runtime: &processor.Runtime{
				Models:         models,
				DefaultEngine:  "wave_writer",
				RecordingsPath: t.TempDir(),
			},
			Auth: socket.Auth{CommonToken: "test123"},
			Info: socket.ServerInfo{
				Version:   "0.test",
				Engine:    "wave_writer",
				Models:    []string{"test-model"},
				Languages: []string{"en-US"},
			},
			HeartbeatDelay: time.Minute,
			Timeout:        time.Minute,
			AuthFailDelay:  time.Millisecond,
		},
	}
}

func getJSON(t *testing.T, ts *httptest.Server, path string) (int, map[string]any) {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode, body
}

func TestPing(t *testing.T) {
	ts := httptest.NewServer(testServer(t).Routes())
	defer ts.Close()

	status, body := getJSON(t, ts, "/ping")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["result"] != "success" || body["server"] != "vocoserve" || body["version"] != "0.test" {
		t.Errorf("body = %v", body)
	}
}

func TestSettings(t *testing.T) {
	ts := httptest.NewServer(testServer(t).Routes())
	defer ts.Close()

	status, body := getJSON(t, ts, "/settings")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	settings, _ := body["settings"].(map[string]any)
	if settings["engine"] != "wave_writer" {
		t.Errorf("settings = %v", settings)
	}
	models, _ := body["models"].([]any)
	if len(models) != 1 {
		t.Fatalf("models = %v", models)
	}
	m, _ := models[0].(map[string]any)
	if m["name"] != "test-model" || m["language"] != "en-US" {
		t.Errorf("model = %v", m)
	}
}

func TestOnline(t *testing.T) {
	ts := httptest.NewServer(testServer(t).Routes())
	defer ts.Close()

	status, _ := getJSON(t, ts, "/online")
	if status != http.StatusNoContent {
		t.Errorf("status = %d, want 204", status)
	}
}

func TestHealthz(t *testing.T) {
	ts := httptest.NewServer(testServer(t).Routes())
	defer ts.Close()

	status, body := getJSON(t, ts, "/healthz")
	if status != http.StatusOK || body["status"] != "ok" {
		t.Errorf("status = %d, body = %v", status, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := httptest.NewServer(testServer(t).Routes())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

// TestWebSocketSession runs a full session over a real WebSocket upgrade:
// welcome handshake, one audio chunk, audioend, final result.
func TestWebSocketSession(t *testing.T) {
	ts := httptest.NewServer(testServer(t).Routes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	writeJSONMsg := func(v any) {
		t.Helper()
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	readMsg := func() map[string]any {
		t.Helper()
		_, b, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("unmarshal %q: %v", b, err)
		}
		return m
	}

	writeJSONMsg(socket.ClientMessage{
		Type:        socket.TypeWelcome,
		MsgID:       1,
		AccessToken: "test123",
		Data:        map[string]any{"language": "en-US"},
	})
	welcome := readMsg()
	if welcome["type"] != "welcome" || welcome["code"] != float64(200) {
		t.Fatalf("welcome = %v", welcome)
	}

	if err := conn.Write(ctx, websocket.MessageBinary, make([]byte, 3200)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	writeJSONMsg(socket.ClientMessage{Type: socket.TypeAudioEnd, MsgID: 2})

	ack := readMsg()
	if ack["type"] != "response" || ack["name"] != socket.TypeAudioEnd {
		t.Fatalf("ack = %v", ack)
	}
	result := readMsg()
	if result["type"] != "result" || result["isFinal"] != true {
		t.Fatalf("result = %v", result)
	}
}

func TestWebSocketUnknownPathIs404(t *testing.T) {
	ts := httptest.NewServer(testServer(t).Routes())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	s := testServer(t)
	s.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Give the listener a moment, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
