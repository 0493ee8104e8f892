package socket

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/vocoserve/internal/asr"
	"github.com/MrWong99/vocoserve/internal/processor"
)

type frame struct {
	typ  websocket.MessageType
	data []byte
}

// fakeConn is an in-memory wsConn: tests push inbound frames and read the
// JSON the server writes back.
type fakeConn struct {
	in     chan frame
	out    chan []byte
	closed chan struct{}
	code   websocket.StatusCode
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan frame, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case f := <-c.in:
		return f.typ, f.data, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	select {
	case c.out <- append([]byte(nil), p...):
	default:
	}
	return nil
}

func (c *fakeConn) Close(code websocket.StatusCode, _ string) error {
	select {
	case <-c.closed:
	default:
		c.code = code
		close(c.closed)
	}
	return nil
}

func (c *fakeConn) sendJSON(t *testing.T, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	c.in <- frame{typ: websocket.MessageText, data: b}
}

func (c *fakeConn) sendBinary(n int) {
	c.in <- frame{typ: websocket.MessageBinary, data: make([]byte, n)}
}

// nextMsg reads the next outbound JSON message, failing the test on timeout.
func (c *fakeConn) nextMsg(t *testing.T) map[string]any {
	t.Helper()
	select {
	case b := <-c.out:
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("unmarshal outbound %q: %v", b, err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return nil
	}
}

func (c *fakeConn) waitClosed(t *testing.T) websocket.StatusCode {
	t.Helper()
	select {
	case <-c.closed:
		return c.code
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
		return 0
	}
}

func testHandler(t *testing.T) *Handler {
	t.Helper()
	return &Handler{
		Runtime: &processor.Runtime{
			Models: []asr.Model{
				{Name: "test-model", Path: "test-model", Language: "en-US", Engine: "wave_writer"},
			},
			DefaultEngine:  "wave_writer",
			RecordingsPath: t.TempDir(),
		},
		Auth: Auth{CommonToken: "test123"},
		Info: ServerInfo{
			Version:   "0.test",
			Engine:    "wave_writer",
			Models:    []string{"test-model"},
			Languages: []string{"en-US"},
		},
		HeartbeatDelay: time.Minute,
		Timeout:        time.Minute,
		AuthFailDelay:  time.Millisecond,
	}
}

// serve runs the handler on a fake connection and returns a done channel.
func serve(h *Handler, conn *fakeConn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Serve(context.Background(), conn)
	}()
	return done
}

func welcomeMsg(msgID int, data map[string]any) ClientMessage {
	return ClientMessage{Type: TypeWelcome, MsgID: msgID, AccessToken: "test123", Data: data}
}

func TestHappyPathNonContinuous(t *testing.T) {
	conn := newFakeConn()
	done := serve(testHandler(t), conn)

	conn.sendJSON(t, welcomeMsg(1, map[string]any{"language": "en-US", "continuous": false}))

	welcome := conn.nextMsg(t)
	if welcome["type"] != "welcome" || welcome["code"] != float64(200) {
		t.Fatalf("first message = %v, want welcome 200", welcome)
	}
	info, _ := welcome["info"].(map[string]any)
	if info == nil {
		t.Fatal("welcome has no info")
	}
	opts, _ := info["options"].(map[string]any)
	if opts["model"] != "test-model" || opts["language"] != "en-US" {
		t.Errorf("welcome options = %v", opts)
	}

	conn.sendBinary(3200)
	conn.sendJSON(t, ClientMessage{Type: TypeAudioEnd, MsgID: 2})

	ack := conn.nextMsg(t)
	if ack["type"] != "response" || ack["msg_id"] != float64(2) || ack["name"] != TypeAudioEnd {
		t.Fatalf("expected audioend ack with msg_id 2, got %v", ack)
	}
	result := conn.nextMsg(t)
	if result["type"] != "result" || result["isFinal"] != true {
		t.Fatalf("expected final result after ack, got %v", result)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

func TestBinaryBeforeAuth(t *testing.T) {
	conn := newFakeConn()
	done := serve(testHandler(t), conn)

	conn.sendBinary(4096)
	msg := conn.nextMsg(t)
	if msg["type"] != "error" || msg["code"] != float64(401) || msg["name"] != "Unauthorized" {
		t.Fatalf("expected 401 Unauthorized, got %v", msg)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

func TestDuplicateWelcome(t *testing.T) {
	conn := newFakeConn()
	done := serve(testHandler(t), conn)

	conn.sendJSON(t, welcomeMsg(1, nil))
	if msg := conn.nextMsg(t); msg["type"] != "welcome" {
		t.Fatalf("expected welcome, got %v", msg)
	}

	conn.sendJSON(t, welcomeMsg(2, nil))
	msg := conn.nextMsg(t)
	if msg["type"] != "error" || msg["code"] != float64(418) || msg["name"] != "NotPossible" {
		t.Fatalf("expected 418 NotPossible, got %v", msg)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

func TestWrongToken(t *testing.T) {
	conn := newFakeConn()
	done := serve(testHandler(t), conn)

	conn.sendJSON(t, ClientMessage{Type: TypeWelcome, MsgID: 1, AccessToken: "wrong"})
	msg := conn.nextMsg(t)
	if msg["type"] != "error" || msg["code"] != float64(401) {
		t.Fatalf("expected 401, got %v", msg)
	}
	if code := conn.waitClosed(t); code != websocket.StatusPolicyViolation {
		t.Errorf("close code = %d, want %d", code, websocket.StatusPolicyViolation)
	}
	<-done
}

func TestMalformedJSON(t *testing.T) {
	conn := newFakeConn()
	done := serve(testHandler(t), conn)

	conn.in <- frame{typ: websocket.MessageText, data: []byte("{not json")}
	msg := conn.nextMsg(t)
	if msg["type"] != "error" || msg["code"] != float64(400) || msg["name"] != "InvalidMessage" {
		t.Fatalf("expected 400 InvalidMessage, got %v", msg)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

func TestAudioAfterAudioEndIsRejected(t *testing.T) {
	conn := newFakeConn()
	done := serve(testHandler(t), conn)

	conn.sendJSON(t, welcomeMsg(1, nil))
	conn.nextMsg(t) // welcome
	conn.sendJSON(t, ClientMessage{Type: TypeAudioEnd, MsgID: 2})
	conn.nextMsg(t) // ack
	conn.nextMsg(t) // final result

	conn.sendBinary(3200)
	msg := conn.nextMsg(t)
	if msg["type"] != "error" || msg["code"] != float64(400) || msg["name"] != "ProcessError" {
		t.Fatalf("expected 400 ProcessError, got %v", msg)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

func TestIdleSessionTimesOut(t *testing.T) {
	h := testHandler(t)
	h.HeartbeatDelay = 20 * time.Millisecond
	h.Timeout = 30 * time.Millisecond

	conn := newFakeConn()
	done := serve(h, conn)

	conn.sendJSON(t, welcomeMsg(1, nil))
	conn.nextMsg(t) // welcome

	deadline := time.After(2 * time.Second)
	for {
		var msg map[string]any
		select {
		case b := <-conn.out:
			if err := json.Unmarshal(b, &msg); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("no timeout error before deadline")
		}
		if msg["type"] == "ping" {
			continue
		}
		if msg["type"] == "error" && msg["code"] == float64(408) {
			break
		}
		t.Fatalf("unexpected message %v", msg)
	}
	if code := conn.waitClosed(t); code != websocket.StatusTryAgainLater {
		t.Errorf("close code = %d, want 1013", code)
	}
	<-done
}

func TestPongSuppressesOneTimeout(t *testing.T) {
	h := testHandler(t)
	h.HeartbeatDelay = 25 * time.Millisecond
	h.Timeout = 40 * time.Millisecond

	conn := newFakeConn()
	done := serve(h, conn)

	conn.sendJSON(t, welcomeMsg(1, nil))
	conn.nextMsg(t) // welcome

	// Answer pings for a while; the session must stay open well past the
	// plain timeout window even without audio.
	keepAlive := time.Now().Add(120 * time.Millisecond)
	for time.Now().Before(keepAlive) {
		select {
		case b := <-conn.out:
			var msg map[string]any
			if err := json.Unmarshal(b, &msg); err != nil {
				t.Fatal(err)
			}
			if msg["type"] == "ping" {
				conn.sendJSON(t, ClientMessage{Type: TypePong})
			}
			if msg["type"] == "error" {
				t.Fatalf("session timed out despite pongs: %v", msg)
			}
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Stop ponging; now the timeout must fire.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case b := <-conn.out:
			var msg map[string]any
			if err := json.Unmarshal(b, &msg); err != nil {
				t.Fatal(err)
			}
			if msg["type"] == "error" && msg["code"] == float64(408) {
				<-done
				return
			}
		case <-deadline:
			t.Fatal("session never timed out after pongs stopped")
		}
	}
}

func TestAuthCheck(t *testing.T) {
	a := Auth{CommonToken: "common", Clients: map[string]string{"alice": "secret"}}

	cases := []struct {
		clientID, token string
		want            bool
	}{
		{"", "common", true},
		{"anyone", "common", true},
		{"alice", "secret", true},
		{"alice", "wrong", false},
		{"bob", "secret", false},
		{"alice", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		if got := a.Check(c.clientID, c.token); got != c.want {
			t.Errorf("Check(%q, %q) = %v, want %v", c.clientID, c.token, got, c.want)
		}
	}

	empty := Auth{}
	if empty.Check("x", "y") {
		t.Error("empty auth accepted a token")
	}
}

func TestSessionMsgIDWraps(t *testing.T) {
	s := newSession(newFakeConn(), time.Minute, time.Minute)
	s.msgID = maxMsgID - 1
	if id := s.nextMsgID(); id != maxMsgID {
		t.Fatalf("id = %d, want %d", id, maxMsgID)
	}
	if id := s.nextMsgID(); id != 1 {
		t.Fatalf("id after wrap = %d, want 1", id)
	}
}
