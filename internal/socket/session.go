package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/vocoserve/internal/asr"
)

// Defaults for the liveness machinery.
const (
	DefaultHeartbeatDelay = 10 * time.Second
	DefaultTimeout        = 15 * time.Second

	maxMsgID     = 999999
	maxSessionID = 9999
)

// wsConn is the subset of *websocket.Conn the session uses, abstracted for
// tests.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

var sessionCounter atomic.Int64

func nextSessionID() string {
	n := (sessionCounter.Add(1)-1)%maxSessionID + 1
	return fmt.Sprintf("%d-%d", n, time.Now().Unix())
}

// Session owns one client connection. All outbound JSON goes through a single
// send pump so heartbeats, errors and results never interleave mid-frame, and
// every message carries the session's monotonic msg_id.
type Session struct {
	ID string

	conn           wsConn
	heartbeatDelay time.Duration
	timeout        time.Duration

	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu            sync.Mutex
	msgID         int
	lastActivity  time.Time
	pongGrace     bool
	authenticated bool
	closeCode     websocket.StatusCode
	closeReason   string
}

func newSession(conn wsConn, heartbeatDelay, timeout time.Duration) *Session {
	if heartbeatDelay <= 0 {
		heartbeatDelay = DefaultHeartbeatDelay
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Session{
		ID:             nextSessionID(),
		conn:           conn,
		heartbeatDelay: heartbeatDelay,
		timeout:        timeout,
		out:            make(chan []byte, 64),
		closed:         make(chan struct{}),
		lastActivity:   time.Now(),
		closeCode:      websocket.StatusNormalClosure,
	}
}

// start launches the send pump and the heartbeat.
func (s *Session) start(ctx context.Context) {
	s.wg.Add(2)
	go s.writeLoop(ctx)
	go s.heartbeat()
}

// touch records data activity. Only binary audio and the initial welcome
// count; pongs go through pong instead.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// pong suppresses the next timeout check without resetting the data-activity
// clock, so a client that pongs but never sends audio still times out.
func (s *Session) pong() {
	s.mu.Lock()
	s.pongGrace = true
	s.mu.Unlock()
}

func (s *Session) markAuthenticated() {
	s.mu.Lock()
	s.authenticated = true
	s.mu.Unlock()
}

// Authenticated reports whether a valid welcome was processed.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

func (s *Session) nextMsgID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgID++
	if s.msgID > maxMsgID {
		s.msgID = 1
	}
	return s.msgID
}

func (s *Session) send(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal outbound message", "session", s.ID, "err", err)
		return
	}
	select {
	case s.out <- b:
	case <-s.closed:
	}
}

func (s *Session) sendWelcome(info ServerInfo, options map[string]any) {
	s.send(welcomeMessage{
		Type:  TypeWelcome,
		MsgID: s.nextMsgID(),
		Code:  200,
		Info:  welcomeInfo{ServerInfo: info, Options: options},
	})
}

// sendAck acknowledges an inbound request by echoing its msg_id.
func (s *Session) sendAck(name string, inboundID int) {
	s.send(responseMessage{Type: "response", MsgID: inboundID, Code: 200, Name: name})
}

func (s *Session) sendResult(r asr.Result) {
	s.send(resultMessage{
		Type:         "result",
		MsgID:        s.nextMsgID(),
		Code:         200,
		Transcript:   r.Text,
		IsFinal:      r.IsFinal,
		Confidence:   r.Confidence,
		Duration:     r.Duration,
		Features:     r.Features,
		Alternatives: r.Alternatives,
	})
}

func (s *Session) sendPing() {
	s.send(pingMessage{Type: "ping", MsgID: s.nextMsgID(), Code: 200})
}

func (s *Session) sendError(e Error) {
	s.send(errorMessage{
		Type:    "error",
		MsgID:   s.nextMsgID(),
		Code:    e.Code,
		Name:    e.Name,
		Message: e.Message,
	})
}

// close shuts the session down exactly once. The send pump drains queued
// messages before the socket closes, so a final error still reaches the
// client.
func (s *Session) close(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeCode = code
		s.closeReason = reason
		s.mu.Unlock()
		close(s.closed)
	})
}

// wait blocks until the pump and heartbeat have exited.
func (s *Session) wait() { s.wg.Wait() }

func (s *Session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.out:
			s.write(ctx, msg)
		case <-s.closed:
			for {
				select {
				case msg := <-s.out:
					s.write(ctx, msg)
				default:
					s.mu.Lock()
					code, reason := s.closeCode, s.closeReason
					s.mu.Unlock()
					_ = s.conn.Close(code, reason)
					return
				}
			}
		case <-ctx.Done():
			_ = s.conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
	}
}

func (s *Session) write(ctx context.Context, msg []byte) {
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.conn.Write(wctx, websocket.MessageText, msg); err != nil {
		slog.Debug("socket write failed", "session", s.ID, "err", err)
	}
}

func (s *Session) heartbeat() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.heartbeatDelay)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case now := <-ticker.C:
			if s.timedOut(now) {
				slog.Info("session timed out", "session", s.ID)
				s.sendError(ErrTimeout)
				s.close(websocket.StatusTryAgainLater, "session timeout")
				return
			}
			s.sendPing()
		}
	}
}

func (s *Session) timedOut(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pongGrace {
		s.pongGrace = false
		return false
	}
	return now.Sub(s.lastActivity) > s.timeout
}
