package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/vocoserve/internal/asr"
	"github.com/MrWong99/vocoserve/internal/observe"
	"github.com/MrWong99/vocoserve/internal/processor"
)

// Auth holds the accepted credentials. Either the common token or a
// per-client entry must match the welcome message.
type Auth struct {
	// CommonToken is a single shared access token. Empty disables it.
	CommonToken string

	// Clients maps client_id to its individual token.
	Clients map[string]string
}

// Check reports whether the pair authenticates.
func (a Auth) Check(clientID, token string) bool {
	if token == "" {
		return false
	}
	if a.CommonToken != "" && token == a.CommonToken {
		return true
	}
	want, ok := a.Clients[clientID]
	return ok && token == want
}

// Session protocol states.
type sessionState int

const (
	statePreAuth sessionState = iota
	stateReady
	stateFinishing
	stateClosed
)

// DefaultAuthFailDelay throttles brute-force token guessing.
const DefaultAuthFailDelay = 3 * time.Second

// Handler drives one WebSocket connection per Serve call through the session
// protocol: welcome handshake, audio ingestion, finalization, teardown.
type Handler struct {
	Runtime *processor.Runtime
	Auth    Auth
	Info    ServerInfo

	HeartbeatDelay time.Duration
	Timeout        time.Duration
	AuthFailDelay  time.Duration

	// Metrics may be nil.
	Metrics *observe.Metrics
}

// emitter bridges engine callbacks onto the session's send pump. EngineError
// also flips the processor to reject further audio.
type emitter struct {
	sess    *Session
	proc    atomic.Pointer[processor.Processor]
	metrics *observe.Metrics
}

func (e *emitter) Transcript(r asr.Result) {
	e.metrics.RecordTranscript(context.Background(), r.IsFinal)
	e.sess.sendResult(r)
}

func (e *emitter) EngineError(message string) {
	slog.Warn("engine error", "session", e.sess.ID, "message", message)
	e.metrics.RecordProtocolError(context.Background(), "AsrEngineError")
	e.sess.sendError(asrEngineError(message))
	if p := e.proc.Load(); p != nil {
		p.Stop()
	}
}

// Serve runs the receive loop until the connection closes. It blocks for the
// lifetime of the session.
func (h *Handler) Serve(ctx context.Context, conn wsConn) {
	sess := newSession(conn, h.HeartbeatDelay, h.Timeout)
	sess.start(ctx)
	h.Metrics.SessionStarted(ctx)
	slog.Info("session opened", "session", sess.ID)

	em := &emitter{sess: sess, metrics: h.Metrics}
	state := statePreAuth
	var proc *processor.Processor

	defer func() {
		if proc != nil {
			if err := proc.Close(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("processor close failed", "session", sess.ID, "err", err)
			}
		}
		sess.close(websocket.StatusNormalClosure, "")
		sess.wait()
		h.Metrics.SessionEnded(ctx)
		slog.Info("session closed", "session", sess.ID)
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		if typ == websocket.MessageBinary {
			if state == statePreAuth {
				h.protocolError(ctx, sess, ErrUnauthorized)
				continue
			}
			sess.touch()
			h.Metrics.RecordChunk(ctx, h.Info.Engine, len(data))
			if err := proc.Process(ctx, data); err != nil {
				if errors.Is(err, processor.ErrNotAccepting) {
					h.protocolError(ctx, sess, ErrProcessError)
				} else {
					h.protocolError(ctx, sess, asrEngineError(err.Error()))
					proc.Stop()
				}
			}
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			h.protocolError(ctx, sess, ErrInvalidMessage)
			continue
		}

		switch msg.Type {
		case TypeWelcome:
			if state != statePreAuth {
				h.protocolError(ctx, sess, ErrNotPossible)
				continue
			}
			if !h.Auth.Check(msg.ClientID, msg.AccessToken) {
				slog.Info("authentication failed", "session", sess.ID, "client", msg.ClientID)
				h.authFailSleep(ctx)
				h.protocolError(ctx, sess, ErrUnauthorized)
				sess.close(websocket.StatusPolicyViolation, "authentication failed")
				return
			}
			p, err := processor.New(ctx, h.Runtime, msg.Data, em)
			if err != nil {
				slog.Warn("engine construction failed", "session", sess.ID, "err", err)
				h.protocolError(ctx, sess, chunkProcessorError(err.Error()))
				sess.close(websocket.StatusNormalClosure, "engine init failed")
				return
			}
			proc = p
			em.proc.Store(p)
			state = stateReady
			sess.markAuthenticated()
			sess.touch()
			sess.sendWelcome(h.Info, p.Options().Map())
			slog.Info("session authenticated",
				"session", sess.ID, "client", msg.ClientID, "engine", p.Options().EngineName)

		case TypeAudioEnd:
			if state != stateReady {
				h.protocolError(ctx, sess, ErrNotPossible)
				continue
			}
			state = stateFinishing
			// The acknowledgement must precede the final transcript.
			sess.sendAck(TypeAudioEnd, msg.MsgID)
			if err := proc.FinishProcessing(ctx); err != nil {
				h.protocolError(ctx, sess, asrEngineError(err.Error()))
			}

		case TypePong:
			sess.pong()

		default:
			h.protocolError(ctx, sess, ErrInvalidMessage)
		}
	}
}

func (h *Handler) protocolError(ctx context.Context, sess *Session, e Error) {
	h.Metrics.RecordProtocolError(ctx, e.Name)
	sess.sendError(e)
}

func (h *Handler) authFailSleep(ctx context.Context) {
	delay := h.AuthFailDelay
	if delay == 0 {
		delay = DefaultAuthFailDelay
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}
