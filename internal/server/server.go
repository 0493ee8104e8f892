// Package server provides the HTTP surface of vocoserve: the WebSocket
// speech endpoint plus the small JSON API clients use to discover the
// server before connecting.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vocoserve/internal/asr"
	"github.com/MrWong99/vocoserve/internal/health"
	"github.com/MrWong99/vocoserve/internal/observe"
	"github.com/MrWong99/vocoserve/internal/socket"
)

// maxAudioMessage bounds inbound WebSocket messages. Clients stream audio
// in small chunks; anything near this size is not audio.
const maxAudioMessage = 1 << 20

// shutdownGrace is how long Run waits for in-flight requests on shutdown.
const shutdownGrace = 15 * time.Second

// Server serves the vocoserve HTTP API and WebSocket endpoint.
type Server struct {
	// Addr is the TCP address to listen on (e.g. "0.0.0.0:20741").
	Addr string

	// CORSOrigins lists allowed WebSocket origin patterns. "*" allows any.
	CORSOrigins []string

	// Socket handles accepted WebSocket connections.
	Socket *socket.Handler

	// Models are the configured recognizer models, exposed via /settings.
	Models []asr.Model

	// SpeakerModels are the names of configured speaker identification
	// models, exposed via /settings.
	SpeakerModels []string

	// Health serves the liveness and readiness probes. Nil registers a
	// probe handler without checks.
	Health *health.Handler

	// Metrics may be nil; the middleware then only traces.
	Metrics *observe.Metrics
}

// pingResponse is the body of GET /ping.
type pingResponse struct {
	Result  string `json:"result"`
	Server  string `json:"server"`
	Version string `json:"version"`
}

// settingsResponse is the body of GET /settings: everything a client needs
// to decide what to request in its welcome message.
type settingsResponse struct {
	Result        string            `json:"result"`
	Settings      socket.ServerInfo `json:"settings"`
	Models        []modelInfo       `json:"models"`
	SpeakerModels []string          `json:"speaker_models,omitempty"`
}

// modelInfo is the per-model block inside /settings.
type modelInfo struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Engine   string `json:"engine,omitempty"`
	Task     string `json:"task,omitempty"`
}

// Routes builds the full handler chain: API routes, probes, metrics and the
// WebSocket endpoint, wrapped in the observability middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /settings", s.handleSettings)
	mux.HandleFunc("GET /online", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	h := s.Health
	if h == nil {
		h = health.New()
	}
	h.Register(mux)

	mux.HandleFunc("/", s.handleSocket)

	return observe.Middleware(s.Metrics)(mux)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, pingResponse{
		Result:  "success",
		Server:  "vocoserve",
		Version: s.Socket.Info.Version,
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, _ *http.Request) {
	models := make([]modelInfo, len(s.Models))
	for i, m := range s.Models {
		models[i] = modelInfo{
			Name:     m.Name,
			Language: m.Language,
			Engine:   m.Engine,
			Task:     m.Task,
		}
	}
	writeJSON(w, http.StatusOK, settingsResponse{
		Result:        "success",
		Settings:      s.Socket.Info,
		Models:        models,
		SpeakerModels: s.SpeakerModels,
	})
}

// handleSocket upgrades the connection and hands it to the session handler.
// It blocks for the lifetime of the session.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.CORSOrigins,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(maxAudioMessage)

	s.Socket.Serve(r.Context(), conn)
	conn.Close(websocket.StatusNormalClosure, "")
}

// Run listens on Addr and serves until ctx is cancelled, then shuts down
// gracefully. It returns nil on clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %q: %w", s.Addr, err)
	}

	srv := &http.Server{
		Handler:     s.Routes(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"result":"fail"}`, http.StatusInternalServerError)
	}
}
