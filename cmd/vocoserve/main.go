// Command vocoserve is the main entry point for the vocoserve
// speech-to-text WebSocket server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MrWong99/vocoserve/internal/asr"
	"github.com/MrWong99/vocoserve/internal/asr/whisper"
	"github.com/MrWong99/vocoserve/internal/config"
	"github.com/MrWong99/vocoserve/internal/health"
	"github.com/MrWong99/vocoserve/internal/observe"
	"github.com/MrWong99/vocoserve/internal/processor"
	"github.com/MrWong99/vocoserve/internal/server"
	"github.com/MrWong99/vocoserve/internal/socket"
)

// version is overridden at build time via -ldflags.
var version = "0.9.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("settings", "config.yaml", "path to the YAML settings file")
	port := flag.Int("port", 0, "override the configured server port")
	engine := flag.String("engine", "", "override the configured engine (whisper, kaldi, vosk, wave_writer, dynamic)")
	model := flag.String("model", "", "restrict the catalog to the named model")
	recordings := flag.String("recordings", "", "override the configured recordings folder")
	logLevel := flag.String("log-level", "", "override the configured log level (debug, info, warn, error)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vocoserve: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vocoserve: %v\n", err)
		}
		return 1
	}
	if err := applyOverrides(cfg, *port, *engine, *model, *recordings, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "vocoserve: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	slog.Info("vocoserve starting",
		"version", version,
		"config", *configPath,
		"addr", addr,
		"engine", cfg.ASR.Engine,
		"models", len(cfg.ASR.Models),
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "vocoserve",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Runtime wiring ────────────────────────────────────────────────────────
	models := cfg.Models()
	rt := &processor.Runtime{
		Models:         models,
		DefaultEngine:  string(cfg.ASR.Engine),
		RecordingsPath: cfg.Recordings,
	}
	if usesWhisper(cfg) {
		rt.WhisperCache = whisper.NewCache(
			cfg.Whisper.ModelsDir,
			cfg.Whisper.CacheSize,
			whisper.WithThreadsPerModel(cfg.Whisper.ThreadsPerModel),
		)
		defer func() {
			if err := rt.WhisperCache.Close(); err != nil {
				slog.Warn("model cache close error", "err", err)
			}
		}()
	}

	printStartupSummary(cfg, addr)

	speakerModels := make([]string, 0, len(cfg.ASR.SpeakerModels))
	for _, m := range cfg.ASR.SpeakerModels {
		name := m.Name
		if name == "" {
			name = m.Path
		}
		speakerModels = append(speakerModels, name)
	}

	srv := &server.Server{
		Addr:          addr,
		CORSOrigins:   cfg.Server.CORSOrigins,
		Models:        models,
		SpeakerModels: speakerModels,
		Metrics:       metrics,
		Health:        health.New(healthChecks(cfg)...),
		Socket: &socket.Handler{
			Runtime:        rt,
			Auth:           socket.Auth{CommonToken: cfg.Auth.CommonToken, Clients: cfg.Auth.Clients},
			Info:           serverInfo(cfg, models),
			HeartbeatDelay: cfg.Server.Heartbeat(),
			Timeout:        cfg.Server.IdleTimeout(),
			Metrics:        metrics,
		},
	}

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyOverrides folds CLI flags into the loaded config and re-validates.
func applyOverrides(cfg *config.Config, port int, engine, model, recordings, logLevel string) error {
	if port != 0 {
		cfg.Server.Port = port
	}
	if engine != "" {
		cfg.ASR.Engine = config.Engine(engine)
	}
	if model != "" {
		var kept []config.ModelConfig
		for _, m := range cfg.ASR.Models {
			name := m.Name
			if name == "" {
				name = m.Path
			}
			if name == model {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			return fmt.Errorf("model %q is not in the configured catalog", model)
		}
		cfg.ASR.Models = kept
	}
	if recordings != "" {
		cfg.Recordings = recordings
	}
	if logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(logLevel)
	}
	return config.Validate(cfg)
}

// serverInfo builds the capability descriptor reported in welcome responses
// and on GET /settings.
func serverInfo(cfg *config.Config, models []asr.Model) socket.ServerInfo {
	names := make([]string, len(models))
	langSeen := make(map[string]bool)
	var langs []string
	for i, m := range models {
		names[i] = m.Name
		if tag, _ := asr.NormalizeLanguage(m.Language); tag != "" && !langSeen[tag] {
			langSeen[tag] = true
			langs = append(langs, tag)
		}
	}
	return socket.ServerInfo{
		Version:   version,
		Engine:    string(cfg.ASR.Engine),
		Models:    names,
		Languages: langs,
		Features:  []string{"partial_results", "alternatives", "text_optimization"},
	}
}

// usesWhisper reports whether any configured model can run on the local
// whisper engine.
func usesWhisper(cfg *config.Config) bool {
	if cfg.ASR.Engine == config.EngineWhisper {
		return true
	}
	if cfg.ASR.Engine == config.EngineDynamic {
		for _, m := range cfg.ASR.Models {
			if m.Engine == config.EngineWhisper {
				return true
			}
		}
	}
	return false
}

// healthChecks builds the readiness probes: the models folder must exist
// when whisper is in play and the recordings folder must be creatable.
func healthChecks(cfg *config.Config) []health.Checker {
	var checks []health.Checker
	if usesWhisper(cfg) {
		dir := cfg.Whisper.ModelsDir
		checks = append(checks, health.Checker{
			Name: "models_dir",
			Check: func(context.Context) error {
				info, err := os.Stat(dir)
				if err != nil {
					return err
				}
				if !info.IsDir() {
					return fmt.Errorf("%q is not a directory", dir)
				}
				return nil
			},
		})
	}
	recDir := cfg.Recordings
	checks = append(checks, health.Checker{
		Name: "recordings_dir",
		Check: func(context.Context) error {
			return os.MkdirAll(recDir, 0o755)
		},
	})
	return checks
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, addr string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        vocoserve — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Engine", string(cfg.ASR.Engine))
	printRow("Models", strconv.Itoa(len(cfg.ASR.Models)))
	for _, m := range cfg.ASR.Models {
		name := m.Name
		if name == "" {
			name = m.Path
		}
		printRow("  "+m.Lang, name)
	}
	printRow("Recordings", cfg.Recordings)
	printRow("Listen addr", addr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
