// Package processor dispatches a session's audio to the engine its welcome
// data and the server configuration resolve to, and owns the engine lifecycle
// on behalf of the session.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/vocoserve/internal/asr"
	"github.com/MrWong99/vocoserve/internal/asr/kaldi"
	"github.com/MrWong99/vocoserve/internal/asr/whisper"
	"github.com/MrWong99/vocoserve/internal/textproc"
)

// EngineDynamic defers the engine choice to the selected model's "engine"
// property.
const EngineDynamic = "dynamic"

var (
	// ErrNotAccepting is returned by Process when the processor no longer
	// takes audio, either because finishing started or the engine failed.
	ErrNotAccepting = errors.New("processor: not accepting audio")

	// ErrUnknownEngine is returned for an engine name nothing is registered
	// under.
	ErrUnknownEngine = errors.New("processor: unknown engine")
)

// Runtime bundles the server-wide resources engines are built from.
type Runtime struct {
	// Models is the configured model catalog in configuration order.
	Models []asr.Model

	// DefaultEngine is the server-wide engine name, possibly
	// [EngineDynamic].
	DefaultEngine string

	// WhisperCache serves model leases to whisper engines. Nil when no
	// whisper model is configured.
	WhisperCache *whisper.Cache

	// RecordingsPath is where the wave_writer engine stores files.
	RecordingsPath string
}

// Processor owns one engine instance for one session.
type Processor struct {
	eng  asr.Engine
	opts asr.Options

	mu           sync.Mutex
	isOpen       bool
	acceptChunks bool

	closeOnce sync.Once
	closeErr  error
}

// New resolves model and engine for the client's welcome data and constructs
// the engine. The emitter is wrapped so final transcripts pass through the
// text post-processors when the client asked for optimized results.
func New(ctx context.Context, rt *Runtime, data map[string]any, em asr.Emitter) (*Processor, error) {
	o := asr.ParseOptions(data)

	model, err := asr.SelectModel(rt.Models, o)
	if err != nil {
		return nil, err
	}
	o.ApplyModel(model)

	// The model's engine property only decides when the server runs in
	// dynamic mode; otherwise the server-wide engine applies to all models.
	name := rt.DefaultEngine
	if name == EngineDynamic {
		if model.Engine == "" {
			return nil, fmt.Errorf("%w: model %q has no engine property", ErrUnknownEngine, model.Name)
		}
		name = model.Engine
	}
	o.EngineName = name

	eng, err := buildEngine(ctx, name, o, &optimizingEmitter{next: em, opts: o}, rt)
	if err != nil {
		return nil, err
	}

	slog.Info("chunk processor ready",
		"engine", name, "model", model.Name, "language", o.Language, "continuous", o.Continuous)
	return &Processor{eng: eng, opts: eng.Options(), isOpen: true, acceptChunks: true}, nil
}

func buildEngine(ctx context.Context, name string, o asr.Options, em asr.Emitter, rt *Runtime) (asr.Engine, error) {
	switch name {
	case "whisper":
		if rt.WhisperCache == nil {
			return nil, fmt.Errorf("%w: whisper cache not configured", ErrUnknownEngine)
		}
		return whisper.New(o, em, rt.WhisperCache)
	case "kaldi", "vosk":
		return kaldi.New(ctx, o, em)
	case "wave_writer":
		return newWaveWriter(o, em, rt.RecordingsPath), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
}

// Options returns the resolved engine options reported in the welcome
// response.
func (p *Processor) Options() asr.Options { return p.opts }

// Accepting reports whether Process currently takes chunks.
func (p *Processor) Accepting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isOpen && p.acceptChunks
}

// Stop makes Process reject further chunks without touching the engine. The
// session calls this when the engine reported an asynchronous failure.
func (p *Processor) Stop() {
	p.mu.Lock()
	p.acceptChunks = false
	p.mu.Unlock()
}

// Process forwards one PCM chunk to the engine.
func (p *Processor) Process(ctx context.Context, chunk []byte) error {
	p.mu.Lock()
	ok := p.isOpen && p.acceptChunks
	p.mu.Unlock()
	if !ok {
		return ErrNotAccepting
	}
	return p.eng.Process(ctx, chunk)
}

// FinishProcessing stops accepting audio and asks the engine for its last
// result. Safe to call once per session; later chunks get ErrNotAccepting.
func (p *Processor) FinishProcessing(ctx context.Context) error {
	p.mu.Lock()
	if !p.isOpen {
		p.mu.Unlock()
		return ErrNotAccepting
	}
	p.acceptChunks = false
	p.mu.Unlock()
	return p.eng.Finish(ctx)
}

// Close shuts the engine down exactly once, waiting for in-flight inference
// and releasing any model lease.
func (p *Processor) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.isOpen = false
		p.acceptChunks = false
		p.mu.Unlock()
		p.closeErr = p.eng.Close(ctx)
	})
	return p.closeErr
}

// optimizingEmitter rewrites final transcripts through the language's text
// post-processors. A panicking optimizer falls back to the raw transcript.
type optimizingEmitter struct {
	next asr.Emitter
	opts asr.Options
}

func (e *optimizingEmitter) Transcript(r asr.Result) {
	if r.IsFinal && e.opts.OptimizeFinalResult && r.Text != "" {
		r.Text = optimize(e.opts.LanguageShort, r.Text)
	}
	e.next.Transcript(r)
}

func (e *optimizingEmitter) EngineError(message string) { e.next.EngineError(message) }

func optimize(langShort, text string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("text optimizer failed, using raw transcript", "err", r)
			out = text
		}
	}()
	return textproc.OptimizeFinalResult(langShort, text)
}
