// Package kaldi provides a true streaming speech recognition engine backed by
// a Kaldi/Vosk recognizer. Unlike the buffered whisper engine it produces
// native low-latency partials: every audio chunk is forwarded immediately and
// the recognizer decides on its own when an utterance is final.
//
// The recognizer itself runs out of process; see [DialRemote] for the
// WebSocket client speaking the vosk-server protocol.
package kaldi

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/vocoserve/internal/asr"
)

// Compile-time assertion that Engine satisfies asr.Engine.
var _ asr.Engine = (*Engine)(nil)

// Event is one recognizer callback: either an interim guess for the current
// utterance or a final the recognizer will not revise.
type Event struct {
	Text         string
	Confidence   float64
	IsFinal      bool
	Alternatives []asr.Alternative
	Words        []asr.Word
}

// Recognizer is a streaming decoder. Feed pushes audio, Finalize asks for the
// last result covering all pending audio, and Events delivers results until
// the recognizer shuts down (the channel is closed at most once, after the
// post-Finalize final or on Close).
type Recognizer interface {
	Feed(ctx context.Context, chunk []byte) error
	Finalize(ctx context.Context) error
	Events() <-chan Event
	Close() error
}

// Engine adapts a Recognizer to the asr.Engine contract. In continuous mode
// every recognizer final is emitted as its own final result. Otherwise finals
// accumulate and are reported to the client as growing partials; the single
// combined final is emitted from Finish.
type Engine struct {
	opts asr.Options
	em   asr.Emitter
	rec  Recognizer

	consumed chan struct{}

	mu          sync.Mutex
	lastPartial string
	accText     []string
	accConf     float64
	accWords    []asr.Word
	accAlts     []asr.Alternative
	finished    bool
	closed      bool
}

// New dials the recognizer named by the resolved model and wraps it in an
// engine. The model's "server_url" property locates the vosk-server
// instance.
func New(ctx context.Context, o asr.Options, em asr.Emitter) (*Engine, error) {
	if o.SampleRate <= 0 {
		o.SampleRate = asr.DefaultSampleRate
	}
	serverURL, _ := o.ModelProperties["server_url"].(string)
	if serverURL == "" {
		return nil, fmt.Errorf("kaldi: model %q has no server_url property", o.ModelName)
	}
	rec, err := DialRemote(ctx, serverURL, o)
	if err != nil {
		return nil, err
	}
	return newEngine(o, em, rec), nil
}

func newEngine(o asr.Options, em asr.Emitter, rec Recognizer) *Engine {
	e := &Engine{
		opts:     o,
		em:       em,
		rec:      rec,
		consumed: make(chan struct{}),
		accConf:  -1,
	}
	go e.consume()
	return e
}

// Options returns the engine's resolved active options.
func (e *Engine) Options() asr.Options { return e.opts }

// Process forwards one PCM chunk to the recognizer.
func (e *Engine) Process(ctx context.Context, chunk []byte) error {
	e.mu.Lock()
	if e.closed || e.finished {
		e.mu.Unlock()
		return asr.ErrClosed
	}
	e.mu.Unlock()

	if err := e.rec.Feed(ctx, chunk); err != nil {
		return fmt.Errorf("kaldi: feed audio: %w", err)
	}
	return nil
}

// consume drains recognizer events until the recognizer shuts down.
func (e *Engine) consume() {
	defer close(e.consumed)
	for ev := range e.rec.Events() {
		if ev.IsFinal {
			e.handleFinal(ev)
		} else {
			e.handlePartial(ev)
		}
	}
}

// handlePartial forwards an interim guess, suppressing consecutive
// duplicates: streaming decoders re-emit the same hypothesis on nearly every
// chunk while the speaker pauses. Partials never carry alternatives or word
// timestamps.
func (e *Engine) handlePartial(ev Event) {
	e.mu.Lock()
	if e.closed || ev.Text == e.lastPartial {
		e.mu.Unlock()
		return
	}
	e.lastPartial = ev.Text
	text := e.combinedWith(ev.Text)
	e.mu.Unlock()

	if text == "" {
		return
	}
	e.em.Transcript(asr.Result{Text: text, Confidence: -1})
}

func (e *Engine) handleFinal(ev Event) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.lastPartial = ""

	if e.opts.Continuous {
		e.mu.Unlock()
		if ev.Text == "" {
			return
		}
		e.em.Transcript(e.result(ev))
		return
	}

	// Non-continuous sessions get exactly one final, on finish. Interim
	// utterance boundaries surface as a partial holding everything
	// recognised so far.
	if ev.Text != "" {
		e.accText = append(e.accText, ev.Text)
		if ev.Confidence >= 0 && (e.accConf < 0 || ev.Confidence < e.accConf) {
			e.accConf = ev.Confidence
		}
		e.accWords = append(e.accWords, ev.Words...)
		e.accAlts = ev.Alternatives
	}
	finished := e.finished
	text := e.combinedWith("")
	e.mu.Unlock()

	if finished || text == "" {
		return
	}
	e.em.Transcript(asr.Result{Text: text, Confidence: -1})
}

// combinedWith joins the accumulated utterances with the current partial.
// Callers must hold e.mu.
func (e *Engine) combinedWith(partial string) string {
	if len(e.accText) == 0 {
		return partial
	}
	joined := strings.Join(e.accText, ", ")
	if partial == "" {
		return joined
	}
	return joined + ", " + partial
}

// result renders one recognizer final as a client-facing result.
func (e *Engine) result(ev Event) asr.Result {
	r := asr.Result{
		Text:       ev.Text,
		Confidence: ev.Confidence,
		IsFinal:    true,
	}
	if n := e.opts.Alternatives; n > 0 && len(ev.Alternatives) > 0 {
		if len(ev.Alternatives) > n {
			ev.Alternatives = ev.Alternatives[:n]
		}
		r.Alternatives = ev.Alternatives
	}
	if e.opts.ReturnWords && len(ev.Words) > 0 {
		r.Features = map[string]any{"words": ev.Words}
	}
	return r
}

// Finish requests the recognizer's last result, waits for the event stream to
// drain and emits the combined final in non-continuous mode.
func (e *Engine) Finish(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return asr.ErrClosed
	}
	if e.finished {
		e.mu.Unlock()
		return nil
	}
	e.finished = true
	e.mu.Unlock()

	if err := e.rec.Finalize(ctx); err != nil {
		return fmt.Errorf("kaldi: finalize: %w", err)
	}
	select {
	case <-e.consumed:
	case <-ctx.Done():
		return fmt.Errorf("kaldi: waiting for last result: %w", ctx.Err())
	}

	if e.opts.Continuous {
		return nil
	}

	e.mu.Lock()
	r := asr.Result{
		Text:       strings.Join(e.accText, ", "),
		Confidence: e.accConf,
		IsFinal:    true,
	}
	if n := e.opts.Alternatives; n > 0 && len(e.accAlts) > 0 {
		if len(e.accAlts) > n {
			e.accAlts = e.accAlts[:n]
		}
		r.Alternatives = e.accAlts
	}
	if e.opts.ReturnWords && len(e.accWords) > 0 {
		r.Features = map[string]any{"words": e.accWords}
	}
	e.mu.Unlock()

	e.em.Transcript(r)
	return nil
}

// Close shuts the recognizer down and waits for the event consumer to exit.
// Idempotent.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if err := e.rec.Close(); err != nil {
		slog.Warn("kaldi: recognizer close failed", "error", err)
	}
	select {
	case <-e.consumed:
	case <-ctx.Done():
		return fmt.Errorf("kaldi: waiting for event drain: %w", ctx.Err())
	}
	return nil
}
