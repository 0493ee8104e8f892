// Package whisper provides a buffered, VAD-driven speech recognition engine
// backed by the whisper.cpp CGO bindings. The whisper.cpp static library
// (libwhisper.a) and headers (whisper.h) must be available at link time via
// LIBRARY_PATH and C_INCLUDE_PATH environment variables.
//
// Whisper is a batch (non-streaming) model, so the engine accumulates PCM
// audio and uses voice activity detection to decide where an utterance ends.
// Each completed utterance is transcribed on a worker goroutine and emitted
// as a final result; the engine never produces partials. Loaded models are
// shared across sessions through a bounded [Cache].
package whisper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vocoserve/internal/asr"
	"github.com/MrWong99/vocoserve/internal/asr/vad"
	"github.com/MrWong99/vocoserve/internal/observe"
	"github.com/MrWong99/vocoserve/pkg/audio"
)

// Compile-time assertion that Engine satisfies asr.Engine.
var _ asr.Engine = (*Engine)(nil)

// modelSampleRate is the rate whisper models are trained on. Audio arriving
// at any other rate is resampled before buffering, so all internal buffer
// arithmetic runs at this rate.
const modelSampleRate = 16000

// Utterance segmentation limits, in seconds of buffered audio.
const (
	// minUtteranceS is the minimum buffer length before VAD runs at all.
	minUtteranceS = 2

	// maxUtteranceS forces a split regardless of detected silence.
	maxUtteranceS = 30

	// trailingSilenceS is the silence required after a single speech
	// segment before it is cut.
	trailingSilenceS = 1

	// silenceOnlyS / silenceKeepS bound a speech-free buffer: once it
	// exceeds silenceOnlyS only the last silenceKeepS seconds are kept.
	silenceOnlyS = 4
	silenceKeepS = 2

	// minFinalS is the shortest utterance worth transcribing.
	minFinalS = 0.5

	// maxQueuedChunks is the back-pressure limit: in continuous mode the
	// engine fails once this many chunks pile up behind a running
	// inference.
	maxQueuedChunks = 3

	// fixedMinSilenceMs is the silence gap used outside continuous mode.
	fixedMinSilenceMs = 1750
)

// Continuous mode shortens the required silence gap as the utterance grows so
// long dictation is cut earlier. Steps are (buffered seconds, gap ms).
var dynamicMinSilence = []struct {
	fromS int
	gapMs int
}{
	{0, 1750},
	{10, 1000},
	{20, 500},
}

// Engine is the VAD-driven whisper engine for one session.
type Engine struct {
	opts    asr.Options
	em      asr.Emitter
	trans   transcriber
	det     vad.Detector
	release func()

	mu         sync.Mutex
	buf        []float32
	processing bool
	queueSize  int
	rtf        float64
	failed     bool
	finished   bool
	closed     bool

	inflight sync.WaitGroup
}

// New leases a model from the cache and returns an engine bound to it. The
// lease is released on Finish or Close, whichever comes first.
func New(o asr.Options, em asr.Emitter, cache *Cache) (*Engine, error) {
	if o.SampleRate <= 0 {
		o.SampleRate = asr.DefaultSampleRate
	}
	lease, err := cache.Acquire(o.ModelPath, o.ModelProperties)
	if err != nil {
		return nil, err
	}
	t := &modelTranscriber{model: lease.Model(), threads: cache.Threads(), opts: o}
	return newEngine(o, em, t, lease.Release), nil
}

func newEngine(o asr.Options, em asr.Emitter, t transcriber, release func()) *Engine {
	if release == nil {
		release = func() {}
	}
	return &Engine{
		opts:    o,
		em:      em,
		trans:   t,
		det:     vad.Energy{SampleRate: modelSampleRate},
		release: release,
	}
}

// Options returns the engine's resolved active options.
func (e *Engine) Options() asr.Options { return e.opts }

// Process buffers one PCM chunk and cuts an utterance for inference when the
// voice activity detector finds a completed one. While an inference is
// running new chunks only accumulate; in continuous mode too large a backlog
// fails the engine, because results would fall ever further behind the
// speaker.
func (e *Engine) Process(ctx context.Context, chunk []byte) error {
	e.mu.Lock()
	if e.closed || e.finished {
		e.mu.Unlock()
		return asr.ErrClosed
	}
	if e.failed {
		e.mu.Unlock()
		return nil
	}
	pcm := chunk
	if e.opts.SampleRate != modelSampleRate {
		pcm = audio.ResampleMono16(chunk, e.opts.SampleRate, modelSampleRate)
	}
	e.buf = append(e.buf, audio.PCMToFloat32(pcm)...)

	if e.processing {
		e.queueSize++
		overload := e.opts.Continuous && e.queueSize >= maxQueuedChunks
		if overload {
			e.failed = true
		}
		queued, rtf := e.queueSize, e.rtf
		e.mu.Unlock()
		slog.Warn("whisper inference lagging behind audio",
			"queued_chunks", queued, "rtf", fmt.Sprintf("%.2f", rtf))
		if overload {
			e.em.EngineError("Inference too slow for continuous mode.")
		}
		return nil
	}

	e.maybeCutLocked()
	return nil
}

// maybeCutLocked inspects the buffer, optionally hands an utterance to the
// inference worker, and releases e.mu.
func (e *Engine) maybeCutLocked() {
	sr := modelSampleRate
	if len(e.buf) < minUtteranceS*sr {
		e.mu.Unlock()
		return
	}

	bufS := float64(len(e.buf)) / float64(sr)
	speech := e.det.SpeechTimestamps(e.buf, e.minSilenceMs(bufS))

	var start, end int
	cut := false
	switch {
	case len(e.buf) >= maxUtteranceS*sr:
		slog.Warn("utterance exceeded maximum length, forcing split",
			"buffered_s", fmt.Sprintf("%.1f", bufS))
		start, end, cut = 0, len(e.buf), true

	case len(speech) >= 2:
		// Multiple speech islands: everything up to the last one is a
		// completed utterance.
		start, end, cut = speech[0].Start, speech[len(speech)-1].End, true

	case len(speech) == 1 && len(e.buf)-speech[0].End >= trailingSilenceS*sr:
		start, end, cut = speech[0].Start, speech[0].End, true

	case len(speech) == 0 && len(e.buf) > silenceOnlyS*sr:
		// Nothing but silence; keep a short tail so a word straddling
		// the boundary is not lost.
		e.buf = append([]float32(nil), e.buf[len(e.buf)-silenceKeepS*sr:]...)
	}
	if !cut {
		e.mu.Unlock()
		return
	}

	utterance := append([]float32(nil), e.buf[start:end]...)
	e.buf = append([]float32(nil), e.buf[end:]...)
	e.processing = true
	e.inflight.Add(1)
	e.mu.Unlock()

	go e.runInference(utterance)
}

// minSilenceMs returns the silence gap the VAD needs to end an utterance.
func (e *Engine) minSilenceMs(bufS float64) int {
	if !e.opts.Continuous {
		return fixedMinSilenceMs
	}
	gap := dynamicMinSilence[0].gapMs
	for _, step := range dynamicMinSilence {
		if bufS >= float64(step.fromS) {
			gap = step.gapMs
		}
	}
	return gap
}

// runInference transcribes one utterance on its own goroutine and emits the
// final result. Uses a background context: the chunk that triggered the cut
// has long been acknowledged by the time inference finishes.
func (e *Engine) runInference(samples []float32) {
	defer e.inflight.Done()

	if float64(len(samples)) < minFinalS*modelSampleRate {
		e.mu.Lock()
		e.processing = false
		e.queueSize = 0
		e.mu.Unlock()
		return
	}

	started := time.Now()
	inf, err := e.trans.transcribe(context.Background(), samples)
	elapsed := time.Since(started)
	if err == nil {
		e.recordInference(context.Background(), elapsed, inf)
	}

	e.mu.Lock()
	e.processing = false
	e.queueSize = 0
	if err != nil {
		e.failed = true
	}
	if inf.durationS > 0 {
		e.rtf = elapsed.Seconds() / inf.durationS
	}
	rtf := e.rtf
	alreadyFailed := e.failed && err == nil
	e.mu.Unlock()

	if err != nil {
		slog.Error("whisper inference failed", "error", err)
		e.em.EngineError(err.Error())
		return
	}
	slog.Debug("whisper inference finished",
		"audio_s", fmt.Sprintf("%.2f", inf.durationS),
		"took", elapsed.Round(time.Millisecond),
		"rtf", fmt.Sprintf("%.2f", rtf))
	if alreadyFailed {
		// Overload was reported while this inference ran; the session
		// is going down and must not see further results.
		return
	}
	e.emit(inf)
}

func (e *Engine) emit(inf inference) {
	if inf.empty() {
		return
	}
	r := asr.Result{
		Text:       inf.text(),
		Confidence: inf.confidence(),
		IsFinal:    true,
		Duration:   inf.durationS,
	}
	if e.opts.ReturnWords && len(inf.words) > 0 {
		r.Features = map[string]any{"words": inf.words}
	}
	e.em.Transcript(r)
}

// Finish waits for in-flight inference, transcribes whatever speech remains
// in the buffer, and releases the model lease. Safe to call once per session;
// later calls are no-ops.
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

	e.inflight.Wait()
	defer e.release()

	e.mu.Lock()
	buf := e.buf
	e.buf = nil
	failed := e.failed
	e.mu.Unlock()

	if failed {
		return nil
	}
	if float64(len(buf)) < minFinalS*modelSampleRate {
		e.emitNoSpeech()
		return nil
	}
	if speech := e.det.SpeechTimestamps(buf, fixedMinSilenceMs); len(speech) == 0 {
		e.emitNoSpeech()
		return nil
	}

	started := time.Now()
	inf, err := e.trans.transcribe(ctx, buf)
	if err != nil {
		return fmt.Errorf("whisper: final inference: %w", err)
	}
	e.recordInference(ctx, time.Since(started), inf)
	if inf.empty() {
		e.emitNoSpeech()
		return nil
	}
	e.emit(inf)
	return nil
}

// emitNoSpeech sends the terminating final for a session whose remaining
// audio contained no transcribable speech. Non-continuous clients block on a
// final result, so it must arrive even when there is nothing to say.
func (e *Engine) emitNoSpeech() {
	e.em.Transcript(asr.Result{
		IsFinal:  true,
		Features: map[string]any{"no_speech": true},
	})
}

// recordInference reports one inference run to the telemetry instruments.
func (e *Engine) recordInference(ctx context.Context, elapsed time.Duration, inf inference) {
	rtf := 0.0
	if inf.durationS > 0 {
		rtf = elapsed.Seconds() / inf.durationS
	}
	observe.DefaultMetrics().RecordInference(ctx, "whisper", elapsed.Seconds(), rtf)
}

// Close drops buffered audio, waits for in-flight inference and releases the
// model lease. Idempotent.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.buf = nil
	e.mu.Unlock()

	e.inflight.Wait()
	e.release()
	return nil
}
