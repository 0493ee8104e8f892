package processor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/vocoserve/internal/asr"
	"github.com/MrWong99/vocoserve/pkg/audio"
)

// waveWriter is a diagnostic engine that records the inbound PCM stream into
// a WAV file instead of transcribing it. The final result names the file so
// clients can verify what audio actually arrived.
type waveWriter struct {
	opts asr.Options
	em   asr.Emitter
	dir  string

	mu     sync.Mutex
	pcm    []byte
	closed bool
	done   bool
}

func newWaveWriter(o asr.Options, em asr.Emitter, dir string) *waveWriter {
	if o.SampleRate <= 0 {
		o.SampleRate = asr.DefaultSampleRate
	}
	return &waveWriter{opts: o, em: em, dir: dir}
}

func (w *waveWriter) Options() asr.Options { return w.opts }

func (w *waveWriter) Process(_ context.Context, chunk []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return asr.ErrClosed
	}
	if w.done {
		return nil
	}
	w.pcm = append(w.pcm, chunk...)
	return nil
}

func (w *waveWriter) Finish(_ context.Context) error {
	w.mu.Lock()
	if w.closed || w.done {
		w.mu.Unlock()
		return nil
	}
	w.done = true
	pcm := w.pcm
	w.pcm = nil
	w.mu.Unlock()

	name := fmt.Sprintf("rec-%d.wav", time.Now().UnixNano())
	path := filepath.Join(w.dir, name)
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("wave_writer: %w", err)
	}
	data := audio.EncodeWAV(pcm, w.opts.SampleRate, 1)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("wave_writer: %w", err)
	}

	seconds := float64(audio.DurationMs(pcm, w.opts.SampleRate, 1)) / 1000
	slog.Info("recording stored", "file", path, "duration_s", seconds)
	w.em.Transcript(asr.Result{
		Text:       "Saved recording " + name,
		Confidence: 1,
		IsFinal:    true,
		Duration:   seconds,
		Features:   map[string]any{"file": name},
	})
	return nil
}

func (w *waveWriter) Close(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.pcm = nil
	return nil
}
