package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/vocoserve/internal/asr"
)

type stubEngine struct {
	opts     asr.Options
	chunks   int
	finished int
	closed   int
}

func (s *stubEngine) Process(context.Context, []byte) error { s.chunks++; return nil }
func (s *stubEngine) Finish(context.Context) error          { s.finished++; return nil }
func (s *stubEngine) Close(context.Context) error           { s.closed++; return nil }
func (s *stubEngine) Options() asr.Options                  { return s.opts }

type recordingEmitter struct {
	mu      sync.Mutex
	results []asr.Result
	errs    []string
}

func (e *recordingEmitter) Transcript(r asr.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, r)
}

func (e *recordingEmitter) EngineError(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, msg)
}

func testRuntime(t *testing.T, engine string) *Runtime {
	t.Helper()
	return &Runtime{
		Models: []asr.Model{
			{Name: "test-model", Path: "test-model", Language: "en-US", Engine: engine},
		},
		DefaultEngine:  engine,
		RecordingsPath: t.TempDir(),
	}
}

func TestNewResolvesWaveWriter(t *testing.T) {
	p, err := New(context.Background(), testRuntime(t, "wave_writer"), map[string]any{
		"language": "en-US",
	}, &recordingEmitter{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(context.Background())

	if got := p.Options().EngineName; got != "wave_writer" {
		t.Errorf("engine name = %q, want wave_writer", got)
	}
	if !p.Accepting() {
		t.Error("new processor should accept chunks")
	}
}

func TestNewDynamicUsesModelEngine(t *testing.T) {
	rt := testRuntime(t, "wave_writer")
	rt.DefaultEngine = EngineDynamic

	p, err := New(context.Background(), rt, nil, &recordingEmitter{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(context.Background())
	if got := p.Options().EngineName; got != "wave_writer" {
		t.Errorf("engine name = %q, want wave_writer", got)
	}
}

func TestNewDynamicRequiresModelEngine(t *testing.T) {
	rt := testRuntime(t, "")
	rt.DefaultEngine = EngineDynamic

	if _, err := New(context.Background(), rt, nil, &recordingEmitter{}); !errors.Is(err, ErrUnknownEngine) {
		t.Fatalf("err = %v, want ErrUnknownEngine", err)
	}
}

func TestNewUnknownModel(t *testing.T) {
	_, err := New(context.Background(), testRuntime(t, "wave_writer"), map[string]any{
		"model": "does-not-exist",
	}, &recordingEmitter{})
	if !errors.Is(err, asr.ErrModelNotFound) {
		t.Fatalf("err = %v, want ErrModelNotFound", err)
	}
}

func TestProcessRejectedAfterFinish(t *testing.T) {
	eng := &stubEngine{}
	p := &Processor{eng: eng, isOpen: true, acceptChunks: true}

	if err := p.Process(context.Background(), make([]byte, 320)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := p.FinishProcessing(context.Background()); err != nil {
		t.Fatalf("FinishProcessing: %v", err)
	}
	if err := p.Process(context.Background(), make([]byte, 320)); !errors.Is(err, ErrNotAccepting) {
		t.Fatalf("err = %v, want ErrNotAccepting", err)
	}
	if eng.chunks != 1 || eng.finished != 1 {
		t.Errorf("engine saw %d chunks / %d finishes, want 1 / 1", eng.chunks, eng.finished)
	}
}

func TestStopRejectsWithoutFinishing(t *testing.T) {
	eng := &stubEngine{}
	p := &Processor{eng: eng, isOpen: true, acceptChunks: true}

	p.Stop()
	if err := p.Process(context.Background(), make([]byte, 320)); !errors.Is(err, ErrNotAccepting) {
		t.Fatalf("err = %v, want ErrNotAccepting", err)
	}
	if eng.finished != 0 {
		t.Errorf("Stop must not finish the engine")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	eng := &stubEngine{}
	p := &Processor{eng: eng, isOpen: true, acceptChunks: true}

	for i := 0; i < 3; i++ {
		if err := p.Close(context.Background()); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if eng.closed != 1 {
		t.Errorf("engine closed %d times, want 1", eng.closed)
	}
}

func TestOptimizingEmitterRewritesFinals(t *testing.T) {
	inner := &recordingEmitter{}
	em := &optimizingEmitter{next: inner, opts: asr.Options{
		LanguageShort:       "en",
		OptimizeFinalResult: true,
	}}

	em.Transcript(asr.Result{Text: "twenty-six apples", IsFinal: false})
	em.Transcript(asr.Result{Text: "twenty-six apples", IsFinal: true})

	if got := inner.results[0].Text; got != "twenty-six apples" {
		t.Errorf("partial rewritten to %q", got)
	}
	if got := inner.results[1].Text; got != "26 apples" {
		t.Errorf("final = %q, want %q", got, "26 apples")
	}
}

func TestOptimizingEmitterDisabled(t *testing.T) {
	inner := &recordingEmitter{}
	em := &optimizingEmitter{next: inner, opts: asr.Options{LanguageShort: "en"}}

	em.Transcript(asr.Result{Text: "twenty-six apples", IsFinal: true})
	if got := inner.results[0].Text; got != "twenty-six apples" {
		t.Errorf("final = %q, want raw text", got)
	}
}

func TestWaveWriterStoresRecording(t *testing.T) {
	dir := t.TempDir()
	em := &recordingEmitter{}
	w := newWaveWriter(asr.Options{SampleRate: 16000}, em, dir)

	chunk := make([]byte, 3200) // 100 ms
	for i := 0; i < 5; i++ {
		if err := w.Process(context.Background(), chunk); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if err := w.Finish(context.Background()); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d files, want 1", len(entries))
	}
	name := entries[0].Name()
	if filepath.Ext(name) != ".wav" {
		t.Errorf("file %q is not a wav", name)
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 44+5*len(chunk) || string(data[:4]) != "RIFF" {
		t.Errorf("unexpected wav payload, %d bytes", len(data))
	}

	if len(em.results) != 1 || !em.results[0].IsFinal {
		t.Fatalf("results = %+v, want one final", em.results)
	}
	if !strings.Contains(em.results[0].Text, name) {
		t.Errorf("final %q does not name file %q", em.results[0].Text, name)
	}
	if em.results[0].Duration != 0.5 {
		t.Errorf("duration = %v, want 0.5", em.results[0].Duration)
	}
}

func TestWaveWriterIgnoresAudioAfterFinish(t *testing.T) {
	dir := t.TempDir()
	w := newWaveWriter(asr.Options{SampleRate: 16000}, &recordingEmitter{}, dir)

	if err := w.Finish(context.Background()); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := w.Process(context.Background(), make([]byte, 320)); err != nil {
		t.Fatalf("Process after finish: %v", err)
	}
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Process(context.Background(), nil); !errors.Is(err, asr.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
