package whisper

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/vocoserve/internal/asr"
)

// fakeModel satisfies whisperlib.Model via embedding; only Close is used by
// the cache itself.
type fakeModel struct {
	whisperlib.Model
	closed bool
}

func (m *fakeModel) Close() error {
	m.closed = true
	return nil
}

func testModelDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("ggml"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func countingLoader(loads *int) loadFunc {
	return func(path string) (whisperlib.Model, error) {
		*loads++
		return &fakeModel{}, nil
	}
}

func TestCacheReusesReleasedModel(t *testing.T) {
	dir := testModelDir(t, "tiny.bin")
	loads := 0
	c := NewCache(dir, 2, WithLoader(countingLoader(&loads)))

	l1, err := c.Acquire("tiny.bin", nil)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	l1.Release()

	l2, err := c.Acquire("tiny.bin", nil)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	defer l2.Release()

	if loads != 1 {
		t.Errorf("model loaded %d times, want 1", loads)
	}
	if l1.Model() != l2.Model() {
		t.Error("released model was not reused")
	}
}

func TestCacheLoadsSecondCopyWhileLeased(t *testing.T) {
	dir := testModelDir(t, "tiny.bin")
	loads := 0
	c := NewCache(dir, 2, WithLoader(countingLoader(&loads)))

	l1, err := c.Acquire("tiny.bin", nil)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer l1.Release()

	l2, err := c.Acquire("tiny.bin", nil)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	defer l2.Release()

	if loads != 2 {
		t.Errorf("model loaded %d times, want 2", loads)
	}
}

func TestCacheCapacityIsHardLimit(t *testing.T) {
	dir := testModelDir(t, "a.bin", "b.bin")
	loads := 0
	c := NewCache(dir, 1, WithLoader(countingLoader(&loads)))

	l1, err := c.Acquire("a.bin", nil)
	if err != nil {
		t.Fatalf("Acquire a.bin: %v", err)
	}
	defer l1.Release()

	if _, err := c.Acquire("b.bin", nil); !errors.Is(err, ErrCacheFull) {
		t.Errorf("Acquire b.bin error = %v, want ErrCacheFull", err)
	}
}

func TestCacheUnknownPath(t *testing.T) {
	c := NewCache(t.TempDir(), 1, WithLoader(countingLoader(new(int))))
	if _, err := c.Acquire("missing.bin", nil); !errors.Is(err, asr.ErrModelNotFound) {
		t.Errorf("Acquire error = %v, want ErrModelNotFound", err)
	}
}

func TestLeaseReleaseIdempotent(t *testing.T) {
	dir := testModelDir(t, "tiny.bin")
	loads := 0
	c := NewCache(dir, 1, WithLoader(countingLoader(&loads)))

	l1, err := c.Acquire("tiny.bin", nil)
	if err != nil {
		t.Fatal(err)
	}
	l1.Release()
	l1.Release()

	l2, err := c.Acquire("tiny.bin", nil)
	if err != nil {
		t.Fatalf("Acquire after double release: %v", err)
	}
	defer l2.Release()
	if loads != 1 {
		t.Errorf("model loaded %d times, want 1", loads)
	}
}

func TestCacheCloseReleasesModels(t *testing.T) {
	dir := testModelDir(t, "tiny.bin")
	m := &fakeModel{}
	c := NewCache(dir, 1, WithLoader(func(string) (whisperlib.Model, error) {
		return m, nil
	}))

	l, err := c.Acquire("tiny.bin", nil)
	if err != nil {
		t.Fatal(err)
	}
	l.Release()
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !m.closed {
		t.Error("cached model was not closed")
	}
}
