package whisper

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/vocoserve/internal/asr"
)

// ErrCacheFull is returned by Acquire when every cache slot holds a model and
// none of them matches the requested path with a free lease.
var ErrCacheFull = errors.New("whisper: model cache capacity exceeded")

// loadFunc loads a whisper model from an absolute path. Replaceable in tests
// so the cache can be exercised without the CGO bindings.
type loadFunc func(path string) (whisperlib.Model, error)

// Cache is a process-wide bounded pool of loaded whisper models keyed by
// model path. Each entry is leased to at most one engine at a time; the lease
// is the exclusive lock on the underlying model. Capacity is a hard limit —
// there is no eviction.
type Cache struct {
	modelsDir string
	capacity  int
	threads   int
	load      loadFunc

	mu      sync.Mutex
	entries []*cacheEntry
}

type cacheEntry struct {
	model whisperlib.Model
	path  string
	inUse bool
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLoader replaces the model loader. Intended for tests.
func WithLoader(load loadFunc) CacheOption {
	return func(c *Cache) { c.load = load }
}

// WithThreadsPerModel sets the CPU thread count applied to each inference
// context created from a cached model. Zero keeps the library default.
func WithThreadsPerModel(n int) CacheOption {
	return func(c *Cache) { c.threads = n }
}

// NewCache creates a model cache holding at most capacity loaded models.
// Model paths passed to Acquire are resolved relative to modelsDir.
func NewCache(modelsDir string, capacity int, opts ...CacheOption) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	c := &Cache{
		modelsDir: modelsDir,
		capacity:  capacity,
		load:      whisperlib.New,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Threads returns the configured CPU threads per inference context.
func (c *Cache) Threads() int { return c.threads }

// Acquire returns a lease on a loaded model for path. A cached entry is
// reused when its path matches and no other lease is live; otherwise a new
// model is loaded if a slot is free. Properties may carry "compute_device"
// and "compute_type" hints; anything other than CPU inference is decided at
// build time by the whisper.cpp library, so they are logged and not enforced.
func (c *Cache) Acquire(path string, properties map[string]any) (*Lease, error) {
	full := filepath.Join(c.modelsDir, path)
	if _, err := os.Stat(full); err != nil {
		return nil, fmt.Errorf("%w: model path %q", asr.ErrModelNotFound, full)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ent := range c.entries {
		if ent.path == path && !ent.inUse {
			ent.inUse = true
			return &Lease{cache: c, ent: ent}, nil
		}
	}

	if len(c.entries) >= c.capacity {
		return nil, fmt.Errorf("%w (capacity %d)", ErrCacheFull, c.capacity)
	}

	if dev, ok := properties["compute_device"].(string); ok && dev != "" {
		slog.Debug("whisper model compute hints",
			"path", path,
			"compute_device", dev,
			"compute_type", properties["compute_type"],
		)
	}

	model, err := c.load(full)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", full, err)
	}
	ent := &cacheEntry{model: model, path: path, inUse: true}
	c.entries = append(c.entries, ent)
	return &Lease{cache: c, ent: ent}, nil
}

// Close releases every loaded model. Call once at shutdown, after all
// sessions have closed.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, ent := range c.entries {
		if err := ent.model.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.entries = nil
	return errors.Join(errs...)
}

// Lease is an exclusive claim on one cached model. Release is idempotent and
// must be called on every exit path of the owning engine.
type Lease struct {
	cache *Cache
	ent   *cacheEntry
	once  sync.Once
}

// Model returns the leased model handle.
func (l *Lease) Model() whisperlib.Model { return l.ent.model }

// Release returns the model to the cache so another engine can lease it.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.cache.mu.Lock()
		l.ent.inUse = false
		l.cache.mu.Unlock()
	})
}
