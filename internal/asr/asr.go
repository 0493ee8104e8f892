// Package asr defines the engine contract shared by all speech recognizers.
//
// An engine consumes raw little-endian 16-bit PCM chunks and emits transcript
// results through an [Emitter]. Two result flavours exist: partials (interim
// guesses while audio is still arriving) and finals (results the engine will
// not revise). Engines normalise their client-requested configuration into an
// [Options] value at construction time; the resolved options are reported back
// to the client in the welcome response and must round-trip through engine
// construction unchanged.
//
// Engines are not safe for concurrent use. Each session owns exactly one
// engine and calls it from a single goroutine; only the engine's own internal
// workers may run concurrently with that.
package asr

import (
	"context"
	"errors"
)

// ErrModelNotFound is returned by model selection when no configured model
// satisfies the requested name, language, or task.
var ErrModelNotFound = errors.New("asr: no matching model found")

// ErrClosed is returned when an engine method is called after Close.
var ErrClosed = errors.New("asr: engine is closed")

// Word is a single recognised word with timing information, emitted when the
// client requested word timestamps.
type Word struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Alternative is one hypothesis of an n-best list.
type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words,omitempty"`
}

// Result is a normalized transcript result emitted by any engine.
type Result struct {
	// Text is the transcript. May be empty for silence-only audio.
	Text string

	// Confidence is the engine's confidence score, or -1 when unknown.
	Confidence float64

	// IsFinal marks results the engine will not revise.
	IsFinal bool

	// Alternatives holds additional hypotheses when the client requested
	// more than one.
	Alternatives []Alternative

	// Features carries engine-specific extras such as word timestamps or a
	// speaker vector. Nil when the engine has none.
	Features map[string]any

	// Duration is the length in seconds of the audio segment that produced
	// a final result. Zero for partials.
	Duration float64
}

// Emitter delivers transcript results and asynchronous engine failures to the
// owning session. Implementations must be safe to call from the engine's
// internal worker goroutines.
type Emitter interface {
	// Transcript forwards a recognition result to the client.
	Transcript(r Result)

	// EngineError reports a recognizer failure. The session translates it
	// into a wire-level AsrEngineError; the engine must stop accepting
	// chunks afterwards.
	EngineError(message string)
}

// Engine is the uniform streaming contract over recognizers.
type Engine interface {
	// Process feeds one PCM chunk to the recognizer. Chunks must arrive in
	// capture order. Process may hand work to an internal worker and return
	// before results are emitted.
	Process(ctx context.Context, chunk []byte) error

	// Finish stops accepting audio and flushes the last result. In
	// non-continuous mode this triggers the single final transcript.
	Finish(ctx context.Context) error

	// Close releases all engine resources, including any model cache lease.
	// It must be idempotent and must wait for in-flight inference to settle.
	Close(ctx context.Context) error

	// Options returns the engine's resolved active options.
	Options() Options
}
