// Package vad provides voice activity detection over buffered float32 PCM.
//
// The detector reports time-stamped speech segments (sample index ranges)
// rather than per-frame events, matching what buffered whole-utterance
// engines need to decide where to cut an utterance. Detection state lives
// entirely in the arguments, so one Detector can serve many sessions.
package vad

import "github.com/MrWong99/vocoserve/pkg/audio"

// Segment is a half-open range [Start, End) of sample indices classified as
// speech.
type Segment struct {
	Start int
	End   int
}

// Detector finds speech segments in a mono float32 buffer. minSilenceMs is
// the silence gap below which two speech runs are merged into one segment.
type Detector interface {
	SpeechTimestamps(samples []float32, minSilenceMs int) []Segment
}

// Defaults for the energy detector. The threshold is ~300 in 16-bit sample
// units, the near-silence floor of typical close-mic recordings.
const (
	defaultWindowMs    = 30
	defaultMinSpeechMs = 250
	defaultPadMs       = 100
	defaultThreshold   = 300.0 / 32768.0
)

// Energy is a windowed-RMS voice activity detector. Zero values select the
// package defaults. It is stateless and safe for concurrent use.
type Energy struct {
	// SampleRate of the analysed buffer in Hz. Required.
	SampleRate int

	// WindowMs is the analysis window length.
	WindowMs int

	// Threshold is the normalised RMS level above which a window counts as
	// speech.
	Threshold float64

	// MinSpeechMs drops speech segments shorter than this.
	MinSpeechMs int

	// PadMs widens each detected segment on both sides to avoid clipping
	// word onsets.
	PadMs int
}

// SpeechTimestamps classifies fixed-size windows by RMS energy and merges
// adjacent speech windows whose silence gap is shorter than minSilenceMs.
func (e Energy) SpeechTimestamps(samples []float32, minSilenceMs int) []Segment {
	if e.SampleRate <= 0 || len(samples) == 0 {
		return nil
	}
	windowMs := e.WindowMs
	if windowMs <= 0 {
		windowMs = defaultWindowMs
	}
	threshold := e.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	minSpeechMs := e.MinSpeechMs
	if minSpeechMs <= 0 {
		minSpeechMs = defaultMinSpeechMs
	}
	padMs := e.PadMs
	if padMs <= 0 {
		padMs = defaultPadMs
	}

	window := e.SampleRate * windowMs / 1000
	if window <= 0 {
		return nil
	}
	minSilence := e.SampleRate * minSilenceMs / 1000
	minSpeech := e.SampleRate * minSpeechMs / 1000
	pad := e.SampleRate * padMs / 1000

	// Pass 1: raw speech runs at window granularity.
	var raw []Segment
	inSpeech := false
	start := 0
	for off := 0; off < len(samples); off += window {
		end := min(off+window, len(samples))
		speech := audio.RMSFloat32(samples[off:end]) >= threshold
		switch {
		case speech && !inSpeech:
			inSpeech = true
			start = off
		case !speech && inSpeech:
			inSpeech = false
			raw = append(raw, Segment{Start: start, End: off})
		}
	}
	if inSpeech {
		raw = append(raw, Segment{Start: start, End: len(samples)})
	}

	// Pass 2: merge runs separated by less than minSilence.
	var merged []Segment
	for _, seg := range raw {
		if n := len(merged); n > 0 && seg.Start-merged[n-1].End < minSilence {
			merged[n-1].End = seg.End
			continue
		}
		merged = append(merged, seg)
	}

	// Pass 3: drop too-short segments, then pad the survivors.
	out := merged[:0]
	for _, seg := range merged {
		if seg.End-seg.Start < minSpeech {
			continue
		}
		seg.Start = max(seg.Start-pad, 0)
		seg.End = min(seg.End+pad, len(samples))
		out = append(out, seg)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
