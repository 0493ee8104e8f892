package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/vocoserve/internal/asr"
)

// noSpeechLimit drops a segment when the token-probability-derived no-speech
// estimate reaches this value.
const noSpeechLimit = 0.7

// inference is the outcome of one whisper run over a buffered utterance, with
// hallucination-prone no-speech segments already filtered out.
type inference struct {
	texts     []string
	logProbs  []float64
	words     []asr.Word
	durationS float64
}

func (inf inference) empty() bool { return len(inf.texts) == 0 }

// text joins the surviving segment texts.
func (inf inference) text() string { return strings.Join(inf.texts, " ") }

// confidence is the mean segment log-probability, or -1 when no segment
// survived.
func (inf inference) confidence() float64 {
	if len(inf.logProbs) == 0 {
		return -1
	}
	var sum float64
	for _, lp := range inf.logProbs {
		sum += lp
	}
	return sum / float64(len(inf.logProbs))
}

// transcriber runs batch inference over one utterance. Abstracted so the
// engine's buffering and back-pressure logic is testable without a loaded
// model.
type transcriber interface {
	transcribe(ctx context.Context, samples []float32) (inference, error)
}

// modelTranscriber runs inference through the whisper.cpp CGO bindings. Each
// call creates a fresh context; contexts are not thread-safe but the model
// can be shared, and the engine serialises calls anyway.
type modelTranscriber struct {
	model   whisperlib.Model
	threads int
	opts    asr.Options
}

func (t *modelTranscriber) transcribe(ctx context.Context, samples []float32) (inference, error) {
	if err := ctx.Err(); err != nil {
		return inference{}, fmt.Errorf("whisper: context cancelled before inference: %w", err)
	}

	wctx, err := t.model.NewContext()
	if err != nil {
		return inference{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := t.opts.LanguageShort
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using model default",
			"language", lang, "error", err)
	}
	wctx.SetTranslate(t.opts.Translate)
	if t.threads > 0 {
		wctx.SetThreads(uint(t.threads))
	}
	if t.opts.BeamSize > 1 {
		wctx.SetBeamSize(t.opts.BeamSize)
	}
	if t.opts.InitialPrompt != "" {
		wctx.SetInitialPrompt(t.opts.InitialPrompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return inference{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	inf := inference{
		durationS: float64(len(samples)) / modelSampleRate,
	}
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return inference{}, fmt.Errorf("whisper: read segment: %w", err)
		}

		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}

		// The bindings expose per-token probabilities but no no-speech
		// probability, so derive one: a segment whose tokens whisper
		// itself barely believes in is treated as hallucinated silence.
		meanP, logProb := tokenStats(wctx, segment.Tokens)
		if 1-meanP >= noSpeechLimit {
			slog.Debug("whisper: dropping low-probability segment",
				"text", text, "mean_p", meanP)
			continue
		}

		inf.texts = append(inf.texts, text)
		inf.logProbs = append(inf.logProbs, logProb)
		if t.opts.ReturnWords {
			inf.words = append(inf.words, segmentWords(wctx, segment)...)
		}
	}
	return inf, nil
}

// tokenStats returns the mean token probability and mean token
// log-probability over the text tokens of a segment.
func tokenStats(wctx whisperlib.Context, tokens []whisperlib.Token) (meanP, logProb float64) {
	var sumP, sumLog float64
	n := 0
	for _, tok := range tokens {
		if !wctx.IsText(tok) {
			continue
		}
		p := float64(tok.P)
		sumP += p
		sumLog += math.Log(math.Max(p, 1e-10))
		n++
	}
	if n == 0 {
		return 0, -1
	}
	return sumP / float64(n), sumLog / float64(n)
}

// segmentWords converts a segment's text tokens into timed words. Whisper
// tokens are sub-word units, so adjacent tokens without a leading space are
// merged into one word.
func segmentWords(wctx whisperlib.Context, segment whisperlib.Segment) []asr.Word {
	var words []asr.Word
	for _, tok := range segment.Tokens {
		if !wctx.IsText(tok) {
			continue
		}
		text := tok.Text
		if text == "" {
			continue
		}
		startsWord := strings.HasPrefix(text, " ") || len(words) == 0
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			continue
		}
		if startsWord {
			words = append(words, asr.Word{
				Word:       trimmed,
				Start:      tok.Start.Seconds(),
				End:        tok.End.Seconds(),
				Confidence: float64(tok.P),
			})
			continue
		}
		last := &words[len(words)-1]
		last.Word += trimmed
		last.End = tok.End.Seconds()
		if p := float64(tok.P); p < last.Confidence {
			last.Confidence = p
		}
	}
	return words
}
