package asr

import (
	"strings"
)

// Defaults applied when the client's welcome data omits a field.
const (
	DefaultSampleRate = 16000
	DefaultBeamSize   = 1
)

// Options is the normalized engine configuration derived from the client's
// welcome data plus the selected model's properties.
type Options struct {
	// SampleRate of the inbound PCM stream in Hz.
	SampleRate int

	// Language is the normalized BCP-47-style tag, e.g. "en-US".
	Language string

	// LanguageShort is the lower-case primary subtag, e.g. "en".
	LanguageShort string

	// ModelName, ModelPath and ModelProperties describe the resolved model.
	ModelName       string
	ModelPath       string
	ModelProperties map[string]any

	// EngineName selects the engine implementation. Usually inherited from
	// the server config; a model's "engine" property overrides it when the
	// server runs in dynamic mode.
	EngineName string

	// Task is an optional model task tag (e.g. "assistant", "dictation").
	Task string

	// Continuous keeps the session open across utterance boundaries and
	// emits one final per detected segment.
	Continuous bool

	// OptimizeFinalResult enables the text post-processors on finals.
	OptimizeFinalResult bool

	// Alternatives is the requested n-best list size (0 = none).
	Alternatives int

	// ReturnWords requests word timestamps on finals.
	ReturnWords bool

	// PhraseList and HotWords bias the recognizer vocabulary.
	PhraseList []string
	HotWords   map[string]float64

	// BeamSize, InitialPrompt and Translate are whisper-specific.
	BeamSize      int
	InitialPrompt string
	Translate     bool

	// SpeakerDetection requests a speaker vector in result features.
	SpeakerDetection bool
}

// ParseOptions normalizes the free-form welcome data into an Options value.
// Unknown keys are ignored; missing keys get defaults.
func ParseOptions(data map[string]any) Options {
	o := Options{
		SampleRate: optInt(data, "samplerate", DefaultSampleRate),
		Task:       optString(data, "task"),
		Continuous: optBool(data, "continuous"),
		// Both spellings seen in the wild.
		OptimizeFinalResult: optBoolAny(data, "optimizeFinalResult", "optimize_final_result"),
		Alternatives:        optInt(data, "alternatives", 0),
		ReturnWords:         optBoolAny(data, "words", "words_ts"),
		BeamSize:            optInt(data, "beamsize", 0),
		InitialPrompt:       firstString(data, "prompt", "init_prompt"),
		Translate:           optBool(data, "translate"),
		SpeakerDetection:    optBool(data, "speaker"),
	}
	o.Language, o.LanguageShort = NormalizeLanguage(optString(data, "language"))
	o.ModelName = optString(data, "model")

	if pl, ok := data["phrase_list"].([]any); ok {
		for _, v := range pl {
			if s, ok := v.(string); ok && s != "" {
				o.PhraseList = append(o.PhraseList, s)
			}
		}
	}
	if hw, ok := data["hot_words"].(map[string]any); ok {
		o.HotWords = make(map[string]float64, len(hw))
		for word, v := range hw {
			if f, ok := toFloat(v); ok {
				o.HotWords[word] = f
			}
		}
	}
	return o
}

// ApplyModel copies the resolved model's identity and properties onto o and
// fills whisper-specific fields from model properties where the client did
// not set them.
func (o *Options) ApplyModel(m Model) {
	o.ModelName = m.Name
	o.ModelPath = m.Path
	o.ModelProperties = m.Properties
	if m.Engine != "" {
		o.EngineName = m.Engine
	}
	if o.Task == "" {
		o.Task = m.Task
	}
	if o.Language == "" {
		o.Language, o.LanguageShort = NormalizeLanguage(m.Language)
	}
	if o.BeamSize == 0 {
		o.BeamSize = optInt(m.Properties, "beamsize", DefaultBeamSize)
	}
	if o.InitialPrompt == "" {
		o.InitialPrompt = optString(m.Properties, "prompt")
	}
	if !o.Translate {
		o.Translate = optBool(m.Properties, "translate")
	}
}

// Map renders the options in the wire form reported inside the welcome
// response, mirroring the keys clients sent in welcome data.
func (o Options) Map() map[string]any {
	return map[string]any{
		"language":            o.Language,
		"task":                o.Task,
		"model":               o.ModelName,
		"samplerate":          o.SampleRate,
		"optimizeFinalResult": o.OptimizeFinalResult,
		"continuous":          o.Continuous,
		"words":               o.ReturnWords,
		"alternatives":        o.Alternatives,
		"beamsize":            o.BeamSize,
		"prompt":              o.InitialPrompt,
		"translate":           o.Translate,
	}
}

// NormalizeLanguage converts any of "en_us", "en-US", "EN" into the canonical
// tag form "en-US" plus the lower-case short code. Empty input yields two
// empty strings.
func NormalizeLanguage(lang string) (tag, short string) {
	if lang == "" {
		return "", ""
	}
	parts := strings.FieldsFunc(lang, func(r rune) bool { return r == '-' || r == '_' })
	if len(parts) == 0 {
		return "", ""
	}
	short = strings.ToLower(parts[0])
	if len(parts) == 1 {
		return short, short
	}
	return short + "-" + strings.ToUpper(parts[1]), short
}

// ---- welcome-data helpers -------------------------------------------------

// optString extracts a string value from a decoded JSON map. Returns "" if
// the map is nil, the key is absent, or the value is not a string.
func optString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := optString(m, k); s != "" {
			return s
		}
	}
	return ""
}

func optInt(m map[string]any, key string, def int) int {
	if m == nil {
		return def
	}
	if f, ok := toFloat(m[key]); ok && f > 0 {
		return int(f)
	}
	return def
}

func optBool(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		s := strings.ToLower(v)
		return s == "true" || s == "yes"
	}
	return false
}

func optBoolAny(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if optBool(m, k) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
