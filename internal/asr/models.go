package asr

import (
	"fmt"
	"strings"
)

// Model describes one configured recognizer model.
type Model struct {
	// Name is the unique display name clients may request directly.
	Name string

	// Path locates the model on disk, relative to the configured models
	// folder. For remote recognizers this may be a logical identifier.
	Path string

	// Language is the model's language tag (e.g. "de-DE").
	Language string

	// Engine names the engine implementation this model runs on. Empty
	// means the server-wide default.
	Engine string

	// Task is an optional task tag distinguishing models that share a
	// language (e.g. "assistant" vs "dictation").
	Task string

	// Properties holds engine-specific keys such as scorer, beamsize,
	// compute_device, compute_type or server_url.
	Properties map[string]any
}

// SelectModel resolves the model a session should use, deterministically:
//
//  1. An explicitly requested model name must exist, otherwise the selection
//     fails.
//  2. A requested language prefers an exact tag match, then the first model
//     whose tag starts with the short code; a requested task narrows either
//     set to task matches when possible.
//  3. A task without a language never matches.
//  4. With no constraints the first configured model wins.
//
// Ties are broken by configuration order.
func SelectModel(models []Model, o Options) (Model, error) {
	if len(models) == 0 {
		return Model{}, fmt.Errorf("%w: no models configured", ErrModelNotFound)
	}

	if o.ModelName != "" {
		for _, m := range models {
			if m.Name == o.ModelName {
				return m, nil
			}
		}
		return Model{}, fmt.Errorf("%w: unknown model %q", ErrModelNotFound, o.ModelName)
	}

	if o.Language != "" {
		var exact, prefix []Model
		for _, m := range models {
			tag, short := NormalizeLanguage(m.Language)
			if tag == o.Language {
				exact = append(exact, m)
			} else if short == o.LanguageShort && strings.HasPrefix(tag, o.LanguageShort) {
				prefix = append(prefix, m)
			}
		}
		candidates := append(exact, prefix...)
		if len(candidates) == 0 {
			return Model{}, fmt.Errorf("%w: no model for language %q", ErrModelNotFound, o.Language)
		}
		if o.Task != "" {
			for _, m := range candidates {
				if m.Task == o.Task {
					return m, nil
				}
			}
		}
		return candidates[0], nil
	}

	if o.Task != "" {
		return Model{}, fmt.Errorf("%w: task %q requested without a language", ErrModelNotFound, o.Task)
	}

	return models[0], nil
}
