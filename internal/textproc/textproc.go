// Package textproc rewrites final transcript texts into display form:
// spelled-out numbers become digits ("two hundred" -> "200",
// "zweihunderteinundfünfzig" -> "251") and recognisable date or time phrases
// get formatted ("zwölf Uhr dreißig" -> "12:30 Uhr").
//
// Every optimizer is total and idempotent: it never fails, it returns its
// input unchanged when nothing applies, and running it twice gives the same
// result as running it once. That makes the pipeline safe to apply blindly to
// any recognizer output.
package textproc

// Optimizer rewrites a transcript string. Implementations must be safe for
// concurrent use.
type Optimizer interface {
	Process(text string) string
}

// Option adjusts how a Pipeline rewrites text.
type Option func(*pipelineConfig)

type pipelineConfig struct {
	ordinalThreshold int64
}

// WithOrdinalThreshold keeps ordinals up to and including n spelled out, so
// with n = 3 "third" survives while "twenty-first" still becomes "21st". The
// default of 0 converts every ordinal, which is what the date formatters
// downstream expect.
func WithOrdinalThreshold(n int64) Option {
	return func(c *pipelineConfig) { c.ordinalThreshold = n }
}

// Pipeline returns the optimizers for a language short code ("en", "de",
// "fr"), in application order. Unsupported languages get an empty pipeline.
func Pipeline(langShort string, opts ...Option) []Optimizer {
	var c pipelineConfig
	for _, opt := range opts {
		opt(&c)
	}
	switch langShort {
	case "en":
		return []Optimizer{
			&NumberOptimizer{lang: english, ordinalThreshold: c.ordinalThreshold},
			&DateTimeOptimizer{lang: "en"},
		}
	case "de":
		return []Optimizer{
			&NumberOptimizer{german: true, ordinalThreshold: c.ordinalThreshold},
			&DateTimeOptimizer{lang: "de"},
		}
	case "fr":
		return []Optimizer{
			&NumberOptimizer{lang: french, ordinalThreshold: c.ordinalThreshold},
		}
	}
	return nil
}

// OptimizeFinalResult runs the full pipeline for a language over text.
// Returns the input unchanged when the language is not supported.
func OptimizeFinalResult(langShort, text string) string {
	if text == "" {
		return ""
	}
	for _, opt := range Pipeline(langShort) {
		text = opt.Process(text)
	}
	return text
}

// NumberOptimizer converts spelled-out cardinals, ordinals, decimals and
// signed numbers into digit strings. Ordinals above ordinalThreshold are
// converted ("twenty-first" -> "21st", "ersten" -> "1."); the zero threshold
// converts them all.
type NumberOptimizer struct {
	lang             *langData
	german           bool
	ordinalThreshold int64
}

func (n *NumberOptimizer) Process(text string) string {
	if n.german {
		return alpha2digitGerman(text, true, n.ordinalThreshold)
	}
	if n.lang == nil {
		return text
	}
	return alpha2digit(text, n.lang, n.lang.relaxedByDefault, true, n.ordinalThreshold)
}
