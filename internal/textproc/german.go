package textproc

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// German number phrases do not follow the common big-endian word order
// ("einundzwanzig" is one-and-twenty) and are frequently agglutinated into a
// single word, so the language gets its own block parser instead of the
// incremental stream parser.

var errNotGermanNumber = errors.New("textproc: not a german number phrase")

const deAnd = "und"

var deMultipliers = map[string]int64{
	"tausend": 1_000,
	"million": 1_000_000, "millionen": 1_000_000,
	"milliarde": 1_000_000_000, "milliarden": 1_000_000_000,
	"billion": 1_000_000_000_000, "billionen": 1_000_000_000_000,
	"billiarde": 1_000_000_000_000_000, "billiarden": 1_000_000_000_000_000,
	"trillion": 1_000_000_000_000_000_000, "trillionen": 1_000_000_000_000_000_000,
}

var deUnits = map[string]int64{
	"eins": 1, "ein": 1, "eine": 1, "zwei": 2, "drei": 3, "vier": 4,
	"fünf": 5, "sechs": 6, "sieben": 7, "acht": 8, "neun": 9,
}

var deStens = map[string]int64{
	"zehn": 10, "elf": 11, "zwölf": 12, "dreizehn": 13, "vierzehn": 14,
	"fünfzehn": 15, "sechzehn": 16, "siebzehn": 17, "achtzehn": 18,
	"achzehn": 18, // common recognizer misspelling
	"neunzehn": 19,
}

var deMtens = map[string]int64{
	"zwanzig": 20, "dreißig": 30, "vierzig": 40, "fünfzig": 50,
	"sechzig": 60, "siebzig": 70, "achtzig": 80, "neunzig": 90,
}

var deSign = map[string]string{"plus": "+", "minus": "-"}

// deNumberValues is the full vocabulary including zero.
var deNumberValues = func() map[string]int64 {
	m := merged(deMultipliers, deUnits, deStens, deMtens)
	m["hundert"] = 100
	m["null"] = 0
	return m
}()

// deWordsByLength holds every number word sorted longest first, for the
// greedy agglutination splitter.
var deWordsByLength = func() []string {
	words := make([]string, 0, len(deNumberValues)+1)
	for w := range deNumberValues {
		words = append(words, w)
	}
	words = append(words, deAnd)
	sort.Slice(words, func(i, j int) bool { return len(words[i]) > len(words[j]) })
	return words
}()

// splitNumberWordDE splits agglutinated number words into their parts, e.g.
// "einhundertfünfzig" -> "ein hundert fünfzig". Non-number runs pass through
// unchanged.
func splitNumberWordDE(text string) string {
	text = strings.ToLower(text)
	var result strings.Builder
	var invalid strings.Builder

	flushInvalid := func() {
		if invalid.Len() > 0 {
			result.WriteString(invalid.String())
			result.WriteByte(' ')
			invalid.Reset()
		}
	}

	for len(text) > 0 {
		found := false
		for _, sw := range deWordsByLength {
			if strings.HasPrefix(text, sw) {
				flushInvalid()
				result.WriteString(sw)
				result.WriteByte(' ')
				text = text[len(sw):]
				found = true
				break
			}
		}
		if found {
			continue
		}
		if text[0] == ' ' {
			flushInvalid()
			text = text[1:]
			continue
		}
		_, size := utf8.DecodeRuneInString(text)
		invalid.WriteString(text[:size])
		text = text[size:]
	}
	flushInvalid()
	return result.String()
}

// text2numDE parses a whole German number phrase ("zwei hundert drei und
// vierzig tausend sieben") into its value. Agglutinated words are split
// first. Returns errNotGermanNumber for anything that is not exactly one
// well-formed number.
func text2numDE(text string) (int64, error) {
	words := strings.Fields(splitNumberWordDE(text))
	if len(words) == 0 {
		return 0, errNotGermanNumber
	}

	// Split into groups at multipliers; multipliers must strictly
	// decrease ("tausend ... million" is invalid).
	var groups [][]string
	var block []string
	var lastMult int64
	for _, w := range words {
		val, inDict := deNumberValues[w]
		if !inDict && w != deAnd {
			return 0, errNotGermanNumber
		}
		block = append(block, w)
		if _, isMult := deMultipliers[w]; isMult {
			groups = append(groups, block)
			block = nil
			if lastMult != 0 && val >= lastMult {
				return 0, errNotGermanNumber
			}
			lastMult = val
		}
	}
	if len(block) > 0 {
		groups = append(groups, block)
	}

	var total int64
	var parts []int64
	for _, g := range groups {
		gv, err := parseGroupDE(g, &parts)
		if err != nil {
			return 0, err
		}
		// A zero-valued part anywhere but the very start means the
		// phrase was two numbers glued together.
		if len(parts) > 1 && parts[len(parts)-1] == 0 {
			return 0, errNotGermanNumber
		}
		total += gv
	}
	return total, nil
}

// parseGroupDE resolves one multiplier group in a single pass: an optional
// hundreds part, then exactly one of an "und" pair / tens / teens / unit,
// then an optional trailing multiplier.
func parseGroupDE(ng []string, parts *[]int64) (int64, error) {
	var gv int64
	started := false
	processed := false

	// Leading zeros terminate immediately; "null" composes with nothing.
	if ng[0] == "null" {
		for len(ng) > 0 && ng[0] == "null" {
			ng = ng[1:]
			*parts = append(*parts, 0)
		}
		if len(ng) > 0 {
			return 0, errNotGermanNumber
		}
		return 0, nil
	}

	if idx := indexOf(ng, "hundert"); idx >= 0 {
		switch {
		case idx == 0:
			gv += 100
			*parts = append(*parts, 100)
			ng = removeAt(ng, idx)
			started, processed = true, true
		default:
			prev := ng[idx-1]
			_, isUnit := deUnits[prev]
			_, isSten := deStens[prev]
			if isUnit || isSten {
				v := deNumberValues[prev] * 100
				gv += v
				*parts = append(*parts, v)
				ng = removeAt(removeAt(ng, idx), idx-1)
				started, processed = true, true
			}
		}
	}

	// An "und" pair is always unit plus tens ("ein und zwanzig"). Anything
	// else, like "zwei und zwei", is two separate numbers.
	if idx := indexOf(ng, deAnd); idx > 0 && len(ng) >= 3 && idx+1 < len(ng) {
		a, okA := deUnits[ng[idx-1]]
		b, okB := deMtens[ng[idx+1]]
		if !okA || !okB {
			return 0, errNotGermanNumber
		}
		gv += a + b
		*parts = append(*parts, a+b)
		ng = removeAt(removeAt(removeAt(ng, idx+1), idx), idx-1)
		started, processed = true, true
	} else if idx, n := findOne(ng, deMtens); n == 1 {
		gv += deNumberValues[ng[idx]]
		*parts = append(*parts, deNumberValues[ng[idx]])
		ng = removeAt(ng, idx)
		started, processed = true, true
	} else if idx, n := findOne(ng, deStens); n == 1 {
		gv += deNumberValues[ng[idx]]
		*parts = append(*parts, deNumberValues[ng[idx]])
		ng = removeAt(ng, idx)
		started, processed = true, true
	} else if idx, n := findOne(ng, deUnits); n == 1 {
		gv += deNumberValues[ng[idx]]
		*parts = append(*parts, deNumberValues[ng[idx]])
		ng = removeAt(ng, idx)
		started, processed = true, true
	} else if n > 1 {
		return 0, errNotGermanNumber
	}

	if len(ng) > 0 {
		last := ng[len(ng)-1]
		if mult, isMult := deMultipliers[last]; isMult {
			switch {
			case len(ng) == 1:
				if started {
					gv *= mult
				} else {
					gv = mult
				}
				*parts = append(*parts, mult)
				ng = ng[:0]
			default:
				prev := ng[len(ng)-2]
				pv, okPrev := deNumberValues[prev]
				_, isPrevMult := deMultipliers[prev]
				if !okPrev || isPrevMult {
					return 0, errNotGermanNumber
				}
				if started {
					gv *= pv * mult
				} else {
					gv = pv * mult
				}
				*parts = append(*parts, pv*mult)
				ng = ng[:len(ng)-2]
			}
			processed = true
		}
	}

	if !processed || len(ng) > 0 {
		return 0, errNotGermanNumber
	}
	return gv, nil
}

func indexOf(s []string, w string) int {
	for i, v := range s {
		if v == w {
			return i
		}
	}
	return -1
}

func removeAt(s []string, i int) []string {
	out := make([]string, 0, len(s)-1)
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}

// findOne returns the index of the single member of set in s, together with
// the member count.
func findOne(s []string, set map[string]int64) (int, int) {
	idx, n := -1, 0
	for i, v := range s {
		if _, ok := set[v]; ok {
			idx = i
			n++
		}
	}
	return idx, n
}

// Ordinal suffixes, tried longest first. The long forms combine with any
// number stem ("zwanzigster", "zweiten"); the short forms only with the
// irregular stems below, otherwise ordinary words like "eine" or "Hunderte"
// would be misread as ordinals.
var (
	deOrdinalSuffixesLong  = []string{"sten", "ster", "stes", "ste", "ten", "ter", "tes", "te"}
	deOrdinalSuffixesShort = []string{"en", "er", "es", "e"}
)

// deIrregularOrdinalStems maps ordinal stems that change spelling back to
// their cardinal.
var deIrregularOrdinalStems = map[string]string{
	"erst": "eins", "dritt": "drei", "siebt": "sieben", "acht": "acht",
}

// deOrdinalToCardinal recognises a German ordinal word and returns the
// cardinal phrase it derives from ("zwanzigster" -> "zwanzig",
// "ersten" -> "eins").
func deOrdinalToCardinal(word string) (string, bool) {
	word = strings.ToLower(word)
	for _, suffix := range deOrdinalSuffixesLong {
		if !strings.HasSuffix(word, suffix) || len(word) == len(suffix) {
			continue
		}
		stem := word[:len(word)-len(suffix)]
		if card, ok := deIrregularOrdinalStems[stem]; ok {
			return card, true
		}
		if _, err := text2numDE(stem); err == nil {
			return stem, true
		}
	}
	for _, suffix := range deOrdinalSuffixesShort {
		if !strings.HasSuffix(word, suffix) || len(word) == len(suffix) {
			continue
		}
		if card, ok := deIrregularOrdinalStems[word[:len(word)-len(suffix)]]; ok {
			return card, true
		}
	}
	return "", false
}

// isNumberishDE reports whether a token can be part of a German number
// phrase, including agglutinated forms.
func isNumberishDE(word string) bool {
	fields := strings.Fields(splitNumberWordDE(word))
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		if _, ok := deNumberValues[f]; !ok && f != deAnd {
			return false
		}
	}
	return true
}

// alpha2digitGerman rewrites German number phrases in text to digits. Within
// each punctuation-bounded segment it scans runs of number words and commits
// the longest prefix that parses as a single number; ordinals close a number
// and are rendered with the German ordinal dot ("22.").
func alpha2digitGerman(text string, signed bool, ordinalThreshold int64) string {
	segments, punct := splitSegments(text)

	var out strings.Builder
	for si, segment := range segments {
		tokens := strings.Fields(segment)
		var outTokens []string
		var outIsNum []bool

		i := 0
		for i < len(tokens) {
			lower := strings.ToLower(tokens[i])
			_, isOrd := deOrdinalToCardinal(lower)
			if !isNumberishDE(lower) && !isOrd {
				outTokens = append(outTokens, tokens[i])
				outIsNum = append(outIsNum, false)
				i++
				continue
			}

			// Grow a run of number words, remembering the longest
			// prefix that parses.
			var run []string
			bestVal := int64(0)
			bestLen := 0
			ordinal := false
			j := i
			for j < len(tokens) {
				w := strings.ToLower(tokens[j])
				if card, ok := deOrdinalToCardinal(w); ok {
					if v, err := text2numDE(strings.Join(append(append([]string{}, run...), card), " ")); err == nil {
						bestVal = v
						bestLen = j - i + 1
						ordinal = true
					}
					break
				}
				if !isNumberishDE(w) {
					break
				}
				run = append(run, w)
				if v, err := text2numDE(strings.Join(run, " ")); err == nil {
					bestVal = v
					bestLen = len(run)
					ordinal = false
				}
				j++
			}

			if bestLen == 0 || (ordinal && bestVal <= ordinalThreshold) {
				outTokens = append(outTokens, tokens[i])
				outIsNum = append(outIsNum, false)
				i++
				continue
			}

			digits := strconv.FormatInt(bestVal, 10)
			if ordinal {
				digits += "."
			}
			outTokens = append(outTokens, digits)
			outIsNum = append(outIsNum, true)
			i += bestLen
		}

		// Join, folding sign words onto a directly following number.
		var joined strings.Builder
		for k, tok := range outTokens {
			sym, isSign := deSign[strings.ToLower(tok)]
			if isSign && signed && k+1 < len(outTokens) && outIsNum[k+1] {
				joined.WriteString(sym)
				continue
			}
			joined.WriteString(tok)
			joined.WriteByte(' ')
		}
		out.WriteString(strings.TrimRight(joined.String(), " "))
		out.WriteString(punct[si])
	}
	return out.String()
}
