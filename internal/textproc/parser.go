package textproc

import (
	"regexp"
	"strconv"
	"strings"
)

// valueBuilder incrementally recognises a stream of words as an integer. It
// works in groups of three digits, the way numbers are spoken: units and
// tens accumulate in the current group, multipliers (thousand, million, ...)
// shift finished groups into the high part.
type valueBuilder struct {
	lang    *langData
	relaxed bool

	skip     string
	n000     int64 // value above the current thousand group
	grp      int64 // current three-digit group
	lastWord string
	hasLast  bool
}

func newValueBuilder(lang *langData, relaxed bool) *valueBuilder {
	return &valueBuilder{lang: lang, relaxed: relaxed}
}

func (b *valueBuilder) value() int64 { return b.n000 + b.grp }

// groupExpects reports whether word may extend the current group into a
// valid number.
func (b *valueBuilder) groupExpects(word string, update bool) bool {
	var expected bool
	_, isUnit := b.lang.units[b.lastWord]
	_, isSten := b.lang.stens[b.lastWord]
	switch {
	case !b.hasLast:
		expected = true
	case isUnit && b.grp < 10, isSten && b.grp < 20:
		_, expected = b.lang.hundred[word]
	default:
		if _, ok := b.lang.mtens[b.lastWord]; ok {
			_, wordIsUnit := b.lang.units[word]
			_, wordIsSten := b.lang.stens[word]
			expected = wordIsUnit || wordIsSten && b.lang.mtensWStens[b.lastWord]
		} else if _, ok := b.lang.hundred[b.lastWord]; ok {
			_, wordIsHundred := b.lang.hundred[word]
			expected = !wordIsHundred
		}
	}
	if update {
		b.lastWord = word
		b.hasLast = true
	}
	return expected
}

// coefAppliable reports whether a multiplier fits the value built so far.
func (b *valueBuilder) coefAppliable(coef int64) bool {
	if coef > b.value() && (b.value() > 0 || coef == 1000) {
		return true
	}
	if coef*coef <= b.n000 {
		// A multiplier smaller than the high part applies to the
		// current group only, and only once: "dix mille cinq mille"
		// is invalid, hence the squared comparison.
		return b.grp > 0 || coef == 1000
	}
	return false
}

// push feeds the next word. ahead is the following word, if any. Returns true
// when word contributes to the current number.
func (b *valueBuilder) push(word, ahead string, aheadOK bool) bool {
	if word == "" {
		return false
	}
	if word == b.lang.andWord && aheadOK && b.lang.andNums[ahead] {
		return true
	}
	word = b.lang.normalize(word)
	num, isNum := b.lang.numbers[word]
	if !isNum {
		return false
	}

	if coef, isMult := b.lang.multipliers[word]; isMult {
		if !b.coefAppliable(coef) {
			return false
		}
		if coef < b.n000 {
			g := b.grp
			if g == 0 {
				g = 1
			}
			b.n000 += coef * g
		} else {
			v := b.value()
			if v == 0 {
				v = 1
			}
			b.n000 = v * coef
		}
		b.grp = 0
		b.lastWord = ""
		b.hasLast = false
		return true
	}

	if rel, ok := b.lang.relaxed[word]; b.relaxed && ok && aheadOK &&
		strings.HasPrefix(ahead, rel[0]) && b.groupExpects(rel[1], false) {
		b.skip = rel[0]
		b.grp += b.lang.numbers[rel[1]]
	} else if b.skip != "" && strings.HasPrefix(word, b.skip) {
		b.skip = ""
	} else if b.groupExpects(word, true) {
		if h, ok := b.lang.hundred[word]; ok {
			if b.grp != 0 {
				b.grp *= 100
			} else {
				b.grp = h
			}
		} else {
			b.grp += num
		}
	} else {
		b.skip = ""
		return false
	}
	return true
}

// digitParser transcribes one logically bounded word stream (no punctuation)
// into a digit string, covering cardinals, ordinals, decimals, signs and
// leading zeros.
type digitParser struct {
	lang             *langData
	parts            []string
	intB             *valueBuilder
	fracB            *valueBuilder
	signed           bool
	inFrac           bool
	done             bool
	open             bool
	lastWord         string
	hasLastWord      bool
	ordinalThreshold int64
}

func newDigitParser(lang *langData, relaxed, signed bool, ordinalThreshold int64) *digitParser {
	return &digitParser{
		lang:             lang,
		intB:             newValueBuilder(lang, relaxed),
		fracB:            newValueBuilder(lang, relaxed),
		signed:           signed,
		ordinalThreshold: ordinalThreshold,
	}
}

func (p *digitParser) value() string { return strings.Join(p.parts, "") }

// close flushes the pending builder value. Safe to call repeatedly.
func (p *digitParser) close() {
	if p.done {
		return
	}
	if p.inFrac && p.fracB.value() != 0 {
		p.parts = append(p.parts, strconv.FormatInt(p.fracB.value(), 10))
	} else if !p.inFrac && p.intB.value() != 0 {
		p.parts = append(p.parts, strconv.FormatInt(p.intB.value(), 10))
	}
	p.done = true
}

func (p *digitParser) atStartOfSeq() bool {
	if p.inFrac {
		return p.fracB.value() == 0
	}
	return p.intB.value() == 0
}

func (p *digitParser) builder() *valueBuilder {
	if p.inFrac {
		return p.fracB
	}
	return p.intB
}

// isAlone guards words like "one"/"un" that usually are articles or pronouns
// rather than numbers when they stand by themselves.
func (p *digitParser) isAlone(word, ahead string, aheadOK bool) bool {
	return !p.open &&
		p.lang.neverIfAlone[word] &&
		p.lang.notNumericWord(ahead, aheadOK) &&
		p.lang.notNumericWord(p.lastWord, p.hasLastWord) &&
		!(!aheadOK && !p.hasLastWord)
}

func (p *digitParser) push(word, ahead string, aheadOK bool) bool {
	if p.done || p.isAlone(word, ahead, aheadOK) {
		p.lastWord, p.hasLastWord = word, true
		return false
	}

	sign, isSign := p.lang.sign[word]
	card := p.lang.ord2card(word)

	switch {
	case p.signed && isSign && aheadOK && p.lang.isNumber(ahead) && !p.open:
		p.parts = append(p.parts, sign)

	case p.lang.zero[word] && p.atStartOfSeq() &&
		(!aheadOK || p.lang.isNumber(ahead) || p.lang.zero[ahead]):
		p.parts = append(p.parts, "0")

	case card != "" && p.builder().push(card, ahead, aheadOK):
		if p.intB.value() > p.ordinalThreshold {
			digits := strconv.FormatInt(p.builder().value(), 10)
			p.parts = append(p.parts, p.lang.numOrd(digits, word))
		} else {
			p.parts = append(p.parts, word)
		}
		p.done = true // an ordinal ends the number

	case word == p.lang.decimalSep && aheadOK && !p.inFrac &&
		(p.lang.isNumber(ahead) || p.lang.zero[ahead]):
		// A leading zero or sign is already in parts, only the built
		// integer value still needs flushing.
		if n := len(p.parts); n == 0 || p.parts[n-1] == "+" || p.parts[n-1] == "-" {
			p.parts = append(p.parts, strconv.FormatInt(p.intB.value(), 10))
		}
		p.parts = append(p.parts, p.lang.decimalSym)
		p.inFrac = true

	default:
		if !p.builder().push(word, ahead, aheadOK) {
			if p.open {
				p.close()
			}
			p.lastWord, p.hasLastWord = word, true
			return false
		}
	}

	p.open = true
	p.lastWord, p.hasLastWord = word, true
	return true
}

// segmentRe splits text on punctuation so numbers never span a voice pause.
var segmentRe = regexp.MustCompile(`\s*[.,;()…\[\]:!?]+\s*`)

func splitSegments(text string) (segments, punct []string) {
	segments = segmentRe.Split(text, -1)
	punct = segmentRe.FindAllString(text, -1)
	for len(punct) < len(segments) {
		punct = append(punct, "")
	}
	return segments, punct
}

// alpha2digit replaces every spelled number in text with its digit form,
// preserving punctuation and all other words.
func alpha2digit(text string, lang *langData, relaxed, signed bool, ordinalThreshold int64) string {
	segments, punct := splitSegments(text)

	var out strings.Builder
	for i, segment := range segments {
		tokens := strings.Fields(segment)
		parser := newDigitParser(lang, relaxed, signed, ordinalThreshold)
		inNumber := false
		var outTokens []string

		for j, token := range tokens {
			word := strings.ToLower(token)
			var ahead string
			aheadOK := j+1 < len(tokens)
			if aheadOK {
				ahead = strings.ToLower(tokens[j+1])
			}

			if parser.push(word, ahead, aheadOK) {
				inNumber = true
				continue
			}
			if inNumber {
				outTokens = append(outTokens, parser.value())
				parser = newDigitParser(lang, relaxed, signed, ordinalThreshold)
				inNumber = parser.push(word, ahead, aheadOK)
			}
			if !inNumber {
				outTokens = append(outTokens, token)
			}
		}
		parser.close()
		if v := parser.value(); v != "" {
			outTokens = append(outTokens, v)
		}
		out.WriteString(strings.Join(outTokens, " "))
		out.WriteString(punct[i])
	}
	return out.String()
}
