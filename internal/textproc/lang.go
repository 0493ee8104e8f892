package textproc

import "strings"

// langData bundles the number vocabulary and spelling rules of one language
// for the incremental word-stream parser.
type langData struct {
	multipliers map[string]int64
	units       map[string]int64
	stens       map[string]int64
	mtens       map[string]int64
	mtensWStens map[string]bool
	hundred     map[string]int64
	numbers     map[string]int64

	sign         map[string]string
	zero         map[string]bool
	decimalSep   string
	decimalSym   string
	andWord      string
	andNums      map[string]bool
	neverIfAlone map[string]bool

	// relaxed maps the first word of a two-word compound to its expected
	// follower prefix and the compound's canonical spelling
	// ("quatre" -> ("vingt", "quatre-vingt")).
	relaxed          map[string][2]string
	relaxedByDefault bool

	ord2card  func(word string) string
	numOrd    func(digits, original string) string
	normalize func(word string) string
}

func (l *langData) isNumber(word string) bool {
	_, ok := l.numbers[word]
	return ok
}

// notNumericWord reports whether word plays no role in a number phrase. The
// zero words are deliberately not counted; they start formal numbers and are
// handled separately.
func (l *langData) notNumericWord(word string, present bool) bool {
	return !present || (word != l.decimalSep && !l.isNumber(word))
}

func identity(word string) string { return word }

func scale(words []string, start, step int64) map[string]int64 {
	m := make(map[string]int64, len(words))
	v := start
	for _, w := range words {
		m[w] = v * step
		v++
	}
	return m
}

func merged(maps ...map[string]int64) map[string]int64 {
	out := make(map[string]int64)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// ---- English --------------------------------------------------------------

var english = newEnglish()

// enRadMap maps irregular ordinal stems back to their cardinal.
var enRadMap = map[string]string{
	"fif": "five", "eigh": "eight", "nin": "nine", "twelf": "twelve",
}

func newEnglish() *langData {
	multipliers := map[string]int64{
		"thousand": 1_000, "thousands": 1_000,
		"million": 1_000_000, "millions": 1_000_000,
		"billion": 1_000_000_000, "billions": 1_000_000_000,
		"trillion": 1_000_000_000_000, "trillions": 1_000_000_000_000,
	}
	units := scale(strings.Split("one two three four five six seven eight nine", " "), 1, 1)
	stens := scale(strings.Split("ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen", " "), 10, 1)
	mtens := scale(strings.Split("twenty thirty forty fifty sixty seventy eighty ninety", " "), 2, 10)
	hundred := map[string]int64{"hundred": 100, "hundreds": 100}

	// Tens composed with a unit in one hyphenated word are terminals.
	composites := make(map[string]int64)
	for tw, tv := range mtens {
		for uw, uv := range units {
			composites[tw+"-"+uw] = tv + uv
		}
	}

	l := &langData{
		multipliers:  multipliers,
		units:        units,
		stens:        stens,
		mtens:        mtens,
		mtensWStens:  map[string]bool{},
		hundred:      hundred,
		numbers:      merged(multipliers, units, stens, mtens, hundred, composites),
		sign:         map[string]string{"plus": "+", "minus": "-"},
		zero:         map[string]bool{"zero": true, "o": true},
		decimalSep:   "point",
		decimalSym:   ".",
		andWord:      "and",
		andNums:      map[string]bool{},
		neverIfAlone: map[string]bool{"one": true},
		relaxed:      map[string][2]string{},
		numOrd:       enNumOrd,
		normalize:    identity,
	}
	l.ord2card = l.enOrd2Card
	return l
}

// enOrd2Card converts an English ordinal word to its cardinal, or "" when the
// word is no ordinal.
func (l *langData) enOrd2Card(word string) string {
	plur := strings.HasSuffix(word, "ths")
	sing := strings.HasSuffix(word, "th")
	var source string
	switch {
	case plur:
		source = word[:len(word)-3]
	case sing:
		source = word[:len(word)-2]
	case strings.HasSuffix(word, "first"):
		source = strings.Replace(word, "first", "one", 1)
	case strings.HasSuffix(word, "second"):
		source = strings.Replace(word, "second", "two", 1)
	case strings.HasSuffix(word, "third"):
		source = strings.Replace(word, "third", "three", 1)
	default:
		return ""
	}
	if rad, ok := enRadMap[source]; ok {
		source = rad
	} else if strings.HasSuffix(source, "ie") {
		source = source[:len(source)-2] + "y"
	} else if strings.HasSuffix(source, "fif") {
		source = source[:len(source)-1] + "ve"
	} else if strings.HasSuffix(source, "eigh") {
		source += "t"
	} else if strings.HasSuffix(source, "nin") {
		source += "e"
	}
	if !l.isNumber(source) {
		return ""
	}
	return source
}

func enNumOrd(digits, original string) string {
	if strings.HasSuffix(original, "s") {
		return digits + original[len(original)-3:]
	}
	return digits + original[len(original)-2:]
}

// ---- French ---------------------------------------------------------------

var french = newFrench()

// frIrrOrd maps irregular French ordinals to (cardinal, digit form).
var frIrrOrd = map[string][2]string{
	"premier":  {"un", "1er"},
	"première": {"un", "1ère"},
	"second":   {"deux", "2nd"},
	"seconde":  {"deux", "2nde"},
}

func newFrench() *langData {
	multipliers := map[string]int64{
		"mil": 1_000, "mille": 1_000, "milles": 1_000,
		"million": 1_000_000, "millions": 1_000_000,
		"milliard": 1_000_000_000, "milliards": 1_000_000_000,
	}
	units := scale(strings.Split("un deux trois quatre cinq six sept huit neuf", " "), 1, 1)
	units["une"] = 1
	stens := scale(strings.Split("dix onze douze treize quatorze quinze seize dix-sept dix-huit dix-neuf", " "), 10, 1)
	mtens := scale(strings.Split("vingt trente quarante cinquante soixante septante huitante nonante", " "), 2, 10)
	mtens["quatre-vingt"] = 80
	mtens["octante"] = 80
	hundred := map[string]int64{"cent": 100, "cents": 100}

	composites := make(map[string]int64)
	for tw, tv := range mtens {
		for uw, uv := range units {
			if uv == 1 {
				continue
			}
			composites[tw+"-"+uw] = tv + uv
		}
		if tv > 10 && tv <= 90 {
			composites[tw+"-et-un"] = tv + 1
			composites[tw+"-et-une"] = tv + 1
		}
	}
	composites["quatre-vingt-un"] = 81
	for _, ten := range []string{"soixante", "quatre-vingt"} {
		for sw, sv := range stens {
			composites[ten+"-"+sw] = mtens[ten] + sv
		}
	}
	composites["soixante-et-onze"] = 71

	numbers := merged(multipliers, units, stens, mtens, hundred, composites)
	numbers["quatre-vingts"] = 80

	l := &langData{
		multipliers: multipliers,
		units:       units,
		stens:       stens,
		mtens:       mtens,
		mtensWStens: map[string]bool{"soixante": true, "quatre-vingt": true},
		hundred:     hundred,
		numbers:     numbers,
		sign:        map[string]string{"plus": "+", "moins": "-"},
		zero:        map[string]bool{"zéro": true},
		decimalSep:  "virgule",
		decimalSym:  ",",
		andWord:     "et",
		andNums: map[string]bool{
			"un": true, "une": true, "unième": true, "onze": true, "onzième": true,
		},
		neverIfAlone:     map[string]bool{"un": true, "une": true},
		relaxed:          map[string][2]string{"quatre": {"vingt", "quatre-vingt"}},
		relaxedByDefault: true,
		numOrd:           frNumOrd,
		normalize: func(word string) string {
			return strings.ReplaceAll(word, "vingts", "vingt")
		},
	}
	l.ord2card = l.frOrd2Card
	return l
}

func (l *langData) frOrd2Card(word string) string {
	if irr, ok := frIrrOrd[word]; ok {
		return irr[0]
	}
	plur := strings.HasSuffix(word, "ièmes")
	sing := strings.HasSuffix(word, "ième")
	if !plur && !sing {
		return ""
	}
	var source string
	if plur {
		source = word[:len(word)-len("ièmes")]
	} else {
		source = word[:len(word)-len("ième")]
	}
	switch {
	case source == "cinqu":
		source = "cinq"
	case source == "neuv":
		source = "neuf"
	case !l.isNumber(source):
		source += "e"
		if !l.isNumber(source) {
			return ""
		}
	}
	return source
}

func frNumOrd(digits, original string) string {
	if irr, ok := frIrrOrd[original]; ok {
		return irr[1]
	}
	if strings.HasSuffix(original, "e") {
		return digits + "ème"
	}
	return digits + "èmes"
}
