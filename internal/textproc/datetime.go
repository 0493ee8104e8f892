package textproc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DateTimeOptimizer formats date and time phrases that the number optimizer
// has already converted to digits: German "1. 1. 2021" becomes "01.01.2021"
// and "12 Uhr 30" becomes "12:30 Uhr"; English "6 30 pm" becomes "6:30 pm".
// Implausible values (hour 26, month 13) are left untouched.
type DateTimeOptimizer struct {
	lang string // short code, "de" or "en"
}

func (d *DateTimeOptimizer) Process(text string) string {
	switch d.lang {
	case "de":
		text = deDateRe.ReplaceAllStringFunc(text, rewriteGermanDate)
		text = deTimeRe.ReplaceAllStringFunc(text, rewriteGermanTime)
		return text
	case "en":
		text = enOneOClockRe.ReplaceAllString(text, "1 $1")
		text = enTimeRe.ReplaceAllStringFunc(text, rewriteEnglishTime)
		return text
	}
	return text
}

// German dates appear as ordinal day and month with an optional year:
// "1. 1." or "22. 2. 2022". The leading guard keeps already formatted
// values like "01.01.2021" from matching again.
var deDateRe = regexp.MustCompile(`(^|[^.\d])(\d{1,2})\. (\d{1,2})\.( \d{4})?`)

func rewriteGermanDate(match string) string {
	m := deDateRe.FindStringSubmatch(match)
	day, _ := strconv.Atoi(m[2])
	month, _ := strconv.Atoi(m[3])
	if day < 1 || day > 31 || month < 1 || month > 12 {
		return match
	}
	year := strings.TrimPrefix(m[4], " ")
	if year != "" {
		return fmt.Sprintf("%s%02d.%02d.%s", m[1], day, month, year)
	}
	return fmt.Sprintf("%s%02d.%02d.", m[1], day, month)
}

// German times: "12 Uhr 30" -> "12:30 Uhr", "1 Uhr" -> "1 Uhr". The guard
// prevents rematching the minutes of an already formatted "12:30 Uhr".
var deTimeRe = regexp.MustCompile(`(^|[^:\d])(\d{1,2}) [Uu]hr( (\d{1,2}))?`)

func rewriteGermanTime(match string) string {
	m := deTimeRe.FindStringSubmatch(match)
	hour, _ := strconv.Atoi(m[2])
	if m[4] == "" {
		if hour > 24 {
			return match
		}
		return fmt.Sprintf("%s%d Uhr", m[1], hour)
	}
	minute, _ := strconv.Atoi(m[4])
	if hour > 23 || minute > 59 {
		return match
	}
	return fmt.Sprintf("%s%d:%02d Uhr", m[1], hour, minute)
}

// English times: "6 30 pm" -> "6:30 pm". The meridiem spelling is preserved.
var enTimeRe = regexp.MustCompile(`(^|[^:\d])(\d{1,2}) (\d{2}) ?([AaPp]\.[Mm]\.|[AaPp][Mm]\b)`)

// Lone "one" is never converted by the number parser, so spell out the one
// phrase where it clearly is a time.
var enOneOClockRe = regexp.MustCompile(`\b[Oo]ne (o'clock|o` + "`" + `clock|o clock)`)

func rewriteEnglishTime(match string) string {
	m := enTimeRe.FindStringSubmatch(match)
	hour, _ := strconv.Atoi(m[2])
	minute, _ := strconv.Atoi(m[3])
	if hour < 1 || hour > 12 || minute > 59 {
		return match
	}
	return fmt.Sprintf("%s%d:%s %s", m[1], hour, m[3], m[4])
}
