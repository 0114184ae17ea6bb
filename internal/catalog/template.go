package catalog

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var tokenPattern = regexp.MustCompile(`\{([A-Z]+)\}`)

var tokenFormatters = map[string]func(time.Time) string{
	"YYYYMMDD": func(t time.Time) string { return t.Format("20060102") },
	"YYYYDOY":  func(t time.Time) string { return fmt.Sprintf("%04d%03d", t.Year(), t.YearDay()) },
	"YYYY":     func(t time.Time) string { return fmt.Sprintf("%04d", t.Year()) },
	"YY":       func(t time.Time) string { return fmt.Sprintf("%02d", t.Year()%100) },
	"MM":       func(t time.Time) string { return fmt.Sprintf("%02d", int(t.Month())) },
	"DD":       func(t time.Time) string { return fmt.Sprintf("%02d", t.Day()) },
	"DOY":      func(t time.Time) string { return fmt.Sprintf("%03d", t.YearDay()) },
}

// Template renders product filenames from a reference date.
type Template struct {
	raw    string
	tokens map[string]bool
}

// ParseTemplate checks that every token is known and that together they pin
// down a single calendar day, so two dates never render the same filename.
func ParseTemplate(raw string) (Template, error) {
	t := Template{raw: raw, tokens: make(map[string]bool)}
	for _, m := range tokenPattern.FindAllStringSubmatch(raw, -1) {
		if _, ok := tokenFormatters[m[1]]; !ok {
			return Template{}, fmt.Errorf("unknown token {%s}", m[1])
		}
		t.tokens[m[1]] = true
	}
	if strings.Count(raw, "{") != strings.Count(raw, "}") {
		return Template{}, fmt.Errorf("unbalanced braces in %q", raw)
	}
	if !t.determinesDate() {
		return Template{}, fmt.Errorf("template %q does not determine the full date", raw)
	}
	return t, nil
}

func (t Template) determinesDate() bool {
	if t.tokens["YYYYMMDD"] || t.tokens["YYYYDOY"] {
		return true
	}
	if !t.tokens["YYYY"] {
		return false
	}
	return (t.tokens["MM"] && t.tokens["DD"]) || t.tokens["DOY"]
}

// Render substitutes every token with the matching part of date.
func (t Template) Render(date time.Time) string {
	return tokenPattern.ReplaceAllStringFunc(t.raw, func(tok string) string {
		return tokenFormatters[tok[1:len(tok)-1]](date)
	})
}

func (t Template) String() string { return t.raw }
