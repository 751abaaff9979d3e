// Package phrase turns free-form uploaded text into an ordered phrase list.
package phrase

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// minFallbackRunes is the length a marker-less line must exceed to be kept.
const minFallbackRunes = 3

// Tried in order; the first match wins.
var markers = []*regexp.Regexp{
	regexp.MustCompile(`^\d+[.\-)]\s*(.+)$`),
	regexp.MustCompile(`^[\x{0660}-\x{0669}]+[.\-)]\s*(.+)$`),
	regexp.MustCompile(`^[-•]\s*(.+)$`),
	regexp.MustCompile(`^\[\d+\]\s*(.+)$`),
}

// Report summarises a parse. Fallback counts lines kept verbatim because they
// matched no list marker; Skipped counts non-blank lines that were dropped.
type Report struct {
	Matched  int
	Fallback int
	Skipped  int
}

func (r Report) Total() int { return r.Matched + r.Fallback }

// Parse returns the phrases of raw in file order with list markers stripped.
func Parse(raw string) []string {
	out, _ := ParseWithReport(raw)
	return out
}

func ParseWithReport(raw string) ([]string, Report) {
	var (
		out []string
		rep Report
	)
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if p, ok := matchMarker(line); ok {
			out = append(out, p)
			rep.Matched++
			continue
		}
		if utf8.RuneCountInString(line) > minFallbackRunes {
			out = append(out, line)
			rep.Fallback++
			continue
		}
		rep.Skipped++
	}
	return out, rep
}

func matchMarker(line string) (string, bool) {
	for _, re := range markers {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		p := strings.TrimSpace(m[1])
		if p == "" {
			return "", false
		}
		return p, true
	}
	return "", false
}
