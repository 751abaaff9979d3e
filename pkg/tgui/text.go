package tgui

import (
	"strings"
	"unicode/utf8"
)

// TruncRunes returns s truncated to at most n runes, with "…" appended when
// it was cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}

// Progress renders done/total as a fixed-width bar, e.g. "▓▓▓░░░░░░░".
func Progress(done, total, width int) string {
	if width <= 0 {
		width = 10
	}
	filled := 0
	if total > 0 {
		if done > total {
			done = total
		}
		if done > 0 {
			filled = done * width / total
		}
	}
	return strings.Repeat("▓", filled) + strings.Repeat("░", width-filled)
}
