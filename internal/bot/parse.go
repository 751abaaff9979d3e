package bot

import (
	"strings"

	"github.com/google/uuid"
)

func newReqID() string {
	id := uuid.NewString()
	return id[:8]
}

// splitCommand separates a command message into its command word, the
// arguments on the first line and the body that follows the first line.
//
//	/upload "My list"
//	1. first phrase
//	2. second phrase
//
// yields ("upload", ["My list"], "1. first phrase\n2. second phrase").
func splitCommand(text string) (word string, args []string, body string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, ""
	}
	head := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		head = text[:i]
		body = strings.TrimSpace(text[i+1:])
	}
	parts := tokenizeCommandLine(head)
	if len(parts) == 0 {
		return "", nil, ""
	}
	word = strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return word, parts[1:], body
}

// tokenizeCommandLine splits a line into tokens while supporting quotes.
//
//	/schedule "daily quotes" 09:00,18:00
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
		case ' ', '\t', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// SourceIDFromName derives a short command-friendly source id from a file or
// display name: "Daily Quotes.txt" -> "daily_quotes". Names with nothing
// usable get a random id.
func SourceIDFromName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	id := sanitizeCommandName(name)
	if id == "" {
		return "src_" + newReqID()
	}
	return id
}
