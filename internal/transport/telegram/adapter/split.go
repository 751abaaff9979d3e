package adapter

import "strings"

// splitTelegramText cuts s into chunks of at most limit runes. A chunk ends
// at the last newline in its second half when there is one, and with HTML
// parse mode never inside a tag. It always returns at least one chunk.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var out []string
	for start := 0; start < len(rs); {
		end := cutPoint(rs, start, limit, html)
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func cutPoint(rs []rune, start, limit int, html bool) int {
	end := min(start+limit, len(rs))
	if end == len(rs) {
		return end
	}
	for i := end - 1; i-start >= limit/3; i-- {
		if rs[i] == '\n' {
			end = i + 1
			break
		}
	}
	if html {
		open := -1
		for i := start; i < end; i++ {
			switch rs[i] {
			case '<':
				open = i
			case '>':
				open = -1
			}
		}
		if open > start {
			end = open
		}
	}
	return end
}
