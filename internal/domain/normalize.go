package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var handleRe = regexp.MustCompile(`^[A-Za-z0-9_]{5,32}$`)

// NormalizeChannelID validates a channel identifier once, at creation time.
//
// Accepted forms:
//
//	@handle                   -> @handle (lower-cased)
//	https://t.me/handle       -> @handle
//	t.me/handle               -> @handle
//	-1001234567890, 12345     -> unchanged numeric chat id
func NormalizeChannelID(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidChannelID)
	}

	lower := strings.ToLower(s)
	for _, p := range []string{"https://", "http://"} {
		lower = strings.TrimPrefix(lower, p)
	}
	if strings.HasPrefix(lower, "t.me/") || strings.HasPrefix(lower, "telegram.me/") {
		h := lower[strings.Index(lower, "/")+1:]
		h = strings.TrimSuffix(h, "/")
		if !handleRe.MatchString(h) {
			return "", fmt.Errorf("%w: %q", ErrInvalidChannelID, raw)
		}
		return "@" + h, nil
	}

	if strings.HasPrefix(s, "@") {
		h := s[1:]
		if !handleRe.MatchString(h) {
			return "", fmt.Errorf("%w: %q", ErrInvalidChannelID, raw)
		}
		return "@" + strings.ToLower(h), nil
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n != 0 {
		return strconv.FormatInt(n, 10), nil
	}
	return "", fmt.Errorf("%w: %q (use @handle, t.me link or numeric id)", ErrInvalidChannelID, raw)
}

// ChatIDOf returns the numeric chat id for a normalized channel id.
// ok is false for @handle ids.
func ChatIDOf(id string) (int64, bool) {
	if strings.HasPrefix(id, "@") {
		return 0, false
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseTimeOfDay parses "HH:MM" or "H:MM" (24h).
func ParseTimeOfDay(raw string) (hour, minute int, err error) {
	s := strings.TrimSpace(raw)
	hs, ms, ok := strings.Cut(s, ":")
	if !ok || hs == "" || len(ms) != 2 || len(hs) > 2 || !digits(hs) || !digits(ms) {
		return 0, 0, &ScheduleValidationError{Value: raw}
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, &ScheduleValidationError{Value: raw, Reason: "hour must be 00-23"}
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, &ScheduleValidationError{Value: raw, Reason: "minute must be 00-59"}
	}
	return h, m, nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// NormalizeTimes validates every value before returning anything: either the
// whole set is valid, or the first bad value is reported. The result is the
// sorted distinct set in canonical HH:MM form.
func NormalizeTimes(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		h, m, err := ParseTimeOfDay(r)
		if err != nil {
			return nil, err
		}
		k := fmt.Sprintf("%02d:%02d", h, m)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	if len(out) == 0 {
		return nil, &ScheduleValidationError{Value: "", Reason: "at least one time is required"}
	}
	sort.Strings(out)
	return out, nil
}

// SplitTimes splits user input like "09:00, 18:00 21:30" into raw values.
func SplitTimes(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n'
	})
}

var suggestions = map[int][]string{
	1: {"09:00", "12:00", "18:00", "20:00"},
	2: {"09:00,21:00", "10:00,19:00", "08:00,20:00"},
	3: {"09:00,14:00,20:00", "08:00,15:00,21:00"},
	4: {"09:00,12:00,15:00,18:00", "08:00,11:00,17:00,20:00"},
}

// SuggestTimes returns example time sets for n posts per day.
func SuggestTimes(n int) []string {
	if s, ok := suggestions[n]; ok {
		return append([]string(nil), s...)
	}
	return []string{"08:00,11:00,14:00,17:00,20:00,22:00"}
}
