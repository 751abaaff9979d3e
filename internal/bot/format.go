package bot

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"phrasebot/internal/domain"
	"phrasebot/internal/publish"
	"phrasebot/internal/task/scheduler"
	"phrasebot/pkg/tgui"
)

func escape(s string) string { return tgui.Esc(s).String() }

// userError turns an error into a short operator-facing sentence.
func userError(err error) string {
	var sve *domain.ScheduleValidationError
	switch {
	case errors.Is(err, domain.ErrSourceNotFound):
		return "Unknown source. See /list."
	case errors.Is(err, domain.ErrEmptySource):
		return "No phrases found in that text."
	case errors.Is(err, domain.ErrChannelExists):
		return "That channel is already registered."
	case errors.Is(err, domain.ErrChannelNotFound):
		return "That channel is not registered."
	case errors.Is(err, domain.ErrInvalidChannelID):
		return "Invalid channel. Use @handle, a t.me link or a numeric -100… id."
	case errors.As(err, &sve):
		return sve.Error()
	case domain.IsStorageError(err):
		return "Storage is unavailable right now, try again later."
	default:
		return err.Error()
	}
}

var errUsage = errors.New("usage")

func usageErr(usage string) error {
	return fmt.Errorf("%w: %s", errUsage, usage)
}

func formatNext(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "not armed"
	}
	s := t.Format("Mon 15:04")
	if d := t.Sub(now); d > 0 {
		s += " (in " + shortDuration(d) + ")"
	}
	return s
}

func shortDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh%dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}

// triggerTimes returns the distinct HH:MM values of ts in order.
func triggerTimes(ts []scheduler.TriggerInfo) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Time)
	}
	sort.Strings(out)
	return out
}

func formatResult(res publish.Result) string {
	b := tgui.New()
	if res.Exhausted {
		return b.Title("📭", "Source exhausted").
			Line("No phrases left in " + res.SourceID + ". Use /reset " + res.SourceID + " to start over.").
			Build().Text
	}
	switch {
	case res.Attempted == 0:
		b.Title("⚠️", "No active channels")
		b.Line("The phrase was consumed but not delivered. Add one with /addchannel.")
	case res.Failed == 0:
		b.Title("✅", "Published")
	case res.Delivered == 0:
		b.Title("❌", "Delivery failed")
	default:
		b.Title("⚠️", "Partially published")
	}
	b.HTML(tgui.Quote(tgui.TruncRunes(res.Phrase, 300)))
	b.KV("Delivered", fmt.Sprintf("%d/%d", res.Delivered, res.Attempted))
	if len(res.Failures) > 0 {
		ids := make([]string, 0, len(res.Failures))
		for id := range res.Failures {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			b.HTML(tgui.H("  ✗ " + tgui.Code(id).String() + " " + escape(res.Failures[id])))
		}
	}
	return b.Build().Text
}

func statusIcon(s domain.PublishStatus) string {
	if s == domain.StatusSuccess {
		return "✅"
	}
	return "❌"
}

func joinOrNone(ss []string) string {
	if len(ss) == 0 {
		return "none"
	}
	return strings.Join(ss, ", ")
}
