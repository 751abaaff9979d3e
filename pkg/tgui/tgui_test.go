package tgui

import (
	"errors"
	"strings"
	"testing"
)

func TestTruncRunes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"привет", 2, "пр…"},
		{"x", 0, ""},
	}
	for _, c := range cases {
		if got := TruncRunes(c.in, c.n); got != c.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", c.in, c.n, got, c.want)
		}
	}
}

func TestProgress(t *testing.T) {
	t.Parallel()

	cases := []struct {
		done, total int
		want        string
	}{
		{0, 10, "░░░░░"},
		{5, 10, "▓▓░░░"},
		{10, 10, "▓▓▓▓▓"},
		{12, 10, "▓▓▓▓▓"},
		{0, 0, "░░░░░"},
	}
	for _, c := range cases {
		if got := Progress(c.done, c.total, 5); got != c.want {
			t.Fatalf("Progress(%d, %d) = %q, want %q", c.done, c.total, got, c.want)
		}
	}
}

func TestData(t *testing.T) {
	t.Parallel()

	got, err := Data("view", "quotes:1")
	if err != nil || got != "view:quotes:1" {
		t.Fatalf("Data = %q, %v", got, err)
	}
	if got, _ := Data("help", ""); got != "help" {
		t.Fatalf("Data without payload = %q, want help", got)
	}
	if _, err := Data("view", strings.Repeat("x", 64)); !errors.Is(err, ErrCallbackDataTooLong) {
		t.Fatalf("err = %v, want ErrCallbackDataTooLong", err)
	}
	if b := Btn("x", "view", strings.Repeat("x", 64)); b.Text != "" {
		t.Fatalf("oversized button kept: %+v", b)
	}
}

func TestInlineSkipsEmptyRows(t *testing.T) {
	t.Parallel()

	kb := NewInline().
		Row(Btn("A", "a", "1"), Btn("B", "b", "2")).
		Row(Btn("too long", "c", strings.Repeat("z", 80)))
	if kb.Len() != 1 {
		t.Fatalf("rows = %d, want 1", kb.Len())
	}
	if got := len(kb.Markup().InlineKeyboard[0]); got != 2 {
		t.Fatalf("buttons = %d, want 2", got)
	}
}

func TestPaginate(t *testing.T) {
	t.Parallel()

	items := []int{1, 2, 3, 4, 5, 6, 7}
	p := Paginate(items, 1, 3)
	if p.From != 3 || p.To != 6 || !p.HasPrev || !p.HasNext {
		t.Fatalf("page 1 = %+v", p)
	}
	if got := p.Label(); got != "Page 2/3 • 4–6 of 7" {
		t.Fatalf("Label = %q", got)
	}
	last := Paginate(items, 9, 3)
	if last.Index != 2 || len(last.Items) != 1 || last.HasNext {
		t.Fatalf("clamped page = %+v", last)
	}
	empty := Paginate([]int(nil), 0, 3)
	if len(empty.Items) != 0 || empty.Label() != "Page 1/1" {
		t.Fatalf("empty page = %+v", empty)
	}
}

func TestBuilderEscapes(t *testing.T) {
	t.Parallel()

	msg := New().Title("📚", "Sources").Line("a < b").KV("Total", "3 & more").Build()
	want := "📚 <b>Sources</b>\na &lt; b\n• <b>Total</b>: 3 &amp; more"
	if msg.Text != want {
		t.Fatalf("Text = %q, want %q", msg.Text, want)
	}
	if msg.Opt.ParseMode != "HTML" || msg.Opt.ReplyMarkupAdapter != nil {
		t.Fatalf("Opt = %+v", msg.Opt)
	}
}
