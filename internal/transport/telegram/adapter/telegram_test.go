package adapter

import (
	"fmt"
	"strings"
	"testing"

	kit "phrasebot/internal/transport"

	tele "gopkg.in/telebot.v4"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        string
		limit     int
		parseMode string
		wantN     int
	}{
		{name: "short", in: "hello", limit: 10, wantN: 1},
		{name: "exact", in: strings.Repeat("a", 10), limit: 10, wantN: 1},
		{name: "hard split", in: strings.Repeat("a", 25), limit: 10, wantN: 3},
		{name: "newline split", in: strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8), limit: 10, wantN: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := splitTelegramText(tt.in, tt.limit, tt.parseMode)
			if len(got) != tt.wantN {
				t.Fatalf("chunks = %d (%q), want %d", len(got), got, tt.wantN)
			}
			for _, c := range got {
				if n := len([]rune(c)); n > tt.limit {
					t.Fatalf("chunk has %d runes, limit %d", n, tt.limit)
				}
			}
		})
	}
}

func TestSplitTelegramTextKeepsHTMLTags(t *testing.T) {
	t.Parallel()

	in := strings.Repeat("x", 8) + "<b>bold</b>"
	got := splitTelegramText(in, 10, "HTML")
	if strings.Join(got, "") != in {
		t.Fatalf("chunks %q do not rejoin to input", got)
	}
	for _, c := range got {
		if strings.Count(c, "<") != strings.Count(c, ">") {
			t.Fatalf("chunk %q splits a tag", c)
		}
	}
}

func TestChatOf(t *testing.T) {
	t.Parallel()

	if got := chatOf(kit.ChatTarget{Recipient: "@chan_one"}).Recipient(); got != "@chan_one" {
		t.Fatalf("Recipient() = %q, want @chan_one", got)
	}
	c, ok := chatOf(kit.ChatTarget{ChatID: -100123}).(*tele.Chat)
	if !ok || c.ID != -100123 {
		t.Fatalf("chatOf(numeric) = %#v", c)
	}
}

func TestMessageOf(t *testing.T) {
	t.Parallel()

	m := &tele.Message{
		ID:     7,
		Text:   "/list",
		Chat:   &tele.Chat{ID: -100500, Type: tele.ChatSuperGroup},
		Sender: &tele.User{ID: 42, Username: "owner"},
	}
	got := messageOf(m)
	if got.ChatID != -100500 || got.FromID != 42 || got.FromUsername != "owner" || !got.IsGroup || got.Text != "/list" {
		t.Fatalf("messageOf = %+v", got)
	}

	got = messageOf(&tele.Message{Chat: &tele.Chat{ID: 42, Type: tele.ChatPrivate}})
	if got.IsGroup {
		t.Fatal("private chat reported as group")
	}
}

func TestCheckDocument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		size int64
		want string
	}{
		{"quotes.txt", 100, ""},
		{"QUOTES.TXT", 100, ""},
		{"quotes.pdf", 100, "only .txt files are accepted"},
		{"big.txt", MaxDocumentBytes + 1, "file is larger than 1024 KiB"},
	}
	for _, tt := range tests {
		if got := checkDocument(tt.name, tt.size, MaxDocumentBytes); got != tt.want {
			t.Fatalf("checkDocument(%q, %d) = %q, want %q", tt.name, tt.size, got, tt.want)
		}
	}
}

func TestMenuCommands(t *testing.T) {
	t.Parallel()

	in := []kit.BotCommand{
		{Command: "list", Description: "List sources"},
		{Command: "", Description: "dropped"},
		{Command: "view"},
		{Command: "long", Description: strings.Repeat("d", 300)},
	}
	got := menuCommands(in)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[1].Description != "view" {
		t.Fatalf("empty description = %q, want the command name", got[1].Description)
	}
	if len(got[2].Description) != 256 {
		t.Fatalf("description len = %d, want 256", len(got[2].Description))
	}

	var many []kit.BotCommand
	for i := range 150 {
		many = append(many, kit.BotCommand{Command: fmt.Sprintf("c%d", i)})
	}
	if n := len(menuCommands(many)); n != maxMenuCommands {
		t.Fatalf("len = %d, want %d", n, maxMenuCommands)
	}
	if menuHash(got) == menuHash(menuCommands(in[:1])) {
		t.Fatal("different menus hash equal")
	}
}
