package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"phrasebot/internal/domain"
	logx "phrasebot/pkg/logx"
)

func openTestSQLite(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "data", "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteStoreContract(t *testing.T) {
	t.Parallel()
	runStoreContract(t, openTestSQLite)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bot.db")
	ctx := context.Background()

	st, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	_, _ = st.IngestSource(ctx, "src", "", []string{"a", "b"})
	_, _, _ = st.NextPhrase(ctx, "src")
	_ = st.Close()

	st, err = Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer st.Close()
	p, ok, err := st.NextPhrase(ctx, "src")
	if err != nil || !ok || p != "b" {
		t.Fatalf("NextPhrase after reopen = %q, %v, %v, want b, true, nil", p, ok, err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty sqlite path")
	}
}

func TestIngestText(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()

	n, rep, err := IngestText(ctx, st, "src", "List", "1. first\n2) second\n\nok\n")
	if err != nil {
		t.Fatalf("IngestText error: %v", err)
	}
	if n != 2 || rep.Matched != 2 || rep.Skipped != 1 {
		t.Fatalf("IngestText = %d, %+v, want 2 phrases, 2 matched, 1 skipped", n, rep)
	}

	if _, _, err := IngestText(ctx, st, "src", "List", "\n a \n"); !errors.Is(err, domain.ErrEmptySource) {
		t.Fatalf("IngestText(empty) error = %v, want ErrEmptySource", err)
	}
	if left, _ := st.RemainingCount(ctx, "src"); left != 2 {
		t.Fatalf("RemainingCount after rejected ingest = %d, want 2", left)
	}
}
