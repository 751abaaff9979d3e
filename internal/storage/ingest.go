package storage

import (
	"context"

	"phrasebot/internal/domain"
	"phrasebot/internal/phrase"
)

// IngestText parses raw and stores the phrases under id.
// A text with no recognizable phrase is rejected with domain.ErrEmptySource
// and leaves any existing source untouched.
func IngestText(ctx context.Context, st PhraseStore, id, name, raw string) (int, phrase.Report, error) {
	phrases, rep := phrase.ParseWithReport(raw)
	if len(phrases) == 0 {
		return 0, rep, domain.ErrEmptySource
	}
	n, err := st.IngestSource(ctx, id, name, phrases)
	return n, rep, err
}
