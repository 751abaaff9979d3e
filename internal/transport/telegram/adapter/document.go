package adapter

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	kit "phrasebot/internal/transport"
	logx "phrasebot/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

// MaxDocumentBytes is the largest phrase file accepted for upload.
const MaxDocumentBytes = 1 << 20

// checkDocument reports why a document cannot be a phrase file, or "".
func checkDocument(name string, size, limit int64) string {
	if !strings.EqualFold(filepath.Ext(name), ".txt") {
		return "only .txt files are accepted"
	}
	if size > limit {
		return fmt.Sprintf("file is larger than %d KiB", limit>>10)
	}
	return ""
}

// fetchDocument downloads a .txt document within the size limit. Anything
// else comes back with Rejected set and no text.
func (a *Adapter) fetchDocument(d *tele.Document) kit.Document {
	out := kit.Document{FileID: d.FileID, FileName: d.FileName, Size: d.FileSize}
	limit := a.cfg.MaxDocumentBytes
	if limit <= 0 {
		limit = MaxDocumentBytes
	}
	if out.Rejected = checkDocument(d.FileName, d.FileSize, limit); out.Rejected != "" {
		return out
	}

	rc, err := a.bot.File(&d.File)
	if err != nil {
		a.log.Warn("document download failed", logx.String("file", d.FileName), logx.Err(err))
		out.Rejected = "download failed"
		return out
	}
	defer rc.Close()

	b, err := io.ReadAll(io.LimitReader(rc, limit+1))
	switch {
	case err != nil:
		a.log.Warn("document read failed", logx.String("file", d.FileName), logx.Err(err))
		out.Rejected = "download failed"
	case int64(len(b)) > limit:
		out.Rejected = checkDocument(d.FileName, int64(len(b)), limit)
	case !utf8.Valid(b):
		out.Rejected = "file is not UTF-8 text"
	default:
		out.Text = string(b)
		out.Size = int64(len(b))
	}
	return out
}
