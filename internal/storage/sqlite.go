package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"phrasebot/internal/domain"
	logx "phrasebot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchemaFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	locks keyedMutex
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr("open", err)
	}
	// SQLite prefers a single writer; this also makes the dequeue
	// transaction the only statement in flight.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, storageErr("migrate", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := sqliteSchemaFS.ReadFile("sqlite_schema.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- phrase sources ----

func (s *sqliteStore) IngestSource(ctx context.Context, id, name string, phrases []string) (int, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, errors.New("source id is required")
	}
	if len(phrases) == 0 {
		return 0, domain.ErrEmptySource
	}
	if strings.TrimSpace(name) == "" {
		name = id
	}
	enc, err := encodeList(phrases)
	if err != nil {
		return 0, storageErr("ingest", err)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO phrase_sources(id, name, phrases, total, cursor_pos, active, created_at)
		 VALUES(?,?,?,?,0,1,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, phrases=excluded.phrases, total=excluded.total,
		   cursor_pos=0, active=1`,
		id, name, enc, len(phrases), formatTime(time.Now()),
	)
	if err != nil {
		return 0, storageErr("ingest", err)
	}
	return len(phrases), nil
}

func (s *sqliteStore) NextPhrase(ctx context.Context, id string) (string, bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, storageErr("next_phrase", err)
	}
	defer tx.Rollback()

	var (
		raw    string
		cursor int
	)
	err = tx.QueryRowContext(ctx, `SELECT phrases, cursor_pos FROM phrase_sources WHERE id = ?`, id).Scan(&raw, &cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("next_phrase", err)
	}
	phrases, err := decodeList(raw)
	if err != nil {
		return "", false, storageErr("next_phrase", fmt.Errorf("decode phrases of %s: %w", id, err))
	}
	if cursor >= len(phrases) {
		if _, err := tx.ExecContext(ctx, `UPDATE phrase_sources SET active = 0 WHERE id = ? AND active = 1`, id); err != nil {
			return "", false, storageErr("next_phrase", err)
		}
		if err := tx.Commit(); err != nil {
			return "", false, storageErr("next_phrase", err)
		}
		return "", false, nil
	}

	res, err := tx.ExecContext(ctx, `UPDATE phrase_sources SET cursor_pos = cursor_pos + 1 WHERE id = ? AND cursor_pos = ?`, id, cursor)
	if err != nil {
		return "", false, storageErr("next_phrase", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return "", false, storageErr("next_phrase", fmt.Errorf("cursor of %s moved concurrently", id))
	}
	if err := tx.Commit(); err != nil {
		return "", false, storageErr("next_phrase", err)
	}
	return phrases[cursor], true, nil
}

func (s *sqliteStore) ResetSource(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE phrase_sources SET cursor_pos = 0, active = 1 WHERE id = ?`, id)
	if err != nil {
		return storageErr("reset", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSourceNotFound, id)
	}
	return nil
}

func (s *sqliteStore) DeleteSource(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("delete_source", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM phrase_sources WHERE id = ?`, id)
	if err != nil {
		return storageErr("delete_source", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSourceNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE source_id = ?`, id); err != nil {
		return storageErr("delete_source", err)
	}
	return storageErr("delete_source", tx.Commit())
}

func (s *sqliteStore) GetSource(ctx context.Context, id string) (domain.PhraseSource, error) {
	var (
		src     domain.PhraseSource
		raw     string
		active  int
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, phrases, cursor_pos, active, created_at FROM phrase_sources WHERE id = ?`, id,
	).Scan(&src.ID, &src.Name, &raw, &src.Cursor, &active, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PhraseSource{}, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, id)
	}
	if err != nil {
		return domain.PhraseSource{}, storageErr("get_source", err)
	}
	src.Phrases, err = decodeList(raw)
	if err != nil {
		return domain.PhraseSource{}, storageErr("get_source", err)
	}
	src.Active = active != 0
	src.CreatedAt = parseTime(created)
	return src, nil
}

func (s *sqliteStore) ListSources(ctx context.Context) ([]domain.SourceInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, total, cursor_pos, active FROM phrase_sources ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, storageErr("list_sources", err)
	}
	defer rows.Close()

	var out []domain.SourceInfo
	for rows.Next() {
		var (
			it     domain.SourceInfo
			active int
		)
		if err := rows.Scan(&it.ID, &it.Name, &it.Total, &it.Cursor, &active); err != nil {
			return nil, storageErr("list_sources", err)
		}
		it.Active = active != 0
		out = append(out, it)
	}
	return out, storageErr("list_sources", rows.Err())
}

func (s *sqliteStore) RemainingCount(ctx context.Context, id string) (int, error) {
	var total, cursor int
	err := s.db.QueryRowContext(ctx, `SELECT total, cursor_pos FROM phrase_sources WHERE id = ?`, id).Scan(&total, &cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, id)
	}
	if err != nil {
		return 0, storageErr("remaining", err)
	}
	return max(0, total-cursor), nil
}

// ---- channels ----

func (s *sqliteStore) AddChannel(ctx context.Context, ch domain.Channel) error {
	if ch.AddedAt.IsZero() {
		ch.AddedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO channels(id, name, active, added_at) VALUES(?,?,1,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, active=1, added_at=excluded.added_at
		 WHERE channels.active = 0`,
		ch.ID, ch.Name, formatTime(ch.AddedAt),
	)
	if err != nil {
		return storageErr("add_channel", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrChannelExists, ch.ID)
	}
	return nil
}

func (s *sqliteStore) RemoveChannel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE channels SET active = 0 WHERE id = ? AND active = 1`, id)
	if err != nil {
		return storageErr("remove_channel", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrChannelNotFound, id)
	}
	return nil
}

func (s *sqliteStore) ListActiveChannels(ctx context.Context) ([]domain.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, added_at FROM channels WHERE active = 1 ORDER BY added_at, id`)
	if err != nil {
		return nil, storageErr("list_channels", err)
	}
	defer rows.Close()

	var out []domain.Channel
	for rows.Next() {
		var (
			ch    domain.Channel
			added string
		)
		if err := rows.Scan(&ch.ID, &ch.Name, &added); err != nil {
			return nil, storageErr("list_channels", err)
		}
		ch.Active = true
		ch.AddedAt = parseTime(added)
		out = append(out, ch)
	}
	return out, storageErr("list_channels", rows.Err())
}

// ---- schedules ----

func (s *sqliteStore) SaveSchedule(ctx context.Context, sc domain.Schedule) error {
	enc, err := encodeList(sc.Times)
	if err != nil {
		return storageErr("save_schedule", err)
	}
	if sc.UpdatedAt.IsZero() {
		sc.UpdatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules(source_id, times, active, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(source_id) DO UPDATE SET times=excluded.times, active=excluded.active, updated_at=excluded.updated_at`,
		sc.SourceID, enc, boolInt(sc.Active), formatTime(sc.UpdatedAt),
	)
	return storageErr("save_schedule", err)
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, sourceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE source_id = ?`, sourceID)
	return storageErr("delete_schedule", err)
}

func (s *sqliteStore) ListSchedules(ctx context.Context, activeOnly bool) ([]domain.Schedule, error) {
	q := `SELECT source_id, times, active, updated_at, last_fired_at FROM schedules`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY source_id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, storageErr("list_schedules", err)
	}
	defer rows.Close()

	var out []domain.Schedule
	for rows.Next() {
		var (
			sc      domain.Schedule
			times   string
			active  int
			updated string
			fired   sql.NullString
		)
		if err := rows.Scan(&sc.SourceID, &times, &active, &updated, &fired); err != nil {
			return nil, storageErr("list_schedules", err)
		}
		if sc.Times, err = decodeList(times); err != nil {
			return nil, storageErr("list_schedules", err)
		}
		sc.Active = active != 0
		sc.UpdatedAt = parseTime(updated)
		sc.LastFiredAt = parseTime(fired.String)
		out = append(out, sc)
	}
	return out, storageErr("list_schedules", rows.Err())
}

func (s *sqliteStore) MarkScheduleFired(ctx context.Context, sourceID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE schedules SET last_fired_at = ? WHERE source_id = ?`, formatTime(at), sourceID)
	return storageErr("mark_fired", err)
}

// ---- publish log ----

func (s *sqliteStore) RecordPublish(ctx context.Context, r domain.PublishRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO publish_log(source_id, channel_id, content, at, status, error) VALUES(?,?,?,?,?,?)`,
		r.SourceID, r.ChannelID, r.Snippet(), formatTime(r.At), string(r.Status), nullStr(r.Error),
	)
	return storageErr("record_publish", err)
}

func (s *sqliteStore) RecentPublishes(ctx context.Context, limit int) ([]domain.PublishRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, channel_id, content, at, status, error FROM publish_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storageErr("recent_publishes", err)
	}
	defer rows.Close()

	var out []domain.PublishRecord
	for rows.Next() {
		var (
			r      domain.PublishRecord
			at     string
			status string
			msg    sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SourceID, &r.ChannelID, &r.Content, &at, &status, &msg); err != nil {
			return nil, storageErr("recent_publishes", err)
		}
		r.At = parseTime(at)
		r.Status = domain.PublishStatus(status)
		r.Error = msg.String
		out = append(out, r)
	}
	return out, storageErr("recent_publishes", rows.Err())
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
