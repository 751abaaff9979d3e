package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"phrasebot/internal/domain"
	logx "phrasebot/pkg/logx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS phrase_sources (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		phrases    TEXT NOT NULL,
		total      INTEGER NOT NULL,
		cursor_pos INTEGER NOT NULL DEFAULT 0,
		active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS channels (
		id       TEXT PRIMARY KEY,
		name     TEXT NOT NULL DEFAULT '',
		active   BOOLEAN NOT NULL DEFAULT TRUE,
		added_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS schedules (
		source_id     TEXT PRIMARY KEY,
		times         TEXT NOT NULL,
		active        BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_fired_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS publish_log (
		id         BIGSERIAL PRIMARY KEY,
		source_id  TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		content    TEXT NOT NULL,
		at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		status     TEXT NOT NULL,
		error      TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_publish_log_source ON publish_log(source_id)`,
}

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger

	locks keyedMutex
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, storageErr("open", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storageErr("ping", err)
	}

	st := &postgresStore{pool: pool, log: log}
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, storageErr("migrate", err)
	}
	log.Debug("postgres store opened", logx.Int("max_conns", int(pcfg.MaxConns)))
	return st, nil
}

func (s *postgresStore) migrate(ctx context.Context) error {
	for i, stmt := range postgresMigrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// ---- phrase sources ----

func (s *postgresStore) IngestSource(ctx context.Context, id, name string, phrases []string) (int, error) {
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO phrase_sources(id, name, phrases, total, cursor_pos, active, created_at)
		 VALUES($1,$2,$3,$4,0,TRUE,$5)
		 ON CONFLICT(id) DO UPDATE SET
		   name=EXCLUDED.name, phrases=EXCLUDED.phrases, total=EXCLUDED.total,
		   cursor_pos=0, active=TRUE`,
		id, name, enc, len(phrases), time.Now().UTC(),
	)
	if err != nil {
		return 0, storageErr("ingest", err)
	}
	return len(phrases), nil
}

func (s *postgresStore) NextPhrase(ctx context.Context, id string) (string, bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", false, storageErr("next_phrase", err)
	}
	defer tx.Rollback(ctx)

	var (
		raw    string
		cursor int
	)
	err = tx.QueryRow(ctx, `SELECT phrases, cursor_pos FROM phrase_sources WHERE id = $1 FOR UPDATE`, id).Scan(&raw, &cursor)
	if errors.Is(err, pgx.ErrNoRows) {
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
		if _, err := tx.Exec(ctx, `UPDATE phrase_sources SET active = FALSE WHERE id = $1 AND active`, id); err != nil {
			return "", false, storageErr("next_phrase", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return "", false, storageErr("next_phrase", err)
		}
		return "", false, nil
	}

	tag, err := tx.Exec(ctx, `UPDATE phrase_sources SET cursor_pos = cursor_pos + 1 WHERE id = $1 AND cursor_pos = $2`, id, cursor)
	if err != nil {
		return "", false, storageErr("next_phrase", err)
	}
	if tag.RowsAffected() != 1 {
		return "", false, storageErr("next_phrase", fmt.Errorf("cursor of %s moved concurrently", id))
	}
	if err := tx.Commit(ctx); err != nil {
		return "", false, storageErr("next_phrase", err)
	}
	return phrases[cursor], true, nil
}

func (s *postgresStore) ResetSource(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	tag, err := s.pool.Exec(ctx, `UPDATE phrase_sources SET cursor_pos = 0, active = TRUE WHERE id = $1`, id)
	if err != nil {
		return storageErr("reset", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSourceNotFound, id)
	}
	return nil
}

func (s *postgresStore) DeleteSource(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageErr("delete_source", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM phrase_sources WHERE id = $1`, id)
	if err != nil {
		return storageErr("delete_source", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSourceNotFound, id)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM schedules WHERE source_id = $1`, id); err != nil {
		return storageErr("delete_source", err)
	}
	return storageErr("delete_source", tx.Commit(ctx))
}

func (s *postgresStore) GetSource(ctx context.Context, id string) (domain.PhraseSource, error) {
	var (
		src domain.PhraseSource
		raw string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, phrases, cursor_pos, active, created_at FROM phrase_sources WHERE id = $1`, id,
	).Scan(&src.ID, &src.Name, &raw, &src.Cursor, &src.Active, &src.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PhraseSource{}, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, id)
	}
	if err != nil {
		return domain.PhraseSource{}, storageErr("get_source", err)
	}
	if src.Phrases, err = decodeList(raw); err != nil {
		return domain.PhraseSource{}, storageErr("get_source", err)
	}
	return src, nil
}

func (s *postgresStore) ListSources(ctx context.Context) ([]domain.SourceInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, total, cursor_pos, active FROM phrase_sources ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, storageErr("list_sources", err)
	}
	defer rows.Close()

	var out []domain.SourceInfo
	for rows.Next() {
		var it domain.SourceInfo
		if err := rows.Scan(&it.ID, &it.Name, &it.Total, &it.Cursor, &it.Active); err != nil {
			return nil, storageErr("list_sources", err)
		}
		out = append(out, it)
	}
	return out, storageErr("list_sources", rows.Err())
}

func (s *postgresStore) RemainingCount(ctx context.Context, id string) (int, error) {
	var total, cursor int
	err := s.pool.QueryRow(ctx, `SELECT total, cursor_pos FROM phrase_sources WHERE id = $1`, id).Scan(&total, &cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, id)
	}
	if err != nil {
		return 0, storageErr("remaining", err)
	}
	return max(0, total-cursor), nil
}

// ---- channels ----

func (s *postgresStore) AddChannel(ctx context.Context, ch domain.Channel) error {
	if ch.AddedAt.IsZero() {
		ch.AddedAt = time.Now()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO channels(id, name, active, added_at) VALUES($1,$2,TRUE,$3)
		 ON CONFLICT(id) DO UPDATE SET name=EXCLUDED.name, active=TRUE, added_at=EXCLUDED.added_at
		 WHERE NOT channels.active`,
		ch.ID, ch.Name, ch.AddedAt.UTC(),
	)
	if err != nil {
		return storageErr("add_channel", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrChannelExists, ch.ID)
	}
	return nil
}

func (s *postgresStore) RemoveChannel(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE channels SET active = FALSE WHERE id = $1 AND active`, id)
	if err != nil {
		return storageErr("remove_channel", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrChannelNotFound, id)
	}
	return nil
}

func (s *postgresStore) ListActiveChannels(ctx context.Context) ([]domain.Channel, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, added_at FROM channels WHERE active ORDER BY added_at, id`)
	if err != nil {
		return nil, storageErr("list_channels", err)
	}
	defer rows.Close()

	var out []domain.Channel
	for rows.Next() {
		var ch domain.Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.AddedAt); err != nil {
			return nil, storageErr("list_channels", err)
		}
		ch.Active = true
		out = append(out, ch)
	}
	return out, storageErr("list_channels", rows.Err())
}

// ---- schedules ----

func (s *postgresStore) SaveSchedule(ctx context.Context, sc domain.Schedule) error {
	enc, err := encodeList(sc.Times)
	if err != nil {
		return storageErr("save_schedule", err)
	}
	if sc.UpdatedAt.IsZero() {
		sc.UpdatedAt = time.Now()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO schedules(source_id, times, active, updated_at) VALUES($1,$2,$3,$4)
		 ON CONFLICT(source_id) DO UPDATE SET times=EXCLUDED.times, active=EXCLUDED.active, updated_at=EXCLUDED.updated_at`,
		sc.SourceID, enc, sc.Active, sc.UpdatedAt.UTC(),
	)
	return storageErr("save_schedule", err)
}

func (s *postgresStore) DeleteSchedule(ctx context.Context, sourceID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM schedules WHERE source_id = $1`, sourceID)
	return storageErr("delete_schedule", err)
}

func (s *postgresStore) ListSchedules(ctx context.Context, activeOnly bool) ([]domain.Schedule, error) {
	q := `SELECT source_id, times, active, updated_at, last_fired_at FROM schedules`
	if activeOnly {
		q += ` WHERE active`
	}
	q += ` ORDER BY source_id`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, storageErr("list_schedules", err)
	}
	defer rows.Close()

	var out []domain.Schedule
	for rows.Next() {
		var (
			sc    domain.Schedule
			times string
			fired *time.Time
		)
		if err := rows.Scan(&sc.SourceID, &times, &sc.Active, &sc.UpdatedAt, &fired); err != nil {
			return nil, storageErr("list_schedules", err)
		}
		if sc.Times, err = decodeList(times); err != nil {
			return nil, storageErr("list_schedules", err)
		}
		if fired != nil {
			sc.LastFiredAt = *fired
		}
		out = append(out, sc)
	}
	return out, storageErr("list_schedules", rows.Err())
}

func (s *postgresStore) MarkScheduleFired(ctx context.Context, sourceID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE schedules SET last_fired_at = $1 WHERE source_id = $2`, at.UTC(), sourceID)
	return storageErr("mark_fired", err)
}

// ---- publish log ----

func (s *postgresStore) RecordPublish(ctx context.Context, r domain.PublishRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO publish_log(source_id, channel_id, content, at, status, error) VALUES($1,$2,$3,$4,$5,$6)`,
		r.SourceID, r.ChannelID, r.Snippet(), r.At.UTC(), string(r.Status), nullStr(r.Error),
	)
	return storageErr("record_publish", err)
}

func (s *postgresStore) RecentPublishes(ctx context.Context, limit int) ([]domain.PublishRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_id, channel_id, content, at, status, error FROM publish_log ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, storageErr("recent_publishes", err)
	}
	defer rows.Close()

	var out []domain.PublishRecord
	for rows.Next() {
		var (
			r      domain.PublishRecord
			status string
			msg    *string
		)
		if err := rows.Scan(&r.ID, &r.SourceID, &r.ChannelID, &r.Content, &r.At, &status, &msg); err != nil {
			return nil, storageErr("recent_publishes", err)
		}
		r.Status = domain.PublishStatus(status)
		if msg != nil {
			r.Error = *msg
		}
		out = append(out, r)
	}
	return out, storageErr("recent_publishes", rows.Err())
}
