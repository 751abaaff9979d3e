package domain

import (
	"strconv"
	"time"
)

// PhraseSource is an ordered phrase queue with a forward-only cursor.
type PhraseSource struct {
	ID        string
	Name      string
	Phrases   []string
	Cursor    int
	Active    bool
	CreatedAt time.Time
}

func (s PhraseSource) Total() int { return len(s.Phrases) }

// Remaining returns the number of unconsumed phrases, clamped at 0.
func (s PhraseSource) Remaining() int {
	n := len(s.Phrases) - s.Cursor
	if n < 0 {
		return 0
	}
	return n
}

func (s PhraseSource) Exhausted() bool { return s.Cursor >= len(s.Phrases) }

// Info returns the listing row for s.
func (s PhraseSource) Info() SourceInfo {
	return SourceInfo{ID: s.ID, Name: s.Name, Total: len(s.Phrases), Cursor: s.Cursor, Active: s.Active}
}

// SourceInfo is the listing view of a source (no phrase bodies).
type SourceInfo struct {
	ID     string
	Name   string
	Total  int
	Cursor int
	Active bool
}

func (s SourceInfo) Remaining() int {
	n := s.Total - s.Cursor
	if n < 0 {
		return 0
	}
	return n
}

type Channel struct {
	ID      string
	Name    string
	Active  bool
	AddedAt time.Time
}

// Schedule binds one source to a set of times of day (HH:MM, 24h).
//
// LastFiredAt is the scheduled instant of the most recent fire that was
// handed to the coordinator. It drives the restart misfire policy.
type Schedule struct {
	SourceID    string
	Times       []string
	Active      bool
	UpdatedAt   time.Time
	LastFiredAt time.Time
}

type PublishStatus string

const (
	StatusSuccess PublishStatus = "success"
	StatusFailed  PublishStatus = "failed"
)

// MaxRecordContent bounds PublishRecord.Content (in runes) when persisted.
const MaxRecordContent = 500

// PublishRecord is one append-only audit row per delivery attempt.
type PublishRecord struct {
	ID        int64
	SourceID  string
	ChannelID string
	Content   string
	At        time.Time
	Status    PublishStatus
	Error     string
}

// Snippet returns Content truncated to MaxRecordContent runes.
func (r PublishRecord) Snippet() string {
	rs := []rune(r.Content)
	if len(rs) <= MaxRecordContent {
		return r.Content
	}
	return string(rs[:MaxRecordContent])
}

// Admin is an authorized caller. It is produced once at the routing
// boundary and passed into admin operations.
type Admin struct {
	UserID   int64
	Username string
}

// Label is a short human-readable identity for logs and audit.
func (a Admin) Label() string {
	if a.Username != "" {
		return "@" + a.Username
	}
	return strconv.FormatInt(a.UserID, 10)
}
