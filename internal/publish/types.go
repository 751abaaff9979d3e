package publish

import (
	"context"
	"time"

	"phrasebot/internal/domain"
)

// GeneratedSourceID tags publish log rows for generated text.
const GeneratedSourceID = "generated"

const (
	DefaultSendTimeout = 20 * time.Second
	DefaultThrottle    = time.Second
)

type Config struct {
	SendTimeout     time.Duration
	Throttle        time.Duration
	NotifyOnFailure bool
}

func (c Config) withDefaults() Config {
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.Throttle < 0 {
		c.Throttle = 0
	}
	return c
}

type PhraseStore interface {
	NextPhrase(ctx context.Context, sourceID string) (string, bool, error)
}

type ChannelLister interface {
	ListActiveChannels(ctx context.Context) ([]domain.Channel, error)
}

type AuditLog interface {
	RecordPublish(ctx context.Context, r domain.PublishRecord) error
}

// Sender delivers text to one channel. Failures are *domain.DeliveryError.
type Sender interface {
	Send(ctx context.Context, channelID, text string) error
}

type Notifier interface {
	NotifyAdmin(ctx context.Context, text string) error
}

// Remover drops the triggers of an exhausted source.
type Remover interface {
	Remove(ctx context.Context, sourceID string) error
}

type Result struct {
	SourceID  string
	Phrase    string
	Exhausted bool
	Attempted int
	Delivered int
	Failed    int
	// Failures maps channel id to failure reason.
	Failures map[string]string
}
