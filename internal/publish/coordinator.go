package publish

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sync"
	"time"

	"phrasebot/internal/domain"
	"phrasebot/internal/metrics"
	logx "phrasebot/pkg/logx"
)

type Coordinator struct {
	mu  sync.Mutex
	cfg Config

	phrases  PhraseStore
	channels ChannelLister
	audit    AuditLog
	sender   Sender
	notify   Notifier
	remover  Remover
	log      logx.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Deps struct {
	Phrases  PhraseStore
	Channels ChannelLister
	Audit    AuditLog
	Sender   Sender
	Notifier Notifier
	Remover  Remover
}

func New(cfg Config, deps Deps, log logx.Logger) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{
		cfg:      cfg.withDefaults(),
		phrases:  deps.Phrases,
		channels: deps.Channels,
		audit:    deps.Audit,
		sender:   deps.Sender,
		notify:   deps.Notifier,
		remover:  deps.Remover,
		log:      log.With(logx.String("comp", "publish")),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func (c *Coordinator) Apply(cfg Config) {
	c.mu.Lock()
	c.cfg = cfg.withDefaults()
	c.mu.Unlock()
}

// SetRemover wires the trigger registry once it exists.
func (c *Coordinator) SetRemover(r Remover) {
	c.mu.Lock()
	c.remover = r
	c.mu.Unlock()
}

func (c *Coordinator) config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Fire adapts RunCycle to the trigger callback shape.
func (c *Coordinator) Fire(ctx context.Context, sourceID string) error {
	_, err := c.RunCycle(ctx, sourceID)
	return err
}

// RunCycle publishes the next phrase of sourceID to every active channel.
// Only a failure to read the phrase or the channel list is returned.
func (c *Coordinator) RunCycle(ctx context.Context, sourceID string) (Result, error) {
	start := c.now()
	res := Result{SourceID: sourceID}
	log := c.log.With(logx.String("source", sourceID))

	phrase, ok, err := c.phrases.NextPhrase(ctx, sourceID)
	if err != nil {
		log.Error("failed to read next phrase", logx.Err(err))
		metrics.ObserveCycle(metrics.OutcomeError, start)
		return res, fmt.Errorf("next phrase of %s: %w", sourceID, err)
	}
	if !ok {
		res.Exhausted = true
		c.onExhausted(ctx, log, sourceID)
		metrics.ObserveCycle(metrics.OutcomeExhausted, start)
		return res, nil
	}
	res.Phrase = phrase

	res, err = c.deliver(ctx, log, res)
	switch {
	case err != nil:
		metrics.ObserveCycle(metrics.OutcomeError, start)
	case res.Attempted == 0:
		metrics.ObserveCycle(metrics.OutcomeNoChannel, start)
	default:
		metrics.ObserveCycle(metrics.OutcomePublished, start)
	}
	return res, err
}

// PublishText delivers text that did not come from a phrase source, such as
// generated text, through the same send and audit path.
func (c *Coordinator) PublishText(ctx context.Context, sourceID, text string) (Result, error) {
	if sourceID == "" {
		sourceID = GeneratedSourceID
	}
	log := c.log.With(logx.String("source", sourceID))
	return c.deliver(ctx, log, Result{SourceID: sourceID, Phrase: text})
}

func (c *Coordinator) onExhausted(ctx context.Context, log logx.Logger, sourceID string) {
	log.Info("source exhausted; removing schedule")

	c.mu.Lock()
	remover := c.remover
	c.mu.Unlock()
	if remover != nil {
		if err := remover.Remove(ctx, sourceID); err != nil {
			log.Warn("failed to remove schedule of exhausted source", logx.Err(err))
		}
	}
	c.notifyAdmin(ctx, fmt.Sprintf("📭 Source <code>%s</code> has no phrases left. Its schedule was removed.", html.EscapeString(sourceID)))
}

func (c *Coordinator) deliver(ctx context.Context, log logx.Logger, res Result) (Result, error) {
	cfg := c.config()

	channels, err := c.channels.ListActiveChannels(ctx)
	if err != nil {
		log.Error("failed to list channels", logx.Err(err))
		return res, fmt.Errorf("list channels: %w", err)
	}
	if len(channels) == 0 {
		log.Warn("no active channels; phrase not delivered")
		return res, nil
	}

	res.Failures = map[string]string{}
	for i, ch := range channels {
		if i > 0 && cfg.Throttle > 0 {
			if err := c.sleep(ctx, cfg.Throttle); err != nil {
				for _, rest := range channels[i:] {
					c.record(ctx, log, &res, rest.ID, &domain.DeliveryError{ChannelID: rest.ID, Reason: "cancelled", Err: err})
				}
				break
			}
		}
		sendCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := c.sender.Send(sendCtx, ch.ID, res.Phrase)
		cancel()
		c.record(ctx, log, &res, ch.ID, err)
	}

	fields := []logx.Field{
		logx.Int("attempted", res.Attempted),
		logx.Int("delivered", res.Delivered),
		logx.Int("failed", res.Failed),
	}
	if res.Failed > 0 {
		log.Warn("publish finished with failures", fields...)
	} else {
		log.Info("publish finished", fields...)
	}
	if res.Delivered == 0 && cfg.NotifyOnFailure {
		c.notifyAdmin(ctx, fmt.Sprintf("❌ Publishing <code>%s</code> failed on all %d channels.", html.EscapeString(res.SourceID), res.Attempted))
	}
	return res, nil
}

// record writes the audit row for one attempt. Audit failures are logged and
// swallowed.
func (c *Coordinator) record(ctx context.Context, log logx.Logger, res *Result, channelID string, sendErr error) {
	res.Attempted++
	rec := domain.PublishRecord{
		SourceID:  res.SourceID,
		ChannelID: channelID,
		Content:   res.Phrase,
		At:        c.now(),
		Status:    domain.StatusSuccess,
	}
	if sendErr != nil {
		res.Failed++
		rec.Status = domain.StatusFailed
		rec.Error = sendErr.Error()
		reason := sendErr.Error()
		var de *domain.DeliveryError
		if errors.As(sendErr, &de) && de.Reason != "" {
			reason = de.Reason
		}
		res.Failures[channelID] = reason
		log.Warn("delivery failed", logx.String("channel", channelID), logx.Err(sendErr))
	} else {
		res.Delivered++
		log.Debug("delivered", logx.String("channel", channelID))
	}
	metrics.ObserveDelivery(sendErr == nil)

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.audit.RecordPublish(actx, rec); err != nil {
		log.Error("failed to record publish", logx.String("channel", channelID), logx.Err(err))
	}
}

func (c *Coordinator) notifyAdmin(ctx context.Context, text string) {
	if c.notify == nil {
		return
	}
	if err := c.notify.NotifyAdmin(ctx, text); err != nil {
		c.log.Debug("admin notification not queued", logx.Err(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
