package transport

import (
	"context"
	"errors"
	"strings"
	"time"

	"phrasebot/internal/domain"
)

// Delivery failure reasons recorded in the publish log.
const (
	ReasonTimeout      = "timeout"
	ReasonChatNotFound = "chat_not_found"
	ReasonForbidden    = "forbidden"
	ReasonRateLimited  = "rate_limited"
	ReasonBadRequest   = "bad_request"
	ReasonSendFailed   = "send_failed"
)

// TextSender is the part of Adapter a ChannelSender needs.
type TextSender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// ChannelSender delivers plain text to channels and reports every failure as
// *domain.DeliveryError.
type ChannelSender struct {
	Adapter TextSender
	// Timeout bounds one send. Zero means the caller's deadline only.
	Timeout   time.Duration
	ParseMode string
}

// Target converts a normalized channel id into a chat target.
func Target(channelID string) ChatTarget {
	if id, ok := domain.ChatIDOf(channelID); ok {
		return ChatTarget{ChatID: id}
	}
	return ChatTarget{Recipient: channelID}
}

func (s ChannelSender) Send(ctx context.Context, channelID, text string) error {
	if s.Adapter == nil {
		return &domain.DeliveryError{ChannelID: channelID, Reason: ReasonSendFailed, Err: errors.New("no adapter")}
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Adapter.SendText(ctx, Target(channelID), text, &SendOptions{ParseMode: s.ParseMode, DisablePreview: true})
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil {
		return nil
	}
	return &domain.DeliveryError{ChannelID: channelID, Reason: Classify(err), Err: err}
}

// Classify maps a send error to a stable failure reason.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReasonTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "chat not found"):
		return ReasonChatNotFound
	case strings.Contains(msg, "too many requests"), strings.Contains(msg, "retry after"):
		return ReasonRateLimited
	case strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "kicked"),
		strings.Contains(msg, "not enough rights"),
		strings.Contains(msg, "have no rights"):
		return ReasonForbidden
	case strings.Contains(msg, "bad request"):
		return ReasonBadRequest
	}
	return ReasonSendFailed
}
