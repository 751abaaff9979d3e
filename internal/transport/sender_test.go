package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"phrasebot/internal/domain"

	"github.com/google/go-cmp/cmp"
)

type fakeTextSender struct {
	err   error
	block bool
	got   []ChatTarget
}

func (f *fakeTextSender) SendText(ctx context.Context, to ChatTarget, _ string, _ *SendOptions) (MessageRef, error) {
	f.got = append(f.got, to)
	if f.block {
		<-ctx.Done()
		return MessageRef{}, ctx.Err()
	}
	return MessageRef{ChatID: to.ChatID, MessageID: 1}, f.err
}

func TestTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want ChatTarget
	}{
		{"-1001234567890", ChatTarget{ChatID: -1001234567890}},
		{"42", ChatTarget{ChatID: 42}},
		{"@my_channel", ChatTarget{Recipient: "@my_channel"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, Target(tt.in)); diff != "" {
			t.Fatalf("Target(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestChannelSenderMapsErrors(t *testing.T) {
	t.Parallel()

	ok := &fakeTextSender{}
	if err := (ChannelSender{Adapter: ok}).Send(context.Background(), "@chan_one", "hi"); err != nil {
		t.Fatalf("Send = %v, want nil", err)
	}

	failing := &fakeTextSender{err: errors.New("telegram: Bad Request: chat not found (400)")}
	err := ChannelSender{Adapter: failing}.Send(context.Background(), "-100123", "hi")
	var de *domain.DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DeliveryError", err)
	}
	if de.ChannelID != "-100123" || de.Reason != ReasonChatNotFound {
		t.Fatalf("DeliveryError = %+v", de)
	}
}

func TestChannelSenderTimeout(t *testing.T) {
	t.Parallel()

	s := ChannelSender{Adapter: &fakeTextSender{block: true}, Timeout: 20 * time.Millisecond}
	start := time.Now()
	err := s.Send(context.Background(), "@slow_chan", "hi")
	var de *domain.DeliveryError
	if !errors.As(err, &de) || de.Reason != ReasonTimeout {
		t.Fatalf("err = %v, want timeout DeliveryError", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("Send took %v", time.Since(start))
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, ReasonTimeout},
		{fmt.Errorf("send: %w", context.DeadlineExceeded), ReasonTimeout},
		{errors.New("telegram: Forbidden: bot was kicked from the channel chat (403)"), ReasonForbidden},
		{errors.New("telegram: Bad Request: not enough rights to send text messages to the chat (400)"), ReasonForbidden},
		{errors.New("telegram: Too Many Requests: retry after 5 (429)"), ReasonRateLimited},
		{errors.New("telegram: Bad Request: message text is empty (400)"), ReasonBadRequest},
		{errors.New("dial tcp: connection refused"), ReasonSendFailed},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Fatalf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
