package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"phrasebot/internal/domain"

	"github.com/google/go-cmp/cmp"
)

// runStoreContract exercises the behavior every driver must share.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	t.Run("forward only cursor", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		if _, err := st.IngestSource(ctx, "src", "Source", []string{"a", "b", "c"}); err != nil {
			t.Fatalf("IngestSource error: %v", err)
		}
		var got []string
		for {
			p, ok, err := st.NextPhrase(ctx, "src")
			if err != nil {
				t.Fatalf("NextPhrase error: %v", err)
			}
			if !ok {
				break
			}
			got = append(got, p)
		}
		if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
			t.Fatalf("phrases mismatch (-want +got):\n%s", diff)
		}
		src, err := st.GetSource(ctx, "src")
		if err != nil {
			t.Fatalf("GetSource error: %v", err)
		}
		if src.Cursor != 3 || src.Active {
			t.Fatalf("exhausted source = cursor %d active %v, want 3 false", src.Cursor, src.Active)
		}
		if n, _ := st.RemainingCount(ctx, "src"); n != 0 {
			t.Fatalf("RemainingCount = %d, want 0", n)
		}
	})

	t.Run("unknown source", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		if _, ok, err := st.NextPhrase(ctx, "missing"); ok || err != nil {
			t.Fatalf("NextPhrase(missing) = %v, %v, want false, nil", ok, err)
		}
		if _, err := st.RemainingCount(ctx, "missing"); !errors.Is(err, domain.ErrSourceNotFound) {
			t.Fatalf("RemainingCount(missing) error = %v, want ErrSourceNotFound", err)
		}
		if err := st.ResetSource(ctx, "missing"); !errors.Is(err, domain.ErrSourceNotFound) {
			t.Fatalf("ResetSource(missing) error = %v, want ErrSourceNotFound", err)
		}
		if err := st.DeleteSource(ctx, "missing"); !errors.Is(err, domain.ErrSourceNotFound) {
			t.Fatalf("DeleteSource(missing) error = %v, want ErrSourceNotFound", err)
		}
	})

	t.Run("reingest resets cursor", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		_, _ = st.IngestSource(ctx, "src", "", []string{"a", "b"})
		_, _, _ = st.NextPhrase(ctx, "src")
		if _, err := st.IngestSource(ctx, "src", "renamed", []string{"x", "y", "z"}); err != nil {
			t.Fatalf("IngestSource error: %v", err)
		}
		src, err := st.GetSource(ctx, "src")
		if err != nil {
			t.Fatalf("GetSource error: %v", err)
		}
		want := domain.SourceInfo{ID: "src", Name: "renamed", Total: 3, Cursor: 0, Active: true}
		if diff := cmp.Diff(want, src.Info()); diff != "" {
			t.Fatalf("source mismatch (-want +got):\n%s", diff)
		}
		if _, err := st.IngestSource(ctx, "src", "", nil); !errors.Is(err, domain.ErrEmptySource) {
			t.Fatalf("IngestSource(empty) error = %v, want ErrEmptySource", err)
		}
	})

	t.Run("reset and delete", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		_, _ = st.IngestSource(ctx, "src", "", []string{"a"})
		_, _, _ = st.NextPhrase(ctx, "src")
		_, _, _ = st.NextPhrase(ctx, "src")
		if err := st.ResetSource(ctx, "src"); err != nil {
			t.Fatalf("ResetSource error: %v", err)
		}
		p, ok, err := st.NextPhrase(ctx, "src")
		if err != nil || !ok || p != "a" {
			t.Fatalf("NextPhrase after reset = %q, %v, %v, want a, true, nil", p, ok, err)
		}

		_ = st.SaveSchedule(ctx, domain.Schedule{SourceID: "src", Times: []string{"09:00"}, Active: true})
		if err := st.DeleteSource(ctx, "src"); err != nil {
			t.Fatalf("DeleteSource error: %v", err)
		}
		if _, err := st.GetSource(ctx, "src"); !errors.Is(err, domain.ErrSourceNotFound) {
			t.Fatalf("GetSource after delete error = %v, want ErrSourceNotFound", err)
		}
		scheds, err := st.ListSchedules(ctx, false)
		if err != nil {
			t.Fatalf("ListSchedules error: %v", err)
		}
		if len(scheds) != 0 {
			t.Fatalf("schedules after delete = %d, want 0", len(scheds))
		}
	})

	t.Run("list sources", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		_, _ = st.IngestSource(ctx, "a", "A", []string{"1", "2"})
		_, _ = st.IngestSource(ctx, "b", "B", []string{"1"})
		_, _, _ = st.NextPhrase(ctx, "a")

		got, err := st.ListSources(ctx)
		if err != nil {
			t.Fatalf("ListSources error: %v", err)
		}
		sort.Slice(got, func(i, j int) bool { return got[i].ID < got[j].ID })
		want := []domain.SourceInfo{
			{ID: "a", Name: "A", Total: 2, Cursor: 1, Active: true},
			{ID: "b", Name: "B", Total: 1, Cursor: 0, Active: true},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("ListSources mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("concurrent dequeue", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		const total = 40
		phrases := make([]string, total)
		for i := range phrases {
			phrases[i] = fmt.Sprintf("p%02d", i)
		}
		_, _ = st.IngestSource(ctx, "src", "", phrases)

		var (
			mu  sync.Mutex
			got []string
			wg  sync.WaitGroup
		)
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					p, ok, err := st.NextPhrase(ctx, "src")
					if err != nil {
						t.Errorf("NextPhrase error: %v", err)
						return
					}
					if !ok {
						return
					}
					mu.Lock()
					got = append(got, p)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		sort.Strings(got)
		if diff := cmp.Diff(phrases, got); diff != "" {
			t.Fatalf("each phrase must be returned exactly once (-want +got):\n%s", diff)
		}
	})

	t.Run("channels", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		if err := st.AddChannel(ctx, domain.Channel{ID: "@one", Name: "One"}); err != nil {
			t.Fatalf("AddChannel error: %v", err)
		}
		if err := st.AddChannel(ctx, domain.Channel{ID: "-100200"}); err != nil {
			t.Fatalf("AddChannel error: %v", err)
		}
		if err := st.AddChannel(ctx, domain.Channel{ID: "@one"}); !errors.Is(err, domain.ErrChannelExists) {
			t.Fatalf("AddChannel(dup) error = %v, want ErrChannelExists", err)
		}
		if err := st.RemoveChannel(ctx, "@one"); err != nil {
			t.Fatalf("RemoveChannel error: %v", err)
		}
		if err := st.RemoveChannel(ctx, "@one"); !errors.Is(err, domain.ErrChannelNotFound) {
			t.Fatalf("RemoveChannel(twice) error = %v, want ErrChannelNotFound", err)
		}
		chs, err := st.ListActiveChannels(ctx)
		if err != nil {
			t.Fatalf("ListActiveChannels error: %v", err)
		}
		if len(chs) != 1 || chs[0].ID != "-100200" || !chs[0].Active {
			t.Fatalf("ListActiveChannels = %+v, want only -100200", chs)
		}
		if err := st.AddChannel(ctx, domain.Channel{ID: "@one"}); err != nil {
			t.Fatalf("re-adding a removed channel error: %v", err)
		}
		chs, _ = st.ListActiveChannels(ctx)
		if len(chs) != 2 {
			t.Fatalf("ListActiveChannels len = %d, want 2", len(chs))
		}
	})

	t.Run("schedules", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		if err := st.SaveSchedule(ctx, domain.Schedule{SourceID: "a", Times: []string{"09:00", "18:30"}, Active: true}); err != nil {
			t.Fatalf("SaveSchedule error: %v", err)
		}
		_ = st.SaveSchedule(ctx, domain.Schedule{SourceID: "b", Times: []string{"12:00"}, Active: false})
		fired := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
		if err := st.MarkScheduleFired(ctx, "a", fired); err != nil {
			t.Fatalf("MarkScheduleFired error: %v", err)
		}
		_ = st.SaveSchedule(ctx, domain.Schedule{SourceID: "a", Times: []string{"10:00"}, Active: true})

		active, err := st.ListSchedules(ctx, true)
		if err != nil {
			t.Fatalf("ListSchedules error: %v", err)
		}
		if len(active) != 1 {
			t.Fatalf("active schedules = %d, want 1", len(active))
		}
		got := active[0]
		if diff := cmp.Diff([]string{"10:00"}, got.Times); diff != "" {
			t.Fatalf("Times mismatch (-want +got):\n%s", diff)
		}
		if !got.LastFiredAt.Equal(fired) {
			t.Fatalf("LastFiredAt = %v, want %v", got.LastFiredAt, fired)
		}

		all, _ := st.ListSchedules(ctx, false)
		if len(all) != 2 {
			t.Fatalf("all schedules = %d, want 2", len(all))
		}
		if err := st.DeleteSchedule(ctx, "a"); err != nil {
			t.Fatalf("DeleteSchedule error: %v", err)
		}
		if err := st.DeleteSchedule(ctx, "a"); err != nil {
			t.Fatalf("DeleteSchedule(absent) error: %v", err)
		}
	})

	t.Run("publish log", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		long := strings.Repeat("ж", domain.MaxRecordContent+20)
		_ = st.RecordPublish(ctx, domain.PublishRecord{SourceID: "s", ChannelID: "@a", Content: "hi", Status: domain.StatusSuccess})
		if err := st.RecordPublish(ctx, domain.PublishRecord{SourceID: "s", ChannelID: "@b", Content: long, Status: domain.StatusFailed, Error: "forbidden"}); err != nil {
			t.Fatalf("RecordPublish error: %v", err)
		}

		got, err := st.RecentPublishes(ctx, 10)
		if err != nil {
			t.Fatalf("RecentPublishes error: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("RecentPublishes len = %d, want 2", len(got))
		}
		last := got[0]
		if last.ChannelID != "@b" || last.Status != domain.StatusFailed || last.Error != "forbidden" {
			t.Fatalf("newest record = %+v", last)
		}
		if n := len([]rune(last.Content)); n != domain.MaxRecordContent {
			t.Fatalf("stored content runes = %d, want %d", n, domain.MaxRecordContent)
		}
		if got[1].Error != "" || got[1].Status != domain.StatusSuccess {
			t.Fatalf("oldest record = %+v", got[1])
		}
		if got, _ := st.RecentPublishes(ctx, 1); len(got) != 1 {
			t.Fatalf("RecentPublishes(1) len = %d, want 1", len(got))
		}
	})
}
