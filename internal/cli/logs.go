package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"phrasebot/internal/domain"
	"phrasebot/internal/storage"
	"phrasebot/pkg/tgui"
)

const maxLogLimit = 500

func logsCmd(e *env) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent publish attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 || limit > maxLogLimit {
				return fmt.Errorf("--limit must be between 1 and %d", maxLogLimit)
			}
			return e.withStore(cmd, func(ctx context.Context, st storage.Store) error {
				recs, err := st.RecentPublishes(ctx, limit)
				if err != nil {
					return fmt.Errorf("failed to read logs: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(recs) == 0 {
					fmt.Fprintln(out, "No publish attempts yet")
					return nil
				}
				for _, r := range recs {
					mark := okMark
					if r.Status != domain.StatusSuccess {
						mark = failMark
					}
					fmt.Fprintf(out, "%s %s %-16s %-20s %s",
						mark, r.At.Local().Format("2006-01-02 15:04"), r.SourceID, r.ChannelID, tgui.TruncRunes(r.Content, 60))
					if r.Error != "" {
						fmt.Fprintf(out, " (%s)", r.Error)
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of rows")
	return cmd
}

func statusCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize sources, channels and schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withStore(cmd, func(ctx context.Context, st storage.Store) error {
				sources, err := st.ListSources(ctx)
				if err != nil {
					return err
				}
				channels, err := st.ListActiveChannels(ctx)
				if err != nil {
					return err
				}
				scheds, err := st.ListSchedules(ctx, true)
				if err != nil {
					return err
				}
				exhausted, remaining := 0, 0
				for _, s := range sources {
					remaining += s.Remaining()
					if s.Remaining() == 0 {
						exhausted++
					}
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Sources:   %d (%d exhausted, %d phrases left)\n", len(sources), exhausted, remaining)
				fmt.Fprintf(out, "Channels:  %d active\n", len(channels))
				fmt.Fprintf(out, "Schedules: %d active\n", len(scheds))
				if len(channels) == 0 {
					fmt.Fprintf(out, "%s no active channels; publishes will be skipped\n", warnMark)
				}
				return nil
			})
		},
	}
}
