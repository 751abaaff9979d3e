package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"phrasebot/internal/domain"
	"phrasebot/internal/storage"
)

func scheduleCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule",
		Aliases: []string{"sched"},
		Short:   "Manage daily publish times",
	}
	cmd.AddCommand(scheduleSetCmd(e), scheduleRmCmd(e), scheduleLsCmd(e))
	return cmd
}

func scheduleSetCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "set [source] [HH:MM...]",
		Short: "Replace the publish times of a source",
		Long:  "Times are 24h HH:MM, separated by spaces or commas.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			times, err := domain.NormalizeTimes(domain.SplitTimes(strings.Join(args[1:], " ")))
			if err != nil {
				return err
			}
			return e.withStore(cmd, func(ctx context.Context, st storage.Store) error {
				src, err := st.GetSource(ctx, args[0])
				if err != nil {
					return err
				}
				if src.Exhausted() {
					return fmt.Errorf("source %s is exhausted; reset it first", src.ID)
				}
				err = st.SaveSchedule(ctx, domain.Schedule{
					SourceID:  src.ID,
					Times:     times,
					Active:    true,
					UpdatedAt: time.Now().UTC(),
				})
				if err != nil {
					return fmt.Errorf("failed to save schedule: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s publishes at %s\n", okMark, src.ID, strings.Join(times, ", "))
				return nil
			})
		},
	}
}

func scheduleRmCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "rm [source]",
		Short: "Remove the schedule of a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withStore(cmd, func(ctx context.Context, st storage.Store) error {
				if err := st.DeleteSchedule(ctx, args[0]); err != nil {
					return fmt.Errorf("failed to remove schedule: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Removed schedule of %s\n", okMark, args[0])
				return nil
			})
		},
	}
}

func scheduleLsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withStore(cmd, func(ctx context.Context, st storage.Store) error {
				list, err := st.ListSchedules(ctx, false)
				if err != nil {
					return fmt.Errorf("failed to list schedules: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No schedules found")
					return nil
				}
				for _, s := range list {
					mark := okMark
					if !s.Active {
						mark = warnMark
					}
					fmt.Fprintf(out, "%s %-24s %s", mark, s.SourceID, strings.Join(s.Times, ", "))
					if !s.LastFiredAt.IsZero() {
						fmt.Fprintf(out, "  last %s", s.LastFiredAt.Local().Format("2006-01-02 15:04"))
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}
}
