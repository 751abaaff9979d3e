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

func channelCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "channel",
		Aliases: []string{"ch"},
		Short:   "Manage target channels",
	}
	cmd.AddCommand(channelAddCmd(e), channelRmCmd(e), channelLsCmd(e))
	return cmd
}

func channelAddCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "add [@handle|-100id] [name...]",
		Short: "Register a channel",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.NormalizeChannelID(args[0])
			if err != nil {
				return err
			}
			name := strings.Join(args[1:], " ")
			return e.withStore(cmd, func(ctx context.Context, st storage.Store) error {
				err := st.AddChannel(ctx, domain.Channel{ID: id, Name: name, Active: true, AddedAt: time.Now().UTC()})
				if err != nil {
					return fmt.Errorf("failed to add channel: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Added channel %s\n", okMark, id)
				return nil
			})
		},
	}
}

func channelRmCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "rm [@handle|-100id]",
		Short: "Deactivate a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.NormalizeChannelID(args[0])
			if err != nil {
				return err
			}
			return e.withStore(cmd, func(ctx context.Context, st storage.Store) error {
				if err := st.RemoveChannel(ctx, id); err != nil {
					return fmt.Errorf("failed to remove channel: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Removed channel %s\n", okMark, id)
				return nil
			})
		},
	}
}

func channelLsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List active channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withStore(cmd, func(ctx context.Context, st storage.Store) error {
				list, err := st.ListActiveChannels(ctx)
				if err != nil {
					return fmt.Errorf("failed to list channels: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No channels registered")
					return nil
				}
				for _, ch := range list {
					fmt.Fprintf(out, "%s %s", okMark, ch.ID)
					if ch.Name != "" {
						fmt.Fprintf(out, " - %s", ch.Name)
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}
}
