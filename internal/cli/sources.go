package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"phrasebot/internal/bot"
	"phrasebot/internal/domain"
	"phrasebot/internal/storage"
)

func ingestCmd(e *env) *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Load a phrase file as a source (replaces a source with the same id)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			base := filepath.Base(args[0])
			if strings.TrimSpace(id) == "" {
				id = bot.SourceIDFromName(base)
			}
			if strings.TrimSpace(name) == "" {
				name = base
			}
			return e.withStore(cmd, func(ctx context.Context, st storage.Store) error {
				n, rep, err := storage.IngestText(ctx, st, id, name, string(raw))
				if errors.Is(err, domain.ErrEmptySource) {
					return fmt.Errorf("%s: no phrases found (%d lines skipped)", args[0], rep.Skipped)
				}
				if err != nil {
					return fmt.Errorf("failed to ingest: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s Saved source %s (%s): %d phrase(s)\n", okMark, id, name, n)
				if rep.Fallback > 0 || rep.Skipped > 0 {
					fmt.Fprintf(out, "  %s %d unnumbered line(s) kept, %d skipped\n", warnMark, rep.Fallback, rep.Skipped)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "source id (default: derived from the file name)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "display name (default: the file name)")
	return cmd
}

func sourcesCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "sources",
		Aliases: []string{"ls"},
		Short:   "List sources with their progress",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withStore(cmd, func(ctx context.Context, st storage.Store) error {
				list, err := st.ListSources(ctx)
				if err != nil {
					return fmt.Errorf("failed to list sources: %w", err)
				}
				scheds, err := st.ListSchedules(ctx, true)
				if err != nil {
					return fmt.Errorf("failed to list schedules: %w", err)
				}
				times := make(map[string][]string, len(scheds))
				for _, s := range scheds {
					times[s.SourceID] = s.Times
				}

				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No sources found")
					return nil
				}
				fmt.Fprintf(out, "Found %d source(s):\n\n", len(list))
				for _, s := range list {
					mark := okMark
					if s.Remaining() == 0 {
						mark = warnMark
					}
					fmt.Fprintf(out, "%s %-24s %d/%d left", mark, s.ID, s.Remaining(), s.Total)
					if t := times[s.ID]; len(t) > 0 {
						fmt.Fprintf(out, "  at %s", strings.Join(t, ", "))
					}
					if s.Name != "" && s.Name != s.ID {
						fmt.Fprintf(out, "  (%s)", s.Name)
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}
}

func resetCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [source]",
		Short: "Rewind a source to its first phrase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withStore(cmd, func(ctx context.Context, st storage.Store) error {
				if err := st.ResetSource(ctx, args[0]); err != nil {
					return fmt.Errorf("failed to reset: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Reset source %s\n", okMark, args[0])
				return nil
			})
		},
	}
}

func deleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "delete [source]",
		Aliases: []string{"rm"},
		Short:   "Delete a source and its schedule",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withStore(cmd, func(ctx context.Context, st storage.Store) error {
				if err := st.DeleteSource(ctx, args[0]); err != nil {
					return fmt.Errorf("failed to delete: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted source %s\n", okMark, args[0])
				return nil
			})
		},
	}
}
