package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/soyeahso/closer/internal/domain"
	"github.com/soyeahso/closer/internal/store"
	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored conversations",
	}
	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsShowCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	var (
		mode  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.SessionFilter{Limit: limit}
			if mode != "" {
				m, err := domain.ParseMode(mode)
				if err != nil {
					return err
				}
				filter.Mode = m
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, _, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			sessions, err := st.ListSessions(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return writeSessions(cmd.OutOrStdout(), sessions)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "only sessions in this mode (AUTO, MANUAL, NEEDS_ATTENTION)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum sessions to list")
	return cmd
}

func writeSessions(out io.Writer, sessions []domain.Session) error {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODE\tSTAGE\tINTENT\tMESSAGES\tLAST ACTIVE")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%d\t%s\n",
			s.ID, s.Mode, s.Stage, s.IntentScore, s.MessageCount, humanize.Time(s.LastMessageAt))
	}
	return tw.Flush()
}

func newSessionsShowCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session with its recent messages and follow-ups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, _, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			return showSession(cmd.Context(), st, args[0], limit, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of recent messages to show")
	return cmd
}

func showSession(ctx context.Context, st store.Store, id string, limit int, out io.Writer) error {
	sess, err := st.LoadSession(ctx, id)
	if err != nil {
		return err
	}
	msgs, err := st.Messages(ctx, id, limit)
	if err != nil {
		return err
	}
	fus, err := st.ListFollowUps(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Session:   %s\n", sess.ID)
	fmt.Fprintf(out, "Mode:      %s\n", sess.Mode)
	fmt.Fprintf(out, "Stage:     %s\n", sess.Stage)
	fmt.Fprintf(out, "Intent:    %.2f\n", sess.IntentScore)
	fmt.Fprintf(out, "Sentiment: %s (negative streak %d)\n", sess.Sentiment, sess.ConsecutiveNegative)
	fmt.Fprintf(out, "Created:   %s\n", humanize.Time(sess.CreatedAt))
	f := sess.Facts
	for _, field := range []struct{ label, v string }{
		{"Name", f.Name}, {"Email", f.Email}, {"Phone", f.Phone},
		{"Needs", f.Needs}, {"Pain", f.PainPoints}, {"Budget", f.Budget},
	} {
		if field.v != "" {
			fmt.Fprintf(out, "%-10s %s\n", field.label+":", field.v)
		}
	}
	if sess.Notes != "" {
		fmt.Fprintf(out, "\nNotes:\n%s\n", sess.Notes)
	}

	if len(fus) > 0 {
		fmt.Fprintln(out, "\nFollow-ups:")
		for _, fu := range fus {
			fmt.Fprintf(out, "  tier %d  %-9s  %s\n", fu.Tier, fu.Status, humanize.Time(fu.ScheduledAt))
		}
	}

	fmt.Fprintf(out, "\nMessages (%s total):\n", humanize.Comma(int64(sess.MessageCount)))
	for _, m := range msgs {
		fmt.Fprintf(out, "  [%s] %-8s %s\n", m.Timestamp.Format("01-02 15:04"), m.Sender, m.Text)
	}
	return nil
}
