package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/supersky/supersky/internal/model"
	"github.com/supersky/supersky/internal/service"
)

type statusReport struct {
	LoggedIn      bool                  `json:"loggedIn"`
	Handle        string                `json:"handle,omitempty"`
	UnreadCount   int                   `json:"unreadCount"`
	Conversations []conversationLine    `json:"conversations"`
	LastCheckTime *time.Time            `json:"lastCheckTime,omitempty"`
	RateLimit     model.RateLimitStatus `json:"rateLimit"`
	Stats         model.Stats           `json:"stats"`
}

type conversationLine struct {
	ID          string `json:"id"`
	With        string `json:"with"`
	UnreadCount int    `json:"unreadCount"`
}

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the account, unread snapshot and backoff state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.openState(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			var report statusReport
			sess, loggedIn, err := c.creds.Session(ctx)
			if err != nil {
				return fmt.Errorf("load session: %w", err)
			}
			report.LoggedIn = loggedIn
			report.Handle = sess.Handle

			snap, err := c.repo.Snapshot(ctx)
			if err != nil {
				return fmt.Errorf("load snapshot: %w", err)
			}
			report.UnreadCount = snap.TotalUnreadCount
			report.Conversations = make([]conversationLine, 0, len(snap.Conversations))
			for _, v := range snap.Conversations {
				with := "Unknown User"
				if len(v.Convo.Members) > 0 {
					with = v.Convo.Members[0].Name()
				}
				report.Conversations = append(report.Conversations, conversationLine{ID: v.Convo.ID, With: with, UnreadCount: v.Convo.UnreadCount})
			}
			if !snap.LastCheckTime.IsZero() {
				t := snap.LastCheckTime
				report.LastCheckTime = &t
			}

			if report.RateLimit, err = c.repo.RateLimitStatus(ctx); err != nil {
				return fmt.Errorf("load rate limit status: %w", err)
			}
			if report.Stats, err = c.repo.Stats(ctx); err != nil {
				return fmt.Errorf("load stats: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return writeStatus(cmd.OutOrStdout(), report, a.now())
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeStatus(w io.Writer, r statusReport, now time.Time) error {
	account := "not logged in"
	if r.LoggedIn {
		account = r.Handle
	}
	fmt.Fprintf(w, "account: %s\n", account)
	fmt.Fprintf(w, "unread: %d\n", r.UnreadCount)
	for _, c := range r.Conversations {
		fmt.Fprintf(w, "  %-24s %3d  %s\n", c.With, c.UnreadCount, c.ID)
	}
	if r.LastCheckTime != nil {
		fmt.Fprintf(w, "last check: %s (%s ago)\n", r.LastCheckTime.Local().Format(time.DateTime), now.Sub(*r.LastCheckTime).Round(time.Second))
	} else {
		fmt.Fprintln(w, "last check: never")
	}

	rl := r.RateLimit
	switch {
	case rl.IsRateLimited && rl.ResetTime.After(now):
		fmt.Fprintf(w, "rate limited until %s\n", rl.ResetTime.Local().Format(time.DateTime))
	case rl.BackoffUntil.After(now):
		fmt.Fprintf(w, "backing off until %s (%d consecutive errors)\n", rl.BackoffUntil.Local().Format(time.DateTime), rl.ConsecutiveErrors)
	default:
		fmt.Fprintln(w, "rate limit: ok")
	}
	_, err := fmt.Fprintf(w, "pages visited: %d, actions: %d\n", r.Stats.PagesVisited, r.Stats.ActionsTaken)
	return err
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one forced sync now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.wire(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			out := c.engine.Sync(ctx, true)
			switch out.Status {
			case service.StatusSynced, service.StatusEmpty:
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d unread in %d conversations\n", out.Status, out.Snapshot.TotalUnreadCount, len(out.Snapshot.Conversations))
				return err
			case service.StatusSkipped:
				return fmt.Errorf("skipped: %s until %s", out.Denial.Reason, out.Denial.RetryAt.Local().Format(time.DateTime))
			case service.StatusIdle:
				return service.ErrNotLoggedIn
			default:
				return fmt.Errorf("sync failed: %w", out.Err)
			}
		},
	}
}
