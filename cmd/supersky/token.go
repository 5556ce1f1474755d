package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/supersky/supersky/internal/middleware"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject   string
		clientCtx string
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a token for a widget or page context",
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := a.issueToken(subject, clientCtx, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "widget", "token subject")
	cmd.Flags().StringVar(&clientCtx, "context", "page", "calling context (page, popup, widget)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lifetime (default jwt.expiration)")
	return cmd
}

func (a *app) issueToken(subject, clientContext string, ttl time.Duration) (string, error) {
	if a.cfg.JWTSecret == "" {
		return "", errors.New("jwt.secret is not set; the daemon accepts unauthenticated requests")
	}
	if ttl <= 0 {
		ttl = a.cfg.JWTExpiration
	}
	return middleware.IssueToken(a.cfg.JWTSecret, subject, clientContext, []string{middleware.ScopeProtocol}, ttl)
}
