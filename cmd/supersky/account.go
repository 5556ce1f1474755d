package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/supersky/supersky/internal/chat"
)

const passwordEnv = "SUPERSKY_APP_PASSWORD"

func newLoginCmd(a *app) *cobra.Command {
	var (
		handle   string
		password string
		noVerify bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the account handle and app password",
		Long:  "login stores the handle and app password the daemon signs in with. The password is read from --app-password, $" + passwordEnv + " or the first line of stdin.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if password == "" {
				password = os.Getenv(passwordEnv)
			}
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("app password required")
				}
				password = strings.TrimSpace(line)
			}

			c, err := a.wire(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.creds.Login(ctx, handle, password); err != nil {
				return fmt.Errorf("store credentials: %w", err)
			}
			if noVerify {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Stored credentials for %s\n", strings.TrimPrefix(handle, "@"))
				return err
			}

			sess, err := c.sessions.Ensure(ctx)
			if err != nil {
				if chat.IsAuth(err) {
					_ = c.creds.Logout(ctx)
					return fmt.Errorf("login failed: %w", err)
				}
				a.log.Warn("could not verify credentials, keeping them", zap.Error(err))
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Stored credentials for %s (not verified)\n", strings.TrimPrefix(handle, "@"))
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", sess.Handle, sess.AccountID)
			return err
		},
	}

	cmd.Flags().StringVar(&handle, "handle", "", "account handle, e.g. alice.bsky.social")
	cmd.Flags().StringVar(&password, "app-password", "", "app password")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "store without signing in")
	_ = cmd.MarkFlagRequired("handle")

	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the account and its unread snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.openState(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.creds.Logout(ctx); err != nil {
				return fmt.Errorf("clear credentials: %w", err)
			}
			if err := c.repo.ClearSnapshot(ctx); err != nil {
				return fmt.Errorf("clear snapshot: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return err
		},
	}
}
