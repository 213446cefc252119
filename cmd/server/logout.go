package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newLogoutCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session at the provider and forget it locally",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, err := wireApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			store, err := a.mountReady(ctx)
			if err != nil {
				return fmt.Errorf("load session: %w", err)
			}
			defer store.Unmount()

			// local state is cleared even when revocation fails
			if err := store.SignOut(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Signed out locally; provider sign out failed: %s\n", err)
				return nil
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the provider")
	return cmd
}
