package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show who is signed in and when the session expires",
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

			return writeStatus(cmd, store.Snapshot(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the provider")
	return cmd
}

type statusOutput struct {
	SignedIn     bool       `json:"signed_in"`
	UserID       string     `json:"user_id,omitempty"`
	Email        string     `json:"email,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	RefreshError string     `json:"refresh_error,omitempty"`
}

func newStatusOutput(snap auth.Snapshot) statusOutput {
	out := statusOutput{SignedIn: snap.Session != nil}
	if snap.User != nil {
		out.UserID = snap.User.ID
		out.Email = snap.User.Email
	}
	if snap.Session != nil && snap.Session.HasExpiry() {
		expiresAt := snap.Session.ExpiresAt
		out.ExpiresAt = &expiresAt
	}
	if snap.RefreshError != nil {
		out.RefreshError = snap.RefreshError.Error()
	}
	return out
}

func writeStatus(cmd *cobra.Command, snap auth.Snapshot, asJSON bool) error {
	out := newStatusOutput(snap)
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	w := cmd.OutOrStdout()
	if !out.SignedIn {
		_, err := fmt.Fprintln(w, "Not signed in")
		if out.RefreshError != "" {
			_, err = fmt.Fprintf(w, "Last error: %s\n", out.RefreshError)
		}
		return err
	}
	if _, err := fmt.Fprintf(w, "Signed in as %s (%s)\n", out.Email, out.UserID); err != nil {
		return err
	}
	if out.ExpiresAt != nil {
		if _, err := fmt.Fprintf(w, "Session expires %s (in %s)\n",
			out.ExpiresAt.Local().Format(time.RFC1123), time.Until(*out.ExpiresAt).Round(time.Second)); err != nil {
			return err
		}
	}
	if out.RefreshError != "" {
		_, err := fmt.Fprintf(w, "Last refresh failed: %s\n", out.RefreshError)
		return err
	}
	return nil
}
