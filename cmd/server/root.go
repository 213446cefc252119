package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "sessiond",
		Short:        "Keeps an OIDC session signed in and refreshed",
		Long:         "sessiond signs in against an OpenID Connect provider, keeps the session refreshed before it expires and serves its state over HTTP and websocket.",
		SilenceUsage: true,
	}

	serve := newServeCmd()
	rootCmd.RunE = serve.RunE

	rootCmd.AddCommand(
		serve,
		newStatusCmd(),
		newLogoutCmd(),
	)
	return rootCmd
}
