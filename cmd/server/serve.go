package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jrsteele09/go-auth-session/server"
	"github.com/jrsteele09/go-auth-session/server/authflowrepo"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for {
				err := run(cmd.Context())
				if err == nil {
					break
				}
				if !errors.Is(err, errPanicRecovered) {
					return err
				}
				log.Error().Err(err).Msg("server crashed, restarting")
				time.Sleep(1 * time.Second)
			}
			log.Info().Msg("Server stopped")
			return nil
		},
	}
}

var errPanicRecovered = errors.New("panic recovered")

func run(ctx context.Context) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errPanicRecovered
		}
	}()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	displayAppname(cfg.GetAppName())

	a, err := wireApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	janitorCtx, stopJanitors := context.WithCancel(ctx)
	defer stopJanitors()

	authState := authflowrepo.NewCacheRepo(authflowrepo.DefaultTTL)
	go authState.RunJanitor(janitorCtx, time.Minute)
	go a.manager.RunJanitor(janitorCtx)

	srv, err := server.New(ctx, cfg, a.manager,
		server.WithSignIn(a.backend),
		server.WithAuthStateRepo(authState),
		server.WithGatherer(a.registry),
	)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpServer := &http.Server{Addr: cfg.GetPort(), Handler: srv, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(httpServer) }()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer)
}

func listenAndServe(server *http.Server) error {
	log.Info().Msgf("Server listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
