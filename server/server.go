package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/backend/oidcbackend"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/server/authflowrepo"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultPingInterval = 30 * time.Second

// SignInFlow runs the interactive authorization code flow.
type SignInFlow interface {
	StartSignIn() (oidcbackend.AuthRequest, error)
	CompleteSignIn(ctx context.Context, code, codeVerifier, nonce string) (*sessions.Session, error)
}

var _ SignInFlow = (*oidcbackend.Backend)(nil)

type Server struct {
	env    string // Environment (e.g., "DEV", "PROD")
	mux    *http.ServeMux
	routes []string
	config config.Config

	manager *auth.Manager
	// store keeps the shared session mounted for the lifetime of the server.
	store     *auth.Store
	signIn    SignInFlow
	authState authflowrepo.Repo
	gatherer  prometheus.Gatherer

	upgrader     websocket.Upgrader
	pingInterval time.Duration
	log          zerolog.Logger
}

type Option func(*Server)

// WithSignIn enables /auth/login and /callback.
func WithSignIn(flow SignInFlow) Option {
	return func(s *Server) {
		s.signIn = flow
	}
}

func WithAuthStateRepo(repo authflowrepo.Repo) Option {
	return func(s *Server) {
		s.authState = repo
	}
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		s.pingInterval = d
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.log = logger
	}
}

// New mounts a session store on manager and registers the HTTP routes.
func New(ctx context.Context, cfg config.Config, manager *auth.Manager, options ...Option) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("[Server New] session manager is required")
	}

	s := &Server{
		env:          cfg.GetEnv(),
		mux:          http.NewServeMux(),
		config:       cfg,
		manager:      manager,
		gatherer:     prometheus.DefaultGatherer,
		pingInterval: defaultPingInterval,
		log:          log.With().Str("component", "http-server").Logger(),
	}
	for _, option := range options {
		option(s)
	}
	if s.pingInterval <= 0 {
		s.pingInterval = defaultPingInterval
	}
	if s.authState == nil {
		s.authState = authflowrepo.NewCacheRepo(authflowrepo.DefaultTTL)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	store, err := manager.Mount(ctx)
	if err != nil {
		return nil, fmt.Errorf("[Server New] failed to mount session store: %w", err)
	}
	s.store = store

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close detaches the server's session store.
func (s *Server) Close() {
	s.store.Unmount()
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

// checkOrigin accepts same-host upgrades and origins allowed by the CORS config.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := s.config.GetAllowedOrigins()
	if allowed.IsAllowedOrigin(origin) || allowed.IsAllowedOrigin("*") {
		return true
	}
	return strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://") == r.Host
}
