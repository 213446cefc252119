package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Session API
	RouteAPIPrefix         = "/api/"
	RouteAPISession        = "/api/session"
	RouteAPISessionRefresh = "/api/session/refresh"
	RouteAPISessionSignOut = "/api/session/signout"
	RouteAPISessionEvents  = "/api/session/events"

	// Auth Routes - Login
	RouteAuthLogin = "/auth/login"
	RouteCallback  = "/callback"

	// Operations
	RouteMetrics = "/metrics"
	RouteHealthz = "/healthz"
)

// defaultReturnURL is where a completed login lands without a return_url.
const defaultReturnURL = RouteAPISession
