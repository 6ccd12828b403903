package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth API
	RouteAuthLogin   = "/api/auth/login"
	RouteAuthRefresh = "/api/auth/refresh"
	RouteAuthLogout  = "/api/auth/logout"
	RouteAuthMe      = "/api/auth/me"

	// Account API
	RouteAccountPassword = "/api/account/password"

	// Session revalidation circuit
	RouteSessionSocket = "/ws/session"

	// Operations
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)
