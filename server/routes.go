package server

func (s *Server) initRoutes() {
	binding := SessionBinding(s.sessions, s.whitelist, s.tokens, s.metrics)

	// AUTH
	s.RegisterRouteHandler("POST "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware(s.LoginRateLimit)...))
	s.RegisterRouteHandler("POST "+RouteAuthRefresh, ChainMiddleware(s.RefreshHandler(), s.APIMiddleware(binding)...))
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAuthMe, ChainMiddleware(s.MeHandler(), s.APIMiddleware(binding, s.RequireAuth())...))

	// ACCOUNT
	s.RegisterRouteHandler("POST "+RouteAccountPassword, ChainMiddleware(s.ChangePasswordHandler(), s.APIMiddleware(binding, s.RequireAuth())...))

	// Preflight requests are answered by the CORS middleware
	s.RegisterRouteHandler("OPTIONS /api/", ChainMiddleware(s.NoContentHandler(), s.APIMiddleware()...))

	s.RegisterRouteHandler("GET "+RouteSessionSocket, ChainMiddleware(s.SessionSocketHandler(), s.LoggingMiddleware, s.RecoverMiddleware))

	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	s.RegisterRouteHandler("GET "+RouteMetrics, s.metrics.Handler())
}
