package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/jrsteele09/storefront-auth/auth"
	"github.com/jrsteele09/storefront-auth/internal/config"
	"github.com/jrsteele09/storefront-auth/internal/metrics"
	"github.com/jrsteele09/storefront-auth/sessions"
	"github.com/jrsteele09/storefront-auth/token"
	"github.com/jrsteele09/storefront-auth/token/whitelist"
	"github.com/jrsteele09/storefront-auth/users"
	"github.com/rs/zerolog/log"
)

// Dependencies are the storage backends the server runs on.
type Dependencies struct {
	Users     users.UserRepo
	Sessions  sessions.Repo
	Whitelist whitelist.Whitelist
	Metrics   *metrics.Collector
}

type Server struct {
	env       string // Environment (e.g., "DEV", "PROD")
	mux       *http.ServeMux
	routes    []string
	config    config.Config
	tokens    *token.Manager
	auth      *auth.Service
	monitor   *auth.Monitor
	directory *users.Directory
	sessions  *sessions.Store
	whitelist whitelist.Whitelist
	metrics   *metrics.Collector
	limiter   *rateLimiter
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, deps Dependencies) (*Server, error) {
	if deps.Users == nil || deps.Sessions == nil || deps.Whitelist == nil {
		return nil, fmt.Errorf("[Server New] users, sessions and whitelist are required")
	}

	signer, err := token.NewHMACSigner(cfg.GetSigningSecret())
	if err != nil {
		return nil, fmt.Errorf("[Server New] %w", err)
	}
	tokens, err := token.NewManager(signer, deps.Whitelist,
		token.WithIssuer(cfg.GetIssuer()),
		token.WithAudience(cfg.GetAudience()),
		token.WithAccessTokenLifetime(cfg.GetAccessTokenLifetime()),
		token.WithRefreshTokenLength(cfg.GetRefreshTokenLength()),
	)
	if err != nil {
		return nil, fmt.Errorf("[Server New] failed to create token manager: %w", err)
	}

	directory := users.NewDirectory(deps.Users)
	authService, err := auth.NewService(directory, tokens)
	if err != nil {
		return nil, fmt.Errorf("[Server New] failed to create auth service: %w", err)
	}
	monitor, err := auth.NewMonitor(tokens, directory,
		auth.WithRevalidationInterval(cfg.GetRevalidationInterval()),
		auth.WithThresholds(cfg.GetExpiryWarningThreshold(), cfg.GetFinalWarningThreshold(), cfg.GetLogoutMargin()),
		auth.WithMetrics(deps.Metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("[Server New] failed to create session monitor: %w", err)
	}

	trusted, err := parseTrustedProxies(cfg.GetTrustedProxies())
	if err != nil {
		return nil, fmt.Errorf("[Server New] invalid trusted proxies: %w", err)
	}

	s := &Server{
		env:       cfg.GetEnv(),
		mux:       http.NewServeMux(),
		config:    cfg,
		tokens:    tokens,
		auth:      authService,
		monitor:   monitor,
		directory: directory,
		sessions:  sessions.NewStore(deps.Sessions, sessions.WithLifetime(cfg.GetSessionLifetime())),
		whitelist: deps.Whitelist,
		metrics:   deps.Metrics,
		limiter:   newRateLimiter(cfg.GetLoginRatePerMinute(), cfg.GetLoginRateBurst(), trusted),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	if sized, ok := deps.Whitelist.(interface{ Len() int }); ok {
		deps.Metrics.RegisterWhitelistSize(sized.Len)
	}

	if err := s.InitialiseSystem(context.Background(), deps.Users); err != nil {
		return nil, fmt.Errorf("[Server New] failed to initialise the system: %w", err)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Tokens exposes the token manager, mainly for tests and tooling.
func (s *Server) Tokens() *token.Manager {
	return s.tokens
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
			log.Info().Str("method", parts[0]).Str("path", parts[1]).Msg("route")
		} else {
			log.Info().Str("path", parts[0]).Msg("route")
		}
	}
}

// checkOrigin accepts same-origin websocket upgrades and the configured CORS origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://") == r.Host {
		return true
	}
	allowed := s.config.GetAllowedOrigins()
	return allowed.IsAllowedOrigin(origin) || allowed.IsAllowedOrigin("*")
}
