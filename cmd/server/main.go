package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/storefront-auth/internal/config"
	"github.com/jrsteele09/storefront-auth/internal/metrics"
	"github.com/jrsteele09/storefront-auth/server"
	"github.com/jrsteele09/storefront-auth/sessions"
	"github.com/jrsteele09/storefront-auth/token/whitelist"
	fakeuserrepo "github.com/jrsteele09/storefront-auth/users/repofake"
	"github.com/jrsteele09/storefront-auth/users/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	setupLogging(c)
	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, closeBackends, err := openBackends(ctx, c)
	if err != nil {
		return err
	}
	defer closeBackends()

	handler, err := server.New(c, deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() { errs <- listenAndServe(httpServer) }()

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer)
}

// openBackends selects the whitelist, session and user stores from the configuration.
func openBackends(ctx context.Context, c config.Config) (server.Dependencies, func(), error) {
	deps := server.Dependencies{Metrics: metrics.New()}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch backend := c.GetWhitelistBackend(); backend {
	case config.WhitelistBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.GetRedisAddr(),
			Password: c.GetRedisPassword(),
			DB:       c.GetRedisDB(),
		})
		closers = append(closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			closeAll()
			return deps, nil, fmt.Errorf("redis ping %s: %w", c.GetRedisAddr(), err)
		}
		deps.Whitelist = whitelist.NewRedis(client, whitelist.WithPrefix(c.GetRedisPrefix()))
		deps.Sessions = sessions.NewRedisRepo(client, sessions.DefaultRedisPrefix)
		log.Info().Str("addr", c.GetRedisAddr()).Msg("using redis whitelist and sessions")
	case config.WhitelistBackendMemory:
		wl := whitelist.NewInMemory()
		go wl.RunJanitor(ctx, c.GetWhitelistSweepInterval())
		sessionRepo := sessions.NewInMemoryRepo(time.Now)
		go sweepSessions(ctx, sessionRepo, c.GetWhitelistSweepInterval())
		deps.Whitelist = wl
		deps.Sessions = sessionRepo
	default:
		return deps, nil, fmt.Errorf("unknown whitelist backend %q", backend)
	}

	if dsn := c.GetUserStoreDSN(); dsn != "" {
		store, err := sqlite.NewStore(dsn)
		if err != nil {
			closeAll()
			return deps, nil, fmt.Errorf("open user store: %w", err)
		}
		closers = append(closers, func() { _ = store.Close() })
		if err := store.ApplyMigrations(); err != nil {
			closeAll()
			return deps, nil, fmt.Errorf("migrate user store: %w", err)
		}
		deps.Users = store
	} else {
		log.Warn().Msg("USER_STORE_DSN not set, users are kept in memory")
		deps.Users = fakeuserrepo.NewFakeUserRepo()
	}

	return deps, closeAll, nil
}

func sweepSessions(ctx context.Context, repo *sessions.InMemoryRepo, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			repo.Cleanup()
		}
	}
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if strings.EqualFold(c.GetEnv(), "DEV") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
