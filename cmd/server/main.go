package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/shehryarbajwa/sweetlink/internal/api"
	"github.com/shehryarbajwa/sweetlink/internal/auth"
	"github.com/shehryarbajwa/sweetlink/internal/broker"
	"github.com/shehryarbajwa/sweetlink/internal/clock"
	"github.com/shehryarbajwa/sweetlink/internal/config"
	"github.com/shehryarbajwa/sweetlink/internal/logging"
	"github.com/shehryarbajwa/sweetlink/internal/metrics"
	"github.com/shehryarbajwa/sweetlink/internal/ratelimit"
	"github.com/shehryarbajwa/sweetlink/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, addr string
	var printToken bool

	flags := pflag.NewFlagSet("sweetlink-server", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	flags.BoolVar(&printToken, "print-cli-token", false, "print a cli token for the control plane and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Pretty)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}

	secret := cfg.Auth.Secret
	if secret == "" {
		secret, err = randomSecret()
		if err != nil {
			return err
		}
		if !printToken {
			logger.Warn().Msg("No auth secret configured, using an ephemeral one. Tokens will not survive a restart.")
		}
	}
	authority := auth.NewAuthority(secret, clock.Real())

	if printToken {
		token, expires, err := authority.Issue(auth.ScopeCLI, "cli", cfg.Auth.CLITokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format("2006-01-02 15:04:05 MST"))
		return nil
	}

	return serve(cfg, authority, logger)
}

func serve(cfg *config.Settings, authority *auth.Authority, logger zerolog.Logger) error {
	m := metrics.New()

	sessions := session.NewManager(authority, session.Options{
		CommandTimeout:     cfg.Session.CommandTimeout,
		HeartbeatTolerance: cfg.Session.HeartbeatTolerance,
		ConsoleLimit:       cfg.Session.ConsoleLimit,
		MaxSessions:        cfg.Session.MaxSessions,
		Metrics:            m,
		Logger:             logger,
	})
	logger.Info().Int64("max_sessions", cfg.Session.MaxSessions).Msg("Session registry initialized")

	b := broker.New(sessions, broker.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxFrameBytes:  cfg.Server.MaxFrameBytes,
		WriteWait:      cfg.Server.WriteWait,
		Metrics:        m,
		Logger:         logger,
	})

	rateLimiter := ratelimit.NewLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	logger.Info().
		Int("per_minute", cfg.RateLimit.RequestsPerMinute).
		Int("burst", cfg.RateLimit.Burst).
		Msg("Rate limiter initialized")

	handler := api.NewHandler(b, authority, m, logger)
	handshake := api.NewHandshakeHandler(authority, cfg.Server.PublicSocketURL, cfg.Auth.SessionTokenTTL)
	router := handler.SetupRoutes(handshake, http.HandlerFunc(b.HandleBridge), m.Handler(), rateLimiter)

	// no WriteTimeout: the bridge connections are long lived
	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("socket_url", cfg.Server.PublicSocketURL).
			Msg("Broker listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sessions.RunSweeper(ctx, cfg.Session.SweepInterval)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("Shutting down")

		// stop accepting first; Shutdown leaves hijacked bridge sockets to
		// the broker
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		b.Shutdown("")
		if err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("Broker stopped cleanly")
	return nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
