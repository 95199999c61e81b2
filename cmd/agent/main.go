// Command agent is a headless tab: it obtains a session from the control
// plane, holds the bridge connection open, answers pings and forwards its
// own log output as console telemetry.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/shehryarbajwa/sweetlink/internal/client"
	"github.com/shehryarbajwa/sweetlink/internal/config"
	"github.com/shehryarbajwa/sweetlink/internal/logging"
	"github.com/shehryarbajwa/sweetlink/internal/store"
	"github.com/shehryarbajwa/sweetlink/pkg/models"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, controlURL, token, sessionID, pageURL, title string

	flags := pflag.NewFlagSet("sweetlink-agent", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&controlURL, "control-url", "", "control plane base URL (overrides client.control_url)")
	flags.StringVar(&token, "token", "", "cli token (overrides client.cli_token)")
	flags.StringVar(&sessionID, "session-id", "", "session id to request; empty lets the broker choose")
	flags.StringVar(&pageURL, "page-url", "about:blank", "url reported at registration")
	flags.StringVar(&title, "title", "sweetlink agent", "title reported at registration")
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
	if controlURL != "" {
		cfg.Client.ControlURL = controlURL
	}
	if token != "" {
		cfg.Client.CLIToken = token
	}
	if cfg.Client.CLIToken == "" {
		return errors.New("a cli token is required (--token or SWEETLINK_CLIENT_CLI_TOKEN)")
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Pretty)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}

	fileStore, err := store.NewFileStore(cfg.Client.StorePath)
	if err != nil {
		return err
	}

	handshaker := &client.HTTPHandshaker{
		BaseURL: cfg.Client.ControlURL,
		Token:   cfg.Client.CLIToken,
	}

	terminal := make(chan error, 1)
	c := client.New(client.Options{
		Dialer:     &client.WebsocketDialer{WriteWait: cfg.Server.WriteWait},
		Handshaker: handshaker,
		Store:      fileStore,
		Logger:     logger,
		PageInfo: func() client.PageInfo {
			return client.PageInfo{
				URL:       pageURL,
				Title:     title,
				TopOrigin: cfg.Client.ControlURL,
				UserAgent: "sweetlink-agent/" + hostname(),
			}
		},
		HeartbeatInterval:    cfg.Session.HeartbeatInterval,
		ReconnectBase:        cfg.Client.ReconnectBase,
		ReconnectCap:         cfg.Client.ReconnectCap,
		MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
		ConsoleLimit:         cfg.Session.ConsoleLimit,
		ConsoleFlushDelay:    cfg.Client.ConsoleFlushDelay,
		OnStatus: func(state client.State, err error) {
			logger.Debug().Str("state", string(state)).Err(err).Msg("Client state changed")
			if state == client.StateError {
				select {
				case terminal <- err:
				default:
				}
			}
		},
	})
	defer c.Teardown()

	// the agent's own log lines double as the tab's console output
	tabLog := zerolog.New(c.Console()).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	boot, err := bootstrap(ctx, fileStore, handshaker, sessionID)
	if err != nil {
		return err
	}
	if err := c.StartSession(ctx, boot); err != nil {
		// the client keeps retrying on its own
		logger.Warn().Err(err).Msg("Initial connection failed")
	}
	tabLog.Info().Str("session", boot.SessionID).Msg("agent started")

	select {
	case <-ctx.Done():
		logger.Info().Int("unsent_console_events", c.Console().Len()).Msg("Shutting down")
		return nil
	case err := <-terminal:
		return fmt.Errorf("giving up: %w", err)
	}
}

// bootstrap resumes the stored session when it is still good for a while,
// and handshakes for a new one otherwise
func bootstrap(ctx context.Context, st store.Store, h client.Handshaker, sessionID string) (models.SessionBootstrap, error) {
	saved, err := st.Load()
	if err == nil && saved.Fresh(time.Now(), time.Minute) && (sessionID == "" || saved.SessionID == sessionID) {
		return saved.Bootstrap(), nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		// unreadable file; a new handshake overwrites it
		st.Clear()
	}

	boot, err := h.Handshake(ctx, sessionID)
	if err != nil {
		return boot, fmt.Errorf("handshake: %w", err)
	}
	return boot, nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
