package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. SWEETLINK_SERVER_ADDR
const EnvPrefix = "SWEETLINK"

type Settings struct {
	Server    ServerSettings    `yaml:"server" envconfig:"SERVER"`
	Auth      AuthSettings      `yaml:"auth" envconfig:"AUTH"`
	Session   SessionSettings   `yaml:"session" envconfig:"SESSION"`
	RateLimit RateLimitSettings `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Client    ClientSettings    `yaml:"client" envconfig:"CLIENT"`
	Log       LogSettings       `yaml:"log" envconfig:"LOG"`
}

type ServerSettings struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR"`
	PublicSocketURL string        `yaml:"public_socket_url" envconfig:"PUBLIC_SOCKET_URL"`
	AllowedOrigins  []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	MaxFrameBytes   int64         `yaml:"max_frame_bytes" envconfig:"MAX_FRAME_BYTES"`
	WriteWait       time.Duration `yaml:"write_wait" envconfig:"WRITE_WAIT"`
}

type AuthSettings struct {
	Secret          string        `yaml:"secret" envconfig:"SECRET"`
	CLITokenTTL     time.Duration `yaml:"cli_token_ttl" envconfig:"CLI_TOKEN_TTL"`
	SessionTokenTTL time.Duration `yaml:"session_token_ttl" envconfig:"SESSION_TOKEN_TTL"`
}

type SessionSettings struct {
	CommandTimeout     time.Duration `yaml:"command_timeout" envconfig:"COMMAND_TIMEOUT"`
	ConsoleLimit       int           `yaml:"console_limit" envconfig:"CONSOLE_LIMIT"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL"`
	HeartbeatTolerance time.Duration `yaml:"heartbeat_tolerance" envconfig:"HEARTBEAT_TOLERANCE"`
	SweepInterval      time.Duration `yaml:"sweep_interval" envconfig:"SWEEP_INTERVAL"`
	MaxSessions        int64         `yaml:"max_sessions" envconfig:"MAX_SESSIONS"`
}

type RateLimitSettings struct {
	RequestsPerMinute int `yaml:"requests_per_minute" envconfig:"REQUESTS_PER_MINUTE"`
	Burst             int `yaml:"burst" envconfig:"BURST"`
}

type ClientSettings struct {
	ControlURL           string        `yaml:"control_url" envconfig:"CONTROL_URL"`
	CLIToken             string        `yaml:"cli_token" envconfig:"CLI_TOKEN"`
	ReconnectBase        time.Duration `yaml:"reconnect_base" envconfig:"RECONNECT_BASE"`
	ReconnectCap         time.Duration `yaml:"reconnect_cap" envconfig:"RECONNECT_CAP"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" envconfig:"MAX_RECONNECT_ATTEMPTS"`
	ConsoleFlushDelay    time.Duration `yaml:"console_flush_delay" envconfig:"CONSOLE_FLUSH_DELAY"`
	StorePath            string        `yaml:"store_path" envconfig:"STORE_PATH"`
}

type LogSettings struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Pretty bool   `yaml:"pretty" envconfig:"PRETTY"`
}

// Default returns the settings used when nothing overrides them
func Default() *Settings {
	return &Settings{
		Server: ServerSettings{
			Addr:            ":4455",
			PublicSocketURL: "ws://localhost:4455/bridge",
			ReadTimeout:     15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxFrameBytes:   8 << 20,
			WriteWait:       10 * time.Second,
		},
		Auth: AuthSettings{
			CLITokenTTL:     24 * time.Hour,
			SessionTokenTTL: time.Hour,
		},
		Session: SessionSettings{
			CommandTimeout:     15 * time.Second,
			ConsoleLimit:       200,
			HeartbeatInterval:  5 * time.Second,
			HeartbeatTolerance: 15 * time.Second,
			SweepInterval:      5 * time.Second,
			MaxSessions:        50,
		},
		RateLimit: RateLimitSettings{
			RequestsPerMinute: 600,
			Burst:             60,
		},
		Client: ClientSettings{
			ControlURL:           "http://localhost:4455",
			ReconnectBase:        time.Second,
			ReconnectCap:         15 * time.Second,
			MaxReconnectAttempts: 8,
			ConsoleFlushDelay:    250 * time.Millisecond,
			StorePath:            "./storage/session.cbor",
		},
		Log: LogSettings{
			Level: "info",
		},
	}
}

// Load builds Settings from defaults, an optional YAML file, an optional
// .env file in the working directory, and SWEETLINK_* environment
// variables, in that order of precedence (later wins).
func Load(path string) (*Settings, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the broker cannot run with
func (c *Settings) Validate() error {
	s := c.Session
	switch {
	case s.HeartbeatInterval <= 0:
		return errors.New("session.heartbeat_interval must be positive")
	case s.HeartbeatTolerance <= s.HeartbeatInterval:
		return fmt.Errorf("session.heartbeat_tolerance (%s) must exceed heartbeat_interval (%s)", s.HeartbeatTolerance, s.HeartbeatInterval)
	case s.SweepInterval <= 0:
		return errors.New("session.sweep_interval must be positive")
	case s.CommandTimeout <= 0:
		return errors.New("session.command_timeout must be positive")
	case s.ConsoleLimit <= 0:
		return errors.New("session.console_limit must be positive")
	case s.MaxSessions <= 0:
		return errors.New("session.max_sessions must be positive")
	}

	if c.Auth.CLITokenTTL <= 0 || c.Auth.SessionTokenTTL <= 0 {
		return errors.New("auth token ttls must be positive")
	}
	if c.RateLimit.RequestsPerMinute <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("rate_limit values must be positive")
	}

	cl := c.Client
	if cl.ReconnectBase <= 0 || cl.ReconnectCap < cl.ReconnectBase {
		return fmt.Errorf("client reconnect base (%s) must be positive and not exceed cap (%s)", cl.ReconnectBase, cl.ReconnectCap)
	}
	if cl.MaxReconnectAttempts <= 0 {
		return errors.New("client.max_reconnect_attempts must be positive")
	}
	return nil
}
