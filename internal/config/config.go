// Package config loads the gateway settings from the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

var validate = validator.New()

type Config struct {
	Host     string `envconfig:"HOST" default:"0.0.0.0"`
	Port     int    `envconfig:"PORT" default:"8080" validate:"min=1,max=65535"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	IdentityURL     string        `envconfig:"IDENTITY_URL" validate:"required,url"`
	IdentityTimeout time.Duration `envconfig:"IDENTITY_TIMEOUT" default:"5s" validate:"gt=0"`
	// JWTSecret enables local token verification; profiles are still read
	// from the identity service.
	JWTSecret string `envconfig:"JWT_SECRET"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"memory" validate:"oneof=memory postgres badger"`
	DBURL       string `envconfig:"DB_URL" validate:"required_if=StoreDriver postgres"`
	BadgerPath  string `envconfig:"BADGER_PATH" default:"data/messages" validate:"required_if=StoreDriver badger"`

	NATSURL      string `envconfig:"NATS_URL"`
	NATSCred     string `envconfig:"NATS_CRED"`
	NATSUser     string `envconfig:"NATS_USER"`
	NATSPassword string `envconfig:"NATS_PASSWORD"`
	// NodeID tags relayed messages so a node skips its own. Random when empty.
	NodeID string `envconfig:"NODE_ID"`

	SendBufferSize  int           `envconfig:"SEND_BUFFER_SIZE" default:"64" validate:"min=1"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s" validate:"gt=0"`
	ReadLimit       int64         `envconfig:"READ_LIMIT" default:"32768" validate:"min=1"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`

	HandshakeRate   int           `envconfig:"HANDSHAKE_RATE" default:"20" validate:"min=1"`
	HandshakeWindow time.Duration `envconfig:"HANDSHAKE_WINDOW" default:"1m" validate:"gt=0"`
	// MessageRate of 0 disables per-connection message limiting.
	MessageRate   int           `envconfig:"MESSAGE_RATE" default:"0" validate:"min=0"`
	MessageWindow time.Duration `envconfig:"MESSAGE_WINDOW" default:"1m" validate:"gt=0"`

	SanitizeMessages bool `envconfig:"SANITIZE_MESSAGES" default:"false"`
}

// Load reads an optional .env file (missing files are ignored) and then the
// process environment.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	return FromEnv()
}

// FromEnv decodes and validates the current environment.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("internal/config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("internal/config: %w", err)
	}
	return cfg, nil
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Logger builds the process logger: JSON lines on w at the configured level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
