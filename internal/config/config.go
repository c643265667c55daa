// Package config reads server settings from the environment.
package config

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"samud/internal/store"
)

// Config holds every runtime setting. Each field is read from the named
// environment variable; command line flags override the environment.
type Config struct {
	Host           string `env:"HOST,default=0.0.0.0"`
	Port           int    `env:"PORT,default=4000"`
	WSAddr         string `env:"WS_ADDR"`
	MaxConnections int    `env:"MAX_CONNECTIONS,default=1000"`

	TLS     bool   `env:"TLS,default=false"`
	TLSCert string `env:"TLS_CERT,default=data/tls/cert.pem"`
	TLSKey  string `env:"TLS_KEY,default=data/tls/key.pem"`

	Store  string `env:"STORE,default=sqlite"`
	DBPath string `env:"DB_PATH,default=data/samud.db"`
	Redis  store.RedisConfig

	ContentDir   string `env:"CONTENT_DIR,default=data"`
	AuditDir     string `env:"AUDIT_DIR"`
	WatchContent bool   `env:"WATCH_CONTENT,default=false"`

	IdleTimeout         time.Duration `env:"IDLE_TIMEOUT,default=30m"`
	IdleWarning         time.Duration `env:"IDLE_WARNING,default=25m"`
	AuthTimeout         time.Duration `env:"AUTH_TIMEOUT,default=2m"`
	SweepInterval       time.Duration `env:"SWEEP_INTERVAL,default=30s"`
	MemoryPruneInterval time.Duration `env:"MEMORY_PRUNE_INTERVAL,default=1h"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=console"`
}

// Stores lists the accepted STORE values.
var Stores = []string{store.KindSQLite, store.KindRedis, store.KindMemory}

// Load decodes the environment, then applies any flags in args.
func Load(args []string) (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	fs := flag.NewFlagSet("samud", flag.ContinueOnError)
	cfg.bind(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	return cfg, cfg.Validate()
}

func (c *Config) bind(fs *flag.FlagSet) {
	fs.StringVar(&c.Host, "host", c.Host, "interface for the telnet listener")
	fs.IntVar(&c.Port, "port", c.Port, "telnet port")
	fs.StringVar(&c.WSAddr, "ws", c.WSAddr, "WebSocket listen address (empty disables)")
	fs.BoolVar(&c.TLS, "tls", c.TLS, "serve telnet over TLS")
	fs.StringVar(&c.TLSCert, "cert", c.TLSCert, "TLS certificate file")
	fs.StringVar(&c.TLSKey, "key", c.TLSKey, "TLS key file")
	fs.StringVar(&c.Store, "store", c.Store, "storage backend: sqlite, redis or memory")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "SQLite database path")
	fs.StringVar(&c.Redis.Addr, "redis", c.Redis.Addr, "Redis address")
	fs.StringVar(&c.ContentDir, "content", c.ContentDir, "directory holding rooms/ and npcs/")
	fs.StringVar(&c.AuditDir, "audit", c.AuditDir, "audit journal directory (empty disables)")
	fs.BoolVar(&c.WatchContent, "watch", c.WatchContent, "reload content when files change")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "console or json")
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("config: MAX_CONNECTIONS must be positive")
	}
	known := false
	for _, s := range Stores {
		if c.Store == s {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("config: unknown store %q (want one of %s)", c.Store, strings.Join(Stores, ", "))
	}
	if c.IdleWarning >= c.IdleTimeout {
		return fmt.Errorf("config: IDLE_WARNING %s must be shorter than IDLE_TIMEOUT %s", c.IdleWarning, c.IdleTimeout)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("config: SWEEP_INTERVAL must be positive")
	}
	return nil
}

// OpenStore opens the configured backend.
func (c Config) OpenStore(ctx context.Context) (store.Gateway, error) {
	return store.Open(ctx, c.Store, c.DBPath, c.Redis)
}

// Addr is the telnet listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewLogger builds the process logger. LOG_FORMAT=json selects the
// production encoder; anything else gets a colored console.
func NewLogger(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	var zc zap.Config
	if strings.EqualFold(format, "json") {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zc.DisableStacktrace = true
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
