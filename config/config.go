package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/joho/godotenv"

	"github.com/kutluhann/kademlia-dht/constants"
	"github.com/kutluhann/kademlia-dht/dht"
	"github.com/kutluhann/kademlia-dht/id_tools"
)

// Config is the runtime configuration of one node process.
type Config struct {
	ListenIP             string
	Port                 int
	HTTPPort             int
	Bootstrap            string
	K                    int
	Alpha                int
	RPCTimeout           time.Duration
	PingTimeout          time.Duration
	LogLevel             string
	PrivateKey           string
	StorageEncryptionKey string
}

func Defaults() *Config {
	return &Config{
		ListenIP:    "127.0.0.1",
		Port:        8080,
		HTTPPort:    8000,
		K:           constants.K,
		Alpha:       constants.Alpha,
		RPCTimeout:  constants.DefaultRPCTimeout,
		PingTimeout: constants.DefaultPingTimeout,
		LogLevel:    "info",
	}
}

// Load reads the given .env files (".env" when none are named) into the
// process environment and builds a Config from it. Missing files are
// ignored; variables already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a variable lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	c := Defaults()
	var errs []error
	str := func(name string, dst *string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	str("DHT_LISTEN_IP", &c.ListenIP)
	num("DHT_PORT", &c.Port)
	num("DHT_HTTP_PORT", &c.HTTPPort)
	str("DHT_BOOTSTRAP", &c.Bootstrap)
	num("DHT_K", &c.K)
	num("DHT_ALPHA", &c.Alpha)
	dur("DHT_RPC_TIMEOUT", &c.RPCTimeout)
	dur("DHT_PING_TIMEOUT", &c.PingTimeout)
	str("LOG_LEVEL", &c.LogLevel)
	str("DHT_PRIVATE_KEY", &c.PrivateKey)
	str("STORAGE_ENCRYPTION_KEY", &c.StorageEncryptionKey)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("port %d out of range", c.Port)
	case c.HTTPPort < 0 || c.HTTPPort > 65535:
		return fmt.Errorf("http port %d out of range", c.HTTPPort)
	case c.K < 1:
		return fmt.Errorf("k must be at least 1, got %d", c.K)
	case c.Alpha < 1:
		return fmt.Errorf("alpha must be at least 1, got %d", c.Alpha)
	case c.RPCTimeout <= 0 || c.PingTimeout <= 0:
		return errors.New("timeouts must be positive")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name onto a go-ethereum log level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "info", "":
		return log.LevelInfo, nil
	case "warn", "warning":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// Options converts the config into node options. A configured private key
// fixes the node id to the one derived from it.
func (c *Config) Options(logger log.Logger) ([]dht.Option, error) {
	opts := []dht.Option{
		dht.WithK(c.K),
		dht.WithAlpha(c.Alpha),
		dht.WithRPCTimeout(c.RPCTimeout),
		dht.WithPingTimeout(c.PingTimeout),
	}
	if logger != nil {
		opts = append(opts, dht.WithLogger(logger))
	}
	if c.PrivateKey != "" {
		_, id, err := id_tools.LoadPrivateKey(c.PrivateKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dht.WithNodeID(id))
	}
	if c.StorageEncryptionKey != "" {
		sealer, err := dht.NewECIESSealer(c.StorageEncryptionKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dht.WithSealer(sealer))
	}
	return opts, nil
}
