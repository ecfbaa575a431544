package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/xlloop/internal/logging"
	"github.com/danmuck/xlloop/internal/protocol"
	"github.com/danmuck/xlloop/internal/protocol/session"
	"github.com/danmuck/xlloop/internal/server"
)

var ErrInvalidConfig = errors.New("config: invalid")

// ServerConfig is the resolved xlloopd configuration.
type ServerConfig struct {
	Name           string
	Listen         string
	AdminAddr      string
	CorsOrigins    []string
	AdminToken     string
	IdleTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxArgs        int
	MaxArrayCells  int64
	MaxDepth       int
	MaxConnections int
	Functions      []string
	LogLevel       string
}

// serverFile mirrors the TOML layout. Durations are Go duration strings.
type serverFile struct {
	Name           string   `toml:"name" comment:"Instance name used in logs and metrics."`
	Listen         string   `toml:"listen" comment:"TCP address for spreadsheet clients."`
	AdminAddr      string   `toml:"admin_addr" comment:"HTTP address for health, metrics and status. Empty disables it."`
	CorsOrigins    []string `toml:"cors_origins" comment:"Origins allowed to query the admin API."`
	AdminToken     string   `toml:"admin_token" comment:"Bearer token required by the admin call route. Empty leaves it open."`
	IdleTimeout    string   `toml:"idle_timeout" comment:"Max wait for the next call. 0s keeps idle connections open."`
	ReadTimeout    string   `toml:"read_timeout" comment:"Max time to read the rest of a call once it starts."`
	WriteTimeout   string   `toml:"write_timeout" comment:"Max time to write one reply."`
	MaxArgs        int      `toml:"max_args" comment:"Largest argument count accepted per call."`
	MaxArrayCells  int64    `toml:"max_array_cells" comment:"Largest array (rows x cols) accepted on decode."`
	MaxDepth       int      `toml:"max_depth" comment:"Deepest array nesting accepted on decode."`
	MaxConnections int      `toml:"max_connections" comment:"Concurrent client cap. 0 is unlimited."`
	Functions      []string `toml:"functions" comment:"Built-in functions to expose. Empty exposes all."`
	LogLevel       string   `toml:"log_level" comment:"trace, debug, info, warn, error or off."`
}

func DefaultServerConfig() ServerConfig {
	sess := session.DefaultConfig()
	return ServerConfig{
		Name:          "xlloopd",
		Listen:        server.DefaultAddr,
		AdminAddr:     "127.0.0.1:5455",
		CorsOrigins:   []string{"http://localhost:3000"},
		IdleTimeout:   sess.IdleTimeout,
		ReadTimeout:   sess.ReadTimeout,
		WriteTimeout:  sess.WriteTimeout,
		MaxArgs:       sess.MaxArgs,
		MaxArrayCells: sess.Limits.MaxArrayCells,
		MaxDepth:      sess.Limits.MaxDepth,
		LogLevel:      "info",
	}
}

// LoadServerConfig applies the keys defined in path on top of defaults.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}
	if err := rejectUnknownKeys(meta); err != nil {
		return ServerConfig{}, err
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("idle_timeout") {
		if cfg.IdleTimeout, err = parseDuration("idle_timeout", raw.IdleTimeout); err != nil {
			return ServerConfig{}, err
		}
	}
	if meta.IsDefined("read_timeout") {
		if cfg.ReadTimeout, err = parseDuration("read_timeout", raw.ReadTimeout); err != nil {
			return ServerConfig{}, err
		}
	}
	if meta.IsDefined("write_timeout") {
		if cfg.WriteTimeout, err = parseDuration("write_timeout", raw.WriteTimeout); err != nil {
			return ServerConfig{}, err
		}
	}
	if meta.IsDefined("max_args") {
		cfg.MaxArgs = raw.MaxArgs
	}
	if meta.IsDefined("max_array_cells") {
		cfg.MaxArrayCells = raw.MaxArrayCells
	}
	if meta.IsDefined("max_depth") {
		cfg.MaxDepth = raw.MaxDepth
	}
	if meta.IsDefined("max_connections") {
		cfg.MaxConnections = raw.MaxConnections
	}
	if meta.IsDefined("functions") {
		cfg.Functions = normalizeList(raw.Functions)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func ValidateServerConfig(cfg ServerConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if err := validateAddr("listen", cfg.Listen); err != nil {
		return err
	}
	if cfg.AdminAddr != "" {
		if err := validateAddr("admin_addr", cfg.AdminAddr); err != nil {
			return err
		}
		if cfg.AdminAddr == cfg.Listen {
			return fmt.Errorf("%w: admin_addr must differ from listen", ErrInvalidConfig)
		}
	}
	if cfg.IdleTimeout < 0 || cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	if cfg.MaxArgs < 1 || cfg.MaxArgs > 1<<16 {
		return fmt.Errorf("%w: max_args must be in [1, 65536], got %d", ErrInvalidConfig, cfg.MaxArgs)
	}
	if cfg.MaxArrayCells < 1 {
		return fmt.Errorf("%w: max_array_cells must be positive", ErrInvalidConfig)
	}
	if cfg.MaxDepth < 1 {
		return fmt.Errorf("%w: max_depth must be positive", ErrInvalidConfig)
	}
	if cfg.MaxConnections < 0 {
		return fmt.Errorf("%w: max_connections must not be negative", ErrInvalidConfig)
	}
	if cfg.LogLevel != "" {
		if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
			return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, cfg.LogLevel)
		}
	}
	return nil
}

// ServerOptions converts the file view into the server runtime config.
func (c ServerConfig) ServerOptions() server.Config {
	return server.Config{
		Addr:           c.Listen,
		MaxConnections: c.MaxConnections,
		Session: session.Config{
			IdleTimeout:  c.IdleTimeout,
			ReadTimeout:  c.ReadTimeout,
			WriteTimeout: c.WriteTimeout,
			MaxArgs:      c.MaxArgs,
			Limits: protocol.Limits{
				MaxArrayCells: c.MaxArrayCells,
				MaxDepth:      c.MaxDepth,
			},
		},
	}
}

func rejectUnknownKeys(meta toml.MetaData) error {
	undecoded := meta.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	keys := make([]string, len(undecoded))
	for i, k := range undecoded {
		keys[i] = k.String()
	}
	return fmt.Errorf("%w: unknown keys: %s", ErrInvalidConfig, strings.Join(keys, ", "))
}

func validateAddr(key, addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidConfig, key)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
