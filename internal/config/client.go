package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/xlloop/internal/client"
)

// ClientConfig is the resolved xlcall configuration.
type ClientConfig struct {
	Addr    string
	Options client.Config
}

type clientFile struct {
	Addr               string `toml:"addr" comment:"Server address to call."`
	ConnectTimeout     string `toml:"connect_timeout" comment:"Max time per dial attempt."`
	CallTimeout        string `toml:"call_timeout" comment:"Max time per call. 0s waits forever."`
	MaxConnectAttempts int    `toml:"max_connect_attempts" comment:"Dial attempts before giving up. 0 retries until interrupted."`
	Legacy             bool   `toml:"legacy" comment:"Send calls without the versioned header."`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Addr:    DefaultServerConfig().Listen,
		Options: client.DefaultConfig(),
	}
}

func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}
	if err := rejectUnknownKeys(meta); err != nil {
		return ClientConfig{}, err
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("connect_timeout") {
		if cfg.Options.ConnectTimeout, err = parseDuration("connect_timeout", raw.ConnectTimeout); err != nil {
			return ClientConfig{}, err
		}
	}
	if meta.IsDefined("call_timeout") {
		if cfg.Options.CallTimeout, err = parseDuration("call_timeout", raw.CallTimeout); err != nil {
			return ClientConfig{}, err
		}
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Options.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("legacy") {
		cfg.Options.Legacy = raw.Legacy
	}

	if err := validateAddr("addr", cfg.Addr); err != nil {
		return ClientConfig{}, err
	}
	if cfg.Options.ConnectTimeout <= 0 {
		return ClientConfig{}, fmt.Errorf("%w: connect_timeout must be positive", ErrInvalidConfig)
	}
	if cfg.Options.CallTimeout < 0 {
		return ClientConfig{}, fmt.Errorf("%w: call_timeout must not be negative", ErrInvalidConfig)
	}
	return cfg, nil
}
