package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	KindServer = "server"
	KindClient = "client"
)

// Template renders the defaults for kind as a commented TOML file.
func Template(kind string) (string, error) {
	var doc any
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		doc = serverTemplate()
	case KindClient:
		doc = clientTemplate()
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	out, err := toml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("render %s template: %w", kind, err)
	}
	return string(out), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads path as kind and reports the first problem.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		_, err := LoadServerConfig(path)
		return err
	case KindClient:
		_, err := LoadClientConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

func serverTemplate() serverFile {
	def := DefaultServerConfig()
	return serverFile{
		Name:           def.Name,
		Listen:         def.Listen,
		AdminAddr:      def.AdminAddr,
		CorsOrigins:    def.CorsOrigins,
		AdminToken:     def.AdminToken,
		IdleTimeout:    formatDuration(def.IdleTimeout),
		ReadTimeout:    formatDuration(def.ReadTimeout),
		WriteTimeout:   formatDuration(def.WriteTimeout),
		MaxArgs:        def.MaxArgs,
		MaxArrayCells:  def.MaxArrayCells,
		MaxDepth:       def.MaxDepth,
		MaxConnections: def.MaxConnections,
		Functions:      []string{},
		LogLevel:       def.LogLevel,
	}
}

func clientTemplate() clientFile {
	def := DefaultClientConfig()
	return clientFile{
		Addr:               def.Addr,
		ConnectTimeout:     formatDuration(def.Options.ConnectTimeout),
		CallTimeout:        formatDuration(def.Options.CallTimeout),
		MaxConnectAttempts: def.Options.MaxConnectAttempts,
		Legacy:             def.Options.Legacy,
	}
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	return d.String()
}
