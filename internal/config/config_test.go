package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/xlloop/internal/testutil/testlog"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadServerConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "server.toml", `
name = "desk-7"
listen = "0.0.0.0:6000"
admin_token = " tok "
idle_timeout = "5m"
read_timeout = "10s"
max_args = 64
max_connections = 8
functions = ["SUM", " ", "AVERAGE"]
`)

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := DefaultServerConfig()
	if cfg.Name != "desk-7" || cfg.Listen != "0.0.0.0:6000" {
		t.Fatalf("unexpected identity: %+v", cfg)
	}
	if cfg.IdleTimeout != 5*time.Minute || cfg.ReadTimeout != 10*time.Second {
		t.Fatalf("unexpected timeouts: idle=%v read=%v", cfg.IdleTimeout, cfg.ReadTimeout)
	}
	if cfg.WriteTimeout != def.WriteTimeout || cfg.AdminAddr != def.AdminAddr || cfg.MaxDepth != def.MaxDepth {
		t.Fatalf("undefined keys should keep defaults: %+v", cfg)
	}
	if cfg.AdminToken != "tok" {
		t.Fatalf("unexpected admin token: %q", cfg.AdminToken)
	}
	if cfg.MaxArgs != 64 || cfg.MaxConnections != 8 {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
	if len(cfg.Functions) != 2 || cfg.Functions[1] != "AVERAGE" {
		t.Fatalf("unexpected functions: %+v", cfg.Functions)
	}

	opts := cfg.ServerOptions()
	if opts.Addr != "0.0.0.0:6000" || opts.Session.MaxArgs != 64 || opts.Session.IdleTimeout != 5*time.Minute {
		t.Fatalf("unexpected server options: %+v", opts)
	}
	if opts.Session.Limits.MaxArrayCells != def.MaxArrayCells {
		t.Fatalf("unexpected limits: %+v", opts.Session.Limits)
	}
}

func TestLoadServerConfigRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown key":     `listn = "127.0.0.1:1"`,
		"bad duration":    `read_timeout = "soon"`,
		"bad listen":      `listen = "no-port"`,
		"same admin":      "listen = \"127.0.0.1:7000\"\nadmin_addr = \"127.0.0.1:7000\"",
		"zero max args":   `max_args = 0`,
		"negative conns":  `max_connections = -1`,
		"bad log level":   `log_level = "loud"`,
		"negative idle":   `idle_timeout = "-1s"`,
		"empty name":      `name = "  "`,
		"zero array cell": `max_array_cells = 0`,
	}
	for name, body := range cases {
		path := writeFile(t, "server.toml", body)
		if _, err := LoadServerConfig(path); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
	if _, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestEmptyAdminAddrDisablesAdmin(t *testing.T) {
	path := writeFile(t, "server.toml", `admin_addr = ""`)
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.AdminAddr != "" {
		t.Fatalf("expected admin disabled, got %q", cfg.AdminAddr)
	}
}

func TestLoadClientConfig(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "client.toml", `
addr = "10.0.0.5:5454"
call_timeout = "2s"
legacy = true
max_connect_attempts = 3
`)
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("load client config: %v", err)
	}
	if cfg.Addr != "10.0.0.5:5454" || !cfg.Options.Legacy || cfg.Options.MaxConnectAttempts != 3 {
		t.Fatalf("unexpected client config: %+v", cfg)
	}
	if cfg.Options.CallTimeout != 2*time.Second {
		t.Fatalf("unexpected call timeout: %v", cfg.Options.CallTimeout)
	}
	if cfg.Options.ConnectTimeout != DefaultClientConfig().Options.ConnectTimeout {
		t.Fatalf("connect timeout should keep its default")
	}

	bad := writeFile(t, "client.toml", `connect_timeout = "0s"`)
	if _, err := LoadClientConfig(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestTemplatesRoundTripThroughLoader(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	for _, kind := range []string{KindServer, KindClient} {
		path := filepath.Join(dir, kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write %s template: %v", kind, err)
		}
		if err := Validate(path, kind); err != nil {
			t.Fatalf("%s template does not validate: %v", kind, err)
		}
		if err := WriteTemplate(path, kind, false); err == nil {
			t.Fatalf("expected refusal to overwrite %s template", kind)
		}
		if err := WriteTemplate(path, kind, true); err != nil {
			t.Fatalf("forced overwrite failed: %v", err)
		}
	}

	body, err := Template("SERVER")
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	if !strings.Contains(body, `listen = '127.0.0.1:5454'`) && !strings.Contains(body, `listen = "127.0.0.1:5454"`) {
		t.Fatalf("template missing listen default:\n%s", body)
	}
	if !strings.Contains(body, "# TCP address for spreadsheet clients.") {
		t.Fatalf("template missing key comments:\n%s", body)
	}
	cfg, err := LoadServerConfig(filepath.Join(dir, KindServer+".toml"))
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	def := DefaultServerConfig()
	if cfg.ReadTimeout != def.ReadTimeout || cfg.IdleTimeout != 0 || cfg.MaxArgs != def.MaxArgs {
		t.Fatalf("template should load as defaults: %+v", cfg)
	}

	if _, err := Template("mirage"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
