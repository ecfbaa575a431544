package main

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/xlloop/internal/config"
	"github.com/danmuck/xlloop/internal/testutil/testlog"
)

func TestRunStopsOnContextCancel(t *testing.T) {
	testlog.Start(t)
	cfg := config.DefaultServerConfig()
	cfg.Listen = "127.0.0.1:0"
	cfg.AdminAddr = "127.0.0.1:0"
	cfg.Functions = []string{"SUM"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestRunRejectsUnknownFunction(t *testing.T) {
	testlog.Start(t)
	cfg := config.DefaultServerConfig()
	cfg.Listen = "127.0.0.1:0"
	cfg.AdminAddr = ""
	cfg.Functions = []string{"NOT_A_FUNCTION"}
	if err := run(context.Background(), cfg); err == nil {
		t.Fatalf("expected unknown function error")
	}
}

func TestShippedConfigMatchesDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := config.LoadServerConfig("config.toml")
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	def := config.DefaultServerConfig()
	if cfg.Listen != def.Listen || cfg.AdminAddr != def.AdminAddr || cfg.MaxArgs != def.MaxArgs {
		t.Fatalf("shipped config drifted from defaults: %+v", cfg)
	}
	if cfg.ReadTimeout != def.ReadTimeout || cfg.MaxArrayCells != def.MaxArrayCells || len(cfg.Functions) != 0 {
		t.Fatalf("shipped config drifted from defaults: %+v", cfg)
	}
}
