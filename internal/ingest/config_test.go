package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{Host: "  ", RecvBufferBytes: 1024}.WithDefaults()
	if cfg.Host != DefaultHost || cfg.Port != DefaultPort {
		t.Fatalf("unexpected endpoint defaults: %+v", cfg)
	}
	if cfg.AcceptTimeout != DefaultAcceptTimeout || cfg.MaxFrameBytes != DefaultMaxFrameBytes {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RecvBufferBytes != 1024 {
		t.Fatalf("explicit buffer size overwritten: %d", cfg.RecvBufferBytes)
	}
	if cfg.EmptyReadBackoff.InitialDelay != 50*time.Millisecond {
		t.Fatalf("unexpected backoff default: %+v", cfg.EmptyReadBackoff)
	}
	if got := DefaultConfig().Addr(); got != "0.0.0.0:9090" {
		t.Fatalf("unexpected default addr: %s", got)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}

	cases := map[string]func(*Config){
		"port":          func(c *Config) { c.Port = -1 },
		"accept":        func(c *Config) { c.AcceptTimeout = 0 },
		"buffer":        func(c *Config) { c.RecvBufferBytes = 0 },
		"max_frame":     func(c *Config) { c.MaxFrameBytes = 1024 },
		"max_frame_big": func(c *Config) { c.MaxFrameBytes = largestFrame - 1 },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}

	cfg := DefaultConfig()
	cfg.Reassemble = false
	cfg.MaxFrameBytes = 1024
	if err := cfg.Validate(); err != nil {
		t.Fatalf("frame cap only applies when reassembling: %v", err)
	}

	cfg.RecvBufferBytes = largestFrame - 1
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("short receive buffer without reassembly: expected ErrInvalidConfig, got %v", err)
	}
	cfg.Reassemble = true
	cfg.MaxFrameBytes = DefaultMaxFrameBytes
	if err := cfg.Validate(); err != nil {
		t.Fatalf("short receive buffer is fine when reassembling: %v", err)
	}
}

func TestConfigWarnings(t *testing.T) {
	cfg := DefaultConfig()
	if w := cfg.Warnings(); len(w) != 0 {
		t.Fatalf("defaults should not warn: %v", w)
	}
	cfg.Restart = true
	if w := cfg.Warnings(); len(w) != 1 || !strings.Contains(w[0], "restart") {
		t.Fatalf("expected restart warning, got %v", w)
	}
	cfg.TreatEmptyReadAsRetry = false
	if w := cfg.Warnings(); len(w) != 0 {
		t.Fatalf("restart without retry should not warn: %v", w)
	}
}

func TestBackoffDelay(t *testing.T) {
	b := BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 50 * time.Millisecond}
	want := []time.Duration{10, 20, 40, 50, 50}
	for i, w := range want {
		if got := b.Delay(i+1, nil); got != w*time.Millisecond {
			t.Fatalf("attempt %d: got %s want %s", i+1, got, w*time.Millisecond)
		}
	}
	if got := (BackoffConfig{}).Delay(3, nil); got != 0 {
		t.Fatalf("zero backoff should not wait: %s", got)
	}
}

func TestSleepCtxCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleepCtx(ctx, time.Hour) {
		t.Fatalf("cancelled context must cut the wait short")
	}
	if !sleepCtx(context.Background(), time.Millisecond) {
		t.Fatalf("uncancelled wait should complete")
	}
}

func TestStateText(t *testing.T) {
	raw, err := StateStreaming.MarshalText()
	if err != nil || string(raw) != "streaming" {
		t.Fatalf("unexpected text: %q %v", raw, err)
	}
	if State(99).String() != "unknown" {
		t.Fatalf("unexpected fallback")
	}
}
