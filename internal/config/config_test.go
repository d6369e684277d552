package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/sensorctl/internal/ingest"
	"github.com/danmuck/sensorctl/internal/sink"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadExampleConfig(t *testing.T) {
	path := filepath.Join("..", "..", "cmd", "ingestctl", "ex.config.toml")
	cfg, err := ValidateFile(path)
	if err != nil {
		t.Fatalf("validate example: %v", err)
	}
	if cfg.ID != "ingest.local" {
		t.Fatalf("unexpected id: %q", cfg.ID)
	}
	if cfg.Ingest.Addr() != "0.0.0.0:9090" {
		t.Fatalf("unexpected addr: %s", cfg.Ingest.Addr())
	}
	if cfg.Ingest.AcceptTimeout != 3*time.Second {
		t.Fatalf("unexpected accept timeout: %v", cfg.Ingest.AcceptTimeout)
	}
	if cfg.Ingest.RecvBufferBytes != ingest.DefaultRecvBufferBytes {
		t.Fatalf("unexpected receive buffer: %d", cfg.Ingest.RecvBufferBytes)
	}
	if !cfg.Ingest.TreatEmptyReadAsRetry || !cfg.Ingest.Reassemble || cfg.Ingest.Restart {
		t.Fatalf("unexpected policy flags: %+v", cfg.Ingest)
	}
	if cfg.Sink.Format != sink.FormatTIFF || !cfg.Sink.Manifest || cfg.Sink.Root != "data" {
		t.Fatalf("unexpected sink config: %+v", cfg.Sink)
	}
	if cfg.AdminAddr != "127.0.0.1:7020" || len(cfg.CORSOrigins) != 1 {
		t.Fatalf("unexpected admin config: %q %v", cfg.AdminAddr, cfg.CORSOrigins)
	}
}

func TestLoadOverlaysOnlyDefinedKeys(t *testing.T) {
	path := writeFile(t, `
port = 9191
empty_read_retry = false
image_format = "png"
cors_origins = [" http://a ", ""]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d := Defaults()
	if cfg.Ingest.Port != 9191 || cfg.Ingest.Host != d.Ingest.Host {
		t.Fatalf("unexpected endpoint: %s", cfg.Ingest.Addr())
	}
	if cfg.Ingest.TreatEmptyReadAsRetry {
		t.Fatalf("explicit false must override the default")
	}
	if !cfg.Ingest.Reassemble {
		t.Fatalf("undefined key must keep its default")
	}
	if cfg.Sink.Format != sink.FormatPNG {
		t.Fatalf("unexpected format: %s", cfg.Sink.Format)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://a" {
		t.Fatalf("unexpected origins: %v", cfg.CORSOrigins)
	}
	if cfg.AdminAddr != "" {
		t.Fatalf("admin server should be off by default")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	if _, err := Load(writeFile(t, `accept_timeout = "soon"`)); err == nil || !strings.Contains(err.Error(), "accept_timeout") {
		t.Fatalf("expected accept_timeout parse error, got %v", err)
	}
	if _, err := Load(writeFile(t, `image_format = "jpeg"`)); !errors.Is(err, sink.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestValidateFileRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, `porte = 9090`)
	if _, err := ValidateFile(path); err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}
}

func TestValidateFileRejectsInvalidSettings(t *testing.T) {
	path := writeFile(t, `port = 70000`)
	if _, err := ValidateFile(path); !errors.Is(err, ErrInvalidSettings) || !errors.Is(err, ingest.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidSettings wrapping ErrInvalidConfig, got %v", err)
	}
}

func TestTemplateRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected existing file to be protected")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("overwrite template: %v", err)
	}

	cfg, err := ValidateFile(path)
	if err != nil {
		t.Fatalf("validate template: %v", err)
	}
	d := Defaults()
	if cfg.Ingest.Addr() != d.Ingest.Addr() || cfg.Ingest.AcceptTimeout != d.Ingest.AcceptTimeout {
		t.Fatalf("template drifted from defaults: %+v", cfg.Ingest)
	}
	if cfg.Ingest.EmptyReadBackoff.InitialDelay != d.Ingest.EmptyReadBackoff.InitialDelay {
		t.Fatalf("unexpected backoff: %+v", cfg.Ingest.EmptyReadBackoff)
	}
	if cfg.Sink != d.Sink {
		t.Fatalf("unexpected sink: %+v", cfg.Sink)
	}
}
