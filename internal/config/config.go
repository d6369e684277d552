package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/sensorctl/internal/ingest"
	"github.com/danmuck/sensorctl/internal/sink"
)

const DefaultID = "sensorctl"

var ErrInvalidSettings = errors.New("config: invalid settings")

// fileConfig mirrors the settings file. Durations are strings.
type fileConfig struct {
	ID                  string   `toml:"id"`
	Host                string   `toml:"host"`
	Port                int      `toml:"port"`
	AcceptTimeout       string   `toml:"accept_timeout"`
	RecvBufferBytes     int      `toml:"recv_buffer_bytes"`
	MaxFrameBytes       int      `toml:"max_frame_bytes"`
	EmptyReadRetry      bool     `toml:"empty_read_retry"`
	EmptyReadBackoff    string   `toml:"empty_read_backoff"`
	EmptyReadBackoffMax string   `toml:"empty_read_backoff_max"`
	Reassemble          bool     `toml:"reassemble"`
	Restart             bool     `toml:"restart"`
	DataRoot            string   `toml:"data_root"`
	ImageFormat         string   `toml:"image_format"`
	Manifest            bool     `toml:"manifest"`
	AdminAddr           string   `toml:"admin_addr"`
	CorsOrigins         []string `toml:"cors_origins"`
}

// Settings is everything ingestctl needs to start.
type Settings struct {
	ID     string
	Ingest ingest.Config
	Sink   sink.Config

	// AdminAddr enables the admin HTTP server when non-empty.
	AdminAddr   string
	CORSOrigins []string
}

func Defaults() Settings {
	return Settings{
		ID:     DefaultID,
		Ingest: ingest.DefaultConfig(),
		Sink:   sink.DefaultConfig(),
	}
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidSettings)
	}
	if strings.TrimSpace(s.Sink.Root) == "" {
		return fmt.Errorf("%w: missing data_root", ErrInvalidSettings)
	}
	if _, err := sink.ParseFormat(string(s.Sink.Format)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if err := s.Ingest.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return nil
}

// Load overlays the keys present in path onto Defaults.
func Load(path string) (Settings, error) {
	cfg := Defaults()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.ID = id
		}
	}
	if meta.IsDefined("host") {
		cfg.Ingest.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Ingest.Port = raw.Port
	}
	if meta.IsDefined("accept_timeout") {
		d, err := parseDuration("accept_timeout", raw.AcceptTimeout)
		if err != nil {
			return Settings{}, err
		}
		cfg.Ingest.AcceptTimeout = d
	}
	if meta.IsDefined("recv_buffer_bytes") {
		cfg.Ingest.RecvBufferBytes = raw.RecvBufferBytes
	}
	if meta.IsDefined("max_frame_bytes") {
		cfg.Ingest.MaxFrameBytes = raw.MaxFrameBytes
	}
	if meta.IsDefined("empty_read_retry") {
		cfg.Ingest.TreatEmptyReadAsRetry = raw.EmptyReadRetry
	}
	if meta.IsDefined("empty_read_backoff") {
		d, err := parseDuration("empty_read_backoff", raw.EmptyReadBackoff)
		if err != nil {
			return Settings{}, err
		}
		cfg.Ingest.EmptyReadBackoff.InitialDelay = d
	}
	if meta.IsDefined("empty_read_backoff_max") {
		d, err := parseDuration("empty_read_backoff_max", raw.EmptyReadBackoffMax)
		if err != nil {
			return Settings{}, err
		}
		cfg.Ingest.EmptyReadBackoff.MaxDelay = d
	}
	if meta.IsDefined("reassemble") {
		cfg.Ingest.Reassemble = raw.Reassemble
	}
	if meta.IsDefined("restart") {
		cfg.Ingest.Restart = raw.Restart
	}
	if meta.IsDefined("data_root") {
		cfg.Sink.Root = strings.TrimSpace(raw.DataRoot)
	}
	if meta.IsDefined("image_format") {
		f, err := sink.ParseFormat(raw.ImageFormat)
		if err != nil {
			return Settings{}, fmt.Errorf("parse image_format: %w", err)
		}
		cfg.Sink.Format = f
	}
	if meta.IsDefined("manifest") {
		cfg.Sink.Manifest = raw.Manifest
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeOrigins(raw.CorsOrigins)
	}

	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
