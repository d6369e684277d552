package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders the default settings file.
func Template() (string, error) {
	d := Defaults()
	raw := fileConfig{
		ID:                  d.ID,
		Host:                d.Ingest.Host,
		Port:                d.Ingest.Port,
		AcceptTimeout:       d.Ingest.AcceptTimeout.String(),
		RecvBufferBytes:     d.Ingest.RecvBufferBytes,
		MaxFrameBytes:       d.Ingest.MaxFrameBytes,
		EmptyReadRetry:      d.Ingest.TreatEmptyReadAsRetry,
		EmptyReadBackoff:    d.Ingest.EmptyReadBackoff.InitialDelay.String(),
		EmptyReadBackoffMax: d.Ingest.EmptyReadBackoff.MaxDelay.String(),
		Reassemble:          d.Ingest.Reassemble,
		Restart:             d.Ingest.Restart,
		DataRoot:            d.Sink.Root,
		ImageFormat:         string(d.Sink.Format),
		Manifest:            d.Sink.Manifest,
		AdminAddr:           "127.0.0.1:7020",
		CorsOrigins:         []string{"http://localhost:3000"},
	}
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(raw); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
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

// ValidateFile rejects unknown keys, then loads and validates path.
func ValidateFile(path string) (Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return Settings{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	defer f.Close()

	var raw fileConfig
	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return Settings{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}

	cfg, err := Load(path)
	if err != nil {
		return Settings{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}
