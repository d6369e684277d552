package ingest

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/sensorctl/internal/artifact"
	"github.com/danmuck/sensorctl/internal/protocol/frame"
)

const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 9090
	// DefaultRecvBufferBytes is the device client's ~2MB send window.
	DefaultRecvBufferBytes = 512*512*8 + 100
	DefaultMaxFrameBytes   = 8 * 1024 * 1024
	DefaultAcceptTimeout   = 3 * time.Second
)

var largestFrame = frame.ColorHeaderLen + artifact.ColorGeometry.Size()

// Config defines the listen endpoint and the streaming policy of one session.
type Config struct {
	Host            string
	Port            int
	AcceptTimeout   time.Duration
	RecvBufferBytes int
	MaxFrameBytes   int

	// TreatEmptyReadAsRetry keeps streaming after a zero-byte read or an
	// orderly peer shutdown instead of closing the session.
	TreatEmptyReadAsRetry bool
	EmptyReadBackoff      BackoffConfig

	// Reassemble accumulates reads and decodes frames that span them.
	// When false every read is decoded as exactly one frame.
	Reassemble bool

	// Restart relistens after a session closes.
	Restart bool
}

func DefaultConfig() Config {
	return Config{
		Host:                  DefaultHost,
		Port:                  DefaultPort,
		AcceptTimeout:         DefaultAcceptTimeout,
		RecvBufferBytes:       DefaultRecvBufferBytes,
		MaxFrameBytes:         DefaultMaxFrameBytes,
		TreatEmptyReadAsRetry: true,
		EmptyReadBackoff: BackoffConfig{
			InitialDelay: 50 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     time.Second,
			Jitter:       false,
		},
		Reassemble: true,
		Restart:    false,
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.Host) == "" {
		c.Host = d.Host
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = d.AcceptTimeout
	}
	if c.RecvBufferBytes <= 0 {
		c.RecvBufferBytes = d.RecvBufferBytes
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	if c.EmptyReadBackoff == (BackoffConfig{}) {
		c.EmptyReadBackoff = d.EmptyReadBackoff
	}
	return c
}

func (c Config) Addr() string {
	return net.JoinHostPort(strings.TrimSpace(c.Host), strconv.Itoa(c.Port))
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.AcceptTimeout <= 0 {
		return fmt.Errorf("%w: accept timeout must be positive", ErrInvalidConfig)
	}
	if c.RecvBufferBytes <= 0 {
		return fmt.Errorf("%w: receive buffer must be positive", ErrInvalidConfig)
	}
	if c.Reassemble && c.MaxFrameBytes < largestFrame {
		return fmt.Errorf("%w: max frame bytes %d below largest valid frame %d", ErrInvalidConfig, c.MaxFrameBytes, largestFrame)
	}
	// without reassembly a frame must arrive in a single read
	if !c.Reassemble && c.RecvBufferBytes < largestFrame {
		return fmt.Errorf("%w: receive buffer %d below largest valid frame %d without reassembly", ErrInvalidConfig, c.RecvBufferBytes, largestFrame)
	}
	return nil
}

// Warnings reports valid but surprising combinations.
func (c Config) Warnings() []string {
	var out []string
	if c.Restart && c.TreatEmptyReadAsRetry {
		out = append(out, "restart has no effect on peer shutdown while empty reads are retried; the session only ends on cancel or an I/O error")
	}
	return out
}
