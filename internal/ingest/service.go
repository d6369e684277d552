package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/danmuck/sensorctl/internal/sink"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Service binds the capture port and runs sessions for the process.
// Only one device is served at a time; with Restart unset the process
// serves exactly one connection.
type Service struct {
	cfg    Config
	sink   *sink.Sink
	opts   []Option
	logger zerolog.Logger

	mu      sync.RWMutex
	current *Session
	served  int
}

func NewService(cfg Config, sk *sink.Sink, opts ...Option) *Service {
	return &Service{
		cfg:    cfg.WithDefaults(),
		sink:   sk,
		opts:   opts,
		logger: log.Logger.With().Str("component", "ingest").Logger(),
	}
}

func (s *Service) Config() Config {
	return s.cfg
}

// Run binds, serves one session and, with Restart set, listens again
// after it closes. It returns nil once ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if s.sink == nil {
		return ErrNoPersister
	}
	for _, w := range s.cfg.Warnings() {
		s.logger.Warn().Msg(w)
	}
	for {
		ln, err := s.Listen()
		if err != nil {
			return err
		}
		err = s.Serve(ctx, ln)
		switch {
		case err == nil:
		case errors.Is(err, ErrConnectionClosed):
			// loop-fatal only; the listen cycle decides what happens next
		default:
			return err
		}
		if ctx.Err() != nil || !s.cfg.Restart {
			return nil
		}
		s.logger.Info().Str("addr", s.cfg.Addr()).Msg("session ended, listening again")
	}
}

// Listen binds the configured address. Bind failures are fatal.
func (s *Service) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBind, s.cfg.Addr(), err)
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening for capture device")
	return ln, nil
}

// Serve runs one session on ln.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if s.sink == nil {
		_ = ln.Close()
		return ErrNoPersister
	}
	id := uuid.NewString()
	opts := append([]Option{WithLogger(s.logger)}, s.opts...)
	opts = append(opts, WithSessionID(id))
	sess := NewSession(s.cfg, s.sink.ForSession(id), opts...)

	s.mu.Lock()
	s.current = sess
	s.served++
	s.mu.Unlock()

	return sess.Serve(ctx, ln)
}

// Current returns the most recent session, or nil before the first listen.
func (s *Service) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Status reports the current session snapshot and how many sessions ran.
func (s *Service) Status() (Stats, int, bool) {
	s.mu.RLock()
	sess := s.current
	served := s.served
	s.mu.RUnlock()
	if sess == nil {
		return Stats{}, served, false
	}
	return sess.Stats(), served, true
}
