package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"

	"github.com/danmuck/sensorctl/internal/artifact"
	"github.com/danmuck/sensorctl/internal/observability"
	"github.com/danmuck/sensorctl/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Persister writes one artifact and reports the files it produced.
type Persister interface {
	Persist(a artifact.Artifact) ([]string, error)
}

type Option func(*Session)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithTelemetryHandler receives every decoded telemetry record.
func WithTelemetryHandler(fn func(artifact.Artifact)) Option {
	return func(s *Session) {
		s.onTelemetry = fn
	}
}

func WithSessionID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// Session owns one device connection from accept to close.
type Session struct {
	cfg         Config
	id          string
	sink        Persister
	logger      zerolog.Logger
	onTelemetry func(artifact.Artifact)
	rng         *rand.Rand

	stats counters
}

func NewSession(cfg Config, sink Persister, opts ...Option) *Session {
	s := &Session{
		cfg:    cfg.WithDefaults(),
		sink:   sink,
		logger: log.Logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	s.logger = s.logger.With().Str("session_id", s.id).Logger()
	s.stats.s = Stats{SessionID: s.id, State: StateListening, StartedAt: time.Now()}
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return s.stats.snapshot().State
}

func (s *Session) Stats() Stats {
	return s.stats.snapshot()
}

func (s *Session) setState(state State) {
	s.stats.update(func(st *Stats) { st.State = state })
	observability.SetSessionState(int(state))
}

// Serve waits for one connection on ln and streams it until it closes.
// Serve owns ln and closes it once a client is accepted; cancellation
// while listening returns nil.
func (s *Session) Serve(ctx context.Context, ln net.Listener) error {
	if s.sink == nil {
		_ = ln.Close()
		return ErrNoPersister
	}
	s.setState(StateListening)
	conn, err := s.accept(ctx, ln)
	_ = ln.Close()
	if err != nil {
		s.setState(StateClosed)
		if ctx.Err() != nil {
			s.finish(CloseCancelled)
			return nil
		}
		return err
	}
	s.setState(StateAccepted)
	return s.Stream(ctx, conn)
}

func (s *Session) accept(ctx context.Context, ln net.Listener) (net.Conn, error) {
	// closing ln unblocks Accept as soon as ctx is cancelled
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	dl, ok := ln.(interface{ SetDeadline(time.Time) error })
	if !ok {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", ErrAccept, err)
		}
		return conn, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := dl.SetDeadline(time.Now().Add(s.cfg.AcceptTimeout)); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: set deadline: %v", ErrAccept, err)
		}
		conn, err := ln.Accept()
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			s.logger.Debug().Dur("accept_timeout", s.cfg.AcceptTimeout).Msg("accept timeout, still listening")
			continue
		}
		return nil, fmt.Errorf("%w: %v", ErrAccept, err)
	}
}

// Stream runs the receive/decode/persist loop on conn. It always closes
// conn. An orderly shutdown or cancellation returns nil; I/O failures
// return ErrConnectionClosed.
func (s *Session) Stream(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	if s.sink == nil {
		return ErrNoPersister
	}

	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	s.stats.update(func(st *Stats) {
		st.RemoteAddr = remote
		st.ConnectedAt = time.Now()
	})
	s.setState(StateStreaming)
	s.logger.Info().Str("remote", remote).Msg("device connected")

	// Unblock a pending read on cancellation. There is no read timeout
	// otherwise: a silent peer holds the session open.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	reason, err := s.loop(ctx, conn)
	s.setState(StateClosed)
	s.finish(reason)
	if err != nil {
		s.logger.Warn().Err(err).Str("reason", string(reason)).Msg("device connection lost")
		return fmt.Errorf("%w: %s: %w", ErrConnectionClosed, reason, err)
	}
	s.logger.Info().Str("reason", string(reason)).Msg("device session closed")
	return nil
}

func (s *Session) finish(reason CloseReason) {
	s.stats.update(func(st *Stats) { st.CloseReason = reason })
	observability.RecordSessionClosed(string(reason))
}

func (s *Session) loop(ctx context.Context, conn net.Conn) (CloseReason, error) {
	scratch := make([]byte, s.cfg.RecvBufferBytes)
	var window []byte
	emptyStreak := 0

	for {
		n, err := conn.Read(scratch)
		observability.RecordRead(n)
		if n > 0 {
			emptyStreak = 0
			s.stats.update(func(st *Stats) {
				st.Reads++
				st.BytesReceived += uint64(n)
			})
			if s.cfg.Reassemble {
				window = s.drain(append(window, scratch[:n]...))
				s.stats.update(func(st *Stats) { st.BufferedBytes = len(window) })
			} else {
				s.handleRead(scratch[:n])
			}
		}

		if ctx.Err() != nil {
			s.dropWindow(window)
			return CloseCancelled, nil
		}

		empty := n == 0 && err == nil
		if errors.Is(err, io.EOF) && s.cfg.TreatEmptyReadAsRetry {
			empty = true
			err = nil
		}
		if empty {
			emptyStreak++
			s.stats.update(func(st *Stats) { st.EmptyReads++ })
			if emptyStreak == 1 {
				s.logger.Debug().Msg("empty read, retrying")
			}
			if !sleepCtx(ctx, s.cfg.EmptyReadBackoff.Delay(emptyStreak, s.rng)) {
				s.dropWindow(window)
				return CloseCancelled, nil
			}
			continue
		}
		if err == nil {
			continue
		}

		s.dropWindow(window)
		reason := classifyReadError(err)
		if reason == ClosePeer {
			return reason, nil
		}
		return reason, err
	}
}

// drain decodes every complete frame at the front of window and returns
// the undecoded remainder moved to the start of the buffer.
func (s *Session) drain(window []byte) []byte {
	off := 0
	for off < len(window) {
		rest := window[off:]
		if need, ok := frame.Need(rest); ok && need > s.cfg.MaxFrameBytes {
			err := fmt.Errorf("%w: need=%d max=%d", frame.ErrFrameTooLarge, need, s.cfg.MaxFrameBytes)
			s.reject(frame.KindFromTag(rest[0]), err, len(rest))
			off = len(window)
			break
		}
		f, consumed, err := frame.Decode(rest)
		if errors.Is(err, frame.ErrTruncated) {
			break
		}
		if consumed <= 0 {
			// malformed header: no way to find the next frame boundary
			consumed = len(rest)
		}
		// telemetry has no length and claims the rest of the window,
		// including any frame that shares the read with it
		s.handle(frame.KindFromTag(rest[0]), f, err, consumed)
		off += consumed
	}
	n := copy(window, window[off:])
	return window[:n]
}

// handleRead decodes a read as exactly one frame; truncated reads are lost.
func (s *Session) handleRead(buf []byte) {
	f, _, err := frame.Decode(buf)
	s.handle(frame.KindFromTag(buf[0]), f, err, len(buf))
}

// handle routes one decoded frame; n is the number of window bytes it
// consumed.
func (s *Session) handle(kind frame.Kind, f frame.Frame, err error, n int) {
	if err != nil {
		s.reject(kind, err, n)
		return
	}
	if f.Skipped() {
		s.stats.update(func(st *Stats) { st.Skipped++ })
		observability.RecordFrame(kind.String(), observability.OutcomeSkipped)
		s.logger.Debug().Str("tag", fmt.Sprintf("%q", f.Tag)).Msg("unknown tag skipped")
		return
	}

	now := time.Now()
	s.stats.countFrame(f.Kind, now)
	a, err := artifact.Reconstruct(f)
	if err != nil {
		s.reject(f.Kind, err, n)
		return
	}

	if a.Kind == frame.KindTelemetry {
		observability.RecordFrame(a.Kind.String(), observability.OutcomeTelemetry)
		s.logger.Info().Str("text", a.Text).Msg("telemetry")
		if s.onTelemetry != nil {
			s.onTelemetry(a)
		}
		return
	}

	paths, err := s.sink.Persist(a)
	observability.RecordPersist(a.Kind.String(), time.Since(now), err == nil)
	if err != nil {
		s.stats.update(func(st *Stats) { st.PersistFailures++ })
		observability.RecordFrame(a.Kind.String(), observability.OutcomePersistFailed)
		s.logger.Error().
			Err(err).
			Str("event", "persist_failed").
			Str("kind", a.Kind.String()).
			Int64("timestamp", a.Timestamp).
			Strs("written", paths).
			Msg("artifact write failed, frame lost")
		return
	}
	s.stats.update(func(st *Stats) { st.FilesWritten += uint64(len(paths)) })
	observability.RecordFrame(a.Kind.String(), observability.OutcomePersisted)
	s.logger.Info().
		Str("kind", a.Kind.String()).
		Int64("timestamp", a.Timestamp).
		Strs("paths", paths).
		Msg("artifact persisted")
}

// reject logs a dropped frame. Decode and geometry failures never end
// the session.
func (s *Session) reject(kind frame.Kind, err error, dropped int) {
	outcome := observability.OutcomeMalformed
	switch {
	case errors.Is(err, frame.ErrTruncated):
		outcome = observability.OutcomeTruncated
		s.stats.update(func(st *Stats) { st.Truncated++ })
	case errors.Is(err, artifact.ErrGeometryMismatch):
		outcome = observability.OutcomeGeometryMismatch
		s.stats.update(func(st *Stats) { st.GeometryMismatches++ })
	case errors.Is(err, frame.ErrFrameTooLarge):
		outcome = observability.OutcomeTooLarge
		s.stats.update(func(st *Stats) { st.TooLarge++ })
	default:
		s.stats.update(func(st *Stats) { st.Malformed++ })
	}
	observability.RecordFrame(kind.String(), outcome)
	s.logger.Warn().
		Err(err).
		Str("event", "frame_dropped").
		Str("kind", kind.String()).
		Str("outcome", outcome).
		Int("dropped_bytes", dropped).
		Msg("frame dropped")
}

func (s *Session) dropWindow(window []byte) {
	if len(window) == 0 {
		return
	}
	s.logger.Warn().Int("bytes", len(window)).Msg("partial frame discarded at close")
	s.stats.update(func(st *Stats) { st.BufferedBytes = 0 })
}
