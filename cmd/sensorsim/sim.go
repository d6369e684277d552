package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/sensorctl/internal/artifact"
	"github.com/danmuck/sensorctl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// simulator replays synthetic capture frames the way the headset client
// sends them: one buffer per frame, optionally split into smaller writes.
type simulator struct {
	kinds    []frame.Kind
	count    int
	interval time.Duration
	chunk    int
	clock    func() time.Time
}

func parseKinds(raw string) ([]frame.Kind, error) {
	var kinds []frame.Kind
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if len(part) != 1 {
			return nil, fmt.Errorf("unknown frame kind %q", part)
		}
		k := frame.KindFromTag(part[0])
		if k == frame.KindUnknown {
			return nil, fmt.Errorf("unknown frame kind %q", part)
		}
		kinds = append(kinds, k)
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("no frame kinds selected")
	}
	return kinds, nil
}

// buildFrame encodes frame seq of kind with a ms timestamp.
func buildFrame(kind frame.Kind, seq int, ts int64) ([]byte, error) {
	switch kind {
	case frame.KindColorImage:
		return frame.AppendColorImage(nil, ts, gradient(artifact.ColorGeometry.Size(), seq))
	case frame.KindStereoPair:
		n := artifact.StereoGeometry.Size()
		return frame.AppendStereoPair(nil, ts, ts+1, gradient(n, seq), gradient(n, seq+128))
	case frame.KindTelemetry:
		return frame.AppendTelemetry(nil, fmt.Sprintf("seq=%d ts=%d", seq, ts)), nil
	default:
		return nil, fmt.Errorf("unsupported kind %s", kind)
	}
}

func gradient(n, seed int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i/7 + seed)
	}
	return out
}

func (s simulator) run(ctx context.Context, w io.Writer) (int, error) {
	clock := s.clock
	if clock == nil {
		clock = time.Now
	}
	sent := 0
	for seq := 0; s.count <= 0 || seq < s.count; seq++ {
		if err := ctx.Err(); err != nil {
			return sent, nil
		}
		kind := s.kinds[seq%len(s.kinds)]
		buf, err := buildFrame(kind, seq, clock().UnixMilli()+int64(seq))
		if err != nil {
			return sent, err
		}
		if err := writeChunked(w, buf, s.chunk); err != nil {
			return sent, fmt.Errorf("send %s frame %d: %w", kind, seq, err)
		}
		sent++
		log.Debug().Str("kind", kind.String()).Int("seq", seq).Int("bytes", len(buf)).Msg("frame sent")

		if s.interval > 0 {
			timer := time.NewTimer(s.interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return sent, nil
			case <-timer.C:
			}
		}
	}
	return sent, nil
}

func writeChunked(w io.Writer, buf []byte, chunk int) error {
	if chunk <= 0 {
		chunk = len(buf)
	}
	for off := 0; off < len(buf); off += chunk {
		end := min(off+chunk, len(buf))
		if _, err := w.Write(buf[off:end]); err != nil {
			return err
		}
	}
	return nil
}
