package ingest

import (
	"sync"
	"time"

	"github.com/danmuck/sensorctl/internal/protocol/frame"
)

// State is the session lifecycle phase.
type State int32

const (
	StateListening State = iota
	StateAccepted
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateAccepted:
		return "accepted"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stats is a point-in-time snapshot of one session.
type Stats struct {
	SessionID          string      `json:"session_id"`
	State              State       `json:"state"`
	RemoteAddr         string      `json:"remote_addr,omitempty"`
	StartedAt          time.Time   `json:"started_at"`
	ConnectedAt        time.Time   `json:"connected_at,omitempty"`
	LastFrameAt        time.Time   `json:"last_frame_at,omitempty"`
	CloseReason        CloseReason `json:"close_reason,omitempty"`
	BytesReceived      uint64      `json:"bytes_received"`
	Reads              uint64      `json:"reads"`
	EmptyReads         uint64      `json:"empty_reads"`
	BufferedBytes      int         `json:"buffered_bytes"`
	ColorFrames        uint64      `json:"color_frames"`
	StereoFrames       uint64      `json:"stereo_frames"`
	TelemetryFrames    uint64      `json:"telemetry_frames"`
	Skipped            uint64      `json:"skipped"`
	Truncated          uint64      `json:"truncated"`
	Malformed          uint64      `json:"malformed"`
	GeometryMismatches uint64      `json:"geometry_mismatches"`
	TooLarge           uint64      `json:"too_large"`
	PersistFailures    uint64      `json:"persist_failures"`
	FilesWritten       uint64      `json:"files_written"`
}

// counters guards Stats; the admin surface reads it off the loop goroutine.
type counters struct {
	mu sync.Mutex
	s  Stats
}

func (c *counters) update(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.s)
	c.mu.Unlock()
}

func (c *counters) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

func (c *counters) countFrame(kind frame.Kind, at time.Time) {
	c.update(func(s *Stats) {
		switch kind {
		case frame.KindColorImage:
			s.ColorFrames++
		case frame.KindStereoPair:
			s.StereoFrames++
		case frame.KindTelemetry:
			s.TelemetryFrames++
		}
		s.LastFrameAt = at
	})
}
