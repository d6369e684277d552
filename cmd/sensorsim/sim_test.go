package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/danmuck/sensorctl/internal/artifact"
	"github.com/danmuck/sensorctl/internal/protocol/frame"
)

type recordingWriter struct {
	bytes.Buffer
	writes int
}

func (r *recordingWriter) Write(p []byte) (int, error) {
	r.writes++
	return r.Buffer.Write(p)
}

func TestParseKinds(t *testing.T) {
	kinds, err := parseKinds(" p, f ,m")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(kinds) != 3 || kinds[0] != frame.KindColorImage || kinds[2] != frame.KindTelemetry {
		t.Fatalf("unexpected kinds: %v", kinds)
	}
	for _, bad := range []string{"", "x", "pp"} {
		if _, err := parseKinds(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestSimulatorSendsDecodableFrames(t *testing.T) {
	fixed := time.UnixMilli(1000)
	sim := simulator{
		kinds: []frame.Kind{frame.KindColorImage, frame.KindStereoPair, frame.KindTelemetry},
		count: 2,
		chunk: 65536,
		clock: func() time.Time { return fixed },
	}
	var w recordingWriter
	sent, err := sim.run(context.Background(), &w)
	if err != nil || sent != 2 {
		t.Fatalf("run: sent=%d err=%v", sent, err)
	}

	colorLen := frame.ColorHeaderLen + artifact.ColorGeometry.Size()
	if w.writes != (colorLen+65535)/65536+(frame.StereoHeaderLen+2*artifact.StereoGeometry.Size()+65535)/65536 {
		t.Fatalf("frames not chunked: %d writes", w.writes)
	}

	buf := w.Bytes()
	f, n, err := frame.Decode(buf)
	if err != nil || f.Kind != frame.KindColorImage || f.Timestamp != 1000 {
		t.Fatalf("unexpected first frame: %+v err=%v", f.Kind, err)
	}
	if _, err := artifact.Reconstruct(f); err != nil {
		t.Fatalf("color frame geometry: %v", err)
	}
	f, _, err = frame.Decode(buf[n:])
	if err != nil || f.Kind != frame.KindStereoPair || f.Timestamp != 1001 || f.TimestampRight != 1002 {
		t.Fatalf("unexpected second frame: %+v err=%v", f.Kind, err)
	}
	if _, err := artifact.Reconstruct(f); err != nil {
		t.Fatalf("stereo frame geometry: %v", err)
	}
}

func TestSimulatorStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sim := simulator{kinds: []frame.Kind{frame.KindTelemetry}, count: 0}
	var w recordingWriter
	if sent, err := sim.run(ctx, &w); err != nil || sent != 0 {
		t.Fatalf("cancelled run: sent=%d err=%v", sent, err)
	}
}
