package sink

import (
	"bytes"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/sensorctl/internal/artifact"
	"github.com/danmuck/sensorctl/internal/protocol/frame"
	"github.com/danmuck/sensorctl/internal/testutil/testlog"
	"github.com/zeebo/blake3"
)

func colorArtifact(t *testing.T, ts int64, seed byte) (artifact.Artifact, []byte) {
	t.Helper()
	payload := make([]byte, artifact.ColorGeometry.Size())
	for i := range payload {
		payload[i] = byte(i) ^ seed
	}
	buf, err := frame.AppendColorImage(nil, ts, payload)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	f, _, err := frame.Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	a, err := artifact.Reconstruct(f)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	return a, payload
}

func stereoArtifact(t *testing.T, tsLeft, tsRight int64) (artifact.Artifact, []byte, []byte) {
	t.Helper()
	left := bytes.Repeat([]byte{0x11, 0x80}, artifact.StereoGeometry.Size()/2)
	right := bytes.Repeat([]byte{0xfe, 0x00}, artifact.StereoGeometry.Size()/2)
	buf, err := frame.AppendStereoPair(nil, tsLeft, tsRight, left, right)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	f, _, err := frame.Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	a, err := artifact.Reconstruct(f)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	return a, left, right
}

func newSink(t *testing.T, format Format, manifest bool) *Sink {
	t.Helper()
	s, err := New(Config{Root: filepath.Join(t.TempDir(), "data"), Format: format, Manifest: manifest})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	return s
}

func TestPersistColorRoundTripTIFF(t *testing.T) {
	testlog.Start(t)
	s := newSink(t, FormatTIFF, false)
	a, payload := colorArtifact(t, 1700000000001, 0x5a)

	paths, err := s.Persist(a)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	want := filepath.Join(s.Root(), "photovideo", "1700000000001_PV.tiff")
	if len(paths) != 1 || paths[0] != want {
		t.Fatalf("unexpected paths: %v", paths)
	}
	img, err := ReadImage(paths[0])
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		t.Fatalf("unexpected decoded type %T", img)
	}
	if !bytes.Equal(nrgba.Pix, a.Color.Pix) {
		t.Fatalf("pixel buffer did not round trip")
	}
	if !bytes.Equal(artifact.ColorBGRA(nrgba), payload) {
		t.Fatalf("wire payload did not round trip")
	}
}

func TestPersistColorRoundTripPNG(t *testing.T) {
	testlog.Start(t)
	s := newSink(t, FormatPNG, false)
	a, _ := colorArtifact(t, 9, 0x01)
	paths, err := s.Persist(a)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if filepath.Ext(paths[0]) != ".png" {
		t.Fatalf("unexpected ext: %s", paths[0])
	}
	img, err := ReadImage(paths[0])
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	nrgba, ok := img.(*image.NRGBA)
	if !ok || !bytes.Equal(nrgba.Pix, a.Color.Pix) {
		t.Fatalf("png pixel buffer did not round trip (%T)", img)
	}
}

func TestPersistStereoWritesLeftAndRight(t *testing.T) {
	testlog.Start(t)
	s := newSink(t, FormatTIFF, false)
	a, left, right := stereoArtifact(t, 20, 21)
	paths, err := s.Persist(a)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("unexpected paths: %v", paths)
	}
	if paths[0] != filepath.Join(s.Root(), "leftfront", "20_LF.tiff") || paths[1] != filepath.Join(s.Root(), "rightfront", "21_RF.tiff") {
		t.Fatalf("unexpected paths: %v", paths)
	}
	for i, want := range [][]byte{left, right} {
		img, err := ReadImage(paths[i])
		if err != nil {
			t.Fatalf("read back %s: %v", paths[i], err)
		}
		gray, ok := img.(*image.Gray)
		if !ok || !bytes.Equal(gray.Pix, want) {
			t.Fatalf("stereo half %d did not round trip (%T)", i, img)
		}
	}
}

func TestPersistDuplicateTimestampOverwrites(t *testing.T) {
	testlog.Start(t)
	s := newSink(t, FormatTIFF, false)
	first, _ := colorArtifact(t, 77, 0x00)
	second, _ := colorArtifact(t, 77, 0xff)
	if _, err := s.Persist(first); err != nil {
		t.Fatalf("persist first: %v", err)
	}
	paths, err := s.Persist(second)
	if err != nil {
		t.Fatalf("persist second: %v", err)
	}
	img, err := ReadImage(paths[0])
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(img.(*image.NRGBA).Pix, second.Color.Pix) {
		t.Fatalf("second write did not replace the first")
	}
	entries, err := os.ReadDir(filepath.Join(s.Root(), "photovideo"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one file, got %d", len(entries))
	}
}

func TestPersistRecreatesRemovedSubdir(t *testing.T) {
	testlog.Start(t)
	s := newSink(t, FormatTIFF, false)
	first, _ := colorArtifact(t, 1, 0x10)
	if _, err := s.Persist(first); err != nil {
		t.Fatalf("persist first: %v", err)
	}
	if err := os.RemoveAll(filepath.Join(s.Root(), "photovideo")); err != nil {
		t.Fatalf("remove subdir: %v", err)
	}
	second, _ := colorArtifact(t, 2, 0x20)
	paths, err := s.Persist(second)
	if err != nil {
		t.Fatalf("persist after removal: %v", err)
	}
	img, err := ReadImage(paths[0])
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(img.(*image.NRGBA).Pix, second.Color.Pix) {
		t.Fatalf("recreated file did not round trip")
	}
}

func TestPersistTelemetryWritesNothing(t *testing.T) {
	testlog.Start(t)
	s := newSink(t, FormatTIFF, true)
	paths, err := s.Persist(artifact.Artifact{Kind: frame.KindTelemetry, Text: "hello"})
	if err != nil || paths != nil {
		t.Fatalf("telemetry must not persist: paths=%v err=%v", paths, err)
	}
	entries, err := os.ReadDir(s.Root())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("unexpected files under root: %d", len(entries))
	}
}

func TestPersistFailureWrapsErrPersist(t *testing.T) {
	testlog.Start(t)
	s := newSink(t, FormatTIFF, false)
	// a regular file where the subdirectory should go
	if err := os.WriteFile(filepath.Join(s.Root(), "photovideo"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed blocker: %v", err)
	}
	a, _ := colorArtifact(t, 1, 0)
	if _, err := s.Persist(a); !errors.Is(err, ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}
}

func TestManifestRecordsDigest(t *testing.T) {
	testlog.Start(t)
	s := newSink(t, FormatTIFF, true).ForSession("session-1")
	a, _, _ := stereoArtifact(t, 30, 31)
	paths, err := s.Persist(a)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	entries, err := ReadManifest(s.Root())
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("unexpected manifest entries: %+v", entries)
	}
	for i, entry := range entries {
		raw, err := os.ReadFile(paths[i])
		if err != nil {
			t.Fatalf("read %s: %v", paths[i], err)
		}
		if entry.BLAKE3 != Digest(blake3.Sum256(raw)) {
			t.Fatalf("digest mismatch for %s", entry.Path)
		}
		if entry.Bytes != int64(len(raw)) {
			t.Fatalf("size mismatch for %s: %d != %d", entry.Path, entry.Bytes, len(raw))
		}
		if entry.SessionID != "session-1" || entry.Kind != "stereo_pair" {
			t.Fatalf("unexpected entry: %+v", entry)
		}
	}
	if entries[0].Path != "leftfront/30_LF.tiff" || entries[1].Timestamp != 31 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestReadManifestMissing(t *testing.T) {
	testlog.Start(t)
	entries, err := ReadManifest(t.TempDir())
	if err != nil || entries != nil {
		t.Fatalf("missing manifest should be empty: %v %v", entries, err)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("TIF"); err != nil || f != FormatTIFF {
		t.Fatalf("unexpected tif parse: %v %v", f, err)
	}
	if _, err := ParseFormat("jpeg"); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("lossy formats must be rejected, got %v", err)
	}
}
