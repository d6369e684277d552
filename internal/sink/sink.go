// Package sink persists reconstructed artifacts under a data root.
//
// Layout:
//
//	{root}/photovideo/{ts}_PV.{ext}
//	{root}/leftfront/{ts}_LF.{ext}
//	{root}/rightfront/{ts}_RF.{ext}
//	{root}/manifest.cbor        (optional)
//
// Rasters are written losslessly so pixel values round-trip exactly.
package sink

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/sensorctl/internal/artifact"
	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"
	"golang.org/x/image/tiff"
)

var (
	ErrPersist       = errors.New("sink: persist failed")
	ErrInvalidFormat = errors.New("sink: invalid image format")
	ErrInvalidRoot   = errors.New("sink: invalid data root")
)

type Format string

const (
	FormatTIFF Format = "tiff"
	FormatPNG  Format = "png"
)

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatTIFF, "tif":
		return FormatTIFF, nil
	case FormatPNG:
		return FormatPNG, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, raw)
	}
}

func (f Format) Ext() string {
	return string(f)
}

type Config struct {
	Root     string
	Format   Format
	Manifest bool
}

func DefaultConfig() Config {
	return Config{
		Root:     "data",
		Format:   FormatTIFF,
		Manifest: true,
	}
}

// Sink writes artifacts. Copies made by ForSession share the manifest.
type Sink struct {
	root     string
	format   Format
	session  string
	manifest *manifestWriter
}

func New(cfg Config) (*Sink, error) {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return nil, ErrInvalidRoot
	}
	format, err := ParseFormat(string(cfg.Format))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create root %s: %v", ErrPersist, root, err)
	}
	s := &Sink{
		root:   root,
		format: format,
	}
	if cfg.Manifest {
		s.manifest = &manifestWriter{path: filepath.Join(root, ManifestName)}
	}
	return s, nil
}

func (s *Sink) Root() string {
	return s.root
}

func (s *Sink) Format() Format {
	return s.format
}

// ForSession returns a sink that tags manifest records with sessionID.
func (s *Sink) ForSession(sessionID string) *Sink {
	cp := *s
	cp.session = sessionID
	return &cp
}

// Persist writes every raster of a and returns the paths written.
// Telemetry is never written to disk.
func (s *Sink) Persist(a artifact.Artifact) ([]string, error) {
	files := a.Files()
	if len(files) == 0 {
		return nil, nil
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		if f.Image == nil {
			return paths, fmt.Errorf("%w: %s has no image", ErrPersist, f.Stem)
		}
		dir := filepath.Join(s.root, f.Subdir)
		if err := ensureDir(dir); err != nil {
			return paths, err
		}
		path := filepath.Join(dir, f.Stem+"."+s.format.Ext())
		size, digest, err := s.writeImage(path, f.Image)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
		if s.manifest != nil {
			entry := ManifestEntry{
				SessionID: s.session,
				Kind:      a.Kind.String(),
				Timestamp: f.Timestamp,
				Path:      filepath.ToSlash(filepath.Join(f.Subdir, filepath.Base(path))),
				Bytes:     size,
				BLAKE3:    digest,
				WrittenAt: time.Now().UnixMilli(),
			}
			if err := s.manifest.append(entry); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("manifest append failed")
			}
		}
	}
	return paths, nil
}

// ensureDir runs on every write so a subdirectory removed while the
// service runs is recreated.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrPersist, dir, err)
	}
	return nil
}

// writeImage encodes to a temp file in the target directory and renames
// it over path, so a repeated timestamp replaces the old file whole.
func (s *Sink) writeImage(path string, img image.Image) (int64, Digest, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return 0, Digest{}, fmt.Errorf("%w: create temp for %s: %v", ErrPersist, path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	hasher := blake3.New()
	counter := &countingWriter{}
	w := io.MultiWriter(tmp, hasher, counter)
	switch s.format {
	case FormatPNG:
		err = png.Encode(w, img)
	default:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Uncompressed})
	}
	if err != nil {
		cleanup()
		return 0, Digest{}, fmt.Errorf("%w: encode %s: %v", ErrPersist, path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, Digest{}, fmt.Errorf("%w: close %s: %v", ErrPersist, tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return 0, Digest{}, fmt.Errorf("%w: rename %s: %v", ErrPersist, path, err)
	}
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return counter.n, digest, nil
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// ReadImage decodes a persisted raster by extension.
func ReadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return png.Decode(f)
	case ".tif", ".tiff":
		return tiff.Decode(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, path)
	}
}
