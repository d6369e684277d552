// Package artifact reshapes decoded frame payloads into image buffers
// and telemetry records ready for persistence.
package artifact

import (
	"errors"
	"fmt"
	"image"
	"strconv"

	"github.com/danmuck/sensorctl/internal/protocol/frame"
)

var (
	ErrGeometryMismatch = errors.New("artifact: payload does not match geometry")
	ErrUnknownKind      = errors.New("artifact: unknown frame kind")
)

// Geometry is the fixed row-major shape a payload must fill exactly.
type Geometry struct {
	Height   int
	Width    int
	Channels int
}

func (g Geometry) Size() int {
	return g.Height * g.Width * g.Channels
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%dx%d", g.Height, g.Width, g.Channels)
}

var (
	// ColorGeometry is the photo/video camera frame, BGRA 8-bit.
	ColorGeometry = Geometry{Height: 504, Width: 896, Channels: 4}
	// StereoGeometry is one visible-light tracking camera, 8-bit gray.
	StereoGeometry = Geometry{Height: 480, Width: 640, Channels: 1}
)

const (
	SubdirColor = "photovideo"
	SubdirLeft  = "leftfront"
	SubdirRight = "rightfront"

	SuffixColor = "PV"
	SuffixLeft  = "LF"
	SuffixRight = "RF"
)

// Artifact is the reconstructed, persistable result of one frame.
type Artifact struct {
	Kind           frame.Kind
	Timestamp      int64
	TimestampRight int64
	Color          *image.NRGBA
	Left           *image.Gray
	Right          *image.Gray
	Text           string
}

// File is one raster an artifact expands to on disk.
type File struct {
	Subdir    string
	Stem      string
	Timestamp int64
	Image     image.Image
}

// Files lists the rasters to write. Telemetry has none.
func (a Artifact) Files() []File {
	switch a.Kind {
	case frame.KindColorImage:
		return []File{{
			Subdir:    SubdirColor,
			Stem:      stem(a.Timestamp, SuffixColor),
			Timestamp: a.Timestamp,
			Image:     a.Color,
		}}
	case frame.KindStereoPair:
		return []File{
			{Subdir: SubdirLeft, Stem: stem(a.Timestamp, SuffixLeft), Timestamp: a.Timestamp, Image: a.Left},
			{Subdir: SubdirRight, Stem: stem(a.TimestampRight, SuffixRight), Timestamp: a.TimestampRight, Image: a.Right},
		}
	default:
		return nil
	}
}

func stem(ts int64, suffix string) string {
	return strconv.FormatInt(ts, 10) + "_" + suffix
}

// Reconstruct validates payload geometry and copies it into owned image
// buffers, so the artifact outlives the receive window it came from.
func Reconstruct(f frame.Frame) (Artifact, error) {
	switch f.Kind {
	case frame.KindColorImage:
		if err := checkGeometry(ColorGeometry, len(f.Payload)); err != nil {
			return Artifact{}, err
		}
		return Artifact{
			Kind:      frame.KindColorImage,
			Timestamp: f.Timestamp,
			Color:     colorFromBGRA(f.Payload),
		}, nil
	case frame.KindStereoPair:
		if err := checkGeometry(StereoGeometry, len(f.Left)); err != nil {
			return Artifact{}, fmt.Errorf("left: %w", err)
		}
		if err := checkGeometry(StereoGeometry, len(f.Right)); err != nil {
			return Artifact{}, fmt.Errorf("right: %w", err)
		}
		return Artifact{
			Kind:           frame.KindStereoPair,
			Timestamp:      f.Timestamp,
			TimestampRight: f.TimestampRight,
			Left:           grayFrom(f.Left),
			Right:          grayFrom(f.Right),
		}, nil
	case frame.KindTelemetry:
		return Artifact{Kind: frame.KindTelemetry, Text: f.Text}, nil
	default:
		return Artifact{}, fmt.Errorf("%w: tag=%q", ErrUnknownKind, f.Tag)
	}
}

func checkGeometry(g Geometry, got int) error {
	if got != g.Size() {
		return fmt.Errorf("%w: got=%d want=%d (%s)", ErrGeometryMismatch, got, g.Size(), g)
	}
	return nil
}

// colorFromBGRA swaps blue and red so standard raster readers show the
// device colors. Alpha is kept unassociated and untouched.
func colorFromBGRA(src []byte) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, ColorGeometry.Width, ColorGeometry.Height))
	for i := 0; i+3 < len(src); i += 4 {
		img.Pix[i+0] = src[i+2]
		img.Pix[i+1] = src[i+1]
		img.Pix[i+2] = src[i+0]
		img.Pix[i+3] = src[i+3]
	}
	return img
}

// ColorBGRA returns img in device wire order.
func ColorBGRA(img *image.NRGBA) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*4)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i := 0; i+3 < len(row); i += 4 {
			out = append(out, row[i+2], row[i+1], row[i+0], row[i+3])
		}
	}
	return out
}

func grayFrom(src []byte) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, StereoGeometry.Width, StereoGeometry.Height))
	copy(img.Pix, src)
	return img
}
