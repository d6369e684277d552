package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

const (
	TagColorImage byte = 'p'
	TagStereoPair byte = 'f'
	TagTelemetry  byte = 'm'

	// tag + int32 length + int64 timestamp
	ColorHeaderLen = 13
	// tag + int32 length + int64 left timestamp + int64 right timestamp
	StereoHeaderLen = 21
)

var (
	ErrEmptyBuffer     = errors.New("frame: empty buffer")
	ErrTruncated       = errors.New("frame: truncated frame")
	ErrInvalidLength   = errors.New("frame: invalid declared length")
	ErrOddLength       = errors.New("frame: stereo length must be even")
	ErrInvalidEncoding = errors.New("frame: telemetry is not valid utf-8")
	ErrFrameTooLarge   = errors.New("frame: declared frame exceeds window")
)

// Kind is the closed set of frame variants carried on the wire.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindColorImage
	KindStereoPair
	KindTelemetry
)

func KindFromTag(tag byte) Kind {
	switch tag {
	case TagColorImage:
		return KindColorImage
	case TagStereoPair:
		return KindStereoPair
	case TagTelemetry:
		return KindTelemetry
	default:
		return KindUnknown
	}
}

func (k Kind) Tag() byte {
	switch k {
	case KindColorImage:
		return TagColorImage
	case KindStereoPair:
		return TagStereoPair
	case KindTelemetry:
		return TagTelemetry
	default:
		return 0
	}
}

func (k Kind) String() string {
	switch k {
	case KindColorImage:
		return "color_image"
	case KindStereoPair:
		return "stereo_pair"
	case KindTelemetry:
		return "telemetry"
	default:
		return "unknown"
	}
}

// Frame is one decoded wire frame. Byte slices alias the decode buffer
// and are only valid until the caller reuses it.
type Frame struct {
	Kind           Kind
	Tag            byte
	Length         int32
	Timestamp      int64
	TimestampRight int64
	Payload        []byte
	Left           []byte
	Right          []byte
	Text           string
}

// Skipped reports whether the frame carried an unrecognized tag.
func (f Frame) Skipped() bool {
	return f.Kind == KindUnknown
}

// Decode reads one frame from the front of buf and returns the number
// of bytes it spans. Unknown tags and telemetry own the whole buffer
// because neither declares a length.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) == 0 {
		return Frame{}, 0, ErrEmptyBuffer
	}
	tag := buf[0]
	switch KindFromTag(tag) {
	case KindColorImage:
		return decodeColor(buf)
	case KindStereoPair:
		return decodeStereo(buf)
	case KindTelemetry:
		return decodeTelemetry(buf)
	default:
		return Frame{Kind: KindUnknown, Tag: tag}, len(buf), nil
	}
}

// Need returns the total size the frame at the front of buf declares.
// ok is false when the header is not complete yet or the tag carries no
// length.
func Need(buf []byte) (int, bool) {
	if len(buf) == 0 {
		return 0, false
	}
	var headerLen int
	switch KindFromTag(buf[0]) {
	case KindColorImage:
		headerLen = ColorHeaderLen
	case KindStereoPair:
		headerLen = StereoHeaderLen
	default:
		return 0, false
	}
	if len(buf) < 5 {
		return 0, false
	}
	n := int32(binary.BigEndian.Uint32(buf[1:5]))
	if n < 0 {
		return 0, false
	}
	return headerLen + int(n), true
}

func decodeColor(buf []byte) (Frame, int, error) {
	if len(buf) < ColorHeaderLen {
		return Frame{}, 0, truncated(ColorHeaderLen, len(buf))
	}
	n, err := declaredLength(buf)
	if err != nil {
		return Frame{}, 0, err
	}
	total := ColorHeaderLen + int(n)
	if len(buf) < total {
		return Frame{}, 0, truncated(total, len(buf))
	}
	return Frame{
		Kind:      KindColorImage,
		Tag:       TagColorImage,
		Length:    n,
		Timestamp: int64(binary.BigEndian.Uint64(buf[5:13])),
		Payload:   buf[ColorHeaderLen:total],
	}, total, nil
}

func decodeStereo(buf []byte) (Frame, int, error) {
	if len(buf) < StereoHeaderLen {
		return Frame{}, 0, truncated(StereoHeaderLen, len(buf))
	}
	n, err := declaredLength(buf)
	if err != nil {
		return Frame{}, 0, err
	}
	total := StereoHeaderLen + int(n)
	if n%2 != 0 {
		return Frame{}, 0, fmt.Errorf("%w: length=%d", ErrOddLength, n)
	}
	if len(buf) < total {
		return Frame{}, 0, truncated(total, len(buf))
	}
	payload := buf[StereoHeaderLen:total]
	half := int(n) / 2
	return Frame{
		Kind:           KindStereoPair,
		Tag:            TagStereoPair,
		Length:         n,
		Timestamp:      int64(binary.BigEndian.Uint64(buf[5:13])),
		TimestampRight: int64(binary.BigEndian.Uint64(buf[13:21])),
		Payload:        payload,
		Left:           payload[:half:half],
		Right:          payload[half:],
	}, total, nil
}

func decodeTelemetry(buf []byte) (Frame, int, error) {
	body := buf[1:]
	if !utf8.Valid(body) {
		return Frame{}, len(buf), ErrInvalidEncoding
	}
	return Frame{
		Kind:    KindTelemetry,
		Tag:     TagTelemetry,
		Length:  int32(min(len(body), math.MaxInt32)),
		Payload: body,
		Text:    string(body),
	}, len(buf), nil
}

func declaredLength(buf []byte) (int32, error) {
	n := int32(binary.BigEndian.Uint32(buf[1:5]))
	if n < 0 {
		return 0, fmt.Errorf("%w: length=%d", ErrInvalidLength, n)
	}
	return n, nil
}

func truncated(need, have int) error {
	return fmt.Errorf("%w: need=%d have=%d", ErrTruncated, need, have)
}
