package frame

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// AppendColorImage appends a 'p' frame carrying pixels to dst.
func AppendColorImage(dst []byte, ts int64, pixels []byte) ([]byte, error) {
	if len(pixels) > math.MaxInt32 {
		return dst, fmt.Errorf("%w: length=%d", ErrInvalidLength, len(pixels))
	}
	dst = append(dst, TagColorImage)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(pixels)))
	dst = binary.BigEndian.AppendUint64(dst, uint64(ts))
	return append(dst, pixels...), nil
}

// AppendStereoPair appends an 'f' frame. The declared length covers both
// halves, left first.
func AppendStereoPair(dst []byte, tsLeft, tsRight int64, left, right []byte) ([]byte, error) {
	n := len(left) + len(right)
	if n > math.MaxInt32 {
		return dst, fmt.Errorf("%w: length=%d", ErrInvalidLength, n)
	}
	dst = append(dst, TagStereoPair)
	dst = binary.BigEndian.AppendUint32(dst, uint32(n))
	dst = binary.BigEndian.AppendUint64(dst, uint64(tsLeft))
	dst = binary.BigEndian.AppendUint64(dst, uint64(tsRight))
	dst = append(dst, left...)
	return append(dst, right...), nil
}

// AppendTelemetry appends an 'm' frame. Telemetry has no length prefix.
func AppendTelemetry(dst []byte, text string) []byte {
	dst = append(dst, TagTelemetry)
	return append(dst, text...)
}

func WriteColorImage(w io.Writer, ts int64, pixels []byte) error {
	buf, err := AppendColorImage(make([]byte, 0, ColorHeaderLen+len(pixels)), ts, pixels)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func WriteStereoPair(w io.Writer, tsLeft, tsRight int64, left, right []byte) error {
	buf, err := AppendStereoPair(make([]byte, 0, StereoHeaderLen+len(left)+len(right)), tsLeft, tsRight, left, right)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func WriteTelemetry(w io.Writer, text string) error {
	_, err := w.Write(AppendTelemetry(nil, text))
	return err
}
