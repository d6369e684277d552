package sink

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// ManifestName is the CBOR sequence (RFC 8742) of written files.
const ManifestName = "manifest.cbor"

// Digest is the BLAKE3-256 of a written file.
type Digest [32]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ManifestEntry records one raster written by the sink.
type ManifestEntry struct {
	SessionID string `cbor:"session_id"`
	Kind      string `cbor:"kind"`
	Timestamp int64  `cbor:"timestamp"`
	Path      string `cbor:"path"`
	Bytes     int64  `cbor:"bytes"`
	BLAKE3    Digest `cbor:"blake3"`
	WrittenAt int64  `cbor:"written_at_ms"`
}

var manifestEncMode cbor.EncMode

func init() {
	var err error
	manifestEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("sink: CBOR encoder initialization failed: " + err.Error())
	}
}

type manifestWriter struct {
	mu   sync.Mutex
	path string
}

func (m *manifestWriter) append(entry ManifestEntry) error {
	raw, err := manifestEncMode.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode manifest entry: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	return f.Close()
}

// ReadManifest decodes every entry under root. A missing manifest is empty.
func ReadManifest(root string) ([]ManifestEntry, error) {
	f, err := os.Open(filepath.Join(root, ManifestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	dec := cbor.NewDecoder(f)
	var out []ManifestEntry
	for {
		var entry ManifestEntry
		if err := dec.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("decode manifest entry %d: %w", len(out), err)
		}
		out = append(out, entry)
	}
}
