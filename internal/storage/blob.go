package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"

	"github.com/bugledger/bugledger/internal/report"
)

// Blob layout: 1 flag byte (0 raw, 1 lz4), 4-byte little-endian
// uncompressed length, payload. Incompressible payloads are stored raw
// so decoding never depends on lz4 succeeding.
const (
	blobFlagRaw   = 0
	blobFlagLZ4   = 1
	blobHeaderLen = 5
)

// ErrCorruptBlob indicates a bug-path blob that cannot be decoded.
var ErrCorruptBlob = errors.New("corrupt bug-path blob")

// pathPayload is the per-report detail persisted out of row columns:
// the full bug path, suppression annotations, and ingest warnings.
type pathPayload struct {
	BugPath     []report.BugPathEvent          `json:"bugPath"`
	Annotations []report.SuppressionAnnotation `json:"annotations,omitempty"`
	Warnings    []string                       `json:"warnings,omitempty"`
}

// encodeBugPath serializes and lz4-compresses a report's path payload.
func encodeBugPath(rep *report.Report) ([]byte, error) {
	raw, err := json.Marshal(pathPayload{
		BugPath:     rep.BugPath,
		Annotations: rep.Annotations,
		Warnings:    rep.Warnings,
	})
	if err != nil {
		return nil, fmt.Errorf("encode bug path: %w", err)
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))

	written, compressErr := lz4.CompressBlock(raw, compressed, nil)
	if compressErr != nil || written == 0 || written >= len(raw) {
		// Store raw when compression fails or does not pay off.
		blob := make([]byte, blobHeaderLen+len(raw))
		blob[0] = blobFlagRaw
		binary.LittleEndian.PutUint32(blob[1:blobHeaderLen], uint32(len(raw)))
		copy(blob[blobHeaderLen:], raw)

		return blob, nil
	}

	blob := make([]byte, blobHeaderLen+written)
	blob[0] = blobFlagLZ4
	binary.LittleEndian.PutUint32(blob[1:blobHeaderLen], uint32(len(raw)))
	copy(blob[blobHeaderLen:], compressed[:written])

	return blob, nil
}

// decodeBugPath restores a path payload into the report.
func decodeBugPath(blob []byte, rep *report.Report) error {
	if len(blob) < blobHeaderLen {
		return ErrCorruptBlob
	}

	size := binary.LittleEndian.Uint32(blob[1:blobHeaderLen])
	payload := blob[blobHeaderLen:]

	var raw []byte

	switch blob[0] {
	case blobFlagRaw:
		raw = payload
	case blobFlagLZ4:
		raw = make([]byte, size)

		_, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptBlob, err)
		}
	default:
		return ErrCorruptBlob
	}

	var decoded pathPayload

	err := json.Unmarshal(raw, &decoded)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptBlob, err)
	}

	rep.BugPath = decoded.BugPath
	rep.Annotations = decoded.Annotations
	rep.Warnings = decoded.Warnings

	return nil
}
