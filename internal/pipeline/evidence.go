package pipeline

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/klauspost/compress/zstd"

	"github.com/fpang/cme-video-review/internal/vision"
)

// EvidenceArchive is the raw vision output kept next to a verdict so a
// reviewer can re-check it later. It is stored as zstd-compressed JSON.
type EvidenceArchive struct {
	SessionID      string          `json:"session_id"`
	DeclaredStepID string          `json:"declared_step_id"`
	TestType       string          `json:"test_type"`
	SegmentKey     string          `json:"segment_key"`
	Motion         vision.AsyncJob `json:"motion"`
	Pose           vision.AsyncJob `json:"pose"`
}

// EvidenceKey builds the blob key for a step's evidence archive.
func EvidenceKey(prefix, sessionID, stepID string) string {
	return path.Join(prefix, sessionID, stepID+".json.zst")
}

type evidenceCodec struct {
	enc *zstd.Encoder
}

func newEvidenceCodec(level int) (*evidenceCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &evidenceCodec{enc: enc}, nil
}

func (c *evidenceCodec) encode(a *EvidenceArchive) ([]byte, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal evidence: %w", err)
	}
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

// DecodeEvidence reverses the archive encoding.
func DecodeEvidence(data []byte) (*EvidenceArchive, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress evidence: %w", err)
	}
	var a EvidenceArchive
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("unmarshal evidence: %w", err)
	}
	return &a, nil
}
