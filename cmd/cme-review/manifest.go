package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fpang/cme-video-review/internal/pipeline"
	"github.com/fpang/cme-video-review/internal/record"
)

// Manifest lists the declared tests of one recorded session.
type Manifest struct {
	SessionID     string                `json:"session_id"`
	VideoKey      string                `json:"video_s3_key"`
	Bucket        string                `json:"bucket,omitempty"`
	DeclaredTests []record.DeclaredTest `json:"declared_tests"`
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return parseManifest(data)
}

func parseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.SessionID == "" || m.VideoKey == "" {
		return nil, fmt.Errorf("manifest needs session_id and video_s3_key")
	}
	if len(m.DeclaredTests) == 0 {
		return nil, fmt.Errorf("manifest for session %s declares no tests", m.SessionID)
	}
	return &m, nil
}

// Requests fans the manifest out into one pipeline request per test.
func (m *Manifest) Requests() []pipeline.Request {
	reqs := make([]pipeline.Request, len(m.DeclaredTests))
	for i, t := range m.DeclaredTests {
		reqs[i] = pipeline.Request{
			SessionID: m.SessionID,
			VideoKey:  m.VideoKey,
			Bucket:    m.Bucket,
			Test:      t,
		}
	}
	return reqs
}
