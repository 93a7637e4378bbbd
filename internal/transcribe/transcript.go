package transcribe

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Transcript is the JSON document AWS Transcribe Medical writes on
// completion.
type Transcript struct {
	JobName   string  `json:"jobName"`
	AccountID string  `json:"accountId,omitempty"`
	Status    string  `json:"status,omitempty"`
	Results   Results `json:"results"`
}

// Results holds the full text and the per-token items.
type Results struct {
	Transcripts []struct {
		Transcript string `json:"transcript"`
	} `json:"transcripts"`
	Items []Item `json:"items"`
}

// Item is one recognised token. Times are seconds encoded as strings and are
// absent for punctuation.
type Item struct {
	StartTime    string        `json:"start_time,omitempty"`
	EndTime      string        `json:"end_time,omitempty"`
	Type         string        `json:"type"`
	Alternatives []Alternative `json:"alternatives"`
}

// Alternative is a candidate reading of an item.
type Alternative struct {
	Confidence string `json:"confidence"`
	Content    string `json:"content"`
}

// ParseTranscript decodes a transcript document.
func ParseTranscript(data []byte) (*Transcript, error) {
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}
	return &t, nil
}

// Text joins the transcript strings.
func (t *Transcript) Text() string {
	parts := make([]string, 0, len(t.Results.Transcripts))
	for _, tr := range t.Results.Transcripts {
		parts = append(parts, tr.Transcript)
	}
	return strings.Join(parts, " ")
}

// Start returns the start time of the item in seconds. ok is false for
// punctuation and malformed times.
func (i Item) Start() (seconds float64, ok bool) {
	if i.StartTime == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(i.StartTime, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Content returns the best alternative's text.
func (i Item) Content() string {
	if len(i.Alternatives) == 0 {
		return ""
	}
	return i.Alternatives[0].Content
}
