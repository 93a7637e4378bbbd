package reconcile

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Policy holds the tuning knobs of the reconciliation. The defaults are the
// values the review team calibrated against; deployments override them via
// an SSM parameter or a YAML file rather than a code change.
type Policy struct {
	// PerformedRatio is the share of expected movements that must be matched
	// for the motion to count as performed.
	PerformedRatio float64 `yaml:"performed_ratio" json:"performed_ratio"`

	PerformedConfidence   float64 `yaml:"performed_confidence" json:"performed_confidence"`
	BriefConfidence       float64 `yaml:"brief_confidence" json:"brief_confidence"`
	NotObservedConfidence float64 `yaml:"not_observed_confidence" json:"not_observed_confidence"`

	// MinSubjects is the number of distinct people (examiner and patient)
	// that must be tracked for a pose match; below it confidence is capped
	// at InsufficientSubjectsCap.
	MinSubjects             int     `yaml:"min_subjects" json:"min_subjects"`
	InsufficientSubjectsCap float64 `yaml:"insufficient_subjects_cap" json:"insufficient_subjects_cap"`

	// MinLabelConfidence is the vision label score a label must exceed.
	MinLabelConfidence float64 `yaml:"min_label_confidence" json:"min_label_confidence"`
}

// DefaultPolicy returns the reference policy.
func DefaultPolicy() Policy {
	return Policy{
		PerformedRatio:          0.7,
		PerformedConfidence:     0.8,
		BriefConfidence:         0.5,
		NotObservedConfidence:   0.3,
		MinSubjects:             2,
		InsufficientSubjectsCap: 0.4,
		MinLabelConfidence:      60.0,
	}
}

// Validate checks that every knob is within its meaningful range.
func (p Policy) Validate() error {
	if !(p.PerformedRatio > 0 && p.PerformedRatio <= 1) {
		return fmt.Errorf("performed_ratio must be in (0, 1], got %v", p.PerformedRatio)
	}
	for name, v := range map[string]float64{
		"performed_confidence":      p.PerformedConfidence,
		"brief_confidence":          p.BriefConfidence,
		"not_observed_confidence":   p.NotObservedConfidence,
		"insufficient_subjects_cap": p.InsufficientSubjectsCap,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0, 1], got %v", name, v)
		}
	}
	if p.MinSubjects < 0 {
		return fmt.Errorf("min_subjects must be >= 0, got %d", p.MinSubjects)
	}
	if p.MinLabelConfidence < 0 || p.MinLabelConfidence > 100 {
		return fmt.Errorf("min_label_confidence must be in [0, 100], got %v", p.MinLabelConfidence)
	}
	return nil
}

// ParsePolicy overlays a YAML or JSON document onto the default policy, so
// a document may set only the knobs it wants to change. Keys are the
// snake_case field names; an unknown key is an error.
func ParsePolicy(data []byte) (Policy, error) {
	p := DefaultPolicy()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}
