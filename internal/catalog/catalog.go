// Package catalog holds the motion expectation catalog: the static mapping
// from a clinical test type (e.g. "straight_leg_raise") to the movement
// vocabulary the vision service is expected to report for it.
//
// A Catalog is built once at cold start and is read-only afterwards, so a
// single instance is shared by every concurrent pipeline invocation.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// TestExpectation describes what a declared test should look like on video.
type TestExpectation struct {
	ExpectedMovements     []string `yaml:"expected_movements" json:"expected_movements"`
	PatientMotionRequired bool     `yaml:"patient_motion_required" json:"patient_motion_required"`
	ExaminerTouchRequired bool     `yaml:"examiner_touch_required" json:"examiner_touch_required"`
	Description           string   `yaml:"description" json:"description"`
}

// Catalog is an immutable lookup table of test expectations keyed by test type.
type Catalog struct {
	entries map[string]TestExpectation
}

// defaultEntries is the reference clinical vocabulary.
var defaultEntries = map[string]TestExpectation{
	"lumbar_rom": {
		ExpectedMovements:     []string{"forward_bend", "backward_bend", "lateral_bend", "rotation"},
		PatientMotionRequired: true,
		Description:           "Patient should bend forward, backward, and side-to-side",
	},
	"straight_leg_raise": {
		ExpectedMovements:     []string{"leg_raise", "hip_flexion"},
		PatientMotionRequired: true,
		ExaminerTouchRequired: true,
		Description:           "Examiner raises patient's leg while patient lies supine",
	},
	"cervical_rom": {
		ExpectedMovements:     []string{"head_rotation", "head_flexion", "head_extension"},
		PatientMotionRequired: true,
		Description:           "Patient rotates and flexes neck in various directions",
	},
	"gait": {
		ExpectedMovements:     []string{"walking", "heel_to_toe", "standing"},
		PatientMotionRequired: true,
		Description:           "Patient walks normally and performs heel-to-toe walking",
	},
	"neurological": {
		ExpectedMovements:     []string{"limb_movement", "reflex_test"},
		ExaminerTouchRequired: true,
		Description:           "Examiner tests reflexes using reflex hammer",
	},
	"palpation": {
		ExpectedMovements:     []string{"examiner_hand_movement"},
		ExaminerTouchRequired: true,
		Description:           "Examiner presses along spine or affected area",
	},
	"spine": {
		ExpectedMovements:     []string{"examiner_hand_movement", "visual_inspection"},
		ExaminerTouchRequired: true,
		Description:           "Examiner inspects and palpates spine",
	},
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return New(defaultEntries)
}

// New builds a catalog from the given entries. The map and the movement
// slices are copied so later mutation by the caller has no effect.
func New(entries map[string]TestExpectation) *Catalog {
	c := &Catalog{entries: make(map[string]TestExpectation, len(entries))}
	for k, v := range entries {
		v.ExpectedMovements = append([]string(nil), v.ExpectedMovements...)
		c.entries[k] = v
	}
	return c
}

// Load parses a catalog override document. YAML and JSON are both accepted:
//
//	gait:
//	  expected_movements: [walking, standing]
//	  patient_motion_required: true
//
// Unknown keys and entries without expected_movements are rejected.
func Load(data []byte) (*Catalog, error) {
	var entries map[string]TestExpectation
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&entries); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("parse catalog: no test types defined")
	}
	for name, e := range entries {
		if name == "" {
			return nil, fmt.Errorf("parse catalog: empty test type key")
		}
		if len(e.ExpectedMovements) == 0 {
			return nil, fmt.Errorf("parse catalog: %s has no expected_movements", name)
		}
	}
	return New(entries), nil
}

// Lookup returns the expectation for testType. The returned value carries its
// own copy of ExpectedMovements.
func (c *Catalog) Lookup(testType string) (TestExpectation, bool) {
	e, ok := c.entries[testType]
	if !ok {
		return TestExpectation{}, false
	}
	e.ExpectedMovements = append([]string(nil), e.ExpectedMovements...)
	return e, true
}

// Types lists the known test types in sorted order.
func (c *Catalog) Types() []string {
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
