package harness

import (
	"bytes"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/castplan/internal/model"
	"github.com/roach88/castplan/internal/store"
)

// Scenario defines an end-to-end convergence scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Fixture seeds the store before the flow starts.
	Fixture store.Fixture `yaml:"fixture"`

	// Group is the production group every step acts on.
	Group string `yaml:"group"`

	// Markers are handed out to runs in order. Defaults to gen-1, gen-2, ...
	Markers []string `yaml:"markers,omitempty"`

	Flow       []Step      `yaml:"flow"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one flow step. Exactly one field is set.
type Step struct {
	Run              *RunStep           `yaml:"run,omitempty"`
	Set              *model.GroupRecord `yaml:"set,omitempty"`
	Duplicate        string             `yaml:"duplicate,omitempty"`
	ConcurrentInsert *InsertStep        `yaml:"concurrent_insert,omitempty"`
}

// Step kinds, as they appear in traces.
const (
	StepRun              = "run"
	StepSet              = "set"
	StepDuplicate        = "duplicate"
	StepConcurrentInsert = "concurrent_insert"
)

// Kind names the step.
func (s Step) Kind() string {
	switch {
	case s.Run != nil:
		return StepRun
	case s.Set != nil:
		return StepSet
	case s.Duplicate != "":
		return StepDuplicate
	case s.ConcurrentInsert != nil:
		return StepConcurrentInsert
	}
	return ""
}

func (s Step) kinds() int {
	n := 0
	if s.Run != nil {
		n++
	}
	if s.Set != nil {
		n++
	}
	if s.Duplicate != "" {
		n++
	}
	if s.ConcurrentInsert != nil {
		n++
	}
	return n
}

// RunStep converges the group once.
type RunStep struct {
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is checked against one run. Unset counts are not checked. Error is
// the expected run error code (VALIDATION, GROUP_NOT_FOUND, ...); when it is
// empty the run must succeed.
type Expect struct {
	Created    *int   `yaml:"created,omitempty"`
	Updated    *int   `yaml:"updated,omitempty"`
	Deleted    *int   `yaml:"deleted,omitempty"`
	Failed     *int   `yaml:"failed,omitempty"`
	Redirected *int   `yaml:"redirected,omitempty"`
	Dropped    *int   `yaml:"dropped,omitempty"`
	Error      string `yaml:"error,omitempty"`
}

// InsertStep describes the record a concurrent writer inserts. It starts
// from the planned allocation for Key.
type InsertStep struct {
	Key string `yaml:"key"`
	// Marker defaults to "concurrent".
	Marker  string `yaml:"marker,omitempty"`
	Deleted bool   `yaml:"deleted,omitempty"`
	// Hours overrides the planned hours, making the record differ.
	Hours string `yaml:"hours,omitempty"`
}

func (s *InsertStep) marker() string {
	if s.Marker == "" {
		return "concurrent"
	}
	return s.Marker
}

// Assertion checks the final store state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Count is used by the count assertions.
	Count int `yaml:"count,omitempty"`

	// Marker is used by marker and key_state.
	Marker string `yaml:"marker,omitempty"`

	// Key and Deleted are used by key_state.
	Key     string `yaml:"key,omitempty"`
	Deleted *bool  `yaml:"deleted,omitempty"`
}

// Assertion type constants.
const (
	// AssertLiveCount counts records that are not soft-deleted.
	AssertLiveCount = "live_count"
	// AssertDeletedCount counts soft-deleted records.
	AssertDeletedCount = "deleted_count"
	// AssertMarker requires every stored record to carry Marker.
	AssertMarker = "marker"
	// AssertKeyState checks the single live-or-deleted record with Key.
	AssertKeyState = "key_state"
	// AssertUniqueKeys requires at most one live record per key.
	AssertUniqueKeys = "unique_keys"
	// AssertAuditCount counts audit entries of the group.
	AssertAuditCount = "audit_count"
	// AssertErrorCount counts error entries of the group.
	AssertErrorCount = "error_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so a typo cannot silently disable a check.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Group == "" {
		return fmt.Errorf("group is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	runs := 0
	for i, step := range s.Flow {
		if step.kinds() != 1 {
			return fmt.Errorf("flow[%d]: exactly one of run, set, duplicate, concurrent_insert is required", i)
		}
		if step.Run != nil {
			runs++
		}
		if ins := step.ConcurrentInsert; ins != nil {
			if ins.Key == "" {
				return fmt.Errorf("flow[%d].concurrent_insert: key is required", i)
			}
			if ins.Hours != "" {
				if _, err := decimal.NewFromString(ins.Hours); err != nil {
					return fmt.Errorf("flow[%d].concurrent_insert: hours: %w", i, err)
				}
			}
		}
	}
	if len(s.Markers) > 0 && len(s.Markers) < runs {
		return fmt.Errorf("markers: %d listed for %d runs", len(s.Markers), runs)
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertLiveCount, AssertDeletedCount, AssertAuditCount, AssertErrorCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertMarker:
		if a.Marker == "" {
			return fmt.Errorf("assertions[%d]: marker is required for marker", index)
		}
	case AssertKeyState:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for key_state", index)
		}
	case AssertUniqueKeys:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
