package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/replica/internal/engine"
)

// DefaultClientID is used when a scenario does not name its client.
const DefaultClientID = "test-client"

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// ClientID is the replica's client ID. Defaults to DefaultClientID.
	ClientID string `yaml:"client_id,omitempty"`

	// Mutators is a directory of CUE mutator definitions.
	Mutators string `yaml:"mutators"`

	// Steps run in order against one replica.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// EffectiveClientID returns ClientID or DefaultClientID.
func (s *Scenario) EffectiveClientID() string {
	if s.ClientID == "" {
		return DefaultClientID
	}
	return s.ClientID
}

// Step is either a local mutation or a pull response.
type Step struct {
	// Mutate names the mutator to run with Args.
	Mutate string         `yaml:"mutate,omitempty"`
	Args   map[string]any `yaml:"args,omitempty"`

	// Pull delivers a server response.
	Pull *PullStep `yaml:"pull,omitempty"`

	// Expect is checked against the step's outcome. Optional.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// Kind returns "mutate" or "pull".
func (s Step) Kind() string {
	if s.Pull != nil {
		return KindPull
	}
	return KindMutate
}

// PullStep is a pull response written in YAML.
type PullStep struct {
	// Cookie is a string, an integer, or an {order, ...} map.
	Cookie          any               `yaml:"cookie"`
	LastMutationIDs map[string]uint64 `yaml:"last_mutation_ids,omitempty"`
	Patch           []PatchStep       `yaml:"patch,omitempty"`
}

// PatchStep is one patch operation.
type PatchStep struct {
	Op    string `yaml:"op"`
	Key   string `yaml:"key,omitempty"`
	Value any    `yaml:"value,omitempty"`
}

// ExpectClause specifies the expected result of a step. Zero fields are
// not checked.
type ExpectClause struct {
	// MutationID is the ID a mutate step is assigned.
	MutationID uint64 `yaml:"mutation_id,omitempty"`

	// Outcome is the pull outcome: applied, stale or unchanged.
	Outcome string `yaml:"outcome,omitempty"`

	// Error is a substring the step's error must contain. When set the
	// step must fail.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of final_value, pending, last_mutation_id, cookie,
	// trace_count.
	Type string `yaml:"type"`

	// Key and Value are used by final_value. Absent asserts the key is
	// not present.
	Key    string `yaml:"key,omitempty"`
	Value  any    `yaml:"value,omitempty"`
	Absent bool   `yaml:"absent,omitempty"`

	// IDs is the expected pending queue (used by pending).
	IDs []uint64 `yaml:"ids,omitempty"`

	// Client is the client ID (used by last_mutation_id).
	Client string `yaml:"client,omitempty"`

	// Count is used by last_mutation_id and trace_count.
	Count int `yaml:"count,omitempty"`

	// Kind is the step kind (used by trace_count).
	Kind string `yaml:"kind,omitempty"`

	// Cookie is the expected cookie (used by cookie).
	Cookie any `yaml:"cookie,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalValue     = "final_value"
	AssertPending        = "pending"
	AssertLastMutationID = "last_mutation_id"
	AssertCookie         = "cookie"
	AssertTraceCount     = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file. The mutators path is
// resolved relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields, or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath is LoadScenario with an explicit base path for
// the mutators directory.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Mutators != "" && !filepath.IsAbs(scenario.Mutators) && basePath != "" {
		scenario.Mutators = filepath.Join(basePath, scenario.Mutators)
	}
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

// ParseScenario decodes a scenario without validating it.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches "assertion:" vs "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
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

	if s.Mutators == "" {
		return fmt.Errorf("mutators directory is required")
	}
	if info, err := os.Stat(s.Mutators); err != nil || !info.IsDir() {
		return fmt.Errorf("mutators directory not found: %s", s.Mutators)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, s Step) error {
	switch {
	case s.Mutate != "" && s.Pull != nil:
		return fmt.Errorf("steps[%d]: mutate and pull are mutually exclusive", index)
	case s.Mutate == "" && s.Pull == nil:
		return fmt.Errorf("steps[%d]: one of mutate or pull is required", index)
	}

	if s.Pull != nil {
		if s.Args != nil {
			return fmt.Errorf("steps[%d]: args are only valid on mutate", index)
		}
		for j, p := range s.Pull.Patch {
			switch p.Op {
			case engine.PatchPut, engine.PatchDel, engine.PatchClear:
			default:
				return fmt.Errorf("steps[%d].pull.patch[%d]: unknown op %q", index, j, p.Op)
			}
		}
	}

	if s.Expect != nil {
		if s.Mutate != "" && s.Expect.Outcome != "" {
			return fmt.Errorf("steps[%d].expect: outcome is only valid on pull", index)
		}
		if s.Pull != nil && s.Expect.MutationID != 0 {
			return fmt.Errorf("steps[%d].expect: mutation_id is only valid on mutate", index)
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
	case AssertFinalValue:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for final_value", index)
		}
		if a.Value == nil && !a.Absent {
			return fmt.Errorf("assertions[%d]: value or absent is required for final_value", index)
		}
	case AssertPending:
	case AssertLastMutationID:
		if a.Client == "" {
			return fmt.Errorf("assertions[%d]: client is required for last_mutation_id", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for last_mutation_id", index)
		}
	case AssertCookie:
	case AssertTraceCount:
		if a.Kind != KindMutate && a.Kind != KindPull {
			return fmt.Errorf("assertions[%d]: kind must be mutate or pull for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
