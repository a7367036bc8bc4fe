package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is one admission scenario.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Capacity is the facility's slot count. Defaults to 2.
	Capacity int `yaml:"capacity,omitempty"`

	RequireRegisteredPlate bool `yaml:"require_registered_plate,omitempty"`

	// Registry seeds the remote vehicle registry.
	Registry []Vehicle `yaml:"registry,omitempty"`

	Steps []Step `yaml:"steps"`

	// Expect checks the final reconciled view. Unset fields are not checked.
	Expect *FinalExpect `yaml:"expect,omitempty"`
}

// Vehicle is a registry record.
type Vehicle struct {
	Plate      string `yaml:"plate"`
	OwnerName  string `yaml:"owner_name"`
	OwnerPhone string `yaml:"owner_phone,omitempty"`
	Make       string `yaml:"make,omitempty"`
	Model      string `yaml:"model,omitempty"`
	Color      string `yaml:"color,omitempty"`
}

// Step is one attendant action.
type Step struct {
	Action string `yaml:"action"`

	// Plate is the plate to check in, or the plate or session ref to check out.
	Plate string `yaml:"plate,omitempty"`

	// Expect is the outcome the step must produce, as rendered in the trace
	// (for example "admitted", "waitlisted", "already_checked_in",
	// "departed offer=CC333"). Empty means any outcome.
	Expect string `yaml:"expect,omitempty"`
}

// Step actions.
const (
	ActionCheckIn   = "check_in"
	ActionCheckOut  = "check_out"
	ActionAccept    = "accept"
	ActionReject    = "reject"
	ActionSync      = "sync"
	ActionGoOffline = "go_offline"
	ActionGoOnline  = "go_online"
)

// FinalExpect describes the expected final view.
type FinalExpect struct {
	Active        []string `yaml:"active,omitempty"`
	Waitlist      []string `yaml:"waitlist,omitempty"`
	WaitlistCount *int     `yaml:"waitlist_count,omitempty"`
	Pending       *int     `yaml:"pending,omitempty"`
	DeadLetters   *int     `yaml:"dead_letters,omitempty"`
	Promotion     string   `yaml:"promotion,omitempty"`
}

// LoadScenario reads and validates a scenario file. Unknown keys are
// rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
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

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Capacity < 0 {
		return fmt.Errorf("capacity must not be negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, v := range s.Registry {
		if v.Plate == "" {
			return fmt.Errorf("registry[%d]: plate is required", i)
		}
	}
	for i, step := range s.Steps {
		switch step.Action {
		case ActionCheckIn, ActionCheckOut:
			if step.Plate == "" {
				return fmt.Errorf("steps[%d]: plate is required for %s", i, step.Action)
			}
		case ActionAccept, ActionReject, ActionSync, ActionGoOffline, ActionGoOnline:
		case "":
			return fmt.Errorf("steps[%d]: action is required", i)
		default:
			return fmt.Errorf("steps[%d]: unknown action %q", i, step.Action)
		}
	}
	return nil
}
