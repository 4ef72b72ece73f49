package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Event is one scheduled stimulus. Exactly one of the action fields
// may be set.
type Event struct {
	// At is the step the event fires on, relative to the start of the
	// run.
	At int `yaml:"at"`

	// UART feeds bytes into the serial receive FIFO.
	UART string `yaml:"uart,omitempty"`

	// Pulse latches an edge source pending once.
	Pulse uint32 `yaml:"pulse,omitempty"`

	// Timer arms the compare register to fire this many ticks from
	// now.
	Timer uint64 `yaml:"timer,omitempty"`

	// Tick advances the timer without arming it.
	Tick uint64 `yaml:"tick,omitempty"`
}

// Scenario is a machine configuration plus a schedule of stimuli,
// usually loaded from a YAML file.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps int    `yaml:"steps"`

	Sources    []Source          `yaml:"sources,omitempty"`
	Thresholds map[uint64]uint32 `yaml:"thresholds,omitempty"`

	Events []Event `yaml:"events"`
}

// LoadScenario reads and parses a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sim: reading scenario file: %w", err)
	}

	return ParseScenario(data)
}

// ParseScenario parses YAML scenario data, applies defaults and
// validates the schedule.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("sim: parsing scenario file: %w", err)
	}

	maxAt := 0
	for i, ev := range sc.Events {
		if ev.At < 0 {
			return nil, fmt.Errorf("sim: event %d fires at negative step %d", i, ev.At)
		}
		if ev.At > maxAt {
			maxAt = ev.At
		}
		// An armed timer fires that many steps later; keep the default
		// run long enough to see it, unless the distance is absurd.
		if t := ev.Timer; t != 0 && t < 1<<30 && ev.At+int(t) > maxAt {
			maxAt = ev.At + int(t)
		}

		actions := 0
		if ev.UART != "" {
			actions++
		}
		if ev.Pulse != 0 {
			actions++
		}
		if ev.Timer != 0 {
			actions++
		}
		if ev.Tick != 0 {
			actions++
		}
		switch actions {
		case 0:
			return nil, fmt.Errorf("sim: event %d has no action", i)
		case 1:
		default:
			return nil, fmt.Errorf("sim: event %d has %d actions, want one", i, actions)
		}
	}

	if sc.Steps == 0 {
		// Leave room for the last event to be serviced.
		sc.Steps = maxAt + 2
	}
	if sc.Steps < 0 {
		return nil, fmt.Errorf("sim: scenario runs for %d steps", sc.Steps)
	}

	return &sc, nil
}
