package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/ConnorShore/conveyor/internal/common"
	"gopkg.in/yaml.v3"
)

const (
	AgentShell  = "shell"
	AgentDocker = "docker"

	// Wall-clock bound for a whole run when the pipeline file does not set one
	DefaultTimeout = 30 * time.Minute
)

type Script string

// A step runs its actions strictly in order and fails atomically on the
// first action that fails. Actions can be given as an explicit list or as a
// multi-line script, one action per line.
type Step struct {
	Name      string             `yaml:"name"`
	Variables common.VariableMap `yaml:"variables"`
	Script    Script             `yaml:"script"`
	Actions   []Script           `yaml:"actions"`
}

// The ordered actions of the step
func (s Step) ActionList() []Script {
	if len(s.Actions) > 0 {
		return s.Actions
	}

	var actions []Script
	for _, line := range strings.Split(string(s.Script), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		actions = append(actions, Script(line))
	}
	return actions
}

// A named checkpoint in the pipeline, running its steps in declaration order
type Stage struct {
	Name      string             `yaml:"name"`
	Variables common.VariableMap `yaml:"variables"`
	Steps     []Step             `yaml:"steps"`
}

// Where steps execute: directly on the host shell, or inside a per-run
// docker container
type Agent struct {
	Type  string `yaml:"type"`
	Image string `yaml:"image"`
}

type Repository struct {
	URL    string `yaml:"url"`
	Branch string `yaml:"branch"`
}

type Triggers struct {
	Cron string `yaml:"cron"`
}

// Lifecycle scripts dispatched on the run's final outcome
type Post struct {
	Success Script `yaml:"success"`
	Failure Script `yaml:"failure"`
	Always  Script `yaml:"always"`
}

type Pipeline struct {
	Name       string             `yaml:"name"`
	Timeout    Duration           `yaml:"timeout"`
	Agent      Agent              `yaml:"agent"`
	Repository Repository         `yaml:"repository"`
	Credential string             `yaml:"credential"`
	Triggers   Triggers           `yaml:"triggers"`
	Variables  common.VariableMap `yaml:"variables"`
	Stages     []Stage            `yaml:"stages"`
	Post       Post               `yaml:"post"`
	Artifacts  []string           `yaml:"artifacts"`
}

// Duration accepts the usual Go duration syntax in pipeline files ("30m", "1h")
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration [%v]: %v", raw, err)
	}

	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
