package pipeline

import (
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Given raw yaml data, parse the data into a Pipeline object
func ParsePipeline(data []byte) (*Pipeline, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	pipeline := &Pipeline{}
	if err := yaml.Unmarshal(data, pipeline); err != nil {
		return nil, err
	}

	applyDefaults(pipeline)
	return pipeline, nil
}

// Given a filepath, parse the file into a Pipeline object
func ParsePipelineFile(file string) (*Pipeline, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	return ParsePipeline(data)
}

func applyDefaults(p *Pipeline) {
	if p.Timeout <= 0 {
		p.Timeout = Duration(DefaultTimeout)
	}
	if p.Agent.Type == "" {
		p.Agent.Type = AgentShell
	}
	if p.Repository.URL != "" && p.Repository.Branch == "" {
		p.Repository.Branch = "main"
	}
}

// Validates if a pipeline is valid
// Returns (valid, list of errors)
func ValidatePipeline(p *Pipeline) (bool, []string) {
	var errs []string

	if p.Name == "" {
		errs = append(errs, "pipeline name must not be empty")
	}

	switch p.Agent.Type {
	case AgentShell:
	case AgentDocker:
		if p.Agent.Image == "" {
			errs = append(errs, "docker agent requires an image")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown agent type [%v]", p.Agent.Type))
	}

	if len(p.Stages) == 0 {
		errs = append(errs, "pipeline must declare at least one stage")
	}

	seen := make(map[string]bool)
	for _, stage := range p.Stages {
		if stage.Name == "" {
			errs = append(errs, "stage name must not be empty")
			continue
		}
		if seen[stage.Name] {
			errs = append(errs, fmt.Sprintf("duplicate stage name [%v]", stage.Name))
		}
		seen[stage.Name] = true

		if len(stage.Steps) == 0 {
			errs = append(errs, fmt.Sprintf("stage [%v] must declare at least one step", stage.Name))
		}
		for _, step := range stage.Steps {
			if step.Name == "" {
				errs = append(errs, fmt.Sprintf("stage [%v] has a step with no name", stage.Name))
			}
			if len(step.ActionList()) == 0 {
				errs = append(errs, fmt.Sprintf("step [%v] in stage [%v] has no actions", step.Name, stage.Name))
			}
		}
	}

	if p.Triggers.Cron != "" {
		if _, err := cron.ParseStandard(p.Triggers.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("invalid cron trigger [%v]: %v", p.Triggers.Cron, err))
		}
	}

	return len(errs) == 0, errs
}
