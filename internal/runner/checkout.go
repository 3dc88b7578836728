package runner

import (
	"fmt"

	"github.com/ConnorShore/conveyor/internal/pipeline"
)

const checkoutStageName = "Checkout"

// Builds the source checkout stage from the pipeline's repository reference.
// The clone is an opaque action like any other; the engine only prepends it
// so the declared stages start from fresh sources. The workspace is reused
// across runs, so it is emptied first to keep the clone repeatable.
func checkoutStage(repo pipeline.Repository) pipeline.Stage {
	clone := fmt.Sprintf("git clone --depth 1 --branch %s %s .", repo.Branch, repo.URL)
	return pipeline.Stage{
		Name: checkoutStageName,
		Steps: []pipeline.Step{
			{
				Name: "Clone Repository",
				Actions: []pipeline.Script{
					"rm -rf ./* ./.git",
					pipeline.Script(clone),
				},
			},
		},
	}
}

// The stages the run will execute, with checkout prepended when the pipeline
// declares a repository
func (e *Engine) stages() []pipeline.Stage {
	if e.def.Repository.URL == "" {
		return e.def.Stages
	}
	return append([]pipeline.Stage{checkoutStage(e.def.Repository)}, e.def.Stages...)
}
