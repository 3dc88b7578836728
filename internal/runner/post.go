package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/ConnorShore/conveyor/internal/common"
	"github.com/ConnorShore/conveyor/internal/pipeline"
	"github.com/ConnorShore/conveyor/internal/runner/executor"
	"go.uber.org/zap"
)

// Bound for each individual lifecycle script; these are best-effort
// notification/cleanup hooks, not pipeline work
const postScriptTimeout = 5 * time.Minute

type postCondition int

const (
	condSuccess postCondition = iota
	condFailure
	condAlways
)

func (c postCondition) String() string {
	switch c {
	case condSuccess:
		return "success"
	case condFailure:
		return "failure"
	case condAlways:
		return "always"
	}
	return "unknown"
}

// Whether the slot fires for the given terminal status
func (c postCondition) matches(status common.RunStatus) bool {
	switch c {
	case condSuccess:
		return status == common.StatusSuccess
	case condFailure:
		return status == common.StatusFailed
	case condAlways:
		return true
	}
	return false
}

func (e *Engine) postScript(c postCondition) pipeline.Script {
	switch c {
	case condSuccess:
		return e.def.Post.Success
	case condFailure:
		return e.def.Post.Failure
	case condAlways:
		return e.def.Post.Always
	}
	return ""
}

// Fires the lifecycle script matching the outcome, then always, in that
// order. A lifecycle script's own failure is logged but never masks the
// pipeline's recorded outcome.
func (e *Engine) dispatchPost(run *Run, status common.RunStatus, envID string) {
	for _, cond := range []postCondition{condSuccess, condFailure, condAlways} {
		script := e.postScript(cond)
		if script == "" || !cond.matches(status) {
			continue
		}
		e.runPostScript(run, cond, script, status, envID)
	}
}

func (e *Engine) runPostScript(run *Run, cond postCondition, script pipeline.Script, status common.RunStatus, envID string) {
	// Fresh context: lifecycle scripts still fire after a timeout abort
	ctx, cancel := context.WithTimeout(context.Background(), postScriptTimeout)
	defer cancel()

	run.appendLog(fmt.Sprintf("---- Post [%v] ----", cond))
	vars := common.MergeVariables(run.env, common.VariableMap{"RUN_STATUS": string(status)})

	err := e.exec.Execute(executor.ExecutorOpts{
		Ctx:           ctx,
		Script:        script,
		Vars:          vars,
		WorkingDir:    e.workDir,
		EnvironmentId: envID,
	}, run.appendLog)
	if err != nil {
		e.logger.Warn("post script failed",
			zap.Int64("run", run.ID),
			zap.String("condition", cond.String()),
			zap.Error(err))
		run.appendLog(fmt.Sprintf("post [%v] script failed: %v", cond, err))
	}
}
