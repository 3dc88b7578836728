package runner

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ConnorShore/conveyor/internal/artifact"
	"github.com/ConnorShore/conveyor/internal/common"
)

// One execution instance of the pipeline. Owned by the engine from StartRun
// until post-processing completes; afterwards callers read the outcome.
type Run struct {
	ID          int64
	BuildNumber int
	StartedAt   time.Time

	env common.VariableMap

	mu        sync.Mutex
	status    common.RunStatus
	stageIdx  int
	cause     *FailureCause
	stages    []StageResult
	artifacts []artifact.Artifact
	log       strings.Builder

	done chan struct{}
}

type StepResult struct {
	Name   string
	Ok     bool
	Output string
}

type StageResult struct {
	Name  string
	Ok    bool
	Steps []StepResult
}

// Why a run ended in failure
type FailureCause struct {
	Kind  common.FailureKind
	Stage string
	Step  string
	Err   error
}

func (c *FailureCause) Error() string {
	switch c.Kind {
	case common.FailureTimeout:
		return "run exceeded its global timeout"
	case common.FailureConcurrent:
		return common.ErrConcurrentRunRejected.Error()
	default:
		return fmt.Sprintf("step [%v] in stage [%v] failed: %v", c.Step, c.Stage, c.Err)
	}
}

func (c *FailureCause) Unwrap() error {
	return c.Err
}

// Final state of a terminated run
type Outcome struct {
	Status    common.RunStatus
	Cause     *FailureCause // nil on success
	Stages    []StageResult
	Artifacts []artifact.Artifact
	Log       string
}

func newRun(id int64, buildNumber int, env common.VariableMap) *Run {
	return &Run{
		ID:          id,
		BuildNumber: buildNumber,
		StartedAt:   time.Now(),
		env:         env,
		status:      common.StatusPending,
		done:        make(chan struct{}),
	}
}

// Blocks until the run terminates, then returns its outcome
func (r *Run) Wait() Outcome {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return Outcome{
		Status:    r.status,
		Cause:     r.cause,
		Stages:    append([]StageResult(nil), r.stages...),
		Artifacts: append([]artifact.Artifact(nil), r.artifacts...),
		Log:       r.log.String(),
	}
}

// Closed once the run terminates
func (r *Run) Done() <-chan struct{} {
	return r.done
}

func (r *Run) Status() common.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Full log accumulated so far; partial logs up to an abort are preserved
func (r *Run) Log() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.String()
}

// Copy of the run's environment bindings; the bindings themselves are
// immutable once the run starts
func (r *Run) Env() common.VariableMap {
	return r.env.Clone()
}

func (r *Run) appendLog(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.WriteString(line)
	r.log.WriteByte('\n')
}

func (r *Run) setStatus(s common.RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
}

func (r *Run) setStageIndex(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stageIdx = i
}

func (r *Run) addStageResult(res StageResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, res)
}

func (r *Run) setArtifacts(artifacts []artifact.Artifact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts = artifacts
}

func (r *Run) finish(status common.RunStatus, cause *FailureCause) {
	r.mu.Lock()
	r.status = status
	r.cause = cause
	r.mu.Unlock()
	close(r.done)
}
