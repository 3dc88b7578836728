package runner

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/ConnorShore/conveyor/internal/artifact"
	"github.com/ConnorShore/conveyor/internal/common"
	"github.com/ConnorShore/conveyor/internal/pipeline"
	"github.com/ConnorShore/conveyor/internal/runner/executor"
	dockerClient "github.com/docker/docker/client"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultWorkingDir = "conveyor-workspace"
)

// Metadata describing what invoked a run
type TriggerMetadata struct {
	Source string // e.g. "manual", "cron"
	Actor  string
}

// Drives sequential stage-by-stage execution of a single pipeline definition.
// At most one run is active at a time; a second StartRun while one is active
// is rejected, never queued.
type Engine struct {
	ID string

	def     *pipeline.Pipeline
	exec    executor.Executor
	store   artifact.Store
	logger  *zap.Logger
	workDir string

	dockerClient *dockerClient.Client

	active atomic.Bool
	runSeq atomic.Int64
}

type EngineOpts struct {
	Pipeline *pipeline.Pipeline

	// Optional. Defaults to an executor matching the pipeline's agent type.
	// A supplied executor owns its own execution environment; the engine
	// creates no agent container for it.
	Executor executor.Executor

	// Optional. When set, completed runs archive their log and artifacts here.
	Store artifact.Store

	// Optional. Defaults to a no-op logger.
	Logger *zap.Logger

	// Optional. Defaults to a fresh temp directory. The directory is owned
	// exclusively by the active run for the run's duration.
	WorkingDir string
}

func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("engine requires a pipeline definition")
	}
	if valid, errs := pipeline.ValidatePipeline(opts.Pipeline); !valid {
		return nil, fmt.Errorf("invalid pipeline definition: %v", strings.Join(errs, "; "))
	}

	// Default onto the engine's own copy; the caller's definition stays as
	// they built it
	def := *opts.Pipeline
	if def.Timeout <= 0 {
		def.Timeout = pipeline.Duration(pipeline.DefaultTimeout)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	workDir := opts.WorkingDir
	if workDir == "" {
		dir, err := os.MkdirTemp("", DefaultWorkingDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create conveyor working directory: %v", err)
		}
		workDir = dir
	}

	e := &Engine{
		ID:      uuid.NewString(),
		def:     &def,
		store:   opts.Store,
		logger:  logger,
		workDir: workDir,
		exec:    opts.Executor,
	}

	if e.exec == nil {
		switch def.Agent.Type {
		case pipeline.AgentDocker:
			cli, err := dockerClient.NewClientWithOpts(dockerClient.FromEnv, dockerClient.WithAPIVersionNegotiation())
			if err != nil {
				return nil, fmt.Errorf("failed to start docker client: %v", err)
			}
			e.dockerClient = cli
			e.exec = executor.NewDockerShellExecutor(cli)
		default:
			e.exec = executor.NewShellExecutor()
		}
	}

	return e, nil
}

// The directory actions run in and artifact patterns resolve against
func (e *Engine) WorkingDir() string {
	return e.workDir
}

// Begins a new run of the pipeline. Returns common.ErrConcurrentRunRejected
// if a run is already active; the rejected run never starts and the active
// run is untouched.
func (e *Engine) StartRun(buildNumber int, trigger TriggerMetadata) (*Run, error) {
	if !e.active.CompareAndSwap(false, true) {
		return nil, common.ErrConcurrentRunRejected
	}

	id := e.runSeq.Add(1)
	run := newRun(id, buildNumber, e.buildRunEnv(id, buildNumber, trigger))

	e.logger.Info("starting run",
		zap.String("pipeline", e.def.Name),
		zap.Int64("run", id),
		zap.Int("build", buildNumber),
		zap.String("trigger", trigger.Source))

	go e.execute(run)
	return run, nil
}

// Convenience wrapper that starts a run and blocks for its outcome
func (e *Engine) Run(buildNumber int, trigger TriggerMetadata) (Outcome, error) {
	run, err := e.StartRun(buildNumber, trigger)
	if err != nil {
		return Outcome{}, err
	}
	return run.Wait(), nil
}

func (e *Engine) execute(run *Run) {
	run.setStatus(common.StatusRunning)

	// The global timeout bounds all stages combined
	ctx, cancel := context.WithTimeout(context.Background(), e.def.Timeout.Std())
	defer cancel()

	var cause *FailureCause

	envID, cleanup, err := e.setupAgent(ctx, run)
	if err != nil {
		run.appendLog(fmt.Sprintf("failed to prepare agent: %v", err))
		cause = &FailureCause{Kind: common.FailureStep, Stage: "agent", Err: err}
		cleanup = func() {}
	} else {
		cause = e.runStages(ctx, run, envID)
	}

	status := common.StatusSuccess
	if cause != nil {
		status = common.StatusFailed
		run.appendLog(fmt.Sprintf("run failed: %v", cause))
	}

	// Lifecycle scripts and archiving run on their own contexts so they still
	// fire after a timeout abort
	e.dispatchPost(run, status, envID)

	if status == common.StatusSuccess {
		e.collectArtifacts(run)
	}

	e.archiveLog(run)

	// Teardown completes and the gate reopens before waiters are woken, so a
	// caller observing termination can immediately start the next run
	cleanup()
	e.active.Store(false)
	run.finish(status, cause)

	e.logger.Info("run finished",
		zap.String("pipeline", e.def.Name),
		zap.Int64("run", run.ID),
		zap.String("status", string(status)))
}

// Runs stages strictly in declaration order; the first failing stage aborts
// everything after it
func (e *Engine) runStages(ctx context.Context, run *Run, envID string) *FailureCause {
	for i, stage := range e.stages() {
		if ctx.Err() != nil {
			return &FailureCause{Kind: common.FailureTimeout, Stage: stage.Name}
		}

		run.setStageIndex(i)
		res, cause := e.runStage(ctx, run, stage, envID)
		run.addStageResult(res)
		if cause != nil {
			return cause
		}
	}
	return nil
}

func (e *Engine) runStage(ctx context.Context, run *Run, stage pipeline.Stage, envID string) (StageResult, *FailureCause) {
	e.logger.Info("running stage", zap.Int64("run", run.ID), zap.String("stage", stage.Name))
	run.appendLog(fmt.Sprintf("===== Stage [%v] =====", stage.Name))

	res := StageResult{Name: stage.Name, Ok: true}
	for _, step := range stage.Steps {
		// No step starts once the global timeout has fired
		if ctx.Err() != nil {
			res.Ok = false
			return res, &FailureCause{Kind: common.FailureTimeout, Stage: stage.Name}
		}

		stepRes, err := e.runStep(ctx, run, stage, step, envID)
		res.Steps = append(res.Steps, stepRes)
		if err != nil {
			res.Ok = false
			// An expired deadline outranks whatever the aborted step reported
			if ctx.Err() != nil {
				return res, &FailureCause{Kind: common.FailureTimeout, Stage: stage.Name, Step: step.Name}
			}
			return res, &FailureCause{Kind: common.FailureStep, Stage: stage.Name, Step: step.Name, Err: err}
		}
	}
	return res, nil
}

// Runs a step's actions in order, stopping at the first failing action. The
// partial output collected up to the failure is preserved on the result.
func (e *Engine) runStep(ctx context.Context, run *Run, stage pipeline.Stage, step pipeline.Step, envID string) (StepResult, error) {
	run.appendLog(fmt.Sprintf("---- Step [%v] ----", step.Name))

	vars := common.MergeVariables(run.env, stage.Variables, step.Variables)

	var output strings.Builder
	onStdOut := func(line string) {
		output.WriteString(line)
		output.WriteByte('\n')
		run.appendLog(line)
	}

	for _, action := range step.ActionList() {
		if err := ctx.Err(); err != nil {
			return StepResult{Name: step.Name, Ok: false, Output: output.String()}, err
		}

		if err := e.exec.Execute(executor.ExecutorOpts{
			Ctx:           ctx,
			Script:        action,
			Vars:          vars,
			WorkingDir:    e.workDir,
			EnvironmentId: envID,
		}, onStdOut); err != nil {
			return StepResult{Name: step.Name, Ok: false, Output: output.String()},
				fmt.Errorf("failed to run action [%v]: %w", action, err)
		}
	}

	return StepResult{Name: step.Name, Ok: true, Output: output.String()}, nil
}

// Collects and registers artifacts; invoked only for successful outcomes
func (e *Engine) collectArtifacts(run *Run) {
	if len(e.def.Artifacts) == 0 {
		return
	}

	collector := artifact.NewCollector(e.workDir)
	artifacts, err := collector.Collect(e.def.Artifacts)
	if err != nil {
		e.logger.Warn("artifact collection failed", zap.Int64("run", run.ID), zap.Error(err))
		run.appendLog(fmt.Sprintf("artifact collection failed: %v", err))
		return
	}

	run.setArtifacts(artifacts)
	run.appendLog(fmt.Sprintf("collected %d artifact(s)", len(artifacts)))

	if e.store != nil {
		if err := e.store.SaveArtifacts(run.ID, artifacts); err != nil {
			e.logger.Warn("failed to archive artifacts", zap.Int64("run", run.ID), zap.Error(err))
		}
	}
}

func (e *Engine) archiveLog(run *Run) {
	if e.store == nil {
		return
	}
	if _, err := e.store.SaveLog(run.ID, run.Log()); err != nil {
		e.logger.Warn("failed to archive run log", zap.Int64("run", run.ID), zap.Error(err))
	}
}

// Per-run environment bindings: static pipeline variables plus injected build
// metadata. Read-only once the run starts.
func (e *Engine) buildRunEnv(runID int64, buildNumber int, trigger TriggerMetadata) common.VariableMap {
	meta := common.VariableMap{
		"PIPELINE_NAME":  e.def.Name,
		"RUN_ID":         strconv.FormatInt(runID, 10),
		"BUILD_NUMBER":   strconv.Itoa(buildNumber),
		"TRIGGER_SOURCE": trigger.Source,
	}
	if e.def.Repository.URL != "" {
		meta["REPO_URL"] = e.def.Repository.URL
		meta["BRANCH"] = e.def.Repository.Branch
	}
	if e.def.Credential != "" {
		meta["CREDENTIAL_ID"] = e.def.Credential
	}
	return common.MergeVariables(e.def.Variables, meta)
}
