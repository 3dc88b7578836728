package runner_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ConnorShore/conveyor/internal/artifact"
	"github.com/ConnorShore/conveyor/internal/common"
	"github.com/ConnorShore/conveyor/internal/pipeline"
	"github.com/ConnorShore/conveyor/internal/runner"
	"github.com/ConnorShore/conveyor/internal/runner/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStage(name string, scripts ...string) pipeline.Stage {
	var steps []pipeline.Step
	for i, s := range scripts {
		steps = append(steps, pipeline.Step{
			Name:   fmt.Sprintf("%s-step-%d", name, i+1),
			Script: pipeline.Script(s),
		})
	}
	return pipeline.Stage{Name: name, Steps: steps}
}

func testPipeline(stages ...pipeline.Stage) *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Name:    "engine-test",
		Timeout: pipeline.Duration(time.Minute),
		Agent:   pipeline.Agent{Type: pipeline.AgentShell},
		Stages:  stages,
	}
}

func newTestEngine(t *testing.T, p *pipeline.Pipeline, exec executor.Executor) *runner.Engine {
	t.Helper()
	e, err := runner.NewEngine(runner.EngineOpts{
		Pipeline:   p,
		Executor:   exec,
		WorkingDir: t.TempDir(),
	})
	require.NoError(t, err)
	return e
}

func TestRunAllStagesSucceed(t *testing.T) {
	p := testPipeline(
		testStage("Source", "checkout-sources"),
		testStage("Initialize", "prepare-workspace"),
		testStage("Build", "compile-all"),
	)
	p.Post = pipeline.Post{
		Success: "notify-success",
		Failure: "notify-failure",
		Always:  "cleanup-workspace",
	}

	mock := executor.NewMockExecutor()
	e := newTestEngine(t, p, mock)

	outcome, err := e.Run(1, runner.TriggerMetadata{Source: "manual"})
	require.NoError(t, err)

	assert.Equal(t, common.StatusSuccess, outcome.Status)
	assert.Nil(t, outcome.Cause)
	require.Len(t, outcome.Stages, 3)
	for _, s := range outcome.Stages {
		assert.True(t, s.Ok, "stage %v should have succeeded", s.Name)
	}

	// onSuccess fires, then onAlways; onFailure never fires
	assert.Equal(t, []string{
		"checkout-sources",
		"prepare-workspace",
		"compile-all",
		"notify-success",
		"cleanup-workspace",
	}, mock.Executed())
}

func TestFirstFailingStageAbortsRemaining(t *testing.T) {
	p := testPipeline(
		testStage("Source", "checkout-sources"),
		testStage("Initialize", "prepare-workspace"),
		testStage("Build", "compile-all"),
	)
	p.Post = pipeline.Post{
		Success: "notify-success",
		Failure: "notify-failure",
		Always:  "cleanup-workspace",
	}

	mock := executor.NewMockExecutor()
	mock.Results["prepare-workspace"] = &common.ExitError{Code: 2}
	e := newTestEngine(t, p, mock)

	outcome, err := e.Run(1, runner.TriggerMetadata{Source: "manual"})
	require.NoError(t, err)

	assert.Equal(t, common.StatusFailed, outcome.Status)
	require.NotNil(t, outcome.Cause)
	assert.Equal(t, common.FailureStep, outcome.Cause.Kind)
	assert.Equal(t, "Initialize", outcome.Cause.Stage)
	assert.Equal(t, "Initialize-step-1", outcome.Cause.Step)

	// Only the attempted stages appear in the results
	require.Len(t, outcome.Stages, 2)
	assert.True(t, outcome.Stages[0].Ok)
	assert.False(t, outcome.Stages[1].Ok)

	// onFailure fires, then onAlways; onSuccess and the Build stage never run
	assert.Equal(t, []string{
		"checkout-sources",
		"prepare-workspace",
		"notify-failure",
		"cleanup-workspace",
	}, mock.Executed())
}

func TestStepStopsAtFirstFailingAction(t *testing.T) {
	p := testPipeline(pipeline.Stage{
		Name: "Build",
		Steps: []pipeline.Step{
			{
				Name:    "Compile",
				Actions: []pipeline.Script{"action-one", "action-two", "action-three"},
			},
		},
	})

	mock := executor.NewMockExecutor()
	mock.Results["action-two"] = &common.ExitError{Code: 1}
	e := newTestEngine(t, p, mock)

	outcome, err := e.Run(1, runner.TriggerMetadata{Source: "manual"})
	require.NoError(t, err)

	assert.Equal(t, common.StatusFailed, outcome.Status)
	assert.Equal(t, []string{"action-one", "action-two"}, mock.Executed())

	// Partial output collected before the failure is preserved
	require.Len(t, outcome.Stages, 1)
	require.Len(t, outcome.Stages[0].Steps, 1)
	stepRes := outcome.Stages[0].Steps[0]
	assert.False(t, stepRes.Ok)
	assert.Contains(t, stepRes.Output, "mock: action-one")
}

func TestConcurrentRunRejected(t *testing.T) {
	p := testPipeline(testStage("Build", "compile-all"))

	mock := executor.NewMockExecutor()
	mock.Delay = 200 * time.Millisecond
	e := newTestEngine(t, p, mock)

	first, err := e.StartRun(1, runner.TriggerMetadata{Source: "manual"})
	require.NoError(t, err)

	// A second invocation while the first is active is rejected, not queued
	_, err = e.StartRun(2, runner.TriggerMetadata{Source: "manual"})
	assert.ErrorIs(t, err, common.ErrConcurrentRunRejected)

	// The active run is untouched by the rejection
	outcome := first.Wait()
	assert.Equal(t, common.StatusSuccess, outcome.Status)

	// Once the first run terminates the lock is released
	second, err := e.StartRun(3, runner.TriggerMetadata{Source: "manual"})
	require.NoError(t, err)
	assert.Equal(t, common.StatusSuccess, second.Wait().Status)
}

func TestRunIdentifiersIncrease(t *testing.T) {
	p := testPipeline(testStage("Build", "compile-all"))
	e := newTestEngine(t, p, executor.NewMockExecutor())

	first, err := e.StartRun(10, runner.TriggerMetadata{Source: "manual"})
	require.NoError(t, err)
	first.Wait()

	second, err := e.StartRun(11, runner.TriggerMetadata{Source: "manual"})
	require.NoError(t, err)
	second.Wait()

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
}

func TestGlobalTimeoutAbortsRun(t *testing.T) {
	p := testPipeline(
		testStage("Build", "slow-compile"),
		testStage("Package", "make-package"),
	)
	p.Timeout = pipeline.Duration(50 * time.Millisecond)
	p.Post = pipeline.Post{
		Failure: "notify-failure",
		Always:  "cleanup-workspace",
	}

	mock := executor.NewMockExecutor()
	mock.Delay = 300 * time.Millisecond
	e := newTestEngine(t, p, mock)

	outcome, err := e.Run(1, runner.TriggerMetadata{Source: "manual"})
	require.NoError(t, err)

	assert.Equal(t, common.StatusFailed, outcome.Status)
	require.NotNil(t, outcome.Cause)
	assert.Equal(t, common.FailureTimeout, outcome.Cause.Kind)
	assert.Equal(t, "Build", outcome.Cause.Stage)

	// No step starts after the timeout fires; the in-flight action was
	// cancelled before it recorded itself, and the lifecycle scripts still
	// fire on their own context
	assert.Equal(t, []string{"notify-failure", "cleanup-workspace"}, mock.Executed())

	// Only the attempted stage appears in the log
	assert.Contains(t, outcome.Log, "Stage [Build]")
	assert.NotContains(t, outcome.Log, "Stage [Package]")
}

func TestRunIsNeverLeftPending(t *testing.T) {
	p := testPipeline(testStage("Build", "compile-all"))

	mock := executor.NewMockExecutor()
	mock.Results["compile-all"] = &common.ExitError{Code: 1}
	e := newTestEngine(t, p, mock)

	run, err := e.StartRun(1, runner.TriggerMetadata{Source: "manual"})
	require.NoError(t, err)

	outcome := run.Wait()
	assert.True(t, outcome.Status.Terminal())
	assert.True(t, run.Status().Terminal())
}

func TestCheckoutStagePrepended(t *testing.T) {
	p := testPipeline(testStage("Build", "compile-all"))
	p.Repository = pipeline.Repository{
		URL:    "https://github.com/acme/backend.git",
		Branch: "release",
	}

	mock := executor.NewMockExecutor()
	e := newTestEngine(t, p, mock)

	outcome, err := e.Run(1, runner.TriggerMetadata{Source: "manual"})
	require.NoError(t, err)

	assert.Equal(t, common.StatusSuccess, outcome.Status)
	executed := mock.Executed()
	require.Len(t, executed, 3)
	assert.Equal(t, "rm -rf ./* ./.git", executed[0])
	assert.Equal(t, "git clone --depth 1 --branch release https://github.com/acme/backend.git .", executed[1])
	assert.Contains(t, outcome.Log, "Stage [Checkout]")
}

func TestCheckoutStageRepeatable(t *testing.T) {
	workDir := t.TempDir()

	// Simulate a leftover clone from a previous run in the reused workspace
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, ".git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "stale.txt"), []byte("old"), 0644))

	// The repository does not exist, so the run fails at the clone action,
	// but only after the clean action has already emptied the workspace
	p := testPipeline(testStage("Build", "compile-all"))
	p.Repository = pipeline.Repository{
		URL:    "file:///nonexistent/backend.git",
		Branch: "release",
	}

	e, err := runner.NewEngine(runner.EngineOpts{
		Pipeline:   p,
		Executor:   executor.NewShellExecutor(),
		WorkingDir: workDir,
	})
	require.NoError(t, err)

	outcome, err := e.Run(1, runner.TriggerMetadata{Source: "manual"})
	require.NoError(t, err)
	assert.Equal(t, common.StatusFailed, outcome.Status)

	if _, err := os.Stat(filepath.Join(workDir, "stale.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected stale workspace file to be removed, stat err: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workDir, ".git")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected stale .git directory to be removed, stat err: %v", err)
	}
}

func TestArtifactsCollectedOnlyOnSuccess(t *testing.T) {
	archiveDir := t.TempDir()

	p := testPipeline(testStage("Build", "echo build-output > out.txt"))
	p.Artifacts = []string{"*.txt", "dist/*.tar.gz"}

	e, err := runner.NewEngine(runner.EngineOpts{
		Pipeline:   p,
		Executor:   executor.NewShellExecutor(),
		Store:      artifact.NewFileStore(archiveDir),
		WorkingDir: t.TempDir(),
	})
	require.NoError(t, err)

	outcome, err := e.Run(1, runner.TriggerMetadata{Source: "manual"})
	require.NoError(t, err)

	require.Equal(t, common.StatusSuccess, outcome.Status, "log: %s", outcome.Log)
	require.Len(t, outcome.Artifacts, 1, "the empty pattern contributes nothing")
	assert.Equal(t, "out.txt", outcome.Artifacts[0].Name)
	assert.NotEmpty(t, outcome.Artifacts[0].SHA256)

	// The archive holds the log, the manifest, and the artifact copy
	if _, err := os.Stat(filepath.Join(archiveDir, "run-1", "log.txt")); err != nil {
		t.Errorf("expected archived run log: %v", err)
	}
	if _, err := os.Stat(filepath.Join(archiveDir, "run-1", "artifacts", "out.txt")); err != nil {
		t.Errorf("expected archived artifact: %v", err)
	}
}

func TestArtifactsSkippedOnFailure(t *testing.T) {
	archiveDir := t.TempDir()

	p := testPipeline(testStage("Build", "echo build-output > out.txt\nexit 1"))
	p.Artifacts = []string{"*.txt"}

	e, err := runner.NewEngine(runner.EngineOpts{
		Pipeline:   p,
		Executor:   executor.NewShellExecutor(),
		Store:      artifact.NewFileStore(archiveDir),
		WorkingDir: t.TempDir(),
	})
	require.NoError(t, err)

	outcome, err := e.Run(1, runner.TriggerMetadata{Source: "manual"})
	require.NoError(t, err)

	assert.Equal(t, common.StatusFailed, outcome.Status)
	assert.Empty(t, outcome.Artifacts)
	if _, err := os.Stat(filepath.Join(archiveDir, "run-1", "manifest.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected no artifact manifest for a failed run, stat err: %v", err)
	}
}

func TestRunEnvironmentBindingsInjected(t *testing.T) {
	p := testPipeline(testStage("Build", `echo "$PIPELINE_NAME/$BUILD_NUMBER/$TRIGGER_SOURCE/$CUSTOM_VAR"`))
	p.Variables = common.VariableMap{"CUSTOM_VAR": "custom-value"}

	e := newTestEngine(t, p, executor.NewShellExecutor())

	outcome, err := e.Run(42, runner.TriggerMetadata{Source: "cron"})
	require.NoError(t, err)

	require.Equal(t, common.StatusSuccess, outcome.Status, "log: %s", outcome.Log)
	assert.Contains(t, outcome.Log, "engine-test/42/cron/custom-value")
}

func TestStepFailureReportsActionNotFound(t *testing.T) {
	p := testPipeline(testStage("Build", "definitely-not-a-real-command-xyz"))
	e := newTestEngine(t, p, executor.NewShellExecutor())

	outcome, err := e.Run(1, runner.TriggerMetadata{Source: "manual"})
	require.NoError(t, err)

	assert.Equal(t, common.StatusFailed, outcome.Status)
	require.NotNil(t, outcome.Cause)
	assert.Equal(t, common.FailureStep, outcome.Cause.Kind)
	assert.ErrorIs(t, outcome.Cause, common.ErrActionNotFound)
}

func TestNewEngineRejectsInvalidPipeline(t *testing.T) {
	_, err := runner.NewEngine(runner.EngineOpts{
		Pipeline: &pipeline.Pipeline{Name: "no-stages", Agent: pipeline.Agent{Type: pipeline.AgentShell}},
	})
	assert.Error(t, err)
}

func TestDockerAgentWithSuppliedExecutor(t *testing.T) {
	p := testPipeline(testStage("Build", "compile-all"))
	p.Agent = pipeline.Agent{Type: pipeline.AgentDocker, Image: "golang:1.21-alpine"}

	// A supplied executor owns its environment: no docker client is needed
	// and no agent container is created
	mock := executor.NewMockExecutor()
	e := newTestEngine(t, p, mock)

	outcome, err := e.Run(1, runner.TriggerMetadata{Source: "manual"})
	require.NoError(t, err)

	assert.Equal(t, common.StatusSuccess, outcome.Status)
	assert.Equal(t, []string{"compile-all"}, mock.Executed())
}

func TestLockReleasedWhenWaitReturns(t *testing.T) {
	p := testPipeline(testStage("Build", "compile-all"))
	e := newTestEngine(t, p, executor.NewMockExecutor())

	// Once Wait observes termination the gate is already open; a new run
	// must never bounce off the previous one
	for i := 0; i < 25; i++ {
		run, err := e.StartRun(i+1, runner.TriggerMetadata{Source: "manual"})
		require.NoError(t, err, "start %d rejected after previous run terminated", i+1)
		run.Wait()
	}
}

func TestFailingPostScriptDoesNotMaskOutcome(t *testing.T) {
	p := testPipeline(testStage("Build", "compile-all"))
	p.Post = pipeline.Post{
		Success: "notify-success",
		Always:  "cleanup-workspace",
	}

	mock := executor.NewMockExecutor()
	mock.Results["notify-success"] = &common.ExitError{Code: 3}
	e := newTestEngine(t, p, mock)

	outcome, err := e.Run(1, runner.TriggerMetadata{Source: "manual"})
	require.NoError(t, err)

	// The run stays successful and onAlways still fires after the failing
	// onSuccess script
	assert.Equal(t, common.StatusSuccess, outcome.Status)
	assert.Nil(t, outcome.Cause)
	assert.Equal(t, []string{"compile-all", "notify-success", "cleanup-workspace"}, mock.Executed())
	assert.Contains(t, outcome.Log, "post [success] script failed")
}

func TestFailingAlwaysScriptKeepsFailureCause(t *testing.T) {
	p := testPipeline(testStage("Build", "compile-all"))
	p.Post = pipeline.Post{Always: "cleanup-workspace"}

	mock := executor.NewMockExecutor()
	mock.Results["compile-all"] = &common.ExitError{Code: 1}
	mock.Results["cleanup-workspace"] = &common.ExitError{Code: 2}
	e := newTestEngine(t, p, mock)

	outcome, err := e.Run(1, runner.TriggerMetadata{Source: "manual"})
	require.NoError(t, err)

	assert.Equal(t, common.StatusFailed, outcome.Status)
	require.NotNil(t, outcome.Cause)
	assert.Equal(t, common.FailureStep, outcome.Cause.Kind)
	assert.Equal(t, "Build", outcome.Cause.Stage)
}

func TestNewEngineLeavesDefinitionUntouched(t *testing.T) {
	p := testPipeline(testStage("Build", "compile-all"))
	p.Timeout = 0

	e, err := runner.NewEngine(runner.EngineOpts{
		Pipeline:   p,
		Executor:   executor.NewMockExecutor(),
		WorkingDir: t.TempDir(),
	})
	require.NoError(t, err)

	// The default applies to the engine's copy only
	assert.Equal(t, pipeline.Duration(0), p.Timeout)

	outcome, runErr := e.Run(1, runner.TriggerMetadata{Source: "manual"})
	require.NoError(t, runErr)
	assert.Equal(t, common.StatusSuccess, outcome.Status)
}
