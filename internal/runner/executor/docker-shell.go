package executor

import (
	"fmt"

	"github.com/ConnorShore/conveyor/internal/common"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Runs actions inside the run's docker container via container exec. The
// container id is carried in ExecutorOpts.EnvironmentId.
type DockerShellExecutor struct {
	client *client.Client
}

func NewDockerShellExecutor(cli *client.Client) *DockerShellExecutor {
	return &DockerShellExecutor{client: cli}
}

func (e *DockerShellExecutor) Execute(opts ExecutorOpts, onStdOut func(line string)) error {
	cmd := append([]string{"sh", "-c"}, makeSingleLineScript(opts.Script))
	execOpts := container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Env:          common.VariablesMapToSlice(opts.Vars),
		Cmd:          cmd,
	}

	execCreateResp, err := e.client.ContainerExecCreate(opts.Ctx, opts.EnvironmentId, execOpts)
	if err != nil {
		return fmt.Errorf("failed to execute script [%v] in container: %v", opts.Script, err)
	}

	execResp, err := e.client.ContainerExecAttach(opts.Ctx, execCreateResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("error attaching to exec instance: %v", err)
	}
	defer execResp.Close()

	// Demultiplex container output into the run log
	out := newLineWriter(onStdOut)
	if _, err = stdcopy.StdCopy(out, out, execResp.Reader); err != nil {
		if ctxErr := opts.Ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("error reading from exec output: %v", err)
	}
	out.Flush()

	// Inspect exit code to verify successful exit
	inspectResp, err := e.client.ContainerExecInspect(opts.Ctx, execCreateResp.ID)
	if err != nil {
		return fmt.Errorf("failed to inspect exec instance: %v", err)
	}

	switch code := inspectResp.ExitCode; {
	case code == notFoundExitCode:
		return fmt.Errorf("%w: %v", common.ErrActionNotFound, opts.Script)
	case code != 0:
		return &common.ExitError{Code: code}
	}
	return nil
}
