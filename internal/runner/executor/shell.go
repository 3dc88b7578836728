package executor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/ConnorShore/conveyor/internal/common"
)

// Exit code shells use when the command itself could not be found
const notFoundExitCode = 127

// Runs actions directly on the host through "sh -c"
type ShellExecutor struct{}

func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{}
}

func (e *ShellExecutor) Execute(opts ExecutorOpts, onStdOut func(line string)) error {
	cmd := exec.CommandContext(opts.Ctx, "sh", "-c", makeSingleLineScript(opts.Script))
	cmd.Dir = opts.WorkingDir
	cmd.Env = append(os.Environ(), common.VariablesMapToSlice(opts.Vars)...)

	out := newLineWriter(onStdOut)
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	out.Flush()
	if err == nil {
		return nil
	}

	// The run context expiring takes priority over whatever the killed
	// process reported
	if ctxErr := opts.Ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return fmt.Errorf("%w: %v", common.ErrActionNotFound, err)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code == notFoundExitCode {
			return fmt.Errorf("%w: %v", common.ErrActionNotFound, opts.Script)
		}
		return &common.ExitError{Code: code}
	}

	return fmt.Errorf("command execution failed: %v", err)
}
