package executor

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/ConnorShore/conveyor/internal/common"
	"github.com/ConnorShore/conveyor/internal/pipeline"
)

type ExecutorOpts struct {
	Ctx           context.Context
	Script        pipeline.Script
	Vars          common.VariableMap
	WorkingDir    string
	EnvironmentId string // any potential runner environment id (e.g. container id)
}

// Runs a single opaque action. Implementations stream captured output line by
// line through onStdOut and report the action's outcome through the returned
// error: nil for a zero exit, common.ErrActionNotFound when the action could
// not be located or started, *common.ExitError for a non-zero exit.
type Executor interface {
	Execute(opts ExecutorOpts, onStdOut func(line string)) error
}

// Converts script to a single line
func makeSingleLineScript(s pipeline.Script) string {
	return strings.Join(strings.Split(strings.TrimSpace(string(s)), "\n"), " && ")
}

// io.Writer that splits its input into lines for the onStdOut callback
type lineWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	onLine func(line string)
}

func newLineWriter(onLine func(line string)) *lineWriter {
	return &lineWriter{onLine: onLine}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := string(w.buf.Next(idx + 1))
		w.onLine(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Emits any trailing output that did not end in a newline
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		w.onLine(strings.TrimRight(w.buf.String(), "\r\n"))
		w.buf.Reset()
	}
}
