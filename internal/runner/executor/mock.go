package executor

import (
	"sync"
	"time"

	"github.com/ConnorShore/conveyor/internal/pipeline"
)

// In-memory Executor for tests. Records every script it is asked to run, in
// order, and can be told to fail or stall on specific scripts.
type MockExecutor struct {
	mu       sync.Mutex
	executed []string

	// Result per script; a missing entry means success
	Results map[pipeline.Script]error

	// Simulated action duration, honored only until the run context expires
	Delay time.Duration
}

func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		Results: make(map[pipeline.Script]error),
	}
}

func (m *MockExecutor) Execute(opts ExecutorOpts, onStdOut func(line string)) error {
	if err := opts.Ctx.Err(); err != nil {
		return err
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-opts.Ctx.Done():
			return opts.Ctx.Err()
		}
	}

	m.mu.Lock()
	m.executed = append(m.executed, string(opts.Script))
	m.mu.Unlock()

	onStdOut("mock: " + string(opts.Script))
	return m.Results[opts.Script]
}

// The scripts executed so far, in order
func (m *MockExecutor) Executed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.executed))
	copy(out, m.executed)
	return out
}
