package trigger

import (
	"errors"
	"fmt"

	"github.com/ConnorShore/conveyor/internal/common"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Invoked on every trigger fire. The build number is supplied by the caller
// that owns the build counter.
type StartFunc func(source string) error

// Schedules pipeline runs from a cron spec. Overlapping fires are not a
// special case here: the engine's concurrency exclusion rejects a fire that
// lands while a run is still active, and the rejection is just logged.
type CronTrigger struct {
	spec   string
	cron   *cron.Cron
	start  StartFunc
	logger *zap.Logger
}

func NewCronTrigger(spec string, start StartFunc, logger *zap.Logger) (*CronTrigger, error) {
	if spec == "" {
		return nil, fmt.Errorf("cron trigger requires a spec")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid cron spec [%v]: %v", spec, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CronTrigger{
		spec:   spec,
		cron:   cron.New(),
		start:  start,
		logger: logger,
	}, nil
}

// Begins firing on the schedule until Stop is called
func (t *CronTrigger) Start() error {
	_, err := t.cron.AddFunc(t.spec, func() {
		if err := t.start("cron"); err != nil {
			if errors.Is(err, common.ErrConcurrentRunRejected) {
				t.logger.Info("cron fire skipped, a run is still active")
				return
			}
			t.logger.Error("cron-triggered run failed to start", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule cron trigger: %v", err)
	}

	t.cron.Start()
	return nil
}

// Stops firing; a run already started is left to finish on its own
func (t *CronTrigger) Stop() {
	t.cron.Stop()
}
