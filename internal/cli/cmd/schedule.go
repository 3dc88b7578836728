package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/ConnorShore/conveyor/internal/pipeline"
	"github.com/ConnorShore/conveyor/internal/runner"
	"github.com/ConnorShore/conveyor/internal/trigger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	scheduleFile     string
	firstBuildNumber int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline on its declared cron trigger until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pipeline.ParsePipelineFile(scheduleFile)
		if err != nil {
			return fmt.Errorf("failed to load pipeline: %v", err)
		}
		if p.Triggers.Cron == "" {
			return fmt.Errorf("pipeline [%v] declares no cron trigger", p.Name)
		}

		engine, err := buildEngine(p)
		if err != nil {
			return err
		}

		var buildSeq atomic.Int64
		buildSeq.Store(int64(firstBuildNumber) - 1)

		cronTrigger, err := trigger.NewCronTrigger(p.Triggers.Cron, func(source string) error {
			build := int(buildSeq.Add(1))
			run, err := engine.StartRun(build, runner.TriggerMetadata{Source: source})
			if err != nil {
				return err
			}

			go func() {
				outcome := run.Wait()
				logger.Info("scheduled run finished",
					zap.Int("build", build),
					zap.String("status", string(outcome.Status)))
			}()
			return nil
		}, logger)
		if err != nil {
			return err
		}

		if err := cronTrigger.Start(); err != nil {
			return err
		}
		defer cronTrigger.Stop()

		fmt.Printf("scheduling pipeline [%v] on [%v], press ctrl-c to stop\n", p.Name, p.Triggers.Cron)

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		return nil
	},
}

func init() {
	scheduleCmd.Flags().StringVarP(&scheduleFile, "file", "f", ".conveyor/pipeline.yaml", "pipeline definition file")
	scheduleCmd.Flags().IntVarP(&firstBuildNumber, "build-number", "n", 1, "build number for the first triggered run")
	rootCmd.AddCommand(scheduleCmd)
}
