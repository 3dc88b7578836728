package cmd

import (
	"fmt"

	"github.com/ConnorShore/conveyor/internal/artifact"
	"github.com/ConnorShore/conveyor/internal/common"
	"github.com/ConnorShore/conveyor/internal/pipeline"
	"github.com/ConnorShore/conveyor/internal/runner"
	"github.com/spf13/cobra"
)

var (
	pipelineFile string
	buildNumber  int
	workDir      string
	archiveDir   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a pipeline to completion and print its log",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pipeline.ParsePipelineFile(pipelineFile)
		if err != nil {
			return fmt.Errorf("failed to load pipeline: %v", err)
		}

		engine, err := buildEngine(p)
		if err != nil {
			return err
		}

		outcome, err := engine.Run(buildNumber, runner.TriggerMetadata{Source: "manual"})
		if err != nil {
			return err
		}

		fmt.Print(outcome.Log)
		for _, a := range outcome.Artifacts {
			fmt.Printf("artifact: %s (sha256 %s)\n", a.Name, a.SHA256)
		}

		if outcome.Status != common.StatusSuccess {
			return fmt.Errorf("run #%v failed: %v", buildNumber, outcome.Cause)
		}

		fmt.Printf("run #%v succeeded\n", buildNumber)
		return nil
	},
}

func buildEngine(p *pipeline.Pipeline) (*runner.Engine, error) {
	opts := runner.EngineOpts{
		Pipeline:   p,
		Logger:     logger,
		WorkingDir: workDir,
	}
	if archiveDir != "" {
		opts.Store = artifact.NewFileStore(archiveDir)
	}
	return runner.NewEngine(opts)
}

func init() {
	runCmd.Flags().StringVarP(&pipelineFile, "file", "f", ".conveyor/pipeline.yaml", "pipeline definition file")
	runCmd.Flags().IntVarP(&buildNumber, "build-number", "n", 1, "build number supplied by the invoking caller")
	runCmd.Flags().StringVar(&workDir, "workdir", "", "run working directory (default: fresh temp dir)")
	runCmd.Flags().StringVar(&archiveDir, "archive-dir", "", "directory to archive run logs and artifacts")
	rootCmd.AddCommand(runCmd)
}
