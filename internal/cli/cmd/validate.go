package cmd

import (
	"fmt"

	"github.com/ConnorShore/conveyor/internal/pipeline"
	"github.com/spf13/cobra"
)

var validateFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and validate a pipeline file without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pipeline.ParsePipelineFile(validateFile)
		if err != nil {
			return fmt.Errorf("failed to parse pipeline: %v", err)
		}

		if valid, errs := pipeline.ValidatePipeline(p); !valid {
			for _, e := range errs {
				fmt.Printf("error: %v\n", e)
			}
			return fmt.Errorf("pipeline [%v] is not valid", p.Name)
		}

		fmt.Printf("pipeline [%v] is valid: %d stage(s)\n", p.Name, len(p.Stages))
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", ".conveyor/pipeline.yaml", "pipeline definition file")
	rootCmd.AddCommand(validateCmd)
}
