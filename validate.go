package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"automation-engine/services/workflow"
)

func newValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate workflow definition files",
		ArgsUsage: "FILE...",
		Action: func(ctx context.Context, command *cli.Command) error {
			files := command.Args().Slice()
			if len(files) == 0 {
				return fmt.Errorf("validate: at least one workflow file is required")
			}

			registry := workflow.NewDefaultRegistry(nil)
			failed := 0
			for _, path := range files {
				if err := validateFile(path, registry); err != nil {
					fmt.Fprintf(command.Root().ErrWriter, "%s: %v\n", path, err)
					failed++
					continue
				}
				fmt.Fprintf(command.Root().Writer, "%s: ok\n", path)
			}
			if failed > 0 {
				return fmt.Errorf("validate: %d of %d files invalid", failed, len(files))
			}
			return nil
		},
	}
}

func validateFile(path string, registry *workflow.Registry) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var wf workflow.Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return fmt.Errorf("decode workflow: %w", err)
	}
	return workflow.ValidateWorkflow(&wf, registry)
}
