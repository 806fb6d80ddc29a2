package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/coherence"
	"github.com/Lego4005/nfl-predictor-api-sub003/internal/pipeline"
)

type slateFile struct {
	Slate   coherence.Slate       `json:"slate"`
	Context coherence.GameContext `json:"context,omitempty"`
}

func projectCmd(g *globalFlags) *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Project a game slate onto the coherence constraints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(g)
			if err != nil {
				return err
			}
			var in slateFile
			if err := readJSON(input, &in); err != nil {
				return fmt.Errorf("read %s: %w", input, err)
			}
			proc := pipeline.New(pipeline.Services{
				Projector: coherence.New(cfg.Coherence, coherence.WithLogger(log)),
			}, pipeline.WithLogger(log))
			res, err := proc.ProjectSlate(cmd.Context(), in.Slate, in.Context)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&input, "input", "slate.json", "slate file, - for stdin")
	return cmd
}
