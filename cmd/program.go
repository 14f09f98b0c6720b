package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/config"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/exercise"
)

func newProgramCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "program",
		Short: "Validate and print the exercise program",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			program, err := loadProgram(cfg)
			if err != nil {
				return err
			}
			return printProgram(cmd.OutOrStdout(), program)
		},
	}
}

func loadProgram(cfg config.Config) (*exercise.Program, error) {
	if cfg.Program.File == "" {
		return exercise.DefaultProgram(), nil
	}
	return exercise.LoadFile(cfg.Program.File)
}

func printProgram(w io.Writer, program *exercise.Program) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDURATION\tLEGS\tGREEN\tRED")
	for _, d := range program.All() {
		red := "-"
		if d.Red != nil {
			red = d.Red.String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Duration(), d.Legs, d.Green, red)
	}
	return tw.Flush()
}
