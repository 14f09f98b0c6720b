package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/config"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "balance-orchestrator",
		Short: "Balance-training session orchestrator",
		Long: "balance-orchestrator connects the insole backend, the port-selection front end and the\n" +
			"headset, and runs the balance exercise program from operator commands.",
		SilenceUsage: true,
	}
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newRunCmd(),
		newProgramCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}
