// Command stakepool operates a stake pool: genesis, inspection, operator
// flows and the scheduled maintenance cycle.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cmd = cobra.Command{
	Use:               "stakepool",
	Short:             "Operate a Solana stake pool",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: teardown,
}

var configPath string

func init() {
	cmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "configuration file path")

	cmd.AddCommand(
		&createCmd,
		&showCmd,
		&vaddCmd,
		&vremCandidatesCmd,
		&depositCmd,
		&withdrawCmd,
		&creditCmd,
		&cancelCreditCmd,
		&payCmd,
		&mergeCmd,
		&updateCmd,
		&delCmd,
		&unstakeCmd,
		&runCmd,
		&journalCmd,
	)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	cobra.CheckErr(cmd.ExecuteContext(ctx))
}
