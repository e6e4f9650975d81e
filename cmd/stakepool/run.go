package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	config_env "github.com/code-payments/stake-pool-server/pkg/config/env"
	"github.com/code-payments/stake-pool-server/pkg/metrics"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/driver"
)

// pausedEnv is re-read before every scheduled cycle.
const pausedEnv = "STAKEPOOL_PAUSED"

var (
	runCmd = cobra.Command{
		Use:   "run",
		Short: "Run the maintenance cycle on the configured schedule and serve metrics",
		Long: "Run the maintenance cycle on the configured schedule and serve metrics.\n" +
			"Setting " + pausedEnv + "=true skips cycles until it is cleared.",
		Args: cobra.NoArgs,
		RunE: runScheduler,
	}

	runOnce         bool
	runForceRefresh bool
	runUnstakeAll   bool
)

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single cycle and exit")
	runCmd.Flags().BoolVar(&runForceRefresh, "force-refresh", false, "refresh balances even when already refreshed this epoch")
	runCmd.Flags().BoolVar(&runUnstakeAll, "unstake-all", false, "deactivate every slot at the end of each cycle")
}

func runScheduler(c *cobra.Command, _ []string) error {
	opts := driver.CycleOptions{
		ForceRefresh: runForceRefresh,
		UnstakeAll:   runUnstakeAll,
	}

	return withEnvironment(c.Context(), func(ctx context.Context, env *environment) error {
		if runOnce {
			return env.driver.RunCycle(ctx, opts)
		}

		paused := config_env.NewBoolConfig(pausedEnv, false)
		defer paused.Shutdown()

		scheduler := driver.NewScheduler(env.driver, env.conf.Schedule, opts).WithPauseSwitch(paused)

		g, ctx := errgroup.WithContext(ctx)
		if env.conf.MetricsListenAddress != "" {
			g.Go(func() error {
				return metrics.Serve(ctx, env.conf.MetricsListenAddress, env.registry)
			})
		}
		g.Go(func() error {
			return scheduler.Start(ctx)
		})
		return g.Wait()
	})
}
