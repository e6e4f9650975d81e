package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/code-payments/stake-pool-server/pkg/solana"
)

var (
	payCmd = cobra.Command{
		Use:   "pay",
		Short: "Pay queued creditors the reserve can cover",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return exclusive(c.Context(), func(ctx context.Context, env *environment) error {
				return env.driver.PayCreditorsBatch(ctx)
			})
		},
	}

	mergeCmd = cobra.Command{
		Use:   "merge",
		Short: "Merge every validator's active slots into its first active slot",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return exclusive(c.Context(), func(ctx context.Context, env *environment) error {
				return env.driver.MergeAll(ctx)
			})
		},
	}

	updateCmd = cobra.Command{
		Use:   "update",
		Short: "Merge, then update validator and pool balances, even when already updated this epoch",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return exclusive(c.Context(), func(ctx context.Context, env *environment) error {
				return env.driver.Refresh(ctx, true)
			})
		},
	}

	delCmd = cobra.Command{
		Use:   "del",
		Short: "Delegate reserve lamports across the roster",
		Args:  cobra.NoArgs,
		RunE:  runDelegate,
	}

	unstakeCmd = cobra.Command{
		Use:   "unstake",
		Short: "Deactivate stake",
		Long: "Deactivate stake. Without --validator every active or activating slot is\n" +
			"deactivated. With --validator and no --amount, every slot of that validator\n" +
			"is deactivated; with --amount, that many lamports are split off one active\n" +
			"slot and deactivated.",
		Args: cobra.NoArgs,
		RunE: runUnstake,
	}

	delAmount        uint64
	unstakeValidator string
	unstakeAmount    uint64
)

func init() {
	delCmd.Flags().Uint64Var(&delAmount, "amount", 0, "lamports to delegate (default everything above the minimum reserve)")

	unstakeCmd.Flags().StringVar(&unstakeValidator, "validator", "", "vote account to unstake from")
	unstakeCmd.Flags().Uint64Var(&unstakeAmount, "amount", 0, "lamports to unstake, requires --validator")
}

func runDelegate(c *cobra.Command, _ []string) error {
	return exclusive(c.Context(), func(ctx context.Context, env *environment) error {
		amount := delAmount
		if amount == 0 {
			snapshot, err := env.driver.Reader().ReadSnapshot(ctx)
			if err != nil {
				return err
			}
			minReserve, err := env.driver.MinReserve(ctx)
			if err != nil {
				return err
			}
			if snapshot.ReserveLamports <= minReserve {
				return errors.Errorf("reserve holds %d lamports, no more than the minimum %d", snapshot.ReserveLamports, minReserve)
			}
			amount = snapshot.ReserveLamports - minReserve
		}

		env.log.WithFields(logrus.Fields{
			"method": "runDelegate",
			"amount": amount,
		}).Info("delegating reserve")
		return env.driver.DelegateBatch(ctx, amount)
	})
}

func runUnstake(c *cobra.Command, _ []string) error {
	if unstakeValidator == "" {
		if unstakeAmount != 0 {
			return errors.New("--amount requires --validator")
		}
		return exclusive(c.Context(), func(ctx context.Context, env *environment) error {
			return env.driver.UnstakeAll(ctx)
		})
	}

	validator, err := solana.ParsePublicKey(unstakeValidator)
	if err != nil {
		return err
	}
	return exclusive(c.Context(), func(ctx context.Context, env *environment) error {
		return env.driver.Unstake(ctx, validator, unstakeAmount)
	})
}
