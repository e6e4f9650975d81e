package main

import (
	"context"
	"crypto/ed25519"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/code-payments/stake-pool-server/pkg/solana"
)

var (
	depositCmd = cobra.Command{
		Use:   "deposit <lamports> [share account]",
		Short: "Deposit lamports from the payer and mint shares into a share account",
		Long: "Deposit lamports from the payer and mint shares into a share account.\n" +
			"Without a share account the payer's associated account is used, and\n" +
			"created first when missing.",
		Args: cobra.RangeArgs(1, 2),
		RunE:  runDeposit,
	}

	withdrawCmd = cobra.Command{
		Use:   "withdraw <shares> <share account> <target>",
		Short: "Burn shares from a payer owned share account and send the lamports to target",
		Args:  cobra.ExactArgs(3),
		RunE:  runWithdraw,
	}

	creditCmd = cobra.Command{
		Use:   "credit <shares> <share account> <target>",
		Short: "Queue shares from a payer owned share account for a lamport payout to target",
		Args:  cobra.ExactArgs(3),
		RunE:  runCredit,
	}

	cancelCreditCmd = cobra.Command{
		Use:   "cancel-credit <shares> <share account>",
		Short: "Cancel queued credits and return the shares to a share account",
		Args:  cobra.ExactArgs(2),
		RunE:  runCancelCredit,
	}

	cancelAuthorityPath string
)

func init() {
	creditCmd.Flags().StringVar(&cancelAuthorityPath, "cancel-authority", "", "keypair allowed to cancel the credit (default payer)")
	cancelCreditCmd.Flags().StringVar(&cancelAuthorityPath, "cancel-authority", "", "keypair the credits were queued under (default payer)")
}

func runDeposit(c *cobra.Command, args []string) error {
	amount, err := parseAmount(args[0])
	if err != nil {
		return err
	}

	var destination ed25519.PublicKey
	if len(args) == 2 {
		if destination, err = solana.ParsePublicKey(args[1]); err != nil {
			return err
		}
	}

	return exclusive(c.Context(), func(ctx context.Context, env *environment) error {
		return env.driver.Deposit(ctx, amount, destination)
	})
}

func runWithdraw(c *cobra.Command, args []string) error {
	shares, err := parseAmount(args[0])
	if err != nil {
		return err
	}
	keys, err := parseKeys(args[1:])
	if err != nil {
		return err
	}

	return exclusive(c.Context(), func(ctx context.Context, env *environment) error {
		return env.driver.Withdraw(ctx, shares, keys[0], keys[1])
	})
}

func runCredit(c *cobra.Command, args []string) error {
	shares, err := parseAmount(args[0])
	if err != nil {
		return err
	}
	keys, err := parseKeys(args[1:])
	if err != nil {
		return err
	}

	return exclusive(c.Context(), func(ctx context.Context, env *environment) error {
		cancelAuthority := env.driver.Payer()
		if cancelAuthorityPath != "" {
			key, err := solana.LoadKeypair(cancelAuthorityPath)
			if err != nil {
				return err
			}
			cancelAuthority = key.Public().(ed25519.PublicKey)
		}
		return env.driver.Credit(ctx, shares, keys[0], keys[1], cancelAuthority)
	})
}

func runCancelCredit(c *cobra.Command, args []string) error {
	shares, err := parseAmount(args[0])
	if err != nil {
		return err
	}
	target, err := solana.ParsePublicKey(args[1])
	if err != nil {
		return err
	}

	path := cancelAuthorityPath
	if path == "" {
		path = conf.PayerKeypair
	}
	cancelAuthority, err := solana.LoadKeypair(path)
	if err != nil {
		return err
	}

	return exclusive(c.Context(), func(ctx context.Context, env *environment) error {
		return env.driver.CancelCredit(ctx, shares, cancelAuthority, target)
	})
}

func parseAmount(s string) (uint64, error) {
	amount, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid amount %q", s)
	}
	if amount == 0 {
		return 0, errors.New("amount must be positive")
	}
	return amount, nil
}
