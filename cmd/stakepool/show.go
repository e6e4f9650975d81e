package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	stakepool_program "github.com/code-payments/stake-pool-server/pkg/solana/stakepool"
	"github.com/code-payments/stake-pool-server/pkg/solana/token"
	"github.com/code-payments/stake-pool-server/pkg/stakepool"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/state"
)

var (
	showCmd = cobra.Command{
		Use:   "show",
		Short: "Print the pool, its roster with every slot, and the credit queue",
		Args:  cobra.NoArgs,
		RunE:  runShow,
	}

	showOutput string
)

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "text", "output format: text, json or yaml")
}

type poolView struct {
	Address         string `json:"address" yaml:"address"`
	Epoch           uint64 `json:"epoch" yaml:"epoch"`
	LastEpochUpdate uint64 `json:"last_epoch_update" yaml:"last_epoch_update"`
	Owner           string `json:"owner" yaml:"owner"`
	PoolMint        string `json:"pool_mint" yaml:"pool_mint"`
	OwnerFeeAccount string `json:"owner_fee_account" yaml:"owner_fee_account"`
	ValidatorList   string `json:"validator_list" yaml:"validator_list"`
	CreditList      string `json:"credit_list" yaml:"credit_list"`
	CreditReserve   string `json:"credit_reserve" yaml:"credit_reserve"`
	Reserve         string `json:"reserve" yaml:"reserve"`
	ReserveLamports uint64 `json:"reserve_lamports" yaml:"reserve_lamports"`
	StakeTotal      uint64 `json:"stake_total" yaml:"stake_total"`
	PoolTotal       uint64 `json:"pool_total" yaml:"pool_total"`
	ShareSupply     uint64 `json:"share_supply" yaml:"share_supply"`
	FeeNumerator    uint64 `json:"fee_numerator" yaml:"fee_numerator"`
	FeeDenominator  uint64 `json:"fee_denominator" yaml:"fee_denominator"`

	// Share math for one SOL, zero when the pool's totals do not allow it.
	SharesPerSol   uint64 `json:"shares_per_sol" yaml:"shares_per_sol"`
	SharesToExit   uint64 `json:"shares_to_withdraw_sol" yaml:"shares_to_withdraw_sol"`
	LamportsPerSol uint64 `json:"lamports_per_sol_of_shares" yaml:"lamports_per_sol_of_shares"`
	FeePerSol      uint64 `json:"fee_shares_per_sol" yaml:"fee_shares_per_sol"`

	Validators []validatorView `json:"validators" yaml:"validators"`
	Creditors  []creditorView  `json:"creditors" yaml:"creditors"`
}

type validatorView struct {
	Validator       string     `json:"validator" yaml:"validator"`
	Balance         uint64     `json:"balance" yaml:"balance"`
	LastUpdateEpoch uint64     `json:"last_update_epoch" yaml:"last_update_epoch"`
	StakeCount      uint32     `json:"stake_count" yaml:"stake_count"`
	Slots           []slotView `json:"slots" yaml:"slots"`
}

type slotView struct {
	Index    uint32 `json:"index" yaml:"index"`
	Address  string `json:"address" yaml:"address"`
	State    string `json:"state" yaml:"state"`
	Lamports uint64 `json:"lamports" yaml:"lamports"`
	Active   uint64 `json:"active" yaml:"active"`
	Inactive uint64 `json:"inactive" yaml:"inactive"`
}

type creditorView struct {
	Target          string `json:"target" yaml:"target"`
	CancelAuthority string `json:"cancel_authority" yaml:"cancel_authority"`
	Amount          int64  `json:"amount" yaml:"amount"`
}

func runShow(c *cobra.Command, _ []string) error {
	if !lo.Contains([]string{"text", "json", "yaml"}, showOutput) {
		return errors.Errorf("unknown output format %q", showOutput)
	}

	return withEnvironment(c.Context(), func(ctx context.Context, env *environment) error {
		snapshot, err := env.driver.Reader().ReadSnapshot(ctx)
		if err != nil {
			return err
		}
		view := newPoolView(env.conf, snapshot)

		// The pool's own total is authoritative; the mint supply is shown for
		// comparison and is missing only when the mint cannot be read.
		mint, err := token.NewClient(env.client, snapshot.Pool.PoolMint).GetMint(ctx, env.conf.CommitmentLevel())
		if err != nil {
			env.log.WithError(err).Warn("failure reading pool mint")
		} else {
			view.ShareSupply = mint.Supply
		}

		return writeView(c.OutOrStdout(), view, showOutput)
	})
}

func newPoolView(config *stakepool.Config, snapshot *state.Snapshot) *poolView {
	pool := snapshot.Pool

	view := &poolView{
		Address:         config.PoolAddress,
		Epoch:           snapshot.Epoch,
		LastEpochUpdate: pool.LastEpochUpdate,
		Owner:           base58.Encode(pool.Owner),
		PoolMint:        base58.Encode(pool.PoolMint),
		OwnerFeeAccount: base58.Encode(pool.OwnerFeeAccount),
		ValidatorList:   base58.Encode(pool.ValidatorList),
		CreditList:      base58.Encode(pool.CreditList),
		CreditReserve:   base58.Encode(pool.CreditReserve),
		Reserve:         base58.Encode(snapshot.Authorities.Reserve),
		ReserveLamports: snapshot.ReserveLamports,
		StakeTotal:      pool.StakeTotal,
		PoolTotal:       pool.PoolTotal,
		FeeNumerator:    pool.FeeNumerator,
		FeeDenominator:  pool.FeeDenominator,
	}
	view.SharesPerSol, _ = pool.SharesForDeposit(stakepool.LamportsPerSol)
	view.SharesToExit, _ = pool.SharesForWithdrawal(stakepool.LamportsPerSol)
	view.LamportsPerSol, _ = pool.LamportsForShares(stakepool.LamportsPerSol)
	view.FeePerSol, _ = pool.FeeShares(view.SharesPerSol)

	view.Validators = lo.Map(snapshot.Roster, func(v *state.Validator, _ int) validatorView {
		return validatorView{
			Validator:       base58.Encode(v.Validator),
			Balance:         v.Balance,
			LastUpdateEpoch: v.LastUpdateEpoch,
			StakeCount:      v.StakeCount,
			Slots: lo.Map(v.Slots, func(s *state.Slot, _ int) slotView {
				return slotView{
					Index:    s.Index,
					Address:  base58.Encode(s.Address),
					State:    s.State.String(),
					Lamports: s.Lamports,
					Active:   s.Active,
					Inactive: s.Inactive,
				}
			}),
		}
	})

	view.Creditors = lo.Map(snapshot.Creditors, func(creditor stakepool_program.Creditor, _ int) creditorView {
		return creditorView{
			Target:          base58.Encode(creditor.Target),
			CancelAuthority: base58.Encode(creditor.CancelAuthority),
			Amount:          creditor.Amount,
		}
	})
	return view
}

func writeView(w io.Writer, view *poolView, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(view); err != nil {
			return err
		}
		return enc.Close()
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "pool\t%s\n", view.Address)
	fmt.Fprintf(tw, "epoch\t%d (updated %d)\n", view.Epoch, view.LastEpochUpdate)
	fmt.Fprintf(tw, "owner\t%s\n", view.Owner)
	fmt.Fprintf(tw, "mint\t%s\n", view.PoolMint)
	fmt.Fprintf(tw, "owner fee account\t%s\n", view.OwnerFeeAccount)
	fmt.Fprintf(tw, "validator list\t%s\n", view.ValidatorList)
	fmt.Fprintf(tw, "credit list\t%s\n", view.CreditList)
	fmt.Fprintf(tw, "credit reserve\t%s\n", view.CreditReserve)
	fmt.Fprintf(tw, "reserve\t%s (%d lamports)\n", view.Reserve, view.ReserveLamports)
	fmt.Fprintf(tw, "stake total\t%d\n", view.StakeTotal)
	fmt.Fprintf(tw, "pool total\t%d\n", view.PoolTotal)
	fmt.Fprintf(tw, "share supply\t%d\n", view.ShareSupply)
	fmt.Fprintf(tw, "fee\t%d/%d\n", view.FeeNumerator, view.FeeDenominator)
	fmt.Fprintf(tw, "shares per sol\t%d (fee %d)\n", view.SharesPerSol, view.FeePerSol)
	fmt.Fprintf(tw, "lamports per sol of shares\t%d\n", view.LamportsPerSol)
	fmt.Fprintf(tw, "shares to withdraw one sol\t%d\n", view.SharesToExit)

	fmt.Fprintf(tw, "\nvalidators\t%d\n", len(view.Validators))
	for _, v := range view.Validators {
		fmt.Fprintf(tw, "%s\tbalance %d\tupdated %d\tslots %d\n", v.Validator, v.Balance, v.LastUpdateEpoch, v.StakeCount)
		for _, s := range v.Slots {
			fmt.Fprintf(tw, "  [%d] %s\t%s\tlamports %d\tactive %d\tinactive %d\n", s.Index, s.Address, s.State, s.Lamports, s.Active, s.Inactive)
		}
	}

	fmt.Fprintf(tw, "\ncreditors\t%d\n", len(view.Creditors))
	for _, creditor := range view.Creditors {
		fmt.Fprintf(tw, "%s\t%d\tcancel %s\n", creditor.Target, creditor.Amount, creditor.CancelAuthority)
	}

	return tw.Flush()
}
