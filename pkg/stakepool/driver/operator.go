package driver

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/stakepool"
	"github.com/code-payments/stake-pool-server/pkg/solana/token"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/data/journal"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/state"
)

// Deposit moves amount lamports from the payer into the reserve and mints the
// matching shares into destination. A nil destination deposits into the
// payer's associated share account, creating it in the same transaction when
// it does not exist yet.
func (d *Driver) Deposit(ctx context.Context, amount uint64, destination ed25519.PublicKey) error {
	_, err := d.run(ctx, journal.StepDeposit, true, func(_ context.Context, snapshot *state.Snapshot) (*batch, error) {
		var instructions []solana.Instruction

		to := destination
		if to == nil {
			create, address, err := token.CreateAssociatedTokenAccountIdempotent(d.submitter.Payer(), d.submitter.Payer(), snapshot.Pool.PoolMint)
			if err != nil {
				return nil, err
			}
			instructions = append(instructions, create)
			to = address
		}

		instruction, err := d.depositInstruction(snapshot, amount, to)
		if err != nil {
			return nil, err
		}
		return &batch{instructions: append(instructions, instruction)}, nil
	})
	return err
}

func (d *Driver) depositInstruction(snapshot *state.Snapshot, amount uint64, destination ed25519.PublicKey) (solana.Instruction, error) {
	return stakepool.NewDepositInstruction(
		d.program,
		&stakepool.DepositInstructionAccounts{
			Pool:              d.pool,
			WithdrawAuthority: snapshot.Authorities.Withdraw,
			Reserve:           snapshot.Authorities.Reserve,
			Source:            d.submitter.Payer(),
			Destination:       destination,
			OwnerFeeAccount:   snapshot.Pool.OwnerFeeAccount,
			PoolMint:          snapshot.Pool.PoolMint,
			TokenProgram:      snapshot.Pool.TokenProgram,
		},
		&stakepool.DepositInstructionArgs{Amount: amount},
	)
}

// Withdraw burns shares from the payer owned tokenAccount and pays the backing
// lamports from the reserve to target. The withdraw authority is approved as
// the token account's delegate in the same transaction.
func (d *Driver) Withdraw(ctx context.Context, shares uint64, tokenAccount, target ed25519.PublicKey) error {
	_, err := d.run(ctx, journal.StepWithdraw, true, func(ctx context.Context, snapshot *state.Snapshot) (*batch, error) {
		if err := d.checkShares(ctx, snapshot, tokenAccount, shares); err != nil {
			return nil, err
		}

		withdraw, err := stakepool.NewWithdrawInstruction(
			d.program,
			&stakepool.WithdrawInstructionAccounts{
				Pool:              d.pool,
				WithdrawAuthority: snapshot.Authorities.Withdraw,
				Reserve:           snapshot.Authorities.Reserve,
				BurnFrom:          tokenAccount,
				PoolMint:          snapshot.Pool.PoolMint,
				Target:            target,
				TokenProgram:      snapshot.Pool.TokenProgram,
			},
			&stakepool.WithdrawInstructionArgs{Amount: shares},
		)
		if err != nil {
			return nil, err
		}

		return &batch{instructions: []solana.Instruction{
			token.Approve(tokenAccount, snapshot.Authorities.Withdraw, d.submitter.Payer(), shares),
			withdraw,
		}}, nil
	})
	return err
}

// Credit moves shares from the payer owned tokenSource into the credit reserve
// and queues a lamport payout to solTarget. cancelAuthority may later cancel
// the credit.
func (d *Driver) Credit(ctx context.Context, shares uint64, tokenSource, solTarget, cancelAuthority ed25519.PublicKey) error {
	_, err := d.run(ctx, journal.StepCredit, true, func(ctx context.Context, snapshot *state.Snapshot) (*batch, error) {
		if err := d.checkShares(ctx, snapshot, tokenSource, shares); err != nil {
			return nil, err
		}

		credit, err := stakepool.NewCreditInstruction(
			d.program,
			&stakepool.CreditInstructionAccounts{
				Pool:              d.pool,
				CreditList:        snapshot.Pool.CreditList,
				CreditReserve:     snapshot.Pool.CreditReserve,
				WithdrawAuthority: snapshot.Authorities.Withdraw,
				TokenSource:       tokenSource,
				SolTarget:         solTarget,
				CancelAuthority:   cancelAuthority,
				TokenProgram:      snapshot.Pool.TokenProgram,
			},
			&stakepool.CreditInstructionArgs{Amount: shares},
		)
		if err != nil {
			return nil, err
		}

		return &batch{instructions: []solana.Instruction{
			token.Approve(tokenSource, snapshot.Authorities.Withdraw, d.submitter.Payer(), shares),
			credit,
		}}, nil
	})
	return err
}

// checkShares fails with ErrInvalidArgs unless address is a payer owned share
// account holding at least shares, since the payer approves the transfer out
// of it.
func (d *Driver) checkShares(ctx context.Context, snapshot *state.Snapshot, address ed25519.PublicKey, shares uint64) error {
	account, err := token.NewClient(d.client, snapshot.Pool.PoolMint).GetAccount(ctx, address, d.commitment)
	switch {
	case errors.Is(err, token.ErrAccountNotFound), errors.Is(err, token.ErrInvalidTokenAccount):
		return errors.Wrapf(stakepool.ErrInvalidArgs, "%s is not a share account (%v)", base58.Encode(address), err)
	case err != nil:
		return err
	case !bytes.Equal(account.Owner, d.submitter.Payer()):
		return errors.Wrapf(stakepool.ErrInvalidArgs, "%s is not owned by the payer", base58.Encode(address))
	case account.Amount < shares:
		return errors.Wrapf(stakepool.ErrInvalidArgs, "%s holds %d shares, fewer than %d", base58.Encode(address), account.Amount, shares)
	}
	return nil
}

// CancelCredit withdraws shares from pending credits queued under
// cancelAuthority and returns them to tokenTarget.
func (d *Driver) CancelCredit(ctx context.Context, shares uint64, cancelAuthority ed25519.PrivateKey, tokenTarget ed25519.PublicKey) error {
	if shares == 0 || shares > 1<<63-1 {
		return errors.Wrap(stakepool.ErrInvalidArgs, "cancel amount out of range")
	}

	_, err := d.run(ctx, journal.StepCancelCredit, true, func(_ context.Context, snapshot *state.Snapshot) (*batch, error) {
		instruction, err := stakepool.NewCancelCreditInstruction(
			d.program,
			&stakepool.CancelCreditInstructionAccounts{
				Pool:              d.pool,
				CreditList:        snapshot.Pool.CreditList,
				CreditReserve:     snapshot.Pool.CreditReserve,
				WithdrawAuthority: snapshot.Authorities.Withdraw,
				CancelAuthority:   publicKey(cancelAuthority),
				TokenTarget:       tokenTarget,
				TokenProgram:      snapshot.Pool.TokenProgram,
			},
			&stakepool.CancelCreditInstructionArgs{Amount: -int64(shares)},
		)
		if err != nil {
			return nil, err
		}

		b := &batch{instructions: []solana.Instruction{instruction}}
		if !bytes.Equal(publicKey(cancelAuthority), d.submitter.Payer()) {
			b.signers = []ed25519.PrivateKey{cancelAuthority}
		}
		return b, nil
	})
	return err
}

// AddValidators appends validators to the roster, skipping any already
// present. With no validators given, every current vote account not yet in
// the roster is added.
func (d *Driver) AddValidators(ctx context.Context, validators []ed25519.PublicKey) error {
	log := d.log.WithField("method", "AddValidators")

	if d.owner == nil {
		return ErrOwnerRequired
	}

	if len(validators) == 0 {
		voteAccounts, err := d.client.GetVoteAccounts(ctx, d.commitment)
		if err != nil {
			return errors.Wrap(err, "failed to get vote accounts")
		}
		validators = lo.Map(voteAccounts, func(v solana.VoteAccount, _ int) ed25519.PublicKey {
			return v.VotePubkey
		})
		log.WithField("vote_accounts", len(validators)).Info("adding current vote accounts")
	}

	_, err := d.run(ctx, journal.StepAddValidators, false, func(_ context.Context, snapshot *state.Snapshot) (*batch, error) {
		missing := lo.UniqBy(lo.Filter(validators, func(v ed25519.PublicKey, _ int) bool {
			return !lo.ContainsBy(snapshot.Roster, func(entry *state.Validator) bool {
				return bytes.Equal(entry.Validator, v)
			})
		}), func(v ed25519.PublicKey) string {
			return string(v)
		})
		if len(missing) == 0 {
			return nil, nil
		}

		instructions, _, err := d.fit(len(missing), func(k int) ([]solana.Instruction, error) {
			return stakepool.NewAddValidatorInstructions(
				d.program,
				&stakepool.AddValidatorInstructionAccounts{
					Pool:          d.pool,
					Owner:         publicKey(d.owner),
					ValidatorList: snapshot.Pool.ValidatorList,
				},
				&stakepool.AddValidatorInstructionArgs{Validators: missing[:k]},
			)
		})
		if err != nil {
			return nil, err
		}

		log.WithField("validators", len(instructions)).Info("adding validators")
		return &batch{instructions: instructions, signers: []ed25519.PrivateKey{d.owner}}, nil
	})
	return err
}

// RemovalCandidates returns the roster validators with no slot in use. No
// instruction removes a validator; the list is informational.
func (d *Driver) RemovalCandidates(ctx context.Context) ([]ed25519.PublicKey, error) {
	snapshot, err := d.reader.ReadSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	candidates := lo.FilterMap(snapshot.Roster, func(v *state.Validator, _ int) (ed25519.PublicKey, bool) {
		return v.Validator, v.SlotsInUse() == 0
	})

	d.log.WithFields(logrus.Fields{
		"method":     "RemovalCandidates",
		"candidates": len(candidates),
		"roster":     len(snapshot.Roster),
	}).Debug("removal candidates listed")
	return candidates, nil
}
