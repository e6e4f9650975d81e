// Package state reads the pool's on-ledger records and classifies its stake
// slots. Nothing read here is cached; every call observes the ledger afresh.
package state

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/stake"
	"github.com/code-payments/stake-pool-server/pkg/solana/stakepool"
	"github.com/code-payments/stake-pool-server/pkg/solana/system"
)

const defaultProbeConcurrency = 8

// Reader fetches and decodes the pool's accounts.
type Reader struct {
	log *logrus.Entry

	client       solana.Client
	program      ed25519.PublicKey
	pool         ed25519.PublicKey
	authorities  *stakepool.Authorities
	commitment   solana.Commitment
	slotCapacity uint32
	concurrency  int
}

func NewReader(
	client solana.Client,
	program ed25519.PublicKey,
	pool ed25519.PublicKey,
	commitment solana.Commitment,
	slotCapacity uint32,
) (*Reader, error) {
	authorities, err := stakepool.GetAuthorities(program, pool)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive pool authorities")
	}

	return &Reader{
		log:          logrus.StandardLogger().WithField("type", "stakepool/state"),
		client:       client,
		program:      program,
		pool:         pool,
		authorities:  authorities,
		commitment:   commitment,
		slotCapacity: slotCapacity,
		concurrency:  defaultProbeConcurrency,
	}, nil
}

func (r *Reader) Authorities() *stakepool.Authorities {
	return r.authorities
}

// ReadPool returns the pool record, or nil when the pool has not been created.
func (r *Reader) ReadPool(ctx context.Context) (*stakepool.PoolAccount, error) {
	info, err := r.client.GetAccountInfo(ctx, r.pool, r.commitment)
	if err == solana.ErrNoAccountInfo {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to get pool account")
	}

	if len(info.Data) == 0 {
		return nil, nil
	}

	var pool stakepool.PoolAccount
	if err := pool.Unmarshal(info.Data); err != nil {
		return nil, &DecodeError{Record: "pool", Account: r.pool, Err: err}
	}
	if pool.Version == 0 {
		r.log.WithField("pool", base58.Encode(r.pool)).Warn("pool account allocated but not initialized")
		return nil, nil
	}
	return &pool, nil
}

// ReadRoster returns the pool's validators in stored order.
func (r *Reader) ReadRoster(ctx context.Context) ([]stakepool.ValidatorEntry, error) {
	pool, err := r.requirePool(ctx)
	if err != nil {
		return nil, err
	}
	return r.readRoster(ctx, pool.ValidatorList)
}

// ReadCreditors returns the credit queue in payout order.
func (r *Reader) ReadCreditors(ctx context.Context) ([]stakepool.Creditor, error) {
	pool, err := r.requirePool(ctx)
	if err != nil {
		return nil, err
	}
	return r.readCreditors(ctx, pool.CreditList)
}

// ReadSnapshot reads the pool, roster, credit queue, reserve balance and every
// relevant stake slot. Independent reads are issued concurrently.
func (r *Reader) ReadSnapshot(ctx context.Context) (*Snapshot, error) {
	snapshot := &Snapshot{Authorities: r.authorities}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snapshot.Pool, err = r.requirePool(gctx)
		return err
	})
	g.Go(func() error {
		info, err := r.client.GetEpochInfo(gctx, r.commitment)
		if err != nil {
			return errors.Wrap(err, "failed to get epoch info")
		}
		snapshot.Epoch = info.Epoch
		return nil
	})
	g.Go(func() (err error) {
		snapshot.ReserveLamports, err = r.client.GetBalance(gctx, r.authorities.Reserve, r.commitment)
		if err == solana.ErrNoBalance {
			snapshot.ReserveLamports, err = 0, nil
		}
		return errors.Wrap(err, "failed to get reserve balance")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var entries []stakepool.ValidatorEntry
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		entries, err = r.readRoster(gctx, snapshot.Pool.ValidatorList)
		return err
	})
	g.Go(func() (err error) {
		snapshot.Creditors, err = r.readCreditors(gctx, snapshot.Pool.CreditList)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	roster, err := r.ProbeSlots(ctx, entries)
	if err != nil {
		return nil, err
	}
	snapshot.Roster = roster

	return snapshot, nil
}

// ProbeSlots classifies the slots of every validator. For a validator with
// stakeCount slots in use, indices [0, stakeCount] are probed, capped at the
// slot capacity, so the first free index is always observed when one exists.
//
// A slot whose probe fails is reported with an unknown state rather than
// failing the read.
func (r *Reader) ProbeSlots(ctx context.Context, entries []stakepool.ValidatorEntry) ([]*Validator, error) {
	roster := make([]*Validator, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, entry := range entries {
		entry := entry
		validator := &Validator{ValidatorEntry: entry}
		roster[i] = validator

		count := r.slotCapacity
		if entry.StakeCount < count {
			count = entry.StakeCount + 1
		}

		validator.Slots = make([]*Slot, count)
		for index := uint32(0); index < count; index++ {
			address, _, err := stakepool.GetStakeAddress(&stakepool.GetStakeAddressArgs{
				Program:   r.program,
				Validator: entry.Validator,
				Pool:      r.pool,
				Index:     index,
			})
			if err != nil {
				return nil, errors.Wrap(err, "failed to derive stake slot address")
			}

			slot := &Slot{Index: index, Address: address}
			validator.Slots[index] = slot

			g.Go(func() error {
				r.probe(gctx, entry.Validator, slot)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return roster, nil
}

func (r *Reader) probe(ctx context.Context, validator ed25519.PublicKey, slot *Slot) {
	log := r.log.WithFields(logrus.Fields{
		"method":    "probe",
		"validator": base58.Encode(validator),
		"slot":      slot.Index,
	})

	info, err := r.client.GetAccountInfo(ctx, slot.Address, r.commitment)
	if err == solana.ErrNoAccountInfo {
		slot.State = stake.ActivationStateUninitialized
		return
	} else if err != nil {
		log.WithError(err).Debug("failed to get stake slot account")
		slot.State = stake.ActivationStateUnknown
		return
	}

	slot.Lamports = info.Lamports

	switch {
	case len(info.Owner) == 0 || bytes.Equal(info.Owner, system.ProgramKey):
		slot.State = stake.ActivationStateUninitialized
		return
	case !bytes.Equal(info.Owner, stake.ProgramKey):
		log.WithField("owner", base58.Encode(info.Owner)).Debug("stake slot has an unexpected owner")
		slot.State = stake.ActivationStateUnknown
		return
	}

	var account stake.Account
	if err := account.Unmarshal(info.Data); err != nil {
		log.WithError(err).Debug("failed to decode stake slot")
		slot.State = stake.ActivationStateUnknown
		return
	}

	switch account.State {
	case stake.StateInitialized:
		slot.State = stake.ActivationStateInactive
		slot.Inactive = info.Lamports
		return
	case stake.StateStake:
	default:
		slot.State = stake.ActivationStateUnknown
		return
	}

	activation, err := r.client.GetStakeActivation(ctx, slot.Address, r.commitment)
	if err != nil {
		log.WithError(err).Debug("failed to get stake activation")
		slot.State = stake.ActivationStateUnknown
		return
	}

	state, err := stake.ParseActivationState(activation.State)
	if err != nil {
		log.WithError(err).Debug("unexpected activation state")
	}
	slot.State = state
	slot.Active = activation.Active
	slot.Inactive = activation.Inactive
}

func (r *Reader) requirePool(ctx context.Context) (*stakepool.PoolAccount, error) {
	pool, err := r.ReadPool(ctx)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

func (r *Reader) readRoster(ctx context.Context, address ed25519.PublicKey) ([]stakepool.ValidatorEntry, error) {
	info, err := r.client.GetAccountInfo(ctx, address, r.commitment)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get validator list account")
	}

	var roster stakepool.ValidatorListAccount
	if err := roster.Unmarshal(info.Data); err != nil {
		return nil, &DecodeError{Record: "validator list", Account: address, Err: err}
	}
	return roster.Validators, nil
}

func (r *Reader) readCreditors(ctx context.Context, address ed25519.PublicKey) ([]stakepool.Creditor, error) {
	info, err := r.client.GetAccountInfo(ctx, address, r.commitment)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get credit list account")
	}

	var creditors stakepool.CreditListAccount
	if err := creditors.Unmarshal(info.Data); err != nil {
		return nil, &DecodeError{Record: "credit list", Account: address, Err: err}
	}
	return creditors.Creditors, nil
}
