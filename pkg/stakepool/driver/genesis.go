package driver

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/stake-pool-server/pkg/retry"
	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/stakepool"
	"github.com/code-payments/stake-pool-server/pkg/solana/system"
	"github.com/code-payments/stake-pool-server/pkg/solana/token"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/data/journal"
)

const shareDecimals = 9

// Genesis holds the keypairs of every account created with the pool.
type Genesis struct {
	Pool          ed25519.PrivateKey
	ValidatorList ed25519.PrivateKey
	CreditList    ed25519.PrivateKey
	PoolMint      ed25519.PrivateKey
	OwnerFee      ed25519.PrivateKey
	CreditReserve ed25519.PrivateKey
}

// NewGenesis generates fresh keypairs for every account but the pool itself.
func NewGenesis(pool ed25519.PrivateKey) (*Genesis, error) {
	g := &Genesis{Pool: pool}
	for _, dst := range []*ed25519.PrivateKey{
		&g.ValidatorList,
		&g.CreditList,
		&g.PoolMint,
		&g.OwnerFee,
		&g.CreditReserve,
	} {
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, errors.Wrap(err, "failed to generate keypair")
		}
		*dst = key
	}
	return g, nil
}

func publicKey(key ed25519.PrivateKey) ed25519.PublicKey {
	return key.Public().(ed25519.PublicKey)
}

// CreatePool creates the pool's share mint and token accounts, then the pool,
// roster and credit list accounts together with create-pool. The token
// accounts are skipped when the mint already exists, so an interrupted
// genesis can be resumed with the same keys.
func (d *Driver) CreatePool(ctx context.Context, g *Genesis) error {
	ctx, cycle := newCycle(ctx)
	log := d.log.WithFields(logrus.Fields{
		"method": "CreatePool",
		"cycle":  cycle,
		"pool":   base58.Encode(d.pool),
	})

	if d.owner == nil {
		return ErrOwnerRequired
	}
	if !bytes.Equal(publicKey(g.Pool), d.pool) {
		return errors.Errorf("pool keypair %s does not match the configured pool", base58.Encode(publicKey(g.Pool)))
	}

	pool, err := d.reader.ReadPool(ctx)
	if err != nil {
		return err
	} else if pool != nil {
		return ErrPoolExists
	}

	authorities := d.reader.Authorities()

	_, err = d.client.GetAccountInfo(ctx, publicKey(g.PoolMint), d.commitment)
	switch err {
	case solana.ErrNoAccountInfo:
		instructions, err := d.tokenGenesisInstructions(ctx, g, authorities)
		if err != nil {
			return err
		}

		b := &batch{
			instructions: instructions,
			signers:      []ed25519.PrivateKey{g.PoolMint, g.OwnerFee, g.CreditReserve},
		}
		if err := d.submitOnce(ctx, journal.StepCreatePool, b); err != nil {
			return errors.Wrap(err, "failed to create token accounts")
		}
	case nil:
		log.Info("pool mint exists, resuming genesis")
	default:
		return errors.Wrap(err, "failed to get pool mint")
	}

	instructions, err := d.poolGenesisInstructions(ctx, g)
	if err != nil {
		return err
	}

	b := &batch{
		instructions: instructions,
		signers:      []ed25519.PrivateKey{g.Pool, g.ValidatorList, g.CreditList, d.owner},
	}
	if err := d.submitOnce(ctx, journal.StepCreatePool, b); err != nil {
		return errors.Wrap(err, "failed to create pool accounts")
	}

	log.WithFields(logrus.Fields{
		"mint":           base58.Encode(publicKey(g.PoolMint)),
		"validator_list": base58.Encode(publicKey(g.ValidatorList)),
		"credit_list":    base58.Encode(publicKey(g.CreditList)),
	}).Info("pool created")
	return nil
}

func (d *Driver) tokenGenesisInstructions(ctx context.Context, g *Genesis, authorities *stakepool.Authorities) ([]solana.Instruction, error) {
	mintRent, err := d.client.GetMinimumBalanceForRentExemption(ctx, token.MintSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get mint rent exemption")
	}
	accountRent, err := d.client.GetMinimumBalanceForRentExemption(ctx, token.AccountSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get token account rent exemption")
	}

	payer := d.submitter.Payer()
	mint := publicKey(g.PoolMint)
	return []solana.Instruction{
		system.CreateAccount(payer, mint, token.ProgramKey, mintRent, token.MintSize),
		token.InitializeMint(mint, authorities.Withdraw, shareDecimals),
		system.CreateAccount(payer, publicKey(g.OwnerFee), token.ProgramKey, accountRent, token.AccountSize),
		token.InitializeAccount(publicKey(g.OwnerFee), mint, publicKey(d.owner)),
		system.CreateAccount(payer, publicKey(g.CreditReserve), token.ProgramKey, accountRent, token.AccountSize),
		token.InitializeAccount(publicKey(g.CreditReserve), mint, authorities.Withdraw),
	}, nil
}

func (d *Driver) poolGenesisInstructions(ctx context.Context, g *Genesis) ([]solana.Instruction, error) {
	payer := d.submitter.Payer()

	var instructions []solana.Instruction
	for _, account := range []struct {
		key  ed25519.PrivateKey
		size uint64
	}{
		{g.Pool, stakepool.PoolAccountSize},
		{g.ValidatorList, stakepool.ValidatorListAccountSize},
		{g.CreditList, stakepool.CreditListAccountSize},
	} {
		rent, err := d.client.GetMinimumBalanceForRentExemption(ctx, account.size)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get rent exemption")
		}
		instructions = append(instructions, system.CreateAccount(payer, publicKey(account.key), d.program, rent, account.size))
	}

	initialize, err := stakepool.NewInitializeInstruction(
		d.program,
		&stakepool.InitializeInstructionAccounts{
			Pool:            publicKey(g.Pool),
			Owner:           publicKey(d.owner),
			ValidatorList:   publicKey(g.ValidatorList),
			CreditList:      publicKey(g.CreditList),
			PoolMint:        publicKey(g.PoolMint),
			OwnerFeeAccount: publicKey(g.OwnerFee),
			CreditReserve:   publicKey(g.CreditReserve),
			TokenProgram:    token.ProgramKey,
		},
		&stakepool.InitializeInstructionArgs{
			FeeNumerator:   d.conf.FeeNumerator,
			FeeDenominator: d.conf.FeeDenominator,
		},
	)
	if err != nil {
		return nil, err
	}
	return append(instructions, initialize), nil
}

// submitOnce submits a batch planned without a snapshot. Only failures that
// happen before the transaction is sent are retried.
func (d *Driver) submitOnce(ctx context.Context, step journal.Step, b *batch) error {
	ctx, _ = newCycle(ctx)
	_, err := retry.RetryContext(ctx, func() error {
		return d.submit(ctx, step, b)
	}, d.oncePolicy()...)
	return err
}
