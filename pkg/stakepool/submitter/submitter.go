// Package submitter signs, submits and confirms transactions. It never
// resubmits: a rejected or unconfirmed transaction is reported to the caller,
// which must re-read state before trying again.
package submitter

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/stake-pool-server/pkg/retry"
	"github.com/code-payments/stake-pool-server/pkg/retry/backoff"
	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/computebudget"
)

const (
	defaultPollInterval        = 500 * time.Millisecond
	defaultConfirmationTimeout = time.Minute
)

var errNotConfirmed = errors.New("transaction not yet confirmed")

type Config struct {
	Commitment          solana.Commitment
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
	SkipPreflight       bool
	ComputeUnitLimit    uint32
	ComputeUnitPrice    uint64
}

type Submitter struct {
	log *logrus.Entry

	client solana.Client
	payer  ed25519.PrivateKey
	conf   Config
}

func New(client solana.Client, payer ed25519.PrivateKey, conf Config) *Submitter {
	if conf.PollInterval <= 0 {
		conf.PollInterval = defaultPollInterval
	}
	if conf.ConfirmationTimeout <= 0 {
		conf.ConfirmationTimeout = defaultConfirmationTimeout
	}

	return &Submitter{
		log:    logrus.StandardLogger().WithField("type", "stakepool/submitter"),
		client: client,
		payer:  payer,
		conf:   conf,
	}
}

func (s *Submitter) Payer() ed25519.PublicKey {
	return s.payer.Public().(ed25519.PublicKey)
}

// Transaction compiles the instructions, prefixed by any configured compute
// budget instructions, into an unsigned transaction paid for by the payer.
func (s *Submitter) Transaction(instructions ...solana.Instruction) solana.Transaction {
	var all []solana.Instruction
	if s.conf.ComputeUnitLimit > 0 {
		all = append(all, computebudget.SetComputeUnitLimit(s.conf.ComputeUnitLimit))
	}
	if s.conf.ComputeUnitPrice > 0 {
		all = append(all, computebudget.SetComputeUnitPrice(s.conf.ComputeUnitPrice))
	}
	all = append(all, instructions...)

	return solana.NewTransaction(s.Payer(), all...)
}

// Fits reports whether the instructions fit in a single transaction.
func (s *Submitter) Fits(instructions ...solana.Instruction) bool {
	txn := s.Transaction(instructions...)
	return txn.Size() <= solana.MaxTransactionSize
}

// FitPrefix returns the largest k in [1, count] for which the instructions
// produced by build(k) fit in a single transaction. build must produce
// instructions that only grow with k.
func (s *Submitter) FitPrefix(count int, build func(k int) ([]solana.Instruction, error)) (int, error) {
	if count <= 0 {
		return 0, nil
	}

	fits := func(k int) (bool, error) {
		instructions, err := build(k)
		if err != nil {
			return false, err
		}
		return s.Fits(instructions...), nil
	}

	ok, err := fits(1)
	if err != nil {
		return 0, err
	} else if !ok {
		return 0, solana.ErrTransactionTooLarge
	}

	low, high := 1, count
	for low < high {
		mid := (low + high + 1) / 2
		ok, err := fits(mid)
		if err != nil {
			return 0, err
		}
		if ok {
			low = mid
		} else {
			high = mid - 1
		}
	}
	return low, nil
}

// Submit signs the instructions as one atomic transaction with the payer and
// any additional signers, submits it and waits until it reaches the configured
// commitment.
//
// A ledger refusal is returned as *SubmissionRejected and an expired wait as
// *ConfirmationTimeout. Other errors come from the RPC layer.
func (s *Submitter) Submit(ctx context.Context, instructions []solana.Instruction, signers ...ed25519.PrivateKey) (solana.Signature, error) {
	txn, err := s.Sign(ctx, instructions, signers...)
	if err != nil {
		return solana.Signature{}, err
	}
	return s.Send(ctx, txn)
}

// Sign compiles and signs the instructions against a fresh blockhash without
// submitting them. The transaction's signature is final once Sign returns.
func (s *Submitter) Sign(ctx context.Context, instructions []solana.Instruction, signers ...ed25519.PrivateKey) (solana.Transaction, error) {
	txn := s.Transaction(instructions...)
	if size := txn.Size(); size > solana.MaxTransactionSize {
		return solana.Transaction{}, errors.Wrapf(solana.ErrTransactionTooLarge, "%d bytes", size)
	}

	blockhash, err := s.client.GetLatestBlockhash(ctx, s.conf.Commitment)
	if err != nil {
		return solana.Transaction{}, errors.Wrap(err, "failed to get latest blockhash")
	}
	txn.SetBlockhash(blockhash)

	if err := txn.Sign(append([]ed25519.PrivateKey{s.payer}, signers...)...); err != nil {
		return solana.Transaction{}, errors.Wrap(err, "failed to sign transaction")
	}
	return txn, nil
}

// Send submits a transaction produced by Sign and waits for confirmation.
func (s *Submitter) Send(ctx context.Context, txn solana.Transaction) (solana.Signature, error) {
	sig := txn.Signature()
	log := s.log.WithFields(logrus.Fields{
		"method":    "Send",
		"signature": sig.String(),
	})

	_, err := s.client.SubmitTransaction(ctx, txn, solana.SubmitOptions{
		SkipPreflight:       s.conf.SkipPreflight,
		PreflightCommitment: s.conf.Commitment,
	})
	if err != nil {
		var txErr *solana.TransactionError
		if errors.As(err, &txErr) {
			for _, line := range txErr.Logs {
				log.Debug(line)
			}
			log.WithError(err).Warn("transaction rejected during preflight")
			return sig, newSubmissionRejected(sig, txErr)
		}

		log.WithError(err).Warn("failed to submit transaction")
		return sig, &SubmissionUnconfirmed{Signature: sig, Err: errors.Wrap(err, "failed to submit transaction")}
	}

	if err := s.confirm(ctx, sig); err != nil {
		log.WithError(err).Warn("transaction not confirmed")
		return sig, err
	}

	log.Debug("transaction confirmed")
	return sig, nil
}

func (s *Submitter) confirm(ctx context.Context, sig solana.Signature) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.conf.ConfirmationTimeout)
	defer cancel()

	_, err := retry.RetryContext(
		waitCtx,
		func() error {
			statuses, err := s.client.GetSignatureStatuses(waitCtx, []solana.Signature{sig})
			if err != nil {
				return err
			}
			if len(statuses) == 0 || statuses[0] == nil {
				return errNotConfirmed
			}

			status := statuses[0]
			if status.ErrorResult != nil {
				return newSubmissionRejected(sig, status.ErrorResult)
			}
			if !status.Reached(s.conf.Commitment) {
				return errNotConfirmed
			}
			return nil
		},
		retry.Retriable(func(err error) bool {
			var rejected *SubmissionRejected
			return !errors.As(err, &rejected)
		}),
		retry.Backoff(backoff.Constant(s.conf.PollInterval), s.conf.PollInterval),
	)
	if err == nil {
		return nil
	}

	var rejected *SubmissionRejected
	if errors.As(err, &rejected) {
		return rejected
	}
	if ctx.Err() != nil {
		return &SubmissionUnconfirmed{Signature: sig, Err: errors.Wrap(ctx.Err(), "confirmation abandoned")}
	}
	if waitCtx.Err() != nil {
		return &ConfirmationTimeout{Signature: sig}
	}
	return &SubmissionUnconfirmed{Signature: sig, Err: errors.Wrap(err, "failed to confirm transaction")}
}
