// Package driver runs the pool's operational cycle. Every step reads a fresh
// snapshot, plans against it, submits the largest batch that fits in one
// transaction and reads again, until the step has nothing left to do.
package driver

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/stake-pool-server/pkg/lock"
	"github.com/code-payments/stake-pool-server/pkg/metrics"
	"github.com/code-payments/stake-pool-server/pkg/retry"
	"github.com/code-payments/stake-pool-server/pkg/retry/backoff"
	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/stakepool"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/data/journal"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/planner"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/state"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/submitter"
)

const (
	lockAcquireTimeout = 5 * time.Second
	maxRetryBackoff    = time.Minute
	retryJitter        = 0.25

	validatorsPerUpdate = stakepool.DefaultUpdateValidatorsPerTxn
)

var (
	// ErrStepLimit is returned when a step still had work after the maximum
	// number of submissions.
	ErrStepLimit = errors.New("step did not settle within the submission limit")

	ErrOwnerRequired = errors.New("owner keypair is required")
	ErrPoolExists    = errors.New("pool already exists")
)

// CycleOptions selects the optional parts of a cycle.
type CycleOptions struct {
	// CreateIfAbsent creates the pool from these keys when it does not exist.
	// With nil, an absent pool fails the cycle with state.ErrPoolNotFound.
	CreateIfAbsent *Genesis

	// ForceRefresh runs the refresh steps even when the pool was already
	// updated this epoch.
	ForceRefresh bool

	// UnstakeAll deactivates every active or activating slot at the end of
	// the cycle.
	UnstakeAll bool
}

// Driver is the pool's only mutator. Its entry points may be called
// individually, but each must run inside Exclusive when other processes may
// operate on the same pool.
type Driver struct {
	log *logrus.Entry

	conf        *stakepool.Config
	client      solana.Client
	reader      *state.Reader
	planner     *planner.Planner
	submitter   *submitter.Submitter
	owner       ed25519.PrivateKey
	lock        lock.DistributedLock
	journal     journal.Store
	metrics     *Metrics
	program     ed25519.PublicKey
	pool        ed25519.PublicKey
	commitment  solana.Commitment
	retryPolicy []retry.Strategy
}

// New creates a Driver for the pool named in conf. The owner keypair may be
// nil, in which case the owner only entry points fail with ErrOwnerRequired.
func New(
	conf *stakepool.Config,
	client solana.Client,
	payer ed25519.PrivateKey,
	owner ed25519.PrivateKey,
	distributedLock lock.DistributedLock,
	store journal.Store,
	m *Metrics,
) (*Driver, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if payer == nil {
		return nil, errors.New("payer keypair is required")
	}
	if distributedLock == nil {
		return nil, errors.New("lock is required")
	}
	if store == nil {
		return nil, errors.New("journal is required")
	}
	if m == nil {
		m = NewMetrics(prometheus.NewRegistry())
	}

	commitment := conf.CommitmentLevel()

	reader, err := state.NewReader(client, conf.Program(), conf.Pool(), commitment, conf.SlotCapacity)
	if err != nil {
		return nil, err
	}

	return &Driver{
		log:     logrus.StandardLogger().WithField("type", "stakepool/driver"),
		conf:    conf,
		client:  client,
		reader:  reader,
		planner: planner.New(conf.MinDelegationLamports),
		submitter: submitter.New(client, payer, submitter.Config{
			Commitment:          commitment,
			ConfirmationTimeout: conf.ConfirmationTimeout,
			SkipPreflight:       conf.SkipPreflight,
			ComputeUnitLimit:    conf.ComputeUnitLimit,
			ComputeUnitPrice:    conf.ComputeUnitPrice,
		}),
		owner:      owner,
		lock:       distributedLock,
		journal:    store,
		metrics:    m,
		program:    conf.Program(),
		pool:       conf.Pool(),
		commitment: commitment,
		retryPolicy: []retry.Strategy{
			retry.Limit(conf.RetryAttempts + 1),
			retry.Retriable(IsRetriable),
			retry.BackoffWithJitter(backoff.BinaryExponential(conf.RetryBackoff), maxRetryBackoff, retryJitter),
		},
	}, nil
}

// Reader exposes the Driver's state reader for read only callers.
func (d *Driver) Reader() *state.Reader {
	return d.reader
}

// Payer returns the fee payer's address.
func (d *Driver) Payer() ed25519.PublicKey {
	return d.submitter.Payer()
}

// Exclusive runs fn while holding the pool's distributed lock. fn's context
// is cancelled if the lock is lost.
func (d *Driver) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	return lock.Run(ctx, d.lock, lockAcquireTimeout, fn)
}

// RunCycle runs one full operational cycle under the distributed lock.
func (d *Driver) RunCycle(ctx context.Context, opts CycleOptions) error {
	ctx, cycle := newCycle(ctx)
	log := d.log.WithFields(logrus.Fields{
		"method": "RunCycle",
		"cycle":  cycle,
		"pool":   base58.Encode(d.pool),
	})

	ctx, end := metrics.StartTransaction(ctx, "stakepool__driver__cycle")
	defer end()

	start := time.Now()
	err := d.Exclusive(ctx, func(ctx context.Context) error {
		return d.runCycle(ctx, opts)
	})
	d.metrics.recordCycle(ctx, cycle, start, err)

	if err != nil {
		log.WithError(err).Warn("cycle failed")
		return err
	}
	log.WithField("duration", time.Since(start)).Info("cycle complete")
	return nil
}

func (d *Driver) runCycle(ctx context.Context, opts CycleOptions) error {
	log := d.log.WithFields(logrus.Fields{
		"method": "runCycle",
		"cycle":  cycleFromContext(ctx),
	})

	pool, err := d.reader.ReadPool(ctx)
	if err != nil {
		return err
	}
	if pool == nil {
		if opts.CreateIfAbsent == nil {
			return state.ErrPoolNotFound
		}
		if err := d.CreatePool(ctx, opts.CreateIfAbsent); err != nil {
			return errors.Wrap(err, "failed to create pool")
		}
	}

	if err := d.Refresh(ctx, opts.ForceRefresh); err != nil {
		return errors.Wrap(err, "failed to refresh pool")
	}

	if err := d.PayCreditorsBatch(ctx); err != nil {
		return errors.Wrap(err, "failed to pay creditors")
	}

	if err := d.TopUpReserve(ctx); err != nil {
		return errors.Wrap(err, "failed to top up reserve")
	}

	snapshot, err := d.reader.ReadSnapshot(ctx)
	if err != nil {
		return err
	}
	d.observe(snapshot)

	minReserve, err := d.MinReserve(ctx)
	if err != nil {
		return err
	}

	switch {
	case len(snapshot.Roster) == 0:
		log.Info("roster is empty, nothing to delegate")
	case snapshot.ReserveLamports <= minReserve || snapshot.ReserveLamports-minReserve < d.conf.MinDelegationLamports:
		log.WithField("reserve", snapshot.ReserveLamports).Debug("reserve below delegation threshold")
	default:
		if err := d.DelegateBatch(ctx, snapshot.ReserveLamports-minReserve); err != nil {
			return errors.Wrap(err, "failed to delegate reserve")
		}
	}

	if opts.UnstakeAll {
		if err := d.UnstakeAll(ctx); err != nil {
			return errors.Wrap(err, "failed to unstake")
		}
	}
	return nil
}

// batch is one transaction's worth of planned work.
type batch struct {
	instructions []solana.Instruction
	signers      []ed25519.PrivateKey

	// onConfirmed, when set, runs after the batch is confirmed.
	onConfirmed func()
}

// planFunc plans the next batch of a step against a fresh snapshot. A nil
// batch means the step has settled.
type planFunc func(ctx context.Context, snapshot *state.Snapshot) (*batch, error)

// run repeats read, plan and submit until plan settles, at most
// MaxSubmissionsPerStep times. Each round is retried as a whole under the
// Driver's retry policy, so a retry always plans against a fresh read.
//
// A once step settles after its first confirmed submission, and an ambiguous
// outcome is never retried for it.
func (d *Driver) run(ctx context.Context, step journal.Step, once bool, plan planFunc) (int, error) {
	ctx, cycle := newCycle(ctx)
	log := d.log.WithFields(logrus.Fields{
		"method": "run",
		"cycle":  cycle,
		"step":   step,
	})

	ctx, end := metrics.StartTransaction(ctx, "stakepool__driver__"+string(step))
	defer end()

	start := time.Now()
	defer d.metrics.recordStep(ctx, step, start)

	policy := d.retryPolicy
	if once {
		policy = d.oncePolicy()
	}

	var submitted int
	for submitted < d.conf.MaxSubmissionsPerStep {
		var settled bool
		_, err := retry.RetryContext(ctx, func() error {
			snapshot, err := d.reader.ReadSnapshot(ctx)
			if err != nil {
				return err
			}
			d.observe(snapshot)

			next, err := plan(ctx, snapshot)
			if err != nil {
				return err
			}
			if next == nil {
				settled = true
				return nil
			}

			err = d.submit(ctx, step, next)
			if sig, ok := ambiguous(err); ok {
				d.logAmbiguous(ctx, sig)
			}
			return err
		}, policy...)
		if err != nil {
			log.WithError(err).Warn("step failed")
			return submitted, err
		}
		if settled {
			log.WithField("submissions", submitted).Debug("step settled")
			return submitted, nil
		}

		submitted++
		if once {
			return submitted, nil
		}
	}

	log.WithField("submissions", submitted).Warn("step did not settle")
	return submitted, ErrStepLimit
}

// submit signs, journals and sends one batch.
func (d *Driver) submit(ctx context.Context, step journal.Step, b *batch) error {
	log := d.log.WithFields(logrus.Fields{
		"method": "submit",
		"cycle":  cycleFromContext(ctx),
		"step":   step,
	})

	txn, err := d.submitter.Sign(ctx, b.instructions, b.signers...)
	if err != nil {
		return err
	}

	record := &journal.Record{
		CycleId:      cycleFromContext(ctx),
		Step:         step,
		Signature:    txn.Signature().String(),
		Instructions: uint32(len(b.instructions)),
		Status:       journal.StatusPending,
		CreatedAt:    time.Now(),
	}
	log = log.WithField("signature", record.Signature)

	if err := d.journal.Put(ctx, record); err != nil {
		log.WithError(err).Warn("failure journaling submission")
		return errors.Wrap(err, "failed to journal submission")
	}

	segment := metrics.StartSegment(ctx, "stakepool/driver submit", map[string]interface{}{
		"step":         string(step),
		"signature":    record.Signature,
		"instructions": record.Instructions,
	})
	_, sendErr := d.submitter.Send(ctx, txn)
	segment.End(sendErr)

	var rejected *submitter.SubmissionRejected
	var timeout *submitter.ConfirmationTimeout
	var unconfirmed *submitter.SubmissionUnconfirmed
	switch {
	case sendErr == nil:
		now := time.Now()
		record.Status = journal.StatusConfirmed
		record.ConfirmedAt = &now
	case errors.As(sendErr, &rejected):
		record.Status = journal.StatusRejected
		if rejected.HasProgramCode {
			code := rejected.ProgramCode
			record.ProgramCode = &code
		}
	case errors.As(sendErr, &timeout):
		record.Status = journal.StatusTimeout
	case errors.As(sendErr, &unconfirmed):
		record.Status = journal.StatusUnconfirmed
	default:
		record.Status = journal.StatusUnconfirmed
		sendErr = &submitter.SubmissionUnconfirmed{Signature: txn.Signature(), Err: sendErr}
	}
	if sendErr != nil {
		message := sendErr.Error()
		record.Error = &message
	}

	// The outcome of the submission matters more than its journal entry
	if err := d.journal.Update(ctx, record); err != nil {
		log.WithError(err).Warn("failure updating journal")
	}
	d.metrics.recordSubmission(ctx, record)

	if sendErr != nil {
		return sendErr
	}
	if b.onConfirmed != nil {
		b.onConfirmed()
	}
	log.WithField("instructions", record.Instructions).Info("submission confirmed")
	return nil
}

func (d *Driver) logAmbiguous(ctx context.Context, sig solana.Signature) {
	log := d.log.WithFields(logrus.Fields{
		"method":    "logAmbiguous",
		"signature": sig.String(),
	})

	record, err := d.journal.Get(ctx, sig.String())
	if err != nil {
		log.WithError(err).Warn("failure looking up ambiguous submission")
		return
	}

	log.WithFields(logrus.Fields{
		"cycle":     record.CycleId,
		"step":      record.Step,
		"submitted": record.CreatedAt,
	}).Warn("submission outcome unknown, state will be re-read before continuing")
}

func (d *Driver) observe(snapshot *state.Snapshot) {
	d.metrics.observeSnapshot(
		snapshot.ReserveLamports,
		snapshot.Pool.StakeTotal,
		snapshot.Pool.PoolTotal,
		len(snapshot.Roster),
		len(snapshot.Creditors),
	)
}

// fit returns the largest prefix of count items whose instructions fit in one
// transaction, along with those instructions.
func (d *Driver) fit(count int, build func(k int) ([]solana.Instruction, error)) ([]solana.Instruction, int, error) {
	k, err := d.submitter.FitPrefix(count, build)
	if err != nil {
		return nil, 0, err
	}
	instructions, err := build(k)
	if err != nil {
		return nil, 0, err
	}
	return instructions, k, nil
}

// IsRetriable reports whether a failed step may be re-run. Only ambiguous
// submissions and transient RPC failures qualify. Decode, planning and
// rejection errors would repeat.
func IsRetriable(err error) bool {
	if _, ok := ambiguous(err); ok {
		return true
	}
	return errors.Is(err, solana.ErrTransient)
}

func (d *Driver) oncePolicy() []retry.Strategy {
	return append([]retry.Strategy{retry.Retriable(isRetriableBeforeSend)}, d.retryPolicy...)
}

// isRetriableBeforeSend refuses any failure from a transaction that may have
// reached the ledger. Re-running would sign a new transaction with a fresh
// blockhash, which could land alongside the first.
func isRetriableBeforeSend(err error) bool {
	_, ok := ambiguous(err)
	return !ok
}

// ambiguous returns the signature of the transaction behind err when its
// outcome is unknown.
func ambiguous(err error) (solana.Signature, bool) {
	var timeout *submitter.ConfirmationTimeout
	if errors.As(err, &timeout) {
		return timeout.Signature, true
	}
	var unconfirmed *submitter.SubmissionUnconfirmed
	if errors.As(err, &unconfirmed) {
		return unconfirmed.Signature, true
	}
	return solana.Signature{}, false
}

type cycleContextKey struct{}

// newCycle returns ctx's cycle id, assigning a new one when ctx has none.
func newCycle(ctx context.Context) (context.Context, string) {
	if id := cycleFromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.New().String()
	return context.WithValue(ctx, cycleContextKey{}, id), id
}

func cycleFromContext(ctx context.Context) string {
	id, _ := ctx.Value(cycleContextKey{}).(string)
	return id
}
