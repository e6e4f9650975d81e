package testutil

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/stake"
	"github.com/code-payments/stake-pool-server/pkg/solana/system"
	"github.com/code-payments/stake-pool-server/pkg/solana/token"
)

// SubmitHook observes a transaction handed to the Ledger. A returned
// *solana.TransactionError fails the transaction, during preflight unless
// preflight is skipped. Any other error is returned to the submitter as is.
type SubmitHook func(l *Ledger, txn solana.Transaction) error

// Ledger is an in memory solana.Client. Accounts, epoch and activations are
// set directly by tests, and submitted transactions are recorded. Program
// effects are up to the SubmitHook.
type Ledger struct {
	mu sync.Mutex

	accounts       map[string]solana.AccountInfo
	activations    map[string]solana.StakeActivation
	accountErrs    map[string]error
	voteAccounts   []solana.VoteAccount
	statuses       map[solana.Signature]*solana.SignatureStatus
	submitted      []solana.Transaction
	epoch          uint64
	blockhashes    uint64
	hook           SubmitHook
	withholdStatus bool
	lostResponses  []error
}

func NewLedger() *Ledger {
	return &Ledger{
		accounts:    make(map[string]solana.AccountInfo),
		activations: make(map[string]solana.StakeActivation),
		accountErrs: make(map[string]error),
		statuses:    make(map[solana.Signature]*solana.SignatureStatus),
	}
}

// RentExemption mirrors the cluster's default rent parameters.
func RentExemption(size uint64) uint64 {
	return (128 + size) * 6960
}

func (l *Ledger) SetAccount(address ed25519.PublicKey, info solana.AccountInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[string(address)] = info
}

func (l *Ledger) DeleteAccount(address ed25519.PublicKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.accounts, string(address))
}

// Account returns the stored account, if any.
func (l *Ledger) Account(address ed25519.PublicKey) (solana.AccountInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, ok := l.accounts[string(address)]
	return info, ok
}

// SetLamports sets the balance of a system owned account, creating it when
// missing.
func (l *Ledger) SetLamports(address ed25519.PublicKey, lamports uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.accounts[string(address)]
	if !ok {
		info.Owner = system.ProgramKey
	}
	info.Lamports = lamports
	l.accounts[string(address)] = info
}

// SetStake stores a delegated stake account at address.
func (l *Ledger) SetStake(address, voter ed25519.PublicKey, lamports, activationEpoch, deactivationEpoch uint64) {
	account := stake.Account{
		State: stake.StateStake,
		Meta:  &stake.Meta{RentExemptReserve: RentExemption(stake.AccountSize)},
		Delegation: &stake.Delegation{
			Voter:              voter,
			Stake:              lamports - RentExemption(stake.AccountSize),
			ActivationEpoch:    activationEpoch,
			DeactivationEpoch:  deactivationEpoch,
			WarmupCooldownRate: 0.25,
		},
	}
	l.SetAccount(address, solana.AccountInfo{
		Data:     account.Marshal(),
		Owner:    stake.ProgramKey,
		Lamports: lamports,
	})
}

// SetActivation overrides the activation reported for a stake account.
func (l *Ledger) SetActivation(address ed25519.PublicKey, activation solana.StakeActivation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.activations[string(address)] = activation
}

// FailAccount makes reads of address fail with err.
func (l *Ledger) FailAccount(address ed25519.PublicKey, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accountErrs[string(address)] = err
}

func (l *Ledger) SetEpoch(epoch uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.epoch = epoch
}

func (l *Ledger) Epoch() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epoch
}

func (l *Ledger) SetVoteAccounts(accounts []solana.VoteAccount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.voteAccounts = accounts
}

func (l *Ledger) SetSubmitHook(hook SubmitHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = hook
}

// WithholdStatuses makes the Ledger accept transactions without ever
// reporting a status for them.
func (l *Ledger) WithholdStatuses(withhold bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.withholdStatus = withhold
}

// LoseResponse makes the next accepted transaction report err to the caller
// after it has been applied, as a gateway failing after the node accepted it
// would.
func (l *Ledger) LoseResponse(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lostResponses = append(l.lostResponses, err)
}

// Submitted returns every transaction accepted so far, in order.
func (l *Ledger) Submitted() []solana.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]solana.Transaction(nil), l.submitted...)
}

func (l *Ledger) GetAccountInfo(_ context.Context, account ed25519.PublicKey, _ solana.Commitment) (solana.AccountInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.accountErrs[string(account)]; err != nil {
		return solana.AccountInfo{}, err
	}
	info, ok := l.accounts[string(account)]
	if !ok {
		return solana.AccountInfo{}, solana.ErrNoAccountInfo
	}
	info.Data = append([]byte(nil), info.Data...)
	return info, nil
}

func (l *Ledger) GetBalance(_ context.Context, account ed25519.PublicKey, _ solana.Commitment) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.accountErrs[string(account)]; err != nil {
		return 0, err
	}
	return l.accounts[string(account)].Lamports, nil
}

func (l *Ledger) GetTokenAccountBalance(_ context.Context, account ed25519.PublicKey, _ solana.Commitment) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.accounts[string(account)]
	if !ok || !bytes.Equal(info.Owner, token.ProgramKey) {
		return 0, solana.ErrNoBalance
	}
	var decoded token.Account
	if !decoded.Unmarshal(info.Data) {
		return 0, solana.ErrNoBalance
	}
	return decoded.Amount, nil
}

func (l *Ledger) GetMinimumBalanceForRentExemption(_ context.Context, size uint64) (uint64, error) {
	return RentExemption(size), nil
}

func (l *Ledger) GetLatestBlockhash(_ context.Context, _ solana.Commitment) (solana.Blockhash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.blockhashes++
	var hash solana.Blockhash
	hash[0] = byte(l.blockhashes)
	hash[1] = byte(l.blockhashes >> 8)
	return hash, nil
}

func (l *Ledger) GetEpochInfo(_ context.Context, _ solana.Commitment) (solana.EpochInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return solana.EpochInfo{Epoch: l.epoch}, nil
}

// GetStakeActivation reports an override when one is set. Otherwise the
// activation is estimated from the stored delegation at the current epoch.
func (l *Ledger) GetStakeActivation(_ context.Context, account ed25519.PublicKey, _ solana.Commitment) (solana.StakeActivation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.accountErrs[string(account)]; err != nil {
		return solana.StakeActivation{}, err
	}
	if activation, ok := l.activations[string(account)]; ok {
		return activation, nil
	}

	info, ok := l.accounts[string(account)]
	if !ok || !bytes.Equal(info.Owner, stake.ProgramKey) {
		return solana.StakeActivation{}, errors.Errorf("%s is not a stake account", base58.Encode(account))
	}

	var decoded stake.Account
	if err := decoded.Unmarshal(info.Data); err != nil {
		return solana.StakeActivation{}, err
	}
	if decoded.Delegation == nil {
		return solana.StakeActivation{State: stake.ActivationStateInactive.String(), Inactive: info.Lamports}, nil
	}

	state, active := decoded.Delegation.EstimateActivation(l.epoch)
	return solana.StakeActivation{
		State:    state.String(),
		Active:   active,
		Inactive: decoded.Delegation.Stake - active,
	}, nil
}

func (l *Ledger) GetVoteAccounts(_ context.Context, _ solana.Commitment) ([]solana.VoteAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]solana.VoteAccount(nil), l.voteAccounts...), nil
}

func (l *Ledger) GetSignatureStatuses(_ context.Context, sigs []solana.Signature) ([]*solana.SignatureStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	statuses := make([]*solana.SignatureStatus, len(sigs))
	for i, sig := range sigs {
		if status, ok := l.statuses[sig]; ok {
			copied := *status
			statuses[i] = &copied
		}
	}
	return statuses, nil
}

// SubmitTransaction checks every signature, runs the SubmitHook and records
// the transaction.
func (l *Ledger) SubmitTransaction(_ context.Context, txn solana.Transaction, opts solana.SubmitOptions) (solana.Signature, error) {
	sig := txn.Signature()

	message := txn.Message.Marshal()
	for i, s := range txn.Signatures {
		if !ed25519.Verify(txn.Message.Accounts[i], message, s[:]) {
			return sig, solana.NewTransactionError(solana.TransactionErrorSignatureFailure)
		}
	}

	l.mu.Lock()
	hook := l.hook
	l.mu.Unlock()

	var txErr *solana.TransactionError
	if hook != nil {
		if err := hook(l, txn); err != nil {
			if !errors.As(err, &txErr) {
				return sig, err
			}
			if !opts.SkipPreflight {
				return sig, txErr
			}
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.submitted = append(l.submitted, txn)
	if !l.withholdStatus {
		l.statuses[sig] = &solana.SignatureStatus{
			Slot:               uint64(len(l.submitted)),
			ErrorResult:        txErr,
			ConfirmationStatus: "finalized",
		}
	}

	if len(l.lostResponses) > 0 {
		err := l.lostResponses[0]
		l.lostResponses = l.lostResponses[1:]
		return sig, err
	}
	return sig, nil
}
