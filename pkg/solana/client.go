package solana

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/ybbus/jsonrpc"

	"github.com/code-payments/stake-pool-server/pkg/rate"
	"github.com/code-payments/stake-pool-server/pkg/retry"
	"github.com/code-payments/stake-pool-server/pkg/retry/backoff"
)

const (
	// Reference: https://github.com/solana-labs/solana/blob/71e9958e061493d7545bd28d4ac7a85aaed6ffbb/client/src/rpc_custom_error.rs#L11
	rpcNodeUnhealthyCode = -32005

	invalidParamCode = -32602

	rateLimiterKey = "rpc"
)

type Commitment struct {
	Commitment string `json:"commitment"`
}

const (
	confirmationStatusProcessed = "processed"
	confirmationStatusConfirmed = "confirmed"
	confirmationStatusFinalized = "finalized"
)

var (
	CommitmentProcessed = Commitment{Commitment: confirmationStatusProcessed}
	CommitmentConfirmed = Commitment{Commitment: confirmationStatusConfirmed}
	CommitmentFinalized = Commitment{Commitment: confirmationStatusFinalized}
)

// CommitmentFromString parses a commitment level by name.
func CommitmentFromString(s string) (Commitment, error) {
	switch s {
	case confirmationStatusProcessed:
		return CommitmentProcessed, nil
	case confirmationStatusConfirmed, "":
		return CommitmentConfirmed, nil
	case confirmationStatusFinalized:
		return CommitmentFinalized, nil
	default:
		return Commitment{}, errors.Errorf("unknown commitment %q", s)
	}
}

var (
	ErrNoAccountInfo = errors.New("no account info")
	ErrNoBalance     = errors.New("no balance")

	// ErrTransient marks RPC failures worth retrying: rate limiting, an
	// unhealthy node, or a server side error.
	ErrTransient = errors.New("transient rpc failure")
)

// AccountInfo contains the raw state of a ledger account.
type AccountInfo struct {
	Data       []byte
	Owner      ed25519.PublicKey
	Lamports   uint64
	Executable bool
}

type SignatureStatus struct {
	Slot        uint64
	ErrorResult *TransactionError

	// Confirmations will be nil if the transaction has been rooted.
	Confirmations      *int
	ConfirmationStatus string
}

func (s SignatureStatus) Confirmed() bool {
	if s.Finalized() {
		return true
	}

	if s.ConfirmationStatus == confirmationStatusConfirmed {
		return true
	}

	return *s.Confirmations >= 1
}

func (s SignatureStatus) Finalized() bool {
	return s.Confirmations == nil || s.ConfirmationStatus == confirmationStatusFinalized
}

// Reached reports whether the status satisfies the commitment level.
func (s SignatureStatus) Reached(commitment Commitment) bool {
	switch commitment {
	case CommitmentFinalized:
		return s.Finalized()
	case CommitmentConfirmed:
		return s.Confirmed()
	default:
		return true
	}
}

type EpochInfo struct {
	AbsoluteSlot uint64 `json:"absoluteSlot"`
	BlockHeight  uint64 `json:"blockHeight"`
	Epoch        uint64 `json:"epoch"`
	SlotIndex    uint64 `json:"slotIndex"`
	SlotsInEpoch uint64 `json:"slotsInEpoch"`
}

// StakeActivation is the node's view of a stake account's activation.
type StakeActivation struct {
	State    string `json:"state"`
	Active   uint64 `json:"active"`
	Inactive uint64 `json:"inactive"`
}

type VoteAccount struct {
	VotePubkey     ed25519.PublicKey
	NodePubkey     ed25519.PublicKey
	ActivatedStake uint64
	Commission     uint8
	Delinquent     bool
}

// SubmitOptions controls how a transaction is handed to the node.
type SubmitOptions struct {
	SkipPreflight       bool
	PreflightCommitment Commitment
}

// Client provides the subset of the JSON-RPC interface the pool operator needs.
//
// Reference: https://docs.solana.com/apps/jsonrpc-api
type Client interface {
	GetAccountInfo(ctx context.Context, account ed25519.PublicKey, commitment Commitment) (AccountInfo, error)
	GetBalance(ctx context.Context, account ed25519.PublicKey, commitment Commitment) (uint64, error)
	GetTokenAccountBalance(ctx context.Context, account ed25519.PublicKey, commitment Commitment) (uint64, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error)
	GetLatestBlockhash(ctx context.Context, commitment Commitment) (Blockhash, error)
	GetEpochInfo(ctx context.Context, commitment Commitment) (EpochInfo, error)
	GetStakeActivation(ctx context.Context, account ed25519.PublicKey, commitment Commitment) (StakeActivation, error)
	GetVoteAccounts(ctx context.Context, commitment Commitment) ([]VoteAccount, error)
	GetSignatureStatuses(ctx context.Context, sigs []Signature) ([]*SignatureStatus, error)
	SubmitTransaction(ctx context.Context, txn Transaction, opts SubmitOptions) (Signature, error)
}

type client struct {
	log     *logrus.Entry
	client  jsonrpc.RPCClient
	limiter rate.Limiter
	retrier retry.Retrier
}

// New returns a client for endpoint. A nil limiter disables rate limiting.
func New(endpoint string, limiter rate.Limiter) Client {
	return NewWithRPCOptions(endpoint, limiter, nil)
}

// NewWithRPCOptions returns a client configured with the specified RPC options.
func NewWithRPCOptions(endpoint string, limiter rate.Limiter, opts *jsonrpc.RPCClientOpts) Client {
	if limiter == nil {
		limiter = rate.NoLimiter{}
	}

	return &client{
		log:     logrus.StandardLogger().WithField("type", "solana/client"),
		client:  jsonrpc.NewClientWithOpts(endpoint, opts),
		limiter: limiter,
		retrier: retry.NewRetrier(
			retry.RetriableErrors(ErrTransient),
			retry.Limit(3),
			retry.BackoffWithJitter(backoff.BinaryExponential(time.Second), 10*time.Second, 0.1),
		),
	}
}

func (c *client) call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	_, err := c.retrier.RetryContext(ctx, func() error {
		if err := c.limiter.Wait(ctx, rateLimiterKey); err != nil {
			return err
		}

		err := c.client.CallFor(out, method, params...)
		if err == nil {
			return nil
		}

		return c.handleRpcError(method, err)
	})

	return err
}

func (c *client) handleRpcError(method string, err error) error {
	rpcErr, ok := err.(*jsonrpc.RPCError)
	if !ok {
		if _, isHTTP := err.(*jsonrpc.HTTPError); isHTTP {
			return errors.Wrap(ErrTransient, err.Error())
		}
		return err
	}

	if rpcErr.Code == 429 {
		c.log.WithField("method", method).Warn("rate limited")
		return errors.Wrap(ErrTransient, rpcErr.Message)
	}
	if rpcErr.Code >= 500 || rpcErr.Code == rpcNodeUnhealthyCode {
		return errors.Wrap(ErrTransient, rpcErr.Message)
	}

	return err
}

func (c *client) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64) (lamports uint64, err error) {
	if err := c.call(ctx, &lamports, "getMinimumBalanceForRentExemption", dataSize); err != nil {
		return 0, errors.Wrap(err, "getMinimumBalanceForRentExemption() failed to send request")
	}

	return lamports, nil
}

func (c *client) GetLatestBlockhash(ctx context.Context, commitment Commitment) (hash Blockhash, err error) {
	var resp struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}

	if err := c.call(ctx, &resp, "getLatestBlockhash", []interface{}{commitment}); err != nil {
		return hash, errors.Wrap(err, "getLatestBlockhash() failed to send request")
	}

	hashBytes, err := base58.Decode(resp.Value.Blockhash)
	if err != nil {
		return hash, errors.Wrap(err, "invalid base58 encoded hash in response")
	}
	if len(hashBytes) != len(hash) {
		return hash, errors.Errorf("invalid blockhash length %d", len(hashBytes))
	}

	copy(hash[:], hashBytes)
	return hash, nil
}

func (c *client) GetEpochInfo(ctx context.Context, commitment Commitment) (info EpochInfo, err error) {
	if err := c.call(ctx, &info, "getEpochInfo", []interface{}{commitment}); err != nil {
		return info, errors.Wrap(err, "getEpochInfo() failed to send request")
	}

	return info, nil
}

func (c *client) GetBalance(ctx context.Context, account ed25519.PublicKey, commitment Commitment) (uint64, error) {
	var resp struct {
		Value uint64 `json:"value"`
	}

	if err := c.call(ctx, &resp, "getBalance", base58.Encode(account), commitment); err != nil {
		if jsonRPCErr, ok := err.(*jsonrpc.RPCError); ok && jsonRPCErr.Code == invalidParamCode {
			return 0, ErrNoBalance
		}

		return 0, errors.Wrap(err, "getBalance() failed to send request")
	}

	return resp.Value, nil
}

func (c *client) GetTokenAccountBalance(ctx context.Context, account ed25519.PublicKey, commitment Commitment) (uint64, error) {
	var resp struct {
		Value struct {
			Amount string `json:"amount"`
		} `json:"value"`
	}

	if err := c.call(ctx, &resp, "getTokenAccountBalance", base58.Encode(account), commitment); err != nil {
		if jsonRPCErr, ok := err.(*jsonrpc.RPCError); ok && jsonRPCErr.Code == invalidParamCode {
			return 0, ErrNoBalance
		}

		return 0, errors.Wrap(err, "getTokenAccountBalance() failed to send request")
	}

	amount, err := strconv.ParseUint(resp.Value.Amount, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "invalid amount in response")
	}

	return amount, nil
}

func (c *client) GetAccountInfo(ctx context.Context, account ed25519.PublicKey, commitment Commitment) (accountInfo AccountInfo, err error) {
	var resp struct {
		Value *struct {
			Lamports   uint64   `json:"lamports"`
			Owner      string   `json:"owner"`
			Data       []string `json:"data"`
			Executable bool     `json:"executable"`
		} `json:"value"`
	}

	rpcConfig := struct {
		Commitment string `json:"commitment"`
		Encoding   string `json:"encoding"`
	}{
		Commitment: commitment.Commitment,
		Encoding:   "base64",
	}

	if err := c.call(ctx, &resp, "getAccountInfo", base58.Encode(account), rpcConfig); err != nil {
		return accountInfo, errors.Wrap(err, "getAccountInfo() failed to send request")
	}

	if resp.Value == nil {
		return accountInfo, ErrNoAccountInfo
	}

	accountInfo.Owner, err = base58.Decode(resp.Value.Owner)
	if err != nil {
		return accountInfo, errors.Wrap(err, "invalid base58 encoded owner")
	}

	if len(resp.Value.Data) > 0 {
		accountInfo.Data, err = base64.StdEncoding.DecodeString(resp.Value.Data[0])
		if err != nil {
			return accountInfo, errors.Wrap(err, "invalid base64 encoded data")
		}
	}

	accountInfo.Lamports = resp.Value.Lamports
	accountInfo.Executable = resp.Value.Executable

	return accountInfo, nil
}

func (c *client) GetStakeActivation(ctx context.Context, account ed25519.PublicKey, commitment Commitment) (activation StakeActivation, err error) {
	if err := c.call(ctx, &activation, "getStakeActivation", base58.Encode(account), commitment); err != nil {
		return activation, errors.Wrap(err, "getStakeActivation() failed to send request")
	}

	return activation, nil
}

func (c *client) GetVoteAccounts(ctx context.Context, commitment Commitment) ([]VoteAccount, error) {
	type voteAccount struct {
		VotePubkey     string `json:"votePubkey"`
		NodePubkey     string `json:"nodePubkey"`
		ActivatedStake uint64 `json:"activatedStake"`
		Commission     uint8  `json:"commission"`
	}

	var resp struct {
		Current    []voteAccount `json:"current"`
		Delinquent []voteAccount `json:"delinquent"`
	}

	if err := c.call(ctx, &resp, "getVoteAccounts", []interface{}{commitment}); err != nil {
		return nil, errors.Wrap(err, "getVoteAccounts() failed to send request")
	}

	result := make([]VoteAccount, 0, len(resp.Current)+len(resp.Delinquent))
	for _, group := range []struct {
		accounts   []voteAccount
		delinquent bool
	}{
		{resp.Current, false},
		{resp.Delinquent, true},
	} {
		for _, v := range group.accounts {
			vote, err := base58.Decode(v.VotePubkey)
			if err != nil {
				return nil, errors.Wrap(err, "invalid vote pubkey")
			}
			node, err := base58.Decode(v.NodePubkey)
			if err != nil {
				return nil, errors.Wrap(err, "invalid node pubkey")
			}

			result = append(result, VoteAccount{
				VotePubkey:     vote,
				NodePubkey:     node,
				ActivatedStake: v.ActivatedStake,
				Commission:     v.Commission,
				Delinquent:     group.delinquent,
			})
		}
	}

	return result, nil
}

// SubmitTransaction sends a signed transaction. A transaction rejected during
// preflight is returned as a *TransactionError.
func (c *client) SubmitTransaction(ctx context.Context, txn Transaction, opts SubmitOptions) (Signature, error) {
	sig := txn.Signature()

	config := struct {
		SkipPreflight       bool   `json:"skipPreflight"`
		PreflightCommitment string `json:"preflightCommitment"`
		Encoding            string `json:"encoding"`
	}{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: opts.PreflightCommitment.Commitment,
		Encoding:            "base64",
	}

	var sigStr string
	err := c.call(ctx, &sigStr, "sendTransaction", base64.StdEncoding.EncodeToString(txn.Marshal()), config)
	if err == nil {
		return sig, nil
	}

	jsonRPCErr, ok := err.(*jsonrpc.RPCError)
	if !ok {
		return sig, errors.Wrap(err, "sendTransaction() failed to send request")
	}

	txErr, parseErr := ParseRPCError(jsonRPCErr)
	if parseErr != nil || txErr == nil {
		return sig, errors.Wrap(err, "sendTransaction() rejected")
	}

	return sig, txErr
}

func (c *client) GetSignatureStatuses(ctx context.Context, sigs []Signature) ([]*SignatureStatus, error) {
	b58Sigs := make([]string, len(sigs))
	for i := range sigs {
		b58Sigs[i] = base58.Encode(sigs[i][:])
	}

	req := struct {
		SearchTransactionHistory bool `json:"searchTransactionHistory"`
	}{
		SearchTransactionHistory: true,
	}

	type signatureStatus struct {
		Slot               uint64          `json:"slot"`
		Confirmations      *int            `json:"confirmations"`
		ConfirmationStatus string          `json:"confirmationStatus"`
		Err                json.RawMessage `json:"err"`
	}

	var resp struct {
		Value []*signatureStatus `json:"value"`
	}
	if err := c.call(ctx, &resp, "getSignatureStatuses", b58Sigs, req); err != nil {
		return nil, errors.Wrap(err, "getSignatureStatuses() failed to send request")
	}

	statuses := make([]*SignatureStatus, len(sigs))
	for i, v := range resp.Value {
		if v == nil || i >= len(statuses) {
			continue
		}

		statuses[i] = &SignatureStatus{
			Slot:               v.Slot,
			Confirmations:      v.Confirmations,
			ConfirmationStatus: v.ConfirmationStatus,
		}

		if len(v.Err) > 0 && !bytes.Equal(v.Err, []byte("null")) {
			var txError interface{}
			if err := json.NewDecoder(bytes.NewBuffer(v.Err)).Decode(&txError); err != nil {
				return nil, errors.Wrap(err, "failed to parse transaction result")
			}

			txErr, err := ParseTransactionError(txError)
			if err != nil {
				return nil, errors.Wrap(err, "failed to parse transaction result")
			}
			statuses[i].ErrorResult = txErr
		}
	}

	return statuses, nil
}
