package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/stake"
	"github.com/code-payments/stake-pool-server/pkg/solana/system"
)

func TestLedger_Accounts(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	keys := GenerateSolanaKeys(t, 2)

	_, err := l.GetAccountInfo(ctx, keys[0], solana.CommitmentConfirmed)
	assert.Equal(t, solana.ErrNoAccountInfo, err)

	l.SetLamports(keys[0], 100)
	info, err := l.GetAccountInfo(ctx, keys[0], solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.EqualValues(t, 100, info.Lamports)
	assert.EqualValues(t, system.ProgramKey, info.Owner)

	balance, err := l.GetBalance(ctx, keys[1], solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestLedger_StakeActivation(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	keys := GenerateSolanaKeys(t, 2)
	address, voter := keys[0], keys[1]

	lamports := RentExemption(stake.AccountSize) + 1000
	l.SetStake(address, voter, lamports, 10, stake.NoEpoch)

	l.SetEpoch(10)
	activation, err := l.GetStakeActivation(ctx, address, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, "activating", activation.State)
	assert.Zero(t, activation.Active)

	l.SetEpoch(11)
	activation, err = l.GetStakeActivation(ctx, address, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, "active", activation.State)
	assert.EqualValues(t, 1000, activation.Active)

	l.SetActivation(address, solana.StakeActivation{State: "deactivating", Active: 5})
	activation, err = l.GetStakeActivation(ctx, address, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, "deactivating", activation.State)
}

func TestLedger_Submit(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	payer := GenerateSolanaKeypair(t)

	txn := solana.NewTransaction(PublicKey(payer), system.Transfer(PublicKey(payer), GenerateSolanaKeys(t, 1)[0], 1))
	txn.SetBlockhash(solana.Blockhash{1})

	_, err := l.SubmitTransaction(ctx, txn, solana.SubmitOptions{})
	assert.Error(t, err)
	assert.Empty(t, l.Submitted())

	require.NoError(t, txn.Sign(payer))

	l.SetSubmitHook(func(_ *Ledger, _ solana.Transaction) error {
		return solana.NewCustomTransactionError(0, 1)
	})
	_, err = l.SubmitTransaction(ctx, txn, solana.SubmitOptions{})
	var txErr *solana.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Empty(t, l.Submitted())

	sig, err := l.SubmitTransaction(ctx, txn, solana.SubmitOptions{SkipPreflight: true})
	require.NoError(t, err)
	require.Len(t, l.Submitted(), 1)

	statuses, err := l.GetSignatureStatuses(ctx, []solana.Signature{sig})
	require.NoError(t, err)
	require.NotNil(t, statuses[0])
	assert.NotNil(t, statuses[0].ErrorResult)
	assert.True(t, statuses[0].Finalized())

	l.SetSubmitHook(nil)
	l.WithholdStatuses(true)
	txn.SetBlockhash(solana.Blockhash{2})
	require.NoError(t, txn.Sign(payer))
	sig, err = l.SubmitTransaction(ctx, txn, solana.SubmitOptions{})
	require.NoError(t, err)

	statuses, err = l.GetSignatureStatuses(ctx, []solana.Signature{sig})
	require.NoError(t, err)
	assert.Nil(t, statuses[0])
}
