package driver

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lock_memory "github.com/code-payments/stake-pool-server/pkg/lock/memory"
	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/stake"
	stakepool_program "github.com/code-payments/stake-pool-server/pkg/solana/stakepool"
	"github.com/code-payments/stake-pool-server/pkg/solana/token"
	"github.com/code-payments/stake-pool-server/pkg/stakepool"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/data/journal"
	journal_memory "github.com/code-payments/stake-pool-server/pkg/stakepool/data/journal/memory"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/planner"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/state"
	"github.com/code-payments/stake-pool-server/pkg/stakepool/submitter"
	"github.com/code-payments/stake-pool-server/pkg/testutil"
)

const (
	lamportsPerSol = stakepool.LamportsPerSol
	testEpoch      = 100
)

type testEnv struct {
	ctx     context.Context
	ledger  *testutil.Ledger
	program *testutil.PoolProgram
	conf    *stakepool.Config
	payer   ed25519.PrivateKey
	owner   ed25519.PrivateKey
	journal journal.Store
	metrics *Metrics
	driver  *Driver
}

type envOption func(env *testEnv)

func withoutOwner() envOption {
	return func(env *testEnv) {
		env.owner = nil
	}
}

func withPool(pool ed25519.PrivateKey) envOption {
	return func(env *testEnv) {
		env.program.Pool = testutil.PublicKey(pool)
		authorities, err := stakepool_program.GetAuthorities(env.program.Program, env.program.Pool)
		if err != nil {
			panic(err)
		}
		env.program.Authorities = authorities
	}
}

func withConfig(fn func(conf *stakepool.Config)) envOption {
	return func(env *testEnv) {
		fn(env.conf)
	}
}

func setup(t *testing.T, opts ...envOption) *testEnv {
	ledger := testutil.NewLedger()
	ledger.SetEpoch(testEpoch)

	program := testutil.NewPoolProgram(t)
	ledger.SetSubmitHook(program.Hook())

	conf := stakepool.DefaultConfig()
	conf.MinReserveLamports = lamportsPerSol
	conf.MinDelegationLamports = lamportsPerSol
	conf.ConfirmationTimeout = 50 * time.Millisecond
	conf.RetryAttempts = 2
	conf.RetryBackoff = time.Millisecond

	payer := testutil.GenerateSolanaKeypair(t)
	ledger.SetLamports(testutil.PublicKey(payer), 100*lamportsPerSol)

	env := &testEnv{
		ctx:     context.Background(),
		ledger:  ledger,
		program: program,
		conf:    conf,
		payer:   payer,
		owner:   program.Owner,
		journal: journal_memory.New(),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	for _, opt := range opts {
		opt(env)
	}

	conf.ProgramID = base58.Encode(program.Program)
	conf.PoolAddress = base58.Encode(program.Pool)

	l, err := lock_memory.NewManager().Create(env.ctx, "stakepool")
	require.NoError(t, err)

	env.driver, err = New(conf, ledger, payer, env.owner, l, env.journal, env.metrics)
	require.NoError(t, err)

	t.Cleanup(testutil.DisableLogging())
	return env
}

// initialize writes a refreshed pool with the given validators in its roster
// and lamports in its reserve.
func (env *testEnv) initialize(reserve uint64, validators ...ed25519.PublicKey) {
	env.program.Initialize(env.ledger, stakepool.DefaultFeeNumerator, stakepool.DefaultFeeDenominator)
	for _, validator := range validators {
		env.program.AddValidator(env.ledger, validator)
	}
	env.ledger.SetLamports(env.program.Authorities.Reserve, reserve)
}

func (env *testEnv) reserve() uint64 {
	info, _ := env.ledger.Account(env.program.Authorities.Reserve)
	return info.Lamports
}

func (env *testEnv) lamports(address ed25519.PublicKey) uint64 {
	info, _ := env.ledger.Account(address)
	return info.Lamports
}

// shareAccount creates an empty pool share account owned by owner.
func (env *testEnv) shareAccount(t *testing.T, owner ed25519.PublicKey) ed25519.PublicKey {
	address := testutil.GenerateSolanaKeys(t, 1)[0]
	account := token.Account{
		Mint:  env.program.PoolMint,
		Owner: owner,
		State: token.AccountStateInitialized,
	}
	env.ledger.SetAccount(address, solana.AccountInfo{
		Data:     account.Marshal(),
		Owner:    token.ProgramKey,
		Lamports: testutil.RentExemption(token.AccountSize),
	})
	return address
}

func (env *testEnv) shares(t *testing.T, address ed25519.PublicKey) uint64 {
	balance, err := env.ledger.GetTokenAccountBalance(env.ctx, address, solana.CommitmentConfirmed)
	require.NoError(t, err)
	return balance
}

func (env *testEnv) records(t *testing.T, cycle string) []*journal.Record {
	records, err := env.journal.GetAllByCycle(env.ctx, cycle)
	require.NoError(t, err)
	return records
}

func TestNew_Validation(t *testing.T) {
	env := setup(t)
	l, err := lock_memory.NewManager().Create(env.ctx, "stakepool")
	require.NoError(t, err)

	_, err = New(env.conf, env.ledger, nil, nil, l, env.journal, nil)
	assert.Error(t, err)

	_, err = New(env.conf, env.ledger, env.payer, nil, nil, env.journal, nil)
	assert.Error(t, err)

	_, err = New(env.conf, env.ledger, env.payer, nil, l, nil, nil)
	assert.Error(t, err)

	invalid := *env.conf
	invalid.ProgramID = ""
	_, err = New(&invalid, env.ledger, env.payer, nil, l, env.journal, nil)
	assert.True(t, errors.Is(err, stakepool.ErrInvalidConfig))

	d, err := New(env.conf, env.ledger, env.payer, nil, l, env.journal, nil)
	require.NoError(t, err)
	assert.EqualValues(t, testutil.PublicKey(env.payer), d.Payer())
	assert.NotNil(t, d.Reader())
}

func TestRunCycle_PoolNotFound(t *testing.T) {
	env := setup(t)

	err := env.driver.RunCycle(env.ctx, CycleOptions{})
	assert.True(t, errors.Is(err, state.ErrPoolNotFound))
	assert.Empty(t, env.ledger.Submitted())
	assert.EqualValues(t, 1, promtest.ToFloat64(env.metrics.cycles.WithLabelValues("failure")))
}

func TestRunCycle_CreatesPool(t *testing.T) {
	poolKey := testutil.GenerateSolanaKeypair(t)
	env := setup(t, withPool(poolKey))

	genesis, err := NewGenesis(poolKey)
	require.NoError(t, err)

	ctx, cycle := newCycle(env.ctx)
	require.NoError(t, env.driver.RunCycle(ctx, CycleOptions{CreateIfAbsent: genesis}))

	pool := env.program.PoolAccount(env.ledger)
	assert.EqualValues(t, testutil.PublicKey(env.program.Owner), pool.Owner)
	assert.EqualValues(t, publicKey(genesis.ValidatorList), pool.ValidatorList)
	assert.EqualValues(t, publicKey(genesis.CreditList), pool.CreditList)
	assert.EqualValues(t, publicKey(genesis.PoolMint), pool.PoolMint)
	assert.EqualValues(t, publicKey(genesis.OwnerFee), pool.OwnerFeeAccount)
	assert.EqualValues(t, publicKey(genesis.CreditReserve), pool.CreditReserve)
	assert.EqualValues(t, stakepool.DefaultFeeNumerator, pool.FeeNumerator)
	assert.EqualValues(t, stakepool.DefaultFeeDenominator, pool.FeeDenominator)
	assert.EqualValues(t, testEpoch, pool.LastEpochUpdate)

	mintInfo, ok := env.ledger.Account(publicKey(genesis.PoolMint))
	require.True(t, ok)
	var mint token.Mint
	require.True(t, mint.Unmarshal(mintInfo.Data))
	assert.EqualValues(t, env.program.Authorities.Withdraw, mint.MintAuthority)
	assert.EqualValues(t, shareDecimals, mint.Decimals)

	records := env.records(t, cycle)
	require.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, journal.StepCreatePool, record.Step)
		assert.Equal(t, journal.StatusConfirmed, record.Status)
		assert.NotNil(t, record.ConfirmedAt)
	}

	assert.Equal(t, ErrPoolExists, env.driver.CreatePool(env.ctx, genesis))
}

func TestCreatePool_ResumesAfterTokenAccounts(t *testing.T) {
	poolKey := testutil.GenerateSolanaKeypair(t)
	env := setup(t, withPool(poolKey))

	genesis, err := NewGenesis(poolKey)
	require.NoError(t, err)

	// The token accounts from an earlier, interrupted genesis
	env.ledger.SetAccount(publicKey(genesis.PoolMint), solana.AccountInfo{
		Data:     make([]byte, token.MintSize),
		Owner:    token.ProgramKey,
		Lamports: testutil.RentExemption(token.MintSize),
	})

	require.NoError(t, env.driver.CreatePool(env.ctx, genesis))
	assert.Len(t, env.ledger.Submitted(), 1)
	assert.EqualValues(t, publicKey(genesis.PoolMint), env.program.PoolAccount(env.ledger).PoolMint)
}

func TestCreatePool_Preconditions(t *testing.T) {
	poolKey := testutil.GenerateSolanaKeypair(t)
	genesis, err := NewGenesis(poolKey)
	require.NoError(t, err)

	env := setup(t, withPool(poolKey), withoutOwner())
	assert.Equal(t, ErrOwnerRequired, env.driver.CreatePool(env.ctx, genesis))

	env = setup(t)
	assert.Error(t, env.driver.CreatePool(env.ctx, genesis))
	assert.Empty(t, env.ledger.Submitted())
}

func TestRunCycle_Delegates(t *testing.T) {
	env := setup(t)
	validators := testutil.GenerateSolanaKeys(t, 2)
	env.initialize(21*lamportsPerSol, validators...)

	ctx, cycle := newCycle(env.ctx)
	require.NoError(t, env.driver.RunCycle(ctx, CycleOptions{}))

	roster := env.program.Roster(env.ledger)
	require.Len(t, roster, 2)
	for _, entry := range roster {
		assert.EqualValues(t, 10*lamportsPerSol, entry.Balance)
		assert.EqualValues(t, 1, entry.StakeCount)
	}
	assert.EqualValues(t, lamportsPerSol, env.reserve())

	records := env.records(t, cycle)
	require.Len(t, records, 1)
	assert.Equal(t, journal.StepDelegate, records[0].Step)
	assert.Equal(t, journal.StatusConfirmed, records[0].Status)
	assert.EqualValues(t, 1, records[0].Instructions)

	assert.EqualValues(t, 1, promtest.ToFloat64(env.metrics.cycles.WithLabelValues("success")))
	assert.EqualValues(t, 1, promtest.ToFloat64(env.metrics.submissions.WithLabelValues(string(journal.StepDelegate), journal.StatusConfirmed.String())))
	assert.EqualValues(t, lamportsPerSol, promtest.ToFloat64(env.metrics.reserve))
	assert.EqualValues(t, 2, promtest.ToFloat64(env.metrics.validators))

	// Nothing left above the minimum reserve
	require.NoError(t, env.driver.RunCycle(env.ctx, CycleOptions{}))
	assert.Len(t, env.ledger.Submitted(), 1)
}

func TestRunCycle_EmptyRoster(t *testing.T) {
	env := setup(t)
	env.initialize(50 * lamportsPerSol)

	require.NoError(t, env.driver.RunCycle(env.ctx, CycleOptions{}))
	assert.Empty(t, env.ledger.Submitted())
	assert.EqualValues(t, 50*lamportsPerSol, env.reserve())
}

func TestRunCycle_RefreshesStalePool(t *testing.T) {
	env := setup(t)
	validator := testutil.GenerateSolanaKeys(t, 1)[0]
	env.initialize(lamportsPerSol, validator)

	env.program.Stake(env.ledger, validator, 0, 5*lamportsPerSol, testEpoch-2)
	env.program.Stake(env.ledger, validator, 1, 3*lamportsPerSol, testEpoch-2)
	env.ledger.SetEpoch(testEpoch + 1)

	ctx, cycle := newCycle(env.ctx)
	require.NoError(t, env.driver.RunCycle(ctx, CycleOptions{}))

	roster := env.program.Roster(env.ledger)
	require.Len(t, roster, 1)
	assert.EqualValues(t, 8*lamportsPerSol, roster[0].Balance)
	assert.EqualValues(t, 1, roster[0].StakeCount)
	assert.EqualValues(t, testEpoch+1, roster[0].LastUpdateEpoch)

	pool := env.program.PoolAccount(env.ledger)
	assert.EqualValues(t, testEpoch+1, pool.LastEpochUpdate)
	assert.EqualValues(t, 9*lamportsPerSol, pool.StakeTotal)

	_, ok := env.ledger.Account(env.program.SlotAddress(validator, 1))
	assert.False(t, ok)

	var steps []journal.Step
	for _, record := range env.records(t, cycle) {
		assert.Equal(t, journal.StatusConfirmed, record.Status)
		steps = append(steps, record.Step)
	}
	assert.Equal(t, []journal.Step{journal.StepMerge, journal.StepRefresh, journal.StepRefresh}, steps)

	// Already refreshed this epoch
	submitted := len(env.ledger.Submitted())
	require.NoError(t, env.driver.Refresh(env.ctx, false))
	assert.Len(t, env.ledger.Submitted(), submitted)

	require.NoError(t, env.driver.Refresh(env.ctx, true))
	assert.Len(t, env.ledger.Submitted(), submitted)
}

func TestUpdateValidatorBalances_Chunked(t *testing.T) {
	env := setup(t)
	validators := testutil.GenerateSolanaKeys(t, 2*validatorsPerUpdate+1)
	env.initialize(lamportsPerSol, validators...)
	env.ledger.SetEpoch(testEpoch + 1)

	require.NoError(t, env.driver.UpdateValidatorBalances(env.ctx))

	for _, entry := range env.program.Roster(env.ledger) {
		assert.EqualValues(t, testEpoch+1, entry.LastUpdateEpoch)
	}

	var instructions int
	for _, txn := range env.ledger.Submitted() {
		instructions += len(txn.Message.Instructions)
	}
	assert.Equal(t, 3, instructions)

	// The pool balance is only updated by its own step
	assert.EqualValues(t, testEpoch, env.program.PoolAccount(env.ledger).LastEpochUpdate)
	require.NoError(t, env.driver.UpdatePoolBalance(env.ctx))
	assert.EqualValues(t, testEpoch+1, env.program.PoolAccount(env.ledger).LastEpochUpdate)
}

func TestUpdateValidatorBalances_FullSlots(t *testing.T) {
	env := setup(t)
	validators := testutil.GenerateSolanaKeys(t, validatorsPerUpdate)
	env.initialize(lamportsPerSol, validators...)
	for _, validator := range validators {
		for index := uint32(0); index < env.conf.SlotCapacity; index++ {
			env.program.Stake(env.ledger, validator, index, lamportsPerSol, testEpoch-2)
		}
	}
	env.ledger.SetEpoch(testEpoch + 1)

	// A single instruction covering every validator is too large to submit
	items := make([]stakepool_program.UpdateValidatorBalancesItem, len(validators))
	for i, validator := range validators {
		items[i] = stakepool_program.UpdateValidatorBalancesItem{Validator: validator, StakeCount: env.conf.SlotCapacity}
	}
	whole, err := stakepool_program.NewUpdateValidatorBalancesInstruction(
		env.program.Program,
		&stakepool_program.UpdateValidatorBalancesInstructionAccounts{
			Pool:              env.program.Pool,
			ValidatorList:     env.program.ValidatorList,
			WithdrawAuthority: env.program.Authorities.Withdraw,
			Reserve:           env.program.Authorities.Reserve,
		},
		&stakepool_program.UpdateValidatorBalancesInstructionArgs{Validators: items},
	)
	require.NoError(t, err)
	require.False(t, env.driver.submitter.Fits(whole))

	require.NoError(t, env.driver.UpdateValidatorBalances(env.ctx))

	for _, entry := range env.program.Roster(env.ledger) {
		assert.EqualValues(t, testEpoch+1, entry.LastUpdateEpoch)
		assert.EqualValues(t, uint64(env.conf.SlotCapacity)*lamportsPerSol, entry.Balance)
		assert.EqualValues(t, env.conf.SlotCapacity, entry.StakeCount)
	}

	submitted := env.ledger.Submitted()
	assert.True(t, len(submitted) > 1)
	for _, txn := range submitted {
		assert.True(t, txn.Size() <= solana.MaxTransactionSize)
	}
}

func TestPayCreditorsBatch(t *testing.T) {
	env := setup(t)
	rent := testutil.RentExemption(0)
	env.initialize(5*lamportsPerSol + rent)

	targets := testutil.GenerateSolanaKeys(t, 4)
	for i, amount := range []int64{2 * lamportsPerSol, -lamportsPerSol, 3 * lamportsPerSol, 10 * lamportsPerSol} {
		env.program.AddCreditor(env.ledger, stakepool_program.Creditor{
			Target:          targets[i],
			CancelAuthority: targets[i],
			Amount:          amount,
		})
	}

	require.NoError(t, env.driver.PayCreditorsBatch(env.ctx))

	assert.EqualValues(t, 2*lamportsPerSol, env.lamports(targets[0]))
	assert.EqualValues(t, 0, env.lamports(targets[1]))
	assert.EqualValues(t, 3*lamportsPerSol, env.lamports(targets[2]))
	assert.EqualValues(t, 0, env.lamports(targets[3]))
	assert.EqualValues(t, rent, env.reserve())

	remaining := env.program.Creditors(env.ledger)
	require.Len(t, remaining, 1)
	assert.EqualValues(t, targets[3], remaining[0].Target)

	// The head of the queue cannot be covered
	require.NoError(t, env.driver.PayCreditorsBatch(env.ctx))
	assert.Len(t, env.ledger.Submitted(), 1)
}

func TestPayCreditorsBatch_BatchSizeAndStepLimit(t *testing.T) {
	env := setup(t, withConfig(func(conf *stakepool.Config) {
		conf.PayCreditorsBatch = 1
		conf.MaxSubmissionsPerStep = 2
	}))
	env.initialize(100 * lamportsPerSol)

	targets := testutil.GenerateSolanaKeys(t, 3)
	for _, target := range targets {
		env.program.AddCreditor(env.ledger, stakepool_program.Creditor{
			Target:          target,
			CancelAuthority: target,
			Amount:          lamportsPerSol,
		})
	}

	err := env.driver.PayCreditorsBatch(env.ctx)
	assert.Equal(t, ErrStepLimit, err)
	assert.Len(t, env.ledger.Submitted(), 2)
	assert.Len(t, env.program.Creditors(env.ledger), 1)
}

func TestAffordableCreditors(t *testing.T) {
	creditors := []stakepool_program.Creditor{
		{Amount: 5},
		{Amount: -3},
		{Amount: 4},
		{Amount: 2},
	}

	assert.Empty(t, affordableCreditors(creditors, 10, 10))
	assert.Empty(t, affordableCreditors(creditors, 14, 10))
	assert.Len(t, affordableCreditors(creditors, 15, 10), 2)
	assert.Len(t, affordableCreditors(creditors, 19, 10), 3)
	assert.Len(t, affordableCreditors(creditors, 21, 10), 4)
	assert.Empty(t, affordableCreditors(nil, 100, 10))
}

func TestTopUpReserve(t *testing.T) {
	env := setup(t)
	operatorToken := env.shareAccount(t, testutil.PublicKey(env.payer))
	env.conf.OperatorTokenAccount = base58.Encode(operatorToken)
	env.initialize(lamportsPerSol / 4)

	require.NoError(t, env.driver.TopUpReserve(env.ctx))

	assert.EqualValues(t, lamportsPerSol, env.reserve())
	assert.EqualValues(t, 100*lamportsPerSol-3*lamportsPerSol/4, env.lamports(testutil.PublicKey(env.payer)))
	assert.EqualValues(t, 3*lamportsPerSol/4, env.shares(t, operatorToken))

	// Reserve is at the minimum
	require.NoError(t, env.driver.TopUpReserve(env.ctx))
	assert.Len(t, env.ledger.Submitted(), 1)
}

func TestTopUpReserve_NoOperatorToken(t *testing.T) {
	env := setup(t)
	env.initialize(0)

	require.NoError(t, env.driver.TopUpReserve(env.ctx))
	assert.Empty(t, env.ledger.Submitted())
}

func TestMinReserve(t *testing.T) {
	env := setup(t)

	minReserve, err := env.driver.MinReserve(env.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, lamportsPerSol, minReserve)

	env.conf.MinReserveLamports = 0
	minReserve, err = env.driver.MinReserve(env.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, testutil.RentExemption(0)+testutil.RentExemption(tempStakeSize), minReserve)
}

func TestDelegateBatch_CappedByReserve(t *testing.T) {
	env := setup(t)
	validators := testutil.GenerateSolanaKeys(t, 2)
	env.initialize(5*lamportsPerSol, validators...)

	require.NoError(t, env.driver.DelegateBatch(env.ctx, 40*lamportsPerSol))

	assert.EqualValues(t, lamportsPerSol, env.reserve())
	var total uint64
	for _, entry := range env.program.Roster(env.ledger) {
		total += entry.Balance
	}
	assert.EqualValues(t, 4*lamportsPerSol, total)
}

func TestDelegateBatch_PlanningError(t *testing.T) {
	env := setup(t)
	validators := testutil.GenerateSolanaKeys(t, 2)
	env.initialize(10*lamportsPerSol, validators...)

	err := env.driver.DelegateBatch(env.ctx, lamportsPerSol/2)

	var planningErr *planner.PlanningError
	require.True(t, errors.As(err, &planningErr))
	assert.Empty(t, env.ledger.Submitted())
}

func TestUnstake(t *testing.T) {
	env := setup(t)
	validators := testutil.GenerateSolanaKeys(t, 2)
	env.initialize(lamportsPerSol, validators...)
	env.program.Stake(env.ledger, validators[0], 0, 10*lamportsPerSol, testEpoch-2)
	env.program.Stake(env.ledger, validators[1], 0, 10*lamportsPerSol, testEpoch-2)

	require.NoError(t, env.driver.Unstake(env.ctx, validators[0], 3*lamportsPerSol))

	snapshot, err := env.driver.Reader().ReadSnapshot(env.ctx)
	require.NoError(t, err)
	require.Len(t, snapshot.Roster, 2)

	source := snapshot.Roster[0].Slot(0)
	require.NotNil(t, source)
	assert.Equal(t, stake.ActivationStateActive, source.State)
	assert.EqualValues(t, 7*lamportsPerSol, source.Lamports)

	split := snapshot.Roster[0].Slot(1)
	require.NotNil(t, split)
	assert.Equal(t, stake.ActivationStateDeactivating, split.State)
	assert.EqualValues(t, 3*lamportsPerSol, split.Lamports)

	require.NoError(t, env.driver.Unstake(env.ctx, validators[1], 0))

	snapshot, err = env.driver.Reader().ReadSnapshot(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, stake.ActivationStateDeactivating, snapshot.Roster[1].Slot(0).State)
	assert.Equal(t, stake.ActivationStateActive, snapshot.Roster[0].Slot(0).State)

	assert.True(t, errors.Is(env.driver.Unstake(env.ctx, testutil.GenerateSolanaKeys(t, 1)[0], 0), ErrValidatorNotFound))
	assert.Equal(t, ErrNoActiveStake, env.driver.Unstake(env.ctx, validators[1], lamportsPerSol))
}

func TestRunCycle_UnstakeAll(t *testing.T) {
	env := setup(t)
	validators := testutil.GenerateSolanaKeys(t, 3)
	env.initialize(lamportsPerSol, validators...)
	for _, validator := range validators[:2] {
		env.program.Stake(env.ledger, validator, 0, 10*lamportsPerSol, testEpoch-2)
	}

	require.NoError(t, env.driver.RunCycle(env.ctx, CycleOptions{UnstakeAll: true}))

	snapshot, err := env.driver.Reader().ReadSnapshot(env.ctx)
	require.NoError(t, err)
	for _, validator := range snapshot.Roster[:2] {
		assert.Equal(t, stake.ActivationStateDeactivating, validator.Slot(0).State)
	}
	assert.Len(t, env.ledger.Submitted(), 1)
}

func TestOperatorFlows(t *testing.T) {
	env := setup(t)
	env.initialize(lamportsPerSol)

	payer := testutil.PublicKey(env.payer)
	shareAccount := env.shareAccount(t, payer)

	require.NoError(t, env.driver.Deposit(env.ctx, 5*lamportsPerSol, shareAccount))
	assert.EqualValues(t, 5*lamportsPerSol, env.shares(t, shareAccount))
	assert.EqualValues(t, 6*lamportsPerSol, env.reserve())

	target := testutil.GenerateSolanaKeys(t, 1)[0]
	require.NoError(t, env.driver.Withdraw(env.ctx, 2*lamportsPerSol, shareAccount, target))
	assert.EqualValues(t, 3*lamportsPerSol, env.shares(t, shareAccount))
	assert.EqualValues(t, 2*lamportsPerSol, env.lamports(target))

	cancelAuthority := testutil.GenerateSolanaKeypair(t)
	require.NoError(t, env.driver.Credit(env.ctx, lamportsPerSol, shareAccount, target, testutil.PublicKey(cancelAuthority)))
	require.NoError(t, env.driver.CancelCredit(env.ctx, lamportsPerSol, cancelAuthority, shareAccount))

	creditors := env.program.Creditors(env.ledger)
	require.Len(t, creditors, 2)
	assert.EqualValues(t, target, creditors[0].Target)
	assert.EqualValues(t, lamportsPerSol, creditors[0].Amount)
	assert.EqualValues(t, testutil.PublicKey(cancelAuthority), creditors[0].CancelAuthority)
	assert.EqualValues(t, -lamportsPerSol, creditors[1].Amount)
	assert.EqualValues(t, testutil.PublicKey(cancelAuthority), creditors[1].CancelAuthority)

	submitted := env.ledger.Submitted()
	require.Len(t, submitted, 4)
	assert.Len(t, submitted[1].Message.Instructions, 2)
	assert.EqualValues(t, 2, submitted[3].Message.Header.NumSignatures)

	assert.Error(t, env.driver.CancelCredit(env.ctx, 0, cancelAuthority, shareAccount))
}

func TestDeposit_AssociatedAccount(t *testing.T) {
	env := setup(t)
	env.initialize(lamportsPerSol)

	payer := testutil.PublicKey(env.payer)
	associated, err := token.GetAssociatedAccount(payer, env.program.PoolMint)
	require.NoError(t, err)

	require.NoError(t, env.driver.Deposit(env.ctx, 2*lamportsPerSol, nil))
	assert.EqualValues(t, 2*lamportsPerSol, env.shares(t, associated))

	// The second deposit finds the account in place
	require.NoError(t, env.driver.Deposit(env.ctx, lamportsPerSol, nil))
	assert.EqualValues(t, 3*lamportsPerSol, env.shares(t, associated))

	submitted := env.ledger.Submitted()
	require.Len(t, submitted, 2)
	for _, txn := range submitted {
		_, err := token.DecompileCreateAssociatedAccount(txn.Message, 0)
		assert.NoError(t, err)
	}
}

func TestWithdraw_ChecksShareAccount(t *testing.T) {
	env := setup(t)
	env.initialize(lamportsPerSol)

	payer := testutil.PublicKey(env.payer)
	owned := env.shareAccount(t, payer)
	foreign := env.shareAccount(t, testutil.GenerateSolanaKeys(t, 1)[0])
	require.NoError(t, env.driver.Deposit(env.ctx, lamportsPerSol, owned))
	require.NoError(t, env.driver.Deposit(env.ctx, lamportsPerSol, foreign))

	target := testutil.GenerateSolanaKeys(t, 1)[0]
	for _, tc := range []struct {
		account ed25519.PublicKey
		shares  uint64
	}{
		{account: owned, shares: 2 * lamportsPerSol},
		{account: foreign, shares: 1},
		{account: target, shares: 1},
		{account: env.program.Authorities.Reserve, shares: 1},
	} {
		err := env.driver.Withdraw(env.ctx, tc.shares, tc.account, target)
		assert.True(t, errors.Is(err, stakepool_program.ErrInvalidArgs), err)

		err = env.driver.Credit(env.ctx, tc.shares, tc.account, target, payer)
		assert.True(t, errors.Is(err, stakepool_program.ErrInvalidArgs), err)
	}
	assert.Len(t, env.ledger.Submitted(), 2)
}

func TestDeposit_Rejected(t *testing.T) {
	env := setup(t)
	env.initialize(lamportsPerSol)

	ctx, cycle := newCycle(env.ctx)
	err := env.driver.Deposit(ctx, lamportsPerSol, testutil.GenerateSolanaKeys(t, 1)[0])

	var rejected *submitter.SubmissionRejected
	require.True(t, errors.As(err, &rejected))
	assert.True(t, rejected.HasProgramCode)
	assert.EqualValues(t, stakepool_program.ErrorCodeWrongAccountMint, rejected.ProgramCode)
	assert.False(t, IsRetriable(err))

	records := env.records(t, cycle)
	require.Len(t, records, 1)
	assert.Equal(t, journal.StatusRejected, records[0].Status)
	require.NotNil(t, records[0].ProgramCode)
	assert.EqualValues(t, stakepool_program.ErrorCodeWrongAccountMint, *records[0].ProgramCode)
	require.NotNil(t, records[0].Error)
	assert.Nil(t, records[0].ConfirmedAt)
}

func TestDeposit_AmbiguousNotRetried(t *testing.T) {
	env := setup(t)
	env.initialize(lamportsPerSol)
	shareAccount := env.shareAccount(t, testutil.PublicKey(env.payer))
	env.ledger.WithholdStatuses(true)

	ctx, cycle := newCycle(env.ctx)
	err := env.driver.Deposit(ctx, lamportsPerSol, shareAccount)

	var timeout *submitter.ConfirmationTimeout
	require.True(t, errors.As(err, &timeout))
	assert.Len(t, env.ledger.Submitted(), 1)

	records := env.records(t, cycle)
	require.Len(t, records, 1)
	assert.Equal(t, journal.StatusTimeout, records[0].Status)
	assert.Equal(t, timeout.Signature.String(), records[0].Signature)

	count, err := env.journal.CountByStatus(env.ctx, journal.StatusTimeout)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestDeposit_LostResponseNotRetried(t *testing.T) {
	env := setup(t)
	env.initialize(lamportsPerSol)
	shareAccount := env.shareAccount(t, testutil.PublicKey(env.payer))
	env.ledger.LoseResponse(errors.Wrap(solana.ErrTransient, "502 bad gateway"))

	ctx, cycle := newCycle(env.ctx)
	err := env.driver.Deposit(ctx, 5*lamportsPerSol, shareAccount)

	var unconfirmed *submitter.SubmissionUnconfirmed
	require.True(t, errors.As(err, &unconfirmed))
	assert.True(t, errors.Is(err, solana.ErrTransient))

	// The deposit landed once and was not signed again
	assert.Len(t, env.ledger.Submitted(), 1)
	assert.EqualValues(t, 5*lamportsPerSol, env.shares(t, shareAccount))
	assert.EqualValues(t, 6*lamportsPerSol, env.reserve())

	records := env.records(t, cycle)
	require.Len(t, records, 1)
	assert.Equal(t, journal.StatusUnconfirmed, records[0].Status)
	assert.Equal(t, unconfirmed.Signature.String(), records[0].Signature)
	require.NotNil(t, records[0].Error)
}

func TestMerge_LostResponseReread(t *testing.T) {
	env := setup(t)
	validator := testutil.GenerateSolanaKeys(t, 1)[0]
	env.initialize(lamportsPerSol, validator)
	env.program.Stake(env.ledger, validator, 0, 2*lamportsPerSol, testEpoch-2)
	env.program.Stake(env.ledger, validator, 1, 2*lamportsPerSol, testEpoch-2)
	env.ledger.LoseResponse(errors.Wrap(solana.ErrTransient, "502 bad gateway"))

	// The re-read finds the merge applied and settles without a resubmission
	require.NoError(t, env.driver.MergeAll(env.ctx))
	assert.Len(t, env.ledger.Submitted(), 1)
}

func TestRun_RetriesTransientReads(t *testing.T) {
	env := setup(t)
	env.initialize(lamportsPerSol)
	env.ledger.FailAccount(env.program.Authorities.Reserve, errors.Wrap(solana.ErrTransient, "node unavailable"))

	err := env.driver.PayCreditorsBatch(env.ctx)
	assert.True(t, errors.Is(err, solana.ErrTransient))
	assert.True(t, IsRetriable(err))
}

func TestAddValidators(t *testing.T) {
	env := setup(t)
	validators := testutil.GenerateSolanaKeys(t, 3)
	env.initialize(lamportsPerSol, validators[0])

	env.ledger.SetVoteAccounts([]solana.VoteAccount{
		{VotePubkey: validators[0]},
		{VotePubkey: validators[1]},
		{VotePubkey: validators[2]},
	})

	require.NoError(t, env.driver.AddValidators(env.ctx, nil))

	roster := env.program.Roster(env.ledger)
	require.Len(t, roster, 3)
	for i, entry := range roster {
		assert.EqualValues(t, validators[i], entry.Validator)
	}

	// Already present
	require.NoError(t, env.driver.AddValidators(env.ctx, validators[1:2]))
	assert.Len(t, env.ledger.Submitted(), 1)
}

func TestAddValidators_OwnerRequired(t *testing.T) {
	env := setup(t, withoutOwner())
	env.initialize(lamportsPerSol)

	assert.Equal(t, ErrOwnerRequired, env.driver.AddValidators(env.ctx, testutil.GenerateSolanaKeys(t, 1)))
}

func TestRemovalCandidates(t *testing.T) {
	env := setup(t)
	validators := testutil.GenerateSolanaKeys(t, 3)
	env.initialize(lamportsPerSol, validators...)
	env.program.Stake(env.ledger, validators[1], 0, 2*lamportsPerSol, testEpoch-2)

	candidates, err := env.driver.RemovalCandidates(env.ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.EqualValues(t, validators[0], candidates[0])
	assert.EqualValues(t, validators[2], candidates[1])
}

func TestIsRetriable(t *testing.T) {
	for _, tc := range []struct {
		err       error
		retriable bool
	}{
		{&submitter.ConfirmationTimeout{}, true},
		{errors.Wrap(&submitter.ConfirmationTimeout{}, "wrapped"), true},
		{solana.ErrTransient, true},
		{errors.Wrap(solana.ErrTransient, "wrapped"), true},
		{&submitter.SubmissionUnconfirmed{Err: solana.ErrTransient}, true},
		{&submitter.SubmissionUnconfirmed{Err: context.Canceled}, true},
		{&submitter.SubmissionRejected{}, false},
		{&planner.PlanningError{Reason: planner.ErrEmptyRoster}, false},
		{&state.DecodeError{Err: errors.New("short")}, false},
		{state.ErrPoolNotFound, false},
		{solana.ErrTransactionTooLarge, false},
	} {
		assert.Equal(t, tc.retriable, IsRetriable(tc.err), "%v", tc.err)
	}

	assert.False(t, isRetriableBeforeSend(&submitter.ConfirmationTimeout{}))
	assert.False(t, isRetriableBeforeSend(&submitter.SubmissionUnconfirmed{Err: solana.ErrTransient}))
	assert.False(t, isRetriableBeforeSend(errors.Wrap(&submitter.SubmissionUnconfirmed{Err: solana.ErrTransient}, "wrapped")))
	assert.True(t, isRetriableBeforeSend(solana.ErrTransient))
}

func TestCycleContext(t *testing.T) {
	ctx, id := newCycle(context.Background())
	require.NotEmpty(t, id)
	assert.Equal(t, id, cycleFromContext(ctx))

	same, sameID := newCycle(ctx)
	assert.Equal(t, id, sameID)
	assert.Equal(t, ctx, same)

	assert.Empty(t, cycleFromContext(context.Background()))
}
