package testutil

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/stake-pool-server/pkg/solana"
	"github.com/code-payments/stake-pool-server/pkg/solana/computebudget"
	"github.com/code-payments/stake-pool-server/pkg/solana/stake"
	"github.com/code-payments/stake-pool-server/pkg/solana/stakepool"
	"github.com/code-payments/stake-pool-server/pkg/solana/system"
	"github.com/code-payments/stake-pool-server/pkg/solana/token"
)

// SPL token program error codes
const (
	tokenErrorOwnerMismatch      = 4
	tokenErrorUninitializedState = 9
)

// PoolProgram simulates the stake pool program, and the system and token
// instructions used at genesis, against a Ledger. Instructions are applied in
// order and a failing instruction does not roll back the ones before it.
//
// Stake slots are modelled with single epoch warmup and cooldown, and
// update-validator-balances sweeps fully inactive slots into the reserve.
type PoolProgram struct {
	Program       ed25519.PublicKey
	Pool          ed25519.PublicKey
	ValidatorList ed25519.PublicKey
	CreditList    ed25519.PublicKey
	PoolMint      ed25519.PublicKey
	OwnerFee      ed25519.PublicKey
	CreditReserve ed25519.PublicKey
	Owner         ed25519.PrivateKey
	Authorities   *stakepool.Authorities
	SlotCapacity  uint32
}

func NewPoolProgram(t *testing.T) *PoolProgram {
	keys := GenerateSolanaKeys(t, 7)

	authorities, err := stakepool.GetAuthorities(keys[0], keys[1])
	require.NoError(t, err)

	return &PoolProgram{
		Program:       keys[0],
		Pool:          keys[1],
		ValidatorList: keys[2],
		CreditList:    keys[3],
		PoolMint:      keys[4],
		OwnerFee:      keys[5],
		CreditReserve: keys[6],
		Owner:         GenerateSolanaKeypair(t),
		Authorities:   authorities,
		SlotCapacity:  stakepool.DefaultSlotCapacity,
	}
}

// Initialize writes an empty, freshly refreshed pool at the ledger's epoch.
func (p *PoolProgram) Initialize(l *Ledger, feeNumerator, feeDenominator uint64) {
	pool := &stakepool.PoolAccount{
		Version:         1,
		Owner:           PublicKey(p.Owner),
		ValidatorList:   p.ValidatorList,
		CreditList:      p.CreditList,
		PoolMint:        p.PoolMint,
		OwnerFeeAccount: p.OwnerFee,
		CreditReserve:   p.CreditReserve,
		TokenProgram:    token.ProgramKey,
		LastEpochUpdate: l.Epoch(),
		FeeNumerator:    feeNumerator,
		FeeDenominator:  feeDenominator,
	}
	p.setPool(l, pool)
	p.setRoster(l, &stakepool.ValidatorListAccount{Version: 1})
	p.setCreditors(l, &stakepool.CreditListAccount{Version: 1})
}

// AddValidator appends a roster entry refreshed at the ledger's epoch.
func (p *PoolProgram) AddValidator(l *Ledger, validator ed25519.PublicKey) {
	roster := p.roster(l)
	roster.Validators = append(roster.Validators, stakepool.ValidatorEntry{
		Validator:       validator,
		LastUpdateEpoch: l.Epoch(),
	})
	p.setRoster(l, roster)
}

// SetEntry overwrites the roster entry for the validator.
func (p *PoolProgram) SetEntry(l *Ledger, entry stakepool.ValidatorEntry) {
	roster := p.roster(l)
	index := roster.Find(entry.Validator)
	if index < 0 {
		panic("validator not in roster")
	}
	roster.Validators[index] = entry
	p.setRoster(l, roster)
}

func (p *PoolProgram) AddCreditor(l *Ledger, creditor stakepool.Creditor) {
	creditors := p.creditors(l)
	creditors.Creditors = append(creditors.Creditors, creditor)
	p.setCreditors(l, creditors)
}

// SetPoolEpoch sets the epoch the pool last refreshed its bookkeeping.
func (p *PoolProgram) SetPoolEpoch(l *Ledger, epoch uint64) {
	pool := p.PoolAccount(l)
	pool.LastEpochUpdate = epoch
	p.setPool(l, pool)
}

// Stake places a delegated stake account in the validator's slot and keeps the
// roster entry consistent with it.
func (p *PoolProgram) Stake(l *Ledger, validator ed25519.PublicKey, index uint32, lamports, activationEpoch uint64) ed25519.PublicKey {
	address := p.SlotAddress(validator, index)
	l.SetStake(address, validator, lamports, activationEpoch, stake.NoEpoch)

	roster := p.roster(l)
	i := roster.Find(validator)
	if i < 0 {
		panic("validator not in roster")
	}
	roster.Validators[i].Balance += lamports
	if roster.Validators[i].StakeCount < index+1 {
		roster.Validators[i].StakeCount = index + 1
	}
	p.setRoster(l, roster)
	return address
}

func (p *PoolProgram) SlotAddress(validator ed25519.PublicKey, index uint32) ed25519.PublicKey {
	address, _, err := stakepool.GetStakeAddress(&stakepool.GetStakeAddressArgs{
		Program:   p.Program,
		Validator: validator,
		Pool:      p.Pool,
		Index:     index,
	})
	if err != nil {
		panic(err)
	}
	return address
}

func (p *PoolProgram) PoolAccount(l *Ledger) *stakepool.PoolAccount {
	info, _ := l.Account(p.Pool)
	var pool stakepool.PoolAccount
	if err := pool.Unmarshal(info.Data); err != nil {
		panic(err)
	}
	return &pool
}

func (p *PoolProgram) Roster(l *Ledger) []stakepool.ValidatorEntry {
	return p.roster(l).Validators
}

func (p *PoolProgram) Creditors(l *Ledger) []stakepool.Creditor {
	return p.creditors(l).Creditors
}

// Hook returns the SubmitHook executing transactions against the simulated
// programs.
func (p *PoolProgram) Hook() SubmitHook {
	return func(l *Ledger, txn solana.Transaction) error {
		for i, instruction := range txn.Message.Instructions {
			program := txn.Message.Accounts[instruction.ProgramIndex]
			accounts := make([]ed25519.PublicKey, len(instruction.Accounts))
			for j, index := range instruction.Accounts {
				accounts[j] = txn.Message.Accounts[index]
			}

			var err error
			switch {
			case bytes.Equal(program, p.Program):
				err = p.execute(l, instruction.Data, accounts)
			case bytes.Equal(program, system.ProgramKey):
				err = executeSystem(l, txn.Message, i)
			case bytes.Equal(program, token.ProgramKey):
				err = executeToken(l, txn.Message, i)
			case bytes.Equal(program, token.AssociatedTokenAccountProgramKey):
				err = executeAssociatedAccount(l, txn.Message, i)
			case bytes.Equal(program, computebudget.ProgramKey):
			default:
				return errors.Errorf("unexpected program in instruction %d", i)
			}

			var code stakepool.ErrorCode
			if errors.As(err, &code) {
				return solana.NewCustomTransactionError(i, uint32(code))
			}
			if err != nil {
				return err
			}
		}
		return nil
	}
}

func (p *PoolProgram) execute(l *Ledger, data []byte, accounts []ed25519.PublicKey) error {
	instructionType, err := stakepool.GetInstructionType(data)
	if err != nil {
		return err
	}

	switch instructionType {
	case stakepool.InstructionTypeInitialize:
		args, err := stakepool.InitializeInstructionArgsFromBinary(data)
		if err != nil {
			return err
		}
		if info, ok := l.Account(p.Pool); ok && len(info.Data) > 0 && info.Data[0] != 0 {
			return stakepool.ErrorCodeAlreadyInUse
		}

		p.ValidatorList, p.CreditList = accounts[2], accounts[3]
		p.PoolMint, p.OwnerFee, p.CreditReserve = accounts[4], accounts[5], accounts[6]
		p.Initialize(l, args.FeeNumerator, args.FeeDenominator)

		pool := p.PoolAccount(l)
		pool.Owner = accounts[1]
		p.setPool(l, pool)
		return nil

	case stakepool.InstructionTypeAddValidator:
		if p.roster(l).Find(accounts[3]) >= 0 {
			return stakepool.ErrorCodeValidatorAlreadyAdded
		}
		p.AddValidator(l, accounts[3])
		return nil

	case stakepool.InstructionTypeUpdateValidatorBalances:
		count, err := stakepool.UpdateValidatorBalancesValidatorCountFromBinary(data)
		if err != nil {
			return err
		}
		return p.updateValidatorBalances(l, count, accounts[stakepool.UpdateValidatorBalancesFixedAccounts:])

	case stakepool.InstructionTypeUpdatePoolBalance:
		roster := p.roster(l)
		var total uint64
		for _, entry := range roster.Validators {
			if entry.LastUpdateEpoch < l.Epoch() {
				return stakepool.ErrorCodeStakeListOutOfDate
			}
			total += entry.Balance
		}

		reserve, _ := l.Account(p.Authorities.Reserve)
		pool := p.PoolAccount(l)
		pool.StakeTotal = total + reserve.Lamports
		pool.LastEpochUpdate = l.Epoch()
		p.setPool(l, pool)
		return nil

	case stakepool.InstructionTypeDelegateReserve:
		args, err := stakepool.DelegateReserveInstructionArgsFromBinary(data)
		if err != nil {
			return err
		}
		return p.delegate(l, args, accounts[stakepool.DelegateReserveFixedAccounts:])

	case stakepool.InstructionTypeMergeStakes:
		args, err := stakepool.MergeStakesInstructionArgsFromBinary(data)
		if err != nil {
			return err
		}
		return p.merge(l, args)

	case stakepool.InstructionTypeUnstake:
		args, err := stakepool.UnstakeInstructionArgsFromBinary(data)
		if err != nil {
			return err
		}
		return p.unstake(l, args, accounts[stakepool.UnstakeFixedAccounts:])

	case stakepool.InstructionTypePayCreditors:
		batch, err := stakepool.PayCreditorsBatchFromBinary(data)
		if err != nil {
			return err
		}
		return p.payCreditors(l, batch, accounts[stakepool.PayCreditorsFixedAccounts:])

	case stakepool.InstructionTypeDeposit:
		args, err := stakepool.DepositInstructionArgsFromBinary(data)
		if err != nil {
			return err
		}
		return p.deposit(l, args.Amount, accounts[3], accounts[4])

	case stakepool.InstructionTypeWithdraw:
		args, err := stakepool.WithdrawInstructionArgsFromBinary(data)
		if err != nil {
			return err
		}
		return p.withdraw(l, args.Amount, accounts[3], accounts[5])

	case stakepool.InstructionTypeCredit:
		args, err := stakepool.CreditInstructionArgsFromBinary(data)
		if err != nil {
			return err
		}
		p.AddCreditor(l, stakepool.Creditor{Target: accounts[5], CancelAuthority: accounts[6], Amount: int64(args.Amount)})
		return nil

	case stakepool.InstructionTypeCancelCredit:
		args, err := stakepool.CancelCreditInstructionArgsFromBinary(data)
		if err != nil {
			return err
		}
		p.AddCreditor(l, stakepool.Creditor{Target: accounts[5], CancelAuthority: accounts[4], Amount: args.Amount})
		return nil
	}

	return errors.Errorf("unsupported instruction %s", instructionType)
}

func (p *PoolProgram) requireFresh(l *Ledger) error {
	if p.PoolAccount(l).LastEpochUpdate < l.Epoch() {
		return stakepool.ErrorCodeStakeListAndPoolOutOfDate
	}
	return nil
}

func (p *PoolProgram) updateValidatorBalances(l *Ledger, count uint32, refs []ed25519.PublicKey) error {
	roster := p.roster(l)

	for n := uint32(0); n < count; n++ {
		if len(refs) == 0 {
			return stakepool.ErrorCodeInvalidValidatorStakeList
		}
		index := roster.Find(refs[0])
		if index < 0 {
			return stakepool.ErrorCodeValidatorNotFound
		}
		entry := &roster.Validators[index]
		if len(refs) < 1+int(entry.StakeCount) {
			return stakepool.ErrorCodeInvalidValidatorStakeList
		}

		slots := refs[1 : 1+entry.StakeCount]
		refs = refs[1+entry.StakeCount:]

		var balance uint64
		for _, slot := range slots {
			info, ok := l.Account(slot)
			if !ok {
				continue
			}
			if p.slotState(l, slot) == stake.ActivationStateInactive {
				l.DeleteAccount(slot)
				p.credit(l, p.Authorities.Reserve, info.Lamports)
				continue
			}
			balance += info.Lamports
		}

		entry.Balance = balance
		entry.LastUpdateEpoch = l.Epoch()
		entry.StakeCount = p.usedSlots(l, entry.Validator)
	}

	p.setRoster(l, roster)
	return nil
}

func (p *PoolProgram) delegate(l *Ledger, args *stakepool.DelegateReserveInstructionArgs, refs []ed25519.PublicKey) error {
	if err := p.requireFresh(l); err != nil {
		return err
	}

	roster := p.roster(l)
	for i, item := range args.Items {
		validator, slot := refs[2*i], refs[2*i+1]

		index := roster.Find(validator)
		if index < 0 {
			return stakepool.ErrorCodeValidatorNotFound
		}
		if item.SlotIndex >= p.SlotCapacity {
			return stakepool.ErrorCodeInvalidStakeIndex
		}
		if !bytes.Equal(slot, p.SlotAddress(validator, item.SlotIndex)) {
			return stakepool.ErrorCodeInvalidStakeAccountAddress
		}

		reserve, _ := l.Account(p.Authorities.Reserve)
		if reserve.Lamports < item.Amount {
			return stakepool.ErrorCodeInvalidState
		}

		if _, ok := l.Account(slot); ok {
			if p.slotState(l, slot) != stake.ActivationStateActivating {
				return stakepool.ErrorCodeWrongStakeState
			}
			account, info := p.stakeAccount(l, slot)
			account.Delegation.Stake += item.Amount
			info.Lamports += item.Amount
			info.Data = account.Marshal()
			l.SetAccount(slot, info)
		} else {
			l.SetStake(slot, validator, item.Amount, l.Epoch(), stake.NoEpoch)
		}

		reserve.Lamports -= item.Amount
		l.SetAccount(p.Authorities.Reserve, reserve)

		entry := &roster.Validators[index]
		entry.Balance += item.Amount
		if entry.StakeCount < item.SlotIndex+1 {
			entry.StakeCount = item.SlotIndex + 1
		}
	}

	p.setRoster(l, roster)
	return nil
}

func (p *PoolProgram) merge(l *Ledger, args *stakepool.MergeStakesInstructionArgs) error {
	roster := p.roster(l)
	for _, item := range args.Items {
		index := roster.Find(item.Validator)
		if index < 0 {
			return stakepool.ErrorCodeValidatorNotFound
		}

		main := p.SlotAddress(item.Validator, item.MainIndex)
		extra := p.SlotAddress(item.Validator, item.ExtraIndex)
		if p.slotState(l, main) != stake.ActivationStateActive || p.slotState(l, extra) != stake.ActivationStateActive {
			return stakepool.ErrorCodeWrongStakeState
		}

		mainAccount, mainInfo := p.stakeAccount(l, main)
		_, extraInfo := p.stakeAccount(l, extra)

		mainAccount.Delegation.Stake += extraInfo.Lamports
		mainInfo.Lamports += extraInfo.Lamports
		mainInfo.Data = mainAccount.Marshal()
		l.SetAccount(main, mainInfo)
		l.DeleteAccount(extra)

		roster.Validators[index].StakeCount = p.usedSlots(l, item.Validator)
	}

	p.setRoster(l, roster)
	return nil
}

func (p *PoolProgram) unstake(l *Ledger, args *stakepool.UnstakeInstructionArgs, refs []ed25519.PublicKey) error {
	if err := p.requireFresh(l); err != nil {
		return err
	}

	roster := p.roster(l)
	for i, item := range args.Items {
		validator, slot, split := refs[3*i], refs[3*i+1], refs[3*i+2]

		index := roster.Find(validator)
		if index < 0 {
			return stakepool.ErrorCodeValidatorNotFound
		}

		state := p.slotState(l, slot)
		if state != stake.ActivationStateActive && state != stake.ActivationStateActivating {
			return stakepool.ErrorCodeWrongStakeState
		}

		account, info := p.stakeAccount(l, slot)
		if item.Amount == 0 {
			account.Delegation.DeactivationEpoch = l.Epoch()
			info.Data = account.Marshal()
			l.SetAccount(slot, info)
			continue
		}

		if _, ok := l.Account(split); ok {
			return stakepool.ErrorCodeAlreadyInUse
		}
		if item.Amount >= info.Lamports {
			return stakepool.ErrorCodeCalculationFailure
		}

		account.Delegation.Stake -= item.Amount
		info.Lamports -= item.Amount
		info.Data = account.Marshal()
		l.SetAccount(slot, info)
		l.SetStake(split, validator, item.Amount, account.Delegation.ActivationEpoch, l.Epoch())

		entry := &roster.Validators[index]
		if entry.StakeCount < item.SplitIndex+1 {
			entry.StakeCount = item.SplitIndex + 1
		}
	}

	p.setRoster(l, roster)
	return nil
}

func (p *PoolProgram) payCreditors(l *Ledger, batch uint32, targets []ed25519.PublicKey) error {
	creditors := p.creditors(l)
	if int(batch) > len(creditors.Creditors) || int(batch) > len(targets) {
		return stakepool.ErrorCodeWrongCreditState
	}

	for i, creditor := range creditors.Creditors[:batch] {
		if !bytes.Equal(creditor.Target, targets[i]) {
			return stakepool.ErrorCodeWrongCreditOwner
		}
		if creditor.Amount <= 0 {
			continue
		}

		reserve, _ := l.Account(p.Authorities.Reserve)
		if reserve.Lamports < uint64(creditor.Amount) {
			return stakepool.ErrorCodeInvalidState
		}
		reserve.Lamports -= uint64(creditor.Amount)
		l.SetAccount(p.Authorities.Reserve, reserve)
		p.credit(l, creditor.Target, uint64(creditor.Amount))
	}

	creditors.Creditors = creditors.Creditors[batch:]
	p.setCreditors(l, creditors)
	return nil
}

func (p *PoolProgram) deposit(l *Ledger, amount uint64, source, destination ed25519.PublicKey) error {
	if err := p.requireFresh(l); err != nil {
		return err
	}

	from, ok := l.Account(source)
	if !ok || from.Lamports < amount {
		return stakepool.ErrorCodeInvalidState
	}
	from.Lamports -= amount
	l.SetAccount(source, from)
	p.credit(l, p.Authorities.Reserve, amount)

	pool := p.PoolAccount(l)
	shares, err := pool.SharesForDeposit(amount)
	if err != nil {
		return stakepool.ErrorCodeCalculationFailure
	}
	pool.StakeTotal += amount
	pool.PoolTotal += shares
	p.setPool(l, pool)

	return adjustTokenBalance(l, destination, int64(shares))
}

func (p *PoolProgram) withdraw(l *Ledger, shares uint64, burnFrom, target ed25519.PublicKey) error {
	if err := p.requireFresh(l); err != nil {
		return err
	}

	if !delegatedTo(l, burnFrom, p.Authorities.Withdraw, shares) {
		return stakepool.ErrorCodeInvalidState
	}

	pool := p.PoolAccount(l)
	lamports, err := pool.LamportsForShares(shares)
	if err != nil {
		return stakepool.ErrorCodeCalculationFailure
	}

	reserve, _ := l.Account(p.Authorities.Reserve)
	if reserve.Lamports < lamports {
		return stakepool.ErrorCodeInvalidState
	}
	reserve.Lamports -= lamports
	l.SetAccount(p.Authorities.Reserve, reserve)
	p.credit(l, target, lamports)

	pool.StakeTotal -= lamports
	pool.PoolTotal -= shares
	p.setPool(l, pool)

	return adjustTokenBalance(l, burnFrom, -int64(shares))
}

func (p *PoolProgram) credit(l *Ledger, address ed25519.PublicKey, lamports uint64) {
	info, ok := l.Account(address)
	if !ok {
		info = solana.AccountInfo{Owner: system.ProgramKey}
	}
	info.Lamports += lamports
	l.SetAccount(address, info)
}

// slotState estimates the slot's activation at the ledger's epoch, ignoring
// any override set with SetActivation.
func (p *PoolProgram) slotState(l *Ledger, address ed25519.PublicKey) stake.ActivationState {
	account, _ := p.stakeAccount(l, address)
	if account == nil || account.Delegation == nil {
		return stake.ActivationStateUnknown
	}
	state, _ := account.Delegation.EstimateActivation(l.Epoch())
	return state
}

func (p *PoolProgram) stakeAccount(l *Ledger, address ed25519.PublicKey) (*stake.Account, solana.AccountInfo) {
	info, ok := l.Account(address)
	if !ok || !bytes.Equal(info.Owner, stake.ProgramKey) {
		return nil, info
	}
	var account stake.Account
	if err := account.Unmarshal(info.Data); err != nil {
		return nil, info
	}
	return &account, info
}

func (p *PoolProgram) usedSlots(l *Ledger, validator ed25519.PublicKey) uint32 {
	var count uint32
	for index := uint32(0); index < p.SlotCapacity; index++ {
		if _, ok := l.Account(p.SlotAddress(validator, index)); ok {
			count = index + 1
		}
	}
	return count
}

func (p *PoolProgram) roster(l *Ledger) *stakepool.ValidatorListAccount {
	info, _ := l.Account(p.ValidatorList)
	var roster stakepool.ValidatorListAccount
	if err := roster.Unmarshal(info.Data); err != nil {
		panic(err)
	}
	return &roster
}

func (p *PoolProgram) creditors(l *Ledger) *stakepool.CreditListAccount {
	info, _ := l.Account(p.CreditList)
	var creditors stakepool.CreditListAccount
	if err := creditors.Unmarshal(info.Data); err != nil {
		panic(err)
	}
	return &creditors
}

func (p *PoolProgram) setPool(l *Ledger, pool *stakepool.PoolAccount) {
	l.SetAccount(p.Pool, solana.AccountInfo{
		Data:     pool.Marshal(),
		Owner:    p.Program,
		Lamports: RentExemption(stakepool.PoolAccountSize),
	})
}

func (p *PoolProgram) setRoster(l *Ledger, roster *stakepool.ValidatorListAccount) {
	l.SetAccount(p.ValidatorList, solana.AccountInfo{
		Data:     roster.Marshal(),
		Owner:    p.Program,
		Lamports: RentExemption(stakepool.ValidatorListAccountSize),
	})
}

func (p *PoolProgram) setCreditors(l *Ledger, creditors *stakepool.CreditListAccount) {
	l.SetAccount(p.CreditList, solana.AccountInfo{
		Data:     creditors.Marshal(),
		Owner:    p.Program,
		Lamports: RentExemption(stakepool.CreditListAccountSize),
	})
}

func executeSystem(l *Ledger, m solana.Message, index int) error {
	if create, err := system.DecompileCreateAccount(m, index); err == nil {
		if info, ok := l.Account(create.Address); ok && info.Lamports > 0 {
			return solana.NewCustomTransactionError(index, 0)
		}
		if funder, ok := l.Account(create.Funder); ok {
			if funder.Lamports < create.Lamports {
				return solana.NewTransactionError(solana.TransactionErrorInsufficientFundsForFee)
			}
			funder.Lamports -= create.Lamports
			l.SetAccount(create.Funder, funder)
		}
		l.SetAccount(create.Address, solana.AccountInfo{
			Data:     make([]byte, create.Size),
			Owner:    create.Owner,
			Lamports: create.Lamports,
		})
		return nil
	}

	transfer, err := system.DecompileTransfer(m, index)
	if err != nil {
		return err
	}
	from, _ := l.Account(transfer.From)
	if from.Lamports < transfer.Lamports {
		return solana.NewTransactionError(solana.TransactionErrorInsufficientFundsForFee)
	}
	from.Lamports -= transfer.Lamports
	l.SetAccount(transfer.From, from)

	to, ok := l.Account(transfer.To)
	if !ok {
		to = solana.AccountInfo{Owner: system.ProgramKey}
	}
	to.Lamports += transfer.Lamports
	l.SetAccount(transfer.To, to)
	return nil
}

func executeToken(l *Ledger, m solana.Message, index int) error {
	command, err := token.GetCommand(m, index)
	if err != nil {
		return err
	}

	switch command {
	case token.CommandInitializeMint:
		decompiled, err := token.DecompileInitializeMint(m, index)
		if err != nil {
			return err
		}
		info, _ := l.Account(decompiled.Mint)
		mint := token.Mint{MintAuthority: decompiled.Authority, Decimals: decompiled.Decimals, IsInitialized: true}
		info.Data = mint.Marshal()
		l.SetAccount(decompiled.Mint, info)
	case token.CommandInitializeAccount:
		decompiled, err := token.DecompileInitializeAccount(m, index)
		if err != nil {
			return err
		}
		info, _ := l.Account(decompiled.Account)
		account := token.Account{Mint: decompiled.Mint, Owner: decompiled.Owner, State: token.AccountStateInitialized}
		info.Data = account.Marshal()
		l.SetAccount(decompiled.Account, info)
	case token.CommandApprove:
		approve, err := token.DecompileApprove(m, index)
		if err != nil {
			return err
		}
		info, ok := l.Account(approve.Source)
		var account token.Account
		if !ok || !account.Unmarshal(info.Data) {
			return solana.NewCustomTransactionError(index, tokenErrorUninitializedState)
		}
		if !bytes.Equal(account.Owner, approve.Owner) {
			return solana.NewCustomTransactionError(index, tokenErrorOwnerMismatch)
		}
		account.Delegate = approve.Delegate
		account.DelegatedAmount = approve.Amount
		info.Data = account.Marshal()
		l.SetAccount(approve.Source, info)
	default:
		return errors.Errorf("unsupported token command %d", command)
	}
	return nil
}

func executeAssociatedAccount(l *Ledger, m solana.Message, index int) error {
	create, err := token.DecompileCreateAssociatedAccount(m, index)
	if err != nil {
		return err
	}

	expected, err := token.GetAssociatedAccount(create.Owner, create.Mint)
	if err != nil {
		return err
	}
	if !bytes.Equal(expected, create.Address) {
		return errors.New("associated account address mismatch")
	}
	if _, ok := l.Account(create.Address); ok {
		return nil
	}

	rent := RentExemption(token.AccountSize)
	funder, _ := l.Account(create.Subsidizer)
	if funder.Lamports < rent {
		return solana.NewTransactionError(solana.TransactionErrorInsufficientFundsForFee)
	}
	funder.Lamports -= rent
	l.SetAccount(create.Subsidizer, funder)

	account := token.Account{Mint: create.Mint, Owner: create.Owner, State: token.AccountStateInitialized}
	l.SetAccount(create.Address, solana.AccountInfo{
		Data:     account.Marshal(),
		Owner:    token.ProgramKey,
		Lamports: rent,
	})
	return nil
}

// delegatedTo reports whether delegate may move amount out of the token
// account at address.
func delegatedTo(l *Ledger, address, delegate ed25519.PublicKey, amount uint64) bool {
	info, ok := l.Account(address)
	var account token.Account
	if !ok || !account.Unmarshal(info.Data) {
		return false
	}
	return bytes.Equal(account.Delegate, delegate) && account.DelegatedAmount >= amount
}

func adjustTokenBalance(l *Ledger, address ed25519.PublicKey, delta int64) error {
	info, ok := l.Account(address)
	if !ok {
		return stakepool.ErrorCodeWrongAccountMint
	}

	var account token.Account
	if !account.Unmarshal(info.Data) {
		return stakepool.ErrorCodeWrongAccountMint
	}
	if delta < 0 && account.Amount < uint64(-delta) {
		return stakepool.ErrorCodeCalculationFailure
	}
	account.Amount = uint64(int64(account.Amount) + delta)
	info.Data = account.Marshal()
	l.SetAccount(address, info)
	return nil
}
