// Package executiontest provides a deterministic stand-in for the EVM so the
// engines and the harness can be tested without a full interpreter.
package executiontest

import (
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/weiihann/parbench/chaindata"
	"github.com/weiihann/parbench/execution"
	"github.com/weiihann/parbench/state"
	"github.com/weiihann/parbench/txenv"
)

// GasPerTx is the gas every successful fake execution reports.
const GasPerTx = 21_000

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoTarget            = errors.New("call to nonexistent account")
)

// Machine moves value between accounts. A call to an account with code
// increments the storage slot named by the first 32 bytes of calldata. A
// create deploys the calldata as runtime code.
type Machine struct {
	storageReads atomic.Int64
	calls        atomic.Int64
}

// StorageReads returns the number of storage lookups issued so far.
func (m *Machine) StorageReads() int64 {
	return m.storageReads.Load()
}

// Calls returns the number of Transact invocations so far.
func (m *Machine) Calls() int64 {
	return m.calls.Load()
}

// Transact implements execution.Machine.
func (m *Machine) Transact(env *txenv.Env, db state.Reader) (*execution.Result, error) {
	m.calls.Add(1)
	tx := &env.Tx

	caller, err := db.Account(tx.Caller)
	if err != nil {
		return nil, fmt.Errorf("load caller %s: %w", tx.Caller, err)
	}
	if caller == nil {
		caller = &state.Account{}
	}
	if caller.Balance.Lt(&tx.Value) {
		return nil, fmt.Errorf("%w: %s has %s, needs %s",
			ErrInsufficientBalance, tx.Caller, caller.Balance.Dec(), tx.Value.Dec())
	}

	diff := state.Diff{}
	result := &execution.Result{Status: execution.StatusSuccess, GasUsed: GasPerTx}

	sender := &state.AccountDiff{Account: *caller}
	sender.Account.Balance.Sub(&sender.Account.Balance, &tx.Value)
	sender.Account.Nonce++
	diff[tx.Caller] = sender

	if tx.IsCreate() {
		addr := crypto.CreateAddress(tx.Caller, caller.Nonce)
		code := common.CopyBytes(tx.Data)
		created := &state.AccountDiff{
			Account: state.Account{Nonce: 1, CodeHash: crypto.Keccak256Hash(code)},
			Code:    code,
		}
		created.Account.Balance.Set(&tx.Value)
		diff[addr] = created
		result.ContractAddress = &addr

		return withDiff(result, diff), nil
	}

	to := *tx.To
	var target *state.AccountDiff
	if to == tx.Caller {
		target = sender
	} else {
		acc, err := db.Account(to)
		if err != nil {
			return nil, fmt.Errorf("load target %s: %w", to, err)
		}
		if acc == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoTarget, to)
		}
		target = &state.AccountDiff{Account: *acc}
		diff[to] = target
	}
	target.Account.Balance.Add(&target.Account.Balance, &tx.Value)

	if target.Account.HasCode() {
		var key uint256.Int
		key.SetBytes(common.RightPadBytes(tx.Data, 32)[:32])

		value, err := db.Storage(to, key)
		m.storageReads.Add(1)
		if err != nil {
			return nil, fmt.Errorf("load slot %s of %s: %w", key.Hex(), to, err)
		}
		value.AddUint64(&value, 1)
		target.Storage = map[uint256.Int]uint256.Int{key: value}
		result.Output = value.PaddedBytes(32)
	}

	return withDiff(result, diff), nil
}

func withDiff(res *execution.Result, diff state.Diff) *execution.Result {
	res.Diff = diff

	return res
}

// Transfer builds a plain value transfer record.
func Transfer(from, to common.Address, nonce uint64, value int64) *chaindata.Transaction {
	return &chaindata.Transaction{
		Hash:     crypto.Keccak256Hash(from[:], to[:], new(big.Int).SetUint64(nonce).Bytes()),
		From:     from,
		To:       &to,
		Nonce:    nonce,
		Gas:      GasPerTx,
		GasPrice: big.NewInt(1),
		Value:    big.NewInt(value),
		Input:    []byte{},
	}
}

// Call builds a record that increments slot of contract.
func Call(from, contract common.Address, nonce uint64, slot uint64) *chaindata.Transaction {
	tx := Transfer(from, contract, nonce, 0)
	tx.Input = common.LeftPadBytes(new(big.Int).SetUint64(slot).Bytes(), 32)

	return tx
}

// Create builds a record deploying code.
func Create(from common.Address, nonce uint64, code []byte) *chaindata.Transaction {
	tx := Transfer(from, common.Address{}, nonce, 0)
	tx.To = nil
	tx.Input = common.CopyBytes(code)

	return tx
}

// Block wraps txs in a block with a fixed header.
func Block(txs ...*chaindata.Transaction) *chaindata.Block {
	coinbase := common.HexToAddress("0xc014ba5e")

	return &chaindata.Block{
		Number:       100,
		Author:       &coinbase,
		Timestamp:    1_700_000_000,
		Difficulty:   big.NewInt(0),
		GasLimit:     30_000_000,
		BaseFee:      big.NewInt(0),
		Transactions: txs,
	}
}
