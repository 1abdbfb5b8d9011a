// Package gethvm executes transactions with go-ethereum's EVM. Every
// transaction runs in a fresh geth StateDB served from a state.Reader, and
// its post-state is read back into a state.Diff.
package gethvm

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/rawdb"
	gethstate "github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/triedb"

	"github.com/weiihann/parbench/execution"
	"github.com/weiihann/parbench/state"
	"github.com/weiihann/parbench/txenv"
)

var _ execution.Machine = (*Machine)(nil)

// Machine is an execution.Machine backed by the go-ethereum interpreter. It
// is safe for concurrent use.
type Machine struct {
	db      gethstate.Database
	configs sync.Map // uint64 -> *params.ChainConfig
}

// NewMachine returns a Machine. The trie database it carries stays empty:
// all state is served by the reader handed to Transact.
func NewMachine() *Machine {
	return &Machine{
		db: gethstate.NewDatabase(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil), nil),
	}
}

// ChainConfig returns the fork schedule used for chainID: mainnet's for
// chain 1 and an all-forks ethash schedule for anything else.
func ChainConfig(chainID uint64) *params.ChainConfig {
	if chainID == params.MainnetChainConfig.ChainID.Uint64() {
		return params.MainnetChainConfig
	}

	cfg := *params.AllEthashProtocolChanges
	cfg.ChainID = new(big.Int).SetUint64(chainID)

	return &cfg
}

func (m *Machine) chainConfig(chainID uint64) *params.ChainConfig {
	if cfg, ok := m.configs.Load(chainID); ok {
		return cfg.(*params.ChainConfig)
	}

	cfg, _ := m.configs.LoadOrStore(chainID, ChainConfig(chainID))

	return cfg.(*params.ChainConfig)
}

// Transact implements execution.Machine. Consensus failures such as a bad
// nonce or insufficient funds are returned as errors; reverts and halts are
// reported through the result status. The beneficiary's fee is returned in
// Result.Fee rather than Result.Diff.
func (m *Machine) Transact(env *txenv.Env, db state.Reader) (*execution.Result, error) {
	rec := state.NewRecorder(db)

	statedb, err := gethstate.NewWithReader(types.EmptyRootHash, m.db, &reader{inner: rec})
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}

	var hashErr error
	getHash := func(number uint64) common.Hash {
		hash, err := db.BlockHash(number)
		if err != nil && hashErr == nil {
			hashErr = err
		}

		return hash
	}

	cfg := m.chainConfig(env.Cfg.ChainID)
	blockCtx := blockContext(&env.Block, getHash)
	msg := message(&env.Tx, blockCtx.BaseFee, cfg.IsLondon(blockCtx.BlockNumber))

	touched := newTouchSet()
	fees := &feeDeferral{
		StateDB:     gethstate.NewHookedState(statedb, touched.hooks()),
		beneficiary: blockCtx.Coinbase,
	}
	evm := vm.NewEVM(blockCtx, fees, cfg, vm.Config{})
	evm.SetTxContext(core.NewEVMTxContext(msg))

	res, applyErr := core.ApplyMessage(evm, msg, new(core.GasPool).AddGas(env.Tx.GasLimit))
	if err := statedb.Error(); err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	if hashErr != nil {
		return nil, fmt.Errorf("read block hash: %w", hashErr)
	}
	if applyErr != nil {
		return nil, fmt.Errorf("apply message: %w", applyErr)
	}

	statedb.Finalise(cfg.IsEIP158(blockCtx.BlockNumber))

	result := &execution.Result{
		Status:  status(res.Err),
		GasUsed: res.UsedGas,
		Output:  common.CopyBytes(res.ReturnData),
		Logs:    convertLogs(statedb.Logs()),
		Diff:    collectDiff(statedb, rec, touched),
		Fee:     &execution.FeeCredit{Beneficiary: blockCtx.Coinbase, Amount: fees.fee},
	}
	if msg.To == nil && res.Err == nil {
		addr := crypto.CreateAddress(msg.From, msg.Nonce)
		result.ContractAddress = &addr
	}

	return result, nil
}

func blockContext(b *txenv.BlockEnv, getHash vm.GetHashFunc) vm.BlockContext {
	ctx := vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     getHash,
		Coinbase:    b.Coinbase,
		GasLimit:    b.GasLimit.Uint64(),
		BlockNumber: b.Number.ToBig(),
		Time:        b.Timestamp.Uint64(),
		Difficulty:  b.Difficulty.ToBig(),
		BaseFee:     b.BaseFee.ToBig(),
		BlobBaseFee: new(big.Int),
	}

	// Proof-of-stake blocks carry no difficulty. The randao mix is not part
	// of the fetched header, so PREVRANDAO reads zero.
	if b.Difficulty.IsZero() {
		ctx.Random = &common.Hash{}
	}

	return ctx
}

func message(tx *txenv.TxEnv, baseFee *big.Int, london bool) *core.Message {
	feeCap := tx.GasPrice.ToBig()
	tipCap := tx.GasPrice.ToBig()
	gasPrice := tx.GasPrice.ToBig()

	if tx.Type >= types.DynamicFeeTxType {
		tipCap = tx.PriorityFee.ToBig()
		if london {
			gasPrice.Add(tipCap, baseFee)
			if gasPrice.Cmp(feeCap) > 0 {
				gasPrice.Set(feeCap)
			}
		}
	}

	accessList := make(types.AccessList, 0, len(tx.AccessList))
	for _, tuple := range tx.AccessList {
		keys := make([]common.Hash, len(tuple.Keys))
		for i := range tuple.Keys {
			keys[i] = tuple.Keys[i].Bytes32()
		}
		accessList = append(accessList, types.AccessTuple{Address: tuple.Address, StorageKeys: keys})
	}

	return &core.Message{
		To:         tx.To,
		From:       tx.Caller,
		Nonce:      tx.Nonce,
		Value:      tx.Value.ToBig(),
		GasLimit:   tx.GasLimit,
		GasPrice:   gasPrice,
		GasFeeCap:  feeCap,
		GasTipCap:  tipCap,
		Data:       common.CopyBytes(tx.Data),
		AccessList: accessList,
	}
}

func status(err error) execution.Status {
	switch {
	case err == nil:
		return execution.StatusSuccess
	case errors.Is(err, vm.ErrExecutionReverted):
		return execution.StatusRevert
	default:
		return execution.StatusHalt
	}
}

func convertLogs(logs []*types.Log) []execution.Log {
	if len(logs) == 0 {
		return nil
	}

	out := make([]execution.Log, len(logs))
	for i, l := range logs {
		out[i] = execution.Log{
			Address: l.Address,
			Topics:  append([]common.Hash(nil), l.Topics...),
			Data:    common.CopyBytes(l.Data),
		}
	}

	return out
}
