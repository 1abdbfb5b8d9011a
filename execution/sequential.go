package execution

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/weiihann/parbench/chaindata"
	"github.com/weiihann/parbench/state"
	"github.com/weiihann/parbench/txenv"
)

// Sequential replays a block one transaction at a time, committing each
// diff before the next transaction runs.
type Sequential struct {
	machine Machine
}

// NewSequential returns a sequential engine driving machine.
func NewSequential(machine Machine) *Sequential {
	return &Sequential{machine: machine}
}

// ExecuteBlock runs every transaction of block in order against db, which
// accumulates all diffs and settled fees. The first mapping or execution
// failure aborts the block with a *TxError naming the slot.
func (s *Sequential) ExecuteBlock(
	block *chaindata.Block,
	db state.Database,
	chainID uint64,
) ([]*Result, error) {
	blockEnv, err := txenv.NewBlockEnv(block)
	if err != nil {
		return nil, fmt.Errorf("map block header: %w", err)
	}

	results := make([]*Result, len(block.Transactions))

	for i, tx := range block.Transactions {
		res, err := s.executeOne(tx, blockEnv, db, chainID)
		if err != nil {
			return nil, &TxError{Index: i, Hash: txHash(tx), Err: err}
		}

		db.Commit(res.Diff)
		results[i] = res
	}

	return results, nil
}

func (s *Sequential) executeOne(
	tx *chaindata.Transaction,
	blockEnv txenv.BlockEnv,
	db state.Database,
	chainID uint64,
) (*Result, error) {
	env, err := txenv.Build(tx, blockEnv, chainID)
	if err != nil {
		return nil, fmt.Errorf("build environment: %w", err)
	}

	res, err := s.machine.Transact(env, db)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}

	if err := SettleFee(res, db); err != nil {
		return nil, fmt.Errorf("settle fee: %w", err)
	}

	return res, nil
}

func txHash(tx *chaindata.Transaction) common.Hash {
	if tx == nil {
		return common.Hash{}
	}

	return tx.Hash
}
