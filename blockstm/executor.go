// Package blockstm is an optimistic parallel block executor. Every
// transaction first runs speculatively against the pre-block state; results
// are then validated in block order and transactions whose reads were
// invalidated by an earlier write are executed again. Beneficiary fees are
// settled during that ordered pass, so they never conflict.
package blockstm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/weiihann/parbench/chaindata"
	"github.com/weiihann/parbench/execution"
	"github.com/weiihann/parbench/state"
	"github.com/weiihann/parbench/txenv"
)

var _ execution.BlockExecutor = (*Executor)(nil)

// Executor runs blocks on a Pool. It is meant to be built per block; the
// statistics of the last run are kept on the executor.
type Executor struct {
	workers int
	pool    *Pool
	machine execution.Machine

	reexecuted int
}

// NewExecutor returns an executor running up to workers transactions at a
// time on pool.
func NewExecutor(workers int, pool *Pool, machine execution.Machine) *Executor {
	return &Executor{
		workers: max(workers, 1),
		pool:    pool,
		machine: machine,
	}
}

// Reexecuted returns how many transactions of the last block had to run a
// second time.
func (e *Executor) Reexecuted() int {
	return e.reexecuted
}

type speculation struct {
	result *execution.Result
	reads  *state.Recorder
	err    error
}

// ExecuteBlock implements execution.BlockExecutor. db is only read; all
// intermediate writes live in a private overlay.
func (e *Executor) ExecuteBlock(
	block *chaindata.Block,
	db state.Reader,
	chainID uint64,
) ([]*execution.Result, error) {
	e.reexecuted = 0

	envs, err := buildEnvs(block, chainID)
	if err != nil {
		return nil, err
	}

	guesses := make([]speculation, len(envs))
	err = e.pool.Run(len(envs), e.workers, func(i int) error {
		rec := state.NewRecorder(db)
		res, err := e.machine.Transact(envs[i], rec)
		guesses[i] = speculation{result: res, reads: rec, err: err}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("speculative execution: %w", err)
	}

	overlay := state.NewCache(db)
	writes := newWriteSet()
	results := make([]*execution.Result, len(envs))

	for i, guess := range guesses {
		res := guess.result

		valid := guess.err == nil
		if valid {
			valid, err = writes.readsHold(guess.reads, overlay)
			if err != nil {
				return nil, &execution.TxError{Index: i, Hash: block.Transactions[i].Hash, Err: err}
			}
		}

		if !valid {
			e.reexecuted++

			res, err = e.machine.Transact(envs[i], overlay)
			if err != nil {
				return nil, &execution.TxError{Index: i, Hash: block.Transactions[i].Hash, Err: err}
			}
		}

		if err := execution.SettleFee(res, overlay); err != nil {
			return nil, &execution.TxError{Index: i, Hash: block.Transactions[i].Hash, Err: err}
		}

		overlay.Commit(res.Diff)
		writes.add(res.Diff)
		results[i] = res
	}

	return results, nil
}

func buildEnvs(block *chaindata.Block, chainID uint64) ([]*txenv.Env, error) {
	blockEnv, err := txenv.NewBlockEnv(block)
	if err != nil {
		return nil, fmt.Errorf("map block header: %w", err)
	}

	envs := make([]*txenv.Env, len(block.Transactions))
	for i, tx := range block.Transactions {
		env, err := txenv.Build(tx, blockEnv, chainID)
		if err != nil {
			var hash common.Hash
			if tx != nil {
				hash = tx.Hash
			}

			return nil, &execution.TxError{Index: i, Hash: hash, Err: fmt.Errorf("build environment: %w", err)}
		}
		envs[i] = env
	}

	return envs, nil
}
