package harness

import (
	"time"

	"github.com/weiihann/parbench/blockstm"
	"github.com/weiihann/parbench/chaindata"
	"github.com/weiihann/parbench/execution"
	"github.com/weiihann/parbench/state"
)

// trial is the outcome of one timed block execution.
type trial struct {
	elapsed    time.Duration
	results    []*execution.Result
	reexecuted int
}

// parallelTrial builds a fresh pool and executor and runs block against the
// shared view. Engine construction is inside the timed region.
func parallelTrial(
	machine execution.Machine,
	cfg Config,
	block *chaindata.Block,
	view state.Reader,
) (trial, error) {
	start := time.Now()

	exec := blockstm.NewExecutor(cfg.Workers, blockstm.NewPool(cfg.Workers), machine)
	results, err := exec.ExecuteBlock(block, view, cfg.ChainID)

	elapsed := time.Since(start)
	if err != nil {
		return trial{}, err
	}

	return trial{elapsed: elapsed, results: results, reexecuted: exec.Reexecuted()}, nil
}

// sequentialTrial replays a private copy of block over a private copy of
// the snapshot. Copies are made before the clock starts; engine
// construction is inside the timed region, as for the parallel path.
func sequentialTrial(
	machine execution.Machine,
	cfg Config,
	block *chaindata.Block,
	snapshot *state.Cache,
) (trial, error) {
	blk := block.Clone()
	db := state.NewSlow(snapshot.Clone(), cfg.Delay)

	start := time.Now()

	results, err := execution.NewSequential(machine).ExecuteBlock(blk, db, cfg.ChainID)

	elapsed := time.Since(start)
	if err != nil {
		return trial{}, err
	}

	return trial{elapsed: elapsed, results: results}, nil
}
