package harness

import (
	"fmt"

	"github.com/weiihann/parbench/execution"
)

// Path names used in diagnostics.
const (
	PathParallel   = "parallel"
	PathSequential = "sequential"
)

// MissingResultError reports a transaction slot that produced no result.
type MissingResultError struct {
	Path  string
	Index int
}

func (e *MissingResultError) Error() string {
	return fmt.Sprintf("%s execution produced no result for transaction %d", e.Path, e.Index)
}

// MismatchError reports the first slot where the two paths disagree.
type MismatchError struct {
	Index int
	// Diff renders parallel (-) against sequential (+).
	Diff string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("parallel and sequential results differ at transaction %d:\n%s", e.Index, e.Diff)
}

// VerifyComplete checks that results holds exactly one present result per
// transaction.
func VerifyComplete(path string, results []*execution.Result, txs int) error {
	for i := range txs {
		if i >= len(results) || results[i] == nil {
			return &MissingResultError{Path: path, Index: i}
		}
	}

	if len(results) != txs {
		return fmt.Errorf("%s execution returned %d results for %d transactions", path, len(results), txs)
	}

	return nil
}

// VerifyEqual compares two complete result vectors slot by slot.
func VerifyEqual(parallel, sequential []*execution.Result) error {
	if len(parallel) != len(sequential) {
		return fmt.Errorf("result count differs: parallel %d, sequential %d", len(parallel), len(sequential))
	}

	for i := range parallel {
		if !execution.Equal(parallel[i], sequential[i]) {
			return &MismatchError{Index: i, Diff: execution.Compare(parallel[i], sequential[i])}
		}
	}

	return nil
}
