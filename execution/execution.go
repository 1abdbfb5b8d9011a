// Package execution defines the transaction execution capability shared by
// the sequential and parallel engines, and implements sequential replay.
package execution

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/weiihann/parbench/chaindata"
	"github.com/weiihann/parbench/state"
	"github.com/weiihann/parbench/txenv"
)

// Machine executes a single transaction environment against a state view
// and returns its outcome together with the state diff it produced. It must
// not write to db.
type Machine interface {
	Transact(env *txenv.Env, db state.Reader) (*Result, error)
}

// BlockExecutor executes a whole block against a read-only view and returns
// one result per transaction slot, in block order. A nil entry is a slot
// that produced no result.
type BlockExecutor interface {
	ExecuteBlock(block *chaindata.Block, db state.Reader, chainID uint64) ([]*Result, error)
}

// Status is the outcome class of an execution.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusRevert
	StatusHalt
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRevert:
		return "revert"
	case StatusHalt:
		return "halt"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Log is an event emitted during execution.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// Result is the outcome of one transaction.
type Result struct {
	Status          Status
	GasUsed         uint64
	Output          []byte
	ContractAddress *common.Address
	Logs            []Log
	Diff            state.Diff
	// Fee is the beneficiary payment still to be settled, nil when the
	// machine pays nobody or already included the payment in Diff.
	Fee *FeeCredit
}

var resultOpts = cmp.Options{cmpopts.EquateEmpty()}

// Equal reports whether two results are identical, diff for diff.
func Equal(a, b *Result) bool {
	return cmp.Equal(a, b, resultOpts)
}

// Compare renders the differences between two results, empty when equal.
func Compare(a, b *Result) string {
	return cmp.Diff(a, b, resultOpts)
}

// TxError ties an execution failure to its transaction slot.
type TxError struct {
	Index int
	Hash  common.Hash
	Err   error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("transaction %d (%s): %v", e.Index, e.Hash, e.Err)
}

func (e *TxError) Unwrap() error {
	return e.Err
}
