// Package state defines the account/storage view that transactions execute
// against, the diffs they produce, and the in-memory and latency-injecting
// implementations of that view.
package state

import (
	"maps"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Account holds the basic information stored for an address.
type Account struct {
	Balance  uint256.Int
	Nonce    uint64
	CodeHash common.Hash
}

// HasCode reports whether the account carries contract code.
func (a *Account) HasCode() bool {
	return a.CodeHash != (common.Hash{}) && a.CodeHash != types.EmptyCodeHash
}

// Reader is the read-only state capability. Implementations must be safe
// for concurrent use as long as nobody commits into them.
type Reader interface {
	// Account returns nil without error when the address does not exist.
	Account(addr common.Address) (*Account, error)
	Storage(addr common.Address, key uint256.Int) (uint256.Int, error)
	Code(codeHash common.Hash) ([]byte, error)
	BlockHash(number uint64) (common.Hash, error)
}

// Database is a Reader that can also absorb state diffs.
type Database interface {
	Reader
	Commit(diff Diff)
}

// AccountDiff is the post-execution state of one touched account.
type AccountDiff struct {
	Account   Account
	Destroyed bool
	// Code is set when the transaction deployed new code.
	Code    []byte
	Storage map[uint256.Int]uint256.Int
}

// Diff maps every account changed by an execution to its new state.
type Diff map[common.Address]*AccountDiff

// Copy returns a deep copy of d.
func (d Diff) Copy() Diff {
	if d == nil {
		return nil
	}

	out := make(Diff, len(d))
	for addr, acc := range d {
		cp := *acc
		cp.Code = common.CopyBytes(acc.Code)
		cp.Storage = maps.Clone(acc.Storage)
		out[addr] = &cp
	}

	return out
}

// StorageKey addresses one storage slot.
type StorageKey struct {
	Address common.Address
	Key     uint256.Int
}
