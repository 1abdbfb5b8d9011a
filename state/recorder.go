package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Recorder wraps a Reader and remembers the first value observed for every
// account and storage slot. It is not safe for concurrent use; give every
// execution its own Recorder.
type Recorder struct {
	inner    Reader
	accounts map[common.Address]*Account
	storage  map[StorageKey]uint256.Int
}

// NewRecorder returns a Recorder reading through inner.
func NewRecorder(inner Reader) *Recorder {
	return &Recorder{
		inner:    inner,
		accounts: make(map[common.Address]*Account),
		storage:  make(map[StorageKey]uint256.Int),
	}
}

// Account implements Reader.
func (r *Recorder) Account(addr common.Address) (*Account, error) {
	acc, err := r.inner.Account(addr)
	if err != nil {
		return nil, err
	}

	if _, seen := r.accounts[addr]; !seen {
		if acc == nil {
			r.accounts[addr] = nil
		} else {
			cp := *acc
			r.accounts[addr] = &cp
		}
	}

	return acc, nil
}

// Storage implements Reader.
func (r *Recorder) Storage(addr common.Address, key uint256.Int) (uint256.Int, error) {
	value, err := r.inner.Storage(addr, key)
	if err != nil {
		return uint256.Int{}, err
	}

	sk := StorageKey{Address: addr, Key: key}
	if _, seen := r.storage[sk]; !seen {
		r.storage[sk] = value
	}

	return value, nil
}

// Code implements Reader. Code is addressed by hash and never changes, so it
// is not part of the read set.
func (r *Recorder) Code(codeHash common.Hash) ([]byte, error) {
	return r.inner.Code(codeHash)
}

// BlockHash implements Reader.
func (r *Recorder) BlockHash(number uint64) (common.Hash, error) {
	return r.inner.BlockHash(number)
}

// Accounts returns the recorded account reads; nil values mean the account
// did not exist.
func (r *Recorder) Accounts() map[common.Address]*Account {
	return r.accounts
}

// StorageReads returns the recorded storage reads.
func (r *Recorder) StorageReads() map[StorageKey]uint256.Int {
	return r.storage
}

// StorageReadCount returns the number of distinct storage slots read.
func (r *Recorder) StorageReadCount() int {
	return len(r.storage)
}
