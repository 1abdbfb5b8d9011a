package state

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Slow wraps a Database and sleeps for a fixed delay before every storage
// read, modelling a slow disk. Account, code and block hash reads as well as
// commits pass straight through.
type Slow struct {
	inner Database
	delay time.Duration
}

// NewSlow returns inner wrapped with a per-storage-read delay.
func NewSlow(inner Database, delay time.Duration) *Slow {
	return &Slow{inner: inner, delay: delay}
}

// Delay returns the configured storage read delay.
func (s *Slow) Delay() time.Duration {
	return s.delay
}

// Account implements Reader.
func (s *Slow) Account(addr common.Address) (*Account, error) {
	return s.inner.Account(addr)
}

// Storage implements Reader.
func (s *Slow) Storage(addr common.Address, key uint256.Int) (uint256.Int, error) {
	time.Sleep(s.delay)

	return s.inner.Storage(addr, key)
}

// Code implements Reader.
func (s *Slow) Code(codeHash common.Hash) ([]byte, error) {
	return s.inner.Code(codeHash)
}

// BlockHash implements Reader.
func (s *Slow) BlockHash(number uint64) (common.Hash, error) {
	return s.inner.BlockHash(number)
}

// Commit implements Database.
func (s *Slow) Commit(diff Diff) {
	s.inner.Commit(diff)
}
