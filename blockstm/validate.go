package blockstm

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/weiihann/parbench/state"
)

// writeSet is everything committed to the overlay so far.
type writeSet struct {
	accounts  map[common.Address]struct{}
	destroyed map[common.Address]struct{}
	slots     map[state.StorageKey]struct{}
}

func newWriteSet() *writeSet {
	return &writeSet{
		accounts:  make(map[common.Address]struct{}),
		destroyed: make(map[common.Address]struct{}),
		slots:     make(map[state.StorageKey]struct{}),
	}
}

func (w *writeSet) add(diff state.Diff) {
	for addr, change := range diff {
		w.accounts[addr] = struct{}{}
		if change.Destroyed {
			w.destroyed[addr] = struct{}{}
		}
		for key := range change.Storage {
			w.slots[state.StorageKey{Address: addr, Key: key}] = struct{}{}
		}
	}
}

// readsHold reports whether every value in reads that an earlier
// transaction wrote still reads the same through overlay. Values nobody
// wrote are served by the same base view and cannot have changed, so only
// written locations are compared and the base is never consulted.
func (w *writeSet) readsHold(reads *state.Recorder, overlay state.Reader) (bool, error) {
	for addr, seen := range reads.Accounts() {
		if _, ok := w.accounts[addr]; !ok {
			continue
		}

		now, err := overlay.Account(addr)
		if err != nil {
			return false, err
		}
		if !sameAccount(seen, now) {
			return false, nil
		}
	}

	for sk, seen := range reads.StorageReads() {
		_, written := w.slots[sk]
		_, destroyed := w.destroyed[sk.Address]
		if !written && !destroyed {
			continue
		}

		now, err := overlay.Storage(sk.Address, sk.Key)
		if err != nil {
			return false, err
		}
		if now != seen {
			return false, nil
		}
	}

	return true, nil
}

func sameAccount(a, b *state.Account) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.Nonce == b.Nonce && a.Balance.Eq(&b.Balance) && a.HasCode() == b.HasCode() &&
		(!a.HasCode() || a.CodeHash == b.CodeHash)
}
