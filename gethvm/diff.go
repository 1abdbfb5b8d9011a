package gethvm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethstate "github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/weiihann/parbench/state"
)

// touchSet collects every account and slot written during one execution.
type touchSet struct {
	accounts map[common.Address]struct{}
	slots    map[common.Address]map[common.Hash]struct{}
}

func newTouchSet() *touchSet {
	return &touchSet{
		accounts: make(map[common.Address]struct{}),
		slots:    make(map[common.Address]map[common.Hash]struct{}),
	}
}

func (t *touchSet) touch(addr common.Address) {
	t.accounts[addr] = struct{}{}
}

func (t *touchSet) touchSlot(addr common.Address, slot common.Hash) {
	t.touch(addr)

	keys := t.slots[addr]
	if keys == nil {
		keys = make(map[common.Hash]struct{})
		t.slots[addr] = keys
	}
	keys[slot] = struct{}{}
}

func (t *touchSet) hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnBalanceChange: func(addr common.Address, _, _ *big.Int, _ tracing.BalanceChangeReason) {
			t.touch(addr)
		},
		OnNonceChange: func(addr common.Address, _, _ uint64) {
			t.touch(addr)
		},
		OnCodeChange: func(addr common.Address, _ common.Hash, _ []byte, _ common.Hash, _ []byte) {
			t.touch(addr)
		},
		OnStorageChange: func(addr common.Address, slot common.Hash, _, _ common.Hash) {
			t.touchSlot(addr, slot)
		},
	}
}

// collectDiff reads the finalised post-state of every account the execution
// loaded or wrote and keeps what differs from the values it started from.
func collectDiff(sdb *gethstate.StateDB, rec *state.Recorder, touched *touchSet) state.Diff {
	before := rec.Accounts()
	reads := rec.StorageReads()

	candidates := make(map[common.Address]struct{}, len(before)+len(touched.accounts))
	for addr := range before {
		candidates[addr] = struct{}{}
	}
	for addr := range touched.accounts {
		candidates[addr] = struct{}{}
	}

	slots := make(map[common.Address][]uint256.Int)
	for sk := range reads {
		slots[sk.Address] = append(slots[sk.Address], sk.Key)
	}
	for addr, keys := range touched.slots {
		for slot := range keys {
			key := *new(uint256.Int).SetBytes32(slot[:])
			if _, read := reads[state.StorageKey{Address: addr, Key: key}]; !read {
				slots[addr] = append(slots[addr], key)
			}
		}
	}

	diff := make(state.Diff)
	for addr := range candidates {
		prev := before[addr]

		if !sdb.Exist(addr) {
			if prev != nil {
				diff[addr] = &state.AccountDiff{Destroyed: true}
			}

			continue
		}

		next := state.Account{
			Nonce:    sdb.GetNonce(addr),
			CodeHash: normalizeCodeHash(sdb.GetCodeHash(addr)),
		}
		next.Balance.Set(sdb.GetBalance(addr))

		change := &state.AccountDiff{Account: next}
		changed := prev == nil || !sameAccount(prev, &next)

		if next.HasCode() && (prev == nil || normalizeCodeHash(prev.CodeHash) != next.CodeHash) {
			change.Code = common.CopyBytes(sdb.GetCode(addr))
		}

		for _, key := range slots[addr] {
			value := sdb.GetState(addr, key.Bytes32())
			next := *new(uint256.Int).SetBytes32(value[:])

			if reads[state.StorageKey{Address: addr, Key: key}] == next {
				continue
			}
			if change.Storage == nil {
				change.Storage = make(map[uint256.Int]uint256.Int)
			}
			change.Storage[key] = next
		}

		if changed || change.Code != nil || len(change.Storage) > 0 {
			diff[addr] = change
		}
	}

	return diff
}

func sameAccount(a, b *state.Account) bool {
	return a.Nonce == b.Nonce &&
		a.Balance.Eq(&b.Balance) &&
		normalizeCodeHash(a.CodeHash) == normalizeCodeHash(b.CodeHash)
}

// normalizeCodeHash maps both spellings of "no code" to the zero hash.
func normalizeCodeHash(h common.Hash) common.Hash {
	if h == types.EmptyCodeHash {
		return common.Hash{}
	}

	return h
}
