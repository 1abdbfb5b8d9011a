package state

import (
	"maps"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

type cachedAccount struct {
	info Account
	// missing marks an address known not to exist, shadowing the fallback.
	missing bool
	// cleared means the fallback storage must not be consulted.
	cleared bool
	// partial marks an entry holding storage only; its account info still
	// comes from the fallback.
	partial bool
	storage map[uint256.Int]uint256.Int
}

// Cache is an in-memory state view. Lookups that miss fall through to an
// optional fallback Reader; commits only ever land in the cache.
//
// A Cache is safe for concurrent reads as long as no Commit runs at the
// same time and the fallback itself is safe for concurrent reads.
type Cache struct {
	accounts    map[common.Address]*cachedAccount
	contracts   map[common.Hash][]byte
	blockHashes map[uint64]common.Hash
	fallback    Reader
}

// NewCache returns an empty cache layered over fallback, which may be nil.
func NewCache(fallback Reader) *Cache {
	return &Cache{
		accounts:    make(map[common.Address]*cachedAccount),
		contracts:   make(map[common.Hash][]byte),
		blockHashes: make(map[uint64]common.Hash),
		fallback:    fallback,
	}
}

// SetAccount inserts or replaces the account info for addr.
func (c *Cache) SetAccount(addr common.Address, info Account) {
	acc := c.accounts[addr]
	if acc == nil {
		acc = &cachedAccount{storage: make(map[uint256.Int]uint256.Int)}
		c.accounts[addr] = acc
	}

	acc.info = info
	acc.missing = false
	acc.partial = false
}

// SetStorage sets one storage slot of addr. For an address the cache holds
// no account for, Account keeps consulting the fallback; without a fallback
// the address reads as an empty account.
func (c *Cache) SetStorage(addr common.Address, key, value uint256.Int) {
	acc := c.accounts[addr]
	if acc == nil {
		acc = &cachedAccount{storage: make(map[uint256.Int]uint256.Int), partial: true}
		c.accounts[addr] = acc
	}

	acc.storage[key] = value
}

// SetCode stores code under its keccak hash and returns the hash.
func (c *Cache) SetCode(code []byte) common.Hash {
	hash := crypto.Keccak256Hash(code)
	c.contracts[hash] = common.CopyBytes(code)

	return hash
}

// SetBlockHash records the hash of a historical block.
func (c *Cache) SetBlockHash(number uint64, hash common.Hash) {
	c.blockHashes[number] = hash
}

// Account implements Reader.
func (c *Cache) Account(addr common.Address) (*Account, error) {
	if acc, ok := c.accounts[addr]; ok && !(acc.partial && c.fallback != nil) {
		if acc.missing {
			return nil, nil
		}
		info := acc.info

		return &info, nil
	}

	if c.fallback == nil {
		return nil, nil
	}

	return c.fallback.Account(addr)
}

// Storage implements Reader.
func (c *Cache) Storage(addr common.Address, key uint256.Int) (uint256.Int, error) {
	acc, ok := c.accounts[addr]
	if ok {
		if value, ok := acc.storage[key]; ok {
			return value, nil
		}
		if acc.missing || acc.cleared {
			return uint256.Int{}, nil
		}
	}

	if c.fallback == nil {
		return uint256.Int{}, nil
	}

	return c.fallback.Storage(addr, key)
}

// Code implements Reader.
func (c *Cache) Code(codeHash common.Hash) ([]byte, error) {
	if code, ok := c.contracts[codeHash]; ok {
		return code, nil
	}

	if c.fallback == nil {
		return nil, nil
	}

	return c.fallback.Code(codeHash)
}

// BlockHash implements Reader. Unknown numbers without a fallback resolve
// to the keccak of the decimal block number.
func (c *Cache) BlockHash(number uint64) (common.Hash, error) {
	if hash, ok := c.blockHashes[number]; ok {
		return hash, nil
	}

	if c.fallback == nil {
		return crypto.Keccak256Hash([]byte(strconv.FormatUint(number, 10))), nil
	}

	return c.fallback.BlockHash(number)
}

// Commit implements Database.
func (c *Cache) Commit(diff Diff) {
	for addr, change := range diff {
		if change.Code != nil {
			c.contracts[change.Account.CodeHash] = common.CopyBytes(change.Code)
		}

		acc := c.accounts[addr]
		if acc == nil {
			acc = &cachedAccount{storage: make(map[uint256.Int]uint256.Int)}
			c.accounts[addr] = acc
		}

		if change.Destroyed {
			acc.info = Account{}
			acc.missing = true
			acc.cleared = true
			acc.partial = false
			clear(acc.storage)

			continue
		}

		acc.info = change.Account
		acc.missing = false
		acc.partial = false
		for key, value := range change.Storage {
			acc.storage[key] = value
		}
	}
}

// Clone returns an independent copy of the cache sharing only the fallback.
func (c *Cache) Clone() *Cache {
	out := &Cache{
		accounts:    make(map[common.Address]*cachedAccount, len(c.accounts)),
		contracts:   maps.Clone(c.contracts),
		blockHashes: maps.Clone(c.blockHashes),
		fallback:    c.fallback,
	}

	for addr, acc := range c.accounts {
		cp := *acc
		cp.storage = maps.Clone(acc.storage)
		out.accounts[addr] = &cp
	}

	return out
}

// Len returns the number of cached accounts.
func (c *Cache) Len() int {
	return len(c.accounts)
}

// ForEach calls fn for every cached account that exists, with its storage.
func (c *Cache) ForEach(fn func(addr common.Address, info Account, storage map[uint256.Int]uint256.Int)) {
	for addr, acc := range c.accounts {
		if acc.missing {
			continue
		}
		fn(addr, acc.info, acc.storage)
	}
}

// Contracts returns the cached code by hash. The map must not be modified.
func (c *Cache) Contracts() map[common.Hash][]byte {
	return c.contracts
}

// BlockHashes returns the cached block hashes. The map must not be modified.
func (c *Cache) BlockHashes() map[uint64]common.Hash {
	return c.blockHashes
}
