// Package snapshot reads and writes block-indexed account/storage snapshots
// as JSON files named cache_db_<block>.json.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/weiihann/parbench/state"
)

// ErrSnapshotNotFound is returned when no snapshot exists for a block.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// File is the on-disk snapshot layout.
type File struct {
	BlockNumber uint64                           `json:"block_number"`
	Accounts    map[common.Address]*AccountEntry `json:"accounts"`
	Contracts   map[common.Hash]hexutil.Bytes    `json:"contracts"`
	BlockHashes map[uint64]common.Hash           `json:"block_hashes,omitempty"`
}

// AccountEntry is one account in a snapshot file.
type AccountEntry struct {
	Balance  *hexutil.Big                `json:"balance"`
	Nonce    hexutil.Uint64              `json:"nonce"`
	CodeHash common.Hash                 `json:"code_hash"`
	Storage  map[common.Hash]common.Hash `json:"storage,omitempty"`
}

// Path returns the snapshot file name for block under dir.
func Path(dir string, block uint64) string {
	return filepath.Join(dir, fmt.Sprintf("cache_db_%d.json", block))
}

// Load reads the snapshot captured for block into a fresh cache.
func Load(dir string, block uint64) (*state.Cache, error) {
	path := Path(dir, block)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("block %d at %s: %w", block, path, ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	cache, err := f.Cache()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	return cache, nil
}

// Save writes f under dir and returns the file path.
func Save(dir string, f *File) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dir %s: %w", dir, err)
	}

	path := Path(dir, f.BlockNumber)

	data, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("encode snapshot %d: %w", f.BlockNumber, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	return path, nil
}

// Cache materialises the file into an in-memory state cache.
func (f *File) Cache() (*state.Cache, error) {
	cache := state.NewCache(nil)

	for hash, code := range f.Contracts {
		if got := cache.SetCode(code); got != hash {
			return nil, fmt.Errorf("contract %s hashes to %s", hash, got)
		}
	}

	for addr, entry := range f.Accounts {
		if entry == nil {
			return nil, fmt.Errorf("account %s: empty entry", addr)
		}

		var info state.Account
		if entry.Balance != nil {
			if info.Balance.SetFromBig(entry.Balance.ToInt()) {
				return nil, fmt.Errorf("account %s: balance overflows 256 bits", addr)
			}
		}
		info.Nonce = uint64(entry.Nonce)
		info.CodeHash = entry.CodeHash

		if info.HasCode() {
			if _, ok := f.Contracts[info.CodeHash]; !ok {
				return nil, fmt.Errorf("account %s: missing code %s", addr, info.CodeHash)
			}
		}

		cache.SetAccount(addr, info)
		for key, value := range entry.Storage {
			cache.SetStorage(
				addr,
				*new(uint256.Int).SetBytes32(key[:]),
				*new(uint256.Int).SetBytes32(value[:]),
			)
		}
	}

	for number, hash := range f.BlockHashes {
		cache.SetBlockHash(number, hash)
	}

	return cache, nil
}

// FromCache captures the cached accounts of c as a snapshot file.
func FromCache(block uint64, c *state.Cache) *File {
	f := &File{
		BlockNumber: block,
		Accounts:    make(map[common.Address]*AccountEntry, c.Len()),
		Contracts:   make(map[common.Hash]hexutil.Bytes, len(c.Contracts())),
		BlockHashes: make(map[uint64]common.Hash, len(c.BlockHashes())),
	}

	c.ForEach(func(addr common.Address, info state.Account, storage map[uint256.Int]uint256.Int) {
		entry := &AccountEntry{
			Balance:  (*hexutil.Big)(info.Balance.ToBig()),
			Nonce:    hexutil.Uint64(info.Nonce),
			CodeHash: info.CodeHash,
		}
		if len(storage) > 0 {
			entry.Storage = make(map[common.Hash]common.Hash, len(storage))
			for key, value := range storage {
				entry.Storage[key.Bytes32()] = value.Bytes32()
			}
		}
		f.Accounts[addr] = entry
	})

	for hash, code := range c.Contracts() {
		f.Contracts[hash] = common.CopyBytes(code)
	}
	for number, hash := range c.BlockHashes() {
		f.BlockHashes[number] = hash
	}

	return f
}
