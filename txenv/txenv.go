// Package txenv maps fetched block and transaction records onto the
// execution environment consumed by a transaction execution engine.
package txenv

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/weiihann/parbench/chaindata"
)

// ErrMalformedRecord reports a record that cannot be mapped. It is never
// skipped over: dropping a transaction would shift every later slot index.
var ErrMalformedRecord = errors.New("malformed record")

// BlockEnv holds the block-level execution context.
type BlockEnv struct {
	Number     uint256.Int
	Coinbase   common.Address
	Timestamp  uint256.Int
	Difficulty uint256.Int
	GasLimit   uint256.Int
	BaseFee    uint256.Int
}

// CfgEnv holds chain configuration that is not part of the block.
type CfgEnv struct {
	ChainID uint64
}

// AccessTuple is one access list entry with its keys as 256-bit integers.
type AccessTuple struct {
	Address common.Address
	Keys    []uint256.Int
}

// TxEnv holds the per-transaction execution context.
type TxEnv struct {
	// Type is the envelope type of the source transaction.
	Type     uint8
	Caller   common.Address
	GasLimit uint64
	GasPrice uint256.Int
	// PriorityFee is never nil; records without one map to zero.
	PriorityFee *uint256.Int
	Value       uint256.Int
	Data        []byte
	Nonce       uint64
	ChainID     uint64
	// AccessList is never nil.
	AccessList []AccessTuple
	// To is nil for contract creation.
	To *common.Address
}

// IsCreate reports whether the transaction deploys a contract.
func (tx *TxEnv) IsCreate() bool {
	return tx.To == nil
}

// Env is the complete input for executing one transaction.
type Env struct {
	Block BlockEnv
	Cfg   CfgEnv
	Tx    TxEnv
}

// NewBlockEnv maps block header fields. It is computed once per block and
// shared by every transaction of that block.
func NewBlockEnv(blk *chaindata.Block) (BlockEnv, error) {
	var env BlockEnv

	env.Number.SetUint64(blk.Number)
	if blk.Author != nil {
		env.Coinbase = *blk.Author
	}
	env.Timestamp.SetUint64(blk.Timestamp)
	env.GasLimit.SetUint64(blk.GasLimit)

	if err := setBig(&env.Difficulty, blk.Difficulty); err != nil {
		return BlockEnv{}, fmt.Errorf("block %d difficulty: %w", blk.Number, err)
	}
	if err := setBig(&env.BaseFee, blk.BaseFee); err != nil {
		return BlockEnv{}, fmt.Errorf("block %d base fee: %w", blk.Number, err)
	}

	return env, nil
}

// Build maps one transaction record into a fresh environment. The chain ID
// comes from configuration, never from the record.
func Build(tx *chaindata.Transaction, block BlockEnv, chainID uint64) (*Env, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction: %w", ErrMalformedRecord)
	}
	if tx.Value == nil {
		return nil, fmt.Errorf("tx %s: missing value: %w", tx.Hash, ErrMalformedRecord)
	}
	if tx.GasPrice == nil {
		return nil, fmt.Errorf("tx %s: missing gas price: %w", tx.Hash, ErrMalformedRecord)
	}

	env := &Env{
		Block: block,
		Cfg:   CfgEnv{ChainID: chainID},
		Tx: TxEnv{
			Type:        tx.Type,
			Caller:      tx.From,
			GasLimit:    tx.Gas,
			PriorityFee: new(uint256.Int),
			Data:        common.CopyBytes(tx.Input),
			Nonce:       tx.Nonce,
			ChainID:     chainID,
			AccessList:  []AccessTuple{},
		},
	}

	if err := setBig(&env.Tx.Value, tx.Value); err != nil {
		return nil, fmt.Errorf("tx %s value: %w", tx.Hash, err)
	}
	if err := setBig(&env.Tx.GasPrice, tx.GasPrice); err != nil {
		return nil, fmt.Errorf("tx %s gas price: %w", tx.Hash, err)
	}
	if err := setBig(env.Tx.PriorityFee, tx.MaxPriorityFeePerGas); err != nil {
		return nil, fmt.Errorf("tx %s priority fee: %w", tx.Hash, err)
	}

	if tx.AccessList != nil {
		env.Tx.AccessList = make([]AccessTuple, 0, len(*tx.AccessList))
		for _, tuple := range *tx.AccessList {
			keys := make([]uint256.Int, len(tuple.StorageKeys))
			for i, key := range tuple.StorageKeys {
				keys[i] = littleEndianKey(key)
			}
			env.Tx.AccessList = append(env.Tx.AccessList, AccessTuple{
				Address: tuple.Address,
				Keys:    keys,
			})
		}
	}

	if tx.To != nil {
		to := *tx.To
		env.Tx.To = &to
	}

	return env, nil
}

// littleEndianKey reads the raw key bytes as a little-endian integer.
func littleEndianKey(h common.Hash) uint256.Int {
	var be [32]byte
	for i := range h {
		be[len(h)-1-i] = h[i]
	}

	var out uint256.Int
	out.SetBytes32(be[:])

	return out
}

// setBig stores v into dst; nil leaves dst at zero.
func setBig(dst *uint256.Int, v *big.Int) error {
	if v == nil {
		dst.Clear()

		return nil
	}

	if v.Sign() < 0 {
		return fmt.Errorf("negative value %s: %w", v, ErrMalformedRecord)
	}
	if dst.SetFromBig(v) {
		return fmt.Errorf("value %s overflows 256 bits: %w", v, ErrMalformedRecord)
	}

	return nil
}
