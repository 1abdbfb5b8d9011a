// Package chaindata holds the block and transaction records fetched from a
// chain-data source, and the providers that fetch them.
package chaindata

import (
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Block is a fetched block header plus its ordered transactions.
type Block struct {
	Number       uint64          `json:"number"`
	Hash         common.Hash     `json:"hash"`
	Author       *common.Address `json:"author,omitempty"`
	Timestamp    uint64          `json:"timestamp"`
	Difficulty   *big.Int        `json:"difficulty"`
	GasLimit     uint64          `json:"gas_limit"`
	BaseFee      *big.Int        `json:"base_fee,omitempty"`
	Transactions []*Transaction  `json:"transactions"`
}

// Transaction is one fetched transaction. Nil pointers mean the field was
// absent in the source record.
type Transaction struct {
	Hash                 common.Hash       `json:"hash"`
	Type                 uint8             `json:"type"`
	From                 common.Address    `json:"from"`
	To                   *common.Address   `json:"to,omitempty"`
	Nonce                uint64            `json:"nonce"`
	Gas                  uint64            `json:"gas"`
	GasPrice             *big.Int          `json:"gas_price"`
	MaxPriorityFeePerGas *big.Int          `json:"max_priority_fee_per_gas,omitempty"`
	Value                *big.Int          `json:"value"`
	Input                hexutil.Bytes     `json:"input"`
	AccessList           *types.AccessList `json:"access_list,omitempty"`
}

// Clone returns a deep copy of the block and all of its transactions.
func (b *Block) Clone() *Block {
	out := *b
	out.Author = copyAddress(b.Author)
	out.Difficulty = copyBig(b.Difficulty)
	out.BaseFee = copyBig(b.BaseFee)

	if b.Transactions != nil {
		out.Transactions = make([]*Transaction, len(b.Transactions))
		for i, tx := range b.Transactions {
			out.Transactions[i] = tx.Clone()
		}
	}

	return &out
}

// Clone returns a deep copy of the transaction.
func (tx *Transaction) Clone() *Transaction {
	if tx == nil {
		return nil
	}

	out := *tx
	out.To = copyAddress(tx.To)
	out.GasPrice = copyBig(tx.GasPrice)
	out.MaxPriorityFeePerGas = copyBig(tx.MaxPriorityFeePerGas)
	out.Value = copyBig(tx.Value)
	out.Input = common.CopyBytes(tx.Input)

	if tx.AccessList != nil {
		al := make(types.AccessList, len(*tx.AccessList))
		for i, tuple := range *tx.AccessList {
			al[i] = types.AccessTuple{
				Address:     tuple.Address,
				StorageKeys: slices.Clone(tuple.StorageKeys),
			}
		}
		out.AccessList = &al
	}

	return &out
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}

	return new(big.Int).Set(v)
}

func copyAddress(a *common.Address) *common.Address {
	if a == nil {
		return nil
	}

	cp := *a

	return &cp
}
