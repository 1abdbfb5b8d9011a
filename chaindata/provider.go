package chaindata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrBlockNotFound is returned when the source has no block at the
// requested height.
var ErrBlockNotFound = errors.New("block not found")

// Provider fetches blocks with their transactions.
type Provider interface {
	BlockByNumber(ctx context.Context, number uint64) (*Block, error)
}

// RPCProvider fetches blocks from an Ethereum JSON-RPC endpoint.
type RPCProvider struct {
	client *ethclient.Client
	signer types.Signer
}

// DialRPC connects to the JSON-RPC endpoint at url. The chain ID selects the
// signer used to recover transaction senders.
func DialRPC(ctx context.Context, url string, chainID uint64) (*RPCProvider, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	return &RPCProvider{
		client: client,
		signer: types.LatestSignerForChainID(new(big.Int).SetUint64(chainID)),
	}, nil
}

// BlockByNumber implements Provider.
func (p *RPCProvider) BlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	blk, err := p.client.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if errors.Is(err, ethereum.NotFound) {
		return nil, fmt.Errorf("block %d: %w", number, ErrBlockNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch block %d: %w", number, err)
	}

	return FromGethBlock(blk, p.signer)
}

// Close releases the underlying RPC connection.
func (p *RPCProvider) Close() {
	p.client.Close()
}

// FromGethBlock converts a go-ethereum block into a Block record, recovering
// every sender with signer.
func FromGethBlock(blk *types.Block, signer types.Signer) (*Block, error) {
	coinbase := blk.Coinbase()
	out := &Block{
		Number:       blk.NumberU64(),
		Hash:         blk.Hash(),
		Author:       &coinbase,
		Timestamp:    blk.Time(),
		Difficulty:   blk.Difficulty(),
		GasLimit:     blk.GasLimit(),
		BaseFee:      blk.BaseFee(),
		Transactions: make([]*Transaction, 0, len(blk.Transactions())),
	}

	for i, tx := range blk.Transactions() {
		from, err := types.Sender(signer, tx)
		if err != nil {
			return nil, fmt.Errorf("recover sender of tx %d (%s): %w", i, tx.Hash(), err)
		}

		rec := &Transaction{
			Hash:     tx.Hash(),
			Type:     tx.Type(),
			From:     from,
			To:       tx.To(),
			Nonce:    tx.Nonce(),
			Gas:      tx.Gas(),
			GasPrice: tx.GasPrice(),
			Value:    tx.Value(),
			Input:    tx.Data(),
		}
		if tx.Type() >= types.DynamicFeeTxType {
			rec.MaxPriorityFeePerGas = tx.GasTipCap()
		}
		if tx.Type() != types.LegacyTxType {
			al := tx.AccessList()
			rec.AccessList = &al
		}

		out.Transactions = append(out.Transactions, rec)
	}

	return out, nil
}

// FileProvider reads blocks previously written with WriteBlock.
type FileProvider struct {
	Dir string
}

// BlockPath returns the file name used for block number in dir.
func BlockPath(dir string, number uint64) string {
	return filepath.Join(dir, fmt.Sprintf("block_%d.json", number))
}

// BlockByNumber implements Provider.
func (p FileProvider) BlockByNumber(_ context.Context, number uint64) (*Block, error) {
	path := BlockPath(p.Dir, number)

	blk, err := ReadBlock(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("block %d at %s: %w", number, path, ErrBlockNotFound)
	}
	if err != nil {
		return nil, err
	}

	if blk.Number != number {
		return nil, fmt.Errorf(
			"decode %s: file holds block %d, want %d", path, blk.Number, number,
		)
	}

	return blk, nil
}

// ReadBlock decodes a single block JSON file.
func ReadBlock(path string) (*Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var blk Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	return &blk, nil
}

// WriteBlock stores blk as JSON under dir.
func WriteBlock(dir string, blk *Block) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dir %s: %w", dir, err)
	}

	path := BlockPath(dir, blk.Number)

	data, err := json.MarshalIndent(blk, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode block %d: %w", blk.Number, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	return path, nil
}
