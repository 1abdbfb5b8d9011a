package txenv

import (
	"bytes"
	"errors"
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/weiihann/parbench/chaindata"
)

var (
	sender = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	target = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func header() *chaindata.Block {
	author := common.HexToAddress("0x000000000000000000000000000000000000c0de")

	return &chaindata.Block{
		Number:     10889447,
		Author:     &author,
		Timestamp:  1600000000,
		Difficulty: big.NewInt(3_000_000_000_000),
		GasLimit:   12_500_000,
	}
}

func legacyTx() *chaindata.Transaction {
	to := target

	return &chaindata.Transaction{
		From:     sender,
		To:       &to,
		Nonce:    4,
		Gas:      50_000,
		GasPrice: big.NewInt(40_000_000_000),
		Value:    big.NewInt(1_000_000),
		Input:    []byte{0xde, 0xad, 0xbe, 0xef},
	}
}

func mustBuild(t *testing.T, rec *chaindata.Transaction, block BlockEnv, chainID uint64) *Env {
	t.Helper()

	env, err := Build(rec, block, chainID)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	return env
}

func TestNewBlockEnv(t *testing.T) {
	env, err := NewBlockEnv(header())
	if err != nil {
		t.Fatalf("NewBlockEnv failed: %v", err)
	}

	tests := []struct {
		name string
		got  uint64
		want uint64
	}{
		{"number", env.Number.Uint64(), 10889447},
		{"timestamp", env.Timestamp.Uint64(), 1600000000},
		{"difficulty", env.Difficulty.Uint64(), 3_000_000_000_000},
		{"gas limit", env.GasLimit.Uint64(), 12_500_000},
		{"base fee", env.BaseFee.Uint64(), 0},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}

	if env.Coinbase != common.HexToAddress("0xc0de") {
		t.Errorf("coinbase = %s, want 0xc0de", env.Coinbase)
	}
}

func TestBuildFieldMapping(t *testing.T) {
	blockEnv, err := NewBlockEnv(header())
	if err != nil {
		t.Fatal(err)
	}

	rec := legacyTx()
	env := mustBuild(t, rec, blockEnv, 1)

	if env.Block != blockEnv {
		t.Errorf("block env = %+v, want %+v", env.Block, blockEnv)
	}
	if env.Cfg.ChainID != 1 || env.Tx.ChainID != 1 {
		t.Errorf("chain ids = %d/%d, want 1", env.Cfg.ChainID, env.Tx.ChainID)
	}
	if env.Tx.Caller != sender {
		t.Errorf("caller = %s, want %s", env.Tx.Caller, sender)
	}
	if env.Tx.GasLimit != 50_000 || env.Tx.Nonce != 4 {
		t.Errorf("gas limit/nonce = %d/%d, want 50000/4", env.Tx.GasLimit, env.Tx.Nonce)
	}
	if env.Tx.GasPrice.Uint64() != 40_000_000_000 {
		t.Errorf("gas price = %d, want 40000000000", env.Tx.GasPrice.Uint64())
	}
	if env.Tx.Value.Uint64() != 1_000_000 {
		t.Errorf("value = %d, want 1000000", env.Tx.Value.Uint64())
	}
	if !bytes.Equal(env.Tx.Data, []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Errorf("data = %x, want deadbeef", env.Tx.Data)
	}

	// Data is a copy, not an alias of the record.
	rec.Input[0] = 0
	if env.Tx.Data[0] != 0xde {
		t.Error("data aliases the record input")
	}
}

func TestBuildPriorityFeeDefaultsToZero(t *testing.T) {
	env := mustBuild(t, legacyTx(), BlockEnv{}, 1)
	if env.Tx.PriorityFee == nil || !env.Tx.PriorityFee.IsZero() {
		t.Errorf("priority fee = %v, want zero", env.Tx.PriorityFee)
	}

	rec := legacyTx()
	rec.Type = types.DynamicFeeTxType
	rec.MaxPriorityFeePerGas = big.NewInt(2_000_000_000)

	env = mustBuild(t, rec, BlockEnv{}, 1)
	if env.Tx.PriorityFee.Uint64() != 2_000_000_000 {
		t.Errorf("priority fee = %d, want 2000000000", env.Tx.PriorityFee.Uint64())
	}
	if env.Tx.Type != types.DynamicFeeTxType {
		t.Errorf("type = %d, want %d", env.Tx.Type, types.DynamicFeeTxType)
	}
}

func TestBuildAccessList(t *testing.T) {
	var raw common.Hash
	raw[0] = 0x01
	raw[31] = 0x02

	rec := legacyTx()
	rec.AccessList = &types.AccessList{
		{Address: target, StorageKeys: []common.Hash{raw, common.HexToHash("0x05")}},
		{Address: sender, StorageKeys: nil},
	}

	env := mustBuild(t, rec, BlockEnv{}, 1)
	if len(env.Tx.AccessList) != 2 {
		t.Fatalf("access list = %d tuples, want 2", len(env.Tx.AccessList))
	}

	first := env.Tx.AccessList[0]
	if first.Address != target || len(first.Keys) != 2 {
		t.Fatalf("first tuple = %+v, want %s with 2 keys", first, target)
	}

	// Byte 0 is the least significant byte.
	want := new(uint256.Int).Lsh(uint256.NewInt(2), 248)
	want.Add(want, uint256.NewInt(1))
	if first.Keys[0] != *want {
		t.Errorf("key 0 = %s, want %s", first.Keys[0].Hex(), want.Hex())
	}

	want5 := new(uint256.Int).Lsh(uint256.NewInt(5), 248)
	if first.Keys[1] != *want5 {
		t.Errorf("key 1 = %s, want %s", first.Keys[1].Hex(), want5.Hex())
	}

	second := env.Tx.AccessList[1]
	if second.Address != sender || len(second.Keys) != 0 {
		t.Errorf("second tuple = %+v, want %s without keys", second, sender)
	}
}

func TestBuildAccessListKeyCount(t *testing.T) {
	keys := make([]common.Hash, 17)
	for i := range keys {
		keys[i] = common.BigToHash(big.NewInt(int64(i * 31)))
	}

	rec := legacyTx()
	rec.AccessList = &types.AccessList{
		{Address: target, StorageKeys: keys[:10]},
		{Address: sender, StorageKeys: keys[10:]},
	}

	env := mustBuild(t, rec, BlockEnv{}, 1)

	var mapped int
	for ti, tuple := range env.Tx.AccessList {
		src := (*rec.AccessList)[ti].StorageKeys
		if len(tuple.Keys) != len(src) {
			t.Fatalf("tuple %d: %d keys, want %d", ti, len(tuple.Keys), len(src))
		}
		for ki, key := range tuple.Keys {
			if want := littleEndianKey(src[ki]); key != want {
				t.Errorf("tuple %d key %d = %s, want %s", ti, ki, key.Hex(), want.Hex())
			}
		}
		mapped += len(tuple.Keys)
	}

	if mapped != len(keys) {
		t.Errorf("mapped %d keys, want %d", mapped, len(keys))
	}
}

func TestBuildAbsentAccessListIsEmpty(t *testing.T) {
	env := mustBuild(t, legacyTx(), BlockEnv{}, 1)

	if env.Tx.AccessList == nil || len(env.Tx.AccessList) != 0 {
		t.Errorf("access list = %#v, want empty and non-nil", env.Tx.AccessList)
	}
}

func TestBuildTarget(t *testing.T) {
	call := mustBuild(t, legacyTx(), BlockEnv{}, 1)
	if call.Tx.IsCreate() {
		t.Error("call mapped as create")
	}
	if call.Tx.To == nil || *call.Tx.To != target {
		t.Errorf("to = %v, want %s", call.Tx.To, target)
	}

	rec := legacyTx()
	rec.To = nil

	create := mustBuild(t, rec, BlockEnv{}, 1)
	if !create.Tx.IsCreate() || create.Tx.To != nil {
		t.Errorf("create to = %v, want nil", create.Tx.To)
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	blockEnv, err := NewBlockEnv(header())
	if err != nil {
		t.Fatal(err)
	}

	rec := legacyTx()
	rec.AccessList = &types.AccessList{{Address: target, StorageKeys: []common.Hash{{1}}}}

	first := mustBuild(t, rec, blockEnv, 1)
	second := mustBuild(t, rec, blockEnv, 1)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("second build = %+v, want %+v", second, first)
	}
}

func TestBuildChainIDFromConfig(t *testing.T) {
	env := mustBuild(t, legacyTx(), BlockEnv{}, 1337)

	if env.Cfg.ChainID != 1337 || env.Tx.ChainID != 1337 {
		t.Errorf("chain ids = %d/%d, want 1337", env.Cfg.ChainID, env.Tx.ChainID)
	}
}

func TestBuildMalformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*chaindata.Transaction)
	}{
		{"missing value", func(tx *chaindata.Transaction) { tx.Value = nil }},
		{"missing gas price", func(tx *chaindata.Transaction) { tx.GasPrice = nil }},
		{"negative value", func(tx *chaindata.Transaction) { tx.Value = big.NewInt(-1) }},
		{"overflowing value", func(tx *chaindata.Transaction) {
			tx.Value = new(big.Int).Lsh(big.NewInt(1), 256)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := legacyTx()
			tt.mutate(rec)

			if _, err := Build(rec, BlockEnv{}, 1); !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("error = %v, want ErrMalformedRecord", err)
			}
		})
	}

	if _, err := Build(nil, BlockEnv{}, 1); !errors.Is(err, ErrMalformedRecord) {
		t.Errorf("nil record error = %v, want ErrMalformedRecord", err)
	}
}
