// Package workload generates deterministic synthetic blocks together with
// the pre-block state they execute against, so the benchmark can run
// without a chain-data provider. Every block mixes value transfers,
// counter-contract calls and contract creations.
package workload

import (
	"fmt"
	"math"
	"math/big"
	mrand "math/rand"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/weiihann/parbench/chaindata"
	"github.com/weiihann/parbench/snapshot"
	"github.com/weiihann/parbench/state"
)

// ChainID is the chain identifier generated blocks are meant to run under.
const ChainID = 1337

// Gas limits per transaction kind.
const (
	transferGas = 21_000
	callGas     = 100_000
	createGas   = 200_000
)

var (
	// CounterRuntime increments the storage slot named by the first
	// calldata word and stops.
	CounterRuntime = common.FromHex("0x6000358054600101905500")
	// CounterInitcode deploys CounterRuntime.
	CounterInitcode = append(common.FromHex("0x600b80600b6000396000f3"), CounterRuntime...)

	baseFee     = big.NewInt(params.GWei)
	priorityFee = big.NewInt(params.GWei)
	feeCap      = big.NewInt(3 * params.GWei)
)

// Summary contains statistics about the generated workload.
type Summary struct {
	Transactions     int
	Transfers        int
	Calls            int
	Creates          int
	AccountsCreated  int
	ContractsCreated int
	StorageSlots     int
}

// Config controls workload generation parameters.
type Config struct {
	NumAccounts  int
	NumContracts int
	Transfers    int
	Calls        int
	Creates      int
	MaxSlots     int
	MinSlots     int
	Distribution string
	Seed         int64
	BlockNumber  uint64
}

// Validate rejects configurations that cannot produce a block.
func (c Config) Validate() error {
	switch {
	case c.NumAccounts < 2:
		return fmt.Errorf("need at least 2 accounts, got %d", c.NumAccounts)
	case c.Calls > 0 && c.NumContracts < 1:
		return fmt.Errorf("calls need at least 1 contract")
	case c.Transfers < 0 || c.Calls < 0 || c.Creates < 0:
		return fmt.Errorf("transaction counts must not be negative")
	case c.MinSlots < 0 || c.MaxSlots < c.MinSlots:
		return fmt.Errorf("invalid slot range [%d, %d]", c.MinSlots, c.MaxSlots)
	case c.BlockNumber == 0:
		return fmt.Errorf("block number must be positive")
	}

	return nil
}

// Workload is a generated block and its pre-state.
type Workload struct {
	Block    *chaindata.Block
	Snapshot *snapshot.File
	Summary  Summary
}

type account struct {
	addr  common.Address
	nonce uint64
}

type contract struct {
	addr  common.Address
	slots []common.Hash
}

// Generator produces deterministic workloads from a Config.
type Generator struct {
	cfg Config
	rng *mrand.Rand
}

// NewGenerator creates a Generator from the given Config.
func NewGenerator(cfg Config) *Generator {
	return &Generator{
		cfg: cfg,
		rng: mrand.New(mrand.NewSource(cfg.Seed)),
	}
}

// Generate builds the pre-state and the block. Equal configs yield equal
// workloads.
func (g *Generator) Generate() (*Workload, error) {
	if err := g.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workload config: %w", err)
	}

	var summary Summary
	db := state.NewCache(nil)

	accounts := make([]*account, g.cfg.NumAccounts)
	for i := range accounts {
		acc := &account{addr: g.randomAddress(), nonce: uint64(g.rng.Intn(100))}
		accounts[i] = acc

		db.SetAccount(acc.addr, state.Account{Balance: g.randomBalance(1, 100), Nonce: acc.nonce})
		summary.AccountsCreated++
	}

	codeHash := db.SetCode(CounterRuntime)
	slotDist := g.slotDistribution()

	contracts := make([]*contract, g.cfg.NumContracts)
	for i := range contracts {
		c := &contract{addr: g.randomAddress()}
		contracts[i] = c

		db.SetAccount(c.addr, state.Account{Nonce: 1, CodeHash: codeHash})
		for range slotDist[i] {
			slot := g.randomHash()
			c.slots = append(c.slots, slot)

			value := g.randomNonZeroHash()
			db.SetStorage(c.addr, *new(uint256.Int).SetBytes32(slot[:]), *new(uint256.Int).SetBytes32(value[:]))
			summary.StorageSlots++
		}
		summary.ContractsCreated++
	}

	kinds := make([]int, 0, g.cfg.Transfers+g.cfg.Calls+g.cfg.Creates)
	for kind, n := range []int{g.cfg.Transfers, g.cfg.Calls, g.cfg.Creates} {
		for range n {
			kinds = append(kinds, kind)
		}
	}
	g.rng.Shuffle(len(kinds), func(i, j int) { kinds[i], kinds[j] = kinds[j], kinds[i] })

	txs := make([]*chaindata.Transaction, len(kinds))
	for i, kind := range kinds {
		from := accounts[g.rng.Intn(len(accounts))]

		switch kind {
		case 0:
			txs[i] = g.transfer(from, accounts)
			summary.Transfers++
		case 1:
			txs[i] = g.call(from, contracts[g.rng.Intn(len(contracts))])
			summary.Calls++
		default:
			txs[i] = g.create(from)
			summary.Creates++
		}
		from.nonce++
	}
	summary.Transactions = len(txs)

	coinbase := g.randomAddress()
	block := &chaindata.Block{
		Number:       g.cfg.BlockNumber,
		Hash:         crypto.Keccak256Hash(new(big.Int).SetUint64(g.cfg.BlockNumber).Bytes(), coinbase[:]),
		Author:       &coinbase,
		Timestamp:    1_700_000_000 + g.cfg.BlockNumber*12,
		Difficulty:   big.NewInt(131_072),
		GasLimit:     30_000_000,
		BaseFee:      new(big.Int).Set(baseFee),
		Transactions: txs,
	}

	return &Workload{
		Block:    block,
		Snapshot: snapshot.FromCache(g.cfg.BlockNumber, db),
		Summary:  summary,
	}, nil
}

func (g *Generator) newTx(from *account, to *common.Address, gas uint64) *chaindata.Transaction {
	tx := &chaindata.Transaction{
		Hash:  crypto.Keccak256Hash(from.addr[:], new(big.Int).SetUint64(from.nonce).Bytes()),
		From:  from.addr,
		To:    to,
		Nonce: from.nonce,
		Gas:   gas,
		Value: new(big.Int),
		Input: []byte{},
	}

	if g.rng.Intn(2) == 0 {
		tx.Type = types.LegacyTxType
		tx.GasPrice = new(big.Int).Add(baseFee, priorityFee)
	} else {
		tx.Type = types.DynamicFeeTxType
		tx.GasPrice = new(big.Int).Set(feeCap)
		tx.MaxPriorityFeePerGas = new(big.Int).Set(priorityFee)
		tx.AccessList = &types.AccessList{}
	}

	return tx
}

func (g *Generator) transfer(from *account, accounts []*account) *chaindata.Transaction {
	to := accounts[g.rng.Intn(len(accounts))].addr
	for to == from.addr {
		to = accounts[g.rng.Intn(len(accounts))].addr
	}

	tx := g.newTx(from, &to, transferGas)
	tx.Value = big.NewInt(1 + g.rng.Int63n(1_000_000_000_000))

	return tx
}

func (g *Generator) call(from *account, c *contract) *chaindata.Transaction {
	to := c.addr
	tx := g.newTx(from, &to, callGas)

	// Mostly touch seeded slots so calls read from storage.
	slot := g.randomHash()
	if len(c.slots) > 0 && g.rng.Intn(4) != 0 {
		slot = c.slots[g.rng.Intn(len(c.slots))]
	}
	tx.Input = slot.Bytes()

	if tx.AccessList != nil {
		*tx.AccessList = append(*tx.AccessList, types.AccessTuple{
			Address:     to,
			StorageKeys: []common.Hash{slot},
		})
	}

	return tx
}

func (g *Generator) create(from *account) *chaindata.Transaction {
	tx := g.newTx(from, nil, createGas)
	tx.Input = common.CopyBytes(CounterInitcode)

	return tx
}

func (g *Generator) randomAddress() common.Address {
	var addr common.Address
	g.rng.Read(addr[:])

	return addr
}

func (g *Generator) randomHash() common.Hash {
	var h common.Hash
	g.rng.Read(h[:])

	return h
}

func (g *Generator) randomNonZeroHash() common.Hash {
	h := g.randomHash()
	if h == (common.Hash{}) {
		h[31] = 1
	}

	return h
}

func (g *Generator) randomBalance(minETH, maxETH int) uint256.Int {
	eth := minETH + g.rng.Intn(maxETH-minETH+1)

	var balance uint256.Int
	balance.Mul(uint256.NewInt(uint64(eth)), uint256.NewInt(params.Ether))

	return balance
}

func (g *Generator) slotDistribution() []int {
	dist := make([]int, g.cfg.NumContracts)

	switch g.cfg.Distribution {
	case "power-law":
		alpha := 1.5
		for i := range dist {
			u := g.rng.Float64()
			slots := float64(max(g.cfg.MinSlots, 1)) / math.Pow(1-u, 1/alpha)
			dist[i] = max(g.cfg.MinSlots, min(int(slots), g.cfg.MaxSlots))
		}

	case "exponential":
		lambda := math.Log(2) / float64(max(g.cfg.MaxSlots/4, 1))
		for i := range dist {
			slots := -math.Log(1-g.rng.Float64()) / lambda
			dist[i] = int(math.Max(float64(g.cfg.MinSlots), math.Min(slots, float64(g.cfg.MaxSlots))))
		}

	default:
		span := g.cfg.MaxSlots - g.cfg.MinSlots + 1
		for i := range dist {
			dist[i] = g.cfg.MinSlots + g.rng.Intn(span)
		}
	}

	return dist
}
