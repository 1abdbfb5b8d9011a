package workload

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/weiihann/parbench/blockstm"
	"github.com/weiihann/parbench/chaindata"
	"github.com/weiihann/parbench/execution"
	"github.com/weiihann/parbench/gethvm"
	"github.com/weiihann/parbench/snapshot"
)

func testConfig() Config {
	return Config{
		NumAccounts:  10,
		NumContracts: 4,
		Transfers:    20,
		Calls:        15,
		Creates:      5,
		MaxSlots:     20,
		MinSlots:     1,
		Distribution: "uniform",
		Seed:         42,
		BlockNumber:  100,
	}
}

func TestGenerateDeterministic(t *testing.T) {
	w1, err := NewGenerator(testConfig()).Generate()
	if err != nil {
		t.Fatalf("first generation failed: %v", err)
	}

	w2, err := NewGenerator(testConfig()).Generate()
	if err != nil {
		t.Fatalf("second generation failed: %v", err)
	}

	for name, pair := range map[string][2]any{
		"block":    {w1.Block, w2.Block},
		"snapshot": {w1.Snapshot, w2.Snapshot},
	} {
		a, err := json.Marshal(pair[0])
		if err != nil {
			t.Fatal(err)
		}
		b, err := json.Marshal(pair[1])
		if err != nil {
			t.Fatal(err)
		}
		if string(a) != string(b) {
			t.Errorf("%s is not deterministic for same seed", name)
		}
	}

	if w1.Summary != w2.Summary {
		t.Errorf("summaries differ: %+v vs %+v", w1.Summary, w2.Summary)
	}
}

func TestGenerateCounts(t *testing.T) {
	cfg := testConfig()

	w, err := NewGenerator(cfg).Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	sum := w.Summary
	if sum.Transactions != 40 || len(w.Block.Transactions) != 40 {
		t.Errorf("transactions = %d (block %d), want 40", sum.Transactions, len(w.Block.Transactions))
	}
	if sum.Transfers != cfg.Transfers || sum.Calls != cfg.Calls || sum.Creates != cfg.Creates {
		t.Errorf("kinds = %d/%d/%d, want %d/%d/%d",
			sum.Transfers, sum.Calls, sum.Creates, cfg.Transfers, cfg.Calls, cfg.Creates)
	}
	if sum.AccountsCreated != cfg.NumAccounts || sum.ContractsCreated != cfg.NumContracts {
		t.Errorf("accounts = %d, contracts = %d", sum.AccountsCreated, sum.ContractsCreated)
	}
	if len(w.Snapshot.Accounts) != cfg.NumAccounts+cfg.NumContracts {
		t.Errorf("snapshot accounts = %d, want %d",
			len(w.Snapshot.Accounts), cfg.NumAccounts+cfg.NumContracts)
	}
	if len(w.Snapshot.Contracts) != 1 {
		t.Errorf("snapshot contracts = %d, want 1 shared runtime", len(w.Snapshot.Contracts))
	}

	slots := 0
	for _, acc := range w.Snapshot.Accounts {
		slots += len(acc.Storage)
	}
	if slots != sum.StorageSlots {
		t.Errorf("snapshot slots = %d, summary says %d", slots, sum.StorageSlots)
	}
}

func TestGenerateNonces(t *testing.T) {
	w, err := NewGenerator(testConfig()).Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	next := make(map[common.Address]uint64)
	for addr, acc := range w.Snapshot.Accounts {
		next[addr] = uint64(acc.Nonce)
	}

	for i, tx := range w.Block.Transactions {
		if tx.Nonce != next[tx.From] {
			t.Fatalf("tx %d from %s: nonce %d, want %d", i, tx.From, tx.Nonce, next[tx.From])
		}
		next[tx.From]++

		if tx.GasPrice.Cmp(w.Block.BaseFee) < 0 {
			t.Errorf("tx %d: gas price %s below base fee %s", i, tx.GasPrice, w.Block.BaseFee)
		}
		if tx.To != nil && *tx.To == tx.From {
			t.Errorf("tx %d sends to itself", i)
		}
	}
}

func TestGenerateRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Config)
	}{
		{"one account", func(c *Config) { c.NumAccounts = 1 }},
		{"calls without contracts", func(c *Config) { c.NumContracts = 0 }},
		{"negative transfers", func(c *Config) { c.Transfers = -1 }},
		{"inverted slots", func(c *Config) { c.MinSlots = 30 }},
		{"genesis", func(c *Config) { c.BlockNumber = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.edit(&cfg)

			if _, err := NewGenerator(cfg).Generate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDistributions(t *testing.T) {
	for _, dist := range []string{"uniform", "power-law", "exponential"} {
		t.Run(dist, func(t *testing.T) {
			cfg := testConfig()
			cfg.NumContracts = 50
			cfg.MinSlots = 2
			cfg.MaxSlots = 40
			cfg.Distribution = dist

			g := NewGenerator(cfg)
			for i, n := range g.slotDistribution() {
				if n < cfg.MinSlots || n > cfg.MaxSlots {
					t.Errorf("contract %d: %d slots, want within [%d, %d]",
						i, n, cfg.MinSlots, cfg.MaxSlots)
				}
			}
		})
	}
}

func TestWorkloadExecutes(t *testing.T) {
	w, err := NewGenerator(testConfig()).Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	// Round-trip through disk the way the CLI consumes it.
	dir := t.TempDir()
	if _, err := snapshot.Save(dir, w.Snapshot); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := chaindata.WriteBlock(dir, w.Block); err != nil {
		t.Fatalf("WriteBlock failed: %v", err)
	}

	db, err := snapshot.Load(dir, w.Block.Number)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	block, err := chaindata.FileProvider{Dir: dir}.BlockByNumber(t.Context(), w.Block.Number)
	if err != nil {
		t.Fatalf("BlockByNumber failed: %v", err)
	}

	want, err := execution.NewSequential(gethvm.NewMachine()).ExecuteBlock(block.Clone(), db.Clone(), ChainID)
	if err != nil {
		t.Fatalf("sequential execution failed: %v", err)
	}

	creates := 0
	for i, res := range want {
		if res.Status != execution.StatusSuccess {
			t.Errorf("tx %d: status %s, want success", i, res.Status)
		}
		if res.ContractAddress != nil {
			creates++
		}
	}
	if creates != testConfig().Creates {
		t.Errorf("deployed %d contracts, want %d", creates, testConfig().Creates)
	}

	got, err := blockstm.NewExecutor(4, blockstm.NewPool(4), gethvm.NewMachine()).
		ExecuteBlock(block.Clone(), db, ChainID)
	if err != nil {
		t.Fatalf("parallel execution failed: %v", err)
	}

	for i := range want {
		if !execution.Equal(want[i], got[i]) {
			t.Fatalf("tx %d differs:\n%s", i, execution.Compare(want[i], got[i]))
		}
	}
}
