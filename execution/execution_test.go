package execution_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/weiihann/parbench/execution"
	"github.com/weiihann/parbench/execution/executiontest"
	"github.com/weiihann/parbench/state"
	"github.com/weiihann/parbench/txenv"
)

var (
	alice    = common.HexToAddress("0xa11ce")
	bob      = common.HexToAddress("0xb0b")
	counter  = common.HexToAddress("0xc0")
	coinbase = common.HexToAddress("0xbeef")
)

func genesis() *state.Cache {
	db := state.NewCache(nil)
	db.SetAccount(alice, state.Account{Balance: *uint256.NewInt(1_000)})
	db.SetAccount(bob, state.Account{})

	codeHash := db.SetCode([]byte{0x00})
	db.SetAccount(counter, state.Account{Nonce: 1, CodeHash: codeHash})

	return db
}

func mustAccount(t *testing.T, r state.Reader, addr common.Address) *state.Account {
	t.Helper()

	acc, err := r.Account(addr)
	if err != nil {
		t.Fatalf("Account(%s) failed: %v", addr, err)
	}
	if acc == nil {
		t.Fatalf("Account(%s) is missing", addr)
	}

	return acc
}

func TestSequentialCommitsInOrder(t *testing.T) {
	db := genesis()
	block := executiontest.Block(
		executiontest.Transfer(alice, bob, 0, 100),
		executiontest.Call(alice, counter, 1, 7),
		executiontest.Call(bob, counter, 0, 7),
	)

	results, err := execution.NewSequential(&executiontest.Machine{}).ExecuteBlock(block, db, 1)
	if err != nil {
		t.Fatalf("ExecuteBlock failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}

	for i, res := range results {
		if res == nil {
			t.Fatalf("slot %d has no result", i)
		}
		if res.Status != execution.StatusSuccess {
			t.Errorf("slot %d status = %s, want success", i, res.Status)
		}
	}

	// The second call observes the first call's write.
	if got := new(uint256.Int).SetBytes(results[2].Output).Uint64(); got != 2 {
		t.Errorf("second call output = %d, want 2", got)
	}

	acc := mustAccount(t, db, alice)
	if acc.Balance.Uint64() != 900 || acc.Nonce != 2 {
		t.Errorf("alice = balance %d nonce %d, want 900 and 2", acc.Balance.Uint64(), acc.Nonce)
	}

	slot, err := db.Storage(counter, *uint256.NewInt(7))
	if err != nil {
		t.Fatal(err)
	}
	if slot.Uint64() != 2 {
		t.Errorf("slot 7 = %d, want 2", slot.Uint64())
	}
}

func TestSequentialCreate(t *testing.T) {
	db := genesis()
	code := []byte{0x60, 0x00, 0x00}
	block := executiontest.Block(executiontest.Create(alice, 0, code))

	results, err := execution.NewSequential(&executiontest.Machine{}).ExecuteBlock(block, db, 1)
	if err != nil {
		t.Fatalf("ExecuteBlock failed: %v", err)
	}
	if results[0].ContractAddress == nil {
		t.Fatal("create returned no contract address")
	}

	acc := mustAccount(t, db, *results[0].ContractAddress)

	stored, err := db.Code(acc.CodeHash)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(stored, code) {
		t.Errorf("code = %x, want %x", stored, code)
	}
}

func TestSequentialErrorNamesSlot(t *testing.T) {
	db := genesis()
	block := executiontest.Block(
		executiontest.Transfer(alice, bob, 0, 1),
		executiontest.Transfer(alice, common.HexToAddress("0xdead"), 1, 1),
	)

	_, err := execution.NewSequential(&executiontest.Machine{}).ExecuteBlock(block, db, 1)

	var txErr *execution.TxError
	if !errors.As(err, &txErr) {
		t.Fatalf("error = %v, want *TxError", err)
	}
	if txErr.Index != 1 || txErr.Hash != block.Transactions[1].Hash {
		t.Errorf("failed slot = %d (%s), want 1 (%s)", txErr.Index, txErr.Hash, block.Transactions[1].Hash)
	}
	if !errors.Is(err, executiontest.ErrNoTarget) {
		t.Errorf("error = %v, want ErrNoTarget", err)
	}
}

func TestSequentialMalformedRecord(t *testing.T) {
	tx := executiontest.Transfer(alice, bob, 0, 1)
	tx.Value = nil

	_, err := execution.NewSequential(&executiontest.Machine{}).
		ExecuteBlock(executiontest.Block(tx), genesis(), 1)

	var txErr *execution.TxError
	if !errors.As(err, &txErr) {
		t.Fatalf("error = %v, want *TxError", err)
	}
	if txErr.Index != 0 {
		t.Errorf("failed slot = %d, want 0", txErr.Index)
	}
	if !errors.Is(err, txenv.ErrMalformedRecord) {
		t.Errorf("error = %v, want ErrMalformedRecord", err)
	}
}

func TestSequentialEmptyBlock(t *testing.T) {
	results, err := execution.NewSequential(&executiontest.Machine{}).
		ExecuteBlock(executiontest.Block(), genesis(), 1)
	if err != nil {
		t.Fatalf("ExecuteBlock failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}
}

func fee(amount uint64) *execution.FeeCredit {
	return &execution.FeeCredit{Beneficiary: coinbase, Amount: *uint256.NewInt(amount)}
}

func TestSettleFee(t *testing.T) {
	db := genesis()
	db.SetAccount(coinbase, state.Account{Balance: *uint256.NewInt(50), Nonce: 4})

	tests := []struct {
		name string
		res  *execution.Result
		// want is the beneficiary entry after settling, nil for none.
		want *state.AccountDiff
	}{
		{
			name: "no fee",
			res:  &execution.Result{},
		},
		{
			name: "zero fee",
			res:  &execution.Result{Fee: fee(0)},
		},
		{
			name: "reads committed balance",
			res:  &execution.Result{Diff: state.Diff{}, Fee: fee(30)},
			want: &state.AccountDiff{Account: state.Account{Balance: *uint256.NewInt(80), Nonce: 4}},
		},
		{
			name: "nil diff",
			res:  &execution.Result{Fee: fee(30)},
			want: &state.AccountDiff{Account: state.Account{Balance: *uint256.NewInt(80), Nonce: 4}},
		},
		{
			name: "adds to written entry",
			res: &execution.Result{
				Diff: state.Diff{coinbase: {Account: state.Account{Balance: *uint256.NewInt(10), Nonce: 5}}},
				Fee:  fee(30),
			},
			want: &state.AccountDiff{Account: state.Account{Balance: *uint256.NewInt(40), Nonce: 5}},
		},
		{
			name: "destroyed beneficiary forfeits",
			res: &execution.Result{
				Diff: state.Diff{coinbase: {Destroyed: true}},
				Fee:  fee(30),
			},
			want: &state.AccountDiff{Destroyed: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := execution.SettleFee(tt.res, db); err != nil {
				t.Fatalf("SettleFee failed: %v", err)
			}

			got, ok := tt.res.Diff[coinbase]
			if tt.want == nil {
				if ok {
					t.Errorf("beneficiary entry = %+v, want none", got)
				}
				return
			}
			if !ok {
				t.Fatal("beneficiary entry missing")
			}
			if got.Destroyed != tt.want.Destroyed || got.Account != tt.want.Account {
				t.Errorf("beneficiary = %+v, want %+v", got, tt.want)
			}
		})
	}

	// Settling never writes to db.
	if acc := mustAccount(t, db, coinbase); acc.Balance.Uint64() != 50 {
		t.Errorf("committed beneficiary balance = %d, want 50", acc.Balance.Uint64())
	}
}

func TestSettleFeeCreatesBeneficiary(t *testing.T) {
	res := &execution.Result{Diff: state.Diff{}, Fee: fee(7)}
	if err := execution.SettleFee(res, genesis()); err != nil {
		t.Fatalf("SettleFee failed: %v", err)
	}

	got := res.Diff[coinbase]
	if got == nil || got.Account.Balance.Uint64() != 7 || got.Account.Nonce != 0 {
		t.Errorf("beneficiary = %+v, want a fresh account holding 7", got)
	}
}

var errUnavailable = errors.New("state unavailable")

type unavailable struct{ *state.Cache }

func (unavailable) Account(common.Address) (*state.Account, error) {
	return nil, errUnavailable
}

func TestSettleFeeReadError(t *testing.T) {
	res := &execution.Result{Fee: fee(7)}

	err := execution.SettleFee(res, unavailable{state.NewCache(nil)})
	if !errors.Is(err, errUnavailable) {
		t.Errorf("error = %v, want %v", err, errUnavailable)
	}
}

func TestSequentialSettlesFeesInOrder(t *testing.T) {
	db := genesis()
	block := executiontest.Block(
		executiontest.Transfer(alice, bob, 0, 100),
		executiontest.Transfer(bob, alice, 0, 40),
	)

	m := feeMachine{Machine: &executiontest.Machine{}, amount: 5}
	results, err := execution.NewSequential(m).ExecuteBlock(block, db, 1)
	if err != nil {
		t.Fatalf("ExecuteBlock failed: %v", err)
	}

	beneficiary := *block.Author
	for i, res := range results {
		entry := res.Diff[beneficiary]
		if entry == nil {
			t.Fatalf("slot %d: fee not folded into diff", i)
		}
		// Each transaction sees the fees settled before it.
		if want := uint64(5 * (i + 1)); entry.Account.Balance.Uint64() != want {
			t.Errorf("slot %d beneficiary balance = %d, want %d", i, entry.Account.Balance.Uint64(), want)
		}
	}

	if acc := mustAccount(t, db, beneficiary); acc.Balance.Uint64() != 10 {
		t.Errorf("committed beneficiary balance = %d, want 10", acc.Balance.Uint64())
	}
}

// feeMachine pays a fixed fee to the block coinbase on top of Machine.
type feeMachine struct {
	*executiontest.Machine
	amount uint64
}

func (m feeMachine) Transact(env *txenv.Env, db state.Reader) (*execution.Result, error) {
	res, err := m.Machine.Transact(env, db)
	if err != nil {
		return nil, err
	}
	res.Fee = &execution.FeeCredit{Beneficiary: env.Block.Coinbase, Amount: *uint256.NewInt(m.amount)}

	return res, nil
}

func TestResultEqual(t *testing.T) {
	base := &execution.Result{
		Status:  execution.StatusSuccess,
		GasUsed: 21_000,
		Diff: state.Diff{
			alice: {Account: state.Account{Nonce: 1}},
		},
	}

	same := &execution.Result{
		Status:  execution.StatusSuccess,
		GasUsed: 21_000,
		Output:  []byte{},
		Logs:    []execution.Log{},
		Diff: state.Diff{
			alice: {Account: state.Account{Nonce: 1}, Storage: map[uint256.Int]uint256.Int{}},
		},
	}
	if !execution.Equal(base, same) {
		t.Errorf("empty and nil fields compare unequal:\n%s", execution.Compare(base, same))
	}

	other := &execution.Result{
		Status:  execution.StatusSuccess,
		GasUsed: 21_000,
		Diff: state.Diff{
			alice: {Account: state.Account{Nonce: 2}},
		},
	}
	if execution.Equal(base, other) {
		t.Error("results with different nonces compare equal")
	}
	if diff := execution.Compare(base, other); !strings.Contains(diff, "Nonce") {
		t.Errorf("diff does not name the nonce:\n%s", diff)
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status execution.Status
		want   string
	}{
		{execution.StatusSuccess, "success"},
		{execution.StatusRevert, "revert"},
		{execution.StatusHalt, "halt"},
		{execution.Status(9), "status(9)"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}
