package execution

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/weiihann/parbench/state"
)

// FeeCredit is a payment to the block beneficiary that a Machine left out of
// Result.Diff. Crediting it means reading the beneficiary's balance, which
// every transaction in a block would then share, so engines apply it in
// block order with SettleFee.
type FeeCredit struct {
	Beneficiary common.Address
	Amount      uint256.Int
}

// SettleFee folds res.Fee into res.Diff. db must reflect every transaction
// committed before this one. Call it once per result, before committing.
func SettleFee(res *Result, db state.Reader) error {
	if res.Fee == nil || res.Fee.Amount.IsZero() {
		return nil
	}

	addr := res.Fee.Beneficiary

	if change, ok := res.Diff[addr]; ok {
		// A beneficiary destroyed by the transaction forfeits the fee.
		if !change.Destroyed {
			change.Account.Balance.Add(&change.Account.Balance, &res.Fee.Amount)
		}

		return nil
	}

	acc, err := db.Account(addr)
	if err != nil {
		return fmt.Errorf("read beneficiary %s: %w", addr, err)
	}

	var next state.Account
	if acc != nil {
		next = *acc
	}
	next.Balance.Add(&next.Balance, &res.Fee.Amount)

	if res.Diff == nil {
		res.Diff = make(state.Diff)
	}
	res.Diff[addr] = &state.AccountDiff{Account: next}

	return nil
}
