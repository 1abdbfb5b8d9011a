package gethvm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// feeDeferral holds back the transaction fee paid to the block beneficiary,
// so an execution only touches the beneficiary's account when it uses it
// explicitly.
type feeDeferral struct {
	vm.StateDB
	beneficiary common.Address
	fee         uint256.Int
}

func (f *feeDeferral) AddBalance(
	addr common.Address,
	amount *uint256.Int,
	reason tracing.BalanceChangeReason,
) uint256.Int {
	if addr != f.beneficiary || reason != tracing.BalanceIncreaseRewardTransactionFee {
		return f.StateDB.AddBalance(addr, amount, reason)
	}

	f.fee.Add(&f.fee, amount)

	return uint256.Int{}
}
