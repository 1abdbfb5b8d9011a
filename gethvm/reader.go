package gethvm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/weiihann/parbench/state"
)

// reader serves a geth StateDB from a state.Reader. Storage keys and values
// are big-endian 32-byte words on the geth side.
type reader struct {
	inner state.Reader
}

func (r *reader) Account(addr common.Address) (*types.StateAccount, error) {
	acc, err := r.inner.Account(addr)
	if err != nil || acc == nil {
		return nil, err
	}

	codeHash := types.EmptyCodeHash
	if acc.HasCode() {
		codeHash = acc.CodeHash
	}

	return &types.StateAccount{
		Nonce:    acc.Nonce,
		Balance:  new(uint256.Int).Set(&acc.Balance),
		Root:     types.EmptyRootHash,
		CodeHash: codeHash.Bytes(),
	}, nil
}

func (r *reader) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	value, err := r.inner.Storage(addr, *new(uint256.Int).SetBytes32(slot[:]))
	if err != nil {
		return common.Hash{}, err
	}

	return common.Hash(value.Bytes32()), nil
}

func (r *reader) Code(addr common.Address, codeHash common.Hash) ([]byte, error) {
	if isEmptyCode(codeHash) {
		return nil, nil
	}

	code, err := r.inner.Code(codeHash)
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, fmt.Errorf("code %s of %s not found", codeHash, addr)
	}

	return code, nil
}

func (r *reader) CodeSize(addr common.Address, codeHash common.Hash) (int, error) {
	code, err := r.Code(addr, codeHash)
	if err != nil {
		return 0, err
	}

	return len(code), nil
}

func (r *reader) Has(addr common.Address, codeHash common.Hash) bool {
	code, err := r.Code(addr, codeHash)

	return err == nil && len(code) > 0
}

func isEmptyCode(h common.Hash) bool {
	return h == (common.Hash{}) || h == types.EmptyCodeHash
}
