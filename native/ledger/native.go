package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "assetmech/core/errors"
	"assetmech/native/asset"
)

const nativeBalancePrefix = "ledger/native/"

// NativeBalance returns the native currency balance of addr.
func (l *Ledger) NativeBalance(addr common.Address) (*uint256.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.getAmount(key(nativeBalancePrefix, addr.Bytes()))
}

// Credit creates amount native units at to. This is the designated issuance
// path used by genesis allocation and test fixtures.
func (l *Ledger) Credit(to common.Address, amount *uint256.Int) error {
	return l.atomic(func() error {
		if to == (common.Address{}) {
			return ErrZeroAddress
		}
		if err := l.add(key(nativeBalancePrefix, to.Bytes()), amount); err != nil {
			return err
		}
		l.emit(newTransferEvent(asset.Native, common.Address{}, common.Address{}, to, nil, amount))
		return nil
	})
}

// TransferNative moves amount native units from from to to. Contracts that are
// not payable revert the transfer with TransferFailed.
func (l *Ledger) TransferNative(from, to common.Address, amount *uint256.Int) error {
	return l.atomic(func() error {
		if to == (common.Address{}) {
			return ErrZeroAddress
		}
		c, ok, err := l.Contract(to)
		if err != nil {
			return err
		}
		if ok && !c.Has(Payable) {
			return fmt.Errorf("%w: %s is not payable", coreerrors.ErrTransferFailed, to.Hex())
		}
		if err := l.sub(key(nativeBalancePrefix, from.Bytes()), amount, coreerrors.ErrInsufficientBalance); err != nil {
			return err
		}
		if err := l.add(key(nativeBalancePrefix, to.Bytes()), amount); err != nil {
			return err
		}
		l.emit(newTransferEvent(asset.Native, common.Address{}, from, to, nil, amount))
		return nil
	})
}
