package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "assetmech/core/errors"
	"assetmech/native/access"
	"assetmech/native/asset"
)

const semiBalancePrefix = "ledger/sft/balance/"

func semiKey(token common.Address, id *uint256.Int, owner common.Address) []byte {
	return key(semiBalancePrefix, token.Bytes(), idBytes(id), owner.Bytes())
}

// SemiBalance returns owner's balance of id in the semi-fungible collection.
func (l *Ledger) SemiBalance(token, owner common.Address, id *uint256.Int) (*uint256.Int, error) {
	if _, err := l.token(token, asset.SemiFungible); err != nil {
		return nil, err
	}
	return l.getAmount(semiKey(token, id, owner))
}

// SafeTransferSemi moves amount units of id from from to to on behalf of
// operator, who must be from or an approved operator.
func (l *Ledger) SafeTransferSemi(token, operator, from, to common.Address, id, amount *uint256.Int) error {
	return l.atomic(func() error {
		if _, err := l.token(token, asset.SemiFungible); err != nil {
			return err
		}
		if operator != from {
			approved, err := l.IsApprovedForAll(token, from, operator)
			if err != nil {
				return err
			}
			if !approved {
				return coreerrors.ErrInsufficientAllowance
			}
		}
		if to == (common.Address{}) {
			return ErrZeroAddress
		}
		if err := l.sub(semiKey(token, id, from), amount, coreerrors.ErrInsufficientBalance); err != nil {
			return err
		}
		if err := l.receiverCheck(to, SemiReceiver); err != nil {
			return err
		}
		if err := l.add(semiKey(token, id, to), amount); err != nil {
			return err
		}
		l.emit(newTransferEvent(asset.SemiFungible, token, from, to, id, amount))
		return nil
	})
}

// MintSemi issues amount units of id to to. Requires MINTER_ROLE on token.
func (l *Ledger) MintSemi(token, minter, to common.Address, id, amount *uint256.Int) error {
	return l.atomic(func() error {
		if _, err := l.token(token, asset.SemiFungible); err != nil {
			return err
		}
		if err := l.roles.Require(token, access.MinterRole, minter); err != nil {
			return err
		}
		if to == (common.Address{}) {
			return ErrZeroAddress
		}
		if err := l.receiverCheck(to, SemiReceiver); err != nil {
			return err
		}
		if err := l.add(semiKey(token, id, to), amount); err != nil {
			return err
		}
		l.emit(newTransferEvent(asset.SemiFungible, token, common.Address{}, to, id, amount))
		return nil
	})
}
