package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "assetmech/core/errors"
	"assetmech/native/access"
	"assetmech/native/asset"
)

const (
	fungibleBalancePrefix   = "ledger/ft/balance/"
	fungibleAllowancePrefix = "ledger/ft/allowance/"
	fungibleSupplyPrefix    = "ledger/ft/supply/"
)

var maxAllowance = new(uint256.Int).SetAllOne()

func balanceKey(token, owner common.Address) []byte {
	return key(fungibleBalancePrefix, token.Bytes(), owner.Bytes())
}

func allowanceKey(token, owner, spender common.Address) []byte {
	return key(fungibleAllowancePrefix, token.Bytes(), owner.Bytes(), spender.Bytes())
}

// BalanceOf returns owner's balance of the fungible token.
func (l *Ledger) BalanceOf(token, owner common.Address) (*uint256.Int, error) {
	if _, err := l.token(token, asset.Fungible); err != nil {
		return nil, err
	}
	return l.getAmount(balanceKey(token, owner))
}

// TotalSupply returns the minted supply of the fungible token.
func (l *Ledger) TotalSupply(token common.Address) (*uint256.Int, error) {
	if _, err := l.token(token, asset.Fungible); err != nil {
		return nil, err
	}
	return l.getAmount(key(fungibleSupplyPrefix, token.Bytes()))
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(token, owner, spender common.Address) (*uint256.Int, error) {
	if _, err := l.token(token, asset.Fungible); err != nil {
		return nil, err
	}
	return l.getAmount(allowanceKey(token, owner, spender))
}

// Approve sets spender's allowance over owner's tokens.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *uint256.Int) error {
	return l.atomic(func() error {
		if _, err := l.token(token, asset.Fungible); err != nil {
			return err
		}
		if spender == (common.Address{}) {
			return ErrZeroAddress
		}
		if err := l.putAmount(allowanceKey(token, owner, spender), amount); err != nil {
			return err
		}
		l.emit(newApprovalEvent(token, owner, spender, amount.Dec()))
		return nil
	})
}

// Transfer moves owner's tokens. data is forwarded to callback recipients.
func (l *Ledger) Transfer(token, from, to common.Address, amount *uint256.Int, data []byte) error {
	return l.transferFungible(token, from, from, to, amount, data)
}

// TransferFrom moves from's tokens on behalf of spender. The allowance is
// checked before the balance.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *uint256.Int, data []byte) error {
	return l.transferFungible(token, spender, from, to, amount, data)
}

func (l *Ledger) transferFungible(token, operator, from, to common.Address, amount *uint256.Int, data []byte) error {
	return l.atomic(func() error {
		c, err := l.token(token, asset.Fungible)
		if err != nil {
			return err
		}
		if operator != from {
			allowance, err := l.getAmount(allowanceKey(token, from, operator))
			if err != nil {
				return err
			}
			if allowance.Lt(amount) {
				return coreerrors.ErrInsufficientAllowance
			}
			if !allowance.Eq(maxAllowance) {
				allowance.Sub(allowance, amount)
				if err := l.putAmount(allowanceKey(token, from, operator), allowance); err != nil {
					return err
				}
			}
		}
		if to == (common.Address{}) {
			return ErrZeroAddress
		}
		if err := l.checkBlacklist(token, from, to); err != nil {
			return err
		}
		if err := l.sub(balanceKey(token, from), amount, coreerrors.ErrInsufficientBalance); err != nil {
			return err
		}
		notify := false
		if c.Callback {
			receiver, isContract, err := l.Contract(to)
			if err != nil {
				return err
			}
			if isContract {
				if !receiver.Has(FungibleReceiver) {
					return fmt.Errorf("%w: %s", coreerrors.ErrReceiverRejected, to.Hex())
				}
				notify = true
			}
		}
		if err := l.add(balanceKey(token, to), amount); err != nil {
			return err
		}
		l.emit(newTransferEvent(asset.Fungible, token, from, to, nil, amount))
		if notify {
			l.emit(newTransferReceivedEvent(token, operator, from, to, amount, data))
		}
		return nil
	})
}

// Mint issues amount new tokens to to. Requires MINTER_ROLE on token.
func (l *Ledger) Mint(token, minter, to common.Address, amount *uint256.Int) error {
	return l.atomic(func() error {
		if _, err := l.token(token, asset.Fungible); err != nil {
			return err
		}
		if err := l.roles.Require(token, access.MinterRole, minter); err != nil {
			return err
		}
		if to == (common.Address{}) {
			return ErrZeroAddress
		}
		if err := l.checkBlacklist(token, to); err != nil {
			return err
		}
		if err := l.add(key(fungibleSupplyPrefix, token.Bytes()), amount); err != nil {
			return err
		}
		if err := l.add(balanceKey(token, to), amount); err != nil {
			return err
		}
		l.emit(newTransferEvent(asset.Fungible, token, common.Address{}, to, nil, amount))
		return nil
	})
}
