package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "assetmech/core/errors"
	"assetmech/native/access"
	"assetmech/native/asset"
)

const blacklistPrefix = "ledger/blacklist/"

func blacklistKey(token, account common.Address) []byte {
	return key(blacklistPrefix, token.Bytes(), account.Bytes())
}

// IsBlacklisted reports whether account is barred from token.
func (l *Ledger) IsBlacklisted(token, account common.Address) (bool, error) {
	var listed bool
	_, err := l.state.KVGet(blacklistKey(token, account), &listed)
	return listed, err
}

// Blacklist bars account from sending or receiving token. Requires
// DEFAULT_ADMIN_ROLE on token.
func (l *Ledger) Blacklist(token, caller, account common.Address) error {
	return l.setBlacklisted(token, caller, account, true)
}

// Unblacklist lifts a previous Blacklist.
func (l *Ledger) Unblacklist(token, caller, account common.Address) error {
	return l.setBlacklisted(token, caller, account, false)
}

func (l *Ledger) setBlacklisted(token, caller, account common.Address, listed bool) error {
	return l.atomic(func() error {
		c, ok, err := l.Contract(token)
		if err != nil {
			return err
		}
		if !ok || !c.IsToken || (c.TokenKind() != asset.Fungible && c.TokenKind() != asset.NonFungible) {
			return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
		}
		if err := l.roles.Require(token, access.DefaultAdminRole, caller); err != nil {
			return err
		}
		if account == (common.Address{}) {
			return ErrZeroAddress
		}
		if listed {
			err = l.state.KVPut(blacklistKey(token, account), true)
		} else {
			err = l.state.KVDelete(blacklistKey(token, account))
		}
		if err != nil {
			return err
		}
		l.emit(newBlacklistEvent(token, caller, account, listed))
		return nil
	})
}

// checkBlacklist fails when any of accounts is barred from token. The zero
// address stands for mint and burn and is never listed.
func (l *Ledger) checkBlacklist(token common.Address, accounts ...common.Address) error {
	for _, account := range accounts {
		if account == (common.Address{}) {
			continue
		}
		listed, err := l.IsBlacklisted(token, account)
		if err != nil {
			return err
		}
		if listed {
			return fmt.Errorf("%w: %s", coreerrors.ErrBlacklisted, account.Hex())
		}
	}
	return nil
}
