package factory

import (
	"github.com/ethereum/go-ethereum/common"

	"assetmech/native/access"
)

// Registration grants account role on every instance the manager deploys,
// e.g. MINTER_ROLE for an exchange that sells freshly minted tokens.
type Registration struct {
	Account common.Address
	Role    access.Role
}

type storedRegistration struct {
	Account common.Address
	Role    [32]byte
}

// AddFactory registers account to receive role on future deployments.
func (e *Engine) AddFactory(caller, account common.Address, role access.Role) error {
	return e.exec("addFactory", func() error {
		if err := e.roles.Require(e.address, access.DefaultAdminRole, caller); err != nil {
			return err
		}
		k := e.key("factory", account.Hex())
		ok, err := e.state.KVGet(k, nil)
		if err != nil {
			return err
		}
		if ok {
			return ErrFactoryRegistered
		}
		if err := e.state.KVPut(k, storedRegistration{Account: account, Role: role}); err != nil {
			return err
		}
		if err := e.state.KVAppend(e.key("factories"), account.Bytes()); err != nil {
			return err
		}
		e.emit(newFactoryEvent(EventTypeFactoryAdded, account, role))
		return nil
	})
}

// RemoveFactory stops granting roles to account. Roles already granted stay.
func (e *Engine) RemoveFactory(caller, account common.Address) error {
	return e.exec("removeFactory", func() error {
		if err := e.roles.Require(e.address, access.DefaultAdminRole, caller); err != nil {
			return err
		}
		k := e.key("factory", account.Hex())
		var reg storedRegistration
		ok, err := e.state.KVGet(k, &reg)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnknownInstance
		}
		if err := e.state.KVDelete(k); err != nil {
			return err
		}
		if err := e.state.KVRemove(e.key("factories"), account.Bytes()); err != nil {
			return err
		}
		e.emit(newFactoryEvent(EventTypeFactoryRemoved, account, access.Role(reg.Role)))
		return nil
	})
}

// Factories lists the current registrations.
func (e *Engine) Factories() ([]Registration, error) {
	accounts, err := e.list("factories")
	if err != nil {
		return nil, err
	}
	out := make([]Registration, 0, len(accounts))
	for _, account := range accounts {
		var reg storedRegistration
		if _, err := e.state.KVGet(e.key("factory", account.Hex()), &reg); err != nil {
			return nil, err
		}
		out = append(out, Registration{Account: reg.Account, Role: access.Role(reg.Role)})
	}
	return out, nil
}

func (e *Engine) grantFactories(scope common.Address) error {
	regs, err := e.Factories()
	if err != nil {
		return err
	}
	for _, reg := range regs {
		if err := e.roles.GrantInternal(scope, reg.Role, reg.Account); err != nil {
			return err
		}
	}
	return nil
}
