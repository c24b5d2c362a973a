package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"assetmech/config"
	"assetmech/native/access"
	"assetmech/native/factory"
	"assetmech/native/ledger"
	"assetmech/native/vesting"
)

// bootstrap grants admin the singleton engines and applies the catalogue.
// Every step is idempotent so it runs on each start.
func (n *node) bootstrap(admin common.Address, catalogue *config.Catalogue, logger *slog.Logger) error {
	return n.state.Atomic(func() error {
		for _, scope := range []common.Address{n.exchange.Address(), n.factory.Address(), n.coordinator.Address()} {
			if err := n.roles.Bootstrap(scope, admin); err != nil {
				return err
			}
		}
		registered, err := n.ledger.IsContract(n.exchange.Address())
		if err != nil {
			return err
		}
		if !registered {
			if err := n.ledger.RegisterContract(n.exchange.Address(), ledger.AllReceivers); err != nil {
				return err
			}
		}

		oracles, err := catalogue.OracleAccounts()
		if err != nil {
			return err
		}
		for _, oracle := range oracles {
			if err := n.roles.GrantInternal(n.coordinator.Address(), access.OracleRole, oracle); err != nil {
				return err
			}
		}

		templates, err := catalogue.FactoryTemplates()
		if err != nil {
			return err
		}
		for _, t := range templates {
			n.factory.RegisterTemplate(t)
		}

		for _, spec := range catalogue.Staking {
			if err := n.applyStaking(admin, spec, logger); err != nil {
				return fmt.Errorf("staking %s: %w", spec.Address, err)
			}
		}
		for _, spec := range catalogue.Vesting {
			if err := n.applyVesting(spec); err != nil {
				return fmt.Errorf("vesting %s: %w", spec.Address, err)
			}
		}
		return nil
	})
}

func (n *node) applyStaking(admin common.Address, spec config.StakingSpec, logger *slog.Logger) error {
	instance, err := n.factory.Staking(spec.Instance())
	if errors.Is(err, factory.ErrUnknownInstance) {
		logger.Warn("catalogue names an undeployed staking instance", "address", spec.Address)
		return nil
	}
	if err != nil {
		return err
	}
	rules, err := spec.StakingRules()
	if err != nil {
		return err
	}
	if err := instance.SetRules(admin, rules); err != nil {
		return err
	}
	if spec.MaxStake != nil {
		if err := instance.SetMaxStake(admin, *spec.MaxStake); err != nil {
			return err
		}
	}
	for i, r := range spec.Rules {
		if r.Cap == 0 {
			continue
		}
		if err := instance.SetRuleCap(admin, &rules[i].ExternalID, r.Cap); err != nil {
			return err
		}
	}
	return nil
}

func (n *node) applyVesting(spec config.VestingSpec) error {
	addr, schedule, err := spec.Schedule()
	if err != nil {
		return err
	}
	_, err = n.vesting.Schedule(addr)
	if err == nil {
		return nil
	}
	if !errors.Is(err, vesting.ErrUnknownVesting) {
		return err
	}
	return n.vesting.Create(addr, schedule)
}
