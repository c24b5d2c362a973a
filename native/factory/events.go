package factory

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"assetmech/core/events"
	"assetmech/core/types"
	"assetmech/native/access"
)

const (
	EventTypeVestingDeployed = "factory.vestingDeployed"
	EventTypeStakingDeployed = "factory.stakingDeployed"
	EventTypeTokenDeployed   = "factory.tokenDeployed"
	EventTypeFactoryAdded    = "factory.added"
	EventTypeFactoryRemoved  = "factory.removed"
)

func newVestingDeployedEvent(addr common.Address, args VestingArgs) events.Event {
	return events.Wrap(types.NewEvent(EventTypeVestingDeployed).
		With("addr", addr.Hex()).
		With("account", args.Account.Hex()).
		With("startTimestamp", strconv.FormatUint(args.StartTimestamp, 10)).
		With("duration", strconv.FormatUint(args.Duration, 10)).
		With("contractTemplate", args.ContractTemplate))
}

func newStakingDeployedEvent(addr common.Address, args StakingArgs) events.Event {
	return events.Wrap(types.NewEvent(EventTypeStakingDeployed).
		With("addr", addr.Hex()).
		With("maxStake", strconv.FormatUint(args.MaxStake, 10)).
		With("contractTemplate", args.ContractTemplate))
}

func newTokenDeployedEvent(addr common.Address, kind Kind, args TokenArgs) events.Event {
	return events.Wrap(types.NewEvent(EventTypeTokenDeployed).
		With("addr", addr.Hex()).
		With("kind", kind.String()).
		With("name", args.Name).
		With("symbol", args.Symbol).
		With("contractTemplate", args.ContractTemplate))
}

func newFactoryEvent(eventType string, account common.Address, role access.Role) events.Event {
	return events.Wrap(types.NewEvent(eventType).
		With("account", account.Hex()).
		With("role", role.String()))
}
