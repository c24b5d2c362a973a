package vesting

import (
	"github.com/ethereum/go-ethereum/common"

	"assetmech/core/events"
	"assetmech/core/types"
	"assetmech/native/asset"
)

const (
	EventTypeEtherReleased        = "vesting.etherReleased"
	EventTypeERC20Released        = "vesting.erc20Released"
	EventTypeTopUp                = "vesting.topUp"
	EventTypeOwnershipTransferred = "vesting.ownershipTransferred"
)

func newReleasedEvent(addr common.Address, paid asset.Asset) events.Event {
	if paid.Kind == asset.Native {
		return events.Wrap(types.NewEvent(EventTypeEtherReleased).
			With("vesting", addr.Hex()).
			With("amount", paid.Quantity.Dec()))
	}
	return events.Wrap(types.NewEvent(EventTypeERC20Released).
		With("vesting", addr.Hex()).
		With("token", paid.Token.Hex()).
		With("amount", paid.Quantity.Dec()))
}

func newTopUpEvent(addr, from common.Address, a asset.Asset) events.Event {
	return events.Wrap(types.NewEvent(EventTypeTopUp).
		With("vesting", addr.Hex()).
		With("from", from.Hex()).
		With("asset", asset.Format(a)))
}

func newOwnershipEvent(addr, previous, next common.Address) events.Event {
	return events.Wrap(types.NewEvent(EventTypeOwnershipTransferred).
		With("vesting", addr.Hex()).
		With("previousOwner", previous.Hex()).
		With("newOwner", next.Hex()))
}
