package ledger

import (
	"encoding/hex"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"assetmech/core/events"
	"assetmech/core/types"
	"assetmech/native/asset"
)

const (
	EventTypeTransfer         = "ledger.transfer"
	EventTypeApproval         = "ledger.approval"
	EventTypeApprovalForAll   = "ledger.approvalForAll"
	EventTypeTransferReceived = "ledger.transferReceived"
	EventTypeContract         = "ledger.contractRegistered"
	EventTypeBlacklisted      = "ledger.blacklisted"
	EventTypeUnblacklisted    = "ledger.unblacklisted"
	EventTypeUpdateUser       = "nft.updateUser"
	EventTypeMintRequested    = "nft.mintRequested"
	EventTypeMetadataUpdate   = "nft.metadataUpdate"
	EventTypeEarnUpgraded     = "nft.earnUpgraded"
	EventTypeTimeUpgraded     = "nft.timeUpgraded"
	EventTypeEarnBoosted      = "nft.earnBoosted"
	EventTypeTimeBoosted      = "nft.timeBoosted"
	EventTypeGraded           = "nft.graded"
	EventTypeWashed           = "nft.washed"
)

var levelEventTypes = map[Attribute]string{
	EarnUpgrade: EventTypeEarnUpgraded,
	TimeUpgrade: EventTypeTimeUpgraded,
	EarnBoost:   EventTypeEarnBoosted,
	TimeBoost:   EventTypeTimeBoosted,
}

func newTransferEvent(kind asset.Kind, token, from, to common.Address, id, amount *uint256.Int) events.Event {
	evt := types.NewEvent(EventTypeTransfer).
		With("kind", kind.String()).
		With("token", token.Hex()).
		With("from", from.Hex()).
		With("to", to.Hex()).
		With("amount", amount.Dec())
	if id != nil {
		evt.With("tokenId", id.Dec())
	}
	return events.Wrap(evt)
}

func newApprovalEvent(token, owner, spender common.Address, value string) events.Event {
	return events.Wrap(types.NewEvent(EventTypeApproval).
		With("token", token.Hex()).
		With("owner", owner.Hex()).
		With("spender", spender.Hex()).
		With("value", value))
}

func newApprovalForAllEvent(token, owner, operator common.Address, approved bool) events.Event {
	return events.Wrap(types.NewEvent(EventTypeApprovalForAll).
		With("token", token.Hex()).
		With("owner", owner.Hex()).
		With("operator", operator.Hex()).
		With("approved", strconv.FormatBool(approved)))
}

// newTransferReceivedEvent mirrors the receiver hook: operator initiated the
// transfer of amount from from into the receiving contract to.
func newTransferReceivedEvent(token, operator, from, to common.Address, amount *uint256.Int, data []byte) events.Event {
	return events.Wrap(types.NewEvent(EventTypeTransferReceived).
		With("token", token.Hex()).
		With("operator", operator.Hex()).
		With("from", from.Hex()).
		With("receiver", to.Hex()).
		With("amount", amount.Dec()).
		With("data", "0x"+hex.EncodeToString(data)))
}

func newContractEvent(c *Contract) events.Event {
	return events.Wrap(types.NewEvent(EventTypeContract).
		With("address", c.Address.Hex()).
		With("token", strconv.FormatBool(c.IsToken)).
		With("kind", c.TokenKind().String()).
		With("name", c.Name).
		With("capabilities", strconv.Itoa(int(c.Capabilities))))
}

func newMintRequestedEvent(token, to common.Address, templateID *uint256.Int, requestID uuid.UUID) events.Event {
	return events.Wrap(types.NewEvent(EventTypeMintRequested).
		With("token", token.Hex()).
		With("to", to.Hex()).
		With("templateId", templateID.Dec()).
		With("requestId", requestID.String()))
}

func newMetadataUpdateEvent(token common.Address, id *uint256.Int) events.Event {
	return events.Wrap(types.NewEvent(EventTypeMetadataUpdate).
		With("token", token.Hex()).
		With("tokenId", id.Dec()))
}

func newLevelEvent(attr Attribute, token, operator common.Address, id, level *uint256.Int) events.Event {
	eventType, ok := levelEventTypes[attr]
	if !ok {
		eventType = EventTypeGraded
	}
	return events.Wrap(types.NewEvent(eventType).
		With("token", token.Hex()).
		With("operator", operator.Hex()).
		With("tokenId", id.Dec()).
		With("attribute", string(attr)).
		With("level", level.Dec()))
}

func newWashedEvent(token, operator common.Address, id *uint256.Int) events.Event {
	return events.Wrap(types.NewEvent(EventTypeWashed).
		With("token", token.Hex()).
		With("operator", operator.Hex()).
		With("tokenId", id.Dec()))
}

func newBlacklistEvent(token, operator, account common.Address, listed bool) events.Event {
	eventType := EventTypeUnblacklisted
	if listed {
		eventType = EventTypeBlacklisted
	}
	return events.Wrap(types.NewEvent(eventType).
		With("token", token.Hex()).
		With("operator", operator.Hex()).
		With("account", account.Hex()))
}

func newUpdateUserEvent(token common.Address, id *uint256.Int, user common.Address, expires uint64) events.Event {
	return events.Wrap(types.NewEvent(EventTypeUpdateUser).
		With("token", token.Hex()).
		With("tokenId", id.Dec()).
		With("user", user.Hex()).
		With("expires", strconv.FormatUint(expires, 10)))
}
