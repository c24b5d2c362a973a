package exchange

import (
	"github.com/ethereum/go-ethereum/common"

	"assetmech/core/events"
	"assetmech/core/types"
	"assetmech/native/asset"
	"assetmech/native/auth"
)

const (
	EventTypePurchase          = "exchange.purchase"
	EventTypeClaim             = "exchange.claim"
	EventTypeEarnUpgrade       = "exchange.earnUpgrade"
	EventTypeTimeUpgrade       = "exchange.timeUpgrade"
	EventTypeEarnBoost         = "exchange.earnBoost"
	EventTypeTimeBoost         = "exchange.timeBoost"
	EventTypeWash              = "exchange.wash"
	EventTypeReferralReward    = "exchange.referralReward"
	EventTypeReferralWithdrawn = "exchange.referralWithdrawn"
	EventTypePaymentReceived   = "exchange.paymentReceived"
	EventTypePaymentReleased   = "exchange.paymentReleased"
)

// newTradeEvent renders {from, externalId, item(s), price} for the trade
// events. Single-item trades carry "item", claims carry "items".
func newTradeEvent(eventType string, from common.Address, order auth.Order, items []asset.Asset, price []asset.Asset) events.Event {
	evt := types.NewEvent(eventType).
		With("from", from.Hex()).
		With("externalId", order.ExternalID.Dec())
	if eventType == EventTypeClaim {
		evt.With("items", asset.FormatList(items))
	} else if len(items) > 0 {
		evt.With("item", asset.Format(items[0]))
	}
	if eventType != EventTypeClaim {
		evt.With("price", asset.FormatList(price))
	}
	return events.Wrap(evt)
}

func newReferralEvent(eventType string, account, referrer common.Address, reward asset.Asset) events.Event {
	return events.Wrap(types.NewEvent(eventType).
		With("account", account.Hex()).
		With("referrer", referrer.Hex()).
		With("asset", asset.Format(reward)))
}

func newPaymentEvent(eventType string, account common.Address, payment asset.Asset) events.Event {
	return events.Wrap(types.NewEvent(eventType).
		With("account", account.Hex()).
		With("asset", asset.Format(payment)))
}
