package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"assetmech/native/asset"
	"assetmech/native/auth"
	"assetmech/native/ledger"
)

type gradeOp struct {
	name      string
	eventType string
	attribute ledger.Attribute
	wash      bool
}

var (
	opEarnUpgrade = gradeOp{name: "earnUpgrade", eventType: EventTypeEarnUpgrade, attribute: ledger.EarnUpgrade}
	opTimeUpgrade = gradeOp{name: "timeUpgrade", eventType: EventTypeTimeUpgrade, attribute: ledger.TimeUpgrade}
	opEarnBoost   = gradeOp{name: "earnBoost", eventType: EventTypeEarnBoost, attribute: ledger.EarnBoost}
	opTimeBoost   = gradeOp{name: "timeBoost", eventType: EventTypeTimeBoost, attribute: ledger.TimeBoost}
	opWash        = gradeOp{name: "wash", eventType: EventTypeWash, wash: true}
)

// EarnUpgrade debits price and raises the EARN_UPGRADE level of item.
func (e *Engine) EarnUpgrade(caller common.Address, order auth.Order, item asset.Asset, price []asset.Asset, signature []byte) error {
	return e.grade(opEarnUpgrade, caller, order, item, price, signature)
}

// TimeUpgrade debits price and raises the TIME_UPGRADE level of item.
func (e *Engine) TimeUpgrade(caller common.Address, order auth.Order, item asset.Asset, price []asset.Asset, signature []byte) error {
	return e.grade(opTimeUpgrade, caller, order, item, price, signature)
}

// EarnBoost debits price and raises the EARN_BOOST level of item.
func (e *Engine) EarnBoost(caller common.Address, order auth.Order, item asset.Asset, price []asset.Asset, signature []byte) error {
	return e.grade(opEarnBoost, caller, order, item, price, signature)
}

// TimeBoost debits price and raises the TIME_BOOST level of item.
func (e *Engine) TimeBoost(caller common.Address, order auth.Order, item asset.Asset, price []asset.Asset, signature []byte) error {
	return e.grade(opTimeBoost, caller, order, item, price, signature)
}

// Wash debits price and resets the grade attributes of item.
func (e *Engine) Wash(caller common.Address, order auth.Order, item asset.Asset, price []asset.Asset, signature []byte) error {
	return e.grade(opWash, caller, order, item, price, signature)
}

// grade debits the price legs before touching metadata, so a failing debit
// never leaves the item mutated.
func (e *Engine) grade(op gradeOp, caller common.Address, order auth.Order, item asset.Asset, price []asset.Asset, signature []byte) error {
	return e.exec(op.name, func() error {
		if item.Kind != asset.NonFungible {
			return ErrNotNonFungible
		}
		if err := validateAll(append([]asset.Asset{item}, price...)); err != nil {
			return err
		}
		msg := PurchaseMessage(caller, order, item, price)
		if _, err := e.verifier.AuthorizeOrder(order, msg, signature); err != nil {
			return err
		}
		if err := e.collect(caller, order, price); err != nil {
			return err
		}
		if op.wash {
			if err := e.ledger.Wash(item.Token, e.address, &item.Identifier); err != nil {
				return fmt.Errorf("%s: %w", op.name, err)
			}
		} else if _, err := e.ledger.Upgrade(item.Token, e.address, &item.Identifier, op.attribute); err != nil {
			return fmt.Errorf("%s: %w", op.name, err)
		}
		e.emit(newTradeEvent(op.eventType, caller, order, []asset.Asset{item}, price))
		return nil
	})
}
