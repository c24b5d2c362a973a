package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "assetmech/core/errors"
	"assetmech/native/asset"
	"assetmech/native/auth"
)

func (e *Engine) key(parts ...string) []byte {
	out := append([]byte("exchange/"), e.address.Bytes()...)
	for _, p := range parts {
		out = append(out, '/')
		out = append(out, p...)
	}
	return out
}

func (e *Engine) getAmount(k []byte) (*uint256.Int, error) {
	stored := new(big.Int)
	if _, err := e.state.KVGet(k, stored); err != nil {
		return nil, err
	}
	out, overflow := uint256.FromBig(stored)
	if overflow {
		return nil, fmt.Errorf("exchange: stored amount overflows")
	}
	return out, nil
}

func (e *Engine) putAmount(k []byte, v *uint256.Int) error {
	if v.IsZero() {
		return e.state.KVDelete(k)
	}
	return e.state.KVPut(k, v.ToBig())
}

func (e *Engine) addAmount(k []byte, delta *uint256.Int) error {
	current, err := e.getAmount(k)
	if err != nil {
		return err
	}
	return e.putAmount(k, current.Add(current, delta))
}

func splittable(a asset.Asset) error {
	if a.Kind != asset.Native && a.Kind != asset.Fungible {
		return fmt.Errorf("%w: only native and fungible balances are split", coreerrors.ErrUnsupportedKind)
	}
	return nil
}

func (e *Engine) custodyBalance(a asset.Asset) (*uint256.Int, error) {
	if a.Kind == asset.Native {
		return e.ledger.NativeBalance(e.address)
	}
	return e.ledger.BalanceOf(a.Token, e.address)
}

// Payees returns the payment splitter participants.
func (e *Engine) Payees() []Payee { return append([]Payee(nil), e.payees...) }

func (e *Engine) sharesOf(account common.Address) uint64 {
	for _, p := range e.payees {
		if p.Account == account {
			return p.Shares
		}
	}
	return 0
}

// Releasable returns what payee may currently release of a's balance.
func (e *Engine) Releasable(a asset.Asset, payee common.Address) (*uint256.Int, error) {
	if err := splittable(a); err != nil {
		return nil, err
	}
	shares := e.sharesOf(payee)
	if shares == 0 {
		return nil, ErrNoShares
	}
	balance, err := e.custodyBalance(a)
	if err != nil {
		return nil, err
	}
	outstanding, err := e.getAmount(e.key("referralOutstanding", a.Ref()))
	if err != nil {
		return nil, err
	}
	totalReleased, err := e.getAmount(e.key("totalReleased", a.Ref()))
	if err != nil {
		return nil, err
	}
	released, err := e.getAmount(e.key("released", a.Ref(), payee.Hex()))
	if err != nil {
		return nil, err
	}
	received := new(uint256.Int)
	if balance.Gt(outstanding) {
		received.Sub(balance, outstanding)
	}
	received.Add(received, totalReleased)
	entitled := new(uint256.Int).Mul(received, uint256.NewInt(shares))
	entitled.Div(entitled, uint256.NewInt(e.shares))
	if entitled.Lt(released) {
		return new(uint256.Int), nil
	}
	return entitled.Sub(entitled, released), nil
}

// Release pays payee its pro-rata share of everything the exchange received
// in a's currency, minus what it already released.
func (e *Engine) Release(a asset.Asset, payee common.Address) (*uint256.Int, error) {
	var payment *uint256.Int
	err := e.exec("release", func() error {
		var err error
		payment, err = e.Releasable(a, payee)
		if err != nil {
			return err
		}
		if payment.IsZero() {
			return ErrNoPaymentDue
		}
		if err := e.addAmount(e.key("released", a.Ref(), payee.Hex()), payment); err != nil {
			return err
		}
		if err := e.addAmount(e.key("totalReleased", a.Ref()), payment); err != nil {
			return err
		}
		if err := e.custodian.Spend(a.WithQuantity(payment), payee); err != nil {
			return err
		}
		e.emit(newPaymentEvent(EventTypePaymentReleased, payee, a.WithQuantity(payment)))
		return nil
	})
	return payment, err
}

// Fund accepts native value into the splitter.
func (e *Engine) Fund(from common.Address, amount *uint256.Int) error {
	return e.exec("fund", func() error {
		funds := asset.NewNative(0).WithQuantity(amount)
		if err := e.custodian.Receive(funds, from, amount); err != nil {
			return err
		}
		e.emit(newPaymentEvent(EventTypePaymentReceived, from, funds))
		return nil
	})
}

func (e *Engine) accrueReferral(caller common.Address, order auth.Order, price []asset.Asset) error {
	if e.referral == 0 || !order.HasReferrer(caller) {
		return nil
	}
	for _, leg := range price {
		if splittable(leg) != nil {
			continue
		}
		reward := new(uint256.Int).Mul(&leg.Quantity, uint256.NewInt(uint64(e.referral)))
		reward.Div(reward, uint256.NewInt(MaxReferralBps))
		if reward.IsZero() {
			continue
		}
		if err := e.addAmount(e.key("referral", leg.Ref(), order.Referrer.Hex()), reward); err != nil {
			return err
		}
		if err := e.addAmount(e.key("referralOutstanding", leg.Ref()), reward); err != nil {
			return err
		}
		e.emit(newReferralEvent(EventTypeReferralReward, caller, order.Referrer, leg.WithQuantity(reward)))
	}
	return nil
}

// ReferralBalance returns the referral rewards referrer may withdraw in a's
// currency.
func (e *Engine) ReferralBalance(a asset.Asset, referrer common.Address) (*uint256.Int, error) {
	if err := splittable(a); err != nil {
		return nil, err
	}
	return e.getAmount(e.key("referral", a.Ref(), referrer.Hex()))
}

// WithdrawReward pays caller its accrued referral rewards in a's currency.
func (e *Engine) WithdrawReward(caller common.Address, a asset.Asset) (*uint256.Int, error) {
	var amount *uint256.Int
	err := e.exec("withdrawReward", func() error {
		var err error
		amount, err = e.ReferralBalance(a, caller)
		if err != nil {
			return err
		}
		if amount.IsZero() {
			return coreerrors.ErrNothingToClaim
		}
		if err := e.state.KVDelete(e.key("referral", a.Ref(), caller.Hex())); err != nil {
			return err
		}
		outstanding, err := e.getAmount(e.key("referralOutstanding", a.Ref()))
		if err != nil {
			return err
		}
		if outstanding.Lt(amount) {
			outstanding.Clear()
		} else {
			outstanding.Sub(outstanding, amount)
		}
		if err := e.putAmount(e.key("referralOutstanding", a.Ref()), outstanding); err != nil {
			return err
		}
		paid := a.WithQuantity(amount)
		if err := e.custodian.Spend(paid, caller); err != nil {
			return err
		}
		e.emit(newReferralEvent(EventTypeReferralWithdrawn, caller, caller, paid))
		return nil
	})
	return amount, err
}
