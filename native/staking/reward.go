package staking

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "assetmech/core/errors"
	"assetmech/native/asset"
	"assetmech/native/ledger"
)

// ReceiveReward settles stake id for its owner.
//
// With withdrawDeposit the stake is closed: the deposit is returned (less the
// rule penalty when no cycle completed yet) and, with claimReward, the reward
// is paid for max(cycles, 1) periods. Without withdrawDeposit only completed
// cycles are paid; recurrent rules keep the stake active and restart the
// window after the paid cycles, other rules close it and return the deposit.
func (e *Engine) ReceiveReward(caller common.Address, id uint64, withdrawDeposit, claimReward bool) (*Payout, error) {
	var payout *Payout
	closed := false
	err := e.exec("receiveReward", func() error {
		payout = &Payout{}
		closed = false
		stake, err := e.loadStake(id)
		if err != nil {
			return err
		}
		if stake.Owner != caller {
			return coreerrors.ErrNotOwner
		}
		if stake.Withdrawn() {
			return coreerrors.ErrAlreadyWithdrawn
		}
		rule, err := e.loadRule(&stake.RuleID)
		if err != nil {
			return err
		}
		if !withdrawDeposit && !claimReward {
			return coreerrors.ErrNothingToClaim
		}
		now := e.now()
		cycles := Cycles(stake.StartedAt, rule.Period, now)
		payout.Cycles = cycles

		var returned *asset.Asset
		switch {
		case withdrawDeposit:
			d := e.returnedDeposit(stake.Deposit, rule.Penalty, cycles)
			returned = &d
			if claimReward {
				payout.Multiplier = cycles
				if payout.Multiplier == 0 {
					payout.Multiplier = 1
				}
			}
		case cycles == 0:
			return coreerrors.ErrNothingToClaim
		default:
			payout.Multiplier = cycles
			if rule.Recurrent {
				stake.StartedAt += cycles * rule.Period
			} else {
				d := stake.Deposit
				returned = &d
			}
		}

		if returned != nil {
			stake.Status = StatusWithdrawn
			closed = true
		}
		if err := e.putStake(stake); err != nil {
			return err
		}
		if returned != nil && !returned.Units().IsZero() {
			if err := e.custodian.Spend(*returned, stake.Owner); err != nil {
				return err
			}
			payout.Deposit = returned
		}
		if payout.Multiplier > 0 {
			if err := e.pay(rule, stake.Owner, payout); err != nil {
				return err
			}
		}
		if closed {
			e.emit(newStakingWithdrawEvent(stake, now))
		}
		if payout.Multiplier > 0 {
			e.emit(newStakingFinishEvent(stake, now, payout.Multiplier))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if closed {
		e.telemetry.AdjustActiveStakes(e.address.Hex(), -1)
	}
	return payout, nil
}

// returnedDeposit applies the early exit penalty. Non-fungible deposits are
// always returned whole.
func (e *Engine) returnedDeposit(deposit asset.Asset, penalty, cycles uint64) asset.Asset {
	if cycles > 0 || penalty == 0 || !deposit.Kind.Divisible() {
		return deposit
	}
	kept := new(uint256.Int).Mul(&deposit.Quantity, uint256.NewInt(penalty))
	kept.Div(kept, uint256.NewInt(PenaltyDenominator))
	return deposit.WithQuantity(new(uint256.Int).Sub(&deposit.Quantity, kept))
}

// pay delivers the reward and the content assets multiplier times.
// Divisible assets are paid in one transfer of quantity*multiplier, while
// non-fungible ones are acquired once per cycle.
func (e *Engine) pay(rule *Rule, to common.Address, payout *Payout) error {
	legs := append([]asset.Asset{rule.Reward}, rule.Content...)
	mult := uint256.NewInt(payout.Multiplier)
	for _, leg := range legs {
		if leg.Kind.Divisible() {
			total, overflow := new(uint256.Int).MulOverflow(&leg.Quantity, mult)
			if overflow {
				return fmt.Errorf("%w: reward %s", ledger.ErrOverflow, leg.Ref())
			}
			paid := leg.WithQuantity(total)
			if _, err := e.custodian.Acquire(paid, to); err != nil {
				return err
			}
			payout.Rewards = append(payout.Rewards, paid)
			continue
		}
		for i := uint64(0); i < payout.Multiplier; i++ {
			delivery, err := e.custodian.Acquire(leg, to)
			if err != nil {
				return err
			}
			if delivery.Pending() {
				payout.Requests = append(payout.Requests, delivery.Request)
			}
			if delivery.TokenID != nil {
				payout.Rewards = append(payout.Rewards, leg.WithIdentifier(delivery.TokenID))
			} else if !delivery.Pending() {
				payout.Rewards = append(payout.Rewards, leg)
			}
		}
	}
	return nil
}
