package staking

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"assetmech/core/events"
	"assetmech/core/types"
	"assetmech/native/asset"
)

const (
	EventTypeRuleCreated     = "staking.ruleCreated"
	EventTypeRuleUpdated     = "staking.ruleUpdated"
	EventTypeStakingStart    = "staking.start"
	EventTypeStakingWithdraw = "staking.withdraw"
	EventTypeStakingFinish   = "staking.finish"
	EventTypePaymentReceived = "staking.paymentReceived"
)

func newRuleCreatedEvent(rule Rule) events.Event {
	return events.Wrap(types.NewEvent(EventTypeRuleCreated).
		With("externalId", rule.ExternalID.Dec()).
		With("deposit", asset.Format(rule.Deposit)).
		With("reward", asset.Format(rule.Reward)).
		With("content", asset.FormatList(rule.Content)).
		With("period", strconv.FormatUint(rule.Period, 10)).
		With("penalty", strconv.FormatUint(rule.Penalty, 10)).
		With("recurrent", strconv.FormatBool(rule.Recurrent)).
		With("active", strconv.FormatBool(rule.Active)))
}

func newRuleUpdatedEvent(id *uint256.Int, active bool) events.Event {
	return events.Wrap(types.NewEvent(EventTypeRuleUpdated).
		With("externalId", id.Dec()).
		With("active", strconv.FormatBool(active)))
}

func newStakingStartEvent(s *Stake) events.Event {
	return events.Wrap(types.NewEvent(EventTypeStakingStart).
		With("stakingId", strconv.FormatUint(s.ID, 10)).
		With("externalId", s.RuleID.Dec()).
		With("owner", s.Owner.Hex()).
		With("startTimestamp", strconv.FormatUint(s.StartedAt, 10)).
		With("tokenId", s.Deposit.Identifier.Dec()))
}

func newStakingWithdrawEvent(s *Stake, at int64) events.Event {
	return events.Wrap(types.NewEvent(EventTypeStakingWithdraw).
		With("stakingId", strconv.FormatUint(s.ID, 10)).
		With("owner", s.Owner.Hex()).
		With("withdrawTimestamp", strconv.FormatInt(at, 10)))
}

func newStakingFinishEvent(s *Stake, at int64, multiplier uint64) events.Event {
	return events.Wrap(types.NewEvent(EventTypeStakingFinish).
		With("stakingId", strconv.FormatUint(s.ID, 10)).
		With("owner", s.Owner.Hex()).
		With("finishTimestamp", strconv.FormatInt(at, 10)).
		With("multiplier", strconv.FormatUint(multiplier, 10)))
}

func newPaymentReceivedEvent(from common.Address, amount *uint256.Int) events.Event {
	return events.Wrap(types.NewEvent(EventTypePaymentReceived).
		With("from", from.Hex()).
		With("amount", amount.Dec()))
}
