package staking

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"assetmech/native/asset"
)

// PenaltyDenominator is the fixed denominator of Rule.Penalty.
const PenaltyDenominator = 100

// Status tracks the lifecycle of a stake.
type Status uint8

const (
	StatusActive Status = iota
	StatusWithdrawn
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusWithdrawn:
		return "withdrawn"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Rule declares what a stake locks and what it earns per elapsed period.
type Rule struct {
	ExternalID uint256.Int
	Deposit    asset.Asset
	Reward     asset.Asset
	Content    []asset.Asset
	// Period is the cycle length in seconds.
	Period uint64
	// Penalty is the share of a divisible deposit kept on exits before the
	// first cycle completes, over PenaltyDenominator.
	Penalty   uint64
	Recurrent bool
	Active    bool
}

// Validate checks the static constraints of a rule.
func (r Rule) Validate() error {
	if r.ExternalID.IsZero() {
		return fmt.Errorf("%w: externalId must be non-zero", ErrInvalidRule)
	}
	if r.Period == 0 {
		return fmt.Errorf("%w: period must be positive", ErrInvalidRule)
	}
	if r.Penalty > PenaltyDenominator {
		return fmt.Errorf("%w: penalty %d exceeds %d", ErrInvalidRule, r.Penalty, PenaltyDenominator)
	}
	if err := validateLeg("deposit", r.Deposit); err != nil {
		return err
	}
	if err := validatePayoutLeg("reward", r.Reward); err != nil {
		return err
	}
	for i, c := range r.Content {
		if err := validatePayoutLeg(fmt.Sprintf("content %d", i), c); err != nil {
			return err
		}
	}
	return nil
}

// validatePayoutLeg additionally requires non-fungible reward and content
// legs to name the template they mint.
func validatePayoutLeg(name string, a asset.Asset) error {
	if err := validateLeg(name, a); err != nil {
		return err
	}
	if a.Kind == asset.NonFungible && a.Identifier.IsZero() {
		return fmt.Errorf("%w: %s template id must be non-zero", ErrInvalidRule, name)
	}
	return nil
}

// validateLeg accepts an identifier of zero on non-fungible deposits, where it
// means any template.
func validateLeg(name string, a asset.Asset) error {
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: %s kind %d", ErrInvalidRule, name, a.Kind)
	}
	if a.Kind != asset.Native && a.Token == (common.Address{}) {
		return fmt.Errorf("%w: %s token missing", ErrInvalidRule, name)
	}
	if a.Kind.Divisible() && a.Quantity.IsZero() {
		return fmt.Errorf("%w: %s quantity must be positive", ErrInvalidRule, name)
	}
	return nil
}

type storedRule struct {
	ExternalID *big.Int
	Deposit    asset.Asset
	Reward     asset.Asset
	Content    []asset.Asset
	Period     uint64
	Penalty    uint64
	Recurrent  bool
	Active     bool
}

func (r Rule) stored() storedRule {
	return storedRule{
		ExternalID: r.ExternalID.ToBig(),
		Deposit:    r.Deposit,
		Reward:     r.Reward,
		Content:    r.Content,
		Period:     r.Period,
		Penalty:    r.Penalty,
		Recurrent:  r.Recurrent,
		Active:     r.Active,
	}
}

func (s storedRule) rule() Rule {
	r := Rule{
		Deposit:   s.Deposit,
		Reward:    s.Reward,
		Content:   s.Content,
		Period:    s.Period,
		Penalty:   s.Penalty,
		Recurrent: s.Recurrent,
		Active:    s.Active,
	}
	if s.ExternalID != nil {
		r.ExternalID.SetFromBig(s.ExternalID)
	}
	return r
}

type ruleWire struct {
	ExternalID string        `json:"externalId"`
	Deposit    asset.Asset   `json:"deposit"`
	Reward     asset.Asset   `json:"reward"`
	Content    []asset.Asset `json:"content"`
	Period     uint64        `json:"period"`
	Penalty    uint64        `json:"penalty"`
	Recurrent  bool          `json:"recurrent"`
	Active     bool          `json:"active"`
}

func (r Rule) MarshalJSON() ([]byte, error) {
	content := r.Content
	if content == nil {
		content = []asset.Asset{}
	}
	return json.Marshal(ruleWire{
		ExternalID: r.ExternalID.Dec(),
		Deposit:    r.Deposit,
		Reward:     r.Reward,
		Content:    content,
		Period:     r.Period,
		Penalty:    r.Penalty,
		Recurrent:  r.Recurrent,
		Active:     r.Active,
	})
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var w ruleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	id, err := asset.ParseQuantity(w.ExternalID)
	if err != nil {
		return fmt.Errorf("externalId: %w", err)
	}
	*r = Rule{
		ExternalID: *id,
		Deposit:    w.Deposit,
		Reward:     w.Reward,
		Content:    w.Content,
		Period:     w.Period,
		Penalty:    w.Penalty,
		Recurrent:  w.Recurrent,
		Active:     w.Active,
	}
	return nil
}

// Stake is one deposit locked against a rule.
type Stake struct {
	ID     uint64
	RuleID uint256.Int
	Owner  common.Address
	// Deposit is the escrowed instance; non-fungible deposits carry the
	// concrete token id.
	Deposit   asset.Asset
	StartedAt uint64
	Status    Status
}

// Withdrawn reports whether the stake reached its terminal state.
func (s *Stake) Withdrawn() bool { return s.Status == StatusWithdrawn }

type storedStake struct {
	ID        uint64
	RuleID    *big.Int
	Owner     common.Address
	Deposit   asset.Asset
	StartedAt uint64
	Status    uint8
}

func (s *Stake) stored() storedStake {
	return storedStake{
		ID:        s.ID,
		RuleID:    s.RuleID.ToBig(),
		Owner:     s.Owner,
		Deposit:   s.Deposit,
		StartedAt: s.StartedAt,
		Status:    uint8(s.Status),
	}
}

func (s storedStake) stake() *Stake {
	out := &Stake{
		ID:        s.ID,
		Owner:     s.Owner,
		Deposit:   s.Deposit,
		StartedAt: s.StartedAt,
		Status:    Status(s.Status),
	}
	if s.RuleID != nil {
		out.RuleID.SetFromBig(s.RuleID)
	}
	return out
}

func (s *Stake) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        uint64         `json:"id"`
		RuleID    string         `json:"externalId"`
		Owner     common.Address `json:"owner"`
		Deposit   asset.Asset    `json:"deposit"`
		StartedAt uint64         `json:"startTimestamp"`
		Status    string         `json:"status"`
	}{s.ID, s.RuleID.Dec(), s.Owner, s.Deposit, s.StartedAt, s.Status.String()})
}

// Cycles returns the whole periods elapsed between startedAt and now.
func Cycles(startedAt, period uint64, now int64) uint64 {
	if period == 0 || now <= 0 || uint64(now) <= startedAt {
		return 0
	}
	return (uint64(now) - startedAt) / period
}

// Payout describes what a reward receipt delivered.
type Payout struct {
	Cycles     uint64
	Multiplier uint64
	// Deposit is nil when the deposit stays locked.
	Deposit *asset.Asset
	Rewards []asset.Asset
	// Requests lists randomness requests queued for random rewards.
	Requests []uuid.UUID
}
