// Package staking locks deposits against administrator-defined rules and pays
// rewards for every elapsed period.
package staking

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "assetmech/core/errors"
	"assetmech/core/events"
	"assetmech/native/access"
	"assetmech/native/asset"
	"assetmech/native/ledger"
	"assetmech/observability/metrics"
)

var (
	errNilState    = errors.New("staking: state not configured")
	ErrInvalidRule = errors.New("staking: invalid rule")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	NextSequence(key []byte) (uint64, error)
	Atomic(fn func() error) error
}

type ledgerAPI interface {
	asset.Ledger
	Record(token common.Address, id *uint256.Int, attr ledger.Attribute) (*uint256.Int, error)
}

type roleRegistry interface {
	Require(scope common.Address, role access.Role, account common.Address) error
	Paused(scope common.Address) (bool, error)
}

// Engine manages rules and stakes of one staking instance.
type Engine struct {
	address   common.Address
	state     engineState
	ledger    ledgerAPI
	roles     roleRegistry
	custodian *asset.Custodian
	emitter   events.Emitter
	telemetry *metrics.SettlementMetrics
	nowFn     func() int64
}

// NewEngine creates the staking instance at address. maxStake caps the number
// of deposits one owner may ever make; zero disables the cap.
func NewEngine(address common.Address, state engineState, l ledgerAPI, roles roleRegistry, maxStake uint64) (*Engine, error) {
	if state == nil {
		return nil, errNilState
	}
	e := &Engine{
		address:   address,
		state:     state,
		ledger:    l,
		roles:     roles,
		custodian: asset.NewCustodian(l, address),
		emitter:   events.NoopEmitter{},
		telemetry: metrics.Settlement(),
		nowFn:     func() int64 { return time.Now().Unix() },
	}
	if maxStake > 0 {
		if err := state.Atomic(func() error { return state.KVPut(e.key("maxStake"), maxStake) }); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Address returns the staking account.
func (e *Engine) Address() common.Address { return e.address }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) exec(op string, fn func() error) (err error) {
	started := time.Now()
	defer func() { e.telemetry.Observe("staking", op, err, time.Since(started)) }()
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := access.Guard(e.roles, e.address); err != nil {
		return err
	}
	return e.state.Atomic(fn)
}

func (e *Engine) key(parts ...string) []byte {
	out := append([]byte("staking/"), e.address.Bytes()...)
	for _, p := range parts {
		out = append(out, '/')
		out = append(out, p...)
	}
	return out
}

func ruleKey(id *uint256.Int) string { return id.Hex() }

func (e *Engine) requireAdmin(caller common.Address) error {
	return e.roles.Require(e.address, access.DefaultAdminRole, caller)
}

// SetRules creates unseen rules and refreshes the active flag of known ones.
func (e *Engine) SetRules(caller common.Address, rules []Rule) error {
	return e.exec("setRules", func() error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		for i := range rules {
			rule := rules[i]
			existing, err := e.loadRule(&rule.ExternalID)
			if err != nil && !errors.Is(err, coreerrors.ErrRuleNotFound) {
				return err
			}
			if existing != nil {
				if err := e.setActive(existing, rule.Active); err != nil {
					return err
				}
				continue
			}
			if err := rule.Validate(); err != nil {
				return fmt.Errorf("rule %d: %w", i, err)
			}
			if err := e.state.KVPut(e.key("rule", ruleKey(&rule.ExternalID)), rule.stored()); err != nil {
				return err
			}
			idBytes := rule.ExternalID.Bytes32()
			if err := e.state.KVAppend(e.key("rules"), idBytes[:]); err != nil {
				return err
			}
			e.emit(newRuleCreatedEvent(rule))
		}
		return nil
	})
}

// UpdateRule toggles the active flag of an existing rule.
func (e *Engine) UpdateRule(caller common.Address, externalID *uint256.Int, active bool) error {
	return e.exec("updateRule", func() error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		rule, err := e.loadRule(externalID)
		if err != nil {
			return err
		}
		return e.setActive(rule, active)
	})
}

func (e *Engine) setActive(rule *Rule, active bool) error {
	rule.Active = active
	if err := e.state.KVPut(e.key("rule", ruleKey(&rule.ExternalID)), rule.stored()); err != nil {
		return err
	}
	e.emit(newRuleUpdatedEvent(&rule.ExternalID, active))
	return nil
}

// SetMaxStake changes the per-owner deposit cap. Zero disables it.
func (e *Engine) SetMaxStake(caller common.Address, limit uint64) error {
	return e.exec("setMaxStake", func() error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		return e.state.KVPut(e.key("maxStake"), limit)
	})
}

// SetRuleCap limits how many deposits a rule accepts in total. Zero disables
// the cap.
func (e *Engine) SetRuleCap(caller common.Address, externalID *uint256.Int, limit uint64) error {
	return e.exec("setRuleCap", func() error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		if _, err := e.loadRule(externalID); err != nil {
			return err
		}
		return e.state.KVPut(e.key("ruleCap", ruleKey(externalID)), limit)
	})
}

func (e *Engine) loadRule(id *uint256.Int) (*Rule, error) {
	if id == nil {
		return nil, coreerrors.ErrRuleNotFound
	}
	var stored storedRule
	ok, err := e.state.KVGet(e.key("rule", ruleKey(id)), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coreerrors.ErrRuleNotFound
	}
	rule := stored.rule()
	return &rule, nil
}

// Rule returns the rule registered under externalID.
func (e *Engine) Rule(externalID *uint256.Int) (*Rule, error) {
	return e.loadRule(externalID)
}

// Rules lists every rule in creation order.
func (e *Engine) Rules() ([]Rule, error) {
	var ids [][]byte
	if err := e.state.KVGetList(e.key("rules"), &ids); err != nil {
		return nil, err
	}
	out := make([]Rule, 0, len(ids))
	for _, raw := range ids {
		rule, err := e.loadRule(new(uint256.Int).SetBytes(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, nil
}

func (e *Engine) counter(k []byte) (uint64, error) {
	var v uint64
	if _, err := e.state.KVGet(k, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// checkLimits enforces the per-owner and per-rule deposit caps and bumps both
// counters. Counters never decrease.
func (e *Engine) checkLimits(owner common.Address, rule *Rule) error {
	limits := []struct{ cap, count []byte }{
		{e.key("maxStake"), e.key("deposits", owner.Hex())},
		{e.key("ruleCap", ruleKey(&rule.ExternalID)), e.key("ruleDeposits", ruleKey(&rule.ExternalID))},
	}
	for _, l := range limits {
		limit, err := e.counter(l.cap)
		if err != nil {
			return err
		}
		count, err := e.counter(l.count)
		if err != nil {
			return err
		}
		if limit > 0 && count >= limit {
			return coreerrors.ErrStakeLimitExceeded
		}
		if err := e.state.KVPut(l.count, count+1); err != nil {
			return err
		}
	}
	return nil
}

// depositInstance resolves the concrete asset escrowed for rule.
func (e *Engine) depositInstance(rule *Rule, tokenID *uint256.Int) (asset.Asset, error) {
	deposit := rule.Deposit
	if deposit.Kind != asset.NonFungible {
		return deposit, nil
	}
	if tokenID == nil {
		return asset.Asset{}, coreerrors.ErrInvalidTokenID
	}
	template, err := e.ledger.Record(deposit.Token, tokenID, ledger.TemplateID)
	if err != nil {
		return asset.Asset{}, err
	}
	if !deposit.Identifier.IsZero() && !template.Eq(&deposit.Identifier) {
		return asset.Asset{}, coreerrors.ErrWrongDepositToken
	}
	return deposit.WithIdentifier(tokenID), nil
}

// Deposit escrows the rule's deposit from caller and opens a stake. attached
// is the native value sent along; tokenID selects the token for non-fungible
// deposits.
func (e *Engine) Deposit(caller common.Address, externalID, tokenID, attached *uint256.Int) (uint64, error) {
	var id uint64
	err := e.exec("deposit", func() error {
		rule, err := e.loadRule(externalID)
		if err != nil {
			return err
		}
		if !rule.Active {
			return coreerrors.ErrRuleInactive
		}
		instance, err := e.depositInstance(rule, tokenID)
		if err != nil {
			return err
		}
		if err := e.checkLimits(caller, rule); err != nil {
			return err
		}
		if err := e.custodian.Receive(instance, caller, attached); err != nil {
			return err
		}
		id, err = e.state.NextSequence(e.key("stakeSeq"))
		if err != nil {
			return err
		}
		stake := &Stake{
			ID:        id,
			RuleID:    rule.ExternalID,
			Owner:     caller,
			Deposit:   instance,
			StartedAt: uint64(e.now()),
			Status:    StatusActive,
		}
		if err := e.putStake(stake); err != nil {
			return err
		}
		if err := e.state.KVAppend(e.key("owner", caller.Hex()), uint256.NewInt(id).Bytes()); err != nil {
			return err
		}
		e.emit(newStakingStartEvent(stake))
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.telemetry.AdjustActiveStakes(e.address.Hex(), 1)
	return id, nil
}

func (e *Engine) putStake(s *Stake) error {
	return e.state.KVPut(e.key("stake", fmt.Sprint(s.ID)), s.stored())
}

func (e *Engine) loadStake(id uint64) (*Stake, error) {
	var stored storedStake
	ok, err := e.state.KVGet(e.key("stake", fmt.Sprint(id)), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coreerrors.ErrInvalidStakeID
	}
	return stored.stake(), nil
}

// Stake returns the stake with id.
func (e *Engine) Stake(id uint64) (*Stake, error) { return e.loadStake(id) }

// StakesOf lists the stakes opened by owner, oldest first.
func (e *Engine) StakesOf(owner common.Address) ([]*Stake, error) {
	var ids [][]byte
	if err := e.state.KVGetList(e.key("owner", owner.Hex()), &ids); err != nil {
		return nil, err
	}
	out := make([]*Stake, 0, len(ids))
	for _, raw := range ids {
		s, err := e.loadStake(new(uint256.Int).SetBytes(raw).Uint64())
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ElapsedCycles returns the completed cycles of stake id at the current time.
func (e *Engine) ElapsedCycles(id uint64) (uint64, error) {
	s, err := e.loadStake(id)
	if err != nil {
		return 0, err
	}
	rule, err := e.loadRule(&s.RuleID)
	if err != nil {
		return 0, err
	}
	return Cycles(s.StartedAt, rule.Period, e.now()), nil
}

// Fund accepts native value used to pay native rewards.
func (e *Engine) Fund(from common.Address, amount *uint256.Int) error {
	return e.exec("fund", func() error {
		funds := asset.NewNative(0).WithQuantity(amount)
		if err := e.custodian.Receive(funds, from, amount); err != nil {
			return err
		}
		e.emit(newPaymentReceivedEvent(from, amount))
		return nil
	})
}
