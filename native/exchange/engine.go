// Package exchange settles signed trades: purchases, claims and the grade
// operations that mutate token metadata against a price.
package exchange

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"assetmech/core/events"
	"assetmech/native/access"
	"assetmech/native/asset"
	"assetmech/native/auth"
	"assetmech/native/ledger"
	"assetmech/observability/metrics"
)

const (
	// DomainVersion is the EIP-712 version of exchange messages.
	DomainVersion = "1.0.0"
	// MaxReferralBps caps the referral share at 100%.
	MaxReferralBps = 10_000
)

var (
	errNilState       = errors.New("exchange: state not configured")
	ErrInvalidPayees  = errors.New("exchange: payees and shares length mismatch")
	ErrNoShares       = errors.New("exchange: account has no shares")
	ErrNoPaymentDue   = errors.New("exchange: account is not due payment")
	ErrInvalidConfig  = errors.New("exchange: invalid configuration")
	ErrNotNonFungible = errors.New("exchange: item must be a non-fungible token")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	Atomic(fn func() error) error
}

type ledgerAPI interface {
	asset.Ledger
	NativeBalance(addr common.Address) (*uint256.Int, error)
	BalanceOf(token, owner common.Address) (*uint256.Int, error)
	Upgrade(token, operator common.Address, id *uint256.Int, attr ledger.Attribute) (*uint256.Int, error)
	Wash(token, operator common.Address, id *uint256.Int) error
}

type roleRegistry interface {
	Has(scope common.Address, role access.Role, account common.Address) (bool, error)
	Paused(scope common.Address) (bool, error)
}

// Payee is one payment splitter participant.
type Payee struct {
	Account common.Address
	Shares  uint64
}

// Config describes an exchange deployment.
type Config struct {
	Name        string
	ChainID     *big.Int
	Payees      []Payee
	ReferralBps uint32
}

// Engine wires the exchange business logic with external state, the ledger
// and an event emitter.
type Engine struct {
	address   common.Address
	state     engineState
	ledger    ledgerAPI
	roles     roleRegistry
	custodian *asset.Custodian
	verifier  *auth.Verifier
	payees    []Payee
	shares    uint64
	referral  uint32
	emitter   events.Emitter
	telemetry *metrics.SettlementMetrics
	nowFn     func() int64
}

// NewEngine creates the exchange at address. Orders must be signed by an
// account holding DEFAULT_ADMIN_ROLE on address.
func NewEngine(address common.Address, cfg Config, state engineState, l ledgerAPI, roles roleRegistry) (*Engine, error) {
	if cfg.ReferralBps > MaxReferralBps {
		return nil, fmt.Errorf("%w: referral share %d bps", ErrInvalidConfig, cfg.ReferralBps)
	}
	var total uint64
	for _, p := range cfg.Payees {
		if p.Account == (common.Address{}) || p.Shares == 0 {
			return nil, ErrInvalidPayees
		}
		total += p.Shares
	}
	name := cfg.Name
	if name == "" {
		name = "Exchange"
	}
	domain := auth.Domain{Name: name, Version: DomainVersion, ChainID: cfg.ChainID, VerifyingContract: address}
	verifier := auth.NewVerifier(domain, auth.NewNonceTable(state, address), auth.RoleSigners(roles, address, access.DefaultAdminRole))
	e := &Engine{
		address:   address,
		state:     state,
		ledger:    l,
		roles:     roles,
		custodian: asset.NewCustodian(l, address),
		verifier:  verifier,
		payees:    append([]Payee(nil), cfg.Payees...),
		shares:    total,
		referral:  cfg.ReferralBps,
		emitter:   events.NoopEmitter{},
		telemetry: metrics.Settlement(),
		nowFn:     func() int64 { return time.Now().Unix() },
	}
	verifier.SetNowFunc(e.now)
	return e, nil
}

// Address returns the exchange account.
func (e *Engine) Address() common.Address { return e.address }

// Domain returns the signing domain clients must use.
func (e *Engine) Domain() auth.Domain { return e.verifier.Domain() }

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

// exec runs op atomically after the pause guard.
func (e *Engine) exec(op string, fn func() error) (err error) {
	started := time.Now()
	defer func() { e.telemetry.Observe("exchange", op, err, time.Since(started)) }()
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := access.Guard(e.roles, e.address); err != nil {
		return err
	}
	return e.state.Atomic(fn)
}

func validateAll(list []asset.Asset) error {
	for i, a := range list {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("asset %d: %w", i, err)
		}
	}
	return nil
}

// Purchase debits price from caller and delivers item, minting it when the
// exchange is a minter of the item contract.
func (e *Engine) Purchase(caller common.Address, order auth.Order, item asset.Asset, price []asset.Asset, signature []byte) error {
	return e.exec("purchase", func() error {
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
		if _, err := e.custodian.Acquire(item, caller); err != nil {
			return err
		}
		e.emit(newTradeEvent(EventTypePurchase, caller, order, []asset.Asset{item}, price))
		return nil
	})
}

// Claim delivers items to caller without a price. Items from random
// collections are queued behind a randomness request.
func (e *Engine) Claim(caller common.Address, order auth.Order, items []asset.Asset, signature []byte) ([]uuid.UUID, error) {
	var requests []uuid.UUID
	err := e.exec("claim", func() error {
		requests = nil
		if err := validateAll(items); err != nil {
			return err
		}
		msg := ClaimMessage(caller, order, items)
		if _, err := e.verifier.AuthorizeOrder(order, msg, signature); err != nil {
			return err
		}
		for i, item := range items {
			delivery, err := e.custodian.Acquire(item, caller)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			if delivery.Pending() {
				requests = append(requests, delivery.Request)
			}
		}
		e.emit(newTradeEvent(EventTypeClaim, caller, order, items, nil))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// collect moves every price leg into exchange custody and accrues the
// referral share.
func (e *Engine) collect(caller common.Address, order auth.Order, price []asset.Asset) error {
	for i, leg := range price {
		if err := e.custodian.SpendFrom(leg, caller, e.address); err != nil {
			return fmt.Errorf("price %d: %w", i, err)
		}
	}
	return e.accrueReferral(caller, order, price)
}
