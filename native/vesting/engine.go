// Package vesting releases funds held by per-beneficiary accounts along a
// template schedule.
package vesting

import (
	"errors"
	"fmt"
	"math/big"
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
	errNilState        = errors.New("vesting: state not configured")
	ErrUnknownVesting  = errors.New("vesting: unknown vesting account")
	ErrVestingExists   = errors.New("vesting: account already exists")
	ErrZeroBeneficiary = errors.New("vesting: beneficiary is the zero address")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	Atomic(fn func() error) error
}

type ledgerAPI interface {
	asset.Ledger
	NativeBalance(addr common.Address) (*uint256.Int, error)
	BalanceOf(token, owner common.Address) (*uint256.Int, error)
	RegisterContract(addr common.Address, caps ledger.Capability) error
}

// Engine runs every vesting account. Accounts are ledger contracts holding
// their own funds.
type Engine struct {
	state     engineState
	ledger    ledgerAPI
	roles     access.PauseView
	emitter   events.Emitter
	telemetry *metrics.SettlementMetrics
	nowFn     func() int64
}

// NewEngine wires the vesting engine. roles may be nil when pausing is not
// used.
func NewEngine(state engineState, l ledgerAPI, roles access.PauseView) *Engine {
	return &Engine{
		state:     state,
		ledger:    l,
		roles:     roles,
		emitter:   events.NoopEmitter{},
		telemetry: metrics.Settlement(),
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine.
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

func (e *Engine) exec(op string, scope common.Address, fn func() error) (err error) {
	started := time.Now()
	defer func() { e.telemetry.Observe("vesting", op, err, time.Since(started)) }()
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := access.Guard(e.roles, scope); err != nil {
		return err
	}
	return e.state.Atomic(fn)
}

func key(addr common.Address, parts ...string) []byte {
	out := append([]byte("vesting/"), addr.Bytes()...)
	for _, p := range parts {
		out = append(out, '/')
		out = append(out, p...)
	}
	return out
}

var indexKey = []byte("vesting/index")

// Create opens a vesting account at addr. The caller is expected to run it
// inside its own atomic operation.
func (e *Engine) Create(addr common.Address, schedule Schedule) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if schedule.Beneficiary == (common.Address{}) {
		return ErrZeroBeneficiary
	}
	if _, err := LookupTemplate(schedule.Template); err != nil {
		return err
	}
	return e.state.Atomic(func() error {
		ok, err := e.state.KVGet(key(addr, "schedule"), nil)
		if err != nil {
			return err
		}
		if ok {
			return ErrVestingExists
		}
		if err := e.ledger.RegisterContract(addr, ledger.Payable|ledger.FungibleReceiver); err != nil {
			return err
		}
		if err := e.state.KVPut(key(addr, "schedule"), schedule); err != nil {
			return err
		}
		return e.state.KVAppend(indexKey, addr.Bytes())
	})
}

// Schedule returns the schedule of the vesting account addr.
func (e *Engine) Schedule(addr common.Address) (*Schedule, error) {
	var s Schedule
	ok, err := e.state.KVGet(key(addr, "schedule"), &s)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownVesting
	}
	return &s, nil
}

// Accounts lists every vesting account in creation order.
func (e *Engine) Accounts() ([]common.Address, error) {
	var raw [][]byte
	if err := e.state.KVGetList(indexKey, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, len(raw))
	for i, b := range raw {
		out[i] = common.BytesToAddress(b)
	}
	return out, nil
}

func releasable(a asset.Asset) error {
	if a.Kind != asset.Native && a.Kind != asset.Fungible {
		return fmt.Errorf("%w: vesting holds native and fungible assets only", coreerrors.ErrUnsupportedKind)
	}
	return nil
}

func (e *Engine) released(addr common.Address, a asset.Asset) (*uint256.Int, error) {
	stored := new(big.Int)
	if _, err := e.state.KVGet(key(addr, "released", a.Ref()), stored); err != nil {
		return nil, err
	}
	out, _ := uint256.FromBig(stored)
	return out, nil
}

// Released returns the amount of a already paid to the beneficiary.
func (e *Engine) Released(addr common.Address, a asset.Asset) (*uint256.Int, error) {
	if err := releasable(a); err != nil {
		return nil, err
	}
	if _, err := e.Schedule(addr); err != nil {
		return nil, err
	}
	return e.released(addr, a)
}

// Releaseable returns the amount of a the beneficiary may release now.
// Entitlement is computed over everything the account ever held, so top-ups
// follow the same curve.
func (e *Engine) Releaseable(addr common.Address, a asset.Asset) (*uint256.Int, error) {
	if err := releasable(a); err != nil {
		return nil, err
	}
	schedule, err := e.Schedule(addr)
	if err != nil {
		return nil, err
	}
	template, err := LookupTemplate(schedule.Template)
	if err != nil {
		return nil, err
	}
	var balance *uint256.Int
	if a.Kind == asset.Native {
		balance, err = e.ledger.NativeBalance(addr)
	} else {
		balance, err = e.ledger.BalanceOf(a.Token, addr)
	}
	if err != nil {
		return nil, err
	}
	released, err := e.released(addr, a)
	if err != nil {
		return nil, err
	}
	total := new(uint256.Int).Add(balance, released)
	vested := template.Vested(total, schedule.Start, schedule.Duration, e.now())
	if !vested.Gt(released) {
		return new(uint256.Int), nil
	}
	return vested.Sub(vested, released), nil
}

// Release pays the releaseable amount of a to the beneficiary. A zero amount
// is not an error.
func (e *Engine) Release(addr common.Address, a asset.Asset) (*uint256.Int, error) {
	var amount *uint256.Int
	err := e.exec("release", addr, func() error {
		var err error
		amount, err = e.Releaseable(addr, a)
		if err != nil || amount.IsZero() {
			return err
		}
		schedule, err := e.Schedule(addr)
		if err != nil {
			return err
		}
		released, err := e.released(addr, a)
		if err != nil {
			return err
		}
		released.Add(released, amount)
		if err := e.state.KVPut(key(addr, "released", a.Ref()), released.ToBig()); err != nil {
			return err
		}
		paid := a.WithQuantity(amount)
		if err := asset.NewCustodian(e.ledger, addr).Spend(paid, schedule.Beneficiary); err != nil {
			return err
		}
		e.emit(newReleasedEvent(addr, paid))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !amount.IsZero() {
		e.telemetry.RecordVestingRelease(a.Kind.String())
	}
	return amount, nil
}

// TopUp pulls assets from caller into the vesting account. attached must
// equal the sum of the native legs.
func (e *Engine) TopUp(addr, caller common.Address, assets []asset.Asset, attached *uint256.Int) error {
	return e.exec("topUp", addr, func() error {
		if _, err := e.Schedule(addr); err != nil {
			return err
		}
		nativeTotal := new(uint256.Int)
		for i, a := range assets {
			if err := releasable(a); err != nil {
				return fmt.Errorf("asset %d: %w", i, err)
			}
			if a.Kind == asset.Native {
				nativeTotal.Add(nativeTotal, &a.Quantity)
			}
		}
		if attached == nil {
			attached = new(uint256.Int)
		}
		if !attached.Eq(nativeTotal) {
			return coreerrors.ErrWrongAmount
		}
		custodian := asset.NewCustodian(e.ledger, addr)
		for i, a := range assets {
			if err := custodian.SpendFrom(a, caller, addr); err != nil {
				return fmt.Errorf("asset %d: %w", i, err)
			}
			e.emit(newTopUpEvent(addr, caller, a))
		}
		return nil
	})
}

// TransferOwnership moves the schedule to a new beneficiary. Only the current
// beneficiary may call it.
func (e *Engine) TransferOwnership(addr, caller, beneficiary common.Address) error {
	return e.exec("transferOwnership", addr, func() error {
		schedule, err := e.Schedule(addr)
		if err != nil {
			return err
		}
		if schedule.Beneficiary != caller {
			return coreerrors.ErrNotOwner
		}
		if beneficiary == (common.Address{}) {
			return ErrZeroBeneficiary
		}
		previous := schedule.Beneficiary
		schedule.Beneficiary = beneficiary
		if err := e.state.KVPut(key(addr, "schedule"), schedule); err != nil {
			return err
		}
		e.emit(newOwnershipEvent(addr, previous, beneficiary))
		return nil
	})
}
