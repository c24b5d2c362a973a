// Package factory deploys vesting, staking and token instances against signed
// deployment orders and keeps the registry of what it deployed.
package factory

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"assetmech/core/events"
	"assetmech/core/state"
	"assetmech/native/access"
	"assetmech/native/auth"
	"assetmech/native/ledger"
	"assetmech/native/staking"
	"assetmech/native/vesting"
	"assetmech/observability/metrics"
)

const (
	DomainName    = "ContractManager"
	DomainVersion = "1.0.0"
)

var (
	errNilState          = errors.New("factory: state not configured")
	ErrUnknownBytecode   = errors.New("factory: bytecode does not match a registered template")
	ErrTemplateMismatch  = errors.New("factory: bytecode does not deploy the requested kind")
	ErrUnknownInstance   = errors.New("factory: unknown instance")
	ErrFactoryRegistered = errors.New("factory: factory already registered")
)

// Kind names what a template deploys.
type Kind uint8

const (
	KindVesting Kind = iota + 1
	KindStaking
	KindFungible
	KindNonFungible
	KindSemiFungible
)

func (k Kind) String() string {
	switch k {
	case KindVesting:
		return "vesting"
	case KindStaking:
		return "staking"
	case KindFungible:
		return "fungible"
	case KindNonFungible:
		return "nonFungible"
	case KindSemiFungible:
		return "semiFungible"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind resolves the name printed by Kind.String.
func ParseKind(name string) (Kind, error) {
	for k := KindVesting; k <= KindSemiFungible; k++ {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("factory: unknown template kind %q", name)
}

// Template is a deployable unit selected by the hash of its code.
type Template struct {
	Kind Kind
	// Variant is the vesting template name; empty for other kinds.
	Variant string
	Code    []byte
}

// Hash identifies the template in deployment orders.
func (t Template) Hash() common.Hash { return crypto.Keccak256Hash(t.Code) }

// DefaultTemplates returns one template per vesting curve, one staking
// template and one per token kind.
func DefaultTemplates() []Template {
	var out []Template
	for _, name := range vesting.TemplateNames() {
		out = append(out, Template{Kind: KindVesting, Variant: name, Code: []byte("vesting/" + name)})
	}
	return append(out,
		Template{Kind: KindStaking, Code: []byte("staking/v1")},
		Template{Kind: KindFungible, Code: []byte("token/fungible")},
		Template{Kind: KindNonFungible, Code: []byte("token/nonFungible")},
		Template{Kind: KindSemiFungible, Code: []byte("token/semiFungible")},
	)
}

// Engine is the contract manager.
type Engine struct {
	address   common.Address
	state     *state.Manager
	ledger    *ledger.Ledger
	roles     *access.Registry
	vesting   *vesting.Engine
	verifier  *auth.Verifier
	templates map[common.Hash]Template
	emitter   events.Emitter
	telemetry *metrics.SettlementMetrics
	nowFn     func() int64

	mu      sync.Mutex
	staking map[common.Address]*staking.Engine
}

// NewEngine creates the contract manager at address. Deployment orders must
// be signed by an account holding DEFAULT_ADMIN_ROLE on address.
func NewEngine(address common.Address, chainID *big.Int, st *state.Manager, l *ledger.Ledger, roles *access.Registry, v *vesting.Engine) (*Engine, error) {
	if st == nil {
		return nil, errNilState
	}
	domain := auth.Domain{Name: DomainName, Version: DomainVersion, ChainID: chainID, VerifyingContract: address}
	e := &Engine{
		address:   address,
		state:     st,
		ledger:    l,
		roles:     roles,
		vesting:   v,
		verifier:  auth.NewVerifier(domain, auth.NewNonceTable(st, address), auth.RoleSigners(roles, address, access.DefaultAdminRole)),
		templates: make(map[common.Hash]Template),
		emitter:   events.NoopEmitter{},
		telemetry: metrics.Settlement(),
		nowFn:     func() int64 { return time.Now().Unix() },
		staking:   make(map[common.Address]*staking.Engine),
	}
	e.verifier.SetNowFunc(e.now)
	for _, t := range DefaultTemplates() {
		e.RegisterTemplate(t)
	}
	return e, nil
}

// Address returns the contract manager account.
func (e *Engine) Address() common.Address { return e.address }

// Domain returns the signing domain of deployment orders.
func (e *Engine) Domain() auth.Domain { return e.verifier.Domain() }

// RegisterTemplate makes t deployable.
func (e *Engine) RegisterTemplate(t Template) {
	e.templates[t.Hash()] = t
}

// SetEmitter configures the event emitter used by the engine and every
// staking instance it hands out. Passing nil resets the emitter to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.staking {
		s.SetEmitter(emitter)
	}
}

// SetNowFunc overrides the time source of the engine and of staking
// instances created afterwards.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
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
	defer func() { e.telemetry.Observe("factory", op, err, time.Since(started)) }()
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := access.Guard(e.roles, e.address); err != nil {
		return err
	}
	return e.state.Atomic(fn)
}

func (e *Engine) key(parts ...string) []byte {
	out := append([]byte("factory/"), e.address.Bytes()...)
	for _, p := range parts {
		out = append(out, '/')
		out = append(out, p...)
	}
	return out
}

// authorize checks the order signature and resolves the template named by
// the bytecode.
func (e *Engine) authorize(params Params, msg auth.Message, signature []byte, kinds ...Kind) (Template, error) {
	if _, err := e.verifier.Authorize(params.Nonce, 0, msg, signature); err != nil {
		return Template{}, err
	}
	t, ok := e.templates[crypto.Keccak256Hash(params.Bytecode)]
	if !ok {
		return Template{}, ErrUnknownBytecode
	}
	for _, k := range kinds {
		if t.Kind == k {
			return t, nil
		}
	}
	return Template{}, fmt.Errorf("%w: got %s", ErrTemplateMismatch, t.Kind)
}

func (e *Engine) record(list string, addr common.Address) error {
	return e.state.KVAppend(e.key(list), addr.Bytes())
}

func (e *Engine) list(name string) ([]common.Address, error) {
	var raw [][]byte
	if err := e.state.KVGetList(e.key(name), &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, len(raw))
	for i, b := range raw {
		out[i] = common.BytesToAddress(b)
	}
	return out, nil
}

// DeployVesting creates a vesting account for args.Account.
func (e *Engine) DeployVesting(params Params, args VestingArgs, signature []byte) (common.Address, error) {
	var addr common.Address
	err := e.exec("deployVesting", func() error {
		t, err := e.authorize(params, VestingMessage(params, args), signature, KindVesting)
		if err != nil {
			return err
		}
		addr, err = e.ledger.NextAddress(e.address)
		if err != nil {
			return err
		}
		schedule := vesting.Schedule{
			Beneficiary: args.Account,
			Start:       args.StartTimestamp,
			Duration:    args.Duration,
			Template:    t.Variant,
		}
		if err := e.vesting.Create(addr, schedule); err != nil {
			return err
		}
		if err := e.record("vesting", addr); err != nil {
			return err
		}
		e.emit(newVestingDeployedEvent(addr, args))
		return nil
	})
	return addr, err
}

// DeployStaking creates a staking instance administered by caller.
func (e *Engine) DeployStaking(caller common.Address, params Params, args StakingArgs, signature []byte) (common.Address, error) {
	var addr common.Address
	var instance *staking.Engine
	err := e.exec("deployStaking", func() error {
		if _, err := e.authorize(params, StakingMessage(params, args), signature, KindStaking); err != nil {
			return err
		}
		var err error
		addr, err = e.ledger.NextAddress(e.address)
		if err != nil {
			return err
		}
		if err := e.ledger.RegisterContract(addr, ledger.AllReceivers); err != nil {
			return err
		}
		if err := e.roles.Bootstrap(addr, caller); err != nil {
			return err
		}
		if err := e.grantFactories(addr); err != nil {
			return err
		}
		instance, err = e.newStaking(addr, args.MaxStake)
		if err != nil {
			return err
		}
		if err := e.record("staking", addr); err != nil {
			return err
		}
		e.emit(newStakingDeployedEvent(addr, args))
		return nil
	})
	if err != nil {
		return common.Address{}, err
	}
	e.mu.Lock()
	e.staking[addr] = instance
	e.mu.Unlock()
	return addr, nil
}

func (e *Engine) newStaking(addr common.Address, maxStake uint64) (*staking.Engine, error) {
	s, err := staking.NewEngine(addr, e.state, e.ledger, e.roles, maxStake)
	if err != nil {
		return nil, err
	}
	s.SetEmitter(e.emitter)
	s.SetNowFunc(e.nowFn)
	return s, nil
}

// DeployToken creates a token administered by caller. Registered factories
// receive their roles on the new token.
func (e *Engine) DeployToken(caller common.Address, params Params, args TokenArgs, signature []byte) (common.Address, error) {
	var addr common.Address
	err := e.exec("deployToken", func() error {
		t, err := e.authorize(params, TokenMessage(params, args), signature, KindFungible, KindNonFungible, KindSemiFungible)
		if err != nil {
			return err
		}
		switch t.Kind {
		case KindFungible:
			addr, err = e.ledger.DeployFungible(args.Name, args.Symbol, args.Flag, caller)
		case KindNonFungible:
			addr, err = e.ledger.DeployNonFungible(args.Name, args.Symbol, args.Flag, caller)
		default:
			addr, err = e.ledger.DeploySemiFungible(args.Name, caller)
		}
		if err != nil {
			return err
		}
		if err := e.grantFactories(addr); err != nil {
			return err
		}
		if err := e.record("tokens", addr); err != nil {
			return err
		}
		e.emit(newTokenDeployedEvent(addr, t.Kind, args))
		return nil
	})
	return addr, err
}

// Staking returns the staking instance deployed at addr.
func (e *Engine) Staking(addr common.Address) (*staking.Engine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.staking[addr]; ok {
		return s, nil
	}
	known, err := e.list("staking")
	if err != nil {
		return nil, err
	}
	for _, a := range known {
		if a == addr {
			s, err := e.newStaking(addr, 0)
			if err != nil {
				return nil, err
			}
			e.staking[addr] = s
			return s, nil
		}
	}
	return nil, ErrUnknownInstance
}

// AllVesting lists deployed vesting accounts.
func (e *Engine) AllVesting() ([]common.Address, error) { return e.list("vesting") }

// AllStaking lists deployed staking instances.
func (e *Engine) AllStaking() ([]common.Address, error) { return e.list("staking") }

// AllTokens lists deployed tokens.
func (e *Engine) AllTokens() ([]common.Address, error) { return e.list("tokens") }
