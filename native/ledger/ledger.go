// Package ledger is the in-process asset substrate the settlement engines run
// against: native balances, fungible, non-fungible and semi-fungible token
// contracts, and contract accounts that advertise which transfers they accept.
// All state lives in the journaled KV store, so ledger effects roll back with
// the operation that produced them.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	coreerrors "assetmech/core/errors"
	"assetmech/core/events"
	"assetmech/native/access"
	"assetmech/native/asset"
	"assetmech/native/random"
)

var (
	ErrUnknownToken = errors.New("ledger: unknown token")
	ErrZeroAddress  = errors.New("ledger: zero address")
	ErrTemplateZero = errors.New("ledger: TemplateZero")
	ErrNotRandom    = errors.New("ledger: collection does not support random mints")
	ErrNoRandomness = errors.New("ledger: randomness coordinator not configured")
	ErrOverflow     = errors.New("ledger: amount overflows u256")
	errNilState     = errors.New("ledger: state not configured")
)

// Capability flags advertise which transfers a contract account accepts.
type Capability uint8

const (
	Payable Capability = 1 << iota
	FungibleReceiver
	NFTReceiver
	SemiReceiver

	AllReceivers = Payable | FungibleReceiver | NFTReceiver | SemiReceiver
)

// Contract describes a registered contract account.
type Contract struct {
	Address      common.Address
	IsToken      bool
	Kind         uint8
	Name         string
	Symbol       string
	Callback     bool
	Random       bool
	Capabilities uint8
}

// Has reports whether the contract advertises capability c.
func (c *Contract) Has(capability Capability) bool {
	return c != nil && Capability(c.Capabilities)&capability == capability
}

// TokenKind returns the asset kind of a token contract.
func (c *Contract) TokenKind() asset.Kind { return asset.Kind(c.Kind) }

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	NextSequence(key []byte) (uint64, error)
	Atomic(fn func() error) error
}

type roleRegistry interface {
	Has(scope common.Address, role access.Role, account common.Address) (bool, error)
	Require(scope common.Address, role access.Role, account common.Address) error
	Bootstrap(scope, admin common.Address) error
}

type randomSource interface {
	Request(consumer string, payload []byte) (uuid.UUID, error)
	Register(consumer string, handler random.Handler)
}

// Ledger executes transfers, mints and metadata mutations.
type Ledger struct {
	state   engineState
	roles   roleRegistry
	random  randomSource
	emitter events.Emitter
	nowFn   func() int64
}

// New creates a ledger bound to state and the role registry.
func New(state engineState, roles roleRegistry) *Ledger {
	return &Ledger{
		state:   state,
		roles:   roles,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter used by the ledger. Passing nil
// resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetNowFunc overrides the clock used for rental expiry.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

// SetRandom wires the randomness coordinator used by random collections.
func (l *Ledger) SetRandom(source randomSource) {
	l.random = source
	if source != nil {
		source.Register(randomMintConsumer, l.completeRandomMint)
	}
}

func (l *Ledger) atomic(fn func() error) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	return l.state.Atomic(fn)
}

var (
	contractPrefix   = "ledger/contract/"
	contractIndexKey = []byte("ledger/contracts")
	deploySeqPrefix  = "ledger/deploySeq/"
)

func key(prefix string, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	out = append(out, prefix...)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func idBytes(id *uint256.Int) []byte {
	b := id.Bytes32()
	return b[:]
}

// NextAddress derives a fresh contract address for deployer.
func (l *Ledger) NextAddress(deployer common.Address) (common.Address, error) {
	seq, err := l.state.NextSequence(key(deploySeqPrefix, deployer.Bytes()))
	if err != nil {
		return common.Address{}, err
	}
	return ethcrypto.CreateAddress(deployer, seq), nil
}

// Contract loads the contract registered at addr.
func (l *Ledger) Contract(addr common.Address) (*Contract, bool, error) {
	if l == nil || l.state == nil {
		return nil, false, errNilState
	}
	c := new(Contract)
	ok, err := l.state.KVGet(key(contractPrefix, addr.Bytes()), c)
	if err != nil || !ok {
		return nil, ok, err
	}
	return c, true, nil
}

// Contracts lists every registered contract address.
func (l *Ledger) Contracts() ([]common.Address, error) {
	var raw [][]byte
	if err := l.state.KVGetList(contractIndexKey, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, len(raw))
	for i, b := range raw {
		out[i] = common.BytesToAddress(b)
	}
	return out, nil
}

// IsContract reports whether addr is a registered contract account.
func (l *Ledger) IsContract(addr common.Address) (bool, error) {
	_, ok, err := l.Contract(addr)
	return ok, err
}

func (l *Ledger) putContract(c *Contract) error {
	if err := l.state.KVPut(key(contractPrefix, c.Address.Bytes()), c); err != nil {
		return err
	}
	return l.state.KVAppend(contractIndexKey, c.Address.Bytes())
}

// RegisterContract marks addr as a contract account with the given
// capabilities. Engines register their own accounts this way.
func (l *Ledger) RegisterContract(addr common.Address, caps Capability) error {
	return l.atomic(func() error {
		if addr == (common.Address{}) {
			return ErrZeroAddress
		}
		c := &Contract{Address: addr, Capabilities: uint8(caps)}
		if err := l.putContract(c); err != nil {
			return err
		}
		l.emit(newContractEvent(c))
		return nil
	})
}

func (l *Ledger) deployToken(kind asset.Kind, name, symbol string, callback, random bool, admin common.Address) (common.Address, error) {
	var addr common.Address
	err := l.atomic(func() error {
		if admin == (common.Address{}) {
			return ErrZeroAddress
		}
		var err error
		addr, err = l.NextAddress(admin)
		if err != nil {
			return err
		}
		c := &Contract{
			Address:  addr,
			IsToken:  true,
			Kind:     uint8(kind),
			Name:     name,
			Symbol:   symbol,
			Callback: callback,
			Random:   random,
		}
		if err := l.putContract(c); err != nil {
			return err
		}
		if err := l.roles.Bootstrap(addr, admin); err != nil {
			return err
		}
		l.emit(newContractEvent(c))
		return nil
	})
	return addr, err
}

// DeployFungible creates a fungible token. Callback tokens notify contract
// recipients and reject recipients that are not fungible receivers.
func (l *Ledger) DeployFungible(name, symbol string, callback bool, admin common.Address) (common.Address, error) {
	return l.deployToken(asset.Fungible, name, symbol, callback, false, admin)
}

// DeployNonFungible creates a non-fungible collection. Random collections mint
// through the randomness coordinator.
func (l *Ledger) DeployNonFungible(name, symbol string, random bool, admin common.Address) (common.Address, error) {
	return l.deployToken(asset.NonFungible, name, symbol, false, random, admin)
}

// DeploySemiFungible creates a semi-fungible collection.
func (l *Ledger) DeploySemiFungible(name string, admin common.Address) (common.Address, error) {
	return l.deployToken(asset.SemiFungible, name, "", false, false, admin)
}

func (l *Ledger) token(addr common.Address, kind asset.Kind) (*Contract, error) {
	c, ok, err := l.Contract(addr)
	if err != nil {
		return nil, err
	}
	if !ok || !c.IsToken {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	if c.TokenKind() != kind {
		return nil, fmt.Errorf("%w: %s is %s, not %s", ErrUnknownToken, addr.Hex(), c.TokenKind(), kind)
	}
	return c, nil
}

// IsMinter reports whether account may mint on token.
func (l *Ledger) IsMinter(token, account common.Address) (bool, error) {
	return l.roles.Has(token, access.MinterRole, account)
}

// IsRandom reports whether token is a random non-fungible collection.
func (l *Ledger) IsRandom(token common.Address) (bool, error) {
	c, ok, err := l.Contract(token)
	if err != nil || !ok {
		return false, err
	}
	return c.Random, nil
}

// receiverCheck returns ErrReceiverRejected when to is a contract lacking
// capability. Externally owned accounts accept everything.
func (l *Ledger) receiverCheck(to common.Address, capability Capability) error {
	c, ok, err := l.Contract(to)
	if err != nil {
		return err
	}
	if ok && !c.Has(capability) {
		return fmt.Errorf("%w: %s", coreerrors.ErrReceiverRejected, to.Hex())
	}
	return nil
}

func (l *Ledger) getAmount(k []byte) (*uint256.Int, error) {
	stored := new(big.Int)
	if _, err := l.state.KVGet(k, stored); err != nil {
		return nil, err
	}
	out, overflow := uint256.FromBig(stored)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

func (l *Ledger) putAmount(k []byte, v *uint256.Int) error {
	if v.IsZero() {
		return l.state.KVDelete(k)
	}
	return l.state.KVPut(k, v.ToBig())
}

func (l *Ledger) add(k []byte, delta *uint256.Int) error {
	current, err := l.getAmount(k)
	if err != nil {
		return err
	}
	if _, overflow := current.AddOverflow(current, delta); overflow {
		return ErrOverflow
	}
	return l.putAmount(k, current)
}

// sub debits delta from k, returning insufficient when the balance is short.
func (l *Ledger) sub(k []byte, delta *uint256.Int, insufficient error) error {
	current, err := l.getAmount(k)
	if err != nil {
		return err
	}
	if current.Lt(delta) {
		return insufficient
	}
	current.Sub(current, delta)
	return l.putAmount(k, current)
}

func (l *Ledger) emit(evt events.Event) {
	if l == nil || l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(evt)
}
