package asset

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	coreerrors "assetmech/core/errors"
)

// Ledger is the substrate surface custody operations dispatch to.
type Ledger interface {
	TransferNative(from, to common.Address, amount *uint256.Int) error
	Transfer(token, from, to common.Address, amount *uint256.Int, data []byte) error
	TransferFrom(token, spender, from, to common.Address, amount *uint256.Int, data []byte) error
	SafeTransferNFT(token, operator, from, to common.Address, id *uint256.Int) error
	SafeTransferSemi(token, operator, from, to common.Address, id, amount *uint256.Int) error

	IsMinter(token, account common.Address) (bool, error)
	IsRandom(token common.Address) (bool, error)
	Mint(token, minter, to common.Address, amount *uint256.Int) error
	MintCommon(token, minter, to common.Address, templateID *uint256.Int) (*uint256.Int, error)
	MintRandom(token, minter, to common.Address, templateID *uint256.Int) (uuid.UUID, error)
	MintSemi(token, minter, to common.Address, id, amount *uint256.Int) error
}

// Custodian moves assets in and out of the custody of one engine account.
type Custodian struct {
	ledger Ledger
	self   common.Address
}

// NewCustodian binds custody operations to the engine account self.
func NewCustodian(ledger Ledger, self common.Address) *Custodian {
	return &Custodian{ledger: ledger, self: self}
}

// Address returns the engine account holding custody.
func (c *Custodian) Address() common.Address { return c.self }

// Spend moves a out of the engine's own custody to to.
func (c *Custodian) Spend(a Asset, to common.Address) error {
	if err := a.Validate(); err != nil {
		return err
	}
	switch a.Kind {
	case Native:
		return c.ledger.TransferNative(c.self, to, &a.Quantity)
	case Fungible:
		return c.ledger.Transfer(a.Token, c.self, to, &a.Quantity, nil)
	case NonFungible:
		return c.ledger.SafeTransferNFT(a.Token, c.self, c.self, to, &a.Identifier)
	case SemiFungible:
		return c.ledger.SafeTransferSemi(a.Token, c.self, c.self, to, &a.Identifier, &a.Quantity)
	default:
		return fmt.Errorf("%w: %d", coreerrors.ErrUnsupportedKind, a.Kind)
	}
}

// SpendFrom moves a from from to to using the allowance or operator approval
// from granted to the engine. Native value is debited from the caller directly
// since it is attached to the call.
func (c *Custodian) SpendFrom(a Asset, from, to common.Address) error {
	if err := a.Validate(); err != nil {
		return err
	}
	switch a.Kind {
	case Native:
		return c.ledger.TransferNative(from, to, &a.Quantity)
	case Fungible:
		return c.ledger.TransferFrom(a.Token, c.self, from, to, &a.Quantity, nil)
	case NonFungible:
		return c.ledger.SafeTransferNFT(a.Token, c.self, from, to, &a.Identifier)
	case SemiFungible:
		return c.ledger.SafeTransferSemi(a.Token, c.self, from, to, &a.Identifier, &a.Quantity)
	default:
		return fmt.Errorf("%w: %d", coreerrors.ErrUnsupportedKind, a.Kind)
	}
}

// SpendAll spends each asset in order, stopping at the first failure.
func (c *Custodian) SpendAll(list []Asset, to common.Address) error {
	for i, a := range list {
		if err := c.Spend(a, to); err != nil {
			return fmt.Errorf("asset %d: %w", i, err)
		}
	}
	return nil
}

// SpendFromAll debits each asset from from in order.
func (c *Custodian) SpendFromAll(list []Asset, from, to common.Address) error {
	for i, a := range list {
		if err := c.SpendFrom(a, from, to); err != nil {
			return fmt.Errorf("asset %d: %w", i, err)
		}
	}
	return nil
}

// Delivery reports how Acquire produced an asset.
type Delivery struct {
	Minted  bool
	TokenID *uint256.Int
	// Request is set when delivery was queued behind a randomness request.
	Request uuid.UUID
}

// Pending reports whether the asset arrives later through a randomness
// fulfilment.
func (d Delivery) Pending() bool { return d.Request != uuid.Nil }

// Acquire delivers a to to, minting when the engine holds MINTER_ROLE on the
// asset contract and spending from inventory otherwise. For non-fungible
// assets minted this way the identifier is the template id, and random
// collections only queue the mint.
func (c *Custodian) Acquire(a Asset, to common.Address) (Delivery, error) {
	if err := a.Validate(); err != nil {
		return Delivery{}, err
	}
	if a.Kind == Native {
		return Delivery{}, c.Spend(a, to)
	}
	minter, err := c.ledger.IsMinter(a.Token, c.self)
	if err != nil {
		return Delivery{}, err
	}
	if !minter {
		return Delivery{}, c.Spend(a, to)
	}
	switch a.Kind {
	case Fungible:
		return Delivery{Minted: true}, c.ledger.Mint(a.Token, c.self, to, &a.Quantity)
	case SemiFungible:
		return Delivery{Minted: true, TokenID: new(uint256.Int).Set(&a.Identifier)}, c.ledger.MintSemi(a.Token, c.self, to, &a.Identifier, &a.Quantity)
	case NonFungible:
		random, err := c.ledger.IsRandom(a.Token)
		if err != nil {
			return Delivery{}, err
		}
		if random {
			id, err := c.ledger.MintRandom(a.Token, c.self, to, &a.Identifier)
			return Delivery{Minted: true, Request: id}, err
		}
		id, err := c.ledger.MintCommon(a.Token, c.self, to, &a.Identifier)
		return Delivery{Minted: true, TokenID: id}, err
	default:
		return Delivery{}, fmt.Errorf("%w: %d", coreerrors.ErrUnsupportedKind, a.Kind)
	}
}

// Receive escrows a from from into the engine. attached is the native value
// sent with the call; it must equal the quantity of a native asset and be zero
// otherwise.
func (c *Custodian) Receive(a Asset, from common.Address, attached *uint256.Int) error {
	if attached == nil {
		attached = new(uint256.Int)
	}
	if a.Kind == Native {
		if !attached.Eq(&a.Quantity) {
			return coreerrors.ErrWrongAmount
		}
	} else if !attached.IsZero() {
		return coreerrors.ErrWrongAmount
	}
	return c.SpendFrom(a, from, c.self)
}
