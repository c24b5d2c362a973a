package asset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// Kind tags the transfer semantics of an asset.
type Kind uint8

const (
	Native Kind = iota
	Fungible
	NonFungible
	SemiFungible
)

func (k Kind) String() string {
	switch k {
	case Native:
		return "native"
	case Fungible:
		return "fungible"
	case NonFungible:
		return "non-fungible"
	case SemiFungible:
		return "semi-fungible"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k names a supported kind.
func (k Kind) Valid() bool { return k <= SemiFungible }

// Divisible reports whether a quantity of this kind can be split.
func (k Kind) Divisible() bool { return k != NonFungible }

var ErrInvalidAsset = errors.New("asset: invalid asset")

// Asset is one leg of a transfer instruction.
type Asset struct {
	Kind       Kind
	Token      common.Address
	Identifier uint256.Int
	Quantity   uint256.Int
}

// NewNative describes amount units of the native currency.
func NewNative(amount uint64) Asset {
	a := Asset{Kind: Native}
	a.Quantity.SetUint64(amount)
	return a
}

// NewFungible describes amount units of a fungible token.
func NewFungible(token common.Address, amount uint64) Asset {
	a := Asset{Kind: Fungible, Token: token}
	a.Quantity.SetUint64(amount)
	return a
}

// NewNonFungible describes a single non-fungible token. For deposit and reward
// templates the identifier carries the template id instead.
func NewNonFungible(token common.Address, id uint64) Asset {
	a := Asset{Kind: NonFungible, Token: token}
	a.Identifier.SetUint64(id)
	a.Quantity.SetUint64(1)
	return a
}

// NewSemiFungible describes amount units of the semi-fungible id.
func NewSemiFungible(token common.Address, id, amount uint64) Asset {
	a := Asset{Kind: SemiFungible, Token: token}
	a.Identifier.SetUint64(id)
	a.Quantity.SetUint64(amount)
	return a
}

// Validate enforces the per-kind field invariants. Fungible identifiers are
// ignored rather than rejected; they are kept verbatim for event payloads.
func (a Asset) Validate() error {
	switch a.Kind {
	case Native:
		if !a.Identifier.IsZero() {
			return fmt.Errorf("%w: native identifier must be zero", ErrInvalidAsset)
		}
	case Fungible:
		if a.Token == (common.Address{}) {
			return fmt.Errorf("%w: fungible token address required", ErrInvalidAsset)
		}
		if !a.Identifier.IsZero() {
			return fmt.Errorf("%w: fungible identifier must be zero", ErrInvalidAsset)
		}
	case SemiFungible:
		if a.Token == (common.Address{}) {
			return fmt.Errorf("%w: %s token address required", ErrInvalidAsset, a.Kind)
		}
	case NonFungible:
		if a.Token == (common.Address{}) {
			return fmt.Errorf("%w: non-fungible token address required", ErrInvalidAsset)
		}
		if a.Quantity.GtUint64(1) {
			return fmt.Errorf("%w: non-fungible quantity must be 0 or 1", ErrInvalidAsset)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidAsset, a.Kind)
	}
	return nil
}

// Units returns the number of units the asset moves: 1 for non-fungible
// tokens, Quantity otherwise.
func (a Asset) Units() *uint256.Int {
	if a.Kind == NonFungible {
		return uint256.NewInt(1)
	}
	return new(uint256.Int).Set(&a.Quantity)
}

// WithQuantity returns a copy with Quantity replaced.
func (a Asset) WithQuantity(q *uint256.Int) Asset {
	a.Quantity.Set(q)
	return a
}

// WithIdentifier returns a copy with Identifier replaced.
func (a Asset) WithIdentifier(id *uint256.Int) Asset {
	a.Identifier.Set(id)
	return a
}

// Ref identifies the balance an asset draws on: token plus identifier for
// semi-fungible assets, token alone otherwise.
func (a Asset) Ref() string {
	switch a.Kind {
	case Native:
		return "native"
	case SemiFungible, NonFungible:
		return a.Token.Hex() + "/" + a.Identifier.Dec()
	default:
		return a.Token.Hex()
	}
}

func (a Asset) String() string {
	return fmt.Sprintf("%s{token=%s id=%s qty=%s}", a.Kind, a.Token.Hex(), a.Identifier.Dec(), a.Quantity.Dec())
}

// Wire is the external representation shared by every engine.
type Wire struct {
	TokenType uint8  `json:"tokenType" yaml:"tokenType"`
	Token     string `json:"token" yaml:"token"`
	TokenID   string `json:"tokenId" yaml:"tokenId"`
	Amount    string `json:"amount" yaml:"amount"`
}

// ToWire renders the asset with decimal quantities.
func (a Asset) ToWire() Wire {
	return Wire{
		TokenType: uint8(a.Kind),
		Token:     a.Token.Hex(),
		TokenID:   a.Identifier.Dec(),
		Amount:    a.Quantity.Dec(),
	}
}

// Asset parses the wire form. Quantities accept decimal or 0x-prefixed hex.
func (w Wire) Asset() (Asset, error) {
	var out Asset
	out.Kind = Kind(w.TokenType)
	if !out.Kind.Valid() {
		return Asset{}, fmt.Errorf("%w: unknown kind %d", ErrInvalidAsset, w.TokenType)
	}
	if w.Token != "" {
		if !common.IsHexAddress(w.Token) {
			return Asset{}, fmt.Errorf("%w: bad token address %q", ErrInvalidAsset, w.Token)
		}
		out.Token = common.HexToAddress(w.Token)
	}
	if err := parseQuantity(&out.Identifier, w.TokenID); err != nil {
		return Asset{}, fmt.Errorf("%w: tokenId: %v", ErrInvalidAsset, err)
	}
	if err := parseQuantity(&out.Quantity, w.Amount); err != nil {
		return Asset{}, fmt.Errorf("%w: amount: %v", ErrInvalidAsset, err)
	}
	return out, nil
}

func parseQuantity(dst *uint256.Int, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		dst.Clear()
		return nil
	}
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		return dst.SetFromHex(raw)
	}
	return dst.SetFromDecimal(raw)
}

// ParseQuantity parses a decimal or 0x-prefixed u256.
func ParseQuantity(raw string) (*uint256.Int, error) {
	out := new(uint256.Int)
	if err := parseQuantity(out, raw); err != nil {
		return nil, err
	}
	return out, nil
}

func (a Asset) MarshalJSON() ([]byte, error) { return json.Marshal(a.ToWire()) }

func (a *Asset) UnmarshalJSON(data []byte) error {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := w.Asset()
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

type storedAsset struct {
	Kind       uint8
	Token      common.Address
	Identifier *big.Int
	Quantity   *big.Int
}

// EncodeRLP implements rlp.Encoder.
func (a Asset) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, storedAsset{
		Kind:       uint8(a.Kind),
		Token:      a.Token,
		Identifier: a.Identifier.ToBig(),
		Quantity:   a.Quantity.ToBig(),
	})
}

// DecodeRLP implements rlp.Decoder.
func (a *Asset) DecodeRLP(s *rlp.Stream) error {
	var stored storedAsset
	if err := s.Decode(&stored); err != nil {
		return err
	}
	a.Kind = Kind(stored.Kind)
	a.Token = stored.Token
	if overflow := a.Identifier.SetFromBig(stored.Identifier); overflow {
		return fmt.Errorf("%w: identifier overflows u256", ErrInvalidAsset)
	}
	if overflow := a.Quantity.SetFromBig(stored.Quantity); overflow {
		return fmt.Errorf("%w: quantity overflows u256", ErrInvalidAsset)
	}
	return nil
}

// FormatList renders assets as a JSON array for event attributes.
func FormatList(list []Asset) string {
	wire := make([]Wire, len(list))
	for i, a := range list {
		wire[i] = a.ToWire()
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// Format renders a single asset as JSON for event attributes.
func Format(a Asset) string {
	data, err := json.Marshal(a.ToWire())
	if err != nil {
		return "{}"
	}
	return string(data)
}
