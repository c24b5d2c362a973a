package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	coreerrors "assetmech/core/errors"
	"assetmech/native/access"
	"assetmech/native/asset"
	"assetmech/native/random"
)

// Attribute names a per-token metadata record.
type Attribute string

const (
	TemplateID  Attribute = "TEMPLATE_ID"
	Grade       Attribute = "GRADE"
	Rarity      Attribute = "RARITY"
	EarnUpgrade Attribute = "EARN_UPGRADE"
	TimeUpgrade Attribute = "TIME_UPGRADE"
	EarnBoost   Attribute = "EARN_BOOST"
	TimeBoost   Attribute = "TIME_BOOST"
)

// washable lists the attributes reset by Wash.
var washable = []Attribute{Grade, EarnUpgrade, TimeUpgrade, EarnBoost, TimeBoost}

const (
	nftOwnerPrefix    = "ledger/nft/owner/"
	nftApprovalPrefix = "ledger/nft/approved/"
	nftCountPrefix    = "ledger/nft/count/"
	nftSeqPrefix      = "ledger/nft/seq/"
	nftRecordPrefix   = "ledger/nft/record/"
	nftUserPrefix     = "ledger/nft/user/"
	operatorPrefix    = "ledger/operator/"

	randomMintConsumer = "ledger.mintRandom"
)

func ownerKey(token common.Address, id *uint256.Int) []byte {
	return key(nftOwnerPrefix, token.Bytes(), idBytes(id))
}

func recordKey(token common.Address, id *uint256.Int, attr Attribute) []byte {
	return key(nftRecordPrefix, token.Bytes(), idBytes(id), ethcrypto.Keccak256([]byte(attr)))
}

func operatorKey(token, owner, operator common.Address) []byte {
	return key(operatorPrefix, token.Bytes(), owner.Bytes(), operator.Bytes())
}

// OwnerOf returns the owner of token id, or InvalidTokenId when it was never
// minted.
func (l *Ledger) OwnerOf(token common.Address, id *uint256.Int) (common.Address, error) {
	if _, err := l.token(token, asset.NonFungible); err != nil {
		return common.Address{}, err
	}
	return l.ownerOf(token, id)
}

func (l *Ledger) ownerOf(token common.Address, id *uint256.Int) (common.Address, error) {
	var owner common.Address
	ok, err := l.state.KVGet(ownerKey(token, id), &owner)
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", coreerrors.ErrInvalidTokenID, id.Dec())
	}
	return owner, nil
}

// NFTBalance returns how many tokens of the collection owner holds.
func (l *Ledger) NFTBalance(token, owner common.Address) (uint64, error) {
	if _, err := l.token(token, asset.NonFungible); err != nil {
		return 0, err
	}
	var count uint64
	_, err := l.state.KVGet(key(nftCountPrefix, token.Bytes(), owner.Bytes()), &count)
	return count, err
}

func (l *Ledger) adjustCount(token, owner common.Address, delta int) error {
	k := key(nftCountPrefix, token.Bytes(), owner.Bytes())
	var count uint64
	if _, err := l.state.KVGet(k, &count); err != nil {
		return err
	}
	if delta < 0 {
		count--
	} else {
		count++
	}
	return l.state.KVPut(k, count)
}

// GetApproved returns the single-token approval for id.
func (l *Ledger) GetApproved(token common.Address, id *uint256.Int) (common.Address, error) {
	if _, err := l.OwnerOf(token, id); err != nil {
		return common.Address{}, err
	}
	var approved common.Address
	_, err := l.state.KVGet(key(nftApprovalPrefix, token.Bytes(), idBytes(id)), &approved)
	return approved, err
}

// ApproveToken lets spender transfer the single token id.
func (l *Ledger) ApproveToken(token, owner, spender common.Address, id *uint256.Int) error {
	return l.atomic(func() error {
		current, err := l.OwnerOf(token, id)
		if err != nil {
			return err
		}
		if current != owner {
			approved, err := l.IsApprovedForAll(token, current, owner)
			if err != nil {
				return err
			}
			if !approved {
				return coreerrors.ErrInsufficientAllowance
			}
		}
		if err := l.state.KVPut(key(nftApprovalPrefix, token.Bytes(), idBytes(id)), spender); err != nil {
			return err
		}
		l.emit(newApprovalEvent(token, current, spender, id.Dec()))
		return nil
	})
}

// SetApprovalForAll grants or revokes operator control over every token
// owner holds in a non-fungible or semi-fungible collection.
func (l *Ledger) SetApprovalForAll(token, owner, operator common.Address, approved bool) error {
	return l.atomic(func() error {
		c, ok, err := l.Contract(token)
		if err != nil {
			return err
		}
		if !ok || !c.IsToken || (c.TokenKind() != asset.NonFungible && c.TokenKind() != asset.SemiFungible) {
			return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
		}
		k := operatorKey(token, owner, operator)
		if approved {
			err = l.state.KVPut(k, true)
		} else {
			err = l.state.KVDelete(k)
		}
		if err != nil {
			return err
		}
		l.emit(newApprovalForAllEvent(token, owner, operator, approved))
		return nil
	})
}

// IsApprovedForAll reports whether operator controls every token of owner.
func (l *Ledger) IsApprovedForAll(token, owner, operator common.Address) (bool, error) {
	var approved bool
	_, err := l.state.KVGet(operatorKey(token, owner, operator), &approved)
	return approved, err
}

// SafeTransferNFT moves token id from from to to on behalf of operator.
// Failure order: unknown token id, missing approval, wrong owner, receiver.
func (l *Ledger) SafeTransferNFT(token, operator, from, to common.Address, id *uint256.Int) error {
	return l.atomic(func() error {
		owner, err := l.OwnerOf(token, id)
		if err != nil {
			return err
		}
		if operator != owner {
			approved, err := l.GetApproved(token, id)
			if err != nil {
				return err
			}
			all, err := l.IsApprovedForAll(token, owner, operator)
			if err != nil {
				return err
			}
			if approved != operator && !all {
				return coreerrors.ErrInsufficientAllowance
			}
		}
		if owner != from {
			return fmt.Errorf("%w: %s does not own %s", coreerrors.ErrInsufficientBalance, from.Hex(), id.Dec())
		}
		if to == (common.Address{}) {
			return ErrZeroAddress
		}
		if err := l.checkBlacklist(token, from, to); err != nil {
			return err
		}
		if err := l.receiverCheck(to, NFTReceiver); err != nil {
			return err
		}
		if err := l.state.KVDelete(key(nftApprovalPrefix, token.Bytes(), idBytes(id))); err != nil {
			return err
		}
		if err := l.clearUser(token, id); err != nil {
			return err
		}
		if err := l.state.KVPut(ownerKey(token, id), to); err != nil {
			return err
		}
		if err := l.adjustCount(token, from, -1); err != nil {
			return err
		}
		if err := l.adjustCount(token, to, 1); err != nil {
			return err
		}
		l.emit(newTransferEvent(asset.NonFungible, token, from, to, id, uint256.NewInt(1)))
		return nil
	})
}

// MintCommon mints the next token id of the collection to to, recording its
// template. Requires MINTER_ROLE on token.
func (l *Ledger) MintCommon(token, minter, to common.Address, templateID *uint256.Int) (*uint256.Int, error) {
	var id *uint256.Int
	err := l.atomic(func() error {
		if _, err := l.token(token, asset.NonFungible); err != nil {
			return err
		}
		if err := l.roles.Require(token, access.MinterRole, minter); err != nil {
			return err
		}
		if templateID.IsZero() {
			return ErrTemplateZero
		}
		var err error
		id, err = l.mint(token, to, templateID, nil)
		return err
	})
	return id, err
}

func (l *Ledger) mint(token, to common.Address, templateID *uint256.Int, rarity *uint256.Int) (*uint256.Int, error) {
	if to == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if err := l.checkBlacklist(token, to); err != nil {
		return nil, err
	}
	if err := l.receiverCheck(to, NFTReceiver); err != nil {
		return nil, err
	}
	seq, err := l.state.NextSequence(key(nftSeqPrefix, token.Bytes()))
	if err != nil {
		return nil, err
	}
	id := uint256.NewInt(seq)
	if err := l.state.KVPut(ownerKey(token, id), to); err != nil {
		return nil, err
	}
	if err := l.adjustCount(token, to, 1); err != nil {
		return nil, err
	}
	if err := l.putAmount(recordKey(token, id, TemplateID), templateID); err != nil {
		return nil, err
	}
	if rarity != nil {
		if err := l.putAmount(recordKey(token, id, Rarity), rarity); err != nil {
			return nil, err
		}
	}
	l.emit(newTransferEvent(asset.NonFungible, token, common.Address{}, to, id, uint256.NewInt(1)))
	return id, nil
}

type pendingMint struct {
	Token      common.Address
	To         common.Address
	TemplateID []byte
}

// MintRandom queues a randomness request for a token of the random collection.
// Nothing is minted, and no transfer is emitted, until the request is
// fulfilled.
func (l *Ledger) MintRandom(token, minter, to common.Address, templateID *uint256.Int) (uuid.UUID, error) {
	var requestID uuid.UUID
	err := l.atomic(func() error {
		c, err := l.token(token, asset.NonFungible)
		if err != nil {
			return err
		}
		if !c.Random {
			return fmt.Errorf("%w: %s", ErrNotRandom, token.Hex())
		}
		if err := l.roles.Require(token, access.MinterRole, minter); err != nil {
			return err
		}
		if templateID.IsZero() {
			return ErrTemplateZero
		}
		if l.random == nil {
			return ErrNoRandomness
		}
		if to == (common.Address{}) {
			return ErrZeroAddress
		}
		if err := l.checkBlacklist(token, to); err != nil {
			return err
		}
		if err := l.receiverCheck(to, NFTReceiver); err != nil {
			return err
		}
		payload, err := rlp.EncodeToBytes(pendingMint{Token: token, To: to, TemplateID: idBytes(templateID)})
		if err != nil {
			return err
		}
		requestID, err = l.random.Request(randomMintConsumer, payload)
		if err != nil {
			return err
		}
		l.emit(newMintRequestedEvent(token, to, templateID, requestID))
		return nil
	})
	return requestID, err
}

func (l *Ledger) completeRandomMint(req *random.Request, word *uint256.Int) error {
	var pending pendingMint
	if err := rlp.DecodeBytes(req.Payload, &pending); err != nil {
		return err
	}
	templateID := new(uint256.Int).SetBytes(pending.TemplateID)
	rarity := uint256.NewInt(uint64(random.Dispersion(word)))
	_, err := l.mint(pending.Token, pending.To, templateID, rarity)
	return err
}

// Record returns the metadata attribute of token id, zero when unset.
func (l *Ledger) Record(token common.Address, id *uint256.Int, attr Attribute) (*uint256.Int, error) {
	if _, err := l.OwnerOf(token, id); err != nil {
		return nil, err
	}
	return l.getAmount(recordKey(token, id, attr))
}

// Upgrade increments attr of token id and returns the new level. Requires
// METADATA_ROLE on token.
func (l *Ledger) Upgrade(token, operator common.Address, id *uint256.Int, attr Attribute) (*uint256.Int, error) {
	var level *uint256.Int
	err := l.atomic(func() error {
		if err := l.roles.Require(token, access.MetadataRole, operator); err != nil {
			return err
		}
		current, err := l.Record(token, id, attr)
		if err != nil {
			return err
		}
		level = current.AddUint64(current, 1)
		if err := l.putAmount(recordKey(token, id, attr), level); err != nil {
			return err
		}
		l.emit(newLevelEvent(attr, token, operator, id, level))
		l.emit(newMetadataUpdateEvent(token, id))
		return nil
	})
	return level, err
}

// Wash resets the grade attributes of token id. Requires METADATA_ROLE.
func (l *Ledger) Wash(token, operator common.Address, id *uint256.Int) error {
	return l.atomic(func() error {
		if err := l.roles.Require(token, access.MetadataRole, operator); err != nil {
			return err
		}
		if _, err := l.OwnerOf(token, id); err != nil {
			return err
		}
		for _, attr := range washable {
			if err := l.state.KVDelete(recordKey(token, id, attr)); err != nil {
				return err
			}
		}
		l.emit(newWashedEvent(token, operator, id))
		l.emit(newMetadataUpdateEvent(token, id))
		return nil
	})
}

type tokenUser struct {
	User    common.Address
	Expires uint64
}

func userKey(token common.Address, id *uint256.Int) []byte {
	return key(nftUserPrefix, token.Bytes(), idBytes(id))
}

// SetUser rents token id to user until expires (unix seconds). The caller
// must own the token or be approved for it. A zero user revokes the rental.
func (l *Ledger) SetUser(token, caller common.Address, id *uint256.Int, user common.Address, expires uint64) error {
	return l.atomic(func() error {
		owner, err := l.OwnerOf(token, id)
		if err != nil {
			return err
		}
		if caller != owner {
			approved, err := l.GetApproved(token, id)
			if err != nil {
				return err
			}
			all, err := l.IsApprovedForAll(token, owner, caller)
			if err != nil {
				return err
			}
			if approved != caller && !all {
				return coreerrors.ErrInsufficientAllowance
			}
		}
		if err := l.checkBlacklist(token, user); err != nil {
			return err
		}
		if user == (common.Address{}) {
			if err := l.state.KVDelete(userKey(token, id)); err != nil {
				return err
			}
			expires = 0
		} else if err := l.state.KVPut(userKey(token, id), &tokenUser{User: user, Expires: expires}); err != nil {
			return err
		}
		l.emit(newUpdateUserEvent(token, id, user, expires))
		return nil
	})
}

// UserOf returns the current renter of token id, or the zero address when
// none is set or the rental has expired.
func (l *Ledger) UserOf(token common.Address, id *uint256.Int) (common.Address, error) {
	rental, err := l.rental(token, id)
	if err != nil || rental == nil {
		return common.Address{}, err
	}
	if int64(rental.Expires) < l.nowFn() {
		return common.Address{}, nil
	}
	return rental.User, nil
}

// UserExpires returns the recorded rental expiry of token id.
func (l *Ledger) UserExpires(token common.Address, id *uint256.Int) (uint64, error) {
	rental, err := l.rental(token, id)
	if err != nil || rental == nil {
		return 0, err
	}
	return rental.Expires, nil
}

func (l *Ledger) rental(token common.Address, id *uint256.Int) (*tokenUser, error) {
	if _, err := l.OwnerOf(token, id); err != nil {
		return nil, err
	}
	rental := new(tokenUser)
	ok, err := l.state.KVGet(userKey(token, id), rental)
	if err != nil || !ok {
		return nil, err
	}
	return rental, nil
}

// clearUser drops the rental of a token changing hands.
func (l *Ledger) clearUser(token common.Address, id *uint256.Int) error {
	ok, err := l.state.KVGet(userKey(token, id), nil)
	if err != nil || !ok {
		return err
	}
	if err := l.state.KVDelete(userKey(token, id)); err != nil {
		return err
	}
	l.emit(newUpdateUserEvent(token, id, common.Address{}, 0))
	return nil
}
