package access

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"assetmech/core/events"
	"assetmech/core/types"
)

// Role identifies a permission within a scope. Scopes are contract addresses.
type Role [32]byte

var (
	DefaultAdminRole = Role{}
	MinterRole       = roleID("MINTER_ROLE")
	MetadataRole     = roleID("METADATA_ROLE")
	PauserRole       = roleID("PAUSER_ROLE")
	OracleRole       = roleID("ORACLE_ROLE")
)

var roleNames = map[Role]string{
	DefaultAdminRole: "DEFAULT_ADMIN_ROLE",
	MinterRole:       "MINTER_ROLE",
	MetadataRole:     "METADATA_ROLE",
	PauserRole:       "PAUSER_ROLE",
	OracleRole:       "ORACLE_ROLE",
}

func roleID(name string) Role {
	var r Role
	copy(r[:], ethcrypto.Keccak256([]byte(name)))
	return r
}

// ParseRole resolves a role by its canonical name.
func ParseRole(name string) (Role, error) {
	for role, n := range roleNames {
		if n == name {
			return role, nil
		}
	}
	return Role{}, fmt.Errorf("access: unknown role %q", name)
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return common.Hash(r).Hex()
}

var (
	ErrMissingRole = errors.New("access: missing role")
	ErrPaused      = errors.New("access: paused")
	ErrNotPaused   = errors.New("access: not paused")
	errNilState    = errors.New("access: state not configured")
)

const (
	EventTypeRoleGranted = "access.roleGranted"
	EventTypeRoleRevoked = "access.roleRevoked"
	EventTypePaused      = "access.paused"
	EventTypeUnpaused    = "access.unpaused"
)

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Registry stores role memberships and pause flags for every scope.
type Registry struct {
	state   registryState
	emitter events.Emitter
	nowFn   func() int64
}

// NewRegistry creates a registry bound to the provided state.
func NewRegistry(state registryState) *Registry {
	return &Registry{state: state, emitter: events.NoopEmitter{}, nowFn: func() int64 { return time.Now().Unix() }}
}

// SetEmitter configures the event emitter used by the registry. Passing nil
// resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func roleKey(scope common.Address, role Role, account common.Address) []byte {
	key := make([]byte, 0, len("access/role/")+20+32+20)
	key = append(key, "access/role/"...)
	key = append(key, scope.Bytes()...)
	key = append(key, role[:]...)
	return append(key, account.Bytes()...)
}

func pauseKey(scope common.Address) []byte {
	return append([]byte("access/paused/"), scope.Bytes()...)
}

// Has reports whether account holds role within scope.
func (r *Registry) Has(scope common.Address, role Role, account common.Address) (bool, error) {
	if r == nil || r.state == nil {
		return false, errNilState
	}
	var held bool
	if _, err := r.state.KVGet(roleKey(scope, role, account), &held); err != nil {
		return false, err
	}
	return held, nil
}

// Require returns ErrMissingRole when account does not hold role within scope.
func (r *Registry) Require(scope common.Address, role Role, account common.Address) error {
	held, err := r.Has(scope, role, account)
	if err != nil {
		return err
	}
	if !held {
		return fmt.Errorf("%w: %s lacks %s on %s", ErrMissingRole, account.Hex(), role, scope.Hex())
	}
	return nil
}

// Bootstrap grants the admin, minter, metadata and pauser roles of a freshly
// created scope to admin without an authorisation check. Only deployment paths
// call it.
func (r *Registry) Bootstrap(scope, admin common.Address) error {
	for _, role := range []Role{DefaultAdminRole, MinterRole, MetadataRole, PauserRole} {
		if err := r.set(scope, role, admin, true); err != nil {
			return err
		}
	}
	return nil
}

// Grant gives role to account within scope. The caller must be an admin of the
// scope.
func (r *Registry) Grant(scope common.Address, role Role, account, caller common.Address) error {
	if err := r.Require(scope, DefaultAdminRole, caller); err != nil {
		return err
	}
	return r.set(scope, role, account, true)
}

// GrantInternal gives role to account without an admin check. Used when one
// engine delegates capabilities it was configured with.
func (r *Registry) GrantInternal(scope common.Address, role Role, account common.Address) error {
	return r.set(scope, role, account, true)
}

// Revoke removes role from account within scope. The caller must be an admin
// of the scope.
func (r *Registry) Revoke(scope common.Address, role Role, account, caller common.Address) error {
	if err := r.Require(scope, DefaultAdminRole, caller); err != nil {
		return err
	}
	return r.set(scope, role, account, false)
}

func (r *Registry) set(scope common.Address, role Role, account common.Address, held bool) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	key := roleKey(scope, role, account)
	eventType := EventTypeRoleGranted
	if held {
		if err := r.state.KVPut(key, true); err != nil {
			return err
		}
	} else {
		eventType = EventTypeRoleRevoked
		if err := r.state.KVDelete(key); err != nil {
			return err
		}
	}
	r.emitter.Emit(events.Wrap(types.NewEvent(eventType).
		With("scope", scope.Hex()).
		With("role", role.String()).
		With("account", account.Hex())))
	return nil
}
