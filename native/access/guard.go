package access

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"assetmech/core/events"
	"assetmech/core/types"
)

// PauseView exposes the pause flag of a scope.
type PauseView interface {
	Paused(scope common.Address) (bool, error)
}

// Guard rejects the call with ErrPaused when scope is paused.
func Guard(p PauseView, scope common.Address) error {
	if p == nil || scope == (common.Address{}) {
		return nil
	}
	paused, err := p.Paused(scope)
	if err != nil {
		return err
	}
	if paused {
		return ErrPaused
	}
	return nil
}

// Paused reports whether scope is paused.
func (r *Registry) Paused(scope common.Address) (bool, error) {
	if r == nil || r.state == nil {
		return false, errNilState
	}
	var paused bool
	if _, err := r.state.KVGet(pauseKey(scope), &paused); err != nil {
		return false, err
	}
	return paused, nil
}

// Pause blocks guarded operations on scope. Requires PAUSER_ROLE.
func (r *Registry) Pause(scope, caller common.Address) error {
	if err := r.Require(scope, PauserRole, caller); err != nil {
		return err
	}
	if err := Guard(r, scope); err != nil {
		return err
	}
	if err := r.state.KVPut(pauseKey(scope), true); err != nil {
		return err
	}
	r.emitPause(EventTypePaused, scope, caller)
	return nil
}

// Unpause lifts a pause on scope. Requires PAUSER_ROLE.
func (r *Registry) Unpause(scope, caller common.Address) error {
	if err := r.Require(scope, PauserRole, caller); err != nil {
		return err
	}
	paused, err := r.Paused(scope)
	if err != nil {
		return err
	}
	if !paused {
		return ErrNotPaused
	}
	if err := r.state.KVDelete(pauseKey(scope)); err != nil {
		return err
	}
	r.emitPause(EventTypeUnpaused, scope, caller)
	return nil
}

func (r *Registry) emitPause(eventType string, scope, caller common.Address) {
	r.emitter.Emit(events.Wrap(types.NewEvent(eventType).
		With("scope", scope.Hex()).
		With("account", caller.Hex()).
		With("ts", strconv.FormatInt(r.nowFn(), 10))))
}
