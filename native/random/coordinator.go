// Package random implements the two-phase randomness protocol: consumers
// queue a request, and an oracle later resolves it through Fulfill, which
// dispatches the random word to the consumer's registered handler.
package random

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"assetmech/core/events"
	"assetmech/core/types"
	"assetmech/native/access"
)

var (
	ErrUnknownRequest   = errors.New("random: unknown request")
	ErrAlreadyFulfilled = errors.New("random: request already fulfilled")
	ErrUnknownConsumer  = errors.New("random: unknown consumer")
	errNilState         = errors.New("random: state not configured")
)

const (
	EventTypeRequested = "random.requested"
	EventTypeFulfilled = "random.fulfilled"
)

var (
	requestPrefix = []byte("random/request/")
	pendingKey    = []byte("random/pending")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVRemove(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	Atomic(fn func() error) error
}

type roleChecker interface {
	Require(scope common.Address, role access.Role, account common.Address) error
}

// Handler completes a pending request once its random word is known.
type Handler func(req *Request, word *uint256.Int) error

// Request is a pending or resolved randomness request.
type Request struct {
	ID          [16]byte
	Consumer    string
	Payload     []byte
	RequestedAt uint64
	Fulfilled   bool
	Word        *big.Int
}

// RequestID renders the request id in canonical uuid form.
func (r *Request) RequestID() uuid.UUID { return uuid.UUID(r.ID) }

// Coordinator records pending requests and dispatches fulfilments.
type Coordinator struct {
	address   common.Address
	state     engineState
	roles     roleChecker
	emitter   events.Emitter
	handlers  map[string]Handler
	nowFn     func() int64
	newIDFunc func() uuid.UUID
}

// NewCoordinator creates a coordinator whose oracle permissions are scoped to
// address.
func NewCoordinator(address common.Address, state engineState, roles roleChecker) *Coordinator {
	return &Coordinator{
		address:   address,
		state:     state,
		roles:     roles,
		emitter:   events.NoopEmitter{},
		handlers:  make(map[string]Handler),
		nowFn:     func() int64 { return time.Now().Unix() },
		newIDFunc: uuid.New,
	}
}

// Address returns the scope that oracle roles are granted on.
func (c *Coordinator) Address() common.Address { return c.address }

// SetEmitter configures the event emitter used by the coordinator. Passing nil
// resets the emitter to a no-op implementation.
func (c *Coordinator) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (c *Coordinator) SetNowFunc(now func() int64) {
	if now == nil {
		c.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	c.nowFn = now
}

// SetIDFunc overrides request id generation. Primarily intended for tests.
func (c *Coordinator) SetIDFunc(fn func() uuid.UUID) {
	if fn == nil {
		c.newIDFunc = uuid.New
		return
	}
	c.newIDFunc = fn
}

// Register installs the handler for consumer, replacing any previous one.
func (c *Coordinator) Register(consumer string, handler Handler) {
	c.handlers[consumer] = handler
}

func requestKey(id [16]byte) []byte {
	return append(append([]byte(nil), requestPrefix...), id[:]...)
}

// Request queues a randomness request on behalf of consumer.
func (c *Coordinator) Request(consumer string, payload []byte) (uuid.UUID, error) {
	if c.state == nil {
		return uuid.Nil, errNilState
	}
	if _, ok := c.handlers[consumer]; !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnknownConsumer, consumer)
	}
	id := c.newIDFunc()
	req := &Request{
		ID:          id,
		Consumer:    consumer,
		Payload:     append([]byte(nil), payload...),
		RequestedAt: uint64(c.nowFn()),
		Word:        new(big.Int),
	}
	if err := c.state.KVPut(requestKey(req.ID), req); err != nil {
		return uuid.Nil, err
	}
	if err := c.state.KVAppend(pendingKey, req.ID[:]); err != nil {
		return uuid.Nil, err
	}
	c.emitter.Emit(events.Wrap(types.NewEvent(EventTypeRequested).
		With("requestId", id.String()).
		With("consumer", consumer)))
	return id, nil
}

// Get loads a request by id.
func (c *Coordinator) Get(id uuid.UUID) (*Request, error) {
	if c.state == nil {
		return nil, errNilState
	}
	req := new(Request)
	ok, err := c.state.KVGet(requestKey(id), req)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	return req, nil
}

// Pending lists unresolved requests in request order.
func (c *Coordinator) Pending() ([]*Request, error) {
	if c.state == nil {
		return nil, errNilState
	}
	var ids [][]byte
	if err := c.state.KVGetList(pendingKey, &ids); err != nil {
		return nil, err
	}
	out := make([]*Request, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.FromBytes(raw)
		if err != nil {
			return nil, err
		}
		req, err := c.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// Fulfill resolves request id with word. Only ORACLE_ROLE holders may call it,
// and each request resolves exactly once. A failing handler rolls the whole
// fulfilment back so the oracle can retry.
func (c *Coordinator) Fulfill(oracle common.Address, id uuid.UUID, word *uint256.Int) error {
	if c.state == nil {
		return errNilState
	}
	return c.state.Atomic(func() error {
		if c.roles != nil {
			if err := c.roles.Require(c.address, access.OracleRole, oracle); err != nil {
				return err
			}
		}
		req, err := c.Get(id)
		if err != nil {
			return err
		}
		if req.Fulfilled {
			return fmt.Errorf("%w: %s", ErrAlreadyFulfilled, id)
		}
		handler, ok := c.handlers[req.Consumer]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownConsumer, req.Consumer)
		}
		req.Fulfilled = true
		req.Word = word.ToBig()
		if err := c.state.KVPut(requestKey(req.ID), req); err != nil {
			return err
		}
		if err := c.state.KVRemove(pendingKey, req.ID[:]); err != nil {
			return err
		}
		if err := handler(req, new(uint256.Int).Set(word)); err != nil {
			return fmt.Errorf("random: %s handler: %w", req.Consumer, err)
		}
		c.emitter.Emit(events.Wrap(types.NewEvent(EventTypeFulfilled).
			With("requestId", id.String()).
			With("consumer", req.Consumer).
			With("word", word.Dec()).
			With("ts", strconv.FormatInt(c.nowFn(), 10))))
		return nil
	})
}
