package random

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"assetmech/core/events"
	"assetmech/core/state"
	"assetmech/native/access"
	"assetmech/storage"
)

var (
	coordinatorAddr = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	oracle          = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

type fixture struct {
	mgr   *state.Manager
	roles *access.Registry
	coord *Coordinator
	rec   *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec := &events.Recorder{}
	mgr := state.NewManager(storage.NewMemDB(), state.WithSink(rec))
	roles := access.NewRegistry(mgr)
	roles.SetEmitter(mgr)
	if err := roles.GrantInternal(coordinatorAddr, access.OracleRole, oracle); err != nil {
		t.Fatalf("grant oracle: %v", err)
	}
	coord := NewCoordinator(coordinatorAddr, mgr, roles)
	coord.SetEmitter(mgr)
	next := byte(0)
	coord.SetIDFunc(func() uuid.UUID {
		next++
		return uuid.UUID{next}
	})
	return &fixture{mgr: mgr, roles: roles, coord: coord, rec: rec}
}

func TestRequestFulfilLifecycle(t *testing.T) {
	f := newFixture(t)
	var delivered []uint64
	f.coord.Register("test", func(req *Request, word *uint256.Int) error {
		delivered = append(delivered, word.Uint64())
		return nil
	})
	var id uuid.UUID
	if err := f.mgr.Atomic(func() error {
		var err error
		id, err = f.coord.Request("test", []byte("payload"))
		return err
	}); err != nil {
		t.Fatalf("request: %v", err)
	}
	pending, err := f.coord.Pending()
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending: %v %d", err, len(pending))
	}
	if string(pending[0].Payload) != "payload" {
		t.Fatalf("payload not stored")
	}
	if err := f.coord.Fulfill(oracle, id, uint256.NewInt(732)); err != nil {
		t.Fatalf("fulfil: %v", err)
	}
	if len(delivered) != 1 || delivered[0] != 732 {
		t.Fatalf("handler not invoked with word: %v", delivered)
	}
	if err := f.coord.Fulfill(oracle, id, uint256.NewInt(1)); !errors.Is(err, ErrAlreadyFulfilled) {
		t.Fatalf("expected ErrAlreadyFulfilled, got %v", err)
	}
	pending, _ = f.coord.Pending()
	if len(pending) != 0 {
		t.Fatalf("request should leave the pending set")
	}
	if got := len(f.rec.Filter(EventTypeFulfilled)); got != 1 {
		t.Fatalf("expected one fulfilment event, got %d", got)
	}
}

func TestFulfilRequiresOracle(t *testing.T) {
	f := newFixture(t)
	f.coord.Register("test", func(*Request, *uint256.Int) error { return nil })
	id, err := f.coord.Request("test", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	stranger := common.HexToAddress("0x0000000000000000000000000000000000000bad")
	if err := f.coord.Fulfill(stranger, id, uint256.NewInt(1)); !errors.Is(err, access.ErrMissingRole) {
		t.Fatalf("expected missing role, got %v", err)
	}
	if err := f.coord.Fulfill(oracle, uuid.UUID{99}, uint256.NewInt(1)); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("expected unknown request, got %v", err)
	}
}

func TestHandlerFailureKeepsRequestPending(t *testing.T) {
	f := newFixture(t)
	fail := true
	f.coord.Register("test", func(*Request, *uint256.Int) error {
		if fail {
			return errors.New("not yet")
		}
		return nil
	})
	id, err := f.coord.Request("test", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := f.coord.Fulfill(oracle, id, uint256.NewInt(5)); err == nil {
		t.Fatalf("expected handler failure")
	}
	req, err := f.coord.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if req.Fulfilled {
		t.Fatalf("failed fulfilment must roll back")
	}
	fail = false
	if err := f.coord.Fulfill(oracle, id, uint256.NewInt(5)); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestRequestUnknownConsumer(t *testing.T) {
	f := newFixture(t)
	if _, err := f.coord.Request("nobody", nil); !errors.Is(err, ErrUnknownConsumer) {
		t.Fatalf("expected ErrUnknownConsumer, got %v", err)
	}
}

func TestDispersion(t *testing.T) {
	cases := []struct {
		word uint64
		want uint8
	}{
		{732, Legendary},
		{733, Epic},
		{2164, Epic},
		{4961, Rare},
		{9998, Common},
		{10732, Legendary},
	}
	for _, tc := range cases {
		if got := Dispersion(uint256.NewInt(tc.word)); got != tc.want {
			t.Fatalf("dispersion(%d) = %d, want %d", tc.word, got, tc.want)
		}
	}
}
