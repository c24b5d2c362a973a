package rpc

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"assetmech/native/asset"
)

type vestingParams struct {
	Address string     `json:"address"`
	Asset   asset.Wire `json:"asset"`
}

type releaseableResult struct {
	Released    string `json:"released"`
	Releaseable string `json:"releaseable"`
}

func (s *Server) vestingSchedule(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params vestingParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	return s.scheduleOf(params.Address)
}

func (s *Server) scheduleOf(raw string) (interface{}, *RPCError) {
	addr, rpcErr := parseAddress("vesting", raw)
	if rpcErr != nil {
		return nil, rpcErr
	}
	schedule, err := s.vesting.Schedule(addr)
	if err != nil {
		return nil, engineError(err)
	}
	return schedule, nil
}

func (s *Server) vestingReleaseable(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params vestingParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddress("vesting", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	a, rpcErr := parseAsset("asset", params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	released, err := s.vesting.Released(addr, a)
	if err != nil {
		return nil, engineError(err)
	}
	releaseable, err := s.vesting.Releaseable(addr, a)
	if err != nil {
		return nil, engineError(err)
	}
	return releaseableResult{Released: released.Dec(), Releaseable: releaseable.Dec()}, nil
}

// vestingRelease pays the vested amount to the beneficiary. Any
// authenticated caller may trigger it.
func (s *Server) vestingRelease(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	if _, rpcErr := s.auth.caller(r); rpcErr != nil {
		return nil, rpcErr
	}
	var params vestingParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddress("vesting", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	a, rpcErr := parseAsset("asset", params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, err := s.vesting.Release(addr, a)
	if err != nil {
		return nil, engineError(err)
	}
	return amountResult{Amount: amount.Dec()}, nil
}

func (s *Server) handleVestingSchedule(w http.ResponseWriter, r *http.Request) {
	result, rpcErr := s.view(func() (interface{}, *RPCError) {
		return s.scheduleOf(chi.URLParam(r, "address"))
	})
	writeREST(w, result, rpcErr)
}
