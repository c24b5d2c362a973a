package rpc

import (
	"math/big"
	"net/http"

	"github.com/google/uuid"

	"assetmech/native/random"
	"assetmech/observability/metrics"
)

type fulfillParams struct {
	ID   string `json:"id"`
	Word string `json:"word"`
}

type requestResult struct {
	ID          uuid.UUID `json:"id"`
	Consumer    string    `json:"consumer"`
	RequestedAt uint64    `json:"requestedAt"`
	Fulfilled   bool      `json:"fulfilled"`
	Word        string    `json:"word,omitempty"`
}

func renderRequest(r *random.Request) requestResult {
	out := requestResult{
		ID:          r.RequestID(),
		Consumer:    r.Consumer,
		RequestedAt: r.RequestedAt,
		Fulfilled:   r.Fulfilled,
	}
	if r.Word != nil && r.Fulfilled {
		out.Word = new(big.Int).Set(r.Word).String()
	}
	return out
}

func (s *Server) randomPending(_ *http.Request, _ *RPCRequest) (interface{}, *RPCError) {
	return s.pending()
}

func (s *Server) pending() (interface{}, *RPCError) {
	pending, err := s.coordinator.Pending()
	if err != nil {
		return nil, engineError(err)
	}
	metrics.Settlement().SetRandomPending(len(pending))
	out := make([]requestResult, 0, len(pending))
	for _, r := range pending {
		out = append(out, renderRequest(r))
	}
	return out, nil
}

// randomFulfill delivers a random word. The token subject must hold
// ORACLE_ROLE on the coordinator.
func (s *Server) randomFulfill(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	oracle, rpcErr := s.auth.caller(r)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var params fulfillParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := uuid.Parse(params.ID)
	if err != nil {
		return nil, invalidParams("invalid request id", err.Error())
	}
	word, rpcErr := parseQuantity("word", params.Word)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.coordinator.Fulfill(oracle, id, word); err != nil {
		return nil, engineError(err)
	}
	return true, nil
}

func (s *Server) handleRandomPending(w http.ResponseWriter, _ *http.Request) {
	result, rpcErr := s.view(s.pending)
	writeREST(w, result, rpcErr)
}
