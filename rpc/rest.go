package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"

	"assetmech/storage/journal"
)

// writeREST renders a REST response, reusing the JSON-RPC error object for
// failures.
func writeREST(w http.ResponseWriter, result interface{}, rpcErr *RPCError) {
	w.Header().Set("Content-Type", "application/json")
	if rpcErr != nil {
		status := rpcErr.status
		if status == 0 {
			status = http.StatusBadRequest
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]*RPCError{"error": rpcErr})
		return
	}
	_ = json.NewEncoder(w).Encode(result)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeREST(w, nil, &RPCError{Code: codeServerError, Message: "event journal disabled", status: http.StatusServiceUnavailable})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeREST(w, nil, invalidParams("invalid limit", raw))
			return
		}
		limit = parsed
	}
	entries, err := s.events.Recent(r.Context(), limit, r.URL.Query().Get("type"))
	if err != nil {
		writeREST(w, nil, &RPCError{Code: codeServerError, Message: err.Error(), status: http.StatusInternalServerError})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeREST(w, entries, nil)
}
