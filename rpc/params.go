package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	coreerrors "assetmech/core/errors"
	"assetmech/native/access"
	"assetmech/native/asset"
	"assetmech/native/factory"
	"assetmech/native/random"
	"assetmech/native/vesting"
)

func invalidParams(message string, data interface{}) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: message, Data: data, status: http.StatusBadRequest}
}

// decodeParams expects exactly one parameter object.
func decodeParams(req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return invalidParams("exactly one parameter object expected", nil)
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return invalidParams("invalid parameter object", err.Error())
	}
	return nil
}

func parseAddress(field, raw string) (common.Address, *RPCError) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, invalidParams(fmt.Sprintf("invalid %s address", field), raw)
	}
	return common.HexToAddress(raw), nil
}

func parseQuantity(field, raw string) (*uint256.Int, *RPCError) {
	v, err := asset.ParseQuantity(raw)
	if err != nil {
		return nil, invalidParams(fmt.Sprintf("invalid %s", field), err.Error())
	}
	return v, nil
}

func parseAsset(field string, w asset.Wire) (asset.Asset, *RPCError) {
	a, err := w.Asset()
	if err != nil {
		return asset.Asset{}, invalidParams(fmt.Sprintf("invalid %s", field), err.Error())
	}
	return a, nil
}

func parseAssets(field string, list []asset.Wire) ([]asset.Asset, *RPCError) {
	out := make([]asset.Asset, 0, len(list))
	for i, w := range list {
		a, rpcErr := parseAsset(fmt.Sprintf("%s[%d]", field, i), w)
		if rpcErr != nil {
			return nil, rpcErr
		}
		out = append(out, a)
	}
	return out, nil
}

func parseSignature(raw string) ([]byte, *RPCError) {
	sig, err := hexutil.Decode(strings.TrimSpace(raw))
	if err != nil {
		return nil, invalidParams("invalid signature encoding", err.Error())
	}
	return sig, nil
}

// engineError maps an engine failure onto a JSON-RPC error. Taxonomy errors
// carry their stable code in data.
func engineError(err error) *RPCError {
	switch {
	case errors.Is(err, access.ErrMissingRole):
		return &RPCError{Code: codeForbidden, Message: err.Error(), status: http.StatusForbidden}
	case errors.Is(err, access.ErrPaused):
		return &RPCError{Code: codePaused, Message: err.Error(), status: http.StatusConflict}
	case errors.Is(err, factory.ErrUnknownInstance),
		errors.Is(err, vesting.ErrUnknownVesting),
		errors.Is(err, random.ErrUnknownRequest):
		return &RPCError{Code: codeNotFound, Message: err.Error(), status: http.StatusNotFound}
	}
	if code := coreerrors.CodeOf(err); code != "" {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, coreerrors.ErrAuthorization) {
			status = http.StatusForbidden
		}
		return &RPCError{Code: codeEngineError, Message: err.Error(), Data: map[string]string{"code": code}, status: status}
	}
	return &RPCError{Code: codeServerError, Message: err.Error(), status: http.StatusBadRequest}
}
