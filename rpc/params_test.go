package rpc

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "assetmech/core/errors"
	"assetmech/native/access"
	"assetmech/native/factory"
)

func TestEngineErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   int
		data   interface{}
	}{
		{coreerrors.ErrInvalidSignature, http.StatusForbidden, codeEngineError, map[string]string{"code": "InvalidSignature"}},
		{fmt.Errorf("deposit: %w", coreerrors.ErrInsufficientAllowance), http.StatusUnprocessableEntity, codeEngineError, map[string]string{"code": "InsufficientAllowance"}},
		{access.ErrMissingRole, http.StatusForbidden, codeForbidden, nil},
		{factory.ErrUnknownInstance, http.StatusNotFound, codeNotFound, nil},
		{fmt.Errorf("boom"), http.StatusBadRequest, codeServerError, nil},
	}
	for _, tc := range cases {
		rpcErr := engineError(tc.err)
		require.Equal(t, tc.status, rpcErr.status, tc.err.Error())
		require.Equal(t, tc.code, rpcErr.Code, tc.err.Error())
		require.Equal(t, tc.data, rpcErr.Data, tc.err.Error())
	}
}
