package rpc

import (
	"net/http"

	"github.com/holiman/uint256"

	"assetmech/native/asset"
)

type balanceParams struct {
	Token string `json:"token"`
	Owner string `json:"owner"`
}

// ledgerBalanceOf reports the native balance when token is empty and the
// fungible balance otherwise.
func (s *Server) ledgerBalanceOf(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params balanceParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress("owner", params.Owner)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var (
		amount *uint256.Int
		err    error
	)
	if params.Token == "" {
		amount, err = s.ledger.NativeBalance(owner)
	} else {
		token, rpcErr := parseAddress("token", params.Token)
		if rpcErr != nil {
			return nil, rpcErr
		}
		amount, err = s.ledger.BalanceOf(token, owner)
	}
	if err != nil {
		return nil, engineError(err)
	}
	return amountResult{Amount: amount.Dec()}, nil
}

type approveParams struct {
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
	TokenID string `json:"tokenId"`
}

// ledgerApprove sets a fungible allowance, or a single-token approval on a
// non-fungible collection, on behalf of the token subject.
func (s *Server) ledgerApprove(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	owner, rpcErr := s.auth.caller(r)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var params approveParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseAddress("token", params.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	spender, rpcErr := parseAddress("spender", params.Spender)
	if rpcErr != nil {
		return nil, rpcErr
	}
	contract, ok, err := s.ledger.Contract(token)
	if err != nil {
		return nil, engineError(err)
	}
	if !ok || !contract.IsToken {
		return nil, invalidParams("unknown token", token.Hex())
	}
	switch contract.TokenKind() {
	case asset.Fungible:
		amount, rpcErr := parseQuantity("amount", params.Amount)
		if rpcErr != nil {
			return nil, rpcErr
		}
		err = s.ledger.Approve(token, owner, spender, amount)
	case asset.NonFungible:
		id, rpcErr := parseQuantity("tokenId", params.TokenID)
		if rpcErr != nil {
			return nil, rpcErr
		}
		err = s.ledger.ApproveToken(token, owner, spender, id)
	default:
		return nil, invalidParams("use ledger_setApprovalForAll for "+contract.TokenKind().String()+" tokens", token.Hex())
	}
	if err != nil {
		return nil, engineError(err)
	}
	return true, nil
}

type approvalForAllParams struct {
	Token    string `json:"token"`
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

func (s *Server) ledgerSetApprovalForAll(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	owner, rpcErr := s.auth.caller(r)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var params approvalForAllParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseAddress("token", params.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	operator, rpcErr := parseAddress("operator", params.Operator)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.ledger.SetApprovalForAll(token, owner, operator, params.Approved); err != nil {
		return nil, engineError(err)
	}
	return true, nil
}

type transferParams struct {
	To    string     `json:"to"`
	Asset asset.Wire `json:"asset"`
}

// ledgerTransfer moves an asset the token subject holds.
func (s *Server) ledgerTransfer(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	from, rpcErr := s.auth.caller(r)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var params transferParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	to, rpcErr := parseAddress("to", params.To)
	if rpcErr != nil {
		return nil, rpcErr
	}
	a, rpcErr := parseAsset("asset", params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := asset.NewCustodian(s.ledger, from).Spend(a, to); err != nil {
		return nil, engineError(err)
	}
	return true, nil
}
