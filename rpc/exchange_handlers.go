package rpc

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"assetmech/native/asset"
	"assetmech/native/auth"
)

type domainResult struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           string `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

func renderDomain(d auth.Domain) domainResult {
	chainID := "0"
	if d.ChainID != nil {
		chainID = d.ChainID.String()
	}
	return domainResult{
		Name:              d.Name,
		Version:           d.Version,
		ChainID:           chainID,
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

type tradeParams struct {
	Order     auth.Order   `json:"order"`
	Item      asset.Wire   `json:"item"`
	Items     []asset.Wire `json:"items"`
	Price     []asset.Wire `json:"price"`
	Signature string       `json:"signature"`
	// Operation selects the grade change for exchange_grade.
	Operation string `json:"operation"`
}

type claimResult struct {
	Requests []uuid.UUID `json:"requests"`
}

type splitterParams struct {
	Asset    asset.Wire `json:"asset"`
	Payee    string     `json:"payee"`
	Referrer string     `json:"referrer"`
}

type amountResult struct {
	Amount string `json:"amount"`
}

func (s *Server) exchangeDomain(_ *http.Request, _ *RPCRequest) (interface{}, *RPCError) {
	return renderDomain(s.exchange.Domain()), nil
}

func (s *Server) decodeTrade(r *http.Request, req *RPCRequest) (common.Address, *tradeParams, []asset.Asset, []byte, *RPCError) {
	caller, rpcErr := s.auth.caller(r)
	if rpcErr != nil {
		return common.Address{}, nil, nil, nil, rpcErr
	}
	var params tradeParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return common.Address{}, nil, nil, nil, rpcErr
	}
	price, rpcErr := parseAssets("price", params.Price)
	if rpcErr != nil {
		return common.Address{}, nil, nil, nil, rpcErr
	}
	sig, rpcErr := parseSignature(params.Signature)
	if rpcErr != nil {
		return common.Address{}, nil, nil, nil, rpcErr
	}
	return caller, &params, price, sig, nil
}

func (s *Server) exchangePurchase(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	caller, params, price, sig, rpcErr := s.decodeTrade(r, req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	item, rpcErr := parseAsset("item", params.Item)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.exchange.Purchase(caller, params.Order, item, price, sig); err != nil {
		return nil, engineError(err)
	}
	return true, nil
}

func (s *Server) exchangeClaim(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	caller, params, _, sig, rpcErr := s.decodeTrade(r, req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	items, rpcErr := parseAssets("items", params.Items)
	if rpcErr != nil {
		return nil, rpcErr
	}
	requests, err := s.exchange.Claim(caller, params.Order, items, sig)
	if err != nil {
		return nil, engineError(err)
	}
	if requests == nil {
		requests = []uuid.UUID{}
	}
	return claimResult{Requests: requests}, nil
}

func (s *Server) exchangeGrade(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	caller, params, price, sig, rpcErr := s.decodeTrade(r, req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	item, rpcErr := parseAsset("item", params.Item)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var err error
	switch params.Operation {
	case "earnUpgrade":
		err = s.exchange.EarnUpgrade(caller, params.Order, item, price, sig)
	case "timeUpgrade":
		err = s.exchange.TimeUpgrade(caller, params.Order, item, price, sig)
	case "earnBoost":
		err = s.exchange.EarnBoost(caller, params.Order, item, price, sig)
	case "timeBoost":
		err = s.exchange.TimeBoost(caller, params.Order, item, price, sig)
	case "wash":
		err = s.exchange.Wash(caller, params.Order, item, price, sig)
	default:
		return nil, invalidParams("unknown grade operation", params.Operation)
	}
	if err != nil {
		return nil, engineError(err)
	}
	return true, nil
}

func (s *Server) exchangeReleasable(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params splitterParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	a, rpcErr := parseAsset("asset", params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	payee, rpcErr := parseAddress("payee", params.Payee)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, err := s.exchange.Releasable(a, payee)
	if err != nil {
		return nil, engineError(err)
	}
	return amountResult{Amount: amount.Dec()}, nil
}

// exchangeRelease pays a payee its due share. Anyone holding a valid token
// may trigger it; funds always go to the payee.
func (s *Server) exchangeRelease(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	if _, rpcErr := s.auth.caller(r); rpcErr != nil {
		return nil, rpcErr
	}
	var params splitterParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	a, rpcErr := parseAsset("asset", params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	payee, rpcErr := parseAddress("payee", params.Payee)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, err := s.exchange.Release(a, payee)
	if err != nil {
		return nil, engineError(err)
	}
	return amountResult{Amount: amount.Dec()}, nil
}

func (s *Server) exchangeReferralBalance(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params splitterParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	a, rpcErr := parseAsset("asset", params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	referrer, rpcErr := parseAddress("referrer", params.Referrer)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, err := s.exchange.ReferralBalance(a, referrer)
	if err != nil {
		return nil, engineError(err)
	}
	return amountResult{Amount: amount.Dec()}, nil
}

func (s *Server) exchangeWithdrawReward(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	caller, rpcErr := s.auth.caller(r)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var params splitterParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	a, rpcErr := parseAsset("asset", params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, err := s.exchange.WithdrawReward(caller, a)
	if err != nil {
		return nil, engineError(err)
	}
	return amountResult{Amount: amount.Dec()}, nil
}
