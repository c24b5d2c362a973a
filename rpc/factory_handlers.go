package rpc

import (
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"assetmech/native/factory"
)

type paramsWire struct {
	Nonce    string        `json:"nonce"`
	Bytecode hexutil.Bytes `json:"bytecode"`
}

func (p paramsWire) params() (factory.Params, *RPCError) {
	nonce, err := hex.DecodeString(strings.TrimPrefix(p.Nonce, "0x"))
	if err != nil || len(nonce) != 32 {
		return factory.Params{}, invalidParams("nonce must be 32 bytes", p.Nonce)
	}
	var out factory.Params
	copy(out.Nonce[:], nonce)
	out.Bytecode = p.Bytecode
	return out, nil
}

type deployParams[A any] struct {
	Params    paramsWire `json:"params"`
	Args      A          `json:"args"`
	Signature string     `json:"signature"`
}

func (d deployParams[A]) decode() (factory.Params, []byte, *RPCError) {
	params, rpcErr := d.Params.params()
	if rpcErr != nil {
		return factory.Params{}, nil, rpcErr
	}
	sig, rpcErr := parseSignature(d.Signature)
	if rpcErr != nil {
		return factory.Params{}, nil, rpcErr
	}
	return params, sig, nil
}

type deployResult struct {
	Address string `json:"address"`
}

type instancesResult struct {
	Vesting []common.Address `json:"vesting"`
	Staking []common.Address `json:"staking"`
	Tokens  []common.Address `json:"tokens"`
}

func (s *Server) factoryDomain(_ *http.Request, _ *RPCRequest) (interface{}, *RPCError) {
	return renderDomain(s.factory.Domain()), nil
}

func (s *Server) factoryInstances(_ *http.Request, _ *RPCRequest) (interface{}, *RPCError) {
	return s.instances()
}

func (s *Server) instances() (interface{}, *RPCError) {
	var (
		out instancesResult
		err error
	)
	if out.Vesting, err = s.factory.AllVesting(); err != nil {
		return nil, engineError(err)
	}
	if out.Staking, err = s.factory.AllStaking(); err != nil {
		return nil, engineError(err)
	}
	if out.Tokens, err = s.factory.AllTokens(); err != nil {
		return nil, engineError(err)
	}
	for _, list := range []*[]common.Address{&out.Vesting, &out.Staking, &out.Tokens} {
		if *list == nil {
			*list = []common.Address{}
		}
	}
	return out, nil
}

func (s *Server) factoryDeployVesting(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var body deployParams[factory.VestingArgs]
	if rpcErr := decodeParams(req, &body); rpcErr != nil {
		return nil, rpcErr
	}
	params, sig, rpcErr := body.decode()
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := s.factory.DeployVesting(params, body.Args, sig)
	if err != nil {
		return nil, engineError(err)
	}
	return deployResult{Address: addr.Hex()}, nil
}

func (s *Server) factoryDeployStaking(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	caller, rpcErr := s.auth.caller(r)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var body deployParams[factory.StakingArgs]
	if rpcErr := decodeParams(req, &body); rpcErr != nil {
		return nil, rpcErr
	}
	params, sig, rpcErr := body.decode()
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := s.factory.DeployStaking(caller, params, body.Args, sig)
	if err != nil {
		return nil, engineError(err)
	}
	return deployResult{Address: addr.Hex()}, nil
}

func (s *Server) factoryDeployToken(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	caller, rpcErr := s.auth.caller(r)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var body deployParams[factory.TokenArgs]
	if rpcErr := decodeParams(req, &body); rpcErr != nil {
		return nil, rpcErr
	}
	params, sig, rpcErr := body.decode()
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := s.factory.DeployToken(caller, params, body.Args, sig)
	if err != nil {
		return nil, engineError(err)
	}
	return deployResult{Address: addr.Hex()}, nil
}

func (s *Server) handleFactoryInstances(w http.ResponseWriter, _ *http.Request) {
	result, rpcErr := s.view(s.instances)
	writeREST(w, result, rpcErr)
}
