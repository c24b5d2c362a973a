package rpc

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"assetmech/native/asset"
	"assetmech/native/staking"
)

type stakingParams struct {
	Engine          string `json:"engine"`
	ID              uint64 `json:"id"`
	Owner           string `json:"owner"`
	ExternalID      string `json:"externalId"`
	TokenID         string `json:"tokenId"`
	Value           string `json:"value"`
	WithdrawDeposit bool   `json:"withdrawDeposit"`
	ClaimReward     bool   `json:"claimReward"`
}

type depositResult struct {
	StakeID uint64 `json:"stakeId"`
}

type payoutResult struct {
	Cycles     uint64        `json:"cycles"`
	Multiplier uint64        `json:"multiplier"`
	Deposit    *asset.Asset  `json:"deposit,omitempty"`
	Rewards    []asset.Asset `json:"rewards"`
	Requests   []uuid.UUID   `json:"requests"`
}

func renderPayout(p *staking.Payout) payoutResult {
	out := payoutResult{
		Cycles:     p.Cycles,
		Multiplier: p.Multiplier,
		Deposit:    p.Deposit,
		Rewards:    p.Rewards,
		Requests:   p.Requests,
	}
	if out.Rewards == nil {
		out.Rewards = []asset.Asset{}
	}
	if out.Requests == nil {
		out.Requests = []uuid.UUID{}
	}
	return out
}

func (s *Server) stakingInstance(raw string) (*staking.Engine, *RPCError) {
	addr, rpcErr := parseAddress("engine", raw)
	if rpcErr != nil {
		return nil, rpcErr
	}
	instance, err := s.factory.Staking(addr)
	if err != nil {
		return nil, engineError(err)
	}
	return instance, nil
}

func (s *Server) stakingRules(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params stakingParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	instance, rpcErr := s.stakingInstance(params.Engine)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return s.rulesOf(instance)
}

func (s *Server) rulesOf(instance *staking.Engine) (interface{}, *RPCError) {
	rules, err := instance.Rules()
	if err != nil {
		return nil, engineError(err)
	}
	if rules == nil {
		rules = []staking.Rule{}
	}
	return rules, nil
}

func (s *Server) stakingStake(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params stakingParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	instance, rpcErr := s.stakingInstance(params.Engine)
	if rpcErr != nil {
		return nil, rpcErr
	}
	stake, err := instance.Stake(params.ID)
	if err != nil {
		return nil, engineError(err)
	}
	return stake, nil
}

func (s *Server) stakingStakesOf(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params stakingParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	instance, rpcErr := s.stakingInstance(params.Engine)
	if rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress("owner", params.Owner)
	if rpcErr != nil {
		return nil, rpcErr
	}
	stakes, err := instance.StakesOf(owner)
	if err != nil {
		return nil, engineError(err)
	}
	if stakes == nil {
		stakes = []*staking.Stake{}
	}
	return stakes, nil
}

func (s *Server) stakingDeposit(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	caller, rpcErr := s.auth.caller(r)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var params stakingParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	instance, rpcErr := s.stakingInstance(params.Engine)
	if rpcErr != nil {
		return nil, rpcErr
	}
	externalID, rpcErr := parseQuantity("externalId", params.ExternalID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	tokenID, rpcErr := parseQuantity("tokenId", params.TokenID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	value, rpcErr := parseQuantity("value", params.Value)
	if rpcErr != nil {
		return nil, rpcErr
	}
	id, err := instance.Deposit(caller, externalID, tokenID, value)
	if err != nil {
		return nil, engineError(err)
	}
	return depositResult{StakeID: id}, nil
}

func (s *Server) stakingReceiveReward(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	caller, rpcErr := s.auth.caller(r)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var params stakingParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	instance, rpcErr := s.stakingInstance(params.Engine)
	if rpcErr != nil {
		return nil, rpcErr
	}
	payout, err := instance.ReceiveReward(caller, params.ID, params.WithdrawDeposit, params.ClaimReward)
	if err != nil {
		return nil, engineError(err)
	}
	return renderPayout(payout), nil
}

func (s *Server) handleStakingRules(w http.ResponseWriter, r *http.Request) {
	result, rpcErr := s.view(func() (interface{}, *RPCError) {
		instance, rpcErr := s.stakingInstance(chi.URLParam(r, "engine"))
		if rpcErr != nil {
			return nil, rpcErr
		}
		return s.rulesOf(instance)
	})
	writeREST(w, result, rpcErr)
}

func (s *Server) handleStakingStake(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeREST(w, nil, invalidParams("invalid stake id", err.Error()))
		return
	}
	result, rpcErr := s.view(func() (interface{}, *RPCError) {
		instance, rpcErr := s.stakingInstance(chi.URLParam(r, "engine"))
		if rpcErr != nil {
			return nil, rpcErr
		}
		stake, err := instance.Stake(id)
		if err != nil {
			return nil, engineError(err)
		}
		return stake, nil
	})
	writeREST(w, result, rpcErr)
}
