package factory

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"assetmech/native/auth"
)

// Params carries the single-use nonce and the code of the requested
// template.
type Params struct {
	Nonce    [32]byte
	Bytecode []byte
}

var paramsType = []apitypes.Type{
	{Name: "nonce", Type: "bytes32"},
	{Name: "bytecode", Type: "bytes"},
}

func (p Params) value() map[string]interface{} {
	return map[string]interface{}{
		"nonce":    p.Nonce[:],
		"bytecode": hexutil.Bytes(p.Bytecode),
	}
}

// VestingArgs describes a vesting deployment.
type VestingArgs struct {
	Account          common.Address `json:"account"`
	StartTimestamp   uint64         `json:"startTimestamp"`
	Duration         uint64         `json:"duration"`
	ContractTemplate string         `json:"contractTemplate"`
}

// StakingArgs describes a staking deployment.
type StakingArgs struct {
	MaxStake         uint64 `json:"maxStake"`
	ContractTemplate string `json:"contractTemplate"`
}

// TokenArgs describes a token deployment. Flag selects callbacks for
// fungible tokens and randomness for non-fungible ones.
type TokenArgs struct {
	Name             string `json:"name"`
	Symbol           string `json:"symbol"`
	Flag             bool   `json:"flag"`
	ContractTemplate string `json:"contractTemplate"`
}

func deployMessage(params Params, argsType string, fields []apitypes.Type, args map[string]interface{}) auth.Message {
	return auth.Message{
		PrimaryType: "EIP712",
		Types: apitypes.Types{
			"EIP712": {
				{Name: "params", Type: "Params"},
				{Name: "args", Type: argsType},
			},
			"Params": paramsType,
			argsType: fields,
		},
		Value: apitypes.TypedDataMessage{
			"params": params.value(),
			"args":   args,
		},
	}
}

// VestingMessage is the signed payload of DeployVesting.
func VestingMessage(params Params, args VestingArgs) auth.Message {
	return deployMessage(params, "VestingArgs", []apitypes.Type{
		{Name: "account", Type: "address"},
		{Name: "startTimestamp", Type: "uint64"},
		{Name: "duration", Type: "uint64"},
		{Name: "contractTemplate", Type: "string"},
	}, map[string]interface{}{
		"account":          args.Account.Hex(),
		"startTimestamp":   new(big.Int).SetUint64(args.StartTimestamp),
		"duration":         new(big.Int).SetUint64(args.Duration),
		"contractTemplate": args.ContractTemplate,
	})
}

// StakingMessage is the signed payload of DeployStaking.
func StakingMessage(params Params, args StakingArgs) auth.Message {
	return deployMessage(params, "StakingArgs", []apitypes.Type{
		{Name: "maxStake", Type: "uint256"},
		{Name: "contractTemplate", Type: "string"},
	}, map[string]interface{}{
		"maxStake":         new(big.Int).SetUint64(args.MaxStake),
		"contractTemplate": args.ContractTemplate,
	})
}

// TokenMessage is the signed payload of DeployToken.
func TokenMessage(params Params, args TokenArgs) auth.Message {
	return deployMessage(params, "TokenArgs", []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "symbol", Type: "string"},
		{Name: "flag", Type: "bool"},
		{Name: "contractTemplate", Type: "string"},
	}, map[string]interface{}{
		"name":             args.Name,
		"symbol":           args.Symbol,
		"flag":             args.Flag,
		"contractTemplate": args.ContractTemplate,
	})
}
