package rpc

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"assetmech/core/events"
	"assetmech/core/state"
	"assetmech/native/access"
	"assetmech/native/asset"
	"assetmech/native/auth"
	"assetmech/native/exchange"
	"assetmech/native/factory"
	"assetmech/native/ledger"
	"assetmech/native/random"
	"assetmech/native/staking"
	"assetmech/native/vesting"
	"assetmech/storage"
	"assetmech/storage/journal"
)

var (
	exchangeAt = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	factoryAt  = common.HexToAddress("0x00000000000000000000000000000000000000cf")
	coordAt    = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	oracle     = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

var testSecret = []byte("rpc-test-secret")

type fixture struct {
	srv     *Server
	handler http.Handler
	ledger  *ledger.Ledger
	coord   *random.Coordinator
	factory *factory.Engine
	key     *ecdsa.PrivateKey
	admin   common.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	j, err := journal.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	mgr := state.NewManager(storage.NewMemDB(), state.WithSink(events.Multi{j}), state.WithAutoCommit())
	roles := access.NewRegistry(mgr)
	roles.SetEmitter(mgr)
	l := ledger.New(mgr, roles)
	l.SetEmitter(mgr)
	coord := random.NewCoordinator(coordAt, mgr, roles)
	coord.SetEmitter(mgr)
	l.SetRandom(coord)
	require.NoError(t, roles.GrantInternal(coordAt, access.OracleRole, oracle))

	key, err := ethcrypto.ToECDSA(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	admin := ethcrypto.PubkeyToAddress(key.PublicKey)
	require.NoError(t, roles.Bootstrap(exchangeAt, admin))
	require.NoError(t, roles.Bootstrap(factoryAt, admin))
	require.NoError(t, l.RegisterContract(exchangeAt, ledger.AllReceivers))

	v := vesting.NewEngine(mgr, l, roles)
	v.SetEmitter(mgr)
	fac, err := factory.NewEngine(factoryAt, big.NewInt(10000), mgr, l, roles, v)
	require.NoError(t, err)
	fac.SetEmitter(mgr)
	ex, err := exchange.NewEngine(exchangeAt, exchange.Config{ChainID: big.NewInt(10000)}, mgr, l, roles)
	require.NoError(t, err)
	ex.SetEmitter(mgr)

	srv := NewServer(Config{
		State:             mgr,
		Exchange:          ex,
		Factory:           fac,
		Vesting:           v,
		Coordinator:       coord,
		Ledger:            l,
		Events:            j,
		AuthSecret:        testSecret,
		RequestsPerSecond: 1000,
		Burst:             1000,
	})
	return &fixture{srv: srv, handler: srv.Handler(), ledger: l, coord: coord, factory: fac, key: key, admin: admin}
}

func token(t *testing.T, secret []byte, subject common.Address, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject.Hex(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return signed
}

type testResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (f *fixture) call(t *testing.T, bearer, method string, params interface{}) (int, testResponse) {
	t.Helper()
	body := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		body["params"] = []interface{}{params}
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	var resp testResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func (f *fixture) deployStaking(t *testing.T) common.Address {
	t.Helper()
	var p factory.Params
	p.Nonce[31] = 1
	p.Bytecode = []byte("staking/v1")
	args := factory.StakingArgs{MaxStake: 5, ContractTemplate: "SIMPLE"}
	sig, err := auth.Sign(f.key, f.factory.Domain(), factory.StakingMessage(p, args))
	require.NoError(t, err)

	status, resp := f.call(t, token(t, testSecret, f.admin, time.Minute), "factory_deployStaking", map[string]interface{}{
		"params":    map[string]interface{}{"nonce": hexutil.Encode(p.Nonce[:]), "bytecode": hexutil.Encode(p.Bytecode)},
		"args":      args,
		"signature": hexutil.Encode(sig),
	})
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)
	var out deployResult
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	return common.HexToAddress(out.Address)
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
	require.NotEmpty(t, rec.Header().Get(headerRequestID))

	require.Equal(t, http.StatusOK, f.get(t, "/metrics").Code)
}

func TestEnvelopeErrors(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(nil)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{"))))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	status, resp := f.call(t, "", "nope_method", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	status, resp = f.call(t, "", "staking_rules", nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t)
	params := map[string]interface{}{"engine": exchangeAt.Hex(), "id": 1}

	status, resp := f.call(t, "", "staking_receiveReward", params)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	status, _ = f.call(t, token(t, []byte("other"), alice, time.Minute), "staking_receiveReward", params)
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = f.call(t, token(t, testSecret, alice, -time.Hour), "staking_receiveReward", params)
	require.Equal(t, http.StatusUnauthorized, status)

	// A valid token reaches the engine, which does not know the instance.
	status, resp = f.call(t, token(t, testSecret, alice, time.Minute), "staking_receiveReward", params)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeNotFound, resp.Error.Code)
}

func TestStakingLifecycleOverRPC(t *testing.T) {
	f := newFixture(t)
	instanceAt := f.deployStaking(t)

	instance, err := f.factory.Staking(instanceAt)
	require.NoError(t, err)
	rule := staking.Rule{
		ExternalID: *uint256.NewInt(7),
		Deposit:    asset.NewNative(10),
		Reward:     asset.NewNative(1),
		Period:     60,
		Active:     true,
	}
	require.NoError(t, instance.SetRules(f.admin, []staking.Rule{rule}))

	rec := f.get(t, "/v1/staking/"+instanceAt.Hex()+"/rules")
	require.Equal(t, http.StatusOK, rec.Code)
	var rules []staking.Rule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	require.Len(t, rules, 1)
	require.Equal(t, uint64(7), rules[0].ExternalID.Uint64())

	require.NoError(t, f.ledger.Credit(alice, uint256.NewInt(10)))
	aliceToken := token(t, testSecret, alice, time.Minute)
	status, resp := f.call(t, aliceToken, "staking_deposit", map[string]interface{}{
		"engine": instanceAt.Hex(), "externalId": "7", "value": "10",
	})
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)
	var deposit depositResult
	require.NoError(t, json.Unmarshal(resp.Result, &deposit))

	rec = f.get(t, fmt.Sprintf("/v1/staking/%s/stakes/%d", instanceAt.Hex(), deposit.StakeID))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusNotFound, f.get(t, fmt.Sprintf("/v1/staking/%s/stakes/%d", exchangeAt.Hex(), deposit.StakeID)).Code)

	status, resp = f.call(t, "", "ledger_balanceOf", map[string]interface{}{"owner": alice.Hex()})
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"amount":"0"}`, string(resp.Result))

	status, resp = f.call(t, token(t, testSecret, f.admin, time.Minute), "staking_receiveReward", map[string]interface{}{
		"engine": instanceAt.Hex(), "id": deposit.StakeID, "withdrawDeposit": true,
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, map[string]interface{}{"code": "NotOwner"}, resp.Error.Data)

	status, resp = f.call(t, aliceToken, "staking_receiveReward", map[string]interface{}{
		"engine": instanceAt.Hex(), "id": deposit.StakeID, "withdrawDeposit": true,
	})
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)
	var payout payoutResult
	require.NoError(t, json.Unmarshal(resp.Result, &payout))
	require.NotNil(t, payout.Deposit)
	require.Equal(t, uint64(10), payout.Deposit.Quantity.Uint64())

	balance, err := f.ledger.NativeBalance(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(10), balance.Uint64())

	rec = f.get(t, "/v1/events?type="+factory.EventTypeStakingDeployed)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []journal.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, instanceAt.Hex(), entries[0].Attributes["addr"])

	rec = f.get(t, "/v1/factory/instances")
	require.Equal(t, http.StatusOK, rec.Code)
	var instances instancesResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &instances))
	require.Equal(t, []common.Address{instanceAt}, instances.Staking)
}

func TestApproveThenStakeOverRPC(t *testing.T) {
	f := newFixture(t)
	instanceAt := f.deployStaking(t)
	coin, err := f.ledger.DeployFungible("Gold", "GLD", false, f.admin)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Mint(coin, f.admin, alice, uint256.NewInt(100)))

	instance, err := f.factory.Staking(instanceAt)
	require.NoError(t, err)
	rule := staking.Rule{
		ExternalID: *uint256.NewInt(3),
		Deposit:    asset.NewFungible(coin, 40),
		Reward:     asset.NewNative(1),
		Period:     60,
		Active:     true,
	}
	require.NoError(t, instance.SetRules(f.admin, []staking.Rule{rule}))

	aliceToken := token(t, testSecret, alice, time.Minute)
	deposit := map[string]interface{}{"engine": instanceAt.Hex(), "externalId": "3"}

	status, resp := f.call(t, aliceToken, "staking_deposit", deposit)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, map[string]interface{}{"code": "InsufficientAllowance"}, resp.Error.Data)

	status, _ = f.call(t, "", "ledger_approve", map[string]interface{}{
		"token": coin.Hex(), "spender": instanceAt.Hex(), "amount": "40",
	})
	require.Equal(t, http.StatusUnauthorized, status)

	status, resp = f.call(t, aliceToken, "ledger_approve", map[string]interface{}{
		"token": coin.Hex(), "spender": instanceAt.Hex(), "amount": "40",
	})
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)
	allowance, err := f.ledger.Allowance(coin, alice, instanceAt)
	require.NoError(t, err)
	require.Equal(t, uint64(40), allowance.Uint64())

	status, resp = f.call(t, aliceToken, "staking_deposit", deposit)
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)

	status, resp = f.call(t, "", "ledger_balanceOf", map[string]interface{}{"token": coin.Hex(), "owner": alice.Hex()})
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"amount":"60"}`, string(resp.Result))
	status, resp = f.call(t, "", "ledger_balanceOf", map[string]interface{}{"token": coin.Hex(), "owner": instanceAt.Hex()})
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"amount":"40"}`, string(resp.Result))

	status, resp = f.call(t, aliceToken, "ledger_transfer", map[string]interface{}{
		"to":    f.admin.Hex(),
		"asset": map[string]interface{}{"tokenType": uint8(asset.Fungible), "token": coin.Hex(), "amount": "60"},
	})
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)
	balance, err := f.ledger.BalanceOf(coin, f.admin)
	require.NoError(t, err)
	require.Equal(t, uint64(60), balance.Uint64())

	// A failed transfer leaves the ledger untouched.
	status, resp = f.call(t, aliceToken, "ledger_transfer", map[string]interface{}{
		"to":    f.admin.Hex(),
		"asset": map[string]interface{}{"tokenType": uint8(asset.Fungible), "token": coin.Hex(), "amount": "1"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, map[string]interface{}{"code": "InsufficientBalance"}, resp.Error.Data)
}

func TestSetApprovalForAllOverRPC(t *testing.T) {
	f := newFixture(t)
	nft, err := f.ledger.DeployNonFungible("Relics", "RLC", false, f.admin)
	require.NoError(t, err)
	aliceToken := token(t, testSecret, alice, time.Minute)

	status, resp := f.call(t, aliceToken, "ledger_setApprovalForAll", map[string]interface{}{
		"token": nft.Hex(), "operator": exchangeAt.Hex(), "approved": true,
	})
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)
	approved, err := f.ledger.IsApprovedForAll(nft, alice, exchangeAt)
	require.NoError(t, err)
	require.True(t, approved)

	status, resp = f.call(t, aliceToken, "ledger_approve", map[string]interface{}{
		"token": nft.Hex(), "spender": exchangeAt.Hex(), "tokenId": "1",
	})
	require.Equal(t, http.StatusUnprocessableEntity, status, "token 1 was never minted")
	require.Equal(t, codeEngineError, resp.Error.Code)

	status, resp = f.call(t, aliceToken, "ledger_approve", map[string]interface{}{
		"token": alice.Hex(), "spender": exchangeAt.Hex(), "amount": "1",
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestRandomFulfilOverRPC(t *testing.T) {
	f := newFixture(t)
	var delivered *uint256.Int
	f.coord.Register("test", func(_ *random.Request, word *uint256.Int) error {
		delivered = word.Clone()
		return nil
	})
	id, err := f.coord.Request("test", nil)
	require.NoError(t, err)

	rec := f.get(t, "/v1/random/pending")
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []requestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending, 1)
	require.Equal(t, id, pending[0].ID)

	params := map[string]interface{}{"id": id.String(), "word": "12345"}
	status, resp := f.call(t, token(t, testSecret, alice, time.Minute), "random_fulfill", params)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeForbidden, resp.Error.Code)

	status, resp = f.call(t, token(t, testSecret, oracle, time.Minute), "random_fulfill", params)
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)
	require.Equal(t, uint64(12345), delivered.Uint64())

	status, _ = f.call(t, "", "random_pending", nil)
	require.Equal(t, http.StatusOK, status)
}

func TestRateLimiter(t *testing.T) {
	l := newRateLimiter(1, 2)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	require.True(t, l.allow("a"))
	require.True(t, l.allow("a"))
	require.False(t, l.allow("a"))
	require.True(t, l.allow("b"))
	now = now.Add(time.Second)
	require.True(t, l.allow("a"))
}
