package factory

import (
	"bytes"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	coreerrors "assetmech/core/errors"
	"assetmech/core/events"
	"assetmech/core/state"
	"assetmech/native/access"
	"assetmech/native/asset"
	"assetmech/native/auth"
	"assetmech/native/ledger"
	"assetmech/native/staking"
	"assetmech/native/vesting"
	"assetmech/storage"
)

var (
	managerAt = common.HexToAddress("0x00000000000000000000000000000000000000cf")
	exchange  = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	receiver  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

type fixture struct {
	roles   *access.Registry
	ledger  *ledger.Ledger
	vesting *vesting.Engine
	manager *Engine
	rec     *events.Recorder
	key     *ecdsa.PrivateKey
	admin   common.Address
	now     int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec := &events.Recorder{}
	mgr := state.NewManager(storage.NewMemDB(), state.WithSink(rec))
	roles := access.NewRegistry(mgr)
	roles.SetEmitter(mgr)
	l := ledger.New(mgr, roles)
	l.SetEmitter(mgr)
	v := vesting.NewEngine(mgr, l, roles)
	v.SetEmitter(mgr)

	key, err := ethcrypto.ToECDSA(bytes.Repeat([]byte{0x33}, 32))
	require.NoError(t, err)
	admin := ethcrypto.PubkeyToAddress(key.PublicKey)
	require.NoError(t, roles.Bootstrap(managerAt, admin))

	m, err := NewEngine(managerAt, big.NewInt(10000), mgr, l, roles, v)
	require.NoError(t, err)
	m.SetEmitter(mgr)
	f := &fixture{roles: roles, ledger: l, vesting: v, manager: m, rec: rec, key: key, admin: admin, now: 1_700_000_000}
	m.SetNowFunc(func() int64 { return f.now })
	v.SetNowFunc(func() int64 { return f.now })
	return f
}

func params(seq byte, code string) Params {
	var p Params
	p.Nonce[31] = seq
	p.Bytecode = []byte(code)
	return p
}

func (f *fixture) sign(t *testing.T, msg auth.Message) []byte {
	t.Helper()
	sig, err := auth.Sign(f.key, f.manager.Domain(), msg)
	require.NoError(t, err)
	return sig
}

func TestDeployVesting(t *testing.T) {
	f := newFixture(t)
	p := params(1, "vesting/Team")
	args := VestingArgs{Account: receiver, StartTimestamp: uint64(f.now), Duration: 86400, ContractTemplate: "SIMPLE"}
	sig := f.sign(t, VestingMessage(p, args))

	addr, err := f.manager.DeployVesting(p, args, sig)
	require.NoError(t, err)
	all, err := f.manager.AllVesting()
	require.NoError(t, err)
	require.Equal(t, []common.Address{addr}, all)

	deployed := f.rec.Filter(EventTypeVestingDeployed)
	require.Len(t, deployed, 1)
	require.Equal(t, addr.Hex(), deployed[0].Attributes["addr"])
	require.Equal(t, receiver.Hex(), deployed[0].Attributes["account"])

	schedule, err := f.vesting.Schedule(addr)
	require.NoError(t, err)
	require.Equal(t, "Team", schedule.Template)
	require.Equal(t, receiver, schedule.Beneficiary)

	_, err = f.manager.DeployVesting(p, args, sig)
	require.ErrorIs(t, err, coreerrors.ErrNonceReused)

	contract, ok, err := f.ledger.Contract(addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, contract.Has(ledger.Payable))
}

func TestDeployVestingRejectsBadOrders(t *testing.T) {
	f := newFixture(t)
	args := VestingArgs{Account: receiver, StartTimestamp: uint64(f.now), Duration: 86400, ContractTemplate: "SIMPLE"}

	p := params(2, "vesting/Unknown")
	_, err := f.manager.DeployVesting(p, args, f.sign(t, VestingMessage(p, args)))
	require.ErrorIs(t, err, ErrUnknownBytecode)

	p = params(3, "staking/v1")
	_, err = f.manager.DeployVesting(p, args, f.sign(t, VestingMessage(p, args)))
	require.ErrorIs(t, err, ErrTemplateMismatch)

	p = params(4, "vesting/Team")
	sig := f.sign(t, VestingMessage(p, args))
	args.Duration++
	_, err = f.manager.DeployVesting(p, args, sig)
	require.ErrorIs(t, err, coreerrors.ErrInvalidSignature)

	all, err := f.manager.AllVesting()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestDeployStakingAndToken(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.AddFactory(f.admin, exchange, access.MinterRole))
	require.ErrorIs(t, f.manager.AddFactory(f.admin, exchange, access.MinterRole), ErrFactoryRegistered)
	require.ErrorIs(t, f.manager.AddFactory(receiver, receiver, access.MinterRole), access.ErrMissingRole)

	tp := params(5, "token/fungible")
	targs := TokenArgs{Name: "Gold", Symbol: "GLD", ContractTemplate: "SIMPLE"}
	token, err := f.manager.DeployToken(f.admin, tp, targs, f.sign(t, TokenMessage(tp, targs)))
	require.NoError(t, err)
	minter, err := f.ledger.IsMinter(token, exchange)
	require.NoError(t, err)
	require.True(t, minter, "registered factories receive their role")
	tokens, err := f.manager.AllTokens()
	require.NoError(t, err)
	require.Equal(t, []common.Address{token}, tokens)

	sp := params(6, "staking/v1")
	sargs := StakingArgs{MaxStake: 1, ContractTemplate: "SIMPLE"}
	addr, err := f.manager.DeployStaking(f.admin, sp, sargs, f.sign(t, StakingMessage(sp, sargs)))
	require.NoError(t, err)
	require.Len(t, f.rec.Filter(EventTypeStakingDeployed), 1)

	instance, err := f.manager.Staking(addr)
	require.NoError(t, err)
	rule := staking.Rule{
		Deposit: asset.NewFungible(token, 10),
		Reward:  asset.NewFungible(token, 1),
		Period:  60,
		Active:  true,
	}
	rule.ExternalID.SetUint64(1)
	require.NoError(t, instance.SetRules(f.admin, []staking.Rule{rule}))

	require.NoError(t, f.manager.RemoveFactory(f.admin, exchange))
	regs, err := f.manager.Factories()
	require.NoError(t, err)
	require.Empty(t, regs)

	_, err = f.manager.Staking(receiver)
	require.ErrorIs(t, err, ErrUnknownInstance)
}

func TestStakingReloadedFromRegistry(t *testing.T) {
	f := newFixture(t)
	sp := params(7, "staking/v1")
	sargs := StakingArgs{ContractTemplate: "SIMPLE"}
	addr, err := f.manager.DeployStaking(f.admin, sp, sargs, f.sign(t, StakingMessage(sp, sargs)))
	require.NoError(t, err)

	f.manager.mu.Lock()
	delete(f.manager.staking, addr)
	f.manager.mu.Unlock()

	instance, err := f.manager.Staking(addr)
	require.NoError(t, err)
	require.Equal(t, addr, instance.Address())
	_, err = instance.Rule(uint256.NewInt(1))
	require.ErrorIs(t, err, coreerrors.ErrRuleNotFound)
}
