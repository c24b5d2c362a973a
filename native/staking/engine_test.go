package staking

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	coreerrors "assetmech/core/errors"
	"assetmech/core/events"
	"assetmech/core/state"
	"assetmech/core/types"
	"assetmech/native/access"
	"assetmech/native/asset"
	"assetmech/native/ledger"
	"assetmech/native/random"
	"assetmech/storage"
)

var (
	stakingAt = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	coordAt   = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	oracle    = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	admin     = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

const start int64 = 1_700_000_000

type fixture struct {
	mgr     *state.Manager
	roles   *access.Registry
	ledger  *ledger.Ledger
	coord   *random.Coordinator
	staking *Engine
	rec     *events.Recorder
	now     int64
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func newFixture(t testing.TB, maxStake uint64) *fixture {
	t.Helper()
	rec := &events.Recorder{}
	mgr := state.NewManager(storage.NewMemDB(), state.WithSink(rec))
	roles := access.NewRegistry(mgr)
	roles.SetEmitter(mgr)
	l := ledger.New(mgr, roles)
	l.SetEmitter(mgr)
	coord := random.NewCoordinator(coordAt, mgr, roles)
	coord.SetEmitter(mgr)
	l.SetRandom(coord)
	require.NoError(t, roles.GrantInternal(coordAt, access.OracleRole, oracle))
	require.NoError(t, roles.Bootstrap(stakingAt, admin))
	require.NoError(t, l.RegisterContract(stakingAt, ledger.AllReceivers))

	e, err := NewEngine(stakingAt, mgr, l, roles, maxStake)
	require.NoError(t, err)
	e.SetEmitter(mgr)
	f := &fixture{mgr: mgr, roles: roles, ledger: l, coord: coord, staking: e, rec: rec, now: start}
	e.SetNowFunc(func() int64 { return f.now })
	return f
}

func nativeRule(id uint64, deposit, reward uint64) Rule {
	r := Rule{
		Deposit: asset.NewNative(deposit),
		Reward:  asset.NewNative(reward),
		Period:  300,
		Active:  true,
	}
	r.ExternalID.SetUint64(id)
	return r
}

func (f *fixture) balance(t testing.TB, addr common.Address) uint64 {
	t.Helper()
	bal, err := f.ledger.NativeBalance(addr)
	require.NoError(t, err)
	return bal.Uint64()
}

func TestStakeNativeReceiveNative(t *testing.T) {
	f := newFixture(t, 0)
	const deposit, reward = 10_000_000, 1_000
	require.NoError(t, f.staking.SetRules(admin, []Rule{nativeRule(1, deposit, reward)}))
	require.NoError(t, f.ledger.Credit(admin, u(reward*10)))
	require.NoError(t, f.staking.Fund(admin, u(reward*10)))
	require.NoError(t, f.ledger.Credit(alice, u(deposit)))

	id, err := f.staking.Deposit(alice, u(1), nil, u(deposit))
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	require.Len(t, f.rec.Filter(EventTypeStakingStart), 1)

	f.now += 300 * 2
	f.rec.Reset()
	payout, err := f.staking.ReceiveReward(alice, id, true, true)
	require.NoError(t, err)
	require.Equal(t, uint64(2), payout.Multiplier)
	require.Equal(t, uint64(deposit+2*reward), f.balance(t, alice))
	require.Len(t, f.rec.Filter(EventTypeStakingWithdraw), 1)
	require.Len(t, f.rec.Filter(EventTypeStakingFinish), 1)
	require.Equal(t, "2", f.rec.Filter(EventTypeStakingFinish)[0].Attributes["multiplier"])

	stake, err := f.staking.Stake(id)
	require.NoError(t, err)
	require.True(t, stake.Withdrawn())
}

func TestRulesCreatedBeforeUpdate(t *testing.T) {
	f := newFixture(t, 0)
	err := f.staking.UpdateRule(admin, u(2), false)
	require.ErrorIs(t, err, coreerrors.ErrRuleNotFound)

	f.rec.Reset()
	require.NoError(t, f.staking.SetRules(admin, []Rule{nativeRule(1, 100, 1), nativeRule(2, 100, 1)}))
	require.Len(t, f.rec.Filter(EventTypeRuleCreated), 2)

	require.NoError(t, f.staking.UpdateRule(admin, u(2), false))
	updated := f.rec.Filter(EventTypeRuleUpdated)
	require.Len(t, updated, 1)
	require.Equal(t, "2", updated[0].Attributes["externalId"])
	require.Equal(t, "false", updated[0].Attributes["active"])

	_, err = f.staking.Deposit(alice, u(2), nil, u(100))
	require.ErrorIs(t, err, coreerrors.ErrRuleInactive)

	f.rec.Reset()
	require.NoError(t, f.staking.SetRules(admin, []Rule{nativeRule(2, 100, 1)}))
	require.Empty(t, f.rec.Filter(EventTypeRuleCreated))
	require.Len(t, f.rec.Filter(EventTypeRuleUpdated), 1)
	rule, err := f.staking.Rule(u(2))
	require.NoError(t, err)
	require.True(t, rule.Active)

	rules, err := f.staking.Rules()
	require.NoError(t, err)
	require.Len(t, rules, 2)

	err = f.staking.SetRules(bob, []Rule{nativeRule(3, 100, 1)})
	require.ErrorIs(t, err, access.ErrMissingRole)
	bad := nativeRule(4, 100, 1)
	bad.Period = 0
	require.ErrorIs(t, f.staking.SetRules(admin, []Rule{bad}), ErrInvalidRule)
}

func TestRulesRejectUntemplatedNFTPayouts(t *testing.T) {
	f := newFixture(t, 0)
	heroes := common.HexToAddress("0x00000000000000000000000000000000000000e7")

	reward := nativeRule(1, 100, 1)
	reward.Reward = asset.NewNonFungible(heroes, 0)
	require.ErrorIs(t, f.staking.SetRules(admin, []Rule{reward}), ErrInvalidRule)

	content := nativeRule(2, 100, 1)
	content.Content = []asset.Asset{asset.NewNonFungible(heroes, 0)}
	require.ErrorIs(t, f.staking.SetRules(admin, []Rule{content}), ErrInvalidRule)

	anyTemplate := nativeRule(3, 100, 1)
	anyTemplate.Deposit = asset.NewNonFungible(heroes, 0)
	require.NoError(t, f.staking.SetRules(admin, []Rule{anyTemplate}), "deposits may accept any template")

	rules, err := f.staking.Rules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
}

func TestDepositFailures(t *testing.T) {
	f := newFixture(t, 1)
	require.NoError(t, f.staking.SetRules(admin, []Rule{nativeRule(1, 100, 1)}))
	require.NoError(t, f.ledger.Credit(alice, u(1000)))

	_, err := f.staking.Deposit(alice, u(9), nil, u(100))
	require.ErrorIs(t, err, coreerrors.ErrRuleNotFound)
	_, err = f.staking.Deposit(alice, u(1), nil, u(99))
	require.ErrorIs(t, err, coreerrors.ErrWrongAmount)
	_, err = f.staking.Deposit(alice, u(1), nil, u(100))
	require.NoError(t, err)
	_, err = f.staking.Deposit(alice, u(1), nil, u(100))
	require.ErrorIs(t, err, coreerrors.ErrStakeLimitExceeded)

	require.NoError(t, f.staking.SetMaxStake(admin, 0))
	require.NoError(t, f.staking.SetRuleCap(admin, u(1), 2))
	_, err = f.staking.Deposit(alice, u(1), nil, u(100))
	require.NoError(t, err)
	_, err = f.staking.Deposit(alice, u(1), nil, u(100))
	require.ErrorIs(t, err, coreerrors.ErrStakeLimitExceeded)
	require.Equal(t, uint64(800), f.balance(t, alice), "failed deposits keep the attached value")
}

func TestReceiveRewardStateErrors(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.staking.SetRules(admin, []Rule{nativeRule(1, 100, 1)}))
	require.NoError(t, f.ledger.Credit(alice, u(100)))
	id, err := f.staking.Deposit(alice, u(1), nil, u(100))
	require.NoError(t, err)

	_, err = f.staking.ReceiveReward(alice, 42, true, true)
	require.ErrorIs(t, err, coreerrors.ErrInvalidStakeID)
	_, err = f.staking.ReceiveReward(bob, id, true, true)
	require.ErrorIs(t, err, coreerrors.ErrNotOwner)
	_, err = f.staking.ReceiveReward(alice, id, false, false)
	require.ErrorIs(t, err, coreerrors.ErrNothingToClaim)
	_, err = f.staking.ReceiveReward(alice, id, false, true)
	require.ErrorIs(t, err, coreerrors.ErrNothingToClaim, "no cycle completed yet")

	_, err = f.staking.ReceiveReward(alice, id, true, false)
	require.NoError(t, err)
	_, err = f.staking.ReceiveReward(alice, id, true, true)
	require.ErrorIs(t, err, coreerrors.ErrAlreadyWithdrawn)
}

func TestEarlyWithdrawalPenalty(t *testing.T) {
	f := newFixture(t, 0)
	coin, err := f.ledger.DeployFungible("Gold", "GLD", false, admin)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Mint(coin, admin, alice, u(1000)))
	require.NoError(t, f.ledger.Approve(coin, alice, stakingAt, u(1000)))

	rule := nativeRule(1, 0, 1)
	rule.Deposit = asset.NewFungible(coin, 1000)
	rule.Penalty = 10
	require.NoError(t, f.staking.SetRules(admin, []Rule{rule}))

	_, err = f.staking.Deposit(alice, u(1), nil, u(5))
	require.ErrorIs(t, err, coreerrors.ErrWrongAmount, "token deposits take no native value")
	id, err := f.staking.Deposit(alice, u(1), nil, nil)
	require.NoError(t, err)

	f.now += 299
	f.rec.Reset()
	payout, err := f.staking.ReceiveReward(alice, id, true, false)
	require.NoError(t, err)
	require.Equal(t, uint64(900), payout.Deposit.Quantity.Uint64())
	require.Empty(t, f.rec.Filter(EventTypeStakingFinish))
	require.Len(t, f.rec.Filter(EventTypeStakingWithdraw), 1)

	kept, err := f.ledger.BalanceOf(coin, stakingAt)
	require.NoError(t, err)
	require.Equal(t, uint64(100), kept.Uint64())
}

func TestStakeNFTReceiveMintedToken(t *testing.T) {
	f := newFixture(t, 0)
	heroes, err := f.ledger.DeployNonFungible("Heroes", "HERO", false, admin)
	require.NoError(t, err)
	coin, err := f.ledger.DeployFungible("Gold", "GLD", false, admin)
	require.NoError(t, err)
	require.NoError(t, f.roles.GrantInternal(coin, access.MinterRole, stakingAt))

	rule := nativeRule(1, 0, 0)
	rule.Deposit = asset.NewNonFungible(heroes, 5)
	rule.Reward = asset.NewFungible(coin, 250)
	require.NoError(t, f.staking.SetRules(admin, []Rule{rule}))

	wrong, err := f.ledger.MintCommon(heroes, admin, alice, u(3))
	require.NoError(t, err)
	right, err := f.ledger.MintCommon(heroes, admin, alice, u(5))
	require.NoError(t, err)
	require.NoError(t, f.ledger.SetApprovalForAll(heroes, alice, stakingAt, true))

	_, err = f.staking.Deposit(alice, u(1), wrong, nil)
	require.ErrorIs(t, err, coreerrors.ErrWrongDepositToken)
	_, err = f.staking.Deposit(alice, u(1), u(77), nil)
	require.ErrorIs(t, err, coreerrors.ErrInvalidTokenID)
	id, err := f.staking.Deposit(alice, u(1), right, nil)
	require.NoError(t, err)
	owner, err := f.ledger.OwnerOf(heroes, right)
	require.NoError(t, err)
	require.Equal(t, stakingAt, owner)

	f.now += 300 * 2
	_, err = f.staking.ReceiveReward(alice, id, true, true)
	require.NoError(t, err)
	owner, err = f.ledger.OwnerOf(heroes, right)
	require.NoError(t, err)
	require.Equal(t, alice, owner)
	bal, err := f.ledger.BalanceOf(coin, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(500), bal.Uint64())
}

func TestRandomRewardQueuedUntilFulfilled(t *testing.T) {
	f := newFixture(t, 0)
	loot, err := f.ledger.DeployNonFungible("Loot", "LOOT", true, admin)
	require.NoError(t, err)
	require.NoError(t, f.roles.GrantInternal(loot, access.MinterRole, stakingAt))

	rule := nativeRule(1, 100, 0)
	rule.Reward = asset.NewNonFungible(loot, 2)
	require.NoError(t, f.staking.SetRules(admin, []Rule{rule}))
	require.NoError(t, f.ledger.Credit(alice, u(100)))
	id, err := f.staking.Deposit(alice, u(1), nil, u(100))
	require.NoError(t, err)

	f.now += 300 * 2
	f.rec.Reset()
	payout, err := f.staking.ReceiveReward(alice, id, true, true)
	require.NoError(t, err)
	require.Len(t, payout.Requests, 2)
	require.Empty(t, lootTransfers(f.rec, loot), "random rewards move nothing before fulfilment")
	require.NotEmpty(t, f.rec.Filter(ledger.EventTypeTransfer), "the native deposit is returned immediately")
	count, err := f.ledger.NFTBalance(loot, alice)
	require.NoError(t, err)
	require.Zero(t, count)

	for _, req := range payout.Requests {
		require.NoError(t, f.coord.Fulfill(oracle, req, u(9000)))
	}
	count, err = f.ledger.NFTBalance(loot, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)
	minted := lootTransfers(f.rec, loot)
	require.Len(t, minted, 2)
	for _, evt := range minted {
		require.Equal(t, alice.Hex(), evt.Attributes["to"])
	}
}

func lootTransfers(rec *events.Recorder, token common.Address) []*types.Event {
	var out []*types.Event
	for _, evt := range rec.Filter(ledger.EventTypeTransfer) {
		if evt.Attributes["kind"] == asset.NonFungible.String() && evt.Attributes["token"] == token.Hex() {
			out = append(out, evt)
		}
	}
	return out
}

func TestRecurrentRuleKeepsStakeActive(t *testing.T) {
	f := newFixture(t, 0)
	rule := nativeRule(1, 100, 10)
	rule.Recurrent = true
	require.NoError(t, f.staking.SetRules(admin, []Rule{rule}))
	require.NoError(t, f.ledger.Credit(admin, u(1000)))
	require.NoError(t, f.staking.Fund(admin, u(1000)))
	require.NoError(t, f.ledger.Credit(alice, u(100)))
	id, err := f.staking.Deposit(alice, u(1), nil, u(100))
	require.NoError(t, err)

	f.now += 300*3 + 150
	payout, err := f.staking.ReceiveReward(alice, id, false, true)
	require.NoError(t, err)
	require.Equal(t, uint64(3), payout.Multiplier)
	require.Nil(t, payout.Deposit)
	stake, err := f.staking.Stake(id)
	require.NoError(t, err)
	require.False(t, stake.Withdrawn())
	require.Equal(t, uint64(start+900), stake.StartedAt)

	_, err = f.staking.ReceiveReward(alice, id, false, true)
	require.ErrorIs(t, err, coreerrors.ErrNothingToClaim)

	f.now += 150
	cycles, err := f.staking.ElapsedCycles(id)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cycles)
	_, err = f.staking.ReceiveReward(alice, id, true, true)
	require.NoError(t, err)
	require.Equal(t, uint64(100+40), f.balance(t, alice))

	stakes, err := f.staking.StakesOf(alice)
	require.NoError(t, err)
	require.Len(t, stakes, 1)
	require.True(t, stakes[0].Withdrawn())
}

func TestNonRecurrentClaimClosesStake(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.staking.SetRules(admin, []Rule{nativeRule(1, 100, 10)}))
	require.NoError(t, f.ledger.Credit(admin, u(100)))
	require.NoError(t, f.staking.Fund(admin, u(100)))
	require.NoError(t, f.ledger.Credit(alice, u(100)))
	id, err := f.staking.Deposit(alice, u(1), nil, u(100))
	require.NoError(t, err)

	f.now += 300
	payout, err := f.staking.ReceiveReward(alice, id, false, true)
	require.NoError(t, err)
	require.NotNil(t, payout.Deposit)
	require.Equal(t, uint64(110), f.balance(t, alice))
	_, err = f.staking.ReceiveReward(alice, id, true, true)
	require.ErrorIs(t, err, coreerrors.ErrAlreadyWithdrawn)
}

func TestRewardShortfallRollsBack(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.staking.SetRules(admin, []Rule{nativeRule(1, 100, 10)}))
	require.NoError(t, f.ledger.Credit(alice, u(100)))
	id, err := f.staking.Deposit(alice, u(1), nil, u(100))
	require.NoError(t, err)

	f.now += 300
	_, err = f.staking.ReceiveReward(alice, id, true, true)
	require.ErrorIs(t, err, coreerrors.ErrInsufficientBalance)
	stake, err := f.staking.Stake(id)
	require.NoError(t, err)
	require.False(t, stake.Withdrawn(), "an unfunded reward leaves the stake open")
	require.Zero(t, f.balance(t, alice))
}

// P4: cycles never decrease as time moves forward and always equal the floor
// of elapsed time over the period.
func TestCyclesProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("cycles are monotone floor divisions", prop.ForAll(
		func(startedAt uint32, period uint32, t1 uint32, dt uint32) bool {
			now1 := int64(t1)
			now2 := now1 + int64(dt)
			c1 := Cycles(uint64(startedAt), uint64(period), now1)
			c2 := Cycles(uint64(startedAt), uint64(period), now2)
			if c2 < c1 {
				return false
			}
			want := uint64(0)
			if now1 > int64(startedAt) {
				want = uint64(now1-int64(startedAt)) / uint64(period)
			}
			return c1 == want
		},
		gen.UInt32(),
		gen.UInt32Range(1, 1<<16),
		gen.UInt32(),
		gen.UInt32Range(0, 1<<20),
	))

	properties.TestingRun(t)
}

// P5: once a stake is withdrawn every further receipt fails and pays nothing.
func TestSingleWithdrawalProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("withdrawn stakes never pay twice", prop.ForAll(
		func(elapsed uint16, withdraw, claim bool) bool {
			f := newFixture(t, 0)
			if f.staking.SetRules(admin, []Rule{nativeRule(1, 100, 10)}) != nil {
				return false
			}
			if f.ledger.Credit(alice, u(100)) != nil || f.ledger.Credit(stakingAt, u(1_000_000)) != nil {
				return false
			}
			id, err := f.staking.Deposit(alice, u(1), nil, u(100))
			if err != nil {
				return false
			}
			f.now += int64(elapsed)
			if _, err := f.staking.ReceiveReward(alice, id, true, true); err != nil {
				return false
			}
			before := f.balance(t, alice)
			_, err = f.staking.ReceiveReward(alice, id, withdraw, claim)
			return errors.Is(err, coreerrors.ErrAlreadyWithdrawn) && f.balance(t, alice) == before
		},
		gen.UInt16(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
