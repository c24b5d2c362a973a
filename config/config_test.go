package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"assetmech/crypto"
	"assetmech/native/asset"
	"assetmech/native/factory"
)

func TestLoadWithoutPassphraseFailsToCreateDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	_, err := Load(path)
	require.ErrorIs(t, err, errNoPassphrase)
}

func TestLoadCreatesDefaultsAndKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path, WithKeystorePassphrase("strong-passphrase"))
	require.NoError(t, err)
	require.Equal(t, DefaultRPCAddress, cfg.RPCAddress)
	require.Equal(t, DefaultChainID, cfg.ChainID)
	require.Equal(t, filepath.Join(dir, "admin.keystore"), cfg.AdminKeystorePath)
	require.Equal(t, filepath.Join(dir, "catalogue.yaml"), cfg.CataloguePath)
	require.Equal(t, filepath.Join(DefaultDataDir, "journal.db"), cfg.JournalDSN)

	key, err := crypto.LoadFromKeystore(cfg.AdminKeystorePath, "strong-passphrase")
	require.NoError(t, err)
	require.NotNil(t, key)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.AdminKeystorePath, reloaded.AdminKeystorePath)
	require.Equal(t, 40, reloaded.RateLimit.Burst)
}

func TestLoadRejectsUnknownKeysAndBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	keystorePath := filepath.Join(dir, "admin.keystore")
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	require.NoError(t, crypto.SaveToKeystore(keystorePath, key, ""))

	require.NoError(t, os.WriteFile(path, []byte("Bogus = 1\n"), 0o644))
	_, err = Load(path)
	require.ErrorContains(t, err, "unknown key Bogus")

	require.NoError(t, os.WriteFile(path, []byte("LogLevel = \"loud\"\n"), 0o644))
	_, err = Load(path)
	require.ErrorContains(t, err, "LogLevel")

	require.NoError(t, os.WriteFile(path, []byte("[Addresses]\nExchange = \"nope\"\n"), 0o644))
	_, err = Load(path)
	require.ErrorContains(t, err, "Addresses.Exchange")
}

func TestEngineAddress(t *testing.T) {
	fallback := common.HexToAddress("0x01")
	require.Equal(t, fallback, EngineAddress("", fallback))
	require.Equal(t, common.HexToAddress("0xe0"), EngineAddress("0x00000000000000000000000000000000000000e0", fallback))
}

const catalogueYAML = `
exchange:
  name: Exchange
  referralBps: 500
  payees:
    - account: "0x00000000000000000000000000000000000000b0"
      shares: 1
    - account: "0x00000000000000000000000000000000000000c0"
      shares: 3
templates:
  - kind: staking
    code: staking/v2
staking:
  - address: "0x00000000000000000000000000000000000000d0"
    maxStake: 4
    rules:
      - externalId: "1"
        deposit: {tokenType: 0, amount: "10000000"}
        reward: {tokenType: 0, amount: "1000"}
        period: 5m
        cap: 10
      - externalId: "0x02"
        deposit: {tokenType: 0, amount: "1"}
        reward: {tokenType: 0, amount: "1"}
        period: 3600
        penalty: 10
        recurrent: true
        active: false
vesting:
  - address: "0x00000000000000000000000000000000000000f0"
    beneficiary: "0x00000000000000000000000000000000000000a0"
    start: 1700000000
    duration: 8760h
    template: Team
oracles:
  - "0x00000000000000000000000000000000000000aa"
`

func TestLoadCatalogue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalogue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogueYAML), 0o644))

	cat, err := LoadCatalogue(path)
	require.NoError(t, err)

	cfg, err := cat.ExchangeConfig(7)
	require.NoError(t, err)
	require.Equal(t, uint32(500), cfg.ReferralBps)
	require.Len(t, cfg.Payees, 2)
	require.Equal(t, uint64(3), cfg.Payees[1].Shares)
	require.Equal(t, int64(7), cfg.ChainID.Int64())

	templates, err := cat.FactoryTemplates()
	require.NoError(t, err)
	require.Equal(t, factory.KindStaking, templates[0].Kind)

	require.Len(t, cat.Staking, 1)
	rules, err := cat.Staking[0].StakingRules()
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, uint64(300), rules[0].Period)
	require.True(t, rules[0].Active)
	require.Equal(t, asset.Native, rules[0].Deposit.Kind)
	require.Equal(t, uint64(2), rules[1].ExternalID.Uint64())
	require.Equal(t, uint64(3600), rules[1].Period)
	require.False(t, rules[1].Active)
	require.Equal(t, uint64(4), *cat.Staking[0].MaxStake)
	require.Equal(t, uint64(10), cat.Staking[0].Rules[0].Cap)

	addr, schedule, err := cat.Vesting[0].Schedule()
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xf0"), addr)
	require.Equal(t, uint64((8760 * time.Hour).Seconds()), schedule.Duration)

	oracles, err := cat.OracleAccounts()
	require.NoError(t, err)
	require.Equal(t, []common.Address{common.HexToAddress("0xaa")}, oracles)
}

func TestLoadCatalogueMissingFileIsEmpty(t *testing.T) {
	cat, err := LoadCatalogue(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Empty(t, cat.Staking)
}

func TestLoadCatalogueRejectsInvalidEntries(t *testing.T) {
	cases := map[string]string{
		"referral":   "exchange:\n  referralBps: 10001\n",
		"payee":      "exchange:\n  payees:\n    - account: \"0x00000000000000000000000000000000000000b0\"\n      shares: 0\n",
		"template":   "templates:\n  - kind: lending\n    code: x\n",
		"oracle":     "oracles: [\"nope\"]\n",
		"period":     "staking:\n  - address: \"0x00000000000000000000000000000000000000d0\"\n    rules:\n      - externalId: \"1\"\n        deposit: {tokenType: 0, amount: \"1\"}\n        reward: {tokenType: 0, amount: \"1\"}\n        period: soon\n",
		"unknownKey": "exchnage: {}\n",
		"vesting":    "vesting:\n  - address: \"0x00000000000000000000000000000000000000f0\"\n    beneficiary: \"0x00000000000000000000000000000000000000a0\"\n    template: Unknown\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "catalogue.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := LoadCatalogue(path)
			require.Error(t, err)
		})
	}
}
