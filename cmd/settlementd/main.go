package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"assetmech/cmd/internal/passphrase"
	"assetmech/config"
	"assetmech/core/state"
	"assetmech/crypto"
	"assetmech/native/access"
	"assetmech/native/exchange"
	"assetmech/native/factory"
	"assetmech/native/ledger"
	"assetmech/native/random"
	"assetmech/native/vesting"
	"assetmech/observability/logging"
	"assetmech/rpc"
	"assetmech/storage"
	"assetmech/storage/journal"
)

const adminPassEnv = "SETTLEMENT_ADMIN_PASS"

var (
	defaultExchangeAddress    = common.HexToAddress("0x00000000000000000000000000000000000e0001")
	defaultFactoryAddress     = common.HexToAddress("0x00000000000000000000000000000000000f0001")
	defaultCoordinatorAddress = common.HexToAddress("0x00000000000000000000000000000000000c0001")
)

func main() {
	configFile := flag.String("config", "./settlement.toml", "Path to the configuration file")
	flag.Parse()

	passSource := passphrase.NewSource(adminPassEnv, "admin keystore")
	cfg, err := config.Load(*configFile, config.WithKeystorePassphraseSource(passSource.Get))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup("settlementd", cfg.Env, cfg.LoggingOptions())

	if err := run(cfg, passSource, logger); err != nil {
		logger.Error("settlementd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, passSource *passphrase.Source, logger *slog.Logger) error {
	pass, err := passSource.Get()
	if err != nil {
		return err
	}
	adminKey, err := crypto.LoadFromKeystore(cfg.AdminKeystorePath, pass)
	if err != nil {
		return fmt.Errorf("unlock admin keystore: %w", err)
	}
	catalogue, err := config.LoadCatalogue(cfg.CataloguePath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	events, err := journal.Open(cfg.JournalDSN, logger)
	if err != nil {
		return err
	}
	defer events.Close()

	node, err := assemble(cfg, state.NewManager(db, state.WithSink(events), state.WithAutoCommit()), catalogue)
	if err != nil {
		return err
	}
	admin := adminKey.Address()
	if err := node.bootstrap(admin, catalogue, logger); err != nil {
		return err
	}
	logger.Info("settlementd ready",
		"admin", admin.Hex(),
		"exchange", node.exchange.Address().Hex(),
		"factory", node.factory.Address().Hex(),
		"coordinator", node.coordinator.Address().Hex(),
	)

	server := rpc.NewServer(rpc.Config{
		State:             node.state,
		Exchange:          node.exchange,
		Factory:           node.factory,
		Vesting:           node.vesting,
		Coordinator:       node.coordinator,
		Ledger:            node.ledger,
		Events:            events,
		Logger:            logger,
		AuthSecret:        cfg.OracleSecret(),
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	})
	if len(cfg.OracleSecret()) == 0 {
		logger.Warn("bearer secret not set; mutating RPC methods are disabled", "env", cfg.OracleSecretEnv)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.Start(ctx, cfg.RPCAddress)
}

// node holds the wired engines sharing one state manager.
type node struct {
	state       *state.Manager
	roles       *access.Registry
	ledger      *ledger.Ledger
	coordinator *random.Coordinator
	vesting     *vesting.Engine
	factory     *factory.Engine
	exchange    *exchange.Engine
}

func assemble(cfg *config.Config, mgr *state.Manager, catalogue *config.Catalogue) (*node, error) {
	roles := access.NewRegistry(mgr)
	roles.SetEmitter(mgr)
	l := ledger.New(mgr, roles)
	l.SetEmitter(mgr)
	coord := random.NewCoordinator(config.EngineAddress(cfg.Addresses.Coordinator, defaultCoordinatorAddress), mgr, roles)
	coord.SetEmitter(mgr)
	l.SetRandom(coord)

	v := vesting.NewEngine(mgr, l, roles)
	v.SetEmitter(mgr)
	chainID := new(big.Int).SetUint64(cfg.ChainID)
	fac, err := factory.NewEngine(config.EngineAddress(cfg.Addresses.Factory, defaultFactoryAddress), chainID, mgr, l, roles, v)
	if err != nil {
		return nil, err
	}
	fac.SetEmitter(mgr)

	exCfg, err := catalogue.ExchangeConfig(cfg.ChainID)
	if err != nil {
		return nil, err
	}
	ex, err := exchange.NewEngine(config.EngineAddress(cfg.Addresses.Exchange, defaultExchangeAddress), exCfg, mgr, l, roles)
	if err != nil {
		return nil, err
	}
	ex.SetEmitter(mgr)

	return &node{state: mgr, roles: roles, ledger: l, coordinator: coord, vesting: v, factory: fac, exchange: ex}, nil
}
