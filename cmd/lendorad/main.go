package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lendora/config"
	"lendora/core/events"
	"lendora/core/state"
	"lendora/native/lending"
	"lendora/observability/logging"
	"lendora/observability/metrics"
	"lendora/rpc"
	"lendora/storage"
)

func main() {
	configPath := flag.String("config", "lendora.toml", "path to the TOML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "lendorad: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.Setup(logging.Options{
		Service:  "lendorad",
		Env:      cfg.Env,
		FilePath: cfg.LogFile,
	})

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("close state database", "err", closeErr)
		}
	}()

	manager := state.NewManager(db)
	oracle := lending.NewStaticOracle(nil)
	for asset, price := range cfg.Oracle.Prices {
		parsed, ok := new(big.Int).SetString(strings.TrimSpace(price), 10)
		if !ok {
			return fmt.Errorf("oracle price for %s is not a decimal integer", asset)
		}
		if err := oracle.SetPrice(asset, parsed); err != nil {
			return err
		}
	}

	if !common.IsHexAddress(cfg.AdminAddress) {
		return fmt.Errorf("AdminAddress must be a 20-byte hex address")
	}
	admin := common.HexToAddress(cfg.AdminAddress)
	custody := common.HexToAddress("0x00000000000000000000000000004c454e44")
	if strings.TrimSpace(cfg.CustodyAddress) != "" {
		if !common.IsHexAddress(cfg.CustodyAddress) {
			return fmt.Errorf("CustodyAddress must be a 20-byte hex address")
		}
		custody = common.HexToAddress(cfg.CustodyAddress)
	}

	ring := events.NewRing(1024)
	engine := lending.NewEngine(admin, custody)
	engine.SetState(manager)
	engine.SetOracle(oracle)
	engine.SetEmitter(ring)

	if err := registerReserves(engine, manager, admin, cfg.Reserves, logger); err != nil {
		return err
	}
	if err := seedGenesis(manager, cfg.Genesis, logger); err != nil {
		return err
	}

	server := rpc.NewServer(rpc.Config{
		Engine:             engine,
		Oracle:             oracle,
		Funder:             manager,
		Events:             ring,
		Logger:             logger,
		JWTSecret:          cfg.JWTSecret,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rpc listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

// registerReserves initializes configured reserves that are not yet present
// and re-attaches rate models to the ones that are.
func registerReserves(engine *lending.Engine, manager *state.Manager, admin common.Address, reserves []lending.ReserveSettings, logger *slog.Logger) error {
	count := 0
	for _, settings := range reserves {
		reserveCfg, err := settings.ReserveConfig()
		if err != nil {
			return err
		}
		existing, err := manager.GetReserve(settings.Asset)
		if err != nil {
			return err
		}
		if existing != nil {
			engine.AttachRateModel(settings.Asset, reserveCfg.Model)
			count++
			continue
		}
		if err := engine.InitReserve(admin, settings.Asset, reserveCfg); err != nil {
			return fmt.Errorf("initialize reserve %s: %w", settings.Asset, err)
		}
		logger.Info("reserve initialized", "asset", settings.Asset)
		count++
	}
	metrics.Lending().SetReserveCount(count)
	return nil
}

// seedGenesis credits configured balances exactly once, keyed by a marker so
// restarts do not double-fund.
func seedGenesis(manager *state.Manager, fundings []config.GenesisFunding, logger *slog.Logger) error {
	for _, funding := range fundings {
		if !common.IsHexAddress(funding.Account) {
			return fmt.Errorf("genesis funding account %q is not a hex address", funding.Account)
		}
		account := common.HexToAddress(funding.Account)
		amount, ok := new(big.Int).SetString(strings.TrimSpace(funding.Amount), 10)
		if !ok || amount.Sign() < 0 {
			return fmt.Errorf("genesis funding amount %q is not a non-negative integer", funding.Amount)
		}
		applied, err := manager.MarkGenesisApplied(funding.Asset, account)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := manager.Credit(funding.Asset, account, amount); err != nil {
			return err
		}
		logger.Info("genesis funding applied", "asset", funding.Asset, "account", account.Hex())
	}
	return nil
}
