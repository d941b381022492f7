package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"stakestream/config"
	"stakestream/core/events"
	"stakestream/crypto"
	"stakestream/gateway"
	"stakestream/gateway/middleware"
	"stakestream/native/rewards"
	"stakestream/native/token"
	"stakestream/native/vesting"
	"stakestream/observability/logging"
	"stakestream/observability/metrics"
	"stakestream/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./stakestream.toml", "path to daemon configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Setup("stakestreamd", cfg.Log.Env, logging.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	owner, _ := config.Address(cfg.OwnerAddress)
	authority, _ := config.Address(cfg.RewardAuthority)
	minter, _ := config.Address(cfg.TokenMinter)
	counterparty, _ := config.Address(cfg.TokenCounterparty)

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	state := storage.NewState(db)

	bus := events.NewBus()
	emitter := events.MultiEmitter{bus, metrics.NewObserver()}

	ledger := vesting.NewLedger(owner)
	ledger.SetState(state)
	ledger.SetEmitter(emitter)
	if err := applyGenesisGrants(ledger, owner, cfg.GenesisGrantsFile); err != nil {
		logger.Error("apply genesis grants", "error", err)
		os.Exit(1)
	}

	engine := rewards.NewEngine(cfg.RewardsDuration)
	engine.SetState(state)
	engine.SetEmitter(emitter)
	engine.SetOwner(owner)
	engine.SetAuthority(authority)
	engine.SetAllocator(ledger.BoundAllocator(authority))

	gate := token.NewGate(minter, counterparty)
	gate.SetState(state)
	gate.SetPool(engine)
	gate.SetAllocator(ledger.BoundAllocator(counterparty))
	gate.SetEmitter(emitter)

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for key, rl := range cfg.RateLimits {
		limits[key] = middleware.RateLimit{RequestsPerMinute: rl.RequestsPerMinute, Burst: rl.Burst}
	}

	handler := gateway.NewRouter(gateway.Config{
		Engine: engine,
		Ledger: ledger,
		Gate:   gate,
		Bus:    bus,
		Logger: logger,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(limits),
	})

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go syncPoolGauges(ctx, engine, logger)

	go func() {
		logger.Info("listening", "address", cfg.ListenAddress, "network", cfg.NetworkName)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen and serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// applyGenesisGrants seeds distributor roles and budgets on first boot. A
// distributor that already holds the role is assumed to have been seeded by a
// previous run and is skipped, so restarts do not double-assign budgets.
func applyGenesisGrants(ledger *vesting.Ledger, owner crypto.Address, path string) error {
	grants, err := config.LoadGenesisGrants(path)
	if err != nil {
		return err
	}
	for _, grant := range grants {
		seeded, err := ledger.HasDistributorRole(grant.Distributor)
		if err != nil {
			return err
		}
		if seeded {
			continue
		}
		if err := ledger.GrantDistributorRole(owner, grant.Distributor); err != nil {
			return err
		}
		if grant.Budget != nil && grant.Budget.Sign() > 0 {
			if err := ledger.Assign(owner, grant.Distributor, grant.Budget); err != nil {
				return err
			}
		}
	}
	return nil
}

// syncPoolGauges refreshes the pool-level metrics every few seconds so
// dashboards follow emissions even between HTTP mutations.
func syncPoolGauges(ctx context.Context, engine *rewards.Engine, logger *slog.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	registry := metrics.Rewards()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pool, err := engine.PoolSnapshot()
			if err != nil {
				logger.Warn("pool snapshot for metrics failed", "error", err)
				continue
			}
			registry.SetPoolGauges(pool.TotalStaked, pool.RewardRate, pool.PeriodFinish)
		}
	}
}
