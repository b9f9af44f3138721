package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentscan/registry-indexer/internal/bus"
	"github.com/agentscan/registry-indexer/internal/common"
	"github.com/agentscan/registry-indexer/internal/config"
	"github.com/agentscan/registry-indexer/internal/db"
	"github.com/agentscan/registry-indexer/internal/decoder"
	"github.com/agentscan/registry-indexer/internal/health"
	"github.com/agentscan/registry-indexer/internal/indexer"
	"github.com/agentscan/registry-indexer/internal/logger"
	"github.com/agentscan/registry-indexer/internal/metrics"
	"github.com/agentscan/registry-indexer/internal/migrations"
	"github.com/agentscan/registry-indexer/internal/provider"
	"github.com/agentscan/registry-indexer/internal/stats"
	"github.com/agentscan/registry-indexer/internal/store"
	"github.com/agentscan/registry-indexer/internal/supervisor"
	"github.com/agentscan/registry-indexer/pkg/api"
	pkgconfig "github.com/agentscan/registry-indexer/pkg/config"
	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "registry-indexer",
	Short: "Multi-chain registry event indexer",
	Long: `registry-indexer tails the Identity, Reputation, and Validation registry
contracts across EVM chains, persists their events with cross-chain
de-duplication, and streams newly stored events to live subscribers.`,
	Version: version,
	RunE:    runIndexer,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the configuration JSON Schema",
	Long:  `Emit the JSON Schema of the configuration file for editor validation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schema := jsonschema.Reflect(&pkgconfig.Config{})
		out, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal schema: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(schemaCmd)
}

func runIndexer(cmd *cobra.Command, args []string) error {
	// Optional .env for process-level settings (database path, listen addresses)
	_ = godotenv.Load()

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.NewComponentLoggerFromConfig(common.ComponentSupervisor, cfg.Logging)
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infow("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// Migrations run before anything touches the database.
	log.Info("Running database migrations...")
	if err := migrations.RunMigrations(cfg.Database.Path); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	st := store.New(database, logger.NewComponentLoggerFromConfig(common.ComponentStore, cfg.Logging))
	defer st.Close()

	// Reconcile the static chain rows with the configuration.
	for _, chain := range cfg.Chains {
		rpcURL := ""
		if providers := chain.Providers(); len(providers) > 0 {
			rpcURL = providers[0].URL
		}
		if err := st.UpsertChain(ctx,
			chain.ChainID, chain.Name, rpcURL, chain.Enabled,
			chain.Contracts.IdentityRegistry,
			chain.Contracts.ReputationRegistry,
			chain.Contracts.ValidationRegistry,
		); err != nil {
			return fmt.Errorf("failed to reconcile chain %d: %w", chain.ChainID, err)
		}
	}

	dec, err := decoder.New(cfg.EnabledChains())
	if err != nil {
		return fmt.Errorf("failed to build decoder: %w", err)
	}

	eventBus := bus.New(cfg.Global.MaxEventsInMemory, logger.NewComponentLoggerFromConfig(common.ComponentBus, cfg.Logging))
	defer eventBus.Close()

	tracker := stats.New()

	// Metrics server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics,
			logger.NewComponentLoggerFromConfig(common.ComponentMetrics, cfg.Logging))
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if err := metricsServer.Stop(stopCtx); err != nil {
				log.Warnf("failed to stop metrics server: %v", err)
			}
		}()
		log.Infof("Metrics server started on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	// API server
	if cfg.API != nil && cfg.API.Enabled {
		apiServer := api.NewServer(cfg.API, st, tracker, eventBus,
			logger.NewComponentLoggerFromConfig(common.ComponentAPI, cfg.Logging))
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				log.Errorf("API server error: %v", err)
			}
		}()
	}

	// Health monitor: stall detection and error-count decay.
	monitor := health.NewMonitor(st, tracker, cfg.Global.StallThreshold.Duration,
		logger.NewComponentLoggerFromConfig(common.ComponentHealth, cfg.Logging))
	go monitor.Run(ctx)

	// One indexer loop per enabled chain, each with its own provider pool.
	indexerLog := logger.NewComponentLoggerFromConfig(common.ComponentIndexer, cfg.Logging)
	poolLog := logger.NewComponentLoggerFromConfig(common.ComponentProviderPool, cfg.Logging)

	newRunner := func(chain pkgconfig.ChainConfig) (supervisor.ChainRunner, error) {
		pool, err := provider.New(chain.Name, chain.Providers(), cfg.Global.RPCTimeout.Duration, poolLog)
		if err != nil {
			return nil, err
		}
		loop, err := indexer.New(chain, cfg.Global, pool, st, dec, eventBus, tracker, indexerLog)
		if err != nil {
			return nil, err
		}
		return loop, nil
	}

	sup, err := supervisor.New(cfg.Global, cfg.Chains, st, tracker, newRunner,
		logger.NewComponentLoggerFromConfig(common.ComponentSupervisor, cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}

	log.Infow("Starting registry indexer", "version", version, "chains", len(cfg.EnabledChains()))

	if err := sup.Run(ctx); err != nil {
		return fmt.Errorf("supervisor failed: %w", err)
	}

	log.Info("Registry indexer stopped")
	return nil
}
