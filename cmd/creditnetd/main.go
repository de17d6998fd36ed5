package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"creditnet/config"
	"creditnet/core/events"
	"creditnet/core/genesis"
	"creditnet/core/state"
	"creditnet/journal"
	"creditnet/native/credit"
	"creditnet/native/registry"
	"creditnet/observability"
	"creditnet/observability/logging"
	telemetry "creditnet/observability/otel"
	"creditnet/relay"
	"creditnet/rpc"
	"creditnet/rpc/modules"
	"creditnet/storage"
)

const (
	serviceName    = "creditnetd"
	genesisPathEnv = "CREDITNET_GENESIS"
	rpcTokenEnv    = "CREDITNET_RPC_TOKEN"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the node configuration file")
	genesisPath := flag.String("genesis", "", "path to a genesis spec (overrides "+genesisPathEnv+" and the config file)")
	allowMigrate := flag.Bool("allow-migrate", false, "permit booting against an older state schema")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse log level: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(serviceName, cfg.Environment, level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: serviceName,
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		})
		if err != nil {
			fatal(logger, "initialise telemetry", err)
		}
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				logger.Error("telemetry shutdown", slog.Any("error", err))
			}
		}()
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		fatal(logger, "open state database", err)
	}
	defer db.Close()

	manager := state.NewManager(db)
	if err := manager.EnsureStateVersion(*allowMigrate); err != nil {
		fatal(logger, "check state schema", err)
	}

	if err := bootstrapGenesis(manager, resolveGenesisPath(*genesisPath, cfg.GenesisFile, os.LookupEnv), logger); err != nil {
		fatal(logger, "bootstrap genesis", err)
	}

	j, err := journal.NewJournal(cfg.JournalPath(), nil)
	if err != nil {
		fatal(logger, "open event journal", err)
	}
	defer j.Close()
	j.SetErrorFunc(func(err error) {
		logger.Error("journal append", slog.Any("error", err))
	})

	engine := credit.NewEngine()
	engine.SetState(manager)
	engine.SetAssets(state.NewVault(manager))
	engine.SetPauses(cfg.Pauses.View())
	engine.SetEmitter(meteredEmitter{next: j})

	reg := registry.NewRegistry()
	reg.SetState(manager)
	reg.SetTransferHook(engine)
	engine.SetRegistry(reg)

	if path := strings.TrimSpace(cfg.Relay.ConfigFile); path != "" {
		relayCfg, err := relay.LoadConfig(path)
		if err != nil {
			fatal(logger, "load relay config", err)
		}
		forwarder, err := relay.New(j, relayCfg, relay.WithLogger(logger))
		if err != nil {
			fatal(logger, "start relay", err)
		}
		defer forwarder.Close()
	}

	if strings.TrimSpace(os.Getenv(rpcTokenEnv)) == "" {
		logger.Warn("rpc auth token not set; mutating methods will be rejected", "env", rpcTokenEnv)
	}

	server := rpc.NewServer(modules.NewCreditModule(engine, reg), j,
		rpc.WithLogger(logger),
		rpc.WithRateLimit(cfg.RPCMutationsPerSecond, cfg.RPCMutationBurst),
	)

	logger.Info("creditnet node ready",
		"network", cfg.NetworkName,
		"data_dir", cfg.DataDir,
		"listen", cfg.ListenRPC,
	)
	if err := server.Run(ctx, cfg.ListenRPC); err != nil {
		fatal(logger, "rpc server", err)
	}
	logger.Info("creditnet node stopped")
}

// bootstrapGenesis applies the genesis spec on first boot. Once the applied
// marker is present the spec file is ignored entirely, so operators can leave
// the path configured across restarts.
func bootstrapGenesis(manager *state.Manager, path string, logger *slog.Logger) error {
	chain, applied, err := manager.GenesisApplied()
	if err != nil {
		return err
	}
	if applied {
		logger.Info("genesis already applied", "chain", chain)
		return nil
	}
	if path == "" {
		return fmt.Errorf("state is empty and no genesis spec was provided (use --genesis, %s, or GenesisFile)", genesisPathEnv)
	}
	spec, err := genesis.LoadSpec(path)
	if err != nil {
		return err
	}
	if err := genesis.Apply(spec, manager); err != nil {
		return err
	}
	logger.Info("genesis applied", "chain", spec.ChainName, "path", path,
		"tokens", len(spec.Tokens), "pools", len(spec.Pools), "credit_lines", len(spec.CreditLines))
	return nil
}

// resolveGenesisPath picks the genesis spec location by precedence: the
// --genesis flag, then the environment, then the config file.
func resolveGenesisPath(cliPath, cfgPath string, lookup func(string) (string, bool)) string {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return strings.TrimSpace(cfgPath)
}

// meteredEmitter counts each ledger event before handing it to the journal.
type meteredEmitter struct {
	next events.Emitter
}

func (m meteredEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	observability.Events().RecordEvent(evt.EventType())
	m.next.Emit(evt)
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.Any("error", err))
	os.Exit(1)
}
