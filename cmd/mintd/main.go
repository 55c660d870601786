package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"mintmgr/config"
	"mintmgr/core"
	"mintmgr/crypto"
	"mintmgr/observability/logging"
	telemetry "mintmgr/observability/otel"
	"mintmgr/rpc"
	"mintmgr/storage"
	"mintmgr/storage/receipts"
)

const serviceName = "mintd"

func main() {
	configFile := flag.String("config", "./mintd.toml", "Path to the configuration file (TOML or YAML)")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "mintd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	secret, err := cfg.RPCSecret()
	if err != nil {
		return err
	}

	logger := logging.Setup(serviceName, cfg.Log.Env, logging.Options{
		Level: logging.ParseLevel(cfg.Log.Level),
		File: logging.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		},
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Log.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.Storage, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	rt, err := core.NewRuntime(db, core.RuntimeConfig{
		ChainID:  cfg.ChainID,
		Contract: crypto.ContractAddress(cfg.ContractLabel),
	})
	if err != nil {
		return err
	}
	rt.SetLogger(logger)

	if cfg.ReceiptsDSN != "" {
		journal, err := receipts.Open(cfg.ReceiptsDSN)
		if err != nil {
			return fmt.Errorf("open receipt journal: %w", err)
		}
		defer journal.Close()
		rt.SetJournal(journal)
	}

	if err := bootstrap(ctx, rt, cfg.Mint, logger); err != nil {
		return err
	}

	if secret == "" {
		logger.Warn("RPC token verification disabled; callers are trusted to name their sender",
			logging.SecretSource("jwt_secret", cfg.RPC.JWTSecretEnv, secret),
			slog.Bool("allow_unauthenticated", cfg.RPC.AllowUnauthenticated))
	}
	server := rpc.NewServer(rt, rpc.Config{
		JWTSecret:         secret,
		JWTIssuer:         cfg.RPC.JWTIssuer,
		RequestsPerMinute: cfg.RPC.RequestsPerMinute,
		Burst:             cfg.RPC.Burst,
		TrustProxyHeaders: cfg.RPC.TrustProxyHeaders,
		ReadTimeout:       cfg.RPC.ReadTimeout.Duration,
		ShutdownTimeout:   cfg.RPC.ShutdownTimeout.Duration,
		Logger:            logger,
	})
	logger.Info("mint daemon ready",
		slog.String("chain_id", cfg.ChainID),
		slog.String("contract", crypto.FormatIdentity(crypto.ContractAddress(cfg.ContractLabel))),
		slog.Uint64("height", rt.Height()))
	return server.Start(ctx, cfg.RPC.Address)
}

// bootstrap instantiates the mint on first start when the config names an
// owner. The registration instructions are logged for the operator to submit.
func bootstrap(ctx context.Context, rt *core.Runtime, mintCfg config.MintConfig, logger *slog.Logger) error {
	instantiated, err := rt.Instantiated()
	if err != nil {
		return fmt.Errorf("inspect mint state: %w", err)
	}
	if instantiated {
		return nil
	}
	if !mintCfg.Configured() {
		logger.Warn("mint not instantiated and no owner configured; execute calls will fail until it is")
		return nil
	}
	owner, err := crypto.ParseIdentity(mintCfg.Owner)
	if err != nil {
		return fmt.Errorf("mint owner: %w", err)
	}
	msg, err := mintCfg.InstantiateMsg()
	if err != nil {
		return err
	}
	logger.Info("instantiating mint",
		slog.String("owner", mintCfg.Owner),
		logging.SecretSource("entropy_seed", mintCfg.EntropySeedEnv, msg.EntropySeed),
		logging.SecretSource("registration_key", mintCfg.RegistrationKeyEnv, msg.RegistrationKey))
	resp, err := rt.Instantiate(ctx, owner, msg)
	if err != nil {
		return fmt.Errorf("instantiate mint: %w", err)
	}
	if resp == nil {
		return errors.New("instantiate mint: empty response")
	}
	for _, ins := range resp.Instructions {
		attrs := []any{
			slog.String("kind", string(ins.Kind)),
			slog.String("contract", ins.Contract.Address),
			slog.String("code_hash", ins.Contract.CodeHash),
		}
		if ins.SetViewingKey != nil {
			attrs = append(attrs, logging.MaskField("registration_key", ins.SetViewingKey.Key))
		}
		logger.Info("registration instruction", attrs...)
	}
	logger.Info("mint instantiated", slog.String("tx", resp.TxHash), slog.Uint64("height", resp.Height))
	return nil
}
