package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"settler/internal/chain"
	"settler/internal/config"
	"settler/internal/health"
	"settler/internal/ingest"
	"settler/internal/reconcile"
	"settler/internal/settle"
	"settler/internal/store"
	"settler/internal/store/postgres"
	"settler/internal/stream"
)

func main() {
	root := &cobra.Command{
		Use:          "settler",
		Short:        "Commit-reveal bet settlement daemon",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the settler daemon",
		RunE:  runSettler,
	}

	runCmd.Flags().String("port", "8080", "health/status HTTP port")
	runCmd.Flags().String("rpc-url", "", "chain request/response RPC URL")
	runCmd.Flags().String("rpc-wss-url", "", "chain streaming (websocket) RPC URL")
	runCmd.Flags().String("contract-address", "", "dice contract address")
	runCmd.Flags().String("database-url", "", "Postgres connection string")
	runCmd.Flags().Duration("stream-stale", 120*time.Second, "stream staleness threshold before forcing reconnect")
	runCmd.Flags().Duration("stream-monitor", 60*time.Second, "stream staleness check interval")
	runCmd.Flags().Int("max-reconnect-tries", 10, "maximum consecutive stream reconnect attempts")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSettler(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !common.IsHexAddress(cfg.ContractAddress) {
		return fmt.Errorf("invalid contract address: %s", cfg.ContractAddress)
	}
	contractAddr := common.HexToAddress(cfg.ContractAddress)

	chainClient, err := chain.Dial(ctx, cfg.RPCWSSURL, cfg.RPCURL, contractAddr, cfg.SettlerPrivateKey)
	if err != nil {
		return fmt.Errorf("connect chain: %w", err)
	}
	defer chainClient.Close()

	chain.WarnIfLowBalance(ctx, chainClient, logger)
	revealDelay := chain.LoadRevealDelay(ctx, chainClient, logger)

	eventStore, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect event store: %w", err)
	}
	defer eventStore.Close()

	var storeIface store.Store = eventStore

	supervisor := stream.NewWithConfig(chainClient, cfg.RPCWSSURL, stream.Config{
		StaleThreshold:  cfg.StreamStale,
		MonitorInterval: cfg.StreamMonitor,
		MaxRetry:        cfg.MaxReconnectTries,
	}, logger)

	reconciler := reconcile.New(chainClient, logger)

	dispatcher := settle.New(chainClient, reconciler, logger)
	reconciler.SetDispatcher(dispatcher)

	ingestor := ingest.New(chainClient, reconciler, storeIface, revealDelay, logger)
	ingestor.AttachTo(ctx, supervisor)

	if err := supervisor.Start(ctx); err != nil {
		return fmt.Errorf("start stream supervisor: %w", err)
	}
	defer supervisor.Stop()

	go reconciler.Run(ctx)

	healthServer := health.New(storeIface, supervisor, reconciler, ingestor, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: healthServer.Handler(),
	}

	go func() {
		logger.Info("health server listening", zap.String("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server stopped", zap.Error(err))
		}
	}()

	logger.Info("settler started",
		zap.String("rpc_url", cfg.RPCURL),
		zap.String("rpc_wss_url", cfg.RPCWSSURL),
		zap.String("contract", contractAddr.Hex()),
		zap.Uint64("reveal_delay", revealDelay),
	)

	<-ctx.Done()

	logger.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
