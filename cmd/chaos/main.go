package main

import (
	"context"
	"os"
	"time"

	"inkpass/internal/chaos"
	"inkpass/internal/clock"
	"inkpass/internal/config"
	"inkpass/internal/logger"
	"inkpass/internal/telemetry"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	ctx := context.Background()
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		zapLog.Fatal("telemetry setup failed", zap.Error(err))
	}
	defer shutdown(ctx)

	stack, err := chaos.NewStack(clock.NewMonotonic(clock.System()), log)
	if err != nil {
		zapLog.Fatal("failed to build stack", zap.Error(err))
	}

	engine := chaos.NewEngine(log)
	if err := engine.RegisterLedgerExperiments(ctx, stack); err != nil {
		zapLog.Fatal("failed to register experiments", zap.Error(err))
	}

	failed, err := engine.RunGameDay(ctx, chaos.GameDay{
		Name:      "ledger game day",
		Scenarios: engine.Experiments(),
		Pause:     time.Second,
	})
	if err != nil {
		zapLog.Fatal("game day interrupted", zap.Error(err))
	}
	if failed > 0 {
		zapLog.Error("game day finished with failures", zap.Int("failed", failed))
		shutdown(ctx)
		zapLog.Sync()
		os.Exit(1)
	}
	zapLog.Info("game day passed")
}
