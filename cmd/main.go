// Command txconfirm runs a transaction confirmation screen.
// It reads a YAML config, subscribes to balance and price feeds,
// estimates fees for the configured flow and submits the transaction
// once the user confirms it in the terminal or over HTTP.
//
// Usage:
//
//	txconfirm -config config.yaml
//	txconfirm -simulate -headless
//
// When the config file does not exist an interactive setup wizard writes one.
// Outside simulation the signing key is read from TXCONFIRM_PRIVATE_KEY
// unless the config names another variable.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vadiminshakov/txconfirm/config"
	"github.com/vadiminshakov/txconfirm/internal"
	"github.com/vadiminshakov/txconfirm/internal/setup"
)

const interactiveLog = "txconfirm.log"

func main() {
	cfg, err := config.Get()
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = runSetup()
	}
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := internal.NewApp(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to create app", zap.Error(err))
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		logger.Error("app stopped with error", zap.Error(err))
		return
	}
	logger.Info("app stopped")
}

func runSetup() (config.Config, error) {
	path, err := setup.RunTUI()
	if err != nil {
		return config.Config{}, errors.Wrap(err, "setup")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newLogger logs to a file while the terminal screen owns stdout.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "incorrect 'log_level' param in yaml config")
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	if !cfg.Headless {
		zc.OutputPaths = []string{interactiveLog}
		zc.ErrorOutputPaths = []string{interactiveLog}
	}

	return zc.Build()
}
