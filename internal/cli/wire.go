package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"vaultsync/internal/bootstrap"
	"vaultsync/internal/infrastructure/configloader"
	"vaultsync/internal/pkg/logger"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
)

type wireFunc func(ctx context.Context, cfg *configloader.Config, zapLogger *zap.Logger, opts bootstrap.Options) (*bootstrap.Container, error)

func defaultWire(ctx context.Context, cfg *configloader.Config, zapLogger *zap.Logger, opts bootstrap.Options) (*bootstrap.Container, error) {
	return bootstrap.Build(ctx, cfg, zapLogger, opts)
}

type app struct {
	v         *viper.Viper
	wire      wireFunc
	zapLogger *zap.Logger
}

func newApp(v *viper.Viper, wire wireFunc) *app {
	return &app{v: v, wire: wire, zapLogger: zap.NewNop()}
}

// setupLogging routes slog through zap and quiets the config loader below the chosen level.
func (a *app) setupLogging() error {
	levelName := a.v.GetString("log-level")
	level, err := zap.ParseAtomicLevel(levelName)
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", levelName, err)
	}
	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Level = level
	zapLogger, err := zapCfg.Build()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.zapLogger = zapLogger
	logger.SetLogger(slog.New(zapslog.NewHandler(zapLogger.Core())))

	logrusLevel, err := logrus.ParseLevel(levelName)
	if err != nil {
		logrusLevel = logrus.WarnLevel
	}
	logrus.SetLevel(logrusLevel)
	return nil
}

// loadConfig reads the config file and applies flag and VAULTSYNC_* overrides.
func (a *app) loadConfig() (*configloader.Config, error) {
	cfg, err := configloader.Load(a.v.GetString("config"))
	if err != nil {
		return nil, err
	}
	if network := strings.TrimSpace(a.v.GetString("network")); network != "" {
		cfg.Network.Identifier = network
	}
	if walletFile := strings.TrimSpace(a.v.GetString("wallet-file")); walletFile != "" {
		cfg.Wallet.File = walletFile
	}
	// The CLI binds explicitly per command.
	cfg.Wallet.AutoConnect = false
	cfg.Vault.AutoRefreshOnRebind = false
	return cfg, nil
}

// open loads config and builds a started container. Callers must Close it.
func (a *app) open(ctx context.Context) (*bootstrap.Container, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	c, err := a.wire(ctx, cfg, a.zapLogger, bootstrap.Options{Account: strings.TrimSpace(a.v.GetString("account"))})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

// openBound is open followed by a wallet connection, for commands that read account state.
func (a *app) openBound(ctx context.Context) (*bootstrap.Container, error) {
	c, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := c.Session.Binding().RequestConnection(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}
