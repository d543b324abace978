package configloader

import (
	"fmt"
	"os"
	"time"

	"vaultsync/internal/domain/entity"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds server-specific configurations.
type ServerConfig struct {
	Port               string   `yaml:"port"`
	ReadTimeout        int      `yaml:"readTimeout"`
	WriteTimeout       int      `yaml:"writeTimeout"`
	IdleTimeout        int      `yaml:"idleTimeout"`
	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// NetworkConfig selects the network and optionally overrides definitions.
type NetworkConfig struct {
	Identifier  string                     `yaml:"identifier"`
	Definitions []entity.NetworkDefinition `yaml:"definitions"`
}

// VaultConfig describes the vault contract the session operates on.
type VaultConfig struct {
	Address               string `yaml:"address"`
	AutoRefreshOnRebind   bool   `yaml:"autoRefreshOnRebind"`
	RefreshTimeoutSeconds int    `yaml:"refreshTimeoutSeconds"`
}

// WalletConfig points at the local key file.
type WalletConfig struct {
	File        string `yaml:"file"`
	AutoConnect bool   `yaml:"autoConnect"`
}

// TransactionsConfig tunes the transaction orchestrator.
type TransactionsConfig struct {
	SkipApproveWhenAllowed    bool  `yaml:"skipApproveWhenAllowed"`
	TimeoutSeconds            int   `yaml:"timeoutSeconds"`
	ReceiptPollIntervalMillis int64 `yaml:"receiptPollIntervalMillis"`
}

// PerformanceConfig holds RPC timeouts and rate limits.
type PerformanceConfig struct {
	RPCCallTimeoutSeconds    int     `yaml:"rpc_call_timeout_seconds"`
	ConnectionTimeoutSeconds int     `yaml:"connection_timeout_seconds"`
	RPCRateLimit             float64 `yaml:"rpc_rate_limit"`
	RPCBurstLimit            int     `yaml:"rpc_burst_limit"`
}

// DEXScreenerConfig holds DEXScreener API specific configurations.
type DEXScreenerConfig struct {
	Enabled              bool   `yaml:"enabled"`
	BaseURL              string `yaml:"baseURL"`
	RequestTimeoutMillis int64  `yaml:"requestTimeoutMillis"`
	MaxTokensPerRequest  int    `yaml:"maxTokensPerRequest"`
}

// TokenPriceServiceConfig holds configuration for the TokenPriceService.
type TokenPriceServiceConfig struct {
	CacheTTLMinutes      int   `yaml:"cacheTTLMinutes"`
	RequestTimeoutMillis int64 `yaml:"requestTimeoutMillis"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server        ServerConfig            `yaml:"server"`
	Logging       LoggingConfig           `yaml:"logging"`
	Network       NetworkConfig           `yaml:"network"`
	Vault         VaultConfig             `yaml:"vault"`
	Wallet        WalletConfig            `yaml:"wallet"`
	Transactions  TransactionsConfig      `yaml:"transactions"`
	Performance   PerformanceConfig       `yaml:"performance"`
	DEXScreener   DEXScreenerConfig       `yaml:"dexScreener"`
	TokenPriceSvc TokenPriceServiceConfig `yaml:"tokenPriceService"`
}

// Load reads the YAML configuration file from the given path, applies defaults and validates it.
func Load(path string) (*Config, error) {
	logrus.Infof("Loading configuration from path: %s", path)
	data, err := os.ReadFile(path)
	if err != nil {
		logrus.Errorf("Failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		logrus.Errorf("Invalid configuration in %s: %v", path, err)
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	logrus.Info("Configuration loaded successfully.")
	return cfg, nil
}

// Parse unmarshals YAML data, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config data: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
		logrus.Infof("Server.Port not set, defaulting to %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 15
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 15
	}
	if cfg.Server.IdleTimeout <= 0 {
		cfg.Server.IdleTimeout = 60
	}
	if len(cfg.Server.CORSAllowedOrigins) == 0 {
		cfg.Server.CORSAllowedOrigins = []string{"*"}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Network.Identifier == "" {
		cfg.Network.Identifier = "camp_testnet"
		logrus.Infof("Network.Identifier not set, defaulting to %s", cfg.Network.Identifier)
	}

	if cfg.Vault.RefreshTimeoutSeconds <= 0 {
		cfg.Vault.RefreshTimeoutSeconds = 30
	}
	if cfg.Wallet.File == "" {
		cfg.Wallet.File = "data/wallets.txt"
		logrus.Infof("Wallet.File not set, defaulting to %s", cfg.Wallet.File)
	}

	if cfg.Transactions.TimeoutSeconds <= 0 {
		cfg.Transactions.TimeoutSeconds = 300
		logrus.Infof("Transactions.TimeoutSeconds not set, defaulting to %d", cfg.Transactions.TimeoutSeconds)
	}
	if cfg.Transactions.ReceiptPollIntervalMillis <= 0 {
		cfg.Transactions.ReceiptPollIntervalMillis = 2000
	}

	if cfg.Performance.RPCCallTimeoutSeconds <= 0 {
		cfg.Performance.RPCCallTimeoutSeconds = 10
		logrus.Infof("Performance.RPCCallTimeoutSeconds not set, defaulting to %d", cfg.Performance.RPCCallTimeoutSeconds)
	}
	if cfg.Performance.ConnectionTimeoutSeconds <= 0 {
		cfg.Performance.ConnectionTimeoutSeconds = 10
	}
	if cfg.Performance.RPCBurstLimit <= 0 {
		cfg.Performance.RPCBurstLimit = 5
	}

	if cfg.DEXScreener.BaseURL == "" {
		cfg.DEXScreener.BaseURL = "https://api.dexscreener.com"
		logrus.Infof("DEXScreener.BaseURL not set, defaulting to %s", cfg.DEXScreener.BaseURL)
	}
	if cfg.DEXScreener.RequestTimeoutMillis == 0 {
		cfg.DEXScreener.RequestTimeoutMillis = 10000
		logrus.Infof("DEXScreener.RequestTimeoutMillis not set, defaulting to %d ms", cfg.DEXScreener.RequestTimeoutMillis)
	}
	if cfg.DEXScreener.MaxTokensPerRequest == 0 {
		cfg.DEXScreener.MaxTokensPerRequest = 30
	}

	if cfg.TokenPriceSvc.CacheTTLMinutes == 0 {
		cfg.TokenPriceSvc.CacheTTLMinutes = 60
		logrus.Infof("CacheTTLMinutes for TokenPriceSvc not set, defaulting to %d minutes", cfg.TokenPriceSvc.CacheTTLMinutes)
	}
	if cfg.TokenPriceSvc.RequestTimeoutMillis == 0 {
		cfg.TokenPriceSvc.RequestTimeoutMillis = cfg.DEXScreener.RequestTimeoutMillis
		logrus.Infof("TokenPriceSvc.RequestTimeoutMillis not set, defaulting to DEXScreener.RequestTimeoutMillis: %d ms", cfg.TokenPriceSvc.RequestTimeoutMillis)
	}
}

// Validate reports configuration errors that defaults cannot fix.
func (cfg *Config) Validate() error {
	if cfg.Vault.Address == "" {
		return fmt.Errorf("vault.address is required")
	}
	if !common.IsHexAddress(cfg.Vault.Address) {
		return fmt.Errorf("vault.address %q is not a valid address", cfg.Vault.Address)
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", cfg.Logging.Format)
	}
	for _, def := range cfg.Network.Definitions {
		if def.Identifier == "" {
			logrus.Warnf("Network definition %q has no identifier and will be ignored", def.Name)
		}
	}
	return nil
}

// RPCCallTimeout returns the per-call RPC timeout.
func (cfg *Config) RPCCallTimeout() time.Duration {
	return time.Duration(cfg.Performance.RPCCallTimeoutSeconds) * time.Second
}

// ConnectionTimeout returns the RPC dial timeout.
func (cfg *Config) ConnectionTimeout() time.Duration {
	return time.Duration(cfg.Performance.ConnectionTimeoutSeconds) * time.Second
}

// TransactionTimeout bounds a transaction request started through the API.
func (cfg *Config) TransactionTimeout() time.Duration {
	return time.Duration(cfg.Transactions.TimeoutSeconds) * time.Second
}

// ReceiptPollInterval returns how often receipts are polled.
func (cfg *Config) ReceiptPollInterval() time.Duration {
	return time.Duration(cfg.Transactions.ReceiptPollIntervalMillis) * time.Millisecond
}

// RefreshTimeout bounds background balance refreshes.
func (cfg *Config) RefreshTimeout() time.Duration {
	return time.Duration(cfg.Vault.RefreshTimeoutSeconds) * time.Second
}
