package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	RPCURL              string
	FallbackRPCURL      string
	PrivateKey          string
	ChainID             int64
	APIBaseURL          string
	AdapterAddress      string
	DataProviderAddress string
	AuthStorePath       string
	SlippageBps         int64
	RateMode            int64
	AutoConfirm         bool
}

var globalConfig *Config

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	viper.SetConfigName(".debtswitch")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")

	// Set default values
	viper.SetDefault("slippage_bps", 100)
	viper.SetDefault("rate_mode", 2)

	// Read from environment variables
	viper.SetEnvPrefix("DEBTSWITCH")
	viper.AutomaticEnv()

	// Read config file (optional)
	_ = viper.ReadInConfig()

	// Create config struct
	cfg := &Config{
		RPCURL:              viper.GetString("rpc_url"),
		FallbackRPCURL:      viper.GetString("fallback_rpc_url"),
		PrivateKey:          viper.GetString("private_key"),
		ChainID:             viper.GetInt64("chain_id"),
		APIBaseURL:          viper.GetString("api_base_url"),
		AdapterAddress:      viper.GetString("adapter_address"),
		DataProviderAddress: viper.GetString("data_provider_address"),
		AuthStorePath:       viper.GetString("auth_store_path"),
		SlippageBps:         viper.GetInt64("slippage_bps"),
		RateMode:            viper.GetInt64("rate_mode"),
		AutoConfirm:         viper.GetBool("auto_confirm"),
	}

	// Validate required settings
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL not found. Please set DEBTSWITCH_RPC_URL or create a .debtswitch.yaml config file")
	}
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("private key not found. Please set DEBTSWITCH_PRIVATE_KEY or create a .debtswitch.yaml config file")
	}
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("chain id not found. Please set DEBTSWITCH_CHAIN_ID")
	}
	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("API base URL not found. Please set DEBTSWITCH_API_BASE_URL")
	}
	if cfg.AdapterAddress == "" {
		return nil, fmt.Errorf("adapter address not found. Please set DEBTSWITCH_ADAPTER_ADDRESS")
	}
	if cfg.SlippageBps < 0 || cfg.SlippageBps >= 10000 {
		return nil, fmt.Errorf("slippage_bps must be in [0, 10000)")
	}

	globalConfig = cfg
	return cfg, nil
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}
