package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/lexie-crypto/lexie-wallet/internal/bootstrap"
	"github.com/lexie-crypto/lexie-wallet/internal/engine"
	"github.com/lexie-crypto/lexie-wallet/internal/metadata"
	"github.com/lexie-crypto/lexie-wallet/internal/retry"
)

// EnvPrefix prefixes environment overrides, e.g. LEXIE_METADATA_API_KEY.
const EnvPrefix = "LEXIE"

// Network is one entry of the "networks" list.
type Network struct {
	Name        string `mapstructure:"name"`
	ChainID     uint64 `mapstructure:"chain_id"`
	PrimaryRPC  string `mapstructure:"primary_rpc"`
	FallbackRPC string `mapstructure:"fallback_rpc"`
}

// LoadConfig loads config.json from the working directory, creating it with
// defaults when missing.
func LoadConfig() error {
	return LoadConfigFrom(".")
}

// LoadConfigFrom loads config.json from dir. A .env file in dir, if any, is
// loaded into the environment first.
func LoadConfigFrom(dir string) error {
	envFile := filepath.Join(dir, ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error loading %s: %w", envFile, err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.AddConfigPath(dir)

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(dir)
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	setDefaults()

	return nil
}

// setDefaults sets default configuration values based on the environment
func setDefaults() {
	env := viper.GetString("env")
	if env == "" {
		env = "development"
		viper.Set("env", env)
	}

	if env == "development" {
		viper.SetDefault("metadata_url", "http://localhost:9003")
		viper.SetDefault("allowed_origin", "http://localhost:3000")
		viper.SetDefault("state_db_path", "./dev_state.db")
		viper.SetDefault("log_level", "debug")
	} else if env == "production" {
		viper.SetDefault("metadata_url", "https://metadata.lexie.app")
		viper.SetDefault("allowed_origin", "https://app.lexie.app")
		viper.SetDefault("state_db_path", "/var/lib/lexie-wallet/state.db")
		viper.SetDefault("log_level", "info")
	}

	viper.SetDefault("log_dir", "./logs")
	viper.SetDefault("log_max_size_kb", 10*1024)
	viper.SetDefault("log_max_files", 3)

	viper.SetDefault("metadata_api_key", "")
	viper.SetDefault("metadata_timeout", "10s")

	viper.SetDefault("ratelimit_max_attempts", 9)
	viper.SetDefault("retry_max_attempts", retry.DefaultMaxAttempts)
	viper.SetDefault("retry_base_delay", retry.DefaultBaseDelay.String())
	viper.SetDefault("retry_max_delay", retry.DefaultMaxDelay.String())
	viper.SetDefault("gate_grace_window", "1s")
	viper.SetDefault("verify_signatures", true)

	viper.SetDefault("engine_rpc", "ws://127.0.0.1:8645")
	viper.SetDefault("wallet_rpc", "ws://127.0.0.1:8646")
	viper.SetDefault("engine_db_path", "./engine.db")
	viper.SetDefault("wallet_source", "lexie")
	viper.SetDefault("probe_endpoints", false)

	viper.SetDefault("api_port", 9003)
	viper.SetDefault("jwt_secret", "")
	viper.SetDefault("ipc_socket", filepath.Join(os.TempDir(),
		"lexie-wallet.sock"))

	viper.SetDefault("networks", []map[string]interface{}{
		{
			"name":         "Ethereum",
			"chain_id":     1,
			"primary_rpc":  "https://eth.llamarpc.com",
			"fallback_rpc": "https://rpc.ankr.com/eth",
		},
		{
			"name":         "Arbitrum",
			"chain_id":     42161,
			"primary_rpc":  "https://arb1.arbitrum.io/rpc",
			"fallback_rpc": "https://rpc.ankr.com/arbitrum",
		},
		{
			"name":         "Polygon",
			"chain_id":     137,
			"primary_rpc":  "https://polygon-rpc.com",
			"fallback_rpc": "https://rpc.ankr.com/polygon",
		},
		{
			"name":         "BNB Chain",
			"chain_id":     56,
			"primary_rpc":  "https://bsc-dataseed.binance.org",
			"fallback_rpc": "https://rpc.ankr.com/bsc",
		},
	})
}

// createDefaultConfig writes config.json with the defaults to dir.
func createDefaultConfig(dir string) error {
	setDefaults()

	path := filepath.Join(dir, "config.json")
	err := viper.SafeWriteConfigAs(path)
	if err != nil {
		var exists viper.ConfigFileAlreadyExistsError
		if !errors.As(err, &exists) {
			return fmt.Errorf("error creating config file: %w", err)
		}
		if err := viper.WriteConfigAs(path); err != nil {
			return fmt.Errorf("error writing config file: %w", err)
		}
	}

	fmt.Println("Created default configuration file")
	return nil
}

// Networks returns the configured networks with their provider pairs.
func Networks() ([]engine.NetworkConfig, error) {
	var entries []Network
	if err := viper.UnmarshalKey("networks", &entries); err != nil {
		return nil, fmt.Errorf("invalid networks config: %w", err)
	}

	networks := make([]engine.NetworkConfig, 0, len(entries))
	for _, n := range entries {
		if n.ChainID == 0 || n.PrimaryRPC == "" {
			return nil, fmt.Errorf("network %q needs chain_id and "+
				"primary_rpc", n.Name)
		}
		networks = append(networks, engine.NetworkConfig{
			Name:    n.Name,
			ChainID: engine.ChainID(n.ChainID),
			Providers: bootstrap.ProviderPair(
				n.PrimaryRPC, n.FallbackRPC,
			),
		})
	}

	return networks, nil
}

// RetryPolicy returns the provider load retry policy.
func RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: viper.GetInt("retry_max_attempts"),
		BaseDelay:   viper.GetDuration("retry_base_delay"),
		MaxDelay:    viper.GetDuration("retry_max_delay"),
	}
}

// MetadataClientConfig returns the remote metadata store settings.
func MetadataClientConfig() metadata.ClientConfig {
	return metadata.ClientConfig{
		BaseURL: viper.GetString("metadata_url"),
		APIKey:  viper.GetString("metadata_api_key"),
		Timeout: viper.GetDuration("metadata_timeout"),
	}
}

// EngineStartConfig returns the settings handed to the engine bootstrap.
func EngineStartConfig() engine.StartConfig {
	return engine.StartConfig{
		WalletSource: viper.GetString("wallet_source"),
		DatabasePath: viper.GetString("engine_db_path"),
		Debug:        viper.GetString("env") == "development",
	}
}

// GraceWindow returns how long after a user action a blocked connector may
// still connect.
func GraceWindow() time.Duration {
	return viper.GetDuration("gate_grace_window")
}

// LogFile returns the path of the rotated log file.
func LogFile() string {
	return filepath.Join(viper.GetString("log_dir"), "wallet.log")
}
