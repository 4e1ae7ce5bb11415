package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/lexie-crypto/lexie-wallet/internal/engine"
	"github.com/lexie-crypto/lexie-wallet/internal/retry"
)

func resetViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestCreatesDefaultConfig(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()

	require.NoError(t, LoadConfigFrom(dir))
	require.FileExists(t, filepath.Join(dir, "config.json"))

	networks, err := Networks()
	require.NoError(t, err)
	require.Len(t, networks, 4)

	chains := make([]engine.ChainID, 0, len(networks))
	for _, n := range networks {
		chains = append(chains, n.ChainID)
		require.Len(t, n.Providers, 2)
		require.Equal(t, 1, n.Providers[0].Priority)
	}
	require.Equal(t, []engine.ChainID{1, 42161, 137, 56}, chains)

	require.Equal(t, retry.DefaultPolicy(), RetryPolicy())
	require.Equal(t, time.Second, GraceWindow())
	require.Equal(t, 9, viper.GetInt("ratelimit_max_attempts"))
	require.Equal(t, "development", viper.GetString("env"))
	require.Equal(t, engine.StartConfig{
		WalletSource: "lexie",
		DatabasePath: "./engine.db",
		Debug:        true,
	}, EngineStartConfig())

	// A second load reads the file that was just written.
	viper.Reset()
	require.NoError(t, LoadConfigFrom(dir))
	networks, err = Networks()
	require.NoError(t, err)
	require.Len(t, networks, 4)
}

func TestConfigFileAndEnvironment(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()

	cfg := `{
  "env": "production",
  "metadata_timeout": "3s",
  "retry_base_delay": "250ms",
  "networks": [
    {"name": "Sepolia", "chain_id": 11155111,
     "primary_rpc": "https://sepolia.example", "fallback_rpc": ""}
  ]
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"),
		[]byte(cfg), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("LEXIE_JWT_SECRET=from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LEXIE_JWT_SECRET") })
	t.Setenv("LEXIE_METADATA_API_KEY", "from-env")

	require.NoError(t, LoadConfigFrom(dir))

	require.Equal(t, "from-dotenv", viper.GetString("jwt_secret"))

	mc := MetadataClientConfig()
	require.Equal(t, "https://metadata.lexie.app", mc.BaseURL)
	require.Equal(t, "from-env", mc.APIKey)
	require.Equal(t, 3*time.Second, mc.Timeout)

	policy := RetryPolicy()
	require.Equal(t, 250*time.Millisecond, policy.BaseDelay)
	require.Equal(t, retry.DefaultMaxDelay, policy.MaxDelay)

	networks, err := Networks()
	require.NoError(t, err)
	require.Len(t, networks, 1)
	require.EqualValues(t, 11155111, networks[0].ChainID)
	require.Len(t, networks[0].Providers, 1)
}

func TestInvalidNetwork(t *testing.T) {
	resetViper(t)

	viper.Set("networks", []map[string]interface{}{
		{"name": "Broken", "chain_id": 0},
	})

	_, err := Networks()
	require.Error(t, err)
}
