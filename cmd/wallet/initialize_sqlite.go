package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	statedb "github.com/lexie-crypto/lexie-wallet/internal/database"
	"github.com/lexie-crypto/lexie-wallet/internal/logger"
)

// InitializeSQLite opens the device state database at state_db_path.
func InitializeSQLite() (*statedb.Store, error) {
	dbPath := viper.GetString("state_db_path")
	if dbPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %v", err)
		}
		dbPath = filepath.Join(homeDir, ".lexie-wallet", "state.db")
	}

	if !fileExists(dbPath) {
		logger.Info("No existing state database, creating ", dbPath)
	}

	return statedb.Open(dbPath)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
