package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lexie-crypto/lexie-wallet/internal/config"
	"github.com/lexie-crypto/lexie-wallet/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "lexie-wallet",
	Short: "Lexie privacy wallet session daemon",
	Long: `Connects an external wallet to the privacy engine, restores or
creates the privacy wallet and tracks per-chain scans. The daemon exposes the
session over a local socket for the other commands.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(userConnectCmd)
	rootCmd.AddCommand(userDisconnectCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(gateResetCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(metadataServerCmd)
}

func initConfig() {
	if err := config.LoadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	err := logger.Init(
		config.LogFile(),
		viper.GetInt64("log_max_size_kb"),
		viper.GetInt("log_max_files"),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}

	setupLoggers()
	logger.SetLogLevels(viper.GetString("log_level"))
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		logger.Cleanup()
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt,
		syscall.SIGTERM)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
	}
}
