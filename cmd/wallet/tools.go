package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lexie-crypto/lexie-wallet/internal/api"
	"github.com/lexie-crypto/lexie-wallet/internal/bootstrap"
	"github.com/lexie-crypto/lexie-wallet/internal/config"
	"github.com/lexie-crypto/lexie-wallet/internal/connect"
	"github.com/lexie-crypto/lexie-wallet/internal/engine"
	"github.com/lexie-crypto/lexie-wallet/internal/gate"
	"github.com/lexie-crypto/lexie-wallet/internal/logger"
	"github.com/lexie-crypto/lexie-wallet/internal/metadata"
)

var recordCmd = &cobra.Command{
	Use:   "record [address]",
	Short: "Show the privacy wallet record of an address",
	Long: `Read the metadata record of an external address from the metadata
store, falling back to the device copy. Secrets are not printed.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		addr, err := connect.NormalizeAddress(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		db, err := InitializeSQLite()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening state database: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		store := metadata.NewMirrorStore(
			metadata.NewClient(config.MetadataClientConfig()), db,
		)
		rec, err := store.Get(cmd.Context(), addr)
		if errors.Is(err, metadata.ErrNotFound) {
			fmt.Printf("No privacy wallet for %s\n", addr)
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading record: %v\n", err)
			db.Close()
			os.Exit(1)
		}

		printJSON(struct {
			Address           string           `json:"address"`
			WalletID          string           `json:"walletId"`
			PrivacyAddress    string           `json:"privacyAddress"`
			ScannedChains     []engine.ChainID `json:"scannedChains"`
			SchemaVersion     int              `json:"schemaVersion"`
			LastBalanceUpdate *time.Time       `json:"lastBalanceUpdate,omitempty"`
		}{
			Address:           addr,
			WalletID:          rec.WalletID,
			PrivacyAddress:    rec.PrivacyAddress,
			ScannedChains:     rec.ScannedChains,
			SchemaVersion:     rec.SchemaVersion,
			LastBalanceUpdate: rec.LastBalanceUpdate,
		})

		if copyAddress, _ := cmd.Flags().GetBool("copy"); copyAddress {
			if err := clipboard.WriteAll(rec.PrivacyAddress); err != nil {
				fmt.Fprintf(os.Stderr, "Unable to copy to clipboard: %v\n",
					err)
				return
			}
			fmt.Println("Privacy address copied to clipboard")
		}
	},
}

var gateResetCmd = &cobra.Command{
	Use:   "gate-reset [connector]",
	Short: "Clear the auto-reconnect block of a connector",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, err := InitializeSQLite()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening state database: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		kind := connect.ConnectorKind(args[0])
		if err := db.SetFlag(gate.FlagKey(kind), false); err != nil {
			fmt.Fprintf(os.Stderr, "Error clearing flag: %v\n", err)
			db.Close()
			os.Exit(1)
		}

		fmt.Printf("Auto-reconnect unblocked for %s\n", kind)
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check every configured RPC endpoint",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		networks, err := config.Networks()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		failed := false
		for _, n := range networks {
			for _, p := range n.Providers {
				ctx, cancel := context.WithTimeout(cmd.Context(),
					15*time.Second)
				err := bootstrap.EthProbe{}.Probe(ctx, n.ChainID, p)
				cancel()

				status := "ok"
				if err != nil {
					status = err.Error()
					failed = true
				}
				fmt.Printf("%-10s %-8d %-45s %s\n", n.Name, n.ChainID,
					p.URL, status)
			}
		}

		if failed {
			os.Exit(1)
		}
	},
}

var metadataServerCmd = &cobra.Command{
	Use:   "metadata-server",
	Short: "Run the development metadata server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := InitializeSQLite()
		if err != nil {
			return fmt.Errorf("unable to open state database: %w", err)
		}
		defer db.Close()

		var jwtKey []byte
		if secret := viper.GetString("jwt_secret"); secret != "" {
			jwtKey = []byte(secret)
		} else {
			keyPath := filepath.Join(filepath.Dir(
				viper.GetString("state_db_path")), "jwt_key")
			jwtKey, err = api.EnsureJWTKey(keyPath)
			if err != nil {
				return err
			}
		}

		a, err := api.NewAPI(api.Config{
			Store:         db,
			APIKey:        viper.GetString("metadata_api_key"),
			JWTKey:        jwtKey,
			AllowedOrigin: viper.GetString("allowed_origin"),
		})
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		addr := net.JoinHostPort("", viper.GetString("api_port"))
		logger.Info("Metadata server listening on ", addr)

		return api.NewServer(addr, a).ListenAndServe(ctx)
	},
}

func init() {
	recordCmd.Flags().Bool("copy", false,
		"copy the privacy address to the clipboard")
}
