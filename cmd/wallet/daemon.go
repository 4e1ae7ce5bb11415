package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lexie-crypto/lexie-wallet/internal/bootstrap"
	"github.com/lexie-crypto/lexie-wallet/internal/config"
	"github.com/lexie-crypto/lexie-wallet/internal/connect"
	"github.com/lexie-crypto/lexie-wallet/internal/engine"
	"github.com/lexie-crypto/lexie-wallet/internal/hydration"
	"github.com/lexie-crypto/lexie-wallet/internal/ipc"
	"github.com/lexie-crypto/lexie-wallet/internal/logger"
	"github.com/lexie-crypto/lexie-wallet/internal/metadata"
	"github.com/lexie-crypto/lexie-wallet/internal/session"
)

const defaultConnector = "injected"

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the wallet session daemon",
	Long: `Run the session orchestrator against the privacy engine and wallet
bridge configured by engine_rpc and wallet_rpc, serving commands and events on
the ipc_socket.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		return runDaemon(ctx)
	},
}

func runDaemon(ctx context.Context) error {
	db, err := InitializeSQLite()
	if err != nil {
		return fmt.Errorf("unable to open state database: %w", err)
	}
	defer db.Close()

	networks, err := config.Networks()
	if err != nil {
		return err
	}

	eng, err := engine.DialRemote(ctx, viper.GetString("engine_rpc"))
	if err != nil {
		return err
	}
	defer eng.Close()

	walletClient, err := rpc.DialContext(ctx, viper.GetString("wallet_rpc"))
	if err != nil {
		return fmt.Errorf("unable to dial wallet bridge: %w", err)
	}
	defer walletClient.Close()

	store := metadata.NewMirrorStore(
		metadata.NewClient(config.MetadataClientConfig()), db,
	)

	var probe bootstrap.EndpointProbe
	if viper.GetBool("probe_endpoints") {
		probe = bootstrap.EthProbe{}
	}

	orch, err := session.New(session.Config{
		Engine:           eng,
		StartConfig:      config.EngineStartConfig(),
		Wallet:           connect.NewRemoteWallet(walletClient),
		Store:            store,
		Flags:            db,
		Networks:         networks,
		MaxAttempts:      viper.GetInt("ratelimit_max_attempts"),
		RetryPolicy:      config.RetryPolicy(),
		GraceWindow:      config.GraceWindow(),
		Probe:            probe,
		VerifySignatures: viper.GetBool("verify_signatures"),
	})
	if err != nil {
		return err
	}
	defer orch.Stop()

	sub, err := orch.Subscribe()
	if err != nil {
		return err
	}

	srv, err := ipc.NewServer(viper.GetString("ipc_socket"),
		newCommandHandler(orch))
	if err != nil {
		return fmt.Errorf("unable to start ipc server: %w", err)
	}
	defer srv.Close()

	go func() {
		for ev := range sub.Updates() {
			srv.Broadcast(ev)
		}
	}()

	logger.Info("Wallet daemon started")
	<-ctx.Done()
	logger.Info("Shutting down wallet daemon")

	return nil
}

// walletView is the part of a hydrated wallet that leaves the daemon.
type walletView struct {
	Address          string `json:"address"`
	WalletID         string `json:"walletId"`
	PrivacyAddress   string `json:"privacyAddress"`
	Path             string `json:"path"`
	Created          bool   `json:"created,omitempty"`
	ReplacedWalletID string `json:"replacedWalletId,omitempty"`
}

func viewOf(w *hydration.Wallet) walletView {
	return walletView{
		Address:          w.Address,
		WalletID:         w.WalletID,
		PrivacyAddress:   w.PrivacyAddress,
		Path:             w.Path.String(),
		Created:          w.Created,
		ReplacedWalletID: w.ReplacedWalletID,
	}
}

// newCommandHandler serves ipc commands from o. Errors the user should see
// are replaced by their display message.
func newCommandHandler(o *session.Orchestrator) ipc.Handler {
	return func(ctx context.Context, cmd ipc.Command) (interface{}, error) {
		result, err := runCommand(ctx, o, cmd)
		if err != nil {
			if msg, ok := session.UserFacing(err); ok {
				return nil, errors.New(msg)
			}
			return nil, err
		}
		return result, nil
	}
}

func runCommand(ctx context.Context, o *session.Orchestrator,
	cmd ipc.Command) (interface{}, error) {

	switch cmd.Command {
	case "status":
		return o.Status(), nil

	case "connect":
		if len(cmd.Args) < 2 {
			return nil, errors.New("usage: connect <address> <chain-id> " +
				"[connector]")
		}
		chain, err := parseChain(cmd.Args[1])
		if err != nil {
			return nil, err
		}
		kind := connect.ConnectorKind(defaultConnector)
		if len(cmd.Args) > 2 {
			kind = connect.ConnectorKind(cmd.Args[2])
		}

		w, err := o.HandleConnect(ctx, connect.Session{
			Address:   cmd.Args[0],
			ChainID:   chain,
			Connector: kind,
		})
		if err != nil {
			return nil, err
		}
		return viewOf(w), nil

	case "chain":
		chain, err := chainArg(cmd.Args)
		if err != nil {
			return nil, err
		}
		return true, o.HandleChainChanged(ctx, chain)

	case "disconnect":
		o.HandleDisconnect(ctx)
		return true, nil

	case "user-connect":
		kind := connect.ConnectorKind(defaultConnector)
		if len(cmd.Args) > 0 {
			kind = connect.ConnectorKind(cmd.Args[0])
		}
		return true, o.UserConnect(kind)

	case "user-disconnect":
		return true, o.UserDisconnect(ctx)

	case "refresh":
		chain, err := chainArg(cmd.Args)
		if err != nil {
			return nil, err
		}
		return true, o.RefreshBalances(ctx, chain)

	case "scan":
		chain, err := chainArg(cmd.Args)
		if err != nil {
			return nil, err
		}
		scanned, err := o.EnsureScanned(ctx, chain)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"scanned": scanned}, nil

	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Command)
	}
}

func chainArg(args []string) (engine.ChainID, error) {
	if len(args) != 1 {
		return 0, errors.New("expected a single chain id")
	}
	return parseChain(args[0])
}

func parseChain(s string) (engine.ChainID, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid chain id %q", s)
	}
	return engine.ChainID(id), nil
}
