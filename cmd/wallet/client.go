package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lexie-crypto/lexie-wallet/internal/ipc"
	"github.com/lexie-crypto/lexie-wallet/internal/session"
)

// sendCommand runs command on the daemon and prints the result.
func sendCommand(command string, args []string) {
	client, err := ipc.NewClient(viper.GetString("ipc_socket"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to wallet daemon: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	var result json.RawMessage
	if err := client.SendCommand(command, args, &result); err != nil {
		fmt.Fprintf(os.Stderr, "Error running %s: %v\n", command, err)
		client.Close()
		os.Exit(1)
	}

	printJSON(result)
}

func daemonCommand(use, short, command string, args cobra.PositionalArgs) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		Run: func(cmd *cobra.Command, args []string) {
			sendCommand(command, args)
		},
	}
}

var (
	statusCmd = daemonCommand("status", "Show the current session",
		"status", cobra.NoArgs)

	connectCmd = daemonCommand("connect [address] [chain-id] [connector]",
		"Report a wallet connection and hydrate the privacy wallet",
		"connect", cobra.RangeArgs(2, 3))

	chainCmd = daemonCommand("chain [chain-id]",
		"Report a chain switch of the connected wallet",
		"chain", cobra.ExactArgs(1))

	disconnectCmd = daemonCommand("disconnect",
		"Report that the wallet disconnected", "disconnect", cobra.NoArgs)

	userConnectCmd = daemonCommand("user-connect [connector]",
		"Record an explicit user connect for a connector",
		"user-connect", cobra.MaximumNArgs(1))

	userDisconnectCmd = daemonCommand("user-disconnect",
		"Disconnect on behalf of the user and block auto reconnects",
		"user-disconnect", cobra.NoArgs)

	refreshCmd = daemonCommand("refresh [chain-id]",
		"Refresh privacy balances on a chain", "refresh", cobra.ExactArgs(1))

	scanCmd = daemonCommand("scan [chain-id]",
		"Run the initial scan of a chain if it has not run yet",
		"scan", cobra.ExactArgs(1))
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print session events as they happen",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client, err := ipc.NewClient(viper.GetString("ipc_socket"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to wallet "+
				"daemon: %v\n", err)
			os.Exit(1)
		}
		defer client.Close()

		if err := client.Subscribe(); err != nil {
			fmt.Fprintf(os.Stderr, "Error subscribing: %v\n", err)
			return
		}

		enc := json.NewEncoder(os.Stdout)
		for {
			var ev session.Event
			if err := client.NextEvent(&ev); err != nil {
				fmt.Fprintf(os.Stderr, "Event stream closed: %v\n", err)
				return
			}
			enc.Encode(ev)
		}
	},
}
