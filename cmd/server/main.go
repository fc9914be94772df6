package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "accountsync",
	Short: "Account synchronization service for MetaTrader 5 bridges",
	Long: `accountsync keeps the account snapshot and open positions of every
connected MT5 account in sync with the terminal bridge, gates trades
through the risk engine and falls back to simulation while the bridge
is unavailable.

Configuration is read from the environment (see internal/config),
optionally overlaid with a YAML file from CONFIG_FILE.

Commands:
  serve   - run the HTTP API and synchronization engine (default)
  migrate - apply the ledger schema and exit`,
	SilenceUsage: true,
	RunE:         runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
