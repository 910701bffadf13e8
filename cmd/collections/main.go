package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globals are the persistent flags shared by every subcommand.
type globals struct {
	addr    string
	dataDir string
	user    string
	asJSON  bool
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "collections",
		Short: "Collections CLI - review and edit contact collection records",
		Long: `collections talks to a collectionsd daemon over TCP, or opens the data
directory directly when no daemon address is given.

Records imported with ID, Name and Contact all filled are read-only and are
highlighted in listings.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.addr, "addr", os.Getenv("COLLECTIONS_STORE_ADDR"), "daemon address (host:port); empty opens --data-dir directly")
	pf.StringVar(&g.dataDir, "data-dir", envOr("COLLECTIONS_DATA_DIR", "./data"), "data directory for embedded mode")
	pf.StringVar(&g.user, "user", envOr("COLLECTIONS_USER", ""), "identity recorded on writes")
	pf.BoolVar(&g.asJSON, "json", false, "print raw JSON")

	rootCmd.AddCommand(
		listCmd(g),
		getCmd(g),
		historyCmd(g),
		statsCmd(g),
		updateCmd(g),
		ingestCmd(g),
		migrateCmd(),
	)
	return rootCmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
