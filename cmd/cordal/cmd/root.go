// Package cmd wires CORDAL's cobra CLI: serve runs the gateway, validate
// checks a configuration without starting it, migrate manages the
// store-source schema.
package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cordal",
	Short: "A configuration-driven REST API gateway",
	Long: `CORDAL turns declarative database, query, and endpoint definitions
into a live REST API, reloading them without a restart when they change.

  cordal serve              run the gateway
  cordal validate           check configuration without serving it
  cordal migrate up         apply the store-source schema
  cordal migrate status     show applied/pending store-source migrations`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to gateway.yaml (defaults to environment variables and built-in defaults only)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(migrateCmd)
}
