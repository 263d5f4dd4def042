package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/plebmarket/mcpgate/internal/config"
)

var (
	cfgFile    string
	envFile    string
	appVersion string // set in Execute, reported by serve and /status
	initErr    error  // config file or .env problems, surfaced by loadConfig
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcpgate",
		Short: "Authenticated MCP gateway for the marketplace",
		Long: `mcpgate: an MCP gateway that lets AI agents search products and place
orders on the marketplace with API keys bound to Nostr identities.

Keys are issued against a Nostr pubkey, optionally proven with a signed
auth event (kind 27235), and every MCP session is tied to the key that
opened it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./mcpgate.yaml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite key store (default: ~/.mcpgate)")

	cobra.OnInitialize(initConfig)

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newEventCmd())
	cmd.AddCommand(newKeygenCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func initConfig() {
	if err := config.LoadDotEnv(envFile); err != nil {
		initErr = err
		return
	}
	initErr = config.Setup(viper.GetViper(), cfgFile)
}
