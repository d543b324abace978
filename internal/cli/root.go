// Package cli implements vaultctl, a one-shot command line client for the vault session.
package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Execute runs vaultctl with os.Args.
func Execute() error {
	return newRootCmd(newApp(viper.New(), defaultWire)).Execute()
}

func newRootCmd(app *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "vaultctl",
		Short:         "Inspect and operate a token vault from the terminal",
		Long:          "vaultctl binds a wallet account from the local wallet file, reads vault and token balances, and runs approve+deposit or withdraw transactions against the configured vault.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.setupLogging()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "config/config.yml", "path to the YAML configuration file")
	flags.String("network", "", "network identifier, overrides network.identifier")
	flags.String("account", "", "wallet account to use instead of the first one in the wallet file")
	flags.String("wallet-file", "", "wallet file, overrides wallet.file")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")

	app.v.SetEnvPrefix("VAULTSYNC")
	app.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	app.v.AutomaticEnv()
	_ = app.v.BindPFlags(flags)

	rootCmd.AddCommand(
		newBalanceCmd(app),
		newAllowanceCmd(app),
		newDepositCmd(app),
		newWithdrawCmd(app),
		newNetworksCmd(app),
		newAccountsCmd(app),
	)
	return rootCmd
}
