package cli

import (
	"fmt"
	"strings"

	networkdefinition "vaultsync/internal/infrastructure/network/definition"
	"vaultsync/internal/infrastructure/walletloader"
	"vaultsync/internal/pkg/logger"

	"github.com/spf13/cobra"
)

func newNetworksCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List known networks; the selected one is marked with *",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			provider := networkdefinition.NewNetworkDefinitionProvider(logger.With("component", "networks"), cfg.Network.Definitions)
			for _, def := range provider.GetAllNetworkDefinitions() {
				mark := " "
				if strings.EqualFold(def.Identifier, cfg.Network.Identifier) {
					mark = "*"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\t%d\t%s\t%s\n", mark, def.Identifier, def.ChainID, def.Name, def.PrimaryRPCURL)
			}
			return nil
		},
	}
}

func newAccountsCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List accounts in the wallet file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			entries, err := walletloader.LoadWallets(cfg.Wallet.File, logger.Debug)
			if err != nil {
				return err
			}
			for _, e := range entries {
				mode := "signer"
				if !e.CanSign() {
					mode = "watch-only"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.Address, mode)
			}
			return nil
		},
	}
}
