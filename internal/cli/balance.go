package cli

import (
	"fmt"

	"vaultsync/internal/pkg/utils"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newBalanceCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the vault and token balances of the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := app.openBound(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			snap, err := c.Session.RefreshBalances(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "account:       %s\n", snap.Account)
			_, _ = fmt.Fprintf(out, "network:       %s (%d)\n", c.Network.Name, c.Network.ChainID)
			_, _ = fmt.Fprintf(out, "vault:         %s\n", snap.VaultAddress)
			_, _ = fmt.Fprintf(out, "token:         %s (decimals %d)\n", snap.TokenAddress, snap.Decimals)
			_, _ = fmt.Fprintf(out, "vault balance: %s\n", snap.VaultBalance)
			_, _ = fmt.Fprintf(out, "token balance: %s\n", snap.TokenBalance)
			if c.Prices != nil {
				if price, ok := c.Prices.GetPriceUSD(cmd.Context(), c.Network.DEXScreenerChainID, snap.TokenAddress); ok {
					p := decimal.NewFromFloat(price)
					vault, _ := decimal.NewFromString(snap.VaultBalance)
					_, _ = fmt.Fprintf(out, "vault value:   $%s\n", vault.Mul(p).StringFixed(2))
				}
			}
			return nil
		},
	}
}

func newAllowanceCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "allowance",
		Short: "Show how much of the token the vault may pull from the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := app.openBound(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			allowance, md, err := c.Session.Allowance(cmd.Context())
			if err != nil {
				return err
			}
			display, err := utils.ToDisplayUnits(allowance, md.Decimals)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s: %s\n",
				utils.ShortAddress(md.TokenAddress),
				utils.ShortAddress(c.Session.Binding().Current().Account),
				utils.ShortAddress(md.VaultAddress),
				display,
			)
			return nil
		},
	}
}
