package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"vaultsync/internal/bootstrap"
	"vaultsync/internal/domain/entity"

	"github.com/spf13/cobra"
)

func newDepositCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Approve the vault and deposit amount tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransaction(cmd, app, entity.TransactionRequest{Kind: entity.TransactionDeposit, Amount: args[0]})
		},
	}
}

func newWithdrawCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <amount>",
		Short: "Withdraw amount tokens from the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransaction(cmd, app, entity.TransactionRequest{Kind: entity.TransactionWithdraw, Amount: args[0]})
		},
	}
}

func runTransaction(cmd *cobra.Command, app *app, req entity.TransactionRequest) error {
	c, err := app.open(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	unsubscribe := c.Session.Orchestrator().Subscribe(func(s entity.OperationStatus) {
		printTransition(out, c, s)
	})
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(cmd.Context(), c.Config.TransactionTimeout())
	defer cancel()
	final, err := c.Session.Execute(ctx, req)
	if err != nil {
		var opErr *entity.OperationError
		if errors.As(err, &opErr) && opErr.TxHash != "" {
			_, _ = fmt.Fprintf(out, "failed during %s, last transaction %s\n", opErr.Phase, opErr.TxHash)
		}
		return err
	}
	if final.Warning != nil {
		_, _ = fmt.Fprintf(out, "warning: %v\n", final.Warning)
	}
	snap := c.Session.Snapshot()
	if !snap.IsZero() {
		_, _ = fmt.Fprintf(out, "vault balance: %s\ntoken balance: %s\n", snap.VaultBalance, snap.TokenBalance)
	}
	return nil
}

func printTransition(out io.Writer, c *bootstrap.Container, s entity.OperationStatus) {
	switch s.State {
	case entity.StateConfirming:
		_, _ = fmt.Fprintf(out, "%-11s %s\n", s.State, txLink(c, s.ExecuteTx))
	case entity.StateSubmitting:
		if s.ApproveTx != "" {
			_, _ = fmt.Fprintf(out, "%-11s approved in %s\n", s.State, txLink(c, s.ApproveTx))
			return
		}
		_, _ = fmt.Fprintln(out, s.State.String())
	case entity.StateFailed:
		_, _ = fmt.Fprintf(out, "%-11s %s\n", s.State, entity.ReasonCode(s.Reason))
	default:
		_, _ = fmt.Fprintln(out, s.State.String())
	}
}

func txLink(c *bootstrap.Container, hash string) string {
	if url := c.Network.TxURL(hash); url != "" {
		return url
	}
	return hash
}
