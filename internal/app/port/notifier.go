package port

import (
	"context"

	"vaultsync/internal/domain/entity"
)

// Notifier delivers user-facing notifications (the dashboard's toasts).
type Notifier interface {
	Notify(n entity.Notification)
}

// BalanceRefresher is what the orchestrator calls after a confirmed transaction.
type BalanceRefresher interface {
	RefreshBalances(ctx context.Context) (entity.BalanceSnapshot, error)
}
