package restapi

import (
	"errors"
	"net/http"
	"time"

	"vaultsync/internal/domain/entity"

	"github.com/shopspring/decimal"
)

// APIResponse wraps successful payloads.
type APIResponse struct {
	Data          any    `json:"data"`
	StatusMessage string `json:"status_message,omitempty"`
}

// APIError is the body of every error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// httpStatusFor maps an error to the HTTP status returned for it.
func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrConnectionRejected):
		return http.StatusForbidden
	case errors.Is(err, entity.ErrWalletUnavailable),
		errors.Is(err, entity.ErrOperationInProgress),
		errors.Is(err, entity.ErrStaleResult),
		errors.Is(err, entity.ErrSessionLost):
		return http.StatusConflict
	case errors.Is(err, entity.ErrMetadataUnavailable),
		errors.Is(err, entity.ErrReadUnavailable),
		errors.Is(err, entity.ErrApprovalFailed),
		errors.Is(err, entity.ErrExecutionFailed):
		return http.StatusBadGateway
	case errors.Is(err, entity.ErrCancelled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

type networkView struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	ChainID    uint64 `json:"chainId"`
}

type sessionView struct {
	Account   string      `json:"account,omitempty"`
	HasSigner bool        `json:"hasSigner"`
	Epoch     uint64      `json:"epoch"`
	Status    string      `json:"status"`
	Connected bool        `json:"connected"`
	Accounts  []string    `json:"accounts"`
	Vault     string      `json:"vaultAddress"`
	Network   networkView `json:"network"`
}

func newSessionView(s entity.Session) sessionView {
	return sessionView{
		Account:   s.Account,
		HasSigner: s.HasSigner,
		Epoch:     s.Epoch,
		Status:    s.Status().String(),
	}
}

type balanceView struct {
	Account      string    `json:"account"`
	VaultAddress string    `json:"vaultAddress"`
	TokenAddress string    `json:"tokenAddress"`
	Decimals     uint8     `json:"decimals"`
	VaultBalance string    `json:"vaultBalance"`
	TokenBalance string    `json:"tokenBalance"`
	PriceUSD     float64   `json:"priceUsd"`
	VaultUSD     string    `json:"vaultValueUsd"`
	TokenUSD     string    `json:"tokenValueUsd"`
	AsOf         uint64    `json:"asOf"`
	Epoch        uint64    `json:"epoch"`
	FetchedAt    time.Time `json:"fetchedAt"`
}

// newBalanceView renders a snapshot. USD values are "0.00" when no price is known.
func newBalanceView(s entity.BalanceSnapshot, priceUSD float64) balanceView {
	price := decimal.NewFromFloat(priceUSD)
	return balanceView{
		Account:      s.Account,
		VaultAddress: s.VaultAddress,
		TokenAddress: s.TokenAddress,
		Decimals:     s.Decimals,
		VaultBalance: s.VaultBalance,
		TokenBalance: s.TokenBalance,
		PriceUSD:     priceUSD,
		VaultUSD:     usdValue(s.VaultBalance, price),
		TokenUSD:     usdValue(s.TokenBalance, price),
		AsOf:         s.AsOf,
		Epoch:        s.Epoch,
		FetchedAt:    s.FetchedAt,
	}
}

func usdValue(amount string, price decimal.Decimal) string {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return "0.00"
	}
	return d.Mul(price).StringFixed(2)
}

type operationStatusView struct {
	RequestID    string    `json:"requestId,omitempty"`
	Kind         string    `json:"kind,omitempty"`
	Amount       string    `json:"amount,omitempty"`
	BaseAmount   string    `json:"baseAmount,omitempty"`
	State        string    `json:"state"`
	Reason       string    `json:"reason,omitempty"`
	Message      string    `json:"message,omitempty"`
	FailedPhase  string    `json:"failedPhase,omitempty"`
	FailedTx     string    `json:"failedTx,omitempty"`
	Warning      string    `json:"warning,omitempty"`
	ApproveTx    string    `json:"approveTx,omitempty"`
	ExecuteTx    string    `json:"executeTx,omitempty"`
	ApproveTxURL string    `json:"approveTxUrl,omitempty"`
	ExecuteTxURL string    `json:"executeTxUrl,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func newOperationStatusView(s entity.OperationStatus, network entity.NetworkDefinition) operationStatusView {
	v := operationStatusView{
		RequestID:    s.RequestID,
		Kind:         string(s.Kind),
		Amount:       s.Amount,
		State:        s.State.String(),
		ApproveTx:    s.ApproveTx,
		ExecuteTx:    s.ExecuteTx,
		ApproveTxURL: network.TxURL(s.ApproveTx),
		ExecuteTxURL: network.TxURL(s.ExecuteTx),
		UpdatedAt:    s.UpdatedAt,
	}
	if s.BaseAmount != nil {
		v.BaseAmount = s.BaseAmount.String()
	}
	if s.Reason != nil {
		v.Reason = entity.ReasonCode(s.Reason)
		v.Message = s.Reason.Error()
		var opErr *entity.OperationError
		if errors.As(s.Reason, &opErr) {
			v.FailedPhase = opErr.Phase.String()
			v.FailedTx = opErr.TxHash
		}
	}
	if s.Warning != nil {
		v.Warning = s.Warning.Error()
	}
	return v
}
