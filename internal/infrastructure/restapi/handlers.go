package restapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"vaultsync/internal/app/port"
	"vaultsync/internal/app/service"
	"vaultsync/internal/domain/entity"
	"vaultsync/internal/pkg/utils"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultTransactionTimeout = 5 * time.Minute

// WalletControl is the local wallet surface the API exposes: account selection and disconnect,
// the actions a user performs inside a browser wallet.
type WalletControl interface {
	Accounts() []string
	Connected() bool
	SelectAccount(account string) error
	Disconnect()
}

// VaultHandler serves the vault session over HTTP.
type VaultHandler struct {
	session   *service.VaultSession
	wallet    WalletControl
	prices    port.TokenPriceService
	network   entity.NetworkDefinition
	txTimeout time.Duration
	logger    port.Logger

	mu           sync.Mutex
	activeID     string
	cancelActive context.CancelFunc
}

// NewVaultHandler creates a handler. prices may be nil.
func NewVaultHandler(
	session *service.VaultSession,
	wallet WalletControl,
	prices port.TokenPriceService,
	network entity.NetworkDefinition,
	txTimeout time.Duration,
	logger port.Logger,
) *VaultHandler {
	if txTimeout <= 0 {
		txTimeout = defaultTransactionTimeout
	}
	return &VaultHandler{
		session:   session,
		wallet:    wallet,
		prices:    prices,
		network:   network,
		txTimeout: txTimeout,
		logger:    logger,
	}
}

func writeJSON(c *gin.Context, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		c.Data(http.StatusInternalServerError, "application/json; charset=utf-8",
			[]byte(`{"code":"Internal","message":"failed to encode response"}`))
		return
	}
	c.Data(status, "application/json; charset=utf-8", body)
}

func (h *VaultHandler) ok(c *gin.Context, data any, msg string) {
	writeJSON(c, http.StatusOK, APIResponse{Data: data, StatusMessage: msg})
}

func (h *VaultHandler) fail(c *gin.Context, err error) {
	status := httpStatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", c.FullPath(), "error", err)
	} else {
		h.logger.Debug("Request rejected", "path", c.FullPath(), "error", err)
	}
	writeJSON(c, status, APIError{Code: entity.ReasonCode(err), Message: err.Error()})
}

func (h *VaultHandler) badRequest(c *gin.Context, code, msg string) {
	writeJSON(c, http.StatusBadRequest, APIError{Code: code, Message: msg})
}

func (h *VaultHandler) sessionView() sessionView {
	v := newSessionView(h.session.Binding().Current())
	v.Connected = h.wallet.Connected()
	v.Accounts = h.wallet.Accounts()
	v.Vault = h.session.VaultAddress()
	v.Network = networkView{Identifier: h.network.Identifier, Name: h.network.Name, ChainID: h.network.ChainID}
	return v
}

// GetSessionHandler returns the bound account and wallet state.
func (h *VaultHandler) GetSessionHandler(c *gin.Context) {
	h.ok(c, h.sessionView(), "")
}

// ConnectHandler asks the wallet for accounts and binds the first one.
func (h *VaultHandler) ConnectHandler(c *gin.Context) {
	if _, err := h.session.Binding().RequestConnection(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, h.sessionView(), "Wallet connected.")
}

// DisconnectHandler disconnects the wallet, which unbinds the session.
func (h *VaultHandler) DisconnectHandler(c *gin.Context) {
	h.wallet.Disconnect()
	h.ok(c, h.sessionView(), "Wallet disconnected.")
}

type selectAccountRequest struct {
	Account string `json:"account"`
}

// SelectAccountHandler switches the active wallet account.
func (h *VaultHandler) SelectAccountHandler(c *gin.Context) {
	var req selectAccountRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil || strings.TrimSpace(req.Account) == "" {
		h.badRequest(c, "InvalidRequest", "body must be {\"account\": \"0x...\"}")
		return
	}
	if err := h.wallet.SelectAccount(strings.TrimSpace(req.Account)); err != nil {
		writeJSON(c, http.StatusNotFound, APIError{Code: "UnknownAccount", Message: err.Error()})
		return
	}
	h.ok(c, h.sessionView(), "Account selected.")
}

func (h *VaultHandler) priceUSD(ctx context.Context, tokenAddress string) float64 {
	if h.prices == nil || tokenAddress == "" {
		return 0
	}
	price, _ := h.prices.GetPriceUSD(ctx, h.network.DEXScreenerChainID, tokenAddress)
	return price
}

// requireBound answers 409 when no account is bound, since every read needs one.
func (h *VaultHandler) requireBound(c *gin.Context) bool {
	if h.session.Binding().Current().Bound() {
		return true
	}
	writeJSON(c, http.StatusConflict, APIError{
		Code:    entity.ReasonCode(entity.ErrReadUnavailable),
		Message: "no account bound, connect a wallet first",
	})
	return false
}

// GetBalancesHandler returns the last stored snapshot, reading one first if none exists yet
// or when ?refresh=true is given.
func (h *VaultHandler) GetBalancesHandler(c *gin.Context) {
	if !h.requireBound(c) {
		return
	}
	snap := h.session.Snapshot()
	if snap.IsZero() || c.Query("refresh") == "true" {
		var err error
		snap, err = h.session.RefreshBalances(c.Request.Context())
		if err != nil {
			h.fail(c, err)
			return
		}
	}
	h.ok(c, newBalanceView(snap, h.priceUSD(c.Request.Context(), snap.TokenAddress)), "")
}

// RefreshBalancesHandler forces a balance read.
func (h *VaultHandler) RefreshBalancesHandler(c *gin.Context) {
	if !h.requireBound(c) {
		return
	}
	snap, err := h.session.RefreshBalances(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, newBalanceView(snap, h.priceUSD(c.Request.Context(), snap.TokenAddress)), "Balances refreshed.")
}

// GetTokenHandler returns the vault's token metadata.
func (h *VaultHandler) GetTokenHandler(c *gin.Context) {
	md, err := h.session.TokenMetadata(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, md, "")
}

type allowanceView struct {
	Owner        string `json:"owner"`
	Spender      string `json:"spender"`
	TokenAddress string `json:"tokenAddress"`
	Allowance    string `json:"allowance"`
	BaseUnits    string `json:"baseUnits"`
}

// GetAllowanceHandler returns how much the vault may pull from the bound account.
func (h *VaultHandler) GetAllowanceHandler(c *gin.Context) {
	if !h.requireBound(c) {
		return
	}
	allowance, md, err := h.session.Allowance(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	display, err := utils.ToDisplayUnits(allowance, md.Decimals)
	if err != nil {
		h.fail(c, fmt.Errorf("format allowance: %w", err))
		return
	}
	h.ok(c, allowanceView{
		Owner:        h.session.Binding().Current().Account,
		Spender:      md.VaultAddress,
		TokenAddress: md.TokenAddress,
		Allowance:    display,
		BaseUnits:    allowance.String(),
	}, "")
}

// StartTransactionHandler validates and starts a deposit or withdraw. It answers 202 once the
// request passed its guards; with ?wait=true it answers with the terminal status instead.
func (h *VaultHandler) StartTransactionHandler(c *gin.Context) {
	var req entity.TransactionRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		h.badRequest(c, "InvalidRequest", "body must be {\"kind\": \"deposit\"|\"withdraw\", \"amount\": \"1.5\"}")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.txTimeout)
	ticket, err := h.session.StartTransaction(ctx, req)
	if err != nil {
		cancel()
		h.fail(c, err)
		return
	}
	h.mu.Lock()
	h.activeID, h.cancelActive = ticket.RequestID, cancel
	h.mu.Unlock()
	go func() {
		<-ticket.Done()
		cancel()
		h.mu.Lock()
		if h.activeID == ticket.RequestID {
			h.activeID, h.cancelActive = "", nil
		}
		h.mu.Unlock()
	}()

	if c.Query("wait") == "true" {
		final, _ := ticket.Wait(c.Request.Context())
		if final.RequestID == "" {
			// The client went away; the request keeps running.
			return
		}
		h.ok(c, newOperationStatusView(final, h.network), "")
		return
	}
	writeJSON(c, http.StatusAccepted, APIResponse{
		Data:          newOperationStatusView(h.session.Orchestrator().Status(), h.network),
		StatusMessage: "Transaction started: " + ticket.RequestID,
	})
}

// GetTransactionStatusHandler returns the current or last transaction status.
func (h *VaultHandler) GetTransactionStatusHandler(c *gin.Context) {
	h.ok(c, newOperationStatusView(h.session.Orchestrator().Status(), h.network), "")
}

// CancelTransactionHandler cancels the request started through this API, if one is active.
func (h *VaultHandler) CancelTransactionHandler(c *gin.Context) {
	h.mu.Lock()
	id, cancel := h.activeID, h.cancelActive
	h.mu.Unlock()
	if cancel == nil {
		writeJSON(c, http.StatusNotFound, APIError{Code: "NoActiveRequest", Message: "no transaction is in progress"})
		return
	}
	cancel()
	h.logger.Info("Transaction cancelled by client", "requestId", id)
	h.ok(c, gin.H{"requestId": id}, "Cancellation requested.")
}

// HealthHandler reports liveness.
func (h *VaultHandler) HealthHandler(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"status": "ok", "network": h.network.Identifier})
}

var errNoEvents = errors.New("event feed is not enabled")
