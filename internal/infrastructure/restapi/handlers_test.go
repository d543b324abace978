package restapi

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"testing"
	"time"

	"vaultsync/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSessionDisconnected(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/session", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var v sessionView
	decodeData(t, rec, &v)
	assert.Equal(t, "disconnected", v.Status)
	assert.False(t, v.Connected)
	assert.Equal(t, []string{f.signer, watchOnlyAcct}, v.Accounts)
	assert.Equal(t, testVault, v.Vault)
	assert.Equal(t, uint64(325000), v.Network.ChainID)
}

func TestConnectThenReadBalances(t *testing.T) {
	f := newAPIFixture(t)
	f.connect(t)

	var s sessionView
	decodeData(t, f.do(http.MethodGet, "/api/v1/session", ""), &s)
	assert.Equal(t, "ready", s.Status)
	assert.Equal(t, f.signer, s.Account)
	assert.Equal(t, uint64(1), s.Epoch)

	rec := f.do(http.MethodGet, "/api/v1/balances", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var b balanceView
	decodeData(t, rec, &b)
	assert.Equal(t, "10.5", b.VaultBalance)
	assert.Equal(t, "5", b.TokenBalance)
	assert.Equal(t, testToken, b.TokenAddress)
	assert.Equal(t, uint8(6), b.Decimals)
	assert.Equal(t, "21.00", b.VaultUSD)
	assert.Equal(t, "10.00", b.TokenUSD)
	firstAsOf := b.AsOf

	rec = f.do(http.MethodPost, "/api/v1/balances/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &b)
	assert.Greater(t, b.AsOf, firstAsOf)
}

func TestReadsRequireBoundAccount(t *testing.T) {
	f := newAPIFixture(t)
	for _, path := range []string{"/api/v1/balances", "/api/v1/allowance"} {
		rec := f.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusConflict, rec.Code, path)
		assert.Equal(t, "ReadUnavailable", decodeError(t, rec).Code, path)
	}
	rec := f.do(http.MethodPost, "/api/v1/balances/refresh", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetToken(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/token", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var md entity.TokenMetadata
	decodeData(t, rec, &md)
	assert.Equal(t, entity.TokenMetadata{VaultAddress: testVault, TokenAddress: testToken, Decimals: 6}, md)
}

func TestAllowance(t *testing.T) {
	f := newAPIFixture(t)
	f.connect(t)
	f.ledger.allowance = big.NewInt(2_500_000)

	rec := f.do(http.MethodGet, "/api/v1/allowance", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var v allowanceView
	decodeData(t, rec, &v)
	assert.Equal(t, "2.5", v.Allowance)
	assert.Equal(t, "2500000", v.BaseUnits)
	assert.Equal(t, f.signer, v.Owner)
	assert.Equal(t, testVault, v.Spender)
}

func TestDepositAndWait(t *testing.T) {
	f := newAPIFixture(t)
	f.connect(t)

	rec := f.do(http.MethodPost, "/api/v1/transactions?wait=true", `{"kind":"deposit","amount":"1.5"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var v operationStatusView
	decodeData(t, rec, &v)
	assert.Equal(t, "succeeded", v.State)
	assert.Equal(t, "deposit", v.Kind)
	assert.Equal(t, "1500000", v.BaseAmount)
	assert.NotEmpty(t, v.ApproveTx)
	assert.NotEmpty(t, v.ExecuteTx)
	assert.Equal(t, "https://explorer.test/tx/"+v.ExecuteTx, v.ExecuteTxURL)
	assert.Empty(t, v.Reason)

	snap := f.session.Snapshot()
	assert.Equal(t, "12", snap.VaultBalance)
	assert.Equal(t, "3.5", snap.TokenBalance)
}

func TestWithdrawWithoutConnectingFirst(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/transactions?wait=true", `{"kind":"withdraw","amount":"0.5"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var v operationStatusView
	decodeData(t, rec, &v)
	assert.Equal(t, "succeeded", v.State)
	assert.Empty(t, v.ApproveTx)
	assert.Equal(t, "10", f.session.Snapshot().VaultBalance)
}

func TestStartTransactionRejectsBadInput(t *testing.T) {
	f := newAPIFixture(t)
	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed body", `{"kind":`, "InvalidRequest"},
		{"bad amount", `{"kind":"deposit","amount":"abc"}`, "InvalidAmount"},
		{"zero amount", `{"kind":"withdraw","amount":"0"}`, "InvalidAmount"},
		{"too many decimals", `{"kind":"deposit","amount":"1.0000001"}`, "InvalidAmount"},
		{"unknown kind", `{"kind":"borrow","amount":"1"}`, "InvalidAmount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/v1/transactions", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}

	var v operationStatusView
	decodeData(t, f.do(http.MethodGet, "/api/v1/transactions/current", ""), &v)
	assert.Equal(t, "idle", v.State)
}

func TestInProgressThenCancel(t *testing.T) {
	f := newAPIFixture(t)
	f.connect(t)
	f.ledger.depositGate = make(chan struct{})

	rec := f.do(http.MethodPost, "/api/v1/transactions", `{"kind":"deposit","amount":"1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		return f.session.Orchestrator().Status().State == entity.StateConfirming
	}, 2*time.Second, 5*time.Millisecond)

	rec = f.do(http.MethodPost, "/api/v1/transactions", `{"kind":"withdraw","amount":"1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "OperationInProgress", decodeError(t, rec).Code)

	rec = f.do(http.MethodDelete, "/api/v1/transactions/current", "")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return f.session.Orchestrator().Status().State == entity.StateFailed
	}, 2*time.Second, 5*time.Millisecond)

	var v operationStatusView
	decodeData(t, f.do(http.MethodGet, "/api/v1/transactions/current", ""), &v)
	assert.Equal(t, "Cancelled", v.Reason)
	assert.Equal(t, "confirming", v.FailedPhase)
	assert.Equal(t, v.ExecuteTx, v.FailedTx)
	assert.Equal(t, big.NewInt(10_500_000), f.ledger.balance(f.ledger.vault, f.signer))

	require.Eventually(t, func() bool {
		return f.do(http.MethodDelete, "/api/v1/transactions/current", "").Code == http.StatusNotFound
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSelectAccountAndDisconnect(t *testing.T) {
	f := newAPIFixture(t)
	f.connect(t)

	rec := f.do(http.MethodPost, "/api/v1/session/account", `{"account":"`+watchOnlyAcct+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var s sessionView
	decodeData(t, rec, &s)
	assert.Equal(t, watchOnlyAcct, s.Account)
	assert.Equal(t, "read_only", s.Status)
	assert.Equal(t, uint64(2), s.Epoch)

	rec = f.do(http.MethodPost, "/api/v1/transactions", `{"kind":"withdraw","amount":"1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool {
		st := f.session.Orchestrator().Status()
		return st.State == entity.StateFailed && errors.Is(st.Reason, entity.ErrWalletUnavailable)
	}, 2*time.Second, 5*time.Millisecond)

	rec = f.do(http.MethodPost, "/api/v1/session/account", `{"account":"0x3333333333333333333333333333333333333333"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(http.MethodPost, "/api/v1/session/account", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/session/disconnect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &s)
	assert.Equal(t, "disconnected", s.Status)
	assert.False(t, s.Connected)
	assert.True(t, f.session.Snapshot().IsZero())
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)
	f.connect(t)

	rec := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vaultsync_session_changes_total 1")
}

func TestHTTPStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{entity.ErrInvalidAmount, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", entity.ErrConnectionRejected), http.StatusForbidden},
		{entity.ErrWalletUnavailable, http.StatusConflict},
		{entity.ErrOperationInProgress, http.StatusConflict},
		{entity.ErrStaleResult, http.StatusConflict},
		{entity.ErrMetadataUnavailable, http.StatusBadGateway},
		{&entity.OperationError{Reason: entity.ErrApprovalFailed, Phase: entity.StateApproving}, http.StatusBadGateway},
		{entity.ErrCancelled, http.StatusRequestTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, httpStatusFor(tt.err), tt.err.Error())
	}
}

func TestOperationStatusViewCarriesFailure(t *testing.T) {
	status := entity.OperationStatus{
		RequestID:  "req-1",
		Kind:       entity.TransactionDeposit,
		Amount:     "1",
		BaseAmount: big.NewInt(1_000_000),
		State:      entity.StateFailed,
		Reason: &entity.OperationError{
			Reason: entity.ErrApprovalFailed,
			Phase:  entity.StateApproving,
			TxHash: "0xabc",
			Err:    errors.New("reverted"),
		},
		ApproveTx: "0xabc",
		Warning:   errors.New("refresh failed"),
	}

	v := newOperationStatusView(status, testNetwork)
	assert.Equal(t, "failed", v.State)
	assert.Equal(t, "ApprovalFailed", v.Reason)
	assert.Equal(t, "approving", v.FailedPhase)
	assert.Equal(t, "0xabc", v.FailedTx)
	assert.Equal(t, "https://explorer.test/tx/0xabc", v.ApproveTxURL)
	assert.Empty(t, v.ExecuteTxURL)
	assert.Equal(t, "1000000", v.BaseAmount)
	assert.Equal(t, "refresh failed", v.Warning)
}
