package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"vaultsync/internal/app/port"
	"vaultsync/internal/domain/entity"
	"vaultsync/internal/pkg/metrics"
	"vaultsync/internal/pkg/observable"
	"vaultsync/internal/pkg/utils"

	"github.com/google/uuid"
)

// OrchestratorOptions configures a TransactionOrchestrator.
type OrchestratorOptions struct {
	VaultAddress string
	// SkipApproveWhenAllowed checks token.allowance(owner, vault) before a deposit and
	// goes straight to submission when the existing allowance covers the amount.
	SkipApproveWhenAllowed bool
}

// TransactionOrchestrator runs deposit (approve then deposit) and withdraw requests,
// one at a time, and publishes every state transition.
type TransactionOrchestrator struct {
	binding   *AccountBinding
	cache     *TokenMetadataCache
	ledger    port.VaultLedger
	wallet    port.WalletProvider
	refresher port.BalanceRefresher
	notifier  port.Notifier
	logger    port.Logger
	metrics   *metrics.Metrics
	opts      OrchestratorOptions

	mu     sync.Mutex
	active bool

	status *observable.Value[entity.OperationStatus]
	now    func() time.Time
}

// NewTransactionOrchestrator creates an idle orchestrator.
func NewTransactionOrchestrator(
	binding *AccountBinding,
	cache *TokenMetadataCache,
	ledger port.VaultLedger,
	wallet port.WalletProvider,
	refresher port.BalanceRefresher,
	notifier port.Notifier,
	logger port.Logger,
	m *metrics.Metrics,
	opts OrchestratorOptions,
) *TransactionOrchestrator {
	return &TransactionOrchestrator{
		binding:   binding,
		cache:     cache,
		ledger:    ledger,
		wallet:    wallet,
		refresher: refresher,
		notifier:  notifier,
		logger:    logger,
		metrics:   m,
		opts:      opts,
		status:    observable.New(entity.OperationStatus{State: entity.StateIdle, UpdatedAt: time.Now()}),
		now:       time.Now,
	}
}

// Status returns the state of the current or most recent request.
func (o *TransactionOrchestrator) Status() entity.OperationStatus {
	return o.status.Get()
}

// Subscribe registers fn for every status transition.
func (o *TransactionOrchestrator) Subscribe(fn func(entity.OperationStatus)) (unsubscribe func()) {
	return o.status.Subscribe(fn)
}

// Busy reports whether a request is in flight.
func (o *TransactionOrchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Ticket tracks a request started with Start.
type Ticket struct {
	RequestID string
	done      chan struct{}
	final     entity.OperationStatus
}

// Done is closed once the request reached a terminal state.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the request is terminal or ctx is done. Giving up waiting does not
// cancel the request; cancel the context passed to Start for that.
func (t *Ticket) Wait(ctx context.Context) (entity.OperationStatus, error) {
	select {
	case <-t.done:
		return t.final, t.final.Reason
	case <-ctx.Done():
		return entity.OperationStatus{}, ctx.Err()
	}
}

// Execute runs req to a terminal state. Guard failures return an error without any state
// transition; otherwise the returned error is the Failed reason, nil on success.
func (o *TransactionOrchestrator) Execute(ctx context.Context, req entity.TransactionRequest) (entity.OperationStatus, error) {
	p, err := o.prepare(ctx, req)
	if err != nil {
		return o.Status(), err
	}
	final := o.run(ctx, p)
	return final, final.Reason
}

// Start runs the guards synchronously and continues the request in the background.
// Cancelling ctx moves the request to Failed(Cancelled).
func (o *TransactionOrchestrator) Start(ctx context.Context, req entity.TransactionRequest) (*Ticket, error) {
	p, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	t := &Ticket{RequestID: p.id, done: make(chan struct{})}
	go func() {
		t.final = o.run(ctx, p)
		close(t.done)
	}()
	return t, nil
}

type preparedRequest struct {
	id     string
	req    entity.TransactionRequest
	amount *big.Int
	md     entity.TokenMetadata
}

// prepare reserves the single request slot and validates req. On any error the slot is released
// and the published status is untouched.
func (o *TransactionOrchestrator) prepare(ctx context.Context, req entity.TransactionRequest) (p preparedRequest, err error) {
	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return p, fmt.Errorf("%w: request %s is %s", entity.ErrOperationInProgress, o.Status().RequestID, o.Status().State)
	}
	o.active = true
	o.mu.Unlock()

	defer func() {
		if err != nil {
			o.release()
			o.logger.Debug("Transaction request rejected", "kind", string(req.Kind), "amount", req.Amount, "error", err)
		}
	}()

	if !req.Kind.Valid() {
		return p, fmt.Errorf("%w: unknown transaction kind %q", entity.ErrInvalidAmount, req.Kind)
	}
	parsed, err := utils.ParseAmount(req.Amount)
	if err != nil {
		return p, err
	}
	if !parsed.IsPositive() {
		return p, fmt.Errorf("%w: amount must be greater than zero", entity.ErrInvalidAmount)
	}

	md, err := o.cache.Resolve(ctx, o.opts.VaultAddress)
	if err != nil {
		return p, err
	}
	amount, err := utils.ToBaseUnits(req.Amount, md.Decimals)
	if err != nil {
		return p, err
	}

	return preparedRequest{id: uuid.NewString(), req: req, amount: amount, md: md}, nil
}

func (o *TransactionOrchestrator) release() {
	o.mu.Lock()
	o.active = false
	o.mu.Unlock()
}

// run drives a prepared request through the state machine.
func (o *TransactionOrchestrator) run(ctx context.Context, p preparedRequest) entity.OperationStatus {
	defer o.release()

	r := &requestRun{o: o, p: p, parent: ctx}
	r.ctx, r.cancel = context.WithCancel(ctx)
	defer r.cancel()

	unwatch := o.binding.Subscribe(r.onSession)
	defer unwatch()

	o.logger.Info("Transaction request started", "request_id", p.id, "kind", string(p.req.Kind), "amount", p.req.Amount)
	r.transition(entity.StateIdle)
	return r.execute()
}

// requestRun is the per-request state of run.
type requestRun struct {
	o      *TransactionOrchestrator
	p      preparedRequest
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	watchMu  sync.Mutex
	watching bool
	epoch    uint64
	lost     atomic.Bool

	state     entity.OperationState
	enteredAt time.Time
	approveTx string
	executeTx string
}

func (r *requestRun) onSession(s entity.Session) {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	if r.watching && s.Epoch != r.epoch {
		r.lost.Store(true)
		r.cancel()
	}
}

func (r *requestRun) watch(epoch uint64) {
	r.watchMu.Lock()
	r.watching = true
	r.epoch = epoch
	r.watchMu.Unlock()
	// The session may have moved between reading it and starting to watch.
	if r.o.binding.Current().Epoch != epoch {
		r.lost.Store(true)
		r.cancel()
	}
}

func (r *requestRun) execute() entity.OperationStatus {
	o := r.o
	r.transition(entity.StateConnecting)

	session := o.binding.Current()
	if !session.Bound() {
		var err error
		session, err = o.binding.RequestConnection(r.ctx)
		if err != nil {
			if r.parent.Err() != nil {
				return r.fail(entity.ErrCancelled, err)
			}
			reason := entity.ErrConnectionRejected
			if errors.Is(err, entity.ErrWalletUnavailable) {
				reason = entity.ErrWalletUnavailable
			}
			return r.fail(reason, err)
		}
	}
	r.watch(session.Epoch)
	if r.lost.Load() {
		return r.fail(entity.ErrSessionLost, nil)
	}
	if !session.HasSigner {
		return r.fail(entity.ErrWalletUnavailable, fmt.Errorf("account %s cannot sign", session.Account))
	}
	signer, err := o.wallet.Signer(session.Account)
	if err != nil {
		return r.fail(entity.ErrWalletUnavailable, err)
	}

	if r.p.req.Kind == entity.TransactionDeposit && !r.allowanceCovers(session.Account) {
		r.transition(entity.StateApproving)
		o.notify(r.p.id, "Approving...", "Please confirm the approval transaction", entity.NotificationDefault)
		h, err := o.ledger.Approve(r.ctx, signer, r.p.md.TokenAddress, o.opts.VaultAddress, r.p.amount)
		if err != nil {
			return r.fail(r.classify(entity.ErrApprovalFailed), err)
		}
		r.approveTx = h.Hash()
		o.logger.Info("Approve submitted", "request_id", r.p.id, "tx", r.approveTx)
		if err := h.Wait(r.ctx); err != nil {
			return r.fail(r.classify(entity.ErrApprovalFailed), err)
		}
		if r.lost.Load() {
			return r.fail(entity.ErrSessionLost, nil)
		}
	}

	r.transition(entity.StateSubmitting)
	var h port.TxHandle
	switch r.p.req.Kind {
	case entity.TransactionDeposit:
		o.notify(r.p.id, "Depositing...", "Please confirm the deposit transaction", entity.NotificationDefault)
		h, err = o.ledger.Deposit(r.ctx, signer, o.opts.VaultAddress, r.p.amount)
	default:
		o.notify(r.p.id, "Withdrawing...", "Please confirm the transaction", entity.NotificationDefault)
		h, err = o.ledger.Withdraw(r.ctx, signer, o.opts.VaultAddress, r.p.amount)
	}
	if err != nil {
		return r.fail(r.classify(entity.ErrExecutionFailed), err)
	}
	r.executeTx = h.Hash()
	o.logger.Info("Transaction submitted", "request_id", r.p.id, "kind", string(r.p.req.Kind), "tx", r.executeTx)

	r.transition(entity.StateConfirming)
	if err := h.Wait(r.ctx); err != nil {
		return r.fail(r.classify(entity.ErrExecutionFailed), err)
	}
	if r.lost.Load() {
		return r.fail(entity.ErrSessionLost, nil)
	}

	return r.succeed()
}

// allowanceCovers reports whether approval can be skipped. Read failures mean "approve anyway".
func (r *requestRun) allowanceCovers(owner string) bool {
	o := r.o
	if !o.opts.SkipApproveWhenAllowed {
		return false
	}
	allowance, err := o.ledger.Allowance(r.ctx, r.p.md.TokenAddress, owner, o.opts.VaultAddress)
	if err != nil {
		o.logger.Warn("Allowance check failed, approving anyway", "request_id", r.p.id, "error", err)
		return false
	}
	if allowance.Cmp(r.p.amount) >= 0 {
		o.logger.Info("Existing allowance covers deposit, skipping approve", "request_id", r.p.id, "allowance", allowance.String())
		return true
	}
	return false
}

// classify picks the failure reason for an error seen during a phase.
func (r *requestRun) classify(phaseReason error) error {
	switch {
	case r.lost.Load():
		return entity.ErrSessionLost
	case r.parent.Err() != nil:
		return entity.ErrCancelled
	default:
		return phaseReason
	}
}

func (r *requestRun) transition(state entity.OperationState) entity.OperationStatus {
	now := r.o.now()
	if !r.enteredAt.IsZero() && r.state != entity.StateIdle {
		r.o.metrics.ObservePhase(r.state.String(), now.Sub(r.enteredAt))
	}
	r.state = state
	r.enteredAt = now

	st := entity.OperationStatus{
		RequestID:  r.p.id,
		Kind:       r.p.req.Kind,
		Amount:     r.p.req.Amount,
		BaseAmount: r.p.amount,
		State:      state,
		ApproveTx:  r.approveTx,
		ExecuteTx:  r.executeTx,
		UpdatedAt:  now,
	}
	r.o.status.Set(st)
	r.o.logger.Debug("Transaction state changed", "request_id", r.p.id, "state", state.String())
	return st
}

func (r *requestRun) fail(reason error, cause error) entity.OperationStatus {
	o := r.o
	txHash := r.executeTx
	if txHash == "" {
		txHash = r.approveTx
	}
	opErr := &entity.OperationError{Reason: reason, Phase: r.state, TxHash: txHash, Err: cause}

	now := o.now()
	o.metrics.ObservePhase(r.state.String(), now.Sub(r.enteredAt))
	st := entity.OperationStatus{
		RequestID:  r.p.id,
		Kind:       r.p.req.Kind,
		Amount:     r.p.req.Amount,
		BaseAmount: r.p.amount,
		State:      entity.StateFailed,
		Reason:     opErr,
		ApproveTx:  r.approveTx,
		ExecuteTx:  r.executeTx,
		UpdatedAt:  now,
	}
	r.state = entity.StateFailed
	o.status.Set(st)
	o.metrics.ObserveTransaction(string(r.p.req.Kind), entity.ReasonCode(reason))
	o.logger.Error("Transaction request failed", "request_id", r.p.id, "kind", string(r.p.req.Kind),
		"reason", entity.ReasonCode(reason), "phase", opErr.Phase.String(), "tx", txHash, "error", cause)

	title := "Deposit Failed"
	if r.p.req.Kind == entity.TransactionWithdraw {
		title = "Withdraw Failed"
	}
	o.notify(r.p.id, title, opErr.Error(), entity.NotificationDestructive)
	return st
}

func (r *requestRun) succeed() entity.OperationStatus {
	o := r.o
	st := r.transition(entity.StateSucceeded)
	o.metrics.ObserveTransaction(string(r.p.req.Kind), "Succeeded")
	o.logger.Info("Transaction request succeeded", "request_id", r.p.id, "kind", string(r.p.req.Kind), "tx", r.executeTx)

	verb := "Deposited"
	if r.p.req.Kind == entity.TransactionWithdraw {
		verb = "Withdrew"
	}
	o.notify(r.p.id, "Success", fmt.Sprintf("%s %s tokens", verb, r.p.req.Amount), entity.NotificationDefault)

	if r.lost.Load() || o.refresher == nil {
		return st
	}
	if _, err := o.refresher.RefreshBalances(r.parent); err != nil {
		o.logger.Warn("Balance refresh after transaction failed", "request_id", r.p.id, "error", err)
		st.Warning = err
		st.UpdatedAt = o.now()
		o.status.Set(st)
	}
	return st
}

func (o *TransactionOrchestrator) notify(requestID, title, description string, variant entity.NotificationVariant) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(entity.Notification{
		Title:       title,
		Description: description,
		Variant:     variant,
		RequestID:   requestID,
		At:          o.now(),
	})
}
