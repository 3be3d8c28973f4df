package payment

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stablecoin-payments/internal/alerting"
	"stablecoin-payments/internal/apperr"
	"stablecoin-payments/internal/chain"
)

const revertedMessage = "transaction reverted on-chain"

// Options parameterise the tracker.
type Options struct {
	Tokens                map[string]Token
	RequiredConfirmations uint64
}

// Tracker owns the payment records and reconciles them against the chain.
type Tracker struct {
	gateway  chain.Gateway
	store    Store
	notifier alerting.Notifier
	opts     Options
	logger   zerolog.Logger

	now   func() time.Time
	newID func() string

	mu      sync.RWMutex
	records map[string]*Record
	order   []string
	byHash  map[common.Hash]string
	sending map[string]struct{}

	// persistMu orders store writes; persisted holds the highest revision
	// handed to the store per payment.
	persistMu sync.Mutex
	persisted map[string]uint64
}

// New constructs a tracker. store and notifier may be nil.
func New(opts Options, gateway chain.Gateway, store Store, notifier alerting.Notifier, logger zerolog.Logger) *Tracker {
	tokens := make(map[string]Token, len(opts.Tokens))
	for symbol, token := range opts.Tokens {
		tokens[strings.ToUpper(symbol)] = token
	}
	opts.Tokens = tokens

	return &Tracker{
		gateway:  gateway,
		store:    store,
		notifier: notifier,
		opts:     opts,
		logger:   logger.With().Str("component", "payment_tracker").Logger(),
		now:      time.Now,
		newID:    uuid.NewString,
		records:  make(map[string]*Record),
		byHash:   make(map[common.Hash]string),
		sending:  make(map[string]struct{}),

		persisted: make(map[string]uint64),
	}
}

// Restore loads previously persisted records into memory.
func (t *Tracker) Restore(ctx context.Context) (int, error) {
	if t.store == nil {
		return 0, nil
	}
	records, err := t.store.ListPayments(ctx)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	restored := 0
	for i := range records {
		rec := records[i].clone()
		if _, exists := t.records[rec.PaymentID]; exists {
			continue
		}
		t.records[rec.PaymentID] = &rec
		t.order = append(t.order, rec.PaymentID)
		t.persisted[rec.PaymentID] = rec.Revision
		if rec.TransactionHash != nil {
			t.byHash[*rec.TransactionHash] = rec.PaymentID
		}
		restored++
	}
	t.logger.Info().Int("restored", restored).Msg("payments restored from store")
	return restored, nil
}

// Create validates and registers a new pending payment.
func (t *Tracker) Create(ctx context.Context, req CreateRequest) (Record, error) {
	const op = "payment.Create"

	if !IsValidAddress(req.RecipientAddress) {
		return Record{}, apperr.New(apperr.KindValidation, op, "invalid recipient address: %s", req.RecipientAddress)
	}
	if !IsValidAmount(req.Amount) {
		return Record{}, apperr.New(apperr.KindValidation, op, "invalid amount %s: must be between %s and %s", req.Amount.String(), MinAmount.String(), MaxAmount.String())
	}
	symbol, ok := NormalizeSymbol(req.Stablecoin)
	if !ok {
		return Record{}, apperr.New(apperr.KindValidation, op, "invalid stablecoin %q: supported %s", req.Stablecoin, strings.Join(SupportedSymbols, ", "))
	}

	token, ok := t.opts.Tokens[symbol]
	if !ok || token.Address == (common.Address{}) {
		return Record{}, apperr.New(apperr.KindConfiguration, op, "token address not configured for %s", symbol)
	}
	if !FitsDecimals(req.Amount, token.Decimals) {
		return Record{}, apperr.New(apperr.KindValidation, op, "invalid amount %s: %s supports at most %d decimals", req.Amount.String(), symbol, token.Decimals)
	}

	allowed, err := t.gateway.IsTokenAllowed(ctx, token.Address)
	if err != nil {
		return Record{}, apperr.Wrap(apperr.KindGateway, op, err)
	}
	if !allowed {
		t.logger.Warn().Str("stablecoin", symbol).Str("token", token.Address.Hex()).Msg("token not allowed by payment contract")
		return Record{}, apperr.New(apperr.KindTokenNotAllowed, op, "token %s is not allowed in payment contract", symbol)
	}

	rec := &Record{
		RecipientAddress: common.HexToAddress(req.RecipientAddress),
		Amount:           req.Amount,
		Symbol:           symbol,
		TokenAddress:     token.Address,
		Status:           StatusPending,
		Description:      req.Description,
		CreatedAt:        t.now().UTC(),
		Revision:         1,
	}

	t.mu.Lock()
	id := t.newID()
	for {
		if _, taken := t.records[id]; !taken {
			break
		}
		id = t.newID()
	}
	rec.PaymentID = id
	t.records[id] = rec
	t.order = append(t.order, id)
	out := rec.clone()
	t.mu.Unlock()

	t.logger.Info().
		Str("payment_id", id).
		Str("amount", out.Amount.String()).
		Str("stablecoin", symbol).
		Str("recipient", out.RecipientAddress.Hex()).
		Msg("payment created")

	t.persist(ctx, out)
	return out, nil
}

// Send submits a pending payment to the chain. A gateway failure moves the
// payment to failed and is returned alongside the failed record.
func (t *Tracker) Send(ctx context.Context, paymentID string) (Record, error) {
	const op = "payment.Send"

	t.mu.Lock()
	rec, ok := t.records[paymentID]
	if !ok {
		t.mu.Unlock()
		return Record{}, apperr.New(apperr.KindNotFound, op, "payment not found: %s", paymentID)
	}
	if _, inFlight := t.sending[paymentID]; inFlight {
		t.mu.Unlock()
		return Record{}, apperr.New(apperr.KindInvalidState, op, "payment %s is already being submitted", paymentID)
	}
	if rec.Status != StatusPending {
		status := rec.Status
		t.mu.Unlock()
		return Record{}, apperr.New(apperr.KindInvalidState, op, "cannot send payment with status %s", status)
	}
	t.sending[paymentID] = struct{}{}
	transfer := chain.Transfer{
		Token:     rec.TokenAddress,
		Recipient: rec.RecipientAddress,
		Amount:    rec.Amount,
		Decimals:  t.opts.Tokens[rec.Symbol].Decimals,
	}
	t.mu.Unlock()

	hash, sendErr := t.gateway.SendPayment(ctx, transfer)

	t.mu.Lock()
	delete(t.sending, paymentID)
	if sendErr != nil {
		msg := sendErr.Error()
		completed := t.now().UTC()
		rec.Status = StatusFailed
		rec.Error = &msg
		rec.CompletedAt = &completed
	} else {
		rec.TransactionHash = &hash
		rec.Status = StatusSubmitted
		t.byHash[hash] = paymentID
	}
	rec.Revision++
	out := rec.clone()
	t.mu.Unlock()

	t.persist(ctx, out)

	if sendErr != nil {
		t.logger.Error().Err(sendErr).Str("payment_id", paymentID).Msg("payment submission failed")
		t.notify(ctx, out)
		return out, apperr.Wrap(apperr.KindGateway, op, sendErr)
	}

	t.logger.Info().Str("payment_id", paymentID).Str("tx_hash", hash.Hex()).Msg("payment submitted")
	return out, nil
}

// Status returns a payment by id or transaction hash. Submitted payments are
// reconciled against the gateway first; gateway failures serve the last
// known record.
func (t *Tracker) Status(ctx context.Context, lookup Lookup) (Record, error) {
	const op = "payment.Status"

	id := strings.TrimSpace(lookup.PaymentID)
	txHash := strings.TrimSpace(lookup.TxHash)
	if (id == "") == (txHash == "") {
		return Record{}, apperr.New(apperr.KindValidation, op, "exactly one of payment_id or tx_hash must be provided")
	}

	t.mu.RLock()
	if txHash != "" {
		if !IsValidTxHash(txHash) {
			t.mu.RUnlock()
			return Record{}, apperr.New(apperr.KindValidation, op, "invalid transaction hash format: %s", txHash)
		}
		mapped, ok := t.byHash[common.HexToHash(txHash)]
		if !ok {
			t.mu.RUnlock()
			return Record{}, apperr.New(apperr.KindNotFound, op, "no payment found for tx_hash: %s", txHash)
		}
		id = mapped
	}
	rec, ok := t.records[id]
	if !ok {
		t.mu.RUnlock()
		return Record{}, apperr.New(apperr.KindNotFound, op, "payment not found: %s", id)
	}
	current := rec.clone()
	t.mu.RUnlock()

	if current.Status != StatusSubmitted || current.TransactionHash == nil {
		return current, nil
	}

	refreshed, _ := t.refresh(ctx, current.PaymentID, *current.TransactionHash)
	return refreshed, nil
}

// RefreshSubmitted reconciles every submitted payment and returns how many
// reached a terminal state.
func (t *Tracker) RefreshSubmitted(ctx context.Context) (int, error) {
	type target struct {
		id   string
		hash common.Hash
	}

	t.mu.RLock()
	targets := make([]target, 0)
	for _, id := range t.order {
		rec := t.records[id]
		if rec.Status == StatusSubmitted && rec.TransactionHash != nil {
			targets = append(targets, target{id: id, hash: *rec.TransactionHash})
		}
	}
	t.mu.RUnlock()

	settled := 0
	for _, tg := range targets {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		if _, done := t.refresh(ctx, tg.id, tg.hash); done {
			settled++
		}
	}
	return settled, nil
}

func (t *Tracker) refresh(ctx context.Context, id string, hash common.Hash) (Record, bool) {
	status, err := t.gateway.TransactionStatus(ctx, hash)
	if err != nil {
		t.logger.Warn().Err(err).Str("payment_id", id).Str("tx_hash", hash.Hex()).Msg("status refresh failed; serving last known state")
		t.mu.RLock()
		defer t.mu.RUnlock()
		return t.records[id].clone(), false
	}

	t.mu.Lock()
	rec := t.records[id]
	if rec.Status != StatusSubmitted {
		out := rec.clone()
		t.mu.Unlock()
		return out, false
	}
	changed := t.apply(rec, status)
	if changed {
		rec.Revision++
	}
	settled := rec.Status.Terminal()
	out := rec.clone()
	t.mu.Unlock()

	if changed {
		t.persist(ctx, out)
	}
	if settled {
		t.logger.Info().Str("payment_id", id).Str("status", string(out.Status)).Uint64("confirmations", out.Confirmations).Msg("payment settled")
		t.notify(ctx, out)
	}
	return out, settled
}

// apply moves a submitted record along the state machine. Caller holds t.mu.
func (t *Tracker) apply(rec *Record, status chain.TxStatus) bool {
	changed := false
	if status.Confirmations > rec.Confirmations {
		rec.Confirmations = status.Confirmations
		changed = true
	}
	if status.BlockNumber != nil && (rec.BlockNumber == nil || *rec.BlockNumber != *status.BlockNumber) {
		block := *status.BlockNumber
		rec.BlockNumber = &block
		changed = true
	}
	if status.GasUsed > 0 && status.GasUsed != rec.GasUsed {
		rec.GasUsed = status.GasUsed
		changed = true
	}

	switch status.State {
	case chain.TxFailed:
		msg := revertedMessage
		completed := t.now().UTC()
		rec.Status = StatusFailed
		rec.Error = &msg
		rec.CompletedAt = &completed
		changed = true
	case chain.TxSuccess:
		if rec.Confirmations >= t.opts.RequiredConfirmations {
			completed := t.now().UTC()
			rec.Status = StatusSuccess
			rec.CompletedAt = &completed
			changed = true
		}
	}
	return changed
}

// All returns a copy of every record in creation order.
func (t *Tracker) All() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.records[id].clone())
	}
	return out
}

// ByStatus returns records with the given status in creation order.
func (t *Tracker) ByStatus(raw string) ([]Record, error) {
	status, err := ParseStatus(raw)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, 0)
	for _, id := range t.order {
		if rec := t.records[id]; rec.Status == status {
			out = append(out, rec.clone())
		}
	}
	return out, nil
}

// Cancel marks a pending or failed payment as cancelled.
func (t *Tracker) Cancel(ctx context.Context, paymentID string) (Record, error) {
	const op = "payment.Cancel"

	t.mu.Lock()
	rec, ok := t.records[paymentID]
	if !ok {
		t.mu.Unlock()
		return Record{}, apperr.New(apperr.KindNotFound, op, "payment not found: %s", paymentID)
	}
	if _, inFlight := t.sending[paymentID]; inFlight {
		t.mu.Unlock()
		return Record{}, apperr.New(apperr.KindInvalidState, op, "payment %s is being submitted", paymentID)
	}
	if rec.Status != StatusPending && rec.Status != StatusFailed {
		status := rec.Status
		t.mu.Unlock()
		return Record{}, apperr.New(apperr.KindInvalidState, op, "cannot cancel payment with status %s", status)
	}
	completed := t.now().UTC()
	rec.Status = StatusCancelled
	rec.CompletedAt = &completed
	rec.Revision++
	out := rec.clone()
	t.mu.Unlock()

	t.logger.Info().Str("payment_id", paymentID).Msg("payment cancelled")
	t.persist(ctx, out)
	return out, nil
}

// Statistics aggregates counts and amounts over all records.
func (t *Tracker) Statistics() Statistics {
	stats := Statistics{
		PerStatus:        make(map[Status]int, len(Statuses)),
		TotalAmount:      decimal.Zero,
		SuccessfulAmount: decimal.Zero,
	}
	for _, s := range Statuses {
		stats.PerStatus[s] = 0
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, rec := range t.records {
		stats.TotalCount++
		stats.PerStatus[rec.Status]++
		stats.TotalAmount = stats.TotalAmount.Add(rec.Amount)
		if rec.Status == StatusSuccess {
			stats.SuccessfulAmount = stats.SuccessfulAmount.Add(rec.Amount)
		}
	}
	return stats
}

// persist writes rec unless a later revision of the same payment has already
// been handed to the store.
func (t *Tracker) persist(ctx context.Context, rec Record) {
	if t.store == nil {
		return
	}

	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	if rec.Revision <= t.persisted[rec.PaymentID] {
		t.logger.Debug().
			Str("payment_id", rec.PaymentID).
			Uint64("revision", rec.Revision).
			Msg("skipping superseded payment write")
		return
	}
	t.persisted[rec.PaymentID] = rec.Revision

	if err := t.store.UpsertPayment(ctx, rec); err != nil {
		t.logger.Error().Err(err).Str("payment_id", rec.PaymentID).Msg("failed to persist payment")
	}
}

func (t *Tracker) notify(ctx context.Context, rec Record) {
	if t.notifier == nil {
		return
	}
	note := alerting.Notification{
		PaymentID:     rec.PaymentID,
		Status:        string(rec.Status),
		Symbol:        rec.Symbol,
		Amount:        rec.Amount,
		Recipient:     rec.RecipientAddress.Hex(),
		Confirmations: rec.Confirmations,
		BlockNumber:   rec.BlockNumber,
		GasUsed:       rec.GasUsed,
		OccurredAt:    t.now().UTC(),
	}
	if rec.TransactionHash != nil {
		note.TxHash = rec.TransactionHash.Hex()
	}
	if rec.Error != nil {
		note.Error = *rec.Error
	}
	if err := t.notifier.Notify(ctx, note); err != nil {
		t.logger.Error().Err(err).Str("payment_id", rec.PaymentID).Msg("failed to dispatch settlement notification")
	}
}
