package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/BrandonDHaskell/turnstile/internal/admission/store"
	"github.com/BrandonDHaskell/turnstile/internal/admission/types"
	"github.com/BrandonDHaskell/turnstile/internal/logging"
	"github.com/BrandonDHaskell/turnstile/internal/metrics"
)

var (
	ErrInvalidCardID = errors.New("cardId is required")

	// ErrLogAppend wraps a failed access-log write. The Decision returned
	// alongside it is valid and its ledger change is already committed.
	ErrLogAppend = errors.New("access log append failed")

	// ErrLedgerContention is returned when the conditional decrement keeps
	// losing to concurrent presentations.
	ErrLedgerContention = errors.New("ledger contention")
)

const (
	DefaultTolerance = 20 * time.Minute
	DefaultDeviceID  = "entrance"

	maxLedgerAttempts = 3
)

// Publisher receives the broadcast event for every decision. Submit must not
// block; it reports whether the event was accepted.
type Publisher interface {
	Submit(ev types.BroadcastEvent) bool
}

// Decision is the result of one Evaluate call.
type Decision struct {
	Attempt         store.AccessAttempt
	Event           types.BroadcastEvent
	PointsRemaining int
}

// Response shapes the decision for the admission endpoint.
func (d Decision) Response() types.AccessResponse {
	return types.AccessResponse{
		Status:           d.Attempt.Outcome,
		Message:          d.Event.Message,
		PointsDeducted:   d.Attempt.PointsDeducted,
		IsToleranceEntry: d.Attempt.IsGracePeriodEntry,
		PointsRemaining:  d.PointsRemaining,
		Timestamp:        types.FormatTimestamp(d.Attempt.CreatedAt),
	}
}

type EngineOption func(*Engine)

func WithTolerance(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d >= 0 {
			e.tolerance = d
		}
	}
}

// WithClock overrides the engine clock. Tests use it to step through the
// tolerance window.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func WithReaderRegistry(r *ReaderRegistry) EngineOption {
	return func(e *Engine) { e.readers = r }
}

func WithDefaultDeviceID(id string) EngineOption {
	return func(e *Engine) {
		if id = strings.TrimSpace(id); id != "" {
			e.defaultDevice = id
		}
	}
}

// Engine decides admission for presented cards.
type Engine struct {
	accounts store.AccountStore
	attempts store.AccessLogStore
	pub      Publisher

	tolerance     time.Duration
	defaultDevice string
	now           func() time.Time
	logger        *slog.Logger
	metrics       *metrics.Metrics
	readers       *ReaderRegistry
}

// NewEngine wires an engine. pub may be nil, in which case events are
// discarded.
func NewEngine(accounts store.AccountStore, attempts store.AccessLogStore, pub Publisher, opts ...EngineOption) *Engine {
	e := &Engine{
		accounts:      accounts,
		attempts:      attempts,
		pub:           pub,
		tolerance:     DefaultTolerance,
		defaultDevice: DefaultDeviceID,
		now:           time.Now,
		logger:        logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate decides one presentation of cardID at deviceID.
//
// Lookup and ledger failures return a zero Decision and leave no log row.
// A log append failure returns the full Decision together with an error
// wrapping ErrLogAppend; the event is still published.
func (e *Engine) Evaluate(ctx context.Context, cardID, deviceID string) (Decision, error) {
	started := time.Now()

	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return Decision{}, ErrInvalidCardID
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		deviceID = e.defaultDevice
	}

	now := e.now().UTC()

	if e.readers != nil {
		if err := e.readers.NoteSeen(ctx, deviceID, "", ""); err != nil {
			e.logger.Warn("reader touch failed", "device_id", deviceID, "err", err)
		}
	}

	hash := blake2b.Sum256([]byte(cardID))
	attempt := store.AccessAttempt{
		CardIDHash: hash[:],
		DeviceID:   deviceID,
		CreatedAt:  now,
	}

	var (
		acct      store.Account
		remaining int
		matched   bool
	)

	found, err := e.accounts.FindByCardID(ctx, cardID)
	switch {
	case errors.Is(err, store.ErrAccountNotFound):
		// Unknown cards never get grace evaluation.
		attempt.AccountID = store.UnknownAccountID
		attempt.Outcome = types.OutcomeDenied
		attempt.Reason = types.ReasonUnregisteredCard
	case err != nil:
		return Decision{}, fmt.Errorf("Evaluate lookup: %w", err)
	default:
		matched = true
		acct, remaining, err = e.decide(ctx, found, now, &attempt)
		if err != nil {
			return Decision{}, err
		}
	}

	d := Decision{
		Attempt:         attempt,
		Event:           e.buildEvent(attempt, cardID, acct, matched, remaining),
		PointsRemaining: remaining,
	}

	var appendErr error
	if saved, err := e.attempts.Append(ctx, attempt); err != nil {
		e.metrics.RecordLogAppendError()
		e.logger.Error("access log append failed",
			"account_id", attempt.AccountID, "device_id", deviceID, "outcome", attempt.Outcome, "err", err)
		appendErr = fmt.Errorf("%w: %v", ErrLogAppend, err)
	} else {
		d.Attempt = saved
	}

	e.publish(d.Event)

	e.metrics.RecordDecision(string(attempt.Outcome), attempt.PointsDeducted, attempt.IsGracePeriodEntry,
		time.Since(started).Seconds())
	e.logger.Info("access decision",
		"outcome", attempt.Outcome,
		"account_id", attempt.AccountID,
		"device_id", deviceID,
		"points_deducted", attempt.PointsDeducted,
		"grace", attempt.IsGracePeriodEntry,
		"points_remaining", remaining,
	)

	return d, appendErr
}

// decide applies the grace rule and the ledger update for a matched account,
// filling in the outcome fields of attempt. A lost conditional decrement
// reloads the account and decides again from the fresh state.
func (e *Engine) decide(ctx context.Context, acct store.Account, now time.Time, attempt *store.AccessAttempt) (store.Account, int, error) {
	attempt.AccountID = acct.ID

	for i := 0; i < maxLedgerAttempts; i++ {
		grace := e.withinTolerance(acct.LastCheckIn, now)
		attempt.IsGracePeriodEntry = grace

		if acct.PointBalance <= 0 {
			attempt.Outcome = types.OutcomeWarning
			attempt.Reason = types.ReasonNoPoints
			attempt.PointsDeducted = 0
			if grace {
				if _, err := e.accounts.RecordCheckIn(ctx, acct.ID, now); err != nil {
					return acct, 0, fmt.Errorf("Evaluate check-in: %w", err)
				}
			}
			return acct, 0, nil
		}

		attempt.Outcome = types.OutcomeAllowed
		attempt.Reason = ""

		if grace {
			balance, err := e.accounts.RecordCheckIn(ctx, acct.ID, now)
			if err != nil {
				return acct, 0, fmt.Errorf("Evaluate check-in: %w", err)
			}
			attempt.PointsDeducted = 0
			return acct, balance, nil
		}

		remaining, err := e.accounts.ConsumePoint(ctx, acct.ID, now)
		if err == nil {
			attempt.PointsDeducted = 1
			return acct, remaining, nil
		}
		if !errors.Is(err, store.ErrNoPoints) {
			return acct, 0, fmt.Errorf("Evaluate consume: %w", err)
		}

		e.metrics.RecordLedgerConflict()
		e.logger.Debug("conditional decrement lost, re-deciding", "account_id", acct.ID)

		acct, err = e.accounts.Get(ctx, acct.ID)
		if err != nil {
			return acct, 0, fmt.Errorf("Evaluate reload: %w", err)
		}
	}
	return acct, 0, fmt.Errorf("Evaluate account %s: %w", acct.ID, ErrLedgerContention)
}

func (e *Engine) withinTolerance(last *time.Time, now time.Time) bool {
	if last == nil || e.tolerance <= 0 {
		return false
	}
	return now.Sub(*last) <= e.tolerance
}

func (e *Engine) buildEvent(a store.AccessAttempt, cardID string, acct store.Account, matched bool, remaining int) types.BroadcastEvent {
	ev := types.BroadcastEvent{
		Status:           a.Outcome,
		CardID:           cardID,
		DeviceID:         a.DeviceID,
		PointsDeducted:   a.PointsDeducted,
		IsToleranceEntry: a.IsGracePeriodEntry,
		Timestamp:        types.FormatTimestamp(a.CreatedAt),
	}
	if a.Reason != "" {
		msg := a.Reason
		ev.Message = &msg
	}
	if matched {
		ev.Account = &types.AccountSummary{
			ID:              acct.ID,
			Name:            acct.Name,
			Email:           acct.Email,
			PointsRemaining: remaining,
		}
	}
	return ev
}

func (e *Engine) publish(ev types.BroadcastEvent) {
	if e.pub == nil {
		return
	}
	if !e.pub.Submit(ev) {
		e.logger.Warn("broadcast event dropped", "device_id", ev.DeviceID, "status", ev.Status)
	}
}
