package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"comanda/internal/domain"
)

const (
	SessionOpened        = "session.opened"
	SessionPaused        = "session.paused"
	SessionResumed       = "session.resumed"
	SessionClosed        = "session.closed"
	CashIn               = "cash.in"
	CashOut              = "cash.out"
	OrderCreated         = "order.created"
	OrderStatusChanged   = "order.status_changed"
	OrderPaid            = "order.paid"
	OrderCompleted       = "order.completed"
	OrderCancelled       = "order.cancelled"
	FeeAdded             = "fee.added"
	FeeReversed          = "fee.reversed"
	LoyaltyAwarded       = "loyalty.awarded"
	LoyaltyReversed      = "loyalty.reversed"
	ReversalFailed       = "reversal.failed"
	FeedbackReceived     = "order.feedback"
	StockReservationLost = "stock.reservation_conflict"
)

type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId,omitempty"`
	OrderID   string         `json:"orderId,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	At        time.Time      `json:"at"`
	Data      map[string]any `json:"data,omitempty"`
}

// Sink receives structured ledger events. Appends are fire-and-forget from
// the caller's point of view: a failing sink never fails a request.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

type NoopSink struct{}

func (NoopSink) Append(_ context.Context, _ Event) error {
	return nil
}

// LogSink writes every event to a zerolog logger.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) LogSink {
	return LogSink{logger: logger.With().Str("component", "events").Logger()}
}

func (s LogSink) Append(_ context.Context, event Event) error {
	entry := s.logger.Info().
		Str("event", event.Type).
		Str("event_id", event.ID).
		Time("at", event.At)
	if event.SessionID != "" {
		entry = entry.Str("session_id", event.SessionID)
	}
	if event.OrderID != "" {
		entry = entry.Str("order_id", event.OrderID)
	}
	if event.Actor != "" {
		entry = entry.Str("actor", event.Actor)
	}
	if len(event.Data) > 0 {
		entry = entry.Fields(event.Data)
	}
	entry.Msg("ledger event")
	return nil
}

// AuditWriter is the slice of the repository the audit sink needs.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
}

// AuditSink persists events as audit log rows next to the ledger data.
type AuditSink struct {
	writer AuditWriter
}

func NewAuditSink(writer AuditWriter) AuditSink {
	return AuditSink{writer: writer}
}

func (s AuditSink) Append(ctx context.Context, event Event) error {
	entityType, entityID := "session", event.SessionID
	if event.OrderID != "" {
		entityType, entityID = "order", event.OrderID
	}
	detail := ""
	if len(event.Data) > 0 {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return err
		}
		detail = string(payload)
	}
	actor, role := event.Actor, ""
	if actor == "" {
		actor, role = "system", "system"
	}
	return s.writer.CreateAuditLog(ctx, domain.AuditLog{
		ID:            event.ID,
		ActorUsername: actor,
		ActorRole:     role,
		Action:        event.Type,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     event.At,
	})
}

// Fanout delivers each event to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Append(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Append(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps events in memory. Tests use it to assert on side effects.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Append(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of one type, oldest first.
func (r *Recorder) OfType(eventType string) []Event {
	all := r.Events()
	out := make([]Event, 0, len(all))
	for _, e := range all {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
