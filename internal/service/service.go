package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"comanda/internal/domain"
	"comanda/internal/events"
	"comanda/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// CounterSaleCustomerID is the reserved customer id used for walk-in
	// orders. It never accrues loyalty.
	CounterSaleCustomerID string
	// LoyaltyPointsPerUnit is awarded per whole currency unit of an order's
	// item total.
	LoyaltyPointsPerUnit int64
	// OrderIDAttempts bounds the retries when a generated order id collides.
	OrderIDAttempts int
}

type Service struct {
	repo          store.Repository
	sink          events.Sink
	validate      *validator.Validate
	counterSaleID string
	pointsPerUnit int64
	idAttempts    int
	now           func() time.Time
}

func New(repo store.Repository, sink events.Sink, opts Options) *Service {
	if sink == nil {
		sink = events.NoopSink{}
	}
	if opts.CounterSaleCustomerID == "" {
		opts.CounterSaleCustomerID = "balcao"
	}
	if opts.LoyaltyPointsPerUnit < 0 {
		opts.LoyaltyPointsPerUnit = 0
	}
	if opts.OrderIDAttempts < 1 {
		opts.OrderIDAttempts = 10
	}

	return &Service{
		repo:          repo,
		sink:          sink,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		counterSaleID: opts.CounterSaleCustomerID,
		pointsPerUnit: opts.LoyaltyPointsPerUnit,
		idAttempts:    opts.OrderIDAttempts,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) CounterSaleCustomerID() string {
	return s.counterSaleID
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

// emit appends an event to the sink. Sink failures are logged and dropped.
func (s *Service) emit(ctx context.Context, event events.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = s.now()
	}
	if event.Actor == "" {
		event.Actor = actorName(ctx)
	}
	if err := s.sink.Append(context.WithoutCancel(ctx), event); err != nil {
		log.Warn().Err(err).
			Str("event", event.Type).
			Str("session_id", event.SessionID).
			Str("order_id", event.OrderID).
			Msg("failed to append ledger event")
	}
}

func actorName(ctx context.Context) string {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return "system"
	}
	return actor.Username
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrAdminRequired
	}
	return nil
}
