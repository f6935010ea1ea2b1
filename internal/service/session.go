package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"comanda/internal/domain"
	"comanda/internal/events"
	"comanda/internal/store"
	"comanda/internal/xid"
)

func (s *Service) CashStatus(ctx context.Context) (domain.CashStatusResponse, error) {
	session, err := s.repo.GetOpenSession(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CashStatusResponse{Status: domain.CashStatusClosed}, nil
		}
		return domain.CashStatusResponse{}, err
	}

	status := domain.CashStatusOpen
	if session.Paused {
		status = domain.CashStatusPaused
	}
	expected := session.ExpectedCash()
	return domain.CashStatusResponse{Status: status, Session: session, ExpectedCash: &expected}, nil
}

func (s *Service) ListSessionHistory(ctx context.Context, limit int) (domain.CashHistoryResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.CashHistoryResponse{}, err
	}
	sessions, err := s.repo.ListClosedSessions(ctx, limit)
	if err != nil {
		return domain.CashHistoryResponse{}, err
	}
	return domain.CashHistoryResponse{Sessions: sessions}, nil
}

// ApplyCashAction dispatches one cash endpoint action. Callers must have
// verified the actor's PIN already.
func (s *Service) ApplyCashAction(ctx context.Context, req domain.CashActionRequest) (domain.CashSession, error) {
	req.Action = strings.ToLower(strings.TrimSpace(req.Action))
	if err := s.validate.Struct(req); err != nil {
		return domain.CashSession{}, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}

	switch req.Action {
	case domain.CashActionOpen:
		if req.StartingFloat.IsNegative() {
			return domain.CashSession{}, ErrInvalidAmount
		}
		return s.OpenSession(ctx, domain.MoneyFromDecimal(req.StartingFloat))
	case domain.CashActionPause:
		return s.PauseSession(ctx, req.Reason)
	case domain.CashActionResume:
		return s.ResumeSession(ctx)
	case domain.CashActionClose:
		return s.CloseSession(ctx)
	case domain.CashActionCashIn:
		return s.RecordMovement(ctx, domain.MovementIn, domain.MoneyFromDecimal(req.Amount), req.Note)
	case domain.CashActionCashOut:
		return s.RecordMovement(ctx, domain.MovementOut, domain.MoneyFromDecimal(req.Amount), req.Note)
	default:
		return domain.CashSession{}, ErrInvalidAction
	}
}

func (s *Service) OpenSession(ctx context.Context, startingFloat domain.Money) (domain.CashSession, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.CashSession{}, err
	}
	if startingFloat < 0 {
		return domain.CashSession{}, ErrInvalidAmount
	}

	now := s.now()
	session := domain.CashSession{
		ID:            xid.SessionID(now),
		OpenedAt:      now,
		OpenedBy:      actorName(ctx),
		StartingFloat: startingFloat,
		Totals:        domain.SessionTotals{ByPayment: map[string]domain.Money{}},
		Sold:          domain.SoldCounters{Items: map[string]int{}, Categories: map[string]int{}},
	}

	created, err := s.repo.CreateSession(ctx, session)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.CashSession{}, ErrSessionAlreadyOpen
		}
		return domain.CashSession{}, err
	}

	s.emit(ctx, events.Event{
		Type:      events.SessionOpened,
		SessionID: created.ID,
		Data:      map[string]any{"startingFloat": startingFloat.String()},
	})
	return *created, nil
}

func (s *Service) PauseSession(ctx context.Context, reason string) (domain.CashSession, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.CashSession{}, err
	}
	open, err := s.openSession(ctx)
	if err != nil {
		return domain.CashSession{}, err
	}
	if open.Paused {
		return domain.CashSession{}, fmt.Errorf("%w: already paused", ErrSessionPaused)
	}

	pause := domain.SessionPause{
		ID:       uuid.NewString(),
		Reason:   strings.TrimSpace(reason),
		PausedAt: s.now(),
		PausedBy: actorName(ctx),
	}
	updated, err := s.repo.PauseSession(ctx, open.ID, pause)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.CashSession{}, fmt.Errorf("%w: already paused", ErrSessionPaused)
		}
		return domain.CashSession{}, err
	}

	s.emit(ctx, events.Event{Type: events.SessionPaused, SessionID: updated.ID, Data: map[string]any{"reason": pause.Reason}})
	return *updated, nil
}

func (s *Service) ResumeSession(ctx context.Context) (domain.CashSession, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.CashSession{}, err
	}
	open, err := s.openSession(ctx)
	if err != nil {
		return domain.CashSession{}, err
	}
	if !open.Paused {
		return domain.CashSession{}, ErrSessionNotPaused
	}

	updated, err := s.repo.ResumeSession(ctx, open.ID, actorName(ctx), s.now())
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.CashSession{}, ErrSessionNotPaused
		}
		return domain.CashSession{}, err
	}

	s.emit(ctx, events.Event{Type: events.SessionResumed, SessionID: updated.ID})
	return *updated, nil
}

// CloseSession finalizes the open session. It refuses while any order pinned
// to the session is still moving through the pipeline or awaiting payment,
// so a closed session's totals are final.
func (s *Service) CloseSession(ctx context.Context) (domain.CashSession, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.CashSession{}, err
	}
	open, err := s.openSession(ctx)
	if err != nil {
		return domain.CashSession{}, err
	}

	pending, unpaid, err := s.repo.CountUnresolvedOrders(ctx, open.ID)
	if err != nil {
		return domain.CashSession{}, err
	}
	if pending > 0 {
		return domain.CashSession{}, fmt.Errorf("%w (%d)", ErrOrdersPending, pending)
	}
	if unpaid > 0 {
		return domain.CashSession{}, fmt.Errorf("%w (%d)", ErrUnpaidOrders, unpaid)
	}

	closed, err := s.repo.CloseSession(ctx, open.ID, actorName(ctx), s.now())
	if err != nil {
		switch {
		case errors.Is(err, store.ErrOrdersOpen):
			return domain.CashSession{}, ErrOrdersPending
		case errors.Is(err, store.ErrConflict):
			return domain.CashSession{}, ErrNoOpenSession
		}
		return domain.CashSession{}, err
	}

	log.Info().
		Str("session_id", closed.ID).
		Str("sales", closed.Totals.Sales.String()).
		Str("expected_cash", closed.ExpectedCash().String()).
		Int("completed_orders", closed.CompletedCount).
		Msg("cash session closed")
	s.emit(ctx, events.Event{
		Type:      events.SessionClosed,
		SessionID: closed.ID,
		Data: map[string]any{
			"sales":        closed.Totals.Sales.String(),
			"entradas":     closed.Totals.CashIn.String(),
			"saidas":       closed.Totals.CashOut.String(),
			"expectedCash": closed.ExpectedCash().String(),
		},
	})
	return *closed, nil
}

// RecordMovement books a manual cash-in or cash-out against the open session.
func (s *Service) RecordMovement(ctx context.Context, direction string, amount domain.Money, note string) (domain.CashSession, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.CashSession{}, err
	}
	if direction != domain.MovementIn && direction != domain.MovementOut {
		return domain.CashSession{}, ErrInvalidAction
	}
	if amount <= 0 {
		return domain.CashSession{}, ErrInvalidAmount
	}
	open, err := s.openSession(ctx)
	if err != nil {
		return domain.CashSession{}, err
	}

	movement := domain.CashMovement{
		ID:     uuid.NewString(),
		Type:   direction,
		Amount: amount,
		Note:   strings.TrimSpace(note),
		Actor:  actorName(ctx),
		At:     s.now(),
	}
	delta := domain.SessionDelta{Movement: &movement}
	eventType := events.CashIn
	if direction == domain.MovementIn {
		delta.CashIn = amount
	} else {
		delta.CashOut = amount
		eventType = events.CashOut
	}

	if err := s.repo.ApplySessionDelta(ctx, open.ID, delta); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.CashSession{}, ErrNoOpenSession
		}
		return domain.CashSession{}, err
	}

	s.emit(ctx, events.Event{
		Type:      eventType,
		SessionID: open.ID,
		Data:      map[string]any{"amount": amount.String(), "note": movement.Note},
	})

	updated, err := s.repo.GetSession(ctx, open.ID)
	if err != nil {
		return domain.CashSession{}, err
	}
	return *updated, nil
}

func (s *Service) openSession(ctx context.Context) (*domain.CashSession, error) {
	session, err := s.repo.GetOpenSession(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoOpenSession
		}
		return nil, err
	}
	return session, nil
}
