package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"comanda/internal/domain"
	"comanda/internal/events"
	"comanda/internal/store"
)

// UpdateOrder applies a status and/or payment change. Payment accrual is
// derived from the previous and next payment fields, so repeating the same
// request never counts a sale twice.
func (s *Service) UpdateOrder(ctx context.Context, id string, req domain.OrderUpdateRequest) (domain.Order, error) {
	prev, err := s.repo.GetOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Order{}, err
	}
	if store.IsTerminalStatus(prev.Status) {
		return domain.Order{}, ErrOrderFinalized
	}

	next := cloneOrder(*prev)
	if req.Status != nil {
		next.Status = strings.ToUpper(strings.TrimSpace(*req.Status))
		if err := validateStatusTransition(prev.Status, next.Status); err != nil {
			return domain.Order{}, err
		}
	}
	if next.Status == domain.OrderStatusCancelled {
		return s.cancelOrder(ctx, *prev)
	}

	if req.Payment != nil {
		if next.Payment, err = normalizePaymentMethod(*req.Payment); err != nil {
			return domain.Order{}, err
		}
	}
	if req.PaymentStatus != nil {
		if next.PaymentStatus, err = normalizePaymentStatus(*req.PaymentStatus); err != nil {
			return domain.Order{}, err
		}
	}
	if next.PaymentStatus == domain.PaymentStatusPaid && !isAccrued(next.PaymentStatus, next.Payment) {
		return domain.Order{}, ErrPaymentMethodNeeded
	}
	if next.Status == domain.OrderStatusComplete && next.PaymentStatus != domain.PaymentStatusPaid {
		return domain.Order{}, ErrPaymentNotConfirmed
	}

	now := s.now()
	statusChanged := next.Status != prev.Status
	if statusChanged {
		next.StatusTimestamps[next.Status] = now
		next.Stages = advanceStages(prev.Stages, prev.Status, next.Status, now)
	}
	next.UpdatedAt = now

	delta := paymentTransitionDelta(*prev, next)
	if next.Status == domain.OrderStatusComplete {
		delta.CompletedCount = 1
		delta.OpenOrders = -1
		delta.Completed = &domain.CompletedOrderSummary{
			OrderID:         next.ID,
			At:              now,
			ItemCount:       next.ItemCount(),
			Total:           next.Total,
			Customer:        next.Customer.Label(),
			PaymentMethod:   next.Payment,
			PaymentStatus:   next.PaymentStatus,
			LoyaltyAdjusted: len(next.LoyaltyAwards) > 0,
		}
	}

	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateOrder(ctx, next, store.GuardOf(*prev)); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrConcurrentUpdate
			}
			return err
		}
		if delta.IsZero() {
			return nil
		}
		if err := s.repo.ApplySessionDelta(ctx, next.SessionID, delta); err != nil {
			if !store.InTx(ctx) {
				restore := *prev
				if rerr := s.repo.UpdateOrder(context.WithoutCancel(ctx), restore, store.GuardOf(next)); rerr != nil {
					log.Warn().Err(rerr).Str("order_id", next.ID).Msg("failed to restore order after session update failure")
				}
			}
			if errors.Is(err, store.ErrConflict) {
				return ErrSessionChanged
			}
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	if statusChanged {
		s.emit(ctx, events.Event{
			Type:      events.OrderStatusChanged,
			SessionID: next.SessionID,
			OrderID:   next.ID,
			Data:      map[string]any{"from": prev.Status, "to": next.Status},
		})
	}
	if delta.Sales > 0 {
		s.emit(ctx, events.Event{
			Type:      events.OrderPaid,
			SessionID: next.SessionID,
			OrderID:   next.ID,
			Data:      map[string]any{"amount": delta.Sales.String(), "payment": next.Payment},
		})
	}
	if statusChanged && next.Status == domain.OrderStatusComplete {
		s.emit(ctx, events.Event{
			Type:      events.OrderCompleted,
			SessionID: next.SessionID,
			OrderID:   next.ID,
			Data:      map[string]any{"total": next.Total.String(), "items": next.ItemCount()},
		})
	}
	return next, nil
}

// cancelOrder claims the order as cancelled and then undoes each of its side
// effects. The reversal steps are independent: a failing step is logged and
// reported as an event, and the remaining steps still run.
func (s *Service) cancelOrder(ctx context.Context, prev domain.Order) (domain.Order, error) {
	now := s.now()
	next := cloneOrder(prev)
	next.Status = domain.OrderStatusCancelled
	next.StatusTimestamps[domain.OrderStatusCancelled] = now
	next.Stages = advanceStages(prev.Stages, prev.Status, domain.OrderStatusCancelled, now)
	next.UpdatedAt = now

	if err := s.repo.UpdateOrder(ctx, next, store.GuardOf(prev)); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Order{}, ErrConcurrentUpdate
		}
		return domain.Order{}, err
	}

	ctx = context.WithoutCancel(ctx)
	steps := []struct {
		name string
		fn   func(ctx context.Context, order domain.Order) error
	}{
		{"payment", s.reversePayment},
		{"counters", s.reverseCounters},
		{"delivery_fee", s.reverseDeliveryFee},
		{"loyalty", s.reverseLoyalty},
		{"purchases", s.reversePurchase},
		{"stock", func(ctx context.Context, order domain.Order) error { return s.release(ctx, order.Items) }},
	}
	for _, step := range steps {
		if err := step.fn(ctx, prev); err != nil {
			log.Warn().Err(err).Str("order_id", prev.ID).Str("step", step.name).Msg("cancellation reversal failed")
			s.emit(ctx, events.Event{
				Type:      events.ReversalFailed,
				SessionID: prev.SessionID,
				OrderID:   prev.ID,
				Data:      map[string]any{"step": step.name, "error": err.Error()},
			})
		}
	}

	s.emit(ctx, events.Event{
		Type:      events.OrderCancelled,
		SessionID: prev.SessionID,
		OrderID:   prev.ID,
		Data:      map[string]any{"from": prev.Status, "total": prev.Total.String()},
	})
	return next, nil
}

func (s *Service) reversePayment(ctx context.Context, order domain.Order) error {
	if !isAccrued(order.PaymentStatus, order.Payment) || order.Total <= 0 {
		return nil
	}
	return s.repo.ApplySessionDelta(ctx, order.SessionID, accrualDelta(-order.Total, order.Payment))
}

func (s *Service) reverseCounters(ctx context.Context, order domain.Order) error {
	delta := domain.SessionDelta{OpenOrders: -1}
	delta.Items, delta.Categories = soldCounters(order.Items, -1)
	return s.repo.ApplySessionDelta(ctx, order.SessionID, delta)
}

func (s *Service) reverseDeliveryFee(ctx context.Context, order domain.Order) error {
	if order.DeliveryFee == nil {
		return nil
	}
	removed, err := s.repo.RemoveFeeMovement(ctx, order.SessionID, order.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	s.emit(ctx, events.Event{
		Type:      events.FeeReversed,
		SessionID: order.SessionID,
		OrderID:   order.ID,
		Data:      map[string]any{"amount": removed.Amount.String(), "note": removed.Note},
	})
	return nil
}

// reverseLoyalty takes back exactly the points recorded on the order.
func (s *Service) reverseLoyalty(ctx context.Context, order domain.Order) error {
	var errs []error
	for _, award := range order.LoyaltyAwards {
		if award.Points == 0 {
			continue
		}
		adj := domain.CustomerAdjustment{
			PointsDelta: -award.Points,
			Entry: &domain.LoyaltyEntry{
				ID:        uuid.NewString(),
				OrderID:   order.ID,
				Campaign:  award.Campaign,
				Points:    -award.Points,
				Kind:      domain.LoyaltyKindReversal,
				CreatedAt: s.now(),
			},
		}
		if err := s.repo.AdjustCustomer(ctx, award.CustomerID, adj); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			errs = append(errs, fmt.Errorf("customer %s: %w", award.CustomerID, err))
			continue
		}
		s.emit(ctx, events.Event{
			Type:      events.LoyaltyReversed,
			SessionID: order.SessionID,
			OrderID:   order.ID,
			Data:      map[string]any{"customer": award.CustomerID, "campaign": award.Campaign, "points": award.Points},
		})
	}
	return errors.Join(errs...)
}

func (s *Service) reversePurchase(ctx context.Context, order domain.Order) error {
	if order.Customer.ID == "" || order.Customer.ID == s.counterSaleID {
		return nil
	}
	err := s.repo.AdjustCustomer(ctx, order.Customer.ID, domain.CustomerAdjustment{PurchasesDelta: -1})
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// SubmitFeedback records the customer's vote on a completed order. Feedback
// is accepted once per order.
func (s *Service) SubmitFeedback(ctx context.Context, id string, req domain.FeedbackRequest) (domain.Order, error) {
	req.Vote = strings.ToUpper(strings.TrimSpace(req.Vote))
	req.Comment = strings.TrimSpace(req.Comment)
	if err := s.validate.Struct(req); err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrInvalidFeedback, err)
	}

	order, err := s.repo.GetOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusComplete {
		return domain.Order{}, ErrOrderNotCompleted
	}
	if order.Feedback != nil {
		return domain.Order{}, ErrFeedbackExists
	}

	feedback := domain.Feedback{Vote: req.Vote, Comment: req.Comment, At: s.now()}
	if err := s.repo.SetOrderFeedback(ctx, order.ID, feedback); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Order{}, ErrFeedbackExists
		}
		return domain.Order{}, err
	}
	order.Feedback = &feedback

	s.emit(ctx, events.Event{
		Type:      events.FeedbackReceived,
		SessionID: order.SessionID,
		OrderID:   order.ID,
		Data:      map[string]any{"vote": feedback.Vote},
	})
	return *order, nil
}

func cloneOrder(order domain.Order) domain.Order {
	out := order
	out.Items = slices.Clone(order.Items)
	out.Stages = slices.Clone(order.Stages)
	out.LoyaltyAwards = slices.Clone(order.LoyaltyAwards)
	out.StatusTimestamps = maps.Clone(order.StatusTimestamps)
	if out.StatusTimestamps == nil {
		out.StatusTimestamps = map[string]time.Time{}
	}
	return out
}
