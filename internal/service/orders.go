package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"comanda/internal/domain"
	"comanda/internal/events"
	"comanda/internal/store"
	"comanda/internal/xid"
)

// feeThreshold is the largest delivery fee treated as "no fee".
var feeThreshold = decimal.New(5, -3)

type compensation struct {
	name string
	fn   func(ctx context.Context) error
}

// compensations undoes already-applied steps, newest first, when a backend
// cannot roll them back for us.
type compensations struct {
	steps []compensation
}

func (c *compensations) add(name string, fn func(ctx context.Context) error) {
	c.steps = append(c.steps, compensation{name: name, fn: fn})
}

func (c *compensations) run(ctx context.Context, orderID string) {
	for i := len(c.steps) - 1; i >= 0; i-- {
		if err := c.steps[i].fn(ctx); err != nil {
			log.Warn().Err(err).Str("order_id", orderID).Str("step", c.steps[i].name).Msg("compensation failed")
		}
	}
	c.steps = nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

// ListOrders returns the orders pinned to the currently open session. With
// no open session the list is empty.
func (s *Service) ListOrders(ctx context.Context, status string) (domain.OrderListResponse, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if status != "" && !isKnownStatus(status) {
		return domain.OrderListResponse{}, ErrInvalidStatus
	}

	session, err := s.repo.GetOpenSession(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.OrderListResponse{Orders: []domain.Order{}}, nil
		}
		return domain.OrderListResponse{}, err
	}

	orders, err := s.repo.ListOrdersBySession(ctx, session.ID, status)
	if err != nil {
		return domain.OrderListResponse{}, err
	}
	return domain.OrderListResponse{SessionID: session.ID, Orders: orders}, nil
}

// CreateOrder admits a new order into the open session. Every precondition
// is checked before the first write; the writes then run reservation first,
// loyalty and session accrual next, and the order insert last.
func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	if err := s.validate.Struct(req); err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrInvalidItems, err)
	}
	items, err := normalizeItems(req.Items)
	if err != nil {
		return domain.Order{}, err
	}
	payment, err := normalizePaymentMethod(req.Payment)
	if err != nil {
		return domain.Order{}, err
	}
	paymentStatus, err := normalizePaymentStatus(req.PaymentStatus)
	if err != nil {
		return domain.Order{}, err
	}
	if paymentStatus == domain.PaymentStatusPaid && !isAccrued(paymentStatus, payment) {
		return domain.Order{}, ErrPaymentMethodNeeded
	}
	deliveryMethod, err := normalizeDeliveryMethod(req.DeliveryMethod)
	if err != nil {
		return domain.Order{}, err
	}
	customer := domain.CustomerRef{ID: strings.TrimSpace(req.Customer.ID), Name: strings.TrimSpace(req.Customer.Name)}
	if customer.ID == "" {
		customer.ID = s.counterSaleID
	}
	campaign := ""
	if req.Loyalty != nil && customer.ID != s.counterSaleID {
		campaign = strings.TrimSpace(req.Loyalty.Campaign)
	}

	session, err := s.openSession(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	if session.Paused {
		return domain.Order{}, ErrSessionPaused
	}

	orderID, err := s.allocateOrderID(ctx, req.ID)
	if err != nil {
		return domain.Order{}, err
	}

	productIDs := make([]string, 0, len(items))
	for _, item := range items {
		productIDs = append(productIDs, item.ProductID)
	}
	products, err := s.repo.GetProducts(ctx, productIDs)
	if err != nil {
		return domain.Order{}, fmt.Errorf("stock check: %w", err)
	}
	lines := reservationLines(items)
	if err := checkAvailability(products, lines); err != nil {
		return domain.Order{}, err
	}

	total := domain.Money(0)
	for i := range items {
		product := products[items[i].ProductID]
		if items[i].Name == "" {
			items[i].Name = product.Name
		}
		if items[i].Category == "" {
			items[i].Category = product.Category
		}
		total += items[i].Subtotal()
	}

	now := s.now()
	order := domain.Order{
		ID:               orderID,
		PINCode:          xid.PINCode(),
		Status:           domain.OrderStatusWaiting,
		Items:            items,
		Payment:          payment,
		PaymentStatus:    paymentStatus,
		DeliveryMethod:   deliveryMethod,
		DeliveryFee:      normalizeDeliveryFee(req.DeliveryFee),
		Customer:         customer,
		SessionID:        session.ID,
		Total:            total,
		StatusTimestamps: map[string]time.Time{domain.OrderStatusWaiting: now},
		Stages:           advanceStages(nil, "", domain.OrderStatusWaiting, now),
		LoyaltyAwards:    []domain.LoyaltyAward{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.repo.RunInTx(ctx, func(ctx context.Context) error {
		undo := &compensations{}
		err := s.placeOrder(ctx, &order, products, lines, campaign, undo)
		if err != nil && !store.InTx(ctx) {
			undo.run(context.WithoutCancel(ctx), order.ID)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrStockConflict) {
			s.emit(ctx, events.Event{Type: events.StockReservationLost, SessionID: session.ID, OrderID: order.ID})
		}
		return domain.Order{}, err
	}

	s.emitCreated(ctx, order)
	return order, nil
}

func (s *Service) placeOrder(ctx context.Context, order *domain.Order, products map[string]domain.Product, lines []reservationLine, campaign string, undo *compensations) error {
	if err := s.reserve(ctx, order.ID, products, lines, undo); err != nil {
		return err
	}

	if order.Customer.ID != s.counterSaleID {
		if err := s.accrueCustomer(ctx, order, campaign, undo); err != nil {
			return err
		}
	}

	delta := domain.SessionDelta{RequireUnpaused: true, OpenOrders: 1}
	delta.Items, delta.Categories = soldCounters(order.Items, 1)
	if isAccrued(order.PaymentStatus, order.Payment) && order.Total > 0 {
		paid := accrualDelta(order.Total, order.Payment)
		delta.Sales, delta.ByPayment = paid.Sales, paid.ByPayment
	}
	undoDelta := delta.Negate()
	if order.DeliveryFee != nil {
		delta.CashOut = *order.DeliveryFee
		delta.Movement = &domain.CashMovement{
			ID:      uuid.NewString(),
			Type:    domain.MovementOut,
			Amount:  *order.DeliveryFee,
			Note:    store.FeeNote(order.ID),
			Actor:   actorName(ctx),
			At:      order.CreatedAt,
			OrderID: order.ID,
		}
	}
	if err := s.repo.ApplySessionDelta(ctx, order.SessionID, delta); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrSessionChanged
		}
		return err
	}
	sessionID, orderID, hasFee := order.SessionID, order.ID, order.DeliveryFee != nil
	undo.add("revert session totals", func(ctx context.Context) error {
		if hasFee {
			if _, err := s.repo.RemoveFeeMovement(ctx, sessionID, orderID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		return s.repo.ApplySessionDelta(ctx, sessionID, undoDelta)
	})

	if err := s.repo.InsertOrder(ctx, *order); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrDuplicateOrderID
		}
		return err
	}
	return nil
}

// accrueCustomer bumps the purchase counter and, when a campaign is set,
// awards loyalty points recorded on the order for exact later reversal.
// Orders for customers without a record carry no customer side effects.
func (s *Service) accrueCustomer(ctx context.Context, order *domain.Order, campaign string, undo *compensations) error {
	adj := domain.CustomerAdjustment{PurchasesDelta: 1}
	var award *domain.LoyaltyAward
	if campaign != "" {
		if points := s.loyaltyPoints(order.Total); points > 0 {
			adj.PointsDelta = points
			adj.Entry = &domain.LoyaltyEntry{
				ID:        uuid.NewString(),
				OrderID:   order.ID,
				Campaign:  campaign,
				Points:    points,
				Kind:      domain.LoyaltyKindAward,
				CreatedAt: order.CreatedAt,
			}
			award = &domain.LoyaltyAward{
				Campaign:   campaign,
				CustomerID: order.Customer.ID,
				Points:     points,
				AwardedAt:  order.CreatedAt,
			}
		}
	}

	if err := s.repo.AdjustCustomer(ctx, order.Customer.ID, adj); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Debug().Str("order_id", order.ID).Str("customer_id", order.Customer.ID).Msg("customer has no record; skipping loyalty")
			return nil
		}
		return err
	}
	if award != nil {
		order.LoyaltyAwards = append(order.LoyaltyAwards, *award)
	}

	customerID, orderID := order.Customer.ID, order.ID
	undo.add("revert customer accrual", func(ctx context.Context) error {
		revert := domain.CustomerAdjustment{PurchasesDelta: -1, PointsDelta: -adj.PointsDelta}
		if adj.Entry != nil {
			revert.Entry = &domain.LoyaltyEntry{
				ID:        uuid.NewString(),
				OrderID:   orderID,
				Campaign:  adj.Entry.Campaign,
				Points:    -adj.PointsDelta,
				Kind:      domain.LoyaltyKindReversal,
				CreatedAt: s.now(),
			}
		}
		return s.repo.AdjustCustomer(ctx, customerID, revert)
	})
	return nil
}

func (s *Service) emitCreated(ctx context.Context, order domain.Order) {
	s.emit(ctx, events.Event{
		Type:      events.OrderCreated,
		SessionID: order.SessionID,
		OrderID:   order.ID,
		Data: map[string]any{
			"total":         order.Total.String(),
			"items":         order.ItemCount(),
			"payment":       order.Payment,
			"paymentStatus": order.PaymentStatus,
			"customer":      order.Customer.ID,
		},
	})
	if isAccrued(order.PaymentStatus, order.Payment) {
		s.emit(ctx, events.Event{
			Type:      events.OrderPaid,
			SessionID: order.SessionID,
			OrderID:   order.ID,
			Data:      map[string]any{"amount": order.Total.String(), "payment": order.Payment},
		})
	}
	if order.DeliveryFee != nil {
		s.emit(ctx, events.Event{
			Type:      events.FeeAdded,
			SessionID: order.SessionID,
			OrderID:   order.ID,
			Data:      map[string]any{"amount": order.DeliveryFee.String(), "note": store.FeeNote(order.ID)},
		})
	}
	for _, award := range order.LoyaltyAwards {
		s.emit(ctx, events.Event{
			Type:      events.LoyaltyAwarded,
			SessionID: order.SessionID,
			OrderID:   order.ID,
			Data:      map[string]any{"customer": award.CustomerID, "campaign": award.Campaign, "points": award.Points},
		})
	}
}

// allocateOrderID validates a client-supplied id or draws random ids until
// one is free.
func (s *Service) allocateOrderID(ctx context.Context, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		if !xid.ValidOrderID(requested) {
			return "", ErrInvalidOrderID
		}
		exists, err := s.repo.OrderExists(ctx, requested)
		if err != nil {
			return "", err
		}
		if exists {
			return "", ErrDuplicateOrderID
		}
		return requested, nil
	}

	for attempt := 0; attempt < s.idAttempts; attempt++ {
		candidate := xid.OrderID()
		exists, err := s.repo.OrderExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", ErrOrderIDExhausted
}

func normalizeItems(inputs []domain.OrderItemInput) ([]domain.OrderItem, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrInvalidItems)
	}
	items := make([]domain.OrderItem, 0, len(inputs))
	for i, in := range inputs {
		productID := strings.TrimSpace(in.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: item %d has no product", ErrInvalidItems, i)
		}
		if in.Quantity < 1 {
			return nil, fmt.Errorf("%w: item %d quantity must be at least 1", ErrInvalidItems, i)
		}
		if in.Price.IsNegative() {
			return nil, fmt.Errorf("%w: item %d price must not be negative", ErrInvalidItems, i)
		}
		items = append(items, domain.OrderItem{
			ProductID: productID,
			Name:      strings.TrimSpace(in.Name),
			Price:     domain.MoneyFromDecimal(in.Price),
			Quantity:  in.Quantity,
			Category:  strings.TrimSpace(in.Category),
		})
	}
	return items, nil
}

// normalizeDeliveryFee rounds the fee to cents; fees at or below half a
// cent are treated as absent.
func normalizeDeliveryFee(fee *decimal.Decimal) *domain.Money {
	if fee == nil || fee.LessThanOrEqual(feeThreshold) {
		return nil
	}
	m := domain.MoneyFromDecimal(*fee)
	return &m
}

func normalizeDeliveryMethod(raw string) (string, error) {
	method := strings.ToUpper(strings.TrimSpace(raw))
	switch method {
	case "":
		return domain.DeliveryMethodCounter, nil
	case domain.DeliveryMethodDelivery, domain.DeliveryMethodPickup, domain.DeliveryMethodCounter:
		return method, nil
	}
	return "", ErrInvalidDelivery
}
