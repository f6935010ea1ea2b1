package service

import (
	"errors"
	"fmt"

	"comanda/internal/store"
)

var (
	ErrAdminRequired      = errors.New("admin role required")
	ErrSessionAlreadyOpen = errors.New("a cash session is already open")
	ErrNoOpenSession      = errors.New("no open cash session")
	ErrSessionPaused      = errors.New("cash session is paused")
	ErrSessionNotPaused   = errors.New("cash session is not paused")
	ErrSessionChanged     = errors.New("cash session changed while the request was processed")
	ErrOrdersPending      = errors.New("session still has orders in progress")
	ErrUnpaidOrders       = errors.New("session still has unpaid orders")
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrInvalidAction      = errors.New("unknown cash action")

	ErrInvalidOrderID      = errors.New("order id must be one digit, one letter and four digits")
	ErrDuplicateOrderID    = errors.New("order id already exists")
	ErrOrderIDExhausted    = errors.New("could not allocate a free order id")
	ErrInvalidItems        = errors.New("invalid order items")
	ErrInvalidPayment      = errors.New("invalid payment value")
	ErrInvalidDelivery     = errors.New("invalid delivery method")
	ErrPaymentMethodNeeded = errors.New("a payment method is required to confirm payment")
	ErrPaymentNotConfirmed = errors.New("order payment must be confirmed before completion")
	ErrInvalidStatus       = errors.New("invalid order status")
	ErrInvalidTransition   = errors.New("order status cannot move backwards")
	ErrOrderFinalized      = errors.New("order is already finalized")
	ErrOrderNotCompleted   = errors.New("feedback is only accepted for completed orders")
	ErrFeedbackExists      = errors.New("feedback already recorded for this order")
	ErrInvalidFeedback     = errors.New("invalid feedback")
	ErrStockConflict       = errors.New("stock changed while reserving items")
	ErrConcurrentUpdate    = errors.New("order was modified concurrently")
)

// InsufficientStockError reports the first line item that cannot be served.
type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d", e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == store.ErrInsufficientStock
}
