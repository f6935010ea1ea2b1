package store

import (
	"context"
	"errors"
	"time"

	"comanda/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalid           = errors.New("invalid record")
	ErrOrdersOpen        = errors.New("session has open orders")
)

// Repository is the storage surface of the ledger. Every mutating method is
// a single atomic conditional update against one record; callers that need
// several of them to land together use RunInTx.
type Repository interface {
	// RunInTx runs fn inside a storage transaction when the backend supports
	// one. Backends that do not simply call fn; see InTx.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error)
	GetOpenSession(ctx context.Context) (*domain.CashSession, error)
	GetSession(ctx context.Context, id string) (*domain.CashSession, error)
	ListClosedSessions(ctx context.Context, limit int) ([]domain.CashSession, error)
	PauseSession(ctx context.Context, id string, pause domain.SessionPause) (*domain.CashSession, error)
	ResumeSession(ctx context.Context, id string, resumedBy string, at time.Time) (*domain.CashSession, error)
	// CloseSession only applies while the session's open-order counter is
	// zero, in the same atomic step that stamps closedAt.
	CloseSession(ctx context.Context, id string, closedBy string, at time.Time) (*domain.CashSession, error)
	ApplySessionDelta(ctx context.Context, id string, delta domain.SessionDelta) error
	RemoveFeeMovement(ctx context.Context, sessionID string, orderID string) (*domain.CashMovement, error)

	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
	DecrementStock(ctx context.Context, productID string, qty int) (bool, error)
	IncrementStock(ctx context.Context, productID string, qty int) error

	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	AdjustCustomer(ctx context.Context, id string, adj domain.CustomerAdjustment) error

	OrderExists(ctx context.Context, id string) (bool, error)
	InsertOrder(ctx context.Context, order domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrdersBySession(ctx context.Context, sessionID string, status string) ([]domain.Order, error)
	UpdateOrder(ctx context.Context, order domain.Order, expect OrderGuard) error
	SetOrderFeedback(ctx context.Context, id string, feedback domain.Feedback) error
	CountUnresolvedOrders(ctx context.Context, sessionID string) (pending int, unpaid int, err error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// OrderGuard is the state an order must still be in for a conditional
// update to apply. It covers every field accrual is derived from.
type OrderGuard struct {
	Status        string
	PaymentStatus string
	Payment       string
}

func GuardOf(order domain.Order) OrderGuard {
	return OrderGuard{Status: order.Status, PaymentStatus: order.PaymentStatus, Payment: order.Payment}
}

func (g OrderGuard) Matches(order domain.Order) bool {
	return order.Status == g.Status && order.PaymentStatus == g.PaymentStatus && order.Payment == g.Payment
}

type txMarkerKey struct{}

// MarkTx records on ctx that a real storage transaction is in progress, so
// rollback is the storage engine's job rather than the caller's.
func MarkTx(ctx context.Context) context.Context {
	return context.WithValue(ctx, txMarkerKey{}, true)
}

func InTx(ctx context.Context) bool {
	v, _ := ctx.Value(txMarkerKey{}).(bool)
	return v
}

// IsTerminalStatus reports whether an order in this status can no longer move.
func IsTerminalStatus(status string) bool {
	return status == domain.OrderStatusComplete || status == domain.OrderStatusCancelled
}

// FeeNote is the description tagged on a delivery-fee cash-out movement so
// the movement can be found again when the order is cancelled.
func FeeNote(orderID string) string {
	return "taxa de entrega pedido " + orderID
}
