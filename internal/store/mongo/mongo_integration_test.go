//go:build integration

package mongo

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcMongo "github.com/testcontainers/testcontainers-go/modules/mongodb"

	"comanda/internal/domain"
	"comanda/internal/events"
	"comanda/internal/service"
	"comanda/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	mongoC, err := tcMongo.RunContainer(ctx, testcontainers.WithImage("mongo:6"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mongoC.Terminate(ctx) })

	uri, err := mongoC.ConnectionString(ctx)
	require.NoError(t, err)

	s, err := New(ctx, uri, "comanda_test", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.EnsureIndexes(ctx))
	require.NoError(t, s.EnsureIndexes(ctx), "index creation must be idempotent")
	require.NoError(t, s.SeedCatalog(ctx, store.DemoProducts(), store.DemoCustomers()))
	require.NoError(t, s.SeedCatalog(ctx, store.DemoProducts(), store.DemoCustomers()))
	return s
}

func TestOnlyOneOpenSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, domain.CashSession{ID: "CX-1", OpenedBy: "admin", OpenedAt: time.Now().UTC()})
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, domain.CashSession{ID: "CX-2", OpenedBy: "admin", OpenedAt: time.Now().UTC()})
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = s.CloseSession(ctx, "CX-1", "admin", time.Now().UTC())
	require.NoError(t, err)
	_, err = s.CloseSession(ctx, "CX-1", "admin", time.Now().UTC())
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = s.CreateSession(ctx, domain.CashSession{ID: "CX-2", OpenedBy: "admin", OpenedAt: time.Now().UTC()})
	require.NoError(t, err)

	open, err := s.GetOpenSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CX-2", open.ID)

	closed, err := s.ListClosedSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "CX-1", closed[0].ID)
}

func TestSessionDeltaKeepsDottedNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, domain.CashSession{ID: "CX-1", OpenedBy: "admin", StartingFloat: 5000})
	require.NoError(t, err)

	require.NoError(t, s.ApplySessionDelta(ctx, "CX-1", domain.SessionDelta{
		Sales:      3000,
		ByPayment:  map[string]domain.Money{domain.PaymentCash: 3000},
		Items:      map[string]int{"Acai 1.5L": 1, "$uco": 2},
		Categories: map[string]int{"Sobremesas": 1, "Bebidas": 2},
		CashOut:    500,
		Movement:   &domain.CashMovement{ID: "m1", Type: domain.MovementOut, Amount: 500, Note: store.FeeNote("2B0001"), OrderID: "2B0001"},
	}))

	session, err := s.GetSession(ctx, "CX-1")
	require.NoError(t, err)
	assert.Equal(t, 1, session.Sold.Items["Acai 1.5L"])
	assert.Equal(t, 2, session.Sold.Items["$uco"])
	assert.Equal(t, domain.Money(5000+3000-500), session.ExpectedCash())

	removed, err := s.RemoveFeeMovement(ctx, "CX-1", "2B0001")
	require.NoError(t, err)
	assert.Equal(t, domain.Money(500), removed.Amount)
	_, err = s.RemoveFeeMovement(ctx, "CX-1", "2B0001")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.ApplySessionDelta(ctx, "CX-1", domain.SessionDelta{
		Sales:      -3000,
		ByPayment:  map[string]domain.Money{domain.PaymentCash: -3000},
		Items:      map[string]int{"Acai 1.5L": -1, "$uco": -2},
		Categories: map[string]int{"Sobremesas": -1, "Bebidas": -2},
	}))
	session, err = s.GetSession(ctx, "CX-1")
	require.NoError(t, err)
	assert.Empty(t, session.Totals.ByPayment)
	assert.Empty(t, session.Sold.Items)
	assert.Empty(t, session.Sold.Categories)
	assert.Empty(t, session.Movements)

	_, err = s.PauseSession(ctx, "CX-1", domain.SessionPause{ID: "p1", Reason: "troca de turno", PausedAt: time.Now().UTC(), PausedBy: "admin"})
	require.NoError(t, err)
	_, err = s.PauseSession(ctx, "CX-1", domain.SessionPause{ID: "p2", PausedAt: time.Now().UTC(), PausedBy: "admin"})
	require.ErrorIs(t, err, store.ErrConflict)
	err = s.ApplySessionDelta(ctx, "CX-1", domain.SessionDelta{Sales: 100, RequireUnpaused: true})
	require.ErrorIs(t, err, store.ErrConflict)

	resumed, err := s.ResumeSession(ctx, "CX-1", "admin", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, resumed.Paused)
	require.Len(t, resumed.Pauses, 1)
	require.NotNil(t, resumed.Pauses[0].ResumedAt)
	assert.Equal(t, "admin", resumed.Pauses[0].ResumedBy)
}

func TestConcurrentDecrementsNeverOversell(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var won atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.DecrementStock(ctx, "prod-acai", 1)
			if err == nil && ok {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), won.Load())
	products, err := s.GetProducts(ctx, []string{"prod-acai", "prod-suco"})
	require.NoError(t, err)
	assert.Equal(t, 0, products["prod-acai"].Stock)

	ok, err := s.DecrementStock(ctx, "prod-suco", 50)
	require.NoError(t, err)
	assert.True(t, ok, "unlimited products never run out")

	_, err = s.DecrementStock(ctx, "prod-missing", 1)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestOrderLifecycleAgainstMongo(t *testing.T) {
	s := newTestStore(t)
	rec := &events.Recorder{}
	svc := service.New(s, rec, service.Options{LoyaltyPointsPerUnit: 1})
	ctx := service.WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})

	_, err := svc.OpenSession(ctx, 10000)
	require.NoError(t, err)

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Items: []domain.OrderItemInput{
			{ProductID: "prod-acai", Price: decimal.RequireFromString("22"), Quantity: 2},
		},
		Customer: domain.CustomerRef{ID: "cli-ana"},
		Loyalty:  &domain.LoyaltyRequest{Campaign: "fidelidade"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Money(4400), order.Total)

	_, err = svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Items: []domain.OrderItemInput{{ProductID: "prod-acai", Price: decimal.RequireFromString("22"), Quantity: 1}},
	})
	var stockErr *service.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)

	pix := domain.PaymentPix
	paid := domain.PaymentStatusPaid
	complete := domain.OrderStatusComplete
	updated, err := svc.UpdateOrder(ctx, order.ID, domain.OrderUpdateRequest{Payment: &pix, PaymentStatus: &paid, Status: &complete})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusComplete, updated.Status)

	status, err := svc.CashStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(4400), status.Session.Totals.Sales)
	assert.Equal(t, domain.Money(4400), status.Session.Totals.ByPayment[domain.PaymentPix])
	assert.Equal(t, 1, status.Session.CompletedCount)
	assert.Equal(t, domain.Money(10000), *status.ExpectedCash)

	ana, err := s.GetCustomer(ctx, "cli-ana")
	require.NoError(t, err)
	assert.Equal(t, int64(44), ana.LoyaltyPoints)
	assert.Equal(t, 1, ana.Purchases)

	_, err = svc.CloseSession(ctx)
	require.NoError(t, err)
}

func TestCloseSessionBlockedByOpenOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, domain.CashSession{ID: "CX-1", OpenedBy: "admin"})
	require.NoError(t, err)
	require.NoError(t, s.ApplySessionDelta(ctx, "CX-1", domain.SessionDelta{OpenOrders: 1, RequireUnpaused: true}))

	_, err = s.CloseSession(ctx, "CX-1", "admin", time.Now().UTC())
	require.ErrorIs(t, err, store.ErrOrdersOpen)
	session, err := s.GetOpenSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, session.OpenOrders)

	require.NoError(t, s.ApplySessionDelta(ctx, "CX-1", domain.SessionDelta{OpenOrders: -1}))
	_, err = s.CloseSession(ctx, "CX-1", "admin", time.Now().UTC())
	require.NoError(t, err)
	require.ErrorIs(t, s.ApplySessionDelta(ctx, "CX-1", domain.SessionDelta{OpenOrders: 1, RequireUnpaused: true}), store.ErrConflict)
}
