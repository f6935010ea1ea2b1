package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comanda/internal/domain"
	"comanda/internal/events"
	"comanda/internal/service"
	"comanda/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, events.NewAuditSink(repo), service.Options{LoyaltyPointsPerUnit: 1})
	auth := NewAuthManager(context.Background(), "test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

type testClient struct {
	t       *testing.T
	handler http.Handler
	token   string
	csrf    string
}

func newClient(t *testing.T, api *API, username, password string) *testClient {
	t.Helper()
	return &testClient{
		t:       t,
		handler: api.Handler(),
		token:   loginAs(t, api, username, password),
		csrf:    fetchCSRFToken(t, api),
	}
}

func (c *testClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-CSRF-Token", c.csrf)
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func openCash(t *testing.T, admin *testClient) {
	t.Helper()
	rec := admin.do(http.MethodPost, "/api/v1/cash", map[string]any{"action": "open", "pin": "2580", "startingFloat": 100})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
}

func TestHandleLoginInvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	payload, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorReason(t, rec))
}

func TestOrdersRequireAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCashLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")

	rec := admin.do(http.MethodGet, "/api/v1/cash", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[domain.CashStatusResponse](t, rec)
	assert.Equal(t, domain.CashStatusClosed, status.Status)
	assert.Nil(t, status.Session)

	openCash(t, admin)

	rec = admin.do(http.MethodPost, "/api/v1/cash", map[string]any{"action": "open", "pin": "2580"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "session_already_open", errorReason(t, rec))

	rec = admin.do(http.MethodPost, "/api/v1/cash", map[string]any{"action": "cash-in", "pin": "2580", "amount": "25.50", "note": "troco"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = admin.do(http.MethodPost, "/api/v1/cash", map[string]any{"action": "cash-out", "pin": "2580", "amount": 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_amount", errorReason(t, rec))

	rec = admin.do(http.MethodGet, "/api/v1/cash", nil)
	status = decodeBody[domain.CashStatusResponse](t, rec)
	assert.Equal(t, domain.CashStatusOpen, status.Status)
	require.NotNil(t, status.ExpectedCash)
	assert.Equal(t, domain.Money(12550), *status.ExpectedCash)

	rec = admin.do(http.MethodPost, "/api/v1/cash", map[string]any{"action": "resume", "pin": "2580"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "session_not_paused", errorReason(t, rec))

	rec = admin.do(http.MethodPost, "/api/v1/cash", map[string]any{"action": "close", "pin": "2580"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = admin.do(http.MethodGet, "/api/v1/cash/history?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[domain.CashHistoryResponse](t, rec)
	require.Len(t, history.Sessions, 1)
	assert.Equal(t, domain.Money(2550), history.Sessions[0].Totals.CashIn)
}

func TestCashActionsNeedAdminAndPIN(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")
	cashier := newClient(t, api, "cashier", "cashier123")

	rec := cashier.do(http.MethodPost, "/api/v1/cash", map[string]any{"action": "open", "pin": "2580"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorReason(t, rec))

	rec = admin.do(http.MethodPost, "/api/v1/cash", map[string]any{"action": "open", "pin": "9999"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "invalid_pin", errorReason(t, rec))

	rec = cashier.do(http.MethodGet, "/api/v1/cash", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = cashier.do(http.MethodGet, "/api/v1/cash/history", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOrderFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")
	cashier := newClient(t, api, "cashier", "cashier123")
	openCash(t, admin)

	rec := cashier.do(http.MethodPost, "/api/v1/orders", map[string]any{
		"items":    []map[string]any{{"productId": "prod-xburger", "price": 28.90, "quantity": 2}},
		"customer": map[string]any{"id": "cli-ana", "name": "Ana"},
		"loyalty":  map[string]any{"campaign": "fidelidade"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decodeBody[domain.Order](t, rec)
	assert.Regexp(t, `^[0-9][A-Z][0-9]{4}$`, order.ID)
	assert.Len(t, order.PINCode, 4)
	assert.Equal(t, domain.Money(5780), order.Total)

	path := "/api/v1/orders/" + order.ID
	rec = cashier.do(http.MethodPut, path, map[string]any{"status": "COMPLETO"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "payment_not_confirmed", errorReason(t, rec))

	rec = cashier.do(http.MethodPut, path, map[string]any{"paymentStatus": "PAGO"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "payment_method_required", errorReason(t, rec))

	rec = cashier.do(http.MethodPut, path, map[string]any{"payment": "BOLETO"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_payment", errorReason(t, rec))

	rec = cashier.do(http.MethodPut, path, map[string]any{"payment": "PIX", "paymentStatus": "PAGO"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeBody[map[string]any](t, rec)["ok"])

	rec = cashier.do(http.MethodPut, path, map[string]any{"status": "COMPLETO"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = cashier.do(http.MethodPost, path+"/feedback", map[string]any{"vote": "POSITIVO"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = cashier.do(http.MethodPost, path+"/feedback", map[string]any{"vote": "POSITIVO"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "feedback_exists", errorReason(t, rec))

	rec = cashier.do(http.MethodGet, "/api/v1/cash", nil)
	status := decodeBody[domain.CashStatusResponse](t, rec)
	require.NotNil(t, status.Session)
	assert.Equal(t, domain.Money(5780), status.Session.Totals.Sales)
	assert.Equal(t, domain.Money(5780), status.Session.Totals.ByPayment[domain.PaymentPix])
	assert.Equal(t, 1, status.Session.CompletedCount)

	rec = cashier.do(http.MethodGet, "/api/v1/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[domain.OrderListResponse](t, rec)
	require.Len(t, list.Orders, 1)
	assert.NotNil(t, list.Orders[0].Feedback)
}

func TestOrderCreateConflictsAndValidation(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")

	item := map[string]any{"productId": "prod-agua", "price": 4, "quantity": 1}
	rec := admin.do(http.MethodPost, "/api/v1/orders", map[string]any{"items": []any{item}})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "no_open_session", errorReason(t, rec))

	openCash(t, admin)

	rec = admin.do(http.MethodPost, "/api/v1/orders", map[string]any{
		"items": []any{map[string]any{"productId": "prod-acai", "price": 22, "quantity": 999}},
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_stock", errorReason(t, rec))

	rec = admin.do(http.MethodPost, "/api/v1/orders", map[string]any{"id": "12345", "items": []any{item}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_order_id", errorReason(t, rec))

	rec = admin.do(http.MethodPost, "/api/v1/orders", map[string]any{"items": []any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_items", errorReason(t, rec))

	rec = admin.do(http.MethodPost, "/api/v1/orders", map[string]any{"items": []any{item}, "discount": 5})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", errorReason(t, rec))

	rec = admin.do(http.MethodPost, "/api/v1/cash", map[string]any{"action": "pause", "pin": "2580", "reason": "limpeza"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = admin.do(http.MethodPost, "/api/v1/orders", map[string]any{"items": []any{item}})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "session_paused", errorReason(t, rec))

	rec = admin.do(http.MethodPost, "/api/v1/cash", map[string]any{"action": "resume", "pin": "2580"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = admin.do(http.MethodPost, "/api/v1/orders", map[string]any{"id": "3B1415", "items": []any{item}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = admin.do(http.MethodPost, "/api/v1/orders", map[string]any{"id": "3B1415", "items": []any{item}})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_order_id", errorReason(t, rec))

	rec = admin.do(http.MethodPost, "/api/v1/cash", map[string]any{"action": "close", "pin": "2580"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "orders_pending", errorReason(t, rec))
}

func TestOrderLookupNotFound(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")

	rec := admin.do(http.MethodGet, "/api/v1/orders/9Z9999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorReason(t, rec))

	rec = admin.do(http.MethodDelete, "/api/v1/orders/9Z9999", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAuditLogRecordsCashActions(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")
	openCash(t, admin)

	rec := admin.do(http.MethodGet, "/api/v1/audit-logs?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string][]domain.AuditLog](t, rec)
	require.NotEmpty(t, body["logs"])
	assert.Equal(t, events.SessionOpened, body["logs"][0].Action)
	assert.Equal(t, "admin", body["logs"][0].ActorUsername)
}

func TestAdminCanCreateOperators(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")

	rec := admin.do(http.MethodPost, "/api/v1/users", domain.UserCreateRequest{Username: "gerente", Password: "senha-forte", Role: domain.RoleAdmin, PIN: "4071"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = admin.do(http.MethodPost, "/api/v1/users", domain.UserCreateRequest{Username: "gerente", Password: "senha-forte"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "account_exists", errorReason(t, rec))

	manager := newClient(t, api, "gerente", "senha-forte")
	rec = manager.do(http.MethodPost, "/api/v1/cash", map[string]any{"action": "open", "pin": "4071"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}
