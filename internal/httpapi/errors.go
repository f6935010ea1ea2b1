package httpapi

import (
	"errors"
	"net/http"

	"comanda/internal/service"
	"comanda/internal/store"
)

type errorMapping struct {
	target error
	status int
	reason string
}

// serviceErrors is checked in order; the first match wins.
var serviceErrors = []errorMapping{
	{store.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
	{service.ErrStockConflict, http.StatusConflict, "stock_conflict"},
	{service.ErrSessionAlreadyOpen, http.StatusConflict, "session_already_open"},
	{service.ErrNoOpenSession, http.StatusConflict, "no_open_session"},
	{service.ErrSessionPaused, http.StatusConflict, "session_paused"},
	{service.ErrSessionNotPaused, http.StatusConflict, "session_not_paused"},
	{service.ErrSessionChanged, http.StatusConflict, "session_changed"},
	{service.ErrOrdersPending, http.StatusConflict, "orders_pending"},
	{service.ErrUnpaidOrders, http.StatusConflict, "unpaid_orders"},
	{service.ErrDuplicateOrderID, http.StatusConflict, "duplicate_order_id"},
	{service.ErrPaymentNotConfirmed, http.StatusConflict, "payment_not_confirmed"},
	{service.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{service.ErrOrderFinalized, http.StatusConflict, "order_finalized"},
	{service.ErrOrderNotCompleted, http.StatusConflict, "order_not_completed"},
	{service.ErrFeedbackExists, http.StatusConflict, "feedback_exists"},
	{service.ErrConcurrentUpdate, http.StatusConflict, "concurrent_update"},

	{service.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{service.ErrInvalidAction, http.StatusBadRequest, "invalid_action"},
	{service.ErrInvalidOrderID, http.StatusBadRequest, "invalid_order_id"},
	{service.ErrInvalidItems, http.StatusBadRequest, "invalid_items"},
	{service.ErrInvalidPayment, http.StatusBadRequest, "invalid_payment"},
	{service.ErrInvalidDelivery, http.StatusBadRequest, "invalid_delivery"},
	{service.ErrPaymentMethodNeeded, http.StatusBadRequest, "payment_method_required"},
	{service.ErrInvalidStatus, http.StatusBadRequest, "invalid_status"},
	{service.ErrInvalidFeedback, http.StatusBadRequest, "invalid_feedback"},

	{service.ErrAdminRequired, http.StatusForbidden, "forbidden"},
	{store.ErrNotFound, http.StatusNotFound, "not_found"},
}

// writeServiceError classifies err into a status and a machine-readable
// reason. Anything unrecognised is an infrastructure failure.
func writeServiceError(w http.ResponseWriter, err error) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.reason, err)
			return
		}
	}
	writeError(w, http.StatusInternalServerError, "internal_error", err)
}
