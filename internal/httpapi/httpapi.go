package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"comanda/internal/domain"
	"comanda/internal/service"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts tokens from the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/cash", a.requireAuth(a.handleCash, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/cash/history", a.requireAuth(a.handleCashHistory, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/orders", a.requireAuth(a.handleOrders, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/orders/", a.requireAuth(a.handleOrderActions, domain.RoleCashier, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, "unauthorized", errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, "forbidden", errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "too_many_attempts", errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour
// bucket. Clients send it back in X-CSRF-Token on every mutating request.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// Login is called before a client could have fetched a CSRF token.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, "invalid_csrf_token", errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleCash(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status, err := a.service.CashStatus(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	case http.MethodPost:
		a.handleCashAction(w, r)
	default:
		writeMethodNotAllowed(w)
	}
}

// handleCashAction runs one cash action after re-checking the actor against
// the live account list and verifying the actor's own PIN.
func (a *API) handleCashAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := service.ActorFromContext(r.Context())
	if !ok || actor.Role != domain.RoleAdmin || !a.auth.IsActiveAdmin(r.Context(), actor.Username) {
		writeError(w, http.StatusUnauthorized, "unauthorized", errors.New("cash actions require an active admin"))
		return
	}

	var req domain.CashActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if !a.pinLimiter.Allow("pin:cash:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "too_many_attempts", errors.New("too many pin attempts"))
		return
	}
	if !a.auth.VerifyPIN(actor.Username, req.PIN) {
		writeError(w, http.StatusForbidden, "invalid_pin", errors.New("invalid pin"))
		return
	}

	session, err := a.service.ApplyCashAction(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if strings.EqualFold(strings.TrimSpace(req.Action), domain.CashActionOpen) {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"session":      session,
		"expectedCash": session.ExpectedCash(),
	})
}

func (a *API) handleCashHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 30, 200)
	history, err := a.service.ListSessionHistory(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := a.service.ListOrders(r.Context(), r.URL.Query().Get("status"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var req domain.OrderCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err)
			return
		}
		order, err := a.service.CreateOrder(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, order)
	default:
		writeMethodNotAllowed(w)
	}
}

// handleOrderActions serves /api/v1/orders/{id} and /api/v1/orders/{id}/feedback.
func (a *API) handleOrderActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/orders/"), "/")
	orderID, action, _ := strings.Cut(rest, "/")
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "invalid_order_id", errors.New("order id required"))
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		order, err := a.service.GetOrder(r.Context(), orderID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	case action == "" && r.Method == http.MethodPut:
		var req domain.OrderUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err)
			return
		}
		order, err := a.service.UpdateOrder(r.Context(), orderID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "order": order})
	case action == "feedback" && r.Method == http.MethodPost:
		var req domain.FeedbackRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err)
			return
		}
		order, err := a.service.SubmitFeedback(r.Context(), orderID, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "feedback": order.Feedback})
	case action == "" || action == "feedback":
		writeMethodNotAllowed(w)
	default:
		writeError(w, http.StatusNotFound, "not_found", errors.New("unknown order action"))
	}
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListOperators(r.Context())})
	case http.MethodPost:
		var req domain.UserCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err)
			return
		}
		user, err := a.auth.CreateOperator(r.Context(), req)
		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidAccount):
				writeError(w, http.StatusBadRequest, "invalid_account", err)
			case errors.Is(err, ErrAccountExists):
				writeError(w, http.StatusConflict, "account_exists", err)
			default:
				writeServiceError(w, err)
			}
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"user": user})
	default:
		writeMethodNotAllowed(w)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("latency", time.Since(startedAt)).
			Msg("request")
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", errors.New("method not allowed"))
}

// writeError renders {"error": reason, "message": msg}. 5xx responses carry a
// generic message so storage errors never reach the client.
func writeError(w http.ResponseWriter, status int, reason string, err error) {
	msg := err.Error()
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error":   reason,
		"message": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
