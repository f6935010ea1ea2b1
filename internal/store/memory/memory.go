package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"comanda/internal/domain"
	"comanda/internal/store"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	customers       map[string]domain.Customer
	sessions        map[string]domain.CashSession
	openSessionID   string
	orders          map[string]domain.Order
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD, SEED_ADMIN_PIN and
// SEED_CASHIER_PASSWORD. If unset, dev defaults are used with a warning.
// The memory store is never selected when a database is configured.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	adminPIN := envOr("SEED_ADMIN_PIN", "2580")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_ADMIN_PIN") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_ADMIN_PIN to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		pin      string
		role     string
	}{
		{"admin", adminPwd, adminPIN, domain.RoleAdmin},
		{"cashier", cashierPwd, "", domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		account := domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
		if u.pin != "" {
			pinHash, err := bcrypt.GenerateFromPassword([]byte(u.pin), bcrypt.DefaultCost)
			if err != nil {
				log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed pin")
			}
			account.PINHash = string(pinHash)
		}
		users[u.username] = account
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns an empty store holding only the seed user accounts.
func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		customers:       make(map[string]domain.Customer),
		sessions:        make(map[string]domain.CashSession),
		orders:          make(map[string]domain.Order),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

// NewSeeded returns a store with a small demo menu and customer list.
func NewSeeded() *Store {
	s := New()
	_ = s.SeedCatalog(context.Background(), store.DemoProducts(), store.DemoCustomers())
	return s
}

func (s *Store) SeedCatalog(_ context.Context, products []domain.Product, customers []domain.Customer) error {
	for _, p := range products {
		s.PutProduct(p)
	}
	for _, c := range customers {
		s.PutCustomer(c)
	}
	return nil
}

// PutProduct inserts or replaces a catalog product.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// PutCustomer inserts or replaces a customer record.
func (s *Store) PutCustomer(c domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Ledger = slices.Clone(c.Ledger)
	s.customers[c.ID] = c
}

// RunInTx has no transaction to offer; callers compensate on failure.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *Store) CreateSession(_ context.Context, session domain.CashSession) (*domain.CashSession, error) {
	if strings.TrimSpace(session.ID) == "" {
		return nil, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openSessionID != "" {
		return nil, store.ErrConflict
	}
	if _, exists := s.sessions[session.ID]; exists {
		return nil, store.ErrConflict
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.ClosedAt = nil
	session = normalizeSession(session)

	s.sessions[session.ID] = cloneSession(session)
	s.openSessionID = session.ID
	created := cloneSession(session)
	return &created, nil
}

func (s *Store) GetOpenSession(_ context.Context) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.openSessionID == "" {
		return nil, store.ErrNotFound
	}
	session, ok := s.sessions[s.openSessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneSession(session)
	return &found, nil
}

func (s *Store) GetSession(_ context.Context, id string) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneSession(session)
	return &found, nil
}

func (s *Store) ListClosedSessions(_ context.Context, limit int) ([]domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CashSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		if session.ClosedAt == nil {
			continue
		}
		result = append(result, cloneSession(session))
	}
	slices.SortFunc(result, func(a, b domain.CashSession) int {
		return b.ClosedAt.Compare(*a.ClosedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) PauseSession(_ context.Context, id string, pause domain.SessionPause) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if session.ClosedAt != nil || session.Paused {
		return nil, store.ErrConflict
	}
	session.Paused = true
	session.Pauses = append(session.Pauses, pause)
	s.sessions[id] = session
	updated := cloneSession(session)
	return &updated, nil
}

func (s *Store) ResumeSession(_ context.Context, id string, resumedBy string, at time.Time) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if session.ClosedAt != nil || !session.Paused {
		return nil, store.ErrConflict
	}
	session.Paused = false
	if n := len(session.Pauses); n > 0 && session.Pauses[n-1].ResumedAt == nil {
		resumedAt := at
		session.Pauses[n-1].ResumedAt = &resumedAt
		session.Pauses[n-1].ResumedBy = resumedBy
	}
	s.sessions[id] = session
	updated := cloneSession(session)
	return &updated, nil
}

func (s *Store) CloseSession(_ context.Context, id string, closedBy string, at time.Time) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if session.ClosedAt != nil {
		return nil, store.ErrConflict
	}
	if session.OpenOrders > 0 {
		return nil, store.ErrOrdersOpen
	}
	closedAt := at
	session.ClosedAt = &closedAt
	session.ClosedBy = closedBy
	session.Paused = false
	s.sessions[id] = session
	if s.openSessionID == id {
		s.openSessionID = ""
	}
	updated := cloneSession(session)
	return &updated, nil
}

func (s *Store) ApplySessionDelta(_ context.Context, id string, delta domain.SessionDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if session.ClosedAt != nil || (delta.RequireUnpaused && session.Paused) {
		return store.ErrConflict
	}

	session.Apply(delta)

	s.sessions[id] = session
	return nil
}

func (s *Store) RemoveFeeMovement(_ context.Context, sessionID string, orderID string) (*domain.CashMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if session.ClosedAt != nil {
		return nil, store.ErrConflict
	}
	removed, ok := session.RemoveOrderOutflow(orderID, store.FeeNote(orderID))
	if !ok {
		return nil, store.ErrNotFound
	}
	s.sessions[sessionID] = session
	return &removed, nil
}

func (s *Store) GetProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) DecrementStock(_ context.Context, productID string, qty int) (bool, error) {
	if qty < 1 {
		return false, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return false, store.ErrNotFound
	}
	if product.Unlimited {
		return true, nil
	}
	if product.Stock < qty {
		return false, nil
	}
	product.Stock -= qty
	s.products[productID] = product
	return true, nil
}

func (s *Store) IncrementStock(_ context.Context, productID string, qty int) error {
	if qty < 1 {
		return store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	if product.Unlimited {
		return nil
	}
	product.Stock += qty
	s.products[productID] = product
	return nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	customer.Ledger = slices.Clone(customer.Ledger)
	return &customer, nil
}

func (s *Store) AdjustCustomer(_ context.Context, id string, adj domain.CustomerAdjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, ok := s.customers[id]
	if !ok {
		return store.ErrNotFound
	}
	customer.LoyaltyPoints += adj.PointsDelta
	customer.Purchases += adj.PurchasesDelta
	if adj.Entry != nil {
		entry := *adj.Entry
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		customer.Ledger = append(slices.Clone(customer.Ledger), entry)
	}
	s.customers[id] = customer
	return nil
}

func (s *Store) OrderExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.orders[id]
	return ok, nil
}

func (s *Store) InsertOrder(_ context.Context, order domain.Order) error {
	if order.ID == "" || order.SessionID == "" {
		return store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return store.ErrConflict
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneOrder(order)
	return &found, nil
}

func (s *Store) ListOrdersBySession(_ context.Context, sessionID string, status string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, 32)
	for _, order := range s.orders {
		if order.SessionID != sessionID {
			continue
		}
		if status != "" && order.Status != status {
			continue
		}
		result = append(result, cloneOrder(order))
	}
	slices.SortFunc(result, func(a, b domain.Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) UpdateOrder(_ context.Context, order domain.Order, expect store.OrderGuard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[order.ID]
	if !ok {
		return store.ErrNotFound
	}
	if !expect.Matches(current) {
		return store.ErrConflict
	}
	// Session pinning and feedback are never rewritten by a status update.
	order.SessionID = current.SessionID
	order.Feedback = current.Feedback
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *Store) SetOrderFeedback(_ context.Context, id string, feedback domain.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	if order.Status != domain.OrderStatusComplete || order.Feedback != nil {
		return store.ErrConflict
	}
	fb := feedback
	order.Feedback = &fb
	s.orders[id] = order
	return nil
}

func (s *Store) CountUnresolvedOrders(_ context.Context, sessionID string) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending, unpaid := 0, 0
	for _, order := range s.orders {
		if order.SessionID != sessionID {
			continue
		}
		if !store.IsTerminalStatus(order.Status) {
			pending++
		}
		if order.Status != domain.OrderStatusCancelled && order.PaymentStatus != domain.PaymentStatusPaid {
			unpaid++
		}
	}
	return pending, unpaid, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := slices.Clone(s.auditLogs)
	slices.SortStableFunc(result, func(a, b domain.AuditLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalid
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalid
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func normalizeSession(session domain.CashSession) domain.CashSession {
	session.Normalize()
	return session
}

func cloneSession(src domain.CashSession) domain.CashSession {
	dst := normalizeSession(src)
	dst.Totals.ByPayment = domain.PruneZero(dst.Totals.ByPayment)
	dst.Sold.Items = domain.PruneZero(dst.Sold.Items)
	dst.Sold.Categories = domain.PruneZero(dst.Sold.Categories)
	dst.Pauses = slices.Clone(dst.Pauses)
	dst.Movements = slices.Clone(dst.Movements)
	dst.CompletedOrders = slices.Clone(dst.CompletedOrders)
	if src.ClosedAt != nil {
		at := *src.ClosedAt
		dst.ClosedAt = &at
	}
	return dst
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = slices.Clone(src.Items)
	dst.Stages = slices.Clone(src.Stages)
	dst.LoyaltyAwards = slices.Clone(src.LoyaltyAwards)
	dst.StatusTimestamps = make(map[string]time.Time, len(src.StatusTimestamps))
	for k, v := range src.StatusTimestamps {
		dst.StatusTimestamps[k] = v
	}
	if src.DeliveryFee != nil {
		fee := *src.DeliveryFee
		dst.DeliveryFee = &fee
	}
	if src.Feedback != nil {
		fb := *src.Feedback
		dst.Feedback = &fb
	}
	return dst
}
