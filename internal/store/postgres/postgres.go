package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"comanda/internal/domain"
	"comanda/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the ledger tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// RunInTx runs fn inside one READ COMMITTED transaction. Every store call
// made with the ctx handed to fn joins it; row locks taken by the
// conditional updates serialize concurrent writers.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(store.MarkTx(context.WithValue(ctx, txKey{}, tx))); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// withTx runs fn on the caller's transaction, or on a short one of its own
// when there is none.
func (s *Store) withTx(ctx context.Context, fn func(q querier) error) error {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(tx)
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

const sessionColumns = `id, opened_at, opened_by, closed_at, closed_by, paused,
	starting_float_cents, sales_cents, cash_in_cents, cash_out_cents, completed_count, open_orders,
	by_payment, sold_items, sold_categories, pauses, movements, completed_orders`

func (s *Store) CreateSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error) {
	if strings.TrimSpace(session.ID) == "" {
		return nil, store.ErrInvalid
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.ClosedAt = nil
	session.Normalize()

	docs, err := encodeSessionDocs(session)
	if err != nil {
		return nil, err
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO cash_sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,NULL,'',$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, session.ID, session.OpenedAt, session.OpenedBy, session.Paused,
		int64(session.StartingFloat), int64(session.Totals.Sales), int64(session.Totals.CashIn), int64(session.Totals.CashOut), session.CompletedCount, session.OpenOrders,
		docs[0], docs[1], docs[2], docs[3], docs[4], docs[5])
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &session, nil
}

func (s *Store) GetOpenSession(ctx context.Context) (*domain.CashSession, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE closed_at IS NULL
		LIMIT 1
	`)
	return scanSession(row)
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.CashSession, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE id = $1
	`, id)
	return scanSession(row)
}

func (s *Store) ListClosedSessions(ctx context.Context, limit int) ([]domain.CashSession, error) {
	if limit < 1 {
		limit = 30
	}

	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE closed_at IS NOT NULL
		ORDER BY closed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]domain.CashSession, 0, limit)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Store) PauseSession(ctx context.Context, id string, pause domain.SessionPause) (*domain.CashSession, error) {
	return s.mutateSession(ctx, id, func(session *domain.CashSession) error {
		if session.ClosedAt != nil || session.Paused {
			return store.ErrConflict
		}
		session.Paused = true
		session.Pauses = append(session.Pauses, pause)
		return nil
	})
}

func (s *Store) ResumeSession(ctx context.Context, id string, resumedBy string, at time.Time) (*domain.CashSession, error) {
	return s.mutateSession(ctx, id, func(session *domain.CashSession) error {
		if session.ClosedAt != nil || !session.Paused {
			return store.ErrConflict
		}
		session.Paused = false
		if n := len(session.Pauses); n > 0 && session.Pauses[n-1].ResumedAt == nil {
			resumedAt := at
			session.Pauses[n-1].ResumedAt = &resumedAt
			session.Pauses[n-1].ResumedBy = resumedBy
		}
		return nil
	})
}

func (s *Store) CloseSession(ctx context.Context, id string, closedBy string, at time.Time) (*domain.CashSession, error) {
	return s.mutateSession(ctx, id, func(session *domain.CashSession) error {
		if session.ClosedAt != nil {
			return store.ErrConflict
		}
		if session.OpenOrders > 0 {
			return store.ErrOrdersOpen
		}
		closedAt := at
		session.ClosedAt = &closedAt
		session.ClosedBy = closedBy
		session.Paused = false
		return nil
	})
}

func (s *Store) ApplySessionDelta(ctx context.Context, id string, delta domain.SessionDelta) error {
	_, err := s.mutateSession(ctx, id, func(session *domain.CashSession) error {
		if session.ClosedAt != nil || (delta.RequireUnpaused && session.Paused) {
			return store.ErrConflict
		}
		session.Apply(delta)
		return nil
	})
	return err
}

func (s *Store) RemoveFeeMovement(ctx context.Context, sessionID string, orderID string) (*domain.CashMovement, error) {
	var removed domain.CashMovement
	_, err := s.mutateSession(ctx, sessionID, func(session *domain.CashSession) error {
		if session.ClosedAt != nil {
			return store.ErrConflict
		}
		m, ok := session.RemoveOrderOutflow(orderID, store.FeeNote(orderID))
		if !ok {
			return store.ErrNotFound
		}
		removed = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &removed, nil
}

// mutateSession locks the session row, applies fn and writes every mutable
// column back in the same transaction.
func (s *Store) mutateSession(ctx context.Context, id string, fn func(session *domain.CashSession) error) (*domain.CashSession, error) {
	var updated *domain.CashSession
	err := s.withTx(ctx, func(q querier) error {
		session, err := scanSession(q.QueryRowContext(ctx, `
			SELECT `+sessionColumns+`
			FROM cash_sessions
			WHERE id = $1
			FOR UPDATE
		`, id))
		if err != nil {
			return err
		}
		if err := fn(session); err != nil {
			return err
		}
		docs, err := encodeSessionDocs(*session)
		if err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, `
			UPDATE cash_sessions
			SET closed_at = $2,
				closed_by = $3,
				paused = $4,
				sales_cents = $5,
				cash_in_cents = $6,
				cash_out_cents = $7,
				completed_count = $8,
				open_orders = $9,
				by_payment = $10,
				sold_items = $11,
				sold_categories = $12,
				pauses = $13,
				movements = $14,
				completed_orders = $15
			WHERE id = $1
		`, session.ID, nullTime(session.ClosedAt), session.ClosedBy, session.Paused,
			int64(session.Totals.Sales), int64(session.Totals.CashIn), int64(session.Totals.CashOut), session.CompletedCount, session.OpenOrders,
			docs[0], docs[1], docs[2], docs[3], docs[4], docs[5])
		if err != nil {
			return err
		}
		updated = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, name, category, price_cents, stock, unlimited
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Stock, &p.Unlimited); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DecrementStock is a single guarded update: it lands only while enough
// stock remains, so concurrent reservations can never drive it negative.
func (s *Store) DecrementStock(ctx context.Context, productID string, qty int) (bool, error) {
	if qty < 1 {
		return false, store.ErrInvalid
	}

	q := s.conn(ctx)
	res, err := q.ExecContext(ctx, `
		UPDATE products
		SET stock = CASE WHEN unlimited THEN stock ELSE stock - $2 END
		WHERE id = $1 AND (unlimited OR stock >= $2)
	`, productID, qty)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

func (s *Store) IncrementStock(ctx context.Context, productID string, qty int) error {
	if qty < 1 {
		return store.ErrInvalid
	}

	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE products
		SET stock = CASE WHEN unlimited THEN stock ELSE stock + $2 END
		WHERE id = $1
	`, productID, qty)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	q := s.conn(ctx)
	var customer domain.Customer
	err := q.QueryRowContext(ctx, `
		SELECT id, name, loyalty_points, purchases
		FROM customers
		WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &customer.LoyaltyPoints, &customer.Purchases)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, campaign, points, kind, created_at
		FROM loyalty_entries
		WHERE customer_id = $1
		ORDER BY created_at ASC, id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var entry domain.LoyaltyEntry
		if err := rows.Scan(&entry.ID, &entry.OrderID, &entry.Campaign, &entry.Points, &entry.Kind, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		customer.Ledger = append(customer.Ledger, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Store) AdjustCustomer(ctx context.Context, id string, adj domain.CustomerAdjustment) error {
	return s.withTx(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, `
			UPDATE customers
			SET loyalty_points = loyalty_points + $2,
				purchases = purchases + $3
			WHERE id = $1
		`, id, adj.PointsDelta, adj.PurchasesDelta)
		if err != nil {
			return err
		}
		if err := requireRow(res); err != nil {
			return err
		}
		if adj.Entry == nil {
			return nil
		}

		entry := *adj.Entry
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO loyalty_entries (id, customer_id, order_id, campaign, points, kind, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, entry.ID, id, entry.OrderID, entry.Campaign, entry.Points, entry.Kind, entry.CreatedAt)
		return err
	})
}

func (s *Store) OrderExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (s *Store) InsertOrder(ctx context.Context, order domain.Order) error {
	if order.ID == "" || order.SessionID == "" {
		return store.ErrInvalid
	}

	doc, err := json.Marshal(order)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO orders (id, session_id, status, payment_status, created_at, doc)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, order.ID, order.SessionID, order.Status, order.PaymentStatus, order.CreatedAt, string(doc))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var raw []byte
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT doc FROM orders WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return decodeOrder(raw)
}

func (s *Store) ListOrdersBySession(ctx context.Context, sessionID string, status string) ([]domain.Order, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT doc
		FROM orders
		WHERE session_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at ASC, id ASC
	`, sessionID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 32)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		order, err := decodeOrder(raw)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) UpdateOrder(ctx context.Context, order domain.Order, expect store.OrderGuard) error {
	return s.withTx(ctx, func(q querier) error {
		current, err := lockOrder(ctx, q, order.ID)
		if err != nil {
			return err
		}
		if !expect.Matches(*current) {
			return store.ErrConflict
		}
		// Session pinning and feedback are never rewritten by a status update.
		order.SessionID = current.SessionID
		order.Feedback = current.Feedback
		return writeOrder(ctx, q, order)
	})
}

func (s *Store) SetOrderFeedback(ctx context.Context, id string, feedback domain.Feedback) error {
	return s.withTx(ctx, func(q querier) error {
		current, err := lockOrder(ctx, q, id)
		if err != nil {
			return err
		}
		if current.Status != domain.OrderStatusComplete || current.Feedback != nil {
			return store.ErrConflict
		}
		fb := feedback
		current.Feedback = &fb
		return writeOrder(ctx, q, *current)
	})
}

func (s *Store) CountUnresolvedOrders(ctx context.Context, sessionID string) (int, int, error) {
	var pending, unpaid int
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status NOT IN ($2, $3)),
			COUNT(*) FILTER (WHERE status <> $3 AND payment_status <> $4)
		FROM orders
		WHERE session_id = $1
	`, sessionID, domain.OrderStatusComplete, domain.OrderStatusCancelled, domain.PaymentStatusPaid).Scan(&pending, &unpaid)
	return pending, unpaid, err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalid
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO app_users (username, password, pin_hash, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.Username, user.Password, user.PINHash, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT username, password, pin_hash, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.PINHash, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalid
	}

	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SeedCatalog inserts demo products and customers, leaving rows that
// already exist untouched.
func (s *Store) SeedCatalog(ctx context.Context, products []domain.Product, customers []domain.Customer) error {
	return s.withTx(ctx, func(q querier) error {
		for _, p := range products {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO products (id, name, category, price_cents, stock, unlimited)
				VALUES ($1,$2,$3,$4,$5,$6)
				ON CONFLICT (id) DO NOTHING
			`, p.ID, p.Name, p.Category, int64(p.Price), p.Stock, p.Unlimited); err != nil {
				return fmt.Errorf("seed product %s: %w", p.ID, err)
			}
		}
		for _, c := range customers {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO customers (id, name, loyalty_points, purchases)
				VALUES ($1,$2,$3,$4)
				ON CONFLICT (id) DO NOTHING
			`, c.ID, c.Name, c.LoyaltyPoints, c.Purchases); err != nil {
				return fmt.Errorf("seed customer %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.CashSession, error) {
	var (
		session  domain.CashSession
		closedAt sql.NullTime
		docs     [6][]byte
	)
	err := row.Scan(
		&session.ID, &session.OpenedAt, &session.OpenedBy, &closedAt, &session.ClosedBy, &session.Paused,
		&session.StartingFloat, &session.Totals.Sales, &session.Totals.CashIn, &session.Totals.CashOut, &session.CompletedCount, &session.OpenOrders,
		&docs[0], &docs[1], &docs[2], &docs[3], &docs[4], &docs[5],
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	session.OpenedAt = session.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		session.ClosedAt = &at
	}
	targets := []any{
		&session.Totals.ByPayment,
		&session.Sold.Items,
		&session.Sold.Categories,
		&session.Pauses,
		&session.Movements,
		&session.CompletedOrders,
	}
	for i, target := range targets {
		if len(docs[i]) == 0 {
			continue
		}
		if err := json.Unmarshal(docs[i], target); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", session.ID, err)
		}
	}
	session.Normalize()
	return &session, nil
}

// encodeSessionDocs renders the jsonb columns in sessionColumns order.
func encodeSessionDocs(session domain.CashSession) ([6]string, error) {
	var out [6]string
	values := []any{
		session.Totals.ByPayment,
		session.Sold.Items,
		session.Sold.Categories,
		session.Pauses,
		session.Movements,
		session.CompletedOrders,
	}
	for i, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return out, err
		}
		out[i] = string(raw)
	}
	return out, nil
}

func lockOrder(ctx context.Context, q querier, id string) (*domain.Order, error) {
	var raw []byte
	err := q.QueryRowContext(ctx, `SELECT doc FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return decodeOrder(raw)
}

func writeOrder(ctx context.Context, q querier, order domain.Order) error {
	doc, err := json.Marshal(order)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, payment_status = $3, doc = $4
		WHERE id = $1
	`, order.ID, order.Status, order.PaymentStatus, string(doc))
	return err
}

func decodeOrder(raw []byte) (*domain.Order, error) {
	var order domain.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	if order.StatusTimestamps == nil {
		order.StatusTimestamps = map[string]time.Time{}
	}
	if order.LoyaltyAwards == nil {
		order.LoyaltyAwards = []domain.LoyaltyAward{}
	}
	return &order, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
