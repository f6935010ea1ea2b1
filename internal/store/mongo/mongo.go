package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"comanda/internal/domain"
	"comanda/internal/store"
)

const (
	colSessions  = "cash_sessions"
	colProducts  = "products"
	colCustomers = "customers"
	colOrders    = "orders"
	colAuditLogs = "audit_logs"
	colUsers     = "users"
)

type Store struct {
	client       *mongo.Client
	db           *mongo.Database
	transactions bool
}

// sessionDoc adds the open marker the single-open-session index keys on.
// The marker is removed when the session closes.
type sessionDoc struct {
	domain.CashSession `bson:",inline"`
	Open               bool `bson:"open,omitempty"`
}

// New connects to MongoDB. With transactions enabled (replica set or
// sharded cluster required) RunInTx wraps its callback in a multi-document
// transaction; otherwise callers compensate on failure.
func New(ctx context.Context, uri string, database string, transactions bool) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	if database == "" {
		database = "comanda"
	}
	return &Store{client: client, db: client.Database(database), transactions: transactions}, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the ledger relies on, including the
// unique partial index that admits at most one open session.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		colSessions: {
			{
				Keys: bson.D{{Key: "open", Value: 1}},
				Options: options.Index().
					SetName("single_open_session").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"open": true}),
			},
			{Keys: bson.D{{Key: "closedAt", Value: -1}}},
		},
		colOrders: {
			{Keys: bson.D{{Key: "sessionId", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
		colAuditLogs: {
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		},
	}
	for name, models := range specs {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.transactions || store.InTx(ctx) {
		return fn(ctx)
	}
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(context.Background())

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(store.MarkTx(sc))
	})
	return err
}

func sessionFilter(id string, extra bson.M) bson.M {
	filter := bson.M{"_id": id, "closedAt": bson.M{"$exists": false}}
	for k, v := range extra {
		filter[k] = v
	}
	return filter
}

func (s *Store) CreateSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error) {
	if strings.TrimSpace(session.ID) == "" {
		return nil, store.ErrInvalid
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.ClosedAt = nil
	session.Normalize()

	doc := sessionDoc{CashSession: escapeSession(session), Open: true}
	if _, err := s.col(colSessions).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &session, nil
}

func (s *Store) GetOpenSession(ctx context.Context) (*domain.CashSession, error) {
	return s.findSession(ctx, bson.M{"open": true})
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.CashSession, error) {
	return s.findSession(ctx, bson.M{"_id": id})
}

func (s *Store) findSession(ctx context.Context, filter bson.M) (*domain.CashSession, error) {
	var doc sessionDoc
	if err := s.col(colSessions).FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	session := unescapeSession(doc.CashSession)
	return &session, nil
}

func (s *Store) ListClosedSessions(ctx context.Context, limit int) ([]domain.CashSession, error) {
	if limit < 1 {
		limit = 30
	}
	opts := options.Find().SetSort(bson.D{{Key: "closedAt", Value: -1}}).SetLimit(int64(limit))
	cursor, err := s.col(colSessions).Find(ctx, bson.M{"closedAt": bson.M{"$exists": true}}, opts)
	if err != nil {
		return nil, err
	}
	var docs []sessionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	sessions := make([]domain.CashSession, 0, len(docs))
	for _, doc := range docs {
		sessions = append(sessions, unescapeSession(doc.CashSession))
	}
	return sessions, nil
}

func (s *Store) PauseSession(ctx context.Context, id string, pause domain.SessionPause) (*domain.CashSession, error) {
	res, err := s.col(colSessions).UpdateOne(ctx,
		sessionFilter(id, bson.M{"paused": false}),
		bson.M{
			"$set":  bson.M{"paused": true},
			"$push": bson.M{"pauses": pause},
		})
	if err != nil {
		return nil, err
	}
	return s.afterSessionUpdate(ctx, id, res)
}

func (s *Store) ResumeSession(ctx context.Context, id string, resumedBy string, at time.Time) (*domain.CashSession, error) {
	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []any{bson.M{"p.resumedAt": bson.M{"$exists": false}}},
	})
	res, err := s.col(colSessions).UpdateOne(ctx,
		sessionFilter(id, bson.M{"paused": true}),
		bson.M{"$set": bson.M{
			"paused":                false,
			"pauses.$[p].resumedAt": at,
			"pauses.$[p].resumedBy": resumedBy,
		}},
		opts)
	if err != nil {
		return nil, err
	}
	return s.afterSessionUpdate(ctx, id, res)
}

// CloseSession matches only while no order of the session is still open, so
// an order admitted concurrently either lands first and blocks the close or
// finds the session already closed.
func (s *Store) CloseSession(ctx context.Context, id string, closedBy string, at time.Time) (*domain.CashSession, error) {
	res, err := s.col(colSessions).UpdateOne(ctx,
		sessionFilter(id, bson.M{"openOrders": bson.M{"$not": bson.M{"$gt": 0}}}),
		bson.M{
			"$set":   bson.M{"closedAt": at, "closedBy": closedBy, "paused": false},
			"$unset": bson.M{"open": ""},
		})
	if err != nil {
		return nil, err
	}
	session, err := s.afterSessionUpdate(ctx, id, res)
	if errors.Is(err, store.ErrConflict) {
		if current, gerr := s.GetSession(ctx, id); gerr == nil && current.IsOpen() && current.OpenOrders > 0 {
			return nil, store.ErrOrdersOpen
		}
	}
	return session, err
}

// afterSessionUpdate turns a guarded update that matched nothing into
// ErrNotFound or ErrConflict and otherwise returns the fresh document.
func (s *Store) afterSessionUpdate(ctx context.Context, id string, res *mongo.UpdateResult) (*domain.CashSession, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		return nil, store.ErrConflict
	}
	return session, nil
}

// ApplySessionDelta lands the whole delta as one $inc/$push update guarded
// on the session still being open.
func (s *Store) ApplySessionDelta(ctx context.Context, id string, delta domain.SessionDelta) error {
	extra := bson.M{}
	if delta.RequireUnpaused {
		extra["paused"] = false
	}

	inc := bson.M{}
	addInc := func(path string, v int64) {
		if v != 0 {
			inc[path] = v
		}
	}
	addInc("totals.sales", int64(delta.Sales))
	addInc("totals.entradas", int64(delta.CashIn))
	addInc("totals.saidas", int64(delta.CashOut))
	addInc("completedOrders", int64(delta.CompletedCount))
	addInc("openOrders", int64(delta.OpenOrders))
	for k, v := range delta.ByPayment {
		addInc("totals.porPagamento."+escapeKey(k), int64(v))
	}
	for k, v := range delta.Items {
		addInc("vendidos.itens."+escapeKey(k), int64(v))
	}
	for k, v := range delta.Categories {
		addInc("vendidos.categorias."+escapeKey(k), int64(v))
	}

	update := bson.M{}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	push := bson.M{}
	if delta.Movement != nil {
		push["movimentos"] = *delta.Movement
	}
	if delta.Completed != nil {
		push["pedidosConcluidos"] = *delta.Completed
	}
	if len(push) > 0 {
		update["$push"] = push
	}

	if len(update) == 0 {
		session, err := s.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if !session.IsOpen() || (delta.RequireUnpaused && session.Paused) {
			return store.ErrConflict
		}
		return nil
	}

	res, err := s.col(colSessions).UpdateOne(ctx, sessionFilter(id, extra), update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
		return store.ErrConflict
	}
	return nil
}

func (s *Store) RemoveFeeMovement(ctx context.Context, sessionID string, orderID string) (*domain.CashMovement, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsOpen() {
		return nil, store.ErrConflict
	}
	found, ok := session.RemoveOrderOutflow(orderID, store.FeeNote(orderID))
	if !ok {
		return nil, store.ErrNotFound
	}

	res, err := s.col(colSessions).UpdateOne(ctx,
		sessionFilter(sessionID, bson.M{"movimentos.id": found.ID}),
		bson.M{
			"$pull": bson.M{"movimentos": bson.M{"id": found.ID}},
			"$inc":  bson.M{"totals.saidas": -int64(found.Amount)},
		})
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		return nil, store.ErrConflict
	}
	return &found, nil
}

func (s *Store) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	cursor, err := s.col(colProducts).Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	var products []domain.Product
	if err := cursor.All(ctx, &products); err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.ID] = p
	}
	return result, nil
}

// DecrementStock only matches while enough stock remains, so concurrent
// reservations can never drive it negative.
func (s *Store) DecrementStock(ctx context.Context, productID string, qty int) (bool, error) {
	if qty < 1 {
		return false, store.ErrInvalid
	}
	res, err := s.col(colProducts).UpdateOne(ctx,
		bson.M{"_id": productID, "unlimited": false, "stock": bson.M{"$gte": qty}},
		bson.M{"$inc": bson.M{"stock": -qty}})
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 1 {
		return true, nil
	}

	var product domain.Product
	if err := s.col(colProducts).FindOne(ctx, bson.M{"_id": productID}).Decode(&product); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, store.ErrNotFound
		}
		return false, err
	}
	return product.Unlimited, nil
}

func (s *Store) IncrementStock(ctx context.Context, productID string, qty int) error {
	if qty < 1 {
		return store.ErrInvalid
	}
	res, err := s.col(colProducts).UpdateOne(ctx,
		bson.M{"_id": productID, "unlimited": false},
		bson.M{"$inc": bson.M{"stock": qty}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}
	n, err := s.col(colProducts).CountDocuments(ctx, bson.M{"_id": productID})
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	if err := s.col(colCustomers).FindOne(ctx, bson.M{"_id": id}).Decode(&customer); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) AdjustCustomer(ctx context.Context, id string, adj domain.CustomerAdjustment) error {
	update := bson.M{"$inc": bson.M{
		"loyaltyPoints": adj.PointsDelta,
		"purchases":     adj.PurchasesDelta,
	}}
	if adj.Entry != nil {
		entry := *adj.Entry
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		update["$push"] = bson.M{"ledger": entry}
	}
	res, err := s.col(colCustomers).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) OrderExists(ctx context.Context, id string) (bool, error) {
	n, err := s.col(colOrders).CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	return n > 0, err
}

func (s *Store) InsertOrder(ctx context.Context, order domain.Order) error {
	if order.ID == "" || order.SessionID == "" {
		return store.ErrInvalid
	}
	if _, err := s.col(colOrders).InsertOne(ctx, order); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var order domain.Order
	if err := s.col(colOrders).FindOne(ctx, bson.M{"_id": id}).Decode(&order); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	normalizeOrder(&order)
	return &order, nil
}

func (s *Store) ListOrdersBySession(ctx context.Context, sessionID string, status string) ([]domain.Order, error) {
	filter := bson.M{"sessionId": sessionID}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.col(colOrders).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, 32)
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, err
	}
	for i := range orders {
		normalizeOrder(&orders[i])
	}
	return orders, nil
}

// UpdateOrder rewrites the mutable fields only while status, payment status
// and payment method still match what the caller read. Session pinning and feedback
// are left alone.
func (s *Store) UpdateOrder(ctx context.Context, order domain.Order, expect store.OrderGuard) error {
	res, err := s.col(colOrders).UpdateOne(ctx,
		bson.M{"_id": order.ID, "status": expect.Status, "paymentStatus": expect.PaymentStatus, "payment": expect.Payment},
		bson.M{"$set": bson.M{
			"status":           order.Status,
			"items":            order.Items,
			"payment":          order.Payment,
			"paymentStatus":    order.PaymentStatus,
			"deliveryMethod":   order.DeliveryMethod,
			"deliveryFee":      order.DeliveryFee,
			"customer":         order.Customer,
			"total":            order.Total,
			"statusTimestamps": order.StatusTimestamps,
			"stages":           order.Stages,
			"loyaltyAwards":    order.LoyaltyAwards,
			"updatedAt":        order.UpdatedAt,
		}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return s.missingOrConflict(ctx, order.ID)
	}
	return nil
}

func (s *Store) SetOrderFeedback(ctx context.Context, id string, feedback domain.Feedback) error {
	res, err := s.col(colOrders).UpdateOne(ctx,
		bson.M{"_id": id, "status": domain.OrderStatusComplete, "feedback": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"feedback": feedback}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return s.missingOrConflict(ctx, id)
	}
	return nil
}

func (s *Store) missingOrConflict(ctx context.Context, orderID string) error {
	exists, err := s.OrderExists(ctx, orderID)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func (s *Store) CountUnresolvedOrders(ctx context.Context, sessionID string) (int, int, error) {
	pending, err := s.col(colOrders).CountDocuments(ctx, bson.M{
		"sessionId": sessionID,
		"status":    bson.M{"$nin": []string{domain.OrderStatusComplete, domain.OrderStatusCancelled}},
	})
	if err != nil {
		return 0, 0, err
	}
	unpaid, err := s.col(colOrders).CountDocuments(ctx, bson.M{
		"sessionId":     sessionID,
		"status":        bson.M{"$ne": domain.OrderStatusCancelled},
		"paymentStatus": bson.M{"$ne": domain.PaymentStatusPaid},
	})
	if err != nil {
		return 0, 0, err
	}
	return int(pending), int(unpaid), nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.col(colAuditLogs).InsertOne(ctx, entry)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(limit))
	cursor, err := s.col(colAuditLogs).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	logs := make([]domain.AuditLog, 0, limit)
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	for i := range logs {
		logs[i].CreatedAt = logs[i].CreatedAt.UTC()
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
	if _, err := s.col(colUsers).InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	cursor, err := s.col(colUsers).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	users := make([]domain.UserAccount, 0, 16)
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalid
	}
	res, err := s.col(colUsers).UpdateOne(ctx, bson.M{"_id": username}, bson.M{"$set": bson.M{"password": password}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SeedCatalog inserts demo products and customers, leaving documents that
// already exist untouched.
func (s *Store) SeedCatalog(ctx context.Context, products []domain.Product, customers []domain.Customer) error {
	for _, p := range products {
		if _, err := s.col(colProducts).InsertOne(ctx, p); err != nil && !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	for _, c := range customers {
		if _, err := s.col(colCustomers).InsertOne(ctx, c); err != nil && !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("seed customer %s: %w", c.ID, err)
		}
	}
	return nil
}

func normalizeOrder(order *domain.Order) {
	if order.StatusTimestamps == nil {
		order.StatusTimestamps = map[string]time.Time{}
	}
	if order.LoyaltyAwards == nil {
		order.LoyaltyAwards = []domain.LoyaltyAward{}
	}
}
