package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string `json:"id" bson:"_id"`
	Name      string `json:"name" bson:"name"`
	Category  string `json:"category" bson:"category"`
	Price     Money  `json:"price" bson:"price"`
	Stock     int    `json:"stock" bson:"stock"`
	Unlimited bool   `json:"unlimited" bson:"unlimited"`
}

// TracksStock reports whether the product has a numeric stock counter that
// reservations must respect.
func (p Product) TracksStock() bool {
	return !p.Unlimited
}

type Customer struct {
	ID            string         `json:"id" bson:"_id"`
	Name          string         `json:"name" bson:"name"`
	LoyaltyPoints int64          `json:"loyaltyPoints" bson:"loyaltyPoints"`
	Purchases     int            `json:"purchases" bson:"purchases"`
	Ledger        []LoyaltyEntry `json:"ledger,omitempty" bson:"ledger,omitempty"`
}

type LoyaltyEntry struct {
	ID        string    `json:"id" bson:"id"`
	OrderID   string    `json:"orderId" bson:"orderId"`
	Campaign  string    `json:"campaign" bson:"campaign"`
	Points    int64     `json:"points" bson:"points"`
	Kind      string    `json:"kind" bson:"kind"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// CustomerAdjustment is applied atomically to one customer document.
type CustomerAdjustment struct {
	PointsDelta    int64
	PurchasesDelta int
	Entry          *LoyaltyEntry
}

type CashSession struct {
	ID              string                  `json:"id" bson:"_id"`
	OpenedAt        time.Time               `json:"openedAt" bson:"openedAt"`
	OpenedBy        string                  `json:"openedBy" bson:"openedBy"`
	ClosedAt        *time.Time              `json:"closedAt,omitempty" bson:"closedAt,omitempty"`
	ClosedBy        string                  `json:"closedBy,omitempty" bson:"closedBy,omitempty"`
	Paused          bool                    `json:"paused" bson:"paused"`
	Pauses          []SessionPause          `json:"pauses" bson:"pauses"`
	StartingFloat   Money                   `json:"startingFloat" bson:"startingFloat"`
	Totals          SessionTotals           `json:"totals" bson:"totals"`
	Sold            SoldCounters            `json:"vendidos" bson:"vendidos"`
	Movements       []CashMovement          `json:"movimentos" bson:"movimentos"`
	CompletedOrders []CompletedOrderSummary `json:"pedidosConcluidos" bson:"pedidosConcluidos"`
	CompletedCount  int                     `json:"completedOrders" bson:"completedOrders"`
	OpenOrders      int                     `json:"openOrders" bson:"openOrders"`
}

func (s CashSession) IsOpen() bool {
	return s.ClosedAt == nil
}

// ExpectedCash is the amount that should be in the drawer: the starting
// float plus cash sales and manual entries, minus manual and fee outflows.
func (s CashSession) ExpectedCash() Money {
	return s.StartingFloat + s.Totals.ByPayment[PaymentCash] + s.Totals.CashIn - s.Totals.CashOut
}

type SessionTotals struct {
	Sales     Money            `json:"sales" bson:"sales"`
	CashIn    Money            `json:"entradas" bson:"entradas"`
	CashOut   Money            `json:"saidas" bson:"saidas"`
	ByPayment map[string]Money `json:"porPagamento" bson:"porPagamento"`
}

type SoldCounters struct {
	Items      map[string]int `json:"itens" bson:"itens"`
	Categories map[string]int `json:"categorias" bson:"categorias"`
}

type SessionPause struct {
	ID        string     `json:"id" bson:"id"`
	Reason    string     `json:"reason" bson:"reason"`
	PausedAt  time.Time  `json:"pausedAt" bson:"pausedAt"`
	PausedBy  string     `json:"pausedBy" bson:"pausedBy"`
	ResumedAt *time.Time `json:"resumedAt,omitempty" bson:"resumedAt,omitempty"`
	ResumedBy string     `json:"resumedBy,omitempty" bson:"resumedBy,omitempty"`
}

type CashMovement struct {
	ID      string    `json:"id" bson:"id"`
	Type    string    `json:"type" bson:"type"`
	Amount  Money     `json:"amount" bson:"amount"`
	Note    string    `json:"note" bson:"note"`
	Actor   string    `json:"actor" bson:"actor"`
	At      time.Time `json:"at" bson:"at"`
	OrderID string    `json:"orderId,omitempty" bson:"orderId,omitempty"`
}

type CompletedOrderSummary struct {
	OrderID         string    `json:"id" bson:"id"`
	At              time.Time `json:"at" bson:"at"`
	ItemCount       int       `json:"items" bson:"items"`
	Total           Money     `json:"total" bson:"total"`
	Customer        string    `json:"customer" bson:"customer"`
	PaymentMethod   string    `json:"paymentMethod" bson:"paymentMethod"`
	PaymentStatus   string    `json:"paymentStatus" bson:"paymentStatus"`
	LoyaltyAdjusted bool      `json:"loyalty" bson:"loyalty"`
}

// SessionDelta is one atomic change to a session's running totals. Stores
// apply it as a single conditional update guarded on the session still
// being open (and unpaused when RequireUnpaused is set).
type SessionDelta struct {
	Sales           Money
	CashIn          Money
	CashOut         Money
	ByPayment       map[string]Money
	Items           map[string]int
	Categories      map[string]int
	CompletedCount  int
	OpenOrders      int
	Movement        *CashMovement
	Completed       *CompletedOrderSummary
	RequireUnpaused bool
}

func (d SessionDelta) IsZero() bool {
	if d.Sales != 0 || d.CashIn != 0 || d.CashOut != 0 || d.CompletedCount != 0 || d.OpenOrders != 0 {
		return false
	}
	if d.Movement != nil || d.Completed != nil {
		return false
	}
	for _, v := range d.ByPayment {
		if v != 0 {
			return false
		}
	}
	for _, v := range d.Items {
		if v != 0 {
			return false
		}
	}
	for _, v := range d.Categories {
		if v != 0 {
			return false
		}
	}
	return true
}

// Negate returns the inverse delta without the pushed movement or summary.
func (d SessionDelta) Negate() SessionDelta {
	out := SessionDelta{
		Sales:          -d.Sales,
		CashIn:         -d.CashIn,
		CashOut:        -d.CashOut,
		CompletedCount: -d.CompletedCount,
		OpenOrders:     -d.OpenOrders,
		ByPayment:      make(map[string]Money, len(d.ByPayment)),
		Items:          make(map[string]int, len(d.Items)),
		Categories:     make(map[string]int, len(d.Categories)),
	}
	for k, v := range d.ByPayment {
		out.ByPayment[k] = -v
	}
	for k, v := range d.Items {
		out.Items[k] = -v
	}
	for k, v := range d.Categories {
		out.Categories[k] = -v
	}
	return out
}

// Normalize replaces nil maps and slices with empty ones so the session
// always renders as objects and arrays.
func (s *CashSession) Normalize() {
	if s.Totals.ByPayment == nil {
		s.Totals.ByPayment = map[string]Money{}
	}
	if s.Sold.Items == nil {
		s.Sold.Items = map[string]int{}
	}
	if s.Sold.Categories == nil {
		s.Sold.Categories = map[string]int{}
	}
	if s.Pauses == nil {
		s.Pauses = []SessionPause{}
	}
	if s.Movements == nil {
		s.Movements = []CashMovement{}
	}
	if s.CompletedOrders == nil {
		s.CompletedOrders = []CompletedOrderSummary{}
	}
}

// Apply folds a delta into the running totals. Counters that reach zero
// are dropped so only non-zero entries are ever stored.
func (s *CashSession) Apply(d SessionDelta) {
	s.Totals.Sales += d.Sales
	s.Totals.CashIn += d.CashIn
	s.Totals.CashOut += d.CashOut
	s.CompletedCount += d.CompletedCount
	s.OpenOrders += d.OpenOrders
	s.Totals.ByPayment = addCounts(s.Totals.ByPayment, d.ByPayment)
	s.Sold.Items = addCounts(s.Sold.Items, d.Items)
	s.Sold.Categories = addCounts(s.Sold.Categories, d.Categories)
	if d.Movement != nil {
		s.Movements = append(s.Movements, *d.Movement)
	}
	if d.Completed != nil {
		s.CompletedOrders = append(s.CompletedOrders, *d.Completed)
	}
}

// RemoveOrderOutflow deletes the cash-out movement booked for orderID with
// the given note and takes its amount back out of the cash-out total.
// Manual movements never carry an order id, so they are never matched.
func (s *CashSession) RemoveOrderOutflow(orderID string, note string) (CashMovement, bool) {
	if orderID == "" {
		return CashMovement{}, false
	}
	for i, m := range s.Movements {
		if m.Type != MovementOut || m.OrderID != orderID || m.Note != note {
			continue
		}
		s.Movements = append(s.Movements[:i:i], s.Movements[i+1:]...)
		s.Totals.CashOut -= m.Amount
		return m, true
	}
	return CashMovement{}, false
}

func addCounts[V int | Money](dst, delta map[string]V) map[string]V {
	if dst == nil {
		dst = make(map[string]V, len(delta))
	}
	for k, v := range delta {
		dst[k] += v
	}
	return PruneZero(dst)
}

type Order struct {
	ID               string               `json:"id" bson:"_id"`
	PINCode          string               `json:"pinCode" bson:"pinCode"`
	Status           string               `json:"status" bson:"status"`
	Items            []OrderItem          `json:"items" bson:"items"`
	Payment          string               `json:"payment" bson:"payment"`
	PaymentStatus    string               `json:"paymentStatus" bson:"paymentStatus"`
	DeliveryMethod   string               `json:"deliveryMethod" bson:"deliveryMethod"`
	DeliveryFee      *Money               `json:"deliveryFee,omitempty" bson:"deliveryFee,omitempty"`
	Customer         CustomerRef          `json:"customer" bson:"customer"`
	SessionID        string               `json:"sessionId" bson:"sessionId"`
	Total            Money                `json:"total" bson:"total"`
	StatusTimestamps map[string]time.Time `json:"statusTimestamps" bson:"statusTimestamps"`
	Stages           []StageInterval      `json:"stages" bson:"stages"`
	LoyaltyAwards    []LoyaltyAward       `json:"loyaltyAwards" bson:"loyaltyAwards"`
	Feedback         *Feedback            `json:"feedback,omitempty" bson:"feedback,omitempty"`
	CreatedAt        time.Time            `json:"createdAt" bson:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt" bson:"updatedAt"`
}

func (o Order) ItemCount() int {
	count := 0
	for _, item := range o.Items {
		count += item.Quantity
	}
	return count
}

type OrderItem struct {
	ProductID string `json:"productId" bson:"productId"`
	Name      string `json:"name" bson:"name"`
	Price     Money  `json:"price" bson:"price"`
	Quantity  int    `json:"quantity" bson:"quantity"`
	Category  string `json:"category" bson:"category"`
}

func (i OrderItem) Subtotal() Money {
	return i.Price * Money(i.Quantity)
}

type CustomerRef struct {
	ID   string `json:"id" bson:"id"`
	Name string `json:"name,omitempty" bson:"name,omitempty"`
}

// Label is the human-facing customer name used in session summaries.
func (c CustomerRef) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

type StageInterval struct {
	Stage      string     `json:"stage" bson:"stage"`
	StartedAt  time.Time  `json:"startedAt" bson:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty" bson:"finishedAt,omitempty"`
	DurationMs *int64     `json:"durationMs,omitempty" bson:"durationMs,omitempty"`
}

type LoyaltyAward struct {
	Campaign   string    `json:"campaign" bson:"campaign"`
	CustomerID string    `json:"customerId" bson:"customerId"`
	Points     int64     `json:"points" bson:"points"`
	AwardedAt  time.Time `json:"awardedAt" bson:"awardedAt"`
}

type Feedback struct {
	Vote    string    `json:"vote" bson:"vote"`
	Comment string    `json:"comment,omitempty" bson:"comment,omitempty"`
	At      time.Time `json:"at" bson:"at"`
}

type CashActionRequest struct {
	Action        string          `json:"action" validate:"required,oneof=open pause resume close cash-in cash-out"`
	PIN           string          `json:"pin" validate:"required,numeric,min=4,max=8"`
	StartingFloat decimal.Decimal `json:"startingFloat"`
	Reason        string          `json:"reason" validate:"max=200"`
	Amount        decimal.Decimal `json:"amount"`
	Note          string          `json:"note" validate:"max=200"`
}

type CashStatusResponse struct {
	Status       string       `json:"status"`
	Session      *CashSession `json:"session"`
	ExpectedCash *Money       `json:"expectedCash,omitempty"`
}

type CashHistoryResponse struct {
	Sessions []CashSession `json:"sessions"`
}

type OrderItemInput struct {
	ProductID string          `json:"productId" validate:"required"`
	Name      string          `json:"name" validate:"max=120"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity" validate:"gte=1"`
	Category  string          `json:"category" validate:"max=80"`
}

type LoyaltyRequest struct {
	Campaign string `json:"campaign" validate:"required,max=80"`
}

type OrderCreateRequest struct {
	ID             string           `json:"id,omitempty"`
	Items          []OrderItemInput `json:"items" validate:"required,min=1,dive"`
	Payment        string           `json:"payment"`
	PaymentStatus  string           `json:"paymentStatus"`
	DeliveryMethod string           `json:"deliveryMethod"`
	Customer       CustomerRef      `json:"customer"`
	DeliveryFee    *decimal.Decimal `json:"deliveryFee,omitempty"`
	Loyalty        *LoyaltyRequest  `json:"loyalty,omitempty"`
	SessionID      string           `json:"sessionId,omitempty"`
}

type OrderUpdateRequest struct {
	Status        *string `json:"status,omitempty"`
	Payment       *string `json:"payment,omitempty"`
	PaymentStatus *string `json:"paymentStatus,omitempty"`
}

type FeedbackRequest struct {
	Vote    string `json:"vote" validate:"required,oneof=POSITIVO NEGATIVO"`
	Comment string `json:"comment" validate:"max=500"`
}

type OrderListResponse struct {
	SessionID string  `json:"sessionId,omitempty"`
	Orders    []Order `json:"orders"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	PIN      string `json:"pin,omitempty"`
}

// UserSummary is the public view of an operator account.
type UserSummary struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	HasPIN    bool      `json:"has_pin"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string    `json:"username" bson:"_id"`
	Password  string    `json:"-" bson:"password"`
	PINHash   string    `json:"-" bson:"pinHash"`
	Role      string    `json:"role" bson:"role"`
	Active    bool      `json:"active" bson:"active"`
	CreatedAt time.Time `json:"created_at" bson:"createdAt"`
}

type AuditLog struct {
	ID            string    `json:"id" bson:"_id"`
	ActorUsername string    `json:"actor_username" bson:"actorUsername"`
	ActorRole     string    `json:"actor_role" bson:"actorRole"`
	Action        string    `json:"action" bson:"action"`
	EntityType    string    `json:"entity_type" bson:"entityType"`
	EntityID      string    `json:"entity_id" bson:"entityId"`
	Detail        string    `json:"detail" bson:"detail"`
	CreatedAt     time.Time `json:"created_at" bson:"createdAt"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

const (
	CashStatusClosed = "CLOSED"
	CashStatusOpen   = "OPEN"
	CashStatusPaused = "PAUSED"
)

const (
	CashActionOpen    = "open"
	CashActionPause   = "pause"
	CashActionResume  = "resume"
	CashActionClose   = "close"
	CashActionCashIn  = "cash-in"
	CashActionCashOut = "cash-out"
)

const (
	MovementIn  = "entrada"
	MovementOut = "saida"
)

const (
	OrderStatusWaiting   = "AGUARDANDO"
	OrderStatusPreparing = "PREPARANDO"
	OrderStatusReady     = "PRONTO"
	OrderStatusEnRoute   = "A_CAMINHO"
	OrderStatusComplete  = "COMPLETO"
	OrderStatusCancelled = "CANCELADO"
)

const (
	PaymentCash    = "DINHEIRO"
	PaymentPix     = "PIX"
	PaymentCredit  = "CARTAO_CREDITO"
	PaymentDebit   = "CARTAO_DEBITO"
	PaymentPending = "PENDENTE"
)

const (
	PaymentStatusPending = "PENDENTE"
	PaymentStatusPaid    = "PAGO"
)

const (
	DeliveryMethodDelivery = "ENTREGA"
	DeliveryMethodPickup   = "RETIRADA"
	DeliveryMethodCounter  = "BALCAO"
)

const (
	FeedbackPositive = "POSITIVO"
	FeedbackNegative = "NEGATIVO"
)

const (
	LoyaltyKindAward    = "award"
	LoyaltyKindReversal = "reversal"
)
