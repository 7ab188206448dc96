package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	TenantID    string `json:"tenant_id"`
	DisplayName string `json:"display_name"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated operator a request runs on behalf of.
type Actor struct {
	Username    string
	Role        string
	TenantID    string
	DisplayName string
}

func (a Actor) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Username
}

type PaymentMethod struct {
	TenantID    string    `json:"tenant_id"`
	Code        string    `json:"code"`
	DisplayName string    `json:"display_name"`
	IsCash      bool      `json:"is_cash"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

type PaymentMethodCreateRequest struct {
	Code        string `json:"code" validate:"required,max=32"`
	DisplayName string `json:"display_name" validate:"required,max=64"`
	IsCash      bool   `json:"is_cash"`
}

type PaymentMethodUpdateRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// CashSession is one operator shift at the cash drawer. Closing fields stay
// nil until the session is closed.
type CashSession struct {
	ID              string           `json:"id"`
	TenantID        string           `json:"tenant_id"`
	OperatorID      string           `json:"operator_id"`
	OperatorName    string           `json:"operator_name"`
	State           string           `json:"state"`
	OpeningCash     decimal.Decimal  `json:"opening_cash"`
	OpeningDigital  Snapshot         `json:"opening_digital"`
	Notes           string           `json:"notes"`
	OpenedAt        time.Time        `json:"opened_at"`
	ClosedAt        *time.Time       `json:"closed_at"`
	CountedTotal    *decimal.Decimal `json:"counted_total"`
	ExpectedTotal   *decimal.Decimal `json:"expected_total"`
	Variance        *decimal.Decimal `json:"variance"`
	ClosingSnapshot Snapshot         `json:"closing_snapshot"`
	ClosingNotes    string           `json:"closing_notes"`
	OpenSeq         int64            `json:"-"`
	CloseSeq        int64            `json:"-"`
}

func (s CashSession) IsOpen() bool {
	return s.State == SessionStateOpen
}

// OpeningSnapshot merges opening_cash into the digital declaration under the
// tenant's cash method code.
func (s CashSession) OpeningSnapshot(cashCode string) Snapshot {
	snapshot := s.OpeningDigital.Clone()
	if snapshot == nil {
		snapshot = Snapshot{}
	}
	snapshot[cashCode] = snapshot[cashCode].Add(s.OpeningCash)
	return snapshot
}

// Settlement is the immutable result written by a close.
type Settlement struct {
	CountedTotal    decimal.Decimal
	ExpectedTotal   decimal.Decimal
	Variance        decimal.Decimal
	ClosingSnapshot Snapshot
	Notes           string
}

type SalePayment struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	SessionID     string          `json:"session_id"`
	Number        string          `json:"number"`
	SaleRef       string          `json:"sale_ref"`
	Amount        decimal.Decimal `json:"amount"`
	MethodCode    string          `json:"method_code"`
	MethodName    string          `json:"method_name"`
	Reference     string          `json:"reference,omitempty"`
	State         string          `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
	CreatedBy     string          `json:"created_by"`
	CreatedByName string          `json:"created_by_name"`
	VoidedAt      *time.Time      `json:"voided_at,omitempty"`
	VoidedBy      string          `json:"voided_by,omitempty"`
	Seq           int64           `json:"-"`
}

type ManualMovement struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	SessionID     string          `json:"session_id"`
	Direction     string          `json:"direction"`
	Amount        decimal.Decimal `json:"amount"`
	MethodCode    string          `json:"method_code"`
	MethodName    string          `json:"method_name"`
	Category      string          `json:"category"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"created_at"`
	CreatedBy     string          `json:"created_by"`
	CreatedByName string          `json:"created_by_name"`
	Seq           int64           `json:"-"`
}

// SessionLedger is a session together with every entry appended to it.
type SessionLedger struct {
	Session   CashSession
	Payments  []SalePayment
	Movements []ManualMovement
}

// RangeLedger holds a tenant's activity inside a time window: sessions opened
// or closed in the window, plus entries created in it.
type RangeLedger struct {
	Sessions  []CashSession
	Payments  []SalePayment
	Movements []ManualMovement
}

type MethodBalance struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	IsCash   bool            `json:"is_cash"`
	Opening  decimal.Decimal `json:"opening"`
	Sales    decimal.Decimal `json:"sales"`
	Inflows  decimal.Decimal `json:"inflows"`
	Outflows decimal.Decimal `json:"outflows"`
	Balance  decimal.Decimal `json:"balance"`
}

type Balances struct {
	SessionID     string          `json:"session_id"`
	Methods       []MethodBalance `json:"methods"`
	TotalCash     decimal.Decimal `json:"total_cash"`
	TotalDigital  decimal.Decimal `json:"total_digital"`
	ExpectedTotal decimal.Decimal `json:"expected_total"`
	TotalSales    decimal.Decimal `json:"total_sales"`
	TotalExpenses decimal.Decimal `json:"total_expenses"`
}

func (b Balances) Method(code string) (MethodBalance, bool) {
	for _, m := range b.Methods {
		if m.Code == code {
			return m, true
		}
	}
	return MethodBalance{}, false
}

type TimelineEvent struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	At          time.Time         `json:"at"`
	Amount      decimal.Decimal   `json:"amount"`
	Description string            `json:"description"`
	Operator    string            `json:"operator"`
	IsInflow    *bool             `json:"is_inflow"`
	State       string            `json:"state"`
	SessionID   string            `json:"session_id"`
	Details     map[string]string `json:"details"`
	Seq         int64             `json:"seq"`
}

type OpenSessionRequest struct {
	OpeningCash    decimal.Decimal            `json:"opening_cash"`
	OpeningDigital map[string]decimal.Decimal `json:"opening_digital,omitempty"`
	Notes          string                     `json:"notes" validate:"max=500"`
}

type CloseSessionRequest struct {
	SessionID      string                     `json:"-" validate:"required"`
	CountedTotal   *decimal.Decimal           `json:"counted_total" validate:"required"`
	ClosingDigital map[string]decimal.Decimal `json:"closing_digital,omitempty"`
	Notes          string                     `json:"notes" validate:"max=500"`
}

type SalePaymentRequest struct {
	SessionID string          `json:"session_id,omitempty"`
	SaleRef   string          `json:"sale_ref" validate:"required,max=64"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" validate:"required,max=32"`
	Reference string          `json:"reference,omitempty" validate:"max=128"`
}

type ManualMovementRequest struct {
	SessionID   string          `json:"-" validate:"required"`
	Direction   string          `json:"direction" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method,omitempty" validate:"max=32"`
	Category    string          `json:"category,omitempty" validate:"max=64"`
	Description string          `json:"description,omitempty" validate:"max=500"`
}

type SessionView struct {
	Session  CashSession `json:"session"`
	Balances Balances    `json:"balances"`
}

type PaymentView struct {
	SalePayment
	Voidable bool `json:"voidable"`
}

type SessionDetail struct {
	Session   CashSession      `json:"session"`
	Balances  Balances         `json:"balances"`
	Payments  []PaymentView    `json:"payments"`
	Movements []ManualMovement `json:"movements"`
}

type LastClosedResponse struct {
	Session              CashSession     `json:"session"`
	SuggestedOpeningCash decimal.Decimal `json:"suggested_opening_cash"`
	SuggestedDigital     Snapshot        `json:"suggested_opening_digital"`
}

type SessionListResponse struct {
	From     string        `json:"from"`
	To       string        `json:"to"`
	Sessions []CashSession `json:"sessions"`
}

type TimelineResponse struct {
	SessionID string          `json:"session_id,omitempty"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Events    []TimelineEvent `json:"events"`
}

type OperatorCreateRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type OperatorUser struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	TenantID    string    `json:"tenant_id"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username    string
	Password    string
	Role        string
	TenantID    string
	DisplayName string
	Active      bool
	CreatedAt   time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	SessionStateOpen   = "OPEN"
	SessionStateClosed = "CLOSED"
)

const (
	PaymentStateConfirmed = "CONFIRMED"
	PaymentStateVoided    = "VOIDED"
)

const (
	DirectionIn  = "IN"
	DirectionOut = "OUT"
)

const (
	EventKindOpen     = "OPEN"
	EventKindClose    = "CLOSE"
	EventKindSale     = "SALE"
	EventKindMovement = "MOVEMENT"

	EventStateOK     = "OK"
	EventStateVoided = "VOIDED"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

const DefaultMovementCategory = "GENERAL"
