package store

import (
	"context"
	"errors"
	"time"

	"washly/backend/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidRecord = errors.New("invalid record")

	// ErrDuplicateNumber means the receipt number is already taken in the
	// tenant. Callers retry with a fresh number.
	ErrDuplicateNumber = errors.New("duplicate payment number")
)

// SettleFunc computes the close result from the session's frozen ledger. It
// runs inside the close transaction; returning an error aborts the close and
// leaves the session open.
type SettleFunc func(ledger domain.SessionLedger) (domain.Settlement, error)

// Repository persists cash sessions, their ledger and supporting records.
// Taxonomy failures are returned as domain errors (domain.ErrSessionClosed,
// domain.ErrAlreadyVoided, ...); anything else is an infrastructure error.
type Repository interface {
	ListPaymentMethods(ctx context.Context, tenantID string) ([]domain.PaymentMethod, error)
	CreatePaymentMethod(ctx context.Context, method domain.PaymentMethod) (*domain.PaymentMethod, error)
	SetPaymentMethodActive(ctx context.Context, tenantID string, code string, active bool) (*domain.PaymentMethod, error)

	// CreateSession fails with domain.ErrSessionAlreadyOpen when the operator
	// already owns an open session in the tenant.
	CreateSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error)
	GetSession(ctx context.Context, tenantID string, id string) (*domain.CashSession, error)
	GetOpenSession(ctx context.Context, tenantID string, operatorID string) (*domain.CashSession, error)
	GetLastClosedSession(ctx context.Context, tenantID string) (*domain.CashSession, error)
	ListSessions(ctx context.Context, tenantID string, window domain.TimeRange) ([]domain.CashSession, error)
	CloseSession(ctx context.Context, tenantID string, id string, closedAt time.Time, settle SettleFunc) (*domain.CashSession, error)

	// Appends fail with domain.ErrSessionClosed unless the session is open
	// at the moment the entry is written. CreateSalePayment fails with
	// ErrDuplicateNumber when payment.Number is already used in the tenant.
	CreateSalePayment(ctx context.Context, payment domain.SalePayment) (*domain.SalePayment, error)
	CreateManualMovement(ctx context.Context, movement domain.ManualMovement) (*domain.ManualMovement, error)
	GetSalePayment(ctx context.Context, tenantID string, id string) (*domain.SalePayment, error)
	// VoidSalePayment flips a confirmed payment to voided if it was created
	// inside window and its session is still open.
	VoidSalePayment(ctx context.Context, tenantID string, id string, voidedBy string, at time.Time, window domain.TimeRange) (*domain.SalePayment, error)
	GetSessionLedger(ctx context.Context, tenantID string, sessionID string) (*domain.SessionLedger, error)
	GetRangeLedger(ctx context.Context, tenantID string, window domain.TimeRange) (*domain.RangeLedger, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, tenantID string, window domain.TimeRange, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
