package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"washly/backend/internal/domain"
	"washly/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

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

// NewWithDB wraps an already configured handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const sessionColumns = `id, tenant_id, operator_id, operator_name, state, opening_cash, opening_digital, notes,
	opened_at, closed_at, counted_total, expected_total, variance, closing_snapshot, closing_notes, open_seq, close_seq`

func scanSession(row rowScanner) (*domain.CashSession, error) {
	var (
		session  domain.CashSession
		closedAt sql.NullTime
		counted  decimal.NullDecimal
		expected decimal.NullDecimal
		variance decimal.NullDecimal
		closeSeq sql.NullInt64
	)
	err := row.Scan(
		&session.ID, &session.TenantID, &session.OperatorID, &session.OperatorName, &session.State,
		&session.OpeningCash, &session.OpeningDigital, &session.Notes,
		&session.OpenedAt, &closedAt, &counted, &expected, &variance,
		&session.ClosingSnapshot, &session.ClosingNotes, &session.OpenSeq, &closeSeq,
	)
	if err != nil {
		return nil, err
	}
	session.OpenedAt = session.OpenedAt.UTC()
	if session.OpeningDigital == nil {
		session.OpeningDigital = domain.Snapshot{}
	}
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		session.ClosedAt = &at
	}
	session.CountedTotal = decimalPtr(counted)
	session.ExpectedTotal = decimalPtr(expected)
	session.Variance = decimalPtr(variance)
	session.CloseSeq = closeSeq.Int64
	return &session, nil
}

const paymentColumns = `id, tenant_id, session_id, number, sale_ref, amount, method_code, method_name, reference,
	state, created_at, created_by, created_by_name, voided_at, voided_by, seq`

func scanPayment(row rowScanner) (*domain.SalePayment, error) {
	var (
		payment  domain.SalePayment
		voidedAt sql.NullTime
		voidedBy sql.NullString
	)
	err := row.Scan(
		&payment.ID, &payment.TenantID, &payment.SessionID, &payment.Number, &payment.SaleRef,
		&payment.Amount, &payment.MethodCode, &payment.MethodName, &payment.Reference,
		&payment.State, &payment.CreatedAt, &payment.CreatedBy, &payment.CreatedByName,
		&voidedAt, &voidedBy, &payment.Seq,
	)
	if err != nil {
		return nil, err
	}
	payment.CreatedAt = payment.CreatedAt.UTC()
	if voidedAt.Valid {
		at := voidedAt.Time.UTC()
		payment.VoidedAt = &at
	}
	payment.VoidedBy = voidedBy.String
	return &payment, nil
}

const movementColumns = `id, tenant_id, session_id, direction, amount, method_code, method_name, category,
	description, created_at, created_by, created_by_name, seq`

func scanMovement(row rowScanner) (*domain.ManualMovement, error) {
	var movement domain.ManualMovement
	err := row.Scan(
		&movement.ID, &movement.TenantID, &movement.SessionID, &movement.Direction, &movement.Amount,
		&movement.MethodCode, &movement.MethodName, &movement.Category, &movement.Description,
		&movement.CreatedAt, &movement.CreatedBy, &movement.CreatedByName, &movement.Seq,
	)
	if err != nil {
		return nil, err
	}
	movement.CreatedAt = movement.CreatedAt.UTC()
	return &movement, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isConstraintViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
	}
	return false
}

func decimalPtr(val decimal.NullDecimal) *decimal.Decimal {
	if !val.Valid {
		return nil
	}
	d := val.Decimal
	return &d
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
