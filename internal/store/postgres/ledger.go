package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"washly/backend/internal/domain"
	"washly/backend/internal/store"
	"washly/backend/internal/xid"
)

const paymentNumberConstraint = "sale_payments_tenant_number_key"

// lockOpenSession takes a shared lock on the session row. Appends hold it
// until commit, which makes a concurrent close wait for them.
func lockOpenSession(ctx context.Context, tx *sql.Tx, tenantID string, sessionID string) error {
	var state string
	err := tx.QueryRowContext(ctx, `
		SELECT state FROM cash_sessions WHERE id = $1 AND tenant_id = $2 FOR SHARE
	`, sessionID, tenantID).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrSessionNotFound
		}
		return err
	}
	if state != domain.SessionStateOpen {
		return domain.ErrSessionClosed
	}
	return nil
}

func (s *Store) CreateSalePayment(ctx context.Context, payment domain.SalePayment) (*domain.SalePayment, error) {
	if payment.TenantID == "" || payment.SessionID == "" {
		return nil, store.ErrInvalidRecord
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now()
	}
	payment.CreatedAt = domain.StorageTime(payment.CreatedAt)
	payment.State = domain.PaymentStateConfirmed
	payment.VoidedAt = nil
	payment.VoidedBy = ""

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockOpenSession(ctx, tx, payment.TenantID, payment.SessionID); err != nil {
		return nil, err
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO sale_payments (
			id, tenant_id, session_id, number, sale_ref, amount, method_code, method_name,
			reference, state, created_at, created_by, created_by_name
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING seq
	`, payment.ID, payment.TenantID, payment.SessionID, payment.Number, payment.SaleRef, payment.Amount,
		payment.MethodCode, payment.MethodName, payment.Reference, payment.State, payment.CreatedAt,
		payment.CreatedBy, payment.CreatedByName).Scan(&payment.Seq)
	if err != nil {
		if isConstraintViolation(err, paymentNumberConstraint) {
			return nil, store.ErrDuplicateNumber
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := payment
	return &created, nil
}

func (s *Store) CreateManualMovement(ctx context.Context, movement domain.ManualMovement) (*domain.ManualMovement, error) {
	if movement.TenantID == "" || movement.SessionID == "" {
		return nil, store.ErrInvalidRecord
	}
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now()
	}
	movement.CreatedAt = domain.StorageTime(movement.CreatedAt)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockOpenSession(ctx, tx, movement.TenantID, movement.SessionID); err != nil {
		return nil, err
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO manual_movements (
			id, tenant_id, session_id, direction, amount, method_code, method_name,
			category, description, created_at, created_by, created_by_name
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING seq
	`, movement.ID, movement.TenantID, movement.SessionID, movement.Direction, movement.Amount,
		movement.MethodCode, movement.MethodName, movement.Category, movement.Description,
		movement.CreatedAt, movement.CreatedBy, movement.CreatedByName).Scan(&movement.Seq)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := movement
	return &created, nil
}

func (s *Store) GetSalePayment(ctx context.Context, tenantID string, id string) (*domain.SalePayment, error) {
	payment, err := scanPayment(s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM sale_payments
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

func (s *Store) VoidSalePayment(ctx context.Context, tenantID string, id string, voidedBy string, at time.Time, window domain.TimeRange) (*domain.SalePayment, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	payment, err := scanPayment(tx.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM sale_payments
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE
	`, id, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	if !window.Contains(payment.CreatedAt) {
		return nil, domain.ErrVoidWindowExpired
	}
	if payment.State == domain.PaymentStateVoided {
		return nil, domain.ErrAlreadyVoided
	}
	if err := lockOpenSession(ctx, tx, tenantID, payment.SessionID); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrSessionClosed
		}
		return nil, err
	}

	voidedAt := domain.StorageTime(at)
	_, err = tx.ExecContext(ctx, `
		UPDATE sale_payments
		SET state = 'VOIDED', voided_at = $3, voided_by = $4
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID, voidedAt, nullIfEmpty(voidedBy))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	payment.State = domain.PaymentStateVoided
	payment.VoidedAt = &voidedAt
	payment.VoidedBy = voidedBy
	return payment, nil
}

func (s *Store) GetSessionLedger(ctx context.Context, tenantID string, sessionID string) (*domain.SessionLedger, error) {
	session, err := getSession(ctx, s.db, tenantID, sessionID, "")
	if err != nil {
		return nil, err
	}
	return loadEntries(ctx, s.db, *session)
}

func loadEntries(ctx context.Context, q querier, session domain.CashSession) (*domain.SessionLedger, error) {
	payments, err := queryPayments(ctx, q, `
		SELECT `+paymentColumns+`
		FROM sale_payments
		WHERE session_id = $1
		ORDER BY seq
	`, session.ID)
	if err != nil {
		return nil, err
	}
	movements, err := queryMovements(ctx, q, `
		SELECT `+movementColumns+`
		FROM manual_movements
		WHERE session_id = $1
		ORDER BY seq
	`, session.ID)
	if err != nil {
		return nil, err
	}
	return &domain.SessionLedger{Session: session, Payments: payments, Movements: movements}, nil
}

func (s *Store) GetRangeLedger(ctx context.Context, tenantID string, window domain.TimeRange) (*domain.RangeLedger, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE tenant_id = $1
			AND (opened_at BETWEEN $2 AND $3 OR closed_at BETWEEN $2 AND $3)
		ORDER BY open_seq
	`, tenantID, window.From, window.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ledger := &domain.RangeLedger{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		ledger.Sessions = append(ledger.Sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ledger.Payments, err = queryPayments(ctx, s.db, `
		SELECT `+paymentColumns+`
		FROM sale_payments
		WHERE tenant_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY seq
	`, tenantID, window.From, window.To)
	if err != nil {
		return nil, err
	}
	ledger.Movements, err = queryMovements(ctx, s.db, `
		SELECT `+movementColumns+`
		FROM manual_movements
		WHERE tenant_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY seq
	`, tenantID, window.From, window.To)
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

func queryPayments(ctx context.Context, q querier, query string, args ...any) ([]domain.SalePayment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.SalePayment, 0, 32)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	return payments, rows.Err()
}

func queryMovements(ctx context.Context, q querier, query string, args ...any) ([]domain.ManualMovement, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.ManualMovement, 0, 16)
	for rows.Next() {
		movement, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, *movement)
	}
	return movements, rows.Err()
}
