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

func (s *Store) CreateSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error) {
	if session.TenantID == "" || session.OperatorID == "" {
		return nil, store.ErrInvalidRecord
	}
	if session.ID == "" {
		session.ID = xid.New("ses")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now()
	}
	session.OpenedAt = domain.StorageTime(session.OpenedAt)
	session.State = domain.SessionStateOpen
	if session.OpeningDigital == nil {
		session.OpeningDigital = domain.Snapshot{}
	}

	// The partial unique index on (tenant_id, operator_id) WHERE state = 'OPEN'
	// is the final arbiter when two opens race.
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO cash_sessions (id, tenant_id, operator_id, operator_name, state, opening_cash, opening_digital, notes, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING open_seq
	`, session.ID, session.TenantID, session.OperatorID, session.OperatorName, session.State,
		session.OpeningCash, session.OpeningDigital, session.Notes, session.OpenedAt).Scan(&session.OpenSeq)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrSessionAlreadyOpen
		}
		return nil, err
	}

	created := session
	return &created, nil
}

func (s *Store) GetSession(ctx context.Context, tenantID string, id string) (*domain.CashSession, error) {
	return getSession(ctx, s.db, tenantID, id, "")
}

func getSession(ctx context.Context, q querier, tenantID string, id string, lock string) (*domain.CashSession, error) {
	session, err := scanSession(q.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE id = $1 AND tenant_id = $2
	`+lock, id, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

func (s *Store) GetOpenSession(ctx context.Context, tenantID string, operatorID string) (*domain.CashSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE tenant_id = $1 AND operator_id = $2 AND state = 'OPEN'
	`, tenantID, operatorID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

func (s *Store) GetLastClosedSession(ctx context.Context, tenantID string) (*domain.CashSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE tenant_id = $1 AND state = 'CLOSED'
		ORDER BY close_seq DESC
		LIMIT 1
	`, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

func (s *Store) ListSessions(ctx context.Context, tenantID string, window domain.TimeRange) ([]domain.CashSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE tenant_id = $1 AND opened_at BETWEEN $2 AND $3
		ORDER BY opened_at DESC, open_seq DESC
	`, tenantID, window.From, window.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]domain.CashSession, 0, 16)
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

// CloseSession locks the session row, so no append or void can interleave
// between computing the settlement and persisting it.
func (s *Store) CloseSession(ctx context.Context, tenantID string, id string, closedAt time.Time, settle store.SettleFunc) (*domain.CashSession, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	session, err := getSession(ctx, tx, tenantID, id, " FOR UPDATE")
	if err != nil {
		return nil, err
	}
	if !session.IsOpen() {
		return nil, domain.ErrSessionClosed
	}

	ledger, err := loadEntries(ctx, tx, *session)
	if err != nil {
		return nil, err
	}
	settlement, err := settle(*ledger)
	if err != nil {
		return nil, err
	}

	if closedAt.IsZero() {
		closedAt = time.Now()
	}
	closedAt = domain.StorageTime(closedAt)
	closing := settlement.ClosingSnapshot.Clone()
	if closing == nil {
		closing = domain.Snapshot{}
	}

	var closeSeq int64
	err = tx.QueryRowContext(ctx, `
		UPDATE cash_sessions
		SET state = 'CLOSED', closed_at = $3, counted_total = $4, expected_total = $5, variance = $6,
			closing_snapshot = $7, closing_notes = $8, close_seq = nextval('ledger_seq')
		WHERE id = $1 AND tenant_id = $2
		RETURNING close_seq
	`, id, tenantID, closedAt, settlement.CountedTotal, settlement.ExpectedTotal, settlement.Variance,
		closing, settlement.Notes).Scan(&closeSeq)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	counted := settlement.CountedTotal
	expected := settlement.ExpectedTotal
	variance := settlement.Variance
	session.State = domain.SessionStateClosed
	session.ClosedAt = &closedAt
	session.CountedTotal = &counted
	session.ExpectedTotal = &expected
	session.Variance = &variance
	session.ClosingSnapshot = closing
	session.ClosingNotes = settlement.Notes
	session.CloseSeq = closeSeq
	return session, nil
}
