package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"washly/backend/internal/domain"
	"washly/backend/internal/store"
)

func (s *Store) ListPaymentMethods(ctx context.Context, tenantID string) ([]domain.PaymentMethod, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, code, display_name, is_cash, active, created_at
		FROM payment_methods
		WHERE tenant_id = $1
		ORDER BY code
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	methods := make([]domain.PaymentMethod, 0, 8)
	for rows.Next() {
		var m domain.PaymentMethod
		if err := rows.Scan(&m.TenantID, &m.Code, &m.DisplayName, &m.IsCash, &m.Active, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		methods = append(methods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return methods, nil
}

func (s *Store) CreatePaymentMethod(ctx context.Context, method domain.PaymentMethod) (*domain.PaymentMethod, error) {
	if method.TenantID == "" || method.Code == "" || method.DisplayName == "" {
		return nil, store.ErrInvalidRecord
	}
	if method.CreatedAt.IsZero() {
		method.CreatedAt = time.Now()
	}
	method.CreatedAt = domain.StorageTime(method.CreatedAt)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_methods (tenant_id, code, display_name, is_cash, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, method.TenantID, method.Code, method.DisplayName, method.IsCash, method.Active, method.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrMethodAlreadyExists
		}
		return nil, err
	}
	created := method
	return &created, nil
}

func (s *Store) SetPaymentMethodActive(ctx context.Context, tenantID string, code string, active bool) (*domain.PaymentMethod, error) {
	var m domain.PaymentMethod
	err := s.db.QueryRowContext(ctx, `
		UPDATE payment_methods SET active = $3
		WHERE tenant_id = $1 AND code = $2
		RETURNING tenant_id, code, display_name, is_cash, active, created_at
	`, tenantID, code, active).Scan(&m.TenantID, &m.Code, &m.DisplayName, &m.IsCash, &m.Active, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUnknownPaymentMethod
		}
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}
