package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"washly/backend/internal/domain"
)

var methodCodePattern = regexp.MustCompile(`^[A-Z0-9_]{2,32}$`)

// catalog returns every payment method of the tenant, active or not. A tenant
// with an empty catalog gets the default one on first use.
func (s *Service) catalog(ctx context.Context, tenantID string) ([]domain.PaymentMethod, error) {
	if cached, ok, err := s.methods.Get(ctx, tenantID); err != nil {
		s.logFor(ctx).Warn("payment method cache read failed", zap.String("tenant_id", tenantID), zap.Error(err))
	} else if ok {
		return cached, nil
	}

	methods, err := s.repo.ListPaymentMethods(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(methods) == 0 {
		for _, m := range domain.DefaultPaymentMethods(tenantID, s.now().UTC()) {
			if _, err := s.repo.CreatePaymentMethod(ctx, m); err != nil && !errors.Is(err, domain.ErrMethodAlreadyExists) {
				return nil, err
			}
		}
		if methods, err = s.repo.ListPaymentMethods(ctx, tenantID); err != nil {
			return nil, err
		}
	}

	if err := s.methods.Set(ctx, tenantID, methods, s.methodTTL); err != nil {
		s.logFor(ctx).Warn("payment method cache write failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	return methods, nil
}

func (s *Service) invalidateCatalog(ctx context.Context, tenantID string) {
	if err := s.methods.Invalidate(ctx, tenantID); err != nil {
		s.logFor(ctx).Warn("payment method cache invalidation failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

func findMethod(methods []domain.PaymentMethod, code string) (domain.PaymentMethod, bool) {
	for _, m := range methods {
		if m.Code == code {
			return m, true
		}
	}
	return domain.PaymentMethod{}, false
}

// resolveMethod maps operator input, including legacy free-text names, to an
// active catalog entry.
func resolveMethod(methods []domain.PaymentMethod, raw string) (domain.PaymentMethod, error) {
	code := domain.NormalizeMethodCode(raw)
	m, ok := findMethod(methods, code)
	if !ok || !m.Active {
		return domain.PaymentMethod{}, fmt.Errorf("%w: %s", domain.ErrUnknownPaymentMethod, code)
	}
	return m, nil
}

// checkDigitalSnapshot accepts non-cash catalog codes only. requireActive is
// false at close, where a method disabled mid-shift may still hold a balance.
func checkDigitalSnapshot(methods []domain.PaymentMethod, snapshot domain.Snapshot, requireActive bool) error {
	for _, code := range snapshot.Codes() {
		m, ok := findMethod(methods, code)
		if !ok || (requireActive && !m.Active) {
			return fmt.Errorf("%w: %s", domain.ErrUnknownPaymentMethod, code)
		}
		if m.IsCash {
			return fmt.Errorf("%w: cash is declared through the cash amount, not per method (%s)", domain.ErrInvalidInput, code)
		}
	}
	return nil
}

func (s *Service) ListPaymentMethods(ctx context.Context, includeInactive bool) ([]domain.PaymentMethod, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	methods, err := s.catalog(ctx, actor.TenantID)
	if err != nil {
		return nil, err
	}
	if includeInactive {
		return methods, nil
	}
	active := make([]domain.PaymentMethod, 0, len(methods))
	for _, m := range methods {
		if m.Active {
			active = append(active, m)
		}
	}
	return active, nil
}

func (s *Service) CreatePaymentMethod(ctx context.Context, req domain.PaymentMethodCreateRequest) (domain.PaymentMethod, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.PaymentMethod{}, err
	}

	code := domain.NormalizeMethodCode(req.Code)
	if !methodCodePattern.MatchString(code) {
		return domain.PaymentMethod{}, fmt.Errorf("%w: method code must be 2-32 characters of A-Z, 0-9 or _", domain.ErrInvalidInput)
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		return domain.PaymentMethod{}, fmt.Errorf("%w: display name is required", domain.ErrInvalidInput)
	}

	methods, err := s.catalog(ctx, actor.TenantID)
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	if req.IsCash {
		for _, m := range methods {
			if m.IsCash && m.Active {
				return domain.PaymentMethod{}, fmt.Errorf("%w: tenant already has cash method %s", domain.ErrInvalidInput, m.Code)
			}
		}
	}

	created, err := s.repo.CreatePaymentMethod(ctx, domain.PaymentMethod{
		TenantID:    actor.TenantID,
		Code:        code,
		DisplayName: name,
		IsCash:      req.IsCash,
		Active:      true,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	s.invalidateCatalog(ctx, actor.TenantID)
	s.logAudit(ctx, "payment_method.create", "payment_method", created.Code, fmt.Sprintf("name=%s,is_cash=%t", created.DisplayName, created.IsCash))
	return *created, nil
}

// SetPaymentMethodActive soft-enables or disables a method. Methods are never
// deleted because ledger entries keep referencing them.
func (s *Service) SetPaymentMethodActive(ctx context.Context, code string, req domain.PaymentMethodUpdateRequest) (domain.PaymentMethod, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.PaymentMethod{}, err
	}

	code = domain.NormalizeMethodCode(code)
	methods, err := s.catalog(ctx, actor.TenantID)
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	m, ok := findMethod(methods, code)
	if !ok {
		return domain.PaymentMethod{}, fmt.Errorf("%w: %s", domain.ErrUnknownPaymentMethod, code)
	}
	if m.IsCash && !*req.Active {
		return domain.PaymentMethod{}, fmt.Errorf("%w: the cash method cannot be disabled", domain.ErrInvalidInput)
	}

	updated, err := s.repo.SetPaymentMethodActive(ctx, actor.TenantID, code, *req.Active)
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	s.invalidateCatalog(ctx, actor.TenantID)
	s.logAudit(ctx, "payment_method.set_active", "payment_method", code, fmt.Sprintf("active=%t", updated.Active))
	return *updated, nil
}
