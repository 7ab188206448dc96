package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"washly/backend/internal/domain"
	"washly/backend/internal/store"
	"washly/backend/internal/xid"
)

// paymentNumberAttempts bounds how many receipt numbers RecordSalePayment
// draws before giving up on a crowded day.
const paymentNumberAttempts = 8

// appendTarget resolves the session an entry is written to. An empty id means
// the caller's own open session; the system never opens one implicitly.
func (s *Service) appendTarget(ctx context.Context, actor domain.Actor, sessionID string) (*domain.CashSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		session, err := s.repo.GetOpenSession(ctx, actor.TenantID, actor.Username)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: operator %s has no open session", domain.ErrSessionClosed, actor.Username)
		}
		return session, err
	}

	session, err := s.repo.GetSession(ctx, actor.TenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if !canOperate(actor, session.OperatorID) {
		return nil, fmt.Errorf("%w: session belongs to another operator", domain.ErrForbidden)
	}
	if !session.IsOpen() {
		return nil, domain.ErrSessionClosed
	}
	return session, nil
}

func (s *Service) RecordSalePayment(ctx context.Context, req domain.SalePaymentRequest) (domain.SalePayment, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SalePayment{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.SalePayment{}, err
	}
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return domain.SalePayment{}, err
	}
	methods, err := s.catalog(ctx, actor.TenantID)
	if err != nil {
		return domain.SalePayment{}, err
	}
	method, err := resolveMethod(methods, req.Method)
	if err != nil {
		return domain.SalePayment{}, err
	}
	session, err := s.appendTarget(ctx, actor, req.SessionID)
	if err != nil {
		return domain.SalePayment{}, err
	}
	loc, err := s.location(ctx, actor.TenantID)
	if err != nil {
		return domain.SalePayment{}, err
	}

	now := s.now()
	entry := domain.SalePayment{
		TenantID:      actor.TenantID,
		SessionID:     session.ID,
		SaleRef:       strings.TrimSpace(req.SaleRef),
		Amount:        req.Amount,
		MethodCode:    method.Code,
		MethodName:    method.DisplayName,
		Reference:     strings.TrimSpace(req.Reference),
		CreatedAt:     domain.StorageTime(now),
		CreatedBy:     actor.Username,
		CreatedByName: actor.Name(),
	}
	var payment *domain.SalePayment
	for attempt := 1; ; attempt++ {
		entry.ID = xid.New("pay")
		entry.Number = xid.PaymentNumber(now.In(loc))
		payment, err = s.repo.CreateSalePayment(ctx, entry)
		if !errors.Is(err, store.ErrDuplicateNumber) || attempt == paymentNumberAttempts {
			break
		}
		s.logFor(ctx).Debug("payment number taken, drawing another", zap.String("number", entry.Number))
	}
	if err != nil {
		return domain.SalePayment{}, err
	}

	s.logAudit(ctx, "payment.create", "sale_payment", payment.ID, fmt.Sprintf("session=%s,sale=%s,method=%s,amount=%s",
		payment.SessionID, payment.SaleRef, payment.MethodCode, payment.Amount.StringFixed(domain.MinorUnits)))
	return *payment, nil
}

// VoidSalePayment reverses a payment taken on the caller's current local day.
// The day window and session state are re-checked by the store atomically
// with the state flip.
func (s *Service) VoidSalePayment(ctx context.Context, paymentID string) (domain.SalePayment, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SalePayment{}, err
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return domain.SalePayment{}, domain.ErrPaymentNotFound
	}

	existing, err := s.repo.GetSalePayment(ctx, actor.TenantID, paymentID)
	if err != nil {
		return domain.SalePayment{}, err
	}
	if !canOperate(actor, existing.CreatedBy) {
		return domain.SalePayment{}, fmt.Errorf("%w: payment was taken by another operator", domain.ErrForbidden)
	}
	loc, err := s.location(ctx, actor.TenantID)
	if err != nil {
		return domain.SalePayment{}, err
	}

	now := s.now()
	voided, err := s.repo.VoidSalePayment(ctx, actor.TenantID, paymentID, actor.Username, now, domain.LocalDayOf(loc, now))
	if err != nil {
		return domain.SalePayment{}, err
	}

	s.logAudit(ctx, "payment.void", "sale_payment", voided.ID, fmt.Sprintf("session=%s,method=%s,amount=%s",
		voided.SessionID, voided.MethodCode, voided.Amount.StringFixed(domain.MinorUnits)))
	s.logFor(ctx).Info("sale payment voided",
		zap.String("tenant_id", actor.TenantID),
		zap.String("payment_id", voided.ID),
		zap.String("session_id", voided.SessionID),
	)
	return *voided, nil
}

func (s *Service) RecordManualMovement(ctx context.Context, req domain.ManualMovementRequest) (domain.ManualMovement, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.ManualMovement{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.ManualMovement{}, err
	}
	direction := domain.NormalizeDirection(req.Direction)
	if direction == "" {
		return domain.ManualMovement{}, fmt.Errorf("%w: direction must be IN or OUT", domain.ErrInvalidInput)
	}
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return domain.ManualMovement{}, err
	}
	methods, err := s.catalog(ctx, actor.TenantID)
	if err != nil {
		return domain.ManualMovement{}, err
	}
	rawMethod := req.Method
	if strings.TrimSpace(rawMethod) == "" {
		rawMethod = domain.CashMethodCode(methods)
	}
	method, err := resolveMethod(methods, rawMethod)
	if err != nil {
		return domain.ManualMovement{}, err
	}
	session, err := s.appendTarget(ctx, actor, req.SessionID)
	if err != nil {
		return domain.ManualMovement{}, err
	}

	category := strings.ToUpper(strings.TrimSpace(req.Category))
	if category == "" {
		category = domain.DefaultMovementCategory
	}
	movement, err := s.repo.CreateManualMovement(ctx, domain.ManualMovement{
		ID:            xid.New("mov"),
		TenantID:      actor.TenantID,
		SessionID:     session.ID,
		Direction:     direction,
		Amount:        req.Amount,
		MethodCode:    method.Code,
		MethodName:    method.DisplayName,
		Category:      category,
		Description:   strings.TrimSpace(req.Description),
		CreatedAt:     domain.StorageTime(s.now()),
		CreatedBy:     actor.Username,
		CreatedByName: actor.Name(),
	})
	if err != nil {
		return domain.ManualMovement{}, err
	}

	s.logAudit(ctx, "movement.create", "manual_movement", movement.ID, fmt.Sprintf("session=%s,direction=%s,method=%s,amount=%s,category=%s",
		movement.SessionID, movement.Direction, movement.MethodCode, movement.Amount.StringFixed(domain.MinorUnits), movement.Category))
	return *movement, nil
}
