package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"washly/backend/internal/domain"
	"washly/backend/internal/reconcile"
)

func operatorLockKey(tenantID string, operatorID string) string {
	return "open-session:" + tenantID + "::" + operatorID
}

// OpenSession starts a shift for the calling operator. The operator lock
// serializes check-and-create; the store's own uniqueness check backs it up.
func (s *Service) OpenSession(ctx context.Context, req domain.OpenSessionRequest) (domain.SessionView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SessionView{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.SessionView{}, err
	}
	if err := domain.ValidateBalance(req.OpeningCash); err != nil {
		return domain.SessionView{}, fmt.Errorf("%w (opening cash)", err)
	}
	digital, err := domain.NormalizeSnapshot(req.OpeningDigital)
	if err != nil {
		return domain.SessionView{}, err
	}
	methods, err := s.catalog(ctx, actor.TenantID)
	if err != nil {
		return domain.SessionView{}, err
	}
	if err := checkDigitalSnapshot(methods, digital, true); err != nil {
		return domain.SessionView{}, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTTL)
	defer cancel()
	release, err := s.locker.Lock(lockCtx, operatorLockKey(actor.TenantID, actor.Username), s.lockTTL)
	if err != nil {
		return domain.SessionView{}, fmt.Errorf("acquire operator lock: %w", err)
	}
	defer release()

	existing, err := s.repo.GetOpenSession(ctx, actor.TenantID, actor.Username)
	switch {
	case err == nil:
		return domain.SessionView{}, fmt.Errorf("%w: session %s", domain.ErrSessionAlreadyOpen, existing.ID)
	case !errors.Is(err, domain.ErrSessionNotFound):
		return domain.SessionView{}, err
	}

	session, err := s.repo.CreateSession(ctx, domain.CashSession{
		TenantID:       actor.TenantID,
		OperatorID:     actor.Username,
		OperatorName:   actor.Name(),
		OpeningCash:    req.OpeningCash,
		OpeningDigital: digital,
		Notes:          strings.TrimSpace(req.Notes),
		OpenedAt:       domain.StorageTime(s.now()),
	})
	if err != nil {
		return domain.SessionView{}, err
	}

	balances := reconcile.Reconcile(domain.SessionLedger{Session: *session}, methods)
	s.logAudit(ctx, "session.open", "cash_session", session.ID,
		fmt.Sprintf("opening_cash=%s,opening_digital=%s", session.OpeningCash.StringFixed(domain.MinorUnits), session.OpeningDigital.Total().StringFixed(domain.MinorUnits)))
	s.logFor(ctx).Info("cash session opened",
		zap.String("tenant_id", actor.TenantID),
		zap.String("session_id", session.ID),
		zap.String("operator", actor.Username),
	)
	return domain.SessionView{Session: *session, Balances: balances}, nil
}

// CloseSession reconciles the frozen entry set, stores the settlement and
// flips the session to CLOSED in one step. Any failure leaves it OPEN.
func (s *Service) CloseSession(ctx context.Context, req domain.CloseSessionRequest) (domain.SessionView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SessionView{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.SessionView{}, err
	}
	counted := *req.CountedTotal
	if err := domain.ValidateBalance(counted); err != nil {
		return domain.SessionView{}, fmt.Errorf("%w (counted total)", err)
	}
	closing, err := domain.NormalizeSnapshot(req.ClosingDigital)
	if err != nil {
		return domain.SessionView{}, err
	}

	session, err := s.repo.GetSession(ctx, actor.TenantID, req.SessionID)
	if err != nil {
		return domain.SessionView{}, err
	}
	if !canOperate(actor, session.OperatorID) {
		return domain.SessionView{}, fmt.Errorf("%w: session belongs to another operator", domain.ErrForbidden)
	}
	if !session.IsOpen() {
		return domain.SessionView{}, domain.ErrSessionClosed
	}
	methods, err := s.catalog(ctx, actor.TenantID)
	if err != nil {
		return domain.SessionView{}, err
	}
	if err := checkDigitalSnapshot(methods, closing, false); err != nil {
		return domain.SessionView{}, err
	}

	notes := strings.TrimSpace(req.Notes)
	var balances domain.Balances
	closed, err := s.repo.CloseSession(ctx, actor.TenantID, req.SessionID, s.now(), func(ledger domain.SessionLedger) (domain.Settlement, error) {
		var settlement domain.Settlement
		settlement, balances = reconcile.Settle(ledger, methods, counted, closing, notes)
		return settlement, nil
	})
	if err != nil {
		return domain.SessionView{}, err
	}

	s.logAudit(ctx, "session.close", "cash_session", closed.ID, fmt.Sprintf("counted=%s,expected=%s,variance=%s",
		closed.CountedTotal.StringFixed(domain.MinorUnits),
		closed.ExpectedTotal.StringFixed(domain.MinorUnits),
		closed.Variance.StringFixed(domain.MinorUnits)))
	s.logFor(ctx).Info("cash session closed",
		zap.String("tenant_id", actor.TenantID),
		zap.String("session_id", closed.ID),
		zap.String("variance", closed.Variance.StringFixed(domain.MinorUnits)),
	)
	return domain.SessionView{Session: *closed, Balances: balances}, nil
}

// GetOpenSession returns the caller's open session with live balances, or nil
// when the caller has none.
func (s *Service) GetOpenSession(ctx context.Context) (*domain.SessionView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	session, err := s.repo.GetOpenSession(ctx, actor.TenantID, actor.Username)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	_, balances, err := s.sessionBalances(ctx, actor.TenantID, session.ID)
	if err != nil {
		return nil, err
	}
	return &domain.SessionView{Session: *session, Balances: balances}, nil
}

// GetLastClosed returns the tenant's most recently closed session and an
// opening suggestion derived from it. The suggestion is advisory; opening
// still takes explicit operator input.
func (s *Service) GetLastClosed(ctx context.Context) (*domain.LastClosedResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	session, err := s.repo.GetLastClosedSession(ctx, actor.TenantID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	suggestedDigital := session.ClosingSnapshot.Clone()
	if suggestedDigital == nil {
		suggestedDigital = domain.Snapshot{}
	}
	suggestedCash := decimal.Zero
	if session.CountedTotal != nil {
		suggestedCash = session.CountedTotal.Sub(suggestedDigital.Total())
		if suggestedCash.IsNegative() {
			suggestedCash = decimal.Zero
		}
	}
	return &domain.LastClosedResponse{
		Session:              *session,
		SuggestedOpeningCash: suggestedCash,
		SuggestedDigital:     suggestedDigital,
	}, nil
}

func (s *Service) GetSessionDetail(ctx context.Context, sessionID string) (domain.SessionDetail, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SessionDetail{}, err
	}
	ledger, balances, err := s.sessionBalances(ctx, actor.TenantID, sessionID)
	if err != nil {
		return domain.SessionDetail{}, err
	}
	loc, err := s.location(ctx, actor.TenantID)
	if err != nil {
		return domain.SessionDetail{}, err
	}
	today := domain.LocalDayOf(loc, s.now())

	payments := make([]domain.PaymentView, 0, len(ledger.Payments))
	for _, p := range ledger.Payments {
		payments = append(payments, domain.PaymentView{
			SalePayment: p,
			Voidable:    ledger.Session.IsOpen() && p.State == domain.PaymentStateConfirmed && today.Contains(p.CreatedAt),
		})
	}
	movements := ledger.Movements
	if movements == nil {
		movements = []domain.ManualMovement{}
	}
	return domain.SessionDetail{
		Session:   ledger.Session,
		Balances:  balances,
		Payments:  payments,
		Movements: movements,
	}, nil
}

func (s *Service) SessionBalances(ctx context.Context, sessionID string) (domain.Balances, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Balances{}, err
	}
	_, balances, err := s.sessionBalances(ctx, actor.TenantID, sessionID)
	return balances, err
}

func (s *Service) sessionBalances(ctx context.Context, tenantID string, sessionID string) (*domain.SessionLedger, domain.Balances, error) {
	ledger, err := s.repo.GetSessionLedger(ctx, tenantID, sessionID)
	if err != nil {
		return nil, domain.Balances{}, err
	}
	methods, err := s.catalog(ctx, tenantID)
	if err != nil {
		return nil, domain.Balances{}, err
	}
	return ledger, reconcile.Reconcile(*ledger, methods), nil
}

// ListSessions lists sessions opened inside the inclusive tenant-local date
// range, newest first.
func (s *Service) ListSessions(ctx context.Context, from string, to string) (domain.SessionListResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SessionListResponse{}, err
	}
	loc, window, err := s.dateWindow(ctx, actor.TenantID, from, to)
	if err != nil {
		return domain.SessionListResponse{}, err
	}
	sessions, err := s.repo.ListSessions(ctx, actor.TenantID, window)
	if err != nil {
		return domain.SessionListResponse{}, err
	}
	return domain.SessionListResponse{
		From:     window.From.In(loc).Format(domain.DateLayout),
		To:       window.To.In(loc).Format(domain.DateLayout),
		Sessions: sessions,
	}, nil
}

func (s *Service) dateWindow(ctx context.Context, tenantID string, from string, to string) (*time.Location, domain.TimeRange, error) {
	loc, err := s.location(ctx, tenantID)
	if err != nil {
		return nil, domain.TimeRange{}, err
	}
	window, err := domain.ParseDateRange(loc, from, to, s.now())
	if err != nil {
		return nil, domain.TimeRange{}, err
	}
	return loc, window, nil
}
