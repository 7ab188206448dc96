package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"washly/backend/internal/domain"
	"washly/backend/internal/store"
	"washly/backend/internal/xid"
)

type Store struct {
	mu                 sync.RWMutex
	seq                int64
	methods            map[string]map[string]domain.PaymentMethod
	sessionsByID       map[string]domain.CashSession
	openSessionByKey   map[string]string
	paymentsByID       map[string]domain.SalePayment
	paymentsBySession  map[string][]string
	paymentNumbers     map[string]string
	movementsByID      map[string]domain.ManualMovement
	movementsBySession map[string][]string
	auditLogs          []domain.AuditLog
	usersByUsername    map[string]domain.UserAccount
}

var _ store.Repository = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		methods:            make(map[string]map[string]domain.PaymentMethod),
		sessionsByID:       make(map[string]domain.CashSession),
		openSessionByKey:   make(map[string]string),
		paymentsByID:       make(map[string]domain.SalePayment),
		paymentsBySession:  make(map[string][]string),
		paymentNumbers:     make(map[string]string),
		movementsByID:      make(map[string]domain.ManualMovement),
		movementsBySession: make(map[string][]string),
		auditLogs:          make([]domain.AuditLog, 0, 128),
		usersByUsername:    make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store for dev/demo mode with the default payment-method
// catalog and two accounts for tenantID. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD, falling back to dev defaults.
func NewSeeded(tenantID string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	now := time.Now().UTC()

	s.methods[tenantID] = make(map[string]domain.PaymentMethod)
	for _, m := range domain.DefaultPaymentMethods(tenantID, now) {
		s.methods[tenantID][m.Code] = m
	}

	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}
	for _, u := range []struct {
		username    string
		password    string
		role        string
		displayName string
	}{
		{"admin", adminPwd, domain.RoleAdmin, "Administrador"},
		{"cashier", cashierPwd, domain.RoleCashier, "Cajero Principal"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		s.usersByUsername[u.username] = domain.UserAccount{
			Username:    u.username,
			Password:    string(hash),
			Role:        u.role,
			TenantID:    tenantID,
			DisplayName: u.displayName,
			Active:      true,
			CreatedAt:   now,
		}
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

func (s *Store) ListPaymentMethods(_ context.Context, tenantID string) ([]domain.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	methods := make([]domain.PaymentMethod, 0, len(s.methods[tenantID]))
	for _, m := range s.methods[tenantID] {
		methods = append(methods, m)
	}
	slices.SortFunc(methods, func(a, b domain.PaymentMethod) int {
		return strings.Compare(a.Code, b.Code)
	})
	return methods, nil
}

func (s *Store) CreatePaymentMethod(_ context.Context, method domain.PaymentMethod) (*domain.PaymentMethod, error) {
	if strings.TrimSpace(method.TenantID) == "" || strings.TrimSpace(method.Code) == "" {
		return nil, store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	catalog, ok := s.methods[method.TenantID]
	if !ok {
		catalog = make(map[string]domain.PaymentMethod)
		s.methods[method.TenantID] = catalog
	}
	if _, exists := catalog[method.Code]; exists {
		return nil, domain.ErrMethodAlreadyExists
	}
	if method.CreatedAt.IsZero() {
		method.CreatedAt = time.Now().UTC()
	}
	catalog[method.Code] = method
	created := method
	return &created, nil
}

func (s *Store) SetPaymentMethodActive(_ context.Context, tenantID string, code string, active bool) (*domain.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	method, exists := s.methods[tenantID][code]
	if !exists {
		return nil, domain.ErrUnknownPaymentMethod
	}
	method.Active = active
	s.methods[tenantID][code] = method
	updated := method
	return &updated, nil
}

func (s *Store) CreateSession(_ context.Context, session domain.CashSession) (*domain.CashSession, error) {
	if strings.TrimSpace(session.TenantID) == "" || strings.TrimSpace(session.OperatorID) == "" {
		return nil, store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := openSessionKey(session.TenantID, session.OperatorID)
	if _, exists := s.openSessionByKey[key]; exists {
		return nil, domain.ErrSessionAlreadyOpen
	}
	if session.ID == "" {
		session.ID = xid.New("ses")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = domain.StorageTime(time.Now())
	}
	session.State = domain.SessionStateOpen
	session.OpeningDigital = session.OpeningDigital.Clone()
	if session.OpeningDigital == nil {
		session.OpeningDigital = domain.Snapshot{}
	}
	session.ClosedAt = nil
	session.CountedTotal = nil
	session.ExpectedTotal = nil
	session.Variance = nil
	session.ClosingSnapshot = nil
	session.OpenSeq = s.nextSeq()
	session.CloseSeq = 0

	s.sessionsByID[session.ID] = session
	s.openSessionByKey[key] = session.ID
	return cloneSession(session), nil
}

func (s *Store) GetSession(_ context.Context, tenantID string, id string) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessionsByID[id]
	if !exists || session.TenantID != tenantID {
		return nil, domain.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (s *Store) GetOpenSession(_ context.Context, tenantID string, operatorID string) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.openSessionByKey[openSessionKey(tenantID, operatorID)]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}
	session, exists := s.sessionsByID[id]
	if !exists || !session.IsOpen() {
		return nil, domain.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (s *Store) GetLastClosedSession(_ context.Context, tenantID string) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *domain.CashSession
	for _, session := range s.sessionsByID {
		if session.TenantID != tenantID || session.State != domain.SessionStateClosed {
			continue
		}
		if last == nil || session.CloseSeq > last.CloseSeq {
			candidate := session
			last = &candidate
		}
	}
	if last == nil {
		return nil, domain.ErrSessionNotFound
	}
	return cloneSession(*last), nil
}

func (s *Store) ListSessions(_ context.Context, tenantID string, window domain.TimeRange) ([]domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]domain.CashSession, 0, 16)
	for _, session := range s.sessionsByID {
		if session.TenantID != tenantID || !window.Contains(session.OpenedAt) {
			continue
		}
		sessions = append(sessions, *cloneSession(session))
	}
	slices.SortFunc(sessions, func(a, b domain.CashSession) int {
		if c := b.OpenedAt.Compare(a.OpenedAt); c != 0 {
			return c
		}
		return int(b.OpenSeq - a.OpenSeq)
	})
	return sessions, nil
}

func (s *Store) CloseSession(_ context.Context, tenantID string, id string, closedAt time.Time, settle store.SettleFunc) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessionsByID[id]
	if !exists || session.TenantID != tenantID {
		return nil, domain.ErrSessionNotFound
	}
	if !session.IsOpen() {
		return nil, domain.ErrSessionClosed
	}

	settlement, err := settle(s.ledgerLocked(session))
	if err != nil {
		return nil, err
	}

	if closedAt.IsZero() {
		closedAt = time.Now()
	}
	closedAt = domain.StorageTime(closedAt)
	counted := settlement.CountedTotal
	expected := settlement.ExpectedTotal
	variance := settlement.Variance
	session.State = domain.SessionStateClosed
	session.ClosedAt = &closedAt
	session.CountedTotal = &counted
	session.ExpectedTotal = &expected
	session.Variance = &variance
	session.ClosingSnapshot = settlement.ClosingSnapshot.Clone()
	if session.ClosingSnapshot == nil {
		session.ClosingSnapshot = domain.Snapshot{}
	}
	session.ClosingNotes = settlement.Notes
	session.CloseSeq = s.nextSeq()

	s.sessionsByID[id] = session
	delete(s.openSessionByKey, openSessionKey(session.TenantID, session.OperatorID))
	return cloneSession(session), nil
}

func (s *Store) CreateSalePayment(_ context.Context, payment domain.SalePayment) (*domain.SalePayment, error) {
	if strings.TrimSpace(payment.TenantID) == "" || strings.TrimSpace(payment.SessionID) == "" {
		return nil, store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpenLocked(payment.TenantID, payment.SessionID); err != nil {
		return nil, err
	}
	numberKey := paymentNumberKey(payment.TenantID, payment.Number)
	if _, taken := s.paymentNumbers[numberKey]; payment.Number != "" && taken {
		return nil, store.ErrDuplicateNumber
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
	payment.Seq = s.nextSeq()

	s.paymentsByID[payment.ID] = payment
	s.paymentsBySession[payment.SessionID] = append(s.paymentsBySession[payment.SessionID], payment.ID)
	if payment.Number != "" {
		s.paymentNumbers[numberKey] = payment.ID
	}
	created := payment
	return &created, nil
}

func (s *Store) CreateManualMovement(_ context.Context, movement domain.ManualMovement) (*domain.ManualMovement, error) {
	if strings.TrimSpace(movement.TenantID) == "" || strings.TrimSpace(movement.SessionID) == "" {
		return nil, store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpenLocked(movement.TenantID, movement.SessionID); err != nil {
		return nil, err
	}
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now()
	}
	movement.CreatedAt = domain.StorageTime(movement.CreatedAt)
	movement.Seq = s.nextSeq()

	s.movementsByID[movement.ID] = movement
	s.movementsBySession[movement.SessionID] = append(s.movementsBySession[movement.SessionID], movement.ID)
	created := movement
	return &created, nil
}

func (s *Store) GetSalePayment(_ context.Context, tenantID string, id string) (*domain.SalePayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payment, exists := s.paymentsByID[id]
	if !exists || payment.TenantID != tenantID {
		return nil, domain.ErrPaymentNotFound
	}
	return clonePayment(payment), nil
}

func (s *Store) VoidSalePayment(_ context.Context, tenantID string, id string, voidedBy string, at time.Time, window domain.TimeRange) (*domain.SalePayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, exists := s.paymentsByID[id]
	if !exists || payment.TenantID != tenantID {
		return nil, domain.ErrPaymentNotFound
	}
	if !window.Contains(payment.CreatedAt) {
		return nil, domain.ErrVoidWindowExpired
	}
	if payment.State == domain.PaymentStateVoided {
		return nil, domain.ErrAlreadyVoided
	}
	if session, ok := s.sessionsByID[payment.SessionID]; !ok || !session.IsOpen() {
		return nil, domain.ErrSessionClosed
	}

	voidedAt := domain.StorageTime(at)
	payment.State = domain.PaymentStateVoided
	payment.VoidedAt = &voidedAt
	payment.VoidedBy = voidedBy
	s.paymentsByID[id] = payment
	return clonePayment(payment), nil
}

func (s *Store) GetSessionLedger(_ context.Context, tenantID string, sessionID string) (*domain.SessionLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessionsByID[sessionID]
	if !exists || session.TenantID != tenantID {
		return nil, domain.ErrSessionNotFound
	}
	ledger := s.ledgerLocked(session)
	return &ledger, nil
}

func (s *Store) GetRangeLedger(_ context.Context, tenantID string, window domain.TimeRange) (*domain.RangeLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger := &domain.RangeLedger{}
	for _, session := range s.sessionsByID {
		if session.TenantID != tenantID {
			continue
		}
		closedInside := session.ClosedAt != nil && window.Contains(*session.ClosedAt)
		if window.Contains(session.OpenedAt) || closedInside {
			ledger.Sessions = append(ledger.Sessions, *cloneSession(session))
		}
	}
	for _, payment := range s.paymentsByID {
		if payment.TenantID == tenantID && window.Contains(payment.CreatedAt) {
			ledger.Payments = append(ledger.Payments, *clonePayment(payment))
		}
	}
	for _, movement := range s.movementsByID {
		if movement.TenantID == tenantID && window.Contains(movement.CreatedAt) {
			ledger.Movements = append(ledger.Movements, movement)
		}
	}
	slices.SortFunc(ledger.Sessions, func(a, b domain.CashSession) int { return int(a.OpenSeq - b.OpenSeq) })
	slices.SortFunc(ledger.Payments, func(a, b domain.SalePayment) int { return int(a.Seq - b.Seq) })
	slices.SortFunc(ledger.Movements, func(a, b domain.ManualMovement) int { return int(a.Seq - b.Seq) })
	return ledger, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, tenantID string, window domain.TimeRange, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.TenantID != tenantID || !window.Contains(entry.CreatedAt) {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" || strings.TrimSpace(user.TenantID) == "" {
		return store.ErrInvalidRecord
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidRecord
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) requireOpenLocked(tenantID, sessionID string) error {
	session, exists := s.sessionsByID[sessionID]
	if !exists || session.TenantID != tenantID {
		return domain.ErrSessionNotFound
	}
	if !session.IsOpen() {
		return domain.ErrSessionClosed
	}
	return nil
}

func (s *Store) ledgerLocked(session domain.CashSession) domain.SessionLedger {
	ledger := domain.SessionLedger{
		Session:   *cloneSession(session),
		Payments:  make([]domain.SalePayment, 0, len(s.paymentsBySession[session.ID])),
		Movements: make([]domain.ManualMovement, 0, len(s.movementsBySession[session.ID])),
	}
	for _, id := range s.paymentsBySession[session.ID] {
		ledger.Payments = append(ledger.Payments, *clonePayment(s.paymentsByID[id]))
	}
	for _, id := range s.movementsBySession[session.ID] {
		ledger.Movements = append(ledger.Movements, s.movementsByID[id])
	}
	return ledger
}

func openSessionKey(tenantID string, operatorID string) string {
	return tenantID + "::" + operatorID
}

func paymentNumberKey(tenantID string, number string) string {
	return tenantID + "::" + number
}

func cloneSession(src domain.CashSession) *domain.CashSession {
	dst := src
	dst.OpeningDigital = src.OpeningDigital.Clone()
	dst.ClosingSnapshot = src.ClosingSnapshot.Clone()
	if src.ClosedAt != nil {
		at := *src.ClosedAt
		dst.ClosedAt = &at
	}
	if src.CountedTotal != nil {
		v := *src.CountedTotal
		dst.CountedTotal = &v
	}
	if src.ExpectedTotal != nil {
		v := *src.ExpectedTotal
		dst.ExpectedTotal = &v
	}
	if src.Variance != nil {
		v := *src.Variance
		dst.Variance = &v
	}
	return &dst
}

func clonePayment(src domain.SalePayment) *domain.SalePayment {
	dst := src
	if src.VoidedAt != nil {
		at := *src.VoidedAt
		dst.VoidedAt = &at
	}
	return &dst
}
