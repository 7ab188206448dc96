package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"washly/backend/internal/cache"
	"washly/backend/internal/domain"
	"washly/backend/internal/logger"
	"washly/backend/internal/store"
	"washly/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// TenantDirectory resolves per-tenant settings the cash engine depends on.
type TenantDirectory interface {
	Location(ctx context.Context, tenantID string) (*time.Location, error)
}

// FixedZone serves every tenant from a single timezone.
type FixedZone struct {
	Loc *time.Location
}

func (z FixedZone) Location(_ context.Context, _ string) (*time.Location, error) {
	if z.Loc == nil {
		return time.UTC, nil
	}
	return z.Loc, nil
}

type Options struct {
	MethodCache    cache.MethodCache
	Locker         cache.Locker
	Tenants        TenantDirectory
	Logger         *zap.Logger
	Clock          func() time.Time
	MethodCacheTTL time.Duration
	LockTTL        time.Duration
}

type Service struct {
	repo      store.Repository
	methods   cache.MethodCache
	locker    cache.Locker
	tenants   TenantDirectory
	log       *zap.Logger
	now       func() time.Time
	methodTTL time.Duration
	lockTTL   time.Duration
	validate  *validator.Validate
}

func New(repo store.Repository, opts Options) *Service {
	if opts.MethodCache == nil {
		opts.MethodCache = cache.NoopMethodCache{}
	}
	if opts.Locker == nil {
		opts.Locker = cache.NewLocalLocker()
	}
	if opts.Tenants == nil {
		opts.Tenants = FixedZone{Loc: time.UTC}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.MethodCacheTTL <= 0 {
		opts.MethodCacheTTL = time.Minute
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}

	return &Service{
		repo:      repo,
		methods:   opts.MethodCache,
		locker:    opts.Locker,
		tenants:   opts.Tenants,
		log:       opts.Logger.Named("service"),
		now:       opts.Clock,
		methodTTL: opts.MethodCacheTTL,
		lockTTL:   opts.LockTTL,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" || actor.TenantID == "" {
		return domain.Actor{}, domain.ErrUnauthenticated
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.Role != domain.RoleAdmin {
		return domain.Actor{}, fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	return actor, nil
}

// canOperate reports whether actor may mutate a session owned by operatorID.
func canOperate(actor domain.Actor, operatorID string) bool {
	return actor.Role == domain.RoleAdmin || actor.Username == operatorID
}

func (s *Service) validateRequest(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		parts := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(parts, ", "))
	}
	return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
}

func (s *Service) location(ctx context.Context, tenantID string) (*time.Location, error) {
	loc, err := s.tenants.Location(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve tenant timezone: %w", err)
	}
	return loc, nil
}

func (s *Service) logFor(ctx context.Context) *zap.Logger {
	if log := logger.FromContext(ctx); log.Core().Enabled(zap.ErrorLevel) {
		return log
	}
	return s.log
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		TenantID:      actor.TenantID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		s.logFor(ctx).Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	loc, err := s.location(ctx, actor.TenantID)
	if err != nil {
		return nil, err
	}
	window, err := domain.ParseDateRange(loc, date, date, s.now())
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, actor.TenantID, window, limit)
}
