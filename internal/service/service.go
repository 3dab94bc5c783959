package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"repairpos/backend/internal/cache"
	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
	"repairpos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	defaultLowStockThreshold = 5
	defaultSaleCacheTTL      = 5 * time.Minute
	maxCheckoutAttempts      = 5
)

type Service struct {
	repo              store.Repository
	sales             cache.SaleCache
	saleCacheTTL      time.Duration
	lowStockThreshold int
}

type Options struct {
	SaleCache         cache.SaleCache
	SaleCacheTTL      time.Duration
	LowStockThreshold int
}

func New(repo store.Repository, opts Options) *Service {
	if opts.SaleCache == nil {
		opts.SaleCache = cache.NoopSaleCache{}
	}
	if opts.SaleCacheTTL <= 0 {
		opts.SaleCacheTTL = defaultSaleCacheTTL
	}
	if opts.LowStockThreshold <= 0 {
		opts.LowStockThreshold = defaultLowStockThreshold
	}

	return &Service{
		repo:              repo,
		sales:             opts.SaleCache,
		saleCacheTTL:      opts.SaleCacheTTL,
		lowStockThreshold: opts.LowStockThreshold,
	}
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%s role required", strings.Join(roles, " or "))
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("%s role required", strings.Join(roles, " or "))
}

// IsRoleError reports whether err came from a failed role check.
func IsRoleError(err error) bool {
	return err != nil && strings.HasSuffix(err.Error(), "role required")
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Username
	}
	return "system"
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func parseDay(date string) (time.Time, error) {
	if strings.TrimSpace(date) == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	parsed, err := time.Parse("2006-01-02", strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidTransaction)
	}
	return parsed.UTC(), nil
}
