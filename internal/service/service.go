package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"prisportal/backend/internal/cache"
	"prisportal/backend/internal/domain"
	"prisportal/backend/internal/events"
	"prisportal/backend/internal/pricing"
	"prisportal/backend/internal/quote"
	"prisportal/backend/internal/store"
	"prisportal/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo      store.Repository
	quotes    *quote.Engine
	publisher events.Publisher
	formatter pricing.Formatter
	logger    zerolog.Logger
	now       func() time.Time
}

func New(repo store.Repository, quotes *quote.Engine, publisher events.Publisher, formatter pricing.Formatter, logger zerolog.Logger) *Service {
	if quotes == nil {
		quotes = quote.NewEngine(repo, cache.NoopQuoteCache{}, 0, logger)
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}

	return &Service{
		repo:      repo,
		quotes:    quotes,
		publisher: publisher,
		formatter: formatter,
		logger:    logger.With().Str("component", "service").Logger(),
		now:       time.Now,
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) ListPriceChanges(ctx context.Context, entityID string, limit int) ([]domain.PriceChange, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListPriceChanges(ctx, strings.TrimSpace(entityID), limit)
}

func (s *Service) actorName(ctx context.Context) string {
	actor, ok := ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.Username) == "" {
		return "system"
	}
	return actor.Username
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: s.actorName(ctx),
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Str("entity_type", entityType).Str("entity_id", entityID).Msg("write audit log")
	}
}

// recordPriceChange writes one history row; unchanged values are skipped.
func (s *Service) recordPriceChange(ctx context.Context, entityType, entityID, productID, field string, oldValue, newValue decimal.Decimal) {
	if oldValue.Equal(newValue) {
		return
	}
	if err := s.repo.CreatePriceChange(ctx, domain.PriceChange{
		ID:         xid.New("pc"),
		EntityType: entityType,
		EntityID:   entityID,
		ProductID:  productID,
		Field:      field,
		OldValue:   oldValue,
		NewValue:   newValue,
		ChangedBy:  s.actorName(ctx),
		ChangedAt:  s.now().UTC(),
	}); err != nil {
		s.logger.Warn().Err(err).Str("entity_id", entityID).Str("field", field).Msg("write price change")
	}
}

func (s *Service) publish(ctx context.Context, event domain.PriceEvent) {
	event.Actor = s.actorName(ctx)
	event.At = s.now().UTC()
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event", event.Type).Str("rule_id", event.RuleID).Str("product_id", event.ProductID).Msg("publish price event")
	}
}

// priceChanged drops cached quotes and flags the products for a new sync.
func (s *Service) priceChanged(ctx context.Context, productIDs ...string) {
	s.quotes.Invalidate(ctx)
	for _, id := range productIDs {
		if id == "" {
			continue
		}
		if err := s.repo.SetProductSync(ctx, id, domain.SyncPending, nil); err != nil {
			s.logger.Warn().Err(err).Str("product_id", id).Msg("mark product pending")
		}
	}
}

func requireText(field string, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", store.Invalid(field, "is required")
	}
	return value, nil
}

func parseDate(field string, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(domain.DateLayout, raw)
	if err != nil {
		return nil, store.Invalid(field, "must be a date in YYYY-MM-DD form")
	}
	return &parsed, nil
}

func checkWindow(from, to *time.Time) error {
	if from != nil && to != nil && to.Before(*from) {
		return store.Invalid("valid_to", "must not be before valid_from")
	}
	return nil
}

func normalizeDiscountType(t domain.DiscountType) domain.DiscountType {
	switch strings.ToUpper(strings.TrimSpace(string(t))) {
	case "":
		return domain.DiscountPercent
	case "KR":
		return domain.DiscountAmount
	default:
		return domain.DiscountType(strings.TrimSpace(string(t)))
	}
}

func validateDiscount(typeField string, valueField string, dtype domain.DiscountType, value decimal.Decimal) error {
	if !dtype.Valid() {
		return store.Invalid(typeField, "must be % or KR")
	}
	if dtype == domain.DiscountPercent {
		if value.IsNegative() {
			return store.Invalid(valueField, "must not be negative")
		}
		if value.GreaterThan(decimal.NewFromInt(100)) {
			return store.Invalid(valueField, "must not exceed 100 percent")
		}
		return nil
	}
	return validateMoney(valueField, value)
}

// maxMoney is the largest amount a NUMERIC(12,2) column holds.
var maxMoney = decimal.RequireFromString("9999999999.99")

func validateMoney(field string, value decimal.Decimal) error {
	if value.IsNegative() {
		return store.Invalid(field, "must not be negative")
	}
	if pricing.RoundMoney(value).GreaterThan(maxMoney) {
		return store.Invalid(field, "must not exceed "+maxMoney.StringFixed(2))
	}
	return nil
}

func scopeInvalid(err error) error {
	var scopeErr *domain.ScopeError
	if errors.As(err, &scopeErr) {
		return store.Invalid(scopeErr.Field, scopeErr.Reason)
	}
	return err
}
