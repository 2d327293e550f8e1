package service

import (
	"context"
	"fmt"
	"strings"

	"prisportal/backend/internal/domain"
	"prisportal/backend/internal/store"
	"prisportal/backend/internal/xid"
)

func contextType(raw domain.ContextType) (domain.ContextType, error) {
	t := domain.ContextType(strings.TrimSpace(string(raw)))
	if !t.Valid() {
		return "", store.Invalid("context_type", "must be contract, customer_price_group or campaign")
	}
	return t, nil
}

func contextPrefix(t domain.ContextType) string {
	switch t {
	case domain.ContextContract:
		return "ctr"
	case domain.ContextCustomerPriceGroup:
		return "cpg"
	default:
		return "cmp"
	}
}

func (s *Service) ListContexts(ctx context.Context, rawType domain.ContextType) ([]domain.PricingContext, error) {
	t, err := contextType(rawType)
	if err != nil {
		return nil, err
	}
	return s.repo.ListContexts(ctx, t)
}

func (s *Service) GetContext(ctx context.Context, rawType domain.ContextType, id string) (domain.PricingContext, error) {
	t, err := contextType(rawType)
	if err != nil {
		return domain.PricingContext{}, err
	}
	pc, err := s.repo.GetContext(ctx, t, strings.TrimSpace(id))
	if err != nil {
		return domain.PricingContext{}, err
	}
	return *pc, nil
}

func (s *Service) CreateContext(ctx context.Context, rawType domain.ContextType, req domain.ContextCreateRequest) (domain.PricingContext, error) {
	t, err := contextType(rawType)
	if err != nil {
		return domain.PricingContext{}, err
	}
	name, err := requireText("name", req.Name)
	if err != nil {
		return domain.PricingContext{}, err
	}
	from, err := parseDate("valid_from", req.ValidFrom)
	if err != nil {
		return domain.PricingContext{}, err
	}
	to, err := parseDate("valid_to", req.ValidTo)
	if err != nil {
		return domain.PricingContext{}, err
	}
	if err := checkWindow(from, to); err != nil {
		return domain.PricingContext{}, err
	}
	status := req.Status
	if status == "" {
		status = domain.ContextActive
	}
	if !status.Valid() {
		return domain.PricingContext{}, store.Invalid("status", "must be active, planned or expired")
	}
	if req.ExcludeFromCampaigns && t != domain.ContextContract {
		return domain.PricingContext{}, store.Invalid("exclude_from_campaigns", "only contracts can exclude campaigns")
	}

	saved, err := s.repo.CreateContext(ctx, domain.PricingContext{
		ID:                   xid.New(contextPrefix(t)),
		Type:                 t,
		Name:                 name,
		ValidFrom:            from,
		ValidTo:              to,
		Status:               status,
		ExcludeFromCampaigns: req.ExcludeFromCampaigns,
		CreatedAt:            s.now().UTC(),
	})
	if err != nil {
		return domain.PricingContext{}, err
	}
	s.logAudit(ctx, "context_create", string(t), saved.ID, fmt.Sprintf("name=%s,status=%s", saved.Name, saved.Status))
	return *saved, nil
}

func (s *Service) UpdateContext(ctx context.Context, rawType domain.ContextType, id string, req domain.ContextUpdateRequest) (domain.PricingContext, error) {
	existing, err := s.GetContext(ctx, rawType, id)
	if err != nil {
		return domain.PricingContext{}, err
	}

	updated := existing
	if req.Name != nil {
		name, err := requireText("name", *req.Name)
		if err != nil {
			return domain.PricingContext{}, err
		}
		updated.Name = name
	}
	if req.ValidFrom != nil {
		if updated.ValidFrom, err = parseDate("valid_from", *req.ValidFrom); err != nil {
			return domain.PricingContext{}, err
		}
	}
	if req.ValidTo != nil {
		if updated.ValidTo, err = parseDate("valid_to", *req.ValidTo); err != nil {
			return domain.PricingContext{}, err
		}
	}
	if err := checkWindow(updated.ValidFrom, updated.ValidTo); err != nil {
		return domain.PricingContext{}, err
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			return domain.PricingContext{}, store.Invalid("status", "must be active, planned or expired")
		}
		updated.Status = *req.Status
	}
	if req.ExcludeFromCampaigns != nil {
		if *req.ExcludeFromCampaigns && updated.Type != domain.ContextContract {
			return domain.PricingContext{}, store.Invalid("exclude_from_campaigns", "only contracts can exclude campaigns")
		}
		updated.ExcludeFromCampaigns = *req.ExcludeFromCampaigns
	}

	saved, err := s.repo.UpdateContext(ctx, updated)
	if err != nil {
		return domain.PricingContext{}, err
	}
	s.quotes.Invalidate(ctx)
	s.logAudit(ctx, "context_update", string(saved.Type), saved.ID, fmt.Sprintf("name=%s,status=%s,exclude_from_campaigns=%t", saved.Name, saved.Status, saved.ExcludeFromCampaigns))
	return *saved, nil
}
