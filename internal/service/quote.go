package service

import (
	"context"
	"fmt"
	"strings"

	"prisportal/backend/internal/domain"
	"prisportal/backend/internal/store"
)

func (s *Service) Quote(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
	productID, err := requireText("product_id", req.ProductID)
	if err != nil {
		return domain.Quote{}, err
	}
	if req.Quantity < 0 {
		return domain.Quote{}, store.Invalid("quantity", "must not be negative")
	}
	req.ProductID = productID

	q, err := s.quotes.Quote(ctx, req)
	if err != nil {
		return domain.Quote{}, err
	}
	return *q, nil
}

// SyncProduct announces the product's default price downstream. The product
// is marked synced only after the event went out; a failed publish marks it
// as errored and is returned.
func (s *Service) SyncProduct(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	q, err := s.quotes.Quote(ctx, domain.QuoteRequest{ProductID: productID})
	if err != nil {
		return domain.Product{}, err
	}

	now := s.now().UTC()
	event := domain.PriceEvent{
		Type:       domain.EventProductSynced,
		ProductID:  productID,
		NetPrice:   q.NetPrice,
		FinalPrice: q.FinalPrice,
		Actor:      s.actorName(ctx),
		At:         now,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("product_id", productID).Msg("publish product sync")
		if markErr := s.repo.SetProductSync(ctx, productID, domain.SyncError, nil); markErr != nil {
			s.logger.Warn().Err(markErr).Str("product_id", productID).Msg("mark product sync error")
		}
		return domain.Product{}, fmt.Errorf("sync product %s: %w", productID, err)
	}

	if err := s.repo.SetProductSync(ctx, productID, domain.SyncSynced, &now); err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, "product_sync", "product", productID, fmt.Sprintf("net=%s,final=%s", q.NetPrice.StringFixed(2), q.FinalPrice.StringFixed(2)))
	return s.GetProduct(ctx, productID)
}
