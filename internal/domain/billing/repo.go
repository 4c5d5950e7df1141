package billing

import (
	"context"
)

type CatalogRepository interface {
	ListActive(ctx context.Context) ([]*CatalogItem, error)
	Upsert(ctx context.Context, item *CatalogItem) error
}

type BilledItemRepository interface {
	Create(ctx context.Context, item *BilledItem) error
	ListByVisit(ctx context.Context, visitID string) ([]*BilledItem, error)
}
