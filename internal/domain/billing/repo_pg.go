package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/frontdesk/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// -- Catalog --

type catalogRepoPG struct{ pool *pgxpool.Pool }

func NewCatalogRepoPG(pool *pgxpool.Pool) CatalogRepository {
	return &catalogRepoPG{pool: pool}
}

func (r *catalogRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

// ListActive returns active items in catalog order, which is also the order
// reconciliation prefers when two lines carry the same names.
func (r *catalogRepoPG) ListActive(ctx context.Context) ([]*CatalogItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, group_name, subgroup_name, detail_name, amount, active, sort_order, updated_at
		FROM catalog_item WHERE active = true ORDER BY sort_order, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*CatalogItem
	for rows.Next() {
		var it CatalogItem
		if err := rows.Scan(&it.ID, &it.GroupName, &it.SubgroupName, &it.DetailName,
			&it.Amount, &it.Active, &it.SortOrder, &it.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

func (r *catalogRepoPG) Upsert(ctx context.Context, item *CatalogItem) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO catalog_item (id, group_name, subgroup_name, detail_name, amount, active, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			group_name = EXCLUDED.group_name, subgroup_name = EXCLUDED.subgroup_name,
			detail_name = EXCLUDED.detail_name, amount = EXCLUDED.amount,
			active = EXCLUDED.active, sort_order = EXCLUDED.sort_order, updated_at = NOW()
		RETURNING updated_at`,
		item.ID, item.GroupName, item.SubgroupName, item.DetailName, item.Amount, item.Active, item.SortOrder,
	).Scan(&item.UpdatedAt)
}

// -- Billed items --

type billedItemRepoPG struct{ pool *pgxpool.Pool }

func NewBilledItemRepoPG(pool *pgxpool.Pool) BilledItemRepository {
	return &billedItemRepoPG{pool: pool}
}

func (r *billedItemRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

func (r *billedItemRepoPG) Create(ctx context.Context, item *BilledItem) error {
	item.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO billed_item (id, visit_id, group_name, subgroup_name, detail_name, amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING billed_at`,
		item.ID, item.VisitID, item.GroupName, item.SubgroupName, item.DetailName, item.Amount,
	).Scan(&item.BilledAt)
}

func (r *billedItemRepoPG) ListByVisit(ctx context.Context, visitID string) ([]*BilledItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_id, group_name, subgroup_name, detail_name, amount, billed_at
		FROM billed_item WHERE visit_id = $1 ORDER BY billed_at, id`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*BilledItem
	for rows.Next() {
		var it BilledItem
		if err := rows.Scan(&it.ID, &it.VisitID, &it.GroupName, &it.SubgroupName, &it.DetailName,
			&it.Amount, &it.BilledAt); err != nil {
			return nil, err
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}
