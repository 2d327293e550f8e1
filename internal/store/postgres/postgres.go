package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"prisportal/backend/internal/domain"
	"prisportal/backend/internal/store"
	"prisportal/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

type scanner interface {
	Scan(dest ...any) error
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// DB exposes the pool for schema migrations.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, code, name FROM departments ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Department, 0, 16)
	for rows.Next() {
		var dept domain.Department
		if err := rows.Scan(&dept.ID, &dept.Code, &dept.Name); err != nil {
			return nil, err
		}
		result = append(result, dept)
	}
	return result, rows.Err()
}

func (s *Store) CreateDepartment(ctx context.Context, dept domain.Department) (*domain.Department, error) {
	if dept.ID == "" {
		dept.ID = xid.New("dept")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO departments (id, code, name) VALUES ($1,$2,$3)`, dept.ID, dept.Code, dept.Name)
	if err != nil {
		return nil, mapWriteError(err)
	}
	created := dept
	return &created, nil
}

const groupColumns = `g.id, g.code, g.name, g.department_id, d.name`

func scanGroup(row scanner) (domain.ProductGroup, error) {
	var group domain.ProductGroup
	err := row.Scan(&group.ID, &group.Code, &group.Name, &group.DepartmentID, &group.DepartmentName)
	return group, err
}

func (s *Store) ListProductGroups(ctx context.Context) ([]domain.ProductGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+groupColumns+`
		FROM product_groups g
		JOIN departments d ON d.id = g.department_id
		ORDER BY g.code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.ProductGroup, 0, 32)
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, group)
	}
	return result, rows.Err()
}

func (s *Store) GetProductGroup(ctx context.Context, id string) (*domain.ProductGroup, error) {
	group, err := scanGroup(s.db.QueryRowContext(ctx, `
		SELECT `+groupColumns+`
		FROM product_groups g
		JOIN departments d ON d.id = g.department_id
		WHERE g.id = $1
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &group, nil
}

func (s *Store) CreateProductGroup(ctx context.Context, group domain.ProductGroup) (*domain.ProductGroup, error) {
	if group.ID == "" {
		group.ID = xid.New("grp")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_groups (id, code, name, department_id) VALUES ($1,$2,$3,$4)
	`, group.ID, group.Code, group.Name, group.DepartmentID)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return s.GetProductGroup(ctx, group.ID)
}

const productColumns = `
	p.id, p.code, p.name, p.product_group_id, g.name, g.department_id, d.name,
	p.purchase_price, COALESCE(p.primary_supplier_id, ''), p.sync_status, p.last_sync
`

const productFrom = `
	FROM products p
	JOIN product_groups g ON g.id = p.product_group_id
	JOIN departments d ON d.id = g.department_id
`

func scanProduct(row scanner) (domain.Product, error) {
	var (
		product  domain.Product
		lastSync sql.NullTime
	)
	err := row.Scan(
		&product.ID, &product.Code, &product.Name, &product.ProductGroupID, &product.ProductGroupName,
		&product.DepartmentID, &product.DepartmentName, &product.PurchasePrice, &product.PrimarySupplierID,
		&product.SyncStatus, &lastSync,
	)
	if err != nil {
		return product, err
	}
	if lastSync.Valid {
		t := lastSync.Time.UTC()
		product.LastSync = &t
	}
	return product, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+productFrom+` ORDER BY p.code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Product, 0, 128)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, product)
	}
	return result, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+productFrom+` WHERE p.id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.SyncStatus == "" {
		product.SyncStatus = domain.SyncPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, code, name, product_group_id, purchase_price, sync_status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
	`, product.ID, product.Code, product.Name, product.ProductGroupID, product.PurchasePrice, product.SyncStatus)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, product_group_id = $3, purchase_price = $4, sync_status = $5, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.ProductGroupID, product.PurchasePrice, product.SyncStatus)
	if err != nil {
		return nil, mapWriteError(err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) SetProductSync(ctx context.Context, productID string, status domain.SyncStatus, at *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET sync_status = $2, last_sync = COALESCE($3, last_sync), updated_at = now()
		WHERE id = $1
	`, productID, status, nullTime(at))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, code, name, created_at FROM suppliers ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var supplier domain.Supplier
		if err := rows.Scan(&supplier.ID, &supplier.Code, &supplier.Name, &supplier.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, supplier)
	}
	return result, rows.Err()
}

func (s *Store) GetSupplier(ctx context.Context, id string) (*domain.Supplier, error) {
	var supplier domain.Supplier
	err := s.db.QueryRowContext(ctx, `SELECT id, code, name, created_at FROM suppliers WHERE id = $1`, id).
		Scan(&supplier.ID, &supplier.Code, &supplier.Name, &supplier.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &supplier, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, code, name, created_at) VALUES ($1,$2,$3,$4)
	`, supplier.ID, supplier.Code, supplier.Name, supplier.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	created := supplier
	return &created, nil
}

const productSupplierColumns = `
	ps.id, ps.product_id, ps.supplier_id, s.code, s.name,
	ps.base_price, ps.discount_type, ps.discount_value, ps.is_primary
`

func scanProductSupplier(row scanner) (domain.ProductSupplier, error) {
	var ps domain.ProductSupplier
	err := row.Scan(&ps.ID, &ps.ProductID, &ps.SupplierID, &ps.SupplierCode, &ps.SupplierName,
		&ps.BasePrice, &ps.DiscountType, &ps.DiscountValue, &ps.IsPrimary)
	return ps, err
}

func (s *Store) ListProductSuppliers(ctx context.Context, productID string) ([]domain.ProductSupplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productSupplierColumns+`
		FROM product_suppliers ps
		JOIN suppliers s ON s.id = ps.supplier_id
		WHERE ps.product_id = $1
		ORDER BY ps.is_primary DESC, s.code
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.ProductSupplier, 0, 4)
	for rows.Next() {
		ps, err := scanProductSupplier(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ps)
	}
	return result, rows.Err()
}

func (s *Store) GetProductSupplier(ctx context.Context, id string) (*domain.ProductSupplier, error) {
	ps, err := scanProductSupplier(s.db.QueryRowContext(ctx, `
		SELECT `+productSupplierColumns+`
		FROM product_suppliers ps
		JOIN suppliers s ON s.id = ps.supplier_id
		WHERE ps.id = $1
	`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &ps, nil
}

// CreateProductSupplier makes the row primary when the product has no other supplier.
func (s *Store) CreateProductSupplier(ctx context.Context, ps domain.ProductSupplier) (*domain.ProductSupplier, error) {
	if ps.ID == "" {
		ps.ID = xid.New("ps")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var lockedID string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM products WHERE id = $1 FOR UPDATE`, ps.ProductID).Scan(&lockedID); err != nil {
		return nil, notFound(err)
	}
	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM product_suppliers WHERE product_id = $1`, ps.ProductID).Scan(&existing); err != nil {
		return nil, err
	}
	ps.IsPrimary = existing == 0

	_, err = tx.ExecContext(ctx, `
		INSERT INTO product_suppliers (id, product_id, supplier_id, base_price, discount_type, discount_value, is_primary)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, ps.ID, ps.ProductID, ps.SupplierID, ps.BasePrice, ps.DiscountType, ps.DiscountValue, ps.IsPrimary)
	if err != nil {
		return nil, mapWriteError(err)
	}
	if ps.IsPrimary {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET primary_supplier_id = $2, updated_at = now() WHERE id = $1
		`, ps.ProductID, ps.ID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetProductSupplier(ctx, ps.ID)
}

func (s *Store) UpdateProductSupplier(ctx context.Context, ps domain.ProductSupplier) (*domain.ProductSupplier, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE product_suppliers
		SET base_price = $2, discount_type = $3, discount_value = $4
		WHERE id = $1
	`, ps.ID, ps.BasePrice, ps.DiscountType, ps.DiscountValue)
	if err != nil {
		return nil, mapWriteError(err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	return s.GetProductSupplier(ctx, ps.ID)
}

// DeleteProductSupplier relies on ON DELETE SET NULL for the product back-reference.
func (s *Store) DeleteProductSupplier(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM product_suppliers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) SetPrimarySupplier(ctx context.Context, productID string, supplierID string) (*domain.ProductSupplier, error) {
	const op = "set_primary_supplier"

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var rowID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM product_suppliers WHERE product_id = $1 AND supplier_id = $2 FOR UPDATE
	`, productID, supplierID).Scan(&rowID)
	if err != nil {
		return nil, &store.TxError{Op: op, Err: notFound(err)}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE product_suppliers SET is_primary = false WHERE product_id = $1 AND is_primary
	`, productID); err != nil {
		return nil, &store.TxError{Op: op, Err: err}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE product_suppliers SET is_primary = true WHERE id = $1
	`, rowID); err != nil {
		return nil, &store.TxError{Op: op, Err: err}
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE products SET primary_supplier_id = $2, updated_at = now() WHERE id = $1
	`, productID, rowID)
	if err != nil {
		return nil, &store.TxError{Op: op, Err: err}
	}
	if err := requireRow(res); err != nil {
		return nil, &store.TxError{Op: op, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &store.TxError{Op: op, Err: err}
	}
	return s.GetProductSupplier(ctx, rowID)
}

const contextColumns = `id, context_type, name, valid_from, valid_to, status, exclude_from_campaigns, created_at`

func scanContext(row scanner) (domain.PricingContext, error) {
	var (
		pc       domain.PricingContext
		from, to sql.NullTime
	)
	if err := row.Scan(&pc.ID, &pc.Type, &pc.Name, &from, &to, &pc.Status, &pc.ExcludeFromCampaigns, &pc.CreatedAt); err != nil {
		return pc, err
	}
	pc.ValidFrom = datePtr(from)
	pc.ValidTo = datePtr(to)
	return pc, nil
}

func (s *Store) ListContexts(ctx context.Context, contextType domain.ContextType) ([]domain.PricingContext, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contextColumns+`
		FROM pricing_contexts
		WHERE context_type = $1
		ORDER BY name, id
	`, contextType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.PricingContext, 0, 16)
	for rows.Next() {
		pc, err := scanContext(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pc)
	}
	return result, rows.Err()
}

func (s *Store) GetContext(ctx context.Context, contextType domain.ContextType, id string) (*domain.PricingContext, error) {
	pc, err := scanContext(s.db.QueryRowContext(ctx, `
		SELECT `+contextColumns+` FROM pricing_contexts WHERE context_type = $1 AND id = $2
	`, contextType, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &pc, nil
}

func (s *Store) CreateContext(ctx context.Context, pc domain.PricingContext) (*domain.PricingContext, error) {
	if pc.ID == "" {
		pc.ID = xid.New(contextPrefix(pc.Type))
	}
	if pc.CreatedAt.IsZero() {
		pc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pricing_contexts (id, context_type, name, valid_from, valid_to, status, exclude_from_campaigns, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, pc.ID, pc.Type, pc.Name, nullDate(pc.ValidFrom), nullDate(pc.ValidTo), pc.Status, pc.ExcludeFromCampaigns, pc.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return s.GetContext(ctx, pc.Type, pc.ID)
}

func (s *Store) UpdateContext(ctx context.Context, pc domain.PricingContext) (*domain.PricingContext, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pricing_contexts
		SET name = $3, valid_from = $4, valid_to = $5, status = $6, exclude_from_campaigns = $7
		WHERE context_type = $1 AND id = $2
	`, pc.Type, pc.ID, pc.Name, nullDate(pc.ValidFrom), nullDate(pc.ValidTo), pc.Status, pc.ExcludeFromCampaigns)
	if err != nil {
		return nil, mapWriteError(err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	return s.GetContext(ctx, pc.Type, pc.ID)
}

const ruleColumns = `
	id, context_type, context_id, product_type,
	COALESCE(product_id, ''), COALESCE(product_group_id, ''), COALESCE(department_id, ''),
	base_price, discount_type, discount_value, margin_percentage, final_price,
	valid_from, valid_to, quantity_threshold, excluded, campaign_whitelist, created_at, updated_at
`

func scanRule(row scanner) (domain.PricingRule, error) {
	var (
		rule                       domain.PricingRule
		productType                string
		productID, groupID, deptID string
		from, to                   sql.NullTime
		threshold                  sql.NullInt64
	)
	err := row.Scan(
		&rule.ID, &rule.ContextType, &rule.ContextID, &productType,
		&productID, &groupID, &deptID,
		&rule.BasePrice, &rule.DiscountType, &rule.DiscountValue, &rule.MarginPercentage, &rule.FinalPrice,
		&from, &to, &threshold, &rule.Excluded, &rule.CampaignWhitelist, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return rule, err
	}
	scope, err := domain.ScopeFromFields(productType, productID, groupID, deptID)
	if err != nil {
		return rule, fmt.Errorf("pricing rule %s: %w", rule.ID, err)
	}
	rule.Scope = scope
	rule.ValidFrom = datePtr(from)
	rule.ValidTo = datePtr(to)
	if threshold.Valid {
		v := int(threshold.Int64)
		rule.QuantityThreshold = &v
	}
	return rule, nil
}

func (s *Store) FindRules(ctx context.Context, contextType domain.ContextType, contextID string) ([]domain.PricingRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM pricing_rules
		WHERE context_type = $1 AND context_id = $2
		ORDER BY CASE product_type
			WHEN 'single' THEN 0 WHEN 'product_group' THEN 1 WHEN 'department' THEN 2 ELSE 3 END,
			COALESCE(product_id, product_group_id, department_id, ''), id
	`, contextType, contextID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.PricingRule, 0, 32)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}

func (s *Store) FindProductRules(ctx context.Context, productID string) ([]domain.PricingRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM pricing_rules
		WHERE product_type = 'single' AND product_id = $1
		ORDER BY context_type, context_id, id
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.PricingRule, 0, 4)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}

func (s *Store) GetRule(ctx context.Context, id string) (*domain.PricingRule, error) {
	rule, err := scanRule(s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM pricing_rules WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &rule, nil
}

func (s *Store) CreateRule(ctx context.Context, rule domain.PricingRule) (*domain.PricingRule, error) {
	if rule.ID == "" {
		rule.ID = xid.New("rule")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pricing_rules (
			id, context_type, context_id, product_type, product_id, product_group_id, department_id,
			base_price, discount_type, discount_value, margin_percentage, final_price,
			valid_from, valid_to, quantity_threshold, excluded, campaign_whitelist, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,now(),now())
	`, rule.ID, rule.ContextType, rule.ContextID, string(rule.Scope.Kind()),
		nullIfEmpty(rule.Scope.ProductID()), nullIfEmpty(rule.Scope.ProductGroupID()), nullIfEmpty(rule.Scope.DepartmentID()),
		rule.BasePrice, rule.DiscountType, rule.DiscountValue, rule.MarginPercentage, rule.FinalPrice,
		nullDate(rule.ValidFrom), nullDate(rule.ValidTo), nullInt(rule.QuantityThreshold), rule.Excluded, rule.CampaignWhitelist)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return s.GetRule(ctx, rule.ID)
}

func (s *Store) UpdateRule(ctx context.Context, rule domain.PricingRule) (*domain.PricingRule, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pricing_rules
		SET product_type = $2, product_id = $3, product_group_id = $4, department_id = $5,
			base_price = $6, discount_type = $7, discount_value = $8, margin_percentage = $9, final_price = $10,
			valid_from = $11, valid_to = $12, quantity_threshold = $13, excluded = $14, campaign_whitelist = $15,
			updated_at = now()
		WHERE id = $1
	`, rule.ID, string(rule.Scope.Kind()),
		nullIfEmpty(rule.Scope.ProductID()), nullIfEmpty(rule.Scope.ProductGroupID()), nullIfEmpty(rule.Scope.DepartmentID()),
		rule.BasePrice, rule.DiscountType, rule.DiscountValue, rule.MarginPercentage, rule.FinalPrice,
		nullDate(rule.ValidFrom), nullDate(rule.ValidTo), nullInt(rule.QuantityThreshold), rule.Excluded, rule.CampaignWhitelist)
	if err != nil {
		return nil, mapWriteError(err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	return s.GetRule(ctx, rule.ID)
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pricing_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

const surchargeColumns = `id, name, description, cost_type, cost_value, type, source, sort_order, is_active, created_at`

func scanSurcharge(row scanner) (domain.Surcharge, error) {
	var sc domain.Surcharge
	err := row.Scan(&sc.ID, &sc.Name, &sc.Description, &sc.CostType, &sc.CostValue, &sc.Type, &sc.Source,
		&sc.SortOrder, &sc.IsActive, &sc.CreatedAt)
	return sc, err
}

func (s *Store) ListSurcharges(ctx context.Context) ([]domain.Surcharge, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+surchargeColumns+` FROM surcharges ORDER BY sort_order, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Surcharge, 0, 32)
	for rows.Next() {
		sc, err := scanSurcharge(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sc)
	}
	return result, rows.Err()
}

func (s *Store) GetSurcharge(ctx context.Context, id string) (*domain.Surcharge, error) {
	sc, err := scanSurcharge(s.db.QueryRowContext(ctx, `SELECT `+surchargeColumns+` FROM surcharges WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &sc, nil
}

// CreateSurcharge appends the surcharge at the end of the sequence.
func (s *Store) CreateSurcharge(ctx context.Context, sc domain.Surcharge) (*domain.Surcharge, error) {
	if sc.ID == "" {
		sc.ID = xid.New("sur")
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `LOCK TABLE surcharges IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO surcharges (id, name, description, cost_type, cost_value, type, source, sort_order, is_active, created_at)
		SELECT $1,$2,$3,$4,$5,$6,$7, COALESCE(MAX(sort_order), -1) + 1, $8, $9 FROM surcharges
	`, sc.ID, sc.Name, sc.Description, sc.CostType, sc.CostValue, sc.Type, sc.Source, sc.IsActive, sc.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetSurcharge(ctx, sc.ID)
}

func (s *Store) UpdateSurcharge(ctx context.Context, sc domain.Surcharge) (*domain.Surcharge, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE surcharges
		SET name = $2, description = $3, cost_type = $4, cost_value = $5, source = $6, is_active = $7
		WHERE id = $1
	`, sc.ID, sc.Name, sc.Description, sc.CostType, sc.CostValue, sc.Source, sc.IsActive)
	if err != nil {
		return nil, mapWriteError(err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	return s.GetSurcharge(ctx, sc.ID)
}

// DeleteSurcharge removes the surcharge with its links and closes the gap in the sequence.
func (s *Store) DeleteSurcharge(ctx context.Context, id string) error {
	const op = "delete_surcharge"

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `LOCK TABLE surcharges IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return &store.TxError{Op: op, Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM product_surcharges WHERE surcharge_id = $1`, id); err != nil {
		return &store.TxError{Op: op, Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM supplier_surcharges WHERE surcharge_id = $1`, id); err != nil {
		return &store.TxError{Op: op, Err: err}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM surcharges WHERE id = $1`, id)
	if err != nil {
		return &store.TxError{Op: op, Err: err}
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE surcharges s
		SET sort_order = ranked.position
		FROM (SELECT id, ROW_NUMBER() OVER (ORDER BY sort_order, id) - 1 AS position FROM surcharges) ranked
		WHERE s.id = ranked.id AND s.sort_order <> ranked.position
	`); err != nil {
		return &store.TxError{Op: op, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &store.TxError{Op: op, Err: err}
	}
	return nil
}

func (s *Store) UpdateSurchargeSortOrder(ctx context.Context, items []domain.SortAssignment) error {
	const op = "update_sort_order"

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, item := range items {
		res, err := tx.ExecContext(ctx, `UPDATE surcharges SET sort_order = $2 WHERE id = $1`, item.ID, item.SortOrder)
		if err != nil {
			return &store.TxError{Op: op, Err: err}
		}
		if err := requireRow(res); err != nil {
			return &store.TxError{Op: op, Err: fmt.Errorf("surcharge %s: %w", item.ID, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &store.TxError{Op: op, Err: err}
	}
	return nil
}

func (s *Store) GetSurchargeRelationshipCounts(ctx context.Context, id string) (domain.RelationshipCounts, error) {
	var counts domain.RelationshipCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM product_surcharges WHERE surcharge_id = s.id),
			(SELECT count(*) FROM supplier_surcharges WHERE surcharge_id = s.id)
		FROM surcharges s
		WHERE s.id = $1
	`, id).Scan(&counts.ProductCount, &counts.SupplierCount)
	if err != nil {
		return counts, notFound(err)
	}
	return counts, nil
}

func (s *Store) CascadeDeleteSurchargeProducts(ctx context.Context, id string) ([]string, error) {
	return s.deleteLinks(ctx, `DELETE FROM product_surcharges WHERE surcharge_id = $1 RETURNING product_id`, id)
}

func (s *Store) CascadeDeleteSurchargeSuppliers(ctx context.Context, id string) ([]string, error) {
	return s.deleteLinks(ctx, `DELETE FROM supplier_surcharges WHERE surcharge_id = $1 RETURNING supplier_id`, id)
}

// deleteLinks runs a DELETE ... RETURNING and collects the unlinked ids, sorted.
func (s *Store) deleteLinks(ctx context.Context, query string, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	removed := make([]string, 0, 4)
	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return nil, err
		}
		removed = append(removed, target)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Sort(removed)
	return removed, nil
}

// ChangeSurchargeType removes the links of the other scope, then writes the
// new type with the remaining fields, inside one transaction.
func (s *Store) ChangeSurchargeType(ctx context.Context, sc domain.Surcharge) (*domain.Surcharge, error) {
	const op = "change_surcharge_type"

	var staleLinks string
	switch sc.Type {
	case domain.SurchargeSupplier:
		staleLinks = `DELETE FROM product_surcharges WHERE surcharge_id = $1`
	case domain.SurchargeProduct:
		staleLinks = `DELETE FROM supplier_surcharges WHERE surcharge_id = $1`
	default:
		return nil, &store.TxError{Op: op, Err: store.Invalid("type", "must be product or supplier")}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT type FROM surcharges WHERE id = $1 FOR UPDATE`, sc.ID).Scan(&current); err != nil {
		return nil, &store.TxError{Op: op, Err: notFound(err)}
	}
	if _, err := tx.ExecContext(ctx, staleLinks, sc.ID); err != nil {
		return nil, &store.TxError{Op: op, Err: err}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE surcharges
		SET type = $2, name = $3, description = $4, cost_type = $5, cost_value = $6, source = $7, is_active = $8
		WHERE id = $1
	`, sc.ID, sc.Type, sc.Name, sc.Description, sc.CostType, sc.CostValue, sc.Source, sc.IsActive); err != nil {
		return nil, &store.TxError{Op: op, Err: mapWriteError(err)}
	}

	if err := tx.Commit(); err != nil {
		return nil, &store.TxError{Op: op, Err: err}
	}
	return s.GetSurcharge(ctx, sc.ID)
}

func (s *Store) ListProductSurcharges(ctx context.Context, productID string) ([]domain.ProductSurcharge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT surcharge_id, product_id, created_at FROM product_surcharges
		WHERE product_id = $1
		ORDER BY surcharge_id
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.ProductSurcharge, 0, 4)
	for rows.Next() {
		var link domain.ProductSurcharge
		if err := rows.Scan(&link.SurchargeID, &link.ProductID, &link.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, link)
	}
	return result, rows.Err()
}

func (s *Store) CreateProductSurcharge(ctx context.Context, surchargeID string, productID string) (*domain.ProductSurcharge, error) {
	var link domain.ProductSurcharge
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO product_surcharges (surcharge_id, product_id, created_at)
		SELECT id, $2, now() FROM surcharges WHERE id = $1 AND type = 'product'
		RETURNING surcharge_id, product_id, created_at
	`, surchargeID, productID).Scan(&link.SurchargeID, &link.ProductID, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.Invalid("surcharge_id", "is not an existing product surcharge")
		}
		return nil, mapWriteError(err)
	}
	return &link, nil
}

func (s *Store) DeleteProductSurcharge(ctx context.Context, surchargeID string, productID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM product_surcharges WHERE surcharge_id = $1 AND product_id = $2
	`, surchargeID, productID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) ListSupplierSurcharges(ctx context.Context, supplierID string) ([]domain.SupplierSurcharge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT supplier_id, surcharge_id, created_at FROM supplier_surcharges
		WHERE supplier_id = $1
		ORDER BY surcharge_id
	`, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.SupplierSurcharge, 0, 4)
	for rows.Next() {
		var link domain.SupplierSurcharge
		if err := rows.Scan(&link.SupplierID, &link.SurchargeID, &link.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, link)
	}
	return result, rows.Err()
}

func (s *Store) CreateSupplierSurcharge(ctx context.Context, surchargeID string, supplierID string) (*domain.SupplierSurcharge, error) {
	var link domain.SupplierSurcharge
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO supplier_surcharges (supplier_id, surcharge_id, created_at)
		SELECT $2, id, now() FROM surcharges WHERE id = $1 AND type = 'supplier'
		RETURNING supplier_id, surcharge_id, created_at
	`, surchargeID, supplierID).Scan(&link.SupplierID, &link.SurchargeID, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.Invalid("surcharge_id", "is not an existing supplier surcharge")
		}
		return nil, mapWriteError(err)
	}
	return &link, nil
}

func (s *Store) DeleteSupplierSurcharge(ctx context.Context, surchargeID string, supplierID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM supplier_surcharges WHERE surcharge_id = $1 AND supplier_id = $2
	`, surchargeID, supplierID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

const otherCostColumns = `id, name, cost_type, cost_value, is_active, created_at`

func scanOtherCost(row scanner) (domain.OtherCost, error) {
	var cost domain.OtherCost
	err := row.Scan(&cost.ID, &cost.Name, &cost.CostType, &cost.CostValue, &cost.IsActive, &cost.CreatedAt)
	return cost, err
}

func (s *Store) ListOtherCosts(ctx context.Context) ([]domain.OtherCost, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+otherCostColumns+` FROM other_costs ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.OtherCost, 0, 8)
	for rows.Next() {
		cost, err := scanOtherCost(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cost)
	}
	return result, rows.Err()
}

func (s *Store) GetOtherCost(ctx context.Context, id string) (*domain.OtherCost, error) {
	cost, err := scanOtherCost(s.db.QueryRowContext(ctx, `SELECT `+otherCostColumns+` FROM other_costs WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &cost, nil
}

func (s *Store) CreateOtherCost(ctx context.Context, cost domain.OtherCost) (*domain.OtherCost, error) {
	if cost.ID == "" {
		cost.ID = xid.New("oc")
	}
	if cost.CreatedAt.IsZero() {
		cost.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO other_costs (id, name, cost_type, cost_value, is_active, created_at) VALUES ($1,$2,$3,$4,$5,$6)
	`, cost.ID, cost.Name, cost.CostType, cost.CostValue, cost.IsActive, cost.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	created := cost
	return &created, nil
}

func (s *Store) UpdateOtherCost(ctx context.Context, cost domain.OtherCost) (*domain.OtherCost, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE other_costs SET name = $2, cost_type = $3, cost_value = $4, is_active = $5 WHERE id = $1
	`, cost.ID, cost.Name, cost.CostType, cost.CostValue, cost.IsActive)
	if err != nil {
		return nil, mapWriteError(err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	return s.GetOtherCost(ctx, cost.ID)
}

func (s *Store) DeleteOtherCost(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM other_costs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) CreatePriceChange(ctx context.Context, entry domain.PriceChange) error {
	if entry.ID == "" {
		entry.ID = xid.New("pc")
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_changes (id, entity_type, entity_id, product_id, field, old_value, new_value, changed_by, changed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.EntityType, entry.EntityID, nullIfEmpty(entry.ProductID), entry.Field,
		entry.OldValue, entry.NewValue, entry.ChangedBy, entry.ChangedAt)
	return err
}

func (s *Store) ListPriceChanges(ctx context.Context, entityID string, limit int) ([]domain.PriceChange, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, COALESCE(product_id, ''), field, old_value, new_value, changed_by, changed_at
		FROM price_changes
		WHERE $1 = '' OR entity_id = $1 OR product_id = $1
		ORDER BY changed_at DESC, id DESC
		LIMIT $2
	`, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.PriceChange, 0, limit)
	for rows.Next() {
		var entry domain.PriceChange
		if err := rows.Scan(&entry.ID, &entry.EntityType, &entry.EntityID, &entry.ProductID, &entry.Field,
			&entry.OldValue, &entry.NewValue, &entry.ChangedBy, &entry.ChangedAt); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.ActorUsername, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.Action, &entry.EntityType, &entry.EntityID,
			&entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func contextPrefix(t domain.ContextType) string {
	switch t {
	case domain.ContextContract:
		return "ctr"
	case domain.ContextCustomerPriceGroup:
		return "cpg"
	case domain.ContextCampaign:
		return "cmp"
	default:
		return "ctx"
	}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// mapWriteError turns constraint violations into store errors.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return store.ErrConflict
	case "23503":
		return store.Invalid("", fmt.Sprintf("references a missing record (%s)", pgErr.ConstraintName))
	case "23514":
		return store.Invalid("", fmt.Sprintf("violates %s", pgErr.ConstraintName))
	default:
		return err
	}
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	t := val.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullInt(val *int) any {
	if val == nil {
		return nil
	}
	return *val
}

func datePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := time.Date(val.Time.Year(), val.Time.Month(), val.Time.Day(), 0, 0, 0, 0, time.UTC)
	return &t
}

var _ store.Repository = (*Store)(nil)
