package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"catalog-api/internal/domain"
	"catalog-api/internal/feature/catalog"
)

// CatalogRepo 基于 gorm 的目录存储；sqlite 本身串行写入，不加行锁
type CatalogRepo struct {
	db    *gorm.DB
	locks bool
}

func NewCatalogRepo(db *gorm.DB) *CatalogRepo {
	return &CatalogRepo{db: db, locks: db.Dialector.Name() != "sqlite"}
}

func (r *CatalogRepo) WithinTx(ctx context.Context, fn func(tx domain.CatalogStore) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&CatalogRepo{db: tx, locks: r.locks})
	})
}

// ---------- 分类 ----------

func (r *CatalogRepo) CreateCategory(ctx context.Context, c *domain.Category) error {
	m := catalog.CategoryFromDomain(c)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isDupKey(err) {
			return domain.Conflict("category already exists")
		}
		return fmt.Errorf("create category: %w", err)
	}
	*c = m.ToDomain()
	return nil
}

func (r *CatalogRepo) GetCategory(ctx context.Context, id string, lock domain.LockMode) (*domain.Category, error) {
	q := r.db.WithContext(ctx)
	if r.locks {
		switch lock {
		case domain.LockShare:
			q = q.Clauses(clause.Locking{Strength: "SHARE"})
		case domain.LockUpdate:
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
	}
	var m catalog.CategoryModel
	err := q.First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	c := m.ToDomain()
	return &c, nil
}

func (r *CatalogRepo) UpdateCategory(ctx context.Context, c *domain.Category) error {
	res := r.db.WithContext(ctx).Model(&catalog.CategoryModel{}).Where("id = ?", c.ID).
		Updates(map[string]any{"name": c.Name, "updated_at": c.UpdatedAt})
	if res.Error != nil {
		return fmt.Errorf("update category: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("category not found")
	}
	return nil
}

func (r *CatalogRepo) DeleteCategory(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&catalog.CategoryModel{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	return nil
}

func (r *CatalogRepo) ListCategories(ctx context.Context) ([]domain.CategorySummary, error) {
	var ms []catalog.CategoryModel
	if err := r.db.WithContext(ctx).Order("name ASC, id ASC").Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}

	type countRow struct {
		CategoryID string
		Total      int64
		Active     int64
	}
	var rows []countRow
	err := r.db.WithContext(ctx).
		Table("category_products AS cp").
		Select("cp.category_id AS category_id, COUNT(*) AS total, "+
			"SUM(CASE WHEN p.deleted = ? THEN 1 ELSE 0 END) AS active", false).
		Joins("LEFT JOIN products p ON p.id = cp.product_id").
		Group("cp.category_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count category members: %w", err)
	}
	counts := make(map[string]countRow, len(rows))
	for _, row := range rows {
		counts[row.CategoryID] = row
	}

	out := make([]domain.CategorySummary, 0, len(ms))
	for _, m := range ms {
		c := counts[m.ID]
		out = append(out, domain.CategorySummary{
			Category:           m.ToDomain(),
			ProductCount:       c.Total,
			ActiveProductCount: c.Active,
		})
	}
	return out, nil
}

func (r *CatalogRepo) CategoryNames(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var ms []catalog.CategoryModel
	if err := r.db.WithContext(ctx).Select("id", "name").Where("id IN ?", ids).Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("category names: %w", err)
	}
	for _, m := range ms {
		out[m.ID] = m.Name
	}
	return out, nil
}

// ---------- 成员集合 ----------

func (r *CatalogRepo) AddMembers(ctx context.Context, categoryID string, productIDs ...string) error {
	if len(productIDs) == 0 {
		return nil
	}
	rows := make([]catalog.CategoryProduct, 0, len(productIDs))
	for _, id := range productIDs {
		rows = append(rows, catalog.CategoryProduct{CategoryID: categoryID, ProductID: id})
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("add members to %s: %w", categoryID, err)
	}
	return nil
}

func (r *CatalogRepo) RemoveMembers(ctx context.Context, categoryID string, productIDs ...string) error {
	if len(productIDs) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Where("category_id = ? AND product_id IN ?", categoryID, productIDs).
		Delete(&catalog.CategoryProduct{}).Error
	if err != nil {
		return fmt.Errorf("remove members from %s: %w", categoryID, err)
	}
	return nil
}

func (r *CatalogRepo) RemoveAllMembers(ctx context.Context, categoryID string) error {
	err := r.db.WithContext(ctx).Where("category_id = ?", categoryID).Delete(&catalog.CategoryProduct{}).Error
	if err != nil {
		return fmt.Errorf("clear members of %s: %w", categoryID, err)
	}
	return nil
}

func (r *CatalogRepo) Members(ctx context.Context, categoryID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&catalog.CategoryProduct{}).
		Where("category_id = ?", categoryID).
		Order("product_id ASC").
		Pluck("product_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", categoryID, err)
	}
	return ids, nil
}

func (r *CatalogRepo) AllMemberships(ctx context.Context) ([]domain.Membership, error) {
	var rows []catalog.CategoryProduct
	if err := r.db.WithContext(ctx).Order("category_id, product_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("all memberships: %w", err)
	}
	out := make([]domain.Membership, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Membership{CategoryID: row.CategoryID, ProductID: row.ProductID})
	}
	return out, nil
}

// ---------- 商品 ----------

func (r *CatalogRepo) CreateProduct(ctx context.Context, p *domain.Product) error {
	m := catalog.ProductFromDomain(p)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (r *CatalogRepo) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var m catalog.ProductModel
	err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	p := m.ToDomain()
	return &p, nil
}

func (r *CatalogRepo) SaveProduct(ctx context.Context, p *domain.Product) error {
	m := catalog.ProductFromDomain(p)
	if err := r.db.WithContext(ctx).Save(&m).Error; err != nil {
		return fmt.Errorf("save product: %w", err)
	}
	return nil
}

func (r *CatalogRepo) DeleteProduct(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&catalog.ProductModel{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return nil
}

func (r *CatalogRepo) ReassignProducts(ctx context.Context, from, to string) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&catalog.ProductModel{}).
		Where("category_id = ?", from).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("products of %s: %w", from, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	err := r.db.WithContext(ctx).Model(&catalog.ProductModel{}).
		Where("category_id = ?", from).
		Update("category_id", to).Error
	if err != nil {
		return nil, fmt.Errorf("reassign products %s -> %s: %w", from, to, err)
	}
	return ids, nil
}

var sortColumns = map[domain.SortField]string{
	domain.SortCreatedAt: "created_at",
	domain.SortUpdatedAt: "updated_at",
	domain.SortName:      "name",
	domain.SortPrice:     "price",
}

func (r *CatalogRepo) ListProducts(ctx context.Context, f domain.ProductFilter) ([]domain.Product, int64, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Model(&catalog.ProductModel{})
		switch f.Status {
		case domain.StatusAll:
		case domain.StatusDeleted:
			db = db.Where("deleted = ?", true)
		default:
			db = db.Where("deleted = ?", false)
		}
		if f.CategoryID != "" {
			db = db.Where("category_id = ?", f.CategoryID)
		}
		if s := strings.TrimSpace(f.Q); s != "" {
			db = db.Where("name_fold LIKE ? ESCAPE '!'", likePattern(s))
		}
		return db
	}

	var total int64
	if err := scope(r.db.WithContext(ctx)).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}
	if total == 0 {
		return []domain.Product{}, 0, nil
	}

	col, ok := sortColumns[f.Sort]
	if !ok {
		col = "created_at"
	}
	var ms []catalog.ProductModel
	err := scope(r.db.WithContext(ctx)).
		Order(clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: f.Desc}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}}).
		Offset(f.Offset).Limit(f.Limit).
		Find(&ms).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	return toProducts(ms), total, nil
}

func (r *CatalogRepo) SearchProducts(ctx context.Context, key string, limit int) ([]domain.Product, error) {
	var ms []catalog.ProductModel
	err := r.db.WithContext(ctx).
		Where("deleted = ?", false).
		Where("name_fold LIKE ? ESCAPE '!'", likePattern(key)).
		Order("name ASC, id ASC").
		Limit(limit).
		Find(&ms).Error
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	return toProducts(ms), nil
}

func (r *CatalogRepo) AllProductRefs(ctx context.Context) ([]domain.ProductRef, error) {
	var ms []catalog.ProductModel
	if err := r.db.WithContext(ctx).Select("id", "category_id", "deleted").Order("id").Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("product refs: %w", err)
	}
	out := make([]domain.ProductRef, 0, len(ms))
	for _, m := range ms {
		state := domain.StateActive
		if m.Deleted {
			state = domain.StateSoftDeleted
		}
		out = append(out, domain.ProductRef{ID: m.ID, CategoryID: m.CategoryID, State: state})
	}
	return out, nil
}

func toProducts(ms []catalog.ProductModel) []domain.Product {
	out := make([]domain.Product, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ToDomain())
	}
	return out
}
