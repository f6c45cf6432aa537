package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"catalog-api/internal/domain"
)

// IntegrityMaintainer 保证每个分类的成员集合与商品的 categoryId 一致
// 所有方法都在事务内的 store 上执行
type IntegrityMaintainer struct {
	fallbackID string
	log        *zap.Logger
	now        func() time.Time
}

func NewIntegrityMaintainer(fallbackID string, l *zap.Logger, now func() time.Time) *IntegrityMaintainer {
	if l == nil {
		l = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &IntegrityMaintainer{fallbackID: fallbackID, log: l, now: now}
}

func (m *IntegrityMaintainer) FallbackID() string { return m.fallbackID }

// OnCreate 新商品加入所属分类；先写成员关系，再写商品行
func (m *IntegrityMaintainer) OnCreate(ctx context.Context, tx domain.CatalogStore, p *domain.Product) error {
	cat, err := tx.GetCategory(ctx, p.CategoryID, domain.LockShare)
	if err != nil {
		return m.fail(opProductCreate, err, zap.String("product_id", p.ID), zap.String("category_id", p.CategoryID))
	}
	if cat == nil {
		return missingCategory(p.CategoryID)
	}
	if err := tx.AddMembers(ctx, cat.ID, p.ID); err != nil {
		return m.fail(opProductCreate, err, zap.String("product_id", p.ID), zap.String("category_id", cat.ID))
	}
	return nil
}

// OnCategoryChange 把商品从 oldID 的集合移到 newID 的集合
// newID 为空或与 oldID 相同时不动成员关系
func (m *IntegrityMaintainer) OnCategoryChange(ctx context.Context, tx domain.CatalogStore, productID, oldID, newID string) error {
	if newID == "" || newID == oldID {
		return nil
	}
	fields := []zap.Field{zap.String("product_id", productID), zap.String("from", oldID), zap.String("to", newID)}
	cat, err := tx.GetCategory(ctx, newID, domain.LockShare)
	if err != nil {
		return m.fail(opProductUpdate, err, fields...)
	}
	if cat == nil {
		return missingCategory(newID)
	}
	if err := tx.RemoveMembers(ctx, oldID, productID); err != nil {
		return m.fail(opProductUpdate, err, fields...)
	}
	if err := tx.AddMembers(ctx, newID, productID); err != nil {
		return m.fail(opProductUpdate, err, fields...)
	}
	return nil
}

func (m *IntegrityMaintainer) OnHardDelete(ctx context.Context, tx domain.CatalogStore, productID, categoryID string) error {
	if err := tx.RemoveMembers(ctx, categoryID, productID); err != nil {
		return m.fail(opProductHardDelete, err, zap.String("product_id", productID), zap.String("category_id", categoryID))
	}
	return nil
}

// OnCategoryHardDelete 把 categoryID 下所有商品改挂到 fallbackID 并迁移成员关系
// 返回被迁移的商品 id；分类行由调用方删除
func (m *IntegrityMaintainer) OnCategoryHardDelete(ctx context.Context, tx domain.CatalogStore, categoryID, fallbackID string) ([]string, error) {
	if fallbackID == "" {
		fallbackID = m.fallbackID
	}
	fields := []zap.Field{zap.String("category_id", categoryID), zap.String("fallback_id", fallbackID)}

	cat, err := tx.GetCategory(ctx, categoryID, domain.LockUpdate)
	if err != nil {
		return nil, m.fail(opCategoryDelete, err, fields...)
	}
	if cat == nil {
		return nil, domain.NotFound("category not found")
	}
	if !cat.IsDeleteable {
		return nil, domain.Conflict(fmt.Sprintf("category %q cannot be deleted", cat.ID))
	}
	if fallbackID == categoryID {
		return nil, domain.Validation(`"fallbackCategoryId" must differ from the deleted category`)
	}
	fb, err := tx.GetCategory(ctx, fallbackID, domain.LockShare)
	if err != nil {
		return nil, m.fail(opCategoryDelete, err, fields...)
	}
	if fb == nil {
		return nil, domain.Validation(fmt.Sprintf(`"fallbackCategoryId" refers to a missing category %q`, fallbackID))
	}

	moved, err := tx.ReassignProducts(ctx, categoryID, fallbackID)
	if err != nil {
		return nil, m.fail(opCategoryDelete, err, fields...)
	}
	if err := tx.AddMembers(ctx, fallbackID, moved...); err != nil {
		return nil, m.fail(opCategoryDelete, err, fields...)
	}
	if err := tx.RemoveAllMembers(ctx, categoryID); err != nil {
		return nil, m.fail(opCategoryDelete, err, fields...)
	}
	return moved, nil
}

// fail 跨实体写入中的存储失败转为 Integrity 错误；业务错误原样返回
func (m *IntegrityMaintainer) fail(op string, err error, fields ...zap.Field) error {
	var de *domain.Error
	if errors.As(err, &de) && de.Kind != domain.KindInternal {
		return err
	}
	integrityErrors.WithLabelValues(op).Inc()
	m.log.Error("catalog integrity step failed", append(fields, zap.String("op", op), zap.Error(err))...)
	return domain.Integrity(op+" could not be completed consistently", err)
}

func missingCategory(id string) error {
	return domain.Validation(fmt.Sprintf(`"categoryId" refers to a missing category %q`, id))
}

type ViolationKind string

const (
	DanglingCategory  ViolationKind = "dangling_category"
	MissingMembership ViolationKind = "missing_membership"
	StrayMembership   ViolationKind = "stray_membership"
)

type Violation struct {
	Kind       ViolationKind `json:"kind"`
	ProductID  string        `json:"productId"`
	CategoryID string        `json:"categoryId"`
}

// Audit 对比商品与成员集合，报告全部不一致；只读
func (m *IntegrityMaintainer) Audit(ctx context.Context, store domain.CatalogStore) ([]Violation, error) {
	cats, err := store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	products, err := store.AllProductRefs(ctx)
	if err != nil {
		return nil, err
	}
	members, err := store.AllMemberships(ctx)
	if err != nil {
		return nil, err
	}

	exists := make(map[string]bool, len(cats))
	for _, c := range cats {
		exists[c.ID] = true
	}
	owner := make(map[string]string, len(products))
	for _, p := range products {
		owner[p.ID] = p.CategoryID
	}
	inSet := make(map[domain.Membership]bool, len(members))
	for _, mb := range members {
		inSet[mb] = true
	}

	out := []Violation{}
	for _, p := range products {
		switch {
		case !exists[p.CategoryID]:
			out = append(out, Violation{Kind: DanglingCategory, ProductID: p.ID, CategoryID: p.CategoryID})
		case !inSet[domain.Membership{CategoryID: p.CategoryID, ProductID: p.ID}]:
			out = append(out, Violation{Kind: MissingMembership, ProductID: p.ID, CategoryID: p.CategoryID})
		}
	}
	for _, mb := range members {
		cat, ok := owner[mb.ProductID]
		if !ok || cat != mb.CategoryID || !exists[mb.CategoryID] {
			out = append(out, Violation{Kind: StrayMembership, ProductID: mb.ProductID, CategoryID: mb.CategoryID})
		}
	}
	return out, nil
}

type RepairReport struct {
	Violations []Violation `json:"violations"`
	Moved      []string    `json:"moved"`
	Added      int         `json:"added"`
	Removed    int         `json:"removed"`
}

// Repair 修复 Audit 发现的问题：分类不存在的商品挂到兜底分类，补齐缺失的成员关系，删除多余的
func (m *IntegrityMaintainer) Repair(ctx context.Context, tx domain.CatalogStore) (RepairReport, error) {
	rep := RepairReport{Moved: []string{}}
	vs, err := m.Audit(ctx, tx)
	if err != nil {
		return rep, err
	}
	rep.Violations = vs
	if len(vs) == 0 {
		return rep, nil
	}

	fb, err := tx.GetCategory(ctx, m.fallbackID, domain.LockShare)
	if err != nil {
		return rep, err
	}
	for _, v := range vs {
		switch v.Kind {
		case DanglingCategory:
			if fb == nil {
				return rep, domain.Conflict(fmt.Sprintf("fallback category %q is missing", m.fallbackID))
			}
			p, err := tx.GetProduct(ctx, v.ProductID)
			if err != nil {
				return rep, err
			}
			if p == nil {
				continue
			}
			p.CategoryID = fb.ID
			p.UpdatedAt = m.now().UTC()
			if err := tx.SaveProduct(ctx, p); err != nil {
				return rep, err
			}
			if err := tx.AddMembers(ctx, fb.ID, p.ID); err != nil {
				return rep, err
			}
			rep.Moved = append(rep.Moved, p.ID)
			rep.Added++
		case MissingMembership:
			if err := tx.AddMembers(ctx, v.CategoryID, v.ProductID); err != nil {
				return rep, err
			}
			rep.Added++
		case StrayMembership:
			if err := tx.RemoveMembers(ctx, v.CategoryID, v.ProductID); err != nil {
				return rep, err
			}
			rep.Removed++
		}
	}
	m.log.Warn("catalog integrity repaired",
		zap.Int("violations", len(vs)), zap.Int("moved", len(rep.Moved)),
		zap.Int("added", rep.Added), zap.Int("removed", rep.Removed))
	return rep, nil
}
