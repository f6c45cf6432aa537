package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"catalog-api/internal/domain"
	"catalog-api/pkg/utils"
)

const (
	opProductCreate     = "product.create"
	opProductUpdate     = "product.update"
	opProductSoftDelete = "product.soft_delete"
	opProductHardDelete = "product.hard_delete"
	opProductRestore    = "product.restore"
	opCategoryCreate    = "category.create"
	opCategoryRename    = "category.rename"
	opCategoryDelete    = "category.delete"
	opIntegrityRepair   = "integrity.repair"
)

var errFallbackVanished = errors.New("fallback category missing after create conflict")

// 同时写商品与至少一个分类成员集合的操作
var crossEntity = map[string]bool{
	opProductCreate:     true,
	opProductUpdate:     true,
	opProductHardDelete: true,
	opCategoryDelete:    true,
	opIntegrityRepair:   true,
}

type CatalogServiceDeps struct {
	Store                domain.CatalogStore
	Logger               *zap.Logger
	Events               EventPublisher // 可选
	Clock                func() time.Time
	NewID                func() string
	FallbackCategoryID   string
	FallbackCategoryName string
	StoreTimeout         time.Duration
	MaxPageSize          int
}

// CatalogService 商品/分类用例入口
// 所有写操作要求 ctx 中为 admin 身份，且在单个事务内完成
type CatalogService struct {
	store        domain.CatalogStore
	log          *zap.Logger
	events       EventPublisher
	now          func() time.Time
	newID        func() string
	fallbackID   string
	fallbackName string
	timeout      time.Duration

	integrity *IntegrityMaintainer
	lifecycle *LifecycleEngine
	query     *QueryEngine
}

func NewCatalogService(deps CatalogServiceDeps) (*CatalogService, error) {
	if deps.Store == nil {
		return nil, errors.New("catalog service: store is required")
	}
	if strings.TrimSpace(deps.FallbackCategoryID) == "" {
		return nil, errors.New("catalog service: fallback category id is required")
	}
	s := &CatalogService{
		store:        deps.Store,
		log:          deps.Logger,
		events:       deps.Events,
		now:          deps.Clock,
		newID:        deps.NewID,
		fallbackID:   deps.FallbackCategoryID,
		fallbackName: deps.FallbackCategoryName,
		timeout:      deps.StoreTimeout,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = utils.NewID
	}
	if s.fallbackName == "" {
		s.fallbackName = "Uncategorized"
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	s.integrity = NewIntegrityMaintainer(s.fallbackID, s.log, s.now)
	s.lifecycle = NewLifecycleEngine(s.integrity, s.now)
	s.query = NewQueryEngine(s.store, deps.MaxPageSize)
	return s, nil
}

func (s *CatalogService) Integrity() *IntegrityMaintainer { return s.integrity }

func (s *CatalogService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// tx 在存储超时内以单个事务执行 fn；跨实体操作的意外失败统一报为 Integrity 错误
func (s *CatalogService) tx(ctx context.Context, op string, fn func(ctx context.Context, tx domain.CatalogStore) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	err := s.store.WithinTx(ctx, func(tx domain.CatalogStore) error { return fn(ctx, tx) })
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != domain.KindInternal {
		return err
	}
	if crossEntity[op] {
		return s.integrity.fail(op, err)
	}
	return domain.Internal(op, err)
}

func (s *CatalogService) publish(ev CatalogEvent) {
	if s.events == nil {
		return
	}
	ev.At = s.now().UTC()
	if err := s.events.PublishJSON(ev.Type, ev); err != nil {
		s.log.Warn("publish catalog event", zap.String("type", ev.Type), zap.Error(err))
	}
}

// ---------- 商品 ----------

type CreateProductInput struct {
	Name        string   `json:"name" validate:"required,max=255"`
	Price       *float64 `json:"price" validate:"required,gte=0"`
	Description string   `json:"description" validate:"max=5000"`
	CategoryID  string   `json:"categoryId" validate:"required"`
	Images      []string `json:"images" validate:"max=10,dive,url"`
}

func (s *CatalogService) CreateProduct(ctx context.Context, in CreateProductInput) (domain.Product, error) {
	if err := RequireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.CategoryID = strings.TrimSpace(in.CategoryID)
	if err := validateStruct(in); err != nil {
		return domain.Product{}, err
	}

	now := s.now().UTC()
	p := domain.Product{
		ID:          s.newID(),
		Name:        in.Name,
		Price:       *in.Price,
		Description: strings.TrimSpace(in.Description),
		CategoryID:  in.CategoryID,
		ImageURLs:   in.Images,
		CreatedAt:   now,
		UpdatedAt:   now,
		Lifecycle:   domain.Active(),
	}
	err := s.tx(ctx, opProductCreate, func(ctx context.Context, tx domain.CatalogStore) error {
		if err := s.integrity.OnCreate(ctx, tx, &p); err != nil {
			return err
		}
		return tx.CreateProduct(ctx, &p)
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.publish(CatalogEvent{Type: EventProductCreated, ProductID: p.ID, CategoryID: p.CategoryID})
	return p, nil
}

// UpdateProductInput 部分更新：nil 字段保持原值
type UpdateProductInput struct {
	Name        *string   `json:"name" validate:"omitempty,max=255"`
	Price       *float64  `json:"price" validate:"omitempty,gte=0"`
	Description *string   `json:"description" validate:"omitempty,max=5000"`
	CategoryID  *string   `json:"categoryId"`
	Images      *[]string `json:"images" validate:"omitempty,max=10,dive,url"`
}

func (in *UpdateProductInput) normalize() []string {
	var msgs []string
	if in.Name == nil && in.Price == nil && in.Description == nil && in.CategoryID == nil && in.Images == nil {
		msgs = append(msgs, "at least one field must be provided")
	}
	if in.Name != nil {
		n := strings.TrimSpace(*in.Name)
		in.Name = &n
		if n == "" {
			msgs = append(msgs, `"name" cannot be empty`)
		}
	}
	if in.CategoryID != nil {
		c := strings.TrimSpace(*in.CategoryID)
		in.CategoryID = &c
		if c == "" {
			msgs = append(msgs, `"categoryId" cannot be empty`)
		}
	}
	return msgs
}

func (s *CatalogService) UpdateProduct(ctx context.Context, id string, in UpdateProductInput) (domain.Product, error) {
	if err := RequireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}
	msgs := in.normalize()
	if err := validateStruct(in, msgs...); err != nil {
		return domain.Product{}, err
	}

	var p *domain.Product
	err := s.tx(ctx, opProductUpdate, func(ctx context.Context, tx domain.CatalogStore) error {
		var err error
		if p, err = tx.GetProduct(ctx, id); err != nil {
			return err
		}
		if p == nil {
			return domain.NotFound("product not found")
		}
		if p.Lifecycle.State != domain.StateActive {
			return domain.Conflict("product is deleted; restore it before updating")
		}
		if in.CategoryID != nil {
			if err := s.integrity.OnCategoryChange(ctx, tx, p.ID, p.CategoryID, *in.CategoryID); err != nil {
				return err
			}
			p.CategoryID = *in.CategoryID
		}
		if in.Name != nil {
			p.Name = *in.Name
		}
		if in.Price != nil {
			p.Price = *in.Price
		}
		if in.Description != nil {
			p.Description = strings.TrimSpace(*in.Description)
		}
		if in.Images != nil {
			p.ImageURLs = *in.Images
		}
		p.UpdatedAt = s.now().UTC()
		return tx.SaveProduct(ctx, p)
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.publish(CatalogEvent{Type: EventProductUpdated, ProductID: p.ID, CategoryID: p.CategoryID})
	return *p, nil
}

// DeleteProduct 默认软删；hard=true 时连同成员关系一起硬删
func (s *CatalogService) DeleteProduct(ctx context.Context, id string, hard bool) (domain.Product, error) {
	if err := RequireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}
	op, evType := opProductSoftDelete, EventProductSoftDeleted
	if hard {
		op, evType = opProductHardDelete, EventProductHardDeleted
	}

	var p *domain.Product
	err := s.tx(ctx, op, func(ctx context.Context, tx domain.CatalogStore) error {
		var err error
		if p, err = tx.GetProduct(ctx, id); err != nil {
			return err
		}
		if p == nil {
			return domain.NotFound("product not found")
		}
		return s.lifecycle.Delete(ctx, tx, p, hard)
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.publish(CatalogEvent{Type: evType, ProductID: p.ID, CategoryID: p.CategoryID})
	return *p, nil
}

func (s *CatalogService) RestoreProduct(ctx context.Context, id string) (domain.Product, error) {
	if err := RequireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}
	var p *domain.Product
	err := s.tx(ctx, opProductRestore, func(ctx context.Context, tx domain.CatalogStore) error {
		var err error
		if p, err = tx.GetProduct(ctx, id); err != nil {
			return err
		}
		if p == nil {
			return domain.NotFound("product not found")
		}
		return s.lifecycle.Restore(ctx, tx, p)
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.publish(CatalogEvent{Type: EventProductRestored, ProductID: p.ID, CategoryID: p.CategoryID})
	return *p, nil
}

func (s *CatalogService) GetProduct(ctx context.Context, id string, expand bool) (domain.ProductView, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.query.Get(ctx, id, expand)
}

func (s *CatalogService) ListProducts(ctx context.Context, q ListQuery) (Page, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.query.List(ctx, q)
}

func (s *CatalogService) SearchProducts(ctx context.Context, key string) ([]domain.Product, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.query.Search(ctx, key)
}

// ---------- 分类 ----------

type CreateCategoryInput struct {
	ID           string `json:"id" validate:"omitempty,max=64,excludesall=/?#%"`
	Name         string `json:"name" validate:"required,max=100"`
	IsDeleteable *bool  `json:"isDeleteable"`
}

type RenameCategoryInput struct {
	Name string `json:"name" validate:"required,max=100"`
}

type CategoryDeletion struct {
	CategoryID         string   `json:"categoryId"`
	FallbackCategoryID string   `json:"fallbackCategoryId"`
	MovedProductIDs    []string `json:"movedProductIds"`
}

func (s *CatalogService) CreateCategory(ctx context.Context, in CreateCategoryInput) (domain.Category, error) {
	if err := RequireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Category{}, err
	}
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)
	if err := validateStruct(in); err != nil {
		return domain.Category{}, err
	}
	if in.ID == "" {
		in.ID = s.newID()
	}
	now := s.now().UTC()
	c := domain.Category{ID: in.ID, Name: in.Name, IsDeleteable: true, CreatedAt: now, UpdatedAt: now}
	if in.IsDeleteable != nil {
		c.IsDeleteable = *in.IsDeleteable
	}
	err := s.tx(ctx, opCategoryCreate, func(ctx context.Context, tx domain.CatalogStore) error {
		return tx.CreateCategory(ctx, &c)
	})
	if err != nil {
		return domain.Category{}, err
	}
	s.publish(CatalogEvent{Type: EventCategoryCreated, CategoryID: c.ID})
	return c, nil
}

func (s *CatalogService) RenameCategory(ctx context.Context, id string, in RenameCategoryInput) (domain.Category, error) {
	if err := RequireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Category{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := validateStruct(in); err != nil {
		return domain.Category{}, err
	}
	var c *domain.Category
	err := s.tx(ctx, opCategoryRename, func(ctx context.Context, tx domain.CatalogStore) error {
		var err error
		if c, err = tx.GetCategory(ctx, id, domain.LockUpdate); err != nil {
			return err
		}
		if c == nil {
			return domain.NotFound("category not found")
		}
		c.Name = in.Name
		c.UpdatedAt = s.now().UTC()
		return tx.UpdateCategory(ctx, c)
	})
	if err != nil {
		return domain.Category{}, err
	}
	s.publish(CatalogEvent{Type: EventCategoryUpdated, CategoryID: c.ID})
	return *c, nil
}

// DeleteCategory 先把商品迁到 fallbackID（为空则用配置的兜底分类），再硬删分类
func (s *CatalogService) DeleteCategory(ctx context.Context, id, fallbackID string) (CategoryDeletion, error) {
	if err := RequireRole(ctx, domain.RoleAdmin); err != nil {
		return CategoryDeletion{}, err
	}
	fallbackID = strings.TrimSpace(fallbackID)
	if fallbackID == "" {
		fallbackID = s.fallbackID
	}
	out := CategoryDeletion{CategoryID: id, FallbackCategoryID: fallbackID, MovedProductIDs: []string{}}
	err := s.tx(ctx, opCategoryDelete, func(ctx context.Context, tx domain.CatalogStore) error {
		moved, err := s.integrity.OnCategoryHardDelete(ctx, tx, id, fallbackID)
		if err != nil {
			return err
		}
		if moved != nil {
			out.MovedProductIDs = moved
		}
		return tx.DeleteCategory(ctx, id)
	})
	if err != nil {
		return CategoryDeletion{}, err
	}
	s.log.Info("category deleted", zap.String("category_id", id),
		zap.String("fallback_id", fallbackID), zap.Int("moved", len(out.MovedProductIDs)))
	s.publish(CatalogEvent{Type: EventCategoryDeleted, CategoryID: id, ProductIDs: out.MovedProductIDs})
	return out, nil
}

// GetCategory 返回分类及其成员集合
func (s *CatalogService) GetCategory(ctx context.Context, id string) (domain.Category, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	c, err := s.store.GetCategory(ctx, id, domain.LockNone)
	if err != nil {
		return domain.Category{}, domain.Internal("get category", err)
	}
	if c == nil {
		return domain.Category{}, domain.NotFound("category not found")
	}
	if c.ProductIDs, err = s.store.Members(ctx, id); err != nil {
		return domain.Category{}, domain.Internal("category members", err)
	}
	return *c, nil
}

func (s *CatalogService) ListCategories(ctx context.Context) ([]domain.CategorySummary, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	out, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, domain.Internal("list categories", err)
	}
	return out, nil
}

// EnsureFallbackCategory 兜底分类不存在时创建（不可删除）
func (s *CatalogService) EnsureFallbackCategory(ctx context.Context) (domain.Category, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	c, err := s.store.GetCategory(ctx, s.fallbackID, domain.LockNone)
	if err != nil {
		return domain.Category{}, fmt.Errorf("load fallback category: %w", err)
	}
	if c != nil {
		if c.IsDeleteable {
			s.log.Warn("fallback category is marked deleteable", zap.String("category_id", c.ID))
		}
		return *c, nil
	}

	now := s.now().UTC()
	fb := domain.Category{ID: s.fallbackID, Name: s.fallbackName, IsDeleteable: false, CreatedAt: now, UpdatedAt: now}
	if err := s.store.CreateCategory(ctx, &fb); err != nil {
		if domain.KindOf(err) != domain.KindConflict {
			return domain.Category{}, fmt.Errorf("create fallback category: %w", err)
		}
		// 并发启动时被其它实例抢先创建
		c, err := s.store.GetCategory(ctx, s.fallbackID, domain.LockNone)
		if err != nil {
			return domain.Category{}, fmt.Errorf("reload fallback category: %w", err)
		}
		if c == nil {
			return domain.Category{}, fmt.Errorf("reload fallback category %q: %w", s.fallbackID, errFallbackVanished)
		}
		return *c, nil
	}
	s.log.Info("fallback category created", zap.String("category_id", fb.ID))
	return fb, nil
}

// ---------- 一致性 ----------

func (s *CatalogService) AuditIntegrity(ctx context.Context) ([]Violation, error) {
	if err := RequireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	out, err := s.integrity.Audit(ctx, s.store)
	if err != nil {
		return nil, domain.Internal("audit integrity", err)
	}
	return out, nil
}

func (s *CatalogService) RepairIntegrity(ctx context.Context) (RepairReport, error) {
	if err := RequireRole(ctx, domain.RoleAdmin); err != nil {
		return RepairReport{}, err
	}
	var rep RepairReport
	err := s.tx(ctx, opIntegrityRepair, func(ctx context.Context, tx domain.CatalogStore) error {
		var err error
		rep, err = s.integrity.Repair(ctx, tx)
		return err
	})
	if err != nil {
		return RepairReport{}, err
	}
	return rep, nil
}
