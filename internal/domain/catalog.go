package domain

import (
	"context"
	"encoding/json"
	"time"
)

// LifecycleState 商品删除状态
type LifecycleState int

const (
	StateActive LifecycleState = iota
	StateSoftDeleted
	// StateHardDeleted 终态，记录已从存储中移除
	StateHardDeleted
)

func (s LifecycleState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateSoftDeleted:
		return "soft_deleted"
	case StateHardDeleted:
		return "hard_deleted"
	}
	return "unknown"
}

type Lifecycle struct {
	State     LifecycleState
	DeletedAt time.Time
}

func Active() Lifecycle { return Lifecycle{State: StateActive} }

func SoftDeletedAt(t time.Time) Lifecycle {
	return Lifecycle{State: StateSoftDeleted, DeletedAt: t}
}

type Category struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	IsDeleteable bool      `json:"isDeleteable"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	// ProductIDs 成员集合，只在读取单个分类时填充
	ProductIDs []string `json:"products,omitempty"`
}

type CategorySummary struct {
	Category
	ProductCount       int64 `json:"productCount"`
	ActiveProductCount int64 `json:"activeProductCount"`
}

type CategoryRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Product struct {
	ID          string
	Name        string
	Price       float64
	Description string
	CategoryID  string
	ImageURLs   []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Lifecycle   Lifecycle
}

type productJSON struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Price       float64      `json:"price"`
	Description string       `json:"description,omitempty"`
	CategoryID  string       `json:"categoryId"`
	Category    *CategoryRef `json:"category,omitempty"`
	ImageURLs   []string     `json:"images,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	Deleted     bool         `json:"deleted"`
	DeletedAt   *time.Time   `json:"deletedAt"`
}

func (p Product) toJSON() productJSON {
	out := productJSON{
		ID:          p.ID,
		Name:        p.Name,
		Price:       p.Price,
		Description: p.Description,
		CategoryID:  p.CategoryID,
		ImageURLs:   p.ImageURLs,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.Lifecycle.State != StateActive {
		at := p.Lifecycle.DeletedAt
		out.Deleted = true
		out.DeletedAt = &at
	}
	return out
}

// MarshalJSON 把生命周期输出为 deleted/deletedAt 两个字段
func (p Product) MarshalJSON() ([]byte, error) { return json.Marshal(p.toJSON()) }

// ProductView 商品 + 读取时关联的分类名
type ProductView struct {
	Product
	Category *CategoryRef
}

func (v ProductView) MarshalJSON() ([]byte, error) {
	out := v.Product.toJSON()
	out.Category = v.Category
	return json.Marshal(out)
}

type Membership struct {
	CategoryID string
	ProductID  string
}

// ProductRef 一致性审计用的最小投影
type ProductRef struct {
	ID         string
	CategoryID string
	State      LifecycleState
}

type SortField string

const (
	SortCreatedAt SortField = "createdAt"
	SortUpdatedAt SortField = "updatedAt"
	SortName      SortField = "name"
	SortPrice     SortField = "price"
)

type StatusFilter string

const (
	StatusActive  StatusFilter = "active"
	StatusDeleted StatusFilter = "deleted"
	StatusAll     StatusFilter = "all"
)

type ProductFilter struct {
	CategoryID string
	Q          string
	Status     StatusFilter
	Sort       SortField
	Desc       bool
	Offset     int
	Limit      int
}

type LockMode int

const (
	LockNone LockMode = iota
	LockShare
	LockUpdate
)

// CatalogStore 持久化分类、商品与分类成员集合
// 单条查询记录不存在时返回 (nil, nil)
type CatalogStore interface {
	// WithinTx 在绑定单个事务的 store 上执行 fn
	WithinTx(ctx context.Context, fn func(tx CatalogStore) error) error

	CreateCategory(ctx context.Context, c *Category) error
	GetCategory(ctx context.Context, id string, lock LockMode) (*Category, error)
	UpdateCategory(ctx context.Context, c *Category) error
	DeleteCategory(ctx context.Context, id string) error
	ListCategories(ctx context.Context) ([]CategorySummary, error)
	CategoryNames(ctx context.Context, ids []string) (map[string]string, error)

	// AddMembers 原子加入集合，已存在的成员不变
	AddMembers(ctx context.Context, categoryID string, productIDs ...string) error
	// RemoveMembers 原子移出集合
	RemoveMembers(ctx context.Context, categoryID string, productIDs ...string) error
	RemoveAllMembers(ctx context.Context, categoryID string) error
	Members(ctx context.Context, categoryID string) ([]string, error)
	AllMemberships(ctx context.Context) ([]Membership, error)

	CreateProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, id string) (*Product, error)
	SaveProduct(ctx context.Context, p *Product) error
	DeleteProduct(ctx context.Context, id string) error
	// ReassignProducts 把 from 下的商品全部改挂到 to，返回被迁移的 id
	ReassignProducts(ctx context.Context, from, to string) ([]string, error)
	ListProducts(ctx context.Context, f ProductFilter) ([]Product, int64, error)
	SearchProducts(ctx context.Context, key string, limit int) ([]Product, error)
	AllProductRefs(ctx context.Context) ([]ProductRef, error)
}
