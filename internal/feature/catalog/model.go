package catalog

import (
	"strings"
	"time"

	"catalog-api/internal/domain"
)

type CategoryModel struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	Name         string `gorm:"size:255;not null"`
	IsDeleteable bool   `gorm:"not null"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (CategoryModel) TableName() string { return "categories" }

// CategoryProduct 分类商品集合中的一个元素
type CategoryProduct struct {
	CategoryID string `gorm:"primaryKey;type:varchar(36)"`
	ProductID  string `gorm:"primaryKey;type:varchar(36);index"`
}

func (CategoryProduct) TableName() string { return "category_products" }

type ProductModel struct {
	ID          string  `gorm:"primaryKey;type:varchar(36)"`
	Name        string  `gorm:"size:255;not null;index"`
	NameFold    string  `gorm:"size:255;not null;default:'';index"` // 小写名称，用于搜索
	Price       float64 `gorm:"not null;default:0"`
	Description string  `gorm:"type:text"`
	CategoryID  string  `gorm:"type:varchar(36);not null;index"`
	ImageURLs   string  `gorm:"type:text"`

	CreatedAt time.Time  `gorm:"autoCreateTime:false;index"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime:false"`
	Deleted   bool       `gorm:"not null;default:false;index"`
	DeletedAt *time.Time `gorm:"column:deleted_at"`
}

func (ProductModel) TableName() string { return "products" }

// Models 目录相关的全部迁移模型
func Models() []any {
	return []any{&CategoryModel{}, &CategoryProduct{}, &ProductModel{}}
}

func (m CategoryModel) ToDomain() domain.Category {
	return domain.Category{
		ID:           m.ID,
		Name:         m.Name,
		IsDeleteable: m.IsDeleteable,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func CategoryFromDomain(c *domain.Category) CategoryModel {
	return CategoryModel{
		ID:           c.ID,
		Name:         c.Name,
		IsDeleteable: c.IsDeleteable,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func (m ProductModel) ToDomain() domain.Product {
	p := domain.Product{
		ID:          m.ID,
		Name:        m.Name,
		Price:       m.Price,
		Description: m.Description,
		CategoryID:  m.CategoryID,
		ImageURLs:   splitURLs(m.ImageURLs),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		Lifecycle:   domain.Active(),
	}
	if m.Deleted {
		var at time.Time
		if m.DeletedAt != nil {
			at = *m.DeletedAt
		}
		p.Lifecycle = domain.SoftDeletedAt(at)
	}
	return p
}

func ProductFromDomain(p *domain.Product) ProductModel {
	m := ProductModel{
		ID:          p.ID,
		Name:        p.Name,
		NameFold:    strings.ToLower(p.Name),
		Price:       p.Price,
		Description: p.Description,
		CategoryID:  p.CategoryID,
		ImageURLs:   strings.Join(p.ImageURLs, "\n"),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.Lifecycle.State == domain.StateSoftDeleted {
		at := p.Lifecycle.DeletedAt
		m.Deleted = true
		m.DeletedAt = &at
	}
	return m
}

func splitURLs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, u := range strings.Split(s, "\n") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}
