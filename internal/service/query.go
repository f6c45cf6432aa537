package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"catalog-api/internal/domain"
)

const (
	defaultPage  = 1
	defaultLimit = 10
	searchLimit  = 100
)

// ListQuery 列表原始参数（_page/_limit/_sort/_order/_expand）
type ListQuery struct {
	Page       int
	Limit      int
	Sort       string
	Order      string
	Expand     bool
	CategoryID string
	Q          string
	Status     string
}

type Pagination struct {
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	TotalItems  int64 `json:"totalItems"`
	Limit       int   `json:"limit"`
}

type Page struct {
	Items      []domain.ProductView `json:"items"`
	Pagination Pagination           `json:"pagination"`
}

// QueryEngine 商品读取；分类名只在读取时关联
type QueryEngine struct {
	store    domain.CatalogStore
	maxLimit int
}

func NewQueryEngine(store domain.CatalogStore, maxLimit int) *QueryEngine {
	if maxLimit <= 0 {
		maxLimit = 100
	}
	return &QueryEngine{store: store, maxLimit: maxLimit}
}

func (q *QueryEngine) filter(ctx context.Context, in ListQuery) (domain.ProductFilter, int, error) {
	var msgs []string
	page, limit := in.Page, in.Limit
	if page == 0 {
		page = defaultPage
	}
	if page < 0 {
		msgs = append(msgs, `"_page" must be a positive integer`)
	}
	if limit == 0 {
		limit = defaultLimit
	}
	if limit < 0 {
		msgs = append(msgs, `"_limit" must be a positive integer`)
	}
	if limit > q.maxLimit {
		limit = q.maxLimit
	}
	if page > 0 && limit > 0 && page-1 > math.MaxInt/limit {
		msgs = append(msgs, `"_page" is too large`)
	}

	sort := domain.SortField(in.Sort)
	switch sort {
	case "":
		sort = domain.SortCreatedAt
	case domain.SortCreatedAt, domain.SortUpdatedAt, domain.SortName, domain.SortPrice:
	default:
		msgs = append(msgs, `"_sort" must be one of [createdAt, updatedAt, name, price]`)
	}

	var desc bool
	switch strings.ToLower(in.Order) {
	case "", "asc":
	case "desc":
		desc = true
	default:
		msgs = append(msgs, `"_order" must be one of [asc, desc]`)
	}

	status := domain.StatusFilter(strings.ToLower(in.Status))
	switch status {
	case "":
		status = domain.StatusActive
	case domain.StatusActive, domain.StatusDeleted, domain.StatusAll:
	default:
		msgs = append(msgs, `"status" must be one of [active, deleted, all]`)
	}
	if len(msgs) > 0 {
		return domain.ProductFilter{}, 0, domain.Validation(msgs...)
	}
	if status != domain.StatusActive {
		if err := RequireRole(ctx, domain.RoleAdmin); err != nil {
			return domain.ProductFilter{}, 0, err
		}
	}

	return domain.ProductFilter{
		CategoryID: strings.TrimSpace(in.CategoryID),
		Q:          in.Q,
		Status:     status,
		Sort:       sort,
		Desc:       desc,
		Offset:     (page - 1) * limit,
		Limit:      limit,
	}, page, nil
}

// List 返回一页商品；没有数据也是成功的空页
func (q *QueryEngine) List(ctx context.Context, in ListQuery) (Page, error) {
	f, page, err := q.filter(ctx, in)
	if err != nil {
		return Page{}, err
	}
	items, total, err := q.store.ListProducts(ctx, f)
	if err != nil {
		return Page{}, domain.Internal("list products", err)
	}
	views, err := q.views(ctx, items, in.Expand)
	if err != nil {
		return Page{}, err
	}
	pages := int((total + int64(f.Limit) - 1) / int64(f.Limit))
	return Page{
		Items: views,
		Pagination: Pagination{
			CurrentPage: page,
			TotalPages:  pages,
			TotalItems:  total,
			Limit:       f.Limit,
		},
	}, nil
}

// Get 只返回未删除商品，软删视为不存在
func (q *QueryEngine) Get(ctx context.Context, id string, expand bool) (domain.ProductView, error) {
	p, err := q.store.GetProduct(ctx, id)
	if err != nil {
		return domain.ProductView{}, domain.Internal("get product", err)
	}
	if p == nil || p.Lifecycle.State != domain.StateActive {
		return domain.ProductView{}, domain.NotFound("product not found")
	}
	views, err := q.views(ctx, []domain.Product{*p}, expand)
	if err != nil {
		return domain.ProductView{}, err
	}
	return views[0], nil
}

// Search 按名称子串匹配（不区分大小写），只查未删除商品
func (q *QueryEngine) Search(ctx context.Context, key string) ([]domain.Product, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.Validation(`"key" is required`)
	}
	out, err := q.store.SearchProducts(ctx, key, searchLimit)
	if err != nil {
		return nil, domain.Internal(fmt.Sprintf("search %q", key), err)
	}
	return out, nil
}

func (q *QueryEngine) views(ctx context.Context, items []domain.Product, expand bool) ([]domain.ProductView, error) {
	out := make([]domain.ProductView, 0, len(items))
	var names map[string]string
	if expand && len(items) > 0 {
		seen := make(map[string]bool)
		ids := make([]string, 0, len(items))
		for _, p := range items {
			if !seen[p.CategoryID] {
				seen[p.CategoryID] = true
				ids = append(ids, p.CategoryID)
			}
		}
		var err error
		if names, err = q.store.CategoryNames(ctx, ids); err != nil {
			return nil, domain.Internal("expand categories", err)
		}
	}
	for _, p := range items {
		v := domain.ProductView{Product: p}
		if name, ok := names[p.CategoryID]; ok {
			v.Category = &domain.CategoryRef{ID: p.CategoryID, Name: name}
		}
		out = append(out, v)
	}
	return out, nil
}
