package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"catalog-api/internal/domain"
	"catalog-api/internal/service"
	"catalog-api/internal/transport/http/ez"
)

type ProductHandler struct {
	svc    *service.CatalogService
	guards Guards
	log    *zap.Logger
}

func NewProductHandler(svc *service.CatalogService, g Guards, l *zap.Logger) *ProductHandler {
	return &ProductHandler{svc: svc, guards: g, log: l}
}

func (h *ProductHandler) Priority() int { return 20 }

type listQuery struct {
	Page       int    `form:"_page"`
	Limit      int    `form:"_limit"`
	Sort       string `form:"_sort"`
	Order      string `form:"_order"`
	Expand     string `form:"_expand"`
	CategoryID string `form:"categoryId"`
	Q          string `form:"q"`
	Status     string `form:"status"`
}

type deleteBody struct {
	IsHardDelete bool `json:"isHardDelete"`
}

func expandCategory(v string) bool {
	for _, part := range strings.Split(v, ",") {
		if strings.EqualFold(strings.TrimSpace(part), "category") {
			return true
		}
	}
	return false
}

func (h *ProductHandler) MountAPI(api *gin.RouterGroup) {
	public := ez.New(api, h.log)
	optional := ez.New(api.Group("", h.guards.Optional), h.log)
	admin := ez.New(h.guards.admin(api), h.log)

	ez.RegisterAction(optional, ez.Action[listQuery, service.Page]{
		Method: http.MethodGet,
		Path:   "/products",
		Binder: ez.BindQuery,
		Handler: func(c *gin.Context, q *listQuery) (service.Page, error) {
			return h.svc.ListProducts(c.Request.Context(), service.ListQuery{
				Page:       q.Page,
				Limit:      q.Limit,
				Sort:       q.Sort,
				Order:      q.Order,
				Expand:     expandCategory(q.Expand),
				CategoryID: q.CategoryID,
				Q:          q.Q,
				Status:     q.Status,
			})
		},
	})
	ez.RegisterAction(public, ez.Action[struct{}, []domain.Product]{
		Method: http.MethodGet,
		Path:   "/products/search/:key",
		Binder: ez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) ([]domain.Product, error) {
			return h.svc.SearchProducts(c.Request.Context(), c.Param("key"))
		},
	})
	ez.RegisterAction(public, ez.Action[struct{}, domain.ProductView]{
		Method: http.MethodGet,
		Path:   "/products/:id",
		Binder: ez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (domain.ProductView, error) {
			return h.svc.GetProduct(c.Request.Context(), c.Param("id"), expandCategory(c.Query("_expand")))
		},
	})

	ez.RegisterAction(admin, ez.Action[service.CreateProductInput, domain.Product]{
		Method: http.MethodPost,
		Path:   "/products",
		Binder: ez.BindJSON,
		Status: http.StatusCreated,
		Handler: func(c *gin.Context, in *service.CreateProductInput) (domain.Product, error) {
			return h.svc.CreateProduct(c.Request.Context(), *in)
		},
	})
	ez.RegisterAction(admin, ez.Action[service.UpdateProductInput, domain.Product]{
		Method: http.MethodPatch,
		Path:   "/products/:id",
		Binder: ez.BindJSON,
		Handler: func(c *gin.Context, in *service.UpdateProductInput) (domain.Product, error) {
			return h.svc.UpdateProduct(c.Request.Context(), c.Param("id"), *in)
		},
	})
	ez.RegisterAction(admin, ez.Action[struct{}, domain.Product]{
		Method: http.MethodPatch,
		Path:   "/products/:id/restore",
		Binder: ez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (domain.Product, error) {
			return h.svc.RestoreProduct(c.Request.Context(), c.Param("id"))
		},
	})
	// 硬删：body {"isHardDelete":true} 或 ?hard=true
	ez.RegisterAction(admin, ez.Action[deleteBody, domain.Product]{
		Method: http.MethodDelete,
		Path:   "/products/:id",
		Binder: ez.BindOptionalJSON,
		Handler: func(c *gin.Context, in *deleteBody) (domain.Product, error) {
			hard := in.IsHardDelete
			if q := c.Query("hard"); q != "" {
				v, err := strconv.ParseBool(q)
				if err != nil {
					return domain.Product{}, domain.Validation(`"hard" must be a boolean`)
				}
				hard = hard || v
			}
			return h.svc.DeleteProduct(c.Request.Context(), c.Param("id"), hard)
		},
	})
}
