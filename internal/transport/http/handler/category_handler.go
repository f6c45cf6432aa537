package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"catalog-api/internal/domain"
	"catalog-api/internal/service"
	"catalog-api/internal/transport/http/ez"
)

type CategoryHandler struct {
	svc    *service.CatalogService
	guards Guards
	log    *zap.Logger
}

func NewCategoryHandler(svc *service.CatalogService, g Guards, l *zap.Logger) *CategoryHandler {
	return &CategoryHandler{svc: svc, guards: g, log: l}
}

func (h *CategoryHandler) Priority() int { return 30 }

func (h *CategoryHandler) MountAPI(api *gin.RouterGroup) {
	public := ez.New(api, h.log)
	admin := ez.New(h.guards.admin(api), h.log)

	ez.RegisterAction(public, ez.Action[struct{}, []domain.CategorySummary]{
		Method: http.MethodGet,
		Path:   "/categories",
		Binder: ez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) ([]domain.CategorySummary, error) {
			return h.svc.ListCategories(c.Request.Context())
		},
	})
	ez.RegisterAction(public, ez.Action[struct{}, domain.Category]{
		Method: http.MethodGet,
		Path:   "/categories/:id",
		Binder: ez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (domain.Category, error) {
			return h.svc.GetCategory(c.Request.Context(), c.Param("id"))
		},
	})

	ez.RegisterAction(admin, ez.Action[service.CreateCategoryInput, domain.Category]{
		Method: http.MethodPost,
		Path:   "/categories",
		Binder: ez.BindJSON,
		Status: http.StatusCreated,
		Handler: func(c *gin.Context, in *service.CreateCategoryInput) (domain.Category, error) {
			return h.svc.CreateCategory(c.Request.Context(), *in)
		},
	})
	ez.RegisterAction(admin, ez.Action[service.RenameCategoryInput, domain.Category]{
		Method: http.MethodPut,
		Path:   "/categories/:id",
		Binder: ez.BindJSON,
		Handler: func(c *gin.Context, in *service.RenameCategoryInput) (domain.Category, error) {
			return h.svc.RenameCategory(c.Request.Context(), c.Param("id"), *in)
		},
	})
	// 删除前把商品迁到 fallback 分类（默认 uncategorized）
	ez.RegisterAction(admin, ez.Action[struct{}, service.CategoryDeletion]{
		Method: http.MethodDelete,
		Path:   "/categories/:id",
		Binder: ez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (service.CategoryDeletion, error) {
			return h.svc.DeleteCategory(c.Request.Context(), c.Param("id"), c.Query("fallbackCategoryId"))
		},
	})
}
