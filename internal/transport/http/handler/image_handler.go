package handler

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"catalog-api/internal/core/storage"
	"catalog-api/internal/domain"
	"catalog-api/internal/transport/http/ez"
)

const (
	maxImagesPerUpload = 10
	uploadParallelism  = 4
)

// ImageStore 图片路由背后的对象存储
type ImageStore interface {
	Upload(ctx context.Context, name, contentType string, body io.Reader) (storage.Image, error)
	Destroy(ctx context.Context, id string) error
}

type ImageHandler struct {
	store  ImageStore
	guards Guards
	log    *zap.Logger
}

func NewImageHandler(store ImageStore, g Guards, l *zap.Logger) *ImageHandler {
	return &ImageHandler{store: store, guards: g, log: l}
}

func (h *ImageHandler) Priority() int { return 40 }

func (h *ImageHandler) MountAPI(api *gin.RouterGroup) {
	admin := ez.New(h.guards.admin(api), h.log)

	ez.Files(admin, http.MethodPost, "/images/upload", "images", maxImagesPerUpload,
		func(c *gin.Context, files []*multipart.FileHeader) ([]storage.Image, error) {
			return h.uploadAll(c.Request.Context(), files)
		})

	// 替换：与上传同一字段，只取第一个文件；先传新图，成功后再删旧图
	ez.Files(admin, http.MethodPut, "/images/:id", "images", maxImagesPerUpload,
		func(c *gin.Context, files []*multipart.FileHeader) (storage.Image, error) {
			imgs, err := h.uploadAll(c.Request.Context(), files[:1])
			if err != nil {
				return storage.Image{}, err
			}
			if err := h.destroy(c.Request.Context(), c.Param("id")); err != nil {
				h.log.Warn("replaced image not destroyed", zap.String("id", c.Param("id")), zap.Error(err))
			}
			return imgs[0], nil
		})

	ez.RegisterAction(admin, ez.Action[struct{}, gin.H]{
		Method: http.MethodDelete,
		Path:   "/images/:id",
		Binder: ez.BindNone,
		Handler: func(c *gin.Context, _ *struct{}) (gin.H, error) {
			if err := h.destroy(c.Request.Context(), c.Param("id")); err != nil {
				return nil, err
			}
			return gin.H{"id": c.Param("id")}, nil
		},
	})
}

// uploadAll 并发上传并保持顺序；失败时删掉已上传的图片
func (h *ImageHandler) uploadAll(ctx context.Context, files []*multipart.FileHeader) ([]storage.Image, error) {
	out := make([]storage.Image, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadParallelism)
	for i, fh := range files {
		g.Go(func() error {
			f, err := fh.Open()
			if err != nil {
				return err
			}
			defer f.Close()
			img, err := h.store.Upload(gctx, fh.Filename, fh.Header.Get("Content-Type"), f)
			if err != nil {
				return err
			}
			out[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, img := range out {
			if img.ID == "" {
				continue
			}
			if derr := h.store.Destroy(context.WithoutCancel(ctx), img.ID); derr != nil {
				h.log.Warn("orphaned image after failed upload", zap.String("id", img.ID), zap.Error(derr))
			}
		}
		return nil, domain.Internal("upload images", err)
	}
	return out, nil
}

func (h *ImageHandler) destroy(ctx context.Context, id string) error {
	err := h.store.Destroy(ctx, id)
	if errors.Is(err, storage.ErrInvalidImageID) {
		return domain.Validation(`"id" is not a valid image id`)
	}
	if err != nil {
		return domain.Internal("destroy image", err)
	}
	return nil
}
