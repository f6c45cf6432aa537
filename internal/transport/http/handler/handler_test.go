package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"catalog-api/internal/core/auth"
	"catalog-api/internal/core/database"
	"catalog-api/internal/core/storage"
	"catalog-api/internal/repo"
	"catalog-api/internal/service"
	"catalog-api/internal/transport/http/handler"
	"catalog-api/internal/transport/http/router"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Errors  []string        `json:"errors"`
	Data    json.RawMessage `json:"data"`
}

type memImages struct {
	mu      sync.Mutex
	n       int
	objects map[string]string
	failOn  string
}

func (m *memImages) Upload(_ context.Context, name, _ string, body io.Reader) (storage.Image, error) {
	if name == m.failOn {
		return storage.Image{}, errors.New("bucket unavailable")
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return storage.Image{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	id := name + "-" + string(rune('0'+m.n))
	m.objects[id] = string(b)
	return storage.Image{ID: id, URL: "https://cdn.test/" + id}, nil
}

func (m *memImages) Destroy(_ context.Context, id string) error {
	if strings.Contains(id, "..") {
		return storage.ErrInvalidImageID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, id)
	return nil
}

func (m *memImages) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type server struct {
	api    *gin.Engine
	admin  *gin.Engine
	users  *service.UserService
	images *memImages
}

func newServer(t *testing.T) *server {
	t.Helper()
	l := zap.NewNop()
	db, err := database.NewGorm(database.Opts{Driver: "sqlite", DSN: ":memory:", LogLevel: "silent"}, l)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	userRepo := repo.NewUserRepo(db)
	jwter := &auth.JWTer{Secret: []byte("test"), Issuer: "catalog-api", TTL: time.Hour}
	authSvc, err := service.NewAuthService(service.AuthServiceDeps{Users: userRepo, Tokens: jwter})
	require.NoError(t, err)
	catalog, err := service.NewCatalogService(service.CatalogServiceDeps{
		Store:              repo.NewCatalogRepo(db),
		FallbackCategoryID: "uncategorized",
	})
	require.NoError(t, err)
	_, err = catalog.EnsureFallbackCategory(context.Background())
	require.NoError(t, err)
	users, err := service.NewUserService(userRepo, l)
	require.NoError(t, err)

	guards := handler.NewGuards(service.NewGate(authSvc))
	images := &memImages{objects: map[string]string{}}
	opt := router.EngineOptions{Mode: gin.TestMode, Limits: router.DefaultLimits()}
	opt.Limits.PerIPRPS, opt.Limits.PerIPBurst = 1000, 1000

	apiReg := router.NewRegistry(
		handler.NewAuthHandler(authSvc, guards, l),
		handler.NewProductHandler(catalog, guards, l),
		handler.NewCategoryHandler(catalog, guards, l),
		handler.NewImageHandler(images, guards, l),
	)
	adminReg := router.NewRegistry(handler.NewAdminHandler(users, catalog, l))
	return &server{
		api:    router.NewAPIEngine(l, apiReg, opt),
		admin:  router.NewAdminEngine(l, adminReg, opt, guards.User, guards.Admin),
		users:  users,
		images: images,
	}
}

func call(t *testing.T, h http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v), string(env.Data))
	return v
}

type authData struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
	Token string `json:"accessToken"`
}

type productData struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	CategoryID string  `json:"categoryId"`
	Category   *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"category"`
	Deleted bool `json:"deleted"`
}

func (s *server) signup(t *testing.T, email string) authData {
	t.Helper()
	w, env := call(t, s.api, http.MethodPost, "/api/v1/signup", "", map[string]string{
		"email": email, "password": "secret1", "confirmPassword": "secret1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[authData](t, env)
}

// admin returns a token whose subject was promoted to admin.
func (s *server) adminToken(t *testing.T) string {
	t.Helper()
	a := s.signup(t, "root@example.com")
	_, err := s.users.PromoteBootstrapAdmins(context.Background(), []string{"root@example.com"})
	require.NoError(t, err)
	return a.Token
}

func TestAuthRoutes(t *testing.T) {
	s := newServer(t)

	a := s.signup(t, "Ada@Example.com")
	assert.Equal(t, "ada@example.com", a.User.Email)
	assert.Equal(t, "member", a.User.Role)

	w, env := call(t, s.api, http.MethodPost, "/api/v1/signup", "", map[string]string{"email": "ada@example.com", "password": "secret1", "confirmPassword": "secret1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", env.Error)

	w, env = call(t, s.api, http.MethodPost, "/api/v1/signup", "", map[string]string{"email": "nope", "password": "1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", env.Error)
	assert.Len(t, env.Errors, 3)

	w, env = call(t, s.api, http.MethodPost, "/api/v1/signup", "", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", env.Error)

	w, env = call(t, s.api, http.MethodPost, "/api/v1/signin", "", map[string]string{"email": "ada@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[authData](t, env).Token)

	w, wrongPw := call(t, s.api, http.MethodPost, "/api/v1/signin", "", map[string]string{"email": "ada@example.com", "password": "wrong!"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	_, noUser := call(t, s.api, http.MethodPost, "/api/v1/signin", "", map[string]string{"email": "who@example.com", "password": "wrong!"})
	assert.Equal(t, wrongPw.Message, noUser.Message)

	w, env = call(t, s.api, http.MethodGet, "/api/v1/me", a.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"ada@example.com"`)
	assert.NotContains(t, string(env.Data), "password")

	w, _ = call(t, s.api, http.MethodGet, "/api/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = call(t, s.api, http.MethodGet, "/api/v1/me", "forged.token.value", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCatalogOverHTTP(t *testing.T) {
	s := newServer(t)
	admin := s.adminToken(t)
	member := s.signup(t, "member@example.com").Token

	newCat := map[string]any{"id": "furniture", "name": "Furniture"}
	w, _ := call(t, s.api, http.MethodPost, "/api/v1/categories", "", newCat)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, env := call(t, s.api, http.MethodPost, "/api/v1/categories", member, newCat)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", env.Error)
	w, _ = call(t, s.api, http.MethodPost, "/api/v1/categories", admin, newCat)
	require.Equal(t, http.StatusCreated, w.Code)

	w, env = call(t, s.api, http.MethodPost, "/api/v1/products", admin, map[string]any{"name": "Chair", "price": 10, "categoryId": "nowhere"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", env.Error)

	w, env = call(t, s.api, http.MethodPost, "/api/v1/products", admin, map[string]any{"name": "Chair", "price": 10, "categoryId": "furniture"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	chair := decode[productData](t, env)
	assert.False(t, chair.Deleted)

	w, env = call(t, s.api, http.MethodGet, "/api/v1/products?_expand=category", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[service.Page](t, env)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Furniture", page.Items[0].Category.Name)
	assert.EqualValues(t, 1, page.Pagination.TotalItems)

	w, env = call(t, s.api, http.MethodGet, "/api/v1/categories/furniture", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), chair.ID)

	// soft delete, twice
	w, env = call(t, s.api, http.MethodDelete, "/api/v1/products/"+chair.ID, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[productData](t, env).Deleted)
	w, _ = call(t, s.api, http.MethodDelete, "/api/v1/products/"+chair.ID, admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w, _ = call(t, s.api, http.MethodGet, "/api/v1/products/"+chair.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = call(t, s.api, http.MethodGet, "/api/v1/products?status=deleted", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, env = call(t, s.api, http.MethodGet, "/api/v1/products?status=deleted", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[service.Page](t, env).Items, 1)

	w, env = call(t, s.api, http.MethodPatch, "/api/v1/products/"+chair.ID+"/restore", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[productData](t, env).Deleted)

	// category removal moves the product to the fallback
	w, env = call(t, s.api, http.MethodDelete, "/api/v1/categories/furniture", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	del := decode[service.CategoryDeletion](t, env)
	assert.Equal(t, []string{chair.ID}, del.MovedProductIDs)
	assert.Equal(t, "uncategorized", del.FallbackCategoryID)

	w, env = call(t, s.api, http.MethodGet, "/api/v1/products/"+chair.ID+"?_expand=category", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	moved := decode[productData](t, env)
	require.NotNil(t, moved.Category)
	assert.Equal(t, "uncategorized", moved.Category.ID)

	w, _ = call(t, s.api, http.MethodDelete, "/api/v1/categories/uncategorized", admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, env = call(t, s.api, http.MethodPatch, "/api/v1/products/"+chair.ID, admin, map[string]any{"price": 12.5})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 12.5, decode[productData](t, env).Price)
	w, _ = call(t, s.api, http.MethodPatch, "/api/v1/products/"+chair.ID, admin, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = call(t, s.api, http.MethodDelete, "/api/v1/products/"+chair.ID+"?hard=maybe", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = call(t, s.api, http.MethodDelete, "/api/v1/products/"+chair.ID, admin, map[string]bool{"isHardDelete": true})
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = call(t, s.api, http.MethodPatch, "/api/v1/products/"+chair.ID+"/restore", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = call(t, s.api, http.MethodGet, "/api/v1/categories", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"productCount":0`)
}

func TestListAndSearchOverHTTP(t *testing.T) {
	s := newServer(t)
	admin := s.adminToken(t)

	w, env := call(t, s.api, http.MethodGet, "/api/v1/products", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	empty := decode[service.Page](t, env)
	assert.NotNil(t, empty.Items)
	assert.Zero(t, empty.Pagination.TotalItems)

	for _, name := range []string{"Desk", "Desk Lamp", "Sofa"} {
		w, _ := call(t, s.api, http.MethodPost, "/api/v1/products", admin, map[string]any{"name": name, "price": 5, "categoryId": "uncategorized"})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w, env = call(t, s.api, http.MethodGet, "/api/v1/products?_page=-1&_limit=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", env.Error)

	w, env = call(t, s.api, http.MethodGet, "/api/v1/products?_page=0&_sort=color&_order=up", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, env.Errors, 2)

	w, env = call(t, s.api, http.MethodGet, "/api/v1/products?_limit=2&_sort=name&_order=desc", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[service.Page](t, env)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Sofa", page.Items[0].Name)
	assert.Equal(t, 2, page.Pagination.TotalPages)

	w, env = call(t, s.api, http.MethodGet, "/api/v1/products/search/desk", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]productData](t, env), 2)
}

func multipartBody(t *testing.T, field string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func upload(t *testing.T, s *server, method, path, token, field string, files map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	body, ct := multipartBody(t, field, files)
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.api.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestImageRoutes(t *testing.T) {
	s := newServer(t)
	admin := s.adminToken(t)

	w, env := upload(t, s, http.MethodPost, "/api/v1/images/upload", admin, "images", map[string]string{"a.png": "A", "b.png": "B"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	imgs := decode[[]storage.Image](t, env)
	require.Len(t, imgs, 2)
	assert.Equal(t, 2, s.images.count())

	// replace keeps only the first file of the batch
	w, env = upload(t, s, http.MethodPut, "/api/v1/images/"+imgs[0].ID, admin, "images", map[string]string{"c.png": "C", "d.png": "D"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	replaced := decode[storage.Image](t, env)
	assert.NotEqual(t, imgs[0].ID, replaced.ID)
	assert.Regexp(t, `^[cd]\.png-`, replaced.ID)
	assert.Equal(t, 2, s.images.count())

	w, _ = upload(t, s, http.MethodPut, "/api/v1/images/"+imgs[1].ID, admin, "image", map[string]string{"e.png": "E"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 2, s.images.count())

	s.images.failOn = "bad.png"
	w, env = upload(t, s, http.MethodPost, "/api/v1/images/upload", admin, "images", map[string]string{"ok.png": "1", "bad.png": "2"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", env.Message)
	assert.Equal(t, 2, s.images.count(), "partial uploads are destroyed")

	w, env = upload(t, s, http.MethodPost, "/api/v1/images/upload", admin, "other", map[string]string{"x.png": "1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", env.Error)

	w, _ = call(t, s.api, http.MethodDelete, "/api/v1/images/"+imgs[1].ID, admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, s.images.count())
	w, _ = call(t, s.api, http.MethodDelete, "/api/v1/images/..evil", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	member := s.signup(t, "m@example.com").Token
	w, _ = call(t, s.api, http.MethodDelete, "/api/v1/images/"+imgs[1].ID, member, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminEngine(t *testing.T) {
	s := newServer(t)
	admin := s.adminToken(t)
	m := s.signup(t, "worker@example.com")

	w, _ := call(t, s.admin, http.MethodGet, "/admin/v1/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = call(t, s.admin, http.MethodGet, "/admin/v1/users", m.Token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := call(t, s.admin, http.MethodGet, "/admin/v1/users?q=worker", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	users := decode[service.UserPage](t, env)
	assert.EqualValues(t, 1, users.Total)

	w, env = call(t, s.admin, http.MethodPut, "/admin/v1/users/"+m.User.ID+"/role", admin, map[string]string{"role": "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"role":"admin"`)
	w, _ = call(t, s.admin, http.MethodPut, "/admin/v1/users/"+m.User.ID+"/role", admin, map[string]string{"role": "owner"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = call(t, s.admin, http.MethodGet, "/admin/v1/integrity", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"consistent":true`)

	w, _ = call(t, s.admin, http.MethodPost, "/admin/v1/integrity/repair", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEngineInfrastructure(t *testing.T) {
	s := newServer(t)

	w, _ := call(t, s.api, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "rid-42")
	rec := httptest.NewRecorder()
	s.api.ServeHTTP(rec, req)
	assert.Equal(t, "rid-42", rec.Header().Get("X-Request-ID"))

	w, _ = call(t, s.api, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")

	s.api.GET("/boom", func(*gin.Context) { panic("kaboom") })
	w, env := call(t, s.api, http.MethodGet, "/boom", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", env.Message)
}
