package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"catalog-api/internal/core/database"
	"catalog-api/internal/domain"
	"catalog-api/internal/repo"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewGorm(database.Opts{Driver: "sqlite", DSN: ":memory:", LogLevel: "silent"}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func adminCtx() context.Context {
	return domain.WithIdentity(context.Background(), domain.Identity{UserID: "admin-1", Email: "admin@example.com", Role: domain.RoleAdmin})
}

func memberCtx() context.Context {
	return domain.WithIdentity(context.Background(), domain.Identity{UserID: "member-1", Email: "m@example.com", Role: domain.RoleMember})
}

type recordedEvent struct {
	Type  string
	Event CatalogEvent
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakePublisher) PublishJSON(eventType string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, _ := v.(CatalogEvent)
	f.events = append(f.events, recordedEvent{Type: eventType, Event: ev})
	return nil
}

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type catalogFixture struct {
	svc    *CatalogService
	store  domain.CatalogStore
	events *fakePublisher
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

func newCatalogFixture(t *testing.T, wrap func(domain.CatalogStore) domain.CatalogStore, opts ...func(*CatalogServiceDeps)) catalogFixture {
	t.Helper()
	var store domain.CatalogStore = repo.NewCatalogRepo(newTestDB(t))
	if wrap != nil {
		store = wrap(store)
	}
	pub := &fakePublisher{}
	deps := CatalogServiceDeps{
		Store:                store,
		Events:               pub,
		Clock:                func() time.Time { return testNow },
		NewID:                sequentialIDs(),
		FallbackCategoryID:   "uncategorized",
		FallbackCategoryName: "Uncategorized",
		StoreTimeout:         2 * time.Second,
		MaxPageSize:          100,
	}
	for _, o := range opts {
		o(&deps)
	}
	svc, err := NewCatalogService(deps)
	require.NoError(t, err)
	_, err = svc.EnsureFallbackCategory(context.Background())
	require.NoError(t, err)
	return catalogFixture{svc: svc, store: store, events: pub}
}

func (f catalogFixture) category(t *testing.T, id, name string) domain.Category {
	t.Helper()
	c, err := f.svc.CreateCategory(adminCtx(), CreateCategoryInput{ID: id, Name: name})
	require.NoError(t, err)
	return c
}

func (f catalogFixture) product(t *testing.T, name string, price float64, categoryID string) domain.Product {
	t.Helper()
	p, err := f.svc.CreateProduct(adminCtx(), CreateProductInput{Name: name, Price: &price, CategoryID: categoryID})
	require.NoError(t, err)
	return p
}

// requireConsistent asserts every product is in exactly its own category's set.
func (f catalogFixture) requireConsistent(t *testing.T) {
	t.Helper()
	vs, err := f.svc.AuditIntegrity(adminCtx())
	require.NoError(t, err)
	require.Empty(t, vs)
}

func requireKind(t *testing.T, want domain.Kind, err error) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, want, domain.KindOf(err), "unexpected error: %v", err)
}

func ptr[T any](v T) *T { return &v }
