package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"catalog-api/internal/domain"
)

func TestCatalogLifecycleScenario(t *testing.T) {
	f := newCatalogFixture(t, nil)
	ctx := adminCtx()

	shoes := f.category(t, "shoes", "Shoes")
	assert.True(t, shoes.IsDeleteable)

	sneaker := f.product(t, "Sneaker", 50, "shoes")
	got, err := f.svc.GetCategory(ctx, "shoes")
	require.NoError(t, err)
	assert.Equal(t, []string{sneaker.ID}, got.ProductIDs)

	deleted, err := f.svc.DeleteProduct(ctx, sneaker.ID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSoftDeleted, deleted.Lifecycle.State)
	assert.True(t, deleted.Lifecycle.DeletedAt.Equal(testNow))

	got, err = f.svc.GetCategory(ctx, "shoes")
	require.NoError(t, err)
	assert.Equal(t, []string{sneaker.ID}, got.ProductIDs, "soft delete keeps membership")
	f.requireConsistent(t)

	restored, err := f.svc.RestoreProduct(ctx, sneaker.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, restored.Lifecycle.State)
	assert.True(t, restored.Lifecycle.DeletedAt.IsZero())
	assert.Equal(t, "shoes", restored.CategoryID)

	res, err := f.svc.DeleteCategory(ctx, "shoes", "")
	require.NoError(t, err)
	assert.Equal(t, "uncategorized", res.FallbackCategoryID)
	assert.Equal(t, []string{sneaker.ID}, res.MovedProductIDs)

	view, err := f.svc.GetProduct(ctx, sneaker.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "uncategorized", view.CategoryID)

	fb, err := f.svc.GetCategory(ctx, "uncategorized")
	require.NoError(t, err)
	assert.Contains(t, fb.ProductIDs, sneaker.ID)

	_, err = f.svc.GetCategory(ctx, "shoes")
	requireKind(t, domain.KindNotFound, err)
	f.requireConsistent(t)

	assert.Equal(t, []string{
		EventCategoryCreated,
		EventProductCreated,
		EventProductSoftDeleted,
		EventProductRestored,
		EventCategoryDeleted,
	}, f.events.types())
}

func TestCreateProductRequiresExistingCategory(t *testing.T) {
	f := newCatalogFixture(t, nil)

	_, err := f.svc.CreateProduct(adminCtx(), CreateProductInput{Name: "Lamp", Price: ptr(10.0), CategoryID: "nope"})
	requireKind(t, domain.KindValidation, err)

	page, err := f.svc.ListProducts(context.Background(), ListQuery{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	ms, err := f.store.AllMemberships(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func TestCreateProductReportsEveryInvalidField(t *testing.T) {
	f := newCatalogFixture(t, nil)

	_, err := f.svc.CreateProduct(adminCtx(), CreateProductInput{Price: ptr(-1.0), Images: []string{"not a url"}})
	requireKind(t, domain.KindValidation, err)

	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.ElementsMatch(t, []string{
		`"name" is required`,
		`"price" must be greater than or equal to 0`,
		`"categoryId" is required`,
		`"images[0]" must be a valid URL`,
	}, de.Details)
}

func TestMutationsRequireAdmin(t *testing.T) {
	f := newCatalogFixture(t, nil)
	f.category(t, "books", "Books")
	p := f.product(t, "Dune", 12, "books")

	tests := []struct {
		name string
		ctx  context.Context
		want domain.Kind
	}{
		{"anonymous", context.Background(), domain.KindUnauthenticated},
		{"member", memberCtx(), domain.KindForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateProduct(tt.ctx, CreateProductInput{Name: "x", Price: ptr(1.0), CategoryID: "books"})
			requireKind(t, tt.want, err)
			_, err = f.svc.UpdateProduct(tt.ctx, p.ID, UpdateProductInput{Name: ptr("y")})
			requireKind(t, tt.want, err)
			_, err = f.svc.DeleteProduct(tt.ctx, p.ID, true)
			requireKind(t, tt.want, err)
			_, err = f.svc.RestoreProduct(tt.ctx, p.ID)
			requireKind(t, tt.want, err)
			_, err = f.svc.CreateCategory(tt.ctx, CreateCategoryInput{Name: "z"})
			requireKind(t, tt.want, err)
			_, err = f.svc.DeleteCategory(tt.ctx, "books", "")
			requireKind(t, tt.want, err)
		})
	}

	view, err := f.svc.GetProduct(context.Background(), p.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "Dune", view.Name)
}

func TestUpdateProductMovesMembership(t *testing.T) {
	f := newCatalogFixture(t, nil)
	f.category(t, "a", "A")
	f.category(t, "b", "B")
	p := f.product(t, "Mug", 8, "a")

	later := testNow.Add(time.Hour)
	f.svc.now = func() time.Time { return later }

	up, err := f.svc.UpdateProduct(adminCtx(), p.ID, UpdateProductInput{CategoryID: ptr("b"), Price: ptr(9.5)})
	require.NoError(t, err)
	assert.Equal(t, "b", up.CategoryID)
	assert.Equal(t, 9.5, up.Price)
	assert.Equal(t, "Mug", up.Name)
	assert.True(t, up.UpdatedAt.Equal(later))
	assert.True(t, up.CreatedAt.Equal(testNow))

	a, err := f.svc.GetCategory(adminCtx(), "a")
	require.NoError(t, err)
	assert.Empty(t, a.ProductIDs)
	b, err := f.svc.GetCategory(adminCtx(), "b")
	require.NoError(t, err)
	assert.Equal(t, []string{p.ID}, b.ProductIDs)
	f.requireConsistent(t)
}

func TestUpdateProductRejections(t *testing.T) {
	f := newCatalogFixture(t, nil)
	f.category(t, "a", "A")
	p := f.product(t, "Mug", 8, "a")

	_, err := f.svc.UpdateProduct(adminCtx(), p.ID, UpdateProductInput{})
	requireKind(t, domain.KindValidation, err)

	_, err = f.svc.UpdateProduct(adminCtx(), p.ID, UpdateProductInput{Name: ptr("  ")})
	requireKind(t, domain.KindValidation, err)

	_, err = f.svc.UpdateProduct(adminCtx(), p.ID, UpdateProductInput{CategoryID: ptr("missing")})
	requireKind(t, domain.KindValidation, err)

	_, err = f.svc.UpdateProduct(adminCtx(), "nope", UpdateProductInput{Name: ptr("x")})
	requireKind(t, domain.KindNotFound, err)

	_, err = f.svc.DeleteProduct(adminCtx(), p.ID, false)
	require.NoError(t, err)
	_, err = f.svc.UpdateProduct(adminCtx(), p.ID, UpdateProductInput{Name: ptr("x")})
	requireKind(t, domain.KindConflict, err)
	f.requireConsistent(t)
}

func TestRestoreRequiresSoftDeleted(t *testing.T) {
	f := newCatalogFixture(t, nil)
	f.category(t, "a", "A")
	active := f.product(t, "Active", 1, "a")
	gone := f.product(t, "Gone", 1, "a")

	_, err := f.svc.RestoreProduct(adminCtx(), active.ID)
	requireKind(t, domain.KindConflict, err)

	_, err = f.svc.RestoreProduct(adminCtx(), "missing")
	requireKind(t, domain.KindNotFound, err)

	_, err = f.svc.DeleteProduct(adminCtx(), gone.ID, true)
	require.NoError(t, err)
	_, err = f.svc.RestoreProduct(adminCtx(), gone.ID)
	requireKind(t, domain.KindNotFound, err)
}

func TestSoftDeleteTwiceConflicts(t *testing.T) {
	f := newCatalogFixture(t, nil)
	f.category(t, "a", "A")
	p := f.product(t, "P", 1, "a")

	_, err := f.svc.DeleteProduct(adminCtx(), p.ID, false)
	require.NoError(t, err)
	_, err = f.svc.DeleteProduct(adminCtx(), p.ID, false)
	requireKind(t, domain.KindConflict, err)
}

func TestHardDeleteRemovesMembership(t *testing.T) {
	for _, softFirst := range []bool{false, true} {
		f := newCatalogFixture(t, nil)
		f.category(t, "a", "A")
		p := f.product(t, "P", 1, "a")
		keep := f.product(t, "Keep", 1, "a")

		if softFirst {
			_, err := f.svc.DeleteProduct(adminCtx(), p.ID, false)
			require.NoError(t, err)
		}
		_, err := f.svc.DeleteProduct(adminCtx(), p.ID, true)
		require.NoError(t, err)

		got, err := f.store.GetProduct(context.Background(), p.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
		a, err := f.svc.GetCategory(adminCtx(), "a")
		require.NoError(t, err)
		assert.Equal(t, []string{keep.ID}, a.ProductIDs)

		_, err = f.svc.DeleteProduct(adminCtx(), p.ID, true)
		requireKind(t, domain.KindNotFound, err)
		f.requireConsistent(t)
	}
}

func TestDeleteCategoryRules(t *testing.T) {
	f := newCatalogFixture(t, nil)
	f.category(t, "a", "A")
	f.category(t, "b", "B")
	_, err := f.svc.CreateCategory(adminCtx(), CreateCategoryInput{ID: "pinned", Name: "Pinned", IsDeleteable: ptr(false)})
	require.NoError(t, err)
	p1 := f.product(t, "P1", 1, "a")
	p2 := f.product(t, "P2", 2, "a")
	_, err = f.svc.DeleteProduct(adminCtx(), p2.ID, false)
	require.NoError(t, err)

	_, err = f.svc.DeleteCategory(adminCtx(), "uncategorized", "")
	requireKind(t, domain.KindConflict, err)
	_, err = f.svc.DeleteCategory(adminCtx(), "pinned", "a")
	requireKind(t, domain.KindConflict, err)
	_, err = f.svc.DeleteCategory(adminCtx(), "missing", "")
	requireKind(t, domain.KindNotFound, err)
	_, err = f.svc.DeleteCategory(adminCtx(), "a", "a")
	requireKind(t, domain.KindValidation, err)
	_, err = f.svc.DeleteCategory(adminCtx(), "a", "ghost")
	requireKind(t, domain.KindValidation, err)

	res, err := f.svc.DeleteCategory(adminCtx(), "a", "b")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{p1.ID, p2.ID}, res.MovedProductIDs, "soft-deleted products move too")

	b, err := f.svc.GetCategory(adminCtx(), "b")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{p1.ID, p2.ID}, b.ProductIDs)
	f.requireConsistent(t)
}

func TestListCategoriesCounts(t *testing.T) {
	f := newCatalogFixture(t, nil)
	f.category(t, "a", "Alpha")
	f.product(t, "P1", 1, "a")
	p2 := f.product(t, "P2", 1, "a")
	_, err := f.svc.DeleteProduct(adminCtx(), p2.ID, false)
	require.NoError(t, err)

	cats, err := f.svc.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 2)
	byID := map[string]domain.CategorySummary{}
	for _, c := range cats {
		byID[c.ID] = c
	}
	assert.EqualValues(t, 2, byID["a"].ProductCount)
	assert.EqualValues(t, 1, byID["a"].ActiveProductCount)
	assert.EqualValues(t, 0, byID["uncategorized"].ProductCount)
	assert.False(t, byID["uncategorized"].IsDeleteable)
}

func TestCategoryCreateAndRename(t *testing.T) {
	f := newCatalogFixture(t, nil)

	c, err := f.svc.CreateCategory(adminCtx(), CreateCategoryInput{Name: "  Garden "})
	require.NoError(t, err)
	assert.Equal(t, "Garden", c.Name)
	assert.NotEmpty(t, c.ID)

	_, err = f.svc.CreateCategory(adminCtx(), CreateCategoryInput{ID: c.ID, Name: "Dup"})
	requireKind(t, domain.KindConflict, err)
	_, err = f.svc.CreateCategory(adminCtx(), CreateCategoryInput{ID: "a/b", Name: "Bad"})
	requireKind(t, domain.KindValidation, err)

	r, err := f.svc.RenameCategory(adminCtx(), c.ID, RenameCategoryInput{Name: "Garden & Patio"})
	require.NoError(t, err)
	assert.Equal(t, "Garden & Patio", r.Name)
	_, err = f.svc.RenameCategory(adminCtx(), "missing", RenameCategoryInput{Name: "x"})
	requireKind(t, domain.KindNotFound, err)
	_, err = f.svc.RenameCategory(adminCtx(), c.ID, RenameCategoryInput{})
	requireKind(t, domain.KindValidation, err)
}

func TestEnsureFallbackCategoryIsIdempotent(t *testing.T) {
	f := newCatalogFixture(t, nil)
	for i := 0; i < 2; i++ {
		c, err := f.svc.EnsureFallbackCategory(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "uncategorized", c.ID)
		assert.False(t, c.IsDeleteable)
	}
	cats, err := f.svc.ListCategories(context.Background())
	require.NoError(t, err)
	assert.Len(t, cats, 1)
}

func TestConcurrentWritesIntoOneCategory(t *testing.T) {
	f := newCatalogFixture(t, nil)
	ctx := adminCtx()
	f.category(t, "a", "A")
	f.category(t, "b", "B")
	var doomed, movers []string
	for i := 0; i < 4; i++ {
		doomed = append(doomed, f.product(t, fmt.Sprintf("old-%d", i), 1, "a").ID)
	}
	for i := 0; i < 6; i++ {
		movers = append(movers, f.product(t, fmt.Sprintf("mover-%d", i), 1, "b").ID)
	}

	var g errgroup.Group
	for i := 0; i < 12; i++ {
		g.Go(func() error {
			_, err := f.svc.CreateProduct(ctx, CreateProductInput{Name: fmt.Sprintf("new-%d", i), Price: ptr(2.0), CategoryID: "a"})
			return err
		})
	}
	for _, id := range movers {
		g.Go(func() error {
			_, err := f.svc.UpdateProduct(ctx, id, UpdateProductInput{CategoryID: ptr("a")})
			return err
		})
	}
	for _, id := range doomed {
		g.Go(func() error {
			_, err := f.svc.DeleteProduct(ctx, id, true)
			return err
		})
	}
	require.NoError(t, g.Wait())

	inA, err := f.store.Members(context.Background(), "a")
	require.NoError(t, err)
	assert.Len(t, inA, 12+6)
	for _, id := range movers {
		assert.Contains(t, inA, id)
	}
	for _, id := range doomed {
		assert.NotContains(t, inA, id)
	}
	inB, err := f.store.Members(context.Background(), "b")
	require.NoError(t, err)
	assert.Empty(t, inB)
	f.requireConsistent(t)
}

// vanishingStore loses the create race and then cannot find the winner's row.
type vanishingStore struct{ domain.CatalogStore }

func (vanishingStore) GetCategory(context.Context, string, domain.LockMode) (*domain.Category, error) {
	return nil, nil
}

func (vanishingStore) CreateCategory(context.Context, *domain.Category) error {
	return domain.Conflict("category already exists")
}

func TestEnsureFallbackCategoryLostRace(t *testing.T) {
	svc, err := NewCatalogService(CatalogServiceDeps{
		Store:              vanishingStore{},
		FallbackCategoryID: "uncategorized",
	})
	require.NoError(t, err)

	_, err = svc.EnsureFallbackCategory(context.Background())
	require.ErrorIs(t, err, errFallbackVanished)
	assert.NotContains(t, err.Error(), "%!w")
	assert.Contains(t, err.Error(), `"uncategorized"`)
}

// failingStore injects storage faults into the transactional store.
type failingStore struct {
	domain.CatalogStore
	createProduct error
	blockAdd      bool
}

func (s *failingStore) WithinTx(ctx context.Context, fn func(tx domain.CatalogStore) error) error {
	return s.CatalogStore.WithinTx(ctx, func(tx domain.CatalogStore) error {
		return fn(&failingStore{CatalogStore: tx, createProduct: s.createProduct, blockAdd: s.blockAdd})
	})
}

func (s *failingStore) CreateProduct(ctx context.Context, p *domain.Product) error {
	if s.createProduct != nil {
		return s.createProduct
	}
	return s.CatalogStore.CreateProduct(ctx, p)
}

func (s *failingStore) AddMembers(ctx context.Context, categoryID string, ids ...string) error {
	if s.blockAdd {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.CatalogStore.AddMembers(ctx, categoryID, ids...)
}

func TestFailedProductWriteRollsBackMembership(t *testing.T) {
	fs := &failingStore{}
	f := newCatalogFixture(t, func(s domain.CatalogStore) domain.CatalogStore {
		fs.CatalogStore = s
		return fs
	})
	f.category(t, "a", "A")

	fs.createProduct = errors.New("disk full")
	_, err := f.svc.CreateProduct(adminCtx(), CreateProductInput{Name: "P", Price: ptr(1.0), CategoryID: "a"})
	requireKind(t, domain.KindIntegrity, err)

	ms, err := f.store.AllMemberships(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ms, "membership write must roll back with the product")
	assert.NotContains(t, f.events.types(), EventProductCreated)
}

func TestTimedOutMembershipUpdateIsNotSuccess(t *testing.T) {
	fs := &failingStore{}
	f := newCatalogFixture(t, func(s domain.CatalogStore) domain.CatalogStore {
		fs.CatalogStore = s
		return fs
	}, func(d *CatalogServiceDeps) { d.StoreTimeout = 50 * time.Millisecond })
	f.category(t, "a", "A")

	fs.blockAdd = true
	_, err := f.svc.CreateProduct(adminCtx(), CreateProductInput{Name: "P", Price: ptr(1.0), CategoryID: "a"})
	requireKind(t, domain.KindIntegrity, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAuditAndRepair(t *testing.T) {
	f := newCatalogFixture(t, nil)
	ctx := context.Background()
	f.category(t, "a", "A")
	f.category(t, "b", "B")
	p1 := f.product(t, "P1", 1, "a")
	p2 := f.product(t, "P2", 1, "b")
	p3 := f.product(t, "P3", 1, "b")

	// break the sets behind the service's back
	require.NoError(t, f.store.RemoveMembers(ctx, "a", p1.ID))
	require.NoError(t, f.store.AddMembers(ctx, "a", p2.ID))
	require.NoError(t, f.store.DeleteCategory(ctx, "b"))

	vs, err := f.svc.AuditIntegrity(adminCtx())
	require.NoError(t, err)
	assert.ElementsMatch(t, []Violation{
		{Kind: MissingMembership, ProductID: p1.ID, CategoryID: "a"},
		{Kind: DanglingCategory, ProductID: p2.ID, CategoryID: "b"},
		{Kind: DanglingCategory, ProductID: p3.ID, CategoryID: "b"},
		{Kind: StrayMembership, ProductID: p2.ID, CategoryID: "a"},
		{Kind: StrayMembership, ProductID: p2.ID, CategoryID: "b"},
		{Kind: StrayMembership, ProductID: p3.ID, CategoryID: "b"},
	}, vs)

	_, err = f.svc.RepairIntegrity(memberCtx())
	requireKind(t, domain.KindForbidden, err)

	rep, err := f.svc.RepairIntegrity(adminCtx())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{p2.ID, p3.ID}, rep.Moved)
	assert.Equal(t, 3, rep.Added)
	assert.Equal(t, 3, rep.Removed)
	f.requireConsistent(t)

	view, err := f.svc.GetProduct(ctx, p3.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "uncategorized", view.CategoryID)
}
