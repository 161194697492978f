package recommend

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/favorites"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/social"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/testutil"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	"gorm.io/gorm"
)

type recommendFixture struct {
	db      *gorm.DB
	service *Service
	clock   time.Time
}

func newFixture(t *testing.T) *recommendFixture {
	t.Helper()
	db := testutil.OpenDatabase(t,
		&users.User{}, &social.Block{},
		&catalog.Product{}, &catalog.ProductImage{}, &catalog.ProductTag{},
		&favorites.Favorite{},
	)
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return &recommendFixture{db: db, service: service, clock: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *recommendFixture) user(t *testing.T, email string) users.User {
	t.Helper()
	user := users.User{UserID: email, UserName: email, Email: email, PasswordHash: "x", Status: users.StatusActive, CreatedAt: f.clock, UpdatedAt: f.clock}
	if err := f.db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}

func (f *recommendFixture) product(t *testing.T, seller users.User, title, category string, tags ...string) catalog.Product {
	t.Helper()
	f.clock = f.clock.Add(time.Minute)
	product := catalog.Product{Title: title, Category: category, Price: 100, SellerID: seller.ID, Status: catalog.StatusListed, CreatedAt: f.clock, UpdatedAt: f.clock}
	for _, tag := range tags {
		product.Tags = append(product.Tags, catalog.ProductTag{Tag: tag})
	}
	if err := f.db.Create(&product).Error; err != nil {
		t.Fatalf("failed to seed product: %v", err)
	}
	return product
}

func (f *recommendFixture) favorite(t *testing.T, viewer users.User, product catalog.Product) {
	t.Helper()
	if err := f.db.Create(&favorites.Favorite{UserID: viewer.ID, ProductID: product.ID, CreatedAt: f.clock}).Error; err != nil {
		t.Fatalf("failed to seed favorite: %v", err)
	}
}

func ids(products []catalog.Product) []uint64 {
	out := make([]uint64, 0, len(products))
	for _, product := range products {
		out = append(out, product.ID)
	}
	return out
}

func TestRecommendWithoutViewerReturnsRecent(t *testing.T) {
	fixture := newFixture(t)
	seller := fixture.user(t, "seller@example.com")
	older := fixture.product(t, seller, "old", "")
	newer := fixture.product(t, seller, "new", "")

	products, err := fixture.service.Recommend(context.Background(), users.User{}, 0)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	got := ids(products)
	if len(got) != 2 || got[0] != newer.ID || got[1] != older.ID {
		t.Fatalf("expected newest first, got %v", got)
	}
}

func TestRecommendRanksAndExcludes(t *testing.T) {
	fixture := newFixture(t)
	viewer := fixture.user(t, "viewer@example.com")
	seller := fixture.user(t, "seller@example.com")
	blocked := fixture.user(t, "blocked@example.com")

	liked := fixture.product(t, seller, "--", "小説", "mystery")
	fixture.favorite(t, viewer, liked)
	tagMatch := fixture.product(t, seller, "--", "", "mystery")
	categoryMatch := fixture.product(t, seller, "--", "小説")
	fixture.product(t, viewer, "own", "小説", "mystery")
	fixture.product(t, blocked, "hidden", "小説", "mystery")
	if err := fixture.db.Create(&social.Block{BlockerEmail: blocked.Email, BlockedEmail: viewer.Email, CreatedAt: fixture.clock}).Error; err != nil {
		t.Fatalf("failed to seed block: %v", err)
	}

	products, err := fixture.service.Recommend(context.Background(), viewer, 10)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	got := ids(products)
	if len(got) != 2 || got[0] != tagMatch.ID || got[1] != categoryMatch.ID {
		t.Fatalf("expected tag match then category match, got %v", got)
	}
}
