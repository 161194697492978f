package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/events"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/social"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	operationCreate = "catalog.create_listing"
	operationCancel = "catalog.cancel_listing"
	operationDetail = "catalog.detail"
	operationSearch = "catalog.search"
	operationView   = "catalog.record_view"

	minPrice       = 1
	maxPrice       = 9_999_999
	maxTitleLength = 255
)

var (
	// ErrProductNotFound reports an unknown product id.
	ErrProductNotFound = fmt.Errorf("%w: product not found", failure.ErrNotFound)
	// ErrNotSeller rejects a listing change by anyone but its seller.
	ErrNotSeller = fmt.Errorf("%w: only the seller may change this listing", failure.ErrForbidden)
	// ErrNotListed rejects changes to a product that already left the catalog.
	ErrNotListed = fmt.Errorf("%w: product is no longer listed", failure.ErrConflict)
	// ErrAlreadyPurchased rejects cancelling a product that has a purchase.
	ErrAlreadyPurchased = fmt.Errorf("%w: product already has a purchase", failure.ErrConflict)
)

// SaleLedger tells the catalog whether a product has been bought. It is
// consulted inside the cancel transaction.
type SaleLedger interface {
	HasSale(tx *gorm.DB, productID uint64) (bool, error)
}

// ServiceConfig describes the dependencies required by the catalog service.
type ServiceConfig struct {
	Database  *gorm.DB
	Notifier  *notifications.Service
	Sales     SaleLedger
	Publisher events.Publisher
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service manages listings.
type Service struct {
	db        *gorm.DB
	notifier  *notifications.Service
	sales     SaleLedger
	publisher events.Publisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewService constructs the catalog service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("catalog: database connection required")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("catalog: notifier required")
	}
	if cfg.Sales == nil {
		return nil, fmt.Errorf("catalog: sale ledger required")
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NewNoop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:        cfg.Database,
		notifier:  cfg.Notifier,
		sales:     cfg.Sales,
		publisher: publisher,
		now:       clock,
		logger:    logger,
	}, nil
}

// Listing is the create-listing form.
type Listing struct {
	Title          string
	Description    string
	Price          int64
	Condition      string
	SaleType       string
	Category       string
	ShippingOrigin string
	ShippingDays   string
	ImageURLs      []string
	Tags           []string
}

// CreateListing stores a new listing for seller, then notifies the seller and
// every follower of the seller in the same transaction.
func (s *Service) CreateListing(ctx context.Context, seller users.User, listing Listing) (Product, error) {
	title := strings.TrimSpace(listing.Title)
	if title == "" {
		return Product{}, failure.Invalid("title", "is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return Product{}, failure.Invalid("title", fmt.Sprintf("must be at most %d characters", maxTitleLength))
	}
	if listing.Price < minPrice || listing.Price > maxPrice {
		return Product{}, failure.Invalid("price", fmt.Sprintf("must be between %d and %d", minPrice, maxPrice))
	}
	condition, err := ParseCondition(listing.Condition)
	if err != nil {
		return Product{}, failure.Invalid("condition", "is not a known grade")
	}
	saleType, err := ParseSaleType(listing.SaleType)
	if err != nil {
		return Product{}, failure.Invalid("sale_type", "is not a known sale type")
	}

	now := s.now().UTC()
	product := Product{
		Title:          title,
		Description:    strings.TrimSpace(listing.Description),
		Price:          listing.Price,
		Condition:      condition,
		SaleType:       saleType,
		Category:       strings.TrimSpace(listing.Category),
		ShippingOrigin: strings.TrimSpace(listing.ShippingOrigin),
		ShippingDays:   strings.TrimSpace(listing.ShippingDays),
		SellerID:       seller.ID,
		Status:         StatusListed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, imageURL := range listing.ImageURLs {
		imageURL = strings.TrimSpace(imageURL)
		if imageURL == "" {
			continue
		}
		product.Images = append(product.Images, ProductImage{URL: imageURL, SortOrder: len(product.Images), CreatedAt: now})
	}
	if len(product.Images) > 0 {
		product.ImageURL = product.Images[0].URL
	}
	for _, tag := range ParseTags(listing.Tags) {
		product.Tags = append(product.Tags, ProductTag{Tag: tag, CreatedAt: now})
	}

	var created []notifications.Notification
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&product).Error; err != nil {
			return failure.Wrap(operationCreate, "insert_failed", err)
		}

		followers, err := social.Followers(tx, seller.Email)
		if err != nil {
			return failure.Wrap(operationCreate, "follower_lookup_failed", err)
		}
		productID := product.ID
		drafts := []notifications.Draft{{
			Recipient: seller.Email,
			Type:      notifications.TypeListingComplete,
			Title:     "出品が完了しました",
			Message:   fmt.Sprintf("「%s」を出品しました。", product.Title),
			ProductID: &productID,
		}}
		for _, follower := range followers {
			drafts = append(drafts, notifications.Draft{
				Recipient: follower,
				Sender:    seller.Email,
				Type:      notifications.TypeFollowListing,
				Title:     "フォロー中のユーザーが出品しました",
				Message:   fmt.Sprintf("%sさんが「%s」を出品しました。", seller.DisplayName(), product.Title),
				ProductID: &productID,
			})
		}
		created, err = s.notifier.Emit(tx, drafts...)
		return err
	})
	if err != nil {
		s.logError(operationCreate, "transaction_failed", err, zap.Uint64("seller_id", seller.ID))
		return Product{}, err
	}

	s.notifier.Deliver(ctx, created)
	s.publish(ctx, events.Event{
		Name:        events.ListingCreated,
		AggregateID: strconv.FormatUint(product.ID, 10),
		OccurredAt:  now,
		Payload: map[string]any{
			"product_id": product.ID,
			"seller_id":  seller.ID,
			"price":      product.Price,
			"category":   product.Category,
			"tags":       product.TagNames(),
		},
	})
	return product, nil
}

// Detail is a product with its seller and impression count.
type Detail struct {
	Product   Product
	Seller    *users.User
	ViewCount int64
}

// Get loads a product with its gallery and tags regardless of status.
func (s *Service) Get(ctx context.Context, productID uint64) (Product, error) {
	return Load(s.db.WithContext(ctx), productID)
}

// Detail loads a product for its detail page and records an impression.
// Impression failures never fail the read.
func (s *Service) Detail(ctx context.Context, productID uint64) (Detail, error) {
	db := s.db.WithContext(ctx)
	product, err := Load(db, productID)
	if err != nil {
		if !errors.Is(err, ErrProductNotFound) {
			s.logError(operationDetail, "load_failed", err, zap.Uint64("product_id", productID))
		}
		return Detail{}, err
	}

	s.RecordView(ctx, productID)

	detail := Detail{Product: product}
	seller, err := users.Lookup(db, product.SellerID)
	if err == nil {
		detail.Seller = &seller
	} else if !errors.Is(err, users.ErrUserNotFound) {
		return Detail{}, failure.Wrap(operationDetail, "seller_lookup_failed", err)
	}

	counts, err := ViewCounts(db, []uint64{productID})
	if err != nil {
		s.logError(operationDetail, "view_count_failed", err, zap.Uint64("product_id", productID))
	}
	detail.ViewCount = counts[productID]
	return detail, nil
}

// RecordView appends an impression and swallows any failure.
func (s *Service) RecordView(ctx context.Context, productID uint64) {
	view := ProductView{ProductID: productID, ViewedAt: s.now().UTC()}
	if err := s.db.WithContext(ctx).Create(&view).Error; err != nil {
		s.logger.Warn("product view not recorded",
			zap.String("operation", operationView),
			zap.Uint64("product_id", productID),
			zap.Error(err))
	}
}

// Cancel delists a product. Only its seller may do so, only while it is
// listed and only before anyone bought it.
func (s *Service) Cancel(ctx context.Context, productID uint64, seller users.User) (Product, error) {
	var cancelled Product
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product Product
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", productID).Take(&product).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProductNotFound
		}
		if err != nil {
			return failure.Wrap(operationCancel, "load_failed", err)
		}
		if product.SellerID != seller.ID {
			return ErrNotSeller
		}
		if product.Status != StatusListed {
			return ErrNotListed
		}
		sold, err := s.sales.HasSale(tx, productID)
		if err != nil {
			return failure.Wrap(operationCancel, "sale_lookup_failed", err)
		}
		if sold {
			return ErrAlreadyPurchased
		}
		product.Status = StatusDelisted
		product.UpdatedAt = s.now().UTC()
		if err := tx.Model(&Product{}).Where("id = ?", productID).
			Updates(map[string]interface{}{"status": StatusDelisted, "updated_at": product.UpdatedAt}).Error; err != nil {
			return failure.Wrap(operationCancel, "update_failed", err)
		}
		cancelled = product
		return nil
	})
	if err != nil {
		if failure.CodeOf(err) != "" {
			s.logError(operationCancel, "transaction_failed", err, zap.Uint64("product_id", productID))
		}
		return Product{}, err
	}
	s.publish(ctx, events.Event{
		Name:        events.ListingCancelled,
		AggregateID: strconv.FormatUint(productID, 10),
		OccurredAt:  cancelled.UpdatedAt,
		Payload:     map[string]any{"product_id": productID, "seller_id": seller.ID},
	})
	return cancelled, nil
}

// RecentBySellers returns the newest listed products of the given sellers.
func (s *Service) RecentBySellers(ctx context.Context, sellerEmails []string, limit int) ([]Product, error) {
	if len(sellerEmails) == 0 {
		return nil, nil
	}
	db := s.db.WithContext(ctx)
	sellerIDs, err := users.IDsForEmails(db, sellerEmails)
	if err != nil {
		return nil, failure.Wrap(operationSearch, "seller_lookup_failed", err)
	}
	if len(sellerIDs) == 0 {
		return nil, nil
	}
	var products []Product
	err = withGallery(db).
		Where("status = ? AND seller_id IN ?", StatusListed, sellerIDs).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&products).Error
	if err != nil {
		return nil, failure.Wrap(operationSearch, "feed_query_failed", err)
	}
	return products, nil
}

// ListByIDs loads products in the order of ids, skipping unknown ones.
func (s *Service) ListByIDs(ctx context.Context, ids []uint64) ([]Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var products []Product
	if err := withGallery(s.db.WithContext(ctx)).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, failure.Wrap(operationSearch, "id_query_failed", err)
	}
	byID := make(map[uint64]Product, len(products))
	for _, product := range products {
		byID[product.ID] = product
	}
	ordered := make([]Product, 0, len(products))
	for _, id := range ids {
		if product, ok := byID[id]; ok {
			ordered = append(ordered, product)
		}
	}
	return ordered, nil
}

// ListBySeller returns every product of a seller, newest first.
func (s *Service) ListBySeller(ctx context.Context, sellerID uint64) ([]Product, error) {
	var products []Product
	err := withGallery(s.db.WithContext(ctx)).
		Where("seller_id = ?", sellerID).
		Order("created_at DESC").Order("id DESC").
		Find(&products).Error
	if err != nil {
		return nil, failure.Wrap(operationSearch, "seller_query_failed", err)
	}
	return products, nil
}

// Count returns how many products exist in any status.
func (s *Service) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Product{}).Count(&count).Error
	return count, err
}

// Load fetches a product with gallery and tags through db, which may be a transaction.
func Load(db *gorm.DB, productID uint64) (Product, error) {
	var product Product
	err := withGallery(db).Where("id = ?", productID).Take(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Product{}, ErrProductNotFound
	}
	return product, err
}

// MarkSold forces a product out of the catalog. It is idempotent.
func MarkSold(tx *gorm.DB, productID uint64, at time.Time) error {
	return tx.Model(&Product{}).Where("id = ?", productID).
		Updates(map[string]interface{}{"status": StatusDelisted, "updated_at": at}).Error
}

// ViewCounts returns impression totals for the given products.
func ViewCounts(db *gorm.DB, productIDs []uint64) (map[uint64]int64, error) {
	counts := make(map[uint64]int64, len(productIDs))
	if len(productIDs) == 0 {
		return counts, nil
	}
	var rows []struct {
		ProductID uint64
		Total     int64
	}
	err := db.Model(&ProductView{}).
		Select("product_id, COUNT(*) AS total").
		Where("product_id IN ?", productIDs).
		Group("product_id").
		Scan(&rows).Error
	if err != nil {
		return counts, err
	}
	for _, row := range rows {
		counts[row.ProductID] = row.Total
	}
	return counts, nil
}

func withGallery(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Images", func(tx *gorm.DB) *gorm.DB { return tx.Order("sort_order ASC").Order("id ASC") }).
		Preload("Tags", func(tx *gorm.DB) *gorm.DB { return tx.Order("id ASC") })
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("domain event not published", zap.String("event", event.Name), zap.Error(err))
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	failure.LogError(s.logger, "catalog service failure", operation, reason, err, fields...)
}
