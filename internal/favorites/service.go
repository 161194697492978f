// Package favorites keeps the products each user bookmarked.
package favorites

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const operationFavorite = "favorites.change"

// Favorite links a user to a product they bookmarked.
type Favorite struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    uint64    `gorm:"column:user_id;not null;uniqueIndex:idx_favorite_pair,priority:1"`
	ProductID uint64    `gorm:"column:product_id;not null;uniqueIndex:idx_favorite_pair,priority:2;index"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing favorites.
func (Favorite) TableName() string {
	return "favorites"
}

// ServiceConfig describes the dependencies required by the favorites service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service adds, removes and lists favorites.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the favorites service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("favorites: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// Add bookmarks a product. It reports false when it was already a favorite.
func (s *Service) Add(ctx context.Context, userID, productID uint64) (bool, error) {
	var added bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := catalog.Load(tx, productID); err != nil {
			return err
		}
		favorite := Favorite{UserID: userID, ProductID: productID, CreatedAt: s.now().UTC()}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&favorite)
		if result.Error != nil {
			return failure.Wrap(operationFavorite, "insert_failed", result.Error)
		}
		added = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		if !errors.Is(err, catalog.ErrProductNotFound) {
			s.logError("insert_failed", err, zap.Uint64("product_id", productID))
		}
		return false, err
	}
	return added, nil
}

// Remove drops a bookmark. It reports false when there was none.
func (s *Service) Remove(ctx context.Context, userID, productID uint64) (bool, error) {
	result := s.db.WithContext(ctx).Where("user_id = ? AND product_id = ?", userID, productID).Delete(&Favorite{})
	if result.Error != nil {
		s.logError("delete_failed", result.Error, zap.Uint64("product_id", productID))
		return false, failure.Wrap(operationFavorite, "delete_failed", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// IsFavorite reports whether the user bookmarked the product.
func (s *Service) IsFavorite(ctx context.Context, userID, productID uint64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Favorite{}).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Count(&count).Error
	return count > 0, err
}

// ListProducts returns the user's bookmarked products, most recently added first.
func (s *Service) ListProducts(ctx context.Context, userID uint64) ([]catalog.Product, error) {
	db := s.db.WithContext(ctx)
	ids, err := ProductIDs(db, userID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []catalog.Product{}, nil
	}
	var products []catalog.Product
	if err := db.Preload("Images").Preload("Tags").Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint64]catalog.Product, len(products))
	for _, product := range products {
		byID[product.ID] = product
	}
	ordered := make([]catalog.Product, 0, len(products))
	for _, id := range ids {
		if product, ok := byID[id]; ok {
			ordered = append(ordered, product)
		}
	}
	return ordered, nil
}

// ProductIDs returns the user's favorite product ids, most recently added first.
func ProductIDs(db *gorm.DB, userID uint64) ([]uint64, error) {
	var ids []uint64
	err := db.Model(&Favorite{}).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Pluck("product_id", &ids).Error
	return ids, err
}

func (s *Service) logError(reason string, err error, fields ...zap.Field) {
	failure.LogError(s.logger, "favorites service failure", operationFavorite, reason, err, fields...)
}
