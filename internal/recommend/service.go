// Package recommend ranks recent listings against what a viewer favorited.
package recommend

import (
	"context"
	"fmt"
	"sort"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/favorites"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/social"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	operationRecommend = "recommend.rank"

	DefaultLimit  = 8
	MaxLimit      = 50
	candidatePool = 300
)

// ServiceConfig describes the dependencies required by the recommender.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service produces recommendation lists.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs the recommender.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("recommend: database connection required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// Recommend returns up to limit listed products for viewer. Anonymous viewers
// and viewers without favorites get the most recent listings.
func (s *Service) Recommend(ctx context.Context, viewer users.User, limit int) ([]catalog.Product, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	db := s.db.WithContext(ctx)

	var (
		favoriteIDs []uint64
		excluded    []uint64
		err         error
	)
	if viewer.ID != 0 {
		favoriteIDs, err = favorites.ProductIDs(db, viewer.ID)
		if err != nil {
			return nil, s.fail("favorites_failed", err)
		}
		blocked, err := social.BlockedCounterparts(db, viewer.Email)
		if err != nil {
			return nil, s.fail("blocks_failed", err)
		}
		excluded, err = users.IDsForEmails(db, blocked)
		if err != nil {
			return nil, s.fail("blocks_failed", err)
		}
		excluded = append(excluded, viewer.ID)
	}

	query := db.Preload("Images").Preload("Tags").
		Where("status = ?", catalog.StatusListed)
	if len(excluded) > 0 {
		query = query.Where("seller_id NOT IN ?", excluded)
	}
	if len(favoriteIDs) > 0 {
		query = query.Where("id NOT IN ?", favoriteIDs)
	}
	var candidates []catalog.Product
	if err := query.Order("created_at DESC").Order("id DESC").Limit(candidatePool).Find(&candidates).Error; err != nil {
		return nil, s.fail("candidates_failed", err)
	}
	if len(favoriteIDs) == 0 {
		return head(candidates, limit), nil
	}

	var liked []catalog.Product
	if err := db.Preload("Tags").Where("id IN ?", favoriteIDs).Find(&liked).Error; err != nil {
		return nil, s.fail("favorites_failed", err)
	}
	signals := SignalsFrom(liked)
	if signals.Empty() {
		return head(candidates, limit), nil
	}
	return Rank(candidates, signals, limit), nil
}

// Rank orders candidates, which must be newest first, by score and then
// recency, and pads positive scorers with the most recent unscored ones.
func Rank(candidates []catalog.Product, signals Signals, limit int) []catalog.Product {
	type scored struct {
		product catalog.Product
		score   int
	}
	var (
		matches []scored
		rest    []catalog.Product
	)
	for _, candidate := range candidates {
		if score := signals.Score(candidate); score > 0 {
			matches = append(matches, scored{product: candidate, score: score})
		} else {
			rest = append(rest, candidate)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].product.CreatedAt.After(matches[j].product.CreatedAt)
	})

	ranked := make([]catalog.Product, 0, limit)
	for _, match := range matches {
		if len(ranked) == limit {
			return ranked
		}
		ranked = append(ranked, match.product)
	}
	for _, product := range rest {
		if len(ranked) == limit {
			break
		}
		ranked = append(ranked, product)
	}
	return ranked
}

func head(products []catalog.Product, limit int) []catalog.Product {
	if len(products) > limit {
		return products[:limit]
	}
	if products == nil {
		return []catalog.Product{}
	}
	return products
}

func (s *Service) fail(reason string, err error) error {
	failure.LogError(s.logger, "recommend service failure", operationRecommend, reason, err)
	return failure.Wrap(operationRecommend, reason, err)
}
