package social

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	operationFollow   = "social.follow"
	operationUnfollow = "social.unfollow"
	operationBlock    = "social.block"
	operationUnblock  = "social.unblock"
	operationQuery    = "social.query"
)

var (
	// ErrSelfRelation rejects following or blocking yourself.
	ErrSelfRelation = fmt.Errorf("%w: cannot target your own account", failure.ErrInvalid)
	// ErrBlocked rejects a follow while a block exists in either direction.
	ErrBlocked = fmt.Errorf("%w: a block exists between these accounts", failure.ErrForbidden)
)

// ServiceConfig describes the dependencies required by the relationship service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service maintains follow and block relationships between accounts.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the relationship service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("social: database connection required")
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

// Follow subscribes follower to followee. Repeating it is a no-op; the
// returned flag reports whether a new edge was written.
func (s *Service) Follow(ctx context.Context, follower, followee string) (bool, error) {
	follower, followee = users.NormalizeEmail(follower), users.NormalizeEmail(followee)
	if followee == "" {
		return false, failure.Invalid("target_email", "is required")
	}
	if follower == followee {
		return false, ErrSelfRelation
	}

	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := users.LookupByEmail(tx, followee); err != nil {
			return err
		}
		blocked, err := BlockExists(tx, follower, followee)
		if err != nil {
			return failure.Wrap(operationFollow, "block_lookup_failed", err)
		}
		if blocked {
			return ErrBlocked
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&Follow{
			FollowerEmail: follower,
			FolloweeEmail: followee,
			CreatedAt:     s.now().UTC(),
		})
		if result.Error != nil {
			return failure.Wrap(operationFollow, "insert_failed", result.Error)
		}
		created = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		s.logUnexpected(operationFollow, err)
		return false, err
	}
	return created, nil
}

// Unfollow removes the edge if present.
func (s *Service) Unfollow(ctx context.Context, follower, followee string) (bool, error) {
	follower, followee = users.NormalizeEmail(follower), users.NormalizeEmail(followee)
	result := s.db.WithContext(ctx).
		Where("follower_email = ? AND followee_email = ?", follower, followee).
		Delete(&Follow{})
	if result.Error != nil {
		s.logError(operationUnfollow, "delete_failed", result.Error)
		return false, failure.Wrap(operationUnfollow, "delete_failed", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// IsFollowing reports whether follower follows followee.
func (s *Service) IsFollowing(ctx context.Context, follower, followee string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Follow{}).
		Where("follower_email = ? AND followee_email = ?", users.NormalizeEmail(follower), users.NormalizeEmail(followee)).
		Count(&count).Error
	if err != nil {
		return false, failure.Wrap(operationQuery, "follow_lookup_failed", err)
	}
	return count > 0, nil
}

// Counts returns how many accounts follow email and how many it follows.
func (s *Service) Counts(ctx context.Context, email string) (int64, int64, error) {
	email = users.NormalizeEmail(email)
	var followers, following int64
	db := s.db.WithContext(ctx)
	if err := db.Model(&Follow{}).Where("followee_email = ?", email).Count(&followers).Error; err != nil {
		return 0, 0, failure.Wrap(operationQuery, "count_failed", err)
	}
	if err := db.Model(&Follow{}).Where("follower_email = ?", email).Count(&following).Error; err != nil {
		return 0, 0, failure.Wrap(operationQuery, "count_failed", err)
	}
	return followers, following, nil
}

// Followers lists who follows email.
func (s *Service) Followers(ctx context.Context, email string) ([]string, error) {
	return Followers(s.db.WithContext(ctx), users.NormalizeEmail(email))
}

// Following lists who email follows.
func (s *Service) Following(ctx context.Context, email string) ([]string, error) {
	return Following(s.db.WithContext(ctx), users.NormalizeEmail(email))
}

// Block records blocker→target and removes follow edges in both directions.
func (s *Service) Block(ctx context.Context, blocker, target string) (bool, error) {
	blocker, target = users.NormalizeEmail(blocker), users.NormalizeEmail(target)
	if target == "" {
		return false, failure.Invalid("target_email", "is required")
	}
	if blocker == target {
		return false, ErrSelfRelation
	}

	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&Block{
			BlockerEmail: blocker,
			BlockedEmail: target,
			CreatedAt:    s.now().UTC(),
		})
		if result.Error != nil {
			return failure.Wrap(operationBlock, "insert_failed", result.Error)
		}
		created = result.RowsAffected > 0
		err := tx.Where("(follower_email = ? AND followee_email = ?) OR (follower_email = ? AND followee_email = ?)", blocker, target, target, blocker).
			Delete(&Follow{}).Error
		if err != nil {
			return failure.Wrap(operationBlock, "follow_cleanup_failed", err)
		}
		return nil
	})
	if err != nil {
		s.logUnexpected(operationBlock, err)
		return false, err
	}
	return created, nil
}

// Unblock removes blocker→target if present.
func (s *Service) Unblock(ctx context.Context, blocker, target string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("blocker_email = ? AND blocked_email = ?", users.NormalizeEmail(blocker), users.NormalizeEmail(target)).
		Delete(&Block{})
	if result.Error != nil {
		s.logError(operationUnblock, "delete_failed", result.Error)
		return false, failure.Wrap(operationUnblock, "delete_failed", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListBlocks returns the blocks created by blocker, newest first.
func (s *Service) ListBlocks(ctx context.Context, blocker string) ([]Block, error) {
	var blocks []Block
	err := s.db.WithContext(ctx).
		Where("blocker_email = ?", users.NormalizeEmail(blocker)).
		Order("created_at DESC").
		Find(&blocks).Error
	if err != nil {
		return nil, failure.Wrap(operationQuery, "block_list_failed", err)
	}
	return blocks, nil
}

// IsBlockedEitherWay reports whether a block exists in either direction.
func (s *Service) IsBlockedEitherWay(ctx context.Context, first, second string) (bool, error) {
	return BlockExists(s.db.WithContext(ctx), users.NormalizeEmail(first), users.NormalizeEmail(second))
}

// BlockedCounterparts lists every email in a block relation with viewer.
func (s *Service) BlockedCounterparts(ctx context.Context, viewer string) ([]string, error) {
	return BlockedCounterparts(s.db.WithContext(ctx), users.NormalizeEmail(viewer))
}

func (s *Service) logUnexpected(operation string, err error) {
	if errors.Is(err, failure.ErrInvalid) || errors.Is(err, failure.ErrForbidden) || errors.Is(err, failure.ErrNotFound) {
		return
	}
	s.logError(operation, "transaction_failed", err)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	failure.LogError(s.logger, "relationship service failure", operation, reason, err, fields...)
}
