package purchases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	operationReview = "purchases.review"

	minRating        = 1
	maxRating        = 5
	maxCommentLength = 1000
)

var (
	// ErrReviewTooEarly rejects a review before the purchase is completed.
	ErrReviewTooEarly = fmt.Errorf("%w: reviews open once the purchase is completed", failure.ErrConflict)
	// ErrAlreadyReviewed rejects a second review by the same party.
	ErrAlreadyReviewed = fmt.Errorf("%w: purchase already reviewed", failure.ErrConflict)
)

// SubmitReview lets the buyer or seller of a completed purchase rate the
// other party once.
func (s *Service) SubmitReview(ctx context.Context, purchaseID uint64, reviewerEmail string, rating int, comment string) (Review, error) {
	if rating < minRating || rating > maxRating {
		return Review{}, failure.Invalid("rating", fmt.Sprintf("must be between %d and %d", minRating, maxRating))
	}
	comment = strings.TrimSpace(comment)
	if utf8.RuneCountInString(comment) > maxCommentLength {
		return Review{}, failure.Invalid("comment", fmt.Sprintf("must be at most %d characters", maxCommentLength))
	}
	reviewerEmail = users.NormalizeEmail(reviewerEmail)

	var (
		review  Review
		notices []notifications.Notification
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var purchase Purchase
		err := tx.Where("id = ?", purchaseID).Take(&purchase).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPurchaseNotFound
		}
		if err != nil {
			return failure.Wrap(operationReview, "load_failed", err)
		}
		seller, err := users.Lookup(tx, purchase.SellerID)
		if err != nil {
			return failure.Wrap(operationReview, "seller_lookup_failed", err)
		}
		_, reviewee, err := roleOf(purchase, seller.Email, reviewerEmail)
		if err != nil {
			return err
		}
		if purchase.Status != StatusCompleted {
			return ErrReviewTooEarly
		}

		review = Review{
			PurchaseID:    purchase.ID,
			ReviewerEmail: reviewerEmail,
			RevieweeEmail: reviewee,
			Rating:        rating,
			Comment:       comment,
			CreatedAt:     s.now().UTC(),
		}
		if err := tx.Create(&review).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyReviewed
			}
			return failure.Wrap(operationReview, "insert_failed", err)
		}

		title := ""
		if product, err := catalog.Load(tx, purchase.ProductID); err == nil {
			title = product.Title
		}
		productID := purchase.ProductID
		notices, err = s.notifier.Emit(tx, notifications.Draft{
			Recipient: reviewee,
			Sender:    reviewerEmail,
			Type:      notifications.TypeReviewReceived,
			Title:     "評価が届きました",
			Message:   fmt.Sprintf("「%s」の取引で★%dの評価を受け取りました。", title, rating),
			ProductID: &productID,
		})
		return err
	})
	if err != nil {
		if failure.CodeOf(err) != "" {
			s.logError(operationReview, "transaction_failed", err, zap.Uint64("purchase_id", purchaseID))
		}
		return Review{}, err
	}
	s.notifier.Deliver(ctx, notices)
	return review, nil
}

// ReviewsFor lists the reviews a party received, newest first.
func (s *Service) ReviewsFor(ctx context.Context, email string) ([]Review, error) {
	var reviews []Review
	err := s.db.WithContext(ctx).
		Where("reviewee_email = ?", users.NormalizeEmail(email)).
		Order("created_at DESC").Order("id DESC").
		Find(&reviews).Error
	if err != nil {
		return nil, failure.Wrap(operationReview, "list_failed", err)
	}
	return reviews, nil
}

// RatingSummary is the average and count of reviews a party received.
type RatingSummary struct {
	Average float64
	Count   int64
}

// RatingOf summarizes the reviews a party received.
func (s *Service) RatingOf(ctx context.Context, email string) (RatingSummary, error) {
	var row struct {
		Average *float64
		Count   int64
	}
	err := s.db.WithContext(ctx).Model(&Review{}).
		Select("AVG(rating) AS average, COUNT(*) AS count").
		Where("reviewee_email = ?", users.NormalizeEmail(email)).
		Scan(&row).Error
	if err != nil {
		return RatingSummary{}, failure.Wrap(operationReview, "summary_failed", err)
	}
	summary := RatingSummary{Count: row.Count}
	if row.Average != nil {
		summary.Average = *row.Average
	}
	return summary, nil
}
