package purchases

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
)

// Status is a purchase's position in the fulfilment flow.
type Status string

const (
	StatusPaid      Status = "paid"
	StatusPreparing Status = "preparing"
	StatusShipped   Status = "shipped"
	StatusCompleted Status = "completed"
)

// Actor names the party allowed to make a transition.
type Actor string

const (
	ActorSeller Actor = "seller"
	ActorBuyer  Actor = "buyer"
)

// ParseStatus accepts one of the four known statuses.
func ParseStatus(value string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusPaid:
		return StatusPaid, nil
	case StatusPreparing:
		return StatusPreparing, nil
	case StatusShipped:
		return StatusShipped, nil
	case StatusCompleted:
		return StatusCompleted, nil
	default:
		return "", fmt.Errorf("%w: unknown purchase status %q", failure.ErrInvalid, value)
	}
}

// Next returns the only status reachable from s and who may move there.
// Completed is terminal.
func (s Status) Next() (Status, Actor, bool) {
	switch s {
	case StatusPaid:
		return StatusPreparing, ActorSeller, true
	case StatusPreparing:
		return StatusShipped, ActorSeller, true
	case StatusShipped:
		return StatusCompleted, ActorBuyer, true
	default:
		return "", "", false
	}
}

// Label is the customer-facing name of the status.
func (s Status) Label() string {
	switch s {
	case StatusPaid:
		return "支払い完了"
	case StatusPreparing:
		return "発送準備中"
	case StatusShipped:
		return "発送済み"
	case StatusCompleted:
		return "取引完了"
	default:
		return string(s)
	}
}

// Purchase records one paid checkout session for one product.
type Purchase struct {
	ID          uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	ProductID   uint64     `gorm:"column:product_id;not null;index"`
	SellerID    uint64     `gorm:"column:seller_id;not null;index"`
	BuyerEmail  string     `gorm:"column:buyer_email;size:120;not null;index"`
	Amount      int64      `gorm:"column:amount;not null"`
	Currency    string     `gorm:"column:currency;size:10;not null"`
	SessionID   string     `gorm:"column:session_id;size:255;not null;uniqueIndex"`
	Status      Status     `gorm:"column:status;size:20;not null"`
	PaidAt      time.Time  `gorm:"column:paid_at;not null"`
	PreparingAt *time.Time `gorm:"column:preparing_at"`
	ShippedAt   *time.Time `gorm:"column:shipped_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;not null"`
}

// TableName exposes the table backing purchases.
func (Purchase) TableName() string {
	return "purchases"
}

// Review is one party's rating of the other after completion.
type Review struct {
	ID            uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	PurchaseID    uint64    `gorm:"column:purchase_id;not null;uniqueIndex:idx_review_author,priority:1"`
	ReviewerEmail string    `gorm:"column:reviewer_email;size:120;not null;uniqueIndex:idx_review_author,priority:2"`
	RevieweeEmail string    `gorm:"column:reviewee_email;size:120;not null;index"`
	Rating        int       `gorm:"column:rating;not null"`
	Comment       string    `gorm:"column:comment;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing reviews.
func (Review) TableName() string {
	return "purchase_reviews"
}
