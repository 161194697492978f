// Package chat carries the per-product conversations between a seller and
// the people interested in or buying their listing.
package chat

import "time"

// Scope tells whether a product's conversations are still open to prospective
// buyers or restricted to the purchase parties.
type Scope string

const (
	ScopeOpen Scope = "open"
	ScopeSold Scope = "sold"
)

// Message is one chat line about a product.
type Message struct {
	ID            uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	ProductID     uint64    `gorm:"column:product_id;not null;index:idx_chat_product_time,priority:1"`
	SenderEmail   string    `gorm:"column:sender_email;size:120;not null;index"`
	ReceiverEmail string    `gorm:"column:receiver_email;size:120;not null;index"`
	Body          string    `gorm:"column:message;type:text;not null"`
	IsRead        bool      `gorm:"column:is_read;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;index:idx_chat_product_time,priority:2"`
}

// TableName exposes the table backing chat messages.
func (Message) TableName() string {
	return "product_chat_messages"
}

// Participant is a counterparty listed in the seller's view.
type Participant struct {
	Email        string
	UserName     string
	Purchased    bool
	LastActivity time.Time
}
