package notifications

import (
	"fmt"
	"time"
)

// Type classifies a notification and decides which setting gates it.
type Type string

const (
	TypeListingComplete  Type = "listing_complete"
	TypeFollowListing    Type = "follow_listing"
	TypePurchaseComplete Type = "purchase_complete"
	TypeItemSold         Type = "item_sold"
	TypePurchaseStatus   Type = "purchase_status"
	TypeNewMessage       Type = "new_message"
	TypeReviewReceived   Type = "review_received"
	TypeSystem           Type = "system"
)

type channel int

const (
	channelPush channel = iota
	channelMessage
	channelCampaign
)

func (t Type) channel() (channel, error) {
	switch t {
	case TypeNewMessage:
		return channelMessage, nil
	case TypeSystem:
		return channelCampaign, nil
	case TypeListingComplete, TypeFollowListing, TypePurchaseComplete, TypeItemSold, TypePurchaseStatus, TypeReviewReceived:
		return channelPush, nil
	default:
		return channelPush, fmt.Errorf("unknown notification type %q", string(t))
	}
}

// Notification is one inbox entry.
type Notification struct {
	ID               uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	UserEmail        string    `gorm:"column:user_email;size:120;not null;index"`
	SenderEmail      string    `gorm:"column:sender_email;size:120;index"`
	Type             Type      `gorm:"column:type;size:50;not null"`
	Title            string    `gorm:"column:title;size:255;not null"`
	Message          string    `gorm:"column:message;type:text"`
	RelatedProductID *uint64   `gorm:"column:related_product_id;index"`
	IsRead           bool      `gorm:"column:is_read;not null;index"`
	CreatedAt        time.Time `gorm:"column:created_at;not null;index"`
}

// TableName exposes the table backing notifications.
func (Notification) TableName() string {
	return "notifications"
}

// Setting holds a user's per-channel switches. A missing row means defaults.
type Setting struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	UserEmail string    `gorm:"column:user_email;size:120;not null;uniqueIndex"`
	Push      bool      `gorm:"column:push_enabled;not null"`
	Email     bool      `gorm:"column:email_enabled;not null"`
	Message   bool      `gorm:"column:message_enabled;not null"`
	Campaign  bool      `gorm:"column:campaign_enabled;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName exposes the table backing notification settings.
func (Setting) TableName() string {
	return "user_notification_settings"
}

func defaultSetting(email string) Setting {
	return Setting{UserEmail: email, Push: true, Email: true, Message: true, Campaign: false}
}

func (s Setting) allows(notificationType Type) bool {
	kind, err := notificationType.channel()
	if err != nil {
		return false
	}
	switch kind {
	case channelMessage:
		return s.Message
	case channelCampaign:
		return s.Campaign
	default:
		return s.Push
	}
}
