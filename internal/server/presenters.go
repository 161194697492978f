package server

import (
	"time"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/forum"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/news"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/purchases"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/social"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
)

type userSummaryPayload struct {
	ID           uint64 `json:"id"`
	UserID       string `json:"user_id"`
	UserName     string `json:"user_name"`
	Email        string `json:"email"`
	ProfileImage string `json:"profile_image"`
}

func presentUserSummary(user users.User) userSummaryPayload {
	return userSummaryPayload{
		ID:           user.ID,
		UserID:       user.UserID,
		UserName:     user.DisplayName(),
		Email:        user.Email,
		ProfileImage: user.ProfileImage,
	}
}

// profilePayload carries the contact fields only for the account owner.
type profilePayload struct {
	userSummaryPayload
	Bio            string  `json:"bio"`
	RealName       string  `json:"real_name,omitempty"`
	NameKana       string  `json:"name_kana,omitempty"`
	Address        string  `json:"address,omitempty"`
	PhoneNumber    string  `json:"phone_number,omitempty"`
	BirthDate      string  `json:"birth_date,omitempty"`
	Status         int16   `json:"status"`
	CreatedAt      string  `json:"created_at"`
	FollowerCount  int64   `json:"follower_count"`
	FollowingCount int64   `json:"following_count"`
	RatingAverage  float64 `json:"rating_average"`
	RatingCount    int64   `json:"rating_count"`
}

func presentProfile(user users.User, private bool) profilePayload {
	payload := profilePayload{
		userSummaryPayload: presentUserSummary(user),
		Bio:                user.Bio,
		Status:             user.Status,
		CreatedAt:          formatTime(user.CreatedAt),
	}
	if private {
		payload.RealName = user.RealName
		payload.NameKana = user.NameKana
		payload.Address = user.Address
		payload.PhoneNumber = user.Phone
		payload.BirthDate = user.BirthDate
	}
	return payload
}

type productPayload struct {
	ID             uint64              `json:"id"`
	Title          string              `json:"title"`
	Description    string              `json:"description"`
	Price          int64               `json:"price"`
	Condition      string              `json:"condition"`
	SaleType       string              `json:"sale_type"`
	Category       string              `json:"category"`
	ShippingOrigin string              `json:"shipping_origin"`
	ShippingDays   string              `json:"shipping_days"`
	ImageURL       string              `json:"image_url"`
	ImageURLs      []string            `json:"image_urls"`
	Tags           []string            `json:"tags"`
	SellerID       uint64              `json:"seller_id"`
	Status         int16               `json:"status"`
	IsSold         bool                `json:"is_sold"`
	ViewCount      int64               `json:"view_count"`
	CreatedAt      string              `json:"created_at"`
	Seller         *userSummaryPayload `json:"seller,omitempty"`
	IsFavorite     *bool               `json:"is_favorite,omitempty"`
}

func presentProduct(product catalog.Product, views int64) productPayload {
	return productPayload{
		ID:             product.ID,
		Title:          product.Title,
		Description:    product.Description,
		Price:          product.Price,
		Condition:      string(product.Condition),
		SaleType:       string(product.SaleType),
		Category:       product.Category,
		ShippingOrigin: product.ShippingOrigin,
		ShippingDays:   product.ShippingDays,
		ImageURL:       product.PrimaryImage(),
		ImageURLs:      product.Gallery(),
		Tags:           product.TagNames(),
		SellerID:       product.SellerID,
		Status:         int16(product.Status),
		IsSold:         product.IsSold(),
		ViewCount:      views,
		CreatedAt:      formatTime(product.CreatedAt),
	}
}

func presentProducts(products []catalog.Product, views map[uint64]int64) []productPayload {
	payload := make([]productPayload, 0, len(products))
	for _, product := range products {
		payload = append(payload, presentProduct(product, views[product.ID]))
	}
	return payload
}

type purchasePayload struct {
	ID          uint64  `json:"id"`
	ProductID   uint64  `json:"product_id"`
	SellerID    uint64  `json:"seller_id"`
	BuyerEmail  string  `json:"buyer_email"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	SessionID   string  `json:"session_id"`
	Status      string  `json:"status"`
	StatusLabel string  `json:"status_label"`
	PaidAt      string  `json:"paid_at"`
	PreparingAt *string `json:"preparing_at"`
	ShippedAt   *string `json:"shipped_at"`
	CompletedAt *string `json:"completed_at"`
}

func presentPurchase(purchase purchases.Purchase) purchasePayload {
	return purchasePayload{
		ID:          purchase.ID,
		ProductID:   purchase.ProductID,
		SellerID:    purchase.SellerID,
		BuyerEmail:  purchase.BuyerEmail,
		Amount:      purchase.Amount,
		Currency:    purchase.Currency,
		SessionID:   purchase.SessionID,
		Status:      string(purchase.Status),
		StatusLabel: purchase.Status.Label(),
		PaidAt:      formatTime(purchase.PaidAt),
		PreparingAt: formatOptionalTime(purchase.PreparingAt),
		ShippedAt:   formatOptionalTime(purchase.ShippedAt),
		CompletedAt: formatOptionalTime(purchase.CompletedAt),
	}
}

type statusOptionPayload struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

func presentStatusOptions(statuses []purchases.Status) []statusOptionPayload {
	options := make([]statusOptionPayload, 0, len(statuses))
	for _, status := range statuses {
		options = append(options, statusOptionPayload{Value: string(status), Label: status.Label()})
	}
	return options
}

type reviewPayload struct {
	ID            uint64 `json:"id"`
	PurchaseID    uint64 `json:"purchase_id"`
	ReviewerEmail string `json:"reviewer_email"`
	RevieweeEmail string `json:"reviewee_email"`
	Rating        int    `json:"rating"`
	Comment       string `json:"comment"`
	CreatedAt     string `json:"created_at"`
}

func presentReview(review purchases.Review) reviewPayload {
	return reviewPayload{
		ID:            review.ID,
		PurchaseID:    review.PurchaseID,
		ReviewerEmail: review.ReviewerEmail,
		RevieweeEmail: review.RevieweeEmail,
		Rating:        review.Rating,
		Comment:       review.Comment,
		CreatedAt:     formatTime(review.CreatedAt),
	}
}

type messagePayload struct {
	ID            uint64 `json:"id"`
	ProductID     uint64 `json:"product_id"`
	SenderEmail   string `json:"sender_email"`
	ReceiverEmail string `json:"receiver_email"`
	Message       string `json:"message"`
	IsRead        bool   `json:"is_read"`
	IsOwn         bool   `json:"is_own"`
	CreatedAt     string `json:"created_at"`
}

func presentMessage(message chat.Message, viewerEmail string) messagePayload {
	return messagePayload{
		ID:            message.ID,
		ProductID:     message.ProductID,
		SenderEmail:   message.SenderEmail,
		ReceiverEmail: message.ReceiverEmail,
		Message:       message.Body,
		IsRead:        message.IsRead,
		IsOwn:         message.SenderEmail == viewerEmail,
		CreatedAt:     formatTime(message.CreatedAt),
	}
}

type participantPayload struct {
	Email        string `json:"email"`
	UserName     string `json:"user_name"`
	Purchased    bool   `json:"purchased"`
	LastActivity string `json:"last_activity"`
}

type threadPayload struct {
	ProductID                uint64               `json:"product_id"`
	ChatScope                string               `json:"chat_scope"`
	CanSend                  bool                 `json:"can_send"`
	SelectedCounterpartEmail string               `json:"selected_counterpart_email"`
	Participants             []participantPayload `json:"participants"`
	Messages                 []messagePayload     `json:"messages"`
}

func presentThread(thread chat.Thread, viewerEmail string) threadPayload {
	payload := threadPayload{
		ProductID:                thread.ProductID,
		ChatScope:                string(thread.Scope),
		CanSend:                  thread.CanSend,
		SelectedCounterpartEmail: thread.Counterpart,
		Participants:             make([]participantPayload, 0, len(thread.Participants)),
		Messages:                 make([]messagePayload, 0, len(thread.Messages)),
	}
	for _, participant := range thread.Participants {
		payload.Participants = append(payload.Participants, participantPayload{
			Email:        participant.Email,
			UserName:     participant.UserName,
			Purchased:    participant.Purchased,
			LastActivity: formatTime(participant.LastActivity),
		})
	}
	for _, message := range thread.Messages {
		payload.Messages = append(payload.Messages, presentMessage(message, viewerEmail))
	}
	return payload
}

type notificationPayload struct {
	ID               uint64  `json:"id"`
	Type             string  `json:"type"`
	Title            string  `json:"title"`
	Message          string  `json:"message"`
	SenderEmail      string  `json:"sender_email"`
	RelatedProductID *uint64 `json:"related_product_id"`
	IsRead           bool    `json:"is_read"`
	CreatedAt        string  `json:"created_at"`
}

func presentNotifications(list []notifications.Notification) []notificationPayload {
	payload := make([]notificationPayload, 0, len(list))
	for _, notification := range list {
		payload = append(payload, notificationPayload{
			ID:               notification.ID,
			Type:             string(notification.Type),
			Title:            notification.Title,
			Message:          notification.Message,
			SenderEmail:      notification.SenderEmail,
			RelatedProductID: notification.RelatedProductID,
			IsRead:           notification.IsRead,
			CreatedAt:        formatTime(notification.CreatedAt),
		})
	}
	return payload
}

type settingsPayload struct {
	Push     bool `json:"push_enabled"`
	Email    bool `json:"email_enabled"`
	Message  bool `json:"message_enabled"`
	Campaign bool `json:"campaign_enabled"`
}

func presentSettings(setting notifications.Setting) settingsPayload {
	return settingsPayload{Push: setting.Push, Email: setting.Email, Message: setting.Message, Campaign: setting.Campaign}
}

type blockPayload struct {
	BlockedEmail string `json:"blocked_email"`
	CreatedAt    string `json:"created_at"`
}

func presentBlocks(blocks []social.Block) []blockPayload {
	payload := make([]blockPayload, 0, len(blocks))
	for _, block := range blocks {
		payload = append(payload, blockPayload{BlockedEmail: block.BlockedEmail, CreatedAt: formatTime(block.CreatedAt)})
	}
	return payload
}

type commentPayload struct {
	ID         uint64 `json:"id"`
	ThreadID   uint64 `json:"thread_id"`
	AuthorName string `json:"author_name"`
	Content    string `json:"content"`
	LikeCount  int64  `json:"like_count"`
	CreatedAt  string `json:"created_at"`
}

func presentComment(comment forum.Comment) commentPayload {
	return commentPayload{
		ID:         comment.ID,
		ThreadID:   comment.ThreadID,
		AuthorName: comment.AuthorName,
		Content:    comment.Content,
		LikeCount:  comment.LikeCount,
		CreatedAt:  formatTime(comment.CreatedAt),
	}
}

type forumThreadPayload struct {
	ID            uint64           `json:"id"`
	Category      string           `json:"category"`
	CategoryLabel string           `json:"category_label"`
	Title         string           `json:"title"`
	Content       string           `json:"content"`
	AuthorName    string           `json:"author_name"`
	AuthorEmail   string           `json:"author_email,omitempty"`
	ViewCount     int64            `json:"view_count"`
	LikeCount     int64            `json:"like_count"`
	CommentCount  int64            `json:"comment_count"`
	CreatedAt     string           `json:"created_at"`
	Comments      []commentPayload `json:"comments,omitempty"`
}

func presentForumThread(thread forum.Thread, comments int64) forumThreadPayload {
	return forumThreadPayload{
		ID:            thread.ID,
		Category:      string(thread.Category),
		CategoryLabel: thread.Category.Label(),
		Title:         thread.Title,
		Content:       thread.Content,
		AuthorName:    thread.AuthorName,
		AuthorEmail:   thread.AuthorEmail,
		ViewCount:     thread.ViewCount,
		LikeCount:     thread.LikeCount,
		CommentCount:  comments,
		CreatedAt:     formatTime(thread.CreatedAt),
	}
}

type newsPayload struct {
	ID          uint64 `json:"id"`
	Category    string `json:"category"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	PublishedAt string `json:"published_at"`
}

func presentNews(article news.Article) newsPayload {
	return newsPayload{
		ID:          article.ID,
		Category:    string(article.Category),
		Title:       article.Title,
		Content:     article.Content,
		PublishedAt: formatTime(article.PublishedAt),
	}
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func formatOptionalTime(value *time.Time) *string {
	if value == nil {
		return nil
	}
	formatted := formatTime(*value)
	return &formatted
}
