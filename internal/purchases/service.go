package purchases

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/events"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/payments"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	operationRecord  = "purchases.record_checkout"
	operationAdvance = "purchases.advance"
	operationQuery   = "purchases.query"

	defaultCurrency = "jpy"
)

// ErrPurchaseNotFound reports an unknown purchase or checkout session.
var ErrPurchaseNotFound = fmt.Errorf("%w: purchase not found", failure.ErrNotFound)

// ServiceConfig describes the dependencies required by the purchase service.
type ServiceConfig struct {
	Database       *gorm.DB
	Notifier       *notifications.Service
	Gateway        payments.Gateway
	Publisher      events.Publisher
	Currency       string
	FrontendOrigin string
	Clock          func() time.Time
	Logger         *zap.Logger
}

// Service records checkouts and drives the fulfilment state machine.
type Service struct {
	db             *gorm.DB
	notifier       *notifications.Service
	gateway        payments.Gateway
	publisher      events.Publisher
	currency       string
	frontendOrigin string
	now            func() time.Time
	logger         *zap.Logger
}

// NewService constructs the purchase service. Without a gateway, checkout
// endpoints report the provider as unavailable.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("purchases: database connection required")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("purchases: notifier required")
	}
	gateway := cfg.Gateway
	if gateway == nil {
		gateway = payments.Disabled{}
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NewNoop()
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = defaultCurrency
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
		db:             cfg.Database,
		notifier:       cfg.Notifier,
		gateway:        gateway,
		publisher:      publisher,
		currency:       currency,
		frontendOrigin: strings.TrimRight(strings.TrimSpace(cfg.FrontendOrigin), "/"),
		now:            clock,
		logger:         logger,
	}, nil
}

// CheckoutRecord is a paid checkout session to be stored.
type CheckoutRecord struct {
	SessionID  string
	ProductID  uint64
	BuyerEmail string
	Amount     int64
	Currency   string
}

// RecordCheckout stores the purchase for a paid session, takes the product
// off sale and notifies both parties. Repeating it for the same session
// returns the stored purchase and false.
func (s *Service) RecordCheckout(ctx context.Context, record CheckoutRecord) (Purchase, bool, error) {
	sessionID := strings.TrimSpace(record.SessionID)
	if sessionID == "" {
		return Purchase{}, false, failure.Invalid("session_id", "is required")
	}
	buyerEmail := users.NormalizeEmail(record.BuyerEmail)
	if buyerEmail == "" {
		return Purchase{}, false, failure.Invalid("buyer_email", "is required")
	}

	var (
		purchase Purchase
		created  bool
		notices  []notifications.Notification
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, found, err := findBySession(tx, sessionID)
		if err != nil {
			return failure.Wrap(operationRecord, "session_lookup_failed", err)
		}
		if found {
			purchase = existing
			return nil
		}

		product, err := catalog.Load(tx, record.ProductID)
		if err != nil {
			return err
		}
		seller, err := users.Lookup(tx, product.SellerID)
		if err != nil {
			return failure.Wrap(operationRecord, "seller_lookup_failed", err)
		}
		if earlier, sold, err := latestForProduct(tx, product.ID); err != nil {
			return failure.Wrap(operationRecord, "sale_lookup_failed", err)
		} else if sold {
			s.logger.Warn("product purchased through more than one session",
				zap.Uint64("product_id", product.ID),
				zap.String("first_session", earlier.SessionID),
				zap.String("session", sessionID))
		}

		amount := record.Amount
		if amount <= 0 {
			amount = product.Price
		}
		currency := strings.ToLower(strings.TrimSpace(record.Currency))
		if currency == "" {
			currency = s.currency
		}
		now := s.now().UTC()
		purchase = Purchase{
			ProductID:  product.ID,
			SellerID:   product.SellerID,
			BuyerEmail: buyerEmail,
			Amount:     amount,
			Currency:   currency,
			SessionID:  sessionID,
			Status:     StatusPaid,
			PaidAt:     now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&purchase)
		if result.Error != nil {
			return failure.Wrap(operationRecord, "insert_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			purchase, _, err = findBySession(tx, sessionID)
			return err
		}
		created = true

		if err := catalog.MarkSold(tx, product.ID, now); err != nil {
			return failure.Wrap(operationRecord, "mark_sold_failed", err)
		}

		productID := product.ID
		drafts := []notifications.Draft{{
			Recipient: buyerEmail,
			Sender:    seller.Email,
			Type:      notifications.TypePurchaseComplete,
			Title:     "購入が完了しました",
			Message:   fmt.Sprintf("「%s」（¥%d）の購入が完了しました。発送をお待ちください。", product.Title, amount),
			ProductID: &productID,
		}}
		if seller.Email != buyerEmail {
			drafts = append(drafts, notifications.Draft{
				Recipient: seller.Email,
				Sender:    buyerEmail,
				Type:      notifications.TypeItemSold,
				Title:     "商品が購入されました",
				Message:   fmt.Sprintf("「%s」が購入されました。発送の準備をしてください。", product.Title),
				ProductID: &productID,
			})
		}
		notices, err = s.notifier.Emit(tx, drafts...)
		return err
	})
	if err != nil {
		if !errors.Is(err, failure.ErrInvalid) && !errors.Is(err, failure.ErrNotFound) {
			s.logError(operationRecord, "transaction_failed", err, zap.String("session_id", sessionID))
		}
		return Purchase{}, false, err
	}

	if created {
		s.notifier.Deliver(ctx, notices)
		s.publish(ctx, events.Event{
			Name:        events.PurchaseCompleted,
			AggregateID: strconv.FormatUint(purchase.ID, 10),
			OccurredAt:  purchase.PaidAt,
			Payload: map[string]any{
				"purchase_id": purchase.ID,
				"product_id":  purchase.ProductID,
				"seller_id":   purchase.SellerID,
				"amount":      purchase.Amount,
				"currency":    purchase.Currency,
			},
		})
	}
	return purchase, created, nil
}

// Advance moves a purchase one step along the flow on behalf of actorEmail
// and notifies the other party.
func (s *Service) Advance(ctx context.Context, purchaseID uint64, actorEmail string, target Status) (Purchase, error) {
	actorEmail = users.NormalizeEmail(actorEmail)
	var (
		purchase Purchase
		previous Status
		notices  []notifications.Notification
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", purchaseID).Take(&purchase).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPurchaseNotFound
		}
		if err != nil {
			return failure.Wrap(operationAdvance, "load_failed", err)
		}
		seller, err := users.Lookup(tx, purchase.SellerID)
		if err != nil {
			return failure.Wrap(operationAdvance, "seller_lookup_failed", err)
		}
		actor, counterpart, err := roleOf(purchase, seller.Email, actorEmail)
		if err != nil {
			return err
		}
		if err := authorizeTransition(purchase.Status, target, actor); err != nil {
			return err
		}

		now := s.now().UTC()
		updates := map[string]interface{}{"status": target, "updated_at": now}
		switch target {
		case StatusPreparing:
			updates["preparing_at"] = now
		case StatusShipped:
			updates["shipped_at"] = now
		case StatusCompleted:
			updates["completed_at"] = now
		}
		if err := tx.Model(&Purchase{}).Where("id = ?", purchase.ID).Updates(updates).Error; err != nil {
			return failure.Wrap(operationAdvance, "update_failed", err)
		}
		previous = purchase.Status
		if err := tx.Where("id = ?", purchase.ID).Take(&purchase).Error; err != nil {
			return failure.Wrap(operationAdvance, "reload_failed", err)
		}

		product, err := catalog.Load(tx, purchase.ProductID)
		title := ""
		if err == nil {
			title = product.Title
		} else if !errors.Is(err, catalog.ErrProductNotFound) {
			return failure.Wrap(operationAdvance, "product_lookup_failed", err)
		}
		productID := purchase.ProductID
		notices, err = s.notifier.Emit(tx, notifications.Draft{
			Recipient: counterpart,
			Sender:    actorEmail,
			Type:      notifications.TypePurchaseStatus,
			Title:     "取引状況が更新されました",
			Message:   fmt.Sprintf("「%s」の取引状況が「%s」になりました。", title, target.Label()),
			ProductID: &productID,
		})
		return err
	})
	if err != nil {
		if failure.CodeOf(err) != "" {
			s.logError(operationAdvance, "transaction_failed", err, zap.Uint64("purchase_id", purchaseID))
		}
		return Purchase{}, err
	}

	s.notifier.Deliver(ctx, notices)
	s.publish(ctx, events.Event{
		Name:        events.PurchaseStatusChanged,
		AggregateID: strconv.FormatUint(purchase.ID, 10),
		OccurredAt:  purchase.UpdatedAt,
		Payload: map[string]any{
			"purchase_id": purchase.ID,
			"product_id":  purchase.ProductID,
			"from":        string(previous),
			"to":          string(purchase.Status),
		},
	})
	return purchase, nil
}

// HasSale reports whether any purchase exists for the product.
func (s *Service) HasSale(tx *gorm.DB, productID uint64) (bool, error) {
	_, found, err := latestForProduct(tx, productID)
	return found, err
}

// BuyerOf returns the buyer email of the product's purchase, if any.
func (s *Service) BuyerOf(tx *gorm.DB, productID uint64) (string, bool, error) {
	purchase, found, err := latestForProduct(tx, productID)
	if err != nil || !found {
		return "", false, err
	}
	return purchase.BuyerEmail, true, nil
}

// Get loads a purchase by id.
func (s *Service) Get(ctx context.Context, purchaseID uint64) (Purchase, error) {
	var purchase Purchase
	err := s.db.WithContext(ctx).Where("id = ?", purchaseID).Take(&purchase).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Purchase{}, ErrPurchaseNotFound
	}
	if err != nil {
		return Purchase{}, failure.Wrap(operationQuery, "load_failed", err)
	}
	return purchase, nil
}

// ProductStatus is the purchase state of one product as seen by a viewer.
type ProductStatus struct {
	Role        string
	Sold        bool
	Purchase    *Purchase
	NextOptions []Status
}

// StatusForProduct reports the viewer's role on a product and, for the buyer
// or seller, the purchase and the statuses they may apply next.
func (s *Service) StatusForProduct(ctx context.Context, productID uint64, viewer users.User) (ProductStatus, error) {
	db := s.db.WithContext(ctx)
	product, err := catalog.Load(db, productID)
	if err != nil {
		return ProductStatus{}, err
	}
	purchase, found, err := latestForProduct(db, productID)
	if err != nil {
		return ProductStatus{}, failure.Wrap(operationQuery, "sale_lookup_failed", err)
	}

	status := ProductStatus{Role: "none", Sold: product.IsSold(), NextOptions: []Status{}}
	var actor Actor
	switch {
	case viewer.ID != 0 && product.SellerID == viewer.ID:
		status.Role = string(ActorSeller)
		actor = ActorSeller
	case found && viewer.Email != "" && purchase.BuyerEmail == viewer.Email:
		status.Role = string(ActorBuyer)
		actor = ActorBuyer
	}
	if found && actor != "" {
		status.Purchase = &purchase
		status.NextOptions = OptionsFor(purchase.Status, actor)
	}
	return status, nil
}

// ListForBuyer returns purchases made by email, newest first.
func (s *Service) ListForBuyer(ctx context.Context, email string) ([]Purchase, error) {
	var purchases []Purchase
	err := s.db.WithContext(ctx).
		Where("buyer_email = ?", users.NormalizeEmail(email)).
		Order("created_at DESC").Order("id DESC").
		Find(&purchases).Error
	if err != nil {
		return nil, failure.Wrap(operationQuery, "buyer_list_failed", err)
	}
	return purchases, nil
}

// ListForSeller returns purchases of the seller's products, newest first.
func (s *Service) ListForSeller(ctx context.Context, sellerID uint64) ([]Purchase, error) {
	var purchases []Purchase
	err := s.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("created_at DESC").Order("id DESC").
		Find(&purchases).Error
	if err != nil {
		return nil, failure.Wrap(operationQuery, "seller_list_failed", err)
	}
	return purchases, nil
}

func roleOf(purchase Purchase, sellerEmail, actorEmail string) (Actor, string, error) {
	switch actorEmail {
	case "":
		return "", "", ErrNotParticipant
	case sellerEmail:
		return ActorSeller, purchase.BuyerEmail, nil
	case purchase.BuyerEmail:
		return ActorBuyer, sellerEmail, nil
	default:
		return "", "", ErrNotParticipant
	}
}

func findBySession(db *gorm.DB, sessionID string) (Purchase, bool, error) {
	var purchase Purchase
	err := db.Where("session_id = ?", sessionID).Take(&purchase).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Purchase{}, false, nil
	}
	if err != nil {
		return Purchase{}, false, err
	}
	return purchase, true, nil
}

func latestForProduct(db *gorm.DB, productID uint64) (Purchase, bool, error) {
	var purchase Purchase
	err := db.Where("product_id = ?", productID).Order("id DESC").Take(&purchase).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Purchase{}, false, nil
	}
	if err != nil {
		return Purchase{}, false, err
	}
	return purchase, true, nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("domain event not published", zap.String("event", event.Name), zap.Error(err))
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	failure.LogError(s.logger, "purchase service failure", operation, reason, err, fields...)
}
