package purchases

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/payments"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	"go.uber.org/zap"
)

const (
	operationCheckout = "purchases.checkout"
	operationWebhook  = "purchases.webhook"
	operationSync     = "purchases.sync_session"

	sessionPlaceholder = "{CHECKOUT_SESSION_ID}"
)

var (
	// ErrNotForSale rejects a checkout for a product that left the catalog.
	ErrNotForSale = fmt.Errorf("%w: product is not for sale", failure.ErrConflict)
	// ErrOwnListing rejects a seller buying their own product.
	ErrOwnListing = fmt.Errorf("%w: sellers cannot buy their own listing", failure.ErrForbidden)
)

// CheckoutRequest starts a hosted checkout for one product.
type CheckoutRequest struct {
	ProductID uint64
	Buyer     users.User
	// Origin is the browser origin the provider redirects back to. The
	// configured frontend origin is used when empty.
	Origin string
}

// StartCheckout opens a hosted checkout session for a listed product.
func (s *Service) StartCheckout(ctx context.Context, request CheckoutRequest) (payments.Session, error) {
	product, err := catalog.Load(s.db.WithContext(ctx), request.ProductID)
	if err != nil {
		return payments.Session{}, err
	}
	if product.Status != catalog.StatusListed {
		return payments.Session{}, ErrNotForSale
	}
	if product.SellerID == request.Buyer.ID {
		return payments.Session{}, ErrOwnListing
	}

	origin := strings.TrimRight(strings.TrimSpace(request.Origin), "/")
	if origin == "" {
		origin = s.frontendOrigin
	}
	productID := strconv.FormatUint(product.ID, 10)
	session, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutRequest{
		ProductID:  product.ID,
		SellerID:   product.SellerID,
		Title:      product.Title,
		ImageURL:   absoluteImage(origin, product.PrimaryImage()),
		Amount:     product.Price,
		Currency:   s.currency,
		BuyerEmail: request.Buyer.Email,
		SuccessURL: origin + "/purchase-complete?session_id=" + sessionPlaceholder + "&product_id=" + productID,
		CancelURL:  origin + "/products/" + productID,
	})
	if err != nil {
		if !errors.Is(err, payments.ErrGatewayUnavailable) {
			s.logError(operationCheckout, "gateway_failed", err, zap.Uint64("product_id", product.ID))
		}
		return payments.Session{}, err
	}
	return session, nil
}

// WebhookResult reports what a webhook delivery changed.
type WebhookResult struct {
	EventType string
	Recorded  bool
	Purchase  *Purchase
}

// HandleWebhook verifies a provider delivery and records the purchase of a
// paid checkout. Other event types and unpaid sessions are acknowledged
// without changes.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	event, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return WebhookResult{}, err
	}
	result := WebhookResult{EventType: event.Type}
	if event.Type != payments.EventCheckoutCompleted || event.Session == nil || !event.Session.Paid() {
		return result, nil
	}

	record, err := recordFromSession(*event.Session)
	if err != nil {
		// Redelivery cannot repair missing metadata.
		s.logError(operationWebhook, "metadata_invalid", err, zap.String("event_id", event.ID))
		return result, nil
	}
	purchase, created, err := s.RecordCheckout(ctx, record)
	if errors.Is(err, failure.ErrNotFound) {
		// The product or its seller is gone; redelivery cannot bring it back.
		s.logError(operationWebhook, "product_missing", err,
			zap.String("event_id", event.ID),
			zap.String("session_id", record.SessionID),
			zap.Uint64("product_id", record.ProductID))
		return result, nil
	}
	if err != nil {
		return WebhookResult{}, err
	}
	result.Recorded = created
	result.Purchase = &purchase
	return result, nil
}

// SessionStatus is the outcome of reconciling a checkout session.
type SessionStatus struct {
	Session  payments.Session
	Purchase *Purchase
	Recorded bool
}

// SyncSession reconciles a checkout session the browser returned from. A
// paid session is recorded exactly as the webhook would.
func (s *Service) SyncSession(ctx context.Context, sessionID string) (SessionStatus, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionStatus{}, failure.Invalid("session_id", "is required")
	}
	existing, found, err := findBySession(s.db.WithContext(ctx), sessionID)
	if err != nil {
		s.logError(operationSync, "session_lookup_failed", err, zap.String("session_id", sessionID))
		return SessionStatus{}, failure.Wrap(operationSync, "session_lookup_failed", err)
	}
	if found {
		return SessionStatus{
			Session:  payments.Session{ID: sessionID, PaymentStatus: "paid", AmountTotal: existing.Amount, Currency: existing.Currency},
			Purchase: &existing,
		}, nil
	}

	session, err := s.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		return SessionStatus{}, err
	}
	status := SessionStatus{Session: session}
	if !session.Paid() {
		return status, nil
	}
	record, err := recordFromSession(session)
	if err != nil {
		return SessionStatus{}, err
	}
	purchase, created, err := s.RecordCheckout(ctx, record)
	if err != nil {
		return SessionStatus{}, err
	}
	status.Purchase = &purchase
	status.Recorded = created
	return status, nil
}

func recordFromSession(session payments.Session) (CheckoutRecord, error) {
	rawProductID := strings.TrimSpace(session.Metadata[payments.MetadataProductID])
	productID, err := strconv.ParseUint(rawProductID, 10, 64)
	if err != nil || productID == 0 {
		return CheckoutRecord{}, failure.Invalid("metadata.product_id", "is missing or malformed")
	}
	buyer := session.Metadata[payments.MetadataBuyerEmail]
	if strings.TrimSpace(buyer) == "" {
		buyer = session.CustomerEmail
	}
	return CheckoutRecord{
		SessionID:  session.ID,
		ProductID:  productID,
		BuyerEmail: buyer,
		Amount:     session.AmountTotal,
		Currency:   session.Currency,
	}, nil
}

func absoluteImage(origin, image string) string {
	switch {
	case image == "":
		return ""
	case strings.HasPrefix(image, "http://"), strings.HasPrefix(image, "https://"):
		return image
	case strings.HasPrefix(image, "/"):
		return origin + image
	default:
		return origin + "/" + image
	}
}
