// Package payments talks to the hosted checkout provider.
package payments

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
)

// EventCheckoutCompleted is the provider event that carries a finished checkout.
const EventCheckoutCompleted = "checkout.session.completed"

// Metadata keys attached to every checkout session.
const (
	MetadataProductID  = "product_id"
	MetadataSellerID   = "seller_id"
	MetadataBuyerEmail = "buyer_email"
)

var (
	// ErrInvalidSignature reports a webhook whose signature does not verify.
	ErrInvalidSignature = fmt.Errorf("%w: webhook signature verification failed", failure.ErrInvalid)
	// ErrGatewayUnavailable reports that checkout is not configured.
	ErrGatewayUnavailable = fmt.Errorf("%w: payment gateway not configured", failure.ErrUnavailable)
)

// CheckoutRequest describes a single-item checkout.
type CheckoutRequest struct {
	ProductID  uint64
	SellerID   uint64
	Title      string
	ImageURL   string
	Amount     int64
	Currency   string
	BuyerEmail string
	SuccessURL string
	CancelURL  string
}

// Session is the provider-neutral view of a checkout session.
type Session struct {
	ID            string
	URL           string
	Status        string
	PaymentStatus string
	AmountTotal   int64
	Currency      string
	CustomerEmail string
	Metadata      map[string]string
}

// Paid reports whether the provider captured the payment.
func (s Session) Paid() bool {
	return s.PaymentStatus == "paid"
}

// Event is a verified webhook delivery. Session is set for checkout events.
type Event struct {
	ID      string
	Type    string
	Session *Session
}

// Gateway creates and inspects checkout sessions and verifies webhooks.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, request CheckoutRequest) (Session, error)
	RetrieveSession(ctx context.Context, sessionID string) (Session, error)
	ParseWebhook(payload []byte, signature string) (Event, error)
}

// Disabled is the gateway used when no provider credentials are configured.
type Disabled struct{}

func (Disabled) CreateCheckoutSession(context.Context, CheckoutRequest) (Session, error) {
	return Session{}, ErrGatewayUnavailable
}

func (Disabled) RetrieveSession(context.Context, string) (Session, error) {
	return Session{}, ErrGatewayUnavailable
}

func (Disabled) ParseWebhook([]byte, string) (Event, error) {
	return Event{}, ErrGatewayUnavailable
}
