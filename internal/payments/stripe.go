package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig carries the API and webhook secrets.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// StripeGateway implements Gateway with Stripe Checkout.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway validates the secrets and prepares an API client.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if secretKey == "" {
		return nil, fmt.Errorf("payments: stripe secret key required")
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, fmt.Errorf("payments: stripe webhook secret required")
	}
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api, webhookSecret: webhookSecret}, nil
}

// CreateCheckoutSession opens a payment-mode session with one line item.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, request CheckoutRequest) (Session, error) {
	productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(request.Title),
	}
	if strings.HasPrefix(request.ImageURL, "https://") {
		productData.Images = []*string{stripe.String(request.ImageURL)}
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(request.SuccessURL),
		CancelURL:  stripe.String(request.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(request.Currency),
				ProductData: productData,
				UnitAmount:  stripe.Int64(request.Amount),
			},
			Quantity: stripe.Int64(1),
		}},
	}
	if request.BuyerEmail != "" {
		params.CustomerEmail = stripe.String(request.BuyerEmail)
	}
	params.Context = ctx
	params.AddMetadata(MetadataProductID, strconv.FormatUint(request.ProductID, 10))
	params.AddMetadata(MetadataSellerID, strconv.FormatUint(request.SellerID, 10))
	params.AddMetadata(MetadataBuyerEmail, request.BuyerEmail)

	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("payments: create checkout session: %w", err)
	}
	return fromStripe(session), nil
}

// RetrieveSession fetches the current state of a session.
func (g *StripeGateway) RetrieveSession(ctx context.Context, sessionID string) (Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return Session{}, fmt.Errorf("payments: retrieve checkout session: %w", err)
	}
	return fromStripe(session), nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes checkout events.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	parsed := Event{ID: event.ID, Type: string(event.Type)}
	if parsed.Type != EventCheckoutCompleted || event.Data == nil {
		return parsed, nil
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return Event{}, fmt.Errorf("payments: decode checkout session: %w", err)
	}
	converted := fromStripe(&session)
	parsed.Session = &converted
	return parsed, nil
}

func fromStripe(session *stripe.CheckoutSession) Session {
	if session == nil {
		return Session{}
	}
	email := session.CustomerEmail
	if email == "" && session.CustomerDetails != nil {
		email = session.CustomerDetails.Email
	}
	return Session{
		ID:            session.ID,
		URL:           session.URL,
		Status:        string(session.Status),
		PaymentStatus: string(session.PaymentStatus),
		AmountTotal:   session.AmountTotal,
		Currency:      string(session.Currency),
		CustomerEmail: email,
		Metadata:      session.Metadata,
	}
}
