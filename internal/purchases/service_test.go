package purchases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/events"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/payments"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/social"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/testutil"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	"gorm.io/gorm"
)

type fakeGateway struct {
	requests []payments.CheckoutRequest
	sessions map[string]payments.Session
	event    payments.Event
	parseErr error
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, request payments.CheckoutRequest) (payments.Session, error) {
	g.requests = append(g.requests, request)
	return payments.Session{ID: "cs_test_1", URL: "https://checkout.example/cs_test_1"}, nil
}

func (g *fakeGateway) RetrieveSession(_ context.Context, sessionID string) (payments.Session, error) {
	session, ok := g.sessions[sessionID]
	if !ok {
		return payments.Session{}, errors.New("no such session")
	}
	return session, nil
}

func (g *fakeGateway) ParseWebhook([]byte, string) (payments.Event, error) {
	if g.parseErr != nil {
		return payments.Event{}, g.parseErr
	}
	return g.event, nil
}

type recordingPublisher struct {
	published []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.published = append(p.published, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type purchaseFixture struct {
	db        *gorm.DB
	service   *Service
	gateway   *fakeGateway
	publisher *recordingPublisher
	seller    users.User
	buyer     users.User
	product   catalog.Product
}

func newFixture(t *testing.T) *purchaseFixture {
	t.Helper()
	db := testutil.OpenDatabase(t,
		&users.User{}, &social.Block{},
		&notifications.Notification{}, &notifications.Setting{},
		&catalog.Product{}, &catalog.ProductImage{}, &catalog.ProductTag{},
		&Purchase{}, &Review{},
	)
	clock := testutil.FixedClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	notifier, err := notifications.NewService(notifications.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}
	fixture := &purchaseFixture{db: db, gateway: &fakeGateway{sessions: map[string]payments.Session{}}, publisher: &recordingPublisher{}}
	service, err := NewService(ServiceConfig{
		Database:       db,
		Notifier:       notifier,
		Gateway:        fixture.gateway,
		Publisher:      fixture.publisher,
		FrontendOrigin: "http://localhost:5173/",
		Clock:          clock,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	fixture.service = service
	fixture.seller = fixture.user(t, "seller@example.com")
	fixture.buyer = fixture.user(t, "buyer@example.com")
	fixture.product = catalog.Product{
		Title:     "坊っちゃん",
		Price:     500,
		ImageURL:  "/uploads/products/botchan.png",
		SellerID:  fixture.seller.ID,
		Status:    catalog.StatusListed,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(&fixture.product).Error; err != nil {
		t.Fatalf("failed to seed product: %v", err)
	}
	return fixture
}

func (f *purchaseFixture) user(t *testing.T, email string) users.User {
	t.Helper()
	user := users.User{UserID: email, UserName: email, Email: email, PasswordHash: "x", Status: users.StatusActive, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := f.db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}

func (f *purchaseFixture) record(t *testing.T, sessionID string) Purchase {
	t.Helper()
	purchase, _, err := f.service.RecordCheckout(context.Background(), CheckoutRecord{
		SessionID:  sessionID,
		ProductID:  f.product.ID,
		BuyerEmail: f.buyer.Email,
	})
	if err != nil {
		t.Fatalf("record checkout failed: %v", err)
	}
	return purchase
}

func (f *purchaseFixture) notices(t *testing.T, recipient string) []notifications.Notification {
	t.Helper()
	var notices []notifications.Notification
	if err := f.db.Where("user_email = ?", recipient).Order("id ASC").Find(&notices).Error; err != nil {
		t.Fatalf("failed to load notifications: %v", err)
	}
	return notices
}

func TestRecordCheckoutIsIdempotentBySession(t *testing.T) {
	fixture := newFixture(t)

	first, created, err := fixture.service.RecordCheckout(context.Background(), CheckoutRecord{
		SessionID:  "cs_1",
		ProductID:  fixture.product.ID,
		BuyerEmail: " Buyer@Example.com ",
	})
	if err != nil || !created {
		t.Fatalf("expected first record to be created, got created=%v err=%v", created, err)
	}
	if first.Status != StatusPaid || first.Amount != 500 || first.Currency != "jpy" || first.BuyerEmail != "buyer@example.com" {
		t.Fatalf("unexpected purchase %+v", first)
	}

	second, created, err := fixture.service.RecordCheckout(context.Background(), CheckoutRecord{
		SessionID:  "cs_1",
		ProductID:  fixture.product.ID,
		BuyerEmail: fixture.buyer.Email,
	})
	if err != nil || created {
		t.Fatalf("expected replay to be a no-op, got created=%v err=%v", created, err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected replay to return purchase %d, got %d", first.ID, second.ID)
	}

	var count int64
	fixture.db.Model(&Purchase{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected one purchase, got %d", count)
	}
	product, err := catalog.Load(fixture.db, fixture.product.ID)
	if err != nil {
		t.Fatalf("load product failed: %v", err)
	}
	if !product.IsSold() {
		t.Fatal("expected product to leave the catalog")
	}
	if notices := fixture.notices(t, fixture.buyer.Email); len(notices) != 1 || notices[0].Type != notifications.TypePurchaseComplete {
		t.Fatalf("unexpected buyer notifications %+v", notices)
	}
	if notices := fixture.notices(t, fixture.seller.Email); len(notices) != 1 || notices[0].Type != notifications.TypeItemSold {
		t.Fatalf("unexpected seller notifications %+v", notices)
	}
	if len(fixture.publisher.published) != 1 || fixture.publisher.published[0].Name != events.PurchaseCompleted {
		t.Fatalf("expected a single purchase.completed event, got %+v", fixture.publisher.published)
	}
}

func TestRecordCheckoutRejectsUnknownProduct(t *testing.T) {
	fixture := newFixture(t)
	_, _, err := fixture.service.RecordCheckout(context.Background(), CheckoutRecord{SessionID: "cs_x", ProductID: 999, BuyerEmail: fixture.buyer.Email})
	if !errors.Is(err, catalog.ErrProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
}

func TestHasSaleAndBuyerOf(t *testing.T) {
	fixture := newFixture(t)
	if sold, err := fixture.service.HasSale(fixture.db, fixture.product.ID); err != nil || sold {
		t.Fatalf("expected no sale yet, got %v %v", sold, err)
	}
	fixture.record(t, "cs_1")
	if sold, err := fixture.service.HasSale(fixture.db, fixture.product.ID); err != nil || !sold {
		t.Fatalf("expected sale, got %v %v", sold, err)
	}
	buyer, found, err := fixture.service.BuyerOf(fixture.db, fixture.product.ID)
	if err != nil || !found || buyer != fixture.buyer.Email {
		t.Fatalf("unexpected buyer %q found=%v err=%v", buyer, found, err)
	}
}

func TestAdvanceWalksTheFlowAndNotifiesTheOtherParty(t *testing.T) {
	fixture := newFixture(t)
	purchase := fixture.record(t, "cs_1")
	ctx := context.Background()

	purchase, err := fixture.service.Advance(ctx, purchase.ID, fixture.seller.Email, StatusPreparing)
	if err != nil {
		t.Fatalf("preparing failed: %v", err)
	}
	if purchase.Status != StatusPreparing || purchase.PreparingAt == nil {
		t.Fatalf("unexpected purchase %+v", purchase)
	}
	if _, err := fixture.service.Advance(ctx, purchase.ID, fixture.buyer.Email, StatusShipped); !errors.Is(err, ErrTransitionNotAllowed) {
		t.Fatalf("expected buyer shipping to be rejected, got %v", err)
	}
	if _, err := fixture.service.Advance(ctx, purchase.ID, fixture.seller.Email, StatusShipped); err != nil {
		t.Fatalf("shipped failed: %v", err)
	}
	if _, err := fixture.service.Advance(ctx, purchase.ID, fixture.seller.Email, StatusCompleted); !errors.Is(err, failure.ErrForbidden) {
		t.Fatalf("expected seller completion to be rejected, got %v", err)
	}
	purchase, err = fixture.service.Advance(ctx, purchase.ID, fixture.buyer.Email, StatusCompleted)
	if err != nil {
		t.Fatalf("completed failed: %v", err)
	}
	if purchase.Status != StatusCompleted || purchase.CompletedAt == nil {
		t.Fatalf("unexpected purchase %+v", purchase)
	}

	buyerNotices := fixture.notices(t, fixture.buyer.Email)
	if len(buyerNotices) != 3 || buyerNotices[1].Type != notifications.TypePurchaseStatus {
		t.Fatalf("expected two status notifications for the buyer, got %+v", buyerNotices)
	}
	sellerNotices := fixture.notices(t, fixture.seller.Email)
	if len(sellerNotices) != 2 || sellerNotices[1].Type != notifications.TypePurchaseStatus {
		t.Fatalf("expected one status notification for the seller, got %+v", sellerNotices)
	}
	if got := len(fixture.publisher.published); got != 4 {
		t.Fatalf("expected completion plus three status events, got %d", got)
	}
}

func TestAdvanceRejectsOutsiders(t *testing.T) {
	fixture := newFixture(t)
	purchase := fixture.record(t, "cs_1")
	_, err := fixture.service.Advance(context.Background(), purchase.ID, "stranger@example.com", StatusPreparing)
	if !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected not participant, got %v", err)
	}
	if _, err := fixture.service.Advance(context.Background(), 404, fixture.seller.Email, StatusPreparing); !errors.Is(err, ErrPurchaseNotFound) {
		t.Fatalf("expected purchase not found, got %v", err)
	}
}

func TestStatusForProductReportsRoleAndOptions(t *testing.T) {
	fixture := newFixture(t)
	ctx := context.Background()

	status, err := fixture.service.StatusForProduct(ctx, fixture.product.ID, fixture.buyer)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Role != "none" || status.Sold || status.Purchase != nil {
		t.Fatalf("unexpected status before sale %+v", status)
	}

	fixture.record(t, "cs_1")
	status, err = fixture.service.StatusForProduct(ctx, fixture.product.ID, fixture.seller)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Role != "seller" || !status.Sold || status.Purchase == nil {
		t.Fatalf("unexpected seller status %+v", status)
	}
	if len(status.NextOptions) != 1 || status.NextOptions[0] != StatusPreparing {
		t.Fatalf("unexpected seller options %v", status.NextOptions)
	}

	status, err = fixture.service.StatusForProduct(ctx, fixture.product.ID, fixture.buyer)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Role != "buyer" || len(status.NextOptions) != 0 {
		t.Fatalf("unexpected buyer status %+v", status)
	}

	status, err = fixture.service.StatusForProduct(ctx, fixture.product.ID, users.User{})
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Role != "none" || status.Purchase != nil {
		t.Fatalf("anonymous viewer must not see the purchase, got %+v", status)
	}
}

func TestStartCheckoutBuildsProviderRequest(t *testing.T) {
	fixture := newFixture(t)
	session, err := fixture.service.StartCheckout(context.Background(), CheckoutRequest{ProductID: fixture.product.ID, Buyer: fixture.buyer})
	if err != nil {
		t.Fatalf("start checkout failed: %v", err)
	}
	if session.ID != "cs_test_1" {
		t.Fatalf("unexpected session %+v", session)
	}
	if len(fixture.gateway.requests) != 1 {
		t.Fatalf("expected one provider request, got %d", len(fixture.gateway.requests))
	}
	request := fixture.gateway.requests[0]
	if request.Amount != 500 || request.Currency != "jpy" || request.BuyerEmail != fixture.buyer.Email || request.SellerID != fixture.seller.ID {
		t.Fatalf("unexpected request %+v", request)
	}
	if request.ImageURL != "http://localhost:5173/uploads/products/botchan.png" {
		t.Fatalf("unexpected image url %q", request.ImageURL)
	}
	wantSuccess := "http://localhost:5173/purchase-complete?session_id={CHECKOUT_SESSION_ID}&product_id=1"
	if request.SuccessURL != wantSuccess {
		t.Fatalf("unexpected success url %q", request.SuccessURL)
	}
}

func TestStartCheckoutRejectsSellerAndSoldProducts(t *testing.T) {
	fixture := newFixture(t)
	ctx := context.Background()
	if _, err := fixture.service.StartCheckout(ctx, CheckoutRequest{ProductID: fixture.product.ID, Buyer: fixture.seller}); !errors.Is(err, ErrOwnListing) {
		t.Fatalf("expected own listing rejection, got %v", err)
	}
	fixture.record(t, "cs_1")
	if _, err := fixture.service.StartCheckout(ctx, CheckoutRequest{ProductID: fixture.product.ID, Buyer: fixture.buyer}); !errors.Is(err, ErrNotForSale) {
		t.Fatalf("expected not for sale, got %v", err)
	}
}

func TestStartCheckoutWithoutGateway(t *testing.T) {
	fixture := newFixture(t)
	notifier, _ := notifications.NewService(notifications.ServiceConfig{Database: fixture.db})
	service, err := NewService(ServiceConfig{Database: fixture.db, Notifier: notifier})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	_, err = service.StartCheckout(context.Background(), CheckoutRequest{ProductID: fixture.product.ID, Buyer: fixture.buyer})
	if !errors.Is(err, failure.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestHandleWebhookRecordsPaidCheckout(t *testing.T) {
	fixture := newFixture(t)
	fixture.gateway.event = payments.Event{
		ID:   "evt_1",
		Type: payments.EventCheckoutCompleted,
		Session: &payments.Session{
			ID:            "cs_hook",
			PaymentStatus: "paid",
			AmountTotal:   500,
			Currency:      "jpy",
			Metadata: map[string]string{
				payments.MetadataProductID:  "1",
				payments.MetadataBuyerEmail: fixture.buyer.Email,
			},
		},
	}

	result, err := fixture.service.HandleWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("webhook failed: %v", err)
	}
	if !result.Recorded || result.Purchase == nil || result.Purchase.SessionID != "cs_hook" {
		t.Fatalf("unexpected result %+v", result)
	}

	result, err = fixture.service.HandleWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil || result.Recorded {
		t.Fatalf("expected redelivery to be acknowledged without recording, got %+v %v", result, err)
	}
}

func TestHandleWebhookAcknowledgesMissingProduct(t *testing.T) {
	fixture := newFixture(t)
	fixture.gateway.event = payments.Event{
		ID:   "evt_gone",
		Type: payments.EventCheckoutCompleted,
		Session: &payments.Session{
			ID:            "cs_gone",
			PaymentStatus: "paid",
			AmountTotal:   500,
			Currency:      "jpy",
			Metadata: map[string]string{
				payments.MetadataProductID:  "999",
				payments.MetadataBuyerEmail: fixture.buyer.Email,
			},
		},
	}

	result, err := fixture.service.HandleWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("expected a missing product to be acknowledged, got %v", err)
	}
	if result.Recorded || result.Purchase != nil {
		t.Fatalf("expected nothing recorded, got %+v", result)
	}
	var count int64
	if err := fixture.db.Model(&Purchase{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count purchases: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no purchases, got %d", count)
	}
}

func TestHandleWebhookIgnoresOtherEventsAndUnpaidSessions(t *testing.T) {
	fixture := newFixture(t)
	fixture.gateway.event = payments.Event{ID: "evt_2", Type: "payment_intent.created"}
	if result, err := fixture.service.HandleWebhook(context.Background(), nil, "sig"); err != nil || result.Recorded {
		t.Fatalf("expected other event to be ignored, got %+v %v", result, err)
	}

	fixture.gateway.event = payments.Event{
		ID:      "evt_3",
		Type:    payments.EventCheckoutCompleted,
		Session: &payments.Session{ID: "cs_unpaid", PaymentStatus: "unpaid", Metadata: map[string]string{payments.MetadataProductID: "1"}},
	}
	if result, err := fixture.service.HandleWebhook(context.Background(), nil, "sig"); err != nil || result.Recorded {
		t.Fatalf("expected unpaid session to be ignored, got %+v %v", result, err)
	}

	fixture.gateway.parseErr = payments.ErrInvalidSignature
	if _, err := fixture.service.HandleWebhook(context.Background(), nil, "bad"); !errors.Is(err, failure.ErrInvalid) {
		t.Fatalf("expected signature failure, got %v", err)
	}
}

func TestSyncSessionRecordsPaidSessionOnce(t *testing.T) {
	fixture := newFixture(t)
	fixture.gateway.sessions["cs_poll"] = payments.Session{
		ID:            "cs_poll",
		PaymentStatus: "paid",
		CustomerEmail: fixture.buyer.Email,
		AmountTotal:   500,
		Currency:      "jpy",
		Metadata:      map[string]string{payments.MetadataProductID: "1"},
	}
	fixture.gateway.sessions["cs_open"] = payments.Session{ID: "cs_open", Status: "open", PaymentStatus: "unpaid"}

	status, err := fixture.service.SyncSession(context.Background(), "cs_poll")
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if !status.Recorded || status.Purchase == nil || status.Purchase.BuyerEmail != fixture.buyer.Email {
		t.Fatalf("unexpected status %+v", status)
	}
	status, err = fixture.service.SyncSession(context.Background(), "cs_poll")
	if err != nil || status.Recorded || status.Purchase == nil {
		t.Fatalf("expected stored purchase on second poll, got %+v %v", status, err)
	}

	status, err = fixture.service.SyncSession(context.Background(), "cs_open")
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if status.Purchase != nil || status.Session.Status != "open" {
		t.Fatalf("expected unpaid session status only, got %+v", status)
	}
}

func TestSubmitReviewAfterCompletion(t *testing.T) {
	fixture := newFixture(t)
	ctx := context.Background()
	purchase := fixture.record(t, "cs_1")

	if _, err := fixture.service.SubmitReview(ctx, purchase.ID, fixture.buyer.Email, 5, "good"); !errors.Is(err, ErrReviewTooEarly) {
		t.Fatalf("expected too early, got %v", err)
	}
	for _, step := range []struct {
		actor  string
		target Status
	}{
		{fixture.seller.Email, StatusPreparing},
		{fixture.seller.Email, StatusShipped},
		{fixture.buyer.Email, StatusCompleted},
	} {
		if _, err := fixture.service.Advance(ctx, purchase.ID, step.actor, step.target); err != nil {
			t.Fatalf("advance to %s failed: %v", step.target, err)
		}
	}

	if _, err := fixture.service.SubmitReview(ctx, purchase.ID, fixture.buyer.Email, 6, ""); !errors.Is(err, failure.ErrInvalid) {
		t.Fatalf("expected rating validation, got %v", err)
	}
	review, err := fixture.service.SubmitReview(ctx, purchase.ID, fixture.buyer.Email, 5, " 丁寧な梱包でした ")
	if err != nil {
		t.Fatalf("review failed: %v", err)
	}
	if review.RevieweeEmail != fixture.seller.Email || review.Comment != "丁寧な梱包でした" {
		t.Fatalf("unexpected review %+v", review)
	}
	if _, err := fixture.service.SubmitReview(ctx, purchase.ID, fixture.buyer.Email, 4, ""); !errors.Is(err, ErrAlreadyReviewed) {
		t.Fatalf("expected duplicate review rejection, got %v", err)
	}
	if _, err := fixture.service.SubmitReview(ctx, purchase.ID, fixture.seller.Email, 3, ""); err != nil {
		t.Fatalf("seller review failed: %v", err)
	}

	summary, err := fixture.service.RatingOf(ctx, fixture.seller.Email)
	if err != nil {
		t.Fatalf("rating failed: %v", err)
	}
	if summary.Count != 1 || summary.Average != 5 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	notices := fixture.notices(t, fixture.seller.Email)
	if last := notices[len(notices)-1]; last.Type != notifications.TypeReviewReceived {
		t.Fatalf("expected review notification, got %+v", last)
	}
}
