package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/social"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/testutil"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	"gorm.io/gorm"
)

type stubSales struct {
	buyers map[uint64]string
}

func (s *stubSales) BuyerOf(_ *gorm.DB, productID uint64) (string, bool, error) {
	buyer, ok := s.buyers[productID]
	return buyer, ok, nil
}

type chatFixture struct {
	db       *gorm.DB
	service  *Service
	sales    *stubSales
	seller   users.User
	buyer    users.User
	prospect users.User
	product  catalog.Product
}

func newFixture(t *testing.T) *chatFixture {
	t.Helper()
	db := testutil.OpenDatabase(t,
		&users.User{}, &social.Block{},
		&notifications.Notification{}, &notifications.Setting{},
		&catalog.Product{}, &catalog.ProductImage{}, &catalog.ProductTag{},
		&Message{},
	)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
	notifier, err := notifications.NewService(notifications.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}
	fixture := &chatFixture{db: db, sales: &stubSales{buyers: map[uint64]string{}}}
	service, err := NewService(ServiceConfig{Database: db, Notifier: notifier, Sales: fixture.sales, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	fixture.service = service
	fixture.seller = fixture.user(t, "seller@example.com", "Seller")
	fixture.buyer = fixture.user(t, "buyer@example.com", "Buyer")
	fixture.prospect = fixture.user(t, "prospect@example.com", "Prospect")
	fixture.product = catalog.Product{Title: "こころ", Price: 700, SellerID: fixture.seller.ID, Status: catalog.StatusListed, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(&fixture.product).Error; err != nil {
		t.Fatalf("failed to seed product: %v", err)
	}
	return fixture
}

func (f *chatFixture) user(t *testing.T, email, name string) users.User {
	t.Helper()
	user := users.User{UserID: name, UserName: name, Email: email, PasswordHash: "x", Status: users.StatusActive, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := f.db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}

func (f *chatFixture) send(t *testing.T, sender users.User, receiver, body string) Message {
	t.Helper()
	message, err := f.service.Send(context.Background(), f.product.ID, sender, receiver, body)
	if err != nil {
		t.Fatalf("send from %s failed: %v", sender.Email, err)
	}
	return message
}

func (f *chatFixture) markSold(t *testing.T, buyer users.User) {
	t.Helper()
	f.sales.buyers[f.product.ID] = buyer.Email
	if err := catalog.MarkSold(f.db, f.product.ID, time.Now()); err != nil {
		t.Fatalf("mark sold failed: %v", err)
	}
}

func TestSendOpensThreadAndNotifiesSeller(t *testing.T) {
	fixture := newFixture(t)
	ctx := context.Background()

	if _, err := fixture.service.Send(ctx, fixture.product.ID, fixture.seller, fixture.prospect.Email, "hello"); !errors.Is(err, ErrNoThread) {
		t.Fatalf("expected seller to wait for a first message, got %v", err)
	}
	message := fixture.send(t, fixture.prospect, "Seller@Example.com", "  まだ購入できますか？ ")
	if message.Body != "まだ購入できますか？" || message.ReceiverEmail != fixture.seller.Email {
		t.Fatalf("unexpected message %+v", message)
	}
	fixture.send(t, fixture.seller, fixture.prospect.Email, "はい、購入できます")

	var notices []notifications.Notification
	fixture.db.Where("type = ?", notifications.TypeNewMessage).Order("id ASC").Find(&notices)
	if len(notices) != 2 || notices[0].UserEmail != fixture.seller.Email || notices[1].UserEmail != fixture.prospect.Email {
		t.Fatalf("unexpected notifications %+v", notices)
	}
}

func TestSendValidatesBody(t *testing.T) {
	fixture := newFixture(t)
	ctx := context.Background()
	if _, err := fixture.service.Send(ctx, fixture.product.ID, fixture.prospect, fixture.seller.Email, "   "); err == nil {
		t.Fatal("expected empty message to be rejected")
	}
	long := make([]rune, maxMessageLength+1)
	for i := range long {
		long[i] = 'あ'
	}
	if _, err := fixture.service.Send(ctx, fixture.product.ID, fixture.prospect, fixture.seller.Email, string(long)); err == nil {
		t.Fatal("expected long message to be rejected")
	}
	if _, err := fixture.service.Send(ctx, fixture.product.ID, fixture.prospect, fixture.buyer.Email, "hi"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected non-seller exchange to be rejected, got %v", err)
	}
}

func TestSendRejectsBlockedParties(t *testing.T) {
	fixture := newFixture(t)
	if err := fixture.db.Create(&social.Block{BlockerEmail: fixture.seller.Email, BlockedEmail: fixture.prospect.Email, CreatedAt: time.Now()}).Error; err != nil {
		t.Fatalf("failed to seed block: %v", err)
	}
	_, err := fixture.service.Send(context.Background(), fixture.product.ID, fixture.prospect, fixture.seller.Email, "hi")
	if !errors.Is(err, ErrChatBlocked) {
		t.Fatalf("expected blocked chat, got %v", err)
	}
	if _, err := fixture.service.Conversation(context.Background(), fixture.product.ID, fixture.prospect, ""); !errors.Is(err, ErrChatBlocked) {
		t.Fatalf("expected blocked conversation, got %v", err)
	}
}

func TestSoldScopeRestrictsToPurchaseParties(t *testing.T) {
	fixture := newFixture(t)
	ctx := context.Background()
	fixture.send(t, fixture.prospect, fixture.seller.Email, "値下げ可能ですか")
	fixture.send(t, fixture.buyer, fixture.seller.Email, "購入を検討しています")
	fixture.markSold(t, fixture.buyer)

	if _, err := fixture.service.Send(ctx, fixture.product.ID, fixture.prospect, fixture.seller.Email, "まだありますか"); !errors.Is(err, ErrThreadClosed) {
		t.Fatalf("expected prospect thread to be closed, got %v", err)
	}
	fixture.send(t, fixture.seller, fixture.buyer.Email, "発送準備を始めます")

	thread, err := fixture.service.Conversation(ctx, fixture.product.ID, fixture.prospect, "")
	if err != nil {
		t.Fatalf("conversation failed: %v", err)
	}
	if thread.Scope != ScopeSold || thread.CanSend || len(thread.Messages) != 1 {
		t.Fatalf("expected read-only prospect thread, got %+v", thread)
	}
}

func TestConversationForSellerListsCounterparties(t *testing.T) {
	fixture := newFixture(t)
	ctx := context.Background()
	fixture.send(t, fixture.prospect, fixture.seller.Email, "first")
	fixture.send(t, fixture.buyer, fixture.seller.Email, "second")

	thread, err := fixture.service.Conversation(ctx, fixture.product.ID, fixture.seller, "")
	if err != nil {
		t.Fatalf("conversation failed: %v", err)
	}
	if len(thread.Participants) != 2 || thread.Participants[0].Email != fixture.buyer.Email {
		t.Fatalf("expected most recent counterparty first, got %+v", thread.Participants)
	}
	if thread.Counterpart != fixture.buyer.Email || len(thread.Messages) != 1 || !thread.CanSend {
		t.Fatalf("unexpected default thread %+v", thread)
	}
	if thread.Participants[0].UserName != "Buyer" {
		t.Fatalf("expected display names, got %+v", thread.Participants[0])
	}

	thread, err = fixture.service.Conversation(ctx, fixture.product.ID, fixture.seller, fixture.prospect.Email)
	if err != nil {
		t.Fatalf("conversation failed: %v", err)
	}
	if thread.Counterpart != fixture.prospect.Email || len(thread.Messages) != 1 || thread.Messages[0].Body != "first" {
		t.Fatalf("unexpected selected thread %+v", thread)
	}
	if thread.Scope != ScopeOpen {
		t.Fatalf("expected open scope, got %s", thread.Scope)
	}

	if err := fixture.db.Create(&social.Block{BlockerEmail: fixture.prospect.Email, BlockedEmail: fixture.seller.Email, CreatedAt: time.Now()}).Error; err != nil {
		t.Fatalf("failed to seed block: %v", err)
	}
	thread, err = fixture.service.Conversation(ctx, fixture.product.ID, fixture.seller, fixture.prospect.Email)
	if err != nil {
		t.Fatalf("conversation failed: %v", err)
	}
	if len(thread.Participants) != 1 || thread.Counterpart != fixture.buyer.Email {
		t.Fatalf("expected blocked counterparty to be hidden, got %+v", thread)
	}
}

func TestConversationMarksIncomingRead(t *testing.T) {
	fixture := newFixture(t)
	ctx := context.Background()
	fixture.send(t, fixture.prospect, fixture.seller.Email, "hello")

	unread, err := fixture.service.UnreadCount(ctx, fixture.seller.Email)
	if err != nil || unread != 1 {
		t.Fatalf("expected one unread message, got %d %v", unread, err)
	}
	if _, err := fixture.service.Conversation(ctx, fixture.product.ID, fixture.seller, ""); err != nil {
		t.Fatalf("conversation failed: %v", err)
	}
	unread, err = fixture.service.UnreadCount(ctx, fixture.seller.Email)
	if err != nil || unread != 0 {
		t.Fatalf("expected messages to be read, got %d %v", unread, err)
	}

	thread, err := fixture.service.Conversation(ctx, fixture.product.ID, fixture.buyer, "")
	if err != nil {
		t.Fatalf("conversation failed: %v", err)
	}
	if thread.Counterpart != fixture.seller.Email || len(thread.Messages) != 0 || !thread.CanSend {
		t.Fatalf("expected empty sendable thread with seller, got %+v", thread)
	}
}
