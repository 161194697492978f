package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/social"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []Mail
	err  error
}

func (m *recordingMailer) Send(_ context.Context, mail Mail) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, mail)
	return nil
}

func (m *recordingMailer) Sent() []Mail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Mail(nil), m.sent...)
}

// drain waits for the background sender to flush queued mail.
func drain(t *testing.T, service *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := service.Close(ctx); err != nil {
		t.Fatalf("mail queue did not drain: %v", err)
	}
}

func newTestService(t *testing.T, mailer Mailer, logger *zap.Logger) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDatabase(t, &Notification{}, &Setting{}, &social.Block{})
	service, err := NewService(ServiceConfig{
		Database: db,
		Mailer:   mailer,
		Clock:    testutil.FixedClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func emit(t *testing.T, service *Service, db *gorm.DB, drafts ...Draft) []Notification {
	t.Helper()
	var created []Notification
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		created, err = service.Emit(tx, drafts...)
		return err
	})
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	return created
}

func TestEmitSkipsSendersBlockedByRecipient(t *testing.T) {
	service, db := newTestService(t, nil, nil)
	if err := db.Create(&social.Block{BlockerEmail: "reader@example.com", BlockedEmail: "spammer@example.com", CreatedAt: time.Now()}).Error; err != nil {
		t.Fatalf("failed to seed block: %v", err)
	}

	created := emit(t, service, db,
		Draft{Recipient: "reader@example.com", Sender: "spammer@example.com", Type: TypeNewMessage, Title: "hi"},
		Draft{Recipient: "reader@example.com", Sender: "friend@example.com", Type: TypeNewMessage, Title: "hello"},
	)
	if len(created) != 1 || created[0].SenderEmail != "friend@example.com" {
		t.Fatalf("expected only the unblocked sender's notification, got %+v", created)
	}
}

func TestEmitHonoursDisabledChannels(t *testing.T) {
	service, db := newTestService(t, nil, nil)
	disabled := false
	if _, err := service.UpdateSettings(context.Background(), "reader@example.com", SettingsUpdate{Message: &disabled}); err != nil {
		t.Fatalf("update settings failed: %v", err)
	}

	created := emit(t, service, db,
		Draft{Recipient: "reader@example.com", Sender: "seller@example.com", Type: TypeNewMessage, Title: "message"},
		Draft{Recipient: "reader@example.com", Type: TypeSystem, Title: "campaign"},
		Draft{Recipient: "reader@example.com", Sender: "seller@example.com", Type: TypeItemSold, Title: "sold"},
	)
	if len(created) != 1 || created[0].Type != TypeItemSold {
		t.Fatalf("expected only the push notification, got %+v", created)
	}
}

func TestEmitRejectsUnknownType(t *testing.T) {
	service, db := newTestService(t, nil, nil)
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := service.Emit(tx, Draft{Recipient: "reader@example.com", Type: Type("mystery")})
		return err
	})
	if err == nil {
		t.Fatalf("expected unknown type to fail")
	}
}

func TestListHidesBlockedSendersAndCountsUnread(t *testing.T) {
	service, db := newTestService(t, nil, nil)
	emit(t, service, db,
		Draft{Recipient: "reader@example.com", Sender: "seller@example.com", Type: TypeItemSold, Title: "one"},
		Draft{Recipient: "reader@example.com", Sender: "other@example.com", Type: TypeItemSold, Title: "two"},
		Draft{Recipient: "reader@example.com", Type: TypeListingComplete, Title: "three"},
	)
	if err := db.Create(&social.Block{BlockerEmail: "other@example.com", BlockedEmail: "reader@example.com", CreatedAt: time.Now()}).Error; err != nil {
		t.Fatalf("failed to seed block: %v", err)
	}

	listed, err := service.List(context.Background(), "reader@example.com", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 visible notifications, got %d", len(listed))
	}
	unread, err := service.UnreadCount(context.Background(), "reader@example.com")
	if err != nil || unread != 2 {
		t.Fatalf("expected 2 unread, got %d %v", unread, err)
	}

	if err := service.MarkRead(context.Background(), "reader@example.com", listed[0].ID); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	unread, _ = service.UnreadCount(context.Background(), "reader@example.com")
	if unread != 1 {
		t.Fatalf("expected 1 unread after marking one, got %d", unread)
	}

	if err := service.MarkRead(context.Background(), "intruder@example.com", listed[0].ID); !errors.Is(err, ErrNotificationNotFound) {
		t.Fatalf("expected foreign notification to be not found, got %v", err)
	}

	changed, err := service.MarkAllRead(context.Background(), "reader@example.com")
	if err != nil || changed != 2 {
		t.Fatalf("expected mark all to update the remaining 2 rows, got %d %v", changed, err)
	}
}

func TestSettingsAreCreatedLazilyWithDefaults(t *testing.T) {
	service, db := newTestService(t, nil, nil)

	setting, err := service.Settings(context.Background(), "Reader@example.com")
	if err != nil {
		t.Fatalf("settings failed: %v", err)
	}
	if !setting.Push || !setting.Email || !setting.Message || setting.Campaign {
		t.Fatalf("unexpected defaults %+v", setting)
	}
	var count int64
	db.Model(&Setting{}).Where("user_email = ?", "reader@example.com").Count(&count)
	if count != 1 {
		t.Fatalf("expected one settings row, got %d", count)
	}

	if _, err := service.Settings(context.Background(), "reader@example.com"); err != nil {
		t.Fatalf("second settings read failed: %v", err)
	}
	db.Model(&Setting{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected settings row to be reused, got %d rows", count)
	}
}

func TestDeliverMailsOnlyWhenEmailEnabled(t *testing.T) {
	mailer := &recordingMailer{}
	service, db := newTestService(t, mailer, nil)
	disabled := false
	if _, err := service.UpdateSettings(context.Background(), "quiet@example.com", SettingsUpdate{Email: &disabled}); err != nil {
		t.Fatalf("update settings failed: %v", err)
	}

	created := emit(t, service, db,
		Draft{Recipient: "loud@example.com", Type: TypeItemSold, Title: "Sold", Message: "Your book sold"},
		Draft{Recipient: "quiet@example.com", Type: TypeItemSold, Title: "Sold", Message: "Your book sold"},
	)
	service.Deliver(context.Background(), created)
	drain(t, service)

	sent := mailer.Sent()
	if len(sent) != 1 || sent[0].To != "loud@example.com" {
		t.Fatalf("expected a single mail to loud@example.com, got %+v", sent)
	}
	if sent[0].Subject != "[Bibli] Sold" {
		t.Fatalf("unexpected subject %q", sent[0].Subject)
	}
}

func TestDeliverLogsMailerFailures(t *testing.T) {
	core, recorded := observer.New(zapcore.ErrorLevel)
	service, db := newTestService(t, &recordingMailer{err: errors.New("relay down")}, zap.New(core))

	created := emit(t, service, db, Draft{Recipient: "reader@example.com", Type: TypeItemSold, Title: "Sold"})
	service.Deliver(context.Background(), created)
	drain(t, service)

	entries := recorded.FilterMessage("notification service failure").All()
	if len(entries) != 1 {
		t.Fatalf("expected one logged failure, got %d", len(entries))
	}
	if reason, ok := entries[0].ContextMap()["reason"]; !ok || reason != "send_failed" {
		t.Fatalf("expected send_failed reason, got %v", entries[0].ContextMap())
	}
}
