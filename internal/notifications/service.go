package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/social"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	operationEmit     = "notifications.emit"
	operationDeliver  = "notifications.deliver"
	operationList     = "notifications.list"
	operationMarkRead = "notifications.mark_read"
	operationSettings = "notifications.settings"

	defaultListLimit = 50
	maxListLimit     = 200
	mailSubjectTag   = "[Bibli] "
)

// ErrNotificationNotFound reports a notification that does not exist or belongs to someone else.
var ErrNotificationNotFound = fmt.Errorf("%w: notification not found", failure.ErrNotFound)

// Draft describes a notification to be written by Emit.
type Draft struct {
	Recipient string
	Sender    string
	Type      Type
	Title     string
	Message   string
	ProductID *uint64
}

// ServiceConfig describes the dependencies required by the notification service.
type ServiceConfig struct {
	Database *gorm.DB
	Mailer   Mailer
	// MailQueueSize bounds the mail waiting for the background sender.
	MailQueueSize int
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Service writes, lists and e-mails notifications.
type Service struct {
	db     *gorm.DB
	mail   *mailQueue
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the notification service. The mailer is optional.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("notifications: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &Service{db: cfg.Database, now: clock, logger: logger}
	if cfg.Mailer != nil {
		service.mail = newMailQueue(cfg.Mailer, cfg.MailQueueSize, logger)
	}
	return service, nil
}

// Close stops the mail sender after draining queued mail, or gives up when
// ctx ends.
func (s *Service) Close(ctx context.Context) error {
	if s.mail == nil {
		return nil
	}
	return s.mail.close(ctx)
}

// Emit writes the drafts through tx so they commit or roll back with the
// caller's change. Drafts whose sender the recipient has blocked, or whose
// type the recipient switched off, are dropped.
func (s *Service) Emit(tx *gorm.DB, drafts ...Draft) ([]Notification, error) {
	created := make([]Notification, 0, len(drafts))
	settingsCache := make(map[string]Setting)
	for _, draft := range drafts {
		recipient := users.NormalizeEmail(draft.Recipient)
		sender := users.NormalizeEmail(draft.Sender)
		if recipient == "" {
			continue
		}
		if _, err := draft.Type.channel(); err != nil {
			return nil, failure.Wrap(operationEmit, "unknown_type", err)
		}
		if sender != "" && sender != recipient {
			blocked, err := social.HasBlocked(tx, recipient, sender)
			if err != nil {
				return nil, failure.Wrap(operationEmit, "block_lookup_failed", err)
			}
			if blocked {
				continue
			}
		}

		setting, ok := settingsCache[recipient]
		if !ok {
			loaded, err := loadSetting(tx, recipient)
			if err != nil {
				return nil, failure.Wrap(operationEmit, "settings_lookup_failed", err)
			}
			setting = loaded
			settingsCache[recipient] = setting
		}
		if !setting.allows(draft.Type) {
			continue
		}

		notification := Notification{
			UserEmail:        recipient,
			SenderEmail:      sender,
			Type:             draft.Type,
			Title:            strings.TrimSpace(draft.Title),
			Message:          strings.TrimSpace(draft.Message),
			RelatedProductID: draft.ProductID,
			CreatedAt:        s.now().UTC(),
		}
		if err := tx.Create(&notification).Error; err != nil {
			return nil, failure.Wrap(operationEmit, "insert_failed", err)
		}
		created = append(created, notification)
	}
	return created, nil
}

// Deliver queues e-mail for committed notifications whose recipients kept
// the email channel on. Sending happens in the background; failures and
// drops are logged.
func (s *Service) Deliver(ctx context.Context, created []Notification) {
	if s.mail == nil || len(created) == 0 {
		return
	}
	for _, notification := range created {
		setting, err := loadSetting(s.db.WithContext(ctx), notification.UserEmail)
		if err != nil {
			s.logError(operationDeliver, "settings_lookup_failed", err, zap.Uint64("notification_id", notification.ID))
			continue
		}
		if !setting.Email {
			continue
		}
		mail := Mail{
			To:      notification.UserEmail,
			Subject: mailSubjectTag + notification.Title,
			Body:    notification.Message,
		}
		if !s.mail.enqueue(outboundMail{notificationID: notification.ID, mail: mail}) {
			s.logger.Warn("notification mail dropped",
				zap.Uint64("notification_id", notification.ID),
				zap.String("recipient", notification.UserEmail))
		}
	}
}

// List returns the viewer's notifications, newest first, hiding entries sent
// by anyone in a block relation with the viewer.
func (s *Service) List(ctx context.Context, viewer string, limit int) ([]Notification, error) {
	viewer = users.NormalizeEmail(viewer)
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query, err := s.visible(ctx, viewer)
	if err != nil {
		return nil, err
	}
	var notifications []Notification
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&notifications).Error; err != nil {
		return nil, failure.Wrap(operationList, "query_failed", err)
	}
	return notifications, nil
}

// UnreadCount counts the visible unread notifications for viewer.
func (s *Service) UnreadCount(ctx context.Context, viewer string) (int64, error) {
	query, err := s.visible(ctx, users.NormalizeEmail(viewer))
	if err != nil {
		return 0, err
	}
	var count int64
	if err := query.Where("is_read = ?", false).Count(&count).Error; err != nil {
		return 0, failure.Wrap(operationList, "count_failed", err)
	}
	return count, nil
}

// MarkRead flags one of the viewer's notifications as read.
func (s *Service) MarkRead(ctx context.Context, viewer string, id uint64) error {
	result := s.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND user_email = ?", id, users.NormalizeEmail(viewer)).
		Update("is_read", true)
	if result.Error != nil {
		s.logError(operationMarkRead, "update_failed", result.Error)
		return failure.Wrap(operationMarkRead, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&Notification{}).
			Where("id = ? AND user_email = ?", id, users.NormalizeEmail(viewer)).
			Count(&count).Error; err != nil {
			return failure.Wrap(operationMarkRead, "lookup_failed", err)
		}
		if count == 0 {
			return ErrNotificationNotFound
		}
	}
	return nil
}

// MarkAllRead flags every unread notification of the viewer and returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, viewer string) (int64, error) {
	result := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_email = ? AND is_read = ?", users.NormalizeEmail(viewer), false).
		Update("is_read", true)
	if result.Error != nil {
		s.logError(operationMarkRead, "bulk_update_failed", result.Error)
		return 0, failure.Wrap(operationMarkRead, "bulk_update_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// Settings returns the user's settings, creating the default row on first access.
func (s *Service) Settings(ctx context.Context, email string) (Setting, error) {
	email = users.NormalizeEmail(email)
	var setting Setting
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		setting, err = ensureSetting(tx, email, s.now().UTC())
		return err
	})
	if err != nil {
		s.logError(operationSettings, "load_failed", err)
		return Setting{}, failure.Wrap(operationSettings, "load_failed", err)
	}
	return setting, nil
}

// SettingsUpdate lists the switches to change; nil leaves a switch untouched.
type SettingsUpdate struct {
	Push     *bool
	Email    *bool
	Message  *bool
	Campaign *bool
}

// UpdateSettings applies a partial change to the user's settings.
func (s *Service) UpdateSettings(ctx context.Context, email string, update SettingsUpdate) (Setting, error) {
	email = users.NormalizeEmail(email)
	var setting Setting
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := ensureSetting(tx, email, s.now().UTC())
		if err != nil {
			return err
		}
		if update.Push != nil {
			current.Push = *update.Push
		}
		if update.Email != nil {
			current.Email = *update.Email
		}
		if update.Message != nil {
			current.Message = *update.Message
		}
		if update.Campaign != nil {
			current.Campaign = *update.Campaign
		}
		current.UpdatedAt = s.now().UTC()
		if err := tx.Save(&current).Error; err != nil {
			return err
		}
		setting = current
		return nil
	})
	if err != nil {
		s.logError(operationSettings, "update_failed", err)
		return Setting{}, failure.Wrap(operationSettings, "update_failed", err)
	}
	return setting, nil
}

func (s *Service) visible(ctx context.Context, viewer string) (*gorm.DB, error) {
	db := s.db.WithContext(ctx)
	blocked, err := social.BlockedCounterparts(db, viewer)
	if err != nil {
		return nil, failure.Wrap(operationList, "block_lookup_failed", err)
	}
	query := db.Model(&Notification{}).Where("user_email = ?", viewer)
	if len(blocked) > 0 {
		query = query.Where("(sender_email IS NULL OR sender_email = '' OR sender_email NOT IN ?)", blocked)
	}
	return query, nil
}

func loadSetting(db *gorm.DB, email string) (Setting, error) {
	var setting Setting
	err := db.Where("user_email = ?", email).Take(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return defaultSetting(email), nil
	}
	return setting, err
}

func ensureSetting(tx *gorm.DB, email string, now time.Time) (Setting, error) {
	fresh := defaultSetting(email)
	fresh.UpdatedAt = now
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
		return Setting{}, err
	}
	var setting Setting
	if err := tx.Where("user_email = ?", email).Take(&setting).Error; err != nil {
		return Setting{}, err
	}
	return setting, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	failure.LogError(s.logger, "notification service failure", operation, reason, err, fields...)
}
