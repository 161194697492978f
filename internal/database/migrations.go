package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/news"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeEmails = "2026-01-10_normalize_emails"
	migrationSeedNews        = "2026-01-12_seed_news"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeEmails, apply: normalizeEmails},
		{name: migrationSeedNews, apply: seedNews},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// emailColumns names every column holding an address compared across tables.
var emailColumns = []struct {
	table  string
	column string
}{
	{"users", "email"},
	{"purchases", "buyer_email"},
	{"purchase_reviews", "reviewer_email"},
	{"purchase_reviews", "reviewee_email"},
	{"product_chat_messages", "sender_email"},
	{"product_chat_messages", "receiver_email"},
	{"forum_threads", "author_email"},
	{"forum_comments", "author_email"},
	{"forum_follows", "follower_email"},
	{"forum_follows", "followee_email"},
	{"user_blocks", "blocker_email"},
	{"user_blocks", "blocked_email"},
	{"notifications", "user_email"},
	{"notifications", "sender_email"},
	{"user_notification_settings", "user_email"},
}

// normalizeEmails lower-cases and trims every stored address so that
// comparisons can be exact.
func normalizeEmails(db *gorm.DB) error {
	for _, target := range emailColumns {
		err := db.Table(target.table).
			Where(target.column+" <> LOWER(TRIM("+target.column+"))").
			Update(target.column, gorm.Expr("LOWER(TRIM("+target.column+"))")).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func seedNews(db *gorm.DB) error {
	var count int64
	if err := db.Model(&news.Article{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	announcements := news.DefaultAnnouncements()
	return db.Create(&announcements).Error
}
