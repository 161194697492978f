// Package database opens the configured store and brings its schema up to date.
package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/config"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/favorites"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/forum"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/news"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/purchases"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/social"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Models lists every table the application owns, in creation order.
func Models() []any {
	return []any{
		&users.User{},
		&catalog.Product{},
		&catalog.ProductImage{},
		&catalog.ProductTag{},
		&catalog.ProductView{},
		&purchases.Purchase{},
		&purchases.Review{},
		&chat.Message{},
		&favorites.Favorite{},
		&forum.Thread{},
		&forum.Comment{},
		&social.Follow{},
		&social.Block{},
		&notifications.Notification{},
		&notifications.Setting{},
		&news.Article{},
		&migrationRecord{},
	}
}

// Open connects to the configured driver without touching the schema.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("database path is required")
		}
		dialector = sqlite.Open(cfg.Path)
	case "mysql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	if cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates or updates every table and applies pending data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

// OpenAndMigrate is Open followed by Migrate.
func OpenAndMigrate(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, logger); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("database initialized", zap.String("driver", cfg.Driver))
	}
	return db, nil
}
