package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/config"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/database"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/events"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/favorites"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/forum"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/news"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/payments"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/purchases"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/recommend"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/server"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/social"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/uploads"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const mailDrainTimeout = 15 * time.Second

// application holds the wired services and the resources that need closing.
type application struct {
	logger    *zap.Logger
	db        *gorm.DB
	publisher events.Publisher
	redis     *redis.Client

	tokens        *auth.TokenIssuer
	limiter       ratelimit.Limiter
	users         *users.Service
	social        *social.Service
	notifications *notifications.Service
	catalog       *catalog.Service
	purchases     *purchases.Service
	chat          *chat.Service
	favorites     *favorites.Service
	recommend     *recommend.Service
	forum         *forum.Service
	news          *news.Service
	uploads       *uploads.Store
}

func buildApplication(appConfig config.AppConfig, logger *zap.Logger) (*application, error) {
	app := &application{logger: logger}
	if err := app.build(appConfig); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (app *application) build(appConfig config.AppConfig) error {
	logger := app.logger
	clock := time.Now

	db, err := database.OpenAndMigrate(appConfig.Database, logger)
	if err != nil {
		return err
	}
	app.db = db

	publisher, err := events.New(events.Config{
		Driver:       appConfig.Events.Driver,
		AMQPURL:      appConfig.Events.AMQPURL,
		KafkaBrokers: appConfig.Events.KafkaBrokers,
		Topic:        appConfig.Events.Topic,
	})
	if err != nil {
		return err
	}
	app.publisher = publisher

	app.tokens, err = auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.Auth.SigningSecret),
		Issuer:        appConfig.Auth.Issuer,
		Audience:      appConfig.Auth.Audience,
		TokenTTL:      appConfig.Auth.TokenTTL,
		Clock:         clock,
	})
	if err != nil {
		return err
	}

	app.limiter = ratelimit.Unlimited{}
	if appConfig.Redis.Address != "" {
		app.redis = ratelimit.NewRedisClient(appConfig.Redis.Address, appConfig.Redis.Password, appConfig.Redis.Database)
		app.limiter = ratelimit.NewRedisLimiter(app.redis, ratelimit.Config{
			Capacity:        appConfig.RateLimit.Capacity,
			RefillPerMinute: appConfig.RateLimit.RefillPerMinute,
			Clock:           clock,
		})
	} else {
		logger.Info("rate limiting disabled: redis.address not set")
	}

	var gateway payments.Gateway = payments.Disabled{}
	if appConfig.Stripe.SecretKey != "" {
		stripeGateway, err := payments.NewStripeGateway(payments.StripeConfig{
			SecretKey:     appConfig.Stripe.SecretKey,
			WebhookSecret: appConfig.Stripe.WebhookSecret,
		})
		if err != nil {
			return err
		}
		gateway = stripeGateway
	} else {
		logger.Info("checkout disabled: stripe.secret_key not set")
	}

	notifierConfig := notifications.ServiceConfig{Database: db, Clock: clock, Logger: logger}
	if appConfig.SMTP.Host != "" {
		mailer, err := notifications.NewSMTPMailer(notifications.SMTPConfig{
			Host:     appConfig.SMTP.Host,
			Port:     appConfig.SMTP.Port,
			Username: appConfig.SMTP.Username,
			Password: appConfig.SMTP.Password,
			From:     appConfig.SMTP.From,
		})
		if err != nil {
			return err
		}
		notifierConfig.Mailer = mailer
	}
	if app.notifications, err = notifications.NewService(notifierConfig); err != nil {
		return err
	}

	if app.users, err = users.NewService(users.ServiceConfig{
		Database: db,
		Hasher:   auth.NewPasswordHasher(appConfig.Auth.BcryptCost),
		Clock:    clock,
		Logger:   logger,
	}); err != nil {
		return err
	}
	if app.social, err = social.NewService(social.ServiceConfig{Database: db, Clock: clock, Logger: logger}); err != nil {
		return err
	}
	if app.purchases, err = purchases.NewService(purchases.ServiceConfig{
		Database:       db,
		Notifier:       app.notifications,
		Gateway:        gateway,
		Publisher:      publisher,
		Currency:       appConfig.Stripe.Currency,
		FrontendOrigin: appConfig.FrontendOrigin,
		Clock:          clock,
		Logger:         logger,
	}); err != nil {
		return err
	}
	if app.catalog, err = catalog.NewService(catalog.ServiceConfig{
		Database:  db,
		Notifier:  app.notifications,
		Sales:     app.purchases,
		Publisher: publisher,
		Clock:     clock,
		Logger:    logger,
	}); err != nil {
		return err
	}
	if app.chat, err = chat.NewService(chat.ServiceConfig{
		Database: db,
		Notifier: app.notifications,
		Sales:    app.purchases,
		Clock:    clock,
		Logger:   logger,
	}); err != nil {
		return err
	}
	if app.favorites, err = favorites.NewService(favorites.ServiceConfig{Database: db, Clock: clock, Logger: logger}); err != nil {
		return err
	}
	if app.recommend, err = recommend.NewService(recommend.ServiceConfig{Database: db, Logger: logger}); err != nil {
		return err
	}
	if app.forum, err = forum.NewService(forum.ServiceConfig{Database: db, Clock: clock, Logger: logger}); err != nil {
		return err
	}
	if app.news, err = news.NewService(news.ServiceConfig{Database: db, Clock: clock, Logger: logger}); err != nil {
		return err
	}
	app.uploads, err = uploads.NewStore(uploads.Config{Dir: appConfig.Uploads.Dir, MaxBytes: appConfig.Uploads.MaxBytes})
	return err
}

func (app *application) httpHandler(allowedOrigins []string) (http.Handler, error) {
	return server.NewHTTPHandler(server.Dependencies{
		Tokens:         app.tokens,
		Users:          app.users,
		Social:         app.social,
		Catalog:        app.catalog,
		Purchases:      app.purchases,
		Chat:           app.chat,
		Favorites:      app.favorites,
		Recommend:      app.recommend,
		Notifications:  app.notifications,
		Forum:          app.forum,
		News:           app.news,
		Uploads:        app.uploads,
		Limiter:        app.limiter,
		AllowedOrigins: allowedOrigins,
		Logger:         app.logger,
	})
}

// Close drains queued notification mail, then releases the broker, redis and
// database connections. Failures are logged because nothing can act on them
// during shutdown.
func (app *application) Close() {
	var errs []error
	if app.notifications != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mailDrainTimeout)
		errs = append(errs, app.notifications.Close(ctx))
		cancel()
	}
	if app.publisher != nil {
		errs = append(errs, app.publisher.Close())
	}
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
	}
	if app.db != nil {
		if sqlDB, err := app.db.DB(); err != nil {
			errs = append(errs, err)
		} else {
			errs = append(errs, sqlDB.Close())
		}
	}
	if err := errors.Join(errs...); err != nil {
		app.logger.Warn("shutdown cleanup failed", zap.Error(err))
	}
}
