// Package news serves the operator announcements shown on the news page.
package news

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	operationNews = "news.publish"

	maxTitleLength   = 255
	maxContentLength = 3000
	defaultListLimit = 50
)

// Category groups announcements on the news page.
type Category string

const (
	CategoryImportant Category = "important"
	CategoryUpdate    Category = "update"
	CategoryGeneral   Category = "general"
)

// ParseCategory accepts a known category; empty means general.
func ParseCategory(value string) (Category, error) {
	switch Category(strings.TrimSpace(value)) {
	case "", CategoryGeneral:
		return CategoryGeneral, nil
	case CategoryImportant:
		return CategoryImportant, nil
	case CategoryUpdate:
		return CategoryUpdate, nil
	default:
		return "", failure.Invalid("category", fmt.Sprintf("%q is not a news category", value))
	}
}

// ErrNewsNotFound reports an unknown announcement id.
var ErrNewsNotFound = fmt.Errorf("%w: news not found", failure.ErrNotFound)

// Article is one announcement.
type Article struct {
	ID          uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Category    Category  `gorm:"column:category;size:20;not null"`
	Title       string    `gorm:"column:title;size:255;not null"`
	Content     string    `gorm:"column:content;type:text;not null"`
	AuthorEmail string    `gorm:"column:author_email;size:120"`
	PublishedAt time.Time `gorm:"column:published_at;not null;index"`
}

// TableName exposes the table backing announcements.
func (Article) TableName() string {
	return "news"
}

// ServiceConfig describes the dependencies required by the news service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service lists and publishes announcements.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the news service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("news: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// List returns the latest announcements, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var articles []Article
	err := s.db.WithContext(ctx).Order("published_at DESC").Order("id DESC").Limit(limit).Find(&articles).Error
	if err != nil {
		return nil, failure.Wrap(operationNews, "list_failed", err)
	}
	return articles, nil
}

// Get loads one announcement.
func (s *Service) Get(ctx context.Context, id uint64) (Article, error) {
	var article Article
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&article).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Article{}, ErrNewsNotFound
	}
	if err != nil {
		return Article{}, failure.Wrap(operationNews, "load_failed", err)
	}
	return article, nil
}

// Draft is an announcement submission.
type Draft struct {
	Category string
	Title    string
	Content  string
}

// Publish stores an announcement written by author.
func (s *Service) Publish(ctx context.Context, author string, draft Draft) (Article, error) {
	category, err := ParseCategory(draft.Category)
	if err != nil {
		return Article{}, err
	}
	title := strings.TrimSpace(draft.Title)
	if title == "" {
		return Article{}, failure.Invalid("title", "is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return Article{}, failure.Invalid("title", fmt.Sprintf("must be at most %d characters", maxTitleLength))
	}
	content := strings.TrimSpace(draft.Content)
	if content == "" {
		return Article{}, failure.Invalid("content", "is required")
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return Article{}, failure.Invalid("content", fmt.Sprintf("must be at most %d characters", maxContentLength))
	}
	article := Article{
		Category:    category,
		Title:       title,
		Content:     content,
		AuthorEmail: users.NormalizeEmail(author),
		PublishedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&article).Error; err != nil {
		failure.LogError(s.logger, "news service failure", operationNews, "insert_failed", err)
		return Article{}, failure.Wrap(operationNews, "insert_failed", err)
	}
	return article, nil
}

// DefaultAnnouncements is the list the news table starts with.
func DefaultAnnouncements() []Article {
	day := func(month time.Month, d int) time.Time {
		return time.Date(2025, month, d, 10, 0, 0, 0, time.UTC)
	}
	return []Article{
		{
			Category:    CategoryImportant,
			Title:       "Bibliサービス開始のお知らせ",
			Content:     "古本フリマアプリBibliのサービスを開始しました。\n読み終えた本を次の読者へつなぐお手伝いをします。",
			PublishedAt: day(time.April, 1),
		},
		{
			Category:    CategoryUpdate,
			Title:       "商品タグ検索に対応しました",
			Content:     "検索欄で「#タグ名」と入力すると、タグが付いた商品を探せるようになりました。",
			PublishedAt: day(time.May, 15),
		},
		{
			Category:    CategoryUpdate,
			Title:       "取引チャット機能を追加しました",
			Content:     "購入前の質問や購入後の連絡を、商品ごとのチャットで行えるようになりました。",
			PublishedAt: day(time.June, 20),
		},
		{
			Category:    CategoryGeneral,
			Title:       "安全なお取引のために",
			Content:     "迷惑なユーザーはブロックできます。ブロックした相手の商品や通知は表示されません。",
			PublishedAt: day(time.July, 1),
		},
	}
}
