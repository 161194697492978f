package forum

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
	operationList    = "forum.list"
	operationCreate  = "forum.create"
	operationComment = "forum.comment"
	operationLike    = "forum.like"
	operationDelete  = "forum.delete"

	defaultPageSize = 20
	maxPageSize     = 100
	maxTitleLength  = 100
	guestName       = "ゲスト"
)

var (
	// ErrThreadNotFound reports an unknown thread id.
	ErrThreadNotFound = fmt.Errorf("%w: thread not found", failure.ErrNotFound)
	// ErrCommentNotFound reports an unknown comment id.
	ErrCommentNotFound = fmt.Errorf("%w: comment not found", failure.ErrNotFound)
	// ErrNotAuthor rejects deleting someone else's thread.
	ErrNotAuthor = fmt.Errorf("%w: only the author may delete this thread", failure.ErrForbidden)
)

// ServiceConfig describes the dependencies required by the forum service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service reads and writes board content.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the forum service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("forum: database connection required")
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

// ThreadQuery filters and pages the thread list. An empty or "all"
// category lists every section.
type ThreadQuery struct {
	Category string
	Sort     SortMode
	Page     int
	Limit    int
}

// ThreadSummary is a listed thread with its comment count.
type ThreadSummary struct {
	Thread
	CommentCount int64
}

// ThreadPage is one page of threads.
type ThreadPage struct {
	Total      int64
	Page       int
	Limit      int
	TotalPages int
	Threads    []ThreadSummary
}

// ListThreads returns a page of threads, newest first or by likes then views.
func (s *Service) ListThreads(ctx context.Context, query ThreadQuery) (ThreadPage, error) {
	page := query.Page
	if page < 1 {
		page = 1
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	result := ThreadPage{Page: page, Limit: limit, Threads: []ThreadSummary{}}

	filtered := func() *gorm.DB {
		statement := s.db.WithContext(ctx).Model(&Thread{})
		if category := strings.TrimSpace(query.Category); category != "" && category != "all" {
			statement = statement.Where("category = ?", category)
		}
		return statement
	}
	if err := filtered().Count(&result.Total).Error; err != nil {
		s.logError(operationList, "count_failed", err)
		return ThreadPage{}, failure.Wrap(operationList, "count_failed", err)
	}
	result.TotalPages = int((result.Total + int64(limit) - 1) / int64(limit))

	statement := filtered()
	if query.Sort == SortPopular {
		statement = statement.Order("like_count DESC").Order("view_count DESC")
	}
	var threads []Thread
	err := statement.Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&threads).Error
	if err != nil {
		s.logError(operationList, "query_failed", err)
		return ThreadPage{}, failure.Wrap(operationList, "query_failed", err)
	}

	counts, err := commentCounts(s.db.WithContext(ctx), threads)
	if err != nil {
		s.logError(operationList, "comment_count_failed", err)
		return ThreadPage{}, failure.Wrap(operationList, "comment_count_failed", err)
	}
	for _, thread := range threads {
		result.Threads = append(result.Threads, ThreadSummary{Thread: thread, CommentCount: counts[thread.ID]})
	}
	return result, nil
}

// NewThread is a thread submission. Author falls back to the guest name.
type NewThread struct {
	Category string
	Title    string
	Content  string
	Author   Author
}

// Author names who wrote a post. Email is empty for guests.
type Author struct {
	Name  string
	Email string
}

// AuthorFor derives the author of a post from the signed-in user, if any.
func AuthorFor(user *users.User, fallbackName string) Author {
	if user != nil {
		return Author{Name: user.DisplayName(), Email: user.Email}
	}
	return Author{Name: fallbackName}
}

func (a Author) normalized() Author {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		name = guestName
	}
	return Author{Name: name, Email: users.NormalizeEmail(a.Email)}
}

// CreateThread validates and stores a thread.
func (s *Service) CreateThread(ctx context.Context, submission NewThread) (Thread, error) {
	category, err := ParseCategory(submission.Category)
	if err != nil {
		return Thread{}, err
	}
	title := strings.TrimSpace(submission.Title)
	if title == "" {
		return Thread{}, failure.Invalid("title", "is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return Thread{}, failure.Invalid("title", fmt.Sprintf("must be at most %d characters", maxTitleLength))
	}
	content := strings.TrimSpace(submission.Content)
	if content == "" {
		return Thread{}, failure.Invalid("content", "is required")
	}
	author := submission.Author.normalized()
	now := s.now().UTC()
	thread := Thread{
		Category:    category,
		Title:       title,
		Content:     content,
		AuthorName:  author.Name,
		AuthorEmail: author.Email,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&thread).Error; err != nil {
		s.logError(operationCreate, "insert_failed", err)
		return Thread{}, failure.Wrap(operationCreate, "insert_failed", err)
	}
	return thread, nil
}

// ThreadDetail returns a thread with its comments, oldest first, and counts
// the view. A failed view update is logged and ignored.
func (s *Service) ThreadDetail(ctx context.Context, threadID uint64) (Thread, error) {
	db := s.db.WithContext(ctx)
	if err := db.Model(&Thread{}).Where("id = ?", threadID).
		UpdateColumn("view_count", gorm.Expr("view_count + ?", 1)).Error; err != nil {
		s.logger.Warn("forum view not recorded", zap.Uint64("thread_id", threadID), zap.Error(err))
	}
	var thread Thread
	err := db.Preload("Comments", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("created_at ASC").Order("id ASC")
	}).Where("id = ?", threadID).Take(&thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Thread{}, ErrThreadNotFound
	}
	if err != nil {
		return Thread{}, failure.Wrap(operationList, "detail_failed", err)
	}
	return thread, nil
}

// AddComment stores a comment on an existing thread.
func (s *Service) AddComment(ctx context.Context, threadID uint64, content string, author Author) (Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Comment{}, failure.Invalid("content", "is required")
	}
	author = author.normalized()
	var comment Comment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireThread(tx, threadID); err != nil {
			return err
		}
		comment = Comment{
			ThreadID:    threadID,
			AuthorName:  author.Name,
			AuthorEmail: author.Email,
			Content:     content,
			CreatedAt:   s.now().UTC(),
		}
		if err := tx.Create(&comment).Error; err != nil {
			return failure.Wrap(operationComment, "insert_failed", err)
		}
		return nil
	})
	if err != nil {
		if failure.CodeOf(err) != "" {
			s.logError(operationComment, "transaction_failed", err, zap.Uint64("thread_id", threadID))
		}
		return Comment{}, err
	}
	return comment, nil
}

// LikeThread adds a like and returns the new total.
func (s *Service) LikeThread(ctx context.Context, threadID uint64) (int64, error) {
	return s.like(ctx, &Thread{}, threadID, ErrThreadNotFound)
}

// LikeComment adds a like and returns the new total.
func (s *Service) LikeComment(ctx context.Context, commentID uint64) (int64, error) {
	return s.like(ctx, &Comment{}, commentID, ErrCommentNotFound)
}

func (s *Service) like(ctx context.Context, model any, id uint64, missing error) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(model).Where("id = ?", id).UpdateColumn("like_count", gorm.Expr("like_count + ?", 1))
		if result.Error != nil {
			return failure.Wrap(operationLike, "update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return missing
		}
		return tx.Model(model).Where("id = ?", id).Pluck("like_count", &total).Error
	})
	if err != nil {
		if failure.CodeOf(err) != "" {
			s.logError(operationLike, "transaction_failed", err, zap.Uint64("id", id))
		}
		return 0, err
	}
	return total, nil
}

// DeleteThread removes a thread and its comments. Only the signed-in author
// may delete it.
func (s *Service) DeleteThread(ctx context.Context, threadID uint64, requester string) error {
	requester = users.NormalizeEmail(requester)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var thread Thread
		err := tx.Where("id = ?", threadID).Take(&thread).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrThreadNotFound
		}
		if err != nil {
			return failure.Wrap(operationDelete, "load_failed", err)
		}
		if requester == "" || thread.AuthorEmail != requester {
			return ErrNotAuthor
		}
		if err := tx.Where("thread_id = ?", threadID).Delete(&Comment{}).Error; err != nil {
			return failure.Wrap(operationDelete, "comments_failed", err)
		}
		if err := tx.Delete(&Thread{}, threadID).Error; err != nil {
			return failure.Wrap(operationDelete, "thread_failed", err)
		}
		return nil
	})
	if err != nil && failure.CodeOf(err) != "" {
		s.logError(operationDelete, "transaction_failed", err, zap.Uint64("thread_id", threadID))
	}
	return err
}

func requireThread(db *gorm.DB, threadID uint64) error {
	var count int64
	if err := db.Model(&Thread{}).Where("id = ?", threadID).Count(&count).Error; err != nil {
		return failure.Wrap(operationComment, "thread_lookup_failed", err)
	}
	if count == 0 {
		return ErrThreadNotFound
	}
	return nil
}

func commentCounts(db *gorm.DB, threads []Thread) (map[uint64]int64, error) {
	counts := make(map[uint64]int64, len(threads))
	if len(threads) == 0 {
		return counts, nil
	}
	ids := make([]uint64, 0, len(threads))
	for _, thread := range threads {
		ids = append(ids, thread.ID)
	}
	var rows []struct {
		ThreadID uint64
		Total    int64
	}
	err := db.Model(&Comment{}).
		Select("thread_id, COUNT(*) AS total").
		Where("thread_id IN ?", ids).
		Group("thread_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.ThreadID] = row.Total
	}
	return counts, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	failure.LogError(s.logger, "forum service failure", operation, reason, err, fields...)
}
