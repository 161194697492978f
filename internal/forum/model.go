// Package forum runs the community board: threads, comments and likes.
package forum

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
)

// Category is a board section.
type Category string

const (
	CategoryChat           Category = "chat"
	CategoryQuestion       Category = "question"
	CategoryDiscussion     Category = "discussion"
	CategoryRecruitment    Category = "recruitment"
	CategoryRecommendation Category = "recommendation"
	CategoryReview         Category = "review"
)

// Categories lists every section in display order.
var Categories = []Category{
	CategoryChat,
	CategoryQuestion,
	CategoryDiscussion,
	CategoryRecruitment,
	CategoryRecommendation,
	CategoryReview,
}

// ParseCategory accepts a known section name.
func ParseCategory(value string) (Category, error) {
	category := Category(strings.TrimSpace(value))
	if _, err := category.label(); err != nil {
		return "", fmt.Errorf("%w: %v", failure.ErrInvalid, err)
	}
	return category, nil
}

// Label is the display name of the section. Unknown values render as-is.
func (c Category) Label() string {
	label, err := c.label()
	if err != nil {
		return string(c)
	}
	return label
}

func (c Category) label() (string, error) {
	switch c {
	case CategoryChat:
		return "雑談", nil
	case CategoryQuestion:
		return "質問", nil
	case CategoryDiscussion:
		return "考察", nil
	case CategoryRecruitment:
		return "募集", nil
	case CategoryRecommendation:
		return "おすすめ", nil
	case CategoryReview:
		return "感想・レビュー", nil
	default:
		return "", fmt.Errorf("unknown forum category %q", string(c))
	}
}

// SortMode orders the thread list.
type SortMode string

const (
	SortNewest  SortMode = "newest"
	SortPopular SortMode = "popular"
)

// ParseSortMode falls back to newest for anything it does not recognize.
func ParseSortMode(value string) SortMode {
	if SortMode(strings.TrimSpace(value)) == SortPopular {
		return SortPopular
	}
	return SortNewest
}

// Thread is a board post.
type Thread struct {
	ID          uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Category    Category  `gorm:"column:category;size:50;not null;index"`
	Title       string    `gorm:"column:title;size:255;not null"`
	Content     string    `gorm:"column:content;type:text;not null"`
	AuthorName  string    `gorm:"column:author_name;size:100;not null"`
	AuthorEmail string    `gorm:"column:author_email;size:120;index"`
	ViewCount   int64     `gorm:"column:view_count;not null"`
	LikeCount   int64     `gorm:"column:like_count;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;index"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null"`
	Comments    []Comment `gorm:"foreignKey:ThreadID;constraint:OnDelete:CASCADE"`
}

// TableName exposes the table backing threads.
func (Thread) TableName() string {
	return "forum_threads"
}

// Comment is a reply on a thread.
type Comment struct {
	ID          uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	ThreadID    uint64    `gorm:"column:thread_id;not null;index"`
	AuthorName  string    `gorm:"column:author_name;size:100;not null"`
	AuthorEmail string    `gorm:"column:author_email;size:120"`
	Content     string    `gorm:"column:content;type:text;not null"`
	LikeCount   int64     `gorm:"column:like_count;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing comments.
func (Comment) TableName() string {
	return "forum_comments"
}
