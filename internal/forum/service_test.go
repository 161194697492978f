package forum

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/testutil"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDatabase(t, &Thread{}, &Comment{})
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	service, err := NewService(ServiceConfig{Database: db, Clock: func() time.Time {
		now = now.Add(time.Minute)
		return now
	}})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func createThread(t *testing.T, service *Service, category, title string, author Author) Thread {
	t.Helper()
	thread, err := service.CreateThread(context.Background(), NewThread{Category: category, Title: title, Content: "本文", Author: author})
	if err != nil {
		t.Fatalf("create thread failed: %v", err)
	}
	return thread
}

func TestCreateThreadValidation(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	testCases := []struct {
		name       string
		submission NewThread
	}{
		{name: "unknown category", submission: NewThread{Category: "sports", Title: "t", Content: "c"}},
		{name: "missing title", submission: NewThread{Category: "chat", Title: "  ", Content: "c"}},
		{name: "long title", submission: NewThread{Category: "chat", Title: strings.Repeat("長", maxTitleLength+1), Content: "c"}},
		{name: "missing content", submission: NewThread{Category: "chat", Title: "t"}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := service.CreateThread(ctx, testCase.submission); !errors.Is(err, failure.ErrInvalid) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	thread := createThread(t, service, "question", "おすすめの本は？", Author{})
	if thread.AuthorName != guestName || thread.AuthorEmail != "" {
		t.Fatalf("expected guest author, got %+v", thread)
	}
	if thread.Category.Label() != "質問" {
		t.Fatalf("unexpected label %q", thread.Category.Label())
	}
}

func TestListThreadsFiltersSortsAndCountsComments(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	first := createThread(t, service, "chat", "first", Author{Name: "A"})
	second := createThread(t, service, "chat", "second", Author{Name: "B"})
	createThread(t, service, "review", "third", Author{Name: "C"})

	if _, err := service.AddComment(ctx, first.ID, "コメント", Author{Name: "D"}); err != nil {
		t.Fatalf("add comment failed: %v", err)
	}
	if _, err := service.LikeThread(ctx, first.ID); err != nil {
		t.Fatalf("like failed: %v", err)
	}

	page, err := service.ListThreads(ctx, ThreadQuery{Category: "chat"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if page.Total != 2 || page.TotalPages != 1 || len(page.Threads) != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Threads[0].ID != second.ID {
		t.Fatalf("expected newest first, got %d", page.Threads[0].ID)
	}

	page, err = service.ListThreads(ctx, ThreadQuery{Category: "all", Sort: SortPopular, Limit: 2})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if page.Total != 3 || page.TotalPages != 2 || page.Threads[0].ID != first.ID || page.Threads[0].CommentCount != 1 {
		t.Fatalf("unexpected popular page %+v", page)
	}
}

func TestThreadDetailCountsViews(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	thread := createThread(t, service, "chat", "hello", Author{Name: "A"})
	if _, err := service.AddComment(ctx, thread.ID, "one", Author{}); err != nil {
		t.Fatalf("add comment failed: %v", err)
	}
	if _, err := service.AddComment(ctx, thread.ID, "two", Author{}); err != nil {
		t.Fatalf("add comment failed: %v", err)
	}

	service.ThreadDetail(ctx, thread.ID)
	detail, err := service.ThreadDetail(ctx, thread.ID)
	if err != nil {
		t.Fatalf("detail failed: %v", err)
	}
	if detail.ViewCount != 2 {
		t.Fatalf("expected two views, got %d", detail.ViewCount)
	}
	if len(detail.Comments) != 2 || detail.Comments[0].Content != "one" {
		t.Fatalf("expected comments oldest first, got %+v", detail.Comments)
	}
	if _, err := service.ThreadDetail(ctx, 404); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLikes(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	thread := createThread(t, service, "chat", "hello", Author{Name: "A"})
	comment, err := service.AddComment(ctx, thread.ID, "nice", Author{})
	if err != nil {
		t.Fatalf("add comment failed: %v", err)
	}

	for want := int64(1); want <= 2; want++ {
		total, err := service.LikeComment(ctx, comment.ID)
		if err != nil || total != want {
			t.Fatalf("expected %d likes, got %d %v", want, total, err)
		}
	}
	if _, err := service.LikeComment(ctx, 404); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected comment not found, got %v", err)
	}
	if _, err := service.AddComment(ctx, 404, "x", Author{}); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("expected thread not found, got %v", err)
	}
}

func TestDeleteThreadByAuthorOnly(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	author := &users.User{UserName: "Author", Email: "author@example.com"}
	thread := createThread(t, service, "chat", "hello", AuthorFor(author, ""))
	if _, err := service.AddComment(ctx, thread.ID, "reply", Author{}); err != nil {
		t.Fatalf("add comment failed: %v", err)
	}

	if err := service.DeleteThread(ctx, thread.ID, "other@example.com"); !errors.Is(err, ErrNotAuthor) {
		t.Fatalf("expected not author, got %v", err)
	}
	if err := service.DeleteThread(ctx, thread.ID, "Author@Example.com"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	var comments int64
	db.Model(&Comment{}).Count(&comments)
	if comments != 0 {
		t.Fatalf("expected comments to be deleted, got %d", comments)
	}
	if err := service.DeleteThread(ctx, thread.ID, author.Email); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}
