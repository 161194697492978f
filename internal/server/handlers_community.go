package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/forum"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/news"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultFeedLimit = 8
	maxFeedLimit     = 50
)

type relationRequestPayload struct {
	FolloweeEmail string `json:"followee_email"`
	BlockedEmail  string `json:"blocked_email"`
	TargetEmail   string `json:"target_email"`
}

func (p relationRequestPayload) target() string {
	for _, candidate := range []string{p.TargetEmail, p.FolloweeEmail, p.BlockedEmail} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return ""
}

func (h *httpHandler) bindRelation(c *gin.Context) (string, bool) {
	var request relationRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return "", false
	}
	return request.target(), true
}

func (h *httpHandler) handleFollow(c *gin.Context) {
	target, ok := h.bindRelation(c)
	if !ok {
		return
	}
	created, err := h.social.Follow(c.Request.Context(), mustViewer(c).Email, target)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_following": true, "created": created})
}

func (h *httpHandler) handleUnfollow(c *gin.Context) {
	target, ok := h.bindRelation(c)
	if !ok {
		return
	}
	removed, err := h.social.Unfollow(c.Request.Context(), mustViewer(c).Email, target)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_following": false, "removed": removed})
}

func (h *httpHandler) handleFollowStatus(c *gin.Context) {
	target := c.Query("followee_email")
	if target == "" {
		target = c.Query("email")
	}
	if strings.TrimSpace(target) == "" {
		badRequest(c, "followee_email is required")
		return
	}
	ctx := c.Request.Context()
	viewer := mustViewer(c)
	following, err := h.social.IsFollowing(ctx, viewer.Email, target)
	if err != nil {
		h.respondError(c, err)
		return
	}
	blocked, err := h.social.IsBlockedEitherWay(ctx, viewer.Email, target)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_following": following, "is_blocked": blocked})
}

func (h *httpHandler) relationList(c *gin.Context, list func(email string) ([]string, error)) {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		if viewer, ok := viewerFrom(c); ok {
			email = viewer.Email
		}
	}
	if email == "" {
		badRequest(c, "email is required")
		return
	}
	emails, err := list(email)
	if err != nil {
		h.respondError(c, err)
		return
	}
	accounts, err := h.users.FindByEmails(c.Request.Context(), emails)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]userSummaryPayload, 0, len(emails))
	for _, address := range emails {
		if account, ok := accounts[address]; ok {
			payload = append(payload, presentUserSummary(account))
		}
	}
	c.JSON(http.StatusOK, gin.H{"users": payload, "count": len(payload)})
}

func (h *httpHandler) handleFollowers(c *gin.Context) {
	h.relationList(c, func(email string) ([]string, error) {
		return h.social.Followers(c.Request.Context(), email)
	})
}

func (h *httpHandler) handleFollowing(c *gin.Context) {
	h.relationList(c, func(email string) ([]string, error) {
		return h.social.Following(c.Request.Context(), email)
	})
}

// handleFollowFeed lists recent listings of followed sellers. Failures
// degrade to an empty feed.
func (h *httpHandler) handleFollowFeed(c *gin.Context) {
	ctx := c.Request.Context()
	viewer := mustViewer(c)
	limit := queryInt(c, "limit", defaultFeedLimit)
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}
	empty := gin.H{"products": []productPayload{}}

	following, err := h.social.Following(ctx, viewer.Email)
	if err != nil {
		h.logger.Warn("follow feed degraded", zap.Error(err))
		c.JSON(http.StatusOK, empty)
		return
	}
	blocked, err := h.social.BlockedCounterparts(ctx, viewer.Email)
	if err != nil {
		h.logger.Warn("follow feed degraded", zap.Error(err))
		c.JSON(http.StatusOK, empty)
		return
	}
	hidden := make(map[string]struct{}, len(blocked))
	for _, email := range blocked {
		hidden[email] = struct{}{}
	}
	sellers := make([]string, 0, len(following))
	for _, email := range following {
		if _, skip := hidden[email]; !skip {
			sellers = append(sellers, email)
		}
	}
	products, err := h.catalog.RecentBySellers(ctx, sellers, limit)
	if err != nil {
		h.logger.Warn("follow feed degraded", zap.Error(err))
		c.JSON(http.StatusOK, empty)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": presentProducts(products, nil)})
}

func (h *httpHandler) handleBlock(c *gin.Context) {
	target, ok := h.bindRelation(c)
	if !ok {
		return
	}
	created, err := h.social.Block(c.Request.Context(), mustViewer(c).Email, target)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_blocked": true, "created": created})
}

func (h *httpHandler) handleUnblock(c *gin.Context) {
	target, ok := h.bindRelation(c)
	if !ok {
		return
	}
	removed, err := h.social.Unblock(c.Request.Context(), mustViewer(c).Email, target)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_blocked": false, "removed": removed})
}

func (h *httpHandler) handleListBlocks(c *gin.Context) {
	blocks, err := h.social.ListBlocks(c.Request.Context(), mustViewer(c).Email)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocks": presentBlocks(blocks)})
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	list, err := h.notifications.List(c.Request.Context(), mustViewer(c).Email, queryInt(c, "limit", 0))
	if err != nil {
		h.logger.Warn("notification list degraded", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"notifications": []notificationPayload{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": presentNotifications(list)})
}

func (h *httpHandler) handleUnreadNotifications(c *gin.Context) {
	count, err := h.notifications.UnreadCount(c.Request.Context(), mustViewer(c).Email)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

func (h *httpHandler) handleMarkNotificationRead(c *gin.Context) {
	notificationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), mustViewer(c).Email, notificationID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_read": true})
}

func (h *httpHandler) handleMarkAllNotificationsRead(c *gin.Context) {
	updated, err := h.notifications.MarkAllRead(c.Request.Context(), mustViewer(c).Email)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (h *httpHandler) handleNotificationSettings(c *gin.Context) {
	setting, err := h.notifications.Settings(c.Request.Context(), mustViewer(c).Email)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, presentSettings(setting))
}

type settingsUpdatePayload struct {
	Push     *bool `json:"push_enabled"`
	Email    *bool `json:"email_enabled"`
	Message  *bool `json:"message_enabled"`
	Campaign *bool `json:"campaign_enabled"`
}

func (h *httpHandler) handleUpdateNotificationSettings(c *gin.Context) {
	var request settingsUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	setting, err := h.notifications.UpdateSettings(c.Request.Context(), mustViewer(c).Email, notifications.SettingsUpdate{
		Push:     request.Push,
		Email:    request.Email,
		Message:  request.Message,
		Campaign: request.Campaign,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, presentSettings(setting))
}

type forumPagePayload struct {
	Total      int64                `json:"total"`
	Page       int                  `json:"page"`
	Limit      int                  `json:"limit"`
	TotalPages int                  `json:"total_pages"`
	Threads    []forumThreadPayload `json:"threads"`
}

func (h *httpHandler) handleListThreads(c *gin.Context) {
	page, err := h.forum.ListThreads(c.Request.Context(), forum.ThreadQuery{
		Category: c.Query("category"),
		Sort:     forum.ParseSortMode(c.Query("sort")),
		Page:     queryInt(c, "page", 1),
		Limit:    queryInt(c, "limit", 0),
	})
	if err != nil {
		h.logger.Warn("forum list degraded", zap.Error(err))
		c.JSON(http.StatusOK, forumPagePayload{Page: 1, Threads: []forumThreadPayload{}})
		return
	}
	threads := make([]forumThreadPayload, 0, len(page.Threads))
	for _, summary := range page.Threads {
		threads = append(threads, presentForumThread(summary.Thread, summary.CommentCount))
	}
	c.JSON(http.StatusOK, forumPagePayload{
		Total:      page.Total,
		Page:       page.Page,
		Limit:      page.Limit,
		TotalPages: page.TotalPages,
		Threads:    threads,
	})
}

// forumAuthor names the signed-in viewer, or the submitted guest name.
func forumAuthor(c *gin.Context, submittedName string) forum.Author {
	var signedIn *users.User
	if viewer, ok := viewerFrom(c); ok {
		signedIn = &viewer
	}
	return forum.AuthorFor(signedIn, submittedName)
}

type threadRequestPayload struct {
	Category   string `json:"category"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	AuthorName string `json:"author_name"`
}

func (h *httpHandler) handleCreateThread(c *gin.Context) {
	var request threadRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	thread, err := h.forum.CreateThread(c.Request.Context(), forum.NewThread{
		Category: request.Category,
		Title:    request.Title,
		Content:  request.Content,
		Author:   forumAuthor(c, request.AuthorName),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"thread": presentForumThread(thread, 0)})
}

func (h *httpHandler) handleThreadDetail(c *gin.Context) {
	threadID, ok := pathID(c, "id")
	if !ok {
		return
	}
	thread, err := h.forum.ThreadDetail(c.Request.Context(), threadID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := presentForumThread(thread, int64(len(thread.Comments)))
	payload.Comments = make([]commentPayload, 0, len(thread.Comments))
	for _, comment := range thread.Comments {
		payload.Comments = append(payload.Comments, presentComment(comment))
	}
	c.JSON(http.StatusOK, payload)
}

type commentRequestPayload struct {
	Content    string `json:"content"`
	AuthorName string `json:"author_name"`
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	threadID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var request commentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	comment, err := h.forum.AddComment(c.Request.Context(), threadID, request.Content, forumAuthor(c, request.AuthorName))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"comment": presentComment(comment)})
}

func (h *httpHandler) handleLikeThread(c *gin.Context) {
	threadID, ok := pathID(c, "id")
	if !ok {
		return
	}
	likes, err := h.forum.LikeThread(c.Request.Context(), threadID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"like_count": likes})
}

func (h *httpHandler) handleLikeComment(c *gin.Context) {
	commentID, ok := pathID(c, "id")
	if !ok {
		return
	}
	likes, err := h.forum.LikeComment(c.Request.Context(), commentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"like_count": likes})
}

func (h *httpHandler) handleDeleteThread(c *gin.Context) {
	threadID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.forum.DeleteThread(c.Request.Context(), threadID, mustViewer(c).Email); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *httpHandler) handleListNews(c *gin.Context) {
	articles, err := h.news.List(c.Request.Context(), queryInt(c, "limit", 0))
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]newsPayload, 0, len(articles))
	for _, article := range articles {
		payload = append(payload, presentNews(article))
	}
	c.JSON(http.StatusOK, gin.H{"news": payload})
}

func (h *httpHandler) handleNewsDetail(c *gin.Context) {
	articleID, ok := pathID(c, "id")
	if !ok {
		return
	}
	article, err := h.news.Get(c.Request.Context(), articleID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, presentNews(article))
}

type newsRequestPayload struct {
	Category string `json:"category"`
	Title    string `json:"title"`
	Content  string `json:"content"`
}

func (h *httpHandler) handlePublishNews(c *gin.Context) {
	var request newsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	article, err := h.news.Publish(c.Request.Context(), mustViewer(c).Email, news.Draft{
		Category: request.Category,
		Title:    request.Title,
		Content:  request.Content,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, presentNews(article))
}
