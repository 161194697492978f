// Package server exposes the marketplace over HTTP.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/favorites"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/forum"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/news"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/purchases"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/recommend"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/social"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/uploads"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	viewerContextKey   = "bibli_viewer"
	maxMultipartMemory = 32 << 20
)

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingUsers        = errors.New("users service dependency required")
	errMissingSocial       = errors.New("social service dependency required")
	errMissingCatalog      = errors.New("catalog service dependency required")
	errMissingPurchases    = errors.New("purchases service dependency required")
	errMissingChat         = errors.New("chat service dependency required")
	errMissingFavorites    = errors.New("favorites service dependency required")
	errMissingRecommend    = errors.New("recommend service dependency required")
	errMissingNotifier     = errors.New("notifications service dependency required")
	errMissingForum        = errors.New("forum service dependency required")
	errMissingNews         = errors.New("news service dependency required")
	errMissingUploads      = errors.New("upload store dependency required")
)

// TokenManager issues and validates bearer tokens.
type TokenManager interface {
	IssueToken(userID uint64) (string, int64, error)
	ValidateToken(token string) (uint64, error)
}

// Dependencies lists the services the HTTP surface delegates to. Limiter is
// optional; requests are never throttled without one.
type Dependencies struct {
	Tokens        TokenManager
	Users         *users.Service
	Social        *social.Service
	Catalog       *catalog.Service
	Purchases     *purchases.Service
	Chat          *chat.Service
	Favorites     *favorites.Service
	Recommend     *recommend.Service
	Notifications *notifications.Service
	Forum         *forum.Service
	News          *news.Service
	Uploads       *uploads.Store
	Limiter       ratelimit.Limiter
	// AllowedOrigins defaults to any origin when empty.
	AllowedOrigins []string
	Logger         *zap.Logger
}

func (deps Dependencies) validate() error {
	required := []struct {
		missing bool
		err     error
	}{
		{deps.Tokens == nil, errMissingTokenManager},
		{deps.Users == nil, errMissingUsers},
		{deps.Social == nil, errMissingSocial},
		{deps.Catalog == nil, errMissingCatalog},
		{deps.Purchases == nil, errMissingPurchases},
		{deps.Chat == nil, errMissingChat},
		{deps.Favorites == nil, errMissingFavorites},
		{deps.Recommend == nil, errMissingRecommend},
		{deps.Notifications == nil, errMissingNotifier},
		{deps.Forum == nil, errMissingForum},
		{deps.News == nil, errMissingNews},
		{deps.Uploads == nil, errMissingUploads},
	}
	for _, dependency := range required {
		if dependency.missing {
			return dependency.err
		}
	}
	return nil
}

// NewHTTPHandler wires every route onto a gin engine.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}

	router := gin.New()
	router.MaxMultipartMemory = maxMultipartMemory
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		tokens:        deps.Tokens,
		users:         deps.Users,
		social:        deps.Social,
		catalog:       deps.Catalog,
		purchases:     deps.Purchases,
		chat:          deps.Chat,
		favorites:     deps.Favorites,
		recommend:     deps.Recommend,
		notifications: deps.Notifications,
		forum:         deps.Forum,
		news:          deps.News,
		uploads:       deps.Uploads,
		limiter:       limiter,
		logger:        logger,
	}

	router.Static(uploads.PublicPrefix, deps.Uploads.Root())

	api := router.Group("/api")
	api.GET("/hello", handler.handleHello)
	api.POST("/register", handler.throttle("register"), handler.handleRegister)
	api.POST("/login", handler.throttle("login"), handler.handleLogin)

	// Stripe calls the webhook without a bearer token; the payload signature
	// authenticates it instead.
	api.POST("/stripe/webhook", handler.handleStripeWebhook)

	public := api.Group("")
	public.Use(handler.optionalUser)
	public.GET("/user/:email", handler.handleUserLookup)
	public.GET("/profile/:key", handler.handleProfile)
	public.GET("/profile/id/:user_id", handler.handlePublicProfile)
	public.GET("/profile/:key/reviews", handler.handleProfileReviews)
	public.GET("/products", handler.handleListProducts)
	public.GET("/products/:id", handler.handleProductDetail)
	public.GET("/products/:id/purchase-status", handler.handlePurchaseStatus)
	public.GET("/recommendations", handler.handleRecommendations)
	public.GET("/follow/followers", handler.handleFollowers)
	public.GET("/follow/following", handler.handleFollowing)
	public.GET("/forum/threads", handler.handleListThreads)
	public.POST("/forum/threads", handler.handleCreateThread)
	public.GET("/forum/threads/:id", handler.handleThreadDetail)
	public.POST("/forum/threads/:id/comments", handler.handleAddComment)
	public.POST("/forum/threads/:id/like", handler.handleLikeThread)
	public.POST("/forum/comments/:id/like", handler.handleLikeComment)
	public.GET("/news", handler.handleListNews)
	public.GET("/news/:id", handler.handleNewsDetail)

	protected := api.Group("")
	protected.Use(handler.requireUser)
	protected.GET("/me", handler.handleMe)
	protected.PUT("/profile/:key", handler.handleUpdateProfile)
	protected.POST("/profile/:key/image", handler.handleProfileImage)
	protected.GET("/profile/:key/purchases", handler.handleProfilePurchases)
	protected.GET("/profile/:key/favorites", handler.handleProfileFavorites)
	protected.POST("/products", handler.throttle("products"), handler.handleCreateProduct)
	protected.POST("/products/:id/cancel", handler.handleCancelProduct)
	protected.GET("/products/:id/chat/messages", handler.handleChatMessages)
	protected.POST("/products/:id/chat/messages", handler.throttle("chat"), handler.handleSendChatMessage)
	protected.GET("/chat/unread-count", handler.handleChatUnreadCount)
	protected.POST("/stripe/create-checkout-session", handler.throttle("checkout"), handler.handleCreateCheckoutSession)
	protected.GET("/purchases/session/:session_id", handler.handlePurchaseSession)
	protected.POST("/purchases/:id/status", handler.handleAdvancePurchase)
	protected.POST("/purchases/:id/reviews", handler.handleSubmitReview)
	protected.GET("/favorites", handler.handleListFavorites)
	protected.POST("/favorites", handler.handleAddFavorite)
	protected.DELETE("/favorites", handler.handleRemoveFavorite)
	protected.GET("/favorites/status", handler.handleFavoriteStatus)
	protected.POST("/follow", handler.handleFollow)
	protected.POST("/unfollow", handler.handleUnfollow)
	protected.GET("/follow/status", handler.handleFollowStatus)
	protected.GET("/follow/feed", handler.handleFollowFeed)
	protected.POST("/forum/follow", handler.handleFollow)
	protected.POST("/forum/unfollow", handler.handleUnfollow)
	protected.GET("/forum/follow/status", handler.handleFollowStatus)
	protected.DELETE("/forum/threads/:id", handler.handleDeleteThread)
	protected.POST("/block", handler.handleBlock)
	protected.POST("/unblock", handler.handleUnblock)
	protected.GET("/blocks", handler.handleListBlocks)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.GET("/notifications/unread-count", handler.handleUnreadNotifications)
	protected.POST("/notifications/read-all", handler.handleMarkAllNotificationsRead)
	protected.POST("/notifications/:id/read", handler.handleMarkNotificationRead)
	protected.GET("/notification-settings", handler.handleNotificationSettings)
	protected.PUT("/notification-settings", handler.handleUpdateNotificationSettings)
	protected.POST("/news", handler.handlePublishNews)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "Stripe-Signature"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	tokens        TokenManager
	users         *users.Service
	social        *social.Service
	catalog       *catalog.Service
	purchases     *purchases.Service
	chat          *chat.Service
	favorites     *favorites.Service
	recommend     *recommend.Service
	notifications *notifications.Service
	forum         *forum.Service
	news          *news.Service
	uploads       *uploads.Store
	limiter       ratelimit.Limiter
	logger        *zap.Logger
}

func (h *httpHandler) handleHello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "hello"})
}
