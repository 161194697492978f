package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/purchases"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/uploads"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errNotProfileOwner = fmt.Errorf("%w: profile belongs to another account", failure.ErrForbidden)

type registerRequestPayload struct {
	UserName     string `json:"user_name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Address      string `json:"address"`
	Phone        string `json:"phone"`
	PhoneNumber  string `json:"phone_number"`
	RealName     string `json:"real_name"`
	NameKana     string `json:"name_kana"`
	BirthDate    string `json:"birth_date"`
	Bio          string `json:"bio"`
	ProfileImage string `json:"profile_image"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	phone := request.Phone
	if strings.TrimSpace(phone) == "" {
		phone = request.PhoneNumber
	}
	user, err := h.users.Register(c.Request.Context(), users.Registration{
		UserName:     request.UserName,
		Email:        request.Email,
		Password:     request.Password,
		Address:      request.Address,
		Phone:        phone,
		RealName:     request.RealName,
		NameKana:     request.NameKana,
		BirthDate:    request.BirthDate,
		Bio:          request.Bio,
		ProfileImage: request.ProfileImage,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "registered", "user": presentUserSummary(user)})
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponsePayload struct {
	AccessToken string             `json:"access_token"`
	Token       string             `json:"token"`
	ExpiresIn   int64              `json:"expires_in"`
	TokenType   string             `json:"token_type"`
	User        userSummaryPayload `json:"user"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	token, expiresIn, err := h.tokens.IssueToken(user.ID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Uint64("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed", "code": "internal"})
		return
	}
	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		Token:       token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        presentUserSummary(user),
	})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	viewer := mustViewer(c)
	profile, err := h.profileFor(c.Request.Context(), viewer, true)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleUserLookup(c *gin.Context) {
	user, err := h.users.FindByEmail(c.Request.Context(), c.Param("email"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	followers, following, err := h.social.Counts(c.Request.Context(), user.Email)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":              user.ID,
		"user_id":         user.UserID,
		"user_name":       user.DisplayName(),
		"email":           user.Email,
		"profile_image":   user.ProfileImage,
		"follower_count":  followers,
		"following_count": following,
	})
}

// resolveProfile accepts either an email or an external user id.
func (h *httpHandler) resolveProfile(ctx context.Context, key string) (users.User, error) {
	if strings.Contains(key, "@") {
		return h.users.FindByEmail(ctx, key)
	}
	return h.users.FindByUserID(ctx, key)
}

func (h *httpHandler) profileFor(ctx context.Context, user users.User, private bool) (profilePayload, error) {
	payload := presentProfile(user, private)
	followers, following, err := h.social.Counts(ctx, user.Email)
	if err != nil {
		return profilePayload{}, err
	}
	payload.FollowerCount = followers
	payload.FollowingCount = following
	rating, err := h.purchases.RatingOf(ctx, user.Email)
	if err != nil {
		return profilePayload{}, err
	}
	payload.RatingAverage = rating.Average
	payload.RatingCount = rating.Count
	return payload, nil
}

func (h *httpHandler) handleProfile(c *gin.Context) {
	user, err := h.resolveProfile(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	viewer, signedIn := viewerFrom(c)
	profile, err := h.profileFor(c.Request.Context(), user, signedIn && viewer.ID == user.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handlePublicProfile(c *gin.Context) {
	user, err := h.users.FindByUserID(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	profile, err := h.profileFor(c.Request.Context(), user, false)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// ownedProfile resolves the path profile and requires it to be the viewer's.
func (h *httpHandler) ownedProfile(c *gin.Context) (users.User, bool) {
	viewer := mustViewer(c)
	user, err := h.resolveProfile(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.respondError(c, err)
		return users.User{}, false
	}
	if user.ID != viewer.ID {
		h.respondError(c, errNotProfileOwner)
		return users.User{}, false
	}
	return user, true
}

type profileUpdatePayload struct {
	UserName     *string `json:"user_name"`
	RealName     *string `json:"real_name"`
	NameKana     *string `json:"name_kana"`
	Phone        *string `json:"phone"`
	PhoneNumber  *string `json:"phone_number"`
	Address      *string `json:"address"`
	BirthDate    *string `json:"birth_date"`
	Bio          *string `json:"bio"`
	ProfileImage *string `json:"profile_image"`
	Password     *string `json:"password"`
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	user, ok := h.ownedProfile(c)
	if !ok {
		return
	}
	var request profileUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	phone := request.Phone
	if phone == nil {
		phone = request.PhoneNumber
	}
	password := request.Password
	if password != nil && *password == "" {
		password = nil
	}
	updated, err := h.users.UpdateProfile(c.Request.Context(), user.Email, users.ProfileUpdate{
		UserName:     request.UserName,
		RealName:     request.RealName,
		NameKana:     request.NameKana,
		Phone:        phone,
		Address:      request.Address,
		BirthDate:    request.BirthDate,
		Bio:          request.Bio,
		ProfileImage: request.ProfileImage,
		Password:     password,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "profile updated", "user": presentProfile(updated, true)})
}

func (h *httpHandler) handleProfileImage(c *gin.Context) {
	user, ok := h.ownedProfile(c)
	if !ok {
		return
	}
	header, err := c.FormFile("image")
	if err != nil {
		badRequest(c, "image file is required")
		return
	}
	url, err := h.uploads.SaveFile(uploads.FolderProfiles, header)
	if err != nil {
		h.respondError(c, err)
		return
	}
	updated, err := h.users.SetProfileImage(c.Request.Context(), user.Email, url)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile_image": updated.ProfileImage})
}

type purchaseWithProductPayload struct {
	purchasePayload
	Product *productPayload `json:"product,omitempty"`
}

func (h *httpHandler) withProducts(ctx context.Context, list []purchases.Purchase) ([]purchaseWithProductPayload, error) {
	ids := make([]uint64, 0, len(list))
	for _, purchase := range list {
		ids = append(ids, purchase.ProductID)
	}
	products, err := h.catalog.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint64]catalog.Product, len(products))
	for _, product := range products {
		byID[product.ID] = product
	}
	payload := make([]purchaseWithProductPayload, 0, len(list))
	for _, purchase := range list {
		entry := purchaseWithProductPayload{purchasePayload: presentPurchase(purchase)}
		if product, ok := byID[purchase.ProductID]; ok {
			presented := presentProduct(product, 0)
			entry.Product = &presented
		}
		payload = append(payload, entry)
	}
	return payload, nil
}

func (h *httpHandler) handleProfilePurchases(c *gin.Context) {
	user, ok := h.ownedProfile(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	bought, err := h.purchases.ListForBuyer(ctx, user.Email)
	if err != nil {
		h.respondError(c, err)
		return
	}
	sold, err := h.purchases.ListForSeller(ctx, user.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	boughtPayload, err := h.withProducts(ctx, bought)
	if err != nil {
		h.respondError(c, err)
		return
	}
	soldPayload, err := h.withProducts(ctx, sold)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchases": boughtPayload, "sales": soldPayload})
}

func (h *httpHandler) handleProfileFavorites(c *gin.Context) {
	user, ok := h.ownedProfile(c)
	if !ok {
		return
	}
	products, err := h.favorites.ListProducts(c.Request.Context(), user.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"favorites": presentProducts(products, nil)})
}

func (h *httpHandler) handleProfileReviews(c *gin.Context) {
	user, err := h.resolveProfile(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	reviews, err := h.purchases.ReviewsFor(c.Request.Context(), user.Email)
	if err != nil {
		h.respondError(c, err)
		return
	}
	rating, err := h.purchases.RatingOf(c.Request.Context(), user.Email)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]reviewPayload, 0, len(reviews))
	for _, review := range reviews {
		payload = append(payload, presentReview(review))
	}
	c.JSON(http.StatusOK, gin.H{"reviews": payload, "rating_average": rating.Average, "rating_count": rating.Count})
}
