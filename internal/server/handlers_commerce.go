package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/purchases"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBytes = 1 << 20

func (h *httpHandler) handleChatMessages(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}
	viewer := mustViewer(c)
	thread, err := h.chat.Conversation(c.Request.Context(), productID, viewer, c.Query("with_user"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, presentThread(thread, viewer.Email))
}

type sendMessagePayload struct {
	ReceiverEmail string `json:"receiver_email"`
	Message       string `json:"message"`
}

func (h *httpHandler) handleSendChatMessage(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var request sendMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	viewer := mustViewer(c)
	ctx := c.Request.Context()
	receiver := strings.TrimSpace(request.ReceiverEmail)
	if receiver == "" {
		// Buyers may omit the receiver; their only counterpart is the seller.
		product, err := h.catalog.Get(ctx, productID)
		if err != nil {
			h.respondError(c, err)
			return
		}
		receiver, err = h.users.EmailOf(ctx, product.SellerID)
		if err != nil {
			h.respondError(c, err)
			return
		}
	}
	message, err := h.chat.Send(ctx, productID, viewer, receiver, request.Message)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": presentMessage(message, viewer.Email)})
}

func (h *httpHandler) handleChatUnreadCount(c *gin.Context) {
	count, err := h.chat.UnreadCount(c.Request.Context(), mustViewer(c).Email)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

type checkoutRequestPayload struct {
	ProductID uint64 `json:"product_id"`
}

func (h *httpHandler) handleCreateCheckoutSession(c *gin.Context) {
	var request checkoutRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ProductID == 0 {
		badRequest(c, "product_id is required")
		return
	}
	session, err := h.purchases.StartCheckout(c.Request.Context(), purchases.CheckoutRequest{
		ProductID: request.ProductID,
		Buyer:     mustViewer(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": session.ID, "url": session.URL})
}

func (h *httpHandler) handleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		badRequest(c, "unreadable payload")
		return
	}
	result, err := h.purchases.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook rejected", zap.Error(err))
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "type": result.EventType, "recorded": result.Recorded})
}

func (h *httpHandler) handlePurchaseSession(c *gin.Context) {
	status, err := h.purchases.SyncSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := gin.H{
		"session_id":     status.Session.ID,
		"status":         status.Session.Status,
		"payment_status": status.Session.PaymentStatus,
		"recorded":       status.Recorded,
		"purchase":       nil,
	}
	if status.Purchase != nil {
		response["purchase"] = presentPurchase(*status.Purchase)
	}
	c.JSON(http.StatusOK, response)
}

type advancePurchasePayload struct {
	Status string `json:"status"`
}

func (h *httpHandler) handleAdvancePurchase(c *gin.Context) {
	purchaseID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var request advancePurchasePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	target, err := purchases.ParseStatus(request.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	purchase, err := h.purchases.Advance(c.Request.Context(), purchaseID, mustViewer(c).Email, target)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchase": presentPurchase(purchase)})
}

type reviewRequestPayload struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (h *httpHandler) handleSubmitReview(c *gin.Context) {
	purchaseID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var request reviewRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	review, err := h.purchases.SubmitReview(c.Request.Context(), purchaseID, mustViewer(c).Email, request.Rating, request.Comment)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"review": presentReview(review)})
}

type favoriteRequestPayload struct {
	ProductID uint64 `json:"product_id"`
}

func (h *httpHandler) bindFavorite(c *gin.Context) (uint64, bool) {
	var request favoriteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ProductID == 0 {
		badRequest(c, "product_id is required")
		return 0, false
	}
	return request.ProductID, true
}

func (h *httpHandler) handleListFavorites(c *gin.Context) {
	products, err := h.favorites.ListProducts(c.Request.Context(), mustViewer(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"favorites": presentProducts(products, nil)})
}

func (h *httpHandler) handleAddFavorite(c *gin.Context) {
	productID, ok := h.bindFavorite(c)
	if !ok {
		return
	}
	added, err := h.favorites.Add(c.Request.Context(), mustViewer(c).ID, productID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"is_favorite": true, "added": added})
}

func (h *httpHandler) handleRemoveFavorite(c *gin.Context) {
	productID, ok := h.bindFavorite(c)
	if !ok {
		return
	}
	removed, err := h.favorites.Remove(c.Request.Context(), mustViewer(c).ID, productID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_favorite": false, "removed": removed})
}

func (h *httpHandler) handleFavoriteStatus(c *gin.Context) {
	productID, err := parsePositive(c.Query("product_id"))
	if err != nil {
		badRequest(c, "product_id is required")
		return
	}
	favorite, err := h.favorites.IsFavorite(c.Request.Context(), mustViewer(c).ID, productID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_favorite": favorite})
}
