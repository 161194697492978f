package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/recommend"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/uploads"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type productPagePayload struct {
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	TotalPages int              `json:"total_pages"`
	Products   []productPayload `json:"products"`
}

func optionalPrice(c *gin.Context, name string) *int64 {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &value
}

func (h *httpHandler) handleListProducts(c *gin.Context) {
	query := catalog.SearchQuery{
		Keyword:     c.Query("q"),
		MinPrice:    optionalPrice(c, "min_price"),
		MaxPrice:    optionalPrice(c, "max_price"),
		Condition:   c.Query("condition"),
		Category:    c.Query("category"),
		SaleType:    c.Query("sale_type"),
		Sort:        catalog.ParseSortMode(c.Query("sort")),
		Page:        queryInt(c, "page", 1),
		Limit:       queryInt(c, "limit", 0),
		IncludeSold: c.Query("include_sold") == "1" || c.Query("include_sold") == "true",
	}
	if sellerID, err := strconv.ParseUint(c.Query("seller_id"), 10, 64); err == nil {
		query.SellerID = sellerID
	}
	if viewer, ok := viewerFrom(c); ok {
		query.ViewerEmail = viewer.Email
	}

	result, err := h.catalog.Search(c.Request.Context(), query)
	if err != nil {
		h.logger.Warn("product list degraded", zap.Error(err))
		c.JSON(http.StatusOK, productPagePayload{Page: 1, Products: []productPayload{}})
		return
	}
	c.JSON(http.StatusOK, productPagePayload{
		Total:      result.Total,
		Page:       result.Page,
		Limit:      result.Limit,
		TotalPages: result.TotalPages,
		Products:   presentProducts(result.Products, result.ViewCounts),
	})
}

type createProductPayload struct {
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Price          int64           `json:"price"`
	Condition      string          `json:"condition"`
	SaleType       string          `json:"sale_type"`
	Category       string          `json:"category"`
	ShippingOrigin string          `json:"shipping_origin"`
	ShippingDays   string          `json:"shipping_days"`
	ImageURL       string          `json:"image_url"`
	ImageURLs      []string        `json:"image_urls"`
	Tags           json.RawMessage `json:"tags"`
}

// tagInput accepts either a JSON array of tags or a single separated string.
func tagInput(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}
	}
	return nil
}

func (h *httpHandler) handleCreateProduct(c *gin.Context) {
	viewer := mustViewer(c)
	var (
		listing catalog.Listing
		saved   []string
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		parsed, files, ok := h.listingFromForm(c)
		if !ok {
			return
		}
		listing, saved = parsed, files
	} else {
		var request createProductPayload
		if err := c.ShouldBindJSON(&request); err != nil {
			badRequest(c, "invalid_request")
			return
		}
		images := request.ImageURLs
		if len(images) == 0 && strings.TrimSpace(request.ImageURL) != "" {
			images = []string{request.ImageURL}
		}
		listing = catalog.Listing{
			Title:          request.Title,
			Description:    request.Description,
			Price:          request.Price,
			Condition:      request.Condition,
			SaleType:       request.SaleType,
			Category:       request.Category,
			ShippingOrigin: request.ShippingOrigin,
			ShippingDays:   request.ShippingDays,
			ImageURLs:      images,
			Tags:           tagInput(request.Tags),
		}
	}

	product, err := h.catalog.CreateListing(c.Request.Context(), viewer, listing)
	if err != nil {
		h.discardUploads(saved)
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":    "listed",
		"product_id": product.ID,
		"product":    presentProduct(product, 0),
	})
}

// listingFromForm reads a multipart listing and stores its image files. It
// returns the URLs of the files it wrote so a rejected listing can discard them.
func (h *httpHandler) listingFromForm(c *gin.Context) (catalog.Listing, []string, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "invalid multipart form")
		return catalog.Listing{}, nil, false
	}
	price, err := strconv.ParseInt(strings.TrimSpace(c.PostForm("price")), 10, 64)
	if err != nil {
		h.respondError(c, failure.Invalid("price", "must be an integer"))
		return catalog.Listing{}, nil, false
	}
	var saved []string
	for _, header := range form.File["images"] {
		url, err := h.uploads.SaveFile(uploads.FolderProducts, header)
		if err != nil {
			h.discardUploads(saved)
			h.respondError(c, err)
			return catalog.Listing{}, nil, false
		}
		saved = append(saved, url)
	}
	images := saved
	if len(images) == 0 {
		images = c.PostFormArray("image_urls")
	}
	return catalog.Listing{
		Title:          c.PostForm("title"),
		Description:    c.PostForm("description"),
		Price:          price,
		Condition:      c.PostForm("condition"),
		SaleType:       c.PostForm("sale_type"),
		Category:       c.PostForm("category"),
		ShippingOrigin: c.PostForm("shipping_origin"),
		ShippingDays:   c.PostForm("shipping_days"),
		ImageURLs:      images,
		Tags:           c.PostFormArray("tags"),
	}, saved, true
}

func (h *httpHandler) discardUploads(urls []string) {
	for _, url := range urls {
		if err := h.uploads.Remove(url); err != nil {
			h.logger.Warn("upload cleanup failed", zap.String("url", url), zap.Error(err))
		}
	}
}

func (h *httpHandler) handleProductDetail(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}
	detail, err := h.catalog.Detail(c.Request.Context(), productID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := presentProduct(detail.Product, detail.ViewCount)
	if detail.Seller != nil {
		seller := presentUserSummary(*detail.Seller)
		payload.Seller = &seller
	}
	if viewer, signedIn := viewerFrom(c); signedIn {
		favorite, err := h.favorites.IsFavorite(c.Request.Context(), viewer.ID, productID)
		if err != nil {
			h.logger.Warn("favorite lookup failed", zap.Uint64("product_id", productID), zap.Error(err))
		} else {
			payload.IsFavorite = &favorite
		}
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleCancelProduct(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}
	product, err := h.catalog.Cancel(c.Request.Context(), productID, mustViewer(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "listing cancelled", "product": presentProduct(product, 0)})
}

func (h *httpHandler) handlePurchaseStatus(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}
	viewer, _ := viewerFrom(c)
	status, err := h.purchases.StatusForProduct(c.Request.Context(), productID, viewer)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := gin.H{
		"role":                status.Role,
		"is_sold":             status.Sold,
		"purchase":            nil,
		"next_status_options": presentStatusOptions(status.NextOptions),
	}
	if status.Purchase != nil {
		response["purchase"] = presentPurchase(*status.Purchase)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleRecommendations(c *gin.Context) {
	viewer, _ := viewerFrom(c)
	products, err := h.recommend.Recommend(c.Request.Context(), viewer, queryInt(c, "limit", recommend.DefaultLimit))
	if err != nil {
		h.logger.Warn("recommendations degraded", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"products": []productPayload{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": presentProducts(products, nil)})
}
