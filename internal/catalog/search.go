package catalog

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/social"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	popularityJoin  = "LEFT JOIN (SELECT product_id, COUNT(*) AS view_total FROM product_views GROUP BY product_id) pv ON pv.product_id = products.id"
)

// likeEscaper makes LIKE match '%' and '_' literally. '!' is the escape
// character because MySQL reads a backslash literal as an escape itself.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// SearchQuery filters the public product list. A keyword starting with '#'
// searches tags instead of text.
type SearchQuery struct {
	Keyword     string
	MinPrice    *int64
	MaxPrice    *int64
	Condition   string
	Category    string
	SaleType    string
	SellerID    uint64
	Sort        SortMode
	Page        int
	Limit       int
	IncludeSold bool
	ViewerEmail string
}

// SearchResult is one page of products.
type SearchResult struct {
	Total      int64
	Page       int
	Limit      int
	TotalPages int
	Products   []Product
	ViewCounts map[uint64]int64
}

// Search runs the product list query. Sellers in a block relation with the
// viewer are excluded.
func (s *Service) Search(ctx context.Context, query SearchQuery) (SearchResult, error) {
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
	result := SearchResult{Page: page, Limit: limit}

	db := s.db.WithContext(ctx)
	blocked, err := social.BlockedCounterparts(db, users.NormalizeEmail(query.ViewerEmail))
	if err != nil {
		return result, failure.Wrap(operationSearch, "block_lookup_failed", err)
	}

	if err := s.filtered(db, query, blocked).Count(&result.Total).Error; err != nil {
		return result, failure.Wrap(operationSearch, "count_failed", err)
	}
	result.TotalPages = int((result.Total + int64(limit) - 1) / int64(limit))

	listing := withGallery(s.filtered(db, query, blocked))
	switch query.Sort {
	case SortPriceAsc:
		listing = listing.Order("products.price ASC").Order("products.id DESC")
	case SortPriceDesc:
		listing = listing.Order("products.price DESC").Order("products.id DESC")
	case SortPopular:
		listing = listing.Select("products.*").Joins(popularityJoin).
			Order("COALESCE(pv.view_total, 0) DESC").Order("products.created_at DESC")
	default:
		listing = listing.Order("products.created_at DESC").Order("products.id DESC")
	}

	var products []Product
	if err := listing.Offset((page - 1) * limit).Limit(limit).Find(&products).Error; err != nil {
		return result, failure.Wrap(operationSearch, "query_failed", err)
	}
	result.Products = products

	ids := make([]uint64, 0, len(products))
	for _, product := range products {
		ids = append(ids, product.ID)
	}
	counts, err := ViewCounts(db, ids)
	if err != nil {
		s.logError(operationSearch, "view_count_failed", err)
	}
	result.ViewCounts = counts
	return result, nil
}

// filtered builds a fresh statement each call so the count and page queries
// do not share clauses.
func (s *Service) filtered(db *gorm.DB, query SearchQuery, blocked []string) *gorm.DB {
	statement := db.Model(&Product{})
	if !query.IncludeSold && query.SellerID == 0 {
		statement = statement.Where("products.status = ?", StatusListed)
	}

	keyword := strings.TrimSpace(query.Keyword)
	if strings.HasPrefix(keyword, "#") || strings.HasPrefix(keyword, "＃") {
		if tag := NormalizeTag(keyword); tag != "" {
			statement = statement.Where("products.id IN (?)", db.Model(&ProductTag{}).Select("product_id").Where("tag = ?", tag))
		}
	} else if keyword != "" {
		pattern := "%" + likeEscaper.Replace(keyword) + "%"
		statement = statement.Where(
			"(products.title LIKE ? ESCAPE '!' OR products.description LIKE ? ESCAPE '!' OR products.category LIKE ? ESCAPE '!')",
			pattern, pattern, pattern)
	}

	if query.MinPrice != nil {
		statement = statement.Where("products.price >= ?", *query.MinPrice)
	}
	if query.MaxPrice != nil {
		statement = statement.Where("products.price <= ?", *query.MaxPrice)
	}
	if condition := strings.TrimSpace(query.Condition); condition != "" {
		statement = statement.Where("products.condition = ?", condition)
	}
	if category := strings.TrimSpace(query.Category); category != "" {
		statement = statement.Where("products.category = ?", category)
	}
	if saleType := strings.TrimSpace(query.SaleType); saleType != "" {
		statement = statement.Where("products.sale_type = ?", saleType)
	}
	if query.SellerID != 0 {
		statement = statement.Where("products.seller_id = ?", query.SellerID)
	}
	if len(blocked) > 0 {
		statement = statement.Where("products.seller_id NOT IN (?)", db.Model(&users.User{}).Select("id").Where("email IN ?", blocked))
	}
	return statement
}
