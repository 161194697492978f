package catalog

import (
	"fmt"
	"strings"
	"time"
)

// ListingStatus is 1 while a product is for sale and 0 once it was cancelled
// or sold. A delisted product never returns to sale.
type ListingStatus int16

const (
	StatusDelisted ListingStatus = 0
	StatusListed   ListingStatus = 1
)

// Condition grades the physical state of a book.
type Condition string

const (
	ConditionNew       Condition = "new"
	ConditionLikeNew   Condition = "like_new"
	ConditionExcellent Condition = "excellent"
	ConditionGood      Condition = "good"
	ConditionFair      Condition = "fair"
	ConditionPoor      Condition = "poor"
)

// ParseCondition accepts one of the known grades; empty input defaults to good.
func ParseCondition(value string) (Condition, error) {
	switch Condition(strings.ToLower(strings.TrimSpace(value))) {
	case "":
		return ConditionGood, nil
	case ConditionNew:
		return ConditionNew, nil
	case ConditionLikeNew:
		return ConditionLikeNew, nil
	case ConditionExcellent:
		return ConditionExcellent, nil
	case ConditionGood:
		return ConditionGood, nil
	case ConditionFair:
		return ConditionFair, nil
	case ConditionPoor:
		return ConditionPoor, nil
	default:
		return "", fmt.Errorf("unknown condition %q", value)
	}
}

// SaleType describes how the seller prices a listing.
type SaleType string

const (
	SaleTypeFixed      SaleType = "fixed"
	SaleTypeNegotiable SaleType = "negotiable"
	SaleTypeAuction    SaleType = "auction"
)

// ParseSaleType accepts one of the known sale types; empty input defaults to fixed.
func ParseSaleType(value string) (SaleType, error) {
	switch SaleType(strings.ToLower(strings.TrimSpace(value))) {
	case "":
		return SaleTypeFixed, nil
	case SaleTypeFixed:
		return SaleTypeFixed, nil
	case SaleTypeNegotiable:
		return SaleTypeNegotiable, nil
	case SaleTypeAuction:
		return SaleTypeAuction, nil
	default:
		return "", fmt.Errorf("unknown sale type %q", value)
	}
}

// SortMode orders search results.
type SortMode string

const (
	SortNewest    SortMode = "newest"
	SortPriceAsc  SortMode = "price_asc"
	SortPriceDesc SortMode = "price_desc"
	SortPopular   SortMode = "popular"
)

// ParseSortMode maps unknown or empty values onto newest.
func ParseSortMode(value string) SortMode {
	switch SortMode(strings.ToLower(strings.TrimSpace(value))) {
	case SortPriceAsc:
		return SortPriceAsc
	case SortPriceDesc:
		return SortPriceDesc
	case SortPopular:
		return SortPopular
	default:
		return SortNewest
	}
}

// Product is a listing. Price is in the smallest currency unit.
type Product struct {
	ID             uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	Title          string         `gorm:"column:title;size:255;not null"`
	Description    string         `gorm:"column:description;type:text"`
	Price          int64          `gorm:"column:price;not null"`
	Condition      Condition      `gorm:"column:condition;size:50"`
	SaleType       SaleType       `gorm:"column:sale_type;size:50"`
	Category       string         `gorm:"column:category;size:100;index"`
	ShippingOrigin string         `gorm:"column:shipping_origin;size:50"`
	ShippingDays   string         `gorm:"column:shipping_days;size:50"`
	ImageURL       string         `gorm:"column:image_url;size:255"`
	SellerID       uint64         `gorm:"column:seller_id;not null;index"`
	Status         ListingStatus  `gorm:"column:status;not null;index"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null;index"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;not null"`
	Images         []ProductImage `gorm:"foreignKey:ProductID"`
	Tags           []ProductTag   `gorm:"foreignKey:ProductID"`
}

// TableName exposes the table backing listings.
func (Product) TableName() string {
	return "products"
}

// IsSold reports whether the product left the catalog.
func (p Product) IsSold() bool {
	return p.Status != StatusListed
}

// Gallery returns image URLs in display order, falling back to the legacy
// single image column.
func (p Product) Gallery() []string {
	urls := make([]string, 0, len(p.Images)+1)
	for _, image := range p.Images {
		if image.URL != "" {
			urls = append(urls, image.URL)
		}
	}
	if len(urls) == 0 && p.ImageURL != "" {
		urls = append(urls, p.ImageURL)
	}
	return urls
}

// PrimaryImage is the first gallery image, or "" when there is none.
func (p Product) PrimaryImage() string {
	if p.ImageURL != "" {
		return p.ImageURL
	}
	gallery := p.Gallery()
	if len(gallery) == 0 {
		return ""
	}
	return gallery[0]
}

// TagNames flattens the tag rows.
func (p Product) TagNames() []string {
	names := make([]string, 0, len(p.Tags))
	for _, tag := range p.Tags {
		names = append(names, tag.Tag)
	}
	return names
}

type ProductImage struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	ProductID uint64    `gorm:"column:product_id;not null;index"`
	URL       string    `gorm:"column:image_url;size:255;not null"`
	SortOrder int       `gorm:"column:sort_order;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (ProductImage) TableName() string {
	return "product_images"
}

type ProductTag struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	ProductID uint64    `gorm:"column:product_id;not null;uniqueIndex:idx_product_tag,priority:1"`
	Tag       string    `gorm:"column:tag;size:30;not null;uniqueIndex:idx_product_tag,priority:2;index"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (ProductTag) TableName() string {
	return "product_tags"
}

// ProductView is one detail-page impression.
type ProductView struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	ProductID uint64    `gorm:"column:product_id;not null;index"`
	ViewedAt  time.Time `gorm:"column:viewed_at;not null"`
}

func (ProductView) TableName() string {
	return "product_views"
}
