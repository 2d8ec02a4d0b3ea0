// Package catalog defines the core types shared across the pricing pipeline.
package catalog

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SiteID identifies a marketplace.
type SiteID string

// Known marketplaces.
const (
	SiteAmazon  SiteID = "amazon"
	SiteRakuten SiteID = "rakuten"
	SiteYahoo   SiteID = "yahoo"
)

// ThresholdType selects which price basis an alert rule compares against.
type ThresholdType string

// Threshold bases.
const (
	ThresholdListPrice      ThresholdType = "list_price"
	ThresholdEffectivePrice ThresholdType = "effective_price"
)

// NotificationType classifies a user-visible alert.
type NotificationType string

// Notification types.
const (
	NotificationThreshold      NotificationType = "threshold"
	NotificationPercentageDrop NotificationType = "percentage_drop"
	NotificationPriceDrop      NotificationType = "price_drop"
	NotificationWeeklyReport   NotificationType = "weekly_report"
)

// Frequency is a mail batching class.
type Frequency string

// Mail batching classes.
const (
	FrequencyImmediately Frequency = "immediately"
	FrequencyDaily       Frequency = "daily"
	FrequencyWeekly      Frequency = "weekly"
)

// Product is the canonical cross-marketplace entity.
type Product struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	Manufacturer  string    `json:"manufacturer,omitempty"`
	CatalogNumber string    `json:"catalog_number,omitempty"`
	UniversalCode string    `json:"universal_code,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Key returns the dedup key stored for the product.
func (p Product) Key() ProductKey {
	return NewProductKey(p.UniversalCode, p.CatalogNumber)
}

// ProductKey is the (universal_code, catalog_number) dedup key. The catalog
// number only participates when no universal code is known.
type ProductKey struct {
	UniversalCode string
	CatalogNumber string
}

// NewProductKey normalizes a code/catalog-number pair into a dedup key.
func NewProductKey(code, catalogNumber string) ProductKey {
	if code != "" {
		return ProductKey{UniversalCode: code}
	}
	return ProductKey{CatalogNumber: catalogNumber}
}

// String renders the key as the value stored in the unique dedup column.
func (k ProductKey) String() string {
	if k.UniversalCode != "" {
		return "code:" + k.UniversalCode
	}
	if k.CatalogNumber != "" {
		return "catalog:" + k.CatalogNumber
	}
	return ""
}

// IsZero reports whether the key carries no identity at all.
func (k ProductKey) IsZero() bool {
	return k.UniversalCode == "" && k.CatalogNumber == ""
}

// Listing is a Product as it appears on one marketplace.
type Listing struct {
	ID             uuid.UUID       `json:"id"`
	ProductID      uuid.UUID       `json:"product_id"`
	Site           SiteID          `json:"site"`
	SiteLocalID    string          `json:"site_local_id"`
	ProductURL     string          `json:"product_url"`
	AffiliateURL   string          `json:"affiliate_url,omitempty"`
	Price          decimal.Decimal `json:"price"`
	Points         decimal.Decimal `json:"points"`
	EffectivePrice decimal.Decimal `json:"effective_price"`
	SellerName     string          `json:"seller_name,omitempty"`
	ShippingFee    decimal.Decimal `json:"shipping_fee"`
	Condition      string          `json:"condition,omitempty"`
	Active         bool            `json:"active"`
	LastUpdated    *time.Time      `json:"last_updated,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Key returns the listing's unique identity.
func (l Listing) Key() ListingKey {
	return ListingKey{ProductID: l.ProductID, Site: l.Site, SiteLocalID: l.SiteLocalID}
}

// PriceFor returns the listing price under the given threshold basis.
func (l Listing) PriceFor(t ThresholdType) decimal.Decimal {
	if t == ThresholdEffectivePrice {
		return l.EffectivePrice
	}
	return l.Price
}

// ListingKey is the (product, site, site_local_id) identity of a Listing.
type ListingKey struct {
	ProductID   uuid.UUID
	Site        SiteID
	SiteLocalID string
}

// PriceSample is an immutable price snapshot for a listing.
type PriceSample struct {
	ID             uuid.UUID       `json:"id"`
	ListingID      uuid.UUID       `json:"listing_id"`
	Price          decimal.Decimal `json:"price"`
	Points         decimal.Decimal `json:"points"`
	EffectivePrice decimal.Decimal `json:"effective_price"`
	CapturedAt     time.Time       `json:"captured_at"`
}

// TrackedProduct is a user's subscription to a product.
type TrackedProduct struct {
	ID                      uuid.UUID        `json:"id"`
	UserID                  int64            `json:"user_id"`
	ProductID               uuid.UUID        `json:"product_id"`
	ThresholdPrice          *decimal.Decimal `json:"threshold_price,omitempty"`
	ThresholdType           ThresholdType    `json:"threshold_type"`
	PercentageDropThreshold *decimal.Decimal `json:"percentage_drop_threshold,omitempty"`
	NotificationsEnabled    bool             `json:"notifications_enabled"`
	DisplayOrder            int              `json:"display_order"`
	Memo                    string           `json:"memo,omitempty"`
	CreatedAt               time.Time        `json:"created_at"`
}

// Notification is a user-visible alert record.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    int64            `json:"user_id"`
	ProductID uuid.UUID        `json:"product_id"`
	ListingID *uuid.UUID       `json:"listing_id,omitempty"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	OldPrice  *decimal.Decimal `json:"old_price,omitempty"`
	NewPrice  *decimal.Decimal `json:"new_price,omitempty"`
	Read      bool             `json:"read"`
	SentAt    *time.Time       `json:"sent_at,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// FrequencyWindow is the batching configuration and state for one frequency
// class (the EmailBatchWindow entity).
type FrequencyWindow struct {
	Frequency    Frequency     `json:"frequency"`
	Interval     time.Duration `json:"interval"`
	LastDispatch *time.Time    `json:"last_dispatch,omitempty"`
}

// UserSettings holds per-user mail preferences; it references a frequency
// class, never the other way around.
type UserSettings struct {
	UserID       int64     `json:"user_id"`
	Email        string    `json:"email"`
	Frequency    Frequency `json:"frequency"`
	EmailEnabled bool      `json:"email_enabled"`
}

// CodeSet is a set of universal product codes.
type CodeSet map[string]struct{}

// NewCodeSet builds a set from the provided codes, skipping blanks.
func NewCodeSet(codes ...string) CodeSet {
	set := make(CodeSet, len(codes))
	for _, c := range codes {
		if c != "" {
			set[c] = struct{}{}
		}
	}
	return set
}

// Add inserts a code.
func (s CodeSet) Add(code string) {
	if code != "" {
		s[code] = struct{}{}
	}
}

// Sorted returns the codes in ascending order.
func (s CodeSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// ListingCandidate is a normalized marketplace search result.
type ListingCandidate struct {
	Site           SiteID          `json:"site"`
	SiteLocalID    string          `json:"site_local_id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	ImageURL       string          `json:"image_url,omitempty"`
	Manufacturer   string          `json:"manufacturer,omitempty"`
	CatalogNumber  string          `json:"catalog_number,omitempty"`
	UniversalCodes []string        `json:"universal_codes,omitempty"`
	Price          decimal.Decimal `json:"price"`
	Points         decimal.Decimal `json:"points"`
	EffectivePrice decimal.Decimal `json:"effective_price"`
	ShippingFee    decimal.Decimal `json:"shipping_fee"`
	Condition      string          `json:"condition,omitempty"`
	SellerName     string          `json:"seller_name,omitempty"`
	ProductURL     string          `json:"product_url"`
	AffiliateURL   string          `json:"affiliate_url,omitempty"`
}

// PrimaryCode returns the first universal code carried by the candidate.
func (c ListingCandidate) PrimaryCode() string {
	if len(c.UniversalCodes) == 0 {
		return ""
	}
	return c.UniversalCodes[0]
}

// WithPrimaryCode returns a copy of c whose first universal code is code. A
// code the candidate does not carry leaves it unchanged.
func (c ListingCandidate) WithPrimaryCode(code string) ListingCandidate {
	c.UniversalCodes = PromoteCode(c.UniversalCodes, code)
	return c
}

// PromoteCode returns a copy of codes with want moved to the front, or codes
// itself when want is absent.
func PromoteCode(codes []string, want string) []string {
	idx := slices.Index(codes, want)
	if idx <= 0 {
		return codes
	}
	out := make([]string, 0, len(codes))
	out = append(out, want)
	out = append(out, codes[:idx]...)
	return append(out, codes[idx+1:]...)
}

// ProductKey returns the dedup key for the candidate's product.
func (c ListingCandidate) ProductKey() ProductKey {
	return NewProductKey(c.PrimaryCode(), c.CatalogNumber)
}

// EffectivePriceOf returns price net of points, floored at zero.
func EffectivePriceOf(price, points decimal.Decimal) decimal.Decimal {
	eff := price.Sub(points)
	if eff.IsNegative() {
		return decimal.Zero
	}
	return eff
}
