package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProductStore persists canonical products.
type ProductStore interface {
	// UpsertProduct atomically inserts the product or, when its key already
	// exists, fills the stored image, manufacturer and catalog number only
	// where they are empty. created reports an insert.
	UpsertProduct(ctx context.Context, p Product) (stored Product, created bool, err error)
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

// ListingStore persists listings and their price history.
type ListingStore interface {
	// FindListings loads every existing listing whose key is in keys.
	FindListings(ctx context.Context, keys []ListingKey) (map[ListingKey]Listing, error)
	// UpdateListings overwrites the mutable fields of existing listings.
	UpdateListings(ctx context.Context, listings []Listing) error
	// InsertListings inserts new listings. Rows that lost a unique-key race
	// are returned in conflicts instead of failing the batch.
	InsertListings(ctx context.Context, listings []Listing) (inserted []Listing, conflicts []Listing, err error)
	AppendPriceSamples(ctx context.Context, samples []PriceSample) error
	ListListings(ctx context.Context, productID uuid.UUID) ([]Listing, error)
	ListPriceSamples(ctx context.Context, listingID uuid.UUID) ([]PriceSample, error)
	// SampledListingIDs reports which of the given listings have at least one sample.
	SampledListingIDs(ctx context.Context, listingIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}

// ListingTxRunner groups listing writes so they commit together or not at all.
type ListingTxRunner interface {
	// WithinTx runs fn against a ListingStore bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx ListingStore) error) error
}

// TrackingStore persists user subscriptions.
type TrackingStore interface {
	// EnsureTrackedProduct inserts tp unless (user, product) already exists,
	// in which case the stored subscription is returned untouched.
	EnsureTrackedProduct(ctx context.Context, tp TrackedProduct) (stored TrackedProduct, created bool, err error)
	DeleteTrackedProduct(ctx context.Context, userID int64, productID uuid.UUID) error
	ListTrackedProducts(ctx context.Context, enabledOnly bool) ([]TrackedProduct, error)
	ListTrackedProductsByUser(ctx context.Context, userID int64) ([]TrackedProduct, error)
}

// NotificationStore persists notifications.
type NotificationStore interface {
	LatestNotification(ctx context.Context, userID int64, productID uuid.UUID, listingID uuid.UUID) (*Notification, error)
	CreateNotification(ctx context.Context, n Notification) error
	ListUnsent(ctx context.Context, userID int64) ([]Notification, error)
	MarkSent(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// WindowStore persists frequency windows and the user settings that point at them.
type WindowStore interface {
	GetWindow(ctx context.Context, f Frequency) (FrequencyWindow, error)
	SaveWindow(ctx context.Context, w FrequencyWindow) error
	ListSubscribers(ctx context.Context, f Frequency) ([]UserSettings, error)
	SaveUserSettings(ctx context.Context, s UserSettings) error
}

// Store aggregates every persistence concern of the pipeline.
type Store interface {
	ProductStore
	ListingStore
	ListingTxRunner
	TrackingStore
	NotificationStore
	WindowStore
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces entity identifiers.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}
