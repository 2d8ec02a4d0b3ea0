// Package memory holds in-process stores for development and tests. Data is
// lost when the process exits.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/pricealert/internal/catalog"
)

type trackedKey struct {
	userID    int64
	productID uuid.UUID
}

// CatalogStore is an in-memory catalog.Store enforcing the same unique keys
// as the relational schema. It backs tests and the memory storage driver.
type CatalogStore struct {
	txMu          sync.Mutex
	mu            sync.RWMutex
	products      map[uuid.UUID]catalog.Product
	productKeys   map[string]uuid.UUID
	listings      map[uuid.UUID]catalog.Listing
	listingKeys   map[catalog.ListingKey]uuid.UUID
	samples       map[uuid.UUID][]catalog.PriceSample
	tracked       map[uuid.UUID]catalog.TrackedProduct
	trackedKeys   map[trackedKey]uuid.UUID
	notifications []catalog.Notification
	windows       map[catalog.Frequency]catalog.FrequencyWindow
	settings      map[int64]catalog.UserSettings
}

// NewCatalogStore constructs an empty store.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		products:    make(map[uuid.UUID]catalog.Product),
		productKeys: make(map[string]uuid.UUID),
		listings:    make(map[uuid.UUID]catalog.Listing),
		listingKeys: make(map[catalog.ListingKey]uuid.UUID),
		samples:     make(map[uuid.UUID][]catalog.PriceSample),
		tracked:     make(map[uuid.UUID]catalog.TrackedProduct),
		trackedKeys: make(map[trackedKey]uuid.UUID),
		windows:     make(map[catalog.Frequency]catalog.FrequencyWindow),
		settings:    make(map[int64]catalog.UserSettings),
	}
}

// UpsertProduct inserts p or backfills the stored row sharing its key.
func (s *CatalogStore) UpsertProduct(_ context.Context, p catalog.Product) (catalog.Product, bool, error) {
	key := p.Key().String()
	if key == "" {
		return catalog.Product{}, false, catalog.Invalid("product", "no dedup key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.productKeys[key]; ok {
		stored := s.products[id]
		changed := false
		if stored.ImageURL == "" && p.ImageURL != "" {
			stored.ImageURL, changed = p.ImageURL, true
		}
		if stored.Manufacturer == "" && p.Manufacturer != "" {
			stored.Manufacturer, changed = p.Manufacturer, true
		}
		if stored.CatalogNumber == "" && p.CatalogNumber != "" {
			stored.CatalogNumber, changed = p.CatalogNumber, true
		}
		if changed {
			stored.UpdatedAt = p.UpdatedAt
			s.products[id] = stored
		}
		return stored, false, nil
	}
	s.products[p.ID] = p
	s.productKeys[key] = p.ID
	return p, true, nil
}

// GetProduct loads a product by id.
func (s *CatalogStore) GetProduct(_ context.Context, id uuid.UUID) (catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return catalog.Product{}, fmt.Errorf("product %s: %w", id, catalog.ErrNotFound)
	}
	return p, nil
}

// ListProducts returns every product in creation order.
func (s *CatalogStore) ListProducts(_ context.Context) ([]catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b catalog.Product) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

// FindListings loads existing listings by key.
func (s *CatalogStore) FindListings(_ context.Context, keys []catalog.ListingKey) (map[catalog.ListingKey]catalog.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[catalog.ListingKey]catalog.Listing, len(keys))
	for _, k := range keys {
		if id, ok := s.listingKeys[k]; ok {
			out[k] = s.listings[id]
		}
	}
	return out, nil
}

// UpdateListings overwrites stored listings by id.
func (s *CatalogStore) UpdateListings(_ context.Context, listings []catalog.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range listings {
		if _, ok := s.listings[l.ID]; !ok {
			return fmt.Errorf("listing %s: %w", l.ID, catalog.ErrNotFound)
		}
	}
	for _, l := range listings {
		s.listings[l.ID] = l
	}
	return nil
}

// InsertListings inserts new listings, reporting key collisions as conflicts.
func (s *CatalogStore) InsertListings(_ context.Context, listings []catalog.Listing) ([]catalog.Listing, []catalog.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted, conflicts []catalog.Listing
	for _, l := range listings {
		if _, exists := s.listingKeys[l.Key()]; exists {
			conflicts = append(conflicts, l)
			continue
		}
		s.listings[l.ID] = l
		s.listingKeys[l.Key()] = l.ID
		inserted = append(inserted, l)
	}
	return inserted, conflicts, nil
}

type listingSnapshot struct {
	listings    map[uuid.UUID]catalog.Listing
	listingKeys map[catalog.ListingKey]uuid.UUID
	samples     map[uuid.UUID][]catalog.PriceSample
}

// WithinTx runs fn against s and restores listings and samples when fn
// fails. Transactions run one at a time; writes made outside WithinTx while
// one is open are not isolated from its rollback.
func (s *CatalogStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx catalog.ListingStore) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snap := listingSnapshot{
		listings:    maps.Clone(s.listings),
		listingKeys: maps.Clone(s.listingKeys),
		samples:     maps.Clone(s.samples),
	}
	s.mu.RUnlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.listings, s.listingKeys, s.samples = snap.listings, snap.listingKeys, snap.samples
		s.mu.Unlock()
		return err
	}
	return nil
}

// AppendPriceSamples appends history rows.
func (s *CatalogStore) AppendPriceSamples(_ context.Context, samples []catalog.PriceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ps := range samples {
		if _, ok := s.listings[ps.ListingID]; !ok {
			return fmt.Errorf("sample for listing %s: %w", ps.ListingID, catalog.ErrNotFound)
		}
	}
	for _, ps := range samples {
		s.samples[ps.ListingID] = append(s.samples[ps.ListingID], ps)
	}
	return nil
}

// ListListings returns a product's listings ordered by site and local id.
func (s *CatalogStore) ListListings(_ context.Context, productID uuid.UUID) ([]catalog.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Listing
	for _, l := range s.listings {
		if l.ProductID == productID {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b catalog.Listing) int {
		if c := cmp.Compare(a.Site, b.Site); c != 0 {
			return c
		}
		return cmp.Compare(a.SiteLocalID, b.SiteLocalID)
	})
	return out, nil
}

// ListPriceSamples returns a listing's history ordered by capture time.
func (s *CatalogStore) ListPriceSamples(_ context.Context, listingID uuid.UUID) ([]catalog.PriceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.samples[listingID])
	slices.SortStableFunc(out, func(a, b catalog.PriceSample) int {
		return a.CapturedAt.Compare(b.CapturedAt)
	})
	return out, nil
}

// SampledListingIDs reports which listings have history.
func (s *CatalogStore) SampledListingIDs(_ context.Context, listingIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]bool, len(listingIDs))
	for _, id := range listingIDs {
		if len(s.samples[id]) > 0 {
			out[id] = true
		}
	}
	return out, nil
}

// EnsureTrackedProduct inserts tp unless the user already tracks the product.
func (s *CatalogStore) EnsureTrackedProduct(_ context.Context, tp catalog.TrackedProduct) (catalog.TrackedProduct, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := trackedKey{userID: tp.UserID, productID: tp.ProductID}
	if id, ok := s.trackedKeys[key]; ok {
		return s.tracked[id], false, nil
	}
	if _, ok := s.products[tp.ProductID]; !ok {
		return catalog.TrackedProduct{}, false, fmt.Errorf("product %s: %w", tp.ProductID, catalog.ErrNotFound)
	}
	s.tracked[tp.ID] = tp
	s.trackedKeys[key] = tp.ID
	return tp, true, nil
}

// DeleteTrackedProduct removes a subscription; the product is kept.
func (s *CatalogStore) DeleteTrackedProduct(_ context.Context, userID int64, productID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := trackedKey{userID: userID, productID: productID}
	id, ok := s.trackedKeys[key]
	if !ok {
		return fmt.Errorf("tracked product: %w", catalog.ErrNotFound)
	}
	delete(s.trackedKeys, key)
	delete(s.tracked, id)
	return nil
}

// ListTrackedProducts returns subscriptions ordered by user and display order.
func (s *CatalogStore) ListTrackedProducts(_ context.Context, enabledOnly bool) ([]catalog.TrackedProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterTracked(func(tp catalog.TrackedProduct) bool {
		return !enabledOnly || tp.NotificationsEnabled
	}), nil
}

// ListTrackedProductsByUser returns one user's subscriptions.
func (s *CatalogStore) ListTrackedProductsByUser(_ context.Context, userID int64) ([]catalog.TrackedProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterTracked(func(tp catalog.TrackedProduct) bool { return tp.UserID == userID }), nil
}

func (s *CatalogStore) filterTracked(keep func(catalog.TrackedProduct) bool) []catalog.TrackedProduct {
	var out []catalog.TrackedProduct
	for _, tp := range s.tracked {
		if keep(tp) {
			out = append(out, tp)
		}
	}
	slices.SortFunc(out, func(a, b catalog.TrackedProduct) int {
		if c := cmp.Compare(a.UserID, b.UserID); c != 0 {
			return c
		}
		if c := cmp.Compare(a.DisplayOrder, b.DisplayOrder); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// LatestNotification returns the newest notification for the triple, or nil.
func (s *CatalogStore) LatestNotification(_ context.Context, userID int64, productID, listingID uuid.UUID) (*catalog.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *catalog.Notification
	for i := range s.notifications {
		n := s.notifications[i]
		if n.UserID != userID || n.ProductID != productID || n.ListingID == nil || *n.ListingID != listingID {
			continue
		}
		if latest == nil || !n.CreatedAt.Before(latest.CreatedAt) {
			cp := n
			latest = &cp
		}
	}
	return latest, nil
}

// CreateNotification stores a notification.
func (s *CatalogStore) CreateNotification(_ context.Context, n catalog.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.notifications {
		if existing.ID == n.ID {
			return fmt.Errorf("notification %s: %w", n.ID, catalog.ErrPersistenceConflict)
		}
	}
	s.notifications = append(s.notifications, n)
	return nil
}

// ListUnsent returns a user's notifications without sent_at, oldest first.
func (s *CatalogStore) ListUnsent(_ context.Context, userID int64) ([]catalog.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Notification
	for _, n := range s.notifications {
		if n.UserID == userID && n.SentAt == nil {
			out = append(out, n)
		}
	}
	slices.SortStableFunc(out, func(a, b catalog.Notification) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// MarkSent stamps sent_at on the given notifications.
func (s *CatalogStore) MarkSent(_ context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for i := range s.notifications {
		if want[s.notifications[i].ID] {
			ts := at
			s.notifications[i].SentAt = &ts
		}
	}
	return nil
}

// Notifications returns a snapshot of every stored notification.
func (s *CatalogStore) Notifications() []catalog.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.notifications)
}

// GetWindow loads a frequency window.
func (s *CatalogStore) GetWindow(_ context.Context, f catalog.Frequency) (catalog.FrequencyWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[f]
	if !ok {
		return catalog.FrequencyWindow{}, fmt.Errorf("window %s: %w", f, catalog.ErrNotFound)
	}
	return w, nil
}

// SaveWindow upserts a frequency window.
func (s *CatalogStore) SaveWindow(_ context.Context, w catalog.FrequencyWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[w.Frequency] = w
	return nil
}

// ListSubscribers returns users with mail enabled for frequency f.
func (s *CatalogStore) ListSubscribers(_ context.Context, f catalog.Frequency) ([]catalog.UserSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.UserSettings
	for _, us := range s.settings {
		if us.Frequency == f && us.EmailEnabled {
			out = append(out, us)
		}
	}
	slices.SortFunc(out, func(a, b catalog.UserSettings) int { return cmp.Compare(a.UserID, b.UserID) })
	return out, nil
}

// SaveUserSettings upserts a user's mail settings.
func (s *CatalogStore) SaveUserSettings(_ context.Context, us catalog.UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[us.UserID] = us
	return nil
}

var _ catalog.Store = (*CatalogStore)(nil)
