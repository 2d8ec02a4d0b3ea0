// Package alert evaluates tracked products against their alert rules and
// records notifications.
package alert

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricealert/internal/catalog"
	"github.com/JakeFAU/pricealert/internal/metrics"
)

var hundred = decimal.NewFromInt(100)

// Store is the persistence surface the engine needs.
type Store interface {
	catalog.ProductStore
	catalog.ListingStore
	catalog.TrackingStore
	catalog.NotificationStore
}

// Engine is the only component that creates notifications.
type Engine struct {
	store   Store
	clock   catalog.Clock
	ids     catalog.IDGenerator
	logger  *zap.Logger
	metrics *metrics.Recorder
}

// New wires an alert engine.
func New(store Store, clock catalog.Clock, ids catalog.IDGenerator, logger *zap.Logger, rec *metrics.Recorder) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, clock: clock, ids: ids, logger: logger.Named("alert"), metrics: rec}
}

// Evaluate runs one pass over every enabled subscription and returns the
// number of notifications created. A failing subscription is logged and the
// pass continues.
func (e *Engine) Evaluate(ctx context.Context) (int, error) {
	tracked, err := e.store.ListTrackedProducts(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("list tracked products: %w", err)
	}
	created, failed := 0, 0
	for _, tp := range tracked {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		ok, err := e.evaluateOne(ctx, tp)
		if err != nil {
			failed++
			e.logger.Error("evaluate tracked product",
				zap.Int64("user_id", tp.UserID),
				zap.Stringer("product_id", tp.ProductID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			created++
		}
	}
	e.logger.Info("alert evaluation complete",
		zap.Int("tracked", len(tracked)),
		zap.Int("notifications", created),
		zap.Int("failed", failed),
	)
	return created, nil
}

func (e *Engine) evaluateOne(ctx context.Context, tp catalog.TrackedProduct) (bool, error) {
	if tp.ThresholdPrice == nil && tp.PercentageDropThreshold == nil {
		return false, nil
	}
	product, err := e.store.GetProduct(ctx, tp.ProductID)
	if err != nil {
		return false, fmt.Errorf("get product: %w", err)
	}
	listing, ok, err := e.relevantListing(ctx, tp.ProductID, tp.ThresholdType)
	if err != nil || !ok {
		return false, err
	}
	current := listing.PriceFor(tp.ThresholdType)

	prior, err := e.store.LatestNotification(ctx, tp.UserID, tp.ProductID, listing.ID)
	if err != nil {
		return false, fmt.Errorf("latest notification: %w", err)
	}
	var previous *decimal.Decimal
	if prior != nil && prior.NewPrice != nil {
		previous = prior.NewPrice
	}

	n, fire := decide(tp, product.Name, current, previous)
	if !fire {
		return false, nil
	}
	if err := e.create(ctx, tp, &listing.ID, n); err != nil {
		return false, err
	}
	return true, nil
}

// decide applies the threshold rule, then the percentage-drop rule. At most
// one notification results.
func decide(tp catalog.TrackedProduct, name string, current decimal.Decimal, previous *decimal.Decimal) (catalog.Notification, bool) {
	if tp.ThresholdPrice != nil && current.LessThanOrEqual(*tp.ThresholdPrice) {
		if previous != nil && !current.LessThan(*previous) {
			return catalog.Notification{}, false
		}
		cur := current
		return catalog.Notification{
			Type:     catalog.NotificationThreshold,
			Message:  fmt.Sprintf("%s: price %s is at or below your threshold %s", name, FormatPrice(current), FormatPrice(*tp.ThresholdPrice)),
			NewPrice: &cur,
		}, true
	}
	if tp.PercentageDropThreshold == nil || previous == nil || previous.IsZero() {
		return catalog.Notification{}, false
	}
	drop := previous.Sub(current)
	if !drop.IsPositive() {
		return catalog.Notification{}, false
	}
	pct := drop.Div(*previous).Mul(hundred)
	if pct.LessThan(*tp.PercentageDropThreshold) {
		return catalog.Notification{}, false
	}
	old, cur := *previous, current
	return catalog.Notification{
		Type: catalog.NotificationPercentageDrop,
		Message: fmt.Sprintf("%s: price dropped from %s to %s (%s%% off)",
			name, FormatPrice(old), FormatPrice(cur), pct.StringFixed(1)),
		OldPrice: &old,
		NewPrice: &cur,
	}, true
}

// relevantListing picks the cheapest active, sampled listing under the given
// basis. Ties go to the lower site id.
func (e *Engine) relevantListing(ctx context.Context, productID uuid.UUID, basis catalog.ThresholdType) (catalog.Listing, bool, error) {
	listings, err := e.store.ListListings(ctx, productID)
	if err != nil {
		return catalog.Listing{}, false, fmt.Errorf("list listings: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(listings))
	for _, l := range listings {
		if l.Active {
			ids = append(ids, l.ID)
		}
	}
	if len(ids) == 0 {
		return catalog.Listing{}, false, nil
	}
	sampled, err := e.store.SampledListingIDs(ctx, ids)
	if err != nil {
		return catalog.Listing{}, false, fmt.Errorf("sampled listings: %w", err)
	}
	var (
		best  catalog.Listing
		found bool
	)
	for _, l := range listings {
		if !l.Active || !sampled[l.ID] {
			continue
		}
		if !found || cheaper(l, best, basis) {
			best, found = l, true
		}
	}
	return best, found, nil
}

func cheaper(a, b catalog.Listing, basis catalog.ThresholdType) bool {
	pa, pb := a.PriceFor(basis), b.PriceFor(basis)
	if c := pa.Cmp(pb); c != 0 {
		return c < 0
	}
	if a.Site != b.Site {
		return a.Site < b.Site
	}
	return a.SiteLocalID < b.SiteLocalID
}

func (e *Engine) create(ctx context.Context, tp catalog.TrackedProduct, listingID *uuid.UUID, n catalog.Notification) error {
	id, err := e.ids.NewRawID()
	if err != nil {
		return fmt.Errorf("new notification id: %w", err)
	}
	n.ID = id
	n.UserID = tp.UserID
	n.ProductID = tp.ProductID
	n.ListingID = listingID
	n.CreatedAt = e.clock.Now()
	if err := e.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	e.metrics.ObserveNotification(string(n.Type))
	e.logger.Debug("notification created",
		zap.Int64("user_id", n.UserID),
		zap.Stringer("product_id", n.ProductID),
		zap.String("type", string(n.Type)),
	)
	return nil
}

// FormatPrice renders an amount with thousands separators, e.g. 9,000.
func FormatPrice(d decimal.Decimal) string {
	s := d.String()
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		return sign + b.String() + "." + frac
	}
	return sign + b.String()
}
