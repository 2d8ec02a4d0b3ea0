// Package reconcile merges marketplace candidates into canonical products,
// listings and price history.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricealert/internal/catalog"
	"github.com/JakeFAU/pricealert/internal/metrics"
)

// Store is the persistence surface the engine needs.
type Store interface {
	catalog.ProductStore
	catalog.ListingStore
	catalog.ListingTxRunner
	catalog.TrackingStore
}

// Subscription describes the user a registration reconciles on behalf of.
type Subscription struct {
	UserID         int64
	ThresholdPrice *decimal.Decimal
	ThresholdType  catalog.ThresholdType
	PercentageDrop *decimal.Decimal
	Memo           string
}

// Request is one logical search worth of candidates.
type Request struct {
	Candidates []catalog.ListingCandidate
	// Subscriber, when set, gets a TrackedProduct for every resolved product.
	Subscriber *Subscription
}

// ListingOutcome reports what happened to one listing.
type ListingOutcome struct {
	Listing        catalog.Listing
	IsNew          bool
	IsPriceChanged bool
}

// Stats summarizes a run.
type Stats struct {
	ProductsCreated int
	ListingsCreated int
	ListingsUpdated int
	PriceChanged    int
	SamplesAppended int
	TrackedCreated  int
	Skipped         int
}

// Result is the outcome of a reconciliation run.
type Result struct {
	Products []catalog.Product
	Listings []ListingOutcome
	Stats    Stats
}

// Engine reconciles candidates against the store.
type Engine struct {
	store   Store
	clock   catalog.Clock
	ids     catalog.IDGenerator
	logger  *zap.Logger
	metrics *metrics.Recorder
}

// New wires an engine.
func New(store Store, clock catalog.Clock, ids catalog.IDGenerator, logger *zap.Logger, rec *metrics.Recorder) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, clock: clock, ids: ids, logger: logger.Named("reconcile"), metrics: rec}
}

type pending struct {
	product   catalog.Product
	candidate catalog.ListingCandidate
}

// Reconcile resolves products for every candidate, upserts their listings,
// appends price samples and, for registrations, subscribes the user.
// Candidates without any dedup key are skipped.
func (e *Engine) Reconcile(ctx context.Context, req Request) (Result, error) {
	var res Result
	groups, order := e.group(req.Candidates, &res.Stats)

	var work []pending
	for _, key := range order {
		members := groups[key]
		product, err := e.resolveProduct(ctx, key, members, &res.Stats)
		if err != nil {
			e.logger.Error("resolve product failed", zap.String("key", key.String()), zap.Error(err))
			res.Stats.Skipped += len(members)
			continue
		}
		res.Products = append(res.Products, product)
		for _, c := range members {
			work = append(work, pending{product: product, candidate: c})
		}
	}

	outcomes, err := e.applyListings(ctx, work, &res.Stats)
	res.Listings = outcomes
	if err != nil {
		return res, err
	}

	if req.Subscriber != nil {
		for _, p := range res.Products {
			if err := e.subscribe(ctx, *req.Subscriber, p, &res.Stats); err != nil {
				e.logger.Error("subscribe failed",
					zap.Int64("user_id", req.Subscriber.UserID),
					zap.Stringer("product_id", p.ID),
					zap.Error(err),
				)
			}
		}
	}
	e.observe(res.Stats)
	return res, nil
}

// ReconcileListings applies candidates known to belong to product. It is the
// batch path used by the price refresh job.
func (e *Engine) ReconcileListings(ctx context.Context, product catalog.Product, candidates []catalog.ListingCandidate) (Result, error) {
	res := Result{Products: []catalog.Product{product}}
	work := make([]pending, 0, len(candidates))
	for _, c := range candidates {
		work = append(work, pending{product: product, candidate: c})
	}
	outcomes, err := e.applyListings(ctx, work, &res.Stats)
	res.Listings = outcomes
	if err == nil {
		e.observe(res.Stats)
	}
	return res, err
}

func (e *Engine) group(candidates []catalog.ListingCandidate, stats *Stats) (map[catalog.ProductKey][]catalog.ListingCandidate, []catalog.ProductKey) {
	groups := make(map[catalog.ProductKey][]catalog.ListingCandidate)
	var order []catalog.ProductKey
	freq := codeFrequency(candidates)
	for _, c := range candidates {
		c = c.WithPrimaryCode(preferredCode(c.UniversalCodes, groups, freq))
		key := c.ProductKey()
		if key.IsZero() {
			err := catalog.Invalid("candidate", "no universal code or catalog number")
			e.logger.Warn("skipping candidate",
				zap.String("site", string(c.Site)),
				zap.String("site_local_id", c.SiteLocalID),
				zap.Error(err),
			)
			stats.Skipped++
			continue
		}
		if c.SiteLocalID == "" {
			e.logger.Warn("skipping candidate without site id", zap.String("site", string(c.Site)))
			stats.Skipped++
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}
	return groups, order
}

// codeFrequency counts how many candidates carry each universal code.
func codeFrequency(candidates []catalog.ListingCandidate) map[string]int {
	freq := make(map[string]int)
	for _, c := range candidates {
		for _, code := range catalog.NewCodeSet(c.UniversalCodes...).Sorted() {
			freq[code]++
		}
	}
	return freq
}

// preferredCode picks the code a multi-code candidate is filed under: a code
// that already names a group, else the code shared by the most candidates,
// else the first one.
func preferredCode(codes []string, groups map[catalog.ProductKey][]catalog.ListingCandidate, freq map[string]int) string {
	best := ""
	for _, code := range codes {
		if _, ok := groups[catalog.NewProductKey(code, "")]; ok {
			return code
		}
		if best == "" || freq[code] > freq[best] {
			best = code
		}
	}
	return best
}

func (e *Engine) resolveProduct(ctx context.Context, key catalog.ProductKey, members []catalog.ListingCandidate, stats *Stats) (catalog.Product, error) {
	id, err := e.ids.NewRawID()
	if err != nil {
		return catalog.Product{}, fmt.Errorf("new product id: %w", err)
	}
	now := e.clock.Now()
	p := catalog.Product{
		ID:            id,
		UniversalCode: key.UniversalCode,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, c := range members {
		p.Name = firstNonEmpty(p.Name, c.Name)
		p.Description = firstNonEmpty(p.Description, c.Description)
		p.ImageURL = firstNonEmpty(p.ImageURL, c.ImageURL)
		p.Manufacturer = firstNonEmpty(p.Manufacturer, c.Manufacturer)
		p.CatalogNumber = firstNonEmpty(p.CatalogNumber, c.CatalogNumber)
	}
	stored, created, err := e.store.UpsertProduct(ctx, p)
	if err != nil {
		return catalog.Product{}, fmt.Errorf("upsert product: %w", err)
	}
	if created {
		stats.ProductsCreated++
	}
	return stored, nil
}

func (s *Stats) add(o Stats) {
	s.ProductsCreated += o.ProductsCreated
	s.ListingsCreated += o.ListingsCreated
	s.ListingsUpdated += o.ListingsUpdated
	s.PriceChanged += o.PriceChanged
	s.SamplesAppended += o.SamplesAppended
	s.TrackedCreated += o.TrackedCreated
	s.Skipped += o.Skipped
}

// applyListings runs the listing writes of one batch in a single
// transaction, so a stored price never moves without its sample.
func (e *Engine) applyListings(ctx context.Context, work []pending, stats *Stats) ([]ListingOutcome, error) {
	if len(work) == 0 {
		return nil, nil
	}
	var (
		outcomes []ListingOutcome
		batch    Stats
	)
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx catalog.ListingStore) error {
		batch = Stats{}
		var err error
		outcomes, err = e.writeListings(ctx, tx, work, &batch)
		return err
	})
	if err != nil {
		return nil, err
	}
	stats.add(batch)
	return outcomes, nil
}

// writeListings is the bulk write path: one bulk read of existing listings,
// one bulk update, one bulk insert and one bulk sample append.
func (e *Engine) writeListings(ctx context.Context, st catalog.ListingStore, work []pending, stats *Stats) ([]ListingOutcome, error) {
	now := e.clock.Now()

	// Collapse duplicates inside the batch; the last candidate wins.
	byKey := make(map[catalog.ListingKey]pending, len(work))
	var keys []catalog.ListingKey
	for _, w := range work {
		key := catalog.ListingKey{ProductID: w.product.ID, Site: w.candidate.Site, SiteLocalID: w.candidate.SiteLocalID}
		if _, seen := byKey[key]; !seen {
			keys = append(keys, key)
		}
		byKey[key] = w
	}

	existing, err := st.FindListings(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("find listings: %w", err)
	}

	var (
		updates  []catalog.Listing
		inserts  []catalog.Listing
		outcomes []ListingOutcome
	)
	for _, key := range keys {
		c := byKey[key].candidate
		if stored, ok := existing[key]; ok {
			o := applyCandidate(stored, c, now)
			updates = append(updates, o.Listing)
			outcomes = append(outcomes, o)
			continue
		}
		id, err := e.ids.NewRawID()
		if err != nil {
			e.logger.Error("new listing id", zap.Error(err))
			stats.Skipped++
			continue
		}
		l := catalog.Listing{ID: id, ProductID: key.ProductID, Site: key.Site, SiteLocalID: key.SiteLocalID, CreatedAt: now}
		setMutable(&l, c)
		l.LastUpdated = &now
		inserts = append(inserts, l)
	}

	if len(updates) > 0 {
		if err := st.UpdateListings(ctx, updates); err != nil {
			return nil, fmt.Errorf("update listings: %w", err)
		}
	}

	if len(inserts) > 0 {
		inserted, conflicts, err := st.InsertListings(ctx, inserts)
		if err != nil {
			return nil, fmt.Errorf("insert listings: %w", err)
		}
		for _, l := range inserted {
			outcomes = append(outcomes, ListingOutcome{Listing: l, IsNew: true})
		}
		if len(conflicts) > 0 {
			resolved, err := e.resolveConflicts(ctx, st, conflicts, byKey, now, stats)
			if err != nil {
				return nil, err
			}
			outcomes = append(outcomes, resolved...)
		}
	}

	var samples []catalog.PriceSample
	for _, o := range outcomes {
		switch {
		case o.IsNew:
			stats.ListingsCreated++
		case o.IsPriceChanged:
			stats.ListingsUpdated++
			stats.PriceChanged++
		default:
			stats.ListingsUpdated++
		}
		if !o.IsNew && !o.IsPriceChanged {
			continue
		}
		id, err := e.ids.NewRawID()
		if err != nil {
			e.logger.Error("new sample id", zap.Error(err))
			continue
		}
		samples = append(samples, catalog.PriceSample{
			ID:             id,
			ListingID:      o.Listing.ID,
			Price:          o.Listing.Price,
			Points:         o.Listing.Points,
			EffectivePrice: o.Listing.EffectivePrice,
			CapturedAt:     now,
		})
	}
	if len(samples) > 0 {
		if err := st.AppendPriceSamples(ctx, samples); err != nil {
			return nil, fmt.Errorf("append price samples: %w", err)
		}
		stats.SamplesAppended += len(samples)
	}
	return outcomes, nil
}

// resolveConflicts re-reads rows that lost an insert race and applies the
// candidate as an update instead. Each row is retried once.
func (e *Engine) resolveConflicts(ctx context.Context, st catalog.ListingStore, conflicts []catalog.Listing, byKey map[catalog.ListingKey]pending, now time.Time, stats *Stats) ([]ListingOutcome, error) {
	keys := make([]catalog.ListingKey, 0, len(conflicts))
	for _, l := range conflicts {
		keys = append(keys, l.Key())
	}
	winners, err := st.FindListings(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("re-read conflicting listings: %w", err)
	}
	var (
		updates  []catalog.Listing
		outcomes []ListingOutcome
	)
	for _, key := range keys {
		stored, ok := winners[key]
		if !ok {
			e.logger.Error("conflicting listing vanished",
				zap.String("site", string(key.Site)),
				zap.String("site_local_id", key.SiteLocalID),
				zap.Error(catalog.ErrPersistenceConflict),
			)
			stats.Skipped++
			continue
		}
		o := applyCandidate(stored, byKey[key].candidate, now)
		updates = append(updates, o.Listing)
		outcomes = append(outcomes, o)
	}
	if len(updates) == 0 {
		return nil, nil
	}
	if err := st.UpdateListings(ctx, updates); err != nil {
		if errors.Is(err, catalog.ErrPersistenceConflict) {
			e.logger.Error("conflict retry failed", zap.Error(err))
			stats.Skipped += len(updates)
			return nil, nil
		}
		return nil, fmt.Errorf("update conflicting listings: %w", err)
	}
	e.logger.Info("resolved listing insert conflicts", zap.Int("count", len(updates)))
	return outcomes, nil
}

// applyCandidate compares against the stored listing before overwriting it.
func applyCandidate(stored catalog.Listing, c catalog.ListingCandidate, now time.Time) ListingOutcome {
	changed := !stored.Price.Equal(c.Price) || !stored.EffectivePrice.Equal(c.EffectivePrice)
	updated := stored
	setMutable(&updated, c)
	if changed {
		updated.LastUpdated = &now
	}
	return ListingOutcome{Listing: updated, IsPriceChanged: changed}
}

func setMutable(l *catalog.Listing, c catalog.ListingCandidate) {
	l.ProductURL = c.ProductURL
	l.AffiliateURL = c.AffiliateURL
	l.Price = c.Price
	l.Points = c.Points
	l.EffectivePrice = c.EffectivePrice
	l.SellerName = c.SellerName
	l.ShippingFee = c.ShippingFee
	l.Condition = c.Condition
	l.Active = true
}

func (e *Engine) subscribe(ctx context.Context, sub Subscription, p catalog.Product, stats *Stats) error {
	id, err := e.ids.NewRawID()
	if err != nil {
		return fmt.Errorf("new tracked id: %w", err)
	}
	thresholdType := sub.ThresholdType
	if thresholdType == "" {
		thresholdType = catalog.ThresholdListPrice
	}
	_, created, err := e.store.EnsureTrackedProduct(ctx, catalog.TrackedProduct{
		ID:                      id,
		UserID:                  sub.UserID,
		ProductID:               p.ID,
		ThresholdPrice:          sub.ThresholdPrice,
		ThresholdType:           thresholdType,
		PercentageDropThreshold: sub.PercentageDrop,
		NotificationsEnabled:    true,
		Memo:                    sub.Memo,
		CreatedAt:               e.clock.Now(),
	})
	if err != nil {
		return err
	}
	if created {
		stats.TrackedCreated++
	}
	return nil
}

func (e *Engine) observe(s Stats) {
	e.metrics.ObserveReconcile(s.ProductsCreated, s.ListingsCreated, s.PriceChanged, s.SamplesAppended)
	e.logger.Debug("reconcile complete",
		zap.Int("products_created", s.ProductsCreated),
		zap.Int("listings_created", s.ListingsCreated),
		zap.Int("listings_updated", s.ListingsUpdated),
		zap.Int("price_changed", s.PriceChanged),
		zap.Int("samples", s.SamplesAppended),
		zap.Int("skipped", s.Skipped),
	)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
