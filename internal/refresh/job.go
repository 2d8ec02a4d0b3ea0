// Package refresh re-reads marketplace prices for every known product.
package refresh

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricealert/internal/catalog"
	"github.com/JakeFAU/pricealert/internal/reconcile"
)

// Searcher is the registry surface the job uses.
type Searcher interface {
	SearchByCode(ctx context.Context, code string) ([]catalog.ListingCandidate, error)
	FetchPrice(ctx context.Context, rawURL string) *catalog.ListingCandidate
}

// Reconciler applies fresh candidates to a known product.
type Reconciler interface {
	ReconcileListings(ctx context.Context, product catalog.Product, candidates []catalog.ListingCandidate) (reconcile.Result, error)
}

// Stats summarizes one refresh run.
type Stats struct {
	Products        int
	Refreshed       int
	Failed          int
	NotFound        int
	ListingsCreated int
	PriceChanged    int
	SamplesAppended int
}

// Job is the price refresh job body.
type Job struct {
	search     Searcher
	reconciler Reconciler
	store      catalog.ProductStore
	listings   catalog.ListingStore
	logger     *zap.Logger
}

// New wires a refresh job.
func New(search Searcher, reconciler Reconciler, products catalog.ProductStore, listings catalog.ListingStore, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{search: search, reconciler: reconciler, store: products, listings: listings, logger: logger.Named("refresh")}
}

// Run refreshes every product. Products with a universal code are searched
// across all marketplaces; the rest have each active listing re-read by URL.
// A failing product is logged and skipped; only a failure to list products
// fails the run.
func (j *Job) Run(ctx context.Context) (Stats, error) {
	products, err := j.store.ListProducts(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list products: %w", err)
	}
	stats := Stats{Products: len(products)}
	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		candidates, err := j.candidatesFor(ctx, p)
		if err != nil {
			stats.Failed++
			j.logger.Error("refresh failed", zap.Stringer("product_id", p.ID), zap.Error(err))
			continue
		}
		if len(candidates) == 0 {
			stats.NotFound++
			j.logger.Info("no listings found", zap.Stringer("product_id", p.ID), zap.String("code", p.UniversalCode))
			continue
		}
		res, err := j.reconciler.ReconcileListings(ctx, p, candidates)
		if err != nil {
			stats.Failed++
			j.logger.Error("reconcile failed", zap.Stringer("product_id", p.ID), zap.Error(err))
			continue
		}
		stats.Refreshed++
		stats.ListingsCreated += res.Stats.ListingsCreated
		stats.PriceChanged += res.Stats.PriceChanged
		stats.SamplesAppended += res.Stats.SamplesAppended
		j.logger.Debug("product refreshed",
			zap.Stringer("product_id", p.ID),
			zap.Int("listings_created", res.Stats.ListingsCreated),
			zap.Int("price_changed", res.Stats.PriceChanged),
		)
	}
	j.logger.Info("price refresh complete",
		zap.Int("products", stats.Products),
		zap.Int("refreshed", stats.Refreshed),
		zap.Int("not_found", stats.NotFound),
		zap.Int("failed", stats.Failed),
		zap.Int("samples", stats.SamplesAppended),
	)
	return stats, nil
}

func (j *Job) candidatesFor(ctx context.Context, p catalog.Product) ([]catalog.ListingCandidate, error) {
	if p.UniversalCode != "" {
		return j.search.SearchByCode(ctx, p.UniversalCode)
	}
	listings, err := j.listings.ListListings(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	var out []catalog.ListingCandidate
	for _, l := range listings {
		if !l.Active || l.ProductURL == "" {
			continue
		}
		c := j.search.FetchPrice(ctx, l.ProductURL)
		if c == nil {
			continue
		}
		// The URL identifies the listing; keep its identity stable.
		c.Site = l.Site
		c.SiteLocalID = l.SiteLocalID
		out = append(out, *c)
	}
	return out, nil
}
