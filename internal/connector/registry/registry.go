// Package registry routes URLs to marketplace connectors and fans code
// searches out across every enabled marketplace.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricealert/internal/catalog"
	"github.com/JakeFAU/pricealert/internal/connector"
	"github.com/JakeFAU/pricealert/internal/metrics"
)

// Options tune the registry.
type Options struct {
	// Timeout bounds each connector call. Zero means 30s.
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Recorder
}

// Registry holds the enabled connectors in a stable site order.
type Registry struct {
	connectors []connector.Connector
	bySite     map[catalog.SiteID]connector.Connector
	timeout    time.Duration
	logger     *zap.Logger
	metrics    *metrics.Recorder
	tracer     trace.Tracer
}

// New builds a registry. Later connectors for an already registered site
// are ignored.
func New(conns []connector.Connector, opts Options) *Registry {
	r := &Registry{
		bySite:  make(map[catalog.SiteID]connector.Connector, len(conns)),
		timeout: opts.Timeout,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  otel.Tracer("github.com/JakeFAU/pricealert/internal/connector/registry"),
	}
	if r.timeout <= 0 {
		r.timeout = 30 * time.Second
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.Named("registry")
	for _, c := range conns {
		if _, dup := r.bySite[c.Site()]; dup {
			continue
		}
		r.bySite[c.Site()] = c
		r.connectors = append(r.connectors, c)
	}
	slices.SortFunc(r.connectors, func(a, b connector.Connector) int {
		return strings.Compare(string(a.Site()), string(b.Site()))
	})
	return r
}

// Sites lists the enabled marketplaces.
func (r *Registry) Sites() []catalog.SiteID {
	out := make([]catalog.SiteID, 0, len(r.connectors))
	for _, c := range r.connectors {
		out = append(out, c.Site())
	}
	return out
}

// IdentifySite maps a product URL to its marketplace.
func (r *Registry) IdentifySite(rawURL string) (catalog.SiteID, error) {
	host, err := hostOf(rawURL)
	if err != nil {
		return "", err
	}
	for _, c := range r.connectors {
		for _, suffix := range c.Hosts() {
			if host == suffix || strings.HasSuffix(host, "."+suffix) {
				return c.Site(), nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", catalog.ErrUnsupportedSite, host)
}

func hostOf(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", catalog.Invalid("url", "empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Hostname() == "" {
		return "", catalog.Invalid("url", "not a valid url")
	}
	return strings.ToLower(u.Hostname()), nil
}

// SearchByURL returns the universal codes behind a product URL. hint skips
// site identification when set. Connector failures are logged and reported
// as ErrNotFound.
func (r *Registry) SearchByURL(ctx context.Context, rawURL string, hint catalog.SiteID) (catalog.CodeSet, error) {
	site := hint
	if site == "" {
		var err error
		if site, err = r.IdentifySite(rawURL); err != nil {
			return nil, err
		}
	}
	c, ok := r.bySite[site]
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrUnsupportedSite, site)
	}

	ctx, span := r.tracer.Start(ctx, "registry.SearchByURL", trace.WithAttributes(attribute.String("site", string(site))))
	defer span.End()

	var codes catalog.CodeSet
	err := r.guard(ctx, site, "search_by_url", func(ctx context.Context) error {
		var callErr error
		codes, callErr = c.SearchByURL(ctx, rawURL)
		return callErr
	})
	if err != nil {
		r.logFailure(site, "search_by_url", err)
		return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, rawURL)
	}
	if len(codes) == 0 {
		r.logger.Info("no codes for url", zap.String("site", string(site)), zap.String("url", rawURL))
		return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, rawURL)
	}
	return codes, nil
}

// SearchByCode queries every connector in parallel and concatenates their
// candidates in site order. A failing connector contributes nothing.
func (r *Registry) SearchByCode(ctx context.Context, code string) ([]catalog.ListingCandidate, error) {
	normalized, err := catalog.NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	ctx, span := r.tracer.Start(ctx, "registry.SearchByCode", trace.WithAttributes(attribute.String("code", normalized)))
	defer span.End()

	results := make([][]catalog.ListingCandidate, len(r.connectors))
	var wg sync.WaitGroup
	for i, c := range r.connectors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.guard(ctx, c.Site(), "search_by_code", func(ctx context.Context) error {
				found, callErr := c.SearchByCode(ctx, normalized)
				results[i] = found
				return callErr
			})
			if err != nil {
				results[i] = nil
				r.logFailure(c.Site(), "search_by_code", err)
			}
		}()
	}
	wg.Wait()

	var out []catalog.ListingCandidate
	counts := make([]zap.Field, 0, len(r.connectors)+1)
	for i, c := range r.connectors {
		out = append(out, results[i]...)
		counts = append(counts, zap.Int(string(c.Site()), len(results[i])))
		r.metrics.ObserveCandidates(string(c.Site()), len(results[i]))
	}
	counts = append(counts, zap.String("code", normalized), zap.Int("total", len(out)))
	r.logger.Info("code search complete", counts...)
	return out, nil
}

// FetchPrice re-reads one listing through its marketplace. Any failure
// yields nil.
func (r *Registry) FetchPrice(ctx context.Context, rawURL string) *catalog.ListingCandidate {
	site, err := r.IdentifySite(rawURL)
	if err != nil {
		r.logger.Debug("fetch price: unknown site", zap.String("url", rawURL), zap.Error(err))
		return nil
	}
	c := r.bySite[site]
	var cand *catalog.ListingCandidate
	err = r.guard(ctx, site, "fetch_price", func(ctx context.Context) error {
		var callErr error
		cand, callErr = c.FetchPrice(ctx, rawURL)
		return callErr
	})
	if err != nil {
		r.logFailure(site, "fetch_price", err)
		return nil
	}
	return cand
}

// guard runs fn under the per-connector timeout and turns panics into errors.
func (r *Registry) guard(ctx context.Context, site catalog.SiteID, op string, fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = &catalog.ExternalAPIError{Site: site, Op: op, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	return fn(ctx)
}

func (r *Registry) logFailure(site catalog.SiteID, op string, err error) {
	fields := []zap.Field{zap.String("site", string(site)), zap.String("op", op), zap.Error(err)}
	if errors.Is(err, catalog.ErrExternalAPI) {
		r.logger.Warn("connector call failed", fields...)
		return
	}
	r.logger.Error("connector call failed", fields...)
}
