// Package tracking implements product registration: resolving a URL or
// universal code to listings and subscribing the user.
package tracking

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricealert/internal/catalog"
	"github.com/JakeFAU/pricealert/internal/reconcile"
)

// Searcher is the registry surface registration depends on.
type Searcher interface {
	IdentifySite(rawURL string) (catalog.SiteID, error)
	SearchByURL(ctx context.Context, rawURL string, hint catalog.SiteID) (catalog.CodeSet, error)
	SearchByCode(ctx context.Context, code string) ([]catalog.ListingCandidate, error)
}

// Reconciler persists candidates.
type Reconciler interface {
	Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Result, error)
}

// Request registers a product by URL or by universal code.
type Request struct {
	UserID         int64                 `json:"user_id"`
	URL            string                `json:"url,omitempty"`
	Code           string                `json:"code,omitempty"`
	ThresholdPrice *decimal.Decimal      `json:"threshold_price,omitempty"`
	ThresholdType  catalog.ThresholdType `json:"threshold_type,omitempty"`
	PercentageDrop *decimal.Decimal      `json:"percentage_drop_threshold,omitempty"`
	Memo           string                `json:"memo,omitempty"`
}

// Validate checks the request shape before any marketplace call.
func (r Request) Validate() error {
	if r.UserID <= 0 {
		return catalog.Invalid("user_id", "must be positive")
	}
	hasURL, hasCode := strings.TrimSpace(r.URL) != "", strings.TrimSpace(r.Code) != ""
	if hasURL == hasCode {
		return catalog.Invalid("url/code", "exactly one of url or code is required")
	}
	switch r.ThresholdType {
	case "", catalog.ThresholdListPrice, catalog.ThresholdEffectivePrice:
	default:
		return catalog.Invalid("threshold_type", "must be list_price or effective_price")
	}
	if r.ThresholdPrice != nil && r.ThresholdPrice.IsNegative() {
		return catalog.Invalid("threshold_price", "must not be negative")
	}
	if r.PercentageDrop != nil && (!r.PercentageDrop.IsPositive() || r.PercentageDrop.GreaterThan(decimal.NewFromInt(100))) {
		return catalog.Invalid("percentage_drop_threshold", "must be in (0, 100]")
	}
	return nil
}

// Service runs registrations.
type Service struct {
	search     Searcher
	reconciler Reconciler
	store      catalog.TrackingStore
	logger     *zap.Logger
}

// New wires a Service.
func New(search Searcher, reconciler Reconciler, store catalog.TrackingStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{search: search, reconciler: reconciler, store: store, logger: logger.Named("tracking")}
}

// Register resolves the request to listings across every marketplace,
// reconciles them and subscribes the user to the resulting products.
func (s *Service) Register(ctx context.Context, req Request) ([]catalog.Product, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var codes []string
	if req.URL != "" {
		site, err := s.search.IdentifySite(req.URL)
		if err != nil {
			return nil, err
		}
		found, err := s.search.SearchByURL(ctx, req.URL, site)
		if err != nil {
			return nil, err
		}
		codes = found.Sorted()
	} else {
		code, err := catalog.NormalizeCode(req.Code)
		if err != nil {
			return nil, err
		}
		codes = []string{code}
	}

	candidates := s.collect(ctx, codes)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no listings for %s", catalog.ErrNotFound, strings.Join(codes, ","))
	}

	res, err := s.reconciler.Reconcile(ctx, reconcile.Request{
		Candidates: candidates,
		Subscriber: &reconcile.Subscription{
			UserID:         req.UserID,
			ThresholdPrice: req.ThresholdPrice,
			ThresholdType:  req.ThresholdType,
			PercentageDrop: req.PercentageDrop,
			Memo:           req.Memo,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	s.logger.Info("product registered",
		zap.Int64("user_id", req.UserID),
		zap.Strings("codes", codes),
		zap.Int("candidates", len(candidates)),
		zap.Int("products", len(res.Products)),
	)
	return res.Products, nil
}

// collect searches every code and keeps the first candidate per listing.
func (s *Service) collect(ctx context.Context, codes []string) []catalog.ListingCandidate {
	type listingID struct {
		site catalog.SiteID
		id   string
	}
	seen := make(map[listingID]bool)
	var out []catalog.ListingCandidate
	for _, code := range codes {
		found, err := s.search.SearchByCode(ctx, code)
		if err != nil {
			s.logger.Warn("code search failed", zap.String("code", code), zap.Error(err))
			continue
		}
		for _, c := range found {
			k := listingID{site: c.Site, id: c.SiteLocalID}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, c)
		}
	}
	return out
}

// Unregister removes the user's subscription. The product and its listings
// are kept for other subscribers.
func (s *Service) Unregister(ctx context.Context, userID int64, productID uuid.UUID) error {
	if err := s.store.DeleteTrackedProduct(ctx, userID, productID); err != nil {
		return fmt.Errorf("unregister: %w", err)
	}
	return nil
}
