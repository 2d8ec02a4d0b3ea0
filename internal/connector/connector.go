// Package connector defines the marketplace connector contract and the
// plumbing shared by every concrete connector.
package connector

import (
	"context"

	"github.com/JakeFAU/pricealert/internal/catalog"
)

// Connector normalizes one marketplace's search API into ListingCandidates.
//
// Implementations return an empty result with a nil error when the marketplace
// has no match, and a *catalog.ExternalAPIError for transport, auth, quota or
// malformed-response failures.
type Connector interface {
	Site() catalog.SiteID
	// Hosts lists the host suffixes the marketplace serves pages from.
	Hosts() []string
	// SearchByURL returns the universal codes of the product behind rawURL.
	SearchByURL(ctx context.Context, rawURL string) (catalog.CodeSet, error)
	// SearchByCode returns every listing matching a universal code.
	SearchByCode(ctx context.Context, code string) ([]catalog.ListingCandidate, error)
	// FetchPrice re-reads the single listing behind rawURL; nil when gone.
	FetchPrice(ctx context.Context, rawURL string) (*catalog.ListingCandidate, error)
}

// Finalize fills the derived fields every connector computes the same way.
func Finalize(c *catalog.ListingCandidate) {
	c.EffectivePrice = catalog.EffectivePriceOf(c.Price, c.Points)
	codes := make([]string, 0, len(c.UniversalCodes))
	seen := make(map[string]bool, len(c.UniversalCodes))
	for _, code := range c.UniversalCodes {
		if code == "" || seen[code] || !catalog.IsValidCode(code) {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	c.UniversalCodes = codes
}

// MatchCode filters a code search hit. Hits that expose no codes are assumed
// to match and get the searched code; hits that expose codes must include it.
// The searched code always comes first so it becomes the product key.
func MatchCode(codes []string, want string) ([]string, bool) {
	if want == "" {
		return codes, true
	}
	if len(codes) == 0 {
		return []string{want}, true
	}
	for _, c := range codes {
		if c == want {
			return catalog.PromoteCode(codes, want), true
		}
	}
	return nil, false
}
