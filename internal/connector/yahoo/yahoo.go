// Package yahoo implements the Yahoo! Shopping v3 itemSearch connector.
package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricealert/internal/catalog"
	"github.com/JakeFAU/pricealert/internal/connector"
)

const resultsPerPage = 50

var itemURLPattern = regexp.MustCompile(`yahoo\.co\.jp/([A-Za-z0-9-]+)/([A-Za-z0-9_-]+)\.html`)

// Config holds Shopping Web Service settings.
type Config struct {
	BaseURL     string
	AppID       string
	AffiliateID string
	MaxPages    int
}

// Connector talks to the Shopping v3 itemSearch API.
type Connector struct {
	cfg    Config
	client *connector.HTTPClient
	logger *zap.Logger
}

// New builds a Yahoo connector.
func New(cfg Config, client *connector.HTTPClient, logger *zap.Logger) *Connector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://shopping.yahooapis.jp/ShoppingWebService/V3/itemSearch"
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{cfg: cfg, client: client, logger: logger.Named("yahoo")}
}

// Site implements connector.Connector.
func (c *Connector) Site() catalog.SiteID { return catalog.SiteYahoo }

// Hosts implements connector.Connector.
func (c *Connector) Hosts() []string {
	return []string{"shopping.yahoo.co.jp", "paypaymall.yahoo.co.jp"}
}

// ItemCode converts a store page URL into the API's "store_item" code.
func ItemCode(rawURL string) string {
	m := itemURLPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return m[1] + "_" + m[2]
}

// SearchByURL implements connector.Connector.
func (c *Connector) SearchByURL(ctx context.Context, rawURL string) (catalog.CodeSet, error) {
	hit, err := c.lookupItem(ctx, rawURL)
	if err != nil || hit == nil {
		return catalog.NewCodeSet(), err
	}
	return catalog.NewCodeSet(hitCodes(hit)...), nil
}

// SearchByCode implements connector.Connector.
func (c *Connector) SearchByCode(ctx context.Context, code string) ([]catalog.ListingCandidate, error) {
	var out []catalog.ListingCandidate
	start := 1
	for page := 1; page <= c.cfg.MaxPages; page++ {
		body, err := c.search(ctx, url.Values{"jan_code": {code}, "start": {strconv.Itoa(start)}})
		if err != nil {
			return nil, err
		}
		hits := connector.List(body, "hits")
		for _, hit := range hits {
			codes, ok := connector.MatchCode(hitCodes(hit), code)
			if !ok {
				continue
			}
			if cand, ok := c.candidate(hit, codes); ok {
				out = append(out, cand)
			}
		}
		start += len(hits)
		if len(hits) == 0 || start > connector.Int(body, "totalResultsAvailable", 0) {
			break
		}
	}
	return out, nil
}

// FetchPrice implements connector.Connector.
func (c *Connector) FetchPrice(ctx context.Context, rawURL string) (*catalog.ListingCandidate, error) {
	hit, err := c.lookupItem(ctx, rawURL)
	if err != nil || hit == nil {
		return nil, err
	}
	cand, ok := c.candidate(hit, hitCodes(hit))
	if !ok {
		return nil, nil
	}
	return &cand, nil
}

// lookupItem searches by the item's own code and keeps the exact hit.
func (c *Connector) lookupItem(ctx context.Context, rawURL string) (any, error) {
	code := ItemCode(rawURL)
	if code == "" {
		c.logger.Info("no item code in url", zap.String("url", rawURL))
		return nil, nil
	}
	_, item, _ := strings.Cut(code, "_")
	body, err := c.search(ctx, url.Values{"query": {item}, "start": {"1"}})
	if err != nil {
		return nil, err
	}
	for _, hit := range connector.List(body, "hits") {
		if connector.String(hit, "code", "") == code {
			return hit, nil
		}
	}
	return nil, nil
}

func (c *Connector) search(ctx context.Context, params url.Values) (any, error) {
	params.Set("appid", c.cfg.AppID)
	params.Set("results", strconv.Itoa(resultsPerPage))
	if c.cfg.AffiliateID != "" {
		params.Set("affiliate_type", "vc")
		params.Set("affiliate_id", c.cfg.AffiliateID)
	}
	endpoint := c.cfg.BaseURL + "?" + params.Encode()

	resp, err := c.client.Do(ctx, "item_search", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}
	if msg := connector.String(resp.Body, "Error.Message", ""); msg != "" {
		return nil, &catalog.ExternalAPIError{
			Site:   catalog.SiteYahoo,
			Op:     "item_search",
			Status: resp.Status,
			Err:    fmt.Errorf("%s", msg),
		}
	}
	return resp.Body, nil
}

func hitCodes(hit any) []string {
	if jan := connector.String(hit, "janCode", ""); jan != "" {
		return []string{jan}
	}
	return catalog.ExtractCodes(connector.String(hit, "description", ""))
}

func (c *Connector) candidate(hit any, codes []string) (catalog.ListingCandidate, bool) {
	code := connector.String(hit, "code", "")
	if code == "" {
		return catalog.ListingCandidate{}, false
	}
	store, item, _ := strings.Cut(code, "_")
	hitURL := connector.String(hit, "url", "")
	productURL := hitURL
	affiliateURL := ""
	if c.cfg.AffiliateID != "" {
		productURL = fmt.Sprintf("https://store.shopping.yahoo.co.jp/%s/%s.html", store, item)
		affiliateURL = hitURL
	}
	condition := connector.String(hit, "condition", "new")
	if condition != "used" {
		condition = "new"
	}

	cand := catalog.ListingCandidate{
		Site:           catalog.SiteYahoo,
		SiteLocalID:    code,
		Name:           connector.String(hit, "name", ""),
		Description:    strings.TrimSpace(connector.String(hit, "description", "")),
		ImageURL:       connector.String(hit, "image.medium", ""),
		Manufacturer:   connector.String(hit, "brand.name", ""),
		UniversalCodes: codes,
		Price:          connector.Decimal(hit, "price"),
		Points:         connector.Decimal(hit, "point.amount"),
		ShippingFee:    decimal.Zero,
		Condition:      condition,
		SellerName:     connector.String(hit, "seller.name", ""),
		ProductURL:     productURL,
		AffiliateURL:   affiliateURL,
	}
	connector.Finalize(&cand)
	return cand, true
}
