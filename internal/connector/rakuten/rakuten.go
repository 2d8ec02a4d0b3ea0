// Package rakuten implements the Rakuten Ichiba Item Search connector.
package rakuten

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

const hitsPerPage = 30

var itemURLPattern = regexp.MustCompile(`item\.rakuten\.co\.jp/([^/?#]+)/([^/?#]+)`)

// Config holds Ichiba API settings.
type Config struct {
	BaseURL       string
	ApplicationID string
	AffiliateID   string
	MaxPages      int
}

// Connector talks to the Ichiba Item Search API.
type Connector struct {
	cfg    Config
	client *connector.HTTPClient
	logger *zap.Logger
}

// New builds a Rakuten connector.
func New(cfg Config, client *connector.HTTPClient, logger *zap.Logger) *Connector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://app.rakuten.co.jp/services/api/IchibaItem/Search/20220601"
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{cfg: cfg, client: client, logger: logger.Named("rakuten")}
}

// Site implements connector.Connector.
func (c *Connector) Site() catalog.SiteID { return catalog.SiteRakuten }

// Hosts implements connector.Connector.
func (c *Connector) Hosts() []string { return []string{"rakuten.co.jp"} }

// ItemCode converts an item page URL into the API's "shop:item" code.
func ItemCode(rawURL string) string {
	m := itemURLPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return m[1] + ":" + m[2]
}

// SearchByURL implements connector.Connector.
func (c *Connector) SearchByURL(ctx context.Context, rawURL string) (catalog.CodeSet, error) {
	item, err := c.lookupItem(ctx, rawURL)
	if err != nil || item == nil {
		return catalog.NewCodeSet(), err
	}
	return catalog.NewCodeSet(itemCodes(item)...), nil
}

// SearchByCode implements connector.Connector.
func (c *Connector) SearchByCode(ctx context.Context, code string) ([]catalog.ListingCandidate, error) {
	var out []catalog.ListingCandidate
	for page := 1; page <= c.cfg.MaxPages; page++ {
		body, err := c.search(ctx, url.Values{"keyword": {code}, "page": {strconv.Itoa(page)}})
		if err != nil {
			return nil, err
		}
		for _, item := range items(body) {
			codes, ok := connector.MatchCode(itemCodes(item), code)
			if !ok {
				continue
			}
			if cand, ok := c.candidate(item, codes); ok {
				out = append(out, cand)
			}
		}
		if page >= connector.Int(body, "pageCount", 0) {
			break
		}
	}
	return out, nil
}

// FetchPrice implements connector.Connector.
func (c *Connector) FetchPrice(ctx context.Context, rawURL string) (*catalog.ListingCandidate, error) {
	item, err := c.lookupItem(ctx, rawURL)
	if err != nil || item == nil {
		return nil, err
	}
	cand, ok := c.candidate(item, itemCodes(item))
	if !ok {
		return nil, nil
	}
	return &cand, nil
}

func (c *Connector) lookupItem(ctx context.Context, rawURL string) (any, error) {
	code := ItemCode(rawURL)
	if code == "" {
		c.logger.Info("no item code in url", zap.String("url", rawURL))
		return nil, nil
	}
	body, err := c.search(ctx, url.Values{"itemCode": {code}})
	if err != nil {
		return nil, err
	}
	found := items(body)
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func (c *Connector) search(ctx context.Context, params url.Values) (any, error) {
	params.Set("applicationId", c.cfg.ApplicationID)
	params.Set("format", "json")
	params.Set("formatVersion", "2")
	params.Set("hits", strconv.Itoa(hitsPerPage))
	if c.cfg.AffiliateID != "" {
		params.Set("affiliateId", c.cfg.AffiliateID)
	}
	endpoint := c.cfg.BaseURL + "?" + params.Encode()

	resp, err := c.client.Do(ctx, "item_search", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if resp != nil && connector.String(resp.Body, "error", "") == "not_found" {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if apiErr := connector.String(resp.Body, "error", ""); apiErr != "" {
		return nil, &catalog.ExternalAPIError{
			Site:   catalog.SiteRakuten,
			Op:     "item_search",
			Status: resp.Status,
			Err:    fmt.Errorf("%s: %s", apiErr, connector.String(resp.Body, "error_description", "")),
		}
	}
	return resp.Body, nil
}

// items accepts both the formatVersion 1 ("Items[].Item") and 2 ("Items[]") shapes.
func items(body any) []any {
	raw := connector.List(body, "Items")
	out := make([]any, 0, len(raw))
	for _, entry := range raw {
		if wrapped, ok := connector.Lookup(entry, "Item"); ok {
			entry = wrapped
		}
		out = append(out, entry)
	}
	return out
}

func itemCodes(item any) []string {
	text := connector.String(item, "itemName", "") + "\n" + connector.String(item, "itemCaption", "")
	return catalog.ExtractCodes(text)
}

func (c *Connector) candidate(item any, codes []string) (catalog.ListingCandidate, bool) {
	itemCode := connector.String(item, "itemCode", "")
	if itemCode == "" {
		return catalog.ListingCandidate{}, false
	}
	image, _ := connector.First(item, "mediumImageUrls.0.imageUrl", "mediumImageUrls.0")
	imageURL, _ := image.(string)

	price := connector.Decimal(item, "itemPrice")
	rate := connector.Decimal(item, "pointRate")
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	points := price.Mul(rate).Div(decimal.NewFromInt(100)).Floor()

	productURL := connector.String(item, "itemUrl", "")
	affiliateURL := connector.String(item, "affiliateUrl", "")
	if affiliateURL == productURL {
		affiliateURL = ""
	}

	cand := catalog.ListingCandidate{
		Site:           catalog.SiteRakuten,
		SiteLocalID:    itemCode,
		Name:           connector.String(item, "itemName", ""),
		Description:    strings.TrimSpace(connector.String(item, "itemCaption", "")),
		ImageURL:       imageURL,
		UniversalCodes: codes,
		Price:          price,
		Points:         points,
		ShippingFee:    decimal.Zero,
		Condition:      "new",
		SellerName:     connector.String(item, "shopName", ""),
		ProductURL:     productURL,
		AffiliateURL:   affiliateURL,
	}
	connector.Finalize(&cand)
	return cand, true
}
