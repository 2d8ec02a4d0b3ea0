// Package amazon implements the Product Advertising API 5 connector.
package amazon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricealert/internal/catalog"
	"github.com/JakeFAU/pricealert/internal/connector"
)

const (
	itemCount   = 10
	maxItemPage = 10
	targetBase  = "com.amazon.paapi5.v1.ProductAdvertisingAPIv1."
)

var asinPattern = regexp.MustCompile(`/(?:dp|gp/product)/([A-Z0-9]{10})`)

var resources = []string{
	"ItemInfo.Title",
	"ItemInfo.Features",
	"ItemInfo.ByLineInfo",
	"ItemInfo.ManufactureInfo",
	"ItemInfo.ExternalIds",
	"Images.Primary.Large",
	"Offers.Listings.Price",
	"Offers.Listings.LoyaltyPoints",
	"Offers.Listings.MerchantInfo",
	"Offers.Listings.Condition",
	"Offers.Listings.DeliveryInfo.IsFreeShippingEligible",
}

// Config holds PA-API credentials and endpoint settings.
type Config struct {
	BaseURL     string
	AccessKey   string
	SecretKey   string
	PartnerTag  string
	Region      string
	Marketplace string
	MaxPages    int
}

// Connector talks to PA-API 5.
type Connector struct {
	cfg    Config
	client *connector.HTTPClient
	signer signer
	logger *zap.Logger
	now    func() time.Time
}

// New builds an Amazon connector.
func New(cfg Config, client *connector.HTTPClient, logger *zap.Logger) *Connector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://webservices.amazon.co.jp"
	}
	if cfg.Region == "" {
		cfg.Region = "us-west-2"
	}
	if cfg.Marketplace == "" {
		cfg.Marketplace = "www.amazon.co.jp"
	}
	if cfg.MaxPages <= 0 || cfg.MaxPages > maxItemPage {
		cfg.MaxPages = maxItemPage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{
		cfg:    cfg,
		client: client,
		signer: signer{accessKey: cfg.AccessKey, secretKey: cfg.SecretKey, region: cfg.Region},
		logger: logger.Named("amazon"),
		now:    time.Now,
	}
}

// Site implements connector.Connector.
func (c *Connector) Site() catalog.SiteID { return catalog.SiteAmazon }

// Hosts implements connector.Connector.
func (c *Connector) Hosts() []string {
	return []string{"amazon.co.jp", "amzn.asia", "amzn.to"}
}

// ExtractASIN returns the ASIN embedded in a product URL, or "".
func ExtractASIN(rawURL string) string {
	m := asinPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// SearchByURL implements connector.Connector.
func (c *Connector) SearchByURL(ctx context.Context, rawURL string) (catalog.CodeSet, error) {
	item, err := c.getItem(ctx, rawURL)
	if err != nil || item == nil {
		return catalog.NewCodeSet(), err
	}
	return catalog.NewCodeSet(connector.Strings(item, "ItemInfo.ExternalIds.EANs.DisplayValues")...), nil
}

// SearchByCode implements connector.Connector.
func (c *Connector) SearchByCode(ctx context.Context, code string) ([]catalog.ListingCandidate, error) {
	var out []catalog.ListingCandidate
	for page := 1; page <= c.cfg.MaxPages; page++ {
		payload := map[string]any{
			"Keywords":    code,
			"SearchIndex": "All",
			"ItemCount":   itemCount,
			"ItemPage":    page,
			"Resources":   resources,
		}
		body, err := c.call(ctx, "SearchItems", "/paapi5/searchitems", payload)
		if err != nil {
			return nil, err
		}
		if body == nil {
			break
		}
		items := connector.List(body, "SearchResult.Items")
		for _, item := range items {
			cand, ok := c.candidate(item, code)
			if ok {
				out = append(out, cand)
			}
		}
		total := connector.Int(body, "SearchResult.TotalResultCount", 0)
		if len(items) < itemCount || page*itemCount >= total {
			break
		}
	}
	return out, nil
}

// FetchPrice implements connector.Connector.
func (c *Connector) FetchPrice(ctx context.Context, rawURL string) (*catalog.ListingCandidate, error) {
	item, err := c.getItem(ctx, rawURL)
	if err != nil || item == nil {
		return nil, err
	}
	cand, ok := c.candidate(item, "")
	if !ok {
		return nil, nil
	}
	return &cand, nil
}

func (c *Connector) getItem(ctx context.Context, rawURL string) (any, error) {
	asin := ExtractASIN(rawURL)
	if asin == "" {
		c.logger.Info("no ASIN in url", zap.String("url", rawURL))
		return nil, nil
	}
	payload := map[string]any{
		"ItemIds":    []string{asin},
		"ItemIdType": "ASIN",
		"Resources":  resources,
	}
	body, err := c.call(ctx, "GetItems", "/paapi5/getitems", payload)
	if err != nil || body == nil {
		return nil, err
	}
	item, ok := connector.Lookup(body, "ItemsResult.Items.0")
	if !ok {
		return nil, nil
	}
	return item, nil
}

// call posts a signed PA-API operation. A nil body with a nil error means
// the API answered NoResults.
func (c *Connector) call(ctx context.Context, operation, path string, payload map[string]any) (any, error) {
	payload["PartnerTag"] = c.cfg.PartnerTag
	payload["PartnerType"] = "Associates"
	payload["Marketplace"] = c.cfg.Marketplace
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", operation, err)
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path

	resp, err := c.client.Do(ctx, operation, func(ctx context.Context) (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header.Set("Content-Encoding", "amz-1.0")
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		req.Header.Set("X-Amz-Target", targetBase+operation)
		c.signer.sign(req, data, c.now())
		return req, nil
	})
	if resp != nil && hasErrorCode(resp.Body, "NoResults") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if codes := errorCodes(resp.Body); len(codes) > 0 {
		return nil, &catalog.ExternalAPIError{
			Site:   catalog.SiteAmazon,
			Op:     operation,
			Status: resp.Status,
			Err:    errors.New(strings.Join(codes, ",")),
		}
	}
	return resp.Body, nil
}

func errorCodes(body any) []string {
	var codes []string
	for i := range connector.List(body, "Errors") {
		if code := connector.String(body, fmt.Sprintf("Errors.%d.Code", i), ""); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

func hasErrorCode(body any, code string) bool {
	return slices.Contains(errorCodes(body), code)
}

// candidate normalizes one PA-API item. When wantCode is set, items whose
// EAN list is known and lacks the code are dropped.
func (c *Connector) candidate(item any, wantCode string) (catalog.ListingCandidate, bool) {
	asin := connector.String(item, "ASIN", "")
	if asin == "" {
		return catalog.ListingCandidate{}, false
	}
	codes, ok := connector.MatchCode(connector.Strings(item, "ItemInfo.ExternalIds.EANs.DisplayValues"), wantCode)
	if !ok {
		return catalog.ListingCandidate{}, false
	}

	manufacturer := connector.String(item, "ItemInfo.ByLineInfo.Manufacturer.DisplayValue", "")
	if manufacturer == "" {
		manufacturer = connector.String(item, "ItemInfo.ByLineInfo.Brand.DisplayValue", "")
	}
	model := connector.String(item, "ItemInfo.ManufactureInfo.Model.DisplayValue", "")
	if model == "" {
		model = connector.String(item, "ItemInfo.ManufactureInfo.ItemPartNumber.DisplayValue", "")
	}
	productURL := connector.String(item, "DetailPageURL", "")
	if productURL == "" {
		productURL = "https://www.amazon.co.jp/dp/" + asin
	}

	cand := catalog.ListingCandidate{
		Site:           catalog.SiteAmazon,
		SiteLocalID:    asin,
		Name:           connector.String(item, "ItemInfo.Title.DisplayValue", ""),
		Description:    strings.Join(connector.Strings(item, "ItemInfo.Features.DisplayValues"), "\n"),
		ImageURL:       connector.String(item, "Images.Primary.Large.URL", ""),
		Manufacturer:   manufacturer,
		CatalogNumber:  model,
		UniversalCodes: codes,
		Price:          connector.Decimal(item, "Offers.Listings.0.Price.Amount"),
		Points:         connector.Decimal(item, "Offers.Listings.0.LoyaltyPoints.Points"),
		Condition:      strings.ToLower(connector.String(item, "Offers.Listings.0.Condition.Value", "new")),
		SellerName:     connector.String(item, "Offers.Listings.0.MerchantInfo.Name", ""),
		ProductURL:     productURL,
		AffiliateURL:   affiliateURL(asin, c.cfg.PartnerTag),
	}
	connector.Finalize(&cand)
	return cand, true
}

func affiliateURL(asin, tag string) string {
	return fmt.Sprintf("https://www.amazon.co.jp/dp/%s/?tag=%s", asin, url.QueryEscape(tag))
}
