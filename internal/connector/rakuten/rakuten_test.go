package rakuten

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricealert/internal/catalog"
	"github.com/JakeFAU/pricealert/internal/connector"
	"github.com/JakeFAU/pricealert/internal/policy/retry"
)

const testCode = "4901234567894"

type ichibaFake struct {
	mu      sync.Mutex
	queries []url.Values
	respond func(q url.Values) (int, any)
}

func (f *ichibaFake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	status, body := f.respond(q)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newConnector(t *testing.T, fake *ichibaFake) *Connector {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client := connector.NewHTTPClient(connector.HTTPClientConfig{
		Site:  catalog.SiteRakuten,
		Retry: retry.NewExponentialPolicy(1, time.Millisecond, time.Millisecond),
	})
	return New(Config{BaseURL: srv.URL, ApplicationID: "app-1", AffiliateID: "aff-1", MaxPages: 5}, client, nil)
}

func v2Item(code, caption string, price int) map[string]any {
	return map[string]any{
		"itemCode":        code,
		"itemName":        "Kettle " + code,
		"itemCaption":     caption,
		"itemPrice":       price,
		"itemUrl":         "https://item.rakuten.co.jp/" + code,
		"affiliateUrl":    "https://hb.afl.rakuten.co.jp/" + code,
		"shopName":        "Acme Shop",
		"pointRate":       10,
		"postageFlag":     0,
		"mediumImageUrls": []string{"https://thumbnail.image.rakuten.co.jp/" + code},
	}
}

func TestItemCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "acme:kt-100", ItemCode("https://item.rakuten.co.jp/acme/kt-100/?scid=x"))
	assert.Equal(t, "", ItemCode("https://search.rakuten.co.jp/search/mall/kettle"))
}

func TestSearchByCode_V2ShapeAndPaging(t *testing.T) {
	t.Parallel()

	fake := &ichibaFake{respond: func(q url.Values) (int, any) {
		if q.Get("page") == "1" {
			return http.StatusOK, map[string]any{
				"pageCount": 2,
				"Items": []any{
					v2Item("acme:kt-100", "JAN "+testCode, 10000),
					v2Item("other:x", "JAN 4988601009218", 500),
				},
			}
		}
		return http.StatusOK, map[string]any{"pageCount": 2, "Items": []any{v2Item("acme:kt-101", "no code", 9800)}}
	}}
	c := newConnector(t, fake)

	got, err := c.SearchByCode(context.Background(), testCode)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Len(t, fake.queries, 2)
	assert.Equal(t, "app-1", fake.queries[0].Get("applicationId"))
	assert.Equal(t, "2", fake.queries[0].Get("formatVersion"))
	assert.Equal(t, testCode, fake.queries[0].Get("keyword"))

	first := got[0]
	assert.Equal(t, "acme:kt-100", first.SiteLocalID)
	assert.Equal(t, catalog.SiteRakuten, first.Site)
	assert.True(t, decimal.NewFromInt(1000).Equal(first.Points))
	assert.True(t, decimal.NewFromInt(9000).Equal(first.EffectivePrice))
	assert.Equal(t, "https://thumbnail.image.rakuten.co.jp/acme:kt-100", first.ImageURL)
	assert.Equal(t, []string{testCode}, first.UniversalCodes)

	assert.Equal(t, "acme:kt-101", got[1].SiteLocalID)
	assert.Equal(t, []string{testCode}, got[1].UniversalCodes)
}

func TestSearchByCode_V1Shape(t *testing.T) {
	t.Parallel()

	fake := &ichibaFake{respond: func(url.Values) (int, any) {
		item := v2Item("acme:kt-100", "", 3000)
		item["mediumImageUrls"] = []any{map[string]any{"imageUrl": "https://img/v1"}}
		return http.StatusOK, map[string]any{"pageCount": 1, "Items": []any{map[string]any{"Item": item}}}
	}}
	got, err := newConnector(t, fake).SearchByCode(context.Background(), testCode)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://img/v1", got[0].ImageURL)
	assert.Equal(t, "Acme Shop", got[0].SellerName)
}

func TestSearchByCode_Errors(t *testing.T) {
	t.Parallel()

	notFound := &ichibaFake{respond: func(url.Values) (int, any) {
		return http.StatusNotFound, map[string]any{"error": "not_found", "error_description": "not found"}
	}}
	got, err := newConnector(t, notFound).SearchByCode(context.Background(), testCode)
	require.NoError(t, err)
	assert.Empty(t, got)

	badKey := &ichibaFake{respond: func(url.Values) (int, any) {
		return http.StatusBadRequest, map[string]any{"error": "wrong_parameter", "error_description": "applicationId is not valid"}
	}}
	_, err = newConnector(t, badKey).SearchByCode(context.Background(), testCode)
	require.Error(t, err)
	assert.True(t, errors.Is(err, catalog.ErrExternalAPI))
}

func TestSearchByURL_ExtractsCaptionCodes(t *testing.T) {
	t.Parallel()

	fake := &ichibaFake{respond: func(q url.Values) (int, any) {
		if q.Get("itemCode") != "acme:kt-100" {
			return http.StatusOK, map[string]any{"Items": []any{}}
		}
		return http.StatusOK, map[string]any{"Items": []any{v2Item("acme:kt-100", "JAN:"+testCode+" / 4901234567890", 10000)}}
	}}
	c := newConnector(t, fake)

	codes, err := c.SearchByURL(context.Background(), "https://item.rakuten.co.jp/acme/kt-100/")
	require.NoError(t, err)
	assert.Equal(t, []string{testCode}, codes.Sorted())

	cand, err := c.FetchPrice(context.Background(), "https://item.rakuten.co.jp/acme/kt-100/")
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.True(t, decimal.NewFromInt(10000).Equal(cand.Price))

	cand, err = c.FetchPrice(context.Background(), "https://item.rakuten.co.jp/acme/gone/")
	require.NoError(t, err)
	assert.Nil(t, cand)
}
