package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricealert/internal/catalog"
	"github.com/JakeFAU/pricealert/internal/reconcile"
	"github.com/JakeFAU/pricealert/internal/storage/memory"
)

const testCode = "4901234567894"

type fakeSearcher struct {
	site       catalog.SiteID
	siteErr    error
	urlCodes   catalog.CodeSet
	urlErr     error
	byCode     map[string][]catalog.ListingCandidate
	codeCalls  []string
	hintPassed catalog.SiteID
}

func (f *fakeSearcher) IdentifySite(string) (catalog.SiteID, error) { return f.site, f.siteErr }

func (f *fakeSearcher) SearchByURL(_ context.Context, _ string, hint catalog.SiteID) (catalog.CodeSet, error) {
	f.hintPassed = hint
	return f.urlCodes, f.urlErr
}

func (f *fakeSearcher) SearchByCode(_ context.Context, code string) ([]catalog.ListingCandidate, error) {
	f.codeCalls = append(f.codeCalls, code)
	return f.byCode[code], nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type randomIDs struct{}

func (randomIDs) NewRawID() (uuid.UUID, error) { return uuid.New(), nil }

func listing(site catalog.SiteID, id string, p int64) catalog.ListingCandidate {
	return catalog.ListingCandidate{
		Site: site, SiteLocalID: id, Name: "Kettle",
		UniversalCodes: []string{testCode},
		Price:          decimal.NewFromInt(p), EffectivePrice: decimal.NewFromInt(p),
	}
}

func newService(search Searcher) (*Service, *memory.CatalogStore) {
	store := memory.NewCatalogStore()
	engine := reconcile.New(store, fixedClock{now: time.Now()}, randomIDs{}, nil, nil)
	return New(search, engine, store, nil), store
}

func TestRegister_URLResolvesAndMergesAcrossSites(t *testing.T) {
	t.Parallel()

	search := &fakeSearcher{
		site:     catalog.SiteAmazon,
		urlCodes: catalog.NewCodeSet(testCode),
		byCode: map[string][]catalog.ListingCandidate{testCode: {
			listing(catalog.SiteAmazon, "ABC1234567", 9100),
			listing(catalog.SiteRakuten, "acme:kt", 9800),
			listing(catalog.SiteYahoo, "acme_kt", 9500),
		}},
	}
	svc, store := newService(search)
	threshold := decimal.NewFromInt(9500)

	products, err := svc.Register(context.Background(), Request{
		UserID: 1, URL: "https://siteA.example/dp/ABC1234567", ThresholdPrice: &threshold,
	})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, testCode, products[0].UniversalCode)
	assert.Equal(t, catalog.SiteAmazon, search.hintPassed)
	assert.Equal(t, []string{testCode}, search.codeCalls)

	listings, err := store.ListListings(context.Background(), products[0].ID)
	require.NoError(t, err)
	assert.Len(t, listings, 3)

	tracked, err := store.ListTrackedProductsByUser(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, tracked, 1)
	assert.Equal(t, catalog.ThresholdListPrice, tracked[0].ThresholdType)
}

func TestRegister_ByCode(t *testing.T) {
	t.Parallel()

	search := &fakeSearcher{byCode: map[string][]catalog.ListingCandidate{testCode: {listing(catalog.SiteYahoo, "acme_kt", 9500)}}}
	svc, _ := newService(search)

	products, err := svc.Register(context.Background(), Request{UserID: 2, Code: "490-1234-567894"})
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestRegister_Errors(t *testing.T) {
	t.Parallel()

	pct := decimal.NewFromInt(150)
	testCases := []struct {
		name   string
		search *fakeSearcher
		req    Request
		want   error
	}{
		{"missing user", &fakeSearcher{}, Request{Code: testCode}, catalog.ErrValidation},
		{"both url and code", &fakeSearcher{}, Request{UserID: 1, Code: testCode, URL: "https://x"}, catalog.ErrValidation},
		{"bad code", &fakeSearcher{}, Request{UserID: 1, Code: "4901234567890"}, catalog.ErrValidation},
		{"bad percentage", &fakeSearcher{}, Request{UserID: 1, Code: testCode, PercentageDrop: &pct}, catalog.ErrValidation},
		{"bad threshold type", &fakeSearcher{}, Request{UserID: 1, Code: testCode, ThresholdType: "msrp"}, catalog.ErrValidation},
		{"unsupported site", &fakeSearcher{siteErr: catalog.ErrUnsupportedSite}, Request{UserID: 1, URL: "https://example.com"}, catalog.ErrUnsupportedSite},
		{"url without codes", &fakeSearcher{site: catalog.SiteAmazon, urlErr: catalog.ErrNotFound}, Request{UserID: 1, URL: "https://amazon.co.jp/dp/x"}, catalog.ErrNotFound},
		{"code without listings", &fakeSearcher{}, Request{UserID: 1, Code: testCode}, catalog.ErrNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc, _ := newService(tc.search)
			_, err := svc.Register(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestUnregister_KeepsProduct(t *testing.T) {
	t.Parallel()

	search := &fakeSearcher{byCode: map[string][]catalog.ListingCandidate{testCode: {listing(catalog.SiteAmazon, "ABC1234567", 9100)}}}
	svc, store := newService(search)
	ctx := context.Background()

	products, err := svc.Register(ctx, Request{UserID: 3, Code: testCode})
	require.NoError(t, err)
	_, err = svc.Register(ctx, Request{UserID: 4, Code: testCode})
	require.NoError(t, err)

	require.NoError(t, svc.Unregister(ctx, 3, products[0].ID))
	require.ErrorIs(t, svc.Unregister(ctx, 3, products[0].ID), catalog.ErrNotFound)

	_, err = store.GetProduct(ctx, products[0].ID)
	require.NoError(t, err)
	remaining, err := store.ListTrackedProducts(ctx, false)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, int64(4), remaining[0].UserID)
}
