package refresh

import (
	"context"
	"sync"
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
	mu      sync.Mutex
	byCode  map[string][]catalog.ListingCandidate
	byURL   map[string]*catalog.ListingCandidate
	fetched []string
}

func (f *fakeSearcher) SearchByCode(_ context.Context, code string) ([]catalog.ListingCandidate, error) {
	return f.byCode[code], nil
}

func (f *fakeSearcher) FetchPrice(_ context.Context, rawURL string) *catalog.ListingCandidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, rawURL)
	c, ok := f.byURL[rawURL]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type randomIDs struct{}

func (randomIDs) NewRawID() (uuid.UUID, error) { return uuid.New(), nil }

func cand(site catalog.SiteID, id string, p int64, code string) catalog.ListingCandidate {
	c := catalog.ListingCandidate{
		Site: site, SiteLocalID: id, Name: "Kettle", CatalogNumber: "KT-100",
		Price: decimal.NewFromInt(p), EffectivePrice: decimal.NewFromInt(p),
		ProductURL: "https://shop.test/" + id,
	}
	if code != "" {
		c.UniversalCodes = []string{code}
	}
	return c
}

func TestRun_RefreshesByCodeAndByURL(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	engine := reconcile.New(store, fixedClock{now: time.Now()}, randomIDs{}, nil, nil)
	ctx := context.Background()

	_, err := engine.Reconcile(ctx, reconcile.Request{Candidates: []catalog.ListingCandidate{
		cand(catalog.SiteAmazon, "B00TEST123", 9100, testCode),
		cand(catalog.SiteYahoo, "acme_kt", 5000, ""),
	}})
	require.NoError(t, err)

	fresh := cand(catalog.SiteYahoo, "ignored", 4500, "")
	search := &fakeSearcher{
		byCode: map[string][]catalog.ListingCandidate{testCode: {
			cand(catalog.SiteAmazon, "B00TEST123", 8800, testCode),
			cand(catalog.SiteRakuten, "acme:kt", 9000, testCode),
		}},
		byURL: map[string]*catalog.ListingCandidate{"https://shop.test/acme_kt": &fresh},
	}
	job := New(search, engine, store, store, nil)

	stats, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Products)
	assert.Equal(t, 2, stats.Refreshed)
	assert.Equal(t, 1, stats.ListingsCreated)
	assert.Equal(t, 2, stats.PriceChanged)
	assert.Equal(t, 3, stats.SamplesAppended)
	assert.Equal(t, []string{"https://shop.test/acme_kt"}, search.fetched)

	products, err := store.ListProducts(ctx)
	require.NoError(t, err)
	for _, p := range products {
		listings, err := store.ListListings(ctx, p.ID)
		require.NoError(t, err)
		if p.UniversalCode == "" {
			require.Len(t, listings, 1)
			assert.Equal(t, "acme_kt", listings[0].SiteLocalID)
			assert.True(t, decimal.NewFromInt(4500).Equal(listings[0].Price))
		}
	}
}

func TestRun_ProductWithoutResultsIsCounted(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	engine := reconcile.New(store, fixedClock{now: time.Now()}, randomIDs{}, nil, nil)
	_, err := engine.Reconcile(context.Background(), reconcile.Request{Candidates: []catalog.ListingCandidate{
		cand(catalog.SiteAmazon, "B00TEST123", 9100, testCode),
	}})
	require.NoError(t, err)

	stats, err := New(&fakeSearcher{}, engine, store, store, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NotFound)
	assert.Zero(t, stats.Refreshed)
}
