package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricealert/internal/catalog"
	"github.com/JakeFAU/pricealert/internal/metrics"
	memqueue "github.com/JakeFAU/pricealert/internal/queue/memory"
	"github.com/JakeFAU/pricealert/internal/scheduler"
	"github.com/JakeFAU/pricealert/internal/storage/memory"
	"github.com/JakeFAU/pricealert/internal/tracking"
)

func TestServer_RunPipelineEnqueuesAllJobs(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(http.MethodPost, "/v1/pipeline/run", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body struct {
		Runs []runDTO `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 3)
	assert.Equal(t, scheduler.JobPriceRefresh, body.Runs[0].Job)
	assert.Equal(t, "manual", body.Runs[0].Trigger)
	assert.Equal(t, 3, env.queue.Len())
}

func TestServer_RunJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(http.MethodPost, "/v1/jobs/alert_evaluation/run", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"scheduled"`)

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scheduler.JobAlertEvaluation, item.Job)

	rec = env.do(http.MethodPost, "/v1/jobs/reindex/run", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetRun(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	run, err := env.scheduler.Enqueue(context.Background(), scheduler.JobPriceRefresh, "manual")
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/v1/runs/"+run.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), run.ID.String())

	rec = env.do(http.MethodGet, "/v1/runs/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/v1/runs/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListRunsFilters(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	_, err := env.scheduler.TriggerNow(context.Background())
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/v1/runs?job=notification_dispatch", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []runDTO `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, scheduler.JobNotificationDispatch, body.Runs[0].Job)

	for _, path := range []string{"/v1/runs?state=exploded", "/v1/runs?limit=0", "/v1/runs?offset=-1"} {
		assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, path, nil).Code, path)
	}
}

func TestServer_RegisterTracked(t *testing.T) {
	t.Parallel()

	product := catalog.Product{ID: uuid.New(), Name: "Kettle", UniversalCode: "4901234567894"}
	testCases := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"success", `{"user_id":1,"code":"4901234567894","threshold_price":"9000"}`, nil, http.StatusCreated},
		{"invalid json", `{`, nil, http.StatusBadRequest},
		{"unsupported site", `{"user_id":1,"url":"https://example.com/x"}`, fmt.Errorf("identify: %w", catalog.ErrUnsupportedSite), http.StatusBadRequest},
		{"not found", `{"user_id":1,"code":"4901234567894"}`, catalog.ErrNotFound, http.StatusNotFound},
		{"marketplace down", `{"user_id":1,"code":"4901234567894"}`, &catalog.ExternalAPIError{Site: catalog.SiteYahoo, Op: "search", Status: 503, Err: errors.New("unavailable")}, http.StatusBadGateway},
		{"store down", `{"user_id":1,"code":"4901234567894"}`, errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			reg := &fakeRegistrar{products: []catalog.Product{product}, err: tc.err}
			env := newTestEnv(t, Options{Registrar: reg})
			rec := env.do(http.MethodPost, "/v1/tracked", bytes.NewBufferString(tc.body))
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.status == http.StatusCreated {
				require.Contains(t, rec.Body.String(), product.ID.String())
				require.NotNil(t, reg.got.ThresholdPrice)
				assert.True(t, decimal.NewFromInt(9000).Equal(*reg.got.ThresholdPrice))
			}
		})
	}
}

func TestServer_UnregisterTracked(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistrar{}
	env := newTestEnv(t, Options{Registrar: reg})
	productID := uuid.New()

	rec := env.do(http.MethodDelete, "/v1/users/7/tracked/"+productID.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, productID, reg.removed)

	rec = env.do(http.MethodDelete, "/v1/users/abc/tracked/"+productID.String(), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SaveSettings(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(http.MethodPut, "/v1/users/3/settings", bytes.NewBufferString(`{"email":"a@example.com","frequency":"weekly"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	subs, err := env.catalog.ListSubscribers(context.Background(), catalog.FrequencyWeekly)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, int64(3), subs[0].UserID)
	assert.True(t, subs[0].EmailEnabled)

	rec = env.do(http.MethodPut, "/v1/users/3/settings", bytes.NewBufferString(`{"email":"a@example.com","frequency":"hourly"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ProductHistory(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	product, _, err := env.catalog.UpsertProduct(ctx, catalog.Product{ID: uuid.New(), Name: "Kettle", UniversalCode: "4901234567894", CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	listing := catalog.Listing{
		ID: uuid.New(), ProductID: product.ID, Site: catalog.SiteRakuten, SiteLocalID: "shop:kettle",
		ProductURL: "https://item.rakuten.co.jp/shop/kettle/", Price: decimal.NewFromInt(9800),
		EffectivePrice: decimal.NewFromInt(9702), Active: true, CreatedAt: now,
	}
	_, _, err = env.catalog.InsertListings(ctx, []catalog.Listing{listing})
	require.NoError(t, err)
	require.NoError(t, env.catalog.AppendPriceSamples(ctx, []catalog.PriceSample{{
		ID: uuid.New(), ListingID: listing.ID, Price: listing.Price, EffectivePrice: listing.EffectivePrice, CapturedAt: now,
	}}))

	rec := env.do(http.MethodGet, "/v1/products/"+product.ID.String()+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Product  catalog.Product  `json:"product"`
		Listings []listingHistory `json:"listings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Kettle", body.Product.Name)
	require.Len(t, body.Listings, 1)
	require.Len(t, body.Listings[0].Samples, 1)
	assert.True(t, decimal.NewFromInt(9800).Equal(body.Listings[0].Samples[0].Price))

	rec = env.do(http.MethodGet, "/v1/products/"+uuid.NewString()+"/history", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{APIKey: "secret"})

	require.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/v1/runs", nil).Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/runs?api_key=secret", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", nil).Code)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	ok := newTestEnv(t, Options{})
	require.Equal(t, http.StatusOK, ok.do(http.MethodGet, "/readyz", nil).Code)

	down := newTestEnv(t, Options{Ready: func(context.Context) error { return errors.New("db down") }})
	require.Equal(t, http.StatusServiceUnavailable, down.do(http.MethodGet, "/readyz", nil).Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	rec := metrics.New(prometheus.NewRegistry())
	env := newTestEnv(t, Options{Metrics: rec})
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", nil).Code)

	res := env.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `http_requests_total{code="200",method="GET"}`)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := newTestEnv(t, Options{}).do(http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type randomIDs struct{}

func (randomIDs) NewRawID() (uuid.UUID, error) { return uuid.New(), nil }

type fakeRegistrar struct {
	products []catalog.Product
	err      error
	got      tracking.Request
	removed  uuid.UUID
}

func (f *fakeRegistrar) Register(_ context.Context, req tracking.Request) ([]catalog.Product, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.products, nil
}

func (f *fakeRegistrar) Unregister(_ context.Context, _ int64, productID uuid.UUID) error {
	f.removed = productID
	return f.err
}

type testEnv struct {
	server    *Server
	queue     *memqueue.Queue
	runs      *memory.RunStore
	catalog   *memory.CatalogStore
	scheduler *scheduler.Scheduler
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	q := memqueue.NewQueue(10)
	runs := memory.NewRunStore()
	cat := memory.NewCatalogStore()
	sched, err := scheduler.New(scheduler.Config{}, q, runs, &fakeClock{now: time.Unix(100, 0).UTC()}, randomIDs{}, nil, nil)
	require.NoError(t, err)

	opts.Scheduler = sched
	opts.Runs = runs
	opts.Catalog = cat
	if opts.Registrar == nil {
		opts.Registrar = &fakeRegistrar{}
	}
	return &testEnv{server: NewServer(opts), queue: q, runs: runs, catalog: cat, scheduler: sched}
}

func (e *testEnv) do(method, path string, body *bytes.Buffer) *httptest.ResponseRecorder {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, body)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
