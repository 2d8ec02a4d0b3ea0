package postgres

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricealert/internal/catalog"
	"github.com/JakeFAU/pricealert/internal/store"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS products").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, Migrate(context.Background(), mock))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.True(t, strings.Contains(Schema(), "job_runs"))
}

func TestUpsertProductReturnsStoredRow(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewCatalogStore(mock)
	now := time.Unix(1700000000, 0).UTC()
	existing := uuid.New()
	p := catalog.Product{ID: uuid.New(), Name: "Kettle", UniversalCode: "4901234567894", CreatedAt: now, UpdatedAt: now}

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (dedup_key) DO UPDATE")).
		WithArgs(p.ID, "code:4901234567894", "Kettle", "", "", "", "", "4901234567894", now, now).
		WillReturnRows(mock.NewRows([]string{
			"id", "name", "description", "image_url", "manufacturer", "catalog_number", "universal_code", "created_at", "updated_at", "inserted",
		}).AddRow(existing, "Kettle", "", "https://img/1.jpg", "Acme", "", "4901234567894", now, now, false))

	stored, created, err := s.UpsertProduct(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing, stored.ID)
	assert.Equal(t, "Acme", stored.Manufacturer)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProductRejectsKeylessProduct(t *testing.T) {
	t.Parallel()

	s := NewCatalogStore(newMock(t))
	_, _, err := s.UpsertProduct(context.Background(), catalog.Product{Name: "nameless"})
	assert.True(t, errors.Is(err, catalog.ErrValidation))
}

func TestDeleteTrackedProductNotFound(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewCatalogStore(mock)
	productID := uuid.New()
	mock.ExpectExec("DELETE FROM tracked_products").
		WithArgs(int64(7), productID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.DeleteTrackedProduct(context.Background(), 7, productID)
	assert.True(t, errors.Is(err, catalog.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestNotificationWithoutHistory(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewCatalogStore(mock)
	mock.ExpectQuery("FROM notifications").
		WithArgs(int64(1), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	n, err := s.LatestNotification(context.Background(), 1, uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateNotificationConflict(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewCatalogStore(mock)
	price := decimal.RequireFromString("9000")
	n := catalog.Notification{ID: uuid.New(), UserID: 1, ProductID: uuid.New(), Type: catalog.NotificationThreshold, Message: "m", NewPrice: &price}
	mock.ExpectExec("INSERT INTO notifications").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.CreateNotification(context.Background(), n)
	assert.True(t, errors.Is(err, catalog.ErrPersistenceConflict))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTrackedProductUnknownProduct(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewCatalogStore(mock)
	mock.ExpectQuery("INSERT INTO tracked_products").
		WillReturnError(&pgconn.PgError{Code: "23503"})

	_, _, err := s.EnsureTrackedProduct(context.Background(), catalog.TrackedProduct{ID: uuid.New(), UserID: 1, ProductID: uuid.New(), ThresholdType: catalog.ThresholdListPrice})
	assert.True(t, errors.Is(err, catalog.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWindow(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewCatalogStore(mock)
	last := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("FROM email_batch_windows").
		WithArgs("daily").
		WillReturnRows(mock.NewRows([]string{"interval_seconds", "last_dispatch"}).AddRow(int64(86400), &last))
	mock.ExpectQuery("FROM email_batch_windows").
		WithArgs("weekly").
		WillReturnError(pgx.ErrNoRows)

	w, err := s.GetWindow(context.Background(), catalog.FrequencyDaily)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, w.Interval)
	require.NotNil(t, w.LastDispatch)
	assert.True(t, last.Equal(*w.LastDispatch))

	_, err = s.GetWindow(context.Background(), catalog.FrequencyWeekly)
	assert.True(t, errors.Is(err, catalog.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRunDuplicate(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewRunStore(mock)
	mock.ExpectExec("INSERT INTO job_runs").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.CreateRun(context.Background(), store.Run{ID: uuid.New(), Job: "price_refresh", State: store.RunScheduled})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRunNotFound(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewRunStore(mock)
	mock.ExpectExec("UPDATE job_runs").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRun(context.Background(), store.Run{ID: uuid.New(), State: store.RunRunning})
	assert.True(t, errors.Is(err, store.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewRunStore(mock)
	id := uuid.New()
	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("FROM job_runs WHERE id").
		WithArgs(id).
		WillReturnRows(mock.NewRows([]string{
			"id", "job", "trigger", "state", "attempts", "last_error", "scheduled_at", "started_at", "finished_at", "updated_at",
		}).AddRow(id, "alert_evaluation", "schedule", "succeeded", 2, "", at, &at, &at, at))
	mock.ExpectQuery("FROM job_runs WHERE id").
		WillReturnError(pgx.ErrNoRows)

	run, err := s.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.RunSucceeded, run.State)
	assert.Equal(t, 2, run.Attempts)

	_, err = s.GetRun(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, store.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsBuildsFilter(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewRunStore(mock)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE job = $1 AND state = $2 ORDER BY scheduled_at DESC, id DESC LIMIT $3 OFFSET $4")).
		WithArgs("price_refresh", "failed_permanently", 10, 20).
		WillReturnRows(mock.NewRows([]string{
			"id", "job", "trigger", "state", "attempts", "last_error", "scheduled_at", "started_at", "finished_at", "updated_at",
		}))

	runs, err := s.ListRuns(context.Background(), store.ListFilter{Job: "price_refresh", State: store.RunFailedPermanently, Limit: 10, Offset: 20})
	require.NoError(t, err)
	assert.Empty(t, runs)
	require.NoError(t, mock.ExpectationsWereMet())
}

var listingCols = []string{"id", "product_id", "site", "site_local_id", "product_url", "affiliate_url",
	"price", "points", "effective_price", "seller_name", "shipping_fee", "condition", "active", "last_updated", "created_at"}

func testListing(productID uuid.UUID, localID string) catalog.Listing {
	now := time.Unix(1700000000, 0).UTC()
	return catalog.Listing{
		ID: uuid.New(), ProductID: productID, Site: catalog.SiteAmazon, SiteLocalID: localID,
		ProductURL: "https://www.amazon.co.jp/dp/" + localID,
		Price:      decimal.RequireFromString("9100"), Points: decimal.Zero, EffectivePrice: decimal.RequireFromString("9100"),
		ShippingFee: decimal.Zero, Active: true, LastUpdated: &now, CreatedAt: now,
	}
}

func TestFindListingsUsesOneUnnestQuery(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewCatalogStore(mock)
	productID := uuid.New()
	l := testListing(productID, "B00TEST123")
	mock.ExpectQuery(regexp.QuoteMeta("unnest($1::uuid[], $2::text[], $3::text[])")).
		WithArgs([]uuid.UUID{productID, productID}, []string{"amazon", "amazon"}, []string{"B00TEST123", "B00MISSING"}).
		WillReturnRows(mock.NewRows(listingCols).AddRow(
			l.ID, productID, "amazon", "B00TEST123", l.ProductURL, "",
			"9100.00", "0.00", "9100.00", "Acme", "0.00", "new", true, l.LastUpdated, l.CreatedAt,
		))

	found, err := s.FindListings(context.Background(), []catalog.ListingKey{
		l.Key(),
		{ProductID: productID, Site: catalog.SiteAmazon, SiteLocalID: "B00MISSING"},
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	got := found[l.Key()]
	assert.Equal(t, l.ID, got.ID)
	assert.True(t, decimal.RequireFromString("9100").Equal(got.Price))
	assert.Equal(t, "Acme", got.SellerName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindListingsWithoutKeysSkipsQuery(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	found, err := NewCatalogStore(mock).FindListings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertListingsReportsConflicts(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewCatalogStore(mock)
	productID := uuid.New()
	fresh, taken := testListing(productID, "B00FRESH01"), testListing(productID, "B00TAKEN01")
	batch := mock.ExpectBatch()
	batch.ExpectExec("INSERT INTO listings").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	batch.ExpectExec("INSERT INTO listings").WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, conflicts, err := s.InsertListings(context.Background(), []catalog.Listing{fresh, taken})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, fresh.ID, inserted[0].ID)
	require.Len(t, conflicts, 1)
	assert.Equal(t, taken.ID, conflicts[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertListingsUniqueViolationIsConflict(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewCatalogStore(mock)
	batch := mock.ExpectBatch()
	batch.ExpectExec("INSERT INTO listings").WillReturnError(&pgconn.PgError{Code: "23505"})

	_, _, err := s.InsertListings(context.Background(), []catalog.Listing{testListing(uuid.New(), "B00TEST123")})
	assert.True(t, errors.Is(err, catalog.ErrPersistenceConflict))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateListingsNotFound(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewCatalogStore(mock)
	batch := mock.ExpectBatch()
	batch.ExpectExec("UPDATE listings SET").WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateListings(context.Background(), []catalog.Listing{testListing(uuid.New(), "B00TEST123")})
	assert.True(t, errors.Is(err, catalog.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendPriceSamplesUnknownListing(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewCatalogStore(mock)
	batch := mock.ExpectBatch()
	batch.ExpectExec("INSERT INTO price_samples").WillReturnError(&pgconn.PgError{Code: "23503"})

	err := s.AppendPriceSamples(context.Background(), []catalog.PriceSample{{
		ID: uuid.New(), ListingID: uuid.New(), Price: decimal.RequireFromString("9000"), CapturedAt: time.Now().UTC(),
	}})
	assert.True(t, errors.Is(err, catalog.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxRollsBackOnFailedSampleAppend(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewCatalogStore(mock)
	l := testListing(uuid.New(), "B00TEST123")
	mock.ExpectBegin()
	mock.ExpectBatch().ExpectExec("UPDATE listings SET").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectBatch().ExpectExec("INSERT INTO price_samples").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx catalog.ListingStore) error {
		if err := tx.UpdateListings(ctx, []catalog.Listing{l}); err != nil {
			return err
		}
		return tx.AppendPriceSamples(ctx, []catalog.PriceSample{{ID: uuid.New(), ListingID: l.ID, Price: l.Price, CapturedAt: l.CreatedAt}})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxCommits(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	s := NewCatalogStore(mock)
	mock.ExpectBegin()
	mock.ExpectBatch().ExpectExec("UPDATE listings SET").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx catalog.ListingStore) error {
		return tx.UpdateListings(ctx, []catalog.Listing{testListing(uuid.New(), "B00TEST123")})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
