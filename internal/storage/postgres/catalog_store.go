package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/pricealert/internal/catalog"
)

// CatalogStore implements catalog.Store on Postgres. Every write relies on
// the unique indexes of the schema instead of read-then-write checks.
type CatalogStore struct {
	db DB
}

// NewCatalogStore wraps a pool (or a pgxmock pool in tests).
func NewCatalogStore(db DB) *CatalogStore {
	return &CatalogStore{db: db}
}

const productColumns = `id, name, description, image_url, manufacturer, catalog_number, universal_code, created_at, updated_at`

func scanProduct(row pgx.Row, extra ...any) (catalog.Product, error) {
	var p catalog.Product
	dest := []any{&p.ID, &p.Name, &p.Description, &p.ImageURL, &p.Manufacturer, &p.CatalogNumber, &p.UniversalCode, &p.CreatedAt, &p.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return catalog.Product{}, err
	}
	return p, nil
}

// UpsertProduct inserts p, or backfills image, manufacturer and catalog
// number on the row that already owns its dedup key.
func (s *CatalogStore) UpsertProduct(ctx context.Context, p catalog.Product) (catalog.Product, bool, error) {
	if p.Key().IsZero() {
		return catalog.Product{}, false, catalog.Invalid("product", "no dedup key")
	}
	query := `
		INSERT INTO products (id, dedup_key, name, description, image_url, manufacturer, catalog_number, universal_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (dedup_key) DO UPDATE SET
			image_url      = CASE WHEN products.image_url = '' THEN EXCLUDED.image_url ELSE products.image_url END,
			manufacturer   = CASE WHEN products.manufacturer = '' THEN EXCLUDED.manufacturer ELSE products.manufacturer END,
			catalog_number = CASE WHEN products.catalog_number = '' THEN EXCLUDED.catalog_number ELSE products.catalog_number END,
			updated_at     = CASE
				WHEN (products.image_url = '' AND EXCLUDED.image_url <> '')
				  OR (products.manufacturer = '' AND EXCLUDED.manufacturer <> '')
				  OR (products.catalog_number = '' AND EXCLUDED.catalog_number <> '')
				THEN EXCLUDED.updated_at ELSE products.updated_at END
		RETURNING ` + productColumns + `, (xmax = 0) AS inserted`
	key := p.Key().String()
	var created bool
	stored, err := scanProduct(s.db.QueryRow(ctx, query,
		p.ID, key, p.Name, p.Description, p.ImageURL, p.Manufacturer, p.CatalogNumber, p.UniversalCode, p.CreatedAt, p.UpdatedAt,
	), &created)
	if err != nil {
		return catalog.Product{}, false, fmt.Errorf("upsert product: %w", err)
	}
	return stored, created, nil
}

// GetProduct loads a product by id.
func (s *CatalogStore) GetProduct(ctx context.Context, id uuid.UUID) (catalog.Product, error) {
	p, err := scanProduct(s.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, fmt.Errorf("product %s: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return catalog.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// ListProducts returns every product in creation order.
func (s *CatalogStore) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	rows, err := s.db.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()
	var out []catalog.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const listingColumns = `id, product_id, site, site_local_id, product_url, affiliate_url,
	price::text, points::text, effective_price::text, seller_name, shipping_fee::text,
	condition, active, last_updated, created_at`

func scanListing(row pgx.Row) (catalog.Listing, error) {
	var (
		l                                  catalog.Listing
		site                               string
		price, points, effective, shipping string
	)
	err := row.Scan(&l.ID, &l.ProductID, &site, &l.SiteLocalID, &l.ProductURL, &l.AffiliateURL,
		&price, &points, &effective, &l.SellerName, &shipping,
		&l.Condition, &l.Active, &l.LastUpdated, &l.CreatedAt)
	if err != nil {
		return catalog.Listing{}, err
	}
	l.Site = catalog.SiteID(site)
	if l.Price, err = parseNum(price); err != nil {
		return catalog.Listing{}, err
	}
	if l.Points, err = parseNum(points); err != nil {
		return catalog.Listing{}, err
	}
	if l.EffectivePrice, err = parseNum(effective); err != nil {
		return catalog.Listing{}, err
	}
	if l.ShippingFee, err = parseNum(shipping); err != nil {
		return catalog.Listing{}, err
	}
	return l, nil
}

func collectListings(rows pgx.Rows) ([]catalog.Listing, error) {
	defer rows.Close()
	var out []catalog.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// FindListings loads the listings matching keys in one round trip.
func (s *CatalogStore) FindListings(ctx context.Context, keys []catalog.ListingKey) (map[catalog.ListingKey]catalog.Listing, error) {
	out := make(map[catalog.ListingKey]catalog.Listing, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	products := make([]uuid.UUID, len(keys))
	sites := make([]string, len(keys))
	locals := make([]string, len(keys))
	for i, k := range keys {
		products[i], sites[i], locals[i] = k.ProductID, string(k.Site), k.SiteLocalID
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE (product_id, site, site_local_id) IN (
			SELECT * FROM unnest($1::uuid[], $2::text[], $3::text[])
		)`, products, sites, locals)
	if err != nil {
		return nil, fmt.Errorf("find listings: %w", err)
	}
	listings, err := collectListings(rows)
	if err != nil {
		return nil, err
	}
	for _, l := range listings {
		out[l.Key()] = l
	}
	return out, nil
}

// WithinTx runs fn on a store bound to a single transaction. A failed
// rollback is joined to fn's error.
func (s *CatalogStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx catalog.ListingStore) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin listing transaction: %w", err)
	}
	if err := fn(ctx, &CatalogStore{db: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback listing transaction: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit listing transaction: %w", err)
	}
	return nil
}

// UpdateListings overwrites mutable fields in one batch.
func (s *CatalogStore) UpdateListings(ctx context.Context, listings []catalog.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range listings {
		batch.Queue(`
			UPDATE listings SET
				product_url = $2, affiliate_url = $3,
				price = $4::numeric, points = $5::numeric, effective_price = $6::numeric,
				seller_name = $7, shipping_fee = $8::numeric, condition = $9,
				active = $10, last_updated = $11
			WHERE id = $1`,
			l.ID, l.ProductURL, l.AffiliateURL,
			numArg(l.Price), numArg(l.Points), numArg(l.EffectivePrice),
			l.SellerName, numArg(l.ShippingFee), l.Condition,
			l.Active, l.LastUpdated,
		)
	}
	results := s.db.SendBatch(ctx, batch)
	defer results.Close()
	for _, l := range listings {
		tag, err := results.Exec()
		if err != nil {
			return fmt.Errorf("update listing %s: %w", l.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("update listing %s: %w", l.ID, catalog.ErrNotFound)
		}
	}
	return nil
}

// InsertListings inserts new listings in one batch. Rows whose identity is
// already taken come back as conflicts.
func (s *CatalogStore) InsertListings(ctx context.Context, listings []catalog.Listing) ([]catalog.Listing, []catalog.Listing, error) {
	if len(listings) == 0 {
		return nil, nil, nil
	}
	batch := &pgx.Batch{}
	for _, l := range listings {
		batch.Queue(`
			INSERT INTO listings (id, product_id, site, site_local_id, product_url, affiliate_url,
				price, points, effective_price, seller_name, shipping_fee, condition, active, last_updated, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10, $11::numeric, $12, $13, $14, $15)
			ON CONFLICT (product_id, site, site_local_id) DO NOTHING`,
			l.ID, l.ProductID, string(l.Site), l.SiteLocalID, l.ProductURL, l.AffiliateURL,
			numArg(l.Price), numArg(l.Points), numArg(l.EffectivePrice), l.SellerName, numArg(l.ShippingFee),
			l.Condition, l.Active, l.LastUpdated, l.CreatedAt,
		)
	}
	results := s.db.SendBatch(ctx, batch)
	defer results.Close()
	var inserted, conflicts []catalog.Listing
	for _, l := range listings {
		tag, err := results.Exec()
		if isUniqueViolation(err) {
			return nil, nil, fmt.Errorf("insert listing %s: %w", l.ID, catalog.ErrPersistenceConflict)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("insert listing %s/%s: %w", l.Site, l.SiteLocalID, err)
		}
		if tag.RowsAffected() == 0 {
			conflicts = append(conflicts, l)
			continue
		}
		inserted = append(inserted, l)
	}
	return inserted, conflicts, nil
}

// AppendPriceSamples inserts history rows in one batch.
func (s *CatalogStore) AppendPriceSamples(ctx context.Context, samples []catalog.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ps := range samples {
		batch.Queue(`
			INSERT INTO price_samples (id, listing_id, price, points, effective_price, captured_at)
			VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6)`,
			ps.ID, ps.ListingID, numArg(ps.Price), numArg(ps.Points), numArg(ps.EffectivePrice), ps.CapturedAt,
		)
	}
	results := s.db.SendBatch(ctx, batch)
	defer results.Close()
	for _, ps := range samples {
		_, err := results.Exec()
		if isForeignKeyViolation(err) {
			return fmt.Errorf("sample for listing %s: %w", ps.ListingID, catalog.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("insert price sample for %s: %w", ps.ListingID, err)
		}
	}
	return nil
}

// ListListings returns a product's listings ordered by site and local id.
func (s *CatalogStore) ListListings(ctx context.Context, productID uuid.UUID) ([]catalog.Listing, error) {
	rows, err := s.db.Query(ctx, `SELECT `+listingColumns+` FROM listings WHERE product_id = $1 ORDER BY site, site_local_id`, productID)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	return collectListings(rows)
}

// ListPriceSamples returns a listing's history ordered by capture time.
func (s *CatalogStore) ListPriceSamples(ctx context.Context, listingID uuid.UUID) ([]catalog.PriceSample, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, listing_id, price::text, points::text, effective_price::text, captured_at
		FROM price_samples WHERE listing_id = $1 ORDER BY captured_at, id`, listingID)
	if err != nil {
		return nil, fmt.Errorf("list price samples: %w", err)
	}
	defer rows.Close()
	var out []catalog.PriceSample
	for rows.Next() {
		var (
			ps                       catalog.PriceSample
			price, points, effective string
		)
		if err := rows.Scan(&ps.ID, &ps.ListingID, &price, &points, &effective, &ps.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan price sample: %w", err)
		}
		if ps.Price, err = parseNum(price); err != nil {
			return nil, err
		}
		if ps.Points, err = parseNum(points); err != nil {
			return nil, err
		}
		if ps.EffectivePrice, err = parseNum(effective); err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

// SampledListingIDs reports which listings have at least one sample.
func (s *CatalogStore) SampledListingIDs(ctx context.Context, listingIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(listingIDs))
	if len(listingIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `SELECT DISTINCT listing_id FROM price_samples WHERE listing_id = ANY($1)`, listingIDs)
	if err != nil {
		return nil, fmt.Errorf("sampled listings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan listing id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

const trackedColumns = `id, user_id, product_id, threshold_price::text, threshold_type,
	percentage_drop_threshold::text, notifications_enabled, display_order, memo, created_at`

func scanTracked(row pgx.Row, extra ...any) (catalog.TrackedProduct, error) {
	var (
		tp                 catalog.TrackedProduct
		threshold, percent *string
		thresholdType      string
	)
	dest := []any{&tp.ID, &tp.UserID, &tp.ProductID, &threshold, &thresholdType,
		&percent, &tp.NotificationsEnabled, &tp.DisplayOrder, &tp.Memo, &tp.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return catalog.TrackedProduct{}, err
	}
	tp.ThresholdType = catalog.ThresholdType(thresholdType)
	var err error
	if tp.ThresholdPrice, err = parseNullNum(threshold); err != nil {
		return catalog.TrackedProduct{}, err
	}
	if tp.PercentageDropThreshold, err = parseNullNum(percent); err != nil {
		return catalog.TrackedProduct{}, err
	}
	return tp, nil
}

// EnsureTrackedProduct inserts tp unless the user already tracks the product,
// in which case the stored row is returned.
func (s *CatalogStore) EnsureTrackedProduct(ctx context.Context, tp catalog.TrackedProduct) (catalog.TrackedProduct, bool, error) {
	query := `
		WITH ins AS (
			INSERT INTO tracked_products (id, user_id, product_id, threshold_price, threshold_type,
				percentage_drop_threshold, notifications_enabled, display_order, memo, created_at)
			VALUES ($1, $2, $3, $4::numeric, $5, $6::numeric, $7, $8, $9, $10)
			ON CONFLICT (user_id, product_id) DO NOTHING
			RETURNING ` + trackedColumns + `
		)
		SELECT ` + trackedColumns + `, TRUE FROM ins
		UNION ALL
		SELECT ` + trackedColumns + `, FALSE FROM tracked_products
		WHERE user_id = $2 AND product_id = $3 AND NOT EXISTS (SELECT 1 FROM ins)`
	var created bool
	stored, err := scanTracked(s.db.QueryRow(ctx, query,
		tp.ID, tp.UserID, tp.ProductID, nullNumArg(tp.ThresholdPrice), string(tp.ThresholdType),
		nullNumArg(tp.PercentageDropThreshold), tp.NotificationsEnabled, tp.DisplayOrder, tp.Memo, tp.CreatedAt,
	), &created)
	if isForeignKeyViolation(err) {
		return catalog.TrackedProduct{}, false, fmt.Errorf("product %s: %w", tp.ProductID, catalog.ErrNotFound)
	}
	if err != nil {
		return catalog.TrackedProduct{}, false, fmt.Errorf("ensure tracked product: %w", err)
	}
	return stored, created, nil
}

// DeleteTrackedProduct removes a subscription.
func (s *CatalogStore) DeleteTrackedProduct(ctx context.Context, userID int64, productID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM tracked_products WHERE user_id = $1 AND product_id = $2`, userID, productID)
	if err != nil {
		return fmt.Errorf("delete tracked product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tracked product: %w", catalog.ErrNotFound)
	}
	return nil
}

// ListTrackedProducts returns subscriptions ordered by user and display order.
func (s *CatalogStore) ListTrackedProducts(ctx context.Context, enabledOnly bool) ([]catalog.TrackedProduct, error) {
	return s.queryTracked(ctx, `
		SELECT `+trackedColumns+` FROM tracked_products
		WHERE ($1::boolean = FALSE OR notifications_enabled)
		ORDER BY user_id, display_order, created_at`, enabledOnly)
}

// ListTrackedProductsByUser returns one user's subscriptions.
func (s *CatalogStore) ListTrackedProductsByUser(ctx context.Context, userID int64) ([]catalog.TrackedProduct, error) {
	return s.queryTracked(ctx, `
		SELECT `+trackedColumns+` FROM tracked_products
		WHERE user_id = $1
		ORDER BY display_order, created_at`, userID)
}

func (s *CatalogStore) queryTracked(ctx context.Context, query string, args ...any) ([]catalog.TrackedProduct, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tracked products: %w", err)
	}
	defer rows.Close()
	var out []catalog.TrackedProduct
	for rows.Next() {
		tp, err := scanTracked(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tracked product: %w", err)
		}
		out = append(out, tp)
	}
	return out, rows.Err()
}

const notificationColumns = `id, user_id, product_id, listing_id, type, message,
	old_price::text, new_price::text, read, sent_at, created_at`

func scanNotification(row pgx.Row) (catalog.Notification, error) {
	var (
		n        catalog.Notification
		kind     string
		oldPrice *string
		newPrice *string
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.ProductID, &n.ListingID, &kind, &n.Message,
		&oldPrice, &newPrice, &n.Read, &n.SentAt, &n.CreatedAt); err != nil {
		return catalog.Notification{}, err
	}
	n.Type = catalog.NotificationType(kind)
	var err error
	if n.OldPrice, err = parseNullNum(oldPrice); err != nil {
		return catalog.Notification{}, err
	}
	if n.NewPrice, err = parseNullNum(newPrice); err != nil {
		return catalog.Notification{}, err
	}
	return n, nil
}

// LatestNotification returns the newest notification for the triple, or nil.
func (s *CatalogStore) LatestNotification(ctx context.Context, userID int64, productID, listingID uuid.UUID) (*catalog.Notification, error) {
	n, err := scanNotification(s.db.QueryRow(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE user_id = $1 AND product_id = $2 AND listing_id = $3
		ORDER BY created_at DESC
		LIMIT 1`, userID, productID, listingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest notification: %w", err)
	}
	return &n, nil
}

// CreateNotification inserts a notification.
func (s *CatalogStore) CreateNotification(ctx context.Context, n catalog.Notification) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO notifications (id, user_id, product_id, listing_id, type, message, old_price, new_price, read, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10, $11)`,
		n.ID, n.UserID, n.ProductID, n.ListingID, string(n.Type), n.Message,
		nullNumArg(n.OldPrice), nullNumArg(n.NewPrice), n.Read, n.SentAt, n.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("notification %s: %w", n.ID, catalog.ErrPersistenceConflict)
	}
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ListUnsent returns a user's pending notifications, oldest first.
func (s *CatalogStore) ListUnsent(ctx context.Context, userID int64) ([]catalog.Notification, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE user_id = $1 AND sent_at IS NULL
		ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list unsent: %w", err)
	}
	defer rows.Close()
	var out []catalog.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkSent stamps sent_at on the given notifications.
func (s *CatalogStore) MarkSent(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `UPDATE notifications SET sent_at = $1 WHERE id = ANY($2)`, at, ids); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// GetWindow loads a frequency window.
func (s *CatalogStore) GetWindow(ctx context.Context, f catalog.Frequency) (catalog.FrequencyWindow, error) {
	var (
		seconds int64
		last    *time.Time
	)
	err := s.db.QueryRow(ctx, `SELECT interval_seconds, last_dispatch FROM email_batch_windows WHERE frequency = $1`, string(f)).
		Scan(&seconds, &last)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.FrequencyWindow{}, fmt.Errorf("window %s: %w", f, catalog.ErrNotFound)
	}
	if err != nil {
		return catalog.FrequencyWindow{}, fmt.Errorf("get window: %w", err)
	}
	return catalog.FrequencyWindow{Frequency: f, Interval: time.Duration(seconds) * time.Second, LastDispatch: last}, nil
}

// SaveWindow upserts a frequency window.
func (s *CatalogStore) SaveWindow(ctx context.Context, w catalog.FrequencyWindow) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO email_batch_windows (frequency, interval_seconds, last_dispatch)
		VALUES ($1, $2, $3)
		ON CONFLICT (frequency) DO UPDATE SET interval_seconds = EXCLUDED.interval_seconds, last_dispatch = EXCLUDED.last_dispatch`,
		string(w.Frequency), int64(w.Interval/time.Second), w.LastDispatch)
	if err != nil {
		return fmt.Errorf("save window: %w", err)
	}
	return nil
}

// ListSubscribers returns users with mail enabled for frequency f.
func (s *CatalogStore) ListSubscribers(ctx context.Context, f catalog.Frequency) ([]catalog.UserSettings, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, email, frequency, email_enabled FROM user_settings
		WHERE frequency = $1 AND email_enabled
		ORDER BY user_id`, string(f))
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()
	var out []catalog.UserSettings
	for rows.Next() {
		var (
			us   catalog.UserSettings
			freq string
		)
		if err := rows.Scan(&us.UserID, &us.Email, &freq, &us.EmailEnabled); err != nil {
			return nil, fmt.Errorf("scan user settings: %w", err)
		}
		us.Frequency = catalog.Frequency(freq)
		out = append(out, us)
	}
	return out, rows.Err()
}

// SaveUserSettings upserts a user's mail settings.
func (s *CatalogStore) SaveUserSettings(ctx context.Context, us catalog.UserSettings) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_settings (user_id, email, frequency, email_enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET email = EXCLUDED.email, frequency = EXCLUDED.frequency, email_enabled = EXCLUDED.email_enabled`,
		us.UserID, us.Email, string(us.Frequency), us.EmailEnabled)
	if err != nil {
		return fmt.Errorf("save user settings: %w", err)
	}
	return nil
}

var _ catalog.Store = (*CatalogStore)(nil)
