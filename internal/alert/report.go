package alert

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricealert/internal/catalog"
)

// WeeklyReport records one weekly_report notification per tracked product of
// each user, carrying the product's current lowest price. Products without a
// sampled active listing are left out. It returns the number created.
func (e *Engine) WeeklyReport(ctx context.Context, userIDs []int64) (int, error) {
	created := 0
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		tracked, err := e.store.ListTrackedProductsByUser(ctx, userID)
		if err != nil {
			e.logger.Error("weekly report: list tracked products", zap.Int64("user_id", userID), zap.Error(err))
			continue
		}
		for _, tp := range tracked {
			ok, err := e.reportOne(ctx, tp)
			if err != nil {
				e.logger.Error("weekly report entry",
					zap.Int64("user_id", userID),
					zap.Stringer("product_id", tp.ProductID),
					zap.Error(err),
				)
				continue
			}
			if ok {
				created++
			}
		}
	}
	e.logger.Info("weekly report complete", zap.Int("users", len(userIDs)), zap.Int("notifications", created))
	return created, nil
}

func (e *Engine) reportOne(ctx context.Context, tp catalog.TrackedProduct) (bool, error) {
	product, err := e.store.GetProduct(ctx, tp.ProductID)
	if err != nil {
		return false, fmt.Errorf("get product: %w", err)
	}
	listing, ok, err := e.relevantListing(ctx, tp.ProductID, tp.ThresholdType)
	if err != nil || !ok {
		return false, err
	}
	price := listing.PriceFor(tp.ThresholdType)
	n := catalog.Notification{
		Type:     catalog.NotificationWeeklyReport,
		Message:  fmt.Sprintf("%s: lowest price this week %s (%s)", product.Name, FormatPrice(price), listing.Site),
		NewPrice: &price,
	}
	// Report entries carry no listing so they never feed the rule history.
	if err := e.create(ctx, tp, nil, n); err != nil {
		return false, err
	}
	return true, nil
}
