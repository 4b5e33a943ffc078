// Package retention implements the periodic compaction pass that keeps each
// Feed's item count and age bounded. It never looks at message content or
// matching rules; it only ever deletes FeedItems the Store already has.
package retention

import (
	"context"
	"sort"
	"time"

	"github.com/fenilsonani/feedmailer/internal/apperr"
	"github.com/fenilsonani/feedmailer/internal/logging"
	"github.com/fenilsonani/feedmailer/internal/metrics"
	"github.com/fenilsonani/feedmailer/internal/model"
	"github.com/fenilsonani/feedmailer/internal/store"
)

// RunResult summarizes one compaction pass across every Feed.
type RunResult struct {
	FeedsProcessed int
	ItemsRemoved   int
	Errors         []error
}

// Compactor trims each Feed's items down to its configured retention
// policy: an age ceiling, a count ceiling, and a floor below which items
// are never removed regardless of age or count.
type Compactor struct {
	store  store.Store
	logger *logging.Logger
}

// New builds a Compactor.
func New(s store.Store, logger *logging.Logger) *Compactor {
	return &Compactor{store: s, logger: logger}
}

// Run compacts every Feed once and is safe to call repeatedly; a Feed with
// nothing to remove costs one read and no writes.
func (c *Compactor) Run(ctx context.Context) (RunResult, error) {
	feeds, err := c.store.ListFeeds(ctx)
	if err != nil {
		return RunResult{}, apperr.Wrap(apperr.KindStore, "list feeds for retention", err)
	}

	result := RunResult{}
	for _, f := range feeds {
		result.FeedsProcessed++
		removed, err := c.compactFeed(ctx, f)
		if err != nil {
			c.logger.Warn("retention: compaction failed", "feed_id", f.ID, "error", err)
			result.Errors = append(result.Errors, err)
			continue
		}
		result.ItemsRemoved += removed
	}
	return result, nil
}

// RunFeed compacts a single Feed, exposed so the management API can offer
// an on-demand "compact now" for one feed without a full pass.
func (c *Compactor) RunFeed(ctx context.Context, feedID string) (int, error) {
	f, err := c.store.GetFeed(ctx, feedID)
	if err != nil {
		return 0, err
	}
	return c.compactFeed(ctx, f)
}

func (c *Compactor) compactFeed(ctx context.Context, f *model.Feed) (int, error) {
	policy := *f
	policy.NormalizeRetention()

	items, err := c.store.ListItemsByFeed(ctx, f.ID, 0)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStore, "list items for retention", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })

	marked := markForRemoval(items, policy.MaxAgeDays, policy.MaxItems, policy.MinItems)

	removed := 0
	for id := range marked {
		if err := c.store.DeleteItem(ctx, id); err != nil {
			return removed, apperr.Wrap(apperr.KindStore, "delete retained-over-limit item", err)
		}
		removed++
	}

	metrics.ItemsRemoved.WithLabelValues(f.ID, "retention").Add(float64(removed))
	metrics.ItemsRetained.WithLabelValues(f.ID).Set(float64(len(items) - removed))
	return removed, nil
}

// markForRemoval applies the age filter, count filter, and floor guarantee
// described in the retention algorithm and returns the set of item IDs to
// delete. items must already be sorted by CreatedAt descending.
// maxAgeDays/maxItems/minItems <= 0 disable that filter.
func markForRemoval(items []*model.FeedItem, maxAgeDays, maxItems, minItems int) map[string]bool {
	marked := map[string]bool{}

	if maxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
		for _, it := range items {
			if it.CreatedAt.Before(cutoff) {
				marked[it.ID] = true
			}
		}
	}

	if maxItems > 0 {
		ascending := make([]*model.FeedItem, len(items))
		copy(ascending, items)
		sort.Slice(ascending, func(i, j int) bool { return ascending[i].CreatedAt.Before(ascending[j].CreatedAt) })

		keep := maxItems
		if minItems > keep {
			keep = minItems
		}
		removeCount := len(ascending) - keep
		for i := 0; i < removeCount; i++ {
			marked[ascending[i].ID] = true
		}
	}

	if minItems > 0 {
		remaining := len(items) - len(marked)
		if remaining < minItems {
			unmarkNewest(items, marked, minItems-remaining)
		}
	}

	return marked
}

// unmarkNewest removes the most recently created n marked items from the
// removal set, preserving the newest items when the floor guarantee would
// otherwise be violated. items must be sorted by CreatedAt descending.
func unmarkNewest(items []*model.FeedItem, marked map[string]bool, n int) {
	for _, it := range items {
		if n <= 0 {
			return
		}
		if marked[it.ID] {
			delete(marked, it.ID)
			n--
		}
	}
}
