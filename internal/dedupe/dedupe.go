// Package dedupe decides whether a fetched message is already represented
// in a Feed. The canonical answer always comes from the Store; an optional
// Redis-backed Cache only accelerates repeated-poll lookups.
package dedupe

import (
	"context"
	"errors"
	"time"

	"github.com/fenilsonani/feedmailer/internal/apperr"
	"github.com/fenilsonani/feedmailer/internal/imapclient"
	"github.com/fenilsonani/feedmailer/internal/metrics"
	"github.com/fenilsonani/feedmailer/internal/store"
)

// dupeCache is the slice of Cache's behavior the Detector depends on,
// narrowed so tests can substitute a fake without a live Redis connection.
type dupeCache interface {
	KnownDuplicate(ctx context.Context, feedID, messageID string) (known, ok bool)
	MarkDuplicate(ctx context.Context, feedID, messageID string)
}

// Detector answers the two-tier duplicate question for one Feed at a time.
type Detector struct {
	store store.Store
	cache dupeCache // nil disables the accelerator entirely
}

// New builds a Detector. cache may be nil.
func New(s store.Store, cache dupeCache) *Detector {
	return &Detector{store: s, cache: cache}
}

// IsDuplicate reports whether msg is already represented in feedID.
// Primary tier: exact Message-ID match. Fallback tier, used only when the
// message carries no Message-ID: exact equality on (subject, from, pubDate
// as an RFC 3339 string).
func (d *Detector) IsDuplicate(ctx context.Context, feedID string, msg *imapclient.Message) (bool, error) {
	if msg.MessageID != "" {
		if d.cache != nil {
			if known, ok := d.cache.KnownDuplicate(ctx, feedID, msg.MessageID); ok && known {
				metrics.DuplicatesSkipped.WithLabelValues(feedID, "message_id_cached").Inc()
				return true, nil
			}
		}

		existing, err := d.store.GetItemByEmailMessageID(ctx, feedID, msg.MessageID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		if existing != nil {
			if d.cache != nil {
				d.cache.MarkDuplicate(ctx, feedID, msg.MessageID)
			}
			metrics.DuplicatesSkipped.WithLabelValues(feedID, "message_id").Inc()
			return true, nil
		}
		return false, nil
	}

	pubDateISO := msg.Date.UTC().Format(time.RFC3339)
	count, err := d.store.CountItemsBySubjectFromDate(ctx, feedID, msg.Subject, msg.From, pubDateISO)
	if err != nil {
		return false, err
	}
	if count > 0 {
		metrics.DuplicatesSkipped.WithLabelValues(feedID, "subject_from_date").Inc()
		return true, nil
	}
	return false, nil
}
