// Package processor implements the per-account email-to-feed materialization
// run: select a rule's folder, fetch recent messages, match, deduplicate,
// insert FeedItems, and apply the rule's post-action.
package processor

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fenilsonani/feedmailer/internal/apperr"
	"github.com/fenilsonani/feedmailer/internal/archive"
	"github.com/fenilsonani/feedmailer/internal/dedupe"
	"github.com/fenilsonani/feedmailer/internal/imapclient"
	"github.com/fenilsonani/feedmailer/internal/logging"
	"github.com/fenilsonani/feedmailer/internal/metrics"
	"github.com/fenilsonani/feedmailer/internal/model"
	"github.com/fenilsonani/feedmailer/internal/rule"
	"github.com/fenilsonani/feedmailer/internal/store"
)

const (
	descriptionMaxLen  = 500
	descriptionSuffix  = "..."
	defaultMaxEmails   = 100
)

// ProcessingResult summarizes one ProcessAccount run.
type ProcessingResult struct {
	AccountID           string
	TotalEmailsMatched  int
	ItemsCreated        int
	Errors              []error
}

// session is the subset of *imapclient.Session the Processor depends on,
// narrowed to an interface so tests can substitute a fake conversation.
type session interface {
	SelectFolder(ctx context.Context, name string, readOnly bool) error
	FetchRecent(ctx context.Context, limit int) ([]*imapclient.Message, error)
	MarkSeen(ctx context.Context, uid uint32) error
	DeleteByUID(ctx context.Context, uid uint32) error
	MoveByUID(ctx context.Context, uid uint32, targetFolder string) error
	Close() error
}

// Processor ties the rule matcher, duplicate detector, store, and IMAP
// session together into one account-scoped run.
type Processor struct {
	store    store.Store
	dedupe   *dedupe.Detector
	archiver *archive.Archiver
	logger   *logging.Logger
	connect  func(ctx context.Context, acct *model.Account) (session, error)
}

// New builds a Processor. archiver may be nil to disable raw archival.
func New(s store.Store, d *dedupe.Detector, archiver *archive.Archiver, logger *logging.Logger) *Processor {
	return &Processor{
		store:    s,
		dedupe:   d,
		archiver: archiver,
		logger:   logger,
		connect: func(ctx context.Context, acct *model.Account) (session, error) {
			return imapclient.Connect(ctx, acct)
		},
	}
}

// ProcessAccount runs every active Rule belonging to acct and returns an
// aggregate ProcessingResult. maxEmails bounds the per-rule fetch size; a
// non-positive value falls back to the documented default of 100.
func (p *Processor) ProcessAccount(ctx context.Context, acct *model.Account, maxEmails int) (*ProcessingResult, error) {
	if maxEmails <= 0 {
		maxEmails = defaultMaxEmails
	}

	result := &ProcessingResult{AccountID: acct.ID}

	rules, err := p.store.ListRulesByAccount(ctx, acct.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "list rules for account", err)
	}

	var active []*model.Rule
	for _, r := range rules {
		if r.Active {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return result, nil
	}

	start := time.Now()
	sess, err := p.connect(ctx, acct)
	if err != nil {
		metrics.RecordError("processor", "connect")
		return nil, err
	}
	defer sess.Close()

	for _, r := range active {
		if err := p.processRule(ctx, sess, acct, r, maxEmails, result); err != nil {
			p.logger.Warn("rule processing aborted",
				"account_id", acct.ID, "rule_id", r.ID, "error", err)
			result.Errors = append(result.Errors, err)
		}
	}

	metrics.RecordProcessing(acct.ID, time.Since(start).Seconds(), result.TotalEmailsMatched, result.ItemsCreated)
	return result, nil
}

func (p *Processor) processRule(ctx context.Context, sess session, acct *model.Account, r *model.Rule, maxEmails int, result *ProcessingResult) error {
	feeds, err := p.store.ListFeedsByRule(ctx, r.ID)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "list feeds for rule", err)
	}
	var activeFeeds []*model.Feed
	for _, f := range feeds {
		if f.Active {
			activeFeeds = append(activeFeeds, f)
		}
	}
	if len(activeFeeds) == 0 {
		return nil
	}

	// Selected read-write, not EXAMINE: the post-action below (mark seen,
	// delete, move) needs STORE/EXPUNGE/MOVE permission on this mailbox.
	// Every fetch strategy requests body sections with Peek set, so the
	// read-write select never causes an implicit \Seen on its own.
	if err := sess.SelectFolder(ctx, r.Folder, false); err != nil {
		return apperr.Wrap(apperr.KindProtocol, "select rule folder", err)
	}

	msgs, err := sess.FetchRecent(ctx, maxEmails)
	if err != nil {
		return apperr.Wrap(apperr.KindProtocol, "fetch recent messages", err)
	}

	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Date.After(msgs[j].Date) })

	postAction := r.EffectivePostAction(acct)
	moveFolder := r.EffectiveMoveFolder(acct)

	for _, msg := range msgs {
		if !rule.Matches(msg, r) {
			continue
		}
		result.TotalEmailsMatched++

		created := p.materialize(ctx, activeFeeds, msg, result)
		if p.archiver.Enabled() {
			if _, err := p.archiver.Append(acct.ID, []byte(msg.Body), msg.Seen); err != nil {
				p.logger.Warn("archive raw message failed", "account_id", acct.ID, "error", err)
			}
		}
		if created {
			p.applyPostAction(ctx, sess, acct, postAction, moveFolder, msg, result)
		}
	}

	return nil
}

// materialize inserts msg into every feed it isn't already a duplicate of,
// returning whether at least one FeedItem was created.
func (p *Processor) materialize(ctx context.Context, feeds []*model.Feed, msg *imapclient.Message, result *ProcessingResult) bool {
	created := false
	for _, feed := range feeds {
		dup, err := p.dedupe.IsDuplicate(ctx, feed.ID, msg)
		if err != nil {
			result.Errors = append(result.Errors, apperr.Wrap(apperr.KindStore, "duplicate check", err))
			continue
		}
		if dup {
			continue
		}

		item := buildFeedItem(feed.ID, msg)
		if err := p.store.InsertItem(ctx, item); err != nil {
			result.Errors = append(result.Errors, apperr.Wrap(apperr.KindStore, "insert feed item", err))
			continue
		}
		result.ItemsCreated++
		created = true
	}
	return created
}

func buildFeedItem(feedID string, msg *imapclient.Message) *model.FeedItem {
	now := time.Now()
	return &model.FeedItem{
		ID:             uuid.NewString(),
		FeedID:         feedID,
		Title:          msg.Subject,
		Description:    truncateDescription(msg.Body),
		Link:           mailtoLink(msg.From, msg.Subject),
		Author:         msg.From,
		PubDate:        msg.Date,
		EmailMessageID: msg.MessageID,
		EmailSubject:   msg.Subject,
		EmailFrom:      msg.From,
		EmailBody:      msg.Body,
		CreatedAt:      now,
		BodySize:       len(msg.Body),
	}
}

func truncateDescription(body string) string {
	if len(body) <= descriptionMaxLen {
		return body
	}
	return body[:descriptionMaxLen] + descriptionSuffix
}

func mailtoLink(from, subject string) string {
	return fmt.Sprintf("mailto:%s?subject=%s", from, url.QueryEscape(subject))
}

func (p *Processor) applyPostAction(ctx context.Context, sess session, acct *model.Account, action model.PostAction, moveFolder string, msg *imapclient.Message, result *ProcessingResult) {
	var err error
	switch action {
	case model.PostActionMarkAsRead:
		err = sess.MarkSeen(ctx, msg.UID)
	case model.PostActionDelete:
		err = sess.DeleteByUID(ctx, msg.UID)
	case model.PostActionMoveToFolder:
		err = sess.MoveByUID(ctx, msg.UID, moveFolder)
	case model.PostActionDoNothing:
		return
	}
	if err != nil {
		p.logger.Warn("post action failed",
			"account_id", acct.ID, "uid", msg.UID, "action", action, "error", err)
		result.Errors = append(result.Errors, err)
	}
}
