package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fenilsonani/feedmailer/internal/apperr"
	"github.com/fenilsonani/feedmailer/internal/model"
)

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrNotFound
	}
	return apperr.Wrap(apperr.KindStore, op, err)
}

func boolOf(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	default:
		return false
	}
}

// --- Account ---

func (s *sqlStore) CreateAccount(ctx context.Context, a *model.Account) error {
	q := fmt.Sprintf(`INSERT INTO imap_accounts
		(id, display_name, host, port, username, password, use_tls, default_post_action, default_move_folder, created_at, updated_at)
		VALUES (%s)`, s.placeholders(11))
	_, err := s.db.ExecContext(ctx, q,
		a.ID, a.DisplayName, a.Host, a.Port, a.Username, a.Password,
		s.bindBool(a.UseTLS), string(a.DefaultPostAction), a.DefaultMoveFolder,
		a.CreatedAt.UTC().Format(timeLayout), a.UpdatedAt.UTC().Format(timeLayout))
	return mapErr("create account", err)
}

func (s *sqlStore) scanAccount(row rowScanner) (*model.Account, error) {
	var a model.Account
	var useTLS any
	var moveFolder sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&a.ID, &a.DisplayName, &a.Host, &a.Port, &a.Username, &a.Password,
		&useTLS, &a.DefaultPostAction, &moveFolder, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.UseTLS = boolOf(useTLS)
	a.DefaultMoveFolder = moveFolder.String
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func (s *sqlStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	q := fmt.Sprintf(`SELECT id, display_name, host, port, username, password, use_tls,
		default_post_action, default_move_folder, created_at, updated_at
		FROM imap_accounts WHERE id = %s`, s.ph(1))
	a, err := s.scanAccount(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, mapErr("get account", err)
	}
	return a, nil
}

func (s *sqlStore) listAccounts(ctx context.Context, activeOnly bool) ([]*model.Account, error) {
	q := `SELECT id, display_name, host, port, username, password, use_tls,
		default_post_action, default_move_folder, created_at, updated_at
		FROM imap_accounts ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, mapErr("list accounts", err)
	}
	defer rows.Close()

	var out []*model.Account
	for rows.Next() {
		a, err := s.scanAccount(rows)
		if err != nil {
			return nil, mapErr("scan account", err)
		}
		out = append(out, a)
	}
	_ = activeOnly
	return out, rows.Err()
}

func (s *sqlStore) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	return s.listAccounts(ctx, false)
}

// ListActiveAccounts returns every account: Account carries no active flag of
// its own (a mailbox is configured or it isn't), so this is an alias kept for
// the Scheduler's call site, which filters per-rule activity downstream.
func (s *sqlStore) ListActiveAccounts(ctx context.Context) ([]*model.Account, error) {
	return s.listAccounts(ctx, true)
}

func (s *sqlStore) UpdateAccount(ctx context.Context, a *model.Account) error {
	q := fmt.Sprintf(`UPDATE imap_accounts SET display_name=%s, host=%s, port=%s, username=%s,
		password=%s, use_tls=%s, default_post_action=%s, default_move_folder=%s, updated_at=%s
		WHERE id=%s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10))
	res, err := s.db.ExecContext(ctx, q,
		a.DisplayName, a.Host, a.Port, a.Username, a.Password, s.bindBool(a.UseTLS),
		string(a.DefaultPostAction), a.DefaultMoveFolder, isoNow(), a.ID)
	if err != nil {
		return mapErr("update account", err)
	}
	return checkAffected(res, "update account")
}

func (s *sqlStore) DeleteAccount(ctx context.Context, id string) error {
	q := fmt.Sprintf("DELETE FROM imap_accounts WHERE id = %s", s.ph(1))
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return mapErr("delete account", err)
	}
	return checkAffected(res, "delete account")
}

// --- Rule ---

func (s *sqlStore) CreateRule(ctx context.Context, r *model.Rule) error {
	q := fmt.Sprintf(`INSERT INTO email_rules
		(id, account_id, display_name, folder, match_to, match_from, match_subject, label,
		 active, post_action, move_folder, created_at, updated_at) VALUES (%s)`, s.placeholders(13))
	_, err := s.db.ExecContext(ctx, q,
		r.ID, r.AccountID, r.DisplayName, r.Folder, nullStr(r.MatchTo), nullStr(r.MatchFrom),
		nullStr(r.MatchSubject), r.Label, s.bindBool(r.Active), postActionPtr(r.PostAction),
		r.MoveFolder, r.CreatedAt.UTC().Format(timeLayout), r.UpdatedAt.UTC().Format(timeLayout))
	return mapErr("create rule", err)
}

func (s *sqlStore) scanRule(row rowScanner) (*model.Rule, error) {
	var r model.Rule
	var active any
	var matchTo, matchFrom, matchSubject, label, postAction, moveFolder sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&r.ID, &r.AccountID, &r.DisplayName, &r.Folder, &matchTo, &matchFrom,
		&matchSubject, &label, &active, &postAction, &moveFolder, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	r.MatchTo = nullToPtr(matchTo)
	r.MatchFrom = nullToPtr(matchFrom)
	r.MatchSubject = nullToPtr(matchSubject)
	r.Label = label.String
	r.Active = boolOf(active)
	if postAction.Valid {
		pa := model.ParsePostAction(postAction.String)
		r.PostAction = &pa
	}
	r.MoveFolder = moveFolder.String
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

func (s *sqlStore) GetRule(ctx context.Context, id string) (*model.Rule, error) {
	q := fmt.Sprintf(`SELECT id, account_id, display_name, folder, match_to, match_from,
		match_subject, label, active, post_action, move_folder, created_at, updated_at
		FROM email_rules WHERE id = %s`, s.ph(1))
	r, err := s.scanRule(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, mapErr("get rule", err)
	}
	return r, nil
}

func (s *sqlStore) queryRules(ctx context.Context, where string, args ...any) ([]*model.Rule, error) {
	q := `SELECT id, account_id, display_name, folder, match_to, match_from,
		match_subject, label, active, post_action, move_folder, created_at, updated_at
		FROM email_rules` + where + ` ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr("list rules", err)
	}
	defer rows.Close()
	var out []*model.Rule
	for rows.Next() {
		r, err := s.scanRule(rows)
		if err != nil {
			return nil, mapErr("scan rule", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) ListRules(ctx context.Context) ([]*model.Rule, error) {
	return s.queryRules(ctx, "")
}

func (s *sqlStore) ListRulesByAccount(ctx context.Context, accountID string) ([]*model.Rule, error) {
	return s.queryRules(ctx, fmt.Sprintf(" WHERE account_id = %s", s.ph(1)), accountID)
}

func (s *sqlStore) UpdateRule(ctx context.Context, r *model.Rule) error {
	q := fmt.Sprintf(`UPDATE email_rules SET display_name=%s, folder=%s, match_to=%s, match_from=%s,
		match_subject=%s, label=%s, active=%s, post_action=%s, move_folder=%s, updated_at=%s
		WHERE id=%s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10), s.ph(11))
	res, err := s.db.ExecContext(ctx, q,
		r.DisplayName, r.Folder, nullStr(r.MatchTo), nullStr(r.MatchFrom), nullStr(r.MatchSubject),
		r.Label, s.bindBool(r.Active), postActionPtr(r.PostAction), r.MoveFolder, isoNow(), r.ID)
	if err != nil {
		return mapErr("update rule", err)
	}
	return checkAffected(res, "update rule")
}

func (s *sqlStore) DeleteRule(ctx context.Context, id string) error {
	q := fmt.Sprintf("DELETE FROM email_rules WHERE id = %s", s.ph(1))
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return mapErr("delete rule", err)
	}
	return checkAffected(res, "delete rule")
}

// --- Feed ---

func (s *sqlStore) CreateFeed(ctx context.Context, f *model.Feed) error {
	q := fmt.Sprintf(`INSERT INTO feeds
		(id, rule_id, title, description, link, feed_type, active, max_items, max_age_days,
		 min_items, created_at, updated_at) VALUES (%s)`, s.placeholders(12))
	_, err := s.db.ExecContext(ctx, q,
		f.ID, f.RuleID, f.Title, f.Description, f.Link, string(f.FeedType), s.bindBool(f.Active),
		f.MaxItems, f.MaxAgeDays, f.MinItems, f.CreatedAt.UTC().Format(timeLayout), f.UpdatedAt.UTC().Format(timeLayout))
	return mapErr("create feed", err)
}

func (s *sqlStore) scanFeed(row rowScanner) (*model.Feed, error) {
	var f model.Feed
	var active any
	var description, link sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&f.ID, &f.RuleID, &f.Title, &description, &link, &f.FeedType, &active,
		&f.MaxItems, &f.MaxAgeDays, &f.MinItems, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	f.Description = description.String
	f.Link = link.String
	f.Active = boolOf(active)
	f.CreatedAt = parseTime(createdAt)
	f.UpdatedAt = parseTime(updatedAt)
	f.NormalizeRetention()
	return &f, nil
}

func (s *sqlStore) GetFeed(ctx context.Context, id string) (*model.Feed, error) {
	q := fmt.Sprintf(`SELECT id, rule_id, title, description, link, feed_type, active,
		max_items, max_age_days, min_items, created_at, updated_at FROM feeds WHERE id = %s`, s.ph(1))
	f, err := s.scanFeed(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, mapErr("get feed", err)
	}
	return f, nil
}

func (s *sqlStore) queryFeeds(ctx context.Context, where string, args ...any) ([]*model.Feed, error) {
	q := `SELECT id, rule_id, title, description, link, feed_type, active,
		max_items, max_age_days, min_items, created_at, updated_at FROM feeds` + where + ` ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr("list feeds", err)
	}
	defer rows.Close()
	var out []*model.Feed
	for rows.Next() {
		f, err := s.scanFeed(rows)
		if err != nil {
			return nil, mapErr("scan feed", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *sqlStore) ListFeeds(ctx context.Context) ([]*model.Feed, error) {
	return s.queryFeeds(ctx, "")
}

func (s *sqlStore) ListFeedsByRule(ctx context.Context, ruleID string) ([]*model.Feed, error) {
	return s.queryFeeds(ctx, fmt.Sprintf(" WHERE rule_id = %s", s.ph(1)), ruleID)
}

func (s *sqlStore) UpdateFeed(ctx context.Context, f *model.Feed) error {
	q := fmt.Sprintf(`UPDATE feeds SET title=%s, description=%s, link=%s, feed_type=%s, active=%s,
		max_items=%s, max_age_days=%s, min_items=%s, updated_at=%s WHERE id=%s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10))
	res, err := s.db.ExecContext(ctx, q,
		f.Title, f.Description, f.Link, string(f.FeedType), s.bindBool(f.Active),
		f.MaxItems, f.MaxAgeDays, f.MinItems, isoNow(), f.ID)
	if err != nil {
		return mapErr("update feed", err)
	}
	return checkAffected(res, "update feed")
}

func (s *sqlStore) DeleteFeed(ctx context.Context, id string) error {
	q := fmt.Sprintf("DELETE FROM feeds WHERE id = %s", s.ph(1))
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return mapErr("delete feed", err)
	}
	return checkAffected(res, "delete feed")
}

// --- FeedItem ---

func (s *sqlStore) scanItem(row rowScanner) (*model.FeedItem, error) {
	var it model.FeedItem
	var description, link, author, messageID, subject, from, body sql.NullString
	var isRead, starred any
	var pubDate, createdAt string
	if err := row.Scan(&it.ID, &it.FeedID, &it.Title, &description, &link, &author, &pubDate,
		&messageID, &subject, &from, &body, &createdAt, &isRead, &starred, &it.BodySize); err != nil {
		return nil, err
	}
	it.Description = description.String
	it.Link = link.String
	it.Author = author.String
	it.EmailMessageID = messageID.String
	it.EmailSubject = subject.String
	it.EmailFrom = from.String
	it.EmailBody = body.String
	it.PubDate = parseTime(pubDate)
	it.CreatedAt = parseTime(createdAt)
	it.IsRead = boolOf(isRead)
	it.Starred = boolOf(starred)
	return &it, nil
}

const itemColumns = `id, feed_id, title, description, link, author, pub_date, email_message_id,
	email_subject, email_from, email_body, created_at, is_read, starred, body_size`

func (s *sqlStore) ListItemsByFeed(ctx context.Context, feedID string, limit int) ([]*model.FeedItem, error) {
	q := fmt.Sprintf("SELECT %s FROM feed_items WHERE feed_id = %s ORDER BY pub_date DESC", itemColumns, s.ph(1))
	args := []any{feedID}
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %s", s.ph(2))
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr("list feed items", err)
	}
	defer rows.Close()
	var out []*model.FeedItem
	for rows.Next() {
		it, err := s.scanItem(rows)
		if err != nil {
			return nil, mapErr("scan feed item", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetItemByEmailMessageID(ctx context.Context, feedID, messageID string) (*model.FeedItem, error) {
	q := fmt.Sprintf("SELECT %s FROM feed_items WHERE feed_id = %s AND email_message_id = %s",
		itemColumns, s.ph(1), s.ph(2))
	it, err := s.scanItem(s.db.QueryRowContext(ctx, q, feedID, messageID))
	if err != nil {
		return nil, mapErr("get feed item by message id", err)
	}
	return it, nil
}

// CountItemsBySubjectFromDate implements the fallback duplicate probe: same
// feed, same subject, same sender, and a pub_date whose ISO-8601 string
// matches exactly. String equality, not a time-range compare, is intentional
// here — it mirrors the behavior this system is replacing bit for bit.
func (s *sqlStore) CountItemsBySubjectFromDate(ctx context.Context, feedID, title, from, pubDateISO string) (int, error) {
	q := fmt.Sprintf(`SELECT COUNT(*) FROM feed_items
		WHERE feed_id = %s AND title = %s AND author = %s AND pub_date = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	var count int
	err := s.db.QueryRowContext(ctx, q, feedID, title, from, pubDateISO).Scan(&count)
	if err != nil {
		return 0, mapErr("count feed items by subject", err)
	}
	return count, nil
}

func (s *sqlStore) InsertItem(ctx context.Context, item *model.FeedItem) error {
	q := fmt.Sprintf(`INSERT INTO feed_items
		(%s) VALUES (%s)`, itemColumns, s.placeholders(15))
	_, err := s.db.ExecContext(ctx, q,
		item.ID, item.FeedID, item.Title, item.Description, item.Link, item.Author,
		item.PubDate.UTC().Format(timeLayout), item.EmailMessageID, item.EmailSubject,
		item.EmailFrom, item.EmailBody, item.CreatedAt.UTC().Format(timeLayout),
		s.bindBool(item.IsRead), s.bindBool(item.Starred), item.BodySize)
	return mapErr("insert feed item", err)
}

func (s *sqlStore) DeleteItem(ctx context.Context, id string) error {
	q := fmt.Sprintf("DELETE FROM feed_items WHERE id = %s", s.ph(1))
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return mapErr("delete feed item", err)
	}
	return checkAffected(res, "delete feed item")
}

func (s *sqlStore) UpdateItemFlags(ctx context.Context, id string, isRead, starred *bool) error {
	if isRead == nil && starred == nil {
		return nil
	}
	set := ""
	args := []any{}
	n := 1
	if isRead != nil {
		set += fmt.Sprintf("is_read = %s", s.ph(n))
		args = append(args, s.bindBool(*isRead))
		n++
	}
	if starred != nil {
		if set != "" {
			set += ", "
		}
		set += fmt.Sprintf("starred = %s", s.ph(n))
		args = append(args, s.bindBool(*starred))
		n++
	}
	q := fmt.Sprintf("UPDATE feed_items SET %s WHERE id = %s", set, s.ph(n))
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return mapErr("update feed item flags", err)
	}
	return checkAffected(res, "update feed item flags")
}

// --- shared helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func checkAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.KindStore, op, err)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func nullStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func postActionPtr(p *model.PostAction) any {
	if p == nil {
		return nil
	}
	return string(*p)
}
