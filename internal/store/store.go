// Package store provides durable CRUD for accounts, rules, feeds, and feed
// items, plus the duplicate-query primitive the Processor depends on. Two
// engines are supported — SQLite and PostgreSQL — selected by the
// DATABASE_URL prefix, both speaking the same Store interface.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fenilsonani/feedmailer/internal/apperr"
	"github.com/fenilsonani/feedmailer/internal/model"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrationsFS embed.FS

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

// Store is the durable CRUD surface the Processor, Scheduler, Retention
// Compactor, and HTTP adapters depend on. Both engines implement it
// identically; callers never branch on engine.
type Store interface {
	CreateAccount(ctx context.Context, a *model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]*model.Account, error)
	ListActiveAccounts(ctx context.Context) ([]*model.Account, error)
	UpdateAccount(ctx context.Context, a *model.Account) error
	DeleteAccount(ctx context.Context, id string) error

	CreateRule(ctx context.Context, r *model.Rule) error
	GetRule(ctx context.Context, id string) (*model.Rule, error)
	ListRules(ctx context.Context) ([]*model.Rule, error)
	ListRulesByAccount(ctx context.Context, accountID string) ([]*model.Rule, error)
	UpdateRule(ctx context.Context, r *model.Rule) error
	DeleteRule(ctx context.Context, id string) error

	CreateFeed(ctx context.Context, f *model.Feed) error
	GetFeed(ctx context.Context, id string) (*model.Feed, error)
	ListFeeds(ctx context.Context) ([]*model.Feed, error)
	ListFeedsByRule(ctx context.Context, ruleID string) ([]*model.Feed, error)
	UpdateFeed(ctx context.Context, f *model.Feed) error
	DeleteFeed(ctx context.Context, id string) error

	ListItemsByFeed(ctx context.Context, feedID string, limit int) ([]*model.FeedItem, error)
	GetItemByEmailMessageID(ctx context.Context, feedID, messageID string) (*model.FeedItem, error)
	CountItemsBySubjectFromDate(ctx context.Context, feedID, title, from, pubDateISO string) (int, error)
	InsertItem(ctx context.Context, item *model.FeedItem) error
	DeleteItem(ctx context.Context, id string) error
	UpdateItemFlags(ctx context.Context, id string, isRead, starred *bool) error

	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Stats is a cheap snapshot used by the health endpoint and admin dashboard.
type Stats struct {
	Accounts  int
	Rules     int
	Feeds     int
	FeedItems int
}

// Open selects an engine by the DATABASE_URL prefix and returns a ready,
// migrated Store: "postgres://" or "postgresql://" for PostgreSQL, anything
// else (a file path or ":memory:") for SQLite.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return openEngine(ctx, "postgres", databaseURL, dialectPostgres, postgresMigrationsFS, "migrations/postgres")
	default:
		dsn := databaseURL
		if dsn != ":memory:" {
			dsn = fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", databaseURL)
		}
		return openEngine(ctx, "sqlite3", dsn, dialectSQLite, sqliteMigrationsFS, "migrations/sqlite")
	}
}

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlStore implements Store over database/sql with a dialect switch for the
// handful of places SQLite and PostgreSQL syntax diverge (placeholder style,
// boolean literals). Everything else — queries, scanning, CRUD shape — is
// shared, matching the "Store interface with two implementations and a
// factory keyed on URL prefix" design noted for this system.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

func openEngine(ctx context.Context, driver, dsn string, d dialect, migFS embed.FS, migDir string) (Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "open database", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.KindStore, "ping database", err)
	}

	s := &sqlStore{db: db, dialect: d}
	if err := s.migrate(ctx, migFS, migDir); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) Close() error { return s.db.Close() }

// ph renders the n-th (1-indexed) placeholder for the active dialect.
func (s *sqlStore) ph(n int) string {
	if s.dialect == dialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// placeholders renders a comma-joined placeholder list starting at index 1.
func (s *sqlStore) placeholders(count int) string {
	parts := make([]string, count)
	for i := 0; i < count; i++ {
		parts[i] = s.ph(i + 1)
	}
	return strings.Join(parts, ", ")
}

func (s *sqlStore) bindBool(v bool) any {
	if s.dialect == dialectPostgres {
		return v
	}
	if v {
		return 1
	}
	return 0
}

func isoNow() string { return time.Now().UTC().Format(time.RFC3339) }

type migration struct {
	version int
	sql     string
}

func (s *sqlStore) migrate(ctx context.Context, migFS embed.FS, dir string) error {
	createVersionTable := "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)"
	if _, err := s.db.ExecContext(ctx, createVersionTable); err != nil {
		return apperr.Wrap(apperr.KindStore, "create schema_migrations", err)
	}

	var current int
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&current); err != nil {
		return apperr.Wrap(apperr.KindStore, "read schema version", err)
	}

	entries, err := migFS.ReadDir(dir)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "read migrations", err)
	}

	var migrations []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		parts := strings.SplitN(entry.Name(), "_", 2)
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		content, err := migFS.ReadFile(dir + "/" + entry.Name())
		if err != nil {
			return apperr.Wrap(apperr.KindStore, "read migration "+entry.Name(), err)
		}
		migrations = append(migrations, migration{version: version, sql: string(content)})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return apperr.Wrap(apperr.KindStore, "begin migration tx", err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return apperr.Wrap(apperr.KindStore, fmt.Sprintf("apply migration %d", m.version), err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO schema_migrations (version) VALUES (%s)", s.ph(1)), m.version); err != nil {
			tx.Rollback()
			return apperr.Wrap(apperr.KindStore, "record migration version", err)
		}
		if err := tx.Commit(); err != nil {
			return apperr.Wrap(apperr.KindStore, "commit migration", err)
		}
	}
	return nil
}

func (s *sqlStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	for table, dst := range map[string]*int{
		"imap_accounts": &st.Accounts,
		"email_rules":   &st.Rules,
		"feeds":         &st.Feeds,
		"feed_items":    &st.FeedItems,
	} {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(dst); err != nil {
			return Stats{}, apperr.Wrap(apperr.KindStore, "stats", err)
		}
	}
	return st, nil
}
