package store

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/fenilsonani/feedmailer/internal/model"
	"github.com/fenilsonani/feedmailer/internal/secret"
)

// memAccountStore is a minimal Store covering only the Account methods the
// encrypt decorator touches; every other method except Close panics if called.
type memAccountStore struct {
	accounts map[string]*model.Account
}

func newMemAccountStore() *memAccountStore {
	return &memAccountStore{accounts: map[string]*model.Account{}}
}

func (m *memAccountStore) CreateAccount(_ context.Context, a *model.Account) error {
	clone := *a
	m.accounts[a.ID] = &clone
	return nil
}

func (m *memAccountStore) UpdateAccount(_ context.Context, a *model.Account) error {
	clone := *a
	m.accounts[a.ID] = &clone
	return nil
}

func (m *memAccountStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	a := *m.accounts[id]
	return &a, nil
}

func (m *memAccountStore) ListAccounts(_ context.Context) ([]*model.Account, error) {
	var out []*model.Account
	for _, a := range m.accounts {
		clone := *a
		out = append(out, &clone)
	}
	return out, nil
}

func (m *memAccountStore) ListActiveAccounts(ctx context.Context) ([]*model.Account, error) {
	return m.ListAccounts(ctx)
}

func (m *memAccountStore) DeleteAccount(context.Context, string) error { panic("unused") }

func (m *memAccountStore) CreateRule(context.Context, *model.Rule) error        { panic("unused") }
func (m *memAccountStore) GetRule(context.Context, string) (*model.Rule, error) { panic("unused") }
func (m *memAccountStore) ListRules(context.Context) ([]*model.Rule, error)     { panic("unused") }
func (m *memAccountStore) ListRulesByAccount(context.Context, string) ([]*model.Rule, error) {
	panic("unused")
}
func (m *memAccountStore) UpdateRule(context.Context, *model.Rule) error { panic("unused") }
func (m *memAccountStore) DeleteRule(context.Context, string) error      { panic("unused") }

func (m *memAccountStore) CreateFeed(context.Context, *model.Feed) error        { panic("unused") }
func (m *memAccountStore) GetFeed(context.Context, string) (*model.Feed, error) { panic("unused") }
func (m *memAccountStore) ListFeeds(context.Context) ([]*model.Feed, error)     { panic("unused") }
func (m *memAccountStore) ListFeedsByRule(context.Context, string) ([]*model.Feed, error) {
	panic("unused")
}
func (m *memAccountStore) UpdateFeed(context.Context, *model.Feed) error { panic("unused") }
func (m *memAccountStore) DeleteFeed(context.Context, string) error     { panic("unused") }

func (m *memAccountStore) ListItemsByFeed(context.Context, string, int) ([]*model.FeedItem, error) {
	panic("unused")
}
func (m *memAccountStore) GetItemByEmailMessageID(context.Context, string, string) (*model.FeedItem, error) {
	panic("unused")
}
func (m *memAccountStore) CountItemsBySubjectFromDate(context.Context, string, string, string, string) (int, error) {
	panic("unused")
}
func (m *memAccountStore) InsertItem(context.Context, *model.FeedItem) error { panic("unused") }
func (m *memAccountStore) DeleteItem(context.Context, string) error          { panic("unused") }
func (m *memAccountStore) UpdateItemFlags(context.Context, string, *bool, *bool) error {
	panic("unused")
}

func (m *memAccountStore) Stats(context.Context) (Stats, error) { panic("unused") }
func (m *memAccountStore) Close() error                         { return nil }

var _ Store = (*memAccountStore)(nil)

func testBox(t *testing.T) *secret.Box {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	box, err := secret.NewBox(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("secret.NewBox() error = %v", err)
	}
	return box
}

func TestWithSecretBox_NilBoxPassesThrough(t *testing.T) {
	inner := newMemAccountStore()
	s := WithSecretBox(inner, nil)
	if s != Store(inner) {
		t.Error("expected nil box to return the inner store unwrapped")
	}
}

func TestWithSecretBox_EncryptsAtRestDecryptsOnRead(t *testing.T) {
	inner := newMemAccountStore()
	s := WithSecretBox(inner, testBox(t))
	ctx := context.Background()

	acct := &model.Account{ID: "acct1", Password: "hunter2"}
	if err := s.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}

	raw := inner.accounts["acct1"]
	if raw.Password == "hunter2" {
		t.Error("expected password to be encrypted in the underlying store")
	}

	got, err := s.GetAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if got.Password != "hunter2" {
		t.Errorf("GetAccount() password = %q, want plaintext round trip", got.Password)
	}
}

func TestWithSecretBox_ListAccountsDecryptsAll(t *testing.T) {
	inner := newMemAccountStore()
	s := WithSecretBox(inner, testBox(t))
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := s.CreateAccount(ctx, &model.Account{ID: id, Password: "pw-" + id}); err != nil {
			t.Fatalf("CreateAccount() error = %v", err)
		}
	}

	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts() error = %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	for _, a := range accounts {
		if a.Password != "pw-"+a.ID {
			t.Errorf("account %s password = %q, want plaintext round trip", a.ID, a.Password)
		}
	}
}
