package store

import (
	"context"

	"github.com/fenilsonani/feedmailer/internal/model"
	"github.com/fenilsonani/feedmailer/internal/secret"
)

// encryptedStore wraps a Store so that Account.Password is encrypted at
// rest and decrypted on the way back out. Every other caller in this
// codebase — Processor, Scheduler, the management API — always sees
// plaintext passwords; only the bytes that reach the database are
// encrypted.
type encryptedStore struct {
	Store
	box *secret.Box
}

// WithSecretBox decorates inner so Account passwords are encrypted before
// they reach the database and decrypted on every read. box may be nil, in
// which case passwords are stored as-is (development/testing only).
func WithSecretBox(inner Store, box *secret.Box) Store {
	if box == nil {
		return inner
	}
	return &encryptedStore{Store: inner, box: box}
}

func (s *encryptedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	encrypted, err := s.box.Encrypt(a.Password)
	if err != nil {
		return err
	}
	clone := *a
	clone.Password = encrypted
	return s.Store.CreateAccount(ctx, &clone)
}

func (s *encryptedStore) UpdateAccount(ctx context.Context, a *model.Account) error {
	encrypted, err := s.box.Encrypt(a.Password)
	if err != nil {
		return err
	}
	clone := *a
	clone.Password = encrypted
	return s.Store.UpdateAccount(ctx, &clone)
}

func (s *encryptedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	a, err := s.Store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.decryptInPlace(a)
}

func (s *encryptedStore) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	accounts, err := s.Store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	return s.decryptAll(accounts)
}

func (s *encryptedStore) ListActiveAccounts(ctx context.Context) ([]*model.Account, error) {
	accounts, err := s.Store.ListActiveAccounts(ctx)
	if err != nil {
		return nil, err
	}
	return s.decryptAll(accounts)
}

func (s *encryptedStore) decryptInPlace(a *model.Account) (*model.Account, error) {
	plaintext, err := s.box.Decrypt(a.Password)
	if err != nil {
		return nil, err
	}
	a.Password = plaintext
	return a, nil
}

func (s *encryptedStore) decryptAll(accounts []*model.Account) ([]*model.Account, error) {
	for _, a := range accounts {
		if _, err := s.decryptInPlace(a); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}
