package credential

import (
	"context"
	"fmt"

	"github.com/eternisai/chatgpt-pool-gateway/internal/storage/pg/sqlc"
)

// Account is the decrypted, in-memory view of a stored upstream credential.
// The password never leaves the store as plaintext except through this type.
type Account struct {
	Email       string
	Password    string
	AccessToken string
	Puid        string
	IsActive    bool
}

// Store persists upstream accounts encrypted at rest, decrypting on load.
// Mutated by the admin surface and the token lifecycle worker.
type Store struct {
	queries sqlc.Querier
	cipher  *Cipher
}

// NewStore wires a query layer to a cipher. Both are required.
func NewStore(queries sqlc.Querier, cipher *Cipher) *Store {
	return &Store{queries: queries, cipher: cipher}
}

// CreateAccount encrypts password and persists a new account row. The row
// starts active but with no access token yet.
func (s *Store) CreateAccount(ctx context.Context, email, password string) (*Account, error) {
	ciphertext, err := s.cipher.Encrypt(password)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt password for %s: %w", email, err)
	}

	row, err := s.queries.CreateAccount(ctx, sqlc.CreateAccountParams{
		Email:              email,
		PasswordCiphertext: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create account %s: %w", email, err)
	}

	return &Account{Email: row.Email, Password: password, IsActive: row.IsActive}, nil
}

// GetAccount loads and decrypts a single account by email.
func (s *Store) GetAccount(ctx context.Context, email string) (*Account, error) {
	row, err := s.queries.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return s.fromRow(row)
}

// ListActiveAccounts loads and decrypts every account with is_active = true.
// Used by the token lifecycle worker to build its health-check backlog.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := s.queries.ListActiveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active accounts: %w", err)
	}

	out := make([]*Account, 0, len(rows))
	for _, row := range rows {
		account, err := s.fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, nil
}

// UpdateToken persists a freshly logged-in access token and puid for an
// account. Called by the token lifecycle worker after a successful login.
func (s *Store) UpdateToken(ctx context.Context, email, accessToken, puid string) error {
	return s.queries.UpdateAccountToken(ctx, sqlc.UpdateAccountTokenParams{
		Email:       email,
		AccessToken: accessToken,
		Puid:        puid,
	})
}

// SetActive flips an account's health flag. Inactive accounts are left out
// of ListActiveAccounts, so the lifecycle worker's health check skips them.
// Clearing the flag does not evict a session already in the scheduler's
// pool.
func (s *Store) SetActive(ctx context.Context, email string, active bool) error {
	return s.queries.SetAccountActive(ctx, sqlc.SetAccountActiveParams{
		Email:    email,
		IsActive: active,
	})
}

func (s *Store) fromRow(row sqlc.Account) (*Account, error) {
	password, err := s.cipher.Decrypt(row.PasswordCiphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt password for %s: %w", row.Email, err)
	}

	return &Account{
		Email:       row.Email,
		Password:    password,
		AccessToken: row.AccessToken,
		Puid:        row.Puid,
		IsActive:    row.IsActive,
	}, nil
}
