package credential

import (
	"context"
	"database/sql"
	"testing"

	"github.com/eternisai/chatgpt-pool-gateway/internal/storage/pg/sqlc"
)

// fakeQuerier is an in-memory stand-in for sqlc.Querier, keyed by email.
type fakeQuerier struct {
	accounts map[string]sqlc.Account
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{accounts: make(map[string]sqlc.Account)}
}

func (f *fakeQuerier) CreateAccount(ctx context.Context, arg sqlc.CreateAccountParams) (sqlc.Account, error) {
	if _, exists := f.accounts[arg.Email]; exists {
		return sqlc.Account{}, sql.ErrNoRows
	}
	a := sqlc.Account{
		ID:                 int64(len(f.accounts) + 1),
		Email:              arg.Email,
		PasswordCiphertext: arg.PasswordCiphertext,
		IsActive:           true,
	}
	f.accounts[arg.Email] = a
	return a, nil
}

func (f *fakeQuerier) GetAccountByEmail(ctx context.Context, email string) (sqlc.Account, error) {
	a, ok := f.accounts[email]
	if !ok {
		return sqlc.Account{}, sql.ErrNoRows
	}
	return a, nil
}

func (f *fakeQuerier) ListActiveAccounts(ctx context.Context) ([]sqlc.Account, error) {
	var out []sqlc.Account
	for _, a := range f.accounts {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeQuerier) UpdateAccountToken(ctx context.Context, arg sqlc.UpdateAccountTokenParams) error {
	a, ok := f.accounts[arg.Email]
	if !ok {
		return sql.ErrNoRows
	}
	a.AccessToken = arg.AccessToken
	a.Puid = arg.Puid
	f.accounts[arg.Email] = a
	return nil
}

func (f *fakeQuerier) SetAccountActive(ctx context.Context, arg sqlc.SetAccountActiveParams) error {
	a, ok := f.accounts[arg.Email]
	if !ok {
		return sql.ErrNoRows
	}
	a.IsActive = arg.IsActive
	f.accounts[arg.Email] = a
	return nil
}

func (f *fakeQuerier) GetUserByOpenID(ctx context.Context, openid string) (sqlc.User, error) {
	return sqlc.User{}, sql.ErrNoRows
}
func (f *fakeQuerier) CreateUser(ctx context.Context, arg sqlc.CreateUserParams) (sqlc.User, error) {
	return sqlc.User{}, nil
}
func (f *fakeQuerier) UpdateUserConversationID(ctx context.Context, arg sqlc.UpdateUserConversationIDParams) error {
	return nil
}
func (f *fakeQuerier) GetConversationByID(ctx context.Context, conversationID string) (sqlc.Conversation, error) {
	return sqlc.Conversation{}, sql.ErrNoRows
}
func (f *fakeQuerier) CreateConversation(ctx context.Context, arg sqlc.CreateConversationParams) (sqlc.Conversation, error) {
	return sqlc.Conversation{}, nil
}
func (f *fakeQuerier) UpdateConversationCurrentNode(ctx context.Context, arg sqlc.UpdateConversationCurrentNodeParams) error {
	return nil
}
func (f *fakeQuerier) CreateMessage(ctx context.Context, arg sqlc.CreateMessageParams) error {
	return nil
}
func (f *fakeQuerier) GetChatInfo(ctx context.Context, openid string) (sqlc.ChatInfoRow, error) {
	return sqlc.ChatInfoRow{}, sqlc.ErrNotFound
}

var _ sqlc.Querier = (*fakeQuerier)(nil)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cipher, err := NewCipher("test-secret-key")
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	return NewStore(newFakeQuerier(), cipher)
}

func TestStoreCreateAndGetAccountRoundTripsPassword(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	created, err := store.CreateAccount(ctx, "user@example.com", "hunter2")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if created.Password != "hunter2" {
		t.Fatalf("CreateAccount returned password %q, want hunter2", created.Password)
	}

	got, err := store.GetAccount(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Password != "hunter2" {
		t.Errorf("GetAccount decrypted password = %q, want hunter2", got.Password)
	}
	if !got.IsActive {
		t.Error("newly created account should be active")
	}
}

func TestStoreUpdateToken(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.CreateAccount(ctx, "user@example.com", "hunter2"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	if err := store.UpdateToken(ctx, "user@example.com", "access-token-abc", "puid-123"); err != nil {
		t.Fatalf("UpdateToken: %v", err)
	}

	got, err := store.GetAccount(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.AccessToken != "access-token-abc" || got.Puid != "puid-123" {
		t.Errorf("GetAccount after UpdateToken = %+v, want token/puid set", got)
	}
}

func TestStoreSetActive(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.CreateAccount(ctx, "user@example.com", "hunter2"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	if err := store.SetActive(ctx, "user@example.com", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	active, err := store.ListActiveAccounts(ctx)
	if err != nil {
		t.Fatalf("ListActiveAccounts: %v", err)
	}
	for _, a := range active {
		if a.Email == "user@example.com" {
			t.Error("deactivated account should not appear in ListActiveAccounts")
		}
	}
}

func TestStoreGetAccountNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.GetAccount(ctx, "missing@example.com"); err == nil {
		t.Error("expected error for unknown account")
	}
}
