package sqlc

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNotFound mirrors sql.ErrNoRows under a package-local name so callers
// don't need to import database/sql just to check for it.
var ErrNotFound = sql.ErrNoRows

// Queries is the concrete Querier backed by a *sql.DB.
type Queries struct {
	db *sql.DB
}

// New wraps a connection pool in a Queries.
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

type CreateAccountParams struct {
	Email              string
	PasswordCiphertext []byte
}

const createAccount = `
INSERT INTO accounts (email, password_ciphertext)
VALUES ($1, $2)
RETURNING id, email, password_ciphertext, access_token, puid, is_active
`

func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) (Account, error) {
	var a Account
	row := q.db.QueryRowContext(ctx, createAccount, arg.Email, arg.PasswordCiphertext)
	err := row.Scan(&a.ID, &a.Email, &a.PasswordCiphertext, &a.AccessToken, &a.Puid, &a.IsActive)
	return a, err
}

const getAccountByEmail = `
SELECT id, email, password_ciphertext, access_token, puid, is_active
FROM accounts WHERE email = $1
`

func (q *Queries) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	var a Account
	row := q.db.QueryRowContext(ctx, getAccountByEmail, email)
	err := row.Scan(&a.ID, &a.Email, &a.PasswordCiphertext, &a.AccessToken, &a.Puid, &a.IsActive)
	return a, err
}

const listActiveAccounts = `
SELECT id, email, password_ciphertext, access_token, puid, is_active
FROM accounts WHERE is_active ORDER BY id
`

func (q *Queries) ListActiveAccounts(ctx context.Context) ([]Account, error) {
	rows, err := q.db.QueryContext(ctx, listActiveAccounts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Email, &a.PasswordCiphertext, &a.AccessToken, &a.Puid, &a.IsActive); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type UpdateAccountTokenParams struct {
	Email       string
	AccessToken string
	Puid        string
}

const updateAccountToken = `
UPDATE accounts SET access_token = $2, puid = $3 WHERE email = $1
`

func (q *Queries) UpdateAccountToken(ctx context.Context, arg UpdateAccountTokenParams) error {
	_, err := q.db.ExecContext(ctx, updateAccountToken, arg.Email, arg.AccessToken, arg.Puid)
	return err
}

type SetAccountActiveParams struct {
	Email    string
	IsActive bool
}

const setAccountActive = `
UPDATE accounts SET is_active = $2 WHERE email = $1
`

func (q *Queries) SetAccountActive(ctx context.Context, arg SetAccountActiveParams) error {
	_, err := q.db.ExecContext(ctx, setAccountActive, arg.Email, arg.IsActive)
	return err
}

const getUserByOpenID = `
SELECT id, openid, conversation_id FROM users WHERE openid = $1
`

func (q *Queries) GetUserByOpenID(ctx context.Context, openid string) (User, error) {
	var u User
	row := q.db.QueryRowContext(ctx, getUserByOpenID, openid)
	err := row.Scan(&u.ID, &u.OpenID, &u.ConversationID)
	return u, err
}

type CreateUserParams struct {
	OpenID         string
	ConversationID string
}

const createUser = `
INSERT INTO users (openid, conversation_id) VALUES ($1, $2)
RETURNING id, openid, conversation_id
`

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	var u User
	row := q.db.QueryRowContext(ctx, createUser, arg.OpenID, arg.ConversationID)
	err := row.Scan(&u.ID, &u.OpenID, &u.ConversationID)
	return u, err
}

type UpdateUserConversationIDParams struct {
	OpenID         string
	ConversationID string
}

const updateUserConversationID = `
UPDATE users SET conversation_id = $2 WHERE openid = $1
`

func (q *Queries) UpdateUserConversationID(ctx context.Context, arg UpdateUserConversationIDParams) error {
	_, err := q.db.ExecContext(ctx, updateUserConversationID, arg.OpenID, arg.ConversationID)
	return err
}

const getConversationByID = `
SELECT id, conversation_id, current_node, title, owner_email, user_id, is_active, status
FROM conversations WHERE conversation_id = $1
`

func (q *Queries) GetConversationByID(ctx context.Context, conversationID string) (Conversation, error) {
	var c Conversation
	row := q.db.QueryRowContext(ctx, getConversationByID, conversationID)
	err := row.Scan(&c.ID, &c.ConversationID, &c.CurrentNode, &c.Title, &c.OwnerEmail, &c.UserID, &c.IsActive, &c.Status)
	return c, err
}

type CreateConversationParams struct {
	ConversationID string
	CurrentNode    string
	OwnerEmail     string
	UserID         int64
}

const createConversation = `
INSERT INTO conversations (conversation_id, current_node, owner_email, user_id)
VALUES ($1, $2, $3, $4)
RETURNING id, conversation_id, current_node, title, owner_email, user_id, is_active, status
`

func (q *Queries) CreateConversation(ctx context.Context, arg CreateConversationParams) (Conversation, error) {
	var c Conversation
	row := q.db.QueryRowContext(ctx, createConversation, arg.ConversationID, arg.CurrentNode, arg.OwnerEmail, arg.UserID)
	err := row.Scan(&c.ID, &c.ConversationID, &c.CurrentNode, &c.Title, &c.OwnerEmail, &c.UserID, &c.IsActive, &c.Status)
	return c, err
}

type UpdateConversationCurrentNodeParams struct {
	ConversationID string
	CurrentNode    string
}

const updateConversationCurrentNode = `
UPDATE conversations SET current_node = $2, update_time = now() WHERE conversation_id = $1
`

func (q *Queries) UpdateConversationCurrentNode(ctx context.Context, arg UpdateConversationCurrentNodeParams) error {
	_, err := q.db.ExecContext(ctx, updateConversationCurrentNode, arg.ConversationID, arg.CurrentNode)
	return err
}

type CreateMessageParams struct {
	MessageID      string
	Author         []byte
	ParentID       *string
	ConversationID string
}

const createMessage = `
INSERT INTO messages (message_id, author, parent_id, conversation_id)
VALUES ($1, $2, $3, $4)
`

func (q *Queries) CreateMessage(ctx context.Context, arg CreateMessageParams) error {
	_, err := q.db.ExecContext(ctx, createMessage, arg.MessageID, arg.Author, arg.ParentID, arg.ConversationID)
	return err
}

// ChatInfoRow is the joined (user, conversation) view the binder resolves on
// every prompt turn: which account owns the user's thread, and where it left off.
type ChatInfoRow struct {
	Email          string
	ConversationID string
	ParentID       string
}

const getChatInfo = `
SELECT c.owner_email, c.conversation_id, c.current_node
FROM users u
JOIN conversations c ON c.conversation_id = u.conversation_id
WHERE u.openid = $1
`

// GetChatInfo resolves the email/conversation/parent triple for an openid.
// Returns ErrNotFound if there is no user row, or if the user has no
// conversation yet (both cases are "fresh" as far as the scheduler cares).
func (q *Queries) GetChatInfo(ctx context.Context, openid string) (ChatInfoRow, error) {
	var row ChatInfoRow
	err := q.db.QueryRowContext(ctx, getChatInfo, openid).Scan(&row.Email, &row.ConversationID, &row.ParentID)
	if errors.Is(err, sql.ErrNoRows) {
		return ChatInfoRow{}, ErrNotFound
	}
	return row, err
}
