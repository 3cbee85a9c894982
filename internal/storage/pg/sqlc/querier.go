package sqlc

import "context"

// Querier is the narrow interface the credential store and conversation
// binder depend on, so both can be faked in tests without a real Postgres.
type Querier interface {
	CreateAccount(ctx context.Context, arg CreateAccountParams) (Account, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	ListActiveAccounts(ctx context.Context) ([]Account, error)
	UpdateAccountToken(ctx context.Context, arg UpdateAccountTokenParams) error
	SetAccountActive(ctx context.Context, arg SetAccountActiveParams) error

	GetUserByOpenID(ctx context.Context, openid string) (User, error)
	CreateUser(ctx context.Context, arg CreateUserParams) (User, error)
	UpdateUserConversationID(ctx context.Context, arg UpdateUserConversationIDParams) error

	GetConversationByID(ctx context.Context, conversationID string) (Conversation, error)
	CreateConversation(ctx context.Context, arg CreateConversationParams) (Conversation, error)
	UpdateConversationCurrentNode(ctx context.Context, arg UpdateConversationCurrentNodeParams) error

	CreateMessage(ctx context.Context, arg CreateMessageParams) error

	GetChatInfo(ctx context.Context, openid string) (ChatInfoRow, error)
}

var _ Querier = (*Queries)(nil)
