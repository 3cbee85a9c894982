// Package sqlc holds the generated-style query layer for the metadata store
// (accounts, conversations, messages, users). It is hand-written in the shape
// sqlc would emit — a Queries struct plus Params/row types per statement — so
// callers depend on a narrow, typed surface instead of raw SQL.
package sqlc

// Account is the persisted form of an upstream credential.
type Account struct {
	ID                int64
	Email             string
	PasswordCiphertext []byte
	AccessToken       string
	Puid              string
	IsActive          bool
}

// Conversation is a conversation thread owned by one account.
type Conversation struct {
	ID              int64
	ConversationID  string
	CurrentNode     string
	Title           string
	OwnerEmail      string
	UserID          *int64
	IsActive        bool
	Status          string
}

// User is an end-user identified by openid, pointing at their active conversation.
type User struct {
	ID             int64
	OpenID         string
	ConversationID string
}

// Message is one turn persisted for history/audit purposes.
type Message struct {
	ID             int64
	MessageID      string
	Author         []byte // raw JSON, e.g. {"role":"assistant"}
	ParentID       *string
	ConversationID string
}
