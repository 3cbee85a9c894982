package upstream

import "time"

// Event is one parsed assistant turn out of the upstream stream protocol.
// The scheduler drains a session's streaming operation and keeps only the
// last Event it produces, which carries the accumulated text.
type Event struct {
	Author         map[string]interface{}
	Message        string
	ConversationID string
	ParentID       string
	Model          string
	FinishDetails  string
	EndTurn        bool
	Recipient      string
	Citations      []interface{}

	// Email is attached by the scheduler after a successful call, not by the
	// session itself.
	Email string
}

// UpstreamAuthor is the author sub-object of the wire message schema.
type UpstreamAuthor struct {
	Role string `json:"role"`
}

// UpstreamContent is the content sub-object of the wire message schema.
type UpstreamContent struct {
	ContentType string   `json:"content_type"`
	Parts       []string `json:"parts"`
}

// UpstreamMessage is one entry of the upstream request's messages[] list.
type UpstreamMessage struct {
	ID       string                 `json:"id"`
	Author   UpstreamAuthor         `json:"author"`
	Content  UpstreamContent        `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Operation is the closed set of calls the scheduler can drive on a
// Session. The scheduler type-switches on the concrete type to pick the
// matching Session method.
type Operation interface{ isOperation() }

// AskOp constructs a single user message from a prompt string and posts it.
type AskOp struct {
	Prompt                     string
	ConversationID             string
	ParentID                   string
	Model                      string
	AutoContinue               bool
	HistoryAndTrainingDisabled bool
	Timeout                    time.Duration
}

func (AskOp) isOperation() {}

// PostMessagesOp posts a pre-built list of messages.
type PostMessagesOp struct {
	Messages                   []UpstreamMessage
	ConversationID             string
	ParentID                   string
	Model                      string
	AutoContinue               bool
	HistoryAndTrainingDisabled bool
	Timeout                    time.Duration
}

func (PostMessagesOp) isOperation() {}

// ContinueWriteOp asks upstream to keep generating after a max_tokens
// truncation.
type ContinueWriteOp struct {
	ConversationID             string
	ParentID                   string
	Model                      string
	AutoContinue               bool
	HistoryAndTrainingDisabled bool
	Timeout                    time.Duration
}

func (ContinueWriteOp) isOperation() {}
