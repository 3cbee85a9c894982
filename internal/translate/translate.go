// Package translate adapts the public OpenAI-compatible completion schema
// to the upstream request schema and back, including the critic-role
// prompt-injection scheme that lets function declarations ride along in
// plain assistant text.
package translate

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/eternisai/chatgpt-pool-gateway/internal/upstream"
	"github.com/google/uuid"
)

// functionPromptTemplate is the critic-role system message instructing the
// model how to emit function calls inside plain assistant text.
const functionPromptTemplate = `rules:
    1. Depending on the user's request, decide whether to call one of the
       functions listed below for additional data.
    2. If no function call is needed, answer the request directly from your
       own knowledge.
    3. Output must be a single JSON object with these properties:
       1) "content" — shown to the user; null if a function call is needed.
       2) "function_calls" — list of {function_name, arguments} objects.
       3) "explanation" — debug information, not shown to the user.
       4) "finish_reason" — one of stop, length, function_call, content_filter.
    4. Do not use markdown syntax or line breaks in the response.
functions: [%s]`

// Function is one OpenAI-style function declaration from the completions
// request body.
type Function struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Message is one entry of the public completions request's messages[] list.
type Message struct {
	Role          string                 `json:"role"`
	Name          string                 `json:"name,omitempty"`
	Content       *string                `json:"content,omitempty"`
	FunctionCall  map[string]interface{} `json:"function_call,omitempty"`
	FunctionCalls []map[string]interface{} `json:"function_calls,omitempty"`
}

// Request is the public POST /v1/chat/completions body.
type Request struct {
	Messages  []Message  `json:"messages"`
	Model     string     `json:"model"`
	Stream    bool       `json:"stream,omitempty"`
	Functions []Function `json:"functions,omitempty"`
}

// ToUpstream renders a public completion request as the upstream operation
// the pool scheduler drives. Function declarations, when present, are
// injected as a leading critic-role message; system messages remap to the
// critic role, and assistant function calls / function results are
// re-serialized as JSON payloads in the message text.
func ToUpstream(req Request, conversationID, parentID string, autoContinue, historyDisabled bool) (upstream.PostMessagesOp, error) {
	model := req.Model
	if strings.HasPrefix(model, "gpt-4") {
		switch model {
		case "gpt-4-browsing", "gpt-4-plugins", "gpt-4-mobile", "gpt-4-code-interpreter":
		default:
			model = "gpt-4"
		}
	}

	var messages []upstream.UpstreamMessage

	if len(req.Functions) > 0 {
		descriptions := make([]string, 0, len(req.Functions))
		for _, fn := range req.Functions {
			raw, err := json.Marshal(fn)
			if err != nil {
				return upstream.PostMessagesOp{}, fmt.Errorf("marshal function declaration %q: %w", fn.Name, err)
			}
			descriptions = append(descriptions, string(raw))
		}
		prompt := fmt.Sprintf(functionPromptTemplate, strings.Join(descriptions, ","))
		messages = append(messages, newMessage("critic", prompt))
	}

	for _, m := range req.Messages {
		role := m.Role
		content := ""
		if m.Content != nil {
			content = *m.Content
		}

		switch role {
		case "system":
			role = "critic"
		case "assistant":
			var calls []map[string]interface{}
			if m.FunctionCall != nil {
				calls = append(calls, m.FunctionCall)
			}
			calls = append(calls, m.FunctionCalls...)
			if len(calls) > 0 {
				raw, err := json.Marshal(map[string]interface{}{"function_calls": calls})
				if err != nil {
					return upstream.PostMessagesOp{}, fmt.Errorf("marshal assistant function_calls: %w", err)
				}
				content = string(raw)
			}
		case "function":
			role = "critic"
			raw, err := json.Marshal(map[string]interface{}{
				"role":     "function",
				"name":     m.Name,
				"response": content,
			})
			if err != nil {
				return upstream.PostMessagesOp{}, fmt.Errorf("marshal function response: %w", err)
			}
			content = string(raw)
		}

		messages = append(messages, newMessage(role, content))
	}

	return upstream.PostMessagesOp{
		Messages:                   messages,
		ConversationID:             conversationID,
		ParentID:                   parentID,
		Model:                      model,
		AutoContinue:               autoContinue,
		HistoryAndTrainingDisabled: historyDisabled,
	}, nil
}

func newMessage(role, content string) upstream.UpstreamMessage {
	return upstream.UpstreamMessage{
		ID:       uuid.NewString(),
		Author:   upstream.UpstreamAuthor{Role: role},
		Content:  upstream.UpstreamContent{ContentType: "text", Parts: []string{content}},
		Metadata: map[string]interface{}{},
	}
}

// Completion is the OpenAI-shaped response rendered from the accumulated
// assistant text.
type Completion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Usage   Usage    `json:"usage"`
	Choices []Choice `json:"choices"`
}

// Usage is always zeroed: the upstream protocol does not report token
// counts.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is the single completion choice the gateway ever returns.
type Choice struct {
	Index        int             `json:"index"`
	FinishReason string          `json:"finish_reason"`
	Message      CompletionMessage `json:"message"`
}

// CompletionMessage carries either plain content or a structured function
// call, never both.
type CompletionMessage struct {
	Role         string      `json:"role"`
	Content      *string     `json:"content"`
	FunctionCall interface{} `json:"function_call"`
}

// functionEnvelope is the structured shape the model is instructed to emit
// when it decides to call one or more functions, per functionPromptTemplate.
type functionEnvelope struct {
	Content       *string       `json:"content"`
	FunctionCalls []interface{} `json:"function_calls"`
	Explanation   string        `json:"explanation"`
	FinishReason  string        `json:"finish_reason"`
}

// NewCompletion renders the accumulated assistant text as a completion
// response, detecting and unpacking a structured function-call envelope
// when present (falling back to plain content on any parse failure).
// finishReason comes from FinishReasonFromDetails on the upstream event's
// finish_details; an envelope that carries its own finish_reason wins.
func NewCompletion(model, fullText, finishReason string) Completion {
	content := &fullText
	var functionCall interface{}
	if finishReason == "" {
		finishReason = "stop"
	}

	if fullText != "" && strings.Contains(fullText, "function_calls") && strings.Contains(fullText, "explanation") {
		var envelope functionEnvelope
		if err := json.Unmarshal([]byte(fullText), &envelope); err == nil {
			if len(envelope.FunctionCalls) > 0 {
				// A function call and content are mutually exclusive in the
				// choice, regardless of what the envelope's content says.
				functionCall = envelope.FunctionCalls
				content = nil
			} else {
				content = envelope.Content
			}
			if envelope.FinishReason != "" {
				finishReason = envelope.FinishReason
			}
		}
	}

	return Completion{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Usage:   Usage{},
		Choices: []Choice{{
			Index:        0,
			FinishReason: finishReason,
			Message: CompletionMessage{
				Role:         "assistant",
				Content:      content,
				FunctionCall: functionCall,
			},
		}},
	}
}

// FinishReasonFromDetails maps upstream finish_details onto OpenAI's
// finish_reason vocabulary, used when no structured function envelope was
// present to supply its own finish_reason.
func FinishReasonFromDetails(details string) string {
	switch details {
	case "max_tokens":
		return "length"
	case "stop", "":
		return "stop"
	default:
		return details
	}
}
