package upstream

import (
	"encoding/json"
	"strings"

	boterrors "github.com/eternisai/chatgpt-pool-gateway/internal/errors"
)

// maxStreamLine bounds a single line of the upstream event stream. Upstream
// events are small JSON objects; the ceiling only guards against a runaway
// response.
const maxStreamLine = 10 * 1024 * 1024

type rawStreamAuthor struct {
	Role string `json:"role"`
}

type rawStreamContent struct {
	ContentType string   `json:"content_type"`
	Parts       []string `json:"parts"`
}

type rawStreamMessage struct {
	ID        string            `json:"id"`
	Author    *rawStreamAuthor  `json:"author"`
	Content   *rawStreamContent `json:"content"`
	Metadata  map[string]interface{} `json:"metadata"`
	EndTurn   *bool             `json:"end_turn"`
	Recipient string            `json:"recipient"`
}

type rawStreamEvent struct {
	Message        *rawStreamMessage `json:"message"`
	ConversationID string            `json:"conversation_id"`
}

// parseLine advances the stream protocol state machine one line at a time:
//
//  1. case-insensitive "internal server error" fails the stream.
//  2. blank lines are skipped.
//  3. a "data: " prefix is stripped.
//  4. "[DONE]" terminates the stream successfully.
//  5. malformed JSON is skipped (not an error); neither parseLine nor
//     drainStream logs it.
//  6. objects lacking message.content are skipped.
//  7. objects whose message.author.role != "assistant" are skipped.
//
// It never panics on arbitrary input — every field access goes through a nil
// check first.
func parseLine(line string) (event *Event, done bool, err error) {
	if strings.EqualFold(line, "internal server error") {
		return nil, false, boterrors.NewBotError(boterrors.KindInternalServerError, line)
	}
	if strings.TrimSpace(line) == "" {
		return nil, false, nil
	}

	line = strings.TrimPrefix(line, "data: ")
	if line == "[DONE]" {
		return nil, true, nil
	}

	var raw rawStreamEvent
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, false, nil
	}

	if raw.Message == nil || raw.Message.Content == nil {
		return nil, false, nil
	}
	if raw.Message.Author == nil || raw.Message.Author.Role != "assistant" {
		return nil, false, nil
	}

	message := ""
	if len(raw.Message.Content.Parts) > 0 {
		message = raw.Message.Content.Parts[0]
	}

	metadata := raw.Message.Metadata

	finishDetails := ""
	if fd, ok := metadata["finish_details"].(map[string]interface{}); ok {
		if t, ok := fd["type"].(string); ok {
			finishDetails = t
		}
	}

	model := ""
	if m, ok := metadata["model_slug"].(string); ok {
		model = m
	}

	author := map[string]interface{}{"role": "assistant"}
	if a, ok := metadata["author"].(map[string]interface{}); ok {
		author = a
	}

	var citations []interface{}
	if c, ok := metadata["citations"].([]interface{}); ok {
		citations = c
	}

	endTurn := true
	if raw.Message.EndTurn != nil {
		endTurn = *raw.Message.EndTurn
	}

	recipient := raw.Message.Recipient
	if recipient == "" {
		recipient = "all"
	}

	return &Event{
		Author:         author,
		Message:        message,
		ConversationID: raw.ConversationID,
		ParentID:       raw.Message.ID,
		Model:          model,
		FinishDetails:  finishDetails,
		EndTurn:        endTurn,
		Recipient:      recipient,
		Citations:      citations,
	}, false, nil
}
