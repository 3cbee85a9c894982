package errors

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind is the closed set of error classes the bot pool scheduler and the
// upstream session surface. Not every scheduler error is one of these:
// context cancellation, rate-limiter failures and (from Prompt) binder
// lookup failures are returned as plain errors.
type Kind string

const (
	KindAccessTokenInvalid  Kind = "access_token_invalid"
	KindAccessTokenExpired  Kind = "access_token_expired"
	KindBotOffline          Kind = "bot_offline"
	KindBotBusy             Kind = "bot_busy"
	KindOpenAIError         Kind = "openai_error"
	KindUnsupportedModel    Kind = "unsupported_model"
	KindInvalidResponse     Kind = "invalid_response"
	KindInternalServerError Kind = "internal_server_error"
	KindConversationNotFound Kind = "conversation_not_found"
	KindTooManyRequests     Kind = "too_many_requests"
	KindServerError         Kind = "server_error"
	KindTimeout             Kind = "timeout"
	KindMaxRetry            Kind = "max_retry"
)

// BotError carries a Kind plus whatever detail the upstream or scheduler
// attached. OpenAIError additionally carries the upstream HTTP status code.
type BotError struct {
	Kind    Kind
	Message string
	Code    int // upstream HTTP status, only meaningful for KindOpenAIError
}

func (e *BotError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: code=%d message=%q", e.Kind, e.Code, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// NewBotError constructs a BotError of the given kind.
func NewBotError(kind Kind, message string) *BotError {
	return &BotError{Kind: kind, Message: message}
}

// NewOpenAIError constructs the upstream-non-2xx error carrying its status code.
func NewOpenAIError(code int, message string) *BotError {
	return &BotError{Kind: KindOpenAIError, Code: code, Message: message}
}

// AsBotError unwraps err into a *BotError, if it is one.
func AsBotError(err error) (*BotError, bool) {
	be, ok := err.(*BotError)
	return be, ok
}

// httpStatusFor maps a Kind to the HTTP status the public edge returns for
// it. Every scheduler-surfaced failure — the turn produced no response — is a
// 404, keeping the edge's contract to clients uniform regardless of why the
// pool came up empty. Pre-flight rejections (bad model, bad credentials) map
// by kind.
func httpStatusFor(kind Kind) int {
	switch kind {
	case KindBotOffline, KindBotBusy, KindConversationNotFound, KindTooManyRequests,
		KindServerError, KindTimeout, KindMaxRetry:
		return http.StatusNotFound
	case KindAccessTokenInvalid, KindAccessTokenExpired:
		return http.StatusUnauthorized
	case KindUnsupportedModel:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// AbortWithBotError renders a BotError at the public edge. Scheduler
// failures surface as 404 "No response found" with the kind preserved in
// the envelope for operators; everything else carries the error's own
// message.
func AbortWithBotError(c *gin.Context, err *BotError) {
	var details map[string]interface{}
	if err.Code != 0 {
		details = map[string]interface{}{"upstream_status": err.Code}
	}

	status := httpStatusFor(err.Kind)
	message := err.Error()
	if status == http.StatusNotFound {
		message = "No response found"
	}
	c.AbortWithStatusJSON(status, NewAPIError(err.Kind, message, details))
}
