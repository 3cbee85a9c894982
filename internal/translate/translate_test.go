package translate

import "testing"

func strPtr(s string) *string { return &s }

// TestToUpstreamPreservesMessageOrderAndRoles: a completions request's
// messages must survive the trip to the upstream message list with the
// system role remapped to critic and everything else in order.
func TestToUpstreamPreservesMessageOrderAndRoles(t *testing.T) {
	req := Request{
		Model: "gpt-3.5-turbo",
		Messages: []Message{
			{Role: "system", Content: strPtr("be terse")},
			{Role: "user", Content: strPtr("hello")},
		},
	}

	op, err := ToUpstream(req, "conv-1", "parent-1", true, true)
	if err != nil {
		t.Fatalf("ToUpstream: %v", err)
	}

	if len(op.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(op.Messages))
	}
	if op.Messages[0].Author.Role != "critic" {
		t.Errorf("system role should remap to critic, got %q", op.Messages[0].Author.Role)
	}
	if op.Messages[0].Content.Parts[0] != "be terse" {
		t.Errorf("system content = %q, want %q", op.Messages[0].Content.Parts[0], "be terse")
	}
	if op.Messages[1].Author.Role != "user" {
		t.Errorf("user role should pass through unchanged, got %q", op.Messages[1].Author.Role)
	}
	if op.Messages[1].Content.Parts[0] != "hello" {
		t.Errorf("user content = %q, want %q", op.Messages[1].Content.Parts[0], "hello")
	}
	if op.ConversationID != "conv-1" || op.ParentID != "parent-1" {
		t.Errorf("ToUpstream did not thread conversationID/parentID through: %+v", op)
	}
}

func TestToUpstreamInjectsFunctionDeclarationsAsCriticMessage(t *testing.T) {
	req := Request{
		Model: "gpt-3.5-turbo",
		Messages: []Message{
			{Role: "user", Content: strPtr("what's the weather")},
		},
		Functions: []Function{
			{Name: "get_weather", Description: "fetch current weather", Parameters: map[string]interface{}{"type": "object"}},
		},
	}

	op, err := ToUpstream(req, "", "", false, true)
	if err != nil {
		t.Fatalf("ToUpstream: %v", err)
	}

	if len(op.Messages) != 2 {
		t.Fatalf("expected function-declaration message plus the one user message, got %d", len(op.Messages))
	}
	if op.Messages[0].Author.Role != "critic" {
		t.Errorf("function declarations must be injected as a critic-role message, got role %q", op.Messages[0].Author.Role)
	}
}

func TestToUpstreamCollapsesGPT4Submodels(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"gpt-4", "gpt-4"},
		{"gpt-4-turbo", "gpt-4"},
		{"gpt-4-browsing", "gpt-4-browsing"},
		{"gpt-4-plugins", "gpt-4-plugins"},
		{"gpt-3.5-turbo", "gpt-3.5-turbo"},
	}
	for _, tt := range tests {
		op, err := ToUpstream(Request{Model: tt.in}, "", "", false, false)
		if err != nil {
			t.Fatalf("ToUpstream(%q): %v", tt.in, err)
		}
		if op.Model != tt.want {
			t.Errorf("ToUpstream(%q).Model = %q, want %q", tt.in, op.Model, tt.want)
		}
	}
}

// TestNewCompletionRoundTripsPlainText: plain assistant text with no
// function-call envelope markers must come back verbatim as the
// completion's content.
func TestNewCompletionRoundTripsPlainText(t *testing.T) {
	completion := NewCompletion("gpt-3.5-turbo", "hello there", "stop")

	if len(completion.Choices) != 1 {
		t.Fatalf("expected exactly one choice, got %d", len(completion.Choices))
	}
	choice := completion.Choices[0]
	if choice.Message.Content == nil || *choice.Message.Content != "hello there" {
		t.Errorf("content = %v, want %q", choice.Message.Content, "hello there")
	}
	if choice.Message.FunctionCall != nil {
		t.Errorf("did not expect a function_call for plain text, got %v", choice.Message.FunctionCall)
	}
	if choice.FinishReason != "stop" {
		t.Errorf("finish_reason = %q, want stop", choice.FinishReason)
	}
}

func TestNewCompletionUnpacksFunctionCallEnvelope(t *testing.T) {
	raw := `{"content": null, "function_calls": [{"function_name":"get_weather","arguments":{"city":"nyc"}}], "explanation": "calling weather", "finish_reason": "function_call"}`

	completion := NewCompletion("gpt-3.5-turbo", raw, "stop")
	choice := completion.Choices[0]

	if choice.Message.Content != nil {
		t.Errorf("expected nil content when a function call is present, got %v", *choice.Message.Content)
	}
	if choice.Message.FunctionCall == nil {
		t.Fatal("expected function_call to be populated")
	}
	if choice.FinishReason != "function_call" {
		t.Errorf("finish_reason = %q, want function_call", choice.FinishReason)
	}
}

func TestNewCompletionNullsContentWhenFunctionCallPresent(t *testing.T) {
	raw := `{"content": "should not leak through", "function_calls": [{"function_name":"get_weather","arguments":{"city":"nyc"}}], "explanation": "calling weather", "finish_reason": "function_call"}`

	completion := NewCompletion("gpt-3.5-turbo", raw, "stop")
	choice := completion.Choices[0]

	if choice.Message.Content != nil {
		t.Errorf("content must be nulled whenever a function call is populated, got %q", *choice.Message.Content)
	}
	if choice.Message.FunctionCall == nil {
		t.Error("expected function_call to be populated")
	}
}

func TestNewCompletionCarriesUpstreamFinishReason(t *testing.T) {
	completion := NewCompletion("gpt-3.5-turbo", "truncated output", FinishReasonFromDetails("max_tokens"))
	if got := completion.Choices[0].FinishReason; got != "length" {
		t.Errorf("finish_reason = %q, want length", got)
	}
}

func TestFinishReasonFromDetails(t *testing.T) {
	tests := map[string]string{
		"max_tokens": "length",
		"stop":       "stop",
		"":           "stop",
		"other":      "other",
	}
	for in, want := range tests {
		if got := FinishReasonFromDetails(in); got != want {
			t.Errorf("FinishReasonFromDetails(%q) = %q, want %q", in, got, want)
		}
	}
}
