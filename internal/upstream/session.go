// Package upstream implements the authenticated streaming client bound to
// one account: it posts conversation turns, drives the line-oriented
// event-stream protocol, and exposes the conversation-admin surface. Every
// blocking call takes a context.Context; failures surface as a closed set of
// BotError kinds rather than ad-hoc error values.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	boterrors "github.com/eternisai/chatgpt-pool-gateway/internal/errors"
	"github.com/eternisai/chatgpt-pool-gateway/internal/logger"
	"github.com/google/uuid"
	"golang.org/x/net/http2"
)

const (
	desktopUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/113.0.0.0 Safari/537.36"
	defaultModel     = "text-davinci-002-render-sha"
)

// Config is everything a Session needs at construction time.
type Config struct {
	Email       string
	AccessToken string
	Puid        string
	BaseURL     string
	CaptchaURL  string
}

// Session is a live, authenticated upstream client bound to one account.
// Invariant: DecodeExpiry(accessToken) > now while the session is held by
// the pool scheduler.
type Session struct {
	email string

	credMu      sync.RWMutex
	accessToken string
	puid        string

	baseURL    string
	captchaURL string
	client     *http.Client
	log        *logger.Logger

	modelsMu        sync.Mutex
	supportedModels map[string]struct{}
}

// NewSession validates the access token's expiry and builds an HTTP/2-capable
// client for the account. The transport negotiates h2 over TLS and falls
// back to HTTP/1.1 otherwise.
func NewSession(cfg Config, log *logger.Logger) (*Session, error) {
	if err := checkAccessToken(cfg.AccessToken); err != nil {
		return nil, err
	}

	transport := &http.Transport{MaxIdleConnsPerHost: 8}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, boterrors.NewBotError(boterrors.KindInternalServerError, err.Error())
	}

	return &Session{
		email:       cfg.Email,
		accessToken: cfg.AccessToken,
		puid:        cfg.Puid,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		captchaURL:  cfg.CaptchaURL,
		client:      &http.Client{Transport: transport},
		log:         log.WithComponent("upstream_session").WithFields(map[string]interface{}{"email": cfg.Email}),
	}, nil
}

// Email returns the account this session belongs to.
func (s *Session) Email() string { return s.email }

// AccessToken returns the session's current cached token.
func (s *Session) AccessToken() string {
	s.credMu.RLock()
	defer s.credMu.RUnlock()
	return s.accessToken
}

// Update replaces the session's cached token and puid in place, validating
// a non-empty token's expiry first. The token lifecycle worker does not
// call it: after a login it builds a new Session and Puts it in the pool.
func (s *Session) Update(token, puid string) error {
	if token != "" {
		if err := checkAccessToken(token); err != nil {
			return err
		}
	}
	s.credMu.Lock()
	defer s.credMu.Unlock()
	if token != "" && token != s.accessToken {
		s.accessToken = token
	}
	if puid != "" && puid != s.puid {
		s.puid = puid
	}
	return nil
}

// Ask constructs a single user message from a prompt and posts it.
func (s *Session) Ask(ctx context.Context, op AskOp) (Event, error) {
	model := normalizeModel(op.Model)
	if err := s.ensureModelSupported(ctx, model); err != nil {
		return Event{}, err
	}

	parentID := op.ParentID
	conversationID := nonEmptyPtr(op.ConversationID)
	if parentID == "" {
		parentID = uuid.NewString()
	}

	body := requestBody{
		Action: "next",
		Messages: []UpstreamMessage{{
			ID:       uuid.NewString(),
			Author:   UpstreamAuthor{Role: "user"},
			Content:  UpstreamContent{ContentType: "text", Parts: []string{op.Prompt}},
			Metadata: map[string]interface{}{},
		}},
		ConversationID:             conversationID,
		ParentMessageID:            parentID,
		Model:                      model,
		HistoryAndTrainingDisabled: op.HistoryAndTrainingDisabled,
	}

	return s.sendRequest(ctx, body, op.AutoContinue, op.Timeout)
}

// PostMessages posts a pre-built list of structured messages.
func (s *Session) PostMessages(ctx context.Context, op PostMessagesOp) (Event, error) {
	model := normalizeModel(op.Model)
	if err := s.ensureModelSupported(ctx, model); err != nil {
		return Event{}, err
	}

	parentID := op.ParentID
	conversationID := nonEmptyPtr(op.ConversationID)
	if parentID == "" && conversationID == nil {
		parentID = uuid.NewString()
	}

	body := requestBody{
		Action:                     "next",
		Messages:                   op.Messages,
		ConversationID:             conversationID,
		ParentMessageID:            parentID,
		Model:                      model,
		HistoryAndTrainingDisabled: op.HistoryAndTrainingDisabled,
	}

	return s.sendRequest(ctx, body, op.AutoContinue, op.Timeout)
}

// ContinueWrite asks upstream to keep generating after a max_tokens
// truncation, preserving message id continuity.
func (s *Session) ContinueWrite(ctx context.Context, op ContinueWriteOp) (Event, error) {
	model := normalizeModel(op.Model)
	if err := s.ensureModelSupported(ctx, model); err != nil {
		return Event{}, err
	}

	body := requestBody{
		Action:                     "continue",
		ConversationID:             nonEmptyPtr(op.ConversationID),
		ParentMessageID:            op.ParentID,
		Model:                      model,
		HistoryAndTrainingDisabled: op.HistoryAndTrainingDisabled,
	}

	return s.sendRequest(ctx, body, op.AutoContinue, op.Timeout)
}

// normalizeModel maps gpt-4 submodels: the four named submodels pass through
// unchanged, any other gpt-4* collapses to "gpt-4".
func normalizeModel(model string) string {
	if model == "" {
		return defaultModel
	}
	if !strings.HasPrefix(model, "gpt-4") {
		return model
	}
	switch model {
	case "gpt-4-browsing", "gpt-4-plugins", "gpt-4-mobile", "gpt-4-code-interpreter":
		return model
	default:
		return "gpt-4"
	}
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// requestBody is the shared wire schema for posting to /conversation.
type requestBody struct {
	Action                     string            `json:"action"`
	Messages                   []UpstreamMessage `json:"messages,omitempty"`
	ConversationID             *string           `json:"conversation_id"`
	ParentMessageID            string            `json:"parent_message_id"`
	Model                      string            `json:"model"`
	HistoryAndTrainingDisabled bool              `json:"history_and_training_disabled"`
	ArkoseToken                *string           `json:"arkose_token,omitempty"`
}

func (b requestBody) conversationIDOrEmpty() string {
	if b.ConversationID == nil {
		return ""
	}
	return *b.ConversationID
}

// ensureModelSupported fetches the model catalog on first use (models()
// caches; subsequent calls reuse it) and rejects any model outside it.
func (s *Session) ensureModelSupported(ctx context.Context, model string) error {
	s.modelsMu.Lock()
	needsFetch := s.supportedModels == nil
	s.modelsMu.Unlock()

	if needsFetch {
		if err := s.Models(ctx); err != nil {
			return err
		}
	}

	s.modelsMu.Lock()
	_, ok := s.supportedModels[model]
	s.modelsMu.Unlock()

	if !ok {
		return boterrors.NewBotError(boterrors.KindUnsupportedModel, model)
	}
	return nil
}

// Models fetches and caches the supported model slugs, also capturing the
// _puid affinity cookie if the upstream sets one.
func (s *Session) Models(ctx context.Context) error {
	req, err := s.newRequest(ctx, http.MethodGet, "models?history_and_training_disabled=false", nil)
	if err != nil {
		return boterrors.NewBotError(boterrors.KindInternalServerError, err.Error())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return boterrors.NewBotError(boterrors.KindInternalServerError, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return boterrors.NewOpenAIError(resp.StatusCode, string(raw))
	}

	var payload struct {
		Models []struct {
			Slug string `json:"slug"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return boterrors.NewBotError(boterrors.KindInvalidResponse, err.Error())
	}

	slugs := make(map[string]struct{}, len(payload.Models))
	for _, m := range payload.Models {
		slugs[m.Slug] = struct{}{}
	}

	s.modelsMu.Lock()
	s.supportedModels = slugs
	s.modelsMu.Unlock()

	if puid := puidFromSetCookie(resp.Header.Values("Set-Cookie")); puid != "" {
		s.credMu.Lock()
		s.puid = puid
		s.credMu.Unlock()
	}
	return nil
}

func puidFromSetCookie(setCookies []string) string {
	for _, sc := range setCookies {
		for _, part := range strings.Split(sc, ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, "_puid=") {
				return strings.TrimPrefix(part, "_puid=")
			}
		}
	}
	return ""
}

// newRequest builds an upstream request carrying the standard header set:
// bearer token, optional PUID, desktop User-Agent.
func (s *Session) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	url := s.baseURL + "/" + strings.TrimPrefix(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	s.credMu.RLock()
	token := s.accessToken
	puid := s.puid
	s.credMu.RUnlock()

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", desktopUserAgent)
	if puid != "" {
		req.Header.Set("PUID", puid)
	}
	return req, nil
}

// doJSON performs a non-streaming request against the conversation-admin
// surface: decode JSON on 2xx, surface an OpenAIError otherwise.
func (s *Session) doJSON(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := s.newRequest(ctx, method, path, body)
	if err != nil {
		return boterrors.NewBotError(boterrors.KindInternalServerError, err.Error())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return boterrors.NewBotError(boterrors.KindInternalServerError, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return boterrors.NewBotError(boterrors.KindInternalServerError, err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return boterrors.NewOpenAIError(resp.StatusCode, string(raw))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return boterrors.NewBotError(boterrors.KindInvalidResponse, err.Error())
	}
	return nil
}

// sendRequest posts to /conversation, drains the line-oriented event stream
// keeping only the last event, and (when requested) issues the continuation
// call on a max_tokens truncation, so callers always see at most one
// logical response per turn.
func (s *Session) sendRequest(ctx context.Context, body requestBody, autoContinue bool, timeout time.Duration) (Event, error) {
	if strings.HasPrefix(body.Model, "gpt-4") {
		if token, err := s.fetchArkoseToken(ctx); err != nil {
			s.log.Warn("failed to fetch arkose token", slog.String("error", err.Error()))
		} else if token != "" {
			body.ArkoseToken = &token
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Event{}, boterrors.NewBotError(boterrors.KindInternalServerError, err.Error())
	}

	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := s.newRequest(reqCtx, http.MethodPost, "conversation", bytes.NewReader(payload))
	if err != nil {
		return Event{}, boterrors.NewBotError(boterrors.KindInternalServerError, err.Error())
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return Event{}, boterrors.NewBotError(boterrors.KindInternalServerError, err.Error())
	}
	defer resp.Body.Close()

	s.log.Debug("upstream conversation request completed",
		slog.String("conversation_id", body.conversationIDOrEmpty()),
		slog.Duration("duration", time.Since(start)),
		slog.String("action", body.Action))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return Event{}, boterrors.NewOpenAIError(resp.StatusCode, string(raw))
	}

	last, sawEvent, err := s.drainStream(ctx, resp.Body)
	if err != nil {
		return Event{}, err
	}
	if !sawEvent {
		return Event{}, nil
	}

	if autoContinue && last.FinishDetails == "max_tokens" {
		accumulated := strings.TrimRight(last.Message, "\n")
		cont, err := s.ContinueWrite(ctx, ContinueWriteOp{
			ConversationID:             last.ConversationID,
			ParentID:                   last.ParentID,
			Model:                      last.Model,
			AutoContinue:               true,
			HistoryAndTrainingDisabled: body.HistoryAndTrainingDisabled,
			Timeout:                    timeout,
		})
		if err != nil {
			return Event{}, err
		}
		cont.Message = accumulated + cont.Message
		return cont, nil
	}

	return last, nil
}

func (s *Session) drainStream(ctx context.Context, body io.Reader) (Event, bool, error) {
	var last Event
	var seen bool

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxStreamLine)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return Event{}, false, ctx.Err()
		default:
		}

		event, done, err := parseLine(scanner.Text())
		if err != nil {
			return Event{}, false, err
		}
		if done {
			break
		}
		if event != nil {
			last = *event
			seen = true
		}
	}
	if err := scanner.Err(); err != nil {
		return Event{}, false, boterrors.NewBotError(boterrors.KindInternalServerError, err.Error())
	}

	return last, seen, nil
}

// fetchArkoseToken attempts the captcha-bypass helper's non-interactive
// path. A challenge that actually requires solving (HTTP 511 with no
// resolvable token) is treated as a failure like any other — there is no
// human in the loop on a server.
func (s *Session) fetchArkoseToken(ctx context.Context) (string, error) {
	if s.captchaURL == "" {
		return "", nil
	}

	url := strings.TrimSuffix(s.captchaURL, "/") + "/start?download_images=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload struct {
		Token string `json:"token"`
		Error string `json:"error"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}

	if resp.StatusCode == http.StatusOK {
		return payload.Token, nil
	}
	if resp.StatusCode != 511 {
		if payload.Error != "" {
			return "", fmt.Errorf("captcha bypass error: %s", payload.Error)
		}
		return "", fmt.Errorf("captcha bypass returned status %d", resp.StatusCode)
	}
	return "", fmt.Errorf("captcha challenge requires a solver, none available headless")
}

// GetConversations returns a page of the account's conversation list.
func (s *Session) GetConversations(ctx context.Context, offset, limit int) ([]map[string]interface{}, error) {
	path := fmt.Sprintf("conversations?offset=%d&limit=%d", offset, limit)
	var payload struct {
		Items []map[string]interface{} `json:"items"`
	}
	if err := s.doJSON(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

// GetMessageHistory fetches a conversation's full message tree.
func (s *Session) GetMessageHistory(ctx context.Context, conversationID string) (map[string]interface{}, error) {
	var payload map[string]interface{}
	if err := s.doJSON(ctx, http.MethodGet, "conversation/"+conversationID, nil, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// ChangeTitle renames a conversation.
func (s *Session) ChangeTitle(ctx context.Context, conversationID, title string) error {
	body, _ := json.Marshal(map[string]string{"title": title})
	return s.doJSON(ctx, http.MethodPatch, "conversation/"+conversationID, bytes.NewReader(body), nil)
}

// DeleteConversation hides a single conversation.
func (s *Session) DeleteConversation(ctx context.Context, conversationID string) error {
	return s.doJSON(ctx, http.MethodPatch, "conversation/"+conversationID, strings.NewReader(`{"is_visible": false}`), nil)
}

// ClearConversations hides every conversation on the account.
func (s *Session) ClearConversations(ctx context.Context) error {
	return s.doJSON(ctx, http.MethodPatch, "conversations", strings.NewReader(`{"is_visible": false}`), nil)
}

// GenTitle asks upstream to generate a conversation title.
func (s *Session) GenTitle(ctx context.Context, conversationID, messageID string) (string, error) {
	body, _ := json.Marshal(map[string]string{"message_id": messageID, "model": "text-davinci-002-render"})
	var payload struct {
		Title string `json:"title"`
	}
	if err := s.doJSON(ctx, http.MethodPost, "conversation/gen_title/"+conversationID, bytes.NewReader(body), &payload); err != nil {
		return "", err
	}
	if payload.Title == "" {
		return "Error generating title", nil
	}
	return payload.Title, nil
}

// GetPlugins lists a page of the upstream plugin store.
func (s *Session) GetPlugins(ctx context.Context, offset, limit int) ([]map[string]interface{}, error) {
	path := fmt.Sprintf("aip/p?offset=%d&limit=%d&statuses=approved", offset, limit)
	var payload struct {
		Items []map[string]interface{} `json:"items"`
	}
	if err := s.doJSON(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

// InstallPlugin flips a plugin's installed flag in the account's settings.
func (s *Session) InstallPlugin(ctx context.Context, pluginID string, install bool) error {
	body, _ := json.Marshal(map[string]bool{"is_installed": install})
	return s.doJSON(ctx, http.MethodPatch, "aip/p/"+pluginID+"/user-settings", bytes.NewReader(body), nil)
}

// GetPluginByDomain looks up an unverified plugin by its hosting domain.
func (s *Session) GetPluginByDomain(ctx context.Context, domain string) (map[string]interface{}, error) {
	var payload map[string]interface{}
	if err := s.doJSON(ctx, http.MethodGet, "aip/p/domain?domain="+domain, nil, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// ShareConversation creates a public share link: create the share, then
// patch it public.
func (s *Session) ShareConversation(ctx context.Context, conversationID, nodeID, title string, anonymous bool) (string, error) {
	createBody, _ := json.Marshal(map[string]interface{}{
		"conversation_id": conversationID,
		"current_node_id": nodeID,
		"is_anonymous":     anonymous,
	})

	var created struct {
		ShareURL string `json:"share_url"`
		ShareID  string `json:"share_id"`
		Title    string `json:"title"`
	}
	if err := s.doJSON(ctx, http.MethodPost, "share/create", bytes.NewReader(createBody), &created); err != nil {
		return "", err
	}

	if title == "" {
		title = created.Title
	}
	if title == "" {
		title = "New chat"
	}

	patchBody, _ := json.Marshal(map[string]interface{}{
		"share_id":               created.ShareID,
		"highlighted_message_id": nodeID,
		"title":                  title,
		"is_public":              true,
		"is_visible":             true,
		"is_anonymous":           true,
	})
	if err := s.doJSON(ctx, http.MethodPatch, "share/"+created.ShareID, bytes.NewReader(patchBody), nil); err != nil {
		return "", err
	}
	return created.ShareURL, nil
}
