package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	boterrors "github.com/eternisai/chatgpt-pool-gateway/internal/errors"
)

// LoginResult is what a successful login flow yields: a fresh access token
// and optionally a fresh affinity cookie.
type LoginResult struct {
	AccessToken string
	Puid        string
}

// Login drives the upstream's credential-based auth flow for one account,
// using the same request/response shape the rest of the upstream surface
// already uses, so the token lifecycle worker has a single concrete call to
// make without a second transport stack.
func Login(ctx context.Context, baseURL, captchaURL, email, password string) (LoginResult, error) {
	payload, err := json.Marshal(map[string]string{"username": email, "password": password})
	if err != nil {
		return LoginResult{}, boterrors.NewBotError(boterrors.KindInternalServerError, err.Error())
	}

	url := baseURL + "/auth/login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return LoginResult{}, boterrors.NewBotError(boterrors.KindInternalServerError, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", desktopUserAgent)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return LoginResult{}, boterrors.NewBotError(boterrors.KindInternalServerError, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return LoginResult{}, boterrors.NewBotError(boterrors.KindAccessTokenInvalid, fmt.Sprintf("login rejected with status %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return LoginResult{}, boterrors.NewOpenAIError(resp.StatusCode, "login failed")
	}

	var payloadResp struct {
		AccessToken string `json:"access_token"`
		Puid        string `json:"puid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payloadResp); err != nil {
		return LoginResult{}, boterrors.NewBotError(boterrors.KindInvalidResponse, err.Error())
	}
	if payloadResp.AccessToken == "" {
		return LoginResult{}, boterrors.NewBotError(boterrors.KindInvalidResponse, "login response carried no access_token")
	}

	return LoginResult{AccessToken: payloadResp.AccessToken, Puid: payloadResp.Puid}, nil
}
