package upstream

import (
	"time"

	boterrors "github.com/eternisai/chatgpt-pool-gateway/internal/errors"
	"github.com/golang-jwt/jwt/v4"
)

// DecodeExpiry decodes the `exp` claim of a JWT access token without
// verifying its signature — the gateway never mints these tokens, it only
// ever receives one already minted by upstream, so the only thing worth
// checking locally is whether it has expired.
func DecodeExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, boterrors.NewBotError(boterrors.KindAccessTokenInvalid, err.Error())
	}

	raw, ok := claims["exp"]
	if !ok {
		return time.Time{}, boterrors.NewBotError(boterrors.KindAccessTokenInvalid, "token has no exp claim")
	}

	expSeconds, ok := raw.(float64)
	if !ok {
		return time.Time{}, boterrors.NewBotError(boterrors.KindAccessTokenInvalid, "exp claim is not numeric")
	}

	return time.Unix(int64(expSeconds), 0), nil
}

// checkAccessToken validates a token's expiry at session construction time,
// distinguishing an unparsable token from one that has simply expired.
func checkAccessToken(token string) error {
	exp, err := DecodeExpiry(token)
	if err != nil {
		return err
	}
	if exp.Before(time.Now()) {
		return boterrors.NewBotError(boterrors.KindAccessTokenExpired, "token_expired")
	}
	return nil
}
