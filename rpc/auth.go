package rpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

// JWTConfig verifies the HMAC-signed tokens whose subject claim names the
// address acting in a mutating call.
type JWTConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

type contextKey string

const contextKeyCaller contextKey = "rpc.caller"

var (
	errCallerTokenRequired = errors.New("rpc: method requires a signed caller token")
	errCallerMismatch      = errors.New("rpc: caller does not match the token subject")
)

type authenticator struct {
	cfg    JWTConfig
	secret []byte
}

func newAuthenticator(cfg JWTConfig) *authenticator {
	auth := &authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret))}
	if auth.cfg.ClockSkew <= 0 {
		auth.cfg.ClockSkew = 2 * time.Minute
	}
	return auth
}

func (a *authenticator) enabled() bool {
	return a != nil && len(a.secret) > 0
}

// subject validates tokenString and returns the address in its sub claim.
// Tokens must carry an expiry.
func (a *authenticator) subject(tokenString string) ([20]byte, error) {
	if !a.enabled() {
		return [20]byte{}, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return [20]byte{}, err
	}
	if !token.Valid {
		return [20]byte{}, errors.New("token invalid")
	}
	sub := strings.TrimSpace(claims.Subject)
	if !common.IsHexAddress(sub) {
		return [20]byte{}, errors.New("subject is not an address")
	}
	addr := common.HexToAddress(sub)
	if addr == (common.Address{}) {
		return [20]byte{}, errors.New("subject is the zero address")
	}
	return addr, nil
}

func looksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2
}

func withCaller(ctx context.Context, caller [20]byte) context.Context {
	return context.WithValue(ctx, contextKeyCaller, caller)
}

// callerFrom resolves the acting address of a call. The token subject is
// authoritative; an address supplied in params must match it.
func callerFrom(ctx context.Context, field, raw string) ([20]byte, error) {
	subject, ok := ctx.Value(contextKeyCaller).([20]byte)
	if !ok {
		return [20]byte{}, errCallerTokenRequired
	}
	if strings.TrimSpace(raw) == "" {
		return subject, nil
	}
	addr, err := parseAddress(field, raw)
	if err != nil {
		return [20]byte{}, err
	}
	if addr != subject {
		return [20]byte{}, errCallerMismatch
	}
	return subject, nil
}
