// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

// Package auth verifies the bearer tokens issued by the main reporting
// application. This service never issues tokens; it is a narrow consumer
// of the external identity collaborator.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Roles recognized for the privileged surfaces.
const (
	RoleAdmin        = "ADMIN"
	RoleBranchMgr    = "BRANCH_MANAGER"
	RoleReportWriter = "USER"
)

var (
	// ErrNoToken means the request carried no credentials.
	ErrNoToken = errors.New("authentication required")

	// ErrInvalidToken means the credentials did not verify.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Identity is the resolved caller.
type Identity struct {
	UserID   string
	Username string
	Role     string
}

// Privileged reports whether the identity may use admin surfaces.
func (id Identity) Privileged() bool {
	return id.Role == RoleAdmin
}

// Claims is the token payload shape shared with the reporting application.
type Claims struct {
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator builds an authenticator around the shared secret.
func NewAuthenticator(secret string) (*Authenticator, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes")
	}
	return &Authenticator{secret: []byte(secret)}, nil
}

// Verify parses and validates a raw token, returning the caller identity.
func (a *Authenticator) Verify(raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, ErrNoToken
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		UserID:   claims.Subject,
		Username: claims.Username,
		Role:     claims.Role,
	}, nil
}

// TokenFromRequest extracts the bearer token. The Authorization header is
// preferred; the access_token query parameter is accepted because the
// browser EventSource API cannot set headers.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return after
		}
	}
	return r.URL.Query().Get("access_token")
}

type contextKey struct{}

// ContextWithIdentity attaches the caller identity to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFromContext returns the caller identity resolved by the
// middleware, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
