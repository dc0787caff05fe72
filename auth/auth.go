// Package auth extracts the identity headers injected by the auth proxy in
// front of the MCP server and carries them through the request context.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

const (
	// WebAuthHeaderName is the header carrying the authenticated user's
	// email address.
	WebAuthHeaderName = "X-WEBAUTH-USER"

	// WebAuthRoleHeaderName is the header carrying the user's roles as a
	// comma-separated list.
	WebAuthRoleHeaderName = "X-WEBAUTH-ROLES"
)

// authKey is the context key for AuthData.
type authKey struct{}

// AuthData is the identity forwarded by the auth proxy. Both fields are
// empty for unauthenticated requests.
type AuthData struct {
	UserEmail string
	UserRoles []string
}

// AuthFromRequest reads the proxy headers from the request and returns a
// context carrying the resulting AuthData.
func AuthFromRequest(ctx context.Context, r *http.Request) context.Context {
	data := AuthData{
		UserEmail: strings.TrimSpace(r.Header.Get(WebAuthHeaderName)),
	}
	if rolesStr := r.Header.Get(WebAuthRoleHeaderName); rolesStr != "" {
		for _, role := range strings.Split(rolesStr, ",") {
			data.UserRoles = append(data.UserRoles, strings.TrimSpace(role))
		}
	}
	return context.WithValue(ctx, authKey{}, data)
}

// AuthDataFromContext extracts the auth information from the context.
func AuthDataFromContext(ctx context.Context) (AuthData, error) {
	data, ok := ctx.Value(authKey{}).(AuthData)
	if !ok {
		return AuthData{}, errors.New("missing auth")
	}
	return data, nil
}
