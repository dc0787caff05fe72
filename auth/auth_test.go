package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/sse", nil)
	r.Header.Set(WebAuthHeaderName, " user@example.com ")
	r.Header.Set(WebAuthRoleHeaderName, "viewer, editor")

	ctx := AuthFromRequest(context.Background(), r)
	data, err := AuthDataFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", data.UserEmail)
	assert.Equal(t, []string{"viewer", "editor"}, data.UserRoles)
}

func TestAuthFromRequest_NoHeaders(t *testing.T) {
	r := httptest.NewRequest("GET", "/sse", nil)
	ctx := AuthFromRequest(context.Background(), r)
	data, err := AuthDataFromContext(ctx)
	require.NoError(t, err)
	assert.Empty(t, data.UserEmail)
	assert.Empty(t, data.UserRoles)
}

func TestAuthDataFromContext_Missing(t *testing.T) {
	_, err := AuthDataFromContext(context.Background())
	assert.Error(t, err)
}
