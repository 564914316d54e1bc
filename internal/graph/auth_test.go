package graph

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":"token-%d","token_type":"Bearer","expires_in":3600}`, n)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClientCredentialsValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClientCredentials(CredentialsConfig{ClientSecret: "s", TenantID: "t"}, nil)
	require.Error(t, err)
	_, err = NewClientCredentials(CredentialsConfig{ClientID: "c", TenantID: "t"}, nil)
	require.Error(t, err)
	_, err = NewClientCredentials(CredentialsConfig{ClientID: "c", ClientSecret: "s"}, nil)
	require.Error(t, err)

	creds, err := NewClientCredentials(CredentialsConfig{ClientID: "c", ClientSecret: "s", TenantID: "contoso"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://login.microsoftonline.com/contoso/oauth2/v2.0/token", creds.cfg.TokenURL)
	assert.Equal(t, []string{defaultScope}, creds.cfg.Scopes)
}

func TestEnsureAuthenticatedAlwaysRefreshes(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newTokenServer(t, &calls)
	creds, err := NewClientCredentials(CredentialsConfig{ClientID: "c", ClientSecret: "s", TokenURL: srv.URL}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, creds.EnsureAuthenticated(ctx))
	tok, err := creds.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)

	require.NoError(t, creds.EnsureAuthenticated(ctx))
	tok, err = creds.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTokenAcquiresLazily(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newTokenServer(t, &calls)
	creds, err := NewClientCredentials(CredentialsConfig{ClientID: "c", ClientSecret: "s", TokenURL: srv.URL}, nil)
	require.NoError(t, err)

	tok, err := creds.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)

	_, err = creds.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEnsureAuthenticatedFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, `{"error":"invalid_client"}`)
	}))
	t.Cleanup(srv.Close)

	creds, err := NewClientCredentials(CredentialsConfig{ClientID: "c", ClientSecret: "s", TokenURL: srv.URL}, nil)
	require.NoError(t, err)
	require.Error(t, creds.EnsureAuthenticated(context.Background()))
}
