package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/v1.0"}, staticToken("tkn"), nil), srv
}

func TestGetJSONCollection(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1.0/sites/getAllSites", r.URL.Path)
		assert.Equal(t, "Bearer tkn", r.Header.Get("Authorization"))
		_, _ = fmt.Fprint(w, `{"@odata.nextLink":"https://next/page2","value":[{"id":"s1"},{"id":"s2"}]}`)
	}))

	resp, err := client.GetJSON(context.Background(), "sites/getAllSites")
	require.NoError(t, err)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "https://next/page2", resp.NextLink)
}

func TestGetJSONSingleObjectIsNormalized(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"@odata.context":"x","id":"s1","name":"Team A","webUrl":"https://t/a"}`)
	}))

	resp, err := client.GetJSON(context.Background(), "sites/s1")
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Empty(t, resp.NextLink)

	var site struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, Decode(resp.Items[0], &site))
	assert.Equal(t, "s1", site.ID)
	assert.Equal(t, "Team A", site.Name)
}

func TestGetJSONEmptyAndNullValue(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"empty array": `{"value":[]}`,
		"null value":  `{"value":null}`,
	} {
		body := body
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = fmt.Fprint(w, body)
			}))
			resp, err := client.GetJSON(context.Background(), "sites/s1/pages")
			require.NoError(t, err)
			assert.True(t, resp.Empty())
		})
	}
}

func TestGetJSONAbsoluteLinkIsUsedVerbatim(t *testing.T) {
	t.Parallel()

	var gotPath, gotQuery string
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_, _ = fmt.Fprint(w, `{"value":[]}`)
	}))

	_, err := client.GetJSON(context.Background(), srv.URL+"/v1.0/sites?$skiptoken=abc")
	require.NoError(t, err)
	assert.Equal(t, "/v1.0/sites", gotPath)
	assert.Equal(t, "$skiptoken=abc", gotQuery)
}

func TestGetJSONClassifiesFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		header map[string]string
		want   Kind
	}{
		{"too many requests", http.StatusTooManyRequests, `{"error":{"code":"TooManyRequests","message":"retry later"}}`, map[string]string{"Retry-After": "7"}, KindThrottled},
		{"service unavailable", http.StatusServiceUnavailable, `{"error":{"code":"serviceNotAvailable"}}`, nil, KindThrottled},
		{"activity limit code", http.StatusBadRequest, `{"error":{"code":"activityLimitReached"}}`, nil, KindThrottled},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"code":"InvalidAuthenticationToken","message":"Access token has expired"}}`, nil, KindAuthExpired},
		{"not found", http.StatusNotFound, `{"error":{"code":"itemNotFound"}}`, nil, KindTransport},
		{"plain text", http.StatusInternalServerError, `boom`, nil, KindTransport},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				for k, v := range tc.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
				_, _ = fmt.Fprint(w, tc.body)
			}))

			_, err := client.GetJSON(context.Background(), "sites")
			require.Error(t, err)
			assert.Equal(t, tc.want, KindOf(err))

			var gerr *Error
			require.ErrorAs(t, err, &gerr)
			assert.Equal(t, tc.status, gerr.StatusCode)
		})
	}
}

func TestGetJSONRetryAfterParsed(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.GetJSON(context.Background(), "sites")
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "7s", gerr.RetryAfter.String())
	assert.Equal(t, 7*time.Second, RetryAfterOf(fmt.Errorf("wrapped: %w", err)))
	assert.Zero(t, RetryAfterOf(errors.New("plain")))
}

func TestGetJSONDuplicateEnvelopeKeyIsMalformed(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"id":"p1","ID":"p1","value":[]}`)
	}))

	_, err := client.GetJSON(context.Background(), "sites/s1/pages")
	require.Error(t, err)
	assert.Equal(t, KindMalformedPayload, KindOf(err))
}

func TestGetJSONDuplicateItemKeyOnlyFailsThatItem(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"value":[{"id":"a","Id":"b"},{"id":"c"}]}`)
	}))

	resp, err := client.GetJSON(context.Background(), "webParts")
	require.NoError(t, err)
	require.Len(t, resp.Items, 2)

	var v map[string]any
	err = Decode(resp.Items[0], &v)
	require.Error(t, err)
	assert.Equal(t, KindMalformedPayload, KindOf(err))
	require.NoError(t, Decode(resp.Items[1], &v))
}

func TestGetJSONInvalidBodyIsTransportError(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"value":[`)
	}))

	_, err := client.GetJSON(context.Background(), "sites")
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
}
