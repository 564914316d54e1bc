package graph

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	tokenURLTemplate = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	defaultScope     = "https://graph.microsoft.com/.default"
)

// Authenticator re-establishes a valid API session.
type Authenticator interface {
	EnsureAuthenticated(ctx context.Context) error
}

// CredentialsConfig identifies the app registration used for the crawl.
type CredentialsConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// TokenURL overrides the tenant token endpoint (tests, sovereign clouds).
	TokenURL string
	Scopes   []string
}

// ClientCredentials is an Authenticator and TokenSource backed by the OAuth2
// client-credentials grant.
type ClientCredentials struct {
	cfg    clientcredentials.Config
	logger *zap.Logger

	mu    sync.RWMutex
	token *oauth2.Token
}

var (
	_ Authenticator = (*ClientCredentials)(nil)
	_ TokenSource   = (*ClientCredentials)(nil)
)

// NewClientCredentials validates cfg and returns an unauthenticated session;
// call EnsureAuthenticated before the first request.
func NewClientCredentials(cfg CredentialsConfig, logger *zap.Logger) (*ClientCredentials, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		if cfg.TenantID == "" {
			return nil, fmt.Errorf("tenant id is required")
		}
		tokenURL = fmt.Sprintf(tokenURLTemplate, cfg.TenantID)
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{defaultScope}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientCredentials{
		cfg: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
		},
		logger: logger,
	}, nil
}

// EnsureAuthenticated always requests a fresh token, replacing the cached one.
func (a *ClientCredentials) EnsureAuthenticated(ctx context.Context) error {
	tok, err := a.cfg.Token(ctx)
	if err != nil {
		return fmt.Errorf("acquire graph token: %w", err)
	}
	a.mu.Lock()
	a.token = tok
	a.mu.Unlock()
	a.logger.Debug("Graph session established", zap.Time("expiry", tok.Expiry))
	return nil
}

// Token returns the cached access token, acquiring one when none is valid.
func (a *ClientCredentials) Token(ctx context.Context) (string, error) {
	a.mu.RLock()
	tok := a.token
	a.mu.RUnlock()
	if tok.Valid() {
		return tok.AccessToken, nil
	}
	if err := a.EnsureAuthenticated(ctx); err != nil {
		return "", err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token.AccessToken, nil
}
