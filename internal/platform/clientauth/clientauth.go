// Package clientauth builds HTTP clients authenticated with the OAuth2
// client credentials grant against an OIDC issuer.
package clientauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type Config struct {
	IssuerURL    string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.IssuerURL) == "" && strings.TrimSpace(c.TokenURL) == "" {
		return errors.New("one of issuer url or token url is required")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("client id is required")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return errors.New("client secret is required")
	}
	return nil
}

// DiscoverTokenURL returns the configured token endpoint, discovering it from the
// issuer's OIDC metadata when not set explicitly.
func (c Config) DiscoverTokenURL(ctx context.Context) (string, error) {
	if tokenURL := strings.TrimSpace(c.TokenURL); tokenURL != "" {
		return tokenURL, nil
	}
	provider, err := oidc.NewProvider(ctx, strings.TrimSpace(c.IssuerURL))
	if err != nil {
		return "", fmt.Errorf("oidc provider: %w", err)
	}
	tokenURL := provider.Endpoint().TokenURL
	if tokenURL == "" {
		return "", errors.New("oidc provider does not advertise a token endpoint")
	}
	return tokenURL, nil
}

func (c Config) grant(ctx context.Context) (clientcredentials.Config, error) {
	if err := c.Validate(); err != nil {
		return clientcredentials.Config{}, err
	}
	tokenURL, err := c.DiscoverTokenURL(ctx)
	if err != nil {
		return clientcredentials.Config{}, err
	}
	return clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       c.Scopes,
	}, nil
}

// HTTPClient returns a client that attaches a bearer token to every request.
// Tokens are refreshed independently of ctx cancellation.
func HTTPClient(ctx context.Context, cfg Config) (*http.Client, error) {
	cc, err := cfg.grant(ctx)
	if err != nil {
		return nil, err
	}
	return cc.Client(context.WithoutCancel(ctx)), nil
}

// TokenCredential adapts the client credentials grant to the Azure SDK.
// Configured scopes take precedence over the scopes a request asks for.
func TokenCredential(ctx context.Context, cfg Config) (azcore.TokenCredential, error) {
	cc, err := cfg.grant(ctx)
	if err != nil {
		return nil, err
	}
	return &tokenCredential{
		ctx:     context.WithoutCancel(ctx),
		grant:   cc,
		sources: make(map[string]oauth2.TokenSource),
	}, nil
}

type tokenCredential struct {
	ctx   context.Context
	grant clientcredentials.Config

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

func (c *tokenCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	scopes := c.grant.Scopes
	if len(scopes) == 0 {
		scopes = opts.Scopes
	}
	key := strings.Join(scopes, " ")

	c.mu.Lock()
	src, ok := c.sources[key]
	if !ok {
		cc := c.grant
		cc.Scopes = scopes
		src = cc.TokenSource(c.ctx)
		c.sources[key] = src
	}
	c.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		return azcore.AccessToken{}, fmt.Errorf("client credentials token: %w", err)
	}
	return azcore.AccessToken{Token: tok.AccessToken, ExpiresOn: tok.Expiry}, nil
}
