// Package auth authenticates API callers by shared key and authorizes them by role.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

const (
	HeaderAPIKey        = "X-API-KEY"
	HeaderAuthorization = "Authorization"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidKey      = errors.New("invalid api key")
)

type Config struct {
	Dev          bool
	AccessKey    string
	DevAPIKey    string
	DevAuthToken string
}

func (c Config) Validate() error {
	if c.Dev {
		if strings.TrimSpace(c.DevAPIKey) == "" || strings.TrimSpace(c.DevAuthToken) == "" {
			return errors.New("dev_api_key and dev_auth_token are required in dev mode")
		}
		return nil
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access_key is required")
	}
	return nil
}

type Identity struct {
	Subject string
	Roles   []string
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

// APIKeyAuthenticator accepts the access key in X-API-KEY. In dev mode the dev
// api key, or a bearer dev auth token, is accepted as an administrator.
type APIKeyAuthenticator struct {
	cfg Config
}

func NewAPIKeyAuthenticator(cfg Config) (*APIKeyAuthenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &APIKeyAuthenticator{cfg: cfg}, nil
}

func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	key := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	bearer := bearerToken(r.Header.Get(HeaderAuthorization))

	if a.cfg.Dev {
		if key != "" && equal(key, a.cfg.DevAPIKey) {
			return Identity{Subject: "dev-api-key", Roles: []string{RoleAdmin}}, nil
		}
		if bearer != "" && equal(bearer, a.cfg.DevAuthToken) {
			return Identity{Subject: "dev-auth-token", Roles: []string{RoleAdmin}}, nil
		}
	}
	if key == "" {
		if bearer != "" {
			return Identity{}, ErrInvalidKey
		}
		return Identity{}, ErrUnauthenticated
	}
	if a.cfg.AccessKey == "" || !equal(key, a.cfg.AccessKey) {
		return Identity{}, ErrInvalidKey
	}
	return Identity{Subject: "access-key", Roles: []string{RoleEditor}}, nil
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
