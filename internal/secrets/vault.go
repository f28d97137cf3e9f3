package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/animus-labs/taskbridge/internal/domain"
	"github.com/animus-labs/taskbridge/internal/platform/clientauth"
)

// DefaultScope is requested for vault tokens when no scopes are configured.
const DefaultScope = "https://vault.azure.net/.default"

type VaultConfig struct {
	URL  string
	Auth clientauth.Config
}

func (c VaultConfig) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("vault url is required")
	}
	if _, err := url.ParseRequestURI(c.URL); err != nil {
		return fmt.Errorf("vault url: %w", err)
	}
	return c.Auth.Validate()
}

type secretGetter interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// Vault resolves secrets from a key vault. Each session authenticates its own client.
type Vault struct {
	cfg       VaultConfig
	logger    *slog.Logger
	newClient func(ctx context.Context) (secretGetter, error)
}

func NewVault(cfg VaultConfig, logger *slog.Logger) (*Vault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Auth.Scopes) == 0 {
		cfg.Auth.Scopes = []string{DefaultScope}
	}
	if logger == nil {
		logger = slog.Default()
	}
	v := &Vault{cfg: cfg, logger: logger.With("component", "vault_secrets")}
	v.newClient = v.azureClient
	return v, nil
}

// Config returns the effective configuration, scopes included.
func (v *Vault) Config() VaultConfig {
	return v.cfg
}

func (v *Vault) azureClient(ctx context.Context) (secretGetter, error) {
	cred, err := clientauth.TokenCredential(ctx, v.cfg.Auth)
	if err != nil {
		return nil, err
	}
	client, err := azsecrets.NewClient(strings.TrimRight(v.cfg.URL, "/"), cred, nil)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	return client, nil
}

func (v *Vault) Open(ctx context.Context) (Session, error) {
	client, err := v.newClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault auth: %w", err)
	}
	return &vaultSession{
		client: client,
		logger: v.logger,
		cache:  make(map[string]string),
	}, nil
}

type vaultSession struct {
	client secretGetter
	logger *slog.Logger

	mu     sync.Mutex
	cache  map[string]string
	closed bool
}

func (s *vaultSession) Substitute(ctx context.Context, values map[string]string) (map[string]string, error) {
	return substitute(ctx, values, s.get)
}

func (s *vaultSession) get(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", errors.New("vault session is closed")
	}
	if v, ok := s.cache[name]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	resp, err := s.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			s.logger.Warn("secret not found", "secret", name)
			return "", &domain.SecretResolutionError{Reference: name}
		}
		return "", fmt.Errorf("get secret %q: %w", name, err)
	}
	if resp.Value == nil {
		return "", fmt.Errorf("get secret %q: empty value", name)
	}
	value := *resp.Value

	s.mu.Lock()
	if !s.closed {
		s.cache[name] = value
	}
	s.mu.Unlock()
	return value, nil
}

func (s *vaultSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cache = nil
	return nil
}
