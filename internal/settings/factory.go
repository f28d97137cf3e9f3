package settings

import (
	"log/slog"

	"github.com/animus-labs/taskbridge/internal/batch"
	"github.com/animus-labs/taskbridge/internal/credentials"
	"github.com/animus-labs/taskbridge/internal/images"
	"github.com/animus-labs/taskbridge/internal/platform/auth"
	"github.com/animus-labs/taskbridge/internal/platform/clientauth"
	"github.com/animus-labs/taskbridge/internal/runmessage"
	"github.com/animus-labs/taskbridge/internal/secrets"
)

func (s ServerSettings) Auth() auth.Config {
	return auth.Config{
		Dev:          s.Dev,
		AccessKey:    s.AccessKey,
		DevAPIKey:    s.DevAPIKey,
		DevAuthToken: s.DevAuthToken,
	}
}

func (c ClientAuthSettings) config(scopes ...string) clientauth.Config {
	return clientauth.Config{
		IssuerURL:    c.IssuerURL,
		TokenURL:     c.TokenURL,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Scopes:       scopes,
	}
}

func (a AccountSettings) account() credentials.Account {
	return credentials.Account{Name: a.Name, Key: a.Key, URL: a.URL}
}

// SecretsProvider returns the environment backed provider when local secrets
// are enabled, otherwise the vault. Vault credentials default to the batch ones
// and always request the vault scope unless scopes are configured.
func (e ExecutorSettings) SecretsProvider(logger *slog.Logger) (secrets.Provider, error) {
	if e.Secrets.Local {
		return secrets.Local{}, nil
	}
	authSettings := e.Secrets.Auth
	if authSettings.empty() {
		authSettings = e.Batch.Auth
	}
	scopes := e.Secrets.Scopes
	if len(scopes) == 0 {
		scopes = []string{secrets.DefaultScope}
	}
	return secrets.NewVault(secrets.VaultConfig{
		URL:  e.Secrets.VaultURL,
		Auth: authSettings.config(scopes...),
	}, logger)
}

// SharedKeyMinter signs queue and table tokens, and blob tokens when the sas
// blob backend is selected. The queue account is skipped in dev mode.
func (e ExecutorSettings) SharedKeyMinter(logger *slog.Logger) (*credentials.SharedKeyMinter, error) {
	var queue, blob credentials.Account
	if !e.Dev {
		queue = e.QueueAccount.account()
	}
	if e.BlobBackend == BlobBackendSAS {
		blob = e.BlobAccount.account()
	}
	return credentials.NewSharedKeyMinter(queue, e.TableAccount.account(), blob, logger)
}

func (e ExecutorSettings) BatchREST() batch.RESTConfig {
	return batch.RESTConfig{
		URL:        e.Batch.URL,
		APIVersion: e.Batch.APIVersion,
		Timeout:    e.Batch.Timeout,
		Auth:       e.Batch.Auth.config(batch.DefaultScope),
	}
}

func (e ExecutorSettings) BatchExecutor() batch.Config {
	return batch.Config{
		PoolID:          e.Batch.PoolID,
		MaxMissingPolls: e.Batch.MaxMissingPolls,
		WorkerProgram:   e.Batch.WorkerProgram,
	}
}

func (e ExecutorSettings) RunMessage() runmessage.Config {
	return runmessage.Config{
		Dev:                         e.Dev,
		SignalQueue:                 e.SignalQueue,
		SignalQueueConnectionString: e.SignalQueueConnectionString,
		TaskRunsTable:               e.TaskRunsTable,
		BlobAccountName:             e.BlobAccount.Name,
		LogContainer:                e.LogContainer,
		TokenTTL:                    e.TokenTTL,
		AppInsightsKey:              e.AppInsightsKey,
	}
}

// StaticImageTable exposes the configured image keys for every target environment.
func (s Settings) StaticImageTable() images.StaticTable {
	table := make(images.StaticTable, len(s.ImageKeys))
	for key, img := range s.ImageKeys {
		table[images.Key{ImageKey: key}] = img
	}
	return table
}
