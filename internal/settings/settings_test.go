package settings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"github.com/animus-labs/taskbridge/internal/batch"
	"github.com/animus-labs/taskbridge/internal/credentials"
	"github.com/animus-labs/taskbridge/internal/platform/clientauth"
	"github.com/animus-labs/taskbridge/internal/secrets"
)

const testKey = "c2VjcmV0LWtleS1ieXRlcw=="

const sampleYAML = `
image_keys:
  python:
    image: registry.test/python:3.12
    environment:
      - PYTHONUNBUFFERED=1
executor:
  image_key_table: settings
  batch:
    url: https://batch.test
    pool_id: pool-a
    max_missing_polls: 4
    auth:
      token_url: https://login.test/token
      client_id: cid
      client_secret: csecret
  secrets:
    vault_url: https://vault.test
  queue_account: {name: queues, key: "c2VjcmV0LWtleS1ieXRlcw=="}
  table_account: {name: tables, key: "c2VjcmV0LWtleS1ieXRlcw=="}
  blob_account: {name: blobs, key: "c2VjcmV0LWtleS1ieXRlcw=="}
  token_ttl: 12h
server:
  access_key: file-key
`

func TestParse_FileValuesOverDefaults(t *testing.T) {
	s, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	if s.Executor.Batch.MaxMissingPolls != 4 {
		t.Fatalf("MaxMissingPolls=%d, want 4", s.Executor.Batch.MaxMissingPolls)
	}
	if s.Executor.TokenTTL != 12*time.Hour {
		t.Fatalf("TokenTTL=%s, want 12h", s.Executor.TokenTTL)
	}
	if s.Executor.LogContainer != "tasklogs" || s.Server.Addr != ":8080" {
		t.Fatalf("defaults not kept: log container %q addr %q", s.Executor.LogContainer, s.Server.Addr)
	}

	img, ok, err := s.StaticImageTable().GetImage(context.Background(), "python", "prod")
	if err != nil || !ok {
		t.Fatalf("GetImage() ok=%v err=%v", ok, err)
	}
	if img.Image != "registry.test/python:3.12" {
		t.Fatalf("image=%q", img.Image)
	}
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	if _, err := Parse([]byte("executor:\n  pool: x\n")); err == nil {
		t.Fatalf("Parse() expected error for unknown field")
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	t.Setenv("TASKBRIDGE_SETTINGS_FILE", path)
	t.Setenv("TASKBRIDGE_BATCH_POOL_ID", "pool-env")
	t.Setenv("TASKBRIDGE_MAX_MISSING_POLLS", "7")
	t.Setenv("TASKBRIDGE_TASK_APPINSIGHTS_KEY", "ikey")

	s, err := Load()
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if s.Executor.Batch.PoolID != "pool-env" {
		t.Fatalf("PoolID=%q, want pool-env", s.Executor.Batch.PoolID)
	}
	if s.Executor.Batch.MaxMissingPolls != 7 {
		t.Fatalf("MaxMissingPolls=%d, want 7", s.Executor.Batch.MaxMissingPolls)
	}
	if got := s.Executor.RunMessage().AppInsightsKey; got != "ikey" {
		t.Fatalf("AppInsightsKey=%q, want ikey", got)
	}
	if s.Executor.Batch.URL != "https://batch.test" {
		t.Fatalf("file value lost: batch url %q", s.Executor.Batch.URL)
	}
}

func TestLoad_ZeroMissingPollsIsKept(t *testing.T) {
	s, err := Load()
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if got := s.Executor.BatchExecutor().MaxMissingPolls; got != batch.DefaultMaxMissingPolls {
		t.Fatalf("default MaxMissingPolls=%d, want %d", got, batch.DefaultMaxMissingPolls)
	}

	t.Setenv("TASKBRIDGE_MAX_MISSING_POLLS", "0")
	s, err = Load()
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if got := s.Executor.BatchExecutor().MaxMissingPolls; got != 0 {
		t.Fatalf("MaxMissingPolls=%d, want 0", got)
	}
}

func TestLoad_InvalidNumber(t *testing.T) {
	t.Setenv("TASKBRIDGE_MAX_MISSING_POLLS", "many")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected parse error")
	}
}

func TestServerSettings_DevRequiresCredentials(t *testing.T) {
	s := ServerSettings{Addr: ":8080", Dev: true, DevAPIKey: "k"}
	if err := s.Validate(); err == nil || !strings.Contains(err.Error(), "dev_auth_token") {
		t.Fatalf("Validate() err=%v, want dev credential error", err)
	}
	s.DevAuthToken = "t"
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestExecutorSettings_Validate(t *testing.T) {
	base, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}

	cases := map[string]func(e *ExecutorSettings){
		"missing pool":         func(e *ExecutorSettings) { e.Batch.PoolID = "" },
		"bad backend":          func(e *ExecutorSettings) { e.BlobBackend = "nfs" },
		"no vault":             func(e *ExecutorSettings) { e.Secrets.VaultURL = "" },
		"dev without conn str": func(e *ExecutorSettings) { e.Dev = true },
		"sas without blob key": func(e *ExecutorSettings) { e.BlobAccount.Key = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			e := base.Executor
			mutate(&e)
			if err := e.Validate(); err == nil {
				t.Fatalf("Validate() expected error")
			}
		})
	}
}

func TestExecutorSettings_Factories(t *testing.T) {
	s, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	e := s.Executor

	provider, err := e.SecretsProvider(nil)
	if err != nil {
		t.Fatalf("SecretsProvider() err=%v", err)
	}
	if _, ok := provider.(*secrets.Vault); !ok {
		t.Fatalf("provider=%T, want *secrets.Vault", provider)
	}
	e.Secrets.Local = true
	if provider, _ := e.SecretsProvider(nil); provider != (secrets.Local{}) {
		t.Fatalf("provider=%T, want secrets.Local", provider)
	}

	e.Dev = true
	e.BlobBackend = BlobBackendS3
	minter, err := e.SharedKeyMinter(nil)
	if err != nil {
		t.Fatalf("SharedKeyMinter() err=%v", err)
	}
	if minter.Queue != (credentials.Account{}) || minter.Blob != (credentials.Account{}) {
		t.Fatalf("dev s3 minter should only sign tables: %+v %+v", minter.Queue, minter.Blob)
	}
	if minter.Table.Key != testKey {
		t.Fatalf("table key=%q", minter.Table.Key)
	}

	if got := e.BatchREST().Auth.Scopes; len(got) != 1 {
		t.Fatalf("batch scopes=%v", got)
	}
}

func vaultTokenScope(t *testing.T, e ExecutorSettings) string {
	t.Helper()
	scopes := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		select {
		case scopes <- r.PostForm.Get("scope"):
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "t", "token_type": "Bearer", "expires_in": 3600})
	}))
	t.Cleanup(srv.Close)
	e.Batch.Auth.TokenURL = srv.URL

	provider, err := e.SecretsProvider(nil)
	if err != nil {
		t.Fatalf("SecretsProvider() err=%v", err)
	}
	vault, ok := provider.(*secrets.Vault)
	if !ok {
		t.Fatalf("provider=%T, want *secrets.Vault", provider)
	}
	cred, err := clientauth.TokenCredential(context.Background(), vault.Config().Auth)
	if err != nil {
		t.Fatalf("TokenCredential() err=%v", err)
	}
	if _, err := cred.GetToken(context.Background(), policy.TokenRequestOptions{}); err != nil {
		t.Fatalf("GetToken() err=%v", err)
	}
	return <-scopes
}

func TestExecutorSettings_VaultScopes(t *testing.T) {
	s, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	e := s.Executor

	if got := vaultTokenScope(t, e); got != secrets.DefaultScope {
		t.Fatalf("vault token scope=%q, want %q", got, secrets.DefaultScope)
	}

	e.Secrets.Scopes = []string{"api://vault/.default"}
	if got := vaultTokenScope(t, e); got != "api://vault/.default" {
		t.Fatalf("vault token scope=%q, want configured scope", got)
	}
}

func TestLoad_VaultScopesFromEnv(t *testing.T) {
	t.Setenv("TASKBRIDGE_VAULT_SCOPES", "api://a/.default, api://b/.default")
	s, err := Load()
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if got := s.Executor.Secrets.Scopes; len(got) != 2 || got[1] != "api://b/.default" {
		t.Fatalf("Scopes=%v", got)
	}
}
