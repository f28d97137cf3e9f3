// Package settings loads service settings from an optional YAML file and the
// environment. Environment variables win over file values.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/taskbridge/internal/batch"
	"github.com/animus-labs/taskbridge/internal/domain"
	"github.com/animus-labs/taskbridge/internal/platform/env"
)

const (
	BlobBackendSAS = "sas"
	BlobBackendS3  = "s3"

	ImageKeysDatabase = "database"
	ImageKeysSettings = "settings"
)

type Settings struct {
	Executor ExecutorSettings `yaml:"executor"`
	Server   ServerSettings   `yaml:"server"`
	Submit   SubmitSettings   `yaml:"submit"`
	// ImageKeys maps an image key to its image for every target environment.
	ImageKeys map[string]domain.ImageConfig `yaml:"image_keys"`
}

type AccountSettings struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
	URL  string `yaml:"url"`
}

type ClientAuthSettings struct {
	IssuerURL    string `yaml:"issuer_url"`
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

func (c ClientAuthSettings) empty() bool {
	return c == ClientAuthSettings{}
}

type BatchSettings struct {
	URL             string             `yaml:"url"`
	APIVersion      string             `yaml:"api_version"`
	PoolID          string             `yaml:"pool_id"`
	Auth            ClientAuthSettings `yaml:"auth"`
	MaxMissingPolls int                `yaml:"max_missing_polls"`
	WorkerProgram   string             `yaml:"worker_program"`
	Timeout         time.Duration      `yaml:"timeout"`
}

type SecretsSettings struct {
	Local    bool               `yaml:"local"`
	VaultURL string             `yaml:"vault_url"`
	Auth     ClientAuthSettings `yaml:"auth"`
	// Scopes requested for vault tokens; secrets.DefaultScope when empty.
	Scopes []string `yaml:"scopes"`
}

type ExecutorSettings struct {
	Dev           bool   `yaml:"dev"`
	ImageKeyTable string `yaml:"image_key_table"`
	BlobBackend   string `yaml:"blob_backend"`

	Batch   BatchSettings   `yaml:"batch"`
	Secrets SecretsSettings `yaml:"secrets"`

	QueueAccount AccountSettings `yaml:"queue_account"`
	TableAccount AccountSettings `yaml:"table_account"`
	BlobAccount  AccountSettings `yaml:"blob_account"`

	SignalQueue                 string `yaml:"signal_queue"`
	SignalQueueConnectionString string `yaml:"signal_queue_connection_string"`
	TaskRunsTable               string `yaml:"task_runs_table"`
	LogContainer                string `yaml:"log_container"`
	TaskIOContainer             string `yaml:"task_io_container"`

	TokenTTL       time.Duration `yaml:"token_ttl"`
	AppInsightsKey string        `yaml:"app_insights_key"`
}

type ServerSettings struct {
	Addr         string `yaml:"addr"`
	Dev          bool   `yaml:"dev"`
	AccessKey    string `yaml:"access_key"`
	DevAPIKey    string `yaml:"dev_api_key"`
	DevAuthToken string `yaml:"dev_auth_token"`
}

type SubmitSettings struct {
	RedisURL  string `yaml:"redis_url"`
	QueueName string `yaml:"queue_name"`
}

func defaults() Settings {
	return Settings{
		Executor: ExecutorSettings{
			ImageKeyTable: ImageKeysDatabase,
			BlobBackend:   BlobBackendSAS,
			Batch: BatchSettings{
				MaxMissingPolls: batch.DefaultMaxMissingPolls,
				WorkerProgram:   "taskbridge",
				Timeout:         30 * time.Second,
			},
			SignalQueue:     "task-signals",
			TaskRunsTable:   "taskruns",
			LogContainer:    "tasklogs",
			TaskIOContainer: "taskio",
			TokenTTL:        7 * 24 * time.Hour,
		},
		Server: ServerSettings{
			Addr: ":8080",
		},
		Submit: SubmitSettings{
			QueueName: "workflow-submissions",
		},
	}
}

// Load reads TASKBRIDGE_SETTINGS_FILE when set, then applies environment overrides.
func Load() (Settings, error) {
	s := defaults()
	if path, ok := env.Lookup("TASKBRIDGE_SETTINGS_FILE"); ok {
		f, err := os.Open(path)
		if err != nil {
			return Settings{}, fmt.Errorf("open settings file: %w", err)
		}
		defer f.Close()
		if err := decode(f, &s); err != nil {
			return Settings{}, fmt.Errorf("settings file %s: %w", path, err)
		}
	}
	if err := s.applyEnv(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Parse decodes YAML settings over the defaults without consulting the environment.
func Parse(raw []byte) (Settings, error) {
	s := defaults()
	if err := decode(bytes.NewReader(raw), &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func decode(r io.Reader, s *Settings) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

func (s *Settings) applyEnv() error {
	e := &s.Executor
	strs := map[string]*string{
		"TASKBRIDGE_IMAGE_KEY_TABLE":                &e.ImageKeyTable,
		"TASKBRIDGE_BLOB_BACKEND":                   &e.BlobBackend,
		"TASKBRIDGE_BATCH_URL":                      &e.Batch.URL,
		"TASKBRIDGE_BATCH_API_VERSION":              &e.Batch.APIVersion,
		"TASKBRIDGE_BATCH_POOL_ID":                  &e.Batch.PoolID,
		"TASKBRIDGE_BATCH_WORKER_PROGRAM":           &e.Batch.WorkerProgram,
		"TASKBRIDGE_BATCH_ISSUER_URL":               &e.Batch.Auth.IssuerURL,
		"TASKBRIDGE_BATCH_TOKEN_URL":                &e.Batch.Auth.TokenURL,
		"TASKBRIDGE_BATCH_CLIENT_ID":                &e.Batch.Auth.ClientID,
		"TASKBRIDGE_BATCH_CLIENT_SECRET":            &e.Batch.Auth.ClientSecret,
		"TASKBRIDGE_VAULT_URL":                      &e.Secrets.VaultURL,
		"TASKBRIDGE_VAULT_ISSUER_URL":               &e.Secrets.Auth.IssuerURL,
		"TASKBRIDGE_VAULT_TOKEN_URL":                &e.Secrets.Auth.TokenURL,
		"TASKBRIDGE_VAULT_CLIENT_ID":                &e.Secrets.Auth.ClientID,
		"TASKBRIDGE_VAULT_CLIENT_SECRET":            &e.Secrets.Auth.ClientSecret,
		"TASKBRIDGE_QUEUE_ACCOUNT_NAME":             &e.QueueAccount.Name,
		"TASKBRIDGE_QUEUE_ACCOUNT_KEY":              &e.QueueAccount.Key,
		"TASKBRIDGE_QUEUE_ACCOUNT_URL":              &e.QueueAccount.URL,
		"TASKBRIDGE_TABLE_ACCOUNT_NAME":             &e.TableAccount.Name,
		"TASKBRIDGE_TABLE_ACCOUNT_KEY":              &e.TableAccount.Key,
		"TASKBRIDGE_TABLE_ACCOUNT_URL":              &e.TableAccount.URL,
		"TASKBRIDGE_BLOB_ACCOUNT_NAME":              &e.BlobAccount.Name,
		"TASKBRIDGE_BLOB_ACCOUNT_KEY":               &e.BlobAccount.Key,
		"TASKBRIDGE_BLOB_ACCOUNT_URL":               &e.BlobAccount.URL,
		"TASKBRIDGE_SIGNAL_QUEUE":                   &e.SignalQueue,
		"TASKBRIDGE_SIGNAL_QUEUE_CONNECTION_STRING": &e.SignalQueueConnectionString,
		"TASKBRIDGE_TASK_RUNS_TABLE":                &e.TaskRunsTable,
		"TASKBRIDGE_LOG_CONTAINER":                  &e.LogContainer,
		"TASKBRIDGE_TASK_IO_CONTAINER":              &e.TaskIOContainer,
		"TASKBRIDGE_TASK_APPINSIGHTS_KEY":           &e.AppInsightsKey,
		"TASKBRIDGE_HTTP_ADDR":                      &s.Server.Addr,
		"TASKBRIDGE_ACCESS_KEY":                     &s.Server.AccessKey,
		"TASKBRIDGE_DEV_API_KEY":                    &s.Server.DevAPIKey,
		"TASKBRIDGE_DEV_AUTH_TOKEN":                 &s.Server.DevAuthToken,
		"TASKBRIDGE_SUBMIT_REDIS_URL":               &s.Submit.RedisURL,
		"TASKBRIDGE_SUBMIT_QUEUE":                   &s.Submit.QueueName,
	}
	for key, dst := range strs {
		if v, ok := env.Lookup(key); ok {
			*dst = v
		}
	}

	e.Secrets.Scopes = env.List("TASKBRIDGE_VAULT_SCOPES", e.Secrets.Scopes)

	var err error
	if e.Dev, err = env.Bool("TASKBRIDGE_DEV", e.Dev); err != nil {
		return err
	}
	if s.Server.Dev, err = env.Bool("TASKBRIDGE_SERVER_DEV", s.Server.Dev || e.Dev); err != nil {
		return err
	}
	if e.Secrets.Local, err = env.Bool("TASKBRIDGE_LOCAL_SECRETS", e.Secrets.Local); err != nil {
		return err
	}
	if e.Batch.MaxMissingPolls, err = env.Int("TASKBRIDGE_MAX_MISSING_POLLS", e.Batch.MaxMissingPolls); err != nil {
		return err
	}
	if e.Batch.Timeout, err = env.Duration("TASKBRIDGE_BATCH_TIMEOUT", e.Batch.Timeout); err != nil {
		return err
	}
	if e.TokenTTL, err = env.Duration("TASKBRIDGE_TOKEN_TTL", e.TokenTTL); err != nil {
		return err
	}
	return nil
}

func (s Settings) Validate() error {
	if err := s.Server.Validate(); err != nil {
		return fmt.Errorf("server settings: %w", err)
	}
	if err := s.Executor.Validate(); err != nil {
		return fmt.Errorf("executor settings: %w", err)
	}
	if s.Executor.ImageKeyTable == ImageKeysSettings && len(s.ImageKeys) == 0 {
		return errors.New("image_keys are required when image_key_table=settings")
	}
	for key, img := range s.ImageKeys {
		if err := img.Validate(); err != nil {
			return fmt.Errorf("image key %q: %w", key, err)
		}
	}
	return nil
}

func (s ServerSettings) Validate() error {
	if strings.TrimSpace(s.Addr) == "" {
		return errors.New("addr is required")
	}
	return s.Auth().Validate()
}

func (e ExecutorSettings) Validate() error {
	switch e.ImageKeyTable {
	case ImageKeysDatabase, ImageKeysSettings:
	default:
		return fmt.Errorf("image_key_table must be one of: database, settings (got %q)", e.ImageKeyTable)
	}
	switch e.BlobBackend {
	case BlobBackendSAS, BlobBackendS3:
	default:
		return fmt.Errorf("blob_backend must be one of: sas, s3 (got %q)", e.BlobBackend)
	}
	if strings.TrimSpace(e.Batch.URL) == "" {
		return errors.New("batch url is required")
	}
	if strings.TrimSpace(e.Batch.PoolID) == "" {
		return errors.New("batch pool id is required")
	}
	if e.Batch.MaxMissingPolls < 0 {
		return errors.New("max missing polls must be >= 0")
	}
	if e.TokenTTL <= 0 {
		return errors.New("token ttl must be positive")
	}
	if !e.Secrets.Local && strings.TrimSpace(e.Secrets.VaultURL) == "" {
		return errors.New("vault url is required unless local secrets are enabled")
	}
	if strings.TrimSpace(e.TableAccount.Name) == "" || strings.TrimSpace(e.TableAccount.Key) == "" {
		return errors.New("table account name and key are required")
	}
	if e.Dev {
		if strings.TrimSpace(e.SignalQueueConnectionString) == "" {
			return errors.New("signal queue connection string is required in dev mode")
		}
	} else if strings.TrimSpace(e.QueueAccount.Name) == "" || strings.TrimSpace(e.QueueAccount.Key) == "" {
		return errors.New("queue account name and key are required")
	}
	if strings.TrimSpace(e.BlobAccount.Name) == "" {
		return errors.New("blob account name is required")
	}
	if e.BlobBackend == BlobBackendSAS && strings.TrimSpace(e.BlobAccount.Key) == "" {
		return errors.New("blob account key is required for the sas blob backend")
	}
	for name, v := range map[string]string{
		"signal_queue":      e.SignalQueue,
		"task_runs_table":   e.TaskRunsTable,
		"log_container":     e.LogContainer,
		"task_io_container": e.TaskIOContainer,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	return nil
}
