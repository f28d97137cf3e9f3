package domain

import "time"

// QueueConfig addresses the signal queue either through a SAS token or,
// for local emulators, a connection string.
type QueueConfig struct {
	AccountURL       string `json:"account_url,omitempty"`
	QueueName        string `json:"queue_name"`
	SASToken         string `json:"sas_token,omitempty"`
	ConnectionString string `json:"connection_string,omitempty"`
}

type TableConfig struct {
	AccountURL string `json:"account_url"`
	TableName  string `json:"table_name"`
	SASToken   string `json:"sas_token"`
}

type BlobConfig struct {
	AccountURL string `json:"account_url,omitempty"`
	URI        string `json:"uri"`
	SASToken   string `json:"sas_token"`
}

type RunConfig struct {
	Image                     string                          `json:"image"`
	RunID                     string                          `json:"run_id"`
	JobID                     string                          `json:"job_id"`
	TaskID                    string                          `json:"task_id"`
	SignalKey                 string                          `json:"signal_key"`
	SignalTargetID            string                          `json:"signal_target_id"`
	Task                      string                          `json:"task"`
	Environment               map[string]string               `json:"environment,omitempty"`
	Tokens                    map[string]StorageAccountTokens `json:"tokens,omitempty"`
	SignalQueue               QueueConfig                     `json:"signal_queue"`
	TaskRunsTable             TableConfig                     `json:"task_runs_table_config"`
	OutputBlob                BlobConfig                      `json:"output_blob_config"`
	LogBlob                   BlobConfig                      `json:"log_blob_config"`
	EventLoggerAppInsightsKey string                          `json:"event_logger_app_insights_key,omitempty"`
	CredentialsExpireAt       time.Time                       `json:"credentials_expire_at"`
}

// ExecutionMessage is everything a remote worker needs to run one task.
type ExecutionMessage struct {
	Args   map[string]any `json:"args,omitempty"`
	Config RunConfig      `json:"config"`
}
