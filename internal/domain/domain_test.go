package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestTaskConfigValidate_ImageSelection(t *testing.T) {
	cases := []struct {
		name    string
		cfg     TaskConfig
		wantErr error
	}{
		{name: "image", cfg: TaskConfig{ID: "t1", Task: "pkg:task", Image: "img:1"}},
		{name: "image key", cfg: TaskConfig{ID: "t1", Task: "pkg:task", ImageKey: "ingest"}},
		{name: "neither", cfg: TaskConfig{ID: "t1", Task: "pkg:task"}, wantErr: ErrConfiguration},
		{name: "both", cfg: TaskConfig{ID: "t1", Task: "pkg:task", Image: "img:1", ImageKey: "ingest"}, wantErr: ErrConfiguration},
		{name: "missing id", cfg: TaskConfig{Task: "pkg:task", Image: "img:1"}, wantErr: ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() err=%v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Validate() err=%v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestTaskSubmissionValidate_RequiresInstance(t *testing.T) {
	sub := TaskSubmission{
		Dataset: "eo",
		JobID:   "j1",
		RunID:   "r1",
		Config:  TaskConfig{ID: "t1", Task: "pkg:task", Image: "img:1"},
	}
	if err := sub.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Validate() err=%v, want ErrInvalidInput", err)
	}
	sub.InstanceID = "inst-1"
	if err := sub.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestImageConfigEnv(t *testing.T) {
	cfg := ImageConfig{Image: "img:1", Environment: []string{"A=1", " B = two ", "URL=http://x/?a=b"}}
	got, err := cfg.Env()
	if err != nil {
		t.Fatalf("Env() err=%v", err)
	}
	want := map[string]string{"A": "1", "B": "two", "URL": "http://x/?a=b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Env()=%v, want %v", got, want)
	}

	if env, err := (ImageConfig{Image: "img:1"}).Env(); err != nil || env != nil {
		t.Fatalf("Env() on empty=%v,%v, want nil,nil", env, err)
	}

	bad := ImageConfig{Image: "img:1", Environment: []string{"NOVALUE"}}
	if _, err := bad.Env(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Env() err=%v, want ErrConfiguration", err)
	}
	if err := bad.Validate(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Validate() err=%v, want ErrConfiguration", err)
	}
}

func TestBatchTaskIDRoundTrip(t *testing.T) {
	id := BatchTaskID{BatchJobID: "eo_j1_t1-01hx", BatchTaskID: "r1"}
	data, err := id.Encode()
	if err != nil {
		t.Fatalf("Encode() err=%v", err)
	}
	if string(data) != `{"batch_job_id":"eo_j1_t1-01hx","batch_task_id":"r1"}` {
		t.Fatalf("Encode()=%s", data)
	}
	got, err := ParseBatchTaskID(data)
	if err != nil {
		t.Fatalf("ParseBatchTaskID() err=%v", err)
	}
	if got != id {
		t.Fatalf("ParseBatchTaskID()=%+v, want %+v", got, id)
	}
}

func TestParseBatchTaskID_Invalid(t *testing.T) {
	for _, in := range []string{`not json`, `{"batch_job_id":"j"}`, `{}`} {
		if _, err := ParseBatchTaskID([]byte(in)); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("ParseBatchTaskID(%s) err=%v, want ErrInvalidInput", in, err)
		}
	}
}

func TestSecretResolutionError(t *testing.T) {
	var err error = &SecretResolutionError{Reference: "db-password"}
	if !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound in chain")
	}
	var target *SecretResolutionError
	if !errors.As(err, &target) || target.Reference != "db-password" {
		t.Fatalf("errors.As()=%v, want reference db-password", target)
	}
}

func TestTaskRunStatusTerminal(t *testing.T) {
	if TaskRunStatusPending.Terminal() || TaskRunStatusRunning.Terminal() {
		t.Fatalf("pending/running must not be terminal")
	}
	if !TaskRunStatusFailed.Terminal() || !TaskRunStatusCompleted.Terminal() {
		t.Fatalf("failed/completed must be terminal")
	}
}
