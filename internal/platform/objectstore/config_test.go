package objectstore

import "testing"

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:      "localhost:9000",
		AccessKey:     "a",
		SecretKey:     "b",
		Region:        "us-east-1",
		BucketTaskIO:  "taskio",
		BucketRunLogs: "tasklogs",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for scheme in endpoint")
	}

	missing := valid
	missing.BucketRunLogs = ""
	if err := missing.Validate(); err == nil {
		t.Fatalf("Validate() expected error for missing logs bucket")
	}
}

func TestWithContainers(t *testing.T) {
	base := Config{BucketTaskIO: "taskio", BucketRunLogs: "tasklogs"}
	got := base.WithContainers("inputs", "logs")
	if got.BucketTaskIO != "inputs" || got.BucketRunLogs != "logs" {
		t.Fatalf("WithContainers()=%+v", got)
	}
	if base.BucketTaskIO != "taskio" {
		t.Fatalf("WithContainers() modified the receiver")
	}
	if len(got.buckets()) != 2 {
		t.Fatalf("buckets()=%v", got.buckets())
	}
}
