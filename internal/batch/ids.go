package batch

import (
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"
)

const (
	maxIDLength = 64
	// ulidLength is the length of the unique suffix appended to new job ids.
	ulidLength = 26
	// MaxJobPrefixLength leaves room for "-" and the suffix within maxIDLength.
	MaxJobPrefixLength = maxIDLength - 1 - ulidLength
)

var invalidIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ValidID replaces characters the batch service rejects with "-" and truncates to 64 characters.
func ValidID(s string) string {
	s = invalidIDChars.ReplaceAllString(s, "-")
	if len(s) > maxIDLength {
		s = s[:maxIDLength]
	}
	return s
}

// JobPrefix derives the shared job name prefix for a dataset, job and task.
func JobPrefix(dataset, jobID, taskID string) string {
	prefix := ValidID(dataset + "_" + jobID + "_" + taskID)
	if len(prefix) > MaxJobPrefixLength {
		prefix = prefix[:MaxJobPrefixLength]
	}
	return prefix
}

func newULIDSuffix() string {
	return strings.ToLower(ulid.Make().String())
}

// UniqueJobID appends suffix to prefix, keeping the result a valid id.
func UniqueJobID(prefix, suffix string) string {
	prefix = ValidID(prefix)
	limit := maxIDLength - 1 - len(suffix)
	if limit < 0 {
		limit = 0
	}
	if len(prefix) > limit {
		prefix = prefix[:limit]
	}
	return prefix + "-" + suffix
}
