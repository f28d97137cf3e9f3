package batch

import (
	"strings"

	"github.com/animus-labs/taskbridge/internal/domain"
)

const DefaultWorkerProgram = "taskbridge"

// WorkerCommand is the argument list a batch task runs to execute the task input at input.URI.
func WorkerCommand(program string, input domain.BlobConfig) []string {
	if strings.TrimSpace(program) == "" {
		program = DefaultWorkerProgram
	}
	cmd := []string{program, "task", "run", input.URI, "--sas-token", input.SASToken}
	if input.AccountURL != "" {
		cmd = append(cmd, "--account-url", input.AccountURL)
	}
	return cmd
}

// shellJoin quotes args for a POSIX shell command line.
func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = shellQuote(arg)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("@%+=:,./-_", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
