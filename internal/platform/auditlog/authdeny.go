package auditlog

import (
	"context"
	"strings"

	"github.com/animus-labs/taskbridge/internal/platform/auth"
)

// AuthDeny adapts the recorder to the auth middleware's audit hook.
func (r *Recorder) AuthDeny(service string) auth.AuditFunc {
	return func(ctx context.Context, event auth.DenyEvent) error {
		actor := "anonymous"
		if strings.TrimSpace(event.Subject) != "" {
			actor = strings.TrimSpace(event.Subject)
		}
		return r.Record(ctx, Event{
			OccurredAt:   event.Time,
			Actor:        actor,
			Action:       "auth." + strings.TrimSpace(event.Reason),
			ResourceType: "http",
			ResourceID:   event.Method + " " + event.Path,
			RequestID:    event.RequestID,
			Payload: map[string]any{
				"service":     service,
				"status":      event.Status,
				"reason":      event.Reason,
				"error":       event.Error,
				"roles":       event.Roles,
				"remote_addr": event.RemoteAddr,
			},
		})
	}
}
