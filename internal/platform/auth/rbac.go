package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

// roleLevel orders roles so that a higher level implies every lower one.
func roleLevel(role string) int {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleViewer:
		return 1
	case RoleEditor:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

func HasAtLeast(roles []string, required string) bool {
	need := roleLevel(required)
	if need == 0 {
		return false
	}
	for _, role := range roles {
		if roleLevel(role) >= need {
			return true
		}
	}
	return false
}

// readOnlyPosts are POST routes that compute a response without side effects.
var readOnlyPosts = map[string]struct{}{
	"/v1/tasks/run-message": {},
}

// RequiredRoleForRequest grants viewers reads and run message previews.
// Everything that submits work needs an editor.
func RequiredRoleForRequest(r *http.Request) string {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer
	case http.MethodPost:
		if _, ok := readOnlyPosts[strings.TrimRight(r.URL.Path, "/")]; ok {
			return RoleViewer
		}
	}
	return RoleEditor
}
