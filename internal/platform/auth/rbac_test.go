package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHasAtLeast(t *testing.T) {
	cases := []struct {
		roles    []string
		required string
		want     bool
	}{
		{[]string{"viewer"}, RoleViewer, true},
		{[]string{"viewer"}, RoleEditor, false},
		{[]string{" Editor "}, RoleViewer, true},
		{[]string{"admin"}, RoleEditor, true},
		{[]string{"unknown", "viewer"}, RoleViewer, true},
		{[]string{"admin"}, "owner", false},
		{nil, RoleViewer, false},
	}
	for _, tc := range cases {
		if got := HasAtLeast(tc.roles, tc.required); got != tc.want {
			t.Fatalf("HasAtLeast(%v, %q)=%v, want %v", tc.roles, tc.required, got, tc.want)
		}
	}
}

func TestRequiredRoleForRequest(t *testing.T) {
	cases := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/v1/tasks/j/t/status", RoleViewer},
		{http.MethodPost, "/v1/tasks", RoleEditor},
		{http.MethodPost, "/v1/tasks/run-message", RoleViewer},
		{http.MethodPost, "/v1/tasks/run-message/", RoleViewer},
		{http.MethodPost, "/v1/workflows", RoleEditor},
		{http.MethodDelete, "/v1/tasks/run-message", RoleEditor},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "http://example.test"+tc.path, nil)
		if got := RequiredRoleForRequest(req); got != tc.want {
			t.Fatalf("RequiredRoleForRequest(%s %s)=%q, want %q", tc.method, tc.path, got, tc.want)
		}
	}
}
