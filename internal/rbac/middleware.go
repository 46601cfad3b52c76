package rbac

import (
	"log/slog"
	"net/http"

	"github.com/warelink-erp/warelink/internal/platform/httpx"
	"github.com/warelink-erp/warelink/internal/shared"
)

// Middleware guards routes behind permission checks.
type Middleware struct {
	Source PermissionSource
	Logger *slog.Logger
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require(perms, hasAnyPermission)
}

// RequireAll ensures the current user has every listed permission.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require(perms, hasAllPermissions)
}

func (m Middleware) require(perms []string, match func(granted, wanted []string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(perms) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			sess := shared.SessionFromContext(r.Context())
			if sess == nil || sess.User() == 0 {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
				return
			}
			granted, err := m.Source.EffectivePermissions(r.Context(), sess.User())
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac permission lookup", slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if match(granted, perms) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing permission")
		})
	}
}

func hasAnyPermission(granted, wanted []string) bool {
	set := permissionSet(granted)
	for _, p := range wanted {
		if set[p] {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted, wanted []string) bool {
	set := permissionSet(granted)
	for _, p := range wanted {
		if !set[p] {
			return false
		}
	}
	return true
}

func permissionSet(perms []string) map[string]bool {
	set := make(map[string]bool, len(perms))
	for _, p := range perms {
		set[p] = true
	}
	return set
}
