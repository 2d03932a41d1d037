package client

import (
	"log/slog"
	"net/http"
)

// RequireAuth is an authorization middleware that requires valid authentication.
// Returns 401 Unauthorized if the request is not authenticated.
// Must be used after AuthUserMiddleware.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetAuthUser(r) == nil {
			slog.Debug("Unauthenticated request to protected resource")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireRole returns a middleware that checks if the authenticated user has any of the specified roles.
// Returns 401 Unauthorized if not authenticated.
// Returns 403 Forbidden if authenticated but missing required role.
// Must be used after AuthUserMiddleware.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetAuthUser(r)

			if user == nil {
				slog.Debug("Unauthenticated request to role-protected resource", "requiredRoles", roles)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !IsAdminWithRoles(user, roles) {
				slog.Warn("User lacks required role",
					"userId", user.UserId,
					"userRoles", user.ExtraClaims.Roles,
					"requiredRoles", roles)
				http.Error(w, "Forbidden: insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AdminRoleMiddleware checks if the authenticated user has the admin role
// and denies access if they don't
func AdminRoleMiddleware(next http.Handler) http.Handler {
	return RequireRole("admin", "superadmin")(next)
}
