package httpapi

import (
	"context"
	"net/http"
	"slices"
)

type adminContextKey struct{}

// AdminVerifier checks administrator credentials presented with HTTP basic
// auth.
type AdminVerifier interface {
	Verify(user, password string) (bool, error)
}

// requireAdmin gates next behind admin credentials. With methods set, only
// those methods are gated and the rest pass through.
func (h *Handler) requireAdmin(next http.HandlerFunc, methods ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(methods) > 0 && !slices.Contains(methods, r.Method) {
			next(w, r)
			return
		}
		if h.admin == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "admin access is not configured")
			return
		}
		user, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="attendance-admin"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing admin credentials")
			return
		}
		valid, err := h.admin.Verify(user, password)
		if err != nil {
			h.logger.Error("admin credential unreadable", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		if !valid {
			h.logger.Warn("admin authentication failed", "user", user, "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid admin credentials")
			return
		}
		ctx := context.WithValue(r.Context(), adminContextKey{}, user)
		next(w, r.WithContext(ctx))
	}
}

func adminFromContext(ctx context.Context) string {
	user, _ := ctx.Value(adminContextKey{}).(string)
	return user
}
