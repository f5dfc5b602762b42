package auth

import (
	"context"
	"net/http"

	"github.com/gofrs/uuid"
)

const RoleAdmin = "admin"

// Identity is the caller identity supplied by the upstream gateway.
// Credentials are verified before requests reach this service; handlers
// only check ownership and role.
type Identity struct {
	UserID uuid.UUID
	Role   string
}

func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Middleware extracts the trusted identity headers set by the gateway.
// Requests without a valid X-User-Id proceed anonymously; route handlers
// decide whether an identity is required.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawID := r.Header.Get("X-User-Id")
		if rawID != "" {
			userID, err := uuid.FromString(rawID)
			if err == nil {
				id := Identity{UserID: userID, Role: r.Header.Get("X-User-Role")}
				r = r.WithContext(WithIdentity(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects requests whose identity is missing or not an admin.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok || !id.IsAdmin() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"admin access required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
