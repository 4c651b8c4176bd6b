package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/kalambet/aury/internal/apierr"
	"github.com/kalambet/aury/internal/auth"
)

// CredentialResolver turns a bearer token into a caller identity.
// Implemented by auth.Resolver.
type CredentialResolver interface {
	Resolve(ctx context.Context, credential string) (auth.Identity, error)
}

type identityKey struct{}

// IdentityFrom returns the identity stored by BearerAuth.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(auth.Identity)
	return id, ok
}

func BearerAuth(resolver CredentialResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
				writeError(w, apierr.Newf(apierr.Unauthorized, "invalid or missing bearer token"))
				return
			}
			id, err := resolver.Resolve(r.Context(), header[len(prefix):])
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
		})
	}
}
