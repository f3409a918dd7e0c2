package api

import (
	"context"
	"net/http"
	"net/textproto"
	"unicode/utf8"

	"github.com/devyard/vm/pkg/errdefs"
)

// User is the identity extracted from the auth headers. The API trusts a
// fronting proxy to set them; there is no credential check here.
type User struct {
	Name  string
	Email string
}

var (
	userHeaders  = []string{"x-vm-user", "x-forwarded-user", "x-user"}
	emailHeaders = []string{"x-vm-email", "x-forwarded-email"}
)

type contextKey struct{}

// UserFrom returns the authenticated user stored on the request context.
func UserFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(contextKey{}).(User)
	return u, ok
}

// authenticate resolves the caller from the proxy headers. A missing user
// header is a 401; an empty-string value is a valid (anonymous-ish) identity
// and passes through. Values that are not UTF-8 are rejected.
func authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, ok := headerValue(r.Header, userHeaders)
		if !ok {
			writeError(w, errdefs.Unauthorizedf("missing user header"))
			return
		}
		// Email is optional; not every identity proxy forwards one.
		email, _ := headerValue(r.Header, emailHeaders)
		if !utf8.ValidString(name) || !utf8.ValidString(email) {
			writeError(w, errdefs.Unauthorizedf("malformed identity header"))
			return
		}

		ctx := context.WithValue(r.Context(), contextKey{}, User{Name: name, Email: email})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// headerValue returns the first header from keys that is present, in
// precedence order. Presence is distinct from emptiness: a header set to ""
// still counts.
func headerValue(h http.Header, keys []string) (string, bool) {
	for _, k := range keys {
		if vs, ok := h[textproto.CanonicalMIMEHeaderKey(k)]; ok && len(vs) > 0 {
			return vs[0], true
		}
	}
	return "", false
}
