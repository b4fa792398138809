package web

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// AdminAuthenticator checks basic auth credentials for the admin routes.
// store.OperatorStore satisfies it.
type AdminAuthenticator interface {
	Authenticate(ctx context.Context, username, password string) (bool, error)
}

// StaticAdmin is the single operator configured through the environment.
type StaticAdmin struct {
	UserName     string
	PasswordHash string // bcrypt
}

func (a StaticAdmin) Authenticate(_ context.Context, username, password string) (bool, error) {
	if subtle.ConstantTimeCompare([]byte(username), []byte(a.UserName)) != 1 {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil, nil
}

// adminAuth accepts a request when any authenticator accepts its basic auth
// credentials. With no authenticators the admin routes are open.
func adminAuth(logger *slog.Logger, authenticators []AdminAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(authenticators) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, password, ok := r.BasicAuth()
			if ok {
				for _, a := range authenticators {
					valid, err := a.Authenticate(r.Context(), user, password)
					if err != nil {
						logger.ErrorContext(r.Context(), "admin authentication", "error", err)
						writeError(w, http.StatusInternalServerError, "internal error")
						return
					}
					if valid {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="shotfire admin"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}
