package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gregriff/duet/internal/crypto"
)

// BasicAuth is a middleware that mandates basic auth is present in the headers and that its password
// matches passwordHash. The username is not checked, identities are chosen after connecting.
func BasicAuth(next http.Handler, passwordHash string, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// whitelisted endpoints
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		_, password, ok := r.BasicAuth()
		if !ok {
			writeAuthError(w)
			return
		}
		if err := crypto.CompareHashAndPassword(passwordHash, password); err != nil {
			log.Warn("auth error", "remote_addr", r.RemoteAddr, "err", err)
			writeAuthError(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="duet"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
