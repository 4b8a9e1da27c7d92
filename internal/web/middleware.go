package web

import (
	"context"
	"net/http"

	"github.com/phantomtech/mirage/internal/auth"
)

// sessionCookie is the name of the login session cookie.
const sessionCookie = "mirage_session"

type sessionKeyType struct{}

var sessionKey sessionKeyType

// requireAuth wraps a handler with session validation. Unauthenticated
// requests are redirected to the login page.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := s.sessionFromRequest(r)
		if sess == nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	}
}

// sessionFromRequest resolves the session cookie, or nil.
func (s *Server) sessionFromRequest(r *http.Request) *auth.Session {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil
	}
	return s.sessions.Lookup(cookie.Value)
}

// currentSession returns the session attached by requireAuth.
func currentSession(r *http.Request) *auth.Session {
	sess, _ := r.Context().Value(sessionKey).(*auth.Session)
	return sess
}

// setSessionCookie writes the login cookie. HttpOnly keeps the token
// away from page scripts.
func setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie expires the login cookie.
func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
