package web

import (
	"net/http"
)

// LoginData is the template context for the login page.
type LoginData struct {
	BrandName string
	Error     string
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if s.sessionFromRequest(r) != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.render(w, "login.html", LoginData{BrandName: s.brandName})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	username := r.FormValue("username")
	password := r.FormValue("password")

	user, err := s.users.Login(username, password)
	if err != nil {
		s.logger.Info("login failed", "username", username)
		s.render(w, "login.html", LoginData{BrandName: s.brandName, Error: err.Error()})
		return
	}

	setSessionCookie(w, s.sessions.Create(user))
	s.logger.Info("login", "user", user.Username)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	username := r.FormValue("username")
	password := r.FormValue("password")

	user, err := s.users.Register(username, password)
	if err != nil {
		s.render(w, "login.html", LoginData{BrandName: s.brandName, Error: err.Error()})
		return
	}

	setSessionCookie(w, s.sessions.Create(user))
	s.logger.Info("user registered", "user", user.Username)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		s.sessions.Revoke(cookie.Value)
	}
	clearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
