package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/didip/tollbooth/v8"
	log "github.com/go-pkgz/lgr"
	"golang.org/x/crypto/bcrypt"

	"github.com/seqbox/blastweb/app/web/enums"
)

const sessionCookie = "blastweb-session"

// loginLimiter throttles credential submissions per remote address
var loginLimiter = tollbooth.NewLimiter(5, nil)

type ctxKey int

const userContextKey ctxKey = iota

// currentUser identifies the authenticated user for the request
type currentUser struct {
	userID   int64
	username string
}

func userFromContext(ctx context.Context) (currentUser, bool) {
	user, ok := ctx.Value(userContextKey).(currentUser)
	return user, ok
}

// authMiddleware resolves the session cookie to a user and stores it in the
// request context. Unauthenticated browser requests are redirected to login.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// skip auth for account pages and static resources
		if r.URL.Path == "/login" || r.URL.Path == "/register" || strings.HasPrefix(r.URL.Path, "/static/") {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(sessionCookie)
		if err == nil {
			if user, ok := s.validateSession(cookie.Value); ok {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
				return
			}
		}

		if r.Header.Get("Accept") == "" || strings.Contains(r.Header.Get("Accept"), "text/html") {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

// validateSession looks up the token, expired sessions are evicted on access
func (s *Server) validateSession(token string) (currentUser, bool) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return currentUser{}, false
	}
	if time.Since(sess.createdAt) > s.loginTTL {
		delete(s.sessions, token)
		return currentUser{}, false
	}
	return currentUser{userID: sess.userID, username: sess.username}, true
}

// startSession registers a session for the user and sets the cookie
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, userID int64, username string) error {
	token, err := newToken()
	if err != nil {
		return err
	}

	s.sessionsMu.Lock()
	s.sessions[token] = session{userID: userID, username: username, createdAt: time.Now()}
	s.sessionsMu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.loginTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	})
	return nil
}

// handleLoginForm displays the login form
func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	s.renderLogin(w, r, http.StatusOK, "")
}

// handleLogin processes the login form submission
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	if username == "" || password == "" {
		s.renderLogin(w, r, http.StatusUnauthorized, "Username and password are required")
		return
	}

	user, err := s.store.GetUser(r.Context(), username)
	if err != nil {
		log.Printf("[DEBUG] login failed for %q: %v", username, err)
		s.renderLogin(w, r, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.renderLogin(w, r, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	if err := s.startSession(w, r, user.ID, user.Username); err != nil {
		log.Printf("[ERROR] can't start session for %s: %v", username, err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	log.Printf("[INFO] user %s logged in", username)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleRegisterForm displays the registration form
func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	s.renderRegister(w, r, http.StatusOK, "")
}

// handleRegister creates a new user account
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	if username == "" || password == "" {
		s.renderRegister(w, r, http.StatusBadRequest, "Username and password are required")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("[ERROR] can't hash password: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	user, err := s.store.CreateUser(r.Context(), username, string(hash))
	if err != nil {
		log.Printf("[DEBUG] registration failed for %q: %v", username, err)
		s.renderRegister(w, r, http.StatusConflict, "Username already exists")
		return
	}

	log.Printf("[INFO] registered user %s", user.Username)
	s.addFlash(w, r, enums.FlashSuccess, "Registration successful, please log in")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// handleLogout drops the session and clears the cookie
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		s.sessionsMu.Lock()
		delete(s.sessions, cookie.Value)
		s.sessionsMu.Unlock()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // delete cookie
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	})

	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// renderLogin renders the standalone login page
func (s *Server) renderLogin(w http.ResponseWriter, r *http.Request, status int, errMsg string) {
	s.renderAccountPage(w, r, "login.html", status, errMsg)
}

// renderRegister renders the standalone registration page
func (s *Server) renderRegister(w http.ResponseWriter, r *http.Request, status int, errMsg string) {
	s.renderAccountPage(w, r, "register.html", status, errMsg)
}

func (s *Server) renderAccountPage(w http.ResponseWriter, r *http.Request, page string, status int, errMsg string) {
	tmpl := s.templates[page]
	if tmpl == nil {
		log.Printf("[ERROR] template %s not found", page)
		http.Error(w, "Template not found", http.StatusInternalServerError)
		return
	}

	data := struct {
		Error   string
		Flashes []Message
	}{
		Error:   errMsg,
		Flashes: s.popFlashes(w, r),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := tmpl.Execute(w, data); err != nil {
		log.Printf("[ERROR] failed to render %s: %v", page, err)
	}
}
