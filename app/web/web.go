// Package web implements the web server for the blastweb application:
// the submission form, per-user dashboard and task result pages.
package web

import (
	"bytes"
	"context"
	"crypto/rand"
	"embed"
	"encoding/hex"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/didip/tollbooth/v8"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/seqbox/blastweb/app/blast"
	"github.com/seqbox/blastweb/app/catalog"
	"github.com/seqbox/blastweb/app/runner"
	"github.com/seqbox/blastweb/app/store"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// session represents an active user session
type session struct {
	userID    int64
	username  string
	createdAt time.Time
}

// Server represents the web server
type Server struct {
	store          Persistence
	catalog        catalog.Catalog
	submissions    chan<- runner.Submission
	templates      map[string]*template.Template
	version        string
	loginTTL       time.Duration               // session TTL
	csrfProtection *http.CrossOriginProtection // csrf protection for POST endpoints
	sessions       map[string]session          // token -> session
	sessionsMu     sync.Mutex                  // protects sessions map
}

// Persistence defines storage operations for users and tasks
type Persistence interface {
	CreateUser(ctx context.Context, username, passwordHash string) (store.User, error)
	GetUser(ctx context.Context, username string) (store.User, error)
	CreateTask(ctx context.Context, task store.Task) error
	GetTask(ctx context.Context, id string) (store.Task, error)
	ListTasks(ctx context.Context, userID int64) ([]store.Task, error)
	HasActive(ctx context.Context, userID int64) (bool, error)
	DeleteTask(ctx context.Context, id string, userID int64) error
}

// TemplateData holds data for templates
type TemplateData struct {
	Title       string
	Username    string
	Flashes     []Message
	TaskRunning bool
	CurrentYear int
	Version     string

	// page-specific fields
	Programs  []catalog.Option
	Databases []catalog.Option
	Tasks     []store.Task
	Task      store.Task
	Hits      []blast.Hit
}

// Config holds server configuration
type Config struct {
	Store       Persistence
	Catalog     catalog.Catalog
	Submissions chan<- runner.Submission // task runner queue
	Version     string
	LoginTTL    time.Duration // session TTL, defaults to 24h if not set
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("web server initialization failed: store is required")
	}
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("web server initialization failed: submissions channel is required")
	}

	loginTTL := cfg.LoginTTL
	if loginTTL == 0 {
		loginTTL = 24 * time.Hour
	}

	s := &Server{
		store:          cfg.Store,
		catalog:        cfg.Catalog,
		submissions:    cfg.Submissions,
		version:        cfg.Version,
		loginTTL:       loginTTL,
		csrfProtection: http.NewCrossOriginProtection(),
		sessions:       make(map[string]session),
	}

	templates, err := s.parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("web server initialization failed: failed to parse HTML templates: %w", err)
	}
	s.templates = templates

	return s, nil
}

// Run starts the web server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	// global middleware - applied to all routes
	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("blastweb", "seqbox", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(1024*1024), // sequences can be large, 1MB max request size
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	// auth middleware must be installed before any routes are defined
	router.Use(s.authMiddleware)

	// account routes - not protected by auth (middleware skips them)
	router.HandleFunc("GET /login", s.handleLoginForm)
	router.With(s.csrfProtection.Handler, tollbooth.HTTPMiddleware(loginLimiter)).HandleFunc("POST /login", s.handleLogin)
	router.HandleFunc("GET /register", s.handleRegisterForm)
	router.With(s.csrfProtection.Handler, tollbooth.HTTPMiddleware(loginLimiter)).HandleFunc("POST /register", s.handleRegister)
	router.HandleFunc("GET /logout", s.handleLogout)

	// dashboard route
	router.HandleFunc("GET /{$}", s.handleDashboard)

	// submission form and task routes
	router.HandleFunc("GET /blast", s.handleBlastForm)
	router.With(s.csrfProtection.Handler).HandleFunc("POST /blast", s.handleBlastSubmit)
	router.HandleFunc("GET /tasks/{id}", s.handleTaskResults)
	router.With(s.csrfProtection.Handler).HandleFunc("POST /tasks/{id}/delete", s.handleTaskDelete)

	// static files with proper error handling
	fsys, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Printf("[ERROR] failed to create static file system: %v", err)
		router.Handle("GET /static/", http.FileServer(http.FS(staticFS)))
	} else {
		router.HandleFiles("/static/", http.FS(fsys))
	}

	return router
}

// render renders a page template wrapped in the base layout
func (s *Server) render(w http.ResponseWriter, page string, data TemplateData) {
	tmpl, ok := s.templates[page]
	if !ok {
		log.Printf("[WARN] template %s not found", page)
		http.Error(w, "Template not found", http.StatusInternalServerError)
		return
	}

	data.CurrentYear = time.Now().Year()
	data.Version = s.version

	buf := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(buf, "base", data); err != nil {
		log.Printf("[WARN] failed to execute template %s: %v", page, err)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("[WARN] failed to write response: %v", err)
	}
}

// newTemplateData creates a TemplateData with common fields populated from request
func (s *Server) newTemplateData(w http.ResponseWriter, r *http.Request) TemplateData {
	data := TemplateData{Flashes: s.popFlashes(w, r)}
	if user, ok := userFromContext(r.Context()); ok {
		data.Username = user.username
		running, err := s.store.HasActive(r.Context(), user.userID)
		if err != nil {
			log.Printf("[WARN] can't check active tasks for %s: %v", user.username, err)
		}
		data.TaskRunning = running
	}
	return data
}

// parseTemplates parses all templates
func (s *Server) parseTemplates() (map[string]*template.Template, error) {
	templates := make(map[string]*template.Template)

	funcMap := template.FuncMap{
		"humanTime":     s.humanTime,
		"humanDuration": s.humanDuration,
		"truncate":      s.truncate,
	}

	// each page template is parsed together with the base layout
	for _, page := range []string{"dashboard.html", "blast.html", "results.html"} {
		tmpl, err := template.New(page).Funcs(funcMap).ParseFS(templatesFS,
			"templates/base.html", "templates/"+page)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", page, err)
		}
		templates[page] = tmpl
	}

	// login and register templates are standalone, don't use base
	for _, page := range []string{"login.html", "register.html"} {
		tmpl, err := template.New(page).Funcs(funcMap).ParseFS(templatesFS, "templates/"+page)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", page, err)
		}
		templates[page] = tmpl
	}

	return templates, nil
}

// template helper functions

func (s *Server) humanTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.Format("Jan 2, 15:04:05")
}

func (s *Server) humanDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

// truncate shortens to n runes, hit titles may contain multi-byte characters
func (s *Server) truncate(str string, n int) string {
	runes := []rune(str)
	if len(runes) <= n {
		return str
	}
	return string(runes[:n]) + "..."
}

// newToken generates a random session token
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("can't generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
