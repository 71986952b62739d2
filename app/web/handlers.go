package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"

	"github.com/seqbox/blastweb/app/blast"
	"github.com/seqbox/blastweb/app/catalog"
	"github.com/seqbox/blastweb/app/runner"
	"github.com/seqbox/blastweb/app/store"
	"github.com/seqbox/blastweb/app/web/enums"
)

// handleDashboard renders the task list for the current user
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	tasks, err := s.store.ListTasks(r.Context(), user.userID)
	if err != nil {
		log.Printf("[WARN] can't list tasks for %s: %v", user.username, err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	data := s.newTemplateData(w, r)
	data.Title = "Dashboard"
	data.Tasks = tasks
	s.render(w, "dashboard.html", data)
}

// handleBlastForm renders the search submission form
func (s *Server) handleBlastForm(w http.ResponseWriter, r *http.Request) {
	data := s.newTemplateData(w, r)
	data.Title = "New Search"
	data.Programs = s.catalog.Programs
	data.Databases = s.catalog.Databases
	s.render(w, "blast.html", data)
}

// handleBlastSubmit accepts a search submission, stores the task and queues
// it for execution. Program and database values outside the catalog are
// forwarded as-is, the backend decides whether it can serve them.
func (s *Server) handleBlastSubmit(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	program := strings.TrimSpace(r.FormValue("program"))
	database := strings.TrimSpace(r.FormValue("database"))
	sequence := strings.TrimSpace(r.FormValue("sequence"))
	if program == "" || database == "" || sequence == "" {
		s.addFlash(w, r, enums.FlashDanger, "Program, database and sequence are required")
		http.Redirect(w, r, "/blast", http.StatusSeeOther)
		return
	}

	program = catalog.ResolveProgram(program, strings.TrimSpace(r.FormValue("other_program")))
	database = catalog.ResolveDatabase(database, strings.TrimSpace(r.FormValue("other_database")))

	now := time.Now()
	task := store.Task{
		ID:        uuid.NewString(),
		TaskName:  fmt.Sprintf("%s_%s_%s", program, database, now.Format("20060102_150405")),
		UserID:    user.userID,
		Program:   program,
		Database:  database,
		Sequence:  sequence,
		CreatedAt: now,
	}

	if err := s.store.CreateTask(r.Context(), task); err != nil {
		log.Printf("[WARN] can't create task for %s: %v", user.username, err)
		s.addFlash(w, r, enums.FlashDanger, "Failed to save the task, please try again")
		http.Redirect(w, r, "/blast", http.StatusSeeOther)
		return
	}

	sub := runner.Submission{
		TaskID:  task.ID,
		Request: blast.Request{Program: program, Database: database, Sequence: sequence},
	}
	select {
	case s.submissions <- sub:
	default:
		log.Printf("[WARN] submission queue full, task %s left pending", task.TaskName)
		s.addFlash(w, r, enums.FlashDanger, "The queue is full, please try again later")
		http.Redirect(w, r, "/blast", http.StatusSeeOther)
		return
	}

	log.Printf("[INFO] task %s submitted by %s", task.TaskName, user.username)
	s.addFlash(w, r, enums.FlashSuccess, fmt.Sprintf("BLAST task %s submitted", task.TaskName))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleTaskResults renders the stored hits of a finished task
func (s *Server) handleTaskResults(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	task, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Task not found", http.StatusNotFound)
			return
		}
		log.Printf("[WARN] can't load task %s: %v", r.PathValue("id"), err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if task.UserID != user.userID {
		http.Error(w, "Task not found", http.StatusNotFound) // don't reveal other users' task ids
		return
	}

	var hits []blast.Hit
	if task.Result != "" {
		if err := json.Unmarshal([]byte(task.Result), &hits); err != nil {
			log.Printf("[WARN] can't decode results of task %s: %v", task.TaskName, err)
		}
	}

	data := s.newTemplateData(w, r)
	data.Title = task.TaskName
	data.Task = task
	data.Hits = hits
	s.render(w, "results.html", data)
}

// handleTaskDelete removes a task owned by the current user
func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	id := r.PathValue("id")
	if err := s.store.DeleteTask(r.Context(), id, user.userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.addFlash(w, r, enums.FlashDanger, "Task not found")
		} else {
			log.Printf("[WARN] can't delete task %s: %v", id, err)
			s.addFlash(w, r, enums.FlashDanger, "Failed to delete the task")
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	s.addFlash(w, r, enums.FlashInfo, "Task deleted")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
