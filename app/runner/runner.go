// Package runner executes submitted search tasks. Submissions arrive over a
// channel from the web layer and run on a bounded worker pool; each search
// is wrapped in backoff retries, optionally gated on host conditions, and
// its outcome is persisted and reported to the configured notifier.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"
	"github.com/robfig/cron/v3"

	"github.com/seqbox/blastweb/app/blast"
	"github.com/seqbox/blastweb/app/conditions"
	"github.com/seqbox/blastweb/app/store"
)

// Submission is a request to execute one task.
type Submission struct {
	TaskID  string
	Request blast.Request
}

// Store defines the persistence operations the runner needs.
type Store interface {
	GetTask(ctx context.Context, id string) (store.Task, error)
	ListPending(ctx context.Context) ([]store.Task, error)
	SetRunning(ctx context.Context, id string, startedAt time.Time) error
	Complete(ctx context.Context, id, result string, finishedAt time.Time) error
	Fail(ctx context.Context, id, errMsg string, finishedAt time.Time) error
	PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error)
}

// Searcher runs a single search to completion.
type Searcher interface {
	Search(ctx context.Context, req blast.Request) ([]blast.Hit, error)
}

// Repeater repeats failed function
type Repeater interface {
	Do(ctx context.Context, fun func() error, errs ...error) error
}

// Notifier delivers task outcome messages.
type Notifier interface {
	Send(ctx context.Context, text string) error
	IsOnError() bool
	IsOnCompletion() bool
}

// ConditionChecker verifies host conditions before dispatch.
type ConditionChecker interface {
	Check(cfg conditions.Config) (bool, string)
}

// ConditionCheckerFunc adapts a function to the ConditionChecker interface.
type ConditionCheckerFunc func(cfg conditions.Config) (bool, string)

// Check calls the wrapped function.
func (f ConditionCheckerFunc) Check(cfg conditions.Config) (bool, string) { return f(cfg) }

// Runner wires the worker pool together. All fields except Store, Searcher
// and Submissions are optional.
type Runner struct {
	Store            Store
	Searcher         Searcher
	Submissions      <-chan Submission
	Concurrency      int
	Repeater         Repeater
	Notifier         Notifier
	Conditions       conditions.Config
	ConditionChecker ConditionChecker
	CleanupSchedule  string        // cron spec for retention cleanup, empty disables
	Retention        time.Duration // finished tasks older than this are purged
}

// Run blocks consuming submissions until ctx is canceled or the submissions
// channel is closed. In-flight tasks are awaited before returning.
func (r *Runner) Run(ctx context.Context) error {
	if r.Store == nil || r.Searcher == nil || r.Submissions == nil {
		return fmt.Errorf("runner is not fully configured")
	}
	if r.Concurrency <= 0 {
		r.Concurrency = 1
	}

	if r.CleanupSchedule != "" && r.Retention > 0 {
		c := cron.New()
		if _, err := c.AddFunc(r.CleanupSchedule, func() { r.cleanup(ctx) }); err != nil {
			return fmt.Errorf("invalid cleanup schedule %q: %w", r.CleanupSchedule, err)
		}
		c.Start()
		defer c.Stop()
		log.Printf("[INFO] retention cleanup scheduled %q, keeping finished tasks for %v", r.CleanupSchedule, r.Retention)
	}

	log.Printf("[INFO] task runner started, concurrency %d", r.Concurrency)
	gr := syncs.NewSizedGroup(r.Concurrency, syncs.Context(ctx))
	r.redispatch(ctx, gr)
	for {
		select {
		case <-ctx.Done():
			gr.Wait()
			log.Printf("[DEBUG] task runner terminated, %v", ctx.Err())
			return ctx.Err()
		case sub, ok := <-r.Submissions:
			if !ok {
				gr.Wait()
				return nil
			}
			gr.Go(func(ctx context.Context) { r.process(ctx, sub) })
		}
	}
}

// redispatch picks up tasks left pending by a restart or a full submission
// queue and schedules them on the worker pool.
func (r *Runner) redispatch(ctx context.Context, gr *syncs.SizedGroup) {
	pending, err := r.Store.ListPending(ctx)
	if err != nil {
		log.Printf("[WARN] can't load pending tasks: %v", err)
		return
	}
	for _, task := range pending {
		sub := Submission{
			TaskID:  task.ID,
			Request: blast.Request{Program: task.Program, Database: task.Database, Sequence: task.Sequence},
		}
		gr.Go(func(ctx context.Context) { r.process(ctx, sub) })
	}
	if len(pending) > 0 {
		log.Printf("[INFO] re-dispatched %d pending tasks", len(pending))
	}
}

// process runs a single task from dispatch gate to persisted outcome.
func (r *Runner) process(ctx context.Context, sub Submission) {
	task, err := r.Store.GetTask(ctx, sub.TaskID)
	if err != nil {
		log.Printf("[WARN] dropping submission %s, can't load task: %v", sub.TaskID, err)
		return
	}

	if !r.waitForConditions(ctx, task.TaskName) {
		r.fail(ctx, task, "skipped, host conditions not met")
		return
	}

	if err := r.Store.SetRunning(ctx, task.ID, time.Now()); err != nil {
		log.Printf("[WARN] can't mark task %s running: %v", task.TaskName, err)
		return
	}
	log.Printf("[INFO] executing task %s: %s against %s", task.TaskName, sub.Request.Program, sub.Request.Database)

	var hits []blast.Hit
	searchErr := r.repeat(ctx, func() error {
		var e error
		hits, e = r.Searcher.Search(ctx, sub.Request)
		return e
	})

	if searchErr != nil {
		log.Printf("[WARN] task %s failed: %v", task.TaskName, searchErr)
		r.fail(ctx, task, searchErr.Error())
		return
	}

	result, err := json.Marshal(hits)
	if err != nil {
		r.fail(ctx, task, fmt.Sprintf("can't encode results: %v", err))
		return
	}

	if err := r.Store.Complete(ctx, task.ID, string(result), time.Now()); err != nil {
		log.Printf("[WARN] can't mark task %s completed: %v", task.TaskName, err)
		return
	}
	log.Printf("[INFO] completed task %s, %d hits", task.TaskName, len(hits))

	if r.notifierActive() && r.Notifier.IsOnCompletion() {
		text := MakeCompletionText(task, len(hits))
		if err := r.Notifier.Send(ctx, text); err != nil {
			log.Printf("[WARN] failed to notify on completion of %s: %v", task.TaskName, err)
		}
	}
}

func (r *Runner) fail(ctx context.Context, task store.Task, msg string) {
	if err := r.Store.Fail(ctx, task.ID, msg, time.Now()); err != nil {
		log.Printf("[WARN] can't mark task %s failed: %v", task.TaskName, err)
	}
	if r.notifierActive() && r.Notifier.IsOnError() {
		text := MakeErrorText(task, msg)
		if err := r.Notifier.Send(ctx, text); err != nil {
			log.Printf("[WARN] failed to notify on failure of %s: %v", task.TaskName, err)
		}
	}
}

func (r *Runner) repeat(ctx context.Context, fun func() error) error {
	if r.Repeater == nil {
		return fun()
	}
	return r.Repeater.Do(ctx, fun)
}

func (r *Runner) notifierActive() bool {
	return r.Notifier != nil && !reflect.ValueOf(r.Notifier).IsNil()
}

// waitForConditions checks host conditions and optionally waits for them.
// Returns true if the task should execute, false if it should be skipped.
func (r *Runner) waitForConditions(ctx context.Context, taskName string) bool {
	if r.ConditionChecker == nil || !r.Conditions.Enabled() {
		return true
	}

	met, reason := r.ConditionChecker.Check(r.Conditions)
	if met {
		return true
	}

	// no postpone configured - execute anyway, a submitted task should not silently vanish
	if r.Conditions.MaxPostpone == nil {
		log.Printf("[WARN] conditions not met for %s (%s), executing anyway", taskName, reason)
		return true
	}

	deadline := time.Now().Add(*r.Conditions.MaxPostpone)
	log.Printf("[INFO] task postponed: %s, reason: %s, deadline: %s", taskName, reason, deadline.Format(time.RFC3339))

	checkInterval := 30 * time.Second
	if r.Conditions.CheckInterval != nil {
		checkInterval = *r.Conditions.CheckInterval
	}

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	deadlineTimer := time.NewTimer(*r.Conditions.MaxPostpone)
	defer deadlineTimer.Stop()

	for {
		select {
		case <-ticker.C:
			met, reason = r.ConditionChecker.Check(r.Conditions)
			if met {
				log.Printf("[INFO] conditions met, executing postponed task %s", taskName)
				return true
			}
			log.Printf("[DEBUG] conditions not met yet for %s: %s", taskName, reason)

		case <-deadlineTimer.C:
			log.Printf("[WARN] max postpone reached, executing anyway: %s", taskName)
			return true

		case <-ctx.Done():
			log.Printf("[INFO] postponed task canceled: %s", taskName)
			return false
		}
	}
}

func (r *Runner) cleanup(ctx context.Context) {
	cutoff := time.Now().Add(-r.Retention)
	purged, err := r.Store.PurgeFinished(ctx, cutoff)
	if err != nil {
		log.Printf("[WARN] retention cleanup failed: %v", err)
		return
	}
	if purged > 0 {
		log.Printf("[INFO] retention cleanup removed %d finished tasks", purged)
	}
}

// MakeCompletionText formats the notification for a successful task.
func MakeCompletionText(task store.Task, hits int) string {
	return fmt.Sprintf("blastweb: task %s completed, %s against %s, %d hits", task.TaskName, task.Program, task.Database, hits)
}

// MakeErrorText formats the notification for a failed task.
func MakeErrorText(task store.Task, errMsg string) string {
	return fmt.Sprintf("blastweb: task %s failed, %s against %s: %s", task.TaskName, task.Program, task.Database, errMsg)
}
