package web

import (
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqbox/blastweb/app/catalog"
	"github.com/seqbox/blastweb/app/runner"
	"github.com/seqbox/blastweb/app/store"
	"github.com/seqbox/blastweb/app/web/enums"
)

// TestIntegration_SubmitPersistsToStore drives the submit handler against the
// real SQLite store and verifies the task survives the round trip through the
// database, in particular that the persisted creation time is the submission
// time and not the zero value.
func TestIntegration_SubmitPersistsToStore(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "web-test.db"))
	require.NoError(t, err)
	defer st.Close()

	subs := make(chan runner.Submission, 1)
	s, err := New(Config{Store: st, Catalog: catalog.Default(), Submissions: subs, Version: "test"})
	require.NoError(t, err)

	user, err := st.CreateUser(t.Context(), "alice", "$2a$10$not-a-real-hash")
	require.NoError(t, err)
	cookie := loginAs(s, user.ID, user.Username)

	before := time.Now()
	form := url.Values{"program": {"blastn"}, "database": {"nt"}, "sequence": {"ACGTACGT"}}
	rr := doRequest(s, http.MethodPost, "/blast", form, cookie)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	require.Equal(t, "/", rr.Header().Get("Location"))

	var sub runner.Submission
	select {
	case sub = <-subs:
	default:
		t.Fatal("submission not queued")
	}

	task, err := st.GetTask(t.Context(), sub.TaskID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, task.UserID)
	assert.Equal(t, "blastn", task.Program)
	assert.Equal(t, "nt", task.Database)
	assert.Equal(t, enums.TaskStatusPending, task.Status)
	assert.WithinDuration(t, before, task.CreatedAt, 5*time.Second, "creation time persisted, not the zero value")

	tasks, err := st.ListTasks(t.Context(), user.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.ID, tasks[0].ID)
	assert.WithinDuration(t, before, tasks[0].CreatedAt, 5*time.Second)
}
