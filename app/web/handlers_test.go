package web

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqbox/blastweb/app/blast"
	"github.com/seqbox/blastweb/app/catalog"
	"github.com/seqbox/blastweb/app/runner"
	"github.com/seqbox/blastweb/app/store"
	"github.com/seqbox/blastweb/app/web/enums"
)

func TestBlastForm_RendersCatalogOptions(t *testing.T) {
	s, _ := newTestServer(t, newPersistenceMock())
	cookie := loginAs(s, 1, "alice")

	rr := doRequest(s, http.MethodGet, "/blast", nil, cookie)
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, `<option value="blastn">`)
	assert.Contains(t, body, `<option value="blastp">`)
	assert.Contains(t, body, `<option value="nt">`)
	assert.Contains(t, body, `<option value="other_program">`)
	assert.Contains(t, body, `<option value="other_database">`)
	assert.Contains(t, body, `id="other_program"`)
	assert.Contains(t, body, `id="other_database"`)
	assert.Contains(t, body, `id="submit-btn"`)
	assert.Contains(t, body, "Run BLAST")
	assert.Contains(t, body, `src="/static/blast.js"`)
}

func TestBlastForm_ShowsFlashesInOrder(t *testing.T) {
	s, _ := newTestServer(t, newPersistenceMock())
	cookie := loginAs(s, 1, "alice")

	messages := []Message{
		{Category: enums.FlashSuccess, Text: "first notice"},
		{Category: enums.FlashDanger, Text: "second notice"},
		{Category: enums.FlashInfo, Text: "third notice"},
	}
	rr := doRequest(s, http.MethodGet, "/blast", nil, cookie, encodeFlashCookie(t, messages))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	first := strings.Index(body, "first notice")
	second := strings.Index(body, "second notice")
	third := strings.Index(body, "third notice")
	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, second)
	require.NotEqual(t, -1, third)
	assert.Less(t, first, second, "notices render in queue order")
	assert.Less(t, second, third, "notices render in queue order")
	assert.Contains(t, body, "notice-danger")

	cleared := flashCookieFrom(t, rr)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge, "flashes consumed on render")
}

func TestBlastForm_RunningBanner(t *testing.T) {
	mock := newPersistenceMock()
	s, _ := newTestServer(t, mock)
	cookie := loginAs(s, 1, "alice")

	rr := doRequest(s, http.MethodGet, "/blast", nil, cookie)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), `id="task-running"`, "no banner when idle")

	mock.active = true
	rr = doRequest(s, http.MethodGet, "/blast", nil, cookie)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, strings.Count(rr.Body.String(), `id="task-running"`), "exactly one banner")
}

func TestBlastSubmit_CreatesAndQueuesTask(t *testing.T) {
	mock := newPersistenceMock()
	s, subs := newTestServer(t, mock)
	cookie := loginAs(s, 7, "alice")

	form := url.Values{"program": {"blastn"}, "database": {"nt"}, "sequence": {"ACGTACGT"}}
	rr := doRequest(s, http.MethodPost, "/blast", form, cookie)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"))

	task, ok := mock.firstTask()
	require.True(t, ok, "task persisted")
	assert.Equal(t, int64(7), task.UserID)
	assert.Equal(t, "blastn", task.Program)
	assert.Equal(t, "nt", task.Database)
	assert.Equal(t, "ACGTACGT", task.Sequence)
	assert.True(t, strings.HasPrefix(task.TaskName, "blastn_nt_"), "task name %q", task.TaskName)
	assert.Equal(t, enums.TaskStatusPending, task.Status)
	assert.WithinDuration(t, time.Now(), task.CreatedAt, 5*time.Second, "created at submission time")

	select {
	case sub := <-subs:
		assert.Equal(t, task.ID, sub.TaskID)
		assert.Equal(t, blast.Request{Program: "blastn", Database: "nt", Sequence: "ACGTACGT"}, sub.Request)
	default:
		t.Fatal("submission not queued")
	}

	messages := decodeFlashes(t, flashCookieFrom(t, rr))
	require.Len(t, messages, 1)
	assert.Equal(t, enums.FlashSuccess, messages[0].Category)
	assert.Contains(t, messages[0].Text, task.TaskName)
}

func TestBlastSubmit_OtherProgramOverride(t *testing.T) {
	mock := newPersistenceMock()
	s, _ := newTestServer(t, mock)
	cookie := loginAs(s, 1, "alice")

	form := url.Values{
		"program":        {"other_program"},
		"other_program":  {"myTool"},
		"database":       {"other_database"},
		"other_database": {"customDB"},
		"sequence":       {"MKVL"},
	}
	rr := doRequest(s, http.MethodPost, "/blast", form, cookie)
	require.Equal(t, http.StatusSeeOther, rr.Code)

	task, ok := mock.firstTask()
	require.True(t, ok)
	assert.Equal(t, "myTool", task.Program)
	assert.Equal(t, "customDB", task.Database)
	assert.True(t, strings.HasPrefix(task.TaskName, "myTool_customDB_"))
}

func TestBlastSubmit_SentinelWithoutOverrideForwarded(t *testing.T) {
	mock := newPersistenceMock()
	s, _ := newTestServer(t, mock)
	cookie := loginAs(s, 1, "alice")

	form := url.Values{"program": {"other_program"}, "database": {"nt"}, "sequence": {"ACGT"}}
	rr := doRequest(s, http.MethodPost, "/blast", form, cookie)
	require.Equal(t, http.StatusSeeOther, rr.Code)

	task, ok := mock.firstTask()
	require.True(t, ok)
	assert.Equal(t, "other_program", task.Program, "sentinel without override passes through")
}

func TestBlastSubmit_MissingFields(t *testing.T) {
	tbl := []struct {
		name string
		form url.Values
	}{
		{"no sequence", url.Values{"program": {"blastn"}, "database": {"nt"}}},
		{"no program", url.Values{"database": {"nt"}, "sequence": {"ACGT"}}},
		{"no database", url.Values{"program": {"blastn"}, "sequence": {"ACGT"}}},
		{"blank sequence", url.Values{"program": {"blastn"}, "database": {"nt"}, "sequence": {"   "}}},
	}

	for _, tc := range tbl {
		t.Run(tc.name, func(t *testing.T) {
			mock := newPersistenceMock()
			s, subs := newTestServer(t, mock)
			cookie := loginAs(s, 1, "alice")

			rr := doRequest(s, http.MethodPost, "/blast", tc.form, cookie)
			require.Equal(t, http.StatusSeeOther, rr.Code)
			assert.Equal(t, "/blast", rr.Header().Get("Location"), "back to the form")

			_, ok := mock.firstTask()
			assert.False(t, ok, "nothing persisted")
			assert.Empty(t, subs, "nothing queued")

			messages := decodeFlashes(t, flashCookieFrom(t, rr))
			require.Len(t, messages, 1)
			assert.Equal(t, enums.FlashDanger, messages[0].Category)
		})
	}
}

func TestBlastSubmit_QueueFull(t *testing.T) {
	mock := newPersistenceMock()
	subs := make(chan runner.Submission) // unbuffered, nobody reads
	s, err := New(Config{Store: mock, Catalog: catalog.Default(), Submissions: subs, Version: "test"})
	require.NoError(t, err)
	cookie := loginAs(s, 1, "alice")

	form := url.Values{"program": {"blastn"}, "database": {"nt"}, "sequence": {"ACGT"}}
	rr := doRequest(s, http.MethodPost, "/blast", form, cookie)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/blast", rr.Header().Get("Location"))

	messages := decodeFlashes(t, flashCookieFrom(t, rr))
	require.Len(t, messages, 1)
	assert.Equal(t, enums.FlashDanger, messages[0].Category)
	assert.Contains(t, messages[0].Text, "queue is full")

	_, ok := mock.firstTask()
	assert.True(t, ok, "task stays persisted as pending")
}

func TestDashboard_ListsOwnTasksNewestFirst(t *testing.T) {
	mock := newPersistenceMock()
	s, _ := newTestServer(t, mock)
	cookie := loginAs(s, 1, "alice")

	require.NoError(t, mock.CreateTask(t.Context(), store.Task{ID: "t1", TaskName: "blastn_nt_20250101_100000", UserID: 1, Program: "blastn", Database: "nt", CreatedAt: time.Now()}))
	require.NoError(t, mock.CreateTask(t.Context(), store.Task{ID: "t2", TaskName: "blastp_nr_20250101_110000", UserID: 1, Program: "blastp", Database: "nr", CreatedAt: time.Now()}))
	require.NoError(t, mock.CreateTask(t.Context(), store.Task{ID: "t3", TaskName: "blastx_nt_20250101_120000", UserID: 2, Program: "blastx", Database: "nt", CreatedAt: time.Now()}))

	rr := doRequest(s, http.MethodGet, "/", nil, cookie)
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, "blastn_nt_20250101_100000")
	assert.Contains(t, body, "blastp_nr_20250101_110000")
	assert.NotContains(t, body, "blastx_nt_20250101_120000", "other users' tasks hidden")
	assert.Less(t, strings.Index(body, "blastp_nr"), strings.Index(body, "blastn_nt"), "newest first")
}

func TestTaskResults_RendersHits(t *testing.T) {
	mock := newPersistenceMock()
	s, _ := newTestServer(t, mock)
	cookie := loginAs(s, 1, "alice")

	hits := []blast.Hit{
		{Title: "gi|123 synthetic construct", Length: 100, Score: 55.5, EValue: 1e-10, QueryStart: 1, QueryEnd: 8, QuerySeq: "ACGTACGT", Match: "||||||||", HitSeq: "ACGTACGT"},
	}
	encoded, err := json.Marshal(hits)
	require.NoError(t, err)

	task := store.Task{
		ID: "t1", TaskName: "blastn_nt_20250101_100000", UserID: 1,
		Program: "blastn", Database: "nt", Status: enums.TaskStatusSuccess,
		Result: string(encoded), CreatedAt: time.Now(), FinishedAt: time.Now(),
	}
	require.NoError(t, mock.CreateTask(t.Context(), task))

	rr := doRequest(s, http.MethodGet, "/tasks/t1", nil, cookie)
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, "gi|123 synthetic construct")
	assert.Contains(t, body, "ACGTACGT")
	assert.Contains(t, body, "||||||||")
	assert.Contains(t, body, "status-success")
}

func TestTaskResults_FailedTaskShowsError(t *testing.T) {
	mock := newPersistenceMock()
	s, _ := newTestServer(t, mock)
	cookie := loginAs(s, 1, "alice")

	task := store.Task{
		ID: "t1", TaskName: "blastn_nt_20250101_100000", UserID: 1,
		Program: "blastn", Database: "nt", Status: enums.TaskStatusFailed,
		Error: "search expired on the backend", CreatedAt: time.Now(), FinishedAt: time.Now(),
	}
	require.NoError(t, mock.CreateTask(t.Context(), task))

	rr := doRequest(s, http.MethodGet, "/tasks/t1", nil, cookie)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "search expired on the backend")
	assert.NotContains(t, rr.Body.String(), "No hits found", "error page doesn't claim empty results")
}

func TestTaskResults_OwnershipEnforced(t *testing.T) {
	mock := newPersistenceMock()
	s, _ := newTestServer(t, mock)
	cookie := loginAs(s, 1, "alice")

	require.NoError(t, mock.CreateTask(t.Context(), store.Task{ID: "t1", TaskName: "x", UserID: 2}))

	rr := doRequest(s, http.MethodGet, "/tasks/t1", nil, cookie)
	assert.Equal(t, http.StatusNotFound, rr.Code, "foreign task looks like it doesn't exist")

	rr = doRequest(s, http.MethodGet, "/tasks/missing", nil, cookie)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTaskDelete(t *testing.T) {
	mock := newPersistenceMock()
	s, _ := newTestServer(t, mock)
	cookie := loginAs(s, 1, "alice")

	require.NoError(t, mock.CreateTask(t.Context(), store.Task{ID: "t1", TaskName: "x", UserID: 1}))
	require.NoError(t, mock.CreateTask(t.Context(), store.Task{ID: "t2", TaskName: "y", UserID: 2}))

	rr := doRequest(s, http.MethodPost, "/tasks/t1/delete", url.Values{}, cookie)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	_, ok := mock.getTask("t1")
	assert.False(t, ok, "own task deleted")

	// foreign task survives and the user gets a not-found notice
	rr = doRequest(s, http.MethodPost, "/tasks/t2/delete", url.Values{}, cookie)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	_, ok = mock.getTask("t2")
	assert.True(t, ok, "foreign task untouched")

	messages := decodeFlashes(t, flashCookieFrom(t, rr))
	require.Len(t, messages, 1)
	assert.Equal(t, enums.FlashDanger, messages[0].Category)
}
