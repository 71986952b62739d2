package blast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const submitResponse = `<html>
<!--QBlastInfoBegin
    RID = TEST-RID-123
    RTOE = 0
QBlastInfoEnd
-->
</html>`

const waitingResponse = `<html>
	QBlastInfoBegin
		Status=WAITING
	QBlastInfoEnd
</html>`

const readyResponse = `<html>
	QBlastInfoBegin
		Status=READY
		ThereAreHits=yes
	QBlastInfoEnd
</html>`

func TestClient_Search(t *testing.T) {
	var polls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch r.FormValue("CMD") {
		case "Put":
			assert.Equal(t, "blastn", r.FormValue("PROGRAM"))
			assert.Equal(t, "nt", r.FormValue("DATABASE"))
			assert.Equal(t, "ACGT", r.FormValue("QUERY"))
			_, _ = w.Write([]byte(submitResponse))
		case "Get":
			assert.Equal(t, "TEST-RID-123", r.FormValue("RID"))
			if r.FormValue("FORMAT_OBJECT") == "SearchInfo" {
				if atomic.AddInt32(&polls, 1) < 2 {
					_, _ = w.Write([]byte(waitingResponse))
					return
				}
				_, _ = w.Write([]byte(readyResponse))
				return
			}
			assert.Equal(t, "XML", r.FormValue("FORMAT_TYPE"))
			_, _ = w.Write([]byte(sampleXML))
		default:
			t.Errorf("unexpected CMD %q", r.FormValue("CMD"))
		}
	}))
	defer ts.Close()

	client := New(ts.URL, time.Second, time.Millisecond)
	hits, err := client.Search(context.Background(), Request{Program: "blastn", Database: "nt", Sequence: "ACGT"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&polls), "one waiting poll, one ready poll")
}

func TestClient_Submit(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<!--QBlastInfoBegin\n RID = XYZ\n RTOE = 25\nQBlastInfoEnd\n-->"))
		}))
		defer ts.Close()

		client := New(ts.URL, time.Second, time.Millisecond)
		rid, rtoe, err := client.Submit(context.Background(), Request{Program: "blastp", Database: "nr", Sequence: "MKV"})
		require.NoError(t, err)
		assert.Equal(t, "XYZ", rid)
		assert.Equal(t, 25*time.Second, rtoe)
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		client := New("http://localhost:1", time.Second, time.Millisecond)
		_, _, err := client.Submit(context.Background(), Request{Program: "blastn"})
		assert.Error(t, err)
	})

	t.Run("no RID in response", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>maintenance</html>"))
		}))
		defer ts.Close()

		client := New(ts.URL, time.Second, time.Millisecond)
		_, _, err := client.Submit(context.Background(), Request{Program: "blastn", Database: "nt", Sequence: "ACGT"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no RID")
	})

	t.Run("server error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer ts.Close()

		client := New(ts.URL, time.Second, time.Millisecond)
		_, _, err := client.Submit(context.Background(), Request{Program: "blastn", Database: "nt", Sequence: "ACGT"})
		assert.Error(t, err)
	})
}

func TestClient_SearchFailedStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.FormValue("CMD") == "Put" {
			_, _ = w.Write([]byte(submitResponse))
			return
		}
		_, _ = w.Write([]byte("QBlastInfoBegin\nStatus=FAILED\nQBlastInfoEnd"))
	}))
	defer ts.Close()

	client := New(ts.URL, time.Second, time.Millisecond)
	_, err := client.Search(context.Background(), Request{Program: "blastn", Database: "nt", Sequence: "ACGT"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed on server side")
}

func TestClient_SearchCanceled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.FormValue("CMD") == "Put" {
			_, _ = w.Write([]byte(submitResponse))
			return
		}
		_, _ = w.Write([]byte(waitingResponse)) // never completes
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := New(ts.URL, time.Second, 5*time.Millisecond)
	_, err := client.Search(ctx, Request{Program: "blastn", Database: "nt", Sequence: "ACGT"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseQBlastInfo(t *testing.T) {
	info := parseQBlastInfo("junk\nQBlastInfoBegin\n RID = A=B \n broken-line \nQBlastInfoEnd\n RID = OUTSIDE")
	assert.Equal(t, "A=B", info["RID"], "split on first = only, value trimmed")
	assert.Len(t, info, 1, "lines outside the block ignored")
}

func TestNew_Defaults(t *testing.T) {
	client := New("", time.Second, 0)
	assert.Equal(t, DefaultBaseURL, client.baseURL)
	assert.Equal(t, 10*time.Second, client.pollInterval)
}
