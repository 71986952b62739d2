// Package blast implements a client for the NCBI BLAST URL API
// (https://blast.ncbi.nlm.nih.gov/Blast.cgi). A search is submitted with
// CMD=Put which returns a request ID (RID), then polled with CMD=Get until
// the search leaves the WAITING state, and finally fetched as XML.
package blast

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
)

// DefaultBaseURL is the public NCBI endpoint.
const DefaultBaseURL = "https://blast.ncbi.nlm.nih.gov/Blast.cgi"

// Request describes one search submission.
type Request struct {
	Program  string
	Database string
	Sequence string
}

// Status of a submitted search as reported by FORMAT_OBJECT=SearchInfo.
type Status string

// search states returned by the NCBI endpoint
const (
	StatusWaiting Status = "WAITING"
	StatusReady   Status = "READY"
	StatusFailed  Status = "FAILED"
	StatusUnknown Status = "UNKNOWN"
)

// Client talks to a BLAST URL API endpoint. Zero value is not usable,
// make it with New.
type Client struct {
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
}

// New creates a client for the given endpoint. Empty baseURL means the
// public NCBI service, zero pollInterval defaults to 10s.
func New(baseURL string, timeout, pollInterval time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	return &Client{
		baseURL:      baseURL,
		client:       &http.Client{Timeout: timeout},
		pollInterval: pollInterval,
	}
}

// Search runs the complete submit-poll-fetch cycle and returns parsed hits.
// Blocks until the search completes, fails or ctx is canceled.
func (c *Client) Search(ctx context.Context, req Request) ([]Hit, error) {
	rid, rtoe, err := c.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] blast search submitted, rid=%s, estimated %v", rid, rtoe)

	// NCBI asks clients to wait the estimated time before the first poll
	if err := sleepCtx(ctx, rtoe); err != nil {
		return nil, err
	}

	for {
		status, err := c.Poll(ctx, rid)
		if err != nil {
			return nil, err
		}
		switch status {
		case StatusReady:
			return c.Results(ctx, rid)
		case StatusFailed:
			return nil, fmt.Errorf("blast search %s failed on server side", rid)
		case StatusUnknown:
			return nil, fmt.Errorf("blast search %s expired or unknown", rid)
		case StatusWaiting:
			log.Printf("[DEBUG] blast search %s still running, next poll in %v", rid, c.pollInterval)
		}
		if err := sleepCtx(ctx, c.pollInterval); err != nil {
			return nil, err
		}
	}
}

// Submit sends CMD=Put and returns the assigned RID and the server's
// run-time estimate.
func (c *Client) Submit(ctx context.Context, req Request) (rid string, rtoe time.Duration, err error) {
	if req.Program == "" || req.Database == "" || req.Sequence == "" {
		return "", 0, fmt.Errorf("program, database and sequence are all required")
	}

	form := url.Values{
		"CMD":      {"Put"},
		"PROGRAM":  {req.Program},
		"DATABASE": {req.Database},
		"QUERY":    {req.Sequence},
	}

	body, err := c.post(ctx, form)
	if err != nil {
		return "", 0, fmt.Errorf("submit failed: %w", err)
	}

	info := parseQBlastInfo(body)
	rid = info["RID"]
	if rid == "" {
		return "", 0, fmt.Errorf("no RID in submit response")
	}
	if secs, convErr := strconv.Atoi(info["RTOE"]); convErr == nil {
		rtoe = time.Duration(secs) * time.Second
	}
	return rid, rtoe, nil
}

// Poll checks the state of a submitted search.
func (c *Client) Poll(ctx context.Context, rid string) (Status, error) {
	form := url.Values{
		"CMD":           {"Get"},
		"RID":           {rid},
		"FORMAT_OBJECT": {"SearchInfo"},
	}
	body, err := c.post(ctx, form)
	if err != nil {
		return StatusUnknown, fmt.Errorf("poll failed for %s: %w", rid, err)
	}

	status := parseQBlastInfo(body)["Status"]
	switch Status(status) {
	case StatusWaiting, StatusReady, StatusFailed:
		return Status(status), nil
	default:
		return StatusUnknown, nil
	}
}

// Results fetches the finished search as XML and parses it into hits.
func (c *Client) Results(ctx context.Context, rid string) ([]Hit, error) {
	form := url.Values{
		"CMD":         {"Get"},
		"RID":         {rid},
		"FORMAT_TYPE": {"XML"},
	}
	body, err := c.post(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("results fetch failed for %s: %w", rid, err)
	}

	hits, err := ParseResults(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("can't parse results for %s: %w", rid, err)
	}
	return hits, nil
}

func (c *Client) post(ctx context.Context, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("can't create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() // nolint errcheck

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("can't read response: %w", err)
	}
	return string(data), nil
}

// parseQBlastInfo extracts key/value pairs from the QBlastInfoBegin/End
// comment block NCBI embeds in HTML responses.
func parseQBlastInfo(body string) map[string]string {
	res := map[string]string{}
	inBlock := false
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.Contains(line, "QBlastInfoBegin"):
			inBlock = true
		case strings.Contains(line, "QBlastInfoEnd"):
			inBlock = false
		case inBlock:
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			res[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return res
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
