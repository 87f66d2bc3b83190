package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"time"

	"plumerun/internal/build"
)

// Uploader posts coverage results to an external reporting service after a
// successful run. Failures here never fail the pipeline; the engine records
// them as a partial result.
type Uploader struct {
	// Endpoint is the service upload URL.
	Endpoint string

	// Token authenticates the upload. Sent as a bearer header, never logged.
	Token string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Attempts bounds retries for transient failures. Default 3.
	Attempts int

	// Backoff is the initial retry delay, doubled per attempt. Default 1s.
	Backoff time.Duration

	// sleep is a test seam.
	sleep func(ctx context.Context, d time.Duration) error
}

// permanentError marks a response that retrying cannot fix.
type permanentError struct {
	status int
	body   string
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("upload rejected: %d %s: %s", e.status, http.StatusText(e.status), e.body)
}

// Send uploads the coverage profile at path, tagged with the build context.
//
// Transient failures (connection errors, 5xx) are retried with doubling
// backoff; 429 responses wait out Retry-After first. Any other non-2xx
// response is permanent and returned immediately.
func (u *Uploader) Send(ctx context.Context, path string, bc build.Context) error {
	if ctx == nil {
		return fmt.Errorf("upload: ctx is nil")
	}
	if u.Endpoint == "" {
		return fmt.Errorf("upload: endpoint is empty")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read coverage profile: %w", err)
	}

	attempts := u.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := u.Backoff
	if backoff <= 0 {
		backoff = 1 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		wait, err := u.post(ctx, raw, bc)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == attempts {
			break
		}

		delay := backoff
		if wait > delay {
			delay = wait
		}
		if err := u.doSleep(ctx, delay); err != nil {
			return err
		}
		backoff *= 2
	}
	return fmt.Errorf("coverage upload failed after %d attempt(s): %w", attempts, lastErr)
}

// post performs one upload attempt. The returned duration is a server-asked
// cooldown (Retry-After) to honor before the next attempt.
func (u *Uploader) post(ctx context.Context, report []byte, bc build.Context) (time.Duration, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := map[string]string{
		"slug":     bc.RepoSlug,
		"commit":   bc.Commit,
		"branch":   bc.Branch,
		"tag":      bc.Tag,
		"build_id": bc.BuildID,
		"build":    bc.Number,
	}
	for key, value := range fields {
		if value == "" {
			continue
		}
		if err := mw.WriteField(key, value); err != nil {
			return 0, err
		}
	}

	fw, err := mw.CreateFormFile("report", "coverage.out")
	if err != nil {
		return 0, err
	}
	if _, err := fw.Write(report); err != nil {
		return 0, err
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.Endpoint, &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if u.Token != "" {
		req.Header.Set("Authorization", "Bearer "+u.Token)
	}

	client := u.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return 0, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return retryAfter(resp), fmt.Errorf("upload throttled: 429 Too Many Requests")
	case resp.StatusCode >= 500:
		return 0, fmt.Errorf("upload failed: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	default:
		return 0, &permanentError{status: resp.StatusCode, body: string(snippet)}
	}
}

func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func (u *Uploader) doSleep(ctx context.Context, d time.Duration) error {
	if u.sleep != nil {
		return u.sleep(ctx, d)
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
