package optd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/regenheat/optimization-engine/pkg/logger"
	"github.com/regenheat/optimization-engine/pkg/utils"
)

// NotificationPayload is the JSON body POSTed to the callback URL when a
// job reaches a terminal status.
type NotificationPayload struct {
	JobID           string             `json:"job_id"`
	ScenarioID      string             `json:"scenario_id"`
	Status          string             `json:"status"`
	BestObjective   float64            `json:"best_objective"`
	BestPoint       map[string]float64 `json:"best_point,omitempty"`
	ErrorKind       string             `json:"error_kind,omitempty"`
	Error           string             `json:"error,omitempty"`
	CreatedAtUnixMs int64              `json:"created_at_unix_ms"`
	StartedAtUnixMs int64              `json:"started_at_unix_ms,omitempty"`
	EndedAtUnixMs   int64              `json:"ended_at_unix_ms,omitempty"`
	Timestamp       int64              `json:"timestamp"`
}

// Notifier delivers terminal-status webhooks with retry.
type Notifier struct {
	httpClient  *http.Client
	callbackURL string
	secret      string
	maxRetries  int
	backoff     utils.BackoffStrategy
}

// NewNotifier creates a notifier for the configured callback URL. An empty
// URL disables delivery.
func NewNotifier(callbackURL, secret string) *Notifier {
	return &Notifier{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		callbackURL: callbackURL,
		secret:      secret,
		maxRetries:  3,
		backoff:     utils.NewExponentialBackoff(1*time.Second, 30*time.Second, 2.0, true),
	}
}

// Notify sends the terminal notification asynchronously and returns
// immediately.
func (n *Notifier) Notify(rec *JobRecord) {
	if n.callbackURL == "" {
		return
	}
	if rec == nil || rec.Job == nil {
		logger.Warn("cannot notify: invalid job record", "callback_url", n.callbackURL)
		return
	}

	finalURL := strings.ReplaceAll(n.callbackURL, "{job_id}", rec.Job.ID)
	payload := NotificationPayload{
		JobID:           rec.Job.ID,
		ScenarioID:      rec.Job.ScenarioID,
		Status:          string(rec.Job.Status),
		BestObjective:   rec.Job.BestObjective,
		BestPoint:       rec.Job.BestPoint,
		ErrorKind:       rec.Job.ErrorKind,
		Error:           rec.Job.Error,
		CreatedAtUnixMs: rec.Job.CreatedAtUnixMs,
		StartedAtUnixMs: rec.Job.StartedAtUnixMs,
		EndedAtUnixMs:   rec.Job.EndedAtUnixMs,
		Timestamp:       time.Now().UTC().UnixMilli(),
	}

	go n.send(finalURL, payload)
}

func (n *Notifier) send(callbackURL string, payload NotificationPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal notification payload",
			"callback_url", callbackURL, "job_id", payload.JobID, "error", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			delay := n.backoff.NextDelay(attempt - 1)
			logger.Debug("retrying notification",
				"callback_url", callbackURL, "job_id", payload.JobID,
				"attempt", attempt, "delay", delay)
			time.Sleep(delay)
		}

		req, err := http.NewRequest(http.MethodPost, callbackURL, bytes.NewReader(body))
		if err != nil {
			lastErr = fmt.Errorf("failed to create request: %w", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "optimization-engine/1.0")
		if n.secret != "" {
			req.Header.Set("X-Optd-Callback-Secret", n.secret)
		}

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			logger.Warn("notification attempt failed",
				"callback_url", callbackURL, "job_id", payload.JobID,
				"attempt", attempt+1, "error", err)
			continue
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		snippet := string(respBody)
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			logger.Info("notification sent",
				"job_id", payload.JobID, "status", payload.Status, "status_code", resp.StatusCode)
			return
		}

		lastErr = fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		logger.Warn("notification returned non-2xx status",
			"callback_url", callbackURL, "job_id", payload.JobID,
			"status_code", resp.StatusCode, "response_body", snippet, "attempt", attempt+1)
	}

	logger.Error("failed to send notification after retries",
		"callback_url", callbackURL, "job_id", payload.JobID,
		"status", payload.Status, "max_retries", n.maxRetries, "last_error", lastErr)
}
