// Package runner starts crawler runs on external CI infrastructure. The
// orchestrator never crawls itself; it hands a job id and a scoped token
// to a GitHub Actions workflow and lets the workflow's crawlers call back.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dormitricity/orchestrator/internal/retry"
)

// Runner dispatches crawl jobs to a GitHub Actions workflow.
type Runner struct {
	client   *http.Client
	baseURL  string
	owner    string
	repo     string
	workflow string
	ref      string
	pat      string
	retryCfg retry.Config
}

// New creates a Runner for one workflow. baseURL is the GitHub API root;
// pass "" for the public API.
func New(baseURL, owner, repo, workflow, ref, pat string) *Runner {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &Runner{
		client:   &http.Client{Timeout: 15 * time.Second},
		baseURL:  baseURL,
		owner:    owner,
		repo:     repo,
		workflow: workflow,
		ref:      ref,
		pat:      pat,
		retryCfg: retry.Config{
			MaxAttempts: 3,
			Delays:      []time.Duration{2 * time.Second, 5 * time.Second},
		},
	}
}

// Dispatch triggers one workflow run carrying the job id and its crawler
// token as workflow inputs. GitHub answers 204 on success.
func (r *Runner) Dispatch(ctx context.Context, jobID, token string) error {
	url := fmt.Sprintf("%s/repos/%s/%s/actions/workflows/%s/dispatches",
		r.baseURL, r.owner, r.repo, r.workflow)

	body, err := json.Marshal(map[string]interface{}{
		"ref": r.ref,
		"inputs": map[string]string{
			"job_id": jobID,
			"token":  token,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to encode dispatch body: %w", err)
	}

	err = retry.WithRetry(ctx, r.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build dispatch request: %w", err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("Authorization", "Bearer "+r.pat)
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return fmt.Errorf("dispatch request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNoContent {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("workflow dispatch returned %d: %s", resp.StatusCode, detail)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"job_id":   jobID,
		"workflow": r.workflow,
	}).Info("Dispatched crawler workflow")
	return nil
}
