// Package sandbox is the HTTP client for the external code execution service.
package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/grading"
)

type executeRequest struct {
	Language      string `json:"language"`
	Source        string `json:"source"`
	Stdin         string `json:"stdin"`
	TimeLimitMS   int64  `json:"time_limit_ms"`
	MemoryLimitMB int    `json:"memory_limit_mb"`
}

type executeResponse struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exit_code"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Status    string `json:"status"`
}

// Client implements grading.Sandbox over HTTP.
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// NewClient creates a client for the executor at baseURL. token is sent as a
// bearer token when non-empty.
func NewClient(baseURL, token string, log zerolog.Logger) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json")
	if token != "" {
		rc.SetAuthToken(token)
	}
	return &Client{
		http: rc,
		log:  log.With().Str("component", "sandbox_client").Logger(),
	}
}

// Execute runs one submission against one stdin. The caller's ctx bounds the call.
func (c *Client) Execute(ctx context.Context, req grading.ExecutionRequest) (*grading.ExecutionResult, error) {
	var out executeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(executeRequest{
			Language:      req.Language,
			Source:        req.Source,
			Stdin:         req.Stdin,
			TimeLimitMS:   req.TimeLimit.Milliseconds(),
			MemoryLimitMB: req.MemoryLimitMB,
		}).
		SetResult(&out).
		Post("/execute")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.log.Error().Err(err).Msg("Sandbox request failed")
		return nil, fmt.Errorf("%w: %v", grading.ErrSandboxUnavailable, err)
	}

	switch {
	case resp.StatusCode() >= http.StatusInternalServerError:
		c.log.Error().Int("status", resp.StatusCode()).Msg("Sandbox returned server error")
		return nil, fmt.Errorf("%w: status %d", grading.ErrSandboxUnavailable, resp.StatusCode())
	case resp.IsError():
		return nil, fmt.Errorf("sandbox rejected request: status %d: %s", resp.StatusCode(), resp.String())
	}

	status := grading.ExecutionStatus(out.Status)
	if status == "" {
		status = grading.ExecOK
	}
	return &grading.ExecutionResult{
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		ExitCode: out.ExitCode,
		Elapsed:  time.Duration(out.ElapsedMS) * time.Millisecond,
		Status:   status,
	}, nil
}
