package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/PhotoForge/internal/config"
	"github.com/digkill/PhotoForge/internal/provider"
)

const Name = config.ProviderKIE

// Client talks to the KIE jobs API. KIE callbacks are unsigned, so completion is
// observed through polling only.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	return &Client{
		apiKey:  cfg.KIEAPIKey,
		baseURL: strings.TrimRight(cfg.KIEBaseURL, "/"),
		model:   cfg.KIEModel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (c *Client) Name() string { return Name }

// Submit creates a KIE task and returns its taskId.
func (c *Client) Submit(ctx context.Context, req provider.SubmitRequest) (string, error) {
	prompt := req.Prompt
	if req.Style != "" {
		prompt = strings.TrimSpace(prompt + " Style: " + req.Style + ".")
	}
	input := map[string]any{
		"prompt":       prompt,
		"aspect_ratio": "1:1",
		"resolution":   "1K",
	}
	if req.SourceURL != "" {
		input["input_urls"] = []string{req.SourceURL}
	}
	payload := map[string]any{
		"model": c.model,
		"input": input,
	}

	fullURL, err := c.endpoint("/api/v1/jobs/createTask", nil)
	if err != nil {
		return "", err
	}

	if c.log != nil {
		c.log.Info("creating KIE task", "url", fullURL, "model", c.model, "job_id", req.JobID)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := c.do(httpReq, &createResp); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	if createResp.Code != 200 {
		return "", fmt.Errorf("create task failed: code=%d msg=%s", createResp.Code, createResp.Msg)
	}
	if createResp.Data.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}

	if c.log != nil {
		c.log.Info("KIE task created", "task_id", createResp.Data.TaskID, "job_id", req.JobID)
	}
	return createResp.Data.TaskID, nil
}

// Poll fetches the current task record once.
func (c *Client) Poll(ctx context.Context, trackingID string) (*provider.Result, error) {
	params := url.Values{}
	params.Set("taskId", trackingID)
	fullURL, err := c.endpoint("/api/v1/jobs/recordInfo", params)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	var statusResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID     string `json:"taskId"`
			State      string `json:"state"`
			ResultJSON string `json:"resultJson"`
			FailCode   string `json:"failCode"`
			FailMsg    string `json:"failMsg"`
		} `json:"data"`
	}
	if err := c.do(httpReq, &statusResp); err != nil {
		return nil, fmt.Errorf("get task status: %w", err)
	}
	if statusResp.Code != 200 {
		return nil, fmt.Errorf("get task status failed: code=%d msg=%s", statusResp.Code, statusResp.Msg)
	}

	res := &provider.Result{TrackingID: trackingID, RawStatus: statusResp.Data.State}
	switch statusResp.Data.State {
	case "success":
		res.Status = provider.StatusSucceeded
		res.OutputURL = firstResultURL(statusResp.Data.ResultJSON)
	case "fail":
		res.Status = provider.StatusFailed
		failMsg := statusResp.Data.FailMsg
		if failMsg == "" {
			failMsg = "unknown error"
		}
		if statusResp.Data.FailCode != "" {
			failMsg = fmt.Sprintf("%s (code: %s)", failMsg, statusResp.Data.FailCode)
		}
		res.Error = failMsg
	case "waiting", "generating", "processing", "queued", "queuing", "queueing":
		res.Status = provider.StatusRunning
	default:
		return nil, fmt.Errorf("unknown task state: %s", statusResp.Data.State)
	}
	return res, nil
}

func (c *Client) endpoint(path string, params url.Values) (string, error) {
	baseURL, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	endpoint, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if params != nil {
		endpoint.RawQuery = params.Encode()
	}
	return baseURL.ResolveReference(endpoint).String(), nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("KIE request failed", "status", resp.StatusCode, "url", req.URL.String(), "body", provider.TruncateBody(rawBody))
		}
		return fmt.Errorf("kie error: status=%d url=%s body=%s", resp.StatusCode, req.URL.String(), provider.TruncateBody(rawBody))
	}
	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("decode response: %w (body=%s)", err, provider.TruncateBody(rawBody))
	}
	return nil
}

// firstResultURL extracts the first URL from KIE's stringified resultJson. A malformed or
// empty document yields "", which reconciliation treats as a missing output.
func firstResultURL(resultJSON string) string {
	if resultJSON == "" {
		return ""
	}
	var result struct {
		ResultURLs []string `json:"resultUrls"`
	}
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return ""
	}
	for _, u := range result.ResultURLs {
		if u = strings.TrimSpace(u); u != "" {
			return u
		}
	}
	return ""
}
