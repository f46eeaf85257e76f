package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/digkill/PhotoForge/internal/config"
	"github.com/digkill/PhotoForge/internal/provider"
)

const Name = config.ProviderReplicate

type Client struct {
	apiToken   string
	baseURL    string
	version    string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Client{
		apiToken:   cfg.ReplicateAPIToken,
		baseURL:    strings.TrimRight(cfg.ReplicateBaseURL, "/"),
		version:    cfg.ReplicateModelVersion,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (c *Client) Name() string { return Name }

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// Submit creates a prediction. The webhook is only attached when req.CallbackURL is set.
func (c *Client) Submit(ctx context.Context, req provider.SubmitRequest) (string, error) {
	input := map[string]any{
		"image":     req.SourceURL,
		"watermark": req.Watermark,
	}
	if req.Prompt != "" {
		input["prompt"] = req.Prompt
	}
	if req.Style != "" {
		input["style"] = req.Style
	}
	if req.Module != "" {
		input["module"] = req.Module
	}
	payload := map[string]any{
		"version": c.version,
		"input":   input,
	}
	if req.CallbackURL != "" {
		payload["webhook"] = req.CallbackURL
		payload["webhook_events_filter"] = []string{"completed"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/predictions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var pred prediction
	if err := c.do(httpReq, &pred); err != nil {
		return "", fmt.Errorf("create prediction: %w", err)
	}
	if pred.ID == "" {
		return "", fmt.Errorf("empty prediction id in response")
	}
	if c.log != nil {
		c.log.Info("replicate prediction created", "job_id", req.JobID, "tracking_id", pred.ID, "webhook", req.CallbackURL != "")
	}
	return pred.ID, nil
}

func (c *Client) Poll(ctx context.Context, trackingID string) (*provider.Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/predictions/"+trackingID, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	var pred prediction
	if err := c.do(httpReq, &pred); err != nil {
		return nil, fmt.Errorf("get prediction: %w", err)
	}
	if pred.ID == "" {
		pred.ID = trackingID
	}
	return toResult(pred)
}

// ParseWebhook decodes a prediction callback body. The body mirrors the poll response.
func (c *Client) ParseWebhook(body []byte) (*provider.Result, error) {
	var pred prediction
	if err := json.Unmarshal(body, &pred); err != nil {
		return nil, fmt.Errorf("decode prediction webhook: %w", err)
	}
	if pred.ID == "" {
		return nil, fmt.Errorf("prediction webhook missing id")
	}
	return toResult(pred)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("replicate request failed", "status", resp.StatusCode, "url", req.URL.String(), "body", provider.TruncateBody(raw))
		}
		return fmt.Errorf("replicate error: status=%d body=%s", resp.StatusCode, provider.TruncateBody(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w (body=%s)", err, provider.TruncateBody(raw))
	}
	return nil
}

func toResult(pred prediction) (*provider.Result, error) {
	res := &provider.Result{
		TrackingID: pred.ID,
		RawStatus:  pred.Status,
		OutputURL:  firstOutput(pred.Output),
		Error:      errorText(pred.Error),
	}
	switch pred.Status {
	case "starting", "processing":
		res.Status = provider.StatusRunning
	case "succeeded":
		res.Status = provider.StatusSucceeded
	case "failed":
		res.Status = provider.StatusFailed
	case "canceled", "aborted":
		res.Status = provider.StatusCanceled
	default:
		return nil, fmt.Errorf("unknown prediction status: %q", pred.Status)
	}
	return res, nil
}

// firstOutput accepts the shapes models return: a URL string or a list of URLs.
func firstOutput(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.TrimSpace(single)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if item = strings.TrimSpace(item); item != "" {
				return item
			}
		}
	}
	return ""
}

func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
