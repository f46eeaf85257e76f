package kie

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/PhotoForge/internal/config"
	"github.com/digkill/PhotoForge/internal/provider"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.Config{KIEAPIKey: "kie-key", KIEBaseURL: srv.URL, KIEModel: "flux-2/pro-image-to-image"}, nil)
}

func TestSubmit_CreatesTask(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs/createTask", r.URL.Path)
		assert.Equal(t, "Bearer kie-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Model string         `json:"model"`
			Input map[string]any `json:"input"`
		}
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "flux-2/pro-image-to-image", payload.Model)
		assert.Equal(t, []any{"https://uploads.example.com/in.jpg"}, payload.Input["input_urls"])
		assert.Equal(t, "soft light Style: studio.", payload.Input["prompt"])
		_, _ = w.Write([]byte(`{"code":200,"msg":"success","data":{"taskId":"task-1"}}`))
	})

	id, err := client.Submit(context.Background(), provider.SubmitRequest{
		JobID:     "job-1",
		SourceURL: "https://uploads.example.com/in.jpg",
		Prompt:    "soft light",
		Style:     "studio",
	})
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
}

func TestSubmit_ErrorCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":402,"msg":"insufficient balance"}`))
	})
	_, err := client.Submit(context.Background(), provider.SubmitRequest{JobID: "job-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient balance")
}

func TestPoll_States(t *testing.T) {
	cases := []struct {
		name   string
		data   string
		status provider.Status
		output string
		errMsg string
	}{
		{"generating", `{"taskId":"task-1","state":"generating"}`, provider.StatusRunning, "", ""},
		{"success", `{"taskId":"task-1","state":"success","resultJson":"{\"resultUrls\":[\"https://cdn/r.png\"]}"}`, provider.StatusSucceeded, "https://cdn/r.png", ""},
		{"success without urls", `{"taskId":"task-1","state":"success","resultJson":""}`, provider.StatusSucceeded, "", ""},
		{"fail", `{"taskId":"task-1","state":"fail","failMsg":"bad input","failCode":"422"}`, provider.StatusFailed, "", "bad input (code: 422)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/jobs/recordInfo", r.URL.Path)
				assert.Equal(t, "task-1", r.URL.Query().Get("taskId"))
				_, _ = w.Write([]byte(`{"code":200,"msg":"success","data":` + tc.data + `}`))
			})
			res, err := client.Poll(context.Background(), "task-1")
			require.NoError(t, err)
			assert.Equal(t, tc.status, res.Status)
			assert.Equal(t, tc.output, res.OutputURL)
			assert.Equal(t, tc.errMsg, res.Error)
		})
	}
}

func TestPoll_HTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := client.Poll(context.Background(), "task-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=502")
}
