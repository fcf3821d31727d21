package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found_error"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func TestStatsRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /admin/statistics": `{
			"total_tokens_consumed": 1234,
			"total_chat_interactions": 10,
			"total_users_interacted": 3,
			"top_users": [{"id": 1, "username": "alice"}]
		}`,
	})

	client := ts.client()

	resp, err := client.get("/admin/statistics")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stats struct {
		TotalTokensConsumed int64 `json:"total_tokens_consumed"`
	}
	if err := decodeJSON(resp, &stats); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if stats.TotalTokensConsumed != 1234 {
		t.Errorf("total tokens = %d, want 1234", stats.TotalTokensConsumed)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", ts.requests[0].Auth)
	}
}

func TestReplyRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/reply": `{"job_id":"job-123"}`,
	})

	client := ts.client()

	resp, err := client.post("/v1/reply", map[string]any{"turn_id": 3, "user_id": 1, "sync": false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["job_id"] != "job-123" {
		t.Errorf("job_id = %q, want job-123", result["job_id"])
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["turn_id"] != float64(3) {
		t.Errorf("body.turn_id = %v, want 3", body["turn_id"])
	}
}

func TestSettingsSetRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PUT /admin/settings": `{"model":"gpt-4"}`,
	})

	client := ts.client()

	resp, err := client.put("/admin/settings", map[string]string{"model": "gpt-4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var values map[string]string
	if err := decodeJSON(resp, &values); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if values["model"] != "gpt-4" {
		t.Errorf("model = %q, want gpt-4", values["model"])
	}

	r := ts.requests[0]
	if r.Method != "PUT" || r.Path != "/admin/settings" {
		t.Errorf("request = %s %s, want PUT /admin/settings", r.Method, r.Path)
	}
}

func TestDecodeJSONErrorStatus(t *testing.T) {
	ts := newTestServer(t, nil)

	client := ts.client()
	resp, err := client.get("/missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var v map[string]any
	if err := decodeJSON(resp, &v); err == nil {
		t.Fatal("expected error for 404 response")
	}
}
