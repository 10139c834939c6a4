// ABOUTME: Tests for the Assistants client against a fake HTTP API
// ABOUTME: Verifies request shapes, headers, response mapping and error wrapping

package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/clinic-gateway/internal/orchestrator"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   map[string]any
	Header http.Header
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]func(w http.ResponseWriter)
}

func newFakeAPI(t *testing.T) (*fakeAPI, *Client) {
	t.Helper()
	api := &fakeAPI{routes: map[string]func(w http.ResponseWriter){}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone()}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.Body)
		}
		api.mu.Lock()
		api.requests = append(api.requests, rec)
		handler, ok := api.routes[r.Method+" "+r.URL.Path]
		api.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"no route","type":"invalid_request_error"}}`))
			return
		}
		handler(w)
	}))
	t.Cleanup(srv.Close)

	client, err := New(Config{
		APIKey:      "test-key",
		AssistantID: "asst_123",
		BaseURL:     srv.URL + "/",
		MaxRetries:  0,
	}, nil)
	require.NoError(t, err)
	return api, client
}

func (a *fakeAPI) respond(route string, status int, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.routes[route] = func(w http.ResponseWriter) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (a *fakeAPI) last() recordedRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[len(a.requests)-1]
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{AssistantID: "asst_123"}, nil)
	assert.Error(t, err)

	_, err = New(Config{APIKey: "key"}, nil)
	assert.Error(t, err)
}

func TestCreateConversation(t *testing.T) {
	api, client := newFakeAPI(t)
	api.respond("POST /threads", 200, `{"id":"thread_abc","object":"thread","created_at":1723370000,"metadata":{}}`)

	id, err := client.CreateConversation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "thread_abc", id)

	req := api.last()
	assert.Equal(t, "Bearer test-key", req.Header.Get("Authorization"))
	assert.Equal(t, "assistants=v2", req.Header.Get("OpenAI-Beta"))
}

func TestAppendMessage(t *testing.T) {
	api, client := newFakeAPI(t)
	api.respond("POST /threads/thread_abc/messages", 200,
		`{"id":"msg_1","object":"thread.message","thread_id":"thread_abc","role":"user","content":[{"type":"text","text":{"value":"hi","annotations":[]}}]}`)

	require.NoError(t, client.AppendMessage(context.Background(), "thread_abc", "Can I book Monday at 9?"))

	req := api.last()
	assert.Equal(t, "user", req.Body["role"])
	assert.Equal(t, "Can I book Monday at 9?", req.Body["content"])
}

func TestStartAndGetRun(t *testing.T) {
	api, client := newFakeAPI(t)
	api.respond("POST /threads/thread_abc/runs", 200,
		`{"id":"run_1","object":"thread.run","thread_id":"thread_abc","assistant_id":"asst_123","status":"queued"}`)
	api.respond("GET /threads/thread_abc/runs/run_1", 200, `{
		"id":"run_1","object":"thread.run","thread_id":"thread_abc","status":"requires_action",
		"required_action":{"type":"submit_tool_outputs","submit_tool_outputs":{"tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"GetCurrentDate","arguments":"{}"}},
			{"id":"call_2","type":"function","function":{"name":"CheckBookingTimeAvailability","arguments":"{\"date\":\"2025-08-11\",\"time\":\"09:10\"}"}}
		]}}
	}`)

	run, err := client.StartRun(context.Background(), "thread_abc")
	require.NoError(t, err)
	assert.Equal(t, "run_1", run.ID)
	assert.Equal(t, orchestrator.StatusQueued, run.Status)
	assert.Equal(t, "asst_123", api.last().Body["assistant_id"])

	run, err = client.GetRun(context.Background(), "thread_abc", "run_1")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusRequiresAction, run.Status)
	require.Len(t, run.PendingActions, 2)
	assert.Equal(t, orchestrator.PendingAction{ID: "call_1", Function: "GetCurrentDate", Arguments: "{}"}, run.PendingActions[0])
	assert.Equal(t, "CheckBookingTimeAvailability", run.PendingActions[1].Function)
	assert.JSONEq(t, `{"date":"2025-08-11","time":"09:10"}`, run.PendingActions[1].Arguments)
}

func TestGetRun_FailedCarriesLastError(t *testing.T) {
	api, client := newFakeAPI(t)
	api.respond("GET /threads/thread_abc/runs/run_1", 200,
		`{"id":"run_1","object":"thread.run","status":"failed","last_error":{"code":"rate_limit_exceeded","message":"Rate limit reached"}}`)

	run, err := client.GetRun(context.Background(), "thread_abc", "run_1")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusFailed, run.Status)
	assert.Equal(t, "Rate limit reached", run.LastError)
}

func TestSubmitToolOutputs(t *testing.T) {
	api, client := newFakeAPI(t)
	api.respond("POST /threads/thread_abc/runs/run_1/submit_tool_outputs", 200,
		`{"id":"run_1","object":"thread.run","status":"queued"}`)

	run, err := client.SubmitToolOutputs(context.Background(), "thread_abc", "run_1", []orchestrator.ToolOutput{
		{ActionID: "call_1", Output: `{"currentDate":"2025-08-11"}`},
		{ActionID: "call_2", Output: `{"isAvailable":true}`},
	})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusQueued, run.Status)

	outputs, ok := api.last().Body["tool_outputs"].([]any)
	require.True(t, ok)
	require.Len(t, outputs, 2)
	first := outputs[0].(map[string]any)
	assert.Equal(t, "call_1", first["tool_call_id"])
	assert.Equal(t, `{"currentDate":"2025-08-11"}`, first["output"])
}

func TestListMessages(t *testing.T) {
	api, client := newFakeAPI(t)
	api.respond("GET /threads/thread_abc/messages", 200, `{
		"object":"list","has_more":false,"first_id":"msg_3","last_id":"msg_1",
		"data":[
			{"id":"msg_3","object":"thread.message","role":"assistant","run_id":"run_1",
			 "content":[{"type":"text","text":{"value":"Monday at 9:00 AM is available.","annotations":[]}}]},
			{"id":"msg_1","object":"thread.message","role":"user",
			 "content":[{"type":"text","text":{"value":"Is Monday at 9 free?","annotations":[]}}]}
		]
	}`)

	messages, err := client.ListMessages(context.Background(), "thread_abc")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, orchestrator.Message{Role: "assistant", RunID: "run_1", Text: "Monday at 9:00 AM is available."}, messages[0])
	assert.Equal(t, "user", messages[1].Role)
}

func TestTransportErrors(t *testing.T) {
	api, client := newFakeAPI(t)
	api.respond("POST /threads/thread_abc/messages", 500,
		`{"error":{"message":"The server had an error","type":"server_error"}}`)

	err := client.AppendMessage(context.Background(), "thread_abc", "hello")
	require.Error(t, err)

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, "add message", transportErr.Op)
	assert.Equal(t, 500, transportErr.StatusCode)
	assert.NotEmpty(t, transportErr.Body)
	assert.Contains(t, transportErr.Error(), "500, Body: ")
}
