package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mzielin/agent-bridge/internal/domain"
)

func TestClient_CreateThread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/threads", r.URL.Path)
		assert.Equal(t, "2024-05-01-preview", r.URL.Query().Get("api-version"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(Thread{ID: "thread_created123"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "2024-05-01-preview")
	id, err := c.CreateThread(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "thread_created123", id)
}

func TestClient_ListThreads_Pagination(t *testing.T) {
	var afters []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		after := r.URL.Query().Get("after")
		afters = append(afters, after)
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.Equal(t, "desc", r.URL.Query().Get("order"))

		switch after {
		case "":
			json.NewEncoder(w).Encode(ThreadList{
				Data:    []Thread{{ID: "thread_page1a"}, {ID: "thread_page1b"}},
				HasMore: true,
				LastID:  "thread_page1b",
			})
		case "thread_page1b":
			json.NewEncoder(w).Encode(ThreadList{
				Data: []Thread{{ID: "thread_page2a"}},
			})
		default:
			t.Errorf("unexpected after cursor %q", after)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "v1")
	threads, err := c.ListThreads(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, threads, 3)
	assert.Equal(t, "thread_page2a", threads[2].ID)
	assert.Equal(t, []string{"", "thread_page1b"}, afters)
}

func TestClient_TransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "v1")
	_, err := c.GetThread(context.Background(), "tok", "thread_missing123")

	var transportErr *domain.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusNotFound, transportErr.Status)
	assert.True(t, domain.IsNotFound(err))
}

func TestClient_RunLifecycle(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/threads/thread_rt1/runs":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "asst_1", body["assistant_id"])
			json.NewEncoder(w).Encode(Run{ID: "run_1", Status: RunQueued})
		case r.Method == http.MethodGet && r.URL.Path == "/threads/thread_rt1/runs/run_1":
			polls++
			status := RunInProgress
			if polls > 1 {
				status = RunCompleted
			}
			json.NewEncoder(w).Encode(Run{ID: "run_1", Status: status})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "v1")
	ctx := context.Background()

	run, err := c.CreateRun(ctx, "tok", "thread_rt1", "asst_1")
	require.NoError(t, err)
	assert.False(t, run.Terminal())

	run, err = c.GetRun(ctx, "tok", "thread_rt1", "run_1")
	require.NoError(t, err)
	assert.False(t, run.Terminal())

	run, err = c.GetRun(ctx, "tok", "thread_rt1", "run_1")
	require.NoError(t, err)
	assert.True(t, run.Terminal())
}

func TestClient_AddAndListMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "user", body["role"])
			json.NewEncoder(w).Encode(Message{ID: "msg_1", Role: "user"})
		case http.MethodGet:
			json.NewEncoder(w).Encode(MessageList{
				Data: []Message{
					{ID: "msg_2", Role: "assistant", Content: []MessageContent{
						{Type: "text", Text: &MessageText{Value: "Hello "}},
						{Type: "text", Text: &MessageText{Value: "there"}},
					}},
				},
			})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "v1")
	ctx := context.Background()

	msg, err := c.AddMessage(ctx, "tok", "thread_msg1", "user", "hi")
	require.NoError(t, err)
	assert.Equal(t, "msg_1", msg.ID)

	messages, err := c.ListMessages(ctx, "tok", "thread_msg1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "Hello there", messages[0].Text())
}

func TestClient_UploadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "assistants", r.FormValue("purpose"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "notes.txt", header.Filename)

		json.NewEncoder(w).Encode(File{ID: "file_up1", Filename: "notes.txt", Status: FileStatusUploaded})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "v1")
	f, err := c.UploadFile(context.Background(), "tok", "notes.txt", strings.NewReader("file contents"))
	require.NoError(t, err)
	assert.Equal(t, "file_up1", f.ID)
}
