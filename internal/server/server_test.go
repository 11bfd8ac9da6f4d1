package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookbin/hookbin/internal/capture"
	"github.com/hookbin/hookbin/internal/models"
	"github.com/hookbin/hookbin/internal/storage"
	"github.com/hookbin/hookbin/internal/stream"
	"github.com/hookbin/hookbin/pkg/utils"
)

func newTestServer(t *testing.T) (*HTTPServer, *httptest.Server) {
	t.Helper()
	utils.InitLogger("error", "text", "stdout", "")

	store := storage.NewFileStore(&storage.StoreConfig{
		Type:    "file",
		DataDir: t.TempDir(),
	})
	require.NoError(t, store.Connect())
	t.Cleanup(func() { store.Close() })

	registry := stream.NewRegistry(&stream.RegistryConfig{
		KeepAliveInterval: 50 * time.Millisecond,
		SubscriberBuffer:  8,
	}, nil)
	require.NoError(t, registry.Start(context.Background()))
	t.Cleanup(func() { registry.Stop() })

	pipeline := capture.NewPipeline(store, registry, nil)

	srv, err := NewHTTPServer(&ServerConfig{
		Port:         0,
		Host:         "127.0.0.1",
		EnableHealth: true,
	}, store, registry, pipeline, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return srv, ts
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewBuffer(encoded)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		decoded = nil
	}
	return resp, decoded
}

func createBin(t *testing.T, baseURL, name string) string {
	t.Helper()

	var body interface{}
	if name != "" {
		body = map[string]string{"name": name}
	}
	resp, decoded := doJSON(t, "POST", baseURL+"/create-url", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, decoded["id"])
	return decoded["id"].(string)
}

func TestCreateBinDefaults(t *testing.T) {
	_, ts := newTestServer(t)

	resp, decoded := doJSON(t, "POST", ts.URL+"/create-url", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.DefaultBinName, decoded["name"])
	assert.NotEmpty(t, decoded["id"])

	resp, decoded = doJSON(t, "POST", ts.URL+"/create-url", map[string]string{"name": "My Hooks"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "My Hooks", decoded["name"])
}

func TestCaptureAndFetchLog(t *testing.T) {
	_, ts := newTestServer(t)
	id := createBin(t, ts.URL, "capture-me")

	// Any method and any suffix under the bin id is captured
	req, err := http.NewRequest("GET", ts.URL+"/"+id+"/hello/world?x=1&y=2", nil)
	require.NoError(t, err)
	req.Header.Set("X-Probe", "one")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var captured map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&captured))
	assert.Equal(t, float64(1), captured["logNumber"])

	// A JSON POST lands as entry 2
	resp2, decoded := doJSON(t, "POST", ts.URL+"/"+id, map[string]interface{}{"event": "push"})
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, float64(2), decoded["logNumber"])

	// Fetch the log: newest first with full request detail
	resp3, log := doJSON(t, "GET", ts.URL+"/logs/"+id, nil)
	require.Equal(t, http.StatusOK, resp3.StatusCode)
	assert.Equal(t, "capture-me", log["name"])

	requests := log["requests"].([]interface{})
	require.Len(t, requests, 2)

	newest := requests[0].(map[string]interface{})
	oldest := requests[1].(map[string]interface{})
	assert.Equal(t, float64(2), newest["logNumber"])
	assert.Equal(t, "POST", newest["method"])
	assert.Equal(t, float64(1), oldest["logNumber"])
	assert.Equal(t, "GET", oldest["method"])
	assert.Equal(t, "/"+id+"/hello/world?x=1&y=2", oldest["url"])

	headers := oldest["headers"].(map[string]interface{})
	probe := headers["X-Probe"].([]interface{})
	assert.Equal(t, "one", probe[0])
}

func TestCaptureUnknownBin(t *testing.T) {
	_, ts := newTestServer(t)

	resp, _ := doJSON(t, "POST", ts.URL+"/no-such-bin/hook", map[string]string{"a": "b"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminRoutesAreNotCaptured(t *testing.T) {
	_, ts := newTestServer(t)

	// The listing endpoint must answer even though /{id} is a catch-all
	resp, err := http.Get(ts.URL + "/get-urls")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var summaries []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summaries))
}

func TestDeleteSingleEntry(t *testing.T) {
	_, ts := newTestServer(t)
	id := createBin(t, ts.URL, "gap")

	for i := 0; i < 3; i++ {
		resp, _ := doJSON(t, "POST", ts.URL+"/"+id, map[string]int{"n": i})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, _ := doJSON(t, "DELETE", ts.URL+"/logs/"+id+"/2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, log := doJSON(t, "GET", ts.URL+"/logs/"+id, nil)
	requests := log["requests"].([]interface{})
	require.Len(t, requests, 2)
	assert.Equal(t, float64(3), requests[0].(map[string]interface{})["logNumber"])
	assert.Equal(t, float64(1), requests[1].(map[string]interface{})["logNumber"])
}

func TestDeleteEntries(t *testing.T) {
	_, ts := newTestServer(t)
	id := createBin(t, ts.URL, "bulk")

	for i := 0; i < 4; i++ {
		resp, _ := doJSON(t, "POST", ts.URL+"/"+id, map[string]int{"n": i})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	// Delete a selection
	resp, _ := doJSON(t, "DELETE", ts.URL+"/logs/"+id, map[string][]int64{"logs": {1, 3}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, log := doJSON(t, "GET", ts.URL+"/logs/"+id, nil)
	require.Len(t, log["requests"].([]interface{}), 2)

	// No body clears the whole log, the bin itself survives
	resp, _ = doJSON(t, "DELETE", ts.URL+"/logs/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, log = doJSON(t, "GET", ts.URL+"/logs/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, log["requests"])
}

func TestRenameBin(t *testing.T) {
	_, ts := newTestServer(t)
	id := createBin(t, ts.URL, "before")

	resp, _ := doJSON(t, "POST", ts.URL+"/rename-url/"+id, map[string]string{"name": "after"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, log := doJSON(t, "GET", ts.URL+"/logs/"+id, nil)
	assert.Equal(t, "after", log["name"])

	// Missing name is rejected
	resp, _ = doJSON(t, "POST", ts.URL+"/rename-url/"+id, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown bin
	resp, _ = doJSON(t, "POST", ts.URL+"/rename-url/nope", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListBins(t *testing.T) {
	_, ts := newTestServer(t)
	id := createBin(t, ts.URL, "listed")

	resp, _ := doJSON(t, "POST", ts.URL+"/"+id, map[string]string{"a": "b"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	listResp, err := http.Get(ts.URL + "/get-urls")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var summaries []models.BinSummary
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&summaries))

	var found *models.BinSummary
	for i := range summaries {
		if summaries[i].ID == id {
			found = &summaries[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "listed", found.Name)
	assert.Equal(t, int64(1), found.EntryCount)
	require.NotNil(t, found.FirstTimestamp)
	require.NotNil(t, found.LastTimestamp)
}

func TestDeleteBin(t *testing.T) {
	_, ts := newTestServer(t)
	id := createBin(t, ts.URL, "doomed")

	resp, _ := doJSON(t, "DELETE", ts.URL+"/delete-url/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Gone for fetch, capture and repeat delete alike
	resp, _ = doJSON(t, "GET", ts.URL+"/logs/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, "POST", ts.URL+"/"+id, map[string]string{"a": "b"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, "DELETE", ts.URL+"/delete-url/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, decoded := doJSON(t, "GET", ts.URL+"/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decoded["status"])
}

// sseFrame is one decoded server-sent event data frame.
type sseFrame struct {
	entry *models.LogEntry
	err   error
}

// readDataFrames decodes "data:" frames off the stream, skipping comment
// keep-alives, until the stream ends.
func readDataFrames(body *bufio.Reader, frames chan<- sseFrame) {
	for {
		line, err := body.ReadString('\n')
		if err != nil {
			frames <- sseFrame{err: err}
			return
		}
		line = strings.TrimRight(line, "\n")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			frames <- sseFrame{err: fmt.Errorf("unexpected stream line %q", line)}
			return
		}

		var entry models.LogEntry
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &entry); err != nil {
			frames <- sseFrame{err: err}
			return
		}
		frames <- sseFrame{entry: &entry}
	}
}

func TestStreamDeliversCapturedEntries(t *testing.T) {
	srv, ts := newTestServer(t)
	id := createBin(t, ts.URL, "live")

	resp, err := http.Get(ts.URL + "/logs-stream/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait for the subscription to be registered before capturing
	require.Eventually(t, func() bool {
		return srv.registry.SubscriberCount(id) == 1
	}, time.Second, 10*time.Millisecond)

	frames := make(chan sseFrame, 4)
	go readDataFrames(bufio.NewReader(resp.Body), frames)

	capResp, decoded := doJSON(t, "POST", ts.URL+"/"+id+"/hook", map[string]string{"event": "push"})
	require.Equal(t, http.StatusOK, capResp.StatusCode)
	require.Equal(t, float64(1), decoded["logNumber"])

	select {
	case frame := <-frames:
		require.NoError(t, frame.err)
		assert.Equal(t, int64(1), frame.entry.LogNumber)
		assert.Equal(t, "POST", frame.entry.Method)
		assert.Equal(t, "/"+id+"/hook", frame.entry.URL)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream delivery")
	}
}

func TestStreamClosesOnBinDelete(t *testing.T) {
	srv, ts := newTestServer(t)
	id := createBin(t, ts.URL, "short-lived")

	resp, err := http.Get(ts.URL + "/logs-stream/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		return srv.registry.SubscriberCount(id) == 1
	}, time.Second, 10*time.Millisecond)

	frames := make(chan sseFrame, 4)
	go readDataFrames(bufio.NewReader(resp.Body), frames)

	delResp, _ := doJSON(t, "DELETE", ts.URL+"/delete-url/"+id, nil)
	require.Equal(t, http.StatusOK, delResp.StatusCode)

	// The server tears the stream down; the reader sees end of stream
	select {
	case frame := <-frames:
		require.Error(t, frame.err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not closed after bin deletion")
	}
}

func TestStreamUnknownBin(t *testing.T) {
	_, ts := newTestServer(t)

	resp, _ := doJSON(t, "GET", ts.URL+"/logs-stream/no-such-bin", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamKeepAlive(t *testing.T) {
	_, ts := newTestServer(t)
	id := createBin(t, ts.URL, "quiet")

	resp, err := http.Get(ts.URL + "/logs-stream/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// With a 50ms interval a comment frame must arrive well within a second
	reader := bufio.NewReader(resp.Body)
	lineCh := make(chan string, 1)
	go func() {
		line, err := reader.ReadString('\n')
		if err == nil {
			lineCh <- line
		}
	}()

	select {
	case line := <-lineCh:
		assert.True(t, strings.HasPrefix(line, ":"), "expected a comment keep-alive, got %q", line)
	case <-time.After(time.Second):
		t.Fatal("no keep-alive frame arrived")
	}
}
