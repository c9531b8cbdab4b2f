package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const testAPIKey = "otr_a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2"

// withTempConfig points the global config at a fresh directory and clears
// the credential environment.
func withTempConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	oldDir, oldPath := getConfigDirFunc, getConfigPathFunc
	getConfigDirFunc = func() (string, error) { return dir, nil }
	getConfigPathFunc = func() (string, error) { return configPath, nil }
	t.Cleanup(func() {
		getConfigDirFunc, getConfigPathFunc = oldDir, oldPath
	})

	t.Setenv(envAPIKey, "")
	t.Setenv(envAPIURL, "")
	return configPath
}

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   []byte
}

// fakeAPI serves canned envelopes per "METHOD /path" and records requests.
type fakeAPI struct {
	*httptest.Server

	mu        sync.Mutex
	requests  []recordedRequest
	responses map[string][]cannedResponse
}

type cannedResponse struct {
	status int
	body   string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{responses: map[string][]cannedResponse{}}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

// on queues a response; the last queued response for a route repeats.
func (f *fakeAPI) on(route string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[route] = append(f.responses[route], cannedResponse{status: status, body: body})
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Auth:   r.Header.Get("Authorization"),
		Body:   body,
	})
	route := r.Method + " " + r.URL.Path
	queue := f.responses[route]
	var resp cannedResponse
	switch len(queue) {
	case 0:
		resp = cannedResponse{status: http.StatusNotFound, body: `{"error":{"kind":"NotFoundError","message":"no route"}}`}
	case 1:
		resp = queue[0]
	default:
		resp = queue[0]
		f.responses[route] = queue[1:]
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	_, _ = io.WriteString(w, resp.body)
}

func (f *fakeAPI) last(t *testing.T) recordedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func (f *fakeAPI) all() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

// runCLI executes the client command tree against api and returns stdout.
func runCLI(t *testing.T, api *fakeAPI, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(bytes.NewReader(nil))
	if api != nil {
		args = append(args, "--api-key", testAPIKey, "--api-url", api.URL)
	}
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeBody(t *testing.T, req recordedRequest) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &m))
	return m
}
