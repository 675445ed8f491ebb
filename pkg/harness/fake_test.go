package harness

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recorded is one request seen by fakeHarness.
type recorded struct {
	Method      string
	Path        string
	Query       url.Values
	ContentType string
	APIKey      string
	Body        []byte
}

// JSON decodes the recorded body.
func (r recorded) JSON(t *testing.T) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(r.Body, &m))
	return m
}

// fakeHarness is an httptest Harness backend. Routes are keyed by
// "METHOD /path". Unrouted GETs answer 404 and unrouted writes answer 200
// with an empty data object.
type fakeHarness struct {
	t      *testing.T
	srv    *httptest.Server
	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	reqs   []recorded
}

func newFakeHarness(t *testing.T) *fakeHarness {
	t.Helper()
	f := &fakeHarness{t: t, routes: map[string]http.HandlerFunc{}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeHarness) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.reqs = append(f.reqs, recorded{
		Method:      r.Method,
		Path:        r.URL.Path,
		Query:       r.URL.Query(),
		ContentType: r.Header.Get("Content-Type"),
		APIKey:      r.Header.Get("x-api-key"),
		Body:        body,
	})
	h, ok := f.routes[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	if ok {
		h(w, r)
		return
	}
	if r.Method == http.MethodGet {
		reply(w, http.StatusNotFound, `{"status":"ERROR","code":"RESOURCE_NOT_FOUND","message":"not found"}`)
		return
	}
	reply(w, http.StatusOK, `{"status":"SUCCESS","data":{}}`)
}

func (f *fakeHarness) on(method, path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = h
}

func (f *fakeHarness) respond(method, path string, status int, body string) {
	f.on(method, path, func(w http.ResponseWriter, _ *http.Request) {
		reply(w, status, body)
	})
}

// remember makes createPath stateful for identifier: lookups answer 404
// until a POST succeeds and 200 with data afterwards.
func (f *fakeHarness) remember(createPath, identifier string) {
	var created atomic.Bool
	f.on(http.MethodPost, createPath, func(w http.ResponseWriter, _ *http.Request) {
		created.Store(true)
		reply(w, http.StatusOK, `{"status":"SUCCESS","data":{}}`)
	})
	f.on(http.MethodGet, createPath+"/"+identifier, func(w http.ResponseWriter, _ *http.Request) {
		if created.Load() {
			reply(w, http.StatusOK, foundBody)
			return
		}
		reply(w, http.StatusNotFound, `{"status":"ERROR","code":"RESOURCE_NOT_FOUND","message":"not found"}`)
	})
}

func (f *fakeHarness) requests() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.reqs...)
}

// find returns the requests matching method and path.
func (f *fakeHarness) find(method, path string) []recorded {
	var out []recorded
	for _, r := range f.requests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// one returns the single request matching method and path.
func (f *fakeHarness) one(method, path string) recorded {
	f.t.Helper()
	got := f.find(method, path)
	require.Len(f.t, got, 1, "%s %s", method, path)
	return got[0]
}

func (f *fakeHarness) client(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL:     f.srv.URL,
		AccountID:   "acct123",
		OrgID:       "default",
		APIKey:      "pat.acct123.s3cr3t",
		BackoffUnit: time.Millisecond,
		Timeout:     5 * time.Second,
	}, nil)
	require.NoError(t, err)
	return c
}

func (f *fakeHarness) provisioner(t *testing.T) *Provisioner {
	t.Helper()
	return NewProvisioner(f.client(t), "payments_api", nil)
}

func reply(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

const foundBody = `{"status":"SUCCESS","data":{"identifier":"x"}}`
