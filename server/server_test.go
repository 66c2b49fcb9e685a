package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert"
	"github.com/kjk/kvlog/store"
)

func openStore(t *testing.T) (*store.Engine, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kv.db")
	e, err := store.Open(path, nil)
	assert.NoError(t, err)
	return e, path
}

func doRequest(t *testing.T, h http.Handler, method string, uri string) (int, string) {
	t.Helper()
	r := httptest.NewRequest(method, uri, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	d, err := io.ReadAll(w.Result().Body)
	assert.NoError(t, err)
	return w.Code, string(d)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	d, err := os.ReadFile(path)
	assert.NoError(t, err)
	return string(d)
}

func TestGetSet(t *testing.T) {
	e, path := openStore(t)
	h := New(e, Options{}).Handler()

	code, _ := doRequest(t, h, "GET", "/get?key=a")
	assert.Equal(t, 404, code)

	code, _ = doRequest(t, h, "GET", "/set?a=1")
	assert.Equal(t, 200, code)
	code, body := doRequest(t, h, "GET", "/get?key=a")
	assert.Equal(t, 200, code)
	assert.Equal(t, "1", body)

	code, _ = doRequest(t, h, "POST", "/set?a=2")
	assert.Equal(t, 200, code)
	code, body = doRequest(t, h, "GET", "/get?key=a")
	assert.Equal(t, 200, code)
	assert.Equal(t, "2", body)
	assert.Equal(t, "a\x1e1\na\x1e2\n", readFile(t, path))

	// values are url-decoded
	code, _ = doRequest(t, h, "GET", "/set?my%20key=a%26b")
	assert.Equal(t, 200, code)
	code, body = doRequest(t, h, "GET", "/get?key=my+key")
	assert.Equal(t, 200, code)
	assert.Equal(t, "a&b", body)

	// empty value
	code, _ = doRequest(t, h, "GET", "/set?empty")
	assert.Equal(t, 200, code)
	code, body = doRequest(t, h, "GET", "/get?key=empty")
	assert.Equal(t, 200, code)
	assert.Equal(t, "", body)

	stats, err := e.Shutdown()
	assert.NoError(t, err)
	assert.Equal(t, 3, stats.Records)
}

func TestGetMissingKeyParam(t *testing.T) {
	e, _ := openStore(t)
	defer e.Shutdown()
	h := New(e, Options{}).Handler()
	assert.NoError(t, e.Set("", "v"))

	code, _ := doRequest(t, h, "GET", "/get")
	assert.Equal(t, 404, code)
	code, _ = doRequest(t, h, "GET", "/get?other=a")
	assert.Equal(t, 404, code)
	// empty key is a valid key
	code, body := doRequest(t, h, "GET", "/get?key=")
	assert.Equal(t, 200, code)
	assert.Equal(t, "v", body)
}

type countingEngine struct {
	nSet int
	err  error
}

func (e *countingEngine) Get(key string) (string, bool) {
	return "", false
}

func (e *countingEngine) Set(key, value string) error {
	e.nSet++
	return e.err
}

func (e *countingEngine) Stats() store.Stats {
	return store.Stats{Keys: 5}
}

func TestSetMalformed(t *testing.T) {
	e := &countingEngine{}
	h := New(e, Options{}).Handler()
	uris := []string{
		"/set",
		"/set?",
		"/set?a=1&b=2",
		"/set?a=1&a=2",
		"/set?a=%zz",
		"/set?a=1;b=2",
	}
	for _, uri := range uris {
		code, _ := doRequest(t, h, "GET", uri)
		assert.Equal(t, 400, code, "uri: %s", uri)
	}
	assert.Equal(t, 0, e.nSet)
}

func TestSetMalformedDoesntTouchLog(t *testing.T) {
	e, path := openStore(t)
	defer e.Shutdown()
	h := New(e, Options{}).Handler()
	code, _ := doRequest(t, h, "GET", "/set?a=1")
	assert.Equal(t, 200, code)
	before := readFile(t, path)

	for _, uri := range []string{"/set", "/set?a=1&b=2", "/set?a%1E=1", "/set?a=1%0A"} {
		code, _ = doRequest(t, h, "GET", uri)
		assert.Equal(t, 400, code, "uri: %s", uri)
	}
	assert.Equal(t, before, readFile(t, path))
	assert.Equal(t, 1, e.Stats().Keys)
}

func TestSetErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{store.ErrClosed, 503},
		{store.ErrFailed, 500},
		{errors.New("disk on fire"), 500},
	}
	for _, test := range tests {
		e := &countingEngine{err: test.err}
		h := New(e, Options{}).Handler()
		code, _ := doRequest(t, h, "GET", "/set?a=1")
		assert.Equal(t, test.code, code, "err: %s", test.err)
	}
}

func TestSetAfterShutdown(t *testing.T) {
	e, _ := openStore(t)
	h := New(e, Options{}).Handler()
	_, err := e.Shutdown()
	assert.NoError(t, err)
	code, _ := doRequest(t, h, "GET", "/set?a=1")
	assert.Equal(t, 503, code)
}

func TestMethodNotAllowed(t *testing.T) {
	h := New(&countingEngine{}, Options{}).Handler()
	code, _ := doRequest(t, h, "DELETE", "/set?a=1")
	assert.Equal(t, 405, code)
	code, _ = doRequest(t, h, "GET", "/nope")
	assert.Equal(t, 404, code)
}

func TestStatsAndMetrics(t *testing.T) {
	h := New(&countingEngine{}, Options{}).Handler()
	code, body := doRequest(t, h, "GET", "/stats")
	assert.Equal(t, 200, code)
	var st store.Stats
	assert.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, 5, st.Keys)
	// pretty-printed
	assert.True(t, strings.Contains(body, "\n  \"keys\": 5"))

	code, body = doRequest(t, h, "GET", "/metrics")
	assert.Equal(t, 200, code)
	assert.True(t, strings.Contains(body, "kvlog_request_duration_seconds"))
}

func TestServeShutdown(t *testing.T) {
	e, path := openStore(t)
	srv := New(e, Options{ShutdownTimeout: time.Second})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	chDone := make(chan error, 1)
	go func() {
		chDone <- srv.Serve(ctx, ln)
	}()

	base := "http://" + ln.Addr().String()
	rsp, err := http.Get(base + "/set?k=v")
	assert.NoError(t, err)
	rsp.Body.Close()
	assert.Equal(t, 200, rsp.StatusCode)

	cancel()
	select {
	case err = <-chDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve() didn't return after cancel")
	}

	// after the server stopped, the store is shut down
	stats, err := e.Shutdown()
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.Records)
	assert.Equal(t, "k\x1ev\n", readFile(t, path))
}

func TestCapturingResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &CapturingResponseWriter{ResponseWriter: rec}
	assert.Equal(t, 200, w.Code())
	_, err := w.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, int64(5), w.Size)
	assert.Equal(t, 200, w.Code())

	rec = httptest.NewRecorder()
	w = &CapturingResponseWriter{ResponseWriter: rec}
	w.WriteHeader(404)
	assert.Equal(t, 404, w.Code())
	assert.Equal(t, 404, rec.Code)
}

func TestParseSetQuery(t *testing.T) {
	k, v, err := parseSetQuery("a=b%3Dc")
	assert.NoError(t, err)
	assert.Equal(t, "a", k)
	assert.Equal(t, "b=c", v)
	_, _, err = parseSetQuery("")
	assert.Error(t, err)
}
