package log

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert"
)

func TestDayFromTime(t *testing.T) {
	tm := time.Date(2026, 3, 7, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, 20260307, dayFromTime(tm))
}

func TestWriteDaily(t *testing.T) {
	dir := t.TempDir()
	w := NewWriteDaily(dir)
	assert.NoError(t, w.WriteString("hello\n"))
	assert.NoError(t, w.WriteString("world\n"))
	assert.NoError(t, w.Close())
	// Close is safe to call multiple times
	assert.NoError(t, w.Close())

	name := time.Now().UTC().Format("2006-01-02") + ".txt"
	d, err := os.ReadFile(filepath.Join(dir, name))
	assert.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", string(d))

	// nil receiver is a no-op
	var wnil *WriteDaily
	assert.NoError(t, wnil.WriteString("x"))
	assert.NoError(t, wnil.Close())
}

func TestFormatEvent(t *testing.T) {
	tm := time.UnixMilli(1700000000123)
	d := string(FormatEvent(tm, "compact"))
	assert.Equal(t, "--- 1700000000123 compact\n", d)

	d = string(FormatEvent(tm, "compact", "records", 5, "path", "kv.db"))
	assert.True(t, strings.HasPrefix(d, "--- 1700000000123 compact\n"))
	assert.True(t, strings.Contains(d, "records"))
	assert.True(t, strings.Contains(d, "kv.db"))
	assert.True(t, strings.HasSuffix(d, "\n"))
}

func TestFormatEventOddArgs(t *testing.T) {
	defer func() {
		assert.NotNil(t, recover())
	}()
	FormatEvent(time.Now(), "bad", "key")
}

func TestLogfAndErrorf(t *testing.T) {
	var buf bytes.Buffer
	prev := Stdout
	Stdout = &buf
	defer func() { Stdout = prev }()

	Logf("a %d\n", 1)
	assert.Equal(t, "a 1\n", buf.String())

	buf.Reset()
	Verbose = false
	Verbosef("hidden\n")
	assert.Equal(t, "", buf.String())

	buf.Reset()
	assert.False(t, IfErrf(nil))
	assert.True(t, IfErrf(os.ErrNotExist, "open failed: %v", os.ErrNotExist))
	assert.True(t, strings.HasPrefix(buf.String(), "open failed: file does not exist\n"))
	// callstack follows the message
	assert.True(t, strings.Contains(buf.String(), "log_test.go"))
}

func TestInitWritesFiles(t *testing.T) {
	dir := t.TempDir()
	prev := Stdout
	Stdout = nil
	defer func() { Stdout = prev }()

	Init(&Config{Dir: dir})
	Logf("started\n")
	Event("open", "records", 3)
	r := httptest.NewRequest("GET", "/get?key=a", nil)
	assert.NoError(t, HTTPRequest(r, 404, 0, time.Millisecond))
	Close()

	name := time.Now().UTC().Format("2006-01-02") + ".txt"
	d, err := os.ReadFile(filepath.Join(dir, "log", name))
	assert.NoError(t, err)
	assert.Equal(t, "started\n", string(d))

	d, err = os.ReadFile(filepath.Join(dir, "events", name))
	assert.NoError(t, err)
	assert.True(t, strings.Contains(string(d), " open\n"))

	d, err = os.ReadFile(filepath.Join(dir, "http", name))
	assert.NoError(t, err)
	var m map[string]any
	assert.NoError(t, json.Unmarshal(d, &m))
	assert.Equal(t, "/get", m["url"])
	assert.Equal(t, "key=a", m["query"])
	assert.Equal(t, float64(404), m["code"])

	// no errors were logged so the file wasn't created
	_, err = os.Stat(filepath.Join(dir, "errors", name))
	assert.True(t, os.IsNotExist(err))
}

func TestBestRemoteAddress(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", BestRemoteAddress(r))
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	assert.Equal(t, "1.2.3.4", BestRemoteAddress(r))
	r.Header.Set("CF-Connecting-IP", "9.9.9.9")
	assert.Equal(t, "9.9.9.9", BestRemoteAddress(r))
}
