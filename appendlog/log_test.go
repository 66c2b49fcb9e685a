package appendlog

import (
	"errors"
	"maps"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert"
	"github.com/kjk/kvlog/record"
)

func replayAll(t *testing.T, l *Log) ([]record.Entry, error) {
	t.Helper()
	var res []record.Entry
	records, errFn := l.Replay()
	for e := range records {
		res = append(res, e)
	}
	return res, errFn()
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	d, err := os.ReadFile(path)
	assert.NoError(t, err)
	return string(d)
}

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	l, err := Open(path)
	assert.NoError(t, err)
	defer l.Close()

	assert.True(t, fileExists(path))
	assert.Equal(t, int64(0), l.Size())
	assert.Equal(t, "", l.RecoveredSwap())
	entries, err := replayAll(t, l)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(entries))
}

func TestAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	l, err := Open(path)
	assert.NoError(t, err)

	assert.NoError(t, l.Append("a", "1"))
	assert.NoError(t, l.Append("b", "2"))
	assert.NoError(t, l.Append("a", "3"))
	assert.Equal(t, int64(3), l.Appended())
	assert.Equal(t, int64(12), l.Size())
	assert.NoError(t, l.Close())
	// calling Close twice is a no-op
	assert.NoError(t, l.Close())
	assert.Equal(t, "a\x1e1\nb\x1e2\na\x1e3\n", readFile(t, path))

	// re-opening never truncates
	l, err = Open(path)
	assert.NoError(t, err)
	defer l.Close()
	assert.Equal(t, int64(12), l.Size())
	entries, err := replayAll(t, l)
	assert.NoError(t, err)
	exp := []record.Entry{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}, {Key: "a", Value: "3"}}
	assert.Equal(t, exp, entries)

	// appends after replay go to the end of the file
	assert.NoError(t, l.Append("c", "4"))
	assert.Equal(t, "a\x1e1\nb\x1e2\na\x1e3\nc\x1e4\n", readFile(t, path))
}

func TestAppendInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	l, err := Open(path)
	assert.NoError(t, err)
	defer l.Close()

	err = l.Append("a\x1e", "1")
	assert.True(t, errors.Is(err, record.ErrEncoding))
	err = l.Append("a", "1\n")
	assert.True(t, errors.Is(err, record.ErrEncoding))
	assert.Equal(t, int64(0), l.Size())
	assert.Equal(t, "", readFile(t, path))
}

func TestAppendAfterClose(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "kv.db"))
	assert.NoError(t, err)
	assert.NoError(t, l.Close())
	assert.True(t, errors.Is(l.Append("a", "1"), ErrClosed))
	_, errFn := l.Replay()
	assert.True(t, errors.Is(errFn(), ErrClosed))
}

func TestReplayIsSingleUse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	assert.NoError(t, os.WriteFile(path, []byte("a\x1e1\n"), 0644))
	l, err := Open(path)
	assert.NoError(t, err)
	defer l.Close()

	records, errFn := l.Replay()
	n := 0
	for range records {
		n++
	}
	assert.NoError(t, errFn())
	assert.Equal(t, 1, n)
	for range records {
		n++
	}
	assert.Equal(t, 1, n)
	assert.Error(t, errFn())
}

func TestReplayCorrupt(t *testing.T) {
	tests := []struct {
		content string
		nValid  int
		offset  int64
	}{
		// line without separator
		{"a\x1e1\nbad line\nb\x1e2\n", 1, 4},
		// empty line
		{"a\x1e1\n\n", 1, 4},
		// torn append: last record without newline
		{"a\x1e1\nb\x1e2\nc\x1e", 2, 8},
		{"c", 0, 0},
	}
	for _, test := range tests {
		path := filepath.Join(t.TempDir(), "kv.db")
		assert.NoError(t, os.WriteFile(path, []byte(test.content), 0644))
		l, err := Open(path)
		assert.NoError(t, err)

		entries, err := replayAll(t, l)
		assert.Equal(t, test.nValid, len(entries), "content: %q", test.content)
		assert.True(t, errors.Is(err, record.ErrCorruptRecord), "content: %q", test.content)
		var cerr *CorruptRecordError
		assert.True(t, errors.As(err, &cerr))
		assert.Equal(t, test.offset, cerr.Offset)
		assert.Equal(t, l.Path(), cerr.Path)

		// dropping the bad tail leaves a log that replays cleanly
		assert.NoError(t, l.Truncate(cerr.Offset))
		assert.NoError(t, l.Append("z", "9"))
		assert.NoError(t, l.Close())

		l, err = Open(path)
		assert.NoError(t, err)
		entries, err = replayAll(t, l)
		assert.NoError(t, err)
		assert.Equal(t, test.nValid+1, len(entries))
		assert.Equal(t, record.Entry{Key: "z", Value: "9"}, entries[len(entries)-1])
		assert.NoError(t, l.Close())
	}
}

func TestTruncateInvalidSize(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "kv.db"))
	assert.NoError(t, err)
	defer l.Close()
	assert.NoError(t, l.Append("a", "1"))
	assert.Error(t, l.Truncate(-1))
	assert.Error(t, l.Truncate(l.Size()+1))
}

func TestReplayFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	records, errFn := ReplayFile(path)
	for range records {
		t.Fatalf("expected no records")
	}
	assert.True(t, os.IsNotExist(errFn()))
	// ReplayFile doesn't create the file
	assert.False(t, fileExists(path))

	assert.NoError(t, os.WriteFile(path, []byte("k\x1ev\nk2\x1ev2\n"), 0644))
	records, errFn = ReplayFile(path)
	m := map[string]string{}
	for e := range records {
		m[e.Key] = e.Value
	}
	assert.NoError(t, errFn())
	assert.Equal(t, map[string]string{"k": "v", "k2": "v2"}, m)

	// stopping early is fine
	records, errFn = ReplayFile(path)
	for range records {
		break
	}
	assert.NoError(t, errFn())
}

func TestWriteSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.db")
	m := map[string]string{"a": "1", "b": "2", "c": ""}
	n, err := WriteSnapshot(path, maps.All(m))
	assert.NoError(t, err)
	assert.Equal(t, 3, n)

	got := map[string]string{}
	records, errFn := ReplayFile(path)
	for e := range records {
		got[e.Key] = e.Value
	}
	assert.NoError(t, errFn())
	assert.Equal(t, m, got)

	// invalid entry: destination is not touched and no temp files are left
	before := readFile(t, path)
	bad := map[string]string{"a": "1", "b\n": "2"}
	_, err = WriteSnapshot(path, maps.All(bad))
	assert.True(t, errors.Is(err, record.ErrEncoding))
	assert.Equal(t, before, readFile(t, path))
	files, err := os.ReadDir(dir)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(files))
}

func TestWriteFileAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	assert.NoError(t, WriteFileAtomically(path, []byte("foo")))
	assert.Equal(t, "foo", readFile(t, path))
	assert.NoError(t, WriteFileAtomically(path, []byte("bar")))
	assert.Equal(t, "bar", readFile(t, path))

	// we can't create files in directories that don't exist
	err := WriteFileAtomically(filepath.Join(dir, "foo", "bar.txt"), []byte("x"))
	assert.Error(t, err)
}
