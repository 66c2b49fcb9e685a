package store

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/kjk/kvlog/appendlog"
	"github.com/kjk/kvlog/log"
	"github.com/kjk/kvlog/record"
)

type Options struct {
	// don't fsync after every Set(). Faster but a crash can lose
	// acknowledged writes
	NoSync bool
	// if the log has a corrupt record, drop it and everything after it
	// instead of failing Open()
	TruncateCorruptTail bool
	// how Shutdown() replaces the log with the compacted file
	SwapMode appendlog.SwapMode
	// called once, outside of the lock, when a write to the log fails.
	// The engine rejects writes after that. Typically logs and exits.
	OnFatal func(err error)
}

// CompactionStats describes what Shutdown() did
type CompactionStats struct {
	Path        string
	Records     int
	BytesBefore int64
	BytesAfter  int64
	Duration    time.Duration
}

type Stats struct {
	Path     string `json:"path"`
	Keys     int    `json:"keys"`
	LogSize  int64  `json:"log_size"`
	Replayed int    `json:"replayed"`
	Appends  int64  `json:"appends"`
	Failed   bool   `json:"failed"`
	Closed   bool   `json:"closed"`
}

// Engine is a key-value store backed by an append-only log.
// It's safe for concurrent use.
type Engine struct {
	opts Options

	mu       sync.Mutex
	log      *appendlog.Log
	index    *Index
	replayed int
	// set after first failed append
	failed error
	closed bool
}

// Open replays the log at path (creating it if missing) and returns an
// engine ready for Get() and Set(). opts can be nil.
func Open(path string, opts *Options) (*Engine, error) {
	if opts == nil {
		opts = &Options{}
	}
	timeStart := time.Now()
	l, err := appendlog.Open(path)
	if err != nil {
		return nil, err
	}
	l.NoSync = opts.NoSync
	if s := l.RecoveredSwap(); s != "" {
		log.Logf("store.Open: '%s' had interrupted compaction, %s\n", l.Path(), s)
	}

	index := NewIndex()
	n, err := replayInto(l, index)
	if err != nil {
		var cerr *appendlog.CorruptRecordError
		if !opts.TruncateCorruptTail || !errors.As(err, &cerr) {
			l.Close()
			return nil, err
		}
		log.Logf("store.Open: %s\ntruncating '%s' from %d to %d bytes\n", err, l.Path(), l.Size(), cerr.Offset)
		if err = l.Truncate(cerr.Offset); err != nil {
			l.Close()
			return nil, err
		}
	}

	e := &Engine{
		opts:     *opts,
		log:      l,
		index:    index,
		replayed: n,
	}
	log.EventWithDuration("store.open", time.Since(timeStart), "path", l.Path(), "records", n, "keys", index.Len(), "size", l.Size())
	return e, nil
}

// replayInto applies all records in the log to index, last write wins.
// Returns number of records replayed.
func replayInto(l *appendlog.Log, index *Index) (int, error) {
	n := 0
	records, errFn := l.Replay()
	for e := range records {
		index.Set(e.Key, e.Value)
		n++
	}
	return n, errFn()
}

// Get returns the latest value for key. It never touches the log.
func (e *Engine) Get(key string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.Get(key)
}

// Set durably records key = value. When it returns nil, the write
// survives a crash and is visible to Get().
func (e *Engine) Set(key, value string) error {
	if err := record.Validate(key, value); err != nil {
		return err
	}
	fatal, err := e.set(key, value)
	if fatal && e.opts.OnFatal != nil {
		e.opts.OnFatal(err)
	}
	return err
}

func (e *Engine) set(key, value string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false, ErrClosed
	}
	if e.failed != nil {
		return false, ErrFailed
	}
	if err := e.log.Append(key, value); err != nil {
		e.failed = err
		log.Errorf("store.Set: %s\n", err)
		return true, err
	}
	e.index.Set(key, value)
	return false, nil
}

// Shutdown stops accepting writes and compacts the log so that it only
// has the latest value of each key. Calling it again returns ErrClosed.
func (e *Engine) Shutdown() (*CompactionStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	e.closed = true

	timeStart := time.Now()
	path := e.log.Path()
	res := &CompactionStats{
		Path:        path,
		BytesBefore: e.log.Size(),
	}
	// the compacted file is built from the index, not the log, so an
	// error closing the log doesn't lose anything
	log.IfErrf(e.log.Close())

	n, err := appendlog.Compact(path, e.index.All(), e.opts.SwapMode)
	if err != nil {
		log.Errorf("store.Shutdown: compacting '%s' failed with '%s'\n", path, err)
		return nil, err
	}
	res.Records = n
	if st, err := os.Stat(path); err == nil {
		res.BytesAfter = st.Size()
	}
	res.Duration = time.Since(timeStart)
	log.EventWithDuration("store.compact", res.Duration, "path", path, "records", n, "before", res.BytesBefore, "after", res.BytesAfter)
	return res, nil
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Path:     e.log.Path(),
		Keys:     e.index.Len(),
		LogSize:  e.log.Size(),
		Replayed: e.replayed,
		Appends:  e.log.Appended(),
		Failed:   e.failed != nil,
		Closed:   e.closed,
	}
}

// Path returns absolute path of the log file
func (e *Engine) Path() string {
	return e.log.Path()
}
