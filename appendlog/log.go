package appendlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kjk/kvlog/record"
)

var (
	// ErrIO wraps errors from reading or writing the log file
	ErrIO = errors.New("i/o error")
	// ErrClosed is returned by calls after Close()
	ErrClosed = errors.New("log is closed")
)

// Log is an append-only file of records.
// It's not safe for concurrent use, callers must serialize access.
type Log struct {
	// if true, we don't call file.Sync() after every append
	// a successful Append() is then only as durable as OS page cache
	NoSync bool

	path string
	file *os.File
	// size of the file, updated on every append
	size int64
	// re-used for encoding records
	buf []byte
	// number of records written by Append() since Open()
	nAppended int64
	// what Open() did to recover from interrupted swap, if anything
	recovered string
}

// Open opens the log at path for reading and appending, creating it if
// it doesn't exist. An existing file is never truncated.
// If a previous Compact() was interrupted, it's finished first.
func Open(path string) (*Log, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	recovered, err := RecoverSwap(path)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	st, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return &Log{
		path:      path,
		file:      file,
		size:      st.Size(),
		recovered: recovered,
	}, nil
}

// RecoveredSwap describes how Open() recovered from an interrupted
// Compact(). Empty if there was nothing to recover.
func (l *Log) RecoveredSwap() string {
	return l.recovered
}

// Path returns absolute path of the log file
func (l *Log) Path() string {
	return l.path
}

// Size returns the current size of the log file in bytes
func (l *Log) Size() int64 {
	return l.size
}

// Appended returns number of records appended since Open()
func (l *Log) Appended() int64 {
	return l.nAppended
}

// Append writes a record at the end of the file and, unless NoSync is set,
// flushes it to stable storage before returning.
// On failure the file is truncated back to where it was so that a partial
// record doesn't corrupt the log.
func (l *Log) Append(key, value string) error {
	if l.file == nil {
		return ErrClosed
	}
	var err error
	l.buf, err = record.AppendEncoded(l.buf[:0], key, value)
	if err != nil {
		return err
	}

	// most records are small. if buffer gets big, don't keep it
	// around (unbounded cache is a mem leak)
	defer func() {
		if cap(l.buf) > 64*1024 {
			l.buf = nil
		}
	}()

	n, err := l.file.Write(l.buf)
	if err == nil && !l.NoSync {
		err = l.file.Sync()
	}
	if err != nil {
		// ignoring error on this one, the original error matters more
		_ = l.file.Truncate(l.size)
		return fmt.Errorf("%w: append to '%s': %w", ErrIO, l.path, err)
	}
	l.size += int64(n)
	l.nAppended++
	return nil
}

// Truncate cuts the file to size. Used to drop a corrupt tail after replay.
func (l *Log) Truncate(size int64) error {
	if l.file == nil {
		return ErrClosed
	}
	if size < 0 || size > l.size {
		return fmt.Errorf("invalid truncate size %d, file size is %d", size, l.size)
	}
	if err := l.file.Truncate(size); err != nil {
		return fmt.Errorf("%w: truncate '%s': %w", ErrIO, l.path, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync '%s': %w", ErrIO, l.path, err)
	}
	l.size = size
	return nil
}

// Sync flushes the file to stable storage
func (l *Log) Sync() error {
	if l.file == nil {
		return ErrClosed
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync '%s': %w", ErrIO, l.path, err)
	}
	return nil
}

// Close closes the file. Can be called multiple times to make it
// easier to use via defer
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	file := l.file
	l.file = nil
	// https://www.joeshaw.org/dont-defer-close-on-writable-files/
	errSync := file.Sync()
	errClose := file.Close()
	if errSync != nil {
		return fmt.Errorf("%w: sync '%s': %w", ErrIO, l.path, errSync)
	}
	if errClose != nil {
		return fmt.Errorf("%w: close '%s': %w", ErrIO, l.path, errClose)
	}
	return nil
}
