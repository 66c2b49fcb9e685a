package store

import (
	"errors"

	"github.com/kjk/kvlog/appendlog"
	"github.com/kjk/kvlog/record"
)

var (
	// ErrClosed is returned by Set() after Shutdown()
	ErrClosed = errors.New("store is shut down")
	// ErrFailed is returned by Set() after an append to the log failed.
	// The log might be missing data so we refuse further writes.
	ErrFailed = errors.New("store failed a write and doesn't accept new ones")

	// re-exported so that callers only need to import this package
	ErrEncoding      = record.ErrEncoding
	ErrCorruptRecord = record.ErrCorruptRecord
	ErrIO            = appendlog.ErrIO
)
