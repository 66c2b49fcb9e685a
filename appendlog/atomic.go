package appendlog

import (
	"bufio"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	"github.com/kjk/kvlog/record"
)

// Some references:
// - https://www.slideshare.net/nan1nan1/eat-my-data
// - https://lwn.net/Articles/457667/

var errDiscarded = errors.New("discarded")

// atomicFile is written to a temporary file in the destination directory
// and renamed to the destination in commit(). If anything fails before
// that, the temporary file is deleted and the destination is not touched.
type atomicFile struct {
	dstPath string
	dir     string
	tmpPath string
	tmpFile *os.File
	// first error we encountered
	err error
}

func createAtomic(path string) (*atomicFile, error) {
	dir, fName := filepath.Split(path)
	if fName == "" {
		return nil, &os.PathError{Op: "create", Path: path, Err: os.ErrInvalid}
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	tmpFile, err := os.CreateTemp(dir, fName+".tmp-*")
	if err != nil {
		return nil, err
	}
	return &atomicFile{
		dstPath: path,
		dir:     dir,
		tmpPath: tmpFile.Name(),
		tmpFile: tmpFile,
	}, nil
}

func (f *atomicFile) fail(err error) error {
	if f.err == nil {
		f.err = err
	}
	f.removeTemp()
	return err
}

func (f *atomicFile) removeTemp() {
	if f.tmpFile == nil {
		return
	}
	_ = f.tmpFile.Close()
	f.tmpFile = nil
	// ignoring error on this one
	_ = os.Remove(f.tmpPath)
}

func (f *atomicFile) Write(d []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n, err := f.tmpFile.Write(d)
	if err != nil {
		return n, f.fail(err)
	}
	return n, nil
}

// discard removes the temporary file if commit() wasn't called.
// Use it with defer, it's a no-op after commit().
func (f *atomicFile) discard() {
	if f.tmpFile == nil {
		return
	}
	_ = f.fail(errDiscarded)
}

// commit flushes the temporary file to disk and renames it to the destination
func (f *atomicFile) commit() error {
	if f.err != nil {
		return f.err
	}
	tmpFile := f.tmpFile
	f.tmpFile = nil

	errSync := tmpFile.Sync()
	errClose := tmpFile.Close()
	err := errSync
	if err == nil {
		err = errClose
	}
	if err == nil {
		// this will over-write dstPath (if it exists)
		err = os.Rename(f.tmpPath, f.dstPath)
	}
	if err != nil {
		f.err = err
		_ = os.Remove(f.tmpPath)
		return err
	}
	syncDir(f.dir)
	return nil
}

// for extra protection against crashes, sync directory after rename
// ignore errors as those are a nice have, not must have
func syncDir(dir string) {
	fdir, _ := os.Open(dir)
	if fdir != nil {
		_ = fdir.Sync()
		_ = fdir.Close()
	}
}

// WriteFileAtomically writes data to path such that path either has the
// previous content or all of data, never a partial write
func WriteFileAtomically(path string, data []byte) error {
	f, err := createAtomic(path)
	if err != nil {
		return err
	}
	defer f.discard()
	if _, err = f.Write(data); err != nil {
		return err
	}
	return f.commit()
}

// WriteSnapshot writes one record per entry to path, atomically.
// Returns number of records written.
func WriteSnapshot(path string, entries iter.Seq2[string, string]) (int, error) {
	f, err := createAtomic(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer f.discard()

	w := bufio.NewWriterSize(f, 64*1024)
	var buf []byte
	n := 0
	for k, v := range entries {
		buf, err = record.AppendEncoded(buf[:0], k, v)
		if err != nil {
			return 0, err
		}
		if _, err = w.Write(buf); err != nil {
			return 0, fmt.Errorf("%w: write '%s': %w", ErrIO, path, err)
		}
		n++
	}
	if err = w.Flush(); err != nil {
		return 0, fmt.Errorf("%w: write '%s': %w", ErrIO, path, err)
	}
	if err = f.commit(); err != nil {
		return 0, fmt.Errorf("%w: commit '%s': %w", ErrIO, path, err)
	}
	return n, nil
}
