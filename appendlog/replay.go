package appendlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/kjk/kvlog/record"
)

var errReplayConsumed = errors.New("replay sequence can only be consumed once")

// CorruptRecordError is returned by replay when a line can't be decoded.
// Offset is the size of the valid prefix of the file i.e. the offset
// of the first bad line.
type CorruptRecordError struct {
	Path   string
	Offset int64
	Err    error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("'%s': bad record at offset %d: %s", e.Path, e.Offset, e.Err)
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Err
}

// Replay returns an iterator over records in the log, in file order.
// It only sees the data that was in the file when it was opened.
// Call the returned error function after iteration to check for errors.
func (l *Log) Replay() (iter.Seq[record.Entry], func() error) {
	if l.file == nil {
		seq := func(yield func(record.Entry) bool) {}
		return seq, func() error { return ErrClosed }
	}
	return replay(l.file, l.size, l.path)
}

// ReplayFile is like Log.Replay but only opens path for reading.
// Unlike Open() it doesn't create the file if it doesn't exist.
func ReplayFile(path string) (iter.Seq[record.Entry], func() error) {
	var iterErr error
	seq := func(yield func(record.Entry) bool) {
		file, err := os.Open(path)
		if err != nil {
			iterErr = err
			return
		}
		defer file.Close()
		st, err := file.Stat()
		if err != nil {
			iterErr = err
			return
		}
		records, errFn := replay(file, st.Size(), path)
		for e := range records {
			if !yield(e) {
				break
			}
		}
		iterErr = errFn()
	}
	return seq, func() error { return iterErr }
}

func replay(r io.ReaderAt, size int64, path string) (iter.Seq[record.Entry], func() error) {
	var iterErr error
	consumed := false

	corrupt := func(off int64, err error) *CorruptRecordError {
		return &CorruptRecordError{
			Path:   path,
			Offset: off,
			Err:    err,
		}
	}

	seq := func(yield func(record.Entry) bool) {
		if consumed {
			iterErr = errReplayConsumed
			return
		}
		consumed = true

		// reading through io.SectionReader doesn't move the file offset
		// which matters for a file opened in append mode
		reader := bufio.NewReaderSize(io.NewSectionReader(r, 0, size), 64*1024)
		var off int64
		for {
			line, err := reader.ReadBytes('\n')
			if err == io.EOF {
				if len(line) > 0 {
					// crash in the middle of append leaves a record without
					// the terminating newline
					err = fmt.Errorf("%w: missing newline at end of file", record.ErrCorruptRecord)
					iterErr = corrupt(off, err)
				}
				return
			}
			if err != nil {
				iterErr = fmt.Errorf("%w: read '%s': %w", ErrIO, path, err)
				return
			}

			e, err := record.DecodeEntry(line[:len(line)-1])
			if err != nil {
				iterErr = corrupt(off, err)
				return
			}
			off += int64(len(line))
			if !yield(e) {
				return
			}
		}
	}

	return seq, func() error { return iterErr }
}
