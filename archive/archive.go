// Package archive stores compressed copies of a compacted log in a local
// directory, s3-compatible storage or on a server over sftp
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kjk/kvlog/appendlog"
	"github.com/kjk/kvlog/log"
	"github.com/kjk/kvlog/metrics"
	"github.com/kjk/kvlog/record"
	"github.com/zeebo/xxh3"
)

// LastArchiveFileName is created next to the log and remembers hash of the
// last archived data
const LastArchiveFileName = ".last-archive"

type Archiver struct {
	Codec   Codec
	Targets []Target
	// for tests
	Now func() time.Time
}

type Result struct {
	Name Name
	// true if data didn't change since last archive
	Skipped bool
	// size before and after compression
	Size           int64
	SizeCompressed int64
	Duration       time.Duration
}

func lastArchivePath(logPath string) string {
	return filepath.Join(filepath.Dir(logPath), LastArchiveFileName)
}

func readLastHash(logPath string) (uint64, bool) {
	d, err := os.ReadFile(lastArchivePath(logPath))
	if err != nil {
		return 0, false
	}
	h, err := strconv.ParseUint(strings.TrimSpace(string(d)), 16, 64)
	return h, err == nil
}

// Archive compresses the log at logPath and uploads it to all targets.
// Doesn't do anything if the data didn't change since the last successful
// Archive(). The log must not be written to while this runs.
func (a *Archiver) Archive(ctx context.Context, logPath string) (*Result, error) {
	if len(a.Targets) == 0 {
		return nil, errors.New("no archive targets")
	}
	timeStart := time.Now()
	d, err := os.ReadFile(logPath)
	if err != nil {
		return nil, err
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	res := &Result{
		Name: Name{
			Base:  filepath.Base(logPath),
			Time:  now().UTC(),
			Hash:  xxh3.Hash(d),
			Codec: a.Codec,
		},
		Size: int64(len(d)),
	}
	if h, ok := readLastHash(logPath); ok && h == res.Name.Hash {
		res.Skipped = true
		log.Verbosef("archive: '%s' didn't change since last archive, skipping\n", logPath)
		return res, nil
	}

	compressed, err := Compress(a.Codec, d)
	if err != nil {
		return nil, err
	}
	res.SizeCompressed = int64(len(compressed))
	name := res.Name.String()

	var errs []error
	for _, t := range a.Targets {
		if err := t.Put(ctx, name, compressed); err != nil {
			log.Errorf("archive: uploading '%s' to %s failed with '%s'\n", name, t.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
			continue
		}
		metrics.ArchivedBytes.WithLabelValues(t.Name()).Add(float64(len(compressed)))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	// only remember the hash if all targets have the archive so that
	// failed uploads are retried next time
	hashStr := fmt.Sprintf("%016x\n", res.Name.Hash)
	if err := appendlog.WriteFileAtomically(lastArchivePath(logPath), []byte(hashStr)); err != nil {
		return nil, err
	}
	res.Duration = time.Since(timeStart)
	log.EventWithDuration("archive", res.Duration, "name", name, "size", res.Size, "compressed", res.SizeCompressed, "targets", len(a.Targets))
	return res, nil
}

// Fetch downloads and decompresses archive name from t. The data is
// verified against the hash in the name and must be a valid log.
func Fetch(ctx context.Context, t Target, name string) ([]byte, error) {
	n, err := ParseName(name)
	if err != nil {
		return nil, err
	}
	compressed, err := t.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	d, err := Decompress(n.Codec, compressed)
	if err != nil {
		return nil, fmt.Errorf("decompressing '%s': %w", name, err)
	}
	if h := xxh3.Hash(d); h != n.Hash {
		return nil, fmt.Errorf("'%s' is corrupted: hash is %016x, expected %016x", name, h, n.Hash)
	}
	if err = validateLog(d); err != nil {
		return nil, fmt.Errorf("'%s': %w", name, err)
	}
	return d, nil
}

func validateLog(d []byte) error {
	off := 0
	for off < len(d) {
		idx := bytes.IndexByte(d[off:], '\n')
		if idx < 0 {
			return fmt.Errorf("%w: missing newline at offset %d", record.ErrCorruptRecord, off)
		}
		if _, _, err := record.Decode(d[off : off+idx]); err != nil {
			return fmt.Errorf("at offset %d: %w", off, err)
		}
		off += idx + 1
	}
	return nil
}

// Restore writes the log from archive name in t to logPath.
// If logPath exists, it's only overwritten if overwrite is true.
// The log must not be open.
func Restore(ctx context.Context, t Target, name string, logPath string, overwrite bool) error {
	if _, err := os.Stat(logPath); err == nil && !overwrite {
		return fmt.Errorf("'%s' already exists", logPath)
	}
	d, err := Fetch(ctx, t, name)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return err
	}
	// left-overs from interrupted compaction of the log we're replacing
	_ = os.Remove(appendlog.NewPath(logPath))
	_ = os.Remove(appendlog.OldPath(logPath))
	if err = appendlog.WriteFileAtomically(logPath, d); err != nil {
		return err
	}
	// data in the log is now the same as in the archive
	hashStr := fmt.Sprintf("%016x\n", xxh3.Hash(d))
	log.IfErrf(appendlog.WriteFileAtomically(lastArchivePath(logPath), []byte(hashStr)))
	log.Event("restore", "name", name, "path", logPath, "size", len(d))
	return nil
}

// RestoreLatest restores the most recent archive of logPath found in t
func RestoreLatest(ctx context.Context, t Target, logPath string, overwrite bool) (Name, error) {
	names, err := t.List(ctx)
	if err != nil {
		return Name{}, err
	}
	n, ok := Latest(names, filepath.Base(logPath))
	if !ok {
		return Name{}, fmt.Errorf("no archives of '%s' in %s", filepath.Base(logPath), t.Name())
	}
	return n, Restore(ctx, t, n.String(), logPath, overwrite)
}
