/*
Package appendlog is a durable, append-only log of key/value records.

The log is a single flat file with one record per line, in the format
described by package record. There's no header, version or checksum.

During normal operation the file only grows:

	l, err := appendlog.Open("data.db")
	if err != nil {
		return err
	}
	err = l.Append("name", "John")

On startup the file is replayed from the beginning:

	records, errFn := l.Replay()
	for e := range records {
		index[e.Key] = e.Value
	}
	if err := errFn(); err != nil {
		// *CorruptRecordError tells how much of the file is valid
	}

The file shrinks only through Compact, which writes one record per live key
to <path>.new and swaps it in place of <path>, keeping <path>.old until the
new file is installed. Open finishes a swap interrupted by a crash.
*/
package appendlog
