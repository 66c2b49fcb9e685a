package record

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

/*
A record is one key/value pair on a single line:

key<0x1e>value\n

The separator and the newline are not escaped so neither can appear
in a key or a value. Encode rejects them.
*/

// Sep separates key from value in a record
const Sep byte = 0x1e

var (
	// ErrEncoding is returned when key or value can't be represented in a record
	ErrEncoding = errors.New("invalid record data")
	// ErrCorruptRecord is returned when a line can't be decoded
	ErrCorruptRecord = errors.New("corrupt record")
)

type Entry struct {
	Key   string
	Value string
}

func validateField(what string, s string) error {
	if strings.IndexByte(s, Sep) >= 0 {
		return fmt.Errorf("%w: %s contains separator byte 0x1e", ErrEncoding, what)
	}
	if strings.IndexByte(s, '\n') >= 0 {
		return fmt.Errorf("%w: %s contains newline", ErrEncoding, what)
	}
	return nil
}

// Validate returns ErrEncoding if key or value can't be stored in a record
func Validate(key, value string) error {
	if err := validateField("key", key); err != nil {
		return err
	}
	return validateField("value", value)
}

// EncodedLen returns the size of encoded record, including the newline
func EncodedLen(key, value string) int {
	return len(key) + 1 + len(value) + 1
}

// AppendEncoded appends encoded record to dst
// perf: allows re-using the buffer
func AppendEncoded(dst []byte, key, value string) ([]byte, error) {
	if err := Validate(key, value); err != nil {
		return dst, err
	}
	dst = append(dst, key...)
	dst = append(dst, Sep)
	dst = append(dst, value...)
	dst = append(dst, '\n')
	return dst, nil
}

// Encode returns key and value serialized as a single line
func Encode(key, value string) ([]byte, error) {
	d := make([]byte, 0, EncodedLen(key, value))
	return AppendEncoded(d, key, value)
}

// Decode parses a line (without the trailing newline) into key and value.
// Only the first separator splits, so value can't contain it either way
// but a stray one doesn't make the record ambiguous.
func Decode(line []byte) (string, string, error) {
	idx := bytes.IndexByte(line, Sep)
	if idx < 0 {
		return "", "", fmt.Errorf("%w: missing separator in '%s'", ErrCorruptRecord, truncateForError(line))
	}
	return string(line[:idx]), string(line[idx+1:]), nil
}

// DecodeEntry is like Decode but returns an Entry
func DecodeEntry(line []byte) (Entry, error) {
	k, v, err := Decode(line)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Key: k, Value: v}, nil
}

func truncateForError(d []byte) string {
	if len(d) > 64 {
		return string(d[:64]) + "..."
	}
	return string(d)
}
