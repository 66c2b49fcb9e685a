package archive

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const timeFormat = "20060102T150405Z"

// Name describes an archive file:
// <base>-<time>-<hash>.<ext> e.g. kv.db-20261017T101530Z-5b6e0b0c1d2e3f40.zst
type Name struct {
	// name of the log file
	Base  string
	Time  time.Time
	Hash  uint64
	Codec Codec
}

func (n Name) String() string {
	t := n.Time.UTC().Format(timeFormat)
	return fmt.Sprintf("%s-%s-%016x%s", n.Base, t, n.Hash, n.Codec.Ext())
}

// ParseName is the reverse of Name.String()
func ParseName(s string) (Name, error) {
	var res Name
	res.Codec = codecFromName(s)
	rest := strings.TrimSuffix(s, res.Codec.Ext())

	// base can have '-' in it so we parse from the end
	idx := strings.LastIndexByte(rest, '-')
	if idx < 0 {
		return res, fmt.Errorf("'%s' is not an archive name", s)
	}
	hashStr := rest[idx+1:]
	rest = rest[:idx]
	if len(hashStr) != 16 {
		return res, fmt.Errorf("'%s' is not an archive name: invalid hash '%s'", s, hashStr)
	}
	var err error
	res.Hash, err = strconv.ParseUint(hashStr, 16, 64)
	if err != nil {
		return res, fmt.Errorf("'%s' is not an archive name: invalid hash '%s'", s, hashStr)
	}

	idx = strings.LastIndexByte(rest, '-')
	if idx <= 0 {
		return res, fmt.Errorf("'%s' is not an archive name", s)
	}
	timeStr := rest[idx+1:]
	res.Base = rest[:idx]
	res.Time, err = time.Parse(timeFormat, timeStr)
	if err != nil {
		return res, fmt.Errorf("'%s' is not an archive name: invalid time '%s'", s, timeStr)
	}
	return res, nil
}

// Latest returns the most recent archive of log base among names.
// Names that are not archives are ignored.
func Latest(names []string, base string) (Name, bool) {
	var res Name
	found := false
	for _, s := range names {
		n, err := ParseName(s)
		if err != nil || n.Base != base {
			continue
		}
		if !found || n.Time.After(res.Time) {
			res = n
			found = true
		}
	}
	return res, found
}
