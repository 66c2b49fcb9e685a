package store

import (
	"iter"
	"maps"
)

// Index maps keys to their latest values.
// Not safe for concurrent use.
type Index struct {
	m map[string]string
}

func NewIndex() *Index {
	return &Index{
		m: map[string]string{},
	}
}

func (i *Index) Get(key string) (string, bool) {
	v, ok := i.m[key]
	return v, ok
}

// Set inserts or overwrites the value for key
func (i *Index) Set(key, value string) {
	i.m[key] = value
}

func (i *Index) Len() int {
	return len(i.m)
}

// All iterates over all key / value pairs in unspecified order
func (i *Index) All() iter.Seq2[string, string] {
	return maps.All(i.m)
}
