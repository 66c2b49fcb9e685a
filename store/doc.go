/*
Package store is a key-value store kept in memory and persisted to an
append-only log.

Every Set() is appended to the log and fsynced before it's visible to Get().
On Open() the log is replayed to rebuild the index. On Shutdown() the index
is written to a new, compacted log that replaces the old one.

	db, err := store.Open("kv.db", nil)
	if err != nil {
		return err
	}
	err = db.Set("name", "kv")
	v, ok := db.Get("name")
	stats, err := db.Shutdown()
*/
package store
