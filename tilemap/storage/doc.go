// Package storage provides the durable key-value medium behind the
// configuration registry.
//
// A Storage holds string values under string keys. The registry only ever
// uses one key (CollectionKey) whose value is the JSON array of all
// configurations, but backends are general.
//
// Backends:
//   - memory: process-local map, lost on exit
//   - file:   one file per key in a directory, atomic replace on write
//   - sqlite: single "kv" table in a SQLite database (WAL mode)
//   - badger: embedded Badger key-value store, on disk or in memory
//   - redis:  Redis server, optional key prefix
//
// Usage:
//
//	st, err := storage.Open(storage.Options{Backend: "file", Path: "data"})
//	if err != nil {
//		return err
//	}
//	defer st.Close()
//
//	raw, ok, err := st.Get(ctx, storage.CollectionKey)
package storage
