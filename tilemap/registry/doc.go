// Package registry implements the configuration registry of the tile-map
// generator.
//
// The registry owns an ordered collection of named map configurations,
// mirrors it to a storage.Storage under storage.CollectionKey, and tracks
// which configuration is current and whether it has unsaved edits.
//
// State:
//
//   - configs: ordered, names unique (case-sensitive)
//   - current: name of the active configuration, "" for none
//   - dirty:   true after Add, Update or Edit; reset by Save and Load
//   - selected tile: opaque UI selection, never persisted
//
// Derived views (NameListWithoutCurrentUnsaved, HasConfigs, HasCurrentConfig,
// HasCurrentConfigChanges, CurrentConfig) are pure functions over a State
// snapshot. The Registry methods of the same name call them on a fresh
// snapshot.
//
// Usage:
//
//	reg := registry.New(store)
//	if err := reg.Init(ctx); err != nil {
//		return err
//	}
//
//	if reg.IsKeyAvailable("forest") {
//		_ = reg.Add("forest", 32, 24)
//	}
//	_ = reg.Edit(func(c *registry.Configuration) error {
//		c.Tiles = append(c.Tiles, json.RawMessage(`{"id":1}`))
//		return nil
//	})
//	_ = reg.Save(ctx)
//
// Policy:
//
// Several behaviours are switchable through Policy; see DefaultPolicy for
// the defaults. Registry methods are safe for concurrent use. Subscribers
// are called after the registry lock is released, one event at a time and
// in the order the changes were applied (Event.Seq).
package registry
