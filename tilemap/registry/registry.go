package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wricardo/tilemap-generator/logging"
	"github.com/wricardo/tilemap-generator/tilemap/storage"
)

// Registry is the configuration store.
type Registry struct {
	store  storage.Storage
	clock  func() time.Time
	logger zerolog.Logger

	mu     sync.RWMutex
	policy Policy
	state  State

	seq uint64 // guarded by mu

	queueMu  sync.Mutex
	queue    []Event
	draining bool

	subsMu  sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// Option configures a Registry.
type Option func(*Registry)

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(r *Registry) { r.policy = p }
}

// WithClock sets the time source used for export filenames.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates an empty registry persisting to store. Call Init to hydrate it.
func New(store storage.Storage, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		clock:  time.Now,
		logger: logging.WithComponent("registry"),
		policy: DefaultPolicy(),
		state:  State{Configs: []Configuration{}},
		subs:   make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the active policy.
func (r *Registry) Policy() Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

// SetPolicy replaces the active policy. Existing state is not revalidated.
func (r *Registry) SetPolicy(p Policy) {
	r.mu.Lock()
	r.policy = p
	r.mu.Unlock()
	r.logger.Info().
		Str("event", "registry.policy_changed").
		Bool("reject_duplicates", p.RejectDuplicates).
		Bool("validate_load", p.ValidateLoad).
		Bool("clear_dirty_on_remove", p.ClearDirtyOnRemove).
		Bool("preserve_import_payload", p.PreserveImportPayload).
		Msg("registry policy updated")
}

// Snapshot returns a deep copy of the current state.
func (r *Registry) Snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.clone()
}

// Init loads the collection from storage, replacing the in-memory list.
// A missing key leaves the collection as it is. Unparseable content is
// logged and treated as an empty collection.
func (r *Registry) Init(ctx context.Context) error {
	raw, ok, err := r.store.Get(ctx, storage.CollectionKey)
	if err != nil {
		return fmt.Errorf("read configurations: %w", err)
	}

	r.mu.Lock()
	if ok {
		r.state.Configs = r.decodeCollection(raw)
	}
	autoload := r.policy.Autoload
	count := len(r.state.Configs)
	r.enqueueLocked(EventInit, "")
	r.mu.Unlock()
	r.flush()

	r.logger.Info().
		Str("event", "registry.init").
		Bool("found", ok).
		Int("configs", count).
		Msg("configurations loaded")

	if autoload != "" {
		if err := r.Load(autoload); err != nil {
			r.logger.Warn().Err(err).Str("name", autoload).Msg("autoload skipped")
		}
	}
	return nil
}

// decodeCollection parses the stored list. Records that would break name
// uniqueness are dropped, keeping the first occurrence.
func (r *Registry) decodeCollection(raw string) []Configuration {
	var loaded []Configuration
	if err := json.Unmarshal([]byte(raw), &loaded); err != nil {
		r.logger.Error().
			Err(err).
			Str("event", "registry.corrupt_storage").
			Int("bytes", len(raw)).
			Msg("stored configurations are unreadable, starting empty")
		return []Configuration{}
	}

	out := make([]Configuration, 0, len(loaded))
	seen := make(map[string]bool, len(loaded))
	for _, c := range loaded {
		if seen[c.Name] {
			r.logger.Warn().
				Str("event", "registry.duplicate_dropped").
				Str("name", c.Name).
				Msg("dropping stored configuration with duplicate name")
			continue
		}
		seen[c.Name] = true
		if err := c.normalize(); err != nil {
			r.logger.Warn().Err(err).Str("name", c.Name).Msg("stored payload not normalized")
		}
		out = append(out, c)
	}
	return out
}

// Load makes name the current configuration and clears the unsaved flag.
func (r *Registry) Load(name string) error {
	r.mu.Lock()
	if r.policy.ValidateLoad && indexOf(r.state.Configs, name) < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConfigNotFound, name)
	}
	r.state.Current = name
	r.state.Dirty = false
	r.enqueueLocked(EventLoad, name)
	r.mu.Unlock()

	r.flush()
	return nil
}

// Add appends an empty configuration, makes it current and marks the
// registry dirty.
func (r *Registry) Add(name string, x, y int) error {
	return r.add(NewConfiguration(name, x, y), EventAdd)
}

// ImportConfig adds cfg under name. Unless the policy preserves the
// payload, only the dimensions of cfg are kept.
func (r *Registry) ImportConfig(name string, cfg Configuration) error {
	c := NewConfiguration(name, cfg.X, cfg.Y)
	if r.Policy().PreserveImportPayload {
		c.Tiles = cloneRaw(cfg.Tiles)
		c.Layers = cloneRaw(cfg.Layers)
		c.Areas = cloneRaw(cfg.Areas)
	}
	return r.add(c, EventImport)
}

func (r *Registry) add(c Configuration, kind EventKind) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := c.normalize(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.policy.RejectDuplicates && indexOf(r.state.Configs, c.Name) >= 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateName, c.Name)
	}
	r.state.Configs = append(r.state.Configs, c)
	r.state.Current = c.Name
	r.state.Dirty = true
	r.enqueueLocked(kind, c.Name)
	r.mu.Unlock()

	r.flush()
	return nil
}

// Remove deletes the current configuration, clears the current name and
// writes the remaining collection to storage. Without a current
// configuration nothing is removed but the collection is still written.
// If the write fails the registry is left unchanged.
func (r *Registry) Remove(ctx context.Context) error {
	r.mu.Lock()
	removed := r.state.Current
	kept := make([]Configuration, 0, len(r.state.Configs))
	for _, c := range r.state.Configs {
		if removed != "" && c.Name == removed {
			continue
		}
		kept = append(kept, c)
	}
	if err := r.persistLocked(ctx, kept); err != nil {
		r.mu.Unlock()
		return err
	}
	r.state.Configs = kept
	r.state.Current = ""
	if r.policy.ClearDirtyOnRemove {
		r.state.Dirty = false
	}
	count := len(kept)
	r.enqueueLocked(EventRemove, removed)
	r.mu.Unlock()

	r.logger.Info().
		Str("event", "registry.remove").
		Str("name", removed).
		Int("configs", count).
		Msg("configuration removed")
	r.flush()
	return nil
}

// Update flags the current configuration as changed. Editors call it after
// mutating a configuration obtained elsewhere; Edit does it implicitly.
func (r *Registry) Update() {
	r.mu.Lock()
	r.state.Dirty = true
	r.enqueueLocked(EventUpdate, r.state.Current)
	r.mu.Unlock()

	r.flush()
}

// Edit applies fn to a copy of the current configuration and, if fn
// succeeds, stores the result and marks the registry dirty. The name cannot
// be changed through Edit.
//
// fn runs without the registry lock held and may call other registry
// methods. If the current configuration changed while fn ran, the edit is
// discarded and ErrEditConflict is returned.
func (r *Registry) Edit(fn func(*Configuration) error) error {
	r.mu.RLock()
	name := r.state.Current
	i := indexOf(r.state.Configs, name)
	if name == "" || i < 0 {
		r.mu.RUnlock()
		return ErrNoCurrentConfig
	}
	base := r.state.Configs[i].Clone()
	r.mu.RUnlock()

	c := base.Clone()
	if err := fn(&c); err != nil {
		return err
	}
	if c.Name != name {
		return fmt.Errorf("%w: rename is not supported by edit", ErrInvalidName)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if err := c.normalize(); err != nil {
		return err
	}

	r.mu.Lock()
	i = indexOf(r.state.Configs, name)
	if r.state.Current != name || i < 0 || !r.state.Configs[i].Equal(base) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEditConflict, name)
	}
	r.state.Configs[i] = c.Clone()
	r.state.Dirty = true
	r.enqueueLocked(EventUpdate, name)
	r.mu.Unlock()

	r.flush()
	return nil
}

// Save writes the whole collection to storage and clears the unsaved flag.
func (r *Registry) Save(ctx context.Context) error {
	r.mu.Lock()
	if err := r.persistLocked(ctx, r.state.Configs); err != nil {
		r.mu.Unlock()
		return err
	}
	r.state.Dirty = false
	count := len(r.state.Configs)
	r.enqueueLocked(EventSave, r.state.Current)
	r.mu.Unlock()

	r.logger.Info().
		Str("event", "registry.save").
		Int("configs", count).
		Msg("configurations saved")
	r.flush()
	return nil
}

// persistLocked writes configs as the stored collection. r.mu must be held.
func (r *Registry) persistLocked(ctx context.Context, configs []Configuration) error {
	data, err := json.Marshal(configs)
	if err != nil {
		return fmt.Errorf("marshal configurations: %w", err)
	}
	if err := r.store.Set(ctx, storage.CollectionKey, string(data)); err != nil {
		r.logger.Error().Err(err).Str("event", "registry.persist_failed").Msg("failed to write configurations")
		return fmt.Errorf("write configurations: %w", err)
	}
	return nil
}

// IsKeyAvailable reports whether no configuration is named name.
func (r *Registry) IsKeyAvailable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return indexOf(r.state.Configs, name) < 0
}

// SelectTile stores the UI tile selection. It is never persisted.
func (r *Registry) SelectTile(id json.RawMessage) {
	r.mu.Lock()
	if id == nil {
		r.state.SelectedTile = nil
	} else {
		r.state.SelectedTile = append(json.RawMessage(nil), id...)
	}
	r.enqueueLocked(EventSelect, r.state.Current)
	r.mu.Unlock()

	r.flush()
}

// SelectedTile returns the current tile selection, nil when none.
func (r *Registry) SelectedTile() json.RawMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state.SelectedTile == nil {
		return nil
	}
	return append(json.RawMessage(nil), r.state.SelectedTile...)
}

func (r *Registry) NameListWithoutCurrentUnsaved() []string {
	return NameListWithoutCurrentUnsaved(r.Snapshot())
}

func (r *Registry) HasConfigs() bool {
	return HasConfigs(r.Snapshot())
}

func (r *Registry) HasCurrentConfig() bool {
	return HasCurrentConfig(r.Snapshot())
}

func (r *Registry) HasCurrentConfigChanges() bool {
	return HasCurrentConfigChanges(r.Snapshot())
}

// CurrentConfig returns a copy of the current configuration.
func (r *Registry) CurrentConfig() (Configuration, bool) {
	return CurrentConfig(r.Snapshot())
}
