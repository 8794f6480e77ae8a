package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wricardo/tilemap-generator/tilemap/storage"
)

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *storage.Memory) {
	t.Helper()
	st := storage.NewMemory()
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	return New(st, opts...), st
}

func storedNames(t *testing.T, st storage.Storage) []string {
	t.Helper()
	raw, ok, err := st.Get(context.Background(), storage.CollectionKey)
	require.NoError(t, err)
	require.True(t, ok, "collection key not written")

	var configs []Configuration
	require.NoError(t, json.Unmarshal([]byte(raw), &configs))
	names := make([]string, 0, len(configs))
	for _, c := range configs {
		names = append(names, c.Name)
	}
	return names
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestNew_InitialState(t *testing.T) {
	reg, _ := newTestRegistry(t)

	assert.False(t, reg.HasConfigs())
	assert.False(t, reg.HasCurrentConfig())
	assert.False(t, reg.HasCurrentConfigChanges())
	assert.Empty(t, reg.NameListWithoutCurrentUnsaved())
	_, ok := reg.CurrentConfig()
	assert.False(t, ok)
}

func TestInit_MissingKeyLeavesEmpty(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Init(context.Background()))
	assert.False(t, reg.HasConfigs())
}

func TestInit_CorruptStorageFallsBackToEmpty(t *testing.T) {
	reg, st := newTestRegistry(t)
	require.NoError(t, st.Set(context.Background(), storage.CollectionKey, "{not json"))

	require.NoError(t, reg.Init(context.Background()))
	assert.False(t, reg.HasConfigs())
}

func TestInit_DropsDuplicateNames(t *testing.T) {
	reg, st := newTestRegistry(t)
	stored := `[{"name":"A","x":1,"y":1,"tiles":[],"layers":[],"areas":[]},` +
		`{"name":"A","x":2,"y":2,"tiles":[],"layers":[],"areas":[]},` +
		`{"name":"B","x":3,"y":3,"tiles":[],"layers":[],"areas":[]}]`
	require.NoError(t, st.Set(context.Background(), storage.CollectionKey, stored))

	require.NoError(t, reg.Init(context.Background()))
	snap := reg.Snapshot()
	require.Len(t, snap.Configs, 2)
	assert.Equal(t, 1, snap.Configs[0].X)
	assert.Equal(t, "B", snap.Configs[1].Name)
}

func TestInit_StorageError(t *testing.T) {
	reg := New(failingStorage{}, WithLogger(zerolog.Nop()))
	err := reg.Init(context.Background())
	assert.ErrorIs(t, err, errStorageDown)
}

func TestInit_Autoload(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	first := New(st, WithLogger(zerolog.Nop()))
	require.NoError(t, first.Add("test", 3, 3))
	require.NoError(t, first.Save(ctx))

	p := DefaultPolicy()
	p.Autoload = "test"
	reg := New(st, WithLogger(zerolog.Nop()), WithPolicy(p))
	require.NoError(t, reg.Init(ctx))

	cfg, ok := reg.CurrentConfig()
	require.True(t, ok)
	assert.Equal(t, "test", cfg.Name)
	assert.False(t, reg.HasCurrentConfigChanges())
}

func TestInit_AutoloadMissingNameIsIgnored(t *testing.T) {
	p := DefaultPolicy()
	p.Autoload = "test"
	reg, _ := newTestRegistry(t, WithPolicy(p))

	require.NoError(t, reg.Init(context.Background()))
	assert.False(t, reg.HasCurrentConfig())
}

func TestAdd_DistinctNamesAllRetrievable(t *testing.T) {
	reg, _ := newTestRegistry(t)

	names := []string{"alpha", "beta", "Alpha", "gamma", "delta"}
	for i, n := range names {
		require.NoError(t, reg.Add(n, i+1, i+2))
	}

	snap := reg.Snapshot()
	require.Len(t, snap.Configs, len(names))
	for i, n := range names {
		require.NoError(t, reg.Load(n))
		cfg, ok := reg.CurrentConfig()
		require.True(t, ok, n)
		assert.Equal(t, n, cfg.Name)
		assert.Equal(t, i+1, cfg.X)
		assert.Equal(t, i+2, cfg.Y)
	}
}

func TestAdd_SetsCurrentWithEmptyPayload(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Add("M", 10, 8))

	cfg, ok := reg.CurrentConfig()
	require.True(t, ok)
	assert.Equal(t, "M", cfg.Name)
	assert.Equal(t, 10, cfg.X)
	assert.Equal(t, 8, cfg.Y)
	assert.Empty(t, cfg.Tiles)
	assert.Empty(t, cfg.Layers)
	assert.Empty(t, cfg.Areas)
	assert.True(t, reg.HasCurrentConfigChanges())
}

func TestAdd_Validation(t *testing.T) {
	reg, _ := newTestRegistry(t)

	assert.ErrorIs(t, reg.Add("", 1, 1), ErrInvalidName)
	assert.ErrorIs(t, reg.Add("zero", 0, 4), ErrInvalidDimensions)
	assert.ErrorIs(t, reg.Add("neg", 4, -1), ErrInvalidDimensions)
	assert.False(t, reg.HasConfigs())
}

func TestAdd_RejectsDuplicateByDefault(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Add("A", 4, 4))

	err := reg.Add("A", 5, 5)
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.Len(t, reg.Snapshot().Configs, 1)
}

func TestAdd_AllowsDuplicateWhenPolicyOff(t *testing.T) {
	p := DefaultPolicy()
	p.RejectDuplicates = false
	reg, _ := newTestRegistry(t, WithPolicy(p))

	require.NoError(t, reg.Add("A", 4, 4))
	require.NoError(t, reg.Add("A", 5, 5))
	assert.Len(t, reg.Snapshot().Configs, 2)
}

func TestNameList_HidesUnsavedCurrent(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.Add("M", 10, 8))
	assert.NotContains(t, reg.NameListWithoutCurrentUnsaved(), "M")

	require.NoError(t, reg.Save(ctx))
	assert.Contains(t, reg.NameListWithoutCurrentUnsaved(), "M")

	reg.Update()
	assert.NotContains(t, reg.NameListWithoutCurrentUnsaved(), "M")
}

func TestSave_Idempotent(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(t)
	require.NoError(t, reg.Add("A", 4, 4))

	require.NoError(t, reg.Save(ctx))
	assert.False(t, reg.HasCurrentConfigChanges())
	first, _, _ := st.Get(ctx, storage.CollectionKey)
	before := reg.Snapshot()

	require.NoError(t, reg.Save(ctx))
	assert.False(t, reg.HasCurrentConfigChanges())
	second, _, _ := st.Get(ctx, storage.CollectionKey)

	assert.Equal(t, first, second)
	if diff := cmp.Diff(before, reg.Snapshot()); diff != "" {
		t.Errorf("state changed on second save (-first +second):\n%s", diff)
	}
}

func TestSave_StorageMatchesSerialization(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(t)
	require.NoError(t, reg.Add("A", 4, 4))
	require.NoError(t, reg.Save(ctx))

	got, _, err := st.Get(ctx, storage.CollectionKey)
	require.NoError(t, err)
	assert.Equal(t, `[{"name":"A","x":4,"y":4,"tiles":[],"layers":[],"areas":[]}]`, got)
}

func TestSave_FailureKeepsDirty(t *testing.T) {
	reg := New(failingStorage{}, WithLogger(zerolog.Nop()))
	require.NoError(t, reg.Add("A", 1, 1))

	assert.ErrorIs(t, reg.Save(context.Background()), errStorageDown)
	assert.True(t, reg.HasCurrentConfigChanges())
}

func TestRemove_FailureLeavesRegistryUnchanged(t *testing.T) {
	ctx := context.Background()
	st := &switchableStorage{Memory: storage.NewMemory()}
	reg := New(st, WithLogger(zerolog.Nop()))
	require.NoError(t, reg.Add("A", 1, 1))
	require.NoError(t, reg.Save(ctx))

	var kinds []EventKind
	reg.Subscribe(func(e Event) { kinds = append(kinds, e.Kind) })

	st.fail = true
	assert.ErrorIs(t, reg.Remove(ctx), errStorageDown)

	snap := reg.Snapshot()
	require.Len(t, snap.Configs, 1)
	assert.Equal(t, "A", snap.Current)
	assert.False(t, snap.Dirty)
	assert.Equal(t, []string{"A"}, storedNames(t, st))
	assert.Empty(t, kinds)

	st.fail = false
	require.NoError(t, reg.Remove(ctx))
	assert.Empty(t, storedNames(t, st))
	assert.Equal(t, []EventKind{EventRemove}, kinds)
}

func TestInit_RoundTripsSavedCollection(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(t)

	require.NoError(t, reg.Add("first", 4, 4))
	require.NoError(t, reg.Edit(func(c *Configuration) error {
		c.Tiles = []json.RawMessage{raw(`{"id": 1, "kind": "grass"}`), raw(`2`)}
		c.Layers = []json.RawMessage{raw(`["base", null]`)}
		c.Areas = []json.RawMessage{raw(`{"x":0,"y":0,"w":2,"h":2,"tags":{"safe":true}}`)}
		return nil
	}))
	require.NoError(t, reg.Add("second", 8, 2))
	require.NoError(t, reg.Add("third", 1, 99))
	require.NoError(t, reg.Save(ctx))

	want := reg.Snapshot().Configs

	reloaded := New(st, WithLogger(zerolog.Nop()))
	require.NoError(t, reloaded.Init(ctx))

	if diff := cmp.Diff(want, reloaded.Snapshot().Configs); diff != "" {
		t.Errorf("collection mismatch after init (-saved +loaded):\n%s", diff)
	}
}

func TestLoad_ClearsDirty(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Add("A", 1, 1))
	require.NoError(t, reg.Add("B", 1, 1))

	require.NoError(t, reg.Load("A"))
	assert.False(t, reg.HasCurrentConfigChanges())
	cfg, ok := reg.CurrentConfig()
	require.True(t, ok)
	assert.Equal(t, "A", cfg.Name)
}

func TestLoad_UnknownNameRejectedByDefault(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Add("A", 1, 1))

	err := reg.Load("missing")
	assert.ErrorIs(t, err, ErrConfigNotFound)
	cfg, ok := reg.CurrentConfig()
	require.True(t, ok)
	assert.Equal(t, "A", cfg.Name)
	assert.True(t, reg.HasCurrentConfigChanges())
}

func TestLoad_DanglingNameWhenValidationOff(t *testing.T) {
	p := DefaultPolicy()
	p.ValidateLoad = false
	reg, _ := newTestRegistry(t, WithPolicy(p))

	require.NoError(t, reg.Load("missing"))
	assert.True(t, reg.HasCurrentConfig())
	_, ok := reg.CurrentConfig()
	assert.False(t, ok)
}

func TestRemove_ScenarioKeepsSavedConfig(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(t)

	require.NoError(t, reg.Add("A", 4, 4))
	require.NoError(t, reg.Save(ctx))
	require.NoError(t, reg.Add("B", 6, 6))
	require.NoError(t, reg.Remove(ctx))

	assert.False(t, reg.HasCurrentConfig())
	snap := reg.Snapshot()
	require.Len(t, snap.Configs, 1)
	assert.Equal(t, "A", snap.Configs[0].Name)
	assert.Equal(t, []string{"A"}, storedNames(t, st))
}

func TestRemove_FreesName(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Add("gone", 2, 2))
	require.False(t, reg.IsKeyAvailable("gone"))

	require.NoError(t, reg.Remove(ctx))
	assert.True(t, reg.IsKeyAvailable("gone"))
}

func TestRemove_KeepsDirtyFlagByDefault(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Add("A", 2, 2))
	require.NoError(t, reg.Remove(context.Background()))

	assert.True(t, reg.HasCurrentConfigChanges())
}

func TestRemove_ClearsDirtyWhenPolicyOn(t *testing.T) {
	p := DefaultPolicy()
	p.ClearDirtyOnRemove = true
	reg, _ := newTestRegistry(t, WithPolicy(p))
	require.NoError(t, reg.Add("A", 2, 2))
	require.NoError(t, reg.Remove(context.Background()))

	assert.False(t, reg.HasCurrentConfigChanges())
}

func TestRemove_WithoutCurrentIsNoop(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(t)
	require.NoError(t, reg.Add("A", 2, 2))
	require.NoError(t, reg.Save(ctx))
	require.NoError(t, reg.Remove(ctx))
	require.NoError(t, reg.Add("B", 2, 2))
	require.NoError(t, reg.Save(ctx))
	require.NoError(t, reg.Remove(ctx))

	require.NoError(t, reg.Remove(ctx))
	assert.Empty(t, reg.Snapshot().Configs)
	assert.Empty(t, storedNames(t, st))
}

func TestUpdate_MarksDirty(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Add("A", 2, 2))
	require.NoError(t, reg.Save(ctx))

	reg.Update()
	assert.True(t, reg.HasCurrentConfigChanges())
}

func TestEdit(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	err := reg.Edit(func(c *Configuration) error { return nil })
	assert.ErrorIs(t, err, ErrNoCurrentConfig)

	require.NoError(t, reg.Add("A", 2, 2))
	require.NoError(t, reg.Save(ctx))

	require.NoError(t, reg.Edit(func(c *Configuration) error {
		c.Tiles = append(c.Tiles, raw(`7`))
		c.X = 3
		return nil
	}))
	assert.True(t, reg.HasCurrentConfigChanges())
	cfg, _ := reg.CurrentConfig()
	assert.Equal(t, 3, cfg.X)
	assert.Equal(t, []json.RawMessage{raw(`7`)}, cfg.Tiles)
}

func TestEdit_RejectsInvalidChanges(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Add("A", 2, 2))
	require.NoError(t, reg.Save(context.Background()))

	boom := errors.New("boom")
	tests := []struct {
		name string
		fn   func(*Configuration) error
		want error
	}{
		{name: "callback error", fn: func(c *Configuration) error { return boom }, want: boom},
		{name: "rename", fn: func(c *Configuration) error { c.Name = "B"; return nil }, want: ErrInvalidName},
		{name: "zero width", fn: func(c *Configuration) error { c.X = 0; return nil }, want: ErrInvalidDimensions},
		{name: "bad payload", fn: func(c *Configuration) error { c.Areas = []json.RawMessage{raw(`{`)}; return nil }, want: ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, reg.Edit(tt.fn), tt.want)
			cfg, _ := reg.CurrentConfig()
			assert.Equal(t, "A", cfg.Name)
			assert.Equal(t, 2, cfg.X)
			assert.Empty(t, cfg.Areas)
			assert.False(t, reg.HasCurrentConfigChanges())
		})
	}
}

func TestEdit_DoesNotLeakCallerReferences(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Add("A", 2, 2))

	var kept *Configuration
	require.NoError(t, reg.Edit(func(c *Configuration) error {
		c.Tiles = []json.RawMessage{raw(`1`)}
		kept = c
		return nil
	}))
	kept.Tiles[0] = raw(`999`)

	cfg, _ := reg.CurrentConfig()
	assert.Equal(t, raw(`1`), cfg.Tiles[0])
}

func TestEdit_CallbackMayUseRegistry(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Add("A", 2, 2))

	done := make(chan error, 1)
	go func() {
		done <- reg.Edit(func(c *Configuration) error {
			if reg.IsKeyAvailable(c.Name) {
				return errors.New("current name reported free")
			}
			reg.Update()
			c.Tiles = []json.RawMessage{raw(`5`)}
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Edit did not return")
	}
	cfg, _ := reg.CurrentConfig()
	assert.Equal(t, []json.RawMessage{raw(`5`)}, cfg.Tiles)
}

func TestEdit_ConflictingChangeIsRejected(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Add("A", 2, 2))

	err := reg.Edit(func(c *Configuration) error {
		require.NoError(t, reg.Edit(func(inner *Configuration) error {
			inner.X = 9
			return nil
		}))
		c.Tiles = []json.RawMessage{raw(`1`)}
		return nil
	})
	assert.ErrorIs(t, err, ErrEditConflict)

	cfg, _ := reg.CurrentConfig()
	assert.Equal(t, 9, cfg.X)
	assert.Empty(t, cfg.Tiles)
}

func TestEdit_CurrentChangedDuringCallback(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Add("A", 2, 2))
	require.NoError(t, reg.Add("B", 2, 2))
	require.NoError(t, reg.Load("A"))

	err := reg.Edit(func(c *Configuration) error {
		require.NoError(t, reg.Load("B"))
		c.X = 4
		return nil
	})
	assert.ErrorIs(t, err, ErrEditConflict)

	for _, c := range reg.Snapshot().Configs {
		assert.Equal(t, 2, c.X, c.Name)
	}
}

func TestImportConfig_DiscardsPayload(t *testing.T) {
	// Import copies name and geometry only; the imported tiles are dropped.
	reg, _ := newTestRegistry(t)

	imported := Configuration{X: 5, Y: 5, Tiles: []json.RawMessage{raw(`1`), raw(`2`), raw(`3`)}}
	require.NoError(t, reg.ImportConfig("N", imported))

	cfg, ok := reg.CurrentConfig()
	require.True(t, ok)
	assert.Equal(t, "N", cfg.Name)
	assert.Equal(t, 5, cfg.X)
	assert.Equal(t, 5, cfg.Y)
	assert.Empty(t, cfg.Tiles)
	assert.NotNil(t, cfg.Tiles)
	assert.True(t, reg.HasCurrentConfigChanges())
}

func TestImportConfig_PreservesPayloadWhenPolicyOn(t *testing.T) {
	p := DefaultPolicy()
	p.PreserveImportPayload = true
	reg, _ := newTestRegistry(t, WithPolicy(p))

	imported := Configuration{
		X: 5, Y: 5,
		Tiles:  []json.RawMessage{raw(`1`)},
		Layers: []json.RawMessage{raw(`"l"`)},
	}
	require.NoError(t, reg.ImportConfig("N", imported))

	cfg, _ := reg.CurrentConfig()
	assert.Equal(t, []json.RawMessage{raw(`1`)}, cfg.Tiles)
	assert.Equal(t, []json.RawMessage{raw(`"l"`)}, cfg.Layers)
	assert.Empty(t, cfg.Areas)
}

func TestImportConfig_DuplicateName(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Add("N", 1, 1))
	assert.ErrorIs(t, reg.ImportConfig("N", Configuration{X: 2, Y: 2}), ErrDuplicateName)
}

func TestSelectTile_NotPersisted(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(t)
	require.NoError(t, reg.Add("A", 1, 1))

	reg.SelectTile(raw(`42`))
	assert.Equal(t, raw(`42`), reg.SelectedTile())
	require.NoError(t, reg.Save(ctx))

	stored, _, _ := st.Get(ctx, storage.CollectionKey)
	assert.NotContains(t, stored, "42")

	reg.SelectTile(nil)
	assert.Nil(t, reg.SelectedTile())
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	var kinds []EventKind
	unsubscribe := reg.Subscribe(func(e Event) {
		kinds = append(kinds, e.Kind)
	})

	require.NoError(t, reg.Add("A", 1, 1))
	reg.Update()
	require.NoError(t, reg.Save(ctx))
	require.NoError(t, reg.Load("A"))
	require.NoError(t, reg.Remove(ctx))
	unsubscribe()
	require.NoError(t, reg.Add("B", 1, 1))

	assert.Equal(t, []EventKind{EventAdd, EventUpdate, EventSave, EventLoad, EventRemove}, kinds)
}

func TestSubscribe_CanReadRegistry(t *testing.T) {
	reg, _ := newTestRegistry(t)

	var seen []string
	reg.Subscribe(func(e Event) {
		// Subscribers run outside the lock and may call back in.
		seen = append(seen, fmt.Sprintf("%s:%v", e.Name, reg.IsKeyAvailable(e.Name)))
	})
	require.NoError(t, reg.Add("A", 1, 1))

	assert.Equal(t, []string{"A:false"}, seen)
}

func TestSubscribe_SequenceIncreases(t *testing.T) {
	reg, _ := newTestRegistry(t)

	var seqs []uint64
	reg.Subscribe(func(e Event) { seqs = append(seqs, e.Seq) })
	require.NoError(t, reg.Add("A", 1, 1))
	reg.Update()
	require.NoError(t, reg.Save(context.Background()))

	assert.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestSubscribe_DeliversInApplyOrder(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	release := make(chan struct{})
	var mu sync.Mutex
	var seen []Event
	reg.Subscribe(func(e Event) {
		mu.Lock()
		seen = append(seen, e)
		first := len(seen) == 1
		mu.Unlock()
		if first {
			<-release
		}
	})

	addDone := make(chan error, 1)
	go func() { addDone <- reg.Add("A", 1, 1) }()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 2*time.Second, time.Millisecond)

	// The add event is still being delivered while Save completes.
	require.NoError(t, reg.Save(ctx))
	close(release)
	require.NoError(t, <-addDone)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, EventAdd, seen[0].Kind)
	assert.Equal(t, EventSave, seen[1].Kind)
	assert.Less(t, seen[0].Seq, seen[1].Seq)
	assert.Equal(t, reg.HasCurrentConfigChanges(), seen[1].State.Dirty)
}

func TestSubscribe_MayMutateRegistry(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(t)

	var kinds []EventKind
	reg.Subscribe(func(e Event) {
		kinds = append(kinds, e.Kind)
		if e.Kind == EventAdd {
			require.NoError(t, reg.Save(ctx))
		}
	})
	require.NoError(t, reg.Add("A", 1, 1))

	assert.Equal(t, []EventKind{EventAdd, EventSave}, kinds)
	assert.Equal(t, []string{"A"}, storedNames(t, st))
	assert.False(t, reg.HasCurrentConfigChanges())
}

func TestRegistry_ConcurrentAdds(t *testing.T) {
	reg, _ := newTestRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every name is attempted twice; exactly one attempt may win.
			_ = reg.Add(fmt.Sprintf("cfg-%d", i%25), 1, 1)
		}(i)
	}
	wg.Wait()

	snap := reg.Snapshot()
	assert.Len(t, snap.Configs, 25)
	seen := map[string]bool{}
	for _, c := range snap.Configs {
		assert.False(t, seen[c.Name], "duplicate %s", c.Name)
		seen[c.Name] = true
	}
}

func TestSetPolicy(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Add("A", 1, 1))

	p := reg.Policy()
	p.RejectDuplicates = false
	reg.SetPolicy(p)

	require.NoError(t, reg.Add("A", 1, 1))
	assert.False(t, reg.Policy().RejectDuplicates)
}

func TestViews_PureFunctions(t *testing.T) {
	s := State{
		Configs: []Configuration{NewConfiguration("A", 1, 1), NewConfiguration("B", 2, 2)},
		Current: "B",
		Dirty:   true,
	}

	assert.True(t, HasConfigs(s))
	assert.True(t, HasCurrentConfig(s))
	assert.True(t, HasCurrentConfigChanges(s))
	assert.Equal(t, []string{"A"}, NameListWithoutCurrentUnsaved(s))
	cfg, ok := CurrentConfig(s)
	require.True(t, ok)
	assert.Equal(t, 2, cfg.X)

	s.Dirty = false
	assert.Equal(t, []string{"A", "B"}, NameListWithoutCurrentUnsaved(s))

	s.Current = ""
	_, ok = CurrentConfig(s)
	assert.False(t, ok)
	assert.False(t, HasCurrentConfig(State{}))
	assert.False(t, HasConfigs(State{}))
}

func TestConfiguration_MarshalNilPayload(t *testing.T) {
	data, err := json.Marshal(Configuration{Name: "A", X: 1, Y: 2})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"A","x":1,"y":2,"tiles":[],"layers":[],"areas":[]}`, string(data))
	assert.False(t, strings.Contains(string(data), "null"))
}

var errStorageDown = errors.New("storage down")

type failingStorage struct{}

func (failingStorage) Get(context.Context, string) (string, bool, error) {
	return "", false, errStorageDown
}

func (failingStorage) Set(context.Context, string, string) error {
	return errStorageDown
}

func (failingStorage) Close() error { return nil }

// switchableStorage fails writes while fail is set.
type switchableStorage struct {
	*storage.Memory
	fail bool
}

func (s *switchableStorage) Set(ctx context.Context, key, value string) error {
	if s.fail {
		return errStorageDown
	}
	return s.Memory.Set(ctx, key, value)
}
