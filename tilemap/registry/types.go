package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrDuplicateName     = errors.New("configuration name already in use")
	ErrConfigNotFound    = errors.New("configuration not found")
	ErrNoCurrentConfig   = errors.New("no current configuration")
	ErrInvalidName       = errors.New("invalid configuration name")
	ErrInvalidDimensions = errors.New("invalid configuration dimensions")
	ErrInvalidPayload    = errors.New("invalid configuration payload")
	ErrEmptyImport       = errors.New("imported file holds no configuration")
	ErrEditConflict      = errors.New("configuration changed during edit")
)

// Configuration is a named tile-map definition. Tiles, layers and areas are
// opaque JSON values owned by the editor.
type Configuration struct {
	Name   string            `json:"name"`
	X      int               `json:"x"`
	Y      int               `json:"y"`
	Tiles  []json.RawMessage `json:"tiles"`
	Layers []json.RawMessage `json:"layers"`
	Areas  []json.RawMessage `json:"areas"`
}

// NewConfiguration returns a configuration with empty payload.
func NewConfiguration(name string, x, y int) Configuration {
	return Configuration{
		Name:   name,
		X:      x,
		Y:      y,
		Tiles:  []json.RawMessage{},
		Layers: []json.RawMessage{},
		Areas:  []json.RawMessage{},
	}
}

// MarshalJSON always writes payload sequences as arrays, never null.
func (c Configuration) MarshalJSON() ([]byte, error) {
	type plain Configuration
	p := plain(c)
	if p.Tiles == nil {
		p.Tiles = []json.RawMessage{}
	}
	if p.Layers == nil {
		p.Layers = []json.RawMessage{}
	}
	if p.Areas == nil {
		p.Areas = []json.RawMessage{}
	}
	return json.Marshal(p)
}

// Clone returns a deep copy.
func (c Configuration) Clone() Configuration {
	out := c
	out.Tiles = cloneRaw(c.Tiles)
	out.Layers = cloneRaw(c.Layers)
	out.Areas = cloneRaw(c.Areas)
	return out
}

// Equal reports whether c and o hold the same name, dimensions and payload
// bytes.
func (c Configuration) Equal(o Configuration) bool {
	return c.Name == o.Name && c.X == o.X && c.Y == o.Y &&
		equalRaw(c.Tiles, o.Tiles) &&
		equalRaw(c.Layers, o.Layers) &&
		equalRaw(c.Areas, o.Areas)
}

func equalRaw(a, b []json.RawMessage) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Validate checks name and dimensions.
func (c Configuration) Validate() error {
	if c.Name == "" {
		return ErrInvalidName
	}
	if c.X <= 0 || c.Y <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, c.X, c.Y)
	}
	return nil
}

// normalize compacts every payload element and replaces nil sequences with
// empty ones, so a stored collection reads back identical.
func (c *Configuration) normalize() error {
	var err error
	if c.Tiles, err = compactRaw(c.Tiles); err != nil {
		return fmt.Errorf("%w: tiles: %v", ErrInvalidPayload, err)
	}
	if c.Layers, err = compactRaw(c.Layers); err != nil {
		return fmt.Errorf("%w: layers: %v", ErrInvalidPayload, err)
	}
	if c.Areas, err = compactRaw(c.Areas); err != nil {
		return fmt.Errorf("%w: areas: %v", ErrInvalidPayload, err)
	}
	return nil
}

func cloneRaw(in []json.RawMessage) []json.RawMessage {
	if in == nil {
		return []json.RawMessage{}
	}
	out := make([]json.RawMessage, len(in))
	for i, m := range in {
		out[i] = append(json.RawMessage(nil), m...)
	}
	return out
}

func compactRaw(in []json.RawMessage) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(in))
	for i, m := range in {
		var buf bytes.Buffer
		if err := json.Compact(&buf, m); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = json.RawMessage(buf.Bytes())
	}
	return out, nil
}

// Policy switches behaviours whose intended semantics are product decisions.
type Policy struct {
	// RejectDuplicates makes Add and ImportConfig fail with ErrDuplicateName
	// instead of appending a second record with the same name.
	RejectDuplicates bool `yaml:"reject_duplicates" json:"reject_duplicates"`

	// ValidateLoad makes Load fail with ErrConfigNotFound for unknown names
	// instead of leaving a dangling current name.
	ValidateLoad bool `yaml:"validate_load" json:"validate_load"`

	// ClearDirtyOnRemove resets the unsaved-changes flag in Remove.
	ClearDirtyOnRemove bool `yaml:"clear_dirty_on_remove" json:"clear_dirty_on_remove"`

	// PreserveImportPayload keeps tiles, layers and areas of an imported
	// configuration. When false only name and dimensions are imported.
	PreserveImportPayload bool `yaml:"preserve_import_payload" json:"preserve_import_payload"`

	// Autoload names a configuration loaded right after Init. Debug aid.
	Autoload string `yaml:"autoload" json:"autoload,omitempty"`
}

// DefaultPolicy keeps the collection consistent (no duplicates, no dangling
// current name) and otherwise matches the editor's historical behaviour.
func DefaultPolicy() Policy {
	return Policy{
		RejectDuplicates: true,
		ValidateLoad:     true,
	}
}

// State is an immutable snapshot of the registry.
type State struct {
	Configs      []Configuration `json:"configs"`
	Current      string          `json:"current,omitempty"`
	Dirty        bool            `json:"dirty"`
	SelectedTile json.RawMessage `json:"selected_tile,omitempty"`
}

func (s State) clone() State {
	out := State{
		Configs: make([]Configuration, len(s.Configs)),
		Current: s.Current,
		Dirty:   s.Dirty,
	}
	for i, c := range s.Configs {
		out.Configs[i] = c.Clone()
	}
	if s.SelectedTile != nil {
		out.SelectedTile = append(json.RawMessage(nil), s.SelectedTile...)
	}
	return out
}
