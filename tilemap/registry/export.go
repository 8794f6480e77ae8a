package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/wricardo/tilemap-generator/tilemap/export"
)

var errTrailingData = errors.New("unexpected data after configuration")

// ExportConfig renders the current configuration as a 2-space indented JSON
// artifact. Without a current configuration the body is "null".
func (r *Registry) ExportConfig() (export.Artifact, error) {
	cfg, ok := r.CurrentConfig()

	var body any
	if ok {
		body = cfg
	}
	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return export.Artifact{}, fmt.Errorf("marshal export: %w", err)
	}

	return export.Artifact{
		Filename: export.Filename(r.clock()),
		Data:     data,
	}, nil
}

// Export renders the current configuration and hands it to sink.
func (r *Registry) Export(ctx context.Context, sink export.Sink) (export.Artifact, error) {
	a, err := r.ExportConfig()
	if err != nil {
		return export.Artifact{}, err
	}
	if err := sink.Deliver(ctx, a); err != nil {
		return export.Artifact{}, fmt.Errorf("deliver export: %w", err)
	}
	r.logger.Info().
		Str("event", "registry.export").
		Str("file", a.Filename).
		Int("bytes", len(a.Data)).
		Msg("configuration exported")
	return a, nil
}

// ParseImport decodes an exported artifact. The input must hold exactly one
// JSON value.
func ParseImport(rd io.Reader) (Configuration, error) {
	dec := json.NewDecoder(rd)
	var cfg *Configuration
	if err := dec.Decode(&cfg); err != nil {
		return Configuration{}, fmt.Errorf("decode import: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Configuration{}, fmt.Errorf("decode import: %w", errTrailingData)
	}
	if cfg == nil {
		return Configuration{}, ErrEmptyImport
	}
	if cfg.X <= 0 || cfg.Y <= 0 {
		return Configuration{}, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, cfg.X, cfg.Y)
	}
	if err := cfg.normalize(); err != nil {
		return Configuration{}, err
	}
	return *cfg, nil
}
