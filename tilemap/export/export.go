// Package export names and delivers exported configuration artifacts.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

const (
	// FilePrefix starts every exported artifact name.
	FilePrefix = "tilemap-generator-config_"

	// FileExt is the artifact extension.
	FileExt = ".json"

	// ContentType of the artifact body.
	ContentType = "application/json"

	timestampLayout = "20060102-150405"
)

// Artifact is a downloadable export: suggested filename plus body.
type Artifact struct {
	Filename string
	Data     []byte
}

// Filename returns the artifact name for t, rendered in t's location.
func Filename(t time.Time) string {
	return FilePrefix + t.Format(timestampLayout) + FileExt
}

// Sink accepts artifacts for delivery to the user.
type Sink interface {
	Deliver(ctx context.Context, a Artifact) error
}

// DirSink writes artifacts into a directory, replacing files atomically.
type DirSink struct {
	Dir string
}

// NewDirSink creates the directory if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	return &DirSink{Dir: dir}, nil
}

// Deliver writes a.Data to Dir/a.Filename.
func (s *DirSink) Deliver(_ context.Context, a Artifact) error {
	if a.Filename == "" || filepath.Base(a.Filename) != a.Filename {
		return fmt.Errorf("invalid artifact filename %q", a.Filename)
	}
	if err := renameio.WriteFile(filepath.Join(s.Dir, a.Filename), a.Data, 0644); err != nil {
		return fmt.Errorf("write export artifact: %w", err)
	}
	return nil
}

// MemorySink keeps delivered artifacts in memory.
type MemorySink struct {
	mu        sync.Mutex
	artifacts []Artifact
}

func (s *MemorySink) Deliver(_ context.Context, a Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, a)
	return nil
}

// Artifacts returns a copy of everything delivered so far.
func (s *MemorySink) Artifacts() []Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Artifact, len(s.artifacts))
	copy(out, s.artifacts)
	return out
}
