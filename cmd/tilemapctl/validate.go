package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ValidationResult captures the outcome of validating a single export file.
// If Valid is true, Messages holds informational lines; otherwise it
// accumulates the problems that were found.
type ValidationResult struct {
	File     string
	Valid    bool
	Messages []string
}

func (r *ValidationResult) fail(format string, args ...interface{}) {
	r.Valid = false
	r.Messages = append(r.Messages, fmt.Sprintf(format, args...))
}

// exportFile mirrors an export artifact loosely so that wrong types are
// reported instead of failing the whole decode.
type exportFile struct {
	Name   *string         `json:"name"`
	X      json.RawMessage `json:"x"`
	Y      json.RawMessage `json:"y"`
	Tiles  json.RawMessage `json:"tiles"`
	Layers json.RawMessage `json:"layers"`
	Areas  json.RawMessage `json:"areas"`
}

// validateExport checks that filePath holds a configuration that import
// would accept: a JSON object with positive integer dimensions and array
// payloads.
func validateExport(filePath string) ValidationResult {
	result := ValidationResult{
		File:     filepath.Base(filePath),
		Valid:    true,
		Messages: []string{},
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.fail("Failed to read file: %v", err)
		return result
	}

	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		result.fail("File holds no configuration (null)")
		return result
	}

	var f exportFile
	if err := json.Unmarshal(trimmed, &f); err != nil {
		result.fail("Invalid JSON: %v", err)
		return result
	}

	x := dimension(&result, "x", f.X)
	y := dimension(&result, "y", f.Y)

	counts := map[string]int{}
	for _, p := range []struct {
		key string
		raw json.RawMessage
	}{
		{"tiles", f.Tiles},
		{"layers", f.Layers},
		{"areas", f.Areas},
	} {
		if len(p.raw) == 0 || bytes.Equal(p.raw, []byte("null")) {
			counts[p.key] = 0
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(p.raw, &items); err != nil {
			result.fail("%s must be an array", p.key)
			continue
		}
		counts[p.key] = len(items)
	}

	if result.Valid {
		name := "(none)"
		if f.Name != nil && *f.Name != "" {
			name = *f.Name
		}
		result.Messages = append(result.Messages,
			fmt.Sprintf("✓ Name: %s", name),
			fmt.Sprintf("✓ Size: %dx%d", x, y),
			fmt.Sprintf("✓ Tiles: %d", counts["tiles"]),
			fmt.Sprintf("✓ Layers: %d", counts["layers"]),
			fmt.Sprintf("✓ Areas: %d", counts["areas"]),
		)
	}
	return result
}

func dimension(result *ValidationResult, key string, raw json.RawMessage) int {
	if len(raw) == 0 {
		result.fail("Missing %s", key)
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		result.fail("%s must be an integer, got %s", key, raw)
		return 0
	}
	if n <= 0 {
		result.fail("%s must be positive, got %d", key, n)
	}
	return n
}
