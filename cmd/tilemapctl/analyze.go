package main

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"
	"github.com/wricardo/tilemap-generator/tilemap/registry"
)

// Analysis summarises one configuration.
type Analysis struct {
	Name     string
	Area     int
	Tiles    int
	Layers   int
	Areas    int
	Fill     float64 // tiles per cell
	Warnings []string
}

// analyzeConfig reports payload size relative to the grid. Tiles are
// expected to number at most one per cell.
func analyzeConfig(c registry.Configuration) Analysis {
	a := Analysis{
		Name:   c.Name,
		Area:   c.X * c.Y,
		Tiles:  len(c.Tiles),
		Layers: len(c.Layers),
		Areas:  len(c.Areas),
	}
	if a.Area > 0 {
		a.Fill = float64(a.Tiles) / float64(a.Area)
	}

	if a.Tiles > a.Area {
		a.Warnings = append(a.Warnings, fmt.Sprintf("%d tiles for %d cells", a.Tiles, a.Area))
	}
	if a.Tiles == 0 {
		a.Warnings = append(a.Warnings, "no tiles placed")
	}
	if a.Layers == 0 && a.Tiles > 0 {
		a.Warnings = append(a.Warnings, "tiles without any layer")
	}
	return a
}

func printAnalysis(w io.Writer, c registry.Configuration, a Analysis) {
	fmt.Fprintf(w, "\n=== %s ===\n", a.Name)
	fmt.Fprintf(w, "Grid Size: %d x %d (%d cells)\n", c.X, c.Y, a.Area)
	fmt.Fprintf(w, "Tiles: %d (%.0f%% of cells)\n", a.Tiles, a.Fill*100)
	fmt.Fprintf(w, "Layers: %d\n", a.Layers)
	fmt.Fprintf(w, "Areas: %d\n", a.Areas)
	if len(a.Warnings) == 0 {
		fmt.Fprintln(w, "✅ No issues found")
		return
	}
	for _, warn := range a.Warnings {
		fmt.Fprintf(w, "⚠️  WARNING: %s\n", warn)
	}
}

func runAnalyze(ctx context.Context, cmd *cli.Command) error {
	reg, closeStore, err := openRegistry(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	out := cmd.Root().Writer
	st := reg.Snapshot()

	only := map[string]bool{}
	for _, name := range cmd.Args().Slice() {
		only[name] = true
	}

	analysed, warnings := 0, 0
	for _, c := range st.Configs {
		if len(only) > 0 && !only[c.Name] {
			continue
		}
		a := analyzeConfig(c)
		printAnalysis(out, c, a)
		analysed++
		warnings += len(a.Warnings)
	}

	fmt.Fprintf(out, "\n%d configurations analysed, %d warnings\n", analysed, warnings)
	return nil
}
