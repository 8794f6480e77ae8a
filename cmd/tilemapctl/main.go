// Command tilemapctl inspects and edits a stored tile-map configuration
// collection without running the server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"
	"github.com/wricardo/tilemap-generator/logging"
	"github.com/wricardo/tilemap-generator/settings"
	"github.com/wricardo/tilemap-generator/tilemap/export"
	"github.com/wricardo/tilemap-generator/tilemap/registry"
	"github.com/wricardo/tilemap-generator/tilemap/storage"
)

var errInvalidFiles = errors.New("some files have errors")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Configure(logging.Config{Level: "warn", Service: "tilemapctl"})

	if err := newApp(os.Stdout).Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "tilemapctl: %v\n", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:   "tilemapctl",
		Usage:  "manage stored tile-map configurations",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "settings YAML file",
			},
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "storage backend (memory, file, sqlite, badger, redis)",
				Sources: cli.EnvVars("TILEMAP_STORAGE_BACKEND"),
			},
			&cli.StringFlag{
				Name:    "path",
				Usage:   "storage directory or sqlite file",
				Sources: cli.EnvVars("TILEMAP_STORAGE_PATH"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "redis host:port",
				Sources: cli.EnvVars("TILEMAP_REDIS_ADDR"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "list stored configurations",
				Action: runList,
			},
			{
				Name:      "show",
				Usage:     "print one stored configuration",
				ArgsUsage: "<name>",
				Action:    runShow,
			},
			{
				Name:      "analyze",
				Usage:     "summarise payload size against grid dimensions",
				ArgsUsage: "[name]...",
				Action:    runAnalyze,
			},
			{
				Name:      "validate",
				Usage:     "check export files before importing them",
				ArgsUsage: "<file>...",
				Action:    runValidate,
			},
			{
				Name:      "export",
				Usage:     "write a stored configuration as an export file",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "out",
						Value: ".",
						Usage: "destination directory",
					},
				},
				Action: runExport,
			},
			{
				Name:      "import",
				Usage:     "import an export file under a new name and save",
				ArgsUsage: "<name> <file>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "keep-payload",
						Usage: "keep tiles, layers and areas instead of only the dimensions",
					},
				},
				Action: runImport,
			},
		},
	}
}

// openRegistry resolves storage settings (file, env, then flags) and
// returns an initialised registry.
func openRegistry(ctx context.Context, cmd *cli.Command) (*registry.Registry, func() error, error) {
	cfg, err := settings.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if v := cmd.String("backend"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := cmd.String("path"); v != "" {
		cfg.Storage.Path = v
	}
	if v := cmd.String("redis-addr"); v != "" {
		cfg.Storage.RedisAddr = v
	}

	store, err := storage.Open(cfg.Storage.Options())
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}

	reg := registry.New(store, registry.WithPolicy(cfg.Registry))
	if err := reg.Init(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return reg, store.Close, nil
}

func runList(ctx context.Context, cmd *cli.Command) error {
	reg, closeStore, err := openRegistry(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	out := cmd.Root().Writer
	st := reg.Snapshot()
	if len(st.Configs) == 0 {
		fmt.Fprintln(out, "no configurations stored")
		return nil
	}
	for _, c := range st.Configs {
		fmt.Fprintf(out, "%-24s %4dx%-4d tiles=%d layers=%d areas=%d\n",
			c.Name, c.X, c.Y, len(c.Tiles), len(c.Layers), len(c.Areas))
	}
	return nil
}

func runShow(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return errors.New("show requires a configuration name")
	}

	reg, closeStore, err := openRegistry(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := reg.Load(name); err != nil {
		return err
	}
	a, err := reg.ExportConfig()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "%s\n", a.Data)
	return nil
}

func runValidate(ctx context.Context, cmd *cli.Command) error {
	files := cmd.Args().Slice()
	if len(files) == 0 {
		return errors.New("validate requires at least one file")
	}

	out := cmd.Root().Writer
	allValid := true
	for _, file := range files {
		result := validateExport(file)

		fmt.Fprintf(out, "\n%s %s\n", strings.Repeat("=", 20), result.File)
		if result.Valid {
			fmt.Fprintln(out, "✅ VALID")
			for _, info := range result.Messages {
				fmt.Fprintln(out, "  "+info)
			}
			continue
		}
		allValid = false
		fmt.Fprintln(out, "❌ INVALID")
		for _, msg := range result.Messages {
			fmt.Fprintln(out, "  ❌ "+msg)
		}
	}

	fmt.Fprintf(out, "\n%s\n", strings.Repeat("=", 40))
	if !allValid {
		fmt.Fprintln(out, "❌ Some files have errors")
		return errInvalidFiles
	}
	fmt.Fprintln(out, "✅ All files are valid!")
	return nil
}

func runExport(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return errors.New("export requires a configuration name")
	}

	reg, closeStore, err := openRegistry(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := reg.Load(name); err != nil {
		return err
	}
	sink, err := export.NewDirSink(cmd.String("out"))
	if err != nil {
		return err
	}
	a, err := reg.Export(ctx, sink)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "exported %s to %s\n", name, a.Filename)
	return nil
}

func runImport(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return errors.New("import requires <name> <file>")
	}
	name, file := cmd.Args().Get(0), cmd.Args().Get(1)

	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	cfg, err := registry.ParseImport(f)
	if err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}

	reg, closeStore, err := openRegistry(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	if cmd.Bool("keep-payload") {
		p := reg.Policy()
		p.PreserveImportPayload = true
		reg.SetPolicy(p)
	}
	if err := reg.ImportConfig(name, cfg); err != nil {
		return err
	}
	if err := reg.Save(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "imported %s as %s\n", file, name)
	return nil
}
