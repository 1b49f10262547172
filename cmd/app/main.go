package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/tape/internal"
	"github.com/starford/tape/internal/hotlist"
	"github.com/starford/tape/internal/report"
	"github.com/starford/tape/internal/storage"
	"github.com/starford/tape/internal/tree"
	pkgconfig "github.com/starford/tape/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.RunMCP(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("mcp run error: %w", err)
	}
	return nil
}

func argFile(cmd *cli.Command) (string, error) {
	if cmd.Args().Len() != 1 {
		return "", fmt.Errorf("%s: expected exactly one file argument", cmd.Name)
	}
	return cmd.Args().First(), nil
}

// writeFile writes data atomically next to its final path, creating the
// directory when missing. An existing file is kept unless overwrite is set.
func writeFile(path string, data []byte, overwrite bool) error {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	if err := storage.EnsureDir(dir); err != nil {
		return err
	}
	store, err := storage.NewFS(dir)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := store.Stat(name); err == nil {
			return fmt.Errorf("%s exists, use --force to overwrite", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return store.Write(name, data)
}

func loadCollection(path string) (*tree.Tree, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	t, err := tree.Unmarshal(data)
	if err != nil {
		return nil, nil, err
	}
	return t, data, nil
}

func importHotlist(_ context.Context, cmd *cli.Command) error {
	src, err := argFile(cmd)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	t, stats, err := hotlist.ImportWithStats(f,
		hotlist.WithSkipTrash(!cmd.Bool("keep-trash")),
		hotlist.WithFolderTags(cmd.Bool("folder-tags")),
	)
	if err != nil {
		return fmt.Errorf("import %s: %w", src, err)
	}
	data, err := t.Marshal()
	if err != nil {
		return err
	}
	if err := writeFile(cmd.String("out"), data, cmd.Bool("force")); err != nil {
		return err
	}
	report.ImportSummary(color.Output, src, stats)
	return nil
}

func exportHotlist(_ context.Context, cmd *cli.Command) error {
	src, err := argFile(cmd)
	if err != nil {
		return err
	}
	t, _, err := loadCollection(src)
	if err != nil {
		return fmt.Errorf("load %s: %w", src, err)
	}
	out := cmd.String("out")
	if out == "" {
		return hotlist.Export(os.Stdout, t)
	}
	var buf bytes.Buffer
	if err := hotlist.Export(&buf, t); err != nil {
		return err
	}
	return writeFile(out, buf.Bytes(), true)
}

func check(_ context.Context, cmd *cli.Command) error {
	src, err := argFile(cmd)
	if err != nil {
		return err
	}
	t, data, err := loadCollection(src)
	if err != nil {
		report.Problem(color.Error, src, err)
		return cli.Exit("", 1)
	}
	report.Summary(color.Output, src, report.Collect(t, data))
	return nil
}

func printTree(_ context.Context, cmd *cli.Command) error {
	src, err := argFile(cmd)
	if err != nil {
		return err
	}
	t, _, err := loadCollection(src)
	if err != nil {
		return fmt.Errorf("load %s: %w", src, err)
	}
	report.Outline(color.Output, t)
	return nil
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:   "tape",
		Usage:  "Hierarchical note collections with full-text search and legacy hotlist import",
		Action: serve,
		Flags:  []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the REST API, SSE events and the file watcher",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the collection to an MCP client over stdio",
				Action: serveMCP,
			},
			{
				Name:      "import",
				Usage:     "Convert an Opera hotlist into a collection file",
				ArgsUsage: "<hotlist>",
				Action:    importHotlist,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "notes.json", Usage: "Collection file to write"},
					&cli.BoolFlag{Name: "keep-trash", Usage: "Import the trash folder too"},
					&cli.BoolFlag{Name: "folder-tags", Usage: "Tag notes with the path of their folders"},
					&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Overwrite an existing output file"},
				},
			},
			{
				Name:      "export-hotlist",
				Usage:     "Write a collection file as an Opera hotlist",
				ArgsUsage: "<collection.json>",
				Action:    exportHotlist,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Hotlist file to write (default stdout)"},
				},
			},
			{
				Name:      "check",
				Usage:     "Validate a collection file and print a summary",
				ArgsUsage: "<collection.json>",
				Action:    check,
			},
			{
				Name:      "tree",
				Usage:     "Print a collection file as an outline",
				ArgsUsage: "<collection.json>",
				Action:    printTree,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		var exit cli.ExitCoder
		if errors.As(err, &exit) {
			os.Exit(exit.ExitCode())
		}
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
