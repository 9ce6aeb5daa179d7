// Package main is the mvptree CLI entry point.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/hyperjump/mvptree/internal/cli"
	"github.com/hyperjump/mvptree/internal/config"
	"github.com/hyperjump/mvptree/internal/metrics"
	"github.com/hyperjump/mvptree/internal/models"
	"github.com/hyperjump/mvptree/internal/storage"
	"github.com/hyperjump/mvptree/internal/watcher"
	"github.com/hyperjump/mvptree/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/mvptree/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded (for saving, etc.).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

type command func(args []string, stdout io.Writer) error

var commands = map[string]command{
	"insert":   runInsert,
	"query":    runQuery,
	"lookup":   runLookup,
	"remove":   runRemove,
	"distance": runDistance,
	"stats":    runStats,
	"status":   runStatus,
	"print":    runPrint,
	"clear":    runClear,
	"watch":    runWatch,
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	name := os.Args[1]
	switch name {
	case "version", "--version", "-v":
		fmt.Printf("mvptree version %s\n", version)
		return
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", name)
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err := cmd(os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", name, err)
		os.Exit(1)
	}
}

// commonFlags are accepted by every subcommand that opens the index.
type commonFlags struct {
	configPath *string
	output     *string
	metrics    *bool
}

func newFlagSet(name, usage string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cf := &commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		output:     fs.String("output", "text", "output format: text, compact or json"),
		metrics:    fs.Bool("metrics", false, "print operation metrics to stderr when done"),
	}
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: mvptree %s\n\n", usage)
		fs.PrintDefaults()
	}
	return fs, cf
}

// parseArgs parses args after moving every flag to the front.
func parseArgs(fs *flag.FlagSet, args []string) error {
	return fs.Parse(argsReorder(fs, args))
}

// argsReorder moves every flag (and its value) to the front of the slice and puts
// the positional arguments, in order, behind a "--" terminator. Go's flag package
// stops at the first non-flag argument, so "mvptree query 1,2 --radius 3" would
// otherwise leave --radius unparsed, and a negative coordinate such as "-1,2"
// would be read as a flag. Everything after an explicit "--" stays positional.
func argsReorder(fs *flag.FlagSet, args []string) []string {
	flags := make([]string, 0, len(args))
	var positionals []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			positionals = append(positionals, args[i+1:]...)
			break
		}
		if len(a) < 2 || a[0] != '-' || isNumber(a) {
			positionals = append(positionals, a)
			continue
		}
		flags = append(flags, a)
		if strings.Contains(a, "=") || isBoolFlag(fs, a) || i+1 == len(args) {
			continue
		}
		i++
		flags = append(flags, args[i])
	}
	if len(positionals) == 0 {
		return flags
	}
	flags = append(flags, "--")
	return append(flags, positionals...)
}

// isBoolFlag reports whether arg names a boolean flag of fs, which takes no
// separate value.
func isBoolFlag(fs *flag.FlagSet, arg string) bool {
	f := fs.Lookup(strings.TrimLeft(arg, "-"))
	if f == nil {
		return false
	}
	b, ok := f.Value.(interface{ IsBoolFlag() bool })
	return ok && b.IsBoolFlag()
}

// isNumber reports whether a looks like a negative coordinate rather than a flag.
func isNumber(a string) bool {
	c := a[1]
	return (c >= '0' && c <= '9') || c == '.'
}

// session is what a subcommand works with once its flags are parsed.
type session struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	index      index
	format     cli.OutputFormat
	metrics    bool
}

func open(ctx context.Context, cf *commonFlags) (*session, error) {
	return openWithBatch(ctx, cf, 0)
}

func (s *session) Close() {
	if err := s.index.close(); err != nil {
		s.logger.Warn("close index failed", zap.Error(err))
	}
	if s.metrics {
		_ = metrics.WriteText(os.Stderr)
	}
	_ = s.logger.Sync()
}

func ignoreHelp(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}

func runInsert(args []string, stdout io.Writer) error {
	fs, cf := newFlagSet("insert", "insert [flags] <vector|file|directory>...")
	var ids stringList
	fs.Var(&ids, "id", "id for the inline vector at the same position (repeatable; default: random UUID)")
	batch := fs.Int("batch", 0, "points per transaction when loading files (default: ingest.batch_size)")
	if err := parseArgs(fs, args); err != nil {
		return ignoreHelp(err)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("nothing to insert")
	}
	ctx := context.Background()
	s, err := openWithBatch(ctx, cf, *batch)
	if err != nil {
		return err
	}
	defer s.Close()

	var inline []string
	for _, arg := range fs.Args() {
		info, statErr := os.Stat(arg)
		switch {
		case statErr == nil && info.IsDir():
			files, points, err := s.index.loadDirectory(ctx, arg, s.cfg.Watch.Extensions)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Loaded %d point(s) from %d file(s) in %s\n", points, files, arg)
		case statErr == nil:
			n, err := s.index.loadFile(ctx, arg, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Loaded %d point(s) from %s\n", n, arg)
		default:
			inline = append(inline, arg)
		}
	}
	if len(inline) == 0 {
		return nil
	}
	inserted, err := s.index.insert(ctx, ids, inline)
	if err != nil {
		return err
	}
	for _, id := range inserted {
		fmt.Fprintf(stdout, "Inserted: %s\n", id)
	}
	return nil
}

// openWithBatch opens the index; a positive batch overrides ingest.batch_size.
func openWithBatch(ctx context.Context, cf *commonFlags, batch int) (*session, error) {
	format, err := cli.ParseOutputFormat(*cf.output)
	if err != nil {
		return nil, err
	}
	cfg, resolved, err := loadConfig(*cf.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if batch > 0 {
		cfg.Ingest.BatchSize = batch
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved))
	idx, err := openIndex(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &session{
		cfg:        cfg,
		configPath: resolved,
		logger:     logger,
		index:      idx,
		format:     format,
		metrics:    *cf.metrics,
	}, nil
}

func runQuery(args []string, stdout io.Writer) error {
	fs, cf := newFlagSet("query", "query [flags] (--id <point-id> | <vector>)")
	radius := fs.Float64("radius", 0, "query radius")
	id := fs.String("id", "", "query around the indexed point with this id")
	if err := parseArgs(fs, args); err != nil {
		return ignoreHelp(err)
	}
	req := &models.QueryRequest{ID: *id, Radius: *radius}
	if fs.NArg() > 0 {
		req.Vector = strings.FieldsFunc(strings.Trim(strings.Join(fs.Args(), " "), "[] "), func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
	}
	if err := req.Validate(); err != nil {
		fs.Usage()
		return err
	}
	ctx := context.Background()
	s, err := open(ctx, cf)
	if err != nil {
		return err
	}
	defer s.Close()

	resp, err := s.index.query(ctx, req)
	if err != nil {
		return err
	}
	return cli.WriteQueryResults(stdout, resp, s.format)
}

func runLookup(args []string, stdout io.Writer) error {
	fs, cf := newFlagSet("lookup", "lookup [flags] <point-id>...")
	if err := parseArgs(fs, args); err != nil {
		return ignoreHelp(err)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("no point id given")
	}
	ctx := context.Background()
	s, err := open(ctx, cf)
	if err != nil {
		return err
	}
	defer s.Close()

	type found struct {
		ID     string `json:"id"`
		Vector string `json:"vector,omitempty"`
		Found  bool   `json:"found"`
	}
	var out []found
	for _, id := range fs.Args() {
		v, ok, err := s.index.lookup(ctx, id)
		if err != nil {
			return err
		}
		out = append(out, found{ID: id, Vector: v, Found: ok})
	}
	if s.format == cli.OutputJSON {
		return writeJSON(stdout, out)
	}
	for _, f := range out {
		v := f.Vector
		if !f.Found {
			v = "(not found)"
		}
		fmt.Fprintf(stdout, "%s\t%s\n", f.ID, v)
	}
	return nil
}

func runRemove(args []string, stdout io.Writer) error {
	fs, cf := newFlagSet("remove", "remove [flags] <point-id>...")
	if err := parseArgs(fs, args); err != nil {
		return ignoreHelp(err)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("no point id given")
	}
	ctx := context.Background()
	s, err := open(ctx, cf)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := s.index.remove(ctx, fs.Args())
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Removed %d of %d point(s)\n", n, fs.NArg())
	return nil
}

func runDistance(args []string, stdout io.Writer) error {
	fs, cf := newFlagSet("distance", "distance [flags] <point-id|vector> <point-id|vector>")
	if err := parseArgs(fs, args); err != nil {
		return ignoreHelp(err)
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return fmt.Errorf("distance takes exactly two points")
	}
	ctx := context.Background()
	s, err := open(ctx, cf)
	if err != nil {
		return err
	}
	defer s.Close()

	d, err := s.index.distance(ctx, fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}
	if s.format == cli.OutputJSON {
		return writeJSON(stdout, map[string]float64{"distance": d})
	}
	fmt.Fprintf(stdout, "%g\n", d)
	return nil
}

func runStats(args []string, stdout io.Writer) error {
	fs, cf := newFlagSet("stats", "stats [flags]")
	if err := parseArgs(fs, args); err != nil {
		return ignoreHelp(err)
	}
	ctx := context.Background()
	s, err := open(ctx, cf)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.index.stats(ctx)
	if err != nil {
		return err
	}
	return cli.WriteStats(stdout, st, s.format)
}

// statusConfigResponse holds configuration info returned by status.
type statusConfigResponse struct {
	Backend      string     `json:"backend"`
	DatabasePath string     `json:"database_path,omitempty"`
	ConfigPath   string     `json:"config_path"`
	Tree         treeParams `json:"tree"`
}

type statusResponse struct {
	Points         int64                 `json:"points"`
	DiskUsageBytes *int64                `json:"disk_usage_bytes,omitempty"`
	Config         *statusConfigResponse `json:"config,omitempty"`
}

func runStatus(args []string, stdout io.Writer) error {
	fs, cf := newFlagSet("status", "status [flags]")
	if err := parseArgs(fs, args); err != nil {
		return ignoreHelp(err)
	}
	ctx := context.Background()
	s, err := open(ctx, cf)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := s.index.count(ctx)
	if err != nil {
		return err
	}
	status := statusResponse{
		Points: n,
		Config: &statusConfigResponse{
			Backend:      s.cfg.Storage.Backend,
			DatabasePath: s.cfg.Storage.DatabasePath,
			ConfigPath:   s.configPath,
			Tree:         s.index.params(),
		},
	}
	if paths := storage.Paths(s.cfg.Storage.Backend, s.cfg.Storage.DatabasePath); len(paths) > 0 {
		if diskBytes, err := storage.DiskUsageBytes(paths...); err == nil {
			status.DiskUsageBytes = &diskBytes
		}
	}

	if s.format == cli.OutputJSON {
		return writeJSON(stdout, status)
	}
	c := status.Config
	fmt.Fprintf(stdout, "points:             %d   # count of indexed points\n", status.Points)
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(stdout, "disk_usage_bytes:   %d   # database files on disk\n", *status.DiskUsageBytes)
	}
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "# configuration")
	fmt.Fprintf(stdout, "config_path:        %s\n", c.ConfigPath)
	fmt.Fprintf(stdout, "backend:            %s\n", c.Backend)
	if c.DatabasePath != "" {
		fmt.Fprintf(stdout, "database_path:      %s\n", c.DatabasePath)
	}
	fmt.Fprintf(stdout, "element_kind:       %s\n", c.Tree.ElementKind)
	fmt.Fprintf(stdout, "metric:             %s\n", c.Tree.Metric)
	fmt.Fprintf(stdout, "branch_factor:      %d\n", c.Tree.BranchFactor)
	fmt.Fprintf(stdout, "path_length:        %d\n", c.Tree.PathLength)
	fmt.Fprintf(stdout, "leaf_minimum:       %d\n", c.Tree.LeafMinimum)
	fmt.Fprintf(stdout, "levels_per_node:    %d\n", c.Tree.LevelsPerNode)
	return nil
}

func runPrint(args []string, stdout io.Writer) error {
	fs, cf := newFlagSet("print", "print [flags]")
	if err := parseArgs(fs, args); err != nil {
		return ignoreHelp(err)
	}
	ctx := context.Background()
	s, err := open(ctx, cf)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.index.print(ctx, stdout)
}

func runClear(args []string, stdout io.Writer) error {
	fs, cf := newFlagSet("clear", "clear [flags]")
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	if err := parseArgs(fs, args); err != nil {
		return ignoreHelp(err)
	}
	if !*yes && !confirm(os.Stdin, stdout, "Delete every point in the index?") {
		return fmt.Errorf("aborted")
	}
	ctx := context.Background()
	s, err := open(ctx, cf)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.index.clear(ctx); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "Index cleared")
	return nil
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func printWatchUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: mvptree watch <run|add|remove|list> [flags] [path]")
	fmt.Fprintln(w, "  mvptree watch run             Load point files as they appear in watched directories")
	fmt.Fprintln(w, "  mvptree watch add <path>      Add directory to watch")
	fmt.Fprintln(w, "  mvptree watch remove <path>   Remove directory from watch")
	fmt.Fprintln(w, "  mvptree watch list            List watched directories")
}

func runWatch(args []string, stdout io.Writer) error {
	if len(args) < 1 {
		printWatchUsage(stdout)
		return fmt.Errorf("missing watch subcommand")
	}
	sub := args[0]
	fs, cf := newFlagSet("watch "+sub, "watch "+sub+" [flags] [path]")
	if err := parseArgs(fs, args[1:]); err != nil {
		return ignoreHelp(err)
	}
	switch sub {
	case "run":
		return runWatcher(cf, stdout)
	case "add", "remove":
		if fs.NArg() < 1 {
			printWatchUsage(stdout)
			return fmt.Errorf("missing directory")
		}
		cfg, resolved, err := loadConfig(*cf.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		path, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			return err
		}
		changed := false
		if sub == "add" {
			cfg.Watch.Directories, changed = addDirectory(cfg.Watch.Directories, path)
		} else {
			cfg.Watch.Directories, changed = removeDirectory(cfg.Watch.Directories, path)
		}
		if changed {
			if err := config.Save(resolved, cfg); err != nil {
				return err
			}
		}
		verb := map[string]string{"add": "Added", "remove": "Removed"}[sub]
		fmt.Fprintf(stdout, "%s: %s\n", verb, path)
		return nil
	case "list":
		cfg, _, err := loadConfig(*cf.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		for _, d := range cfg.Watch.Directories {
			fmt.Fprintln(stdout, d)
		}
		return nil
	default:
		printWatchUsage(stdout)
		return fmt.Errorf("unknown watch subcommand: %s", sub)
	}
}

func addDirectory(dirs []string, path string) ([]string, bool) {
	for _, d := range dirs {
		if filepath.Clean(d) == path {
			return dirs, false
		}
	}
	return append(dirs, path), true
}

func removeDirectory(dirs []string, path string) ([]string, bool) {
	out := dirs[:0]
	changed := false
	for _, d := range dirs {
		if filepath.Clean(d) == path {
			changed = true
			continue
		}
		out = append(out, d)
	}
	return out, changed
}

// runWatcher loads point files from the configured directories until
// interrupted.
func runWatcher(cf *commonFlags, stdout io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	s, err := open(ctx, cf)
	if err != nil {
		return err
	}
	defer s.Close()
	if len(s.cfg.Watch.Directories) == 0 {
		return fmt.Errorf("no watch directories configured; use: mvptree watch add <path>")
	}

	exts := s.cfg.Watch.Extensions
	logger := s.logger
	handler := watcher.HandlerFuncs{
		Arrived: func(ctx context.Context, path string) error {
			n, err := s.index.loadFile(ctx, path, exts)
			if err == nil && n > 0 {
				logger.Info("points loaded", zap.String("path", path), zap.Int("points", n))
			}
			return err
		},
		Removed: func(ctx context.Context, path string) error {
			n, err := s.index.unloadFile(ctx, path)
			if err == nil && n > 0 {
				logger.Info("points removed", zap.String("path", path), zap.Int("points", n))
			}
			return err
		},
	}
	w := watcher.New(handler,
		watcher.WithRoots(s.cfg.Watch.Directories...),
		watcher.WithExtensions(exts...),
		watcher.WithRecursive(s.cfg.Watch.RecursiveOrDefault()),
		watcher.WithLogger(logger))
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Stop()
	w.SyncExistingFiles()

	fmt.Fprintf(stdout, "Watching %s (Ctrl-C to stop)\n", strings.Join(w.Directories(), ", "))
	<-ctx.Done()
	logger.Info("Shutting down...")
	return nil
}

// stringList is a repeatable string flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `mvptree - disk-backed multi-vantage-point tree for range queries

Usage:
  mvptree insert [flags] <vector|file|directory>...   Insert inline vectors or load point files
  mvptree query [flags] (--id <id> | <vector>)        Find points within --radius
  mvptree lookup [flags] <id>...                      Show indexed points
  mvptree remove [flags] <id>...                      Remove points
  mvptree distance [flags] <id|vector> <id|vector>    Distance between two points
  mvptree stats [flags]                               Tree shape statistics
  mvptree status [flags]                              Point count, storage and parameters
  mvptree print [flags]                               Dump the tree structure
  mvptree clear [flags]                               Delete every point (--yes to skip the prompt)
  mvptree watch <run|add|remove|list> [path]          Load point files from watched directories
  mvptree version                                     Show version
  mvptree help                                        Show this help

Common flags:
  --config string   config file path (default %s, or ./config.yaml when present)
  --output string   output format: text, compact or json (default "text")
  --metrics         print operation metrics to stderr when done

Vectors are written as comma or space separated numbers, e.g. "1,2,3" or "[0.5 1.5]".
Point files are JSON lines ({"id": "...", "vector": [...]}) or CSV (id,v1,v2,...).
`, defaultConfigPath)
}
