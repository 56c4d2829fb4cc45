// rulecheck checks architecture rules against a tree-sitter fact store of a
// repository.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/phobologic/rulecheck/internal/check"
	"github.com/phobologic/rulecheck/internal/config"
	"github.com/phobologic/rulecheck/internal/discover"
	"github.com/phobologic/rulecheck/internal/extract"
	"github.com/phobologic/rulecheck/internal/report"
	"github.com/phobologic/rulecheck/internal/ruleset"
	"github.com/phobologic/rulecheck/internal/store"
)

var version = "dev"

// errViolations makes the process exit with status 1 without printing an
// error; the report already said which rules failed or did not compile.
var errViolations = errors.New("rules violated")

func main() {
	err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	switch {
	case err == nil:
	case errors.Is(err, errViolations):
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

type globalFlags struct {
	logLevel string
}

// logger builds the stderr logger. The flag wins over the configured level.
func (g *globalFlags) logger(cmd *cobra.Command, configured string) (*slog.Logger, error) {
	name := configured
	if cmd.Flags().Changed("log-level") || name == "" {
		name = g.logLevel
	}
	level, err := config.ParseLevel(name)
	if err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})), nil
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "rulecheck",
		Short: "Check architecture rules against source code",
		Long: `rulecheck extracts entities (files, classes, functions, methods) and their
relations (invoke, depend on) from Go, Python and Ruby sources into a SQLite
store, then checks rules such as

  Controllers = every class with name ".*Controller"
  Controllers cannot invoke every method with name "query"

Exit status is 1 when a rule is violated or does not compile and 2 on other
errors.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		checkCmd(g),
		compileCmd(),
		initCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "rulecheck %s\n", version)
			},
		},
	)
	return root
}

type checkFlags struct {
	rules       string
	store       string
	format      string
	color       string
	langs       []string
	exclude     []string
	parallelism int
	verbose     bool
	skipTests   bool
	noCache     bool
}

func checkCmd(g *globalFlags) *cobra.Command {
	f := &checkFlags{}
	cmd := &cobra.Command{
		Use:   "check [path]",
		Short: "Extract facts from a repository and check its rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) > 0 {
				root = args[0]
			}
			return runCheck(cmd, g, f, root)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.rules, "rules", "r", "", "rule file (default from config: rules.txt)")
	fl.StringVar(&f.store, "store", "", `fact store path, ":memory:" for none`)
	fl.StringVarP(&f.format, "format", "f", "", "report format (text, toon)")
	fl.StringVar(&f.color, "color", "", "colorize text output (auto, always, never)")
	fl.StringSliceVarP(&f.langs, "lang", "l", nil, "languages to include")
	fl.StringSliceVarP(&f.exclude, "exclude", "x", nil, "doublestar patterns of paths to skip")
	fl.IntVarP(&f.parallelism, "parallelism", "p", 0, "rules checked concurrently")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "list passing rules too")
	fl.BoolVar(&f.skipTests, "skip-tests", false, "ignore test files")
	fl.BoolVar(&f.noCache, "no-cache", false, "re-extract even when the store is fresh")
	return cmd
}

// apply overlays explicitly set flags on cfg.
func (f *checkFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fl := cmd.Flags()
	if fl.Changed("rules") {
		cfg.Rules = f.rules
	}
	if fl.Changed("store") {
		cfg.Store = f.store
	}
	if fl.Changed("format") {
		cfg.Output.Format = f.format
	}
	if fl.Changed("color") {
		cfg.Output.Color = f.color
	}
	if fl.Changed("lang") {
		cfg.Discover.Languages = f.langs
	}
	if fl.Changed("exclude") {
		cfg.Discover.Exclude = append(cfg.Discover.Exclude, f.exclude...)
	}
	if fl.Changed("parallelism") {
		cfg.Check.Parallelism = f.parallelism
	}
	if fl.Changed("verbose") {
		cfg.Output.Verbose = f.verbose
	}
	if fl.Changed("skip-tests") {
		cfg.Discover.SkipTests = f.skipTests
	}
	return cfg.Validate()
}

func runCheck(cmd *cobra.Command, g *globalFlags, f *checkFlags, root string) error {
	ctx := cmd.Context()
	stdout := cmd.OutOrStdout()

	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", root)
	}

	cfg, err := (&config.Loader{}).Load(root)
	if err != nil {
		return err
	}
	if err := f.apply(cmd, cfg); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	logger, err := g.logger(cmd, cfg.Log.Level)
	if err != nil {
		return err
	}

	rs, err := ruleset.CompileFile(config.Resolve(root, cfg.Rules))
	if rs == nil {
		return fmt.Errorf("compiling rules: %w", err)
	}
	for _, e := range rs.Errors {
		logger.Warn("statement skipped", "err", e)
	}
	logger.Debug("rules compiled", "rules", len(rs.Rules), "variables", len(rs.Variables), "invalid", len(rs.Errors))

	files, err := discover.Files(root, discover.Options{
		Languages: cfg.Discover.Languages,
		Exclude:   cfg.Discover.Exclude,
		SkipTests: cfg.Discover.SkipTests,
	})
	if err != nil {
		return fmt.Errorf("discovering files: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no parseable files found")
	}

	db, err := store.Open(ctx, config.Resolve(root, cfg.Store))
	if err != nil {
		return err
	}
	defer db.Close()

	if !f.noCache && extract.Fresh(ctx, db, root, files) {
		logger.Info("reusing fact store", "path", db.Path())
	} else {
		if err := db.Reset(ctx); err != nil {
			return err
		}
		stats, err := extract.Extract(ctx, db, root, files, extract.Options{
			Workers:     cfg.Extract.Workers,
			MaxFileSize: cfg.Extract.MaxFileSize,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("extracting facts: %w", err)
		}
		logger.Info("facts extracted",
			"files", stats.Files, "skipped", stats.Skipped,
			"entities", stats.Entities, "relations", stats.Relations)
	}

	runner := &check.Runner{DB: db, Logger: logger, Parallelism: cfg.Check.Parallelism}
	rep, err := runner.RunSet(ctx, rs)
	if err != nil {
		return err
	}

	switch cfg.Output.Format {
	case config.FormatTOON:
		_, err = fmt.Fprintln(stdout, report.EncodeTOON(rep))
	default:
		err = report.Text(stdout, rep, useColor(cfg.Output.Color, stdout), cfg.Output.Verbose)
	}
	if err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	if !rep.Passed() {
		return errViolations
	}
	return nil
}

func useColor(mode string, w io.Writer) bool {
	switch mode {
	case config.ColorAlways:
		return true
	case config.ColorNever:
		return false
	}
	return w == os.Stdout && !color.NoColor
}
