package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phobologic/rulecheck/internal/config"
)

const (
	sentinelStart = "# rulecheck:start"
	sentinelEnd   = "# rulecheck:end"
)

type initFlags struct {
	dryRun bool
	force  bool
}

func initCmd() *cobra.Command {
	f := &initFlags{}
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a starter config and rule file",
		Long: `Write .rulecheck.yaml and rules.txt into dir (default: current directory).

An existing config is left alone unless --force is given. The rule file gets
an example block wrapped in sentinel comments; re-running init updates that
block in place without touching the rules around it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(dir, f, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "print what would be written without modifying files")
	cmd.Flags().BoolVar(&f.force, "force", false, "overwrite an existing config")
	return cmd
}

func runInit(dir string, f *initFlags, stdout, stderr io.Writer) error {
	cfg := config.DefaultConfig()
	cfgPath := filepath.Join(dir, config.FileName)
	rulesPath := filepath.Join(dir, cfg.Rules)

	_, statErr := os.Stat(cfgPath)
	writeConfig := f.force || errors.Is(statErr, os.ErrNotExist)

	existing, err := os.ReadFile(rulesPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", rulesPath, err)
	}
	updated := applySection(string(existing), generateSection())

	if f.dryRun {
		if writeConfig {
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "# %s\n%s\n", cfgPath, data)
		}
		_, _ = fmt.Fprintf(stdout, "# %s\n%s", rulesPath, updated)
		return nil
	}

	if writeConfig {
		if err := cfg.SaveToFile(cfgPath); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stderr, "wrote %s\n", cfgPath)
	} else {
		_, _ = fmt.Fprintf(stderr, "kept existing %s (use --force to overwrite)\n", cfgPath)
	}

	if err := os.WriteFile(rulesPath, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", rulesPath, err)
	}
	_, _ = fmt.Fprintf(stderr, "wrote example rules to %s\n", rulesPath)
	return nil
}

// generateSection returns the sentinel-wrapped example rules.
func generateSection() string {
	body := `# Example rules, maintained by "rulecheck init". Edit freely outside
# this block; the block itself is replaced when init runs again.
#
# Variables name sets of entities:
#   every class, every function, every method, every global, every file,
#   every built-in, everything, language construct "eval"
# combined with
#   X with name "regexp"   X and Y   X except Y   X but not Y   X as well as Y
#
# Rules take the forms
#   X cannot <relation> Y      X must <relation> Y      only X can <relation> Y
# where <relation> is "invoke", "depend on" or "contain text".

Controllers = every class with name ".*Controller"
Models = every class with name ".*Model" as well as every method with name "save|delete"

Controllers cannot depend on every global explain "inject dependencies instead"
only Models can invoke every method with name "save|delete"
everything cannot invoke language construct "eval"
everything cannot invoke language construct "exec"`

	return sentinelStart + "\n" + body + "\n" + sentinelEnd
}

// applySection inserts section into content, replacing an existing sentinel
// block if present or appending if not. It is a pure function for easy testing.
func applySection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	end := strings.Index(content, sentinelEnd)

	if start >= 0 && end > start {
		return content[:start] + section + content[end+len(sentinelEnd):]
	}

	// Append, ensuring a blank line separator.
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if len(content) > 0 {
		content += "\n"
	}
	return content + section + "\n"
}
