package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phobologic/rulecheck/internal/ruleset"
	"github.com/phobologic/rulecheck/internal/store"
)

func compileCmd() *cobra.Command {
	var showVars bool
	cmd := &cobra.Command{
		Use:   "compile <rules-file>",
		Short: "Compile a rule file and print the SQL of each rule",
		Long: `Compile a rule file without touching any repository. Each rule is printed
with its location followed by the query that selects its violations and the
query arguments. Statements with syntax errors are skipped and reported with
file:line:column after the rules that did compile.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := ruleset.CompileFile(args[0])
			if rs == nil {
				return fmt.Errorf("compiling rules: %w", err)
			}
			if perr := printCompiled(cmd.OutOrStdout(), rs, store.DefaultSchema(), showVars); perr != nil {
				return perr
			}
			if err != nil {
				return fmt.Errorf("compiling rules: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showVars, "vars", false, "also print variable definitions")
	return cmd
}

func printCompiled(w io.Writer, rs *ruleset.RuleSet, schema store.Schema, showVars bool) error {
	var b strings.Builder
	if showVars {
		for _, v := range rs.Variables {
			fmt.Fprintf(&b, "-- %s: %s = %s\n", v.Pos, v.Name, v.Var)
		}
		if len(rs.Variables) > 0 {
			b.WriteString("\n")
		}
	}
	for i, r := range rs.Rules {
		if i > 0 {
			b.WriteString("\n")
		}
		q := r.Query(schema)
		fmt.Fprintf(&b, "-- %s: %s\n", r.Pos(), r)
		if e := r.Explanation(); e != "" {
			fmt.Fprintf(&b, "-- %s\n", e)
		}
		b.WriteString(q.SQL)
		b.WriteString(";\n")
		if len(q.Args) > 0 {
			args := make([]string, len(q.Args))
			for j, a := range q.Args {
				args[j] = formatArg(a)
			}
			fmt.Fprintf(&b, "-- args: %s\n", strings.Join(args, ", "))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func formatArg(a any) string {
	if s, ok := a.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprint(a)
}
