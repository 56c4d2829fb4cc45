package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/phobologic/rulecheck/internal/check"
)

type palette struct {
	ok, bad, warn, dim, bold *color.Color
}

func newPalette(pretty bool) palette {
	p := palette{
		ok:   color.New(color.FgGreen),
		bad:  color.New(color.FgRed),
		warn: color.New(color.FgYellow),
		dim:  color.New(color.FgHiBlack),
		bold: color.New(color.Bold),
	}
	for _, c := range []*color.Color{p.ok, p.bad, p.warn, p.dim, p.bold} {
		if pretty {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Text writes a human-readable report: statements that did not compile, one
// block per failed rule with its findings, then a summary line. Passing rules
// are listed only when verbose.
func Text(w io.Writer, rep *check.Report, pretty, verbose bool) error {
	p := newPalette(pretty)
	var sb strings.Builder

	for _, err := range rep.Invalid {
		fmt.Fprintf(&sb, "%s %s\n", p.warn.Sprint("!"), p.warn.Sprint(err.Error()))
	}
	for _, res := range rep.Results {
		line := res.Rule.Pos().Line
		switch {
		case res.Err != nil:
			fmt.Fprintf(&sb, "%s %s %s\n", p.warn.Sprint("!"), p.bold.Sprint(res.Rule.String()), p.dim.Sprintf("(line %d)", line))
			fmt.Fprintf(&sb, "    %s\n", p.warn.Sprint(res.Err.Error()))
		case len(res.Findings) > 0:
			fmt.Fprintf(&sb, "%s %s %s\n", p.bad.Sprint("✗"), p.bold.Sprint(res.Rule.String()), p.dim.Sprintf("(line %d)", line))
			if e := res.Rule.Explanation(); e != "" {
				fmt.Fprintf(&sb, "    %s\n", p.dim.Sprint(e))
			}
			for _, f := range res.Findings {
				loc := fmt.Sprintf("%s:%d", f.File, f.Line)
				who := f.Entity
				if f.Reference != "" {
					who += " -> " + f.Reference
				}
				fmt.Fprintf(&sb, "    %s %s: %s\n", p.dim.Sprint(loc), who, firstLine(f.Source))
			}
		case verbose:
			fmt.Fprintf(&sb, "%s %s\n", p.ok.Sprint("✓"), res.Rule.String())
		}
	}

	failed := len(rep.Failed()) + len(rep.Invalid)
	total := len(rep.Results) + len(rep.Invalid)
	summary := fmt.Sprintf("%d rules, %d failed, %d violations", total, failed, rep.Total())
	if n := rep.Errors(); n > 0 {
		summary += fmt.Sprintf(", %d errors", n)
	}
	if failed == 0 {
		sb.WriteString(p.ok.Sprint(summary))
	} else {
		sb.WriteString(p.bad.Sprint(summary))
	}
	sb.WriteString("\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

// firstLine trims entity excerpts, which span many lines, to their header.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i]) + " ..."
	}
	return s
}
