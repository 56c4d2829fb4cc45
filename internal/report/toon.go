// Package report renders check results as TOON (Token-Oriented Object
// Notation) for tools and as colored text for people.
package report

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/phobologic/rulecheck/internal/check"
	"github.com/phobologic/rulecheck/internal/errs"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// EncodeTOON converts a check report into TOON. The rules table has one row
// per rule in rule-file order; the findings table lists every finding under
// the index of its rule. An invalid table follows when statements did not
// compile.
func EncodeTOON(rep *check.Report) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("run: %s", encodeValue(rep.RunID)))
	parts = append(parts, fmt.Sprintf("violations: %d", rep.Total()))

	var ruleRows, findingRows [][]string
	for i, res := range rep.Results {
		status := "ok"
		errText := ""
		switch {
		case res.Err != nil:
			status = "error"
			errText = res.Err.Error()
		case len(res.Findings) > 0:
			status = "violated"
		}
		ruleRows = append(ruleRows, []string{
			strconv.Itoa(i),
			res.Rule.String(),
			strconv.Itoa(res.Rule.Pos().Line),
			status,
			strconv.Itoa(len(res.Findings)),
			errText,
		})

		for _, f := range res.Findings {
			findingRows = append(findingRows, []string{
				strconv.Itoa(i),
				f.Entity,
				f.Reference,
				f.File,
				strconv.Itoa(f.Line),
				f.Source,
			})
		}
	}
	parts = append(parts, formatTabular("rules", []string{"index", "rule", "line", "status", "count", "error"}, ruleRows))
	parts = append(parts, formatTabular("findings", []string{"rule", "entity", "reference", "file", "line", "source"}, findingRows))

	if len(rep.Invalid) > 0 {
		var invalidRows [][]string
		for _, err := range rep.Invalid {
			var line, column int
			msg := err.Error()
			var pe *errs.ParseError
			if errors.As(err, &pe) {
				line, column = pe.Pos.Line, pe.Pos.Column
				msg = strings.TrimPrefix(msg, pe.Pos.String()+": ")
			}
			invalidRows = append(invalidRows, []string{strconv.Itoa(line), strconv.Itoa(column), msg})
		}
		parts = append(parts, formatTabular("invalid", []string{"line", "column", "error"}, invalidRows))
	}

	return strings.Join(parts, "\n")
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	switch {
	case value == "":
		return `""`
	case value != strings.TrimSpace(value), strings.ContainsAny(value, "\n\r\t"):
		return quote(value)
	}
	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}
	if looksNumeric.MatchString(value) {
		return value
	}
	if needsQuoting.MatchString(value) || strings.HasPrefix(value, "-") {
		return quote(value)
	}
	return value
}

var quoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)

func quote(value string) string {
	return `"` + quoter.Replace(value) + `"`
}
