package lint

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// Format selects the report output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
)

// WriteReport renders a lint result to w in the requested format.
func WriteReport(w io.Writer, result *Result, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatYAML:
		return yaml.NewEncoder(w).Encode(result)
	default:
		return writeTextReport(w, result)
	}
}

func writeTextReport(w io.Writer, result *Result) error {
	if len(result.Diagnostics) == 0 {
		_, err := fmt.Fprintln(w, "no issues found")
		return err
	}

	errs, warns := 0, 0
	for _, d := range result.Diagnostics {
		var label string
		switch d.Severity {
		case SeverityError:
			label = errorColor.Sprint("error")
			errs++
		case SeverityWarning:
			label = warningColor.Sprint("warning")
			warns++
		default:
			label = infoColor.Sprint("info")
		}

		location := d.File
		if d.Line > 0 {
			location = fmt.Sprintf("%s:%d", d.File, d.Line)
			if d.Column > 0 {
				location = fmt.Sprintf("%s:%d", location, d.Column)
			}
		}
		if _, err := fmt.Fprintf(w, "%s  %s  [%s] %s\n", label, location, d.Rule, d.Message); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(w, "\n%d error(s), %d warning(s)\n", errs, warns)
	return err
}
