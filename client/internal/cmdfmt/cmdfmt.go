// Package cmdfmt renders command output as tables or JSON.
package cmdfmt

import (
	"os"
	"strconv"

	"github.com/dsnet/golib/unitconv"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mitchellh/go-wordwrap"
	"golang.org/x/term"
)

const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// Printer is the subset of table.Writer shared with the JSON printer.
type Printer interface {
	SetColumnConfigs(configs []table.ColumnConfig)
	AppendRow(row table.Row, configs ...table.RowConfig)
	Render() string
}

// NewPrinter returns a printer with one column per name. JSON is indented when stdout is a
// terminal, tables are drawn with box characters only on a terminal.
func NewPrinter(format string, columns ...string) Printer {
	configs := make([]table.ColumnConfig, 0, len(columns))
	header := make(table.Row, 0, len(columns))
	for _, c := range columns {
		configs = append(configs, table.ColumnConfig{Name: c})
		header = append(header, c)
	}
	var p Printer
	if format == FormatJSON {
		p = newJSONPrinter(IsTerminal())
	} else {
		t := table.NewWriter()
		t.AppendHeader(header)
		t.SetStyle(Style(IsTerminal()))
		p = t
	}
	p.SetColumnConfigs(configs)
	return p
}

// Style returns the table style for interactive or piped output.
func Style(interactive bool) table.Style {
	if interactive {
		return table.StyleLight
	}
	plain := table.StyleDefault
	plain.Options = table.Options{}
	plain.Box.PaddingLeft = ""
	plain.Box.PaddingRight = "  "
	return plain
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// FormatSize prints a byte count with an IEC prefix, or unmodified when raw is set.
func FormatSize(n int64, raw bool) string {
	if raw {
		return strconv.FormatInt(n, 10)
	}
	return unitconv.FormatPrefix(float64(n), unitconv.IEC, 1) + "B"
}

// Wrap fits long help text to the width of the terminal.
func Wrap(text string) string {
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && w < width {
		width = w
	}
	return wordwrap.WrapString(text, uint(width))
}
