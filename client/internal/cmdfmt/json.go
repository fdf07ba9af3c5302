package cmdfmt

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

// jsonPrinter collects rows as objects keyed by column name and renders them as one JSON list.
type jsonPrinter struct {
	columns []table.ColumnConfig
	rows    []map[string]any
	pretty  bool
}

func newJSONPrinter(pretty bool) *jsonPrinter {
	return &jsonPrinter{
		rows:   []map[string]any{},
		pretty: pretty,
	}
}

func (p *jsonPrinter) SetColumnConfigs(configs []table.ColumnConfig) {
	p.columns = configs
}

func (p *jsonPrinter) AppendRow(row table.Row, configs ...table.RowConfig) {
	if len(p.columns) != len(row) {
		panic(fmt.Sprintf("unable to print json, the number of keys %d does not match the number of values %d (this is likely a bug)", len(p.columns), len(row)))
	}
	item := make(map[string]any, len(row))
	for i, col := range p.columns {
		if col.Hidden {
			continue
		}
		item[col.Name] = row[i]
	}
	p.rows = append(p.rows, item)
}

func (p *jsonPrinter) Render() string {
	return marshal(p.rows, p.pretty)
}

// PrintJSON writes v followed by a newline.
func PrintJSON(w io.Writer, v any, pretty bool) error {
	_, err := fmt.Fprintln(w, marshal(v, pretty))
	return err
}

func marshal(v any, pretty bool) string {
	var out []byte
	var err error
	if pretty {
		out, err = json.MarshalIndent(v, "", " ")
	} else {
		out, err = json.Marshal(v)
	}
	if err != nil {
		panic("unable to marshal json (this is likely a bug): " + err.Error())
	}
	return string(out)
}
