// Package format renders command output as a table, JSON or YAML.
package format

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by --output.
const (
	Table = "table"
	JSON  = "json"
	YAML  = "yaml"
)

// Tabular is implemented by results that know their table layout. Results
// printed as JSON or YAML are marshalled as-is.
type Tabular interface {
	Header() []string
	Rows() [][]string
}

// Printer writes results in one format.
type Printer struct {
	out    io.Writer
	format string
	colors bool
}

// New validates the format name.
func New(out io.Writer, format string, colors bool) (*Printer, error) {
	switch format {
	case "", Table:
		format = Table
	case JSON, YAML:
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	return &Printer{out: out, format: format, colors: colors}, nil
}

func (p *Printer) Format() string { return p.format }

// Print renders v. Values that are not Tabular fall back to YAML in table
// mode.
func (p *Printer) Print(v any) error {
	switch p.format {
	case JSON:
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return nil
	case YAML:
		return p.yaml(v)
	}
	t, ok := v.(Tabular)
	if !ok {
		return p.yaml(v)
	}
	rows := t.Rows()
	if len(rows) == 0 {
		_, err := fmt.Fprintln(p.out, "No data to display")
		return err
	}
	p.table(t.Header(), rows)
	return nil
}

func (p *Printer) yaml(v any) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	_, err = p.out.Write(out)
	return err
}

func (p *Printer) table(header []string, rows [][]string) {
	table := tablewriter.NewWriter(p.out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	if p.colors {
		colors := make([]tablewriter.Colors, len(header))
		for i := range colors {
			colors[i] = tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiBlueColor}
		}
		table.SetHeaderColor(colors...)
	}
	table.AppendBulk(rows)
	table.Render()
}

// Success prints a confirmation line, green when colors are on.
func (p *Printer) Success(msg string, args ...any) {
	p.line(color.FgGreen, "", msg, args...)
}

// Warning prints a caution line, yellow when colors are on.
func (p *Printer) Warning(msg string, args ...any) {
	p.line(color.FgYellow, "Warning: ", msg, args...)
}

func (p *Printer) line(attr color.Attribute, prefix, msg string, args ...any) {
	if p.format != Table {
		return
	}
	text := fmt.Sprintf(msg, args...)
	if p.colors {
		_, _ = color.New(attr).Fprintln(p.out, text)
		return
	}
	_, _ = fmt.Fprintln(p.out, prefix+text)
}
