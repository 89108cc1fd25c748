// Package output formats command results for the fluxpack CLI.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Format represents the output format
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (valid: table, json, yaml)", s)
	}
}

// Formatter formats output in various formats. Results go to Writer;
// messages that are not results go to ErrWriter so piped json stays clean.
type Formatter struct {
	Format    Format
	NoHeaders bool
	Quiet     bool
	Writer    io.Writer
	ErrWriter io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(format Format, noHeaders, quiet bool) *Formatter {
	return &Formatter{
		Format:    format,
		NoHeaders: noHeaders,
		Quiet:     quiet,
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
	}
}

// Structured reports whether results are printed as json or yaml
func (f *Formatter) Structured() bool {
	return f.Format == FormatJSON || f.Format == FormatYAML
}

// Print outputs data in the configured format. Table mode prints yaml, which
// reads better than json for nested values.
func (f *Formatter) Print(data interface{}) error {
	if f.Quiet {
		return nil
	}
	if f.Format == FormatJSON {
		encoder := json.NewEncoder(f.Writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	}
	encoder := yaml.NewEncoder(f.Writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(data); err != nil {
		return err
	}
	return encoder.Close()
}

// TableData is a table of results. Columns listed in Numeric are right
// aligned.
type TableData struct {
	Headers []string
	Rows    [][]string
	Numeric []int
}

// records keys every row by its lowercased header
func (d TableData) records() []map[string]string {
	out := make([]map[string]string, len(d.Rows))
	for i, row := range d.Rows {
		record := make(map[string]string, len(row))
		for j, cell := range row {
			if j < len(d.Headers) {
				record[strings.ToLower(d.Headers[j])] = cell
			}
		}
		out[i] = record
	}
	return out
}

// PrintTable prints a borderless table. Structured formats get a list of
// header-keyed records instead.
func (f *Formatter) PrintTable(data TableData) {
	if f.Quiet {
		return
	}
	if f.Structured() {
		_ = f.Print(data.records())
		return
	}

	table := tablewriter.NewWriter(f.Writer)
	if !f.NoHeaders && len(data.Headers) > 0 {
		table.SetHeader(data.Headers)
	}
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	if len(data.Numeric) > 0 {
		table.SetColumnAlignment(columnAlignment(len(data.Headers), data.Numeric))
	} else {
		table.SetAlignment(tablewriter.ALIGN_LEFT)
	}

	table.AppendBulk(data.Rows)
	table.Render()
}

func columnAlignment(columns int, numeric []int) []int {
	align := make([]int, columns)
	for i := range align {
		align[i] = tablewriter.ALIGN_LEFT
	}
	for _, col := range numeric {
		if col >= 0 && col < columns {
			align[col] = tablewriter.ALIGN_RIGHT
		}
	}
	return align
}

// Field is one labelled value of a record
type Field struct {
	Key   string
	Value string
}

// PrintFields prints fields as "Key: value" lines, or as one object in
// structured formats
func (f *Formatter) PrintFields(fields ...Field) {
	if f.Quiet {
		return
	}
	if f.Structured() {
		record := make(map[string]string, len(fields))
		for _, field := range fields {
			record[field.Key] = field.Value
		}
		_ = f.Print(record)
		return
	}

	width := 0
	for _, field := range fields {
		if len(field.Key) > width {
			width = len(field.Key)
		}
	}
	for _, field := range fields {
		_, _ = fmt.Fprintf(f.Writer, "%-*s  %s\n", width+1, field.Key+":", field.Value)
	}
}

// PrintSuccess prints a closing message. In structured formats it goes to
// ErrWriter.
func (f *Formatter) PrintSuccess(message string) {
	if f.Quiet {
		return
	}
	_, _ = fmt.Fprintln(f.messageWriter(), message)
}

// PrintInfo prints an informational line
func (f *Formatter) PrintInfo(message string) {
	if f.Quiet {
		return
	}
	_, _ = fmt.Fprintln(f.messageWriter(), message)
}

// PrintWarning prints a warning to ErrWriter
func (f *Formatter) PrintWarning(message string) {
	if f.Quiet {
		return
	}
	_, _ = fmt.Fprintln(f.ErrWriter, "Warning:", message)
}

func (f *Formatter) messageWriter() io.Writer {
	if f.Structured() {
		return f.ErrWriter
	}
	return f.Writer
}

// Size formats a byte count for humans, e.g. 1.2 kB
func Size(bytes int64) string {
	return humanize.Bytes(uint64(bytes))
}

// Duration formats a build duration with millisecond precision
func Duration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
