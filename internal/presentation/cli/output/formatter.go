// Package output renders tempo command results as text or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Format selects how command results are rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat parses the value of the --output flag.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// Color is an ANSI escape sequence.
type Color string

const (
	ColorReset  Color = "\033[0m"
	ColorRed    Color = "\033[31m"
	ColorGreen  Color = "\033[32m"
	ColorYellow Color = "\033[33m"
	ColorBlue   Color = "\033[34m"
	ColorCyan   Color = "\033[36m"
	ColorBold   Color = "\033[1m"
	ColorDim    Color = "\033[2m"
)

// Formatter writes command output. It is safe for concurrent use so the
// daemon can report from several goroutines.
type Formatter struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
	color  bool
}

// Option configures a Formatter.
type Option func(*Formatter)

// NewFormatter creates a text formatter on stdout with color enabled.
func NewFormatter(opts ...Option) *Formatter {
	f := &Formatter{w: os.Stdout, format: FormatText, color: true}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithWriter sets the destination.
func WithWriter(w io.Writer) Option {
	return func(f *Formatter) { f.w = w }
}

// WithFormat sets the output format.
func WithFormat(format Format) Option {
	return func(f *Formatter) { f.format = format }
}

// WithColor toggles ANSI colors.
func WithColor(enabled bool) Option {
	return func(f *Formatter) { f.color = enabled }
}

// Format returns the output format.
func (f *Formatter) Format() Format {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.format
}

// Print writes a formatted string.
func (f *Formatter) Print(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := fmt.Fprintf(f.w, format, args...)
	return err
}

// Println writes a formatted line.
func (f *Formatter) Println(format string, args ...any) error {
	return f.Print(format+"\n", args...)
}

// Colorize wraps text in color when colors are enabled.
func (f *Formatter) Colorize(text string, color Color) string {
	f.mu.Lock()
	enabled := f.color
	f.mu.Unlock()
	if !enabled {
		return text
	}
	return string(color) + text + string(ColorReset)
}

func (f *Formatter) message(icon string, color Color, format string, args []any) error {
	return f.Println("%s", f.Colorize(icon+" "+fmt.Sprintf(format, args...), color))
}

// Success reports a completed action.
func (f *Formatter) Success(format string, args ...any) error {
	return f.message("✓", ColorGreen, format, args)
}

// Error reports a failure.
func (f *Formatter) Error(format string, args ...any) error {
	return f.message("✗", ColorRed, format, args)
}

// Warning reports something the user should look at.
func (f *Formatter) Warning(format string, args ...any) error {
	return f.message("⚠", ColorYellow, format, args)
}

// Info prints a hint.
func (f *Formatter) Info(format string, args ...any) error {
	return f.message("ℹ", ColorBlue, format, args)
}

// Bold returns text in bold.
func (f *Formatter) Bold(text string) string {
	return f.Colorize(text, ColorBold)
}

// Dim returns text in a muted style.
func (f *Formatter) Dim(text string) string {
	return f.Colorize(text, ColorDim)
}

// Header prints an underlined section title.
func (f *Formatter) Header(title string) error {
	if err := f.Println("%s", f.Bold(title)); err != nil {
		return err
	}
	return f.Println("%s", strings.Repeat("─", len([]rune(title))))
}

// SubHeader prints a secondary title.
func (f *Formatter) SubHeader(title string) error {
	return f.Println("%s", f.Colorize(title, ColorCyan))
}

// Item prints an indented key: value line.
func (f *Formatter) Item(key, value string) error {
	return f.Println("  %s: %s", f.Dim(key), value)
}

// Alignment is the alignment of a table column.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// TableColumn describes one column. Width is a minimum.
type TableColumn struct {
	Header string
	Width  int
	Align  Alignment
}

// TableData is a table of pre-rendered cells.
type TableData struct {
	Columns []TableColumn
	Rows    [][]string
}

// Table prints data with columns sized to their widest cell. Cells past
// the last column are dropped.
func (f *Formatter) Table(data TableData) error {
	if len(data.Columns) == 0 {
		return nil
	}

	widths := make([]int, len(data.Columns))
	for i, col := range data.Columns {
		widths[i] = max(col.Width, visibleLen(col.Header))
	}
	for _, row := range data.Rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], visibleLen(row[i]))
		}
	}

	headers := make([]string, len(data.Columns))
	rules := make([]string, len(data.Columns))
	for i, col := range data.Columns {
		headers[i] = pad(col.Header, widths[i], col.Align)
		rules[i] = strings.Repeat("-", widths[i])
	}
	if err := f.Println("%s", f.Bold(strings.TrimRight(strings.Join(headers, "  "), " "))); err != nil {
		return err
	}
	if err := f.Println("%s", strings.Join(rules, "  ")); err != nil {
		return err
	}

	for _, row := range data.Rows {
		cells := make([]string, 0, len(data.Columns))
		for i := 0; i < len(row) && i < len(data.Columns); i++ {
			cells = append(cells, pad(row[i], widths[i], data.Columns[i].Align))
		}
		if err := f.Println("%s", strings.TrimRight(strings.Join(cells, "  "), " ")); err != nil {
			return err
		}
	}
	return nil
}

// JSON writes v as indented JSON.
func (f *Formatter) JSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	enc := json.NewEncoder(f.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func pad(text string, width int, align Alignment) string {
	n := width - visibleLen(text)
	if n <= 0 {
		return text
	}
	if align == AlignRight {
		return strings.Repeat(" ", n) + text
	}
	return text + strings.Repeat(" ", n)
}

// visibleLen counts runes outside ANSI escape sequences.
func visibleLen(s string) int {
	n := 0
	inEscape := false
	for _, r := range s {
		switch {
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		case r == '\033':
			inEscape = true
		default:
			n++
		}
	}
	return n
}
