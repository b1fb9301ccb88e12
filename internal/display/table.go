package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment is the alignment of a table column
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// BorderStyle holds the characters drawing a table frame
type BorderStyle struct {
	Corner     string
	Horizontal string
	Vertical   string
}

var (
	ASCIIBorderStyle = BorderStyle{Corner: "+", Horizontal: "-", Vertical: "|"}
	NoBorderStyle    = BorderStyle{}
)

// Table renders rows of text as aligned columns
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	border     BorderStyle
	padding    int
	maxWidth   int
	colors     ColorSystem
}

// NewTable creates a bordered table. A nil color system renders plain
// headers.
func NewTable(colors ColorSystem, headers ...string) *Table {
	return &Table{
		headers:    headers,
		alignments: make(map[int]Alignment),
		border:     ASCIIBorderStyle,
		padding:    1,
		maxWidth:   terminalWidth(),
		colors:     colors,
	}
}

// Compact drops the frame
func (t *Table) Compact() *Table {
	t.border = NoBorderStyle
	return t
}

// AlignRight right-aligns column
func (t *Table) AlignRight(column int) *Table {
	t.alignments[column] = AlignRight
	return t
}

// AddRow appends a row; missing cells render empty
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Render returns the formatted table
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}
	widths := t.columnWidths()

	var b strings.Builder
	rule := t.rule(widths)
	if rule != "" {
		b.WriteString(rule + "\n")
	}
	if len(t.headers) > 0 {
		b.WriteString(t.renderRow(t.headers, widths, true) + "\n")
		if rule != "" {
			b.WriteString(rule + "\n")
		}
	}
	for _, row := range t.rows {
		b.WriteString(t.renderRow(row, widths, false) + "\n")
	}
	if rule != "" {
		b.WriteString(rule + "\n")
	}
	return b.String()
}

// RenderTo writes the table to w
func (t *Table) RenderTo(w io.Writer) {
	fmt.Fprint(w, t.Render())
}

func (t *Table) columnWidths() []int {
	cols := len(t.headers)
	for _, row := range t.rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	widths := make([]int, cols)
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	// Shrink the widest column until the table fits the terminal
	if t.maxWidth > 0 {
		for t.totalWidth(widths) > t.maxWidth {
			widest := 0
			for i := range widths {
				if widths[i] > widths[widest] {
					widest = i
				}
			}
			if widths[widest] <= 8 {
				break
			}
			widths[widest]--
		}
	}
	return widths
}

func (t *Table) totalWidth(widths []int) int {
	total := 0
	for _, w := range widths {
		total += w + t.padding*2
	}
	if t.border.Vertical != "" {
		total += len(widths) + 1
	}
	return total
}

func (t *Table) rule(widths []int) string {
	if t.border.Horizontal == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(t.border.Corner)
	for _, w := range widths {
		b.WriteString(strings.Repeat(t.border.Horizontal, w+t.padding*2))
		b.WriteString(t.border.Corner)
	}
	return b.String()
}

func (t *Table) renderRow(row []string, widths []int, header bool) string {
	var b strings.Builder
	b.WriteString(t.border.Vertical)
	for i, w := range widths {
		var cell string
		if i < len(row) {
			cell = row[i]
		}
		b.WriteString(t.formatCell(cell, w, t.alignments[i], header))
		if t.border.Vertical != "" {
			b.WriteString(t.border.Vertical)
		} else if i < len(widths)-1 {
			b.WriteString(" ")
		}
	}
	return strings.TrimRight(b.String(), " ")
}

func (t *Table) formatCell(content string, width int, align Alignment, header bool) string {
	if utf8.RuneCountInString(content) > width {
		runes := []rune(content)
		if width > 3 {
			content = string(runes[:width-3]) + "..."
		} else {
			content = string(runes[:width])
		}
	}

	pad := width - utf8.RuneCountInString(content)
	if header && t.colors != nil {
		content = t.colors.Colorize(content, t.colors.Theme().Primary)
	}
	left, right := 0, pad
	if align == AlignRight {
		left, right = pad, 0
	}
	return strings.Repeat(" ", left+t.padding) + content + strings.Repeat(" ", right+t.padding)
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return width
}
