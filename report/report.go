// Package report renders the call list and call flows of a dialog.Store as
// text.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/nextcaller/sip-dialogs/attr"
	"github.com/nextcaller/sip-dialogs/dialog"
	"github.com/olekukonko/tablewriter"
)

// Printer renders store contents with a column selection.
type Printer struct {
	cols   Columns
	colors map[dialog.State]*color.Color
}

// NewPrinter returns a Printer for cols.  Call states are highlighted when
// colorize is set, whether or not the output is a terminal.
func NewPrinter(cols Columns, colorize bool) *Printer {
	if len(cols) == 0 {
		cols = DefaultColumns()
	}
	p := &Printer{cols: cols}
	if colorize {
		p.colors = map[dialog.State]*color.Color{
			dialog.StateCallSetup: color.New(color.FgYellow),
			dialog.StateInCall:    color.New(color.FgBlue, color.Bold),
			dialog.StateCompleted: color.New(color.FgGreen),
			dialog.StateCancelled: color.New(color.FgRed),
			dialog.StateRejected:  color.New(color.FgRed, color.Bold),
		}
		for _, c := range p.colors {
			c.EnableColor()
		}
	}
	return p
}

func truncate(s string, width int) string {
	if width > 0 && len(s) > width {
		return s[:width]
	}
	return s
}

func (p *Printer) cell(c *dialog.Call, col Column) string {
	v := truncate(c.Attr(col.Attr), col.width())
	if col.Attr == attr.CallState {
		if hl, ok := p.colors[c.State()]; ok {
			return hl.Sprint(v)
		}
	}
	return v
}

// Calls writes the calls passing the store's display filter as a table and
// returns how many were written.
func (p *Printer) Calls(w io.Writer, s *dialog.Store) int {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)

	hdr := make([]string, 0, len(p.cols))
	for _, col := range p.cols {
		hdr = append(hdr, col.Attr.Title())
	}
	table.SetHeader(hdr)

	rows := 0
	for c := s.NextFiltered(nil); c != nil; c = s.NextFiltered(c) {
		row := make([]string, 0, len(p.cols))
		for _, col := range p.cols {
			row = append(row, p.cell(c, col))
		}
		table.Append(row)
		rows++
	}
	table.SetFooter(footer(len(p.cols), fmt.Sprintf("%d/%d calls", rows, s.Count())))
	table.Render()
	return rows
}

// footer fills only the last column.
func footer(n int, text string) []string {
	f := make([]string, n)
	f[n-1] = text
	return f
}

// Flow writes the messages of c, one per line with a header line for the
// call and, if any, the call it's linked with by X-Call-ID.
// Retransmissions are marked.
func (p *Printer) Flow(w io.Writer, s *dialog.Store, c *dialog.Call) error {
	state := c.Attr(attr.CallState)
	if hl, ok := p.colors[c.State()]; ok {
		state = hl.Sprint(state)
	}
	if _, err := fmt.Fprintf(w, "Call %d %s %s\n", c.Index(), c.ID(), state); err != nil {
		return err
	}
	if x := s.Xcall(c); x != nil {
		if _, err := fmt.Fprintf(w, "  linked: call %d %s\n", x.Index(), x.ID()); err != nil {
			return err
		}
	}

	for m := s.NextMessage(c, nil); m != nil; m = s.NextMessage(c, m) {
		var flags []string
		if m.HasSDP() {
			flags = append(flags, "SDP")
		}
		if m.IsRetrans() {
			flags = append(flags, "retrans")
		}
		line := fmt.Sprintf("  %s  %-*s", m.Header(), attr.Method.Width(), m.Attr(attr.Method))
		if len(flags) > 0 {
			line += " [" + strings.Join(flags, ",") + "]"
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(line, " ")); err != nil {
			return err
		}
	}
	return nil
}

// Flows writes the flow of every call passing the display filter.
func (p *Printer) Flows(w io.Writer, s *dialog.Store) error {
	for c := s.NextFiltered(nil); c != nil; c = s.NextFiltered(c) {
		if err := p.Flow(w, s, c); err != nil {
			return fmt.Errorf("writing flow of call %d: %w", c.Index(), err)
		}
	}
	return nil
}
