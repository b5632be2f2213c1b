package format

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/sciexp/flytezen/internal/persist"
	"github.com/sciexp/flytezen/schema"
)

// Printer writes human-readable execution summaries.
type Printer struct {
	w      io.Writer
	label  lipgloss.Style
	value  lipgloss.Style
	ok     lipgloss.Style
	bad    lipgloss.Style
	active lipgloss.Style
	hint   lipgloss.Style
}

// NewPrinter returns a printer whose color profile follows w.
func NewPrinter(w io.Writer) *Printer {
	re := lipgloss.NewRenderer(w)
	return &Printer{
		w:      w,
		label:  re.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		value:  re.NewStyle().Foreground(lipgloss.Color("245")),
		ok:     re.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		bad:    re.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		active: re.NewStyle().Foreground(lipgloss.Color("39")),
		hint:   re.NewStyle().Foreground(lipgloss.Color("242")).Italic(true),
	}
}

// Phase renders p colored by outcome.
func (p *Printer) Phase(phase schema.Phase) string {
	text := string(phase)
	if text == "" {
		text = "unknown"
	}
	switch {
	case phase == schema.PhaseSucceeded:
		return p.ok.Render(text)
	case phase.Terminal():
		return p.bad.Render(text)
	default:
		return p.active.Render(text)
	}
}

// Context prints the resolved execution context.
func (p *Printer) Context(ec schema.ExecutionContext, ref schema.EntityRef, inputs schema.Inputs) error {
	rows := [][2]string{
		{"mode", string(ec.Mode)},
		{"version", ec.Version},
		{"project", ec.Project},
		{"domain", ec.Domain},
		{"image", orNone(ec.ImageRef())},
		{"entity", ref.QualifiedName() + " (" + string(ref.Type) + ")"},
		{"inputs", compactJSON(inputs)},
		{"wait", fmt.Sprintf("%t", ec.Wait)},
	}
	return p.pairs(rows)
}

// Status prints one execution status.
func (p *Printer) Status(name string, st schema.ExecutionStatus, consoleURL string) error {
	if _, err := fmt.Fprintf(p.w, "%s %s\n", p.label.Render(name), p.Phase(st.Phase)); err != nil {
		return err
	}
	var rows [][2]string
	if !st.UpdatedAt.IsZero() {
		rows = append(rows, [2]string{"updated", st.UpdatedAt.UTC().Format(time.RFC3339)})
	}
	if st.Error != "" {
		rows = append(rows, [2]string{"error", st.Error})
	}
	if consoleURL != "" {
		rows = append(rows, [2]string{"console", consoleURL})
	}
	return p.pairs(rows)
}

// Outputs prints outputs sorted by name.
func (p *Printer) Outputs(outputs schema.Outputs) error {
	if len(outputs) == 0 {
		_, err := fmt.Fprintln(p.w, p.hint.Render("no outputs"))
		return err
	}
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][2]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, [2]string{k, valueString(outputs[k])})
	}
	return p.pairs(rows)
}

// Records prints recorded executions as a table.
func (p *Printer) Records(records []persist.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(p.w, p.hint.Render("no recorded executions"))
		return err
	}
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("NAME", "MODE", "ENTITY", "PHASE", "SUBMITTED")
	for _, rec := range records {
		t.Row(rec.Name, string(rec.Mode), rec.Entity.QualifiedName(), orNone(string(rec.Phase)), rec.SubmittedAt.UTC().Format(time.RFC3339))
	}
	_, err := fmt.Fprintln(p.w, t.String())
	return err
}

// EntityRow describes a configured entity.
type EntityRow struct {
	Ref    schema.EntityRef
	Local  bool
	Inputs schema.Inputs
}

// Entities prints configured entities as a table.
func (p *Printer) Entities(rows []EntityRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(p.w, p.hint.Render("no entities configured"))
		return err
	}
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("KEY", "TYPE", "LOCAL", "DEFAULT INPUTS")
	for _, row := range rows {
		local := "no"
		if row.Local {
			local = "yes"
		}
		t.Row(row.Ref.Key(), string(row.Ref.Type), local, compactJSON(row.Inputs))
	}
	_, err := fmt.Fprintln(p.w, t.String())
	return err
}

// Check prints a doctor check line.
func (p *Printer) Check(name string, err error) error {
	if err != nil {
		_, werr := fmt.Fprintf(p.w, "%s %s: %s\n", p.bad.Render("✗"), name, err)
		return werr
	}
	_, werr := fmt.Fprintf(p.w, "%s %s\n", p.ok.Render("✓"), name)
	return werr
}

func (p *Printer) pairs(rows [][2]string) error {
	width := 0
	for _, row := range rows {
		if len(row[0]) > width {
			width = len(row[0])
		}
	}
	for _, row := range rows {
		label := p.label.Render(row[0] + ":" + strings.Repeat(" ", width-len(row[0])))
		if _, err := fmt.Fprintf(p.w, "  %s %s\n", label, p.value.Render(row[1])); err != nil {
			return err
		}
	}
	return nil
}

func valueString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return compactJSON(v)
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
