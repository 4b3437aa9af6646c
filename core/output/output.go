// Package output renders command results in one of three modes. Human mode
// styles progress and results on stderr, quiet mode prints only the essential
// value on stdout, and JSON mode writes the payload to stdout.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

type Mode string

const (
	ModeHuman Mode = "human"
	ModeQuiet Mode = "quiet"
	ModeJSON  Mode = "json"
)

// ModeFor picks the mode from the --json and --quiet flags. JSON wins.
func ModeFor(jsonMode, quiet bool) Mode {
	switch {
	case jsonMode:
		return ModeJSON
	case quiet:
		return ModeQuiet
	default:
		return ModeHuman
	}
}

type styles struct {
	rule    lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	title   lipgloss.Style
	header  lipgloss.Style
	key     lipgloss.Style
	value   lipgloss.Style
	border  lipgloss.Style
	panel   lipgloss.Style
}

func newStyles(renderer *lipgloss.Renderer) styles {
	return styles{
		rule:    renderer.NewStyle().Foreground(lipgloss.Color("6")).Bold(true),
		success: renderer.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		warning: renderer.NewStyle().Foreground(lipgloss.Color("3")),
		failure: renderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		title:   renderer.NewStyle().Bold(true).Italic(true),
		header:  renderer.NewStyle().Foreground(lipgloss.Color("5")).Bold(true).Padding(0, 1),
		key:     renderer.NewStyle().Foreground(lipgloss.Color("6")).Padding(0, 1),
		value:   renderer.NewStyle().Foreground(lipgloss.Color("2")).Padding(0, 1),
		border:  renderer.NewStyle().Foreground(lipgloss.Color("8")),
		panel: renderer.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("2")).
			Padding(1, 2),
	}
}

// Emitter is the only writer command code uses for user-facing output. Color
// is enabled only when stderr is a terminal that supports it.
type Emitter struct {
	mode   Mode
	stdout io.Writer
	stderr io.Writer
	width  int
	styles styles
}

func New(mode Mode, stdout, stderr io.Writer) *Emitter {
	return &Emitter{
		mode:   mode,
		stdout: stdout,
		stderr: stderr,
		width:  60,
		styles: newStyles(lipgloss.NewRenderer(stderr)),
	}
}

func (e *Emitter) human() bool {
	return e.mode == ModeHuman
}

// Rule prints a centered section header.
func (e *Emitter) Rule(title string) {
	if !e.human() {
		return
	}
	label := " " + title + " "
	side := max((e.width-lipgloss.Width(label))/2, 3)
	line := strings.Repeat("─", side) + label + strings.Repeat("─", side)
	_, _ = fmt.Fprintln(e.stderr, e.styles.rule.Render(line))
}

func (e *Emitter) Info(message string) {
	if !e.human() {
		return
	}
	_, _ = fmt.Fprintln(e.stderr, message)
}

func (e *Emitter) Warn(message string) {
	if !e.human() {
		return
	}
	_, _ = fmt.Fprintln(e.stderr, e.styles.warning.Render("! "+message))
}

func (e *Emitter) Success(message string) {
	if !e.human() {
		return
	}
	_, _ = fmt.Fprintln(e.stderr, e.styles.success.Render("✓ "+message))
}

// Error reports a failure on stderr in human and quiet modes. JSON mode
// carries errors in the payload instead.
func (e *Emitter) Error(message string) {
	if e.mode == ModeJSON {
		return
	}
	_, _ = fmt.Fprintln(e.stderr, e.styles.failure.Render("✗ "+message))
}

// Table renders a titled two-column property table.
func (e *Emitter) Table(title string, rows [][2]string) {
	if !e.human() {
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(e.styles.border).
		Headers("Property", "Value").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return e.styles.header
			case col == 0:
				return e.styles.key
			default:
				return e.styles.value
			}
		})
	for _, row := range rows {
		t.Row(row[0], row[1])
	}
	_, _ = fmt.Fprintln(e.stderr, e.styles.title.Render(title))
	_, _ = fmt.Fprintln(e.stderr, t.Render())
}

// Panel renders a bordered result box.
func (e *Emitter) Panel(title, body string) {
	if !e.human() {
		return
	}
	_, _ = fmt.Fprintln(e.stderr, e.styles.title.Render(title))
	_, _ = fmt.Fprintln(e.stderr, e.styles.panel.Render(body))
}

// Quiet prints value on stdout in quiet mode only.
func (e *Emitter) Quiet(value string) {
	if e.mode != ModeQuiet {
		return
	}
	_, _ = fmt.Fprintln(e.stdout, value)
}

// JSON writes value as indented JSON on stdout.
func (e *Emitter) JSON(value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(e.stdout, string(encoded))
	return err
}
