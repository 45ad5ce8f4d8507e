// Package report renders dispatch outcomes, one block per node, in
// registry order. It never touches the network: outcomes in, text out.
package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agent462/clusterrun/internal/dispatch"
)

// ANSI color codes.
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
)

// Reporter formats execution outcomes for terminal display.
type Reporter struct {
	JSON       bool
	ErrorsOnly bool
	Color      bool
}

// NewReporter creates a Reporter with the given options.
func NewReporter(jsonOutput, errorsOnly, color bool) *Reporter {
	return &Reporter{
		JSON:       jsonOutput,
		ErrorsOnly: errorsOnly,
		Color:      color,
	}
}

// Render produces one block per outcome, in the order given, followed by a
// summary line. Every configured node gets a block even on total failure —
// the reader is never left wondering whether a node was attempted.
// ErrorsOnly hides clean (exit 0) blocks from the text output but outcomes
// still count toward the summary.
func (r *Reporter) Render(outcomes []*dispatch.Outcome) string {
	var b strings.Builder

	succeeded := 0
	nonZero := 0
	failed := 0

	for _, o := range outcomes {
		switch {
		case o.Failed():
			failed++
		case o.ExitCode != 0:
			nonZero++
		default:
			succeeded++
		}
		if r.ErrorsOnly && !o.Failed() && o.ExitCode == 0 {
			continue
		}
		r.writeOutcome(&b, o)
		b.WriteString("\n")
	}

	b.WriteString(r.summaryLine(succeeded, nonZero, failed))
	b.WriteString("\n")

	return b.String()
}

// RenderJSON serializes outcomes as a JSON array, preserving order.
func (r *Reporter) RenderJSON(outcomes []*dispatch.Outcome) ([]byte, error) {
	type jsonOutcome struct {
		Node     string `json:"node"`
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exit_code"`
		Duration string `json:"duration"`
		Stage    string `json:"stage,omitempty"`
		Error    string `json:"error,omitempty"`
	}

	out := make([]jsonOutcome, len(outcomes))
	for i, o := range outcomes {
		out[i] = jsonOutcome{
			Node:     o.Node,
			Stdout:   string(o.Stdout),
			Stderr:   string(o.Stderr),
			ExitCode: o.ExitCode,
			Duration: o.Duration.String(),
		}
		if o.Failed() {
			out[i].Stage = string(o.Stage)
			out[i].Error = o.Err.Error()
		}
	}

	return json.MarshalIndent(out, "", "  ")
}

func (r *Reporter) writeOutcome(b *strings.Builder, o *dispatch.Outcome) {
	if o.Failed() {
		header := fmt.Sprintf("==> %s", o.Node)
		b.WriteString(r.colorize(header, colorCyan))
		b.WriteString(r.colorize(fmt.Sprintf(" failed at %s:", o.Stage), colorRed))
		b.WriteString("\n")
		for _, line := range strings.Split(strings.TrimRight(o.Err.Error(), "\n"), "\n") {
			b.WriteString("   ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		return
	}

	header := fmt.Sprintf("==> %s", o.Node)
	b.WriteString(r.colorize(header, colorCyan))
	if o.ExitCode != 0 {
		b.WriteString(r.colorize(fmt.Sprintf(" (exit %d)", o.ExitCode), colorRed))
	} else {
		b.WriteString(r.colorize(" (exit 0)", colorGreen))
	}
	b.WriteString("\n")

	stdout := strings.TrimRight(string(o.Stdout), "\n")
	if stdout != "" {
		for _, line := range strings.Split(stdout, "\n") {
			b.WriteString("   ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	stderr := strings.TrimRight(string(o.Stderr), "\n")
	if stderr != "" {
		for _, line := range strings.Split(stderr, "\n") {
			b.WriteString("   ")
			b.WriteString(r.colorize("stderr: "+line, colorRed))
			b.WriteString("\n")
		}
	}
}

func (r *Reporter) summaryLine(succeeded, nonZero, failed int) string {
	parts := []string{
		fmt.Sprintf("%d succeeded", succeeded),
	}
	if nonZero > 0 {
		parts = append(parts, fmt.Sprintf("%d non-zero exit", nonZero))
	}
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", failed))
	}
	return strings.Join(parts, ", ")
}

func (r *Reporter) colorize(text, color string) string {
	if !r.Color {
		return text
	}
	return color + text + colorReset
}

// ExitStatus computes the aggregate process exit status: 0 only if every
// outcome is a success with remote exit code 0, otherwise 1.
func ExitStatus(outcomes []*dispatch.Outcome) int {
	for _, o := range outcomes {
		if o.Failed() || o.ExitCode != 0 {
			return 1
		}
	}
	return 0
}
