package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ehr/portal/internal/wizard"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")).
			MarginBottom(1)

	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	currentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
)

// Stepper renders the flow's step indicator, e.g.
//
//	✓ Basic Info  ›  ● Symptoms  ›  ○ Diagnosis
func Stepper(flow wizard.Flow, st wizard.State) string {
	parts := make([]string, len(flow.Steps))
	for i, def := range flow.Steps {
		switch {
		case i < st.Step || st.Finalized:
			parts[i] = doneStyle.Render("✓ " + def.Label)
		case i == st.Step:
			parts[i] = currentStyle.Render("● " + def.Label)
		default:
			parts[i] = pendingStyle.Render("○ " + def.Label)
		}
	}
	return strings.Join(parts, pendingStyle.Render("  ›  "))
}

// Header is the flow title, the stepper and the selected patient.
func Header(flow wizard.Flow, st wizard.State) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(flow.Title))
	b.WriteString("\n")
	b.WriteString(Stepper(flow, st))
	if !st.Precondition.IsZero() {
		label := st.Precondition.Label
		if label == "" {
			label = st.Precondition.ID
		}
		b.WriteString("\n")
		b.WriteString(pendingStyle.Render("Patient: " + label))
	}
	return b.String()
}

// Summary lists what the wizard created.
func Summary(flow wizard.Flow, st wizard.State) string {
	var lines []string
	if st.ParentID != "" {
		lines = append(lines, fmt.Sprintf("Record  %s", st.ParentID))
	}
	for _, def := range flow.Steps {
		if n := len(st.Created[def.Key]); n > 0 {
			lines = append(lines, fmt.Sprintf("%-12s %d added", def.Label, n))
		}
	}
	if len(lines) == 0 {
		lines = append(lines, "Nothing was created.")
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func failure(msg string) string {
	return errorStyle.Render("✗ " + msg)
}
