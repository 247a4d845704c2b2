package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/ehr/portal/internal/wizard"
)

// ErrAborted is returned when the user leaves a prompt with ctrl+c or esc.
var ErrAborted = errors.New("wizard aborted")

// Prompter asks the user for input. The huh implementation draws forms in
// the terminal; tests script the answers.
type Prompter interface {
	Input(ctx context.Context, title, description string) (string, error)
	Choose(ctx context.Context, title string, options []wizard.Precondition) (wizard.Precondition, error)
	Row(ctx context.Context, title string, fields []string, row wizard.Entry) (wizard.Entry, error)
	Confirm(ctx context.Context, title string) (bool, error)
	Menu(ctx context.Context, title string, options []string) (string, error)
}

type HuhPrompter struct {
	// Accessible switches huh to plain line prompts, for screen readers and
	// terminals without cursor control.
	Accessible bool
}

func (p HuhPrompter) run(ctx context.Context, fields ...huh.Field) error {
	form := huh.NewForm(huh.NewGroup(fields...)).
		WithShowHelp(false).
		WithShowErrors(true).
		WithAccessible(p.Accessible)
	err := form.RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrAborted
	}
	return err
}

func (p HuhPrompter) Input(ctx context.Context, title, description string) (string, error) {
	var value string
	err := p.run(ctx, huh.NewInput().Title(title).Description(description).Value(&value))
	return strings.TrimSpace(value), err
}

func (p HuhPrompter) Choose(ctx context.Context, title string, options []wizard.Precondition) (wizard.Precondition, error) {
	if len(options) == 0 {
		return wizard.Precondition{}, fmt.Errorf("no options to choose from")
	}
	opts := make([]huh.Option[string], len(options))
	for i, o := range options {
		opts[i] = huh.NewOption(o.Label, o.ID)
	}
	var id string
	if err := p.run(ctx, huh.NewSelect[string]().Title(title).Options(opts...).Value(&id)); err != nil {
		return wizard.Precondition{}, err
	}
	for _, o := range options {
		if o.ID == id {
			return o, nil
		}
	}
	return wizard.Precondition{ID: id}, nil
}

// Row shows one input per field, prefilled from row.
func (p HuhPrompter) Row(ctx context.Context, title string, fields []string, row wizard.Entry) (wizard.Entry, error) {
	values := make([]string, len(fields))
	inputs := make([]huh.Field, len(fields))
	for i, f := range fields {
		values[i] = row[f]
		inputs[i] = huh.NewInput().Key(f).Title(fieldTitle(f)).Value(&values[i])
	}
	inputs = append([]huh.Field{huh.NewNote().Title(title)}, inputs...)
	if err := p.run(ctx, inputs...); err != nil {
		return nil, err
	}
	out := make(wizard.Entry, len(fields))
	for i, f := range fields {
		out[f] = strings.TrimSpace(values[i])
	}
	return out, nil
}

func (p HuhPrompter) Confirm(ctx context.Context, title string) (bool, error) {
	var ok bool
	err := p.run(ctx, huh.NewConfirm().Title(title).Affirmative("Yes").Negative("No").Value(&ok))
	return ok, err
}

func (p HuhPrompter) Menu(ctx context.Context, title string, options []string) (string, error) {
	var choice string
	err := p.run(ctx, huh.NewSelect[string]().Title(title).Options(huh.NewOptions(options...)...).Value(&choice))
	return choice, err
}

// fieldTitle turns "reference_range" into "Reference range".
func fieldTitle(field string) string {
	s := strings.ReplaceAll(field, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
