// Package tui drives a wizard from the terminal with huh forms.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ehr/portal/internal/wizard"
)

// Choices offered when completing fails.
const (
	ChoiceRetry  = "Try again"
	ChoiceBack   = "Go back"
	ChoiceCancel = "Cancel"
)

// errGoBack asks Run to show the previous step again.
var errGoBack = errors.New("go back")

// UploadFunc turns a file path into the payload of an upload step.
type UploadFunc func(ctx context.Context, st wizard.State, path string) (wizard.Entry, error)

type Option func(*Runner)

// WithUpload makes step ask for a file path instead of typed fields.
func WithUpload(step wizard.StepKey, fn UploadFunc) Option {
	return func(r *Runner) {
		r.uploadStep = step
		r.upload = fn
	}
}

// Result is how a terminal session ended.
type Result struct {
	State      wizard.State
	Completion wizard.Completion
	Cancelled  bool
	NavigateTo string
}

type Runner struct {
	eng        *wizard.Engine
	prompt     Prompter
	out        io.Writer
	uploadStep wizard.StepKey
	upload     UploadFunc
}

func NewRunner(eng *wizard.Engine, prompt Prompter, out io.Writer, opts ...Option) *Runner {
	r := &Runner{eng: eng, prompt: prompt, out: out}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run walks the flow step by step until it completes or the user cancels.
func (r *Runner) Run(ctx context.Context, pre wizard.Precondition) (Result, error) {
	st, err := r.eng.Initialize(pre)
	if err != nil {
		fmt.Fprintln(r.out, failure(err.Error()))
		return Result{State: st}, err
	}

	for {
		fmt.Fprintf(r.out, "\n%s\n\n", Header(r.eng.Flow(), st))

		def := r.eng.Current(st)
		if def.Kind == wizard.KindReview {
			res, err := r.finish(ctx, st)
			if errors.Is(err, errGoBack) {
				st = res.State
				continue
			}
			return res, err
		}

		next, err := r.step(ctx, st, def)
		st = next
		if errors.Is(err, ErrAborted) {
			return r.cancel(st), nil
		}
		if err != nil {
			fmt.Fprintln(r.out, failure(reason(st, err)))
			retry, perr := r.prompt.Confirm(ctx, "Try again?")
			if perr != nil || !retry {
				return r.cancel(st), nil
			}
			continue
		}

		// Flows without a review step complete from their last step.
		if st.Submitted[def.Key] && r.eng.CanComplete(st) {
			res, err := r.finish(ctx, st)
			if errors.Is(err, errGoBack) {
				st = res.State
				continue
			}
			return res, err
		}
	}
}

func (r *Runner) step(ctx context.Context, st wizard.State, def wizard.StepDefinition) (wizard.State, error) {
	switch def.Kind {
	case wizard.KindSelect:
		return r.selectStep(ctx, st, def)
	case wizard.KindParent:
		return r.parentStep(ctx, st, def)
	case wizard.KindChildren:
		return r.childrenStep(ctx, st, def)
	}
	return st, fmt.Errorf("step %s: unsupported kind %q", def.Key, def.Kind)
}

func (r *Runner) selectStep(ctx context.Context, st wizard.State, def wizard.StepDefinition) (wizard.State, error) {
	query, err := r.prompt.Input(ctx, def.Label, "Search by name, ID or MRN")
	if err != nil {
		return st, err
	}
	found, err := r.eng.Search(ctx, query)
	if err != nil {
		return st, err
	}
	if len(found) == 0 {
		fmt.Fprintln(r.out, pendingStyle.Render("No matches."))
		return st, nil
	}
	choice, err := r.prompt.Choose(ctx, def.Label, found)
	if err != nil {
		return st, err
	}
	return r.eng.SubmitStep(ctx, st, def.Key, wizard.Entry{"id": choice.ID, "label": choice.Label})
}

func (r *Runner) parentStep(ctx context.Context, st wizard.State, def wizard.StepDefinition) (wizard.State, error) {
	if r.upload != nil && def.Key == r.uploadStep {
		path, err := r.prompt.Input(ctx, def.Label, "Path to a DICOM, PDF or image file")
		if err != nil {
			return st, err
		}
		payload, err := r.upload(ctx, st, path)
		if err != nil {
			return st, err
		}
		return r.eng.SubmitStep(ctx, st, def.Key, payload)
	}

	var draft wizard.Entry
	if rows := st.Drafts[def.Key]; len(rows) > 0 {
		draft = rows[0]
	}
	row, err := r.prompt.Row(ctx, def.Label, def.Fields, draft)
	if err != nil {
		return st, err
	}
	return r.eng.SubmitStep(ctx, st, def.Key, row)
}

func (r *Runner) childrenStep(ctx context.Context, st wizard.State, def wizard.StepDefinition) (wizard.State, error) {
	for {
		title := fmt.Sprintf("Add %s?", def.Label)
		if n := len(st.Drafts[def.Key]); n > 0 {
			title = fmt.Sprintf("Add another (%d so far)?", n)
		}
		more, err := r.prompt.Confirm(ctx, title)
		if err != nil {
			return st, err
		}
		if !more {
			break
		}
		row, err := r.prompt.Row(ctx, def.Label, def.Fields, nil)
		if err != nil {
			return st, err
		}
		if st, err = r.eng.AddDraftEntry(st, def.Key, row); err != nil {
			return st, err
		}
	}
	return r.eng.SubmitStep(ctx, st, def.Key, nil)
}

func (r *Runner) finish(ctx context.Context, st wizard.State) (Result, error) {
	for {
		fmt.Fprintln(r.out, Summary(r.eng.Flow(), st))
		ok, err := r.prompt.Confirm(ctx, "Complete "+r.eng.Flow().Title+"?")
		if err != nil || !ok {
			return r.cancel(st), nil
		}
		next, done, err := r.eng.Complete(ctx, st)
		st = next
		if err == nil {
			fmt.Fprintln(r.out, doneStyle.Render("✓ Done"))
			return Result{State: st, Completion: done, NavigateTo: done.NavigateTo}, nil
		}
		fmt.Fprintln(r.out, failure(reason(st, err)))
		if errors.Is(err, wizard.ErrFinalized) || errors.Is(err, wizard.ErrNotReady) {
			return Result{State: st}, err
		}

		choice, err := r.prompt.Menu(ctx, "What next?", []string{ChoiceRetry, ChoiceBack, ChoiceCancel})
		if err != nil || choice == ChoiceCancel {
			return r.cancel(st), nil
		}
		if choice == ChoiceBack {
			prev, err := r.eng.GoBack(st)
			if err == nil {
				return Result{State: prev}, errGoBack
			}
		}
	}
}

func (r *Runner) cancel(st wizard.State) Result {
	fmt.Fprintln(r.out, pendingStyle.Render("Cancelled."))
	path := r.eng.Cancel(st)
	return Result{State: st, Cancelled: true, NavigateTo: path}
}

// reason prefers the message the engine recorded for the step.
func reason(st wizard.State, err error) string {
	if st.LastError != nil && st.LastError.Message != "" {
		return st.LastError.Message
	}
	return wizard.ServiceMessage(err, err.Error())
}
