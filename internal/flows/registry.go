package flows

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/ehr/portal/internal/platform/auth"
	"github.com/ehr/portal/internal/wizard"
)

var ErrUnknownFlow = errors.New("unknown flow")

// Options tune the engines a Registry builds.
type Options struct {
	IncludePrescriptions bool
	Observer             wizard.Observer
	Navigation           wizard.NavigationSink
	Logger               zerolog.Logger
}

// Registered is one flow ready to run, with the role allowed to run it.
type Registered struct {
	Engine *wizard.Engine
	Role   string
}

func (r Registered) Name() string  { return r.Engine.Flow().Name }
func (r Registered) Title() string { return r.Engine.Flow().Title }

// Allows reports whether a user holding roles may run the flow.
func (r Registered) Allows(roles []string) bool {
	return auth.HasRole(roles, r.Role)
}

// Registry holds an engine per flow name.
type Registry struct {
	flows map[string]Registered
}

// NewRegistry builds the visit, lab-report and lab-upload engines over backend
// with the catalog's overrides applied.
func NewRegistry(backend Backend, catalog Catalog, opts Options) (*Registry, error) {
	if backend == nil {
		return nil, errors.New("flows: backend is required")
	}
	search := patientSearch{backend: backend}
	defs := []struct {
		flow    wizard.Flow
		records wizard.RecordService
		role    string
	}{
		{VisitFlow(catalog.IncludePrescriptions(opts.IncludePrescriptions)), visitRecords{search}, auth.RoleDoctor},
		{LabReportFlow(), labReportRecords{search}, auth.RoleLabStaff},
		{LabUploadFlow(), labUploadRecords{search}, auth.RoleLabStaff},
	}

	reg := &Registry{flows: make(map[string]Registered, len(defs))}
	for _, d := range defs {
		flow, err := catalog.Apply(d.flow)
		if err != nil {
			return nil, err
		}
		engineOpts := []wizard.Option{wizard.WithLogger(opts.Logger)}
		if opts.Observer != nil {
			engineOpts = append(engineOpts, wizard.WithObserver(opts.Observer))
		}
		if opts.Navigation != nil {
			engineOpts = append(engineOpts, wizard.WithNavigation(opts.Navigation))
		}
		engine, err := wizard.New(flow, d.records, engineOpts...)
		if err != nil {
			return nil, fmt.Errorf("flows: build %s: %w", flow.Name, err)
		}
		reg.flows[flow.Name] = Registered{Engine: engine, Role: d.role}
	}
	return reg, nil
}

// Get returns the flow registered under name.
func (r *Registry) Get(name string) (Registered, error) {
	f, ok := r.flows[name]
	if !ok {
		return Registered{}, fmt.Errorf("%w: %q", ErrUnknownFlow, name)
	}
	return f, nil
}

// List returns every flow ordered by name.
func (r *Registry) List() []Registered {
	out := make([]Registered, 0, len(r.flows))
	for _, f := range r.flows {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
