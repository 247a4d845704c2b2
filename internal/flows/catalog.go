package flows

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ehr/portal/internal/wizard"
)

// Catalog holds per-deployment overrides for the built-in flows, read from a
// flows.yaml file:
//
//	flows:
//	  visit:
//	    title: New Visit
//	    include_prescriptions: true
//	    steps:
//	      basic: {label: Visit Details}
type Catalog struct {
	Flows map[string]FlowOverride `yaml:"flows"`
}

// FlowOverride changes the presentation of a flow. Step order and kinds are
// fixed by the flow itself.
type FlowOverride struct {
	Title                string                  `yaml:"title"`
	DonePath             string                  `yaml:"done_path"`
	CancelPath           string                  `yaml:"cancel_path"`
	IncludePrescriptions *bool                   `yaml:"include_prescriptions"`
	Steps                map[string]StepOverride `yaml:"steps"`
}

type StepOverride struct {
	Label          string `yaml:"label"`
	FailureMessage string `yaml:"failure_message"`
}

var knownFlows = map[string]bool{NameVisit: true, NameLabReport: true, NameLabUpload: true}

// Normalized trims values and rejects overrides for flows that do not exist.
func (c Catalog) Normalized() (Catalog, error) {
	out := Catalog{Flows: make(map[string]FlowOverride, len(c.Flows))}
	for name, ov := range c.Flows {
		name = strings.TrimSpace(name)
		if !knownFlows[name] {
			return Catalog{}, fmt.Errorf("flows: unknown flow %q", name)
		}
		ov.Title = strings.TrimSpace(ov.Title)
		ov.DonePath = strings.TrimSpace(ov.DonePath)
		ov.CancelPath = strings.TrimSpace(ov.CancelPath)
		for _, p := range []string{ov.DonePath, ov.CancelPath} {
			if p != "" && !strings.HasPrefix(p, "/") {
				return Catalog{}, fmt.Errorf("flows: %s: path %q must start with /", name, p)
			}
		}
		steps := make(map[string]StepOverride, len(ov.Steps))
		for key, s := range ov.Steps {
			steps[strings.TrimSpace(key)] = StepOverride{
				Label:          strings.TrimSpace(s.Label),
				FailureMessage: strings.TrimSpace(s.FailureMessage),
			}
		}
		ov.Steps = steps
		out.Flows[name] = ov
	}
	return out, nil
}

// IncludePrescriptions reports the catalog's choice for the visit flow, or
// fallback when it makes none.
func (c Catalog) IncludePrescriptions(fallback bool) bool {
	if ov, ok := c.Flows[NameVisit]; ok && ov.IncludePrescriptions != nil {
		return *ov.IncludePrescriptions
	}
	return fallback
}

// Apply returns flow with the catalog's overrides. Naming a step the flow
// does not have is an error.
func (c Catalog) Apply(flow wizard.Flow) (wizard.Flow, error) {
	ov, ok := c.Flows[flow.Name]
	if !ok {
		return flow, nil
	}
	if ov.Title != "" {
		flow.Title = ov.Title
	}
	if ov.DonePath != "" {
		flow.DonePath = ov.DonePath
	}
	if ov.CancelPath != "" {
		flow.CancelPath = ov.CancelPath
	}

	steps := make([]wizard.StepDefinition, len(flow.Steps))
	copy(steps, flow.Steps)
	keys := make([]string, 0, len(ov.Steps))
	for k := range ov.Steps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		i := flow.Index(wizard.StepKey(k))
		if i < 0 {
			return flow, fmt.Errorf("flows: %s has no step %q", flow.Name, k)
		}
		s := ov.Steps[k]
		if s.Label != "" {
			steps[i].Label = s.Label
		}
		if s.FailureMessage != "" {
			steps[i].FailureMessage = s.FailureMessage
		}
	}
	flow.Steps = steps
	return flow, nil
}

// ParseCatalogYAML decodes a catalog from YAML bytes.
func ParseCatalogYAML(data []byte) (Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Catalog{}, fmt.Errorf("flows: catalog is empty")
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("flows: decode catalog: %w", err)
	}
	return c.Normalized()
}

func LoadCatalogReader(r io.Reader) (Catalog, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Catalog{}, fmt.Errorf("flows: read catalog: %w", err)
	}
	return ParseCatalogYAML(content)
}

// LoadCatalogFile reads path. An empty path yields an empty catalog.
func LoadCatalogFile(path string) (Catalog, error) {
	if path == "" {
		return Catalog{}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("flows: read %s: %w", path, err)
	}
	c, err := ParseCatalogYAML(content)
	if err != nil {
		return Catalog{}, fmt.Errorf("flows: %s: %w", path, err)
	}
	return c, nil
}
