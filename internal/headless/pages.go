package headless

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/cooldialog/model"
)

// Page is what a headless UI renders for a window.
type Page struct {
	Name      string `json:"name"`
	Procedure string `json:"procedure"`
	Window    string `json:"window"`
	Dialect   string `json:"dialect,omitempty"`
}

// PageMapping is one entry of a pages file. Window may be "*" to match
// every window of the procedure.
type PageMapping struct {
	Procedure string `yaml:"procedure"`
	Window    string `yaml:"window"`
	Page      string `yaml:"page"`
}

type pagesFile struct {
	Pages []PageMapping `yaml:"pages"`
}

// PageRegistry implements model.PageResolver from static mappings. A
// window without a mapping resolves to a page named
// "{procedure}/{window}" in lower case. Reads are lock-free; Replace swaps
// the whole mapping set.
type PageRegistry struct {
	pages atomic.Pointer[map[string]string]
}

// NewPageRegistry creates a registry from mappings.
func NewPageRegistry(mappings []PageMapping) *PageRegistry {
	r := &PageRegistry{}
	r.Replace(mappings)
	return r
}

// LoadPageRegistry reads mappings from a YAML file with a top-level
// "pages" list.
func LoadPageRegistry(path string) (*PageRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pages: reading %s: %w", path, err)
	}
	var f pagesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("pages: parsing %s: %w", path, err)
	}
	for i, m := range f.Pages {
		if m.Procedure == "" || m.Page == "" {
			return nil, fmt.Errorf("pages: entry %d: procedure and page are required", i)
		}
	}
	return NewPageRegistry(f.Pages), nil
}

// Replace swaps the registry contents.
func (r *PageRegistry) Replace(mappings []PageMapping) {
	m := make(map[string]string, len(mappings))
	for _, pm := range mappings {
		window := pm.Window
		if window == "" {
			window = "*"
		}
		m[pageKey(pm.Procedure, window)] = pm.Page
	}
	r.pages.Store(&m)
}

// Resolve returns the Page for window.
func (r *PageRegistry) Resolve(_ context.Context, dialect string, procedure *model.Procedure, window *model.Window) (any, error) {
	if procedure == nil || window == nil {
		return nil, fmt.Errorf("pages: procedure and window are required")
	}
	m := *r.pages.Load()
	name, ok := m[pageKey(procedure.Name, window.Name)]
	if !ok {
		name, ok = m[pageKey(procedure.Name, "*")]
	}
	if !ok {
		name = strings.ToLower(procedure.Name + "/" + window.Name)
	}
	return Page{
		Name:      name,
		Procedure: procedure.Name,
		Window:    window.Name,
		Dialect:   dialect,
	}, nil
}

func pageKey(procedure, window string) string {
	return strings.ToUpper(procedure) + "\x00" + strings.ToUpper(window)
}
