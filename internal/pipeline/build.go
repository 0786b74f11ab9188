package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/elihugi89/aistyler/internal/provider"
)

// StageDef is the configuration form of a Stage.
type StageDef struct {
	Name      string            `yaml:"name" json:"name"`
	Providers []string          `yaml:"providers" json:"providers"`
	Size      string            `yaml:"size,omitempty" json:"size,omitempty"`
	Format    string            `yaml:"format,omitempty" json:"format,omitempty"`
	Params    map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
}

// Resolver looks providers up by name.
type Resolver interface {
	Get(name string) (provider.Provider, error)
}

// Build resolves every stage definition and returns the pipeline. Stage
// names must be unique since outputs are looked up by name.
func Build(defs []StageDef, r Resolver, opts ...Option) (*Pipeline, error) {
	stages := make([]Stage, 0, len(defs))
	seen := make(map[string]bool, len(defs))

	for i, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return nil, fmt.Errorf("stage %d: missing name", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("stage %q: duplicate name", name)
		}
		seen[name] = true

		if len(def.Providers) == 0 {
			return nil, fmt.Errorf("stage %q: %w", name, errNoProviders)
		}

		chain := make([]provider.Provider, 0, len(def.Providers))
		for _, pn := range def.Providers {
			p, err := r.Get(pn)
			if err != nil {
				return nil, fmt.Errorf("stage %q: %w", name, err)
			}
			chain = append(chain, p)
		}

		stages = append(stages, Stage{
			Name:      name,
			Providers: chain,
			Options: provider.Options{
				Size:   def.Size,
				Format: def.Format,
				Params: def.Params,
			},
		})
	}
	return New(stages, opts...), nil
}

// Select returns the definitions named in names, keeping the configured
// order. An empty names list selects everything.
func Select(defs []StageDef, names []string) ([]StageDef, error) {
	if len(names) == 0 {
		return defs, nil
	}
	want := make(map[string]string, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		want[strings.ToLower(n)] = n
	}

	var out []StageDef
	for _, def := range defs {
		key := strings.ToLower(strings.TrimSpace(def.Name))
		if _, ok := want[key]; ok {
			out = append(out, def)
			delete(want, key)
		}
	}
	if len(want) > 0 {
		unknown := make([]string, 0, len(want))
		for _, n := range want {
			unknown = append(unknown, n)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown stages: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}
