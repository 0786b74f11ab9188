package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/elihugi89/aistyler/internal/imageref"
)

// Registry resolves provider names used in stage definitions.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds every known provider from settings. Providers whose
// credentials are missing are still registered; they fail with
// Unauthorized when called.
func NewRegistry(settings Settings, conv *imageref.Converter, client *http.Client, logger *slog.Logger) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	r.Register(NewRemoveBG(settings.RemoveBG, conv, client, logger))
	r.Register(NewHuggingFace(settings.HuggingFace, conv, client, logger))
	r.Register(NewRunway(settings.Runway, conv, client, logger))
	r.Register(NewNormalize(settings.Normalize, conv, logger))
	r.Register(NewPassthrough(logger))
	return r
}

// Register adds or replaces p under its name.
func (r *Registry) Register(p Provider) {
	if r.providers == nil {
		r.providers = make(map[string]Provider)
	}
	r.providers[strings.ToLower(p.Name())] = p
}

// Get returns the provider registered under name (case-insensitive).
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return p, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the credentials of the named providers, or of every
// provider that supports it when names is empty. The result maps provider
// name to its error, nil meaning the credentials were accepted.
func (r *Registry) Validate(ctx context.Context, names ...string) map[string]error {
	if len(names) == 0 {
		names = r.Names()
	}
	results := make(map[string]error)
	for _, name := range names {
		p, err := r.Get(name)
		if err != nil {
			results[name] = err
			continue
		}
		v, ok := p.(Validator)
		if !ok {
			continue
		}
		results[p.Name()] = v.Validate(ctx)
	}
	return results
}
