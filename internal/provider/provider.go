// Package provider wraps the third-party image services behind one contract:
// take an image reference, make one call, return a new image reference.
package provider

import (
	"context"

	"github.com/elihugi89/aistyler/internal/imageref"
)

// Provider performs exactly one transformation call against one vendor.
type Provider interface {
	// Name is the registry key, e.g. "removebg".
	Name() string

	// Process sends in to the vendor and returns the processed image.
	Process(ctx context.Context, in imageref.Ref, opts Options) (imageref.Ref, error)
}

// Validator is implemented by providers that can check their credentials
// without spending a processing call.
type Validator interface {
	Validate(ctx context.Context) error
}

// Options are per-stage overrides. Empty fields fall back to the provider's
// configured defaults.
type Options struct {
	Size   string
	Format string
	Params map[string]string
}

// Settings is the read-only vendor configuration injected at startup.
type Settings struct {
	RemoveBG    RemoveBGConfig
	HuggingFace HuggingFaceConfig
	Runway      RunwayConfig
	Normalize   NormalizeConfig
}
