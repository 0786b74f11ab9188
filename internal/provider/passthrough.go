package provider

import (
	"context"
	"log/slog"

	"github.com/elihugi89/aistyler/internal/imageref"
)

// Passthrough returns its input unchanged. It is only reachable when a
// stage names it explicitly. Every use is logged at WARN.
type Passthrough struct {
	logger *slog.Logger
}

func NewPassthrough(logger *slog.Logger) *Passthrough {
	if logger == nil {
		logger = slog.Default()
	}
	return &Passthrough{logger: logger}
}

func (p *Passthrough) Name() string { return "passthrough" }

func (p *Passthrough) Process(ctx context.Context, in imageref.Ref, _ Options) (imageref.Ref, error) {
	p.logger.WarnContext(ctx, "passthrough provider used, image left unprocessed", "image", in.String())
	return in, nil
}
