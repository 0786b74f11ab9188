package provider

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/elihugi89/aistyler/internal/failure"
	"github.com/elihugi89/aistyler/internal/imageref"
)

type NormalizeConfig struct {
	MaxWidth  int
	MaxHeight int
	Format    string // "png" or "jpeg"
	Quality   int
}

// Normalize is the local provider. It applies EXIF orientation and bounds
// the image to MaxWidth x MaxHeight before re-encoding. No network call.
type Normalize struct {
	cfg    NormalizeConfig
	conv   *imageref.Converter
	logger *slog.Logger
}

func NewNormalize(cfg NormalizeConfig, conv *imageref.Converter, logger *slog.Logger) *Normalize {
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = 1500
	}
	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = 1500
	}
	if cfg.Format == "" {
		cfg.Format = "png"
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 90
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalize{cfg: cfg, conv: conv, logger: logger}
}

func (n *Normalize) Name() string { return "normalize" }

func (n *Normalize) Process(ctx context.Context, in imageref.Ref, opts Options) (imageref.Ref, error) {
	const op = "normalize.process"

	data, err := n.conv.Bytes(ctx, in)
	if err != nil {
		return imageref.Ref{}, err
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return imageref.Ref{}, failure.Wrap(failure.DecodeFailure, op, "decode image", err)
	}

	name := n.cfg.Format
	if opts.Format != "" {
		name = opts.Format
	}
	format, err := imaging.FormatFromExtension(name)
	if err != nil {
		return imageref.Ref{}, failure.Wrap(failure.ConversionFailure, op, "output format "+name, err)
	}

	// Fit never upscales.
	dst := imaging.Fit(src, n.cfg.MaxWidth, n.cfg.MaxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, format, imaging.JPEGQuality(n.cfg.Quality)); err != nil {
		return imageref.Ref{}, failure.Wrap(failure.ConversionFailure, op, "encode image", err)
	}

	sb, db := src.Bounds(), dst.Bounds()
	n.logger.DebugContext(ctx, "normalized image",
		"src_w", sb.Dx(), "src_h", sb.Dy(),
		"dst_w", db.Dx(), "dst_h", db.Dy(),
		"format", name)

	ref, err := n.conv.FromBytes(buf.Bytes())
	if err != nil {
		return imageref.Ref{}, failure.Wrap(failure.ConversionFailure, op, "store normalized image", err)
	}
	return ref, nil
}
