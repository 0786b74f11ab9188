package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/elihugi89/aistyler/internal/failure"
	"github.com/elihugi89/aistyler/internal/imageref"
)

const (
	DefaultHuggingFaceModelURL  = "https://api-inference.huggingface.co/models/briaai/RMBG-1.4"
	DefaultHuggingFaceWhoAmIURL = "https://huggingface.co/api/whoami-v2"
)

type HuggingFaceConfig struct {
	Token     string
	ModelURL  string
	WhoAmIURL string
}

// HuggingFace runs a hosted segmentation model as the fallback remover.
type HuggingFace struct {
	cfg    HuggingFaceConfig
	conv   *imageref.Converter
	client *http.Client
	logger *slog.Logger
}

func NewHuggingFace(cfg HuggingFaceConfig, conv *imageref.Converter, client *http.Client, logger *slog.Logger) *HuggingFace {
	if cfg.ModelURL == "" {
		cfg.ModelURL = DefaultHuggingFaceModelURL
	}
	if cfg.WhoAmIURL == "" {
		cfg.WhoAmIURL = DefaultHuggingFaceWhoAmIURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HuggingFace{cfg: cfg, conv: conv, client: client, logger: logger}
}

func (h *HuggingFace) Name() string { return "huggingface" }

func (h *HuggingFace) Process(ctx context.Context, in imageref.Ref, opts Options) (imageref.Ref, error) {
	const op = "huggingface.process"

	if h.cfg.Token == "" {
		return imageref.Ref{}, failure.New(failure.Unauthorized, op, "hugging face token not configured")
	}

	b64, err := h.conv.Base64(ctx, in)
	if err != nil {
		return imageref.Ref{}, err
	}

	payload, err := json.Marshal(struct {
		Inputs     string            `json:"inputs"`
		Parameters map[string]string `json:"parameters,omitempty"`
	}{Inputs: b64, Parameters: opts.Params})
	if err != nil {
		return imageref.Ref{}, failure.Wrap(failure.ConversionFailure, op, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.ModelURL, bytes.NewReader(payload))
	if err != nil {
		return imageref.Ref{}, failure.Wrap(failure.VendorError, op, "build request", err)
	}
	setBearer(req, h.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png, application/json")

	h.logger.DebugContext(ctx, "calling hugging face", "model", h.cfg.ModelURL)

	resp, err := send(h.client, req, op, huggingFaceErrorMessage)
	if err != nil {
		return imageref.Ref{}, modelLoading(err)
	}
	return decodeImage(ctx, h.conv, op, resp, huggingFaceResult)
}

// modelLoading turns the 503 a cold model answers with into a rate limit so
// the caller waits for the advertised warm-up time.
func modelLoading(err error) error {
	var e *failure.Error
	if !errors.As(err, &e) || e.Kind != failure.VendorError || e.StatusCode != http.StatusServiceUnavailable {
		return err
	}
	var body struct {
		EstimatedTime float64 `json:"estimated_time"`
	}
	if json.Unmarshal([]byte(e.Body), &body) != nil || body.EstimatedTime <= 0 {
		return err
	}
	e.Kind = failure.RateLimited
	e.RetryAfter = time.Duration(math.Ceil(body.EstimatedTime)) * time.Second
	return e
}

func huggingFaceResult(body []byte) (string, string) {
	var single struct {
		Image string `json:"image"`
		Mask  string `json:"mask"`
	}
	if err := json.Unmarshal(body, &single); err == nil {
		if single.Image != "" {
			return single.Image, ""
		}
		return single.Mask, ""
	}

	var segments []struct {
		Label string `json:"label"`
		Mask  string `json:"mask"`
	}
	if err := json.Unmarshal(body, &segments); err == nil && len(segments) > 0 {
		return segments[0].Mask, ""
	}
	return "", ""
}

func huggingFaceErrorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Error
}

func (h *HuggingFace) Validate(ctx context.Context) error {
	const op = "huggingface.validate"

	if h.cfg.Token == "" {
		return failure.New(failure.Unauthorized, op, "hugging face token not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.WhoAmIURL, nil)
	if err != nil {
		return failure.Wrap(failure.VendorError, op, "build request", err)
	}
	setBearer(req, h.cfg.Token)

	resp, err := send(h.client, req, op, huggingFaceErrorMessage)
	if err != nil {
		return err
	}

	var who struct {
		Name string `json:"name"`
	}
	_ = json.Unmarshal(resp.body, &who)
	h.logger.InfoContext(ctx, "hugging face credentials ok", "user", who.Name)
	return nil
}
