package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/elihugi89/aistyler/internal/failure"
	"github.com/elihugi89/aistyler/internal/imageref"
)

const (
	DefaultRemoveBGURL        = "https://api.remove.bg/v1.0/removebg"
	DefaultRemoveBGAccountURL = "https://api.remove.bg/v1.0/account"
)

type RemoveBGConfig struct {
	APIKey     string
	URL        string
	AccountURL string
	Size       string // "auto", "preview", "full", ...
	Format     string // "png", "jpg", "zip"
}

// RemoveBG is the primary background-removal service.
type RemoveBG struct {
	cfg    RemoveBGConfig
	conv   *imageref.Converter
	client *http.Client
	logger *slog.Logger
}

func NewRemoveBG(cfg RemoveBGConfig, conv *imageref.Converter, client *http.Client, logger *slog.Logger) *RemoveBG {
	if cfg.URL == "" {
		cfg.URL = DefaultRemoveBGURL
	}
	if cfg.AccountURL == "" {
		cfg.AccountURL = DefaultRemoveBGAccountURL
	}
	if cfg.Size == "" {
		cfg.Size = "auto"
	}
	if cfg.Format == "" {
		cfg.Format = "png"
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoveBG{cfg: cfg, conv: conv, client: client, logger: logger}
}

func (r *RemoveBG) Name() string { return "removebg" }

func (r *RemoveBG) Process(ctx context.Context, in imageref.Ref, opts Options) (imageref.Ref, error) {
	const op = "removebg.process"

	if r.cfg.APIKey == "" {
		return imageref.Ref{}, failure.New(failure.Unauthorized, op, "remove.bg api key not configured")
	}

	data, err := r.conv.Bytes(ctx, in)
	if err != nil {
		return imageref.Ref{}, err
	}

	size, format := r.cfg.Size, r.cfg.Format
	if opts.Size != "" {
		size = opts.Size
	}
	if opts.Format != "" {
		format = opts.Format
	}

	body, contentType, err := removeBGForm(data, size, format, opts.Params)
	if err != nil {
		return imageref.Ref{}, failure.Wrap(failure.ConversionFailure, op, "build upload form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, body)
	if err != nil {
		return imageref.Ref{}, failure.Wrap(failure.VendorError, op, "build request", err)
	}
	req.Header.Set("X-Api-Key", r.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "image/*, application/json")

	r.logger.DebugContext(ctx, "calling remove.bg", "bytes", len(data), "size", size, "format", format)

	resp, err := send(r.client, req, op, removeBGErrorMessage)
	if err != nil {
		return imageref.Ref{}, err
	}
	return decodeImage(ctx, r.conv, op, resp, removeBGResult)
}

func removeBGForm(data []byte, size, format string, params map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	mimeType := imageref.DetectMIME(data)
	ext := "jpg"
	if i := strings.Index(mimeType, "/"); i >= 0 {
		ext = mimeType[i+1:]
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image_file"; filename="image.%s"`, ext))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}

	fields := map[string]string{"size": size, "format": format}
	for k, v := range params {
		fields[k] = v
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func removeBGResult(body []byte) (string, string) {
	var payload struct {
		Data struct {
			ResultB64 string `json:"result_b64"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}
	return payload.Data.ResultB64, ""
}

func removeBGErrorMessage(body []byte) string {
	var payload struct {
		Errors []struct {
			Title string `json:"title"`
			Code  string `json:"code"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	titles := make([]string, 0, len(payload.Errors))
	for _, e := range payload.Errors {
		if e.Title != "" {
			titles = append(titles, e.Title)
		}
	}
	return strings.Join(titles, "; ")
}

// Account is the remaining credit balance reported by remove.bg.
type Account struct {
	Credits      float64 `json:"credits"`
	Subscription float64 `json:"subscription"`
	PayAsYouGo   float64 `json:"payg"`
	FreeCalls    int     `json:"free_calls"`
	Sizes        string  `json:"sizes"`
}

func (r *RemoveBG) Account(ctx context.Context) (Account, error) {
	const op = "removebg.account"

	if r.cfg.APIKey == "" {
		return Account{}, failure.New(failure.Unauthorized, op, "remove.bg api key not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.AccountURL, nil)
	if err != nil {
		return Account{}, failure.Wrap(failure.VendorError, op, "build request", err)
	}
	req.Header.Set("X-Api-Key", r.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := send(r.client, req, op, removeBGErrorMessage)
	if err != nil {
		return Account{}, err
	}

	var payload struct {
		Data struct {
			Attributes struct {
				Credits struct {
					Total        float64 `json:"total"`
					Subscription float64 `json:"subscription"`
					PAYG         float64 `json:"payg"`
				} `json:"credits"`
				API struct {
					FreeCalls int    `json:"free_calls"`
					Sizes     string `json:"sizes"`
				} `json:"api"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return Account{}, failure.Wrap(failure.DecodeFailure, op, "decode account", err)
	}

	attrs := payload.Data.Attributes
	return Account{
		Credits:      attrs.Credits.Total,
		Subscription: attrs.Credits.Subscription,
		PayAsYouGo:   attrs.Credits.PAYG,
		FreeCalls:    attrs.API.FreeCalls,
		Sizes:        attrs.API.Sizes,
	}, nil
}

func (r *RemoveBG) Validate(ctx context.Context) error {
	acct, err := r.Account(ctx)
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "remove.bg credentials ok", "credits", acct.Credits, "free_calls", acct.FreeCalls)
	return nil
}
