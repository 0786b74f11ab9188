package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/elihugi89/aistyler/internal/failure"
	"github.com/elihugi89/aistyler/internal/imageref"
)

const (
	DefaultRunwayURL   = "https://api.runwayml.com/v2"
	DefaultRunwayModel = "runware:109@1"
)

type RunwayConfig struct {
	APIKey       string
	URL          string
	Model        string
	OutputFormat string
}

// Runway isolates the garment from the rest of the photo.
type Runway struct {
	cfg    RunwayConfig
	conv   *imageref.Converter
	client *http.Client
	logger *slog.Logger
}

func NewRunway(cfg RunwayConfig, conv *imageref.Converter, client *http.Client, logger *slog.Logger) *Runway {
	if cfg.URL == "" {
		cfg.URL = DefaultRunwayURL
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultRunwayModel
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "PNG"
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runway{cfg: cfg, conv: conv, client: client, logger: logger}
}

func (r *Runway) Name() string { return "runway" }

type runwaySettings struct {
	PostProcessMask              bool `json:"postProcessMask"`
	AlphaMatting                 bool `json:"alphaMatting"`
	AlphaMattingForegroundThresh int  `json:"alphaMattingForegroundThreshold"`
	AlphaMattingBackgroundThresh int  `json:"alphaMattingBackgroundThreshold"`
	AlphaMattingErodeSize        int  `json:"alphaMattingErodeSize"`
}

type runwayTask struct {
	TaskType     string         `json:"taskType"`
	TaskUUID     string         `json:"taskUUID"`
	InputImage   string         `json:"inputImage"`
	OutputType   string         `json:"outputType"`
	OutputFormat string         `json:"outputFormat"`
	Model        string         `json:"model"`
	Settings     runwaySettings `json:"settings"`
}

func (r *Runway) Process(ctx context.Context, in imageref.Ref, opts Options) (imageref.Ref, error) {
	const op = "runway.process"

	if r.cfg.APIKey == "" {
		return imageref.Ref{}, failure.New(failure.Unauthorized, op, "runway api key not configured")
	}

	b64, err := r.conv.Base64(ctx, in)
	if err != nil {
		return imageref.Ref{}, err
	}

	format := r.cfg.OutputFormat
	if opts.Format != "" {
		format = opts.Format
	}

	task := runwayTask{
		TaskType:     "imageBackgroundRemoval",
		TaskUUID:     uuid.NewString(),
		InputImage:   b64,
		OutputType:   "URL",
		OutputFormat: strings.ToUpper(format),
		Model:        r.cfg.Model,
		Settings: runwaySettings{
			PostProcessMask:              true,
			AlphaMatting:                 true,
			AlphaMattingForegroundThresh: 240,
			AlphaMattingBackgroundThresh: 10,
			AlphaMattingErodeSize:        10,
		},
	}
	payload, err := json.Marshal([]runwayTask{task})
	if err != nil {
		return imageref.Ref{}, failure.Wrap(failure.ConversionFailure, op, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL+"/tasks", bytes.NewReader(payload))
	if err != nil {
		return imageref.Ref{}, failure.Wrap(failure.VendorError, op, "build request", err)
	}
	setBearer(req, r.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	r.logger.DebugContext(ctx, "calling runway", "task", task.TaskUUID, "model", task.Model)

	resp, err := send(r.client, req, op, runwayErrorMessage)
	if err != nil {
		return imageref.Ref{}, err
	}
	return decodeImage(ctx, r.conv, op, resp, runwayResult)
}

func runwayResult(body []byte) (string, string) {
	var payload struct {
		Data []struct {
			ImageURL        string `json:"imageURL"`
			ImageDataURI    string `json:"imageDataURI"`
			ImageBase64Data string `json:"imageBase64Data"`
		} `json:"data"`
		OutputURL string `json:"output_url"`
		Output    struct {
			URL string `json:"url"`
		} `json:"output"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}

	if len(payload.Data) > 0 {
		d := payload.Data[0]
		switch {
		case d.ImageURL != "":
			return "", d.ImageURL
		case d.ImageDataURI != "":
			return d.ImageDataURI, ""
		case d.ImageBase64Data != "":
			return d.ImageBase64Data, ""
		}
	}
	if payload.OutputURL != "" {
		return "", payload.OutputURL
	}
	return "", payload.Output.URL
}

func runwayErrorMessage(body []byte) string {
	var payload struct {
		Error  string `json:"error"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Error != "" {
		return payload.Error
	}
	msgs := make([]string, 0, len(payload.Errors))
	for _, e := range payload.Errors {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

func (r *Runway) Validate(ctx context.Context) error {
	const op = "runway.validate"

	if r.cfg.APIKey == "" {
		return failure.New(failure.Unauthorized, op, "runway api key not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.URL+"/account", nil)
	if err != nil {
		return failure.Wrap(failure.VendorError, op, "build request", err)
	}
	setBearer(req, r.cfg.APIKey)

	if _, err := send(r.client, req, op, runwayErrorMessage); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "runway credentials ok")
	return nil
}
