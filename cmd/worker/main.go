// cmd/worker/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	simplecontent "github.com/tendant/simple-content/pkg/simplecontent"

	"github.com/elihugi89/aistyler/internal/bus"
	"github.com/elihugi89/aistyler/internal/config"
	"github.com/elihugi89/aistyler/internal/failure"
	"github.com/elihugi89/aistyler/internal/imageref"
	"github.com/elihugi89/aistyler/internal/pipeline"
	"github.com/elihugi89/aistyler/internal/provider"
	"github.com/elihugi89/aistyler/internal/upload"
	"github.com/elihugi89/aistyler/pkg/schema"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fatal(slog.Default(), "load config", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	logger.Info("worker starting",
		"nats_url", cfg.NATSURL,
		"job_subject", cfg.JobSubject,
		"queue", cfg.WorkerQueue,
		"result_subject", cfg.ResultSubject,
		"work_dir", cfg.WorkDir,
		"content_enabled", cfg.ContentEnabled,
		"stages", stageSummary(cfg.Stages))

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		fatal(logger, "ensure work directory", err, "work_dir", cfg.WorkDir)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	convOpts := []imageref.Option{
		imageref.WithHTTPClient(httpClient),
		imageref.WithMaxBytes(cfg.MaxImageBytes),
	}

	var uploader *upload.Client
	if cfg.ContentEnabled {
		contentCfg, err := config.LoadContent()
		if err != nil {
			fatal(logger, "load simplecontent config", err)
		}
		contentSvc, err := contentCfg.BuildService()
		if err != nil {
			fatal(logger, "build simplecontent service", err)
		}
		uploader = upload.NewClient(contentSvc, contentCfg.DefaultStorageBackend, logger)
		convOpts = append(convOpts, imageref.WithContentReader(uploader))
		logger.Info("simplecontent service ready", "backend", contentCfg.DefaultStorageBackend, "database_type", contentCfg.DatabaseType)
	}

	conv := imageref.NewConverter(cfg.WorkDir, convOpts...)
	registry := provider.NewRegistry(cfg.Providers, conv, httpClient, logger)

	// Fail at startup on a bad stage configuration rather than per job.
	if _, err := pipeline.Build(cfg.Stages, registry); err != nil {
		fatal(logger, "build pipeline", err)
	}

	nc, err := bus.Connect(cfg.NATSURL, "aistyler-worker")
	if err != nil {
		fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
	}
	defer nc.Close()
	logger.Info("connected to NATS", "nats_url", cfg.NATSURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := &worker{
		cfg:      cfg,
		registry: registry,
		conv:     conv,
		uploader: uploader,
		pub:      nc,
		logger:   logger,
		now:      time.Now,
	}

	if _, err := nc.QueueSubscribeJSON(ctx, cfg.JobSubject, cfg.WorkerQueue, cfg.JobTimeout, w.handle); err != nil {
		fatal(logger, "subscribe worker", err, "job_subject", cfg.JobSubject, "queue", cfg.WorkerQueue)
	}
	logger.Info("listening for jobs", "subject", cfg.JobSubject, "queue", cfg.WorkerQueue)

	<-ctx.Done()
	logger.Info("worker shutting down")
}

type worker struct {
	cfg      config.Config
	registry pipeline.Resolver
	conv     *imageref.Converter
	uploader *upload.Client
	pub      bus.Publisher
	logger   *slog.Logger
	now      func() time.Time
}

func (w *worker) handle(ctx context.Context, data []byte) {
	var req schema.ProcessRequested
	if err := json.Unmarshal(data, &req); err != nil {
		w.logger.Warn("invalid job payload", "err", err)
		w.publish(w.rejected(req, failure.Wrap(failure.InputUnavailable, "worker.decode", "invalid job payload", err)))
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	w.publish(w.process(ctx, req))
}

func (w *worker) publish(done schema.ProcessingDone) {
	if err := w.pub.PublishJSON(w.cfg.ResultSubject, done); err != nil {
		w.logger.Error("publish result failed", "job_id", done.ID, "subject", w.cfg.ResultSubject, "err", err)
	}
}

func (w *worker) process(ctx context.Context, req schema.ProcessRequested) schema.ProcessingDone {
	jobLogger := w.logger.With("job_id", req.ID)
	jobLogger.Info("received job", "image", req.Image, "content_id", req.ContentID, "stages", req.Stages)

	original, parent, err := w.resolveOriginal(ctx, req)
	if err != nil {
		jobLogger.Warn("cannot resolve original image", "err", err)
		return w.rejected(req, err)
	}

	defs, err := pipeline.Select(w.cfg.Stages, req.Stages)
	if err != nil {
		return w.rejected(req, failure.Wrap(failure.InputUnavailable, "worker.stages", "select stages", err))
	}
	pl, err := pipeline.Build(defs, w.registry,
		pipeline.WithPolicy(w.cfg.Retry),
		pipeline.WithLogger(jobLogger))
	if err != nil {
		return w.rejected(req, failure.Wrap(failure.InputUnavailable, "worker.stages", "build pipeline", err))
	}

	res := pl.Run(ctx, original,
		pipeline.WithRunObserver(bus.NewReporter(w.pub, w.cfg.ResultSubject, req.ID, jobLogger)))
	done := bus.DoneEvent(req.ID, res, w.now())

	if res.Success && parent != nil && w.uploader != nil {
		stored, err := w.uploader.StoreOutputs(ctx, w.conv, parent, res)
		if err != nil {
			jobLogger.Error("store outputs failed", "err", err)
			done.Success = false
			done.Final = ""
			done.Error = err.Error()
			done.FailureType = schema.FailureTypeRetryable
		}
		// Local output files are gone once stored; point at the content copies.
		for i, s := range stored {
			done.Outputs[i].ContentID = s.ContentID.String()
			done.Outputs[i].Image = imageref.FromContent(s.ContentID).String()
		}
		if err == nil && len(stored) > 0 {
			done.Final = done.Outputs[len(stored)-1].Image
		}
	}

	jobLogger.Info("completed job",
		"success", done.Success,
		"final", done.Final,
		"processing_time_ms", done.ProcessingTimeMs)
	return done
}

// resolveOriginal returns the photo to process and, for content-backed
// jobs with storage enabled, the parent content record.
func (w *worker) resolveOriginal(ctx context.Context, req schema.ProcessRequested) (imageref.Ref, *simplecontent.Content, error) {
	const op = "worker.resolve"

	raw := strings.TrimSpace(req.ContentID)
	if raw == "" {
		if strings.TrimSpace(req.Image) == "" {
			return imageref.Ref{}, nil, failure.New(failure.InputUnavailable, op, fmt.Sprintf("job %s has neither image nor content_id", req.ID))
		}
		ref, err := imageref.Parse(req.Image)
		if err != nil {
			return imageref.Ref{}, nil, failure.Wrap(failure.InputUnavailable, op, "parse image reference", err)
		}
		id, ok := ref.ContentID()
		if !ok {
			return ref, nil, nil
		}
		raw = id.String()
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return imageref.Ref{}, nil, failure.Wrap(failure.InputUnavailable, op, "parse content id", err)
	}
	if w.uploader == nil {
		return imageref.Ref{}, nil, failure.New(failure.InputUnavailable, op, "content storage is disabled")
	}
	parent, err := w.uploader.Parent(ctx, id)
	if err != nil {
		return imageref.Ref{}, nil, err
	}
	return imageref.FromContent(id), parent, nil
}

// rejected is the result for a job that failed before any stage ran.
func (w *worker) rejected(req schema.ProcessRequested, err error) schema.ProcessingDone {
	original := req.Image
	if req.ContentID != "" {
		original = "content://" + req.ContentID
	}
	return schema.ProcessingDone{
		ID:          req.ID,
		Original:    original,
		Success:     false,
		Error:       err.Error(),
		FailureType: failure.Classify(err),
		HappenedAt:  w.now().Unix(),
	}
}

func stageSummary(defs []pipeline.StageDef) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name + "=" + strings.Join(d.Providers, "|")
	}
	return out
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
