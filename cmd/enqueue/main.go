// cmd/enqueue publishes ProcessRequested jobs for photos or content ids.
// It is a dry run unless -dry-run=false is given.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/elihugi89/aistyler/internal/bus"
	"github.com/elihugi89/aistyler/internal/config"
	"github.com/elihugi89/aistyler/internal/imageref"
	"github.com/elihugi89/aistyler/pkg/schema"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	dryRun := flag.Bool("dry-run", true, "Log the jobs without publishing them")
	subject := flag.String("subject", "", "Job subject (default: PROCESS_SUBJECT)")
	stages := flag.String("stages", "", "Comma-separated stage names to run (default: all)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config", err)
	}
	if *subject == "" {
		*subject = cfg.JobSubject
	}

	now := time.Now()
	jobs := make([]schema.ProcessRequested, 0, flag.NArg())
	for _, arg := range flag.Args() {
		job, err := buildJob(arg, splitList(*stages), now)
		if err != nil {
			fatal(logger, "build job", err, "input", arg)
		}
		jobs = append(jobs, job)
	}
	if len(jobs) == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one image path, URL or content id is required")
		flag.Usage()
		os.Exit(2)
	}

	logger.Info("enqueue starting", "subject", *subject, "jobs", len(jobs), "dry_run", *dryRun)

	if *dryRun {
		for _, job := range jobs {
			logger.Info("would publish job", "job_id", job.ID, "image", job.Image, "content_id", job.ContentID, "stages", job.Stages)
		}
		return
	}

	nc, err := bus.Connect(cfg.NATSURL, "aistyler-enqueue")
	if err != nil {
		fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
	}
	defer nc.Close()

	published := 0
	for _, job := range jobs {
		if err := nc.PublishJSON(*subject, job); err != nil {
			logger.Error("publish job failed", "job_id", job.ID, "err", err)
			continue
		}
		published++
		logger.Info("published job", "job_id", job.ID, "image", job.Image, "content_id", job.ContentID)
	}
	if err := nc.Flush(5 * time.Second); err != nil {
		fatal(logger, "flush NATS", err)
	}

	logger.Info("enqueue finished", "published", published, "failed", len(jobs)-published)
	if published < len(jobs) {
		os.Exit(1)
	}
}

// buildJob turns one CLI argument into a job. Bare UUIDs and content://
// references become content jobs; local paths are made absolute so a worker
// on the same host can read them.
func buildJob(arg string, stages []string, now time.Time) (schema.ProcessRequested, error) {
	job := schema.ProcessRequested{
		ID:         uuid.NewString(),
		Stages:     stages,
		HappenedAt: now.Unix(),
	}

	if id, err := uuid.Parse(arg); err == nil {
		job.ContentID = id.String()
		return job, nil
	}

	ref, err := imageref.Parse(arg)
	if err != nil {
		return schema.ProcessRequested{}, err
	}
	switch ref.Kind() {
	case imageref.KindContent:
		id, _ := ref.ContentID()
		job.ContentID = id.String()
	case imageref.KindFile:
		abs, err := filepath.Abs(ref.Value())
		if err != nil {
			return schema.ProcessRequested{}, fmt.Errorf("resolve %s: %w", arg, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return schema.ProcessRequested{}, fmt.Errorf("stat %s: %w", abs, err)
		}
		job.Image = abs
		job.Filename = filepath.Base(abs)
	default:
		job.Image = ref.String()
	}
	return job, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
