// cmd/process runs the photo pipeline locally against one or more images,
// without NATS or content storage.
//
// Usage:
//
//	./process -out ./data/processed shirt.jpg jeans.png
//	./process -stages "Background Removal=removebg|huggingface;Normalize=normalize" shirt.jpg
//	./process -check          # validate vendor credentials only
//	./process -json shirt.jpg # machine-readable results
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"github.com/elihugi89/aistyler/internal/config"
	"github.com/elihugi89/aistyler/internal/imageref"
	"github.com/elihugi89/aistyler/internal/pipeline"
	"github.com/elihugi89/aistyler/internal/provider"
)

func main() {
	_ = godotenv.Load()

	outDir := flag.String("out", "", "Directory for processed images (default: WORK_DIR)")
	stages := flag.String("stages", "", `Stage override, e.g. "Background Removal=removebg|huggingface"`)
	concurrency := flag.Int("concurrency", 2, "Photos processed in parallel")
	check := flag.Bool("check", false, "Validate provider credentials and exit")
	asJSON := flag.Bool("json", false, "Print results as JSON")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall timeout")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config", err)
	}
	if *outDir != "" {
		cfg.WorkDir = *outDir
	}
	if *stages != "" {
		defs, err := config.ParseStages(*stages)
		if err != nil {
			fatal(logger, "parse -stages", err)
		}
		cfg.Stages = defs
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	conv := imageref.NewConverter(cfg.WorkDir,
		imageref.WithHTTPClient(httpClient),
		imageref.WithMaxBytes(cfg.MaxImageBytes))
	registry := provider.NewRegistry(cfg.Providers, conv, httpClient, logger)

	if *check {
		if !checkCredentials(ctx, os.Stdout, registry, stageProviders(cfg.Stages)) {
			os.Exit(1)
		}
		return
	}

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one image is required")
		flag.Usage()
		os.Exit(2)
	}

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		fatal(logger, "ensure output directory", err, "dir", cfg.WorkDir)
	}

	pl, err := pipeline.Build(cfg.Stages, registry,
		pipeline.WithPolicy(cfg.Retry),
		pipeline.WithLogger(logger))
	if err != nil {
		fatal(logger, "build pipeline", err)
	}

	results, err := runAll(ctx, pl, flag.Args(), *concurrency)
	if err != nil {
		fatal(logger, "invalid input", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			fatal(logger, "encode results", err)
		}
	} else {
		printResults(os.Stdout, flag.Args(), results)
	}

	for _, r := range results {
		if !r.Success {
			os.Exit(1)
		}
	}
}

// runAll parses every input up front, then runs the pipeline on up to
// limit photos at a time. Results keep the input order.
func runAll(ctx context.Context, pl *pipeline.Pipeline, inputs []string, limit int) ([]pipeline.Result, error) {
	refs := make([]imageref.Ref, len(inputs))
	for i, in := range inputs {
		ref, err := imageref.Parse(in)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", in, err)
		}
		refs[i] = ref
	}

	if limit < 1 {
		limit = 1
	}
	results := make([]pipeline.Result, len(refs))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, ref := range refs {
		g.Go(func() error {
			results[i] = pl.Run(ctx, ref)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// checkCredentials validates the named providers and prints one line each.
func checkCredentials(ctx context.Context, w io.Writer, registry *provider.Registry, names []string) bool {
	if len(names) == 0 {
		fmt.Fprintln(w, "no providers configured")
		return true
	}
	results := registry.Validate(ctx, names...)
	names = make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	ok := true
	for _, name := range names {
		if err := results[name]; err != nil {
			ok = false
			fmt.Fprintf(w, "FAIL  %-12s %v\n", name, err)
			continue
		}
		fmt.Fprintf(w, "OK    %-12s\n", name)
	}
	return ok
}

// stageProviders lists every provider named by defs once, in first-use order.
func stageProviders(defs []pipeline.StageDef) []string {
	seen := make(map[string]bool)
	var names []string
	for _, d := range defs {
		for _, p := range d.Providers {
			p = strings.ToLower(strings.TrimSpace(p))
			if p != "" && !seen[p] {
				seen[p] = true
				names = append(names, p)
			}
		}
	}
	return names
}

func printResults(w io.Writer, inputs []string, results []pipeline.Result) {
	for i, r := range results {
		if r.Success {
			fmt.Fprintf(w, "OK    %s -> %s (%v)\n", inputs[i], displayRef(r.Final()), r.Duration.Round(time.Millisecond))
		} else {
			fmt.Fprintf(w, "FAIL  %s: %s\n", inputs[i], r.Error)
		}
		for _, s := range r.Steps {
			line := fmt.Sprintf("      %-24s %-10s %3d%%", s.Name, s.Status, s.Progress)
			if s.Provider != "" {
				line += "  via " + s.Provider
			}
			if s.Error != "" {
				line += "  " + s.Error
			}
			fmt.Fprintln(w, line)
		}
	}
}

// displayRef keeps inline images from flooding the terminal.
func displayRef(ref imageref.Ref) string {
	s := ref.String()
	if ref.Kind() == imageref.KindData && len(s) > 48 {
		if i := strings.Index(s, ","); i > 0 {
			return s[:i+1] + "..."
		}
	}
	return s
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
