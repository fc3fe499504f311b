// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/folio"
	"github.com/poiesic/folio/config"
	"github.com/poiesic/folio/generation"
	"github.com/poiesic/folio/ingestion"
	"github.com/poiesic/folio/reembed"
	"github.com/poiesic/folio/search"
	"github.com/poiesic/folio/server"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "folio",
		Usage: "Answer questions about a textbook from its own text",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file (default ./folio.yaml, then ~/.config/folio/folio.yaml)",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from this file before reading the config",
				Value: ".env",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Segment, embed and store documents",
				ArgsUsage: "[path or URL...]",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "sitemap",
						Usage: "Ingest every page listed in this sitemap.xml URL",
					},
					&cli.BoolFlag{
						Name:  "progress",
						Usage: "Print progress to stderr",
					},
				},
			},
			{
				Name:      "query",
				Usage:     "Answer a question from the ingested textbook",
				ArgsUsage: "<question>",
				Action:    queryCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "verbose",
						Aliases: []string{"v"},
						Usage:   "Print retrieval details and state transitions to stderr",
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Re-embed a collection with the configured embedding model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "from",
						Usage: "Source collection (default retrieval.collection)",
					},
					&cli.StringFlag{
						Name:     "to",
						Usage:    "Target collection, created with the embedder's dimension",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Records embedded per request",
						Value: reembed.DefaultBatchSize,
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (overrides server.addr)",
					},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

// loadConfig loads the env file, if present, and then the config file.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if envFile := c.String("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	cfg, path, err := config.LoadDefault()
	if err != nil {
		return nil, err
	}
	if path != "" {
		slog.Debug("loaded config", "path", path)
	}
	return cfg, nil
}

func openFolio(c *cli.Context, opts ...folio.Option) (*folio.Folio, *config.Config, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	f, err := folio.Open(c.Context, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	return f, cfg, nil
}

func ingestCommand(c *cli.Context) error {
	sitemap := c.String("sitemap")
	refs := c.Args().Slice()
	if sitemap == "" && len(refs) == 0 {
		return errors.New("nothing to ingest: pass paths, URLs or --sitemap")
	}

	var opts []folio.Option
	if c.Bool("progress") {
		opts = append(opts, folio.WithPipelineOptions(ingestion.WithProgress(ingestion.NewProgressTracker(os.Stderr))))
	}
	f, _, err := openFolio(c, opts...)
	if err != nil {
		return err
	}
	defer f.Close()

	report := &ingestion.Report{}
	if sitemap != "" {
		r, err := f.Pipeline().IngestSitemap(c.Context, sitemap)
		if err != nil {
			return err
		}
		report.Documents = append(report.Documents, r.Documents...)
	}
	if len(refs) > 0 {
		r, err := f.Pipeline().IngestRefs(c.Context, refs...)
		if err != nil {
			return err
		}
		report.Documents = append(report.Documents, r.Documents...)
	}

	for _, doc := range report.Documents {
		if doc.Err != nil {
			fmt.Fprintf(c.App.Writer, "%-7s %s (%d/%d chunks): %v\n", doc.Status, doc.Reference, doc.Stored, doc.Chunks, doc.Err)
			continue
		}
		fmt.Fprintf(c.App.Writer, "%-7s %s (%d/%d chunks)\n", doc.Status, doc.Reference, doc.Stored, doc.Chunks)
	}
	fmt.Fprintf(c.App.Writer, "\n%d chunks stored from %d documents (%d skipped, %d failed)\n",
		report.ChunksStored(), report.Count(ingestion.StatusStored),
		report.Count(ingestion.StatusSkipped), report.Count(ingestion.StatusFailed))

	if len(report.Documents) > 0 && report.Count(ingestion.StatusFailed) == len(report.Documents) {
		return errors.New("every document failed to ingest")
	}
	return nil
}

func queryCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return errors.New("a question is required")
	}

	f, _, err := openFolio(c)
	if err != nil {
		return err
	}
	defer f.Close()

	var opts []generation.AnswerOption
	if c.Bool("verbose") {
		if _, err := f.Retriever().RetrieveWithMonitor(c.Context, question, 0, search.NewWriterMonitor(os.Stderr)); err != nil {
			return err
		}
		opts = append(opts, generation.WithObserver(func(from, to generation.State) {
			fmt.Fprintf(os.Stderr, "state: %s -> %s\n", from, to)
		}))
	}

	answer, err := f.Engine().Answer(c.Context, question, opts...)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, answer.Text)
	if len(answer.Sources) > 0 {
		fmt.Fprintln(c.App.Writer, "\nSources:")
		for _, src := range answer.Sources {
			fmt.Fprintf(c.App.Writer, "  %s\n    %s\n", src.SourceReference, src.Snippet)
		}
	}
	return nil
}

func reembedCommand(c *cli.Context) error {
	f, _, err := openFolio(c)
	if err != nil {
		return err
	}
	defer f.Close()

	store, ok := f.Store().(reembed.Store)
	if !ok {
		return fmt.Errorf("store %T cannot be scanned", f.Store())
	}
	source := c.String("from")
	if source == "" {
		source = f.Collection()
	}

	cfg := reembed.DefaultConfig()
	cfg.BatchSize = c.Int("batch-size")
	r, err := reembed.NewReembedder(store, f.Provider().Embedder(), cfg, os.Stderr)
	if err != nil {
		return err
	}
	result, err := r.Run(c.Context, source, c.String("to"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%d records re-embedded into %q\n", result.Records, c.String("to"))
	return nil
}

func serveCommand(c *cli.Context) error {
	f, cfg, err := openFolio(c)
	if err != nil {
		return err
	}
	defer f.Close()

	addr := cfg.Server.Addr
	if c.IsSet("addr") {
		addr = c.String("addr")
	}
	srv := server.New(f.Engine(), f.Pipeline(), f, server.WithLogger(slog.Default()))

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
