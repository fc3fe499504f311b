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

package folio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/ai/openai"
	"github.com/poiesic/folio/config"
	"github.com/poiesic/folio/generation"
	"github.com/poiesic/folio/ingestion"
	"github.com/poiesic/folio/search"
	"github.com/poiesic/folio/segment"
	"github.com/poiesic/folio/storage"
	"github.com/poiesic/folio/storage/badger"
	"github.com/poiesic/folio/storage/qdrant"
)

// Folio wires a vector store, an AI provider and the pipeline components
// built over them.
type Folio struct {
	store     storage.VectorStore
	provider  ai.AIProvider
	pipeline  *ingestion.Pipeline
	retriever *search.Retriever
	engine    *generation.Engine
	cfg       *config.Config
	logger    *slog.Logger
}

// Option configures Open.
type Option func(*options)

type options struct {
	store           storage.VectorStore
	provider        ai.AIProvider
	logger          *slog.Logger
	pipelineOptions []ingestion.Option
}

// WithStore uses store instead of the one named by the config.
// The returned Folio takes ownership and closes it.
func WithStore(store storage.VectorStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithProvider uses provider instead of an OpenAI-compatible one built from the config.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithPipelineOptions appends options applied to the ingestion pipeline
// after those derived from the config.
func WithPipelineOptions(opts ...ingestion.Option) Option {
	return func(o *options) {
		o.pipelineOptions = append(o.pipelineOptions, opts...)
	}
}

// Open validates cfg, connects the store and provider, and ensures the
// collection exists with the provider's dimension.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Folio, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	f := &Folio{cfg: cfg, store: o.store, provider: o.provider, logger: o.logger.With("component", "folio")}
	if err := f.open(ctx, o); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			f.logger.Error("error closing after failed open", "err", closeErr)
		}
		return nil, err
	}
	return f, nil
}

func (f *Folio) open(ctx context.Context, o *options) error {
	logger := o.logger
	var err error
	if f.store == nil {
		if f.store, err = openStore(f.cfg.Store, logger); err != nil {
			return err
		}
	}
	if f.provider == nil {
		if f.provider, err = openai.NewProvider(f.cfg.AIConfig()); err != nil {
			return err
		}
	}

	segmenter, err := segment.New(
		segment.WithMaxChars(f.cfg.Segment.MaxChars),
		segment.WithOverlap(f.cfg.Segment.Overlap),
	)
	if err != nil {
		return err
	}

	embedder := f.provider.Embedder()
	pipelineOpts := append([]ingestion.Option{
		ingestion.WithSegmenter(segmenter),
		ingestion.WithCollection(f.cfg.Store.Collection),
		ingestion.WithPoolSize(f.cfg.Ingestion.Workers),
		ingestion.WithFetcher(ingestion.NewRoutingFetcher(f.cfg.Ingestion.FetchTimeout)),
		ingestion.WithLogger(logger),
	}, o.pipelineOptions...)
	f.pipeline, err = ingestion.NewPipeline(f.store, embedder, pipelineOpts...)
	if err != nil {
		return err
	}
	if err := f.pipeline.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensure collection %q: %w", f.cfg.Store.Collection, err)
	}

	f.retriever, err = search.NewRetriever(embedder, f.store,
		search.WithCollection(f.cfg.Store.Collection),
		search.WithDefaultK(f.cfg.Retrieval.K),
		search.WithMinScore(f.cfg.Retrieval.MinScore),
		search.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	f.engine, err = generation.NewEngine(f.retriever, f.provider.ChatModel(),
		generation.WithK(f.cfg.Retrieval.K),
		generation.WithMaxToolRounds(f.cfg.Generation.MaxToolRounds),
		generation.WithCallTimeout(f.cfg.Generation.CallTimeout),
		generation.WithTemperature(f.cfg.Generation.Temperature),
		generation.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	f.logger.Info("opened", "store", f.cfg.Store.Kind, "collection", f.cfg.Store.Collection, "dimension", embedder.Dimension())
	return nil
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) (storage.VectorStore, error) {
	switch cfg.Kind {
	case config.StoreBadger:
		backend, err := badger.OpenBackend(cfg.Path, false, logger)
		if err != nil {
			return nil, err
		}
		return badger.NewStore(backend), nil
	case config.StoreQdrant:
		return qdrant.NewStore(qdrant.Config{
			URL:     cfg.URL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown store kind %q", config.ErrInvalidConfig, cfg.Kind)
	}
}

// Close releases the pipeline, the provider and the store, in that order.
func (f *Folio) Close() error {
	var errs []error
	if f.pipeline != nil {
		f.pipeline.Release()
	}
	if f.provider != nil {
		if err := f.provider.Close(); err != nil {
			f.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if f.store != nil {
		if err := f.store.Close(); err != nil {
			f.logger.Error("error closing vector store", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Store returns the vector store.
func (f *Folio) Store() storage.VectorStore {
	return f.store
}

// Provider returns the AI provider.
func (f *Folio) Provider() ai.AIProvider {
	return f.provider
}

// Pipeline returns the ingestion pipeline.
func (f *Folio) Pipeline() *ingestion.Pipeline {
	return f.pipeline
}

// Retriever returns the retriever.
func (f *Folio) Retriever() *search.Retriever {
	return f.retriever
}

// Engine returns the answer engine.
func (f *Folio) Engine() *generation.Engine {
	return f.engine
}

// Collection returns the name of the collection in use.
func (f *Folio) Collection() string {
	return f.cfg.Store.Collection
}

// Count returns the number of chunks stored in the collection.
func (f *Folio) Count(ctx context.Context) (int, error) {
	return f.store.Count(ctx, f.cfg.Store.Collection)
}
