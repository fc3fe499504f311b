package qdrant

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

const (
	defaultTimeout = 15 * time.Second
	defaultRetries = 2

	distanceCosine = "Cosine"
)

// Config holds connection settings for a Qdrant server.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Retries int // transport retries for 5xx and network errors; 0 means default, negative disables
}

// Store implements storage.VectorStore against the Qdrant REST API.
type Store struct {
	client *resty.Client
	logger *slog.Logger

	mu          sync.RWMutex
	collections map[string]core.Collection // parameters never change once created
	closed      bool
}

var (
	_ storage.VectorStore = (*Store)(nil)
	_ storage.Scanner     = (*Store)(nil)
)

// NewStore creates a Qdrant-backed store. No request is made until first use.
func NewStore(cfg Config, logger *slog.Logger) (*Store, error) {
	base := strings.TrimRight(cfg.URL, "/")
	if base == "" {
		return nil, fmt.Errorf("%w: qdrant url is required", core.ErrInput)
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("%w: qdrant url: %w", core.ErrInput, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.Retries
	switch {
	case retries == 0:
		retries = defaultRetries
	case retries < 0:
		retries = 0
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(retries).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryCondition)
	if cfg.APIKey != "" {
		client.SetHeader("api-key", cfg.APIKey)
	}

	return &Store{
		client:      client,
		logger:      logger.With("component", "qdrant"),
		collections: make(map[string]core.Collection),
	}, nil
}

// retryCondition retries network failures and server-side errors.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests
}

// apiError is the error body Qdrant returns on failure.
type apiError struct {
	Status struct {
		Error string `json:"error"`
	} `json:"status"`
}

type collectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

type pointPayload struct {
	Text            string            `json:"text"`
	SourceReference string            `json:"source_reference"`
	Position        int               `json:"position"`
	ContentType     string            `json:"content_type,omitempty"`
	Title           string            `json:"title,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
}

func (p pointPayload) toCore() core.Payload {
	return core.Payload{
		Text:            p.Text,
		SourceReference: p.SourceReference,
		Position:        p.Position,
		ContentType:     core.ContentType(p.ContentType),
		Title:           p.Title,
		Extra:           p.Extra,
	}
}

type point struct {
	ID      uint64       `json:"id"`
	Vector  []float32    `json:"vector"`
	Payload pointPayload `json:"payload"`
}

type scoredPoint struct {
	ID      uint64       `json:"id"`
	Score   float32      `json:"score"`
	Vector  []float32    `json:"vector"`
	Payload pointPayload `json:"payload"`
}

// Close marks the store closed. The HTTP client holds no server-side state.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// EnsureCollection creates the collection if absent, or verifies its parameters.
func (s *Store) EnsureCollection(ctx context.Context, name string, dimension int, metric core.Metric) error {
	want := core.Collection{Name: name, Dimension: dimension, Metric: metric}
	if err := core.ValidateCollection(want); err != nil {
		return err
	}

	have, err := s.DescribeCollection(ctx, name)
	if err == nil {
		return storage.CheckSchema(want, have)
	}
	if !errors.Is(err, storage.ErrCollectionNotFound) {
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": distanceCosine,
		},
	}
	err = s.do(ctx, http.MethodPut, collectionPath(name), body, nil)
	if err != nil {
		// Lost a creation race: compare against what the winner created.
		if have, descErr := s.DescribeCollection(ctx, name); descErr == nil {
			return storage.CheckSchema(want, have)
		}
		return err
	}
	s.remember(want)
	s.logger.Info("created collection", "collection", name, "dimension", dimension, "metric", metric)
	return nil
}

// DescribeCollection returns the parameters of an existing collection.
func (s *Store) DescribeCollection(ctx context.Context, name string) (core.Collection, error) {
	s.mu.RLock()
	c, ok := s.collections[name]
	s.mu.RUnlock()
	if ok {
		return c, nil
	}

	var info collectionInfo
	if err := s.do(ctx, http.MethodGet, collectionPath(name), nil, &info); err != nil {
		return core.Collection{}, err
	}
	vectors := info.Result.Config.Params.Vectors
	c = core.Collection{Name: name, Dimension: vectors.Size, Metric: metricFromDistance(vectors.Distance)}
	s.remember(c)
	return c, nil
}

// Upsert writes points with wait=true so they are searchable on return.
func (s *Store) Upsert(ctx context.Context, collection string, records ...core.Record) error {
	if len(records) == 0 {
		return nil
	}
	c, err := s.DescribeCollection(ctx, collection)
	if err != nil {
		return err
	}

	points := make([]point, 0, len(records))
	for i := range records {
		r := &records[i]
		if err := storage.ValidateRecord(c, r); err != nil {
			return err
		}
		points = append(points, point{
			ID:     uint64(r.Id),
			Vector: r.Vector,
			Payload: pointPayload{
				Text:            r.Payload.Text,
				SourceReference: r.Payload.SourceReference,
				Position:        r.Payload.Position,
				ContentType:     string(r.Payload.ContentType),
				Title:           r.Payload.Title,
				Extra:           r.Payload.Extra,
			},
		})
	}
	body := map[string]any{"points": points}
	return s.do(ctx, http.MethodPut, collectionPath(collection)+"/points?wait=true", body, nil)
}

// Query returns up to k records ranked by cosine similarity.
func (s *Store) Query(ctx context.Context, collection string, vector []float32, k int) ([]core.ScoredRecord, error) {
	c, err := s.DescribeCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if err := storage.ValidateQuery(c, vector, k); err != nil {
		return nil, err
	}

	request := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"with_vector":  true,
	}
	var response struct {
		Result []scoredPoint `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, collectionPath(collection)+"/points/search", request, &response); err != nil {
		return nil, err
	}

	results := make([]core.ScoredRecord, 0, len(response.Result))
	for _, p := range response.Result {
		results = append(results, core.ScoredRecord{
			Record: core.Record{
				Id:      core.ID(p.ID),
				Vector:  p.Vector,
				Payload: p.Payload.toCore(),
			},
			Score: p.Score,
		})
	}
	slices.SortStableFunc(results, func(a, b core.ScoredRecord) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.Record.Id, b.Record.Id)
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Count returns the exact number of points in the collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var response struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	body := map[string]any{"exact": true}
	if err := s.do(ctx, http.MethodPost, collectionPath(collection)+"/points/count", body, &response); err != nil {
		return 0, err
	}
	return response.Result.Count, nil
}

// DeleteBySource removes the points of one source document that are not in
// keep. Qdrant does not report how many points a filtered delete removed, so
// they are counted with the same filter first.
func (s *Store) DeleteBySource(ctx context.Context, collection, sourceReference string, keep ...core.ID) (int, error) {
	if sourceReference == "" {
		return 0, fmt.Errorf("%w: source reference is required", storage.ErrInvalidQuery)
	}
	filter := staleFilter(sourceReference, keep)

	var counted struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	body := map[string]any{"filter": filter, "exact": true}
	if err := s.do(ctx, http.MethodPost, collectionPath(collection)+"/points/count", body, &counted); err != nil {
		return 0, err
	}
	if counted.Result.Count == 0 {
		return 0, nil
	}
	body = map[string]any{"filter": filter}
	if err := s.do(ctx, http.MethodPost, collectionPath(collection)+"/points/delete?wait=true", body, nil); err != nil {
		return 0, err
	}
	return counted.Result.Count, nil
}

func staleFilter(sourceReference string, keep []core.ID) map[string]any {
	filter := map[string]any{
		"must": []any{
			map[string]any{"key": "source_reference", "match": map[string]any{"value": sourceReference}},
		},
	}
	if len(keep) > 0 {
		ids := make([]uint64, len(keep))
		for i, id := range keep {
			ids[i] = uint64(id)
		}
		filter["must_not"] = []any{map[string]any{"has_id": ids}}
	}
	return filter
}

// Scan pages through the collection with the scroll API, which returns
// points in ascending ID order.
func (s *Store) Scan(ctx context.Context, collection string, batchSize int, fn func([]core.Record) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", storage.ErrInvalidQuery, batchSize)
	}
	var offset *uint64
	for {
		request := map[string]any{
			"limit":        batchSize,
			"with_payload": true,
			"with_vector":  true,
		}
		if offset != nil {
			request["offset"] = *offset
		}
		var response struct {
			Result struct {
				Points         []point `json:"points"`
				NextPageOffset *uint64 `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := s.do(ctx, http.MethodPost, collectionPath(collection)+"/points/scroll", request, &response); err != nil {
			return err
		}

		points := response.Result.Points
		if len(points) == 0 {
			return nil
		}
		batch := make([]core.Record, len(points))
		for i, p := range points {
			batch[i] = core.Record{Id: core.ID(p.ID), Vector: p.Vector, Payload: p.Payload.toCore()}
		}
		if err := fn(batch); err != nil {
			return err
		}
		if response.Result.NextPageOffset == nil {
			return nil
		}
		offset = response.Result.NextPageOffset
	}
}

func (s *Store) remember(c core.Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[c.Name] = c
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// do performs a JSON request and maps failures onto the store error taxonomy.
func (s *Store) do(ctx context.Context, method, path string, body, result any) error {
	if s.isClosed() {
		return storage.ErrStorageClosed
	}

	req := s.client.R().SetContext(ctx).SetError(&apiError{})
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: qdrant %s %s: %w", core.ErrStoreUnavailable, method, path, err)
	}
	s.logger.Debug("qdrant request completed", "method", method, "path", path, "status", resp.StatusCode())

	code := resp.StatusCode()
	if code < 400 {
		return nil
	}
	msg := resp.Status()
	if apiErr, ok := resp.Error().(*apiError); ok && apiErr != nil && apiErr.Status.Error != "" {
		msg = apiErr.Status.Error
	}
	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", storage.ErrCollectionNotFound, msg)
	case code >= 500 || code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: qdrant %s %s (%d): %s", core.ErrStoreUnavailable, method, path, code, msg)
	case strings.Contains(strings.ToLower(msg), "dimension"):
		return fmt.Errorf("%w: %s", core.ErrDimensionMismatch, msg)
	default:
		return fmt.Errorf("%w: qdrant %s %s (%d): %s", core.ErrStore, method, path, code, msg)
	}
}

func collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

func metricFromDistance(distance string) core.Metric {
	if strings.EqualFold(distance, distanceCosine) {
		return core.MetricCosine
	}
	return core.Metric(strings.ToLower(distance))
}
