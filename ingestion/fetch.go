package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultFetchTimeout = 30 * time.Second

// Fetcher retrieves a document by URL or path.
type Fetcher interface {
	Fetch(ctx context.Context, reference string) (*Document, error)
}

// HTTPFetcher fetches documents over HTTP(S).
type HTTPFetcher struct {
	client *resty.Client
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates an HTTP fetcher. A non-positive timeout uses the default.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "text/html, text/markdown, text/plain, application/xml;q=0.9, */*;q=0.8").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= 500)
		})
	return &HTTPFetcher{client: client}
}

// Fetch downloads the document at reference.
func (f *HTTPFetcher) Fetch(ctx context.Context, reference string) (*Document, error) {
	resp, err := f.client.R().SetContext(ctx).Get(reference)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, reference, err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, reference)
	case code >= 400:
		return nil, fmt.Errorf("%w: %s: %s", ErrFetchFailed, reference, resp.Status())
	}

	contentType := resp.Header().Get("Content-Type")
	return &Document{
		Reference: reference,
		Raw:       resp.String(),
		IsHTML:    strings.Contains(strings.ToLower(contentType), "html"),
	}, nil
}

// FileFetcher reads documents from the local filesystem.
type FileFetcher struct{}

var _ Fetcher = FileFetcher{}

// Fetch reads the file at reference. Files ending in .html or .htm are treated as HTML.
func (FileFetcher) Fetch(ctx context.Context, reference string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(reference)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, reference)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, reference, err)
	}
	ext := strings.ToLower(filepath.Ext(reference))
	return &Document{
		Reference: reference,
		Raw:       string(data),
		IsHTML:    ext == ".html" || ext == ".htm",
	}, nil
}

// RoutingFetcher sends http and https references to HTTP and everything else to Files.
type RoutingFetcher struct {
	HTTP  Fetcher
	Files Fetcher
}

var _ Fetcher = (*RoutingFetcher)(nil)

// NewRoutingFetcher creates a fetcher for both URLs and local paths.
func NewRoutingFetcher(timeout time.Duration) *RoutingFetcher {
	return &RoutingFetcher{HTTP: NewHTTPFetcher(timeout), Files: FileFetcher{}}
}

// Fetch dispatches on the reference scheme.
func (f *RoutingFetcher) Fetch(ctx context.Context, reference string) (*Document, error) {
	if isURL(reference) {
		return f.HTTP.Fetch(ctx, reference)
	}
	return f.Files.Fetch(ctx, reference)
}

func isURL(reference string) bool {
	lower := strings.ToLower(reference)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
