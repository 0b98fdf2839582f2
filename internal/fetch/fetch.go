// Package fetch loads url-backed datasets from the local filesystem or over
// HTTP and decodes them into tables.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/vk/pretransform/internal/ctxlog"
	"github.com/vk/pretransform/internal/spec"
	"github.com/vk/pretransform/internal/table"
)

// DefaultMaxBytes caps the size of a fetched document.
const DefaultMaxBytes = 64 << 20

// Loader resolves dataset urls. Relative paths and file:// urls are read
// under BaseDir; http(s) urls are fetched only when AllowHTTP is set.
type Loader struct {
	Client    *http.Client
	BaseDir   string
	AllowHTTP bool
	MaxBytes  int64
}

// NewHTTPClient creates the client used for remote datasets.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// New creates a Loader reading files under baseDir.
func New(baseDir string, allowHTTP bool, client *http.Client) *Loader {
	if client == nil {
		client = NewHTTPClient(30 * time.Second)
	}
	return &Loader{Client: client, BaseDir: baseDir, AllowHTTP: allowHTTP, MaxBytes: DefaultMaxBytes}
}

// Close releases idle HTTP connections.
func (l *Loader) Close() {
	if l.Client != nil {
		l.Client.CloseIdleConnections()
	}
}

// Fetch loads the document at rawURL and decodes it according to format.
func (l *Loader) Fetch(ctx context.Context, rawURL string, format *spec.Format) (*table.Table, error) {
	logger := ctxlog.FromContext(ctx).With("url", rawURL)

	body, err := l.read(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	kind := formatType(rawURL, format)
	logger.Debug("Fetched dataset.", "bytes", len(body), "format", kind)

	var property string
	if format != nil {
		property = format.Property
	}
	switch kind {
	case "json":
		return decodeJSON(body, property)
	case "csv":
		return decodeDelimited(body, ',')
	case "tsv":
		return decodeDelimited(body, '\t')
	}
	return nil, fmt.Errorf("unsupported data format %q", kind)
}

func (l *Loader) read(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		if !l.AllowHTTP {
			return nil, fmt.Errorf("remote url %q is not allowed", rawURL)
		}
		return l.get(ctx, rawURL)
	case "file":
		return l.readFile(u.Path)
	case "":
		return l.readFile(rawURL)
	}
	return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
}

func (l *Loader) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", rawURL, resp.Status)
	}
	return l.readAll(resp.Body)
}

func (l *Loader) readFile(name string) ([]byte, error) {
	name = filepath.FromSlash(path.Clean("/" + name))
	full := filepath.Join(l.BaseDir, name)
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer f.Close()
	return l.readAll(f)
}

func (l *Loader) readAll(r io.Reader) ([]byte, error) {
	limit := l.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("dataset exceeds %d bytes", limit)
	}
	return body, nil
}

// formatType picks the declared format type, falling back to the url's
// file extension and then to json.
func formatType(rawURL string, format *spec.Format) string {
	if format != nil && format.Type != "" {
		return strings.ToLower(format.Type)
	}
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".csv":
		return "csv"
	case ".tsv":
		return "tsv"
	}
	return "json"
}
