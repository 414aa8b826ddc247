package reference

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/noteindex/noteindex/internal/metrics"
	"github.com/noteindex/noteindex/internal/storage"
)

var namePart = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// S3Config holds credentials for s3:// dataset locations
type S3Config struct {
	Endpoint  string // host[:port], no scheme
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Source describes where a dataset version is published
type Source struct {
	URL      string // http(s)://... or s3://bucket/key
	Provider string // embedding provider the dataset was built with
	Version  string
}

// Fetcher downloads reference datasets once into the storage root and opens
// them read-only
type Fetcher struct {
	root       string
	s3         S3Config
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex
	datasets map[string]*Dataset
}

// NewFetcher creates a Fetcher storing datasets under root
func NewFetcher(root string, s3 S3Config, logger *zap.Logger, m *metrics.Metrics) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		root: root,
		s3:   s3,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		logger:   logger.With(zap.String("component", "reference")),
		metrics:  m,
		datasets: make(map[string]*Dataset),
	}
}

// FileName is the on-disk name of a dataset version
func FileName(provider, version string) string {
	return fmt.Sprintf("reference-%s-%s.db", provider, version)
}

// Ensure returns the dataset for src, downloading it on first use
func (f *Fetcher) Ensure(ctx context.Context, src Source) (*Dataset, error) {
	if !namePart.MatchString(src.Provider) || !namePart.MatchString(src.Version) {
		return nil, fmt.Errorf("invalid reference dataset provider %q or version %q", src.Provider, src.Version)
	}
	name := FileName(src.Provider, src.Version)

	f.mu.Lock()
	defer f.mu.Unlock()

	if ds, ok := f.datasets[name]; ok {
		return ds, nil
	}

	path := filepath.Join(f.root, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := f.download(ctx, src.URL, path); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	db, err := storage.OpenReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference dataset: %w", err)
	}

	ds := &Dataset{db: db, path: path, provider: src.Provider, version: src.Version, metrics: f.metrics}
	if _, err := ds.Count(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("invalid reference dataset %s: %w", name, err)
	}
	f.datasets[name] = ds
	return ds, nil
}

// Close closes every opened dataset
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for name, ds := range f.datasets {
		if err := ds.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(f.datasets, name)
	}
	return firstErr
}

// download writes the object at rawURL to path. The file only appears
// under its final name once complete.
func (f *Fetcher) download(ctx context.Context, rawURL, path string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid reference dataset url: %w", err)
	}

	var body io.ReadCloser
	switch u.Scheme {
	case "http", "https":
		body, err = f.openHTTP(ctx, rawURL)
	case "s3":
		body, err = f.openS3(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	default:
		return fmt.Errorf("unsupported reference dataset scheme %q", u.Scheme)
	}
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	if err := os.MkdirAll(f.root, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.root, ".reference-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to download reference dataset: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	f.logger.Info("reference dataset downloaded",
		zap.String("url", rawURL),
		zap.String("path", path),
		zap.Int64("bytes", n))
	return nil
}

func (f *Fetcher) openHTTP(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reference dataset: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch reference dataset: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (f *Fetcher) openS3(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if f.s3.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint not configured")
	}
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 url needs a bucket and a key")
	}

	client, err := minio.New(f.s3.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(f.s3.AccessKey, f.s3.SecretKey, ""),
		Secure: f.s3.UseSSL,
		Region: f.s3.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	object, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch s3://%s/%s: %w", bucket, key, err)
	}
	return object, nil
}
