package query

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Compile-time check.
var _ ObjectStore = (*GCSStore)(nil)

// GCSStore writes export objects to Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
}

// NewGCSStore creates a GCS client. credentialsFile is optional; application
// default credentials are used otherwise.
func NewGCSStore(ctx context.Context, credentialsFile string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

// NewWriter opens a CSV object writer. The object is committed on Close.
func (g *GCSStore) NewWriter(ctx context.Context, bucket, object string) (io.WriteCloser, error) {
	w := g.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = "text/csv"
	return w, nil
}

// Close releases the client.
func (g *GCSStore) Close() error { return g.client.Close() }

// parseGCSPath extracts bucket and key from a "gs://bucket/path/to/file" URI.
func parseGCSPath(path string) (bucket, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("parse GCS path %q: %w", path, err)
	}
	if u.Scheme != "gs" {
		return "", "", fmt.Errorf("expected gs:// scheme, got %q in %q", u.Scheme, path)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("GCS path %q needs both bucket and object", path)
	}
	return bucket, key, nil
}
