package scraper

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"drksrch/internal/config"
)

// Archive keeps the raw HTML of every successful fetch in object storage.
// The catalogue only stores extracted text; the snapshot is what lets a page
// be re-processed later without re-crawling it.
type Archive struct {
	client *minio.Client
	bucket string
}

// NewArchive connects to MinIO and ensures the snapshot bucket exists.
// Returns (nil, nil) when no endpoint is configured: archiving is optional.
func NewArchive(ctx context.Context, cfg config.MinIOConfig) (*Archive, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	a := &Archive{client: client, bucket: cfg.ArchiveBucket}

	exists, err := client.BucketExists(ctx, a.bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", a.bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", a.bucket, err)
		}
	}

	return a, nil
}

func (a *Archive) Put(ctx context.Context, rawURL string, html []byte) error {
	key := ObjectKey(rawURL)
	reader := bytes.NewReader(html)
	_, err := a.client.PutObject(ctx, a.bucket, key, reader, int64(len(html)), minio.PutObjectOptions{
		ContentType: "text/html",
	})
	if err != nil {
		return fmt.Errorf("putting object %s/%s: %w", a.bucket, key, err)
	}
	return nil
}

// ObjectKey derives a stable snapshot key from a page URL: host and path for
// readability, plus a short hash of the full URL so query strings cannot
// collide.
func ObjectKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Sprintf("unknown/%x.html", sha256.Sum256([]byte(rawURL)))
	}

	path := u.Path
	if path == "" || path == "/" {
		path = "/index"
	}
	path = strings.TrimSuffix(path, "/")

	h := sha256.Sum256([]byte(rawURL))
	return fmt.Sprintf("%s%s_%x.html", u.Host, path, h[:8])
}
