package gcs

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/postloom/postloom-backend/internal/platform/logger"
)

// Archive receives full provider call payloads for audit, plus generated
// media. Audit writes are best-effort: callers fire them from a goroutine and
// log failures, the generation path never blocks on the archive.
type Archive interface {
	Put(ctx context.Context, key string, content string) error
	PutBytes(ctx context.Context, key string, contentType string, data []byte) (publicURL string, err error)
}

type gcsArchive struct {
	log           *logger.Logger
	client        *storage.Client
	bucket        string
	publicBaseURL string
	timeout       time.Duration
}

func NewArchive(log *logger.Logger) (Archive, error) {
	bucket := strings.TrimSpace(os.Getenv("ARCHIVE_GCS_BUCKET_NAME"))
	if bucket == "" {
		return nil, fmt.Errorf("missing env var ARCHIVE_GCS_BUCKET_NAME")
	}

	publicBaseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("ARCHIVE_PUBLIC_BASE_URL")), "/")
	if publicBaseURL == "" {
		publicBaseURL = "https://storage.googleapis.com/" + bucket
	}

	var opts []option.ClientOption
	if host := strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")); host != "" {
		opts = append(opts, option.WithEndpoint("http://"+host+"/storage/v1/"), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &gcsArchive{
		log:           log.With("service", "Archive"),
		client:        client,
		bucket:        bucket,
		publicBaseURL: publicBaseURL,
		timeout:       30 * time.Second,
	}, nil
}

func (a *gcsArchive) Put(ctx context.Context, key string, content string) error {
	_, err := a.write(ctx, key, "application/json", []byte(content))
	return err
}

func (a *gcsArchive) PutBytes(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	return a.write(ctx, key, contentType, data)
}

func (a *gcsArchive) write(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("archive key required")
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("archive write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("archive close %s: %w", key, err)
	}
	return a.publicBaseURL + "/" + key, nil
}

// NopArchive drops everything. Used in tests and when auditing is disabled.
type NopArchive struct{}

func (NopArchive) Put(ctx context.Context, key string, content string) error { return nil }

func (NopArchive) PutBytes(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	return "", nil
}
