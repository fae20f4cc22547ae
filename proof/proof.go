/*
Package proof stores supporting documents for SICK and MATERNITY requests.

PURPOSE:
  The leave engine only keeps a proof URL. This package uploads the file
  to an S3-compatible object store and returns the URL to submit with.

OBJECT LAYOUT:
  proofs/<yyyy>/<mm>/<dd>/<8 hex chars><ext>

USAGE:
  store, err := proof.NewMinioStore(proof.Config{Endpoint: "localhost:9000", ...})
  url, err := store.Upload(ctx, file, header.Size, header.Filename, contentType)
*/
package proof

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

var (
	ErrEmptyFile    = errors.New("proof file is empty")
	ErrFileTooLarge = errors.New("proof file is too large")
	ErrUnsupported  = errors.New("unsupported proof file type")
)

// AllowedExtensions are the document types accepted as proof.
var AllowedExtensions = map[string]bool{
	".pdf": true, ".png": true, ".jpg": true, ".jpeg": true,
}

// Uploader is what the HTTP layer needs from an object store.
type Uploader interface {
	Upload(ctx context.Context, r io.Reader, size int64, filename, contentType string) (string, error)
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBaseURL is prefixed to bucket/object in returned URLs. Defaults
	// to the endpoint with the matching scheme.
	PublicBaseURL string
	MaxBytes      int64
}

// MinioStore uploads proofs with minio-go.
type MinioStore struct {
	client *minio.Client
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func NewMinioStore(cfg Config, logger *zap.Logger) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	if cfg.PublicBaseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		cfg.PublicBaseURL = scheme + "://" + cfg.Endpoint
	}
	if logger == nil {
		logger = zap.L().Named("proof")
	}
	return &MinioStore{client: client, cfg: cfg, logger: logger, now: time.Now}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	s.logger.Info("bucket created", zap.String("bucket", s.cfg.Bucket))
	return nil
}

func (s *MinioStore) Upload(ctx context.Context, r io.Reader, size int64, filename, contentType string) (string, error) {
	if err := Check(size, filename, s.cfg.MaxBytes); err != nil {
		return "", err
	}

	object := ObjectName(s.now(), filename)
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, object, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload proof: %w", err)
	}

	url := PublicURL(s.cfg.PublicBaseURL, s.cfg.Bucket, object)
	s.logger.Info("proof uploaded", zap.String("object", object), zap.Int64("size", size))
	return url, nil
}

// Check validates size and extension before anything is sent.
func Check(size int64, filename string, maxBytes int64) error {
	if size <= 0 {
		return ErrEmptyFile
	}
	if maxBytes > 0 && size > maxBytes {
		return ErrFileTooLarge
	}
	if !AllowedExtensions[strings.ToLower(filepath.Ext(filename))] {
		return ErrUnsupported
	}
	return nil
}

// ObjectName places the file under the upload day with a random short name.
func ObjectName(now time.Time, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("proofs/%s/%s%s", now.UTC().Format("2006/01/02"), uuid.NewString()[:8], ext)
}

func PublicURL(base, bucket, object string) string {
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + object
}
