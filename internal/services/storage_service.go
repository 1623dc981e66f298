package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/chat-omega/fundonboarding/internal/agents"
	"github.com/chat-omega/fundonboarding/internal/config"
	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/pkg/logger"
	"github.com/google/uuid"
)

// S3API is the part of the S3 client the storage uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3Storage struct {
	client S3API
	bucket string
	prefix string
	logger *logger.Logger
}

// NewBlobStorage returns S3 storage when a bucket is configured and local
// disk storage otherwise.
func NewBlobStorage(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (agents.BlobStorage, error) {
	if cfg.Bucket != "" {
		return NewS3Storage(ctx, cfg, log)
	}
	return NewLocalStorage(cfg.LocalPath, log)
}

func NewS3Storage(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (*S3Storage, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, models.WrapExternalError("s3", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StorageWithClient(client, cfg.Bucket, cfg.Prefix, log), nil
}

func NewS3StorageWithClient(client S3API, bucket, prefix string, log *logger.Logger) *S3Storage {
	if log == nil {
		log = logger.Discard()
	}
	return &S3Storage{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: log,
	}
}

func (storage *S3Storage) Upload(ctx context.Context, data []byte, name string) (string, error) {
	startTime := time.Now()
	key := path.Join(storage.prefix, objectName(name))

	_, err := storage.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(storage.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypeFor(name)),
	})
	storage.logger.LogService("s3", "upload", time.Since(startTime), map[string]interface{}{
		"bucket": storage.bucket,
		"key":    key,
		"size":   len(data),
	}, err)
	if err != nil {
		return "", models.WrapExternalError("s3", err).WithMetadata("key", key)
	}
	return fmt.Sprintf("s3://%s/%s", storage.bucket, key), nil
}

func (storage *S3Storage) Download(ctx context.Context, uri string) ([]byte, error) {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme != "s3" || parsed.Host == "" {
		return nil, models.NewValidationError("INVALID_BLOB_URI", "Expected s3://bucket/key").WithMetadata("uri", uri)
	}
	key := strings.TrimPrefix(parsed.Path, "/")

	out, err := storage.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(parsed.Host),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, models.NewNotFoundError("BLOB_NOT_FOUND", "Object not found").WithMetadata("uri", uri)
		}
		return nil, models.WrapExternalError("s3", err).WithMetadata("uri", uri)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, models.WrapExternalError("s3", err).WithMetadata("uri", uri)
	}
	return data, nil
}

// LocalStorage keeps uploads in a directory and hands out file:// URIs.
type LocalStorage struct {
	root   string
	logger *logger.Logger
}

func NewLocalStorage(root string, log *logger.Logger) (*LocalStorage, error) {
	if log == nil {
		log = logger.Discard()
	}
	if root == "" {
		root = "data/uploads"
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, models.NewValidationError("INVALID_UPLOAD_DIR", "Invalid upload directory").WithCause(err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, models.NewInternalError("UPLOAD_DIR_FAILED", "Failed to create upload directory").WithCause(err)
	}
	return &LocalStorage{root: abs, logger: log}, nil
}

func (storage *LocalStorage) Upload(ctx context.Context, data []byte, name string) (string, error) {
	target := filepath.Join(storage.root, objectName(name))
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", models.NewInternalError("UPLOAD_FAILED", "Failed to store upload").WithCause(err)
	}
	storage.logger.Debug("Stored upload", "path", target, "size", len(data))
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(target)}).String(), nil
}

func (storage *LocalStorage) Download(ctx context.Context, uri string) ([]byte, error) {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme != "file" {
		return nil, models.NewValidationError("INVALID_BLOB_URI", "Expected file:// uri").WithMetadata("uri", uri)
	}
	target := filepath.Clean(filepath.FromSlash(parsed.Path))
	if rel, err := filepath.Rel(storage.root, target); err != nil || strings.HasPrefix(rel, "..") {
		return nil, models.NewValidationError("INVALID_BLOB_URI", "Path outside upload directory").WithMetadata("uri", uri)
	}

	data, err := os.ReadFile(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil, models.NewNotFoundError("BLOB_NOT_FOUND", "Upload not found").WithMetadata("uri", uri)
	}
	if err != nil {
		return nil, models.NewInternalError("DOWNLOAD_FAILED", "Failed to read upload").WithCause(err)
	}
	return data, nil
}

// objectName prefixes the sanitized file name with a uuid so uploads never
// collide.
func objectName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "upload"
	}
	return uuid.New().String() + "-" + base
}

var uploadContentTypes = map[string]string{
	".csv":  "text/csv",
	".pdf":  "application/pdf",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

func contentTypeFor(name string) string {
	if contentType, ok := uploadContentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return contentType
	}
	if contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}
