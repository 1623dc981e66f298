package services_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/services"
)

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (client *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(params.Bucket) + "/" + aws.ToString(params.Key)
	client.objects[key] = data
	client.types[key] = aws.ToString(params.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (client *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := client.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3StorageRoundTrip(t *testing.T) {
	client := newFakeS3()
	storage := services.NewS3StorageWithClient(client, "portfolios", "/uploads/", nil)
	ctx := context.Background()

	uri, err := storage.Upload(ctx, []byte("Ticker,Name\nVTI,Vanguard"), "../portfolio.csv")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if !strings.HasPrefix(uri, "s3://portfolios/uploads/") || !strings.HasSuffix(uri, "-portfolio.csv") {
		t.Errorf("Unexpected uri %s", uri)
	}
	key := strings.TrimPrefix(uri, "s3://")
	if client.types[key] != "text/csv" {
		t.Errorf("Expected csv content type, got %s", client.types[key])
	}

	data, err := storage.Download(ctx, uri)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if string(data) != "Ticker,Name\nVTI,Vanguard" {
		t.Errorf("Expected uploaded content, got %q", data)
	}

	_, err = storage.Download(ctx, "s3://portfolios/uploads/missing.csv")
	if !models.IsNotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}
	_, err = storage.Download(ctx, "https://example.com/x.csv")
	if !models.IsValidation(err) {
		t.Errorf("Expected validation error for foreign uri, got %v", err)
	}
}

func TestLocalStorageRoundTrip(t *testing.T) {
	storage, err := services.NewLocalStorage(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewLocalStorage failed: %v", err)
	}
	ctx := context.Background()

	uri, err := storage.Upload(ctx, []byte("%PDF-1.7"), "vti.pdf")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if !strings.HasPrefix(uri, "file://") {
		t.Errorf("Expected file uri, got %s", uri)
	}

	data, err := storage.Download(ctx, uri)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if string(data) != "%PDF-1.7" {
		t.Errorf("Expected pdf bytes, got %q", data)
	}

	if _, err := storage.Download(ctx, "file:///etc/passwd"); !models.IsValidation(err) {
		t.Errorf("Expected paths outside the upload dir to be rejected, got %v", err)
	}
}
