package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/lychee-technology/strata"
	"go.uber.org/zap"
)

// BlobStore reads and writes the files a segment is made of.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

// MemoryBlobStore keeps blobs in a map. It backs tests and the "memory" segment store.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, blobNotFound(key)
	}
	return bytes.Clone(data), nil
}

func (m *MemoryBlobStore) Put(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = bytes.Clone(data)
	return nil
}

// Keys lists stored keys in order.
func (m *MemoryBlobStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.blobs))
}

// FileBlobStore maps keys to files below a root directory.
type FileBlobStore struct {
	root string
}

func NewFileBlobStore(root string) *FileBlobStore {
	return &FileBlobStore{root: root}
}

func (f *FileBlobStore) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", strata.NewValidationError("key", "blob key is empty")
	}
	return filepath.Join(f.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func (f *FileBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, blobNotFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, nil
}

func (f *FileBlobStore) Put(ctx context.Context, key string, data []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create blob directory for %s: %w", key, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write blob %s: %w", key, err)
	}
	return nil
}

type s3API interface {
	manager.DownloadAPIClient
	manager.UploadAPIClient
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3BlobStore reads segment blobs below a bucket prefix.
type S3BlobStore struct {
	client     s3API
	bucket     string
	prefix     string
	downloader *manager.Downloader
	uploader   *manager.Uploader
}

// NewS3BlobStore builds an S3 client from cfg. Path-style addressing is used
// when cfg.UsePathStyle is set or a custom endpoint is configured.
func NewS3BlobStore(ctx context.Context, cfg strata.AWSConfig, bucket, prefix string) (*S3BlobStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 blob store: bucket is required")
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle || cfg.Endpoint != ""
	})
	return newS3BlobStore(client, bucket, prefix), nil
}

func newS3BlobStore(client s3API, bucket, prefix string) *S3BlobStore {
	return &S3BlobStore{
		client:     client,
		bucket:     bucket,
		prefix:     strings.Trim(prefix, "/"),
		downloader: manager.NewDownloader(client),
		uploader:   manager.NewUploader(client),
	}
}

func (s *S3BlobStore) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func (s *S3BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	objectKey := s.objectKey(key)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "NoSuchKey", "NotFound":
				return nil, blobNotFound(objectKey).WithCause(err)
			}
		}
		return nil, fmt.Errorf("s3 download %s/%s: %w", s.bucket, objectKey, err)
	}
	zap.S().Debugw("downloaded segment blob", "bucket", s.bucket, "key", objectKey, "bytes", len(buf.Bytes()))
	return buf.Bytes(), nil
}

func (s *S3BlobStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	return nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *S3BlobStore) EnsureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}
	if _, cerr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); cerr != nil {
		var apiErr smithy.APIError
		if errors.As(cerr, &apiErr) {
			code := apiErr.ErrorCode()
			if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
				return nil
			}
		}
		return fmt.Errorf("create bucket: %w", cerr)
	}
	return nil
}

func blobNotFound(key string) *strata.StrataError {
	return strata.NewNotAvailableError(fmt.Sprintf("blob %s", key)).WithDetail("key", key)
}
