package internal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/lychee-technology/strata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves single-part uploads and whole-object downloads from memory.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	buckets  map[string]bool
	creates  int
	getCalls int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, buckets: map[string]bool{}}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "not found"}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
		ContentRange:  aws.String(fmt.Sprintf("bytes 0-%d/%d", max(len(data)-1, 0), len(data))),
	}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, fmt.Errorf("multipart upload not supported")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, fmt.Errorf("multipart upload not supported")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, fmt.Errorf("multipart upload not supported")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.buckets[aws.ToString(in.Bucket)] {
		return nil, &smithy.GenericAPIError{Code: "NotFound"}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.buckets[aws.ToString(in.Bucket)] = true
	return &s3.CreateBucketOutput{}, nil
}

func TestMemoryBlobStoreCopiesData(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBlobStore()
	data := []byte("abc")
	require.NoError(t, store.Put(ctx, "k", data))
	data[0] = 'x'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	_, err = store.Get(ctx, "missing")
	assert.True(t, strata.IsNotAvailable(err))
}

func TestS3BlobStorePutGet(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := newS3BlobStore(fake, "segments", "/prod/")

	require.NoError(t, store.Put(ctx, "a/manifest.json", []byte(`{"x":1}`)))
	assert.Contains(t, fake.objects, "segments/prod/a/manifest.json")

	got, err := store.Get(ctx, "a/manifest.json")
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(got))
}

func TestS3BlobStoreMissingKey(t *testing.T) {
	store := newS3BlobStore(newFakeS3(), "segments", "")
	_, err := store.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, strata.IsNotAvailable(err))
}

func TestS3BlobStoreEnsureBucket(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := newS3BlobStore(fake, "segments", "")

	require.NoError(t, store.EnsureBucket(ctx))
	require.NoError(t, store.EnsureBucket(ctx))
	assert.Equal(t, 1, fake.creates)
}

func TestS3BlobStoreBacksSegmentLoader(t *testing.T) {
	ctx := context.Background()
	store := newS3BlobStore(newFakeS3(), "segments", "p")
	loader := NewSegmentLoader(store, nil, "", false)
	writeTestSegment(t, loader, "day=1")

	seg, err := loader.Load(ctx, "day=1")
	require.NoError(t, err)
	assert.Equal(t, 3, seg.RowCount())
}

func TestFileBlobStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewFileBlobStore(root)

	require.NoError(t, store.Put(ctx, "day=1/clicks.bin", []byte{1, 2, 3}))
	got, err := store.Get(ctx, "day=1/clicks.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	_, err = store.Get(ctx, "day=1/missing.bin")
	assert.True(t, strata.IsNotAvailable(err))

	_, err = store.Get(ctx, "")
	assert.True(t, strata.IsValidationError(err))
}

func TestFileBlobStoreStaysBelowRoot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewFileBlobStore(root)

	require.NoError(t, store.Put(ctx, "../../escape.bin", []byte("x")))
	got, err := store.Get(ctx, "escape.bin")
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
}

func TestFileBlobStoreBacksSegmentLoader(t *testing.T) {
	ctx := context.Background()
	loader := NewSegmentLoader(NewFileBlobStore(t.TempDir()), nil, "", true)
	writeTestSegment(t, loader, "day=2")

	seg, err := loader.Load(ctx, "day=2")
	require.NoError(t, err)
	assert.Equal(t, 3, seg.RowCount())
}
