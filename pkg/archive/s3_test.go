package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 implements s3API over a map.
type fakeS3 struct {
	objects      map[string][]byte
	metadata     map[string]map[string]string
	bucketExists bool
	created      bool
	createErr    error
	headErr      error
	pageSize     int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:      make(map[string][]byte),
		metadata:     make(map[string]map[string]string),
		bucketExists: true,
		pageSize:     1000,
	}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.objects[key] = data
	f.metadata[key] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if !f.bucketExists {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = true
	f.bucketExists = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		start = sort.SearchStrings(keys, aws.ToString(in.ContinuationToken))
	}
	end := start + f.pageSize
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end])
	} else {
		end = len(keys)
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3StorePutAndGet(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := newS3Store(fake, "archives")

	content := []byte("{\"a\":1}\n")
	require.NoError(t, store.PutObject(ctx, "history/users/1.ndjson", bytes.NewReader(content), "application/x-ndjson"))

	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), fake.metadata["history/users/1.ndjson"][ChecksumMetadataKey])

	body, err := store.GetObject(ctx, "history/users/1.ndjson")
	require.NoError(t, err)
	defer body.Close()
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = store.GetObject(ctx, "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestS3StoreObjectExists(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := newS3Store(fake, "archives")
	fake.objects["k"] = []byte("x")

	ok, err := store.ObjectExists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ObjectExists(ctx, "other")
	require.NoError(t, err)
	assert.False(t, ok)

	fake.headErr = errors.New("access denied")
	_, err = store.ObjectExists(ctx, "k")
	assert.Error(t, err)
}

func TestS3StoreDeleteObject(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := newS3Store(fake, "archives")
	fake.objects["k"] = []byte("x")

	require.NoError(t, store.DeleteObject(ctx, "k"))
	assert.NotContains(t, fake.objects, "k")
}

func TestS3StoreListObjectsPaginates(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	fake.pageSize = 2
	store := newS3Store(fake, "archives")
	for _, k := range []string{"history/a/3", "history/a/1", "history/a/2", "history/b/1", "other"} {
		fake.objects[k] = []byte("x")
	}

	keys, err := store.ListObjects(ctx, "history/a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"history/a/1", "history/a/2", "history/a/3"}, keys)
}

func TestS3StoreCreateBucket(t *testing.T) {
	ctx := context.Background()

	fake := newFakeS3()
	fake.bucketExists = false
	require.NoError(t, newS3Store(fake, "archives").createBucketIfNotExists(ctx))
	assert.True(t, fake.created)

	fake = newFakeS3()
	require.NoError(t, newS3Store(fake, "archives").createBucketIfNotExists(ctx))
	assert.False(t, fake.created)

	fake = newFakeS3()
	fake.bucketExists = false
	fake.createErr = &types.BucketAlreadyOwnedByYou{}
	assert.NoError(t, newS3Store(fake, "archives").createBucketIfNotExists(ctx))

	fake = newFakeS3()
	fake.bucketExists = false
	fake.createErr = errors.New("forbidden")
	assert.Error(t, newS3Store(fake, "archives").createBucketIfNotExists(ctx))
}

func TestS3StoreHealthCheck(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := newS3Store(fake, "archives")

	assert.NoError(t, store.Ping(ctx))
	fake.bucketExists = false
	assert.Error(t, store.HealthCheck(ctx))
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), Config{Region: "us-east-1"})
	assert.Error(t, err)
}

func TestArchiverWithS3Store(t *testing.T) {
	store := newS3Store(newFakeS3(), "archives")
	a := NewArchiver(store)

	require.NoError(t, store.PutObject(context.Background(), a.Key("users", base), strings.NewReader(""), "application/x-ndjson"))
	keys, err := a.List(context.Background(), "users")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}
