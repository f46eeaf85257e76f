package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobKey_OwnerScoped(t *testing.T) {
	assert.Equal(t, "u1/job-1.png", JobKey("u1", "job-1", "image/png"))
	assert.Equal(t, "u1/job-1.webp", JobKey("u1", "job-1", "image/webp; charset=binary"))
	assert.Equal(t, "_/job-1.bin", JobKey("", "job-1", "application/json"))
	assert.Equal(t, "__etc/job-1.jpg", JobKey("../etc", "job-1", "image/jpeg"))
}

func TestFileStore_PutAndSanitize(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "http://localhost:8080/")
	require.NoError(t, err)

	url, err := store.Put(context.Background(), "u1/job-1.png", []byte("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/u1/job-1.png", url)

	data, err := os.ReadFile(filepath.Join(dir, "u1", "job-1.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	_, err = store.Put(context.Background(), "../escape.png", []byte("x"), "image/png")
	require.Error(t, err)
}

func TestFileStore_FileURLWithoutBase(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	require.NoError(t, err)
	url, err := store.Put(context.Background(), "u1/job.png", []byte("x"), "image/png")
	require.NoError(t, err)
	assert.Contains(t, url, "file://")
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	f.body, _ = io.ReadAll(params.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_Put(t *testing.T) {
	fake := &fakePutter{}
	store := &S3Store{cfg: S3Config{Bucket: "bucket", PublicBaseURL: "https://cdn.example.com/", Prefix: "/results/"}, client: fake}

	url, err := store.Put(context.Background(), "u1/job-1.png", []byte("img"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/results/u1/job-1.png", url)
	assert.Equal(t, "results/u1/job-1.png", *fake.input.Key)
	assert.Equal(t, "bucket", *fake.input.Bucket)
	assert.Equal(t, "img", string(fake.body))

	fake.err = errors.New("denied")
	_, err = store.Put(context.Background(), "u1/job-1.png", []byte("img"), "image/png")
	require.Error(t, err)

	_, err = store.Put(context.Background(), "u1/job-1.png", nil, "image/png")
	require.Error(t, err)
}

func TestNewS3Store_Validation(t *testing.T) {
	_, err := NewS3Store(S3Config{Region: "us-east-1"})
	require.Error(t, err)

	store, err := NewS3Store(S3Config{Bucket: "b", Region: "us-east-1", AccessKey: "a", SecretKey: "s", PublicBaseURL: "https://cdn"})
	require.NoError(t, err)
	assert.Equal(t, "results", store.cfg.Prefix)
}
