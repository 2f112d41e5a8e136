package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/sqlrun/sqlrun/internal/config"
	"github.com/sqlrun/sqlrun/internal/storage"
)

func TestPutUsesPrefixAndNormalizedKey(t *testing.T) {
	fake := &fakeBucket{}
	store, err := NewWithAPI("lab-results", "/course/2024/", fake)
	if err != nil {
		t.Fatalf("NewWithAPI() error = %v", err)
	}

	_, err = store.Put(context.Background(), "/outputs/week1/q_output.csv", bytes.NewBufferString("a,b\n"), 4, storage.PutOptions{ContentType: storage.ContentTypeCSV})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if fake.lastPutBucket != "lab-results" {
		t.Fatalf("bucket = %q", fake.lastPutBucket)
	}
	if fake.lastPutKey != "course/2024/outputs/week1/q_output.csv" {
		t.Fatalf("key = %q", fake.lastPutKey)
	}
	if fake.lastContentType != storage.ContentTypeCSV {
		t.Fatalf("content type = %q", fake.lastContentType)
	}
}

func TestPutRejectsPathTraversal(t *testing.T) {
	store, err := NewWithAPI("lab-results", "", &fakeBucket{})
	if err != nil {
		t.Fatalf("NewWithAPI() error = %v", err)
	}
	for _, key := range []string{"../secrets.txt", "", "   ", ".."} {
		if _, err := store.Put(context.Background(), key, bytes.NewBufferString("x"), 1, storage.PutOptions{}); err == nil {
			t.Fatalf("Put(%q) expected validation error", key)
		}
	}
}

func TestStatMapsNotFound(t *testing.T) {
	store, err := NewWithAPI("lab-results", "", &fakeBucket{statErr: minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}})
	if err != nil {
		t.Fatalf("NewWithAPI() error = %v", err)
	}
	if _, err := store.Stat(context.Background(), "outputs/missing.csv"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Stat() error = %v, want ErrObjectNotFound", err)
	}
}

func TestEnsureBucketCreatesWhenMissing(t *testing.T) {
	fake := &fakeBucket{bucketExists: false}
	store, err := NewWithAPI("lab-results", "", fake)
	if err != nil {
		t.Fatalf("NewWithAPI() error = %v", err)
	}
	if err := store.ensureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if fake.madeRegion != "us-east-1" {
		t.Fatalf("MakeBucket region = %q, want us-east-1", fake.madeRegion)
	}
}

func TestEnsureBucketSkipsExisting(t *testing.T) {
	fake := &fakeBucket{bucketExists: true}
	store, err := NewWithAPI("lab-results", "", fake)
	if err != nil {
		t.Fatalf("NewWithAPI() error = %v", err)
	}
	if err := store.ensureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if fake.madeRegion != "" {
		t.Fatal("MakeBucket should not be called for an existing bucket")
	}
}

func TestPublisherOverStoreMirrorsOutputPaths(t *testing.T) {
	t.Chdir(t.TempDir())
	if err := os.MkdirAll(filepath.Join("outputs", "sample_schema"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	local := filepath.Join("outputs", "sample_schema", "cube_example_output.csv")
	if err := os.WriteFile(local, []byte("a\n1\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	fake := &fakeBucket{}
	store, err := NewWithAPI("lab-results", "student-7", fake)
	if err != nil {
		t.Fatalf("NewWithAPI() error = %v", err)
	}
	publisher, err := storage.NewPublisher(store)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	if _, err := publisher.Publish(context.Background(), local); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if fake.lastPutKey != "student-7/outputs/sample_schema/cube_example_output.csv" {
		t.Fatalf("key = %q", fake.lastPutKey)
	}
	if string(fake.lastBody) != "a\n1\n" {
		t.Fatalf("body = %q", fake.lastBody)
	}

	fake.statErr = minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
	if _, err := publisher.Publish(context.Background(), local); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Publish() error = %v, want ErrObjectNotFound from verification", err)
	}
}

func TestNewRequiresEndpointAndBucket(t *testing.T) {
	if _, err := New(context.Background(), config.ObjectStoreConfig{Bucket: "b"}); err == nil {
		t.Fatal("expected error without endpoint")
	}
	if _, err := New(context.Background(), config.ObjectStoreConfig{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestPutReportsUploadedObject(t *testing.T) {
	stamp := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	store, err := NewWithAPI("lab-results", "", &fakeBucket{modified: stamp})
	if err != nil {
		t.Fatalf("NewWithAPI() error = %v", err)
	}
	info, err := store.Put(context.Background(), "outputs/q_output.parquet", bytes.NewBufferString("PAR1"), 4, storage.PutOptions{})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if info.Key != "outputs/q_output.parquet" || info.Size != 4 || info.ETag != "etag-1" || !info.LastModified.Equal(stamp) {
		t.Fatalf("Put() info = %+v", info)
	}
}

func TestPrefixNormalization(t *testing.T) {
	for prefix, want := range map[string]string{"": "", "/": "", " /course//2024/ ": "course/2024", "a/./b": "a/b"} {
		store, err := NewWithAPI("b", prefix, &fakeBucket{})
		if err != nil {
			t.Fatalf("NewWithAPI() error = %v", err)
		}
		if store.prefix != want {
			t.Fatalf("prefix(%q) = %q, want %q", prefix, store.prefix, want)
		}
	}
}

func TestSplitEndpoint(t *testing.T) {
	cases := []struct {
		raw        string
		useSSL     bool
		wantHost   string
		wantSecure bool
	}{
		{"https://minio.example.com", false, "minio.example.com", true},
		{"http://localhost:9000", false, "localhost:9000", false},
		{"localhost:9000", true, "localhost:9000", true},
	}
	for _, tc := range cases {
		host, secure, err := splitEndpoint(tc.raw, tc.useSSL)
		if err != nil {
			t.Fatalf("splitEndpoint(%q) error = %v", tc.raw, err)
		}
		if host != tc.wantHost || secure != tc.wantSecure {
			t.Fatalf("splitEndpoint(%q) = %q/%v", tc.raw, host, secure)
		}
	}
	if _, _, err := splitEndpoint("http://", false); err == nil {
		t.Fatal("expected error for endpoint without host")
	}
}

type fakeBucket struct {
	lastPutBucket   string
	lastPutKey      string
	lastContentType string
	lastBody        []byte
	bucketExists    bool
	madeRegion      string
	modified        time.Time
	statErr         error
	sizes           map[string]int64
}

func (f *fakeBucket) PutObject(_ context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.lastPutBucket = bucket
	f.lastPutKey = key
	f.lastContentType = opts.ContentType
	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.lastBody = body
	if f.sizes == nil {
		f.sizes = map[string]int64{}
	}
	f.sizes[key] = int64(len(body))
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size, ETag: "etag-1", LastModified: f.modified}, nil
}

func (f *fakeBucket) StatObject(_ context.Context, _, key string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if f.statErr != nil {
		return minio.ObjectInfo{}, f.statErr
	}
	size, ok := f.sizes[key]
	if !ok {
		return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
	}
	return minio.ObjectInfo{Key: key, Size: size}, nil
}

func (f *fakeBucket) BucketExists(_ context.Context, _ string) (bool, error) {
	return f.bucketExists, nil
}

func (f *fakeBucket) MakeBucket(_ context.Context, _ string, opts minio.MakeBucketOptions) error {
	f.madeRegion = opts.Region
	return nil
}
